package response

import (
	"sort"
	"strings"

	"gemini-chatter/internal/llm"
)

const (
	Unknown       = "UNKNOWN"
	NoBlockReason = "NONE"
)

var finishReasons = map[string]bool{
	"STOP": true, "MAX_TOKENS": true, "SAFETY": true, "RECITATION": true, "OTHER": true,
}

var probabilities = map[string]bool{
	"NEGLIGIBLE": true, "LOW": true, "MEDIUM": true, "HIGH": true,
}

var blockReasons = map[string]bool{
	"SAFETY": true, "OTHER": true, "BLOCKLIST": true, "PROHIBITED_CONTENT": true,
}

// Record is the stable, serialisable form of one generation result.
type Record struct {
	Candidates     []Candidate    `json:"candidates"`
	Usage          Usage          `json:"usage_metadata"`
	PromptFeedback PromptFeedback `json:"prompt_feedback"`
}

type Candidate struct {
	Text          string            `json:"text"`
	FinishReason  string            `json:"finish_reason"`
	SafetyRatings map[string]string `json:"safety_ratings"`
	TokenCount    int               `json:"token_count"`
}

type Usage struct {
	PromptTokens int `json:"prompt_token_count"`
	OutputTokens int `json:"candidates_token_count"`
	TotalTokens  int `json:"total_token_count"`
}

type PromptFeedback struct {
	BlockReason   string            `json:"block_reason"`
	SafetyRatings map[string]string `json:"safety_ratings"`
}

// Text returns the first candidate's text.
func (r Record) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].Text
}

// Clone returns a deep copy that shares no slices or maps with r.
func (r Record) Clone() Record {
	out := r
	if r.Candidates != nil {
		out.Candidates = make([]Candidate, len(r.Candidates))
		for i, c := range r.Candidates {
			c.SafetyRatings = cloneRatings(c.SafetyRatings)
			out.Candidates[i] = c
		}
	}
	out.PromptFeedback.SafetyRatings = cloneRatings(r.PromptFeedback.SafetyRatings)
	return out
}

func cloneRatings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Normalize converts any raw response into a Record. It accepts nil, missing
// sections and unrecognised enumerations, which become UNKNOWN.
func Normalize(raw *llm.Response) Record {
	rec := Record{
		Candidates: []Candidate{},
		PromptFeedback: PromptFeedback{
			BlockReason:   NoBlockReason,
			SafetyRatings: map[string]string{},
		},
	}
	if raw == nil {
		return rec
	}

	cands := append([]llm.Candidate(nil), raw.Candidates...)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Index < cands[j].Index })
	for _, c := range cands {
		rec.Candidates = append(rec.Candidates, Candidate{
			Text:          strings.Join(c.Parts, ""),
			FinishReason:  canonical(c.FinishReason, finishReasons),
			SafetyRatings: ratings(c.SafetyRatings),
			TokenCount:    nonNegative(c.TokenCount),
		})
	}

	if u := raw.Usage; u != nil {
		rec.Usage = Usage{
			PromptTokens: nonNegative(u.PromptTokens),
			OutputTokens: nonNegative(u.OutputTokens),
			TotalTokens:  nonNegative(u.TotalTokens),
		}
	}

	if pf := raw.PromptFeedback; pf != nil {
		rec.PromptFeedback.SafetyRatings = ratings(pf.SafetyRatings)
		switch br := strings.ToUpper(strings.TrimSpace(pf.BlockReason)); {
		case br == "", br == NoBlockReason, strings.HasSuffix(br, "_UNSPECIFIED"):
		default:
			rec.PromptFeedback.BlockReason = canonical(br, blockReasons)
		}
	}
	return rec
}

// Raw re-expresses a Record in the raw response shape, so that
// Normalize(Raw(r)) reproduces r.
func Raw(r Record) *llm.Response {
	out := &llm.Response{}
	for i, c := range r.Candidates {
		cand := llm.Candidate{
			Index:         i,
			FinishReason:  c.FinishReason,
			SafetyRatings: rawRatings(c.SafetyRatings),
			TokenCount:    c.TokenCount,
		}
		if c.Text != "" {
			cand.Parts = []string{c.Text}
		}
		out.Candidates = append(out.Candidates, cand)
	}
	out.Usage = &llm.Usage{
		PromptTokens: r.Usage.PromptTokens,
		OutputTokens: r.Usage.OutputTokens,
		TotalTokens:  r.Usage.TotalTokens,
	}
	out.PromptFeedback = &llm.PromptFeedback{
		BlockReason:   r.PromptFeedback.BlockReason,
		SafetyRatings: rawRatings(r.PromptFeedback.SafetyRatings),
	}
	return out
}

func canonical(v string, known map[string]bool) string {
	u := strings.ToUpper(strings.TrimSpace(v))
	if known[u] {
		return u
	}
	return Unknown
}

func ratings(in []llm.SafetyRating) map[string]string {
	out := make(map[string]string, len(in))
	for _, r := range in {
		cat := strings.ToUpper(strings.TrimSpace(r.Category))
		if cat == "" {
			cat = Unknown
		}
		out[cat] = canonical(r.Probability, probabilities)
	}
	return out
}

func rawRatings(in map[string]string) []llm.SafetyRating {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]llm.SafetyRating, 0, len(keys))
	for _, k := range keys {
		out = append(out, llm.SafetyRating{Category: k, Probability: in[k]})
	}
	return out
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
