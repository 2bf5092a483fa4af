package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gemini-chatter/internal/storage"
)

// Stats aggregates interaction log entries
type Stats struct {
	Date          string                  `json:"date,omitempty"`
	TotalCalls    int                     `json:"total_calls"`
	Succeeded     int                     `json:"succeeded"`
	Failed        int                     `json:"failed"`
	Streamed      int                     `json:"streamed"`
	ImagesSent    int                     `json:"images_sent"`
	PromptTokens  int                     `json:"prompt_tokens"`
	OutputTokens  int                     `json:"output_tokens"`
	TotalTokens   int                     `json:"total_tokens"`
	FinishReasons map[string]int          `json:"finish_reasons"`
	Models        map[string]int          `json:"models"`
	Sessions      map[string]SessionStats `json:"sessions"`
}

type SessionStats struct {
	Calls       int `json:"calls"`
	Failed      int `json:"failed"`
	TotalTokens int `json:"total_tokens"`
}

// Analyze folds every entry into one Stats value.
func Analyze(entries []storage.Entry) *Stats {
	stats := &Stats{
		FinishReasons: make(map[string]int),
		Models:        make(map[string]int),
		Sessions:      make(map[string]SessionStats),
	}
	for _, e := range entries {
		stats.add(e)
	}
	return stats
}

// AnalyzeDailyLogs only counts entries recorded on the day of targetDate.
func AnalyzeDailyLogs(entries []storage.Entry, targetDate time.Time) *Stats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	var day []storage.Entry
	for _, e := range entries {
		if e.Timestamp.Before(startOfDay) || !e.Timestamp.Before(endOfDay) {
			continue
		}
		day = append(day, e)
	}
	stats := Analyze(day)
	stats.Date = startOfDay.Format("2006-01-02")
	return stats
}

func (s *Stats) add(e storage.Entry) {
	s.TotalCalls++
	s.ImagesSent += e.Request.Images
	if e.Request.Stream {
		s.Streamed++
	}
	if e.Request.ModelName != "" {
		s.Models[e.Request.ModelName]++
	}

	ss := s.Sessions[e.SessionID]
	ss.Calls++
	if !e.Response.Success {
		s.Failed++
		ss.Failed++
	} else {
		s.Succeeded++
	}
	if body := e.Response.Body; body != nil {
		s.PromptTokens += body.Usage.PromptTokens
		s.OutputTokens += body.Usage.OutputTokens
		s.TotalTokens += body.Usage.TotalTokens
		ss.TotalTokens += body.Usage.TotalTokens
		for _, c := range body.Candidates {
			s.FinishReasons[c.FinishReason]++
		}
	}
	s.Sessions[e.SessionID] = ss
}

// GenerateReportSummary renders the stats as plain text.
func (s *Stats) GenerateReportSummary() string {
	var b strings.Builder
	if s.Date != "" {
		fmt.Fprintf(&b, "Usage for %s\n", s.Date)
	}
	fmt.Fprintf(&b, "Calls: %d (ok %d, failed %d, streamed %d)\n", s.TotalCalls, s.Succeeded, s.Failed, s.Streamed)
	fmt.Fprintf(&b, "Images sent: %d\n", s.ImagesSent)
	fmt.Fprintf(&b, "Tokens: prompt %d, output %d, total %d\n", s.PromptTokens, s.OutputTokens, s.TotalTokens)
	writeCounts(&b, "Models", s.Models)
	writeCounts(&b, "Finish reasons", s.FinishReasons)
	if len(s.Sessions) > 1 {
		fmt.Fprintf(&b, "Sessions: %d\n", len(s.Sessions))
	}
	return b.String()
}

func writeCounts(b *strings.Builder, title string, m map[string]int) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %d\n", k, m[k])
	}
}

// ToJSON serialises the stats for detailed analysis.
func (s *Stats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
