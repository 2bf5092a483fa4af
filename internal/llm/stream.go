package llm

import (
	"io"
)

// Chunk is one increment of a streamed reply: the new text and everything
// received so far.
type Chunk struct {
	Delta string
	Text  string
}

// Stream yields chunks until Next returns io.EOF. Response holds the
// aggregate of every piece received, including after a failure.
type Stream interface {
	Next() (Chunk, error)
	Response() *Response
	Close() error
}

// Merge folds a streamed piece into the aggregate. Candidate text is
// concatenated per index; the latest non-empty metadata wins.
func Merge(acc, piece *Response) *Response {
	if acc == nil {
		acc = &Response{}
	}
	if piece == nil {
		return acc
	}
	if piece.Model != "" {
		acc.Model = piece.Model
	}
	if piece.Usage != nil {
		u := *piece.Usage
		acc.Usage = &u
	}
	if piece.PromptFeedback != nil {
		pf := *piece.PromptFeedback
		pf.SafetyRatings = append([]SafetyRating(nil), piece.PromptFeedback.SafetyRatings...)
		acc.PromptFeedback = &pf
	}
	for _, c := range piece.Candidates {
		dst := findCandidate(acc, c.Index)
		dst.Parts = append(dst.Parts, c.Parts...)
		if c.FinishReason != "" {
			dst.FinishReason = c.FinishReason
		}
		if len(c.SafetyRatings) > 0 {
			dst.SafetyRatings = append([]SafetyRating(nil), c.SafetyRatings...)
		}
		if c.TokenCount > 0 {
			dst.TokenCount = c.TokenCount
		}
	}
	return acc
}

func findCandidate(r *Response, index int) *Candidate {
	for i := range r.Candidates {
		if r.Candidates[i].Index == index {
			return &r.Candidates[i]
		}
	}
	r.Candidates = append(r.Candidates, Candidate{Index: index})
	return &r.Candidates[len(r.Candidates)-1]
}

type pullStream struct {
	recv    func() (*Response, error)
	closeFn func() error
	acc     *Response
	text    string
	err     error
}

// NewStream adapts a receive function that returns io.EOF when done.
// Pieces without text are merged but do not produce a chunk.
func NewStream(recv func() (*Response, error), closeFn func() error) Stream {
	return &pullStream{recv: recv, closeFn: closeFn, acc: &Response{}}
}

func (s *pullStream) Next() (Chunk, error) {
	if s.err != nil {
		return Chunk{}, s.err
	}
	for {
		piece, err := s.recv()
		if err != nil {
			s.err = err
			return Chunk{}, err
		}
		s.acc = Merge(s.acc, piece)
		delta := piece.Text()
		if delta == "" {
			continue
		}
		s.text += delta
		return Chunk{Delta: delta, Text: s.text}, nil
	}
}

func (s *pullStream) Response() *Response { return s.acc }

func (s *pullStream) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// SingleResponse wraps a complete response as a one-piece stream, for
// providers without server-side streaming.
func SingleResponse(resp *Response) Stream {
	done := false
	return NewStream(func() (*Response, error) {
		if done {
			return nil, io.EOF
		}
		done = true
		return resp, nil
	}, nil)
}
