package storage

import (
	"context"
	"errors"
)

// MultiRecorder appends to every recorder it wraps and loads from the first.
type MultiRecorder struct {
	recorders []Recorder
}

// Multi drops nil recorders. It returns nil when none are left and the only
// recorder when there is one.
func Multi(recs ...Recorder) Recorder {
	var out []Recorder
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return &MultiRecorder{recorders: out}
}

func (m *MultiRecorder) AppendInteraction(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.AppendInteraction(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiRecorder) LoadInteractions(ctx context.Context) ([]Entry, error) {
	return m.recorders[0].LoadInteractions(ctx)
}
