package chat

import (
	"errors"
	"fmt"
)

var (
	ErrNothingToSend = errors.New("message has no text or images")
	ErrEmptyReply    = errors.New("model returned no text")
)

// ConfigurationError means no call could be made: credentials, model or the
// remote chat could not be set up. Nothing was appended or logged.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// GenerationError is a failed remote call. The user turn stays in the history
// and a failed entry is in the log. Partial holds any text streamed before the
// failure.
type GenerationError struct {
	Err     error
	Partial string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
