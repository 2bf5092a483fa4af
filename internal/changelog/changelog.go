package changelog

import (
	"os"
	"sync"

	"gemini-chatter/internal/logger"
)

const NotFound = "Changelog file not found."

// Loader reads the changelog file once and serves the cached text afterwards.
type Loader struct {
	path string
	once sync.Once
	text string
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

func (l *Loader) Text() string {
	l.once.Do(func() {
		data, err := os.ReadFile(l.path)
		if err != nil {
			logger.Warnf("changelog not readable at %s: %v", l.path, err)
			l.text = NotFound
			return
		}
		l.text = string(data)
	})
	return l.text
}
