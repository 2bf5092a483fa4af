package export

import (
	"fmt"
	"time"
)

// TimestampLayout is the YYYYMMDD_HHMMSS stamp embedded in export file names.
const TimestampLayout = "20060102_150405"

const (
	MIMEJSON = "application/json"
	MIMEText = "text/plain"
)

// File is a download handed to a presentation surface.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Filename builds "<prefix>_YYYYMMDD_HHMMSS.<ext>" using local time.
func Filename(prefix string, at time.Time, ext string) string {
	return fmt.Sprintf("%s_%s.%s", prefix, at.Format(TimestampLayout), ext)
}

// ParseFilename recovers the timestamp from a name built by Filename.
func ParseFilename(name, prefix, ext string) (time.Time, error) {
	want := len(prefix) + 1 + len(TimestampLayout) + 1 + len(ext)
	if len(name) != want || name[:len(prefix)+1] != prefix+"_" || name[len(name)-len(ext)-1:] != "."+ext {
		return time.Time{}, fmt.Errorf("not a %s export: %q", prefix, name)
	}
	stamp := name[len(prefix)+1 : len(prefix)+1+len(TimestampLayout)]
	return time.ParseInLocation(TimestampLayout, stamp, time.Local)
}

// SafeName maps a session key onto a single path element: anything other
// than letters, digits, '-' and '_' becomes '_'.
func SafeName(key string) string {
	if key == "" {
		return "_"
	}
	b := []byte(key)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
