package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gemini-chatter/internal/chat"
	"gemini-chatter/internal/export"
	"gemini-chatter/internal/logger"
	"gemini-chatter/internal/storage"
)

const exportPrefix = "raw_logs"

// Exporter writes the JSON interaction log of every live session to
// Dir/<session key>/raw_logs_YYYYMMDD_HHMMSS.json.
type Exporter struct {
	Sessions *chat.Manager
	Dir      string
	// Keep bounds the number of exports kept per session; 0 keeps all.
	Keep int
}

// Run exports every session that has at least one log entry. A failing
// session does not stop the others; the first error is returned.
func (e *Exporter) Run(ctx context.Context) error {
	var first error
	written := 0
	e.Sessions.Each(func(key string, svc *chat.Service) {
		if ctx.Err() != nil || len(svc.Entries()) == 0 {
			return
		}
		if err := e.exportOne(key, svc); err != nil {
			logger.Errorf("export session %s: %v", key, err)
			if first == nil {
				first = err
			}
			return
		}
		written++
	})
	if first == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	logger.Debugf("exported %d session logs to %s", written, e.Dir)
	return first
}

func (e *Exporter) exportOne(key string, svc *chat.Service) error {
	file, err := svc.ExportLog(storage.FormatJSON)
	if err != nil {
		return err
	}
	dir := filepath.Join(e.Dir, export.SafeName(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, file.Name), file.Data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if e.Keep > 0 {
		if _, err := Prune(dir, e.Keep); err != nil {
			return err
		}
	}
	return nil
}

// Prune removes all but the newest keep raw_logs exports in dir, ordered by
// the timestamp in their names. Other files are left alone. It returns the
// number of files removed.
func Prune(dir string, keep int) (int, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dir: %w", err)
	}
	type stamped struct {
		name string
		at   time.Time
	}
	var files []stamped
	for _, it := range items {
		if it.IsDir() {
			continue
		}
		at, err := export.ParseFilename(it.Name(), exportPrefix, storage.FormatJSON.Ext())
		if err != nil {
			continue
		}
		files = append(files, stamped{name: it.Name(), at: at})
	}
	if len(files) <= keep {
		return 0, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].at.After(files[j].at) })
	removed := 0
	for _, f := range files[keep:] {
		if err := os.Remove(filepath.Join(dir, f.name)); err != nil {
			return removed, fmt.Errorf("remove %s: %w", f.name, err)
		}
		removed++
	}
	return removed, nil
}
