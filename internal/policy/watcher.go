package policy

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch logs when the policy file is written, replaced or removed. The
// running process keeps the configuration it started with; the log line
// tells operators a restart is needed to pick the change up. onChange, when
// non-nil, is called for each relevant event.
//
// Watch blocks until ctx is done. If the watcher cannot be created it logs
// and returns immediately.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(fsnotify.Event)) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("policy watcher unavailable", "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors often replace the file rather than write it.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		logger.Warn("policy watcher unavailable", "dir", dir, "error", err)
		return
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Warn("policy file changed on disk; restart to apply", "path", path, "op", event.Op.String())
			if onChange != nil {
				onChange(event)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("policy watcher error", "error", err)
		}
	}
}
