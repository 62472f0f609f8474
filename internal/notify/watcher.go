package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher delivers notifications dropped as files into a spool
// directory, one delivery per created file. The producer writes the
// wire payload as the file content; the file is removed once the
// delivery has been accepted.
type Watcher struct {
	dir        string
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewWatcher(dir string, dispatcher *Dispatcher, logger *slog.Logger) (*Watcher, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("missing spool directory")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("missing dispatcher")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, dispatcher: dispatcher, logger: logger}, nil
}

// Run watches the spool directory until the context is cancelled.
// Files already present at startup are discarded without delivery;
// everything spooled while the bot was down is considered stale.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}
	if err := w.purge(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start spool watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("spool_watch_started", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("spool watcher closed")
			}
			if !event.Op.Has(fsnotify.Create) {
				continue
			}
			if err := w.deliverFile(ctx, event.Name); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error("spool_delivery_failed", "file", event.Name, "error", err.Error())
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("spool watcher closed")
			}
			w.logger.Error("spool_watch_error", "error", watchErr.Error())
		}
	}
}

func (w *Watcher) purge() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read spool directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			w.logger.Error("spool_purge_failed", "file", path, "error", err.Error())
			continue
		}
		w.logger.Info("spool_file_purged", "file", path)
	}
	return nil
}

// deliverFile delivers and removes one spool file. The content is read
// only after the send delay so producers that create the file first and
// write the payload afterwards still get their event picked up whole. A
// file that cannot be decoded by then is removed without delivery so it
// cannot wedge the directory.
func (w *Watcher) deliverFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	if err := w.dispatcher.waitSendDelay(ctx); err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read spool file: %w", err)
	}

	event, err := DecodeEvent(strings.TrimRight(string(raw), "\n"))
	if err != nil {
		w.logger.Error("spool_file_dropped", "file", path, "error", err.Error())
		return os.Remove(path)
	}
	if err := w.dispatcher.Deliver(ctx, event); err != nil {
		return err
	}
	return os.Remove(path)
}
