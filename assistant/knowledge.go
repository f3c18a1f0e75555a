package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
)

// KnowledgeStore holds the reference text supplied to the model with
// every question.
//
// The text is kept as an immutable snapshot behind an atomic pointer.
// Load installs a new snapshot, so a question being answered while the
// file is reloaded sees either the old text or the new text, never a mix.
// An empty snapshot means the bot isn't ready to answer anything.
type KnowledgeStore struct {
	path     string
	snapshot atomic.Pointer[string]
	logger   *slog.Logger
}

// NewKnowledgeStore returns an empty store for the file at path. Call
// Load to read it.
func NewKnowledgeStore(path string, logger *slog.Logger) *KnowledgeStore {
	if logger == nil {
		logger = slog.Default()
	}
	k := &KnowledgeStore{path: path, logger: logger}
	empty := ""
	k.snapshot.Store(&empty)
	return k
}

// Load reads the knowledge file into memory, replacing the current
// snapshot. If the file can't be read, the snapshot is cleared and
// false is returned. Errors are logged, not returned.
func (k *KnowledgeStore) Load(ctx context.Context) bool {
	data, err := os.ReadFile(k.path)
	if err != nil {
		empty := ""
		k.snapshot.Store(&empty)
		k.logger.ErrorContext(
			ctx,
			"unable to load knowledge file",
			tint.Err(err),
			"path", k.path,
		)
		return false
	}

	text := string(data)
	k.snapshot.Store(&text)
	k.logger.InfoContext(
		ctx,
		"knowledge file loaded",
		"path", k.path,
		"characters", utf8.RuneCountInString(text),
	)
	return true
}

// Text returns the current snapshot
func (k *KnowledgeStore) Text() string {
	if s := k.snapshot.Load(); s != nil {
		return *s
	}
	return ""
}

// Ready reports whether there's any knowledge to answer from
func (k *KnowledgeStore) Ready() bool {
	return k.Text() != ""
}

// Path returns the path of the knowledge file
func (k *KnowledgeStore) Path() string {
	return k.path
}

// Watch reloads the knowledge file when it's written or recreated, until
// ctx is done. Events are debounced, so an editor saving in several steps
// triggers one reload. Removing the file doesn't clear the current
// snapshot, only a reload does.
//
// The parent directory is watched rather than the file, as many editors
// save by replacing the file.
func (k *KnowledgeStore) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating knowledge watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	target := filepath.Clean(k.path)
	dir := filepath.Dir(target)
	if err = watcher.Add(dir); err != nil {
		return fmt.Errorf("error watching %s: %w", dir, err)
	}
	k.logger.InfoContext(ctx, "watching knowledge file", "path", k.path, "debounce", debounce)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				k.logger.DebugContext(ctx, "knowledge file changed", "op", event.Op.String())
				timer.Reset(debounce)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// a pending reload would only find the file gone
				k.logger.DebugContext(ctx, "knowledge file removed", "op", event.Op.String())
				timer.Stop()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			k.logger.ErrorContext(ctx, "knowledge watcher error", tint.Err(err))
		case <-timer.C:
			if _, err := os.Stat(target); err != nil {
				k.logger.DebugContext(ctx, "knowledge file missing, keeping current text", tint.Err(err))
				continue
			}
			k.Load(ctx)
		}
	}
}
