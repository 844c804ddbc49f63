// Package outbox turns text files dropped into a directory into submitted
// messages.
package outbox

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hellotoday/hellotoday-client/internal/models"
)

const (
	outboxDirPerm = fs.FileMode(0o755)

	// draftExt marks files the watcher submits. Anything else is ignored.
	draftExt = ".txt"

	SentSuffix   = ".sent"
	FailedSuffix = ".failed"

	// DefaultQuiet is how long a draft must go unmodified before it is
	// submitted, so an editor's burst of writes becomes one message.
	DefaultQuiet = 300 * time.Millisecond

	// maxDraftBytes bounds how much of a draft is read.
	maxDraftBytes = 64 * 1024
)

// Submitter posts one message. *store.Store satisfies it.
type Submitter interface {
	SendMessage(ctx context.Context, content string) (*models.Message, error)
}

// Watcher submits *.txt drafts from a single directory.
type Watcher struct {
	dir       string
	submitter Submitter
	logger    *slog.Logger
	quiet     time.Duration
}

// NewWatcher creates a Watcher for dir. quiet <= 0 uses DefaultQuiet.
func NewWatcher(dir string, submitter Submitter, quiet time.Duration, logger *slog.Logger) *Watcher {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}

	return &Watcher{
		dir:       dir,
		submitter: submitter,
		logger:    logger,
		quiet:     quiet,
	}
}

// Watch blocks until ctx is cancelled. Drafts already present when it
// starts are submitted first.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, outboxDirPerm); err != nil {
		return fmt.Errorf("creating outbox dir: %w", err)
	}

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching outbox dir: %w", err)
	}

	w.logger.Info("outbox watcher started", slog.String("dir", w.dir))

	pending := make(map[string]time.Time)

	existing, err := w.existingDrafts()
	if err != nil {
		return err
	}

	for _, path := range existing {
		pending[path] = time.Time{}
	}

	ticker := time.NewTicker(w.quiet / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if !isDraft(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) < w.quiet {
					continue
				}

				delete(pending, path)
				w.submit(ctx, path)
			}
		}
	}
}

func (w *Watcher) existingDrafts() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("reading outbox dir: %w", err)
	}

	var paths []string

	for _, e := range entries {
		if e.Type().IsRegular() && isDraft(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}

	return paths, nil
}

// submit sends one draft and renames it by outcome. A draft that vanished
// before its quiet period ended is skipped.
func (w *Watcher) submit(ctx context.Context, path string) {
	// Lstat so a symlink planted in the outbox is never followed.
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	content, err := readDraft(path)
	if err != nil {
		w.logger.Warn("reading draft", slog.String("path", path), slog.String("error", err.Error()))
		w.finish(path, FailedSuffix)

		return
	}

	if content == "" {
		w.logger.Warn("skipping empty draft", slog.String("path", path))
		w.finish(path, FailedSuffix)

		return
	}

	msg, err := w.submitter.SendMessage(ctx, content)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		w.logger.Warn("submitting draft", slog.String("path", path), slog.String("error", err.Error()))
		w.finish(path, FailedSuffix)

		return
	}

	w.logger.Info("draft submitted", slog.String("path", path), slog.String("id", string(msg.ID)))
	w.finish(path, SentSuffix)
}

func (w *Watcher) finish(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		w.logger.Warn("renaming draft", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func readDraft(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxDraftBytes+1))
	if err != nil {
		return "", err
	}

	if len(data) > maxDraftBytes {
		return "", fmt.Errorf("draft larger than %d bytes", maxDraftBytes)
	}

	return strings.TrimSpace(string(data)), nil
}

func isDraft(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}

	return strings.HasSuffix(name, draftExt)
}
