// Package watch rebuilds a target whenever one of its sources changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cobble/cobble/pkg/logger"
	"github.com/cobble/cobble/pkg/notifier"
)

// ErrNoSources indicates a watcher without sources
var ErrNoSources = errors.New("no sources to watch")

// Builder performs one rebuild
type Builder interface {
	Build() error
}

// Config configures a Watcher
type Config struct {
	Sources []string
	// Target names the rebuilt binary in logs and notifications.
	Target string
	// Settle is how long sources must stay quiet before a rebuild starts.
	Settle   time.Duration
	Logger   logger.Logger
	Notifier *notifier.Notifier
}

// Watcher watches source files through their parent directories, since
// editors commonly replace a file instead of writing it in place.
type Watcher struct {
	watcher  *fsnotify.Watcher
	builder  Builder
	sources  map[string]bool
	target   string
	settle   time.Duration
	logger   logger.Logger
	notifier *notifier.Notifier
	builds   int
}

// New creates a watcher and registers every source directory
func New(cfg Config, builder Builder) (*Watcher, error) {
	if len(cfg.Sources) == 0 {
		return nil, ErrNoSources
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		builder:  builder,
		sources:  make(map[string]bool, len(cfg.Sources)),
		target:   cfg.Target,
		settle:   cfg.Settle,
		logger:   cfg.Logger,
		notifier: cfg.Notifier,
	}
	if w.logger == nil {
		w.logger = logger.Nop()
	}

	dirs := make(map[string]bool)
	for _, src := range cfg.Sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", src, err)
		}
		w.sources[abs] = true

		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
		w.logger.Debug(fmt.Sprintf("Watching directory: %s", dir))
	}
	return w, nil
}

// Close releases the underlying watcher
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Builds returns how many rebuilds Run has started. Only meaningful after
// Run returns.
func (w *Watcher) Builds() int {
	return w.builds
}

// Run rebuilds after each settled burst of source changes until ctx is
// done. Rebuilds run one at a time on the calling goroutine; a failed
// rebuild is reported and watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(fmt.Sprintf("Watching %d source(s) for %s", len(w.sources), w.target))

	timer := time.NewTimer(w.settle)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug(fmt.Sprintf("Source changed: %s", event.Name),
				logger.WithField("op", event.Op.String()))
			timer.Reset(w.settle)

		case <-timer.C:
			w.rebuild()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(fmt.Sprintf("Watcher error: %v", err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return w.sources[filepath.Clean(event.Name)]
}

func (w *Watcher) rebuild() {
	w.builds++
	w.notifier.NotifyRebuildStart(w.target)
	start := time.Now()

	if err := w.builder.Build(); err != nil {
		w.logger.Error("Rebuild failed", logger.WithField("error", err))
		w.notifier.NotifyRebuildFailure(w.target, err)
		return
	}

	elapsed := time.Since(start)
	w.logger.Success(fmt.Sprintf("Rebuilt %s", w.target),
		logger.WithField("duration", elapsed.Round(time.Millisecond)))
	w.notifier.NotifyRebuildSuccess(w.target, elapsed)
}
