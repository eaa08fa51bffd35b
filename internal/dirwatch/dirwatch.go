// Package dirwatch watches a local directory of routeset files and reports
// settled changes. Bursts of events for the same file (editors often write,
// truncate and rename in quick succession) are coalesced by a debounce
// window, and each flush hands the handler every file that changed during it.
package dirwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"
)

// DefaultDebounce is the quiet period after the last event before a flush.
const DefaultDebounce = 2 * time.Second

// Watcher error backoff bounds.
const (
	errInitBackoff = 1 * time.Second
	errBackoffMult = 2
	errMaxBackoff  = 30 * time.Second
)

// excludedSuffixes are editor temporaries and partial writes that never
// represent a finished routeset file.
var excludedSuffixes = []string{
	".partial", ".tmp", ".swp", ".swx", ".bak", ".crdownload", "~",
}

// FsWatcher is the subset of *fsnotify.Watcher the loop uses. Tests inject
// channels through it.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error          { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                   { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

// Change is one file that changed during a debounce window. Name is the
// base name in Unicode NFC, ready to compare with appliance display names.
type Change struct {
	Path string
	Name string
}

// Handler receives each flush. An error is logged and watching continues.
type Handler func(ctx context.Context, changes []Change) error

// Options configure a Watcher.
type Options struct {
	// Debounce is the quiet period before a flush. Zero uses DefaultDebounce.
	Debounce time.Duration

	// Match selects which names are reported. Nil accepts every name that
	// is not an editor temporary or a dotfile.
	Match func(name string) bool
}

// Watcher reports settled file changes in a single directory. Deletions are
// never reported.
type Watcher struct {
	dir      string
	debounce time.Duration
	match    func(string) bool
	logger   *slog.Logger

	newWatcher func() (FsWatcher, error)
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// New creates a Watcher for dir.
func New(dir string, opts Options, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	return &Watcher{
		dir:        dir,
		debounce:   opts.Debounce,
		match:      opts.Match,
		logger:     logger,
		newWatcher: newFsnotifyWatcher,
		sleepFunc:  timeSleep,
	}
}

// Run watches until ctx is canceled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("dirwatch: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("dirwatch: %s is not a directory", w.dir)
	}

	watcher, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("dirwatch: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("dirwatch: watching %s: %w", w.dir, err)
	}

	w.logger.Info("watching directory",
		slog.String("dir", w.dir),
		slog.Duration("debounce", w.debounce),
	)

	return w.loop(ctx, watcher, handle)
}

func (w *Watcher) loop(ctx context.Context, watcher FsWatcher, handle Handler) error {
	pending := make(map[string]Change)

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	defer timer.Stop()

	errBackoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			if c, keep := w.accept(ev); keep {
				pending[c.Name] = c
				timer.Reset(w.debounce)
			}

			errBackoff = errInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := w.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*errBackoffMult, errMaxBackoff)

		case <-timer.C:
			changes := drain(pending)
			if len(changes) == 0 {
				continue
			}

			w.logger.Info("changes settled", slog.Int("files", len(changes)))

			if err := handle(ctx, changes); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}

				w.logger.Warn("change handler failed", slog.String("error", err.Error()))
			}
		}
	}
}

// accept filters one event down to a Change on a regular, matching file.
func (w *Watcher) accept(ev fsnotify.Event) (Change, bool) {
	// Removes and renames-away leave nothing to upload; a rename into the
	// directory arrives as Create.
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return Change{}, false
	}

	name := norm.NFC.String(filepath.Base(ev.Name))
	if isExcluded(name) {
		w.logger.Debug("watch: skipping excluded file", slog.String("name", name))
		return Change{}, false
	}

	if w.match != nil && !w.match(name) {
		return Change{}, false
	}

	info, err := os.Stat(ev.Name)
	if err != nil || !info.Mode().IsRegular() {
		return Change{}, false
	}

	return Change{Path: ev.Name, Name: name}, true
}

// drain empties pending and returns its changes sorted by name.
func drain(pending map[string]Change) []Change {
	changes := make([]Change, 0, len(pending))
	for name, c := range pending {
		changes = append(changes, c)
		delete(pending, name)
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })

	return changes
}

func isExcluded(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") || strings.HasPrefix(name, "#") {
		return true
	}

	lower := strings.ToLower(name)

	for _, ext := range excludedSuffixes {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return false
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
