package dirwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFsWatcher implements FsWatcher with injectable channels.
type mockFsWatcher struct {
	events chan fsnotify.Event
	errs   chan error
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{
		events: make(chan fsnotify.Event, 10),
		errs:   make(chan error, 10),
	}
}

func (m *mockFsWatcher) Add(string) error              { return nil }
func (m *mockFsWatcher) Close() error                  { return nil }
func (m *mockFsWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockFsWatcher) Errors() <-chan error          { return m.errs }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collector records every flush.
type collector struct {
	mu      sync.Mutex
	flushes [][]Change
	ch      chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 10)}
}

func (c *collector) handle(_ context.Context, changes []Change) error {
	c.mu.Lock()
	c.flushes = append(c.flushes, changes)
	c.mu.Unlock()

	c.ch <- struct{}{}

	return nil
}

func (c *collector) wait(t *testing.T) []Change {
	t.Helper()

	select {
	case <-c.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no flush within 5 seconds")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flushes[len(c.flushes)-1]
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()

	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o600))

	return p
}

func startMocked(t *testing.T, dir string, opts Options, handle Handler) (*mockFsWatcher, context.CancelFunc, chan error) {
	t.Helper()

	mock := newMockFsWatcher()
	w := New(dir, opts, testLogger())
	w.newWatcher = func() (FsWatcher, error) { return mock, nil }
	w.sleepFunc = func(context.Context, time.Duration) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx, handle) }()

	return mock, cancel, done
}

func TestRun_DebouncesBurstIntoOneFlush(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "core.csv")

	col := newCollector()
	mock, cancel, done := startMocked(t, dir, Options{Debounce: 50 * time.Millisecond}, col.handle)

	mock.events <- fsnotify.Event{Name: p, Op: fsnotify.Create}
	mock.events <- fsnotify.Event{Name: p, Op: fsnotify.Write}
	mock.events <- fsnotify.Event{Name: p, Op: fsnotify.Write}

	changes := col.wait(t)
	require.Len(t, changes, 1)
	assert.Equal(t, "core.csv", changes[0].Name)
	assert.Equal(t, p, changes[0].Path)

	cancel()
	require.NoError(t, <-done)

	col.mu.Lock()
	assert.Len(t, col.flushes, 1)
	col.mu.Unlock()
}

func TestRun_SortsChangesByName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b := writeFile(t, dir, "b.def")
	a := writeFile(t, dir, "a.def")

	col := newCollector()
	mock, cancel, done := startMocked(t, dir, Options{Debounce: 50 * time.Millisecond}, col.handle)

	mock.events <- fsnotify.Event{Name: b, Op: fsnotify.Write}
	mock.events <- fsnotify.Event{Name: a, Op: fsnotify.Write}

	changes := col.wait(t)
	require.Len(t, changes, 2)
	assert.Equal(t, "a.def", changes[0].Name)
	assert.Equal(t, "b.def", changes[1].Name)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_IgnoresRemovesTemporariesAndUnmatched(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keep := writeFile(t, dir, "keep.csv")
	swp := writeFile(t, dir, ".keep.csv.swp")
	other := writeFile(t, dir, "notes.txt")

	col := newCollector()
	opts := Options{
		Debounce: 50 * time.Millisecond,
		Match:    func(name string) bool { return filepath.Ext(name) == ".csv" },
	}
	mock, cancel, done := startMocked(t, dir, opts, col.handle)

	mock.events <- fsnotify.Event{Name: filepath.Join(dir, "gone.csv"), Op: fsnotify.Remove}
	mock.events <- fsnotify.Event{Name: keep, Op: fsnotify.Chmod}
	mock.events <- fsnotify.Event{Name: swp, Op: fsnotify.Write}
	mock.events <- fsnotify.Event{Name: other, Op: fsnotify.Write}
	mock.events <- fsnotify.Event{Name: keep, Op: fsnotify.Write}

	changes := col.wait(t)
	require.Len(t, changes, 1)
	assert.Equal(t, "keep.csv", changes[0].Name)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_NormalizesNamesToNFC(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// "café.csv" with a combining acute accent (NFD).
	p := writeFile(t, dir, "cafe\u0301.csv")

	col := newCollector()
	mock, cancel, done := startMocked(t, dir, Options{Debounce: 20 * time.Millisecond}, col.handle)

	mock.events <- fsnotify.Event{Name: p, Op: fsnotify.Create}

	changes := col.wait(t)
	require.Len(t, changes, 1)
	assert.Equal(t, "caf\u00e9.csv", changes[0].Name)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_HandlerErrorKeepsWatching(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "core.csv")

	calls := make(chan struct{}, 4)
	handle := func(context.Context, []Change) error {
		calls <- struct{}{}
		return errors.New("appliance unreachable")
	}

	mock, cancel, done := startMocked(t, dir, Options{Debounce: 20 * time.Millisecond}, handle)

	for range 2 {
		mock.events <- fsnotify.Event{Name: p, Op: fsnotify.Write}

		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("handler not called")
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestLoop_ErrorBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		slept []time.Duration
	)

	mock := newMockFsWatcher()
	w := New(t.TempDir(), Options{}, testLogger())
	w.sleepFunc = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()

		return nil
	}

	for range 7 {
		mock.errs <- errors.New("queue overflow")
	}

	close(mock.errs)

	err := w.loop(context.Background(), mock, func(context.Context, []Change) error { return nil })
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, slept)
}

func TestRun_RejectsMissingDirectory(t *testing.T) {
	t.Parallel()

	w := New(filepath.Join(t.TempDir(), "missing"), Options{}, testLogger())
	err := w.Run(context.Background(), func(context.Context, []Change) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_RejectsFile(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "x.csv")
	w := New(p, Options{}, testLogger())
	err := w.Run(context.Background(), func(context.Context, []Change) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestIsExcluded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"core.csv", false},
		{"routes.def", false},
		{".hidden.csv", true},
		{"~lock.csv", true},
		{"#core.csv#", true},
		{"core.csv~", true},
		{"core.csv.swp", true},
		{"core.csv.TMP", true},
		{"upload.partial", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isExcluded(tt.name), tt.name)
	}
}

func TestNew_DefaultDebounce(t *testing.T) {
	t.Parallel()

	w := New(".", Options{}, nil)
	assert.Equal(t, DefaultDebounce, w.debounce)
}
