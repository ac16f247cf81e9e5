package filewatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(root string) Options {
	opts := DefaultOptions(root)
	opts.AwaitWriteFinish = &AwaitWriteFinish{
		StabilityThreshold: 150 * time.Millisecond,
		PollInterval:       20 * time.Millisecond,
	}
	return opts
}

func startWatcher(t *testing.T, opts Options) *Watcher {
	t.Helper()
	w, err := New(zerolog.Nop(), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return w
}

// next returns the next event matching want, failing after timeout
func next(t *testing.T, w *Watcher, want func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "event channel closed")
			if want(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func ofType(typ EventType, path string) func(Event) bool {
	return func(ev Event) bool {
		return ev.Type == typ && (path == "" || ev.Path == path)
	}
}

func waitReady(t *testing.T, w *Watcher) {
	t.Helper()
	next(t, w, ofType(EventReady, ""))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(zerolog.Nop(), Options{})
	assert.Error(t, err)

	_, err = New(zerolog.Nop(), Options{Path: t.TempDir(), Ignored: "("})
	assert.Error(t, err)
}

func TestNew_LeavesCallerOptionsAlone(t *testing.T) {
	awf := &AwaitWriteFinish{}
	w, err := New(zerolog.Nop(), Options{Path: t.TempDir(), AwaitWriteFinish: awf})
	require.NoError(t, err)

	assert.Equal(t, AwaitWriteFinish{}, *awf)
	assert.Equal(t, DefaultStabilityThreshold, w.opts.AwaitWriteFinish.StabilityThreshold)
	assert.Equal(t, DefaultPollInterval, w.opts.AwaitWriteFinish.PollInterval)
}

func TestStart_MissingRoot(t *testing.T) {
	w, err := New(zerolog.Nop(), testOptions(filepath.Join(t.TempDir(), "nope")))
	require.NoError(t, err)

	err = w.Start(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
	w.Stop()
}

func TestStart_Twice(t *testing.T) {
	w := startWatcher(t, testOptions(t.TempDir()))
	assert.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)
}

func TestWatcher_IgnoreInitial(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.pdf"), []byte("x"), 0644))

	w := startWatcher(t, testOptions(root))

	ev := next(t, w, func(Event) bool { return true })
	assert.Equal(t, EventReady, ev.Type, "no events before ready for existing entries")
}

func TestWatcher_InitialEvents(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "a.txt"), []byte("x"), 0644))

	opts := testOptions(root)
	opts.IgnoreInitial = false
	w := startWatcher(t, opts)

	var got []Event
	for {
		ev := next(t, w, func(Event) bool { return true })
		if ev.Type == EventReady {
			break
		}
		got = append(got, ev)
	}
	assert.Equal(t, []Event{
		{Type: EventDirAdded, Path: filepath.Join(root, "sub")},
		{Type: EventAdded, Path: filepath.Join(root, "sub", "a.txt")},
	}, got)
}

func TestWatcher_AddAfterSettle(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, testOptions(root))
	waitReady(t, w)

	path := filepath.Join(root, "new.pdf")
	start := time.Now()
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	ev := next(t, w, ofType(EventAdded, path))
	assert.Equal(t, path, ev.Path)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWatcher_ChangeOfKnownFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "old.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	w := startWatcher(t, testOptions(root))
	waitReady(t, w)

	require.NoError(t, os.WriteFile(path, []byte("longer"), 0644))
	next(t, w, ofType(EventModified, path))
}

func TestWatcher_GrowingFileEmitsOnce(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, testOptions(root))
	waitReady(t, w)

	path := filepath.Join(root, "big.mkv")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.Write([]byte("chunk"))
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	next(t, w, ofType(EventAdded, path))

	select {
	case ev := <-w.Events():
		assert.NotEqual(t, path, ev.Path, "unexpected second event %s", ev.Type)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcher_RemoveKnownFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.png")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	w := startWatcher(t, testOptions(root))
	waitReady(t, w)

	require.NoError(t, os.Remove(path))
	next(t, w, ofType(EventRemoved, path))
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, testOptions(root))
	waitReady(t, w)

	dir := filepath.Join(root, "doc")
	require.NoError(t, os.Mkdir(dir, 0755))
	next(t, w, ofType(EventDirAdded, dir))

	path := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	next(t, w, ofType(EventAdded, path))

	require.NoError(t, os.RemoveAll(dir))
	next(t, w, ofType(EventDirRemoved, dir))
}

func TestWatcher_IgnoredPaths(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, testOptions(root))
	waitReady(t, w)

	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules"), []byte("x"), 0644))
	marker := filepath.Join(root, "marker.txt")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0644))

	ev := next(t, w, func(Event) bool { return true })
	assert.Equal(t, Event{Type: EventAdded, Path: marker}, ev)
}

func TestWatcher_NoAwaitWriteFinish(t *testing.T) {
	root := t.TempDir()
	opts := testOptions(root)
	opts.AwaitWriteFinish = nil
	w := startWatcher(t, opts)
	waitReady(t, w)

	path := filepath.Join(root, "quick.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	next(t, w, ofType(EventAdded, path))
}

func TestWatcher_CancelClosesEvents(t *testing.T) {
	w, err := New(zerolog.Nop(), testOptions(t.TempDir()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	waitReady(t, w)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-w.Events():
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	w.Stop()
}

func TestIsIgnored_RelativeToRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".github-stuff")
	w, err := New(zerolog.Nop(), DefaultOptions(root))
	require.NoError(t, err)

	assert.False(t, w.isIgnored(root))
	assert.False(t, w.isIgnored(filepath.Join(root, "a.pdf")))
	assert.True(t, w.isIgnored(filepath.Join(root, "node_modules", "x.js")))
	assert.True(t, w.isIgnored(filepath.Join(root, "repo", ".git")))
}
