package organizer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fileorganizer/internal/filewatcher"
	"github.com/your-org/fileorganizer/internal/logging"
)

// chanSource is an in-memory Source
type chanSource struct {
	events   chan filewatcher.Event
	startErr error
	started  bool
}

func newChanSource() *chanSource {
	return &chanSource{events: make(chan filewatcher.Event, 16)}
}

func (s *chanSource) Start(ctx context.Context) error {
	s.started = true
	return s.startErr
}

func (s *chanSource) Events() <-chan filewatcher.Event {
	return s.events
}

func newTestController(t *testing.T, root string) (*Controller, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	logger := logging.New(logging.Options{Stdout: &stdout, Stderr: &stderr, Level: zerolog.DebugLevel})
	return NewController(Config{Root: root}, logger), &stdout, &stderr
}

func TestController_ReadyEntersRunning(t *testing.T) {
	root := t.TempDir()
	c, stdout, _ := newTestController(t, root)
	assert.Equal(t, StateInitializing, c.State())

	c.Initialize()
	c.Handle(filewatcher.Event{Type: filewatcher.EventReady})

	assert.Equal(t, StateRunning, c.State())
	assert.Contains(t, stdout.String(), "Watcher is now ready to detect changes in "+root)
}

func TestController_AddedNewFileIsMoved(t *testing.T) {
	root := t.TempDir()
	c, stdout, _ := newTestController(t, root)
	c.Initialize()
	c.Handle(filewatcher.Event{Type: filewatcher.EventReady})

	src := filepath.Join(root, "report.PDF")
	writeFile(t, src, "x")
	c.Handle(filewatcher.Event{Type: filewatcher.EventAdded, Path: src})

	assert.FileExists(t, filepath.Join(root, "doc", "report.PDF"))
	assert.NoFileExists(t, src)
	assert.Contains(t, stdout.String(), "File added: "+src)
	assert.Contains(t, stdout.String(), "Created directory: "+filepath.Join(root, "doc"))
	assert.Contains(t, stdout.String(), "Moved: "+src)
	assert.Equal(t, int64(1), c.Stats().Added)
	assert.Equal(t, int64(1), c.Stats().Moved)
}

func TestController_PreExistingAddIgnoredButChangeMoves(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "old.mp3")
	writeFile(t, src, "x")

	c, _, _ := newTestController(t, root)
	c.Initialize()
	c.Handle(filewatcher.Event{Type: filewatcher.EventReady})

	c.Handle(filewatcher.Event{Type: filewatcher.EventAdded, Path: src})
	assert.FileExists(t, src)
	assert.NoDirExists(t, filepath.Join(root, "audio"))
	assert.Equal(t, int64(1), c.Stats().Ignored)

	c.Handle(filewatcher.Event{Type: filewatcher.EventModified, Path: src})
	assert.FileExists(t, filepath.Join(root, "audio", "old.mp3"))
	assert.NoFileExists(t, src)
	assert.Equal(t, int64(1), c.Stats().Changed)
	assert.Equal(t, int64(1), c.Stats().Moved)
}

func TestController_ChangeOfFiledFileIsHarmless(t *testing.T) {
	root := t.TempDir()
	filed := filepath.Join(root, "video", "clip.mp4")
	writeFile(t, filed, "x")

	c, _, stderr := newTestController(t, root)
	c.Initialize()
	c.Handle(filewatcher.Event{Type: filewatcher.EventModified, Path: filed})

	assert.FileExists(t, filed)
	assert.Empty(t, stderr.String())
	assert.Equal(t, int64(1), c.Stats().Skipped)
}

func TestController_MissingSourceKeepsRunning(t *testing.T) {
	root := t.TempDir()
	c, _, stderr := newTestController(t, root)
	c.Initialize()
	c.Handle(filewatcher.Event{Type: filewatcher.EventReady})

	gone := filepath.Join(root, "gone.pdf")
	c.Handle(filewatcher.Event{Type: filewatcher.EventAdded, Path: gone})

	assert.Equal(t, StateRunning, c.State())
	assert.Contains(t, stderr.String(), "Error moving file "+gone)
	assert.Equal(t, int64(1), c.Stats().Failed)

	// Later events are still processed
	src := filepath.Join(root, "next.png")
	writeFile(t, src, "x")
	c.Handle(filewatcher.Event{Type: filewatcher.EventAdded, Path: src})
	assert.FileExists(t, filepath.Join(root, "image", "next.png"))
}

func TestController_LogOnlyEvents(t *testing.T) {
	root := t.TempDir()
	c, stdout, stderr := newTestController(t, root)
	c.Initialize()
	c.Handle(filewatcher.Event{Type: filewatcher.EventReady})

	c.Handle(filewatcher.Event{Type: filewatcher.EventRemoved, Path: filepath.Join(root, "a.pdf")})
	c.Handle(filewatcher.Event{Type: filewatcher.EventDirAdded, Path: filepath.Join(root, "sub")})
	c.Handle(filewatcher.Event{Type: filewatcher.EventDirRemoved, Path: filepath.Join(root, "sub")})
	c.Handle(filewatcher.Event{Type: filewatcher.EventError, Err: errors.New("queue overflow")})

	assert.Contains(t, stdout.String(), "File removed: ")
	assert.Contains(t, stdout.String(), "Directory added: ")
	assert.Contains(t, stdout.String(), "Directory removed: ")
	assert.Contains(t, stderr.String(), "Watcher error: queue overflow")
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, int64(1), c.Stats().WatcherErrors)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestController_RunUntilSourceCloses(t *testing.T) {
	root := t.TempDir()
	boot := filepath.Join(root, "boot.jpg")
	writeFile(t, boot, "x")
	c, _, _ := newTestController(t, root)
	src := newChanSource()

	src.events <- filewatcher.Event{Type: filewatcher.EventAdded, Path: boot}
	src.events <- filewatcher.Event{Type: filewatcher.EventReady}
	close(src.events)

	require.NoError(t, c.Run(context.Background(), src))

	assert.True(t, src.started)
	assert.Equal(t, StateStopped, c.State())
	assert.FileExists(t, boot)
	assert.Equal(t, int64(1), c.Stats().Ignored)
}

func TestController_RunStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	c, stdout, _ := newTestController(t, root)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, newChanSource()) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, c.State())
	assert.Contains(t, stdout.String(), "Stopped watching "+root)
}

func TestController_StoppedIsLoggedAtInfo(t *testing.T) {
	root := t.TempDir()
	var stdout, stderr bytes.Buffer
	logger := logging.New(logging.Options{Stdout: &stdout, Stderr: &stderr, Level: zerolog.InfoLevel})
	c := NewController(Config{Root: root}, logger)
	src := newChanSource()
	close(src.events)

	require.NoError(t, c.Run(context.Background(), src))
	assert.Contains(t, stdout.String(), "Stopped watching "+root)
	assert.NotContains(t, stdout.String(), "State changed")
}

func TestController_RunWithFileWatcher(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "old.mp3")
	writeFile(t, old, "x")

	c, _, _ := newTestController(t, root)
	opts := filewatcher.DefaultOptions(root)
	opts.AwaitWriteFinish = &filewatcher.AwaitWriteFinish{
		StabilityThreshold: 100 * time.Millisecond,
		PollInterval:       20 * time.Millisecond,
	}
	w, err := filewatcher.New(zerolog.Nop(), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, w) }()
	defer func() {
		cancel()
		<-done
		w.Stop()
	}()

	exists := func(path string) func() bool {
		return func() bool {
			_, err := os.Stat(path)
			return err == nil
		}
	}

	require.Eventually(t, func() bool { return c.State() == StateRunning }, 5*time.Second, 10*time.Millisecond)
	assert.FileExists(t, old, "pre-existing file is left alone at startup")

	writeFile(t, filepath.Join(root, "report.PDF"), "pdf")
	writeFile(t, filepath.Join(root, "notes.xyz"), "?")
	require.Eventually(t, exists(filepath.Join(root, "doc", "report.PDF")), 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(old, []byte("changed"), 0644))
	require.Eventually(t, exists(filepath.Join(root, "audio", "old.mp3")), 5*time.Second, 20*time.Millisecond)

	assert.FileExists(t, filepath.Join(root, "notes.xyz"))
	assert.NoFileExists(t, filepath.Join(root, "report.PDF"))
}

func TestController_RunStartFailure(t *testing.T) {
	c, _, stderr := newTestController(t, t.TempDir())
	src := newChanSource()
	src.startErr = errors.New("inotify limit reached")

	err := c.Run(context.Background(), src)

	require.Error(t, err)
	assert.ErrorIs(t, err, src.startErr)
	assert.Equal(t, StateErrored, c.State())
	assert.Contains(t, stderr.String(), "inotify limit reached")
}

type recordingNotifier struct {
	got []Activity
}

func (r *recordingNotifier) Notify(a Activity) {
	r.got = append(r.got, a)
}

func TestController_NotifiesActivity(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "old.txt")
	writeFile(t, old, "x")

	rec := &recordingNotifier{}
	c := NewController(Config{Root: root, Notifier: rec}, zerolog.Nop())
	c.Initialize()
	c.Handle(filewatcher.Event{Type: filewatcher.EventReady})
	c.Handle(filewatcher.Event{Type: filewatcher.EventAdded, Path: old})

	src := filepath.Join(root, "song.wav")
	writeFile(t, src, "x")
	c.Handle(filewatcher.Event{Type: filewatcher.EventAdded, Path: src})
	c.Handle(filewatcher.Event{Type: filewatcher.EventAdded, Path: filepath.Join(root, "gone.pdf")})
	c.Handle(filewatcher.Event{Type: filewatcher.EventError, Err: errors.New("overflow")})

	types := make([]string, 0, len(rec.got))
	for _, a := range rec.got {
		types = append(types, a.Type)
		assert.False(t, a.Time.IsZero())
	}
	assert.Equal(t, []string{ActivityReady, ActivityIgnored, ActivityMoved, ActivityFailed, ActivityError}, types)

	moved := rec.got[2]
	assert.Equal(t, filepath.Join(root, "audio", "song.wav"), moved.Dest)
	assert.Equal(t, "audio", string(moved.Category))
	assert.NotEmpty(t, rec.got[3].Error)
	assert.Equal(t, "overflow", rec.got[4].Error)
}
