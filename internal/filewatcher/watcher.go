package filewatcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	// DefaultIgnored skips version-control and dependency-manager directories
	DefaultIgnored = `node_modules|\.git`

	DefaultStabilityThreshold = 2 * time.Second
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultBufferSize         = 256
)

var ErrAlreadyStarted = errors.New("watcher already started")

// AwaitWriteFinish holds back add/change events until a file's size and modification
// time have stopped changing for StabilityThreshold, checked every PollInterval
type AwaitWriteFinish struct {
	StabilityThreshold time.Duration
	PollInterval       time.Duration
}

// Options configures a Watcher
type Options struct {
	Path             string            // Root directory, watched recursively
	Ignored          string            // Regexp matched against paths relative to Path
	IgnoreInitial    bool              // Do not emit events for entries found by the initial scan
	AwaitWriteFinish *AwaitWriteFinish // nil emits as soon as a write is seen
	BufferSize       int               // Event channel capacity
}

// DefaultOptions returns the options used by the organizer for root
func DefaultOptions(root string) Options {
	return Options{
		Path:          root,
		Ignored:       DefaultIgnored,
		IgnoreInitial: true,
		AwaitWriteFinish: &AwaitWriteFinish{
			StabilityThreshold: DefaultStabilityThreshold,
			PollInterval:       DefaultPollInterval,
		},
		BufferSize: DefaultBufferSize,
	}
}

// pendingWrite tracks a file that may still be written to
type pendingWrite struct {
	kind        EventType
	size        int64
	modTime     time.Time
	stableSince time.Time
}

// Watcher watches a directory tree and reports file and directory events
type Watcher struct {
	root    string
	opts    Options
	ignored *regexp.Regexp
	logger  zerolog.Logger
	events  chan Event

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	dirs    map[string]struct{}
	files   map[string]struct{}
	pending map[string]*pendingWrite

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a watcher; nothing is watched until Start
func New(logger zerolog.Logger, opts Options) (*Watcher, error) {
	if opts.Path == "" {
		return nil, errors.New("watch path is required")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.AwaitWriteFinish != nil {
		// Defaults go into a copy; the caller's value is left alone
		awf := *opts.AwaitWriteFinish
		opts.AwaitWriteFinish = &awf
		if awf.StabilityThreshold <= 0 {
			awf.StabilityThreshold = DefaultStabilityThreshold
		}
		if awf.PollInterval <= 0 {
			awf.PollInterval = DefaultPollInterval
		}
	}

	w := &Watcher{
		root:     filepath.Clean(opts.Path),
		opts:     opts,
		logger:   logger.With().Str("component", "filewatcher").Logger(),
		events:   make(chan Event, opts.BufferSize),
		dirs:     make(map[string]struct{}),
		files:    make(map[string]struct{}),
		pending:  make(map[string]*pendingWrite),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if opts.Ignored != "" {
		re, err := regexp.Compile(opts.Ignored)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern: %w", err)
		}
		w.ignored = re
	}

	return w, nil
}

// Events returns the event channel. It is closed after the watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start attaches to the root and begins the initial scan in the background. The scan
// ends with EventReady. Cancelling ctx stops the watcher.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return ErrAlreadyStarted
	}

	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("failed to watch %s: not a directory", w.root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch directory %s: %w", w.root, err)
	}
	w.fsw = fsw
	w.dirs[w.root] = struct{}{}

	w.wg.Add(1)
	go w.run(ctx)

	if w.opts.AwaitWriteFinish != nil {
		w.wg.Add(1)
		go w.settleLoop()
	}

	go func() {
		w.wg.Wait()
		fsw.Close()
		close(w.events)
		close(w.done)
	}()

	w.logger.Info().
		Str("root", w.root).
		Str("ignored", w.opts.Ignored).
		Bool("ignoreInitial", w.opts.IgnoreInitial).
		Msg("Started watching directory")
	return nil
}

// Stop stops watching and waits for the event goroutines to exit
func (w *Watcher) Stop() {
	w.closeStop()

	w.mu.Lock()
	started := w.fsw != nil
	w.mu.Unlock()

	if started {
		<-w.done
		w.logger.Debug().Msg("File watcher stopped")
	}
}

func (w *Watcher) closeStop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	w.scan(w.root, true)
	if !w.emit(Event{Type: EventReady}) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			w.closeStop()
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug().Err(err).Msg("Notification backend error")
			if !w.emit(Event{Type: EventError, Err: err}) {
				return
			}
		}
	}
}

// emit delivers ev unless the watcher is stopping
func (w *Watcher) emit(ev Event) bool {
	select {
	case w.events <- ev:
		return true
	case <-w.stopChan:
		return false
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if w.isIgnored(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			// Gone before we looked
			return
		}
		if info.IsDir() {
			w.mu.Lock()
			_, known := w.dirs[path]
			w.mu.Unlock()
			if !known {
				w.scan(path, false)
			}
			return
		}
		w.touch(path)

	case event.Has(fsnotify.Write):
		w.touch(path)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.removed(path)
	}
}

// scan walks top, adding every directory to the watch set. The initial scan emits
// only when IgnoreInitial is off; a directory that appears later is always reported
// together with the files already inside it.
func (w *Watcher) scan(top string, initial bool) {
	emit := !initial || !w.opts.IgnoreInitial

	err := filepath.WalkDir(top, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Cannot access path, skipping")
			if d != nil && d.IsDir() && path != top {
				return filepath.SkipDir
			}
			return nil
		}
		if w.isIgnored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == w.root {
				return nil
			}
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("Failed to add subdirectory to watcher")
			}
			w.mu.Lock()
			w.dirs[path] = struct{}{}
			w.mu.Unlock()
			if emit && !w.emit(Event{Type: EventDirAdded, Path: path}) {
				return filepath.SkipAll
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if initial {
			w.mu.Lock()
			w.files[path] = struct{}{}
			w.mu.Unlock()
			if emit && !w.emit(Event{Type: EventAdded, Path: path}) {
				return filepath.SkipAll
			}
			return nil
		}
		w.touch(path)
		return nil
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("path", top).Msg("Error scanning directory")
	}
}

// touch records activity on a file. Without AwaitWriteFinish the event is emitted
// at once; otherwise the settle loop emits it when the file is stable.
func (w *Watcher) touch(path string) {
	w.mu.Lock()

	if _, isDir := w.dirs[path]; isDir {
		w.mu.Unlock()
		return
	}

	kind := EventModified
	if _, known := w.files[path]; !known {
		kind = EventAdded
	}

	if w.opts.AwaitWriteFinish == nil {
		w.files[path] = struct{}{}
		w.mu.Unlock()
		w.emit(Event{Type: kind, Path: path})
		return
	}
	defer w.mu.Unlock()

	now := time.Now()
	if p, ok := w.pending[path]; ok {
		p.stableSince = now
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	w.pending[path] = &pendingWrite{
		kind:        kind,
		size:        info.Size(),
		modTime:     info.ModTime(),
		stableSince: now,
	}
}

func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.AwaitWriteFinish.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case now := <-ticker.C:
			for _, ev := range w.settled(now) {
				if !w.emit(ev) {
					return
				}
			}
		}
	}
}

// settled returns the pending files whose size and modification time have held
// still for the stability threshold, and forgets them
func (w *Watcher) settled(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	threshold := w.opts.AwaitWriteFinish.StabilityThreshold
	var ready []Event
	for path, p := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			// Removed or renamed away before it settled
			delete(w.pending, path)
			continue
		}
		if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
			p.size = info.Size()
			p.modTime = info.ModTime()
			p.stableSince = now
			continue
		}
		if now.Sub(p.stableSince) < threshold {
			continue
		}
		delete(w.pending, path)
		w.files[path] = struct{}{}
		ready = append(ready, Event{Type: p.kind, Path: path})
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].Path < ready[j].Path })
	return ready
}

// removed handles a path that disappeared. A directory takes its known contents
// with it.
func (w *Watcher) removed(path string) {
	w.mu.Lock()
	delete(w.pending, path)

	if _, ok := w.files[path]; ok {
		delete(w.files, path)
		w.mu.Unlock()
		w.emit(Event{Type: EventRemoved, Path: path})
		return
	}

	if _, ok := w.dirs[path]; !ok {
		w.mu.Unlock()
		return
	}

	var lost []Event
	for f := range w.files {
		if within(path, f) {
			delete(w.files, f)
			lost = append(lost, Event{Type: EventRemoved, Path: f})
		}
	}
	for f := range w.pending {
		if within(path, f) {
			delete(w.pending, f)
		}
	}
	var gone []string
	for d := range w.dirs {
		if d == path || within(path, d) {
			delete(w.dirs, d)
			gone = append(gone, d)
		}
	}
	w.mu.Unlock()

	for _, d := range gone {
		// The kernel usually drops the watch itself
		_ = w.fsw.Remove(d)
	}

	sort.Slice(lost, func(i, j int) bool { return lost[i].Path < lost[j].Path })
	sort.Sort(sort.Reverse(sort.StringSlice(gone)))
	for _, ev := range lost {
		if !w.emit(ev) {
			return
		}
	}
	for _, d := range gone {
		if !w.emit(Event{Type: EventDirRemoved, Path: d}) {
			return
		}
	}
}

func (w *Watcher) isIgnored(path string) bool {
	if w.ignored == nil {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	return w.ignored.MatchString(filepath.ToSlash(rel))
}

// within reports whether path lies below dir
func within(dir, path string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
