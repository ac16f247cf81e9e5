package organizer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/your-org/fileorganizer/internal/classifier"
	"github.com/your-org/fileorganizer/internal/filewatcher"
)

// State is the controller's position in the watch lifecycle
type State int32

const (
	StateInitializing State = iota
	StateReady
	StateRunning
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Source is a file watcher that delivers events on a channel after Start
type Source interface {
	Start(ctx context.Context) error
	Events() <-chan filewatcher.Event
}

// Activity is one thing the controller did, reported to a Notifier
type Activity struct {
	Type     string              `json:"type"`
	Path     string              `json:"path,omitempty"`
	Dest     string              `json:"dest,omitempty"`
	Category classifier.Category `json:"category,omitempty"`
	Error    string              `json:"error,omitempty"`
	Time     time.Time           `json:"time"`
}

// Activity types
const (
	ActivityReady   = "ready"
	ActivityMoved   = "moved"
	ActivitySkipped = "skipped"
	ActivityFailed  = "failed"
	ActivityIgnored = "ignored"
	ActivityRemoved = "removed"
	ActivityError   = "watcherError"
)

// Notifier receives controller activity. Notify is called from the event loop and
// must not block.
type Notifier interface {
	Notify(Activity)
}

// Config is the controller's fixed configuration
type Config struct {
	Root     string           // Watched directory
	Table    classifier.Table // Extension table, nil for the built-in groups
	FS       FileSystem       // nil for the host filesystem
	Notifier Notifier         // Optional activity sink
}

// Stats counts what the controller has done so far
type Stats struct {
	Added         atomic.Int64
	Changed       atomic.Int64
	Ignored       atomic.Int64
	Moved         atomic.Int64
	Skipped       atomic.Int64
	Failed        atomic.Int64
	WatcherErrors atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	Added         int64 `json:"added"`
	Changed       int64 `json:"changed"`
	Ignored       int64 `json:"ignored"`
	Moved         int64 `json:"moved"`
	Skipped       int64 `json:"skipped"`
	Failed        int64 `json:"failed"`
	WatcherErrors int64 `json:"watcherErrors"`
}

// Controller routes watcher events through de-duplication, classification and moves.
// Events are handled one at a time; Handle must not be called concurrently.
type Controller struct {
	root    string
	fs      FileSystem
	mover   *Mover
	deduper *Deduper
	notify  Notifier
	logger  zerolog.Logger

	state atomic.Int32
	stats Stats
}

// NewController creates a controller in StateInitializing
func NewController(cfg Config, logger zerolog.Logger) *Controller {
	if cfg.FS == nil {
		cfg.FS = OSFileSystem{}
	}
	root := filepath.Clean(cfg.Root)
	logger = logger.With().Str("component", "organizer").Logger()

	ensurer := NewEnsurer(cfg.FS, logger)
	return &Controller{
		root:   root,
		fs:     cfg.FS,
		mover:  NewMover(root, cfg.Table, cfg.FS, ensurer, logger),
		notify: cfg.Notifier,
		logger: logger,
	}
}

// Initialize captures the pre-existing entries of the root. Run calls it before
// attaching the watcher.
func (c *Controller) Initialize() {
	c.setState(StateInitializing)
	c.deduper = NewDeduper(c.fs, c.root, c.logger)
}

// Run initializes, starts src and handles its events until ctx is cancelled or the
// event channel closes. Only a failure to start src is returned.
func (c *Controller) Run(ctx context.Context, src Source) error {
	c.Initialize()

	if err := src.Start(ctx); err != nil {
		c.setState(StateErrored)
		c.logger.Error().Err(err).Str("root", c.root).Msgf("Failed to watch %s", c.root)
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	c.logger.Info().Str("root", c.root).Msgf("Watching file system activity in %s", c.root)

	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			c.setState(StateStopped)
			return nil
		case ev, ok := <-events:
			if !ok {
				c.setState(StateStopped)
				return nil
			}
			c.Handle(ev)
		}
	}
}

// Handle processes a single event
func (c *Controller) Handle(ev filewatcher.Event) {
	switch ev.Type {
	case filewatcher.EventReady:
		c.setState(StateReady)
		c.logger.Info().Str("root", c.root).Msgf("Watcher is now ready to detect changes in %s", c.root)
		c.setState(StateRunning)
		c.publish(Activity{Type: ActivityReady, Path: c.root})

	case filewatcher.EventAdded:
		if c.deduper.IsPreExisting(ev.Path) {
			c.stats.Ignored.Add(1)
			c.logger.Debug().Str("path", ev.Path).Msgf("Ignoring pre-existing file: %s", ev.Path)
			c.publish(Activity{Type: ActivityIgnored, Path: ev.Path})
			return
		}
		c.stats.Added.Add(1)
		c.logger.Info().Str("path", ev.Path).Msgf("File added: %s", ev.Path)
		c.organize(ev.Path)

	case filewatcher.EventModified:
		c.stats.Changed.Add(1)
		c.logger.Info().Str("path", ev.Path).Msgf("File changed: %s", ev.Path)
		c.organize(ev.Path)

	case filewatcher.EventRemoved:
		c.logger.Info().Str("path", ev.Path).Msgf("File removed: %s", ev.Path)
		c.publish(Activity{Type: ActivityRemoved, Path: ev.Path})

	case filewatcher.EventDirAdded:
		c.logger.Info().Str("path", ev.Path).Msgf("Directory added: %s", ev.Path)

	case filewatcher.EventDirRemoved:
		c.logger.Info().Str("path", ev.Path).Msgf("Directory removed: %s", ev.Path)

	case filewatcher.EventError:
		c.stats.WatcherErrors.Add(1)
		c.logger.Error().Err(ev.Err).Msgf("Watcher error: %v", ev.Err)
		c.publish(Activity{Type: ActivityError, Error: errString(ev.Err)})

	default:
		c.logger.Warn().Str("path", ev.Path).Int("type", int(ev.Type)).Msg("Unknown watcher event")
	}
}

func (c *Controller) organize(path string) {
	res, err := c.mover.Move(path)
	a := Activity{Path: path, Dest: res.Dest, Category: res.Category}
	switch {
	case err != nil:
		c.stats.Failed.Add(1)
		a.Type = ActivityFailed
		a.Error = err.Error()
	case res.Moved:
		c.stats.Moved.Add(1)
		a.Type = ActivityMoved
	default:
		c.stats.Skipped.Add(1)
		a.Type = ActivitySkipped
	}
	c.publish(a)
}

func (c *Controller) publish(a Activity) {
	if c.notify == nil {
		return
	}
	a.Time = time.Now()
	c.notify.Notify(a)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	if s == StateStopped {
		c.logger.Info().Str("from", prev.String()).Str("root", c.root).Msgf("Stopped watching %s", c.root)
		return
	}
	c.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("State changed")
}

// Root returns the watched directory
func (c *Controller) Root() string {
	return c.root
}

// Stats returns a snapshot of the counters
func (c *Controller) Stats() StatsSnapshot {
	return StatsSnapshot{
		Added:         c.stats.Added.Load(),
		Changed:       c.stats.Changed.Load(),
		Ignored:       c.stats.Ignored.Load(),
		Moved:         c.stats.Moved.Load(),
		Skipped:       c.stats.Skipped.Load(),
		Failed:        c.stats.Failed.Load(),
		WatcherErrors: c.stats.WatcherErrors.Load(),
	}
}
