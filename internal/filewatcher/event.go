package filewatcher

// EventType is the kind of a file system event
type EventType int

const (
	// EventAdded is emitted for a new file once its writes have settled
	EventAdded EventType = iota
	// EventModified is emitted when a known file changes and settles again
	EventModified
	// EventRemoved is emitted when a known file disappears
	EventRemoved
	// EventDirAdded is emitted when a directory appears under the root
	EventDirAdded
	// EventDirRemoved is emitted when a watched directory disappears
	EventDirRemoved
	// EventError carries a notification backend failure in Err
	EventError
	// EventReady is emitted once the initial scan is complete
	EventReady
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "add"
	case EventModified:
		return "change"
	case EventRemoved:
		return "unlink"
	case EventDirAdded:
		return "addDir"
	case EventDirRemoved:
		return "unlinkDir"
	case EventError:
		return "error"
	case EventReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Event is one notification from the watcher. Path is empty for EventError and
// EventReady; Err is set only for EventError.
type Event struct {
	Type EventType
	Path string
	Err  error
}
