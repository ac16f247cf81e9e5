// Package logging builds the organizer's zerolog logger: one timestamped console line
// per event, informational output on stdout, warnings and failures on stderr, and an
// optional JSON copy for a log file.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// TimeLayout is the console timestamp format: [YYYY-MM-DD HH:MM:SS]
const TimeLayout = "2006-01-02 15:04:05"

// consoleExcluded are context fields already spelled out in the console message.
// They still reach the JSON file sink.
var consoleExcluded = []string{"component", "path", "source", "dest", "category", "root"}

// Options configures New
type Options struct {
	Stdout io.Writer // Debug and info lines (default os.Stdout)
	Stderr io.Writer // Warn and above (default os.Stderr)
	File   io.Writer // Optional JSON sink, usually a logrotation.RotatingWriter
	Level  zerolog.Level
}

// New returns a logger writing to the configured sinks
func New(opts Options) zerolog.Logger {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	var w zerolog.LevelWriter = splitWriter{
		info: consoleWriter(opts.Stdout),
		errs: consoleWriter(opts.Stderr),
	}
	if opts.File != nil {
		w = zerolog.MultiLevelWriter(w, opts.File)
	}

	return zerolog.New(w).With().Timestamp().Logger().Level(opts.Level)
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:             out,
		NoColor:         true,
		TimeFormat:      TimeLayout,
		PartsOrder:      []string{zerolog.TimestampFieldName, zerolog.MessageFieldName},
		FieldsExclude:   consoleExcluded,
		FormatTimestamp: formatTimestamp,
	}
}

// splitWriter routes by level so failures land on stderr
type splitWriter struct {
	info io.Writer
	errs io.Writer
}

func (s splitWriter) Write(p []byte) (int, error) {
	return s.info.Write(p)
}

func (s splitWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level >= zerolog.WarnLevel && level < zerolog.NoLevel {
		return s.errs.Write(p)
	}
	return s.info.Write(p)
}

// formatTimestamp renders the timestamp field whatever zerolog.TimeFieldFormat is
func formatTimestamp(i interface{}) string {
	var t time.Time
	switch v := i.(type) {
	case string:
		parsed, err := time.Parse(zerolog.TimeFieldFormat, v)
		if err != nil {
			return "[" + v + "]"
		}
		t = parsed
	case json.Number:
		sec, err := v.Int64()
		if err != nil {
			return "[" + v.String() + "]"
		}
		t = time.Unix(sec, 0)
	default:
		return fmt.Sprintf("[%v]", i)
	}
	return "[" + t.Local().Format(TimeLayout) + "]"
}
