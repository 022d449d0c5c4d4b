// Package diag writes the diagnostic event stream: one
// "<unix-seconds>,<message>" line per event. It is separate from the
// process log and can be switched on and off while a session runs.
package diag

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions controls rotation of a file-backed diagnostic log.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Log is a switchable diagnostic sink. The zero value is disabled and
// discards events. It is safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
}

// New returns a disabled Log.
func New() *Log {
	return &Log{now: time.Now}
}

// EnableFile starts writing to a rotated file. Any previous target is
// closed first.
func (l *Log) EnableFile(opts FileOptions) error {
	if opts.Path == "" {
		return fmt.Errorf("diag: empty log path")
	}
	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	if err := l.swap(lj, lj); err != nil {
		return err
	}
	l.Event("logging_enabled")
	return nil
}

// EnableWriter starts writing to w. w is not closed by Disable.
func (l *Log) EnableWriter(w io.Writer) {
	_ = l.swap(w, nil)
}

// Disable stops writing and closes a file target.
func (l *Log) Disable() error {
	return l.swap(nil, nil)
}

func (l *Log) swap(w io.Writer, c io.Closer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if l.closer != nil {
		err = l.closer.Close()
	}
	l.w, l.closer = w, c
	return err
}

// Enabled reports whether events are currently written.
func (l *Log) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w != nil
}

// Event writes msg stamped with the current time. Write errors are dropped;
// diagnostics never fail the pipeline.
func (l *Log) Event(msg string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	line := FormatLine(now(), msg)
	_, _ = io.WriteString(l.w, line)
}

// Eventf formats and writes an event.
func (l *Log) Eventf(format string, v ...interface{}) {
	if !l.Enabled() {
		return
	}
	l.Event(fmt.Sprintf(format, v...))
}

// FormatLine renders one diagnostic line including the trailing newline.
func FormatLine(at time.Time, msg string) string {
	secs := float64(at.UnixNano()) / 1e9
	return strconv.FormatFloat(secs, 'f', 6, 64) + "," + msg + "\n"
}
