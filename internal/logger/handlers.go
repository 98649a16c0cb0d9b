package logger

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	fileBufferSize       = 32 * 1024
	defaultFlushInterval = 5 * time.Second
)

// replaceLevel renders the custom trace level as "TRACE"
func replaceLevel(a slog.Attr) slog.Attr {
	if level, ok := a.Value.Any().(slog.Level); ok && level <= traceLevelValue {
		return slog.String(slog.LevelKey, "TRACE")
	}
	return a
}

// newTextHandler builds the console handler. Timestamps are dropped.
func newTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				return replaceLevel(a)
			}
			return a
		},
	})
}

// newJSONHandler builds the file handler with RFC3339 timestamps in tz
func newJSONHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	if tz == nil {
		tz = time.Local
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.In(tz).Format(time.RFC3339))
				}
			case slog.LevelKey:
				return replaceLevel(a)
			}
			return a
		},
	})
}

// NewSlogLogger creates a standalone JSON Logger writing to w.
// A nil writer logs to stderr and a nil timezone uses local time.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stderr
	}
	slogLevel := parseSlogLevel(level)
	return &moduleLogger{
		logger: slog.New(newJSONHandler(w, slogLevel, tz)),
		level:  slogLevel,
	}
}

// fileWriter is a buffered, mutex guarded log file with periodic flushing
type fileWriter struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func newFileWriter(path string, flushInterval time.Duration) (*fileWriter, error) {
	//nolint:gosec // log path comes from operator configuration
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions)
	if err != nil {
		return nil, err
	}

	w := &fileWriter{
		file: file,
		buf:  bufio.NewWriterSize(file, fileBufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.flushLoop(flushInterval)
	return w, nil
}

func (w *fileWriter) flushLoop(interval time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			_ = w.Flush()
		}
	}
}

func (w *fileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	return w.buf.Write(p)
}

// Flush writes buffered bytes to the file
func (w *fileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.buf.Flush()
}

// Close stops the flush loop, then flushes, syncs and closes the file
func (w *fileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	flushErr := w.buf.Flush()
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	for _, err := range []error{flushErr, syncErr, closeErr} {
		if err != nil {
			return err
		}
	}
	return nil
}
