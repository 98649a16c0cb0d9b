// Package archive copies closed recording segments to a local directory or
// a remote FTP/SFTP server from a bounded background queue.
package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/biosig-go/internal/conf"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

const (
	componentArchive    = "archive"
	DefaultQueueSize    = 64
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
)

// Target types
const (
	TargetLocal = "local"
	TargetFTP   = "ftp"
	TargetSFTP  = "sftp"
)

// transientErrorPatterns are error texts worth a retry
var transientErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"resource temporarily unavailable",
	"temporary failure",
	"421", // FTP service not available
	"425", // FTP can't open data connection
	"426", // FTP connection closed, transfer aborted
}

// GetLogger returns the archive package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("archive")
}

// Target stores one file under name
type Target interface {
	// Name returns the target type
	Name() string
	// Store uploads the file at localPath as name below the target root
	Store(ctx context.Context, localPath, name string) error
	// Close releases connections
	Close() error
}

// Stats counts archive outcomes
type Stats struct {
	Queued   uint64 `json:"queued"`
	Uploaded uint64 `json:"uploaded"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
}

// Archiver uploads queued segments one at a time
type Archiver struct {
	target     Target
	queue      chan string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	log        logger.Logger

	ctx       context.Context // canceled when Stop gives up on the queue
	cancel    context.CancelFunc
	abandon   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.RWMutex // guards closed against Enqueue
	closed    bool
	wg        sync.WaitGroup

	queued   atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

// NewTarget builds the target named by settings.Target
func NewTarget(settings *conf.ArchiveSettings, log logger.Logger) (Target, error) {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch strings.ToLower(settings.Target) {
	case "", TargetLocal:
		return NewLocalTarget(settings.Directory)
	case TargetFTP:
		return NewFTPTarget(FTPConfig{
			Host:     settings.Host,
			Port:     settings.Port,
			Username: settings.Username,
			Password: settings.Password,
			BasePath: settings.RemotePath,
			Timeout:  timeout,
		}, log)
	case TargetSFTP:
		return NewSFTPTarget(SFTPConfig{
			Host:     settings.Host,
			Port:     settings.Port,
			Username: settings.Username,
			Password: settings.Password,
			KeyFile:  settings.KeyFile,
			BasePath: settings.RemotePath,
			Timeout:  timeout,
		}, log)
	default:
		return nil, errors.Newf("unsupported archive target %q", settings.Target).
			Component(componentArchive).
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// New returns an archiver for target. Start must be called before segments
// are processed.
func New(target Target, settings *conf.ArchiveSettings, log logger.Logger) *Archiver {
	if log == nil {
		log = GetLogger()
	}
	size := DefaultQueueSize
	timeout := DefaultTimeout
	if settings != nil {
		if settings.QueueSize > 0 {
			size = settings.QueueSize
		}
		if settings.Timeout > 0 {
			timeout = settings.Timeout
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		ctx:        ctx,
		cancel:     cancel,
		target:     target,
		queue:      make(chan string, size),
		timeout:    timeout,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
		log:        log.With(logger.String("target", target.Name())),
	}
}

// Start launches the upload worker
func (a *Archiver) Start() {
	a.startOnce.Do(func() {
		a.wg.Go(a.worker)
	})
}

// Enqueue schedules path for upload. It never blocks; a full queue drops the
// segment and reports false.
func (a *Archiver) Enqueue(path string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return false
	}
	select {
	case a.queue <- path:
		a.queued.Add(1)
		return true
	default:
		a.dropped.Add(1)
		a.log.Warn("archive queue full, segment not archived",
			logger.String("path", path),
			logger.Int("queue_size", cap(a.queue)))
		return false
	}
}

// Stop stops accepting segments, drains the queue and closes the target.
// Uploads still queued when ctx ends are abandoned.
func (a *Archiver) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		a.Start() // drain even when never started

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.abandon.Store(true)
			a.cancel()
			err = errors.New(ctx.Err()).
				Component(componentArchive).
				Category(errors.CategoryArchive).
				Context("operation", "drain").
				Context("pending", len(a.queue)).
				Build()
			<-done
		}
		a.cancel()
		if cerr := a.target.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// Stats returns a snapshot of the counters
func (a *Archiver) Stats() Stats {
	return Stats{
		Queued:   a.queued.Load(),
		Uploaded: a.uploaded.Load(),
		Failed:   a.failed.Load(),
		Dropped:  a.dropped.Load(),
	}
}

func (a *Archiver) worker() {
	for path := range a.queue {
		if a.abandon.Load() {
			a.failed.Add(1)
			continue
		}
		if err := a.upload(path); err != nil {
			a.failed.Add(1)
			a.log.Error("segment archive failed", logger.String("path", path), logger.Error(err))
			continue
		}
		a.uploaded.Add(1)
	}
}

func (a *Archiver) upload(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	name := filepath.Base(path)
	start := time.Now()
	ctx, cancel := context.WithTimeout(a.ctx, a.timeout*time.Duration(a.maxRetries))
	defer cancel()

	err = withRetry(ctx, a.maxRetries, a.backoff, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.target.Store(attemptCtx, path, name)
	})
	if err != nil {
		return errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryArchive).
			FileContext(path, info.Size()).
			Timing("store", time.Since(start)).
			Build()
	}
	a.log.Info("segment archived",
		logger.String("path", path),
		logger.Int64("bytes", info.Size()),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// IsTransientError reports whether err is likely temporary
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}
	msg := err.Error()
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// withRetry runs op until it succeeds, fails permanently or runs out of
// attempts, backing off linearly between attempts.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, op func() error) error {
	var lastErr error
	for attempt := range max(1, attempts) {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
		case <-time.After(backoff * time.Duration(attempt+1)):
		}
	}
	return lastErr
}
