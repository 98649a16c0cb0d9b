package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

const (
	defaultFTPPort  = 21
	ftpTempPrefix   = ".upload-"
	defaultBasePath = "recordings"
)

// FTPConfig holds configuration for the FTP target
type FTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	BasePath string
	Timeout  time.Duration
}

// FTPTarget uploads segments over FTP, reusing one connection between
// uploads while it answers NOOP.
type FTPTarget struct {
	config FTPConfig
	log    logger.Logger

	mu      sync.Mutex
	conn    *ftp.ServerConn
	dirDone bool
}

// NewFTPTarget validates config and returns the target. No connection is
// made until the first upload.
func NewFTPTarget(config FTPConfig, log logger.Logger) (*FTPTarget, error) {
	if config.Host == "" {
		return nil, errors.Newf("ftp: host is required").
			Component(componentArchive).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if config.Port == 0 {
		config.Port = defaultFTPPort
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	config.BasePath = strings.TrimRight(config.BasePath, "/")
	if config.BasePath == "" {
		config.BasePath = defaultBasePath
	}
	if log == nil {
		log = GetLogger()
	}
	return &FTPTarget{config: config, log: log}, nil
}

// Name returns the target type
func (t *FTPTarget) Name() string { return TargetFTP }

// Store uploads to a temporary name and renames it into place
func (t *FTPTarget) Store(ctx context.Context, localPath, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.connection(ctx)
	if err != nil {
		return err
	}
	if err := t.ensureDir(conn); err != nil {
		t.drop()
		return err
	}

	src, err := os.Open(localPath) //nolint:gosec // G304: segment path produced by the recorder
	if err != nil {
		return errors.New(err).
			Component(componentArchive).
			Category(errors.CategoryFileIO).
			Context("path", localPath).
			Build()
	}
	defer func() { _ = src.Close() }()

	remote := path.Join(t.config.BasePath, name)
	tmp := path.Join(t.config.BasePath, fmt.Sprintf("%s%d-%s", ftpTempPrefix, time.Now().UnixNano(), name))

	done := make(chan error, 1)
	go func() { done <- conn.Stor(tmp, src) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		// Closing the control connection aborts the transfer
		t.drop()
		<-done
		return ctx.Err()
	}
	if err != nil {
		_ = conn.Delete(tmp)
		t.drop()
		return fmt.Errorf("ftp: store %s: %w", name, err)
	}
	if err := conn.Rename(tmp, remote); err != nil {
		_ = conn.Delete(tmp)
		return fmt.Errorf("ftp: rename %s: %w", name, err)
	}
	return nil
}

// Close quits the cached connection
func (t *FTPTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Quit()
	t.conn = nil
	return err
}

// connection returns the cached connection or dials a new one
func (t *FTPTarget) connection(ctx context.Context) (*ftp.ServerConn, error) {
	if t.conn != nil {
		if t.conn.NoOp() == nil {
			return t.conn, nil
		}
		t.drop()
	}

	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(t.config.Timeout))
	if err != nil {
		return nil, fmt.Errorf("ftp: connection failed: %w", err)
	}
	if t.config.Username != "" {
		if err := conn.Login(t.config.Username, t.config.Password); err != nil {
			_ = conn.Quit()
			return nil, errors.New(err).
				Component(componentArchive).
				Category(errors.CategoryConfiguration).
				Context("operation", "ftp_login").
				Build()
		}
	}
	t.log.Debug("ftp connected", logger.String("address", addr))
	t.conn = conn
	return conn, nil
}

// ensureDir creates the base path once per connection. Existing directories
// make MakeDir fail, which is ignored.
func (t *FTPTarget) ensureDir(conn *ftp.ServerConn) error {
	if t.dirDone {
		return nil
	}
	current := ""
	for part := range strings.SplitSeq(t.config.BasePath, "/") {
		if part == "" {
			current = "/"
			continue
		}
		current = path.Join(current, part)
		_ = conn.MakeDir(current)
	}
	if _, err := conn.List(t.config.BasePath); err != nil {
		return fmt.Errorf("ftp: base path %s: %w", t.config.BasePath, err)
	}
	t.dirDone = true
	return nil
}

func (t *FTPTarget) drop() {
	if t.conn != nil {
		_ = t.conn.Quit()
		t.conn = nil
	}
	t.dirDone = false
}
