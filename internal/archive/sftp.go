package archive

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

const defaultSFTPPort = 22

// SFTPConfig holds configuration for the SFTP target
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string // empty uses ~/.ssh/known_hosts
	BasePath       string
	Timeout        time.Duration
}

// SFTPTarget uploads segments over SFTP, one SSH session per upload
type SFTPTarget struct {
	config SFTPConfig
	auth   []ssh.AuthMethod
	log    logger.Logger
}

// NewSFTPTarget validates config, loads the private key and returns the
// target. No connection is made until the first upload.
func NewSFTPTarget(config SFTPConfig, log logger.Logger) (*SFTPTarget, error) {
	if config.Host == "" {
		return nil, configError("sftp: host is required")
	}
	if config.Username == "" {
		return nil, configError("sftp: username is required")
	}
	if config.Port == 0 {
		config.Port = defaultSFTPPort
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	config.BasePath = strings.TrimRight(config.BasePath, "/")
	if config.BasePath == "" {
		config.BasePath = defaultBasePath
	}
	if config.KnownHostsFile == "" {
		config.KnownHostsFile = defaultKnownHostsFile()
	}
	if log == nil {
		log = GetLogger()
	}

	var auth []ssh.AuthMethod
	switch {
	case config.KeyFile != "":
		key, err := os.ReadFile(config.KeyFile)
		if err != nil {
			return nil, errors.New(err).
				Component(componentArchive).
				Category(errors.CategoryConfiguration).
				Context("operation", "read_private_key").
				Build()
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.New(err).
				Component(componentArchive).
				Category(errors.CategoryConfiguration).
				Context("operation", "parse_private_key").
				Build()
		}
		auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case config.Password != "":
		auth = []ssh.AuthMethod{ssh.Password(config.Password)}
	default:
		return nil, configError("sftp: no authentication method provided")
	}

	return &SFTPTarget{config: config, auth: auth, log: log}, nil
}

func configError(msg string) error {
	return errors.Newf("%s", msg).
		Component(componentArchive).
		Category(errors.CategoryConfiguration).
		Build()
}

func defaultKnownHostsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

// Name returns the target type
func (t *SFTPTarget) Name() string { return TargetSFTP }

// Store uploads to a temporary name and renames it into place
func (t *SFTPTarget) Store(ctx context.Context, localPath, name string) error {
	client, closeFn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	// Abort a stalled transfer when the context ends
	stop := context.AfterFunc(ctx, closeFn)
	defer stop()

	if err := client.MkdirAll(t.config.BasePath); err != nil {
		return fmt.Errorf("sftp: create directory %s: %w", t.config.BasePath, err)
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
	tmp := remote + ".tmp"
	dst, err := client.Create(tmp)
	if err != nil {
		return fmt.Errorf("sftp: create %s: %w", tmp, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = client.Remove(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("sftp: write %s: %w", tmp, err)
	}
	if err := dst.Close(); err != nil {
		_ = client.Remove(tmp)
		return fmt.Errorf("sftp: close %s: %w", tmp, err)
	}
	// PosixRename replaces an existing file where the server supports it
	if err := client.PosixRename(tmp, remote); err != nil {
		if err := client.Rename(tmp, remote); err != nil {
			_ = client.Remove(tmp)
			return fmt.Errorf("sftp: rename %s: %w", name, err)
		}
	}
	return nil
}

// Close is a no-op, sessions are closed after every upload
func (t *SFTPTarget) Close() error { return nil }

func (t *SFTPTarget) hostKeyCallback() ssh.HostKeyCallback {
	if t.config.KnownHostsFile != "" {
		if cb, err := knownhosts.New(t.config.KnownHostsFile); err == nil {
			return cb
		}
	}
	t.log.Warn("known_hosts not available, host key not verified",
		logger.String("known_hosts", t.config.KnownHostsFile))
	return ssh.InsecureIgnoreHostKey() //nolint:gosec // G106: no known_hosts on the node
}

// connect dials SSH honoring ctx and opens an SFTP session. The returned
// close function is safe to call more than once.
func (t *SFTPTarget) connect(ctx context.Context) (*sftp.Client, func(), error) {
	addr := net.JoinHostPort(t.config.Host, fmt.Sprint(t.config.Port))
	dialer := net.Dialer{Timeout: t.config.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("sftp: connection failed: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(raw, addr, &ssh.ClientConfig{
		User:            t.config.Username,
		Auth:            t.auth,
		HostKeyCallback: t.hostKeyCallback(),
		Timeout:         t.config.Timeout,
	})
	if err != nil {
		_ = raw.Close()
		return nil, nil, fmt.Errorf("sftp: ssh handshake: %w", err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, fmt.Errorf("sftp: failed to create client: %w", err)
	}

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			_ = client.Close()
			_ = sshClient.Close()
		})
	}
	return client, closeFn, nil
}
