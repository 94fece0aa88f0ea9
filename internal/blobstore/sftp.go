package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

// SFTPConfig holds configuration for the SFTP backend
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string // empty accepts any host key
	BasePath       string
	Timeout        time.Duration
	MaxRetries     int
}

// SFTPStore stores blobs on an SSH server. Each call opens its own connection.
type SFTPStore struct {
	config SFTPConfig
	retry  RetryConfig
	log    logger.Logger
}

// NewSFTP validates config and applies defaults
func NewSFTP(config *SFTPConfig) (*SFTPStore, error) {
	if config.Host == "" {
		return nil, errors.Newf("sftp: host is required").
			Component("blobstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	cfg := *config
	if cfg.Port == 0 {
		cfg.Port = DefaultSSHPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")

	retry := DefaultRetryConfig("sftp")
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}

	return &SFTPStore{
		config: cfg,
		retry:  retry,
		log:    GetLogger().Module("sftp"),
	}, nil
}

// Name returns the backend name
func (s *SFTPStore) Name() string {
	return "sftp"
}

func (s *SFTPStore) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            s.config.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // opt-in via empty known hosts file
		Timeout:         s.config.Timeout,
	}
	if s.config.KnownHostsFile != "" {
		callback, err := knownhosts.New(s.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read known hosts: %w", err)
		}
		config.HostKeyCallback = callback
	}

	switch {
	case s.config.KeyFile != "":
		key, err := os.ReadFile(s.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case s.config.Password != "":
		config.Auth = []ssh.AuthMethod{ssh.Password(s.config.Password)}
	default:
		return nil, fmt.Errorf("sftp: no authentication method provided")
	}
	return config, nil
}

// connect establishes an SFTP connection, giving up when ctx is done
func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		config, err := s.clientConfig()
		if err != nil {
			resultChan <- connResult{nil, err}
			return
		}

		addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{client, nil}
	}()

	select {
	case <-ctx.Done():
		// close the client if the dial completes after we stop waiting
		go func() {
			if result := <-resultChan; result.client != nil {
				_ = result.client.Close()
			}
		}()
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.client, result.err
	}
}

func (s *SFTPStore) remotePath(key string) (string, string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return cleaned, path.Join(s.config.BasePath, cleaned), nil
}

// withClient runs op on a fresh connection with retries on transient failures
func (s *SFTPStore) withClient(ctx context.Context, op func(*sftp.Client) error) error {
	return WithRetry(ctx, s.retry, func() error {
		client, err := s.connect(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		return op(client)
	})
}

// List walks the remote directory tree below prefix
func (s *SFTPStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	walkRoot := s.config.BasePath
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		walkRoot = path.Join(s.config.BasePath, prefix[:i])
	}
	if walkRoot == "" {
		walkRoot = "."
	}

	var keys []string
	err := s.withClient(ctx, func(client *sftp.Client) error {
		keys = keys[:0]
		walker := client.Walk(walkRoot)
		for walker.Step() {
			if err := walker.Err(); err != nil {
				if errors.Is(err, fs.ErrNotExist) || strings.Contains(err.Error(), "no such file") {
					continue
				}
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if walker.Stat().IsDir() {
				continue
			}
			key := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), s.config.BasePath), "/")
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err, s.Name(), "list", prefix)
	}

	slices.Sort(keys)
	return keys, nil
}

// Upload copies a local file to key
func (s *SFTPStore) Upload(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath) //nolint:gosec // caller supplied source path
	if err != nil {
		return storageError(err, s.Name(), "upload", key)
	}
	return s.Put(ctx, key, bytes.NewReader(data))
}

// Put writes to a temporary remote file and renames it over key
func (s *SFTPStore) Put(ctx context.Context, key string, r io.Reader) error {
	cleaned, remote, err := s.remotePath(key)
	if err != nil {
		return err
	}
	// buffer so the body can be replayed on retry
	data, err := io.ReadAll(r)
	if err != nil {
		return storageError(err, s.Name(), "put", cleaned)
	}

	err = s.withClient(ctx, func(client *sftp.Client) error {
		if err := client.MkdirAll(path.Dir(remote)); err != nil {
			return fmt.Errorf("sftp: failed to create directory %s: %w", path.Dir(remote), err)
		}
		tempPath := fmt.Sprintf("%s.tmp-%d", remote, time.Now().UnixNano())
		dst, err := client.Create(tempPath)
		if err != nil {
			return fmt.Errorf("sftp: failed to create file: %w", err)
		}
		if _, err := dst.Write(data); err != nil {
			_ = dst.Close()
			_ = client.Remove(tempPath)
			return fmt.Errorf("sftp: failed to write file: %w", err)
		}
		if err := dst.Close(); err != nil {
			_ = client.Remove(tempPath)
			return fmt.Errorf("sftp: failed to close file: %w", err)
		}
		if err := client.PosixRename(tempPath, remote); err != nil {
			_ = client.Remove(tempPath)
			return fmt.Errorf("sftp: failed to rename file: %w", err)
		}
		return nil
	})
	if err != nil {
		return storageError(err, s.Name(), "put", cleaned)
	}
	s.log.Debug("stored blob", logger.String("key", cleaned), logger.Int("bytes", len(data)))
	return nil
}

// Download reads key
func (s *SFTPStore) Download(ctx context.Context, key string) ([]byte, error) {
	cleaned, remote, err := s.remotePath(key)
	if err != nil {
		return nil, err
	}

	var data []byte
	missing := false
	err = s.withClient(ctx, func(client *sftp.Client) error {
		f, err := client.Open(remote)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				missing = true
				return nil
			}
			return err
		}
		defer func() { _ = f.Close() }()
		data, err = io.ReadAll(f)
		return err
	})
	if err != nil {
		return nil, storageError(err, s.Name(), "download", cleaned)
	}
	if missing {
		return nil, notFoundError(s.Name(), cleaned)
	}
	return data, nil
}

// Delete removes key
func (s *SFTPStore) Delete(ctx context.Context, key string) error {
	cleaned, remote, err := s.remotePath(key)
	if err != nil {
		return err
	}
	err = s.withClient(ctx, func(client *sftp.Client) error {
		if err := client.Remove(remote); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
	return storageError(err, s.Name(), "delete", cleaned)
}
