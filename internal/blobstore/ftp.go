package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

const ftpTempPrefix = "ftp-upload-"

// FTPConfig holds configuration for the FTP backend
type FTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	BasePath   string
	Timeout    time.Duration
	MaxConns   int
	MaxRetries int
}

// FTPStore stores blobs on an FTP server through a small connection pool
type FTPStore struct {
	config   FTPConfig
	retry    RetryConfig
	log      logger.Logger
	connPool chan *ftp.ServerConn
}

// NewFTP validates config and applies defaults. Connections are opened lazily.
func NewFTP(config *FTPConfig) (*FTPStore, error) {
	if config.Host == "" {
		return nil, errors.Newf("ftp: host is required").
			Component("blobstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	cfg := *config
	if cfg.Port == 0 {
		cfg.Port = DefaultFTPPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")

	retry := DefaultRetryConfig("ftp")
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}

	return &FTPStore{
		config:   cfg,
		retry:    retry,
		log:      GetLogger().Module("ftp"),
		connPool: make(chan *ftp.ServerConn, cfg.MaxConns),
	}, nil
}

// Name returns the backend name
func (s *FTPStore) Name() string {
	return "ftp"
}

// getConnection takes a live connection from the pool or dials a new one
func (s *FTPStore) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-s.connPool:
		if conn.NoOp() == nil {
			return conn, nil
		}
		_ = conn.Quit()
	default:
	}
	return s.connect(ctx)
}

// returnConnection pools conn, closing it when the pool is full
func (s *FTPStore) returnConnection(conn *ftp.ServerConn) {
	select {
	case s.connPool <- conn:
	default:
		if err := conn.Quit(); err != nil {
			s.log.Debug("failed to close FTP connection", logger.Error(err))
		}
	}
}

func (s *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	type connResult struct {
		conn *ftp.ServerConn
		err  error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
		conn, err := ftp.Dial(addr, ftp.DialWithTimeout(s.config.Timeout), ftp.DialWithContext(ctx))
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("ftp: connection failed: %w", err)}
			return
		}
		if s.config.Username != "" {
			if err := conn.Login(s.config.Username, s.config.Password); err != nil {
				_ = conn.Quit()
				resultChan <- connResult{nil, fmt.Errorf("ftp: login failed: %w", err)}
				return
			}
		}
		resultChan <- connResult{conn, nil}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if result := <-resultChan; result.conn != nil {
				_ = result.conn.Quit()
			}
		}()
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.conn, result.err
	}
}

// withConn runs op on a pooled connection; a connection that failed is discarded
func (s *FTPStore) withConn(ctx context.Context, op func(*ftp.ServerConn) error) error {
	return WithRetry(ctx, s.retry, func() error {
		conn, err := s.getConnection(ctx)
		if err != nil {
			return err
		}
		if err := op(conn); err != nil {
			_ = conn.Quit()
			return err
		}
		s.returnConnection(conn)
		return nil
	})
}

func (s *FTPStore) remotePath(key string) (string, string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return cleaned, path.Join(s.config.BasePath, cleaned), nil
}

// makeDirs creates every missing directory along dir
func (s *FTPStore) makeDirs(conn *ftp.ServerConn, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for part := range strings.SplitSeq(strings.Trim(dir, "/"), "/") {
		current = path.Join(current, part)
		if err := conn.MakeDir(current); err != nil {
			errStr := strings.ToLower(err.Error())
			if strings.Contains(errStr, "exists") || strings.Contains(errStr, "550") {
				continue
			}
			return fmt.Errorf("ftp: failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

// List walks the remote tree below prefix
func (s *FTPStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	walkRoot := s.config.BasePath
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		walkRoot = path.Join(s.config.BasePath, prefix[:i])
	}
	if walkRoot == "" {
		walkRoot = "."
	}

	var keys []string
	err := s.withConn(ctx, func(conn *ftp.ServerConn) error {
		keys = keys[:0]
		walker := conn.Walk(walkRoot)
		for walker.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			entry := walker.Stat()
			if entry == nil || entry.Type != ftp.EntryTypeFile || strings.HasPrefix(entry.Name, ftpTempPrefix) {
				continue
			}
			key := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), s.config.BasePath), "/")
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		// a missing prefix directory lists as empty
		if err := walker.Err(); err != nil && !strings.Contains(err.Error(), "550") {
			return err
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
func (s *FTPStore) Upload(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath) //nolint:gosec // caller supplied source path
	if err != nil {
		return storageError(err, s.Name(), "upload", key)
	}
	return s.Put(ctx, key, bytes.NewReader(data))
}

// Put uploads to a temporary name and renames it over key
func (s *FTPStore) Put(ctx context.Context, key string, r io.Reader) error {
	cleaned, remote, err := s.remotePath(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return storageError(err, s.Name(), "put", cleaned)
	}

	err = s.withConn(ctx, func(conn *ftp.ServerConn) error {
		if err := s.makeDirs(conn, path.Dir(remote)); err != nil {
			return err
		}
		tempName := path.Join(path.Dir(remote), fmt.Sprintf("%s%d-%d", ftpTempPrefix, time.Now().UnixNano(), os.Getpid()))
		if err := conn.Stor(tempName, bytes.NewReader(data)); err != nil {
			_ = conn.Delete(tempName)
			return fmt.Errorf("ftp: upload failed: %w", err)
		}
		if err := conn.Rename(tempName, remote); err != nil {
			_ = conn.Delete(tempName)
			return fmt.Errorf("ftp: failed to rename temporary file: %w", err)
		}
		return nil
	})
	return storageError(err, s.Name(), "put", cleaned)
}

// Download retrieves key
func (s *FTPStore) Download(ctx context.Context, key string) ([]byte, error) {
	cleaned, remote, err := s.remotePath(key)
	if err != nil {
		return nil, err
	}

	var data []byte
	missing := false
	err = s.withConn(ctx, func(conn *ftp.ServerConn) error {
		resp, err := conn.Retr(remote)
		if err != nil {
			if strings.Contains(err.Error(), "550") {
				missing = true
				return nil
			}
			return err
		}
		defer func() { _ = resp.Close() }()
		data, err = io.ReadAll(resp)
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
func (s *FTPStore) Delete(ctx context.Context, key string) error {
	cleaned, remote, err := s.remotePath(key)
	if err != nil {
		return err
	}
	err = s.withConn(ctx, func(conn *ftp.ServerConn) error {
		if err := conn.Delete(remote); err != nil && !strings.Contains(err.Error(), "550") {
			return err
		}
		return nil
	})
	return storageError(err, s.Name(), "delete", cleaned)
}

// Close quits every pooled connection
func (s *FTPStore) Close() error {
	var lastErr error
	for {
		select {
		case conn := <-s.connPool:
			if err := conn.Quit(); err != nil {
				lastErr = err
			}
		default:
			return lastErr
		}
	}
}
