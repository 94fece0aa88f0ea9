// Package blobstore stores image blobs and derived artifacts behind one small interface
// with local filesystem, SFTP and FTP backends.
package blobstore

import (
	"context"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/observability/metrics"
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the blobstore package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("blobstore")
	})
	return pkgLogger
}

// Store is a flat key/blob namespace. Keys use forward slashes regardless of backend.
type Store interface {
	// List returns every key under prefix, sorted lexicographically
	List(ctx context.Context, prefix string) ([]string, error)
	// Upload copies a local file to key
	Upload(ctx context.Context, localPath, key string) error
	// Put writes the reader's content to key
	Put(ctx context.Context, key string, r io.Reader) error
	// Download returns the content stored at key
	Download(ctx context.Context, key string) ([]byte, error)
	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
	// Name identifies the backend in logs and metrics
	Name() string
}

// New builds the backend selected by settings
func New(settings *conf.StorageSettings) (Store, error) {
	switch settings.Backend {
	case conf.BackendLocal, "":
		return NewLocal(settings.Local.Path)
	case conf.BackendSFTP:
		return NewSFTP(&SFTPConfig{
			Host:           settings.SFTP.Host,
			Port:           settings.SFTP.Port,
			Username:       settings.SFTP.Username,
			Password:       settings.SFTP.Password,
			KeyFile:        settings.SFTP.KeyFile,
			KnownHostsFile: settings.SFTP.KnownHostsFile,
			BasePath:       settings.SFTP.BasePath,
			Timeout:        settings.SFTP.Timeout,
			MaxRetries:     settings.MaxRetries,
		})
	case conf.BackendFTP:
		return NewFTP(&FTPConfig{
			Host:       settings.FTP.Host,
			Port:       settings.FTP.Port,
			Username:   settings.FTP.Username,
			Password:   settings.FTP.Password,
			BasePath:   settings.FTP.BasePath,
			Timeout:    settings.FTP.Timeout,
			MaxConns:   settings.FTP.MaxConnections,
			MaxRetries: settings.MaxRetries,
		})
	default:
		return nil, errors.Newf("unknown blob storage backend %q", settings.Backend).
			Component("blobstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// CleanKey normalises a key to a slash separated relative path. Keys escaping the root are rejected.
func CleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", errors.Newf("empty blob key").
			Component("blobstore").
			Category(errors.CategoryValidation).
			Context("key", key).
			Build()
	}
	if strings.Contains(key, "..") && cleaned != strings.TrimPrefix(key, "/") {
		return "", errors.Newf("blob key %q escapes the store root", key).
			Component("blobstore").
			Category(errors.CategoryValidation).
			Build()
	}
	return cleaned, nil
}

// Join builds a key from parts
func Join(parts ...string) string {
	return strings.TrimPrefix(path.Join(parts...), "/")
}

// instrumented records operation outcomes and durations for any backend
type instrumented struct {
	Store
	rec metrics.Recorder
}

// WithMetrics wraps s so every call is recorded as "blob_<op>" on rec
func WithMetrics(s Store, rec metrics.Recorder) Store {
	if rec == nil {
		return s
	}
	return &instrumented{Store: s, rec: rec}
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	op = "blob_" + op
	s.rec.RecordDuration(op, time.Since(start).Seconds())
	if err != nil {
		s.rec.RecordOperation(op, "error")
		s.rec.RecordError(op, string(errors.CategoryOf(err)))
		return
	}
	s.rec.RecordOperation(op, "success")
}

func (s *instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := s.Store.List(ctx, prefix)
	s.observe("list", start, err)
	return keys, err
}

func (s *instrumented) Upload(ctx context.Context, localPath, key string) error {
	start := time.Now()
	err := s.Store.Upload(ctx, localPath, key)
	s.observe("upload", start, err)
	return err
}

func (s *instrumented) Put(ctx context.Context, key string, r io.Reader) error {
	start := time.Now()
	err := s.Store.Put(ctx, key, r)
	s.observe("put", start, err)
	return err
}

func (s *instrumented) Download(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.Store.Download(ctx, key)
	s.observe("download", start, err)
	return data, err
}

func (s *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Store.Delete(ctx, key)
	s.observe("delete", start, err)
	return err
}

// storageError wraps a backend failure with the blob storage category
func storageError(err error, backend, op, key string) error {
	if err == nil {
		return nil
	}
	return errors.New(err).
		Component("blobstore").
		Category(errors.CategoryStorage).
		Context("backend", backend).
		Op(op).
		Context("key", key).
		Build()
}

// notFoundError reports a missing key
func notFoundError(backend, key string) error {
	return errors.Newf("blob %q not found", key).
		Component("blobstore").
		Category(errors.CategoryNotFound).
		Context("backend", backend).
		Build()
}
