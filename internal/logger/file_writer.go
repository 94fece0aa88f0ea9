package logger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	fileWriterBufferSize = 32 * 1024
	logFilePermissions   = 0o600
	logDirPermissions    = 0o700
)

// bufferedFileWriter is an append-only log file behind a mutex-guarded bufio.Writer
type bufferedFileWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

func newBufferedFileWriter(path string) (*bufferedFileWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, logDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return &bufferedFileWriter{
		file: f,
		buf:  bufio.NewWriterSize(f, fileWriterBufferSize),
	}, nil
}

func (w *bufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, os.ErrClosed
	}
	return w.buf.Write(p)
}

// Flush pushes buffered records to the OS without fsync
func (w *bufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.buf.Flush()
}

// Close flushes, syncs and closes the file
func (w *bufferedFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return flushErr
	}
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
