// Package entropy provides the secure random sources used for key and nonce
// generation.
//
// Unlike a best-effort reader, a failing source is never replaced by another
// one: callers get ErrUnavailable and must abort.
package entropy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"relaychat/internal/log"
)

// ErrUnavailable reports that the configured random source could not deliver
// the requested bytes.
var ErrUnavailable = errors.New("secure random source unavailable")

// ErrNotDevice is returned by Source for paths that are not character
// devices.
var ErrNotDevice = errors.New("entropy: source must be a character device")

// GetRandom reads exactly n bytes from source, or from crypto/rand when source
// is nil.
func GetRandom(source io.Reader, n uint32) ([]byte, error) {
	if source == nil {
		source = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(source, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return b, nil
}

// FileReader reads random bytes sequentially from one open file, for instance
// a hardware RNG character device. Bytes are never handed out twice: once the
// file runs dry every Read fails with ErrUnavailable.
type FileReader struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenFile opens filePath for reading random bytes.
func OpenFile(filePath string) (*FileReader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open %s: %v", ErrUnavailable, filePath, err)
	}
	return &FileReader{path: filePath, file: file}, nil
}

// Read fills p completely or fails.
func (r *FileReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return 0, fmt.Errorf("%w: %s is closed", ErrUnavailable, r.path)
	}
	n, err := io.ReadFull(r.file, p)
	if err != nil {
		return n, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, r.path, err)
	}
	return n, nil
}

// Close releases the file. Later reads fail.
func (r *FileReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Source returns crypto/rand when sourcePath is empty, otherwise a FileReader
// over the character device at sourcePath. Regular files are refused: their
// contents would be replayed on every run.
func Source(sourcePath string, logger log.Logger) (io.Reader, error) {
	if sourcePath == "" {
		return rand.Reader, nil
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("entropy: cannot access source: %w", err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotDevice, sourcePath)
	}
	r, err := OpenFile(sourcePath)
	if err != nil {
		return nil, err
	}
	logger.Infow("Using device for entropy source", "source", sourcePath)
	return r, nil
}
