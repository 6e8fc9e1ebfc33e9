package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Everything the client keeps on disk is private to the user.
const (
	privateDirMode  os.FileMode = 0o700
	privateFileMode os.FileMode = 0o600
)

// loadPrivate returns the contents of path, or (nil, false, nil) if it does
// not exist yet.
func loadPrivate(path string) ([]byte, bool, error) {
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("store: read %s: %w", path, err)
	}
	return b, true, nil
}

// loadPrivateJSON decodes path into out. out is left untouched when the file
// is missing.
func loadPrivateJSON(path string, out any) error {
	b, ok, err := loadPrivate(path)
	if err != nil || !ok {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("store: decode %s: %w", path, err)
	}
	return nil
}

func savePrivateJSON(dir, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return savePrivate(dir, name, b)
}

// savePrivate replaces dir/name with b. The data is synced before the rename
// and the directory after it, so a crash leaves either the old file or the
// new one.
func savePrivate(dir, name string, b []byte) error {
	if err := os.MkdirAll(dir, privateDirMode); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if err := writeSynced(f, b); err != nil {
		_ = f.Close()
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		return err
	}
	return syncDir(dir)
}

func writeSynced(f *os.File, b []byte) error {
	if err := f.Chmod(privateFileMode); err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		return err
	}
	return f.Sync()
}

// syncDir flushes the directory entry of a rename. Platforms that cannot
// fsync a directory report an error here; that is ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	_ = d.Sync()
	return d.Close()
}
