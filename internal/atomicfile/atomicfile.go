// Package atomicfile is the one way anything in this repo is allowed to
// touch the filesystem's shared state: write-temp-then-rename, 0600
// file permissions, 0700 directories. Every cache, lock, and record
// described in spec.md §3 is read and written exclusively through this
// package so that concurrent readers never observe a torn write.
package atomicfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// WriteAtomic ensures path's parent directory exists, writes data to a
// pid-scoped temp file alongside path, then renames it onto path. On
// any failure it removes the temp file and returns a wrapped error; it
// never panics and never leaves a torn file behind.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("atomicfile: mkdir %s: %w", dir, err)
	}

	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomicfile: write temp %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomicfile: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// WriteJSON marshals v and writes it atomically to path.
func WriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("atomicfile: marshal %s: %w", path, err)
	}
	return WriteAtomic(path, data)
}

// ReadOrDefault returns the parsed contents of path, or a copy of
// fallback if the file is absent or fails to parse. Parse errors are
// never propagated to the caller: a corrupt cache file degrades to
// empty state rather than aborting the gather.
func ReadOrDefault[T any](path string, fallback T) T {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fallback
	}
	return v
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ErrNotExist is returned by helpers that distinguish "absent" from
// other I/O failures where the caller needs to tell the two apart.
var ErrNotExist = os.ErrNotExist

// IsNotExist reports whether err wraps os.ErrNotExist.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
