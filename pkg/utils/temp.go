package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// TempFile is a scoped temporary file. Release removes it and is safe to call
// more than once, so callers can defer it right after acquisition.
type TempFile struct {
	Path string
}

// WriteTempFile writes data to a new file in dir (os.TempDir when empty)
// named with a random id and the given extension.
func WriteTempFile(dir, ext string, data []byte) (*TempFile, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := MakeDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	path := filepath.Join(dir, "tartil-"+uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0600); err != nil {
		_ = DeleteFile(path)
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	return &TempFile{Path: path}, nil
}

// TempPath returns a fresh path in dir without creating the file. Pair it with
// a deferred DeleteFile.
func TempPath(dir, ext string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tartil-"+uuid.NewString()+ext)
}

// Release removes the file.
func (f *TempFile) Release() error {
	if f == nil || f.Path == "" {
		return nil
	}
	return DeleteFile(f.Path)
}
