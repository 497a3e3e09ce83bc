// Package indirect implements the write-to-temporary,
// link-to-final pattern: the final filepath is never visible in a
// partially-written state — either it is missing, the previous
// version, or fully-verified new contents.
package indirect

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// File is a context-manager-like handle to an indirectly-opened file.
// Open returns one with its temporary file already created; callers
// must call Close exactly once, passing the error (if any) that
// occurred while writing, so Close knows whether to publish or discard
// the temporary file.
type File struct {
	*os.File
	finalPath string
	tmpPath   string
}

// Open creates a temporary file adjacent to finalPath (so the eventual
// hardlink is same-filesystem) and returns a handle to it.
func Open(finalPath string) (*File, error) {
	if norm := filepath.Clean(finalPath); norm != finalPath {
		return nil, fmt.Errorf("indirect: filepath %q is not normalized (expected %q)", finalPath, norm)
	}
	tmpPath := filepath.Join(filepath.Dir(finalPath), fmt.Sprintf(".blobfetch-%s", uuid.New().String()))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("indirect: creating temp file: %w", err)
	}
	return &File{File: f, finalPath: finalPath, tmpPath: tmpPath}, nil
}

// Close finishes the indirect-open: if writeErr is nil, any existing
// file at finalPath is removed and the temp file is hard-linked into
// place; in every case the temp file is removed. A non-nil writeErr is
// returned unchanged and nothing is published.
func (f *File) Close(writeErr error) error {
	closeErr := f.File.Close()
	defer os.Remove(f.tmpPath)

	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return fmt.Errorf("indirect: closing temp file: %w", closeErr)
	}
	if _, err := os.Stat(f.finalPath); err == nil {
		if err := os.Remove(f.finalPath); err != nil {
			return fmt.Errorf("indirect: removing existing file: %w", err)
		}
	}
	if err := os.Link(f.tmpPath, f.finalPath); err != nil {
		return fmt.Errorf("indirect: linking temp file into place: %w", err)
	}
	return nil
}
