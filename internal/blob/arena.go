// Package blob provides a content-addressed arena for photo payloads.
//
// The pending store keeps only sha256 references in its rows; the bytes live
// here, so list and count queries never touch multi-megabyte payloads.
// Identical content is stored once.
package blob

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
)

// Arena stores blobs by their content hash under a base directory.
type Arena struct {
	baseDir string
}

// NewArena creates an Arena rooted at baseDir.
func NewArena(baseDir string) (*Arena, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBlob, "create blob directory", err)
	}
	return &Arena{baseDir: baseDir}, nil
}

// Ref calculates the content reference (sha256 hex) for data.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store writes data and returns its content reference. Writing is atomic:
// a crash mid-write cannot leave a torn blob behind a committed queue row.
// Storing identical content twice is a no-op returning the same reference.
func (a *Arena) Store(data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperrors.New(apperrors.ErrBlob, "refusing to store empty blob")
	}

	ref := Ref(data)
	path, err := a.path(ref)
	if err != nil {
		return "", err
	}

	// Two-level fan-out: baseDir/{ref[0:2]}/{ref[2:4]}/{ref}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", apperrors.Wrap(apperrors.ErrBlob, "create blob subdirectory", err)
	}

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", apperrors.Wrap(apperrors.ErrBlob, "write blob", err)
	}

	return ref, nil
}

// Load reads the blob for a reference.
func (a *Arena) Load(ref string) ([]byte, error) {
	path, err := a.path(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "blob %s not found", ref)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBlob, "read blob", err)
	}
	return data, nil
}

// Delete removes the blob for a reference. Deleting a missing blob is not an
// error; completion cleanup and user deletion may race benignly.
func (a *Arena) Delete(ref string) error {
	path, err := a.path(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrBlob, "delete blob", err)
	}
	return nil
}

// Exists reports whether a reference resolves to stored bytes.
func (a *Arena) Exists(ref string) bool {
	path, err := a.path(ref)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(path)
	return statErr == nil
}

func (a *Arena) path(ref string) (string, error) {
	if len(ref) != 64 {
		return "", fmt.Errorf("invalid blob reference %q", ref)
	}
	return filepath.Join(a.baseDir, ref[0:2], ref[2:4], ref), nil
}
