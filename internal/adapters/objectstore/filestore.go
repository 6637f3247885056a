// Package objectstore keeps uploaded audio objects on the local filesystem.
// Writes go to a temp file that is fsynced and renamed into place, so readers
// never see a partial object.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/roastboard/pkg/metrics"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
	typeExt  = ".type"
	tmpExt   = ".tmp"
)

// FileStore stores objects under a root directory. Keys are slash separated
// relative paths such as "2026-10-14/<id>.webm".
type FileStore struct {
	root string
}

// PutResult describes a stored object.
type PutResult struct {
	Key      string
	Size     int64
	Checksum string // sha256, hex
}

// Object is an open stored object. The caller closes Body.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create object root %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the root directory.
func (fs *FileStore) Root() string { return fs.root }

// Put writes r under key. More than maxBytes of body fails with ErrTooLarge
// and leaves no object behind; an empty body fails with ErrEmptyObject.
func (fs *FileStore) Put(ctx context.Context, key, contentType string, r io.Reader, maxBytes int64) (PutResult, error) {
	full, err := fs.path(key)
	if err != nil {
		return PutResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), dirPerm); err != nil {
		return PutResult{}, fmt.Errorf("create object dir: %w", err)
	}

	tmp := full + "." + uuid.NewString()[:8] + tmpExt
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return PutResult{}, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	hasher := sha256.New()
	// One extra byte tells an exact fit from an oversized body.
	size, err := io.Copy(io.MultiWriter(f, hasher), io.LimitReader(r, maxBytes+1))
	if err != nil {
		cleanup()
		return PutResult{}, fmt.Errorf("write object: %w", err)
	}
	if size > maxBytes {
		cleanup()
		return PutResult{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	if size == 0 {
		cleanup()
		return PutResult{}, ErrEmptyObject
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return PutResult{}, fmt.Errorf("fsync object: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return PutResult{}, fmt.Errorf("close object: %w", err)
	}
	if err := os.WriteFile(full+typeExt, []byte(contentType), filePerm); err != nil {
		_ = os.Remove(tmp)
		return PutResult{}, fmt.Errorf("write content type: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return PutResult{}, fmt.Errorf("rename object: %w", err)
	}

	metrics.RecordObjectStored(size)
	return PutResult{Key: key, Size: size, Checksum: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// Get opens the object at key.
func (fs *FileStore) Get(ctx context.Context, key string) (Object, error) {
	full, err := fs.path(key)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return Object{}, fmt.Errorf("open object %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Object{}, fmt.Errorf("stat object %s: %w", key, err)
	}
	contentType := "application/octet-stream"
	if b, err := os.ReadFile(full + typeExt); err == nil && len(b) > 0 {
		contentType = string(b)
	}
	return Object{Key: key, ContentType: contentType, Size: info.Size(), Body: f}, nil
}

// ReadAll returns the full contents of the object at key.
func (fs *FileStore) ReadAll(ctx context.Context, key string) ([]byte, error) {
	obj, err := fs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether an object is stored at key.
func (fs *FileStore) Exists(_ context.Context, key string) (bool, error) {
	full, err := fs.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
}

// Delete removes the object at key. Deleting a missing object is not an error.
func (fs *FileStore) Delete(_ context.Context, key string) error {
	full, err := fs.path(key)
	if err != nil {
		return err
	}
	for _, p := range []string{full, full + typeExt} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete object %s: %w", key, err)
		}
	}
	return nil
}

// path maps key to a file under root, rejecting anything that could escape it.
func (fs *FileStore) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean != key || clean == "." || strings.HasPrefix(clean, "../") || clean == ".." ||
		strings.HasSuffix(clean, typeExt) || strings.HasSuffix(clean, tmpExt) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.root, filepath.FromSlash(clean)), nil
}
