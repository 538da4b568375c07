// Package storage persists uploaded document blobs on local disk.
//
// Blobs are content-addressed by document ID under a single root directory.
// Writes go through a temp file plus rename so readers never observe partial
// content, and a file lock serializes concurrent writes to the same blob.
// All paths handed back out of this package are validated against the root
// to prevent path traversal (CWE-22).
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/askdoc/askdoc/internal/log"
)

var (
	// ErrOutsideRoot indicates a path that escapes the storage root.
	ErrOutsideRoot = errors.New("path outside storage root")

	// ErrLockTimeout indicates the blob write lock could not be acquired.
	ErrLockTimeout = errors.New("blob lock timeout")
)

// lockRetryDelay is the polling interval while waiting for a blob lock.
const lockRetryDelay = 50 * time.Millisecond

// SaveResult describes a persisted blob.
type SaveResult struct {
	Path   string // absolute path within the storage root
	SHA256 string // hex-encoded content hash
	Size   int64  // bytes written
}

// Store is a disk-backed blob store rooted at a single directory.
type Store struct {
	root   string
	logger log.Logger
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, logger log.Logger) (*Store, error) {
	absRoot, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}

	return &Store{
		root:   absRoot,
		logger: logger.With("component", "storage"),
	}, nil
}

// Root returns the absolute storage root directory.
func (s *Store) Root() string {
	return s.root
}

// Save writes the blob for id from r, returning its path, content hash, and
// size. The write is atomic: content lands in a temp file and is renamed into
// place. A flock on the destination serializes concurrent saves of the same id.
func (s *Store) Save(ctx context.Context, id uuid.UUID, r io.Reader) (SaveResult, error) {
	dest, err := s.blobPath(id)
	if err != nil {
		return SaveResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return SaveResult{}, fmt.Errorf("creating blob directory: %w", err)
	}

	lock := flock.New(dest + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return SaveResult{}, fmt.Errorf("acquiring blob lock: %w", err)
	}
	if !locked {
		return SaveResult{}, ErrLockTimeout
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("failed to release blob lock", "path", dest, "error", err)
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return SaveResult{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		return SaveResult{}, fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return SaveResult{}, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return SaveResult{}, fmt.Errorf("finalizing blob: %w", err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	s.logger.Debug("blob saved", "id", id, "size", size, "sha256", sum)

	return SaveResult{Path: dest, SHA256: sum, Size: size}, nil
}

// Open opens a previously saved blob for reading.
// path must resolve inside the storage root.
func (s *Store) Open(path string) (io.ReadCloser, error) {
	safe, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(safe)
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// Remove deletes a blob. Missing files are not an error; deletion is
// best-effort during document cleanup.
func (s *Store) Remove(path string) error {
	safe, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(safe); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob: %w", err)
	}
	os.Remove(safe + ".lock")
	return nil
}

// blobPath returns the destination path for a document id, sharded by the
// first two hex characters to keep directories small.
func (s *Store) blobPath(id uuid.UUID) (string, error) {
	name := id.String()
	return s.resolve(filepath.Join(s.root, name[:2], name))
}

// resolve validates and sanitizes a path, returning a safe absolute path
// inside the storage root. Symlinks are resolved so a link cannot smuggle
// reads or writes outside the root.
func (s *Store) resolve(path string) (string, error) {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	rootNorm := s.root + string(filepath.Separator)
	if absPath != s.root && !strings.HasPrefix(absPath+string(filepath.Separator), rootNorm) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, absPath)
	}

	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Nonexistent targets are fine when creating new blobs
		if os.IsNotExist(err) {
			return absPath, nil
		}
		return "", fmt.Errorf("resolving symlink: %w", err)
	}

	if realPath != absPath {
		if realPath != s.root && !strings.HasPrefix(realPath+string(filepath.Separator), rootNorm) {
			return "", fmt.Errorf("%w: symlink target %s", ErrOutsideRoot, realPath)
		}
		absPath = realPath
	}

	return absPath, nil
}
