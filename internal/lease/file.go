package lease

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// FileLease is a cross-process lease backed by an advisory file lock next
// to the index directory. The operating system drops it when the holder
// exits, so a crashed writer never leaves the index locked.
type FileLease struct {
	mu     sync.Mutex
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLease returns a lease for the index at indexPath.
// The lock file is <indexPath>.lock.
func NewFileLease(indexPath string) *FileLease {
	lockPath := indexPath + ".lock"
	return &FileLease{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Acquire takes the lock without blocking.
func (l *FileLease) Acquire(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return nil
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "create lock directory", err).WithDetail("path", dir)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return amerrors.New(amerrors.ErrCodeIndexLocked, "acquire file lock", err).WithDetail("path", l.path)
	}
	if !acquired {
		return amerrors.New(amerrors.ErrCodeIndexLocked, ErrLocked.Message, nil).
			WithDetail("path", l.path).
			WithSuggestion("stop the other writer or wait for it to exit")
	}

	l.locked = true
	return nil
}

// Check reports whether this process still holds the lock.
func (l *FileLease) Check(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return ErrLost
	}
	return nil
}

// Release unlocks the file. It is safe to call more than once.
func (l *FileLease) Release(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return amerrors.New(amerrors.ErrCodeIndexLocked, "release file lock", err).WithDetail("path", l.path)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLease) Path() string {
	return l.path
}
