// Package instance makes sure only one saver runs per user.
package instance

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another instance of fancysaver is already running")

// Lock is a held single-instance lock.
type Lock struct {
	file *os.File
	path string
}

// DefaultPath is fancysaver.lock in $XDG_RUNTIME_DIR, or a per-user file in
// the temp directory.
func DefaultPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "fancysaver.lock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("fancysaver-%d.lock", os.Getuid()))
}

// Acquire takes an exclusive non-blocking flock on path. An empty path uses
// DefaultPath.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = DefaultPath()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open lock file")
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrAlreadyRunning
		}
		return nil, errors.Wrap(err, "failed to lock instance file")
	}

	if err := file.Truncate(0); err == nil {
		fmt.Fprintf(file, "%d\n", os.Getpid())
	}

	return &Lock{file: file, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock. The file is left in place.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return errors.Wrap(err, "failed to close lock file")
}

// CheckUserPermissions refuses to run as root.
func CheckUserPermissions() error {
	if os.Geteuid() == 0 {
		return errors.New("fancysaver should not be run as root")
	}
	return nil
}
