// Package secureio implements the filesystem primitives the rest of the
// tree builds on: ownership/permission-checked file opens, advisory
// locking, and race-free temporary directory creation.
package secureio

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// SecureOpen opens path read-only after verifying it is owned by root,
// not world-writable, and not group-writable unless its group is root
// (gid 0). Any other combination fails with a permission error.
func SecureOpen(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := checkOwnership(fi); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func checkOwnership(fi os.FileInfo) error {
	st, ok := fi.Sys().(*unix.Stat_t)
	if !ok {
		return fmt.Errorf("secureio: cannot determine ownership")
	}
	if st.Uid != 0 {
		return fmt.Errorf("secureio: %s is not owned by root", fi.Name())
	}
	mode := fi.Mode()
	if mode&0002 != 0 {
		return fmt.Errorf("secureio: %s is world-writable", fi.Name())
	}
	if mode&0020 != 0 && st.Gid != 0 {
		return fmt.Errorf("secureio: %s is group-writable by a non-root group", fi.Name())
	}
	return nil
}

// Lock is an advisory whole-file lock, released on Unlock.
type Lock struct {
	fl *flock.Flock
}

// FileLock acquires a lock on path. When nonblocking is true, the call
// returns immediately with an error if the lock is already held;
// otherwise it blocks until acquired.
func FileLock(path string, exclusive, nonblocking bool) (*Lock, error) {
	fl := flock.New(path)
	var ok bool
	var err error
	switch {
	case exclusive && nonblocking:
		ok, err = fl.TryLock()
	case exclusive && !nonblocking:
		err = fl.Lock()
		ok = err == nil
	case !exclusive && nonblocking:
		ok, err = fl.TryRLock()
	default:
		err = fl.RLock()
		ok = err == nil
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("secureio: lock on %s is held", path)
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

// CreateTemporaryDir creates a 0700 root-owned temporary directory under
// base using Go's race-free mkdtemp-equivalent (MkdirTemp picks a unique
// name under O_EXCL-like retry semantics), returning the resulting path.
func CreateTemporaryDir(base, prefix string) (string, error) {
	path, err := os.MkdirTemp(base, prefix+"-")
	if err != nil {
		return "", err
	}
	if err := os.Chmod(path, 0700); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
