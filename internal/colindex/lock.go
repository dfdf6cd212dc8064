package colindex

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/standardbeagle/lazytail/internal/errors"
)

// buildLock holds an advisory whole-file exclusive lock on build.lock for
// the duration of index construction or append, preventing two writers
// (spec 4.2.5). Grounded on the same liveness-probe family of syscalls used
// by capture's PID marker: a direct unix.Flock call, no third-party locking
// library, since the corpus carries no file-locking package beyond
// golang.org/x/sys.
type buildLock struct {
	file *os.File
}

// acquireBuildLock opens (creating if needed) path/build.lock and takes a
// non-blocking exclusive flock. Returns an error if another writer already
// holds it.
func acquireBuildLock(dir string) (*buildLock, error) {
	path := dir + string(os.PathSeparator) + FileBuildLock
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.NewIndexError(errors.KindTransientIO, "lock-open", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.NewIndexError(errors.KindStateInconsist, "lock-acquire", path, err)
	}
	return &buildLock{file: f}, nil
}

// release drops the lock and closes the handle.
func (l *buildLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
