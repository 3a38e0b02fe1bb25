//go:build !windows

package instance

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type Lock struct {
	file *flock.Flock
}

// Acquire takes an exclusive lock on path. held reports that another process
// already owns it; the returned Lock is nil in that case.
func Acquire(path string) (lock *Lock, held bool, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock directory: %w", err)
	}
	f := flock.New(path)
	locked, err := f.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		_ = f.Close()
		return nil, true, nil
	}
	return &Lock{file: f}, false, nil
}

func (l *Lock) Release() error {
	if l == nil || l.file == nil || !l.file.Locked() {
		return nil
	}
	if err := l.file.Unlock(); err != nil {
		return fmt.Errorf("unlock instance lock: %w", err)
	}
	return nil
}
