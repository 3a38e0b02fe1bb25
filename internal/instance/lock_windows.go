//go:build windows

package instance

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

type Lock struct {
	handle windows.Handle
}

// Acquire creates a named session mutex derived from path. held reports that
// another process already owns it.
func Acquire(path string) (lock *Lock, held bool, err error) {
	name, err := windows.UTF16PtrFromString(mutexName(path))
	if err != nil {
		return nil, false, fmt.Errorf("encode mutex name: %w", err)
	}
	handle, err := windows.CreateMutex(nil, false, name)
	if err != nil {
		return nil, false, fmt.Errorf("create instance mutex: %w", err)
	}
	if windows.GetLastError() == windows.ERROR_ALREADY_EXISTS {
		_ = windows.CloseHandle(handle)
		return nil, true, nil
	}
	return &Lock{handle: handle}, false, nil
}

func (l *Lock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("close instance mutex handle: %w", err)
	}
	return nil
}

// Mutex names may not contain backslashes past the namespace prefix.
func mutexName(path string) string {
	clean := strings.ToLower(filepath.Clean(path))
	clean = strings.NewReplacer(`\`, "_", "/", "_", ":", "_").Replace(clean)
	return `Local\pbembed_` + clean
}
