// Package safefile provides file I/O helpers that reject symlinks.
// Use these instead of os.ReadFile/os.WriteFile for any path an operator
// hands to the tool (config files, export destinations).
package safefile

import (
	"fmt"
	"os"
	"syscall"
)

// RejectSymlink returns an error if path is a symbolic link.
// It uses Lstat (not Stat) so the check is not followed through the link.
func RejectSymlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%s is a symbolic link (rejected for security)", path)
	}
	return nil
}

// ReadFile reads path after verifying it is not a symlink.
func ReadFile(path string) ([]byte, error) {
	if err := RejectSymlink(path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile writes data to path after verifying that an existing file at
// that path is not a symlink. A missing file is fine; it will be created.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := RejectSymlink(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, data, perm)
}

// Create opens path for writing, truncating any existing regular file.
// It refuses to write through a symlink so an export cannot be redirected
// to an unexpected location.
func Create(path string) (*os.File, error) {
	if err := RejectSymlink(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|syscall.O_NOFOLLOW, 0o644)
}
