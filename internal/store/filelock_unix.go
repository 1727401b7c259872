//go:build unix

package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// flockedFile holds an advisory exclusive lock for the lifetime of a single
// cache read-modify-write cycle, preventing two processes sharing a cache
// directory from interleaving writes.
type flockedFile struct {
	f *os.File
}

// lockFile opens path (creating it if absent) and takes an exclusive
// advisory lock via flock(2). The caller must call unlock when done.
func lockFile(path string) (*flockedFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &flockedFile{f: f}, nil
}

func (l *flockedFile) unlock() error {
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	if err != nil {
		return err
	}
	return closeErr
}
