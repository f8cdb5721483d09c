package os

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Flock guards a single app instance per host via a lock file.
type Flock struct {
	f *flock.Flock
}

func NewFileLock(path string) (*Flock, error) {
	if path == "" {
		path = os.TempDir() + string(os.PathSeparator) + "confab.lock"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return &Flock{f: flock.New(path)}, nil
}

func (f *Flock) TryLock() (bool, error) { return f.f.TryLock() }
func (f *Flock) Unlock() error          { return f.f.Unlock() }
