package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// openReg tracks open engines per absolute store path within this process.
// Remove consults it so a store is never deleted out from under a live
// session.
var openReg = struct {
	mu    sync.Mutex
	paths map[string]int
}{paths: map[string]int{}}

func normPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

func registerOpen(path string) {
	openReg.mu.Lock()
	defer openReg.mu.Unlock()
	openReg.paths[normPath(path)]++
}

func unregisterOpen(path string) {
	openReg.mu.Lock()
	defer openReg.mu.Unlock()
	key := normPath(path)
	if openReg.paths[key] <= 1 {
		delete(openReg.paths, key)
		return
	}
	openReg.paths[key]--
}

// OpenHandles returns the number of live engines for a store path.
func OpenHandles(path string) int {
	openReg.mu.Lock()
	defer openReg.mu.Unlock()
	return openReg.paths[normPath(path)]
}

// Remove deletes a store file and its sidecar artifacts (<path>,
// <path>.lock, <path>.management/). Fails with ErrStoreInUse while any
// engine in this process holds the path open.
func Remove(path string) error {
	openReg.mu.Lock()
	inUse := openReg.paths[normPath(path)] > 0
	openReg.mu.Unlock()
	if inUse {
		return fmt.Errorf("remove store %s: %w", path, ErrStoreInUse)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove store file: %w", err)
	}
	// WAL sidecars may linger after an unclean shutdown.
	for _, suffix := range []string{"-wal", "-shm", ".lock"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove store artifact %s: %w", suffix, err)
		}
	}
	if err := os.RemoveAll(path + ".management"); err != nil {
		return fmt.Errorf("remove management directory: %w", err)
	}
	return nil
}
