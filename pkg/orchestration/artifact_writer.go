package orchestration

import (
	"os"
	"path/filepath"
	"time"
)

// writeArtifact atomically replaces path with content, creating parent
// directories as needed, then sets its mtime when mtime is non-zero.
func writeArtifact(path string, content []byte, mtime time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var perm os.FileMode = 0644
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode()
	}

	// The temp name has no artifact suffix, so a leftover is never indexed.
	pattern := "." + filepath.Base(path) + ".tmp-*"
	f, err := os.CreateTemp(filepath.Dir(path), pattern)
	if os.IsNotExist(err) {
		// A concurrent cleanup pruned the directory after MkdirAll.
		if err = os.MkdirAll(filepath.Dir(path), 0755); err == nil {
			f, err = os.CreateTemp(filepath.Dir(path), pattern)
		}
	}
	if err != nil {
		return err
	}

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err = f.Chmod(perm); err != nil {
		return err
	}
	if _, err = f.Write(content); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return err
	}
	success = true

	if !mtime.IsZero() {
		return os.Chtimes(path, mtime, mtime)
	}
	return nil
}

// freshMtime is the mtime written artifacts get: one second past the newest
// input, so coarse filesystem timestamps still compare as fresh.
func freshMtime(inputs ...time.Time) time.Time {
	var newest time.Time
	for _, t := range inputs {
		if t.After(newest) {
			newest = t
		}
	}
	return newest.Add(time.Second)
}
