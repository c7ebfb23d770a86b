package transcode

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// PurgeOlderThan removes files under root whose modification time is older than
// age, then removes directories left empty that are themselves older than age.
// root itself is never removed. It returns the number of files deleted. A missing
// root is not an error.
func PurgeOlderThan(root string, age time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-age)
	removed := 0
	var dirs []string
	var errs []error

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			errs = append(errs, err)
			return nil
		}
		if p == root {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				return nil
			}
			removed++
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	// deepest first, so parents see their children gone
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		_ = os.Remove(dir)
	}
	return removed, errors.Join(errs...)
}
