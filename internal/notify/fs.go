package notify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileExists reports whether path names an existing file.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FindPrefix returns the first file in dir, in name order, whose name starts with prefix.
func FindPrefix(dir, prefix string) (string, bool, error) {
	names, err := listFiles(dir)
	if err != nil {
		return "", false, err
	}
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			return filepath.Join(dir, name), true, nil
		}
	}
	return "", false, nil
}

// DeleteMatching removes files in dir whose name prefix, the text before the
// first '@' or '.', equals prefix. The file named by keep survives. It returns
// how many files were removed.
func DeleteMatching(dir, prefix, keep string) (int, error) {
	names, err := listFiles(dir)
	if err != nil {
		return 0, err
	}
	keep = filepath.Base(keep)

	deleted := 0
	var errs []error
	for _, name := range names {
		if namePrefix(name) != prefix || name == keep {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func namePrefix(name string) string {
	if i := strings.IndexAny(name, "@."); i >= 0 {
		return name[:i]
	}
	return name
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type()&fs.ModeType != 0 {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
