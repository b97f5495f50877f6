package files

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FindPHPFiles expands files and directories into the PHP files beneath
// them, honoring exclusion globs relative to each root. Hidden
// directories are always skipped.
func FindPHPFiles(paths, excludes []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})

	add := func(root, path string) {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		for _, pattern := range excludes {
			if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
				return
			}
		}
		if _, dup := seen[path]; !dup {
			seen[path] = struct{}{}
			files = append(files, path)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot analyze %s: %w", path, err)
		}

		if !info.IsDir() {
			add(filepath.Dir(path), path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if p != path && strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.EqualFold(filepath.Ext(p), ".php") {
				add(path, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}
