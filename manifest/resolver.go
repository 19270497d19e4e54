package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ClassPathEntry is one resolved class-path element.
type ClassPathEntry struct {
	Path  string // absolute path
	IsJar bool
}

// ResolveClassPath turns the configured dirs and jars into absolute paths
// in search order: extra entries first, then dirs, then jars. Jar entries
// may be glob patterns; matches are sorted. Duplicates keep their first
// position.
func (c *Config) ResolveClassPath(extra ...string) ([]ClassPathEntry, error) {
	seen := make(map[string]bool)
	var out []ClassPathEntry

	add := func(p string, jar bool) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("invalid path %q: %w", p, err)
		}
		if seen[abs] {
			return nil
		}
		fi, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("class path entry %q not found: %w", p, err)
		}
		if jar && fi.IsDir() {
			return fmt.Errorf("class path entry %q is a directory, want a jar", p)
		}
		if !jar && !fi.IsDir() {
			jar = true
		}
		seen[abs] = true
		out = append(out, ClassPathEntry{Path: abs, IsJar: jar})
		return nil
	}

	for _, p := range extra {
		if err := add(p, false); err != nil {
			return nil, err
		}
	}
	for _, d := range c.ClassPath.Dirs {
		if err := add(c.Path(d), false); err != nil {
			return nil, err
		}
	}
	for _, j := range c.ClassPath.Jars {
		pattern := c.Path(j)
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad jar pattern %q: %w", j, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("jar %q matched nothing", j)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if err := add(m, true); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Paths returns just the paths of entries.
func Paths(entries []ClassPathEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}
