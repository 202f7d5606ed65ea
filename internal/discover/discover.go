// Package discover locates student submissions under a source directory.
//
// A submission is either a single source file sitting directly in the root
// ("top-level file") or a sub-directory, at any depth, that holds at least one
// matching source file ("project directory"). Hidden entries are ignored and
// hidden directories are never descended into.
package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrRootUnreadable is returned when the source root cannot be enumerated.
var ErrRootUnreadable = errors.New("source directory is not readable")

// Matcher reports whether a file name is a source file of interest.
type Matcher func(name string) bool

// Extension matches file names ending in any of exts (e.g. ".cpp").
func Extension(exts ...string) Matcher {
	return func(name string) bool {
		for _, ext := range exts {
			if strings.HasSuffix(name, ext) {
				return true
			}
		}
		return false
	}
}

// Filename matches one exact file name.
func Filename(want string) Matcher {
	return func(name string) bool {
		return name == want
	}
}

// Kind distinguishes single-file submissions from project directories.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// Entry is one discovered submission.
type Entry struct {
	Kind Kind
	Path string
}

// Scan holds the result of a single Find call. Both slices hold unique paths.
type Scan struct {
	Files []string
	Dirs  []string
}

// Find returns the matching regular files directly inside root and every
// distinct directory below root that contains at least one matching regular
// file. Root itself is never reported as a directory.
func Find(root string, match Matcher) (*Scan, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootUnreadable, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootUnreadable, root)
	}

	files := mapset.NewThreadUnsafeSet[string]()
	dirs := mapset.NewThreadUnsafeSet[string]()
	scan := &Scan{}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			// Unreadable sub-trees are skipped, the rest of the batch still counts.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path != root && isHidden(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !match(d.Name()) || !isRegular(path, d) {
			return nil
		}

		parent := filepath.Dir(path)
		if parent == filepath.Clean(root) {
			if files.Add(path) {
				scan.Files = append(scan.Files, path)
			}
			return nil
		}
		if dirs.Add(parent) {
			scan.Dirs = append(scan.Dirs, parent)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootUnreadable, root, err)
	}

	return scan, nil
}

// FilesIn lists the matching regular files directly inside dir, sorted by name.
func FilesIn(dir string, match Matcher) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var found []string
	for _, e := range entries {
		if isHidden(e.Name()) || e.IsDir() || !match(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if isRegular(path, e) {
			found = append(found, path)
		}
	}
	return found, nil
}

// Members returns the source files of a project directory. One non-recursive
// scan is made per extension, in the order given, and results are appended in
// that order with duplicate paths suppressed.
func Members(dir string, exts ...string) ([]string, error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	members := make([]string, 0)

	for _, ext := range exts {
		found, err := FilesIn(dir, Extension(ext))
		if err != nil {
			return nil, err
		}
		for _, path := range found {
			if seen.Add(path) {
				members = append(members, path)
			}
		}
	}
	return members, nil
}

// Merge combines scans into one list of submissions sorted by path. A path
// reported by more than one scan appears once.
func Merge(scans ...*Scan) []Entry {
	seen := mapset.NewThreadUnsafeSet[string]()
	entries := make([]Entry, 0)

	for _, s := range scans {
		if s == nil {
			continue
		}
		for _, f := range s.Files {
			if seen.Add(f) {
				entries = append(entries, Entry{Kind: KindFile, Path: f})
			}
		}
		for _, d := range s.Dirs {
			if seen.Add(d) {
				entries = append(entries, Entry{Kind: KindDir, Path: d})
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries
}

// Count returns the number of top-level files plus project directories.
func Count(entries []Entry) (files, dirs int) {
	for _, e := range entries {
		if e.Kind == KindDir {
			dirs++
		} else {
			files++
		}
	}
	return files, dirs
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// isRegular reports whether the entry is a regular file, following symlinks.
func isRegular(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
