// Package scanner finds fixture files below a directory. It respects
// .gmaignore files with gitignore-style patterns and detects the fixture
// format from the file extension.
package scanner

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Format is the encoding of a fixture file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// DetectFormat returns the fixture format of a file extension, or "" if
// the extension is not a fixture extension.
func DetectFormat(ext string) Format {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".hcl":
		return FormatHCL
	}
	return ""
}

// FileInfo represents a discovered fixture.
type FileInfo struct {
	Path     string // Relative path from root, slash separated
	FullPath string // Path joined to the root as given
	Format   Format
	Size     int64
}

// Options configures the scanner behavior.
type Options struct {
	SkipHidden      bool     // Skip hidden files and directories (starting with .)
	DefaultExcludes []string // Directory names that are never entered
	IgnoreFileName  string   // Name of the ignore file (default: .gmaignore)
}

// DefaultOptions returns scanner options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		SkipHidden:      true,
		IgnoreFileName:  ".gmaignore",
		DefaultExcludes: []string{".git", "vendor", "node_modules"},
	}
}

// Scanner walks directory trees for fixtures.
type Scanner struct {
	opts Options
}

// New creates a new Scanner with the given options.
func New(opts Options) *Scanner {
	if opts.IgnoreFileName == "" {
		opts.IgnoreFileName = ".gmaignore"
	}
	return &Scanner{opts: opts}
}

// Scan walks root and returns its fixtures sorted by path. Ignore files
// apply to the directory they are in and everything below it.
func (s *Scanner) Scan(root string) ([]FileInfo, error) {
	patterns := make(map[string][]IgnorePattern)
	var files []FileInfo

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return s.loadIgnoreFile(patterns, path, rel)
		}

		if s.opts.SkipHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ignored(patterns, rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if s.isDefaultExcluded(d.Name()) {
				return filepath.SkipDir
			}
			return s.loadIgnoreFile(patterns, path, rel)
		}

		format := DetectFormat(filepath.Ext(path))
		if format == "" || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Path: rel, FullPath: path, Format: format, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (s *Scanner) isDefaultExcluded(name string) bool {
	for _, exclude := range s.opts.DefaultExcludes {
		if strings.EqualFold(name, exclude) {
			return true
		}
	}
	return false
}

// loadIgnoreFile reads the ignore file of dir, whose path relative to the
// scan root is rel, into patterns.
func (s *Scanner) loadIgnoreFile(patterns map[string][]IgnorePattern, dir, rel string) error {
	f, err := os.Open(filepath.Join(dir, s.opts.IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns[rel] = append(patterns[rel], ParseIgnorePattern(line))
	}
	return sc.Err()
}

// ignored applies the patterns of every ancestor directory of rel, outermost
// first; a later negation re-includes a path.
func ignored(patterns map[string][]IgnorePattern, rel string, isDir bool) bool {
	segs := strings.Split(rel, "/")
	result := false
	for depth := 0; depth < len(segs); depth++ {
		base := "."
		if depth > 0 {
			base = strings.Join(segs[:depth], "/")
		}
		for _, p := range patterns[base] {
			if p.Match(segs[depth:], isDir) {
				result = !p.Negation
			}
		}
	}
	return result
}

// Scan scans a directory with default options.
func Scan(root string) ([]FileInfo, error) {
	return New(DefaultOptions()).Scan(root)
}
