package scanner

import (
	"path"
	"strings"
)

// IgnorePattern is one line of an ignore file.
type IgnorePattern struct {
	Negation bool // "!pattern" re-includes matching paths
	DirOnly  bool // "pattern/" matches directories only
	Anchored bool // "/pattern" or "a/b" match relative to the ignore file

	segments []string
}

// ParseIgnorePattern parses a gitignore-style pattern.
func ParseIgnorePattern(line string) IgnorePattern {
	var p IgnorePattern
	if strings.HasPrefix(line, "!") {
		p.Negation = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.DirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.Anchored = true
		line = line[1:]
	}
	p.segments = strings.Split(line, "/")
	if len(p.segments) > 1 {
		p.Anchored = true
	}
	return p
}

// Match reports whether the path given as segments relative to the ignore
// file's directory matches. Unanchored patterns match the last segment of a
// path at any depth.
func (p IgnorePattern) Match(segs []string, isDir bool) bool {
	if p.DirOnly && !isDir {
		return false
	}
	if !p.Anchored {
		return matchSegment(p.segments[0], segs[len(segs)-1])
	}
	return matchSegments(p.segments, segs)
}

// matchSegments matches pattern segments against path segments; "**"
// matches any number of segments.
func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 || !matchSegment(pat[0], segs[0]) {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}

func matchSegment(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
