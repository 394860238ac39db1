package authority

import (
	"path"
	"strings"
)

// matchPattern matches a slash-separated file path against a glob pattern.
// "*" and "?" work within one path segment, "**" crosses segment
// boundaries ("src/**" covers "src/a.go" and "src/a/b.go", and "src"
// itself). Malformed patterns never match; a broken rule must not grant
// authority.
func matchPattern(pattern string, p string) bool {
	if pattern == "**" {
		return true
	}

	if !strings.Contains(pattern, "**") {
		matched, err := path.Match(pattern, p)
		return err == nil && matched
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		if matchSegments(prefix, p) {
			return true
		}
		return hasMatchingPrefix(prefix, p)
	}

	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if matchSegments(suffix, p) {
			return true
		}
		return hasMatchingSuffix(suffix, p)
	}

	if i := strings.Index(pattern, "/**/"); i >= 0 {
		prefix := pattern[:i]
		suffix := pattern[i+4:]

		// zero segments consumed: prefix and suffix are adjacent
		if matchSegments(prefix+"/"+suffix, p) {
			return true
		}

		prefixDepth := strings.Count(prefix, "/") + 1
		suffixDepth := strings.Count(suffix, "/") + 1
		segments := strings.Split(p, "/")
		if len(segments) < prefixDepth+1+suffixDepth {
			return false
		}
		if !matchSegments(prefix, strings.Join(segments[:prefixDepth], "/")) {
			return false
		}
		if !matchSegments(suffix, strings.Join(segments[len(segments)-suffixDepth:], "/")) {
			return false
		}
		for _, segment := range segments[prefixDepth : len(segments)-suffixDepth] {
			if segment == "" {
				return false
			}
		}
		return true
	}

	// multiple ** groups are not supported; deny
	return false
}

func matchSegments(pattern string, p string) bool {
	matched, err := path.Match(pattern, p)
	return err == nil && matched
}

func hasMatchingPrefix(pattern string, p string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.SplitN(p, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	return matchSegments(pattern, strings.Join(segments[:depth], "/"))
}

func hasMatchingSuffix(pattern string, p string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.Split(p, "/")
	if len(segments) <= depth {
		return false
	}
	return matchSegments(pattern, strings.Join(segments[len(segments)-depth:], "/"))
}
