package fsstream

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PathKind classifies a raw user-supplied path string.
type PathKind uint8

const (
	// Literal means the path contains no glob metacharacters.
	Literal PathKind = iota
	// Glob means the path contains wildcards, character classes, or brace
	// alternations and must be matched rather than used directly.
	Glob
)

// classify reports whether path is a literal path or a glob pattern. A path
// is a glob iff it contains an unescaped wildcard metacharacter.
func classify(path string) PathKind {
	if hasMeta(path) {
		return Glob
	}
	return Literal
}

func hasMeta(path string) bool {
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '\\':
			i++ // skip the escaped rune
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// watchRoot computes the longest leading path prefix of glob that contains
// no wildcard metacharacters — the directory a backend is actually told to
// observe. For a literal path, watchRoot returns the path itself.
func watchRoot(glob string) string {
	glob = normalize(glob)
	segs := strings.Split(glob, "/")
	i := 0
	for ; i < len(segs); i++ {
		if hasMeta(segs[i]) {
			break
		}
	}
	if i == 0 {
		if strings.HasPrefix(glob, "/") {
			return "/"
		}
		return "."
	}
	root := strings.Join(segs[:i], "/")
	if root == "" {
		return "/"
	}
	return root
}

// braceExpand expands `{a,b}` alternations in glob into the set of concrete
// glob patterns they denote. Nested braces are expanded from the outside in:
// the first top-level group is split, and each alternative is expanded again.
// doublestar (the matching engine used elsewhere in this package) has no
// brace support of its own, so this is a small hand-rolled expander — no
// library in the reference corpus performs brace-alternation expansion.
func braceExpand(glob string) []string {
	start, end, depth := -1, -1, 0
	for i, r := range glob {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
				goto found
			}
		}
	}
found:
	if start == -1 || end == -1 {
		return []string{glob}
	}

	prefix, suffix := glob[:start], glob[end+1:]
	alts := splitTopLevel(glob[start+1 : end])

	var out []string
	for _, alt := range alts {
		out = append(out, braceExpand(prefix+alt+suffix)...)
	}
	if len(out) == 0 {
		return []string{glob}
	}
	return out
}

// splitTopLevel splits s on commas that are not nested inside another brace
// pair.
func splitTopLevel(s string) []string {
	var parts []string
	depth, last := 0, 0
	for i, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, s[last:])
	return parts
}

// normalize collapses path separators, strips a leading "./", and converts
// the result to forward slashes for internal storage. The empty string is
// normalized to ".".
func normalize(path string) string {
	if path == "" {
		return "."
	}
	path = filepath.ToSlash(path)
	path = strings.TrimPrefix(path, "./")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// resolve joins path to cwd when path is not absolute and cwd is non-empty,
// preserving a leading "!" negation prefix on the remainder. It does no glob
// handling of its own; Engine.Add applies Config.DisableGlobbing itself.
func resolve(path, cwd string) string {
	neg := strings.HasPrefix(path, "!")
	if neg {
		path = path[1:]
	}
	path = normalize(path)
	if cwd != "" && !filepath.IsAbs(path) {
		path = normalize(filepath.Join(cwd, path))
	}
	if neg {
		return "!" + path
	}
	return path
}

// globMatch reports whether path matches the glob pattern, using doublestar
// semantics (`**` matches any number of path segments, `*` matches within a
// single segment, `?` matches a single rune, `[...]` character classes).
func globMatch(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	if err != nil {
		return false
	}
	return ok
}
