package fsstream

import (
	"regexp"
	"sync"

	"github.com/golang/groupcache/lru"
)

// Predicate is a user-supplied ignore test that also receives the stat of
// the path, when one is available. It is invoked alongside plain glob
// patterns by the compiled matcher.
type Predicate func(path string, stat *Stat) bool

// matchCacheSize bounds the compiled-matcher result cache, the way mutagen
// bounds its watch-descriptor LRU and vormadev's watcher bounds its
// doublestar match cache — an unbounded map here would leak memory on a
// long-lived watcher over a frequently-reorganized tree.
const matchCacheSize = 4096

// editorTempPattern matches the common editor atomic-save sidecar names:
// vim swap files, emacs/backup tildes, and Sublime Text's .subl*.tmp family.
var editorTempPattern = regexp.MustCompile(`(?:^\.[^/]+\.swp$|~$|^\.subl.*\.tmp$)`)

// IgnoreSet is the compounded ignore decision for a watcher: user patterns,
// runtime-learned exclusions (negations and unwatch()'d paths), and
// optionally an editor-temp regex. The compiled matcher is cached and
// invalidated whenever any source mutates.
type IgnoreSet struct {
	mu           sync.Mutex
	userPatterns []string
	userPreds    []Predicate
	runtime      map[string]struct{}
	atomicSave   bool

	cache *lru.Cache // path -> bool
}

// NewIgnoreSet constructs an IgnoreSet from the user-supplied patterns and
// predicates. atomicSave enables the editor-temp regex check.
func NewIgnoreSet(atomicSave bool, patterns []string, preds []Predicate) *IgnoreSet {
	return &IgnoreSet{
		userPatterns: append([]string(nil), patterns...),
		userPreds:    append([]Predicate(nil), preds...),
		runtime:      make(map[string]struct{}),
		atomicSave:   atomicSave,
		cache:        lru.New(matchCacheSize),
	}
}

// Learn records path (and path+"/**", for directory-prefix matching) as a
// runtime-learned exclusion — used for `!`-negated Add() entries and for
// Unwatch()'d paths. It invalidates the cache.
func (s *IgnoreSet) Learn(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtime[path] = struct{}{}
	s.runtime[path+"/**"] = struct{}{}
	s.invalidateLocked()
}

// Forget removes path (and its /** form) from the runtime-learned set — used
// when a previously-negated path is re-added positively. It invalidates the
// cache.
func (s *IgnoreSet) Forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runtime, path)
	delete(s.runtime, path+"/**")
	s.invalidateLocked()
}

func (s *IgnoreSet) invalidateLocked() {
	s.cache = lru.New(matchCacheSize)
}

// IsIgnored decides whether path is excluded. Rule order, matching
// spec.md §4.3:
//  1. editor-temp regex, if atomic-save detection is enabled;
//  2. the cached composite matcher over runtime ∪ user patterns ∪
//     user-patterns+"/**";
//  3. user predicates, which may inspect stat.
func (s *IgnoreSet) IsIgnored(path string, stat *Stat) bool {
	if s.atomicSave && editorTempPattern.MatchString(baseOf(path)) {
		return true
	}

	s.mu.Lock()
	if v, ok := s.cache.Get(path); ok {
		s.mu.Unlock()
		cached := v.(bool)
		if cached {
			return true
		}
	} else {
		matched := s.matchPatternsLocked(path)
		s.cache.Add(path, matched)
		s.mu.Unlock()
		if matched {
			return true
		}
	}

	for _, pred := range s.userPreds {
		if pred(path, stat) {
			return true
		}
	}
	return false
}

func (s *IgnoreSet) matchPatternsLocked(path string) bool {
	for p := range s.runtime {
		if globMatch(p, path) {
			return true
		}
	}
	for _, p := range s.userPatterns {
		if globMatch(p, path) {
			return true
		}
		if globMatch(p+"/**", path) {
			return true
		}
	}
	return false
}

func baseOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
