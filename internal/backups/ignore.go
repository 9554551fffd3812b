package backups

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
)

// ignoreFileName is the server-directory-relative file Backup reads before
// every incremental snapshot.
const ignoreFileName = ".obakignore"

type ignoreRule struct {
	negate   bool
	dirOnly  bool
	anchored bool
	re       *regexp.Regexp
}

// IgnoreSet holds the compiled rules from one .obakignore file. Rules apply
// in file order, last match wins (including negation), the same semantics
// as a .gitignore.
type IgnoreSet struct {
	rules []ignoreRule
}

// LoadIgnoreSet reads path. A missing file yields an empty set that ignores
// nothing, rather than an error — most servers don't have one.
func LoadIgnoreSet(path string) (*IgnoreSet, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &IgnoreSet{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set := &IgnoreSet{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		rule, err := compileIgnoreRule(trimmed)
		if err != nil {
			return nil, ctlerrors.Wrap(ctlerrors.ErrPolicyViolation, "bad ignore rule: "+trimmed, err)
		}
		set.rules = append(set.rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

func compileIgnoreRule(line string) (ignoreRule, error) {
	negate := strings.HasPrefix(line, "!")
	if negate {
		line = line[1:]
	}
	dirOnly := strings.HasSuffix(line, "/")
	line = strings.TrimSuffix(line, "/")

	// A slash anywhere but at the very end anchors the pattern to the
	// ignore file's own directory; a bare filename pattern matches at any
	// depth, same as gitignore's "no slash means **/pattern" rule.
	anchored := strings.Contains(strings.TrimPrefix(line, "/"), "/") || strings.HasPrefix(line, "/")
	line = strings.TrimPrefix(line, "/")

	re, err := globToRegexp(line)
	if err != nil {
		return ignoreRule{}, err
	}
	return ignoreRule{negate: negate, dirOnly: dirOnly, anchored: anchored, re: re}, nil
}

// globToRegexp translates a gitignore-style glob (*, ** and ?) into an
// anchored regular expression matched against a forward-slash path.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Ignored reports whether relPath (forward-slash separated, relative to the
// server directory) is excluded by this rule set. isDir tells it whether
// relPath itself names a directory, since a dir-only rule ("logs/") also
// excludes every file beneath a matched directory.
func (s *IgnoreSet) Ignored(relPath string, isDir bool) bool {
	if s == nil || len(s.rules) == 0 {
		return false
	}
	relPath = filepath.ToSlash(relPath)
	segments := strings.Split(relPath, "/")

	ignored := false
	for _, r := range s.rules {
		if s.matches(r, segments, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

// matches reports whether r applies to relPath (given as segments). A
// dir-only rule also matches if any ancestor directory of relPath matches
// the pattern, since excluding a directory excludes everything under it.
func (s *IgnoreSet) matches(r ignoreRule, segments []string, isDir bool) bool {
	for end := 1; end <= len(segments); end++ {
		isLast := end == len(segments)
		candidate := strings.Join(segments[:end], "/")

		if !isLast {
			if r.dirOnly && s.test(r, candidate) {
				return true
			}
			continue
		}

		if r.dirOnly && !isDir {
			continue
		}
		if s.test(r, candidate) {
			return true
		}
	}
	return false
}

func (s *IgnoreSet) test(r ignoreRule, candidate string) bool {
	if r.anchored {
		return r.re.MatchString(candidate)
	}
	return r.re.MatchString(filepath.Base(candidate))
}
