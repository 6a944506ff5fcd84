package knowledge

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultExcludes are always applied before user rules; a user "!pattern"
// rule can re-include a path.
var DefaultExcludes = []string{
	".git/",
	".hg/",
	".svn/",
	".idea/",
	".vscode/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"target/",
	"__pycache__/",
	".venv/",
	".DS_Store",
}

// binaryExtensions are never indexed; analysing them through a text model is useless.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".webp": true,
	".pdf": true, ".zip": true, ".gz": true, ".tgz": true, ".tar": true, ".bz2": true, ".xz": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true, ".o": true, ".a": true,
	".class": true, ".jar": true, ".pyc": true, ".woff": true, ".woff2": true, ".ttf": true, ".otf": true,
	".mp3": true, ".mp4": true, ".mov": true, ".wav": true, ".sqlite": true, ".db": true,
}

type excludeRule struct {
	re       *regexp.Regexp
	literal  string
	negated  bool
	dirOnly  bool
	anchored bool
	hasSlash bool
}

// Excluder applies gitignore-style rules, last matching rule wins.
type Excluder struct {
	rules []excludeRule
}

// NewExcluder compiles the default rules followed by user rules.
func NewExcluder(userRules []string) *Excluder {
	all := make([]string, 0, len(DefaultExcludes)+len(userRules))
	all = append(all, DefaultExcludes...)
	all = append(all, userRules...)

	e := &Excluder{}
	for _, line := range all {
		if r, ok := compileRule(line); ok {
			e.rules = append(e.rules, r)
		}
	}
	return e
}

// ReadExcludeFile returns the non-empty, non-comment lines of path. A missing
// file yields no rules.
func ReadExcludeFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func compileRule(line string) (excludeRule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return excludeRule{}, false
	}

	var r excludeRule
	if strings.HasPrefix(line, "!") {
		r.negated = true
		line = line[1:]
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	line = slashPath(line)
	if line == "" {
		return excludeRule{}, false
	}

	r.literal = line
	r.hasSlash = strings.Contains(line, "/")
	r.re = regexp.MustCompile("^" + globToRegexp(line) + "$")
	return r, true
}

// Excluded reports whether rel (relative to the scanned base) is excluded.
func (e *Excluder) Excluded(rel string, isDir bool) bool {
	rel = slashPath(rel)
	if rel == "" || rel == "." {
		return false
	}

	excluded := false
	for _, r := range e.rules {
		if r.matches(rel, isDir) {
			excluded = !r.negated
		}
	}
	return excluded
}

func (r excludeRule) matches(rel string, isDir bool) bool {
	segments := strings.Split(rel, "/")

	if r.dirOnly {
		// A directory rule matches the directory itself or anything below it.
		limit := len(segments)
		if !isDir {
			limit--
		}
		for i := 1; i <= limit; i++ {
			prefix := strings.Join(segments[:i], "/")
			if r.anchored || r.hasSlash {
				if r.re.MatchString(prefix) {
					return true
				}
				continue
			}
			if r.re.MatchString(segments[i-1]) {
				return true
			}
		}
		return false
	}

	if r.anchored {
		return r.re.MatchString(rel)
	}
	if r.hasSlash {
		for i := range segments {
			if r.re.MatchString(strings.Join(segments[i:], "/")) {
				return true
			}
		}
		return false
	}
	for _, segment := range segments {
		if r.re.MatchString(segment) {
			return true
		}
	}
	return false
}

func globToRegexp(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch {
		case ch == '*' && i+1 < len(pattern) && pattern[i+1] == '*':
			b.WriteString(".*")
			i++
		case ch == '*':
			b.WriteString("[^/]*")
		case ch == '?':
			b.WriteString("[^/]")
		case strings.ContainsRune(`.+()|[]{}^$\`, rune(ch)):
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func slashPath(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	return strings.Trim(p, "/")
}

// IsBinaryExtension reports whether path has a known binary extension.
func IsBinaryExtension(path string) bool {
	return binaryExtensions[strings.ToLower(filepath.Ext(path))]
}
