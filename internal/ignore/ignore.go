// Package ignore matches paths against gitignore-style pattern files.
//
// Supported syntax: blank lines and # comments are skipped, a leading !
// re-includes, a trailing / matches directories only, and a pattern with a
// slash anywhere but the end is anchored to the root. Unanchored patterns
// match the base name at any depth. Globs follow path.Match; ** is not
// supported. The last matching pattern wins.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileName is the ignore file read from a manifest directory root.
const FileName = ".toolgateignore"

type rule struct {
	glob     string
	negate   bool
	dirOnly  bool
	anchored bool
}

// Matcher reports whether relative paths are ignored.
type Matcher struct {
	rules []rule
}

// Parse reads patterns from r. Malformed globs are rejected.
func Parse(r io.Reader) (*Matcher, error) {
	m := &Matcher{}
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		rl, ok := parseLine(sc.Text())
		if !ok {
			continue
		}
		if _, err := path.Match(rl.glob, ""); err != nil {
			return nil, fmt.Errorf("line %d: bad pattern %q: %w", n, sc.Text(), err)
		}
		m.rules = append(m.rules, rl)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load parses the named files under root and concatenates their rules in
// order. Missing files are skipped, so an empty Matcher is returned when
// none exist.
func Load(root string, names ...string) (*Matcher, error) {
	out := &Matcher{}
	for _, name := range names {
		p := filepath.Join(root, name)
		f, err := os.Open(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m, err := Parse(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out.rules = append(out.rules, m.rules...)
	}
	return out, nil
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// Match reports whether rel, a slash-separated path relative to the root,
// is ignored. A nil Matcher ignores nothing.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	rel = strings.TrimPrefix(path.Clean(rel), "/")
	ignored := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		target := rel
		if !r.anchored {
			target = path.Base(rel)
		}
		if ok, _ := path.Match(r.glob, target); ok {
			ignored = !r.negate
		}
	}
	return ignored
}

func parseLine(line string) (rule, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	var r rule
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.Contains(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" {
		return rule{}, false
	}
	r.glob = line
	return r, true
}
