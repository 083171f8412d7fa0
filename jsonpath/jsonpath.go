// Package jsonpath reads fields out of upstream JSON documents by dotted path
// ("quote.c", "values[0].close") and lists the paths a document offers. The
// CLI uses it to pick and format fields from proxied responses.
package jsonpath

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultMaxDepth bounds how deep Paths descends.
const DefaultMaxDepth = 10

// Root names the document itself when it is an array or an empty object.
const Root = "$"

var validPath = regexp.MustCompile(`^[a-zA-Z_$][a-zA-Z0-9_$]*(?:\.[a-zA-Z_$][a-zA-Z0-9_$]*|\[[0-9]+\])*$`)

// ValidPath reports whether path is a well-formed field path: identifiers
// joined by dots, each optionally followed by [index].
func ValidPath(path string) bool {
	return validPath.MatchString(path)
}

// Get returns the value at path. An empty path returns the whole document.
func Get(doc []byte, path string) (any, bool) {
	if path == "" {
		if !gjson.ValidBytes(doc) {
			return nil, false
		}
		return gjson.ParseBytes(doc).Value(), true
	}
	res := gjson.GetBytes(doc, toGJSON(path))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// toGJSON converts "a.b[0].c" to gjson syntax, escaping gjson's own
// metacharacters inside keys.
func toGJSON(path string) string {
	var parts []string
	for _, seg := range strings.Split(path, ".") {
		name := seg
		var indexes []string
		for strings.HasSuffix(name, "]") {
			open := strings.LastIndex(name, "[")
			if open < 0 {
				break
			}
			idx := name[open+1 : len(name)-1]
			if _, err := strconv.Atoi(idx); err != nil {
				break
			}
			indexes = append([]string{idx}, indexes...)
			name = name[:open]
		}
		if name != "" {
			parts = append(parts, escapeKey(name))
		}
		parts = append(parts, indexes...)
	}
	return strings.Join(parts, ".")
}

func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Paths lists every field path in doc, sorted. Arrays contribute their own
// path and the paths of their first element; an array or empty object at the
// root is reported as Root. maxDepth <= 0 uses DefaultMaxDepth.
func Paths(doc []byte, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if !gjson.ValidBytes(doc) {
		return nil
	}

	seen := map[string]struct{}{}
	add := func(p string) {
		if p != "" {
			seen[p] = struct{}{}
		}
	}
	orRoot := func(prefix string) string {
		if prefix == "" {
			return Root
		}
		return prefix
	}

	var walk func(v gjson.Result, prefix string, depth int)
	walk = func(v gjson.Result, prefix string, depth int) {
		if depth > maxDepth {
			return
		}
		switch {
		case v.IsArray():
			add(orRoot(prefix))
			if first := v.Get("0"); first.Exists() {
				walk(first, prefix, depth+1)
			}
		case v.IsObject():
			empty := true
			v.ForEach(func(key, value gjson.Result) bool {
				empty = false
				p := key.String()
				if prefix != "" {
					p = prefix + "." + p
				}
				add(p)
				walk(value, p, depth+1)
				return true
			})
			if empty {
				add(orRoot(prefix))
			}
		default:
			add(prefix)
		}
	}
	walk(gjson.ParseBytes(doc), "", 0)

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Match returns the paths containing query, case-insensitively, best match
// first: an exact match, then earlier match position, then shorter path.
// A blank query returns paths unchanged.
func Match(paths []string, query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return paths
	}

	type hit struct {
		path  string
		exact bool
		pos   int
	}
	var hits []hit
	for _, p := range paths {
		lower := strings.ToLower(p)
		if pos := strings.Index(lower, q); pos >= 0 {
			hits = append(hits, hit{path: p, exact: lower == q, pos: pos})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.exact != b.exact {
			return a.exact
		}
		if a.pos != b.pos {
			return a.pos < b.pos
		}
		return len(a.path) < len(b.path)
	})

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.path
	}
	return out
}
