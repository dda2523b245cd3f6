// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package store

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Paging defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Coercion tags accepted at the end of a rename target.
const (
	CoerceFloat = "float"
)

// Renames maps a logical search field to its storage path. A path is a dot
// separated list of object keys and array indexes; a segment that meets an
// array without an index fans out over every element. A trailing
// "<float>" tag compares the field numerically.
//
// Fields without an entry are searched under their own name.
type Renames map[string]string

// Field is a resolved search field.
type Field struct {
	Path   []string
	Coerce string
}

// Resolve maps a logical field name to its storage path.
func (r Renames) Resolve(name string) Field {
	target := name
	if mapped, ok := r[name]; ok {
		target = mapped
	}
	var coerce string
	if i := strings.IndexByte(target, '<'); i >= 0 && strings.HasSuffix(target, ">") {
		coerce = target[i+1 : len(target)-1]
		target = target[:i]
	}
	return Field{Path: strings.Split(target, "."), Coerce: coerce}
}

// TicketRenames are the search aliases of the ticket collection.
var TicketRenames = Renames{
	"created_on": "history.0.time",
	"created_by": "history.0.user",
	"workflows":  "created_relvals",
	"relval":     "created_relvals",
	"sample":     "samples.input",
}

// RelValRenames are the search aliases of the relval collection.
var RelValRenames = Renames{
	"created_on":     "history.0.time",
	"created_by":     "history.0.user",
	"workflows":      "workflows.name",
	"workflow":       "workflows.name",
	"output_dataset": "output_datasets",
	"completion":     "workflows.completion<float>",
	"step":           "steps.name",
	"global_tag":     "steps.global_tag",
	"release":        "steps.release",
}

// ErrInvalidQuery is wrapped by query parsing failures.
var ErrInvalidQuery = errors.New("invalid query")

// Query selects and pages entities. Filter values may contain '*' wildcards
// and ',' separated alternatives.
type Query struct {
	Filters map[string]string
	// Sort names a logical field; a leading '-' sorts descending. The
	// default order is by identifier.
	Sort  string
	Page  int
	Limit int
}

// ParseQuery builds a Query from URL parameters. "page", "limit" and "sort"
// are reserved; every other parameter is a filter.
func ParseQuery(values url.Values) (Query, error) {
	q := Query{Filters: make(map[string]string)}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		v := vals[0]
		switch key {
		case "page":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return Query{}, fmt.Errorf("%w: page %q", ErrInvalidQuery, v)
			}
			q.Page = n
		case "limit":
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return Query{}, fmt.Errorf("%w: limit %q", ErrInvalidQuery, v)
			}
			q.Limit = n
		case "sort":
			q.Sort = v
		default:
			q.Filters[key] = v
		}
	}
	return q, nil
}

type filter struct {
	field        Field
	alternatives []string
	numbers      []float64
}

type matcher struct {
	filters []filter
	sortBy  *Field
	desc    bool
	offset  int
	limit   int
}

type hit struct {
	doc  Document
	tree any
}

func (q Query) compile(renames Renames) (*matcher, error) {
	m := &matcher{limit: q.Limit}
	if m.limit <= 0 {
		m.limit = DefaultLimit
	}
	if m.limit > MaxLimit {
		m.limit = MaxLimit
	}
	if q.Page < 0 {
		return nil, fmt.Errorf("%w: negative page", ErrInvalidQuery)
	}
	if q.Page > math.MaxInt/m.limit {
		return nil, fmt.Errorf("%w: page %d out of range", ErrInvalidQuery, q.Page)
	}
	m.offset = q.Page * m.limit

	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		raw := strings.TrimSpace(q.Filters[k])
		if raw == "" {
			continue
		}
		f := filter{field: renames.Resolve(k)}
		for _, alt := range strings.Split(raw, ",") {
			alt = strings.TrimSpace(alt)
			if alt == "" {
				continue
			}
			if f.field.Coerce == CoerceFloat {
				n, err := strconv.ParseFloat(alt, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: %s expects a number, got %q", ErrInvalidQuery, k, alt)
				}
				f.numbers = append(f.numbers, n)
				continue
			}
			f.alternatives = append(f.alternatives, alt)
		}
		m.filters = append(m.filters, f)
	}

	if s := strings.TrimPrefix(q.Sort, "-"); s != "" {
		field := renames.Resolve(s)
		m.sortBy = &field
		m.desc = strings.HasPrefix(q.Sort, "-")
	}
	return m, nil
}

func (m *matcher) match(tree any) bool {
	for _, f := range m.filters {
		if !f.match(lookup(tree, f.field.Path)) {
			return false
		}
	}
	return true
}

func (f filter) match(values []any) bool {
	for _, v := range values {
		if f.field.Coerce == CoerceFloat {
			n, ok := v.(float64)
			if !ok {
				continue
			}
			for _, want := range f.numbers {
				if n == want {
					return true
				}
			}
			continue
		}
		s, ok := scalarString(v)
		if !ok {
			continue
		}
		for _, alt := range f.alternatives {
			if wildcardMatch(alt, s) {
				return true
			}
		}
	}
	return false
}

func (m *matcher) sort(hits []hit) {
	key := func(h hit) string {
		if m.sortBy == nil {
			return h.doc.ID
		}
		for _, v := range lookup(h.tree, m.sortBy.Path) {
			if s, ok := scalarString(v); ok {
				return s
			}
		}
		return ""
	}
	sort.SliceStable(hits, func(i, j int) bool {
		ki, kj := key(hits[i]), key(hits[j])
		if ki == kj {
			return hits[i].doc.ID < hits[j].doc.ID
		}
		if m.desc {
			return ki > kj
		}
		return ki < kj
	})
}

func (m *matcher) page(hits []hit) []hit {
	if m.offset >= len(hits) {
		return nil
	}
	end := m.offset + m.limit
	if end > len(hits) {
		end = len(hits)
	}
	return hits[m.offset:end]
}

// lookup walks path through a decoded JSON tree and returns every value it
// reaches. Arrays at the end of the path are flattened.
func lookup(node any, path []string) []any {
	if len(path) == 0 {
		if arr, ok := node.([]any); ok {
			return arr
		}
		return []any{node}
	}
	switch n := node.(type) {
	case map[string]any:
		child, ok := n[path[0]]
		if !ok {
			return nil
		}
		return lookup(child, path[1:])
	case []any:
		if idx, err := strconv.Atoi(path[0]); err == nil {
			if idx < 0 || idx >= len(n) {
				return nil
			}
			return lookup(n[idx], path[1:])
		}
		var out []any
		for _, el := range n {
			out = append(out, lookup(el, path)...)
		}
		return out
	}
	return nil
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// wildcardMatch reports whether s matches pattern, where '*' stands for any
// (possibly empty) run of characters.
func wildcardMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
