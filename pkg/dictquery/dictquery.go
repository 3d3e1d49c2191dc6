// Package dictquery evaluates the XQL filter dialect against in-memory
// lists of documents.
//
// It backs embedded subcollections: the same filter mappings accepted by
// the AQL compiler are matched leaf by leaf against each document, with
// macros expanded first. Results come back as a Cursor that sorts, skips,
// and limits lazily while still reporting the unpaginated match count.
package dictquery

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/arangodoc/arangodoc/pkg/flatpath"
	"github.com/arangodoc/arangodoc/pkg/xql"
)

// ErrInvalidLogic indicates a logical group key with a malformed operand.
var ErrInvalidLogic = errors.New("invalid logic group")

// ErrUnknownOperator indicates an unrecognized filter operator suffix.
var ErrUnknownOperator = errors.New("unknown filter operator")

var logicKeys = map[string]bool{
	"$AND": true, "$OR": true, "$NOT": true, "$NOR": true,
}

// Match reports whether a document satisfies a filter mapping. Top-level
// leaves conjoin; logical groups combine their alternative's leaves with
// the group's connective.
func Match(doc map[string]any, filters map[string]any) (bool, error) {
	return match(doc, filters, xql.NewMacroSet(nil))
}

func match(doc map[string]any, filters map[string]any, macros *xql.MacroSet) (bool, error) {
	for k, v := range filters {
		if strings.HasPrefix(k, "$") {
			ok, err := matchLogic(doc, k, v, macros)
			if err != nil {
				return false, err
			}

			if !ok {
				return false, nil
			}

			continue
		}

		ok, err := matchLeaf(doc, k, v, macros)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func matchLogic(doc map[string]any, key string, value any, macros *xql.MacroSet) (bool, error) {
	upper := strings.ToUpper(key)
	if !logicKeys[upper] {
		return false, fmt.Errorf("%w: %q", ErrInvalidLogic, key)
	}

	var alternatives []map[string]any

	switch tv := value.(type) {
	case map[string]any:
		alternatives = []map[string]any{tv}
	case []any:
		for _, item := range tv {
			m, ok := item.(map[string]any)
			if !ok {
				return false, fmt.Errorf("%w: %q holds a non-mapping alternative", ErrInvalidLogic, key)
			}

			alternatives = append(alternatives, m)
		}
	case []map[string]any:
		alternatives = tv
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidLogic, key)
	}

	// Each alternative is its own clause; clauses conjoin like separate
	// FILTER lines in the compiled dialect.
	for _, alt := range alternatives {
		results := make([]bool, 0, len(alt))

		for ak, av := range alt {
			ok, err := matchLeaf(doc, ak, av, macros)
			if err != nil {
				return false, err
			}

			results = append(results, ok)
		}

		var clause bool

		switch upper {
		case "$AND":
			clause = true
			for _, r := range results {
				clause = clause && r
			}
		case "$OR":
			clause = false
			for _, r := range results {
				clause = clause || r
			}
		case "$NOT", "$NOR":
			clause = true
			for _, r := range results {
				if r {
					clause = false

					break
				}
			}
		}

		if !clause {
			return false, nil
		}
	}

	return true, nil
}

func matchLeaf(doc map[string]any, key string, value any, macros *xql.MacroSet) (bool, error) {
	path, op := key, "$EQ"
	if idx := strings.Index(key, ":"); idx >= 0 {
		path, op = key[:idx], strings.ToUpper(key[idx+1:])
	}

	value = macros.Eval(value)
	actual := flatpath.Get(doc, path, nil)

	switch op {
	case "$EQ":
		return valuesEqual(actual, value), nil
	case "$NE":
		return !valuesEqual(actual, value), nil
	case "$GT", "$GTE", "$LT", "$LTE":
		return compareOrder(actual, value, op)
	case "$IN":
		return listContains(value, actual), nil
	case "$XIN":
		return !listContains(value, actual), nil
	case "$INCLUDES":
		return listContains(actual, value), nil
	case "$XINCLUDES":
		return !listContains(actual, value), nil
	case "$LIKE":
		return likeMatch(actual, value)
	case "$NLIKE", "$XLIKE":
		ok, err := likeMatch(actual, value)

		return !ok, err
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}

// valuesEqual compares with numeric coercion so 2 and 2.0 match, the way
// they do in the engine.
func valuesEqual(a, b any) bool {
	if an, aok := numeric(a); aok {
		if bn, bok := numeric(b); bok {
			return an == bn
		}

		return false
	}

	return reflect.DeepEqual(a, b)
}

func compareOrder(actual, value any, op string) (bool, error) {
	an, aok := numeric(actual)
	bn, bok := numeric(value)

	var cmp int

	switch {
	case aok && bok:
		switch {
		case an < bn:
			cmp = -1
		case an > bn:
			cmp = 1
		}
	default:
		as, aerr := cast.ToStringE(actual)
		bs, berr := cast.ToStringE(value)

		if aerr != nil || berr != nil {
			return false, nil
		}

		cmp = strings.Compare(as, bs)
	}

	switch op {
	case "$GT":
		return cmp > 0, nil
	case "$GTE":
		return cmp >= 0, nil
	case "$LT":
		return cmp < 0, nil
	default:
		return cmp <= 0, nil
	}
}

func numeric(v any) (float64, bool) {
	switch v.(type) {
	case nil, bool, string, []any, map[string]any:
		return 0, false
	}

	n, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}

	return n, true
}

func listContains(list, v any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}

	for _, item := range items {
		if valuesEqual(item, v) {
			return true
		}
	}

	return false
}

// likeMatch implements the engine's LIKE wildcards: % matches any run,
// _ matches a single character.
func likeMatch(actual, pattern any) (bool, error) {
	s, ok := actual.(string)
	if !ok {
		return false, nil
	}

	p, ok := pattern.(string)
	if !ok {
		return false, nil
	}

	var re strings.Builder

	re.WriteString("^")

	for _, r := range p {
		switch r {
		case '%':
			re.WriteString(".*")
		case '_':
			re.WriteString(".")
		default:
			re.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	re.WriteString("$")

	matched, err := regexp.MatchString(re.String(), s)
	if err != nil {
		return false, err
	}

	return matched, nil
}

// Query returns the documents matching a filter mapping, preserving input
// order.
func Query(data []map[string]any, filters map[string]any) ([]map[string]any, error) {
	macros := xql.NewMacroSet(nil)

	var out []map[string]any

	for _, doc := range data {
		ok, err := match(doc, filters, macros)
		if err != nil {
			return nil, err
		}

		if ok {
			out = append(out, doc)
		}
	}

	return out, nil
}

// SortKey orders cursor output by a dotted path.
type SortKey struct {
	Path string
	Desc bool
}

// Cursor holds a match set and applies sort, offset, and limit lazily.
// Len reports the unpaginated match count.
type Cursor struct {
	matches []map[string]any
	sortBy  []SortKey
	limit   int
	skip    int

	paged []map[string]any
	done  bool
}

// CursorOption configures a Cursor.
type CursorOption func(*Cursor)

// WithSort orders output by the given keys, applied lexicographically.
func WithSort(keys []SortKey) CursorOption {
	return func(c *Cursor) { c.sortBy = keys }
}

// WithLimit caps the number of items yielded. Zero means no cap.
func WithLimit(n int) CursorOption {
	return func(c *Cursor) { c.limit = n }
}

// WithSkip drops the first n items after sorting.
func WithSkip(n int) CursorOption {
	return func(c *Cursor) { c.skip = n }
}

// NewCursor wraps a match set.
func NewCursor(matches []map[string]any, opts ...CursorOption) *Cursor {
	c := &Cursor{matches: matches}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Len returns the unpaginated match count.
func (c *Cursor) Len() int {
	return len(c.matches)
}

// Items returns the sorted, paginated slice. The result is computed once
// and reused.
func (c *Cursor) Items() []map[string]any {
	if c.done {
		return c.paged
	}

	items := make([]map[string]any, len(c.matches))
	copy(items, c.matches)

	if len(c.sortBy) > 0 {
		sort.SliceStable(items, func(i, j int) bool {
			return lessDocs(items[i], items[j], c.sortBy)
		})
	}

	if c.skip > 0 {
		if c.skip >= len(items) {
			items = nil
		} else {
			items = items[c.skip:]
		}
	}

	if c.limit > 0 && len(items) > c.limit {
		items = items[:c.limit]
	}

	c.paged = items
	c.done = true

	return items
}

// All iterates the paginated items.
func (c *Cursor) All(yield func(map[string]any) bool) {
	for _, doc := range c.Items() {
		if !yield(doc) {
			return
		}
	}
}

// lessDocs compares two documents over the sort-key tuple. Mixed-type
// values order by type class (null < bool < number < string < other) so
// the sort stays total.
func lessDocs(a, b map[string]any, keys []SortKey) bool {
	for _, key := range keys {
		av := flatpath.Get(a, key.Path, nil)
		bv := flatpath.Get(b, key.Path, nil)

		cmp := compareValues(av, bv)
		if cmp == 0 {
			continue
		}

		if key.Desc {
			return cmp > 0
		}

		return cmp < 0
	}

	return false
}

func compareValues(a, b any) int {
	ar, br := typeRank(a), typeRank(b)
	if ar != br {
		return ar - br
	}

	switch ar {
	case 1: // bool
		ab, bb := a.(bool), b.(bool)

		switch {
		case ab == bb:
			return 0
		case bb:
			return -1
		default:
			return 1
		}
	case 2: // number
		an, _ := numeric(a)
		bn, _ := numeric(b)

		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	case 3: // string
		return strings.Compare(a.(string), b.(string))
	default:
		return 0
	}
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	case []any, map[string]any:
		return 4
	default:
		if _, ok := numeric(v); ok {
			return 2
		}

		return 4
	}
}
