// Package xql compiles XQL, a declarative, nestable query tree, into AQL
// plus bind variables.
//
// An XQL tree is a mapping with the recognized fields FROM, ALIAS, FILTERS,
// SORT, LIMIT, OFFSET, PAGE, JOIN, COUNT_AS, and RETURN:
//
//	xql.XQL{
//	    "FROM": "users",
//	    "FILTERS": map[string]any{"age:$gt": 18},
//	    "SORT": "name:desc",
//	    "LIMIT": 5,
//	    "PAGE": 2,
//	}
//
// Compile produces a parameterized query; every value that is not a
// #-prefixed literal reference is moved into the bind-variable map under a
// slugged name with a fresh numeric nonce, so nested joins never collide
// with their parents.
package xql

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/spf13/cast"

	"github.com/arangodoc/arangodoc/pkg/timex"
)

// DefaultLimit applies when a tree does not set LIMIT.
const DefaultLimit = 10

// DefaultAlias is the iteration variable used when a tree does not set
// ALIAS.
const DefaultAlias = "root__"

// ErrMissingFrom indicates a tree without a FROM collection.
var ErrMissingFrom = errors.New("xql: missing FROM")

// XQL is a query tree. Recognized keys are case-insensitive on input.
type XQL map[string]any

// BindVars is the bind-variable side map of a compiled query.
type BindVars map[string]any

// ParserFunc may rewrite a normalized tree immediately before emission.
// Callers use it for concerns like role-based filter injection.
type ParserFunc func(XQL) XQL

// NonceFunc yields unique suffixes within one compile call.
type NonceFunc func() string

// CounterNonce returns a monotonic 6-digit nonce generator. Unlike a
// random draw it cannot collide within a compile call.
func CounterNonce() NonceFunc {
	var n atomic.Int64

	n.Store(100000)

	return func() string {
		v := n.Add(1)

		return fmt.Sprintf("%06d", v%1000000)
	}
}

type compileOptions struct {
	maxLimit int
	nonce    NonceFunc
	parser   ParserFunc
	macros   *MacroSet
}

// CompileOption configures a Compile call.
type CompileOption func(*compileOptions)

// WithMaxLimit clamps LIMIT for the tree and every join. Default 100.
func WithMaxLimit(n int) CompileOption {
	return func(o *compileOptions) { o.maxLimit = n }
}

// WithNonce overrides the nonce generator.
func WithNonce(fn NonceFunc) CompileOption {
	return func(o *compileOptions) { o.nonce = fn }
}

// WithParser installs a per-call tree rewriter.
func WithParser(fn ParserFunc) CompileOption {
	return func(o *compileOptions) { o.parser = fn }
}

// WithMacros overrides the macro registry used on filter values.
func WithMacros(m *MacroSet) CompileOption {
	return func(o *compileOptions) { o.macros = m }
}

// WithClock rebuilds the default macro registry on the given clock.
func WithClock(c timex.Clock) CompileOption {
	return func(o *compileOptions) { o.macros = NewMacroSet(c) }
}

// Normalize uppercases recognized keys and fills defaults. The input tree
// is not modified.
func Normalize(q XQL) XQL {
	out := XQL{
		"FROM":     nil,
		"ALIAS":    DefaultAlias,
		"FILTERS":  map[string]any{},
		"SORT":     nil,
		"LIMIT":    DefaultLimit,
		"OFFSET":   nil,
		"PAGE":     1,
		"JOIN":     []any{},
		"COUNT_AS": nil,
		"RETURN":   nil,
	}

	for k, v := range q {
		out[strings.ToUpper(k)] = v
	}

	return out
}

// ResolvePage computes the effective (limit, offset, page) triple for a
// tree: when OFFSET is unset it derives from PAGE and LIMIT, and LIMIT is
// clamped to maxLimit.
func ResolvePage(q XQL, maxLimit int) (int, int, int) {
	q = Normalize(q)

	limit := intOr(q["LIMIT"], DefaultLimit)
	page := intOr(q["PAGE"], 1)

	if limit > maxLimit {
		limit = maxLimit
	}

	offset, hasOffset := intValue(q["OFFSET"])
	if !hasOffset {
		offset = paginationOffset(page, limit)
	}

	return limit, offset, page
}

// paginationOffset converts a 1-based page into a skip count.
func paginationOffset(page, perPage int) int {
	if page < 1 {
		return 0
	}

	return (page - 1) * perPage
}

// Compile translates a tree into (query, bind variables).
func Compile(q XQL, opts ...CompileOption) (string, BindVars, error) {
	o := compileOptions{maxLimit: 100}
	for _, opt := range opts {
		opt(&o)
	}

	if o.nonce == nil {
		o.nonce = CounterNonce()
	}

	if o.macros == nil {
		o.macros = NewMacroSet(nil)
	}

	return compile(q, o)
}

func compile(q XQL, o compileOptions) (string, BindVars, error) {
	q = Normalize(q)

	if o.parser != nil {
		q = Normalize(o.parser(q))
	}

	collection, _ := q["FROM"].(string)
	if collection == "" {
		return "", nil, ErrMissingFrom
	}

	alias, _ := q["ALIAS"].(string)
	if alias == "" {
		alias = DefaultAlias
	}

	filters, _ := q["FILTERS"].(map[string]any)

	returnExpr, _ := q["RETURN"].(string)
	if returnExpr == "" {
		returnExpr = alias
	}

	limit, offset, _ := ResolvePage(q, o.maxLimit)

	num := o.nonce()

	filterClause, filterVars, err := compileFilters(filters, alias, o.nonce, o.macros)
	if err != nil {
		return "", nil, err
	}

	sortClause, err := buildSort(q["SORT"], alias)
	if err != nil {
		return "", nil, err
	}

	collectClause := ""
	if countAs, _ := q["COUNT_AS"].(string); countAs != "" {
		collectClause = fmt.Sprintf(" COLLECT WITH COUNT INTO %s ", countAs)
	}

	bindVars := BindVars{}

	subquery := ""

	for _, join := range joinList(q["JOIN"]) {
		sub := Normalize(join)

		subAQL, subVars, err := compile(sub, o)
		if err != nil {
			return "", nil, err
		}

		subAlias, _ := sub["ALIAS"].(string)
		subquery += fmt.Sprintf("\nLET %s = (%s) \n", subAlias, subAQL)

		for k, v := range subVars {
			bindVars[k] = v
		}
	}

	var query strings.Builder

	// Join bindings come first so the main loop's filters can reference
	// join aliases.
	query.WriteString(subquery)
	fmt.Fprintf(&query, "FOR %s IN @@collection_%s ", alias, num)
	query.WriteString(filterClause)
	query.WriteString(collectClause)
	fmt.Fprintf(&query, " LIMIT @offset_%s, @limit_%s ", num, num)
	query.WriteString(sortClause)
	fmt.Fprintf(&query, "RETURN UNSET_RECURSIVE(%s, ['_id', '_rev', '_old_rev'])", returnExpr)

	for k, v := range filterVars {
		bindVars[k] = v
	}

	bindVars["offset_"+num] = offset
	bindVars["limit_"+num] = limit
	bindVars["@collection_"+num] = collection

	return query.String(), bindVars, nil
}

// buildSort emits a SORT clause from a string ("name:desc"), a list of such
// strings, or a mapping of path to direction. Direction defaults to ASC.
func buildSort(sorts any, alias string) (string, error) {
	var directives []string

	switch tv := sorts.(type) {
	case nil:
		return "", nil
	case string:
		directives = []string{tv}
	case []string:
		directives = tv
	case []any:
		for _, s := range tv {
			sv, ok := s.(string)
			if !ok {
				return "", fmt.Errorf("sort directive must be a string, got %T", s)
			}

			directives = append(directives, sv)
		}
	case map[string]any:
		paths := make([]string, 0, len(tv))
		for p := range tv {
			paths = append(paths, p)
		}

		sort.Strings(paths)

		for _, p := range paths {
			directives = append(directives, fmt.Sprintf("%s:%s", p, ascDesc(tv[p])))
		}
	default:
		return "", fmt.Errorf("unsupported sort type %T", sorts)
	}

	if len(directives) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(directives))

	for _, d := range directives {
		path, dir := d, "ASC"
		if idx := strings.Index(d, ":"); idx >= 0 {
			path, dir = d[:idx], strings.ToUpper(d[idx+1:])
		}

		clauses = append(clauses, fmt.Sprintf("%s.%s %s", alias, path, dir))
	}

	return " SORT " + strings.Join(clauses, ", ") + " ", nil
}

// ascDesc renders a direction given as a string or the -1/1 convention.
func ascDesc(v any) string {
	switch tv := v.(type) {
	case string:
		if strings.EqualFold(tv, "DESC") {
			return "DESC"
		}

		return "ASC"
	default:
		if n, ok := intValue(v); ok && n == -1 {
			return "DESC"
		}

		return "ASC"
	}
}

// Collections returns the distinct FROM collection names across a tree and
// all nested joins. Callers use it for authorization pre-checks.
func Collections(q XQL) []string {
	set := map[string]bool{}
	collectCollections(q, set)

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func collectCollections(q XQL, set map[string]bool) {
	q = Normalize(q)

	if name, _ := q["FROM"].(string); name != "" {
		set[name] = true
	}

	for _, join := range joinList(q["JOIN"]) {
		collectCollections(join, set)
	}
}

// modifierTokens are the AQL data-modification keywords.
var modifierTokens = map[string]bool{
	"REMOVE": true, "UPDATE": true, "REPLACE": true, "INSERT": true, "UPSERT": true,
}

// HasModifierOps reports whether a query contains data-modification
// keywords. Callers enforcing read-only execution check this before
// running caller-supplied AQL.
func HasModifierOps(aql string) bool {
	for _, tok := range strings.Fields(aql) {
		if modifierTokens[strings.ToUpper(tok)] {
			return true
		}
	}

	return false
}

func joinList(v any) []XQL {
	switch tv := v.(type) {
	case []XQL:
		return tv
	case []any:
		joins := make([]XQL, 0, len(tv))

		for _, item := range tv {
			switch ti := item.(type) {
			case XQL:
				joins = append(joins, ti)
			case map[string]any:
				joins = append(joins, XQL(ti))
			}
		}

		return joins
	case []map[string]any:
		joins := make([]XQL, 0, len(tv))
		for _, item := range tv {
			joins = append(joins, XQL(item))
		}

		return joins
	default:
		return nil
	}
}

func intOr(v any, def int) int {
	if n, ok := intValue(v); ok {
		return n
	}

	return def
}

func intValue(v any) (int, bool) {
	if v == nil {
		return 0, false
	}

	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, false
	}

	return n, true
}

