// Package mutator applies operator-laden patch documents to JSON-shaped
// values.
//
// A patch is a mapping whose keys are dotted paths, optionally qualified
// with an operator suffix:
//
//	{
//	    "visits:$incr": 1,
//	    "tags:$xadd": "new",
//	    "profile.city": "Charlotte",       // plain keys mean $set
//	    "expires:$timestamp": "+2days",
//	    "token:$uuid4": true,
//	}
//
// Mutate returns the mutated document together with an operation log that
// reports the effect of operators with a meaningful result (the value after
// an increment, the element removed by a pop, the value removed by an
// unset). Operators that merely write ($set, $xpush, ...) do not appear in
// the log.
//
// Operators fall into two groups. Direct operators are evaluated in key
// order against the current state. Deferred operators ($template, $xlen,
// $rename, $copy, and any registered custom operator) run in a post pass
// after every direct operator of the call, so they observe final values.
// A failure in the post pass never aborts the mutation: the target path is
// left unchanged and the failure is logged at debug level.
package mutator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/cbroglie/mustache"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/arangodoc/arangodoc/pkg/flatpath"
	"github.com/arangodoc/arangodoc/pkg/timex"
)

// ErrTypeMismatch indicates a direct operator found a value of the wrong
// type at its target path: an integer operator on a non-integer, or a list
// operator on a non-list.
var ErrTypeMismatch = errors.New("type mismatch")

// Oplog records the effect of applied operators, keyed by the full
// operator-qualified patch key ("path:$op").
type Oplog map[string]any

// CustomOp extends the mutator with a caller-defined operator. It receives
// the flat document state, the target path, and the patch value, and
// returns the new leaf value. Custom operators run in the post pass; an
// error skips the write.
type CustomOp func(data map[string]any, path string, value any) (any, error)

// listOperators regroup nested operator keys during the restructure pass so
// that the operator receives a sub-mapping mutated through its own
// recursive call.
var listOperators = map[string]bool{
	"xadd": true, "xadd_many": true,
	"xrem": true, "xrem_many": true,
	"xpush": true, "xpush_many": true,
	"xpushl": true, "xpushl_many": true,
}

// deferredOperators run in the post pass.
var deferredOperators = map[string]bool{
	"template": true,
	"xlen":     true,
	"rename":   true,
	"copy":     true,
}

type options struct {
	immut  map[string]bool
	custom map[string]CustomOp
	clock  timex.Clock
	newID  func() string
	log    logrus.FieldLogger
}

// Option configures a Mutate call.
type Option func(*options)

// WithImmutableKeys marks paths that no operator may touch.
func WithImmutableKeys(keys []string) Option {
	return func(o *options) {
		for _, k := range keys {
			o.immut[k] = true
		}
	}
}

// WithCustomOps registers caller-defined operators by name.
func WithCustomOps(ops map[string]CustomOp) Option {
	return func(o *options) {
		for name, fn := range ops {
			o.custom[name] = fn
		}
	}
}

// WithClock overrides the clock used by time operators.
func WithClock(c timex.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithUUID overrides the generator behind $uuid4.
func WithUUID(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithLogger sets the logger for swallowed post-pass failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// Mutate applies a patch to an initial document and returns the mutated
// document plus the oplog. Neither input is modified.
//
// Direct-pass type errors (ErrTypeMismatch) abort the call; every other
// failed precondition skips that single operation and leaves the document
// untouched at its path.
func Mutate(patch, init map[string]any, opts ...Option) (map[string]any, Oplog, error) {
	o := options{
		immut:  map[string]bool{},
		custom: map[string]CustomOp{},
		clock:  timex.UTC(),
		newID:  func() string { return uuid.New().String() },
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := machine{opts: o}

	entries := restructure(flatpath.Flatten(patch))

	flat, oplog, err := m.run(entries, flatpath.Flatten(init), true)
	if err != nil {
		return nil, nil, err
	}

	doc, err := flatpath.Unflatten(flat)
	if err != nil {
		return nil, nil, err
	}

	return doc, oplog, nil
}

// entry is one (operator key, value) pair. Patches are mappings, so the
// pass order is fixed by sorting keys; plain entries apply before the
// regrouped list-operator groups.
type entry struct {
	key   string
	value any
	group map[string]any // non-nil for a regrouped list-operator entry
}

var opToken = regexp.MustCompile(`:\$\w+`)

// splitOpKey breaks a flat key into alternating path and ":$op" segments,
// dropping the dot that separates an operator from a trailing sub-path.
func splitOpKey(k string) []string {
	var parts []string

	rest := k
	for rest != "" {
		loc := opToken.FindStringIndex(rest)
		if loc == nil {
			parts = append(parts, rest)

			break
		}

		if pre := rest[:loc[0]]; pre != "" {
			parts = append(parts, pre)
		}

		parts = append(parts, rest[loc[0]:loc[1]])
		rest = strings.TrimPrefix(rest[loc[1]:], ".")
	}

	return parts
}

// restructure regroups flat keys that continue past a list operator
// ("a:$xadd.sub" and friends) into nested mini-patches, and defaults every
// unqualified key to $set.
func restructure(flat map[string]any) []entry {
	var plain []entry

	groups := map[string]map[string]any{}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		v := flat[k]
		parts := splitOpKey(k)

		if len(parts) > 2 {
			op := strings.TrimPrefix(parts[1], ":$")
			if listOperators[op] {
				groupKey := parts[0] + ":$" + op
				if groups[groupKey] == nil {
					groups[groupKey] = map[string]any{}
				}

				sub := strings.ReplaceAll(strings.Join(parts[2:], "."), ".:$", ":$")
				groups[groupKey][sub] = v

				continue
			}

			plain = append(plain, entry{key: k, value: v})

			continue
		}

		if !strings.Contains(k, ":$") {
			k += ":$set"
		}

		plain = append(plain, entry{key: k, value: v})
	}

	groupKeys := make([]string, 0, len(groups))
	for k := range groups {
		groupKeys = append(groupKeys, k)
	}

	sort.Strings(groupKeys)

	for _, k := range groupKeys {
		plain = append(plain, entry{key: k, group: groups[k]})
	}

	return plain
}

// unoperable marks an operation whose result must not be written.
type unoperable struct{}

type machine struct {
	opts options
}

// run executes the direct pass then the post pass over flat state.
// topLevel distinguishes the outer call from the recursive mini-patch
// calls, which carry no immutable keys or custom operators.
func (m machine) run(entries []entry, init map[string]any, topLevel bool) (map[string]any, Oplog, error) {
	data := make(map[string]any, len(init))
	for k, v := range init {
		data[k] = v
	}

	oplog := Oplog{}

	var deferred []entry

	for _, e := range entries {
		if topLevel && m.opts.immut[e.key] {
			continue
		}

		value := e.value

		if e.group != nil {
			sub, _, err := m.run(restructure(e.group), nil, false)
			if err != nil {
				return nil, nil, err
			}

			value = sub
		}

		if items, ok := value.([]any); ok {
			mutated, err := m.mutateElements(items)
			if err != nil {
				return nil, nil, err
			}

			value = mutated
		}

		if !strings.Contains(e.key, ":") {
			data[e.key] = value

			continue
		}

		if !strings.Contains(e.key, ":$") {
			continue
		}

		idx := strings.Index(e.key, ":$")
		path, op := e.key[:idx], e.key[idx+2:]

		if topLevel && m.opts.immut[path] {
			continue
		}

		if deferredOperators[op] {
			deferred = append(deferred, entry{key: e.key, value: value})

			continue
		}

		if _, ok := m.opts.custom[op]; ok && topLevel {
			deferred = append(deferred, entry{key: e.key, value: value})

			continue
		}

		result, err := m.applyDirect(data, oplog, e.key, path, op, value)
		if err != nil {
			return nil, nil, err
		}

		if _, skip := result.(unoperable); skip {
			continue
		}

		data[path] = result
	}

	m.postProcess(data, deferred)

	return data, oplog, nil
}

// mutateElements runs map elements of a list value through their own
// recursive pass so operator keys nested inside list items take effect.
func (m machine) mutateElements(items []any) ([]any, error) {
	out := make([]any, len(items))

	for i, item := range items {
		sub, ok := item.(map[string]any)
		if !ok {
			out[i] = item

			continue
		}

		mutated, _, err := m.run(restructure(sub), nil, false)
		if err != nil {
			return nil, err
		}

		out[i] = mutated
	}

	return out, nil
}

func (m machine) applyDirect(data map[string]any, oplog Oplog, opkey, path, op string, value any) (any, error) {
	switch op {
	case "set":
		return value, nil

	case "incr", "decr":
		cur, err := intAt(data, path)
		if err != nil {
			return nil, err
		}

		by := int64(1)
		if n, err := intValue(value); err == nil {
			by = n
		}

		if op == "decr" {
			by = -by
		}

		next := cur + by
		oplog[opkey] = next

		return next, nil

	case "unset":
		removed := data[path]
		delete(data, path)
		oplog[opkey] = removed

		return unoperable{}, nil

	case "timestamp", "datetime", "currdate":
		now := m.opts.clock.Now()

		switch tv := value.(type) {
		case bool:
			if tv {
				return timex.Stamp(now), nil
			}

			return unoperable{}, nil
		case string:
			return timex.Stamp(timex.Shift(now, tv)), nil
		default:
			return unoperable{}, nil
		}

	case "uuid4":
		return m.opts.newID(), nil

	case "xadd", "xadd_many", "xrem", "xrem_many",
		"xpush", "xpush_many", "xpushl", "xpushl_many":
		return m.applyListOp(data, path, op, value)

	case "xpop":
		cur, err := listAt(data, path)
		if err != nil {
			return nil, err
		}

		if len(cur) == 0 {
			return unoperable{}, nil
		}

		oplog[opkey] = cur[len(cur)-1]

		return cur[:len(cur)-1], nil

	case "xpopl":
		cur, err := listAt(data, path)
		if err != nil {
			return nil, err
		}

		if len(cur) == 0 {
			return unoperable{}, nil
		}

		oplog[opkey] = cur[0]

		return cur[1:], nil

	default:
		return unoperable{}, nil
	}
}

func (m machine) applyListOp(data map[string]any, path, op string, value any) (any, error) {
	cur, err := listAt(data, path)
	if err != nil {
		return nil, err
	}

	values := manyValues(value, strings.HasSuffix(op, "_many"))

	switch {
	case strings.HasPrefix(op, "xadd"):
		next := cur
		for _, v := range values {
			if !containsValue(next, v) {
				next = append(next, v)
			}
		}

		return next, nil

	case strings.HasPrefix(op, "xrem"):
		next := cur
		removed := false

		for _, v := range values {
			for i, existing := range next {
				if reflect.DeepEqual(existing, v) {
					next = append(next[:i:i], next[i+1:]...)
					removed = true

					break
				}
			}
		}

		if !removed {
			return unoperable{}, nil
		}

		return next, nil

	case op == "xpush" || op == "xpush_many":
		return append(cur, values...), nil

	default: // xpushl, xpushl_many: prepend the block, preserving its order
		next := make([]any, 0, len(values)+len(cur))
		next = append(next, values...)

		return append(next, cur...), nil
	}
}

// postProcess applies deferred operators in insertion order against the
// final direct-pass state. Failures are swallowed and logged; the target
// path stays unchanged.
func (m machine) postProcess(data map[string]any, deferred []entry) {
	for _, e := range deferred {
		idx := strings.Index(e.key, ":$")
		if idx < 0 {
			continue
		}

		path, op := e.key[:idx], e.key[idx+2:]

		if m.opts.immut[path] {
			continue
		}

		var err error

		switch op {
		case "template":
			err = m.renderTemplate(data, path, e.value)

		case "xlen":
			src, ok := e.value.(string)
			if !ok || src == "" {
				continue
			}

			data[path] = lengthOf(data[src])

		case "rename":
			dst, ok := e.value.(string)
			if !ok || dst == "" {
				continue
			}

			data[dst] = data[path]
			delete(data, path)

		case "copy":
			dst, ok := e.value.(string)
			if !ok || dst == "" {
				continue
			}

			data[dst] = data[path]

		default:
			fn, ok := m.opts.custom[op]
			if !ok {
				continue
			}

			var next any

			next, err = fn(data, path, e.value)
			if err == nil {
				data[path] = next
			}
		}

		if err != nil {
			m.opts.log.WithFields(logrus.Fields{"op": op, "path": path}).
				WithError(err).Debug("post-pass operator skipped")
		}
	}
}

func (m machine) renderTemplate(data map[string]any, path string, value any) error {
	tmpl, ok := value.(string)
	if !ok {
		return fmt.Errorf("template value must be a string, got %T", value)
	}

	ctx, err := flatpath.Unflatten(data)
	if err != nil {
		return err
	}

	now := timex.Stamp(m.opts.clock.Now())
	ctx["TIMESTAMP"] = now
	ctx["DATETIME"] = now

	rendered, err := mustache.Render(tmpl, ctx)
	if err != nil {
		return err
	}

	data[path] = rendered

	return nil
}

// intAt reads the integer at path, treating absent and null as zero.
func intAt(data map[string]any, path string) (int64, error) {
	v, ok := data[path]
	if !ok || v == nil {
		return 0, nil
	}

	n, err := intValue(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q must be an integer", ErrTypeMismatch, path)
	}

	return n, nil
}

// intValue coerces numeric scalars to int64 and rejects everything else.
func intValue(v any) (int64, error) {
	switch v.(type) {
	case nil, bool, string, []any, map[string]any:
		return 0, fmt.Errorf("%w: not an integer", ErrTypeMismatch)
	}

	return cast.ToInt64E(v)
}

// listAt reads the list at path, treating absent and null as empty.
func listAt(data map[string]any, path string) ([]any, error) {
	v, ok := data[path]
	if !ok || v == nil {
		return nil, nil
	}

	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a list", ErrTypeMismatch, path)
	}

	return l, nil
}

func manyValues(value any, many bool) []any {
	if !many {
		return []any{value}
	}

	if l, ok := value.([]any); ok {
		return l
	}

	return []any{value}
}

func containsValue(list []any, v any) bool {
	for _, existing := range list {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}

	return false
}

func lengthOf(v any) int {
	switch tv := v.(type) {
	case nil:
		return 0
	case string:
		return len(tv)
	case []any:
		return len(tv)
	case map[string]any:
		return len(tv)
	default:
		return 0
	}
}
