// Package flatpath converts between nested JSON-shaped documents and flat
// mappings keyed by dotted paths.
//
// A flat mapping holds one entry per non-map leaf, keyed by the dotted
// concatenation of the map keys along the path to it:
//
//	{"a": {"b": 1, "c": {"d": 2}}}  ->  {"a.b": 1, "a.c.d": 2}
//
// Lists are leaves: they are never descended into for key purposes, but map
// elements inside a list are themselves flattened recursively, so a list
// stored at a dotted key is a list of flat mappings (or scalars).
//
// Flatten and Unflatten are inverses for any document that contains no
// literal dots in its keys.
package flatpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Separator joins path segments in flat keys.
const Separator = "."

// ErrPathConflict indicates that a scalar already exists where Unflatten or
// Set needs an intermediate map.
var ErrPathConflict = errors.New("path conflict: scalar where map required")

// ErrPathNotFound indicates that Pop was asked to remove a path that does
// not exist.
var ErrPathNotFound = errors.New("path not found")

// Flatten converts a nested document into a flat mapping keyed by dotted
// paths. The input is not modified.
func Flatten(doc map[string]any) map[string]any {
	out := map[string]any{}
	flattenInto(out, doc, "")

	return out
}

func flattenInto(out map[string]any, doc map[string]any, prefix string) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + Separator + k
		}

		switch tv := v.(type) {
		case map[string]any:
			flattenInto(out, tv, key)
		case []any:
			items := make([]any, len(tv))
			for i, item := range tv {
				if m, ok := item.(map[string]any); ok {
					items[i] = Flatten(m)
				} else {
					items[i] = item
				}
			}

			out[key] = items
		default:
			out[key] = v
		}
	}
}

// Unflatten rebuilds a nested document from a flat mapping. Dotted keys are
// split on the separator and each prefix auto-creates a map. Map elements
// inside list values are unflattened recursively.
//
// Returns ErrPathConflict if an intermediate node already exists as a
// non-map value.
func Unflatten(flat map[string]any) (map[string]any, error) {
	out := map[string]any{}

	for k, v := range flat {
		if items, ok := v.([]any); ok {
			converted := make([]any, len(items))

			for i, item := range items {
				if m, ok := item.(map[string]any); ok {
					um, err := Unflatten(m)
					if err != nil {
						return nil, err
					}

					converted[i] = um
				} else {
					converted[i] = item
				}
			}

			v = converted
		}

		if err := setNested(out, strings.Split(k, Separator), v, k); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func setNested(doc map[string]any, segments []string, value any, fullPath string) error {
	here := doc

	for _, seg := range segments[:len(segments)-1] {
		next, ok := here[seg]
		if !ok {
			m := map[string]any{}
			here[seg] = m
			here = m

			continue
		}

		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w at %q", ErrPathConflict, fullPath)
		}

		here = m
	}

	here[segments[len(segments)-1]] = value

	return nil
}

// Get descends a dotted path and returns the value found there, or def when
// any segment is missing. Numeric segments applied to a list index into it.
func Get(doc any, path string, def any) any {
	current := doc

	for _, seg := range strings.Split(path, Separator) {
		switch tv := current.(type) {
		case map[string]any:
			v, ok := tv[seg]
			if !ok {
				return def
			}

			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(tv) {
				return def
			}

			current = tv[idx]
		default:
			return def
		}
	}

	return current
}

// Set writes a value at a dotted path, auto-creating intermediate maps.
// The document is modified in place. Returns ErrPathConflict if a scalar
// already occupies an intermediate segment.
func Set(doc map[string]any, path string, value any) error {
	return setNested(doc, strings.Split(path, Separator), value, path)
}

// Pop removes the leaf at a dotted path and returns it. The path must
// exist; a missing leaf returns ErrPathNotFound.
func Pop(doc map[string]any, path string) (any, error) {
	segments := strings.Split(path, Separator)
	here := doc

	for _, seg := range segments[:len(segments)-1] {
		next, ok := here[seg].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, path)
		}

		here = next
	}

	leaf := segments[len(segments)-1]

	v, ok := here[leaf]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPathNotFound, path)
	}

	delete(here, leaf)

	return v, nil
}

// Merge deeply merges documents left to right, the rightmost value winning
// for scalar and list leaves while maps merge recursively.
func Merge(docs ...map[string]any) map[string]any {
	out := map[string]any{}

	for _, doc := range docs {
		for k, v := range doc {
			existing, ok := out[k].(map[string]any)
			if incoming, isMap := v.(map[string]any); isMap && ok {
				out[k] = Merge(existing, incoming)

				continue
			}

			out[k] = v
		}
	}

	return out
}

// Pick returns a new document holding only the given dotted paths. A path
// that names a subtree keeps every leaf under it.
func Pick(doc map[string]any, paths []string) (map[string]any, error) {
	flat := Flatten(doc)
	picked := map[string]any{}

	for _, p := range paths {
		if v, ok := flat[p]; ok {
			picked[p] = v

			continue
		}

		prefix := p + Separator
		for k, v := range flat {
			if strings.HasPrefix(k, prefix) {
				picked[k] = v
			}
		}
	}

	return Unflatten(picked)
}

// FindReplace walks a document and replaces any string value found in repl
// with its mapped replacement, descending into maps and lists. The document
// is modified in place and returned.
func FindReplace(doc map[string]any, repl map[string]any) map[string]any {
	for k, v := range doc {
		switch tv := v.(type) {
		case string:
			if r, ok := repl[tv]; ok {
				doc[k] = r
			}
		case []any:
			for i, item := range tv {
				switch ti := item.(type) {
				case string:
					if r, ok := repl[ti]; ok {
						tv[i] = r
					}
				case map[string]any:
					tv[i] = FindReplace(ti, repl)
				}
			}
		case map[string]any:
			doc[k] = FindReplace(tv, repl)
		}
	}

	return doc
}
