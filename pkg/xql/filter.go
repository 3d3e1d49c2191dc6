package xql

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gosimple/slug"
)

// ErrInvalidLogic indicates a logical group key ($AND, $OR, ...) whose
// operand is neither a mapping nor a list of mappings.
var ErrInvalidLogic = errors.New("invalid logic group")

// ErrUnknownOperator indicates a filter leaf with an unrecognized operator
// suffix.
var ErrUnknownOperator = errors.New("unknown filter operator")

// filterOperators maps the filter dialect to native AQL operators.
var filterOperators = map[string]string{
	"$EQ":  "==",
	"$NE":  "!=",
	"$GT":  ">",
	"$GTE": ">=",
	"$LT":  "<",
	"$LTE": "<=",
	"$IN":  "IN",
	"$XIN": "NOT IN",
	// containment: the operand order is reversed so the filter value is
	// tested against the document list (value IN alias.path).
	"$INCLUDES":  "IN",
	"$XINCLUDES": "NOT IN",
	"$LIKE":      "LIKE",
	"$NLIKE":     "NOT LIKE",
	"$XLIKE":     "NOT LIKE",
}

// reversedOperators swap operand order: value <op> alias.path.
var reversedOperators = map[string]bool{
	"$INCLUDES":  true,
	"$XINCLUDES": true,
}

// logicConnectives join the leaves of one logical group alternative.
var logicConnectives = map[string]string{
	"$AND": " AND ",
	"$OR":  " OR ",
	"$NOT": " NOT ",
	"$NOR": " NOR ",
}

// splitFilterKey parses a filter leaf key into (path, operator), defaulting
// to $EQ when no operator suffix is present.
func splitFilterKey(k string) (string, string) {
	if idx := strings.Index(k, ":"); idx >= 0 {
		return k[:idx], strings.ToUpper(k[idx+1:])
	}

	return k, "$EQ"
}

// compileLeaf emits one comparison and, unless the value is a #-literal,
// one bind variable for it.
func compileLeaf(key string, value any, alias string, nonce func() string, macros *MacroSet) (string, BindVars, error) {
	path, op := splitFilterKey(key)

	native, ok := filterOperators[op]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}

	value = macros.Eval(value)

	// A value starting with "#" is a literal reference to another alias's
	// field (used inside joins); it is emitted verbatim and never bound.
	if sv, ok := value.(string); ok && strings.HasPrefix(sv, "#") {
		literal := strings.TrimPrefix(sv, "#")

		if reversedOperators[op] {
			return fmt.Sprintf(" %s %s %s.%s", literal, native, alias, path), nil, nil
		}

		return fmt.Sprintf(" %s.%s %s %s", alias, path, native, literal), nil, nil
	}

	ukey := bindName(path, nonce())
	params := BindVars{ukey: value}

	if reversedOperators[op] {
		return fmt.Sprintf(" @%s %s %s.%s", ukey, native, alias, path), params, nil
	}

	return fmt.Sprintf(" %s.%s %s @%s", alias, path, native, ukey), params, nil
}

// bindName slugs a path plus nonce into a bind-variable-safe name.
func bindName(path, nonce string) string {
	return strings.ReplaceAll(slug.Make(path+"_"+nonce), "-", "_")
}

// compileFilters translates a filter sub-tree into FILTER clauses for the
// given alias. Each top-level leaf yields one clause; a logical group key
// yields one clause per alternative, joining that alternative's leaves
// with the group connective. Clauses conjoin in AQL.
func compileFilters(filters map[string]any, alias string, nonce func() string, macros *MacroSet) (string, BindVars, error) {
	var out strings.Builder

	params := BindVars{}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		value := filters[k]

		if strings.HasPrefix(k, "$") {
			connective, ok := logicConnectives[strings.ToUpper(k)]
			if !ok {
				return "", nil, fmt.Errorf("%w: %q", ErrInvalidLogic, k)
			}

			alternatives, err := logicAlternatives(k, value)
			if err != nil {
				return "", nil, err
			}

			for _, alt := range alternatives {
				altKeys := make([]string, 0, len(alt))
				for ak := range alt {
					altKeys = append(altKeys, ak)
				}

				sort.Strings(altKeys)

				leaves := make([]string, 0, len(altKeys))

				for _, ak := range altKeys {
					leaf, leafParams, err := compileLeaf(ak, alt[ak], alias, nonce, macros)
					if err != nil {
						return "", nil, err
					}

					leaves = append(leaves, leaf)

					for pk, pv := range leafParams {
						params[pk] = pv
					}
				}

				fmt.Fprintf(&out, "FILTER (%s)\n", strings.Join(leaves, connective))
			}

			continue
		}

		leaf, leafParams, err := compileLeaf(k, value, alias, nonce, macros)
		if err != nil {
			return "", nil, err
		}

		fmt.Fprintf(&out, "FILTER (%s)\n", leaf)

		for pk, pv := range leafParams {
			params[pk] = pv
		}
	}

	return out.String(), params, nil
}

// logicAlternatives normalizes a logical group operand into a list of leaf
// mappings.
func logicAlternatives(key string, value any) ([]map[string]any, error) {
	switch tv := value.(type) {
	case map[string]any:
		return []map[string]any{tv}, nil
	case []any:
		alts := make([]map[string]any, 0, len(tv))

		for _, item := range tv {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %q holds a non-mapping alternative", ErrInvalidLogic, key)
			}

			alts = append(alts, m)
		}

		return alts, nil
	case []map[string]any:
		return tv, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogic, key)
	}
}

// FilterKeys returns the set of document paths referenced by a filter
// sub-tree, descending into logical groups.
func FilterKeys(filters map[string]any) ([]string, error) {
	set := map[string]bool{}

	for k, v := range filters {
		if strings.HasPrefix(k, "$") {
			if _, ok := logicConnectives[strings.ToUpper(k)]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrInvalidLogic, k)
			}

			alts, err := logicAlternatives(k, v)
			if err != nil {
				return nil, err
			}

			for _, alt := range alts {
				for ak := range alt {
					path, _ := splitFilterKey(ak)
					set[path] = true
				}
			}

			continue
		}

		path, _ := splitFilterKey(k)
		set[path] = true
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys, nil
}
