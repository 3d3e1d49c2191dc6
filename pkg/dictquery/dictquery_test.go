package dictquery_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arangodoc/arangodoc/pkg/dictquery"
)

func docs(vals ...map[string]any) []map[string]any {
	return vals
}

func Test_Query_Filters_Sorts_And_Paginates(t *testing.T) {
	t.Parallel()

	data := docs(
		map[string]any{"a": 1},
		map[string]any{"a": 2},
		map[string]any{"a": 3},
	)

	matched, err := dictquery.Query(data, map[string]any{"a:$gte": 2})
	require.NoError(t, err)

	cursor := dictquery.NewCursor(matched,
		dictquery.WithSort([]dictquery.SortKey{{Path: "a", Desc: true}}),
		dictquery.WithLimit(10),
	)

	require.Equal(t, 2, cursor.Len())

	var seen []any

	cursor.All(func(doc map[string]any) bool {
		seen = append(seen, doc["a"])

		return true
	})

	require.Equal(t, []any{3, 2}, seen)
}

func Test_Query_Default_Operator_Is_Equality(t *testing.T) {
	t.Parallel()

	matched, err := dictquery.Query(docs(
		map[string]any{"name": "ada"},
		map[string]any{"name": "grace"},
	), map[string]any{"name": "ada"})
	require.NoError(t, err)

	require.Len(t, matched, 1)
	require.Equal(t, "ada", matched[0]["name"])
}

func Test_Match_Comparison_Operators(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"n": 5, "s": "hello", "tags": []any{"x", "y"}}

	cases := []struct {
		filters map[string]any
		want    bool
	}{
		{map[string]any{"n:$eq": 5}, true},
		{map[string]any{"n:$eq": 5.0}, true}, // numeric coercion
		{map[string]any{"n:$ne": 5}, false},
		{map[string]any{"n:$gt": 4}, true},
		{map[string]any{"n:$gt": 5}, false},
		{map[string]any{"n:$gte": 5}, true},
		{map[string]any{"n:$lt": 6}, true},
		{map[string]any{"n:$lte": 4}, false},
		{map[string]any{"n:$in": []any{4, 5}}, true},
		{map[string]any{"n:$xin": []any{4, 5}}, false},
		{map[string]any{"tags:$includes": "x"}, true},
		{map[string]any{"tags:$includes": "zz"}, false},
		{map[string]any{"tags:$xincludes": "zz"}, true},
		{map[string]any{"s:$like": "hel%"}, true},
		{map[string]any{"s:$like": "h_llo"}, true},
		{map[string]any{"s:$like": "nope%"}, false},
		{map[string]any{"s:$nlike": "nope%"}, true},
	}

	for _, tc := range cases {
		got, err := dictquery.Match(doc, tc.filters)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "filters %v", tc.filters)
	}
}

func Test_Match_Dotted_Paths_Descend(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"profile": map[string]any{"city": "Charlotte"},
	}

	got, err := dictquery.Match(doc, map[string]any{"profile.city": "Charlotte"})
	require.NoError(t, err)
	require.True(t, got)
}

func Test_Match_Logic_Groups(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"a": 1, "b": 2}

	or, err := dictquery.Match(doc, map[string]any{
		"$or": map[string]any{"a": 99, "b": 2},
	})
	require.NoError(t, err)
	require.True(t, or)

	and, err := dictquery.Match(doc, map[string]any{
		"$and": map[string]any{"a": 1, "b": 99},
	})
	require.NoError(t, err)
	require.False(t, and)

	not, err := dictquery.Match(doc, map[string]any{
		"$not": map[string]any{"a": 99},
	})
	require.NoError(t, err)
	require.True(t, not)
}

func Test_Match_Logic_With_List_Of_Alternatives_Conjoins_Clauses(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"a": 1, "b": 2}

	got, err := dictquery.Match(doc, map[string]any{
		"$or": []any{
			map[string]any{"a": 1, "b": 99}, // clause 1: true
			map[string]any{"a": 99},         // clause 2: false
		},
	})
	require.NoError(t, err)
	require.False(t, got)
}

func Test_Match_Invalid_Logic_Operand_Fails(t *testing.T) {
	t.Parallel()

	_, err := dictquery.Match(map[string]any{}, map[string]any{"$and": 42})

	require.ErrorIs(t, err, dictquery.ErrInvalidLogic)
}

func Test_Match_Unknown_Operator_Fails(t *testing.T) {
	t.Parallel()

	_, err := dictquery.Match(map[string]any{"a": 1}, map[string]any{"a:$near": 1})

	require.ErrorIs(t, err, dictquery.ErrUnknownOperator)
}

func Test_Cursor_Skip_And_Limit_Window(t *testing.T) {
	t.Parallel()

	data := docs(
		map[string]any{"n": 1},
		map[string]any{"n": 2},
		map[string]any{"n": 3},
		map[string]any{"n": 4},
	)

	cursor := dictquery.NewCursor(data,
		dictquery.WithSort([]dictquery.SortKey{{Path: "n"}}),
		dictquery.WithSkip(1),
		dictquery.WithLimit(2),
	)

	require.Equal(t, 4, cursor.Len(), "Len reports the unpaginated count")

	items := cursor.Items()
	require.Len(t, items, 2)
	require.Equal(t, 2, items[0]["n"])
	require.Equal(t, 3, items[1]["n"])
}

func Test_Cursor_Sort_Orders_Mixed_Types_By_Class(t *testing.T) {
	t.Parallel()

	data := docs(
		map[string]any{"v": "str"},
		map[string]any{"v": 2},
		map[string]any{"v": nil},
		map[string]any{"v": true},
	)

	cursor := dictquery.NewCursor(data,
		dictquery.WithSort([]dictquery.SortKey{{Path: "v"}}))

	items := cursor.Items()
	require.Nil(t, items[0]["v"])
	require.Equal(t, true, items[1]["v"])
	require.Equal(t, 2, items[2]["v"])
	require.Equal(t, "str", items[3]["v"])
}

func Test_Query_Evaluates_Macros_Before_Matching(t *testing.T) {
	t.Parallel()

	// NOW renders to today's date; a future marker can never be less
	// than it, an ancient one always is.
	matched, err := dictquery.Query(docs(
		map[string]any{"day": "1999-01-01"},
		map[string]any{"day": "9999-01-01"},
	), map[string]any{"day:$lt": "[[@MACRO:NOW]]"})
	require.NoError(t, err)

	require.Len(t, matched, 1)
	require.Equal(t, "1999-01-01", matched[0]["day"])
}
