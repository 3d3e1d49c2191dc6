package arangodoc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	arangodoc "github.com/arangodoc/arangodoc"
)

func parentItem(t *testing.T) *arangodoc.CollectionItem {
	t.Helper()

	item, err := arangodoc.NewItem(map[string]any{"_key": "parent"})
	require.NoError(t, err)

	return item
}

func Test_SubCollection_Insert_Stamps_Key_And_Creation_Fields(t *testing.T) {
	t.Parallel()

	sc := parentItem(t).SelectSubcollection("comments")

	sub, err := sc.Insert(map[string]any{"text": "hello"}, "")
	require.NoError(t, err)

	require.NotEmpty(t, sub.Key())
	require.Equal(t, "hello", sub.Get("text"))
	require.NotEmpty(t, sub.Get("_created_at"))
	require.Equal(t, 1, sc.Len())
}

func Test_SubCollection_Insert_Duplicate_Key_Fails(t *testing.T) {
	t.Parallel()

	sc := parentItem(t).SelectSubcollection("comments")

	_, err := sc.Insert(map[string]any{"text": "one"}, "c1")
	require.NoError(t, err)

	_, err = sc.Insert(map[string]any{"text": "two"}, "c1")
	require.ErrorIs(t, err, arangodoc.ErrItemExists)
}

func Test_SubCollection_Constraint_Path_Blocks_Duplicates(t *testing.T) {
	t.Parallel()

	sc := parentItem(t).SelectSubcollection("accounts", "email")

	_, err := sc.Insert(map[string]any{"email": "a@x.io"}, "")
	require.NoError(t, err)

	_, err = sc.Insert(map[string]any{"email": "a@x.io"}, "")
	require.ErrorIs(t, err, arangodoc.ErrConstraint)

	// a different value passes
	_, err = sc.Insert(map[string]any{"email": "b@x.io"}, "")
	require.NoError(t, err)
}

func Test_SubCollection_Find_Honors_Filters_Sort_And_Pagination(t *testing.T) {
	t.Parallel()

	sc := parentItem(t).SelectSubcollection("scores")

	for _, n := range []int{1, 2, 3} {
		_, err := sc.Insert(map[string]any{"a": n}, "")
		require.NoError(t, err)
	}

	cursor, err := sc.Find(map[string]any{"a:$gte": 2}, map[string]any{"a": -1}, 10, 0)
	require.NoError(t, err)

	require.Equal(t, 2, cursor.Len())

	items := cursor.Items()
	require.Equal(t, 3, items[0]["a"])
	require.Equal(t, 2, items[1]["a"])
}

func Test_SubCollection_FindOne_And_Get(t *testing.T) {
	t.Parallel()

	sc := parentItem(t).SelectSubcollection("comments")

	_, err := sc.Insert(map[string]any{"text": "target"}, "c9")
	require.NoError(t, err)

	byKey, err := sc.Get("c9")
	require.NoError(t, err)
	require.NotNil(t, byKey)
	require.Equal(t, "target", byKey.Get("text"))

	byFilter, err := sc.FindOne(map[string]any{"text": "target"})
	require.NoError(t, err)
	require.NotNil(t, byFilter)

	missing, err := sc.Get("nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func Test_SubCollection_Item_Mutations_Write_Through_To_Parent(t *testing.T) {
	t.Parallel()

	parent := parentItem(t)
	sc := parent.SelectSubcollection("comments")

	sub, err := sc.Insert(map[string]any{"text": "orig", "votes": 0}, "c1")
	require.NoError(t, err)

	n, err := sub.Incr("votes", 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	require.NoError(t, sub.Set("text", "edited"))

	// the parent's embedded data holds the change
	again, err := parent.SelectSubcollection("comments").Get("c1")
	require.NoError(t, err)
	require.Equal(t, "edited", again.Get("text"))
	require.Equal(t, int64(2), again.Get("votes"))

	require.Same(t, parent, sub.Parent())
}

func Test_SubCollection_UpdateWhere_Mutates_Matches(t *testing.T) {
	t.Parallel()

	sc := parentItem(t).SelectSubcollection("tasks")

	_, err := sc.Insert(map[string]any{"state": "open", "n": 1}, "t1")
	require.NoError(t, err)
	_, err = sc.Insert(map[string]any{"state": "open", "n": 2}, "t2")
	require.NoError(t, err)
	_, err = sc.Insert(map[string]any{"state": "done", "n": 3}, "t3")
	require.NoError(t, err)

	err = sc.UpdateWhere(map[string]any{"state": "open"}, map[string]any{
		"state":   "done",
		"n:$incr": 10,
	}, false)
	require.NoError(t, err)

	cursor, err := sc.Filter(map[string]any{"state": "done"})
	require.NoError(t, err)
	require.Equal(t, 3, cursor.Len())

	t1, err := sc.Get("t1")
	require.NoError(t, err)
	require.Equal(t, int64(11), t1.Get("n"))
	require.Equal(t, "t1", t1.Key(), "key survives the mutation")
}

func Test_SubCollection_UpdateWhere_Upserts_When_Nothing_Matches(t *testing.T) {
	t.Parallel()

	sc := parentItem(t).SelectSubcollection("tasks")

	err := sc.UpdateWhere(map[string]any{"state": "ghost"}, map[string]any{"state": "new"}, true)
	require.NoError(t, err)

	require.Equal(t, 1, sc.Len())
}

func Test_SubCollection_DeleteWhere_Removes_Matches(t *testing.T) {
	t.Parallel()

	sc := parentItem(t).SelectSubcollection("tasks")

	_, err := sc.Insert(map[string]any{"state": "open"}, "t1")
	require.NoError(t, err)
	_, err = sc.Insert(map[string]any{"state": "done"}, "t2")
	require.NoError(t, err)

	require.NoError(t, sc.DeleteWhere(map[string]any{"state": "open"}))

	require.Equal(t, 1, sc.Len())
	require.False(t, sc.Has("t1"))
	require.True(t, sc.Has("t2"))
}

func Test_SubCollection_Items_Iterates_Everything(t *testing.T) {
	t.Parallel()

	sc := parentItem(t).SelectSubcollection("all")

	for i := 0; i < 3; i++ {
		_, err := sc.Insert(map[string]any{"i": i}, "")
		require.NoError(t, err)
	}

	count := 0

	sc.Items().All(func(map[string]any) bool {
		count++

		return true
	})

	require.Equal(t, 3, count)
}
