package arangodoc_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	arangodoc "github.com/arangodoc/arangodoc"
)

func testCollection(t *testing.T, opts *arangodoc.CollectionOptions) (*arangodoc.Collection, *arangodoc.MemoryStore) {
	t.Helper()

	store := arangodoc.NewMemoryStore()

	return arangodoc.NewCollection("users", store, opts), store
}

func insertDoc(t *testing.T, coll *arangodoc.Collection, data map[string]any) *arangodoc.CollectionItem {
	t.Helper()

	item, err := coll.Insert(t.Context(), data, "")
	require.NoError(t, err)

	return item
}

func Test_NewItem_Requires_Key(t *testing.T) {
	t.Parallel()

	_, err := arangodoc.NewItem(map[string]any{"name": "Ada"})

	require.ErrorIs(t, err, arangodoc.ErrMissingKey)
}

func Test_NewDocumentItem_Stamps_Creation_Fields(t *testing.T) {
	t.Parallel()

	item, err := arangodoc.NewDocumentItem(map[string]any{"name": "Ada"})
	require.NoError(t, err)

	require.NotEmpty(t, item.Key())

	createdAt, ok := item.Get("_created_at").(string)
	require.True(t, ok, "created_at = %T", item.Get("_created_at"))

	parsed, err := time.Parse(time.RFC3339, createdAt)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().UTC(), parsed, 5*time.Second)

	require.Nil(t, item.Get("_modified_at"))
}

func Test_Item_Mutations_Apply_Locally_Without_IO(t *testing.T) {
	t.Parallel()

	coll, store := testCollection(t, nil)
	item := insertDoc(t, coll, map[string]any{"name": "Ada", "visits": 0})

	n, err := item.Incr("visits", 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	require.NoError(t, item.Xpush("tags", "pioneer"))
	require.NoError(t, item.Set("profile.city", "London"))

	// nothing persisted yet
	stored, err := store.Get(t.Context(), item.Key())
	require.NoError(t, err)
	require.Equal(t, 0, stored["visits"])
	require.NotContains(t, stored, "tags")
}

func Test_Item_Commit_Persists_And_Refreshes_ModifiedAt(t *testing.T) {
	t.Parallel()

	coll, store := testCollection(t, nil)
	item := insertDoc(t, coll, map[string]any{"name": "Ada"})

	_, err := item.Incr("visits", 1)
	require.NoError(t, err)

	require.NoError(t, item.Commit(t.Context()))

	stored, err := store.Get(t.Context(), item.Key())
	require.NoError(t, err)

	require.Equal(t, int64(1), stored["visits"])

	modified, ok := stored["_modified_at"].(string)
	require.True(t, ok, "modified_at = %T", stored["_modified_at"])

	parsed, err := time.Parse(time.RFC3339, modified)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().UTC(), parsed, 5*time.Second)
}

func Test_Item_Commit_Falls_Back_To_Insert_When_Stored_Doc_Vanished(t *testing.T) {
	t.Parallel()

	coll, store := testCollection(t, nil)
	item := insertDoc(t, coll, map[string]any{"name": "Ada"})

	// the stored document disappears behind the item's back
	require.NoError(t, store.Delete(t.Context(), item.Key()))

	require.NoError(t, item.Set("name", "Countess"))
	require.NoError(t, item.Commit(t.Context()))

	stored, err := store.Get(t.Context(), item.Key())
	require.NoError(t, err)
	require.Equal(t, "Countess", stored["name"])
}

func Test_Item_Commit_Without_Committer_Fails(t *testing.T) {
	t.Parallel()

	item, err := arangodoc.NewItem(map[string]any{"_key": "k"})
	require.NoError(t, err)

	err = item.Commit(t.Context())
	require.ErrorIs(t, err, arangodoc.ErrMissingCommitter)
}

func Test_Item_ReadOnly_Ignores_Mutations_And_Commit(t *testing.T) {
	t.Parallel()

	item, err := arangodoc.NewItem(map[string]any{"_key": "k", "n": 1}, arangodoc.ReadOnly())
	require.NoError(t, err)

	require.NoError(t, item.Set("n", 99))
	require.Equal(t, 1, item.Get("n"))

	require.NoError(t, item.Commit(t.Context()))
}

func Test_Item_SetTTL_Shifter_And_Clear(t *testing.T) {
	t.Parallel()

	item, err := arangodoc.NewItem(map[string]any{"_key": "k"})
	require.NoError(t, err)

	require.NoError(t, item.SetTTL("+2days"))

	ttl, ok := item.Get("__ttl").(string)
	require.True(t, ok, "__ttl = %T", item.Get("__ttl"))

	parsed, err := time.Parse(time.RFC3339, ttl)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().UTC().Add(48*time.Hour), parsed, 5*time.Second)

	require.NoError(t, item.SetTTL(false))
	require.Nil(t, item.Get("__ttl"))
}

func Test_Item_Context_Commits_On_Exit(t *testing.T) {
	t.Parallel()

	coll, store := testCollection(t, nil)
	item := insertDoc(t, coll, map[string]any{"name": "Ada"})

	err := item.Context(t.Context(), func(it *arangodoc.CollectionItem) error {
		return it.Set("name", "Updated")
	})
	require.NoError(t, err)

	stored, err := store.Get(t.Context(), item.Key())
	require.NoError(t, err)
	require.Equal(t, "Updated", stored["name"])
}

func Test_Item_Context_Commits_Even_When_Fn_Fails(t *testing.T) {
	t.Parallel()

	coll, store := testCollection(t, nil)
	item := insertDoc(t, coll, map[string]any{"name": "Ada"})

	boom := errors.New("boom")

	err := item.Context(t.Context(), func(it *arangodoc.CollectionItem) error {
		if serr := it.Set("name", "Changed"); serr != nil {
			return serr
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := store.Get(t.Context(), item.Key())
	require.NoError(t, err)
	require.Equal(t, "Changed", stored["name"])
}

func Test_Item_Template_And_UUID4_Surface(t *testing.T) {
	t.Parallel()

	item, err := arangodoc.NewItem(map[string]any{
		"_key":  "k",
		"first": "Ada",
		"last":  "Lovelace",
	})
	require.NoError(t, err)

	require.NoError(t, item.Template("full", "{{ first }} {{ last }}"))
	require.Equal(t, "Ada Lovelace", item.Get("full"))

	require.NoError(t, item.UUID4("token"))
	require.Len(t, item.Get("token"), 36)
}

func Test_Item_List_Surface_Round_Trip(t *testing.T) {
	t.Parallel()

	item, err := arangodoc.NewItem(map[string]any{"_key": "k"})
	require.NoError(t, err)

	require.NoError(t, item.XpushMany("l", "a", "b"))
	require.NoError(t, item.Xpushl("l", "start"))
	require.NoError(t, item.Xadd("l", "a")) // already present

	require.Equal(t, []any{"start", "a", "b"}, item.Get("l"))
	require.Equal(t, 3, item.Len("l"))

	tail, err := item.Xpop("l")
	require.NoError(t, err)
	require.Equal(t, "b", tail)

	head, err := item.Xpopl("l")
	require.NoError(t, err)
	require.Equal(t, "start", head)

	removed, err := item.Unset("l")
	require.NoError(t, err)
	require.Equal(t, []any{"a"}, removed)
}

func Test_Item_Update_Batches_Arbitrary_Patch(t *testing.T) {
	t.Parallel()

	item, err := arangodoc.NewItem(map[string]any{"_key": "k", "n": 1})
	require.NoError(t, err)

	oplog, err := item.Update(map[string]any{
		"n:$incr": 4,
		"label":   "x",
	})
	require.NoError(t, err)

	require.Equal(t, int64(5), oplog["n:$incr"])
	require.Equal(t, "x", item.Get("label"))
}

func Test_Item_Immutable_Keys_Hold_Through_Item_Surface(t *testing.T) {
	t.Parallel()

	coll, _ := testCollection(t, &arangodoc.CollectionOptions{
		ImmutableKeys: []string{"role"},
	})

	item := insertDoc(t, coll, map[string]any{"name": "Ada", "role": "admin"})

	require.NoError(t, item.Set("role", "intruder"))
	require.Equal(t, "admin", item.Get("role"))
}

func Test_Item_Subcollections_Lift_Out_Of_Working_Document(t *testing.T) {
	t.Parallel()

	coll, store := testCollection(t, nil)
	item := insertDoc(t, coll, map[string]any{"name": "Ada"})

	sc := item.SelectSubcollection("comments")

	_, err := sc.Insert(map[string]any{"text": "first"}, "")
	require.NoError(t, err)

	require.Equal(t, []string{"comments"}, item.Subcollections())
	require.Nil(t, item.Get("__subcollections"), "working document stays clean")

	require.NoError(t, item.Commit(t.Context()))

	stored, err := store.Get(t.Context(), item.Key())
	require.NoError(t, err)
	require.Contains(t, stored, "__subcollections")
}

func Test_Item_Legacy_Subcollections_Key_Migrates_On_Load(t *testing.T) {
	t.Parallel()

	item, err := arangodoc.NewItem(map[string]any{
		"_key": "k",
		"/subcollections": map[string]any{
			"notes": []any{map[string]any{"_key": "n1", "text": "old"}},
		},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"notes"}, item.Subcollections())

	// re-attached under the current reserved key
	doc := item.ToMap()
	require.Contains(t, doc, "__subcollections")
	require.NotContains(t, doc, "/subcollections")
}

func Test_Item_GetItem_Resolves_Sub_Path(t *testing.T) {
	t.Parallel()

	item, err := arangodoc.NewItem(map[string]any{"_key": "k"})
	require.NoError(t, err)

	_, err = item.SelectSubcollection("comments").Insert(map[string]any{"text": "hi"}, "c1")
	require.NoError(t, err)

	sub, err := item.GetItem("comments/c1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, "hi", sub.Get("text"))

	_, err = item.GetItem("only-one-part")
	require.ErrorIs(t, err, arangodoc.ErrInvalidPath)
}

func Test_Item_DropSubcollection_Removes_Embedded_Data(t *testing.T) {
	t.Parallel()

	item, err := arangodoc.NewItem(map[string]any{"_key": "k"})
	require.NoError(t, err)

	_, err = item.SelectSubcollection("notes").Insert(map[string]any{"a": 1}, "")
	require.NoError(t, err)

	require.NoError(t, item.DropSubcollection("notes"))
	require.Empty(t, item.Subcollections())
	require.NotContains(t, item.ToMap(), "__subcollections")
}

func Test_Item_ContextSubcollection_Commits_Parent_On_Exit(t *testing.T) {
	t.Parallel()

	coll, store := testCollection(t, nil)
	item := insertDoc(t, coll, map[string]any{"name": "Ada"})

	err := item.ContextSubcollection(t.Context(), "comments", func(sc *arangodoc.SubCollection) error {
		_, ierr := sc.Insert(map[string]any{"text": "scoped"}, "")

		return ierr
	})
	require.NoError(t, err)

	stored, err := store.Get(t.Context(), item.Key())
	require.NoError(t, err)
	require.Contains(t, stored, "__subcollections")
}
