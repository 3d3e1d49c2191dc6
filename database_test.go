package arangodoc

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/arangodoc/arangodoc/pkg/timex"
	"github.com/arangodoc/arangodoc/pkg/xql"
)

func testDatabase() *Database {
	return &Database{
		cfg:   DefaultConfig(),
		name:  "_system",
		log:   logrus.StandardLogger(),
		clock: timex.Fixed(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)),
	}
}

func Test_BuildQuery_Applies_KVMap_Over_Filters(t *testing.T) {
	t.Parallel()

	db := testDatabase()

	query, bindVars, _, _, err := db.BuildQuery(xql.XQL{
		"FROM":    "users",
		"FILTERS": map[string]any{"tenant": "$current_tenant"},
	}, &QueryOptions{
		KVMap: map[string]any{"$current_tenant": "acme"},
	})
	require.NoError(t, err)

	require.Contains(t, query, "root__.tenant ==")

	found := false

	for k, v := range bindVars {
		if strings.HasPrefix(k, "tenant_") {
			found = true

			require.Equal(t, "acme", v)
		}
	}

	require.True(t, found, "tenant bind var missing: %v", bindVars)
}

func Test_BuildQuery_Vars_Override_Pagination_And_Merge_Binds(t *testing.T) {
	t.Parallel()

	db := testDatabase()

	_, bindVars, page, perPage, err := db.BuildQuery(xql.XQL{
		"FROM":  "users",
		"LIMIT": 10,
	}, &QueryOptions{
		Vars: map[string]any{
			"page":  3,
			"limit": 20,
			"extra": "kept",
		},
	})
	require.NoError(t, err)

	require.Equal(t, 3, page)
	require.Equal(t, 20, perPage)
	require.Equal(t, "kept", bindVars["extra"])
	require.NotContains(t, bindVars, "page")
	require.NotContains(t, bindVars, "limit")

	for k, v := range bindVars {
		if strings.HasPrefix(k, "offset_") {
			require.Equal(t, 40, v)
		}
	}
}

func Test_BuildQuery_Clamps_To_Configured_Max_Limit(t *testing.T) {
	t.Parallel()

	db := testDatabase()
	db.cfg.QueryMaxLimit = 25

	_, bindVars, _, perPage, err := db.BuildQuery(xql.XQL{
		"FROM":  "users",
		"LIMIT": 500,
	}, nil)
	require.NoError(t, err)

	require.Equal(t, 25, perPage)

	for k, v := range bindVars {
		if strings.HasPrefix(k, "limit_") {
			require.Equal(t, 25, v)
		}
	}
}

func Test_GetItem_Rejects_Malformed_Paths(t *testing.T) {
	t.Parallel()

	db := testDatabase()

	for _, path := range []string{"one", "a/b/c/d/e", "a//b", "/", ""} {
		_, err := db.GetItem(t.Context(), path)
		require.ErrorIs(t, err, ErrInvalidPath, "path %q", path)
	}
}

func Test_EdgeCollectionName_And_GraphName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "edges__users--posts", EdgeCollectionName("users", "posts"))
	require.Equal(t, "graph__edges__users--posts--comments", GraphName("users--posts--comments"))
}
