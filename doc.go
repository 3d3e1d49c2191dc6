// Package arangodoc is a document abstraction layer over ArangoDB.
//
// # Overview
//
// It exposes collections of JSON-shaped documents with three core
// facilities layered on top of the raw driver:
//
//   - Deep mutation: every write goes through an operator-laden patch
//     document ($set, $incr, $unset, list editing, timestamp generation,
//     template rendering, UUID minting) applied by [pkg/mutator], which
//     also yields an operation log.
//   - XQL: a declarative, nestable query tree (filters, sorts, joins,
//     pagination, macros) compiled by [pkg/xql] into parameterized AQL.
//   - Embedded subcollections: lists of sub-documents stored inline under
//     a parent document's reserved __subcollections mapping and queried
//     in process by [pkg/dictquery] with the same filter dialect.
//
// # Documents
//
// Every document carries an opaque _key (immutable once present) plus the
// system fields _created_at, _modified_at, and __ttl. The TTL index on
// __ttl lets the engine evict expired documents.
//
// # Usage
//
//	db, err := arangodoc.Connect(ctx, arangodoc.Config{
//	    Endpoints: []string{"http://localhost:8529"},
//	    Username:  "root",
//	    Database:  "app",
//	})
//	coll, err := db.SelectCollection(ctx, "users", nil)
//
//	item, err := coll.Insert(ctx, map[string]any{"name": "Ada"}, "")
//	_, err = item.Incr("visits", 1)
//	err = item.Commit(ctx)
//
//	res, err := db.Query(ctx, xql.XQL{
//	    "FROM":    "users",
//	    "FILTERS": map[string]any{"visits:$gte": 1},
//	}, nil)
//
// Items accumulate mutations locally and flush on Commit; mutation methods
// never perform I/O themselves.
package arangodoc
