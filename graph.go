package arangodoc

import (
	"context"
	"fmt"
	"strings"

	driver "github.com/arangodb/go-driver"
)

// EdgeRelation describes one hop of a traversal: the edge collection
// between two vertex collections.
type EdgeRelation struct {
	// Name labels the hop ("users--posts").
	Name string

	// EdgeCollection is the edge collection backing the hop.
	EdgeCollection string

	// From and To are the vertex collection names.
	From string
	To   string
}

// EdgeCollectionName returns the canonical edge collection name between
// two vertex collections.
func EdgeCollectionName(from, to string) string {
	return "edges__" + from + "--" + to
}

// GraphName returns the canonical graph name over a chain of vertex
// collections ("users--posts--comments").
func GraphName(chain string) string {
	return "graph__edges__" + chain
}

// SelectEdgeCollection returns the named edge collection, creating it when
// missing.
func (db *Database) SelectEdgeCollection(ctx context.Context, name string) (driver.Collection, error) {
	exists, err := db.HasCollection(ctx, name)
	if err != nil {
		return nil, err
	}

	if exists {
		coll, err := db.db.Collection(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("edge collection %q: %w", name, err)
		}

		return coll, nil
	}

	coll, err := db.db.CreateCollection(ctx, name, &driver.CreateCollectionOptions{
		Type: driver.CollectionTypeEdge,
	})
	if err != nil {
		return nil, fmt.Errorf("create edge collection %q: %w", name, err)
	}

	db.log.WithField("collection", name).Debug("edge collection created")

	return coll, nil
}

// LinkEdges creates (or refreshes) a graph edge between two items. With an
// empty edgeName the canonical name for the two collections is used. The
// payload's _id and _key are dropped before writing.
func (db *Database) LinkEdges(ctx context.Context, from, to *CollectionItem, data map[string]any, edgeName string) error {
	if from.collection == nil || to.collection == nil {
		return wrap(ErrMissingCommitter, withKey(from.Key()))
	}

	fromColl := from.collection.Name()
	toColl := to.collection.Name()

	if edgeName == "" {
		edgeName = EdgeCollectionName(fromColl, toColl)
	}

	coll, err := db.SelectEdgeCollection(ctx, edgeName)
	if err != nil {
		return err
	}

	edge := make(map[string]any, len(data)+2)

	for k, v := range data {
		if k == "_id" || k == FieldKey {
			continue
		}

		edge[k] = v
	}

	edge["_from"] = fromColl + "/" + from.Key()
	edge["_to"] = toColl + "/" + to.Key()

	store := &arangoStore{db: db.db, coll: coll}

	existing, err := store.Find(ctx, map[string]any{
		"_from": edge["_from"],
		"_to":   edge["_to"],
	}, 1)
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		patch := make(map[string]any, len(edge)+1)
		for k, v := range edge {
			patch[k] = v
		}

		patch[FieldKey] = existing[0][FieldKey]

		_, err = store.Update(ctx, patch, false)

		return err
	}

	return store.Insert(ctx, edge, true)
}

// Traverse walks the graph from an item toward a collection, optionally
// through further relations, and returns one vertex tuple per path. The
// backing graph is created on first use from the edge definitions.
//
// direction is "outbound", "inbound", or "any".
func (db *Database) Traverse(ctx context.Context, from *CollectionItem, to *Collection, relations []EdgeRelation, direction string) ([][]*CollectionItem, error) {
	if from.collection == nil {
		return nil, wrap(ErrMissingCommitter, withKey(from.Key()))
	}

	dir := strings.ToUpper(direction)
	if dir != "OUTBOUND" && dir != "INBOUND" && dir != "ANY" {
		dir = "OUTBOUND"
	}

	fromColl := from.collection.Name()

	chain := fromColl + "--" + to.Name()
	minDepth := 1

	defs := []driver.EdgeDefinition{{
		Collection: EdgeCollectionName(fromColl, to.Name()),
		From:       []string{fromColl},
		To:         []string{to.Name()},
	}}

	for _, rel := range relations {
		chain += "--" + rel.Name
		minDepth++

		defs = append(defs, driver.EdgeDefinition{
			Collection: rel.EdgeCollection,
			From:       []string{rel.From},
			To:         []string{rel.To},
		})
	}

	graphName := GraphName(chain)

	exists, err := db.db.GraphExists(ctx, graphName)
	if err != nil {
		return nil, fmt.Errorf("graph exists: %w", err)
	}

	if !exists {
		_, err = db.db.CreateGraphV2(ctx, graphName, &driver.CreateGraphOptions{
			EdgeDefinitions: defs,
		})
		if err != nil {
			return nil, fmt.Errorf("create graph %q: %w", graphName, err)
		}

		db.log.WithField("graph", graphName).Debug("graph created")
	}

	query := fmt.Sprintf(
		"FOR v, e, p IN @min..@max %s @start GRAPH @graph "+
			"OPTIONS {order: 'bfs', uniqueVertices: 'global', uniqueEdges: 'global'} RETURN p",
		dir,
	)

	cursor, err := db.ExecuteAQL(ctx, query, map[string]any{
		"min":   minDepth,
		"max":   minDepth,
		"start": fromColl + "/" + from.Key(),
		"graph": graphName,
	})
	if err != nil {
		return nil, err
	}

	defer func() { _ = cursor.Close() }()

	paths, err := readAll(ctx, cursor)
	if err != nil {
		return nil, err
	}

	var out [][]*CollectionItem

	for _, path := range paths {
		vertices, _ := path["vertices"].([]any)
		tuple := make([]*CollectionItem, 0, len(vertices))

		for _, v := range vertices {
			doc, ok := v.(map[string]any)
			if !ok {
				continue
			}

			item, err := db.loadItem(ctx, doc)
			if err != nil {
				return nil, err
			}

			tuple = append(tuple, item)
		}

		out = append(out, tuple)
	}

	return out, nil
}

// loadItem rebuilds a committed-capable item from a raw vertex document
// using its _id ("collection/key").
func (db *Database) loadItem(ctx context.Context, doc map[string]any) (*CollectionItem, error) {
	id, _ := doc["_id"].(string)

	collName, _, ok := strings.Cut(id, "/")
	if !ok {
		return nil, wrap(fmt.Errorf("%w: vertex without _id", ErrInvalidPath))
	}

	coll, err := db.SelectCollection(ctx, collName, nil)
	if err != nil {
		return nil, err
	}

	return coll.item(doc)
}
