package arangodoc

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/arangodoc/arangodoc/pkg/mutator"
	"github.com/arangodoc/arangodoc/pkg/timex"
	"github.com/arangodoc/arangodoc/pkg/xql"
)

// ItemAdapter wraps a CollectionItem with caller-defined helpers. The
// adapter receives the item and exposes its own methods; there is no
// attribute forwarding.
type ItemAdapter func(*CollectionItem) any

// CollectionOptions tunes a collection handle.
type CollectionOptions struct {
	// ImmutableKeys are paths no mutation may touch on this collection's
	// items.
	ImmutableKeys []string

	// CustomOps extends the mutation operator set for this collection.
	CustomOps map[string]mutator.CustomOp

	// Adapter wraps items returned by Adapt.
	Adapter ItemAdapter

	// Indexes are ensured, in addition to the default ones, when the
	// collection is created.
	Indexes []Index

	// NoAutoCreate makes selection fail with ErrCollectionNotFound instead
	// of creating a missing collection.
	NoAutoCreate bool
}

// Collection is a handle on one document collection.
type Collection struct {
	db        *Database
	store     DocumentStore
	name      string
	immutKeys []string
	customOps map[string]mutator.CustomOp
	adapter   ItemAdapter
	clock     timex.Clock
	log       logrus.FieldLogger
}

// NewCollection builds a collection handle over any DocumentStore,
// detached from a server connection. Such a collection serves embedding
// and tests: Find evaluates filters through the store instead of compiled
// AQL.
func NewCollection(name string, store DocumentStore, opts *CollectionOptions) *Collection {
	if opts == nil {
		opts = &CollectionOptions{}
	}

	return &Collection{
		store:     store,
		name:      name,
		immutKeys: opts.ImmutableKeys,
		customOps: opts.CustomOps,
		adapter:   opts.Adapter,
		clock:     timex.UTC(),
		log:       logrus.StandardLogger(),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Store exposes the underlying document store.
func (c *Collection) Store() DocumentStore {
	return c.store
}

// item wraps raw document data into a CollectionItem bound to this
// collection.
func (c *Collection) item(data map[string]any) (*CollectionItem, error) {
	opts := c.itemOptions()

	if _, ok := data[FieldKey]; !ok {
		return NewDocumentItem(data, opts...)
	}

	return NewItem(data, opts...)
}

func (c *Collection) itemOptions() []ItemOption {
	return []ItemOption{
		WithCommitter(c.commit),
		WithImmutableKeys(c.immutKeys),
		WithCustomOps(c.customOps),
		withItemDB(c.db, c),
		withItemClock(c.clock),
		withItemLogger(c.log),
	}
}

// Adapt applies the collection's item adapter, returning the item itself
// when none is configured.
func (c *Collection) Adapt(item *CollectionItem) any {
	if c.adapter == nil {
		return item
	}

	return c.adapter(item)
}

// commit persists an item. The stored document is patched in place; when
// the engine reports it missing (evicted, or racing a delete) the item is
// re-inserted whole.
func (c *Collection) commit(ctx context.Context, item *CollectionItem) (map[string]any, error) {
	if item.Key() == "" {
		return nil, wrap(ErrMissingKey, withCollection(c.name))
	}

	if err := item.Timestamp(FieldModifiedAt, true); err != nil {
		return nil, err
	}

	doc, err := c.store.Update(ctx, item.ToMap(), true)
	if err == nil {
		return doc, nil
	}

	if !errors.Is(err, ErrItemNotFound) {
		return nil, wrap(err, withCollection(c.name), withKey(item.Key()))
	}

	if err := c.store.Insert(ctx, item.ToMap(), false); err != nil {
		return nil, wrap(err, withCollection(c.name), withKey(item.Key()))
	}

	return c.store.Get(ctx, item.Key())
}

// Has reports whether the collection holds a document with the key.
func (c *Collection) Has(ctx context.Context, key string) (bool, error) {
	ok, err := c.store.Has(ctx, key)
	if err != nil {
		return false, wrap(err, withCollection(c.name), withKey(key))
	}

	return ok, nil
}

// Get returns the document with the key as an item, or ErrItemNotFound.
func (c *Collection) Get(ctx context.Context, key string) (*CollectionItem, error) {
	doc, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, wrap(err, withCollection(c.name), withKey(key))
	}

	return c.item(doc)
}

// Create builds a new item without inserting it; persist with Commit.
func (c *Collection) Create(data map[string]any) (*CollectionItem, error) {
	return NewDocumentItem(data, c.itemOptions()...)
}

// Insert stores a new document and returns it as an item. A non-empty key
// pins the document's _key; a collision fails with ErrItemExists.
// Operator-qualified keys in data take effect.
func (c *Collection) Insert(ctx context.Context, data map[string]any, key string) (*CollectionItem, error) {
	if key == "" {
		key, _ = data[FieldKey].(string)
	}

	if key != "" {
		exists, err := c.Has(ctx, key)
		if err != nil {
			return nil, err
		}

		if exists {
			return nil, wrap(ErrItemExists, withCollection(c.name), withKey(key))
		}

		data = withField(data, FieldKey, key)
	}

	item, err := NewDocumentItem(data, c.itemOptions()...)
	if err != nil {
		return nil, err
	}

	if err := c.store.Insert(ctx, item.ToMap(), true); err != nil {
		return nil, wrap(err, withCollection(c.name), withKey(item.Key()))
	}

	return c.Get(ctx, item.Key())
}

// Update loads the document with the key, applies the patch against its
// stored state, and commits. Operator keys in data compose with the
// stored values.
func (c *Collection) Update(ctx context.Context, key string, data map[string]any) (*CollectionItem, error) {
	item, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if _, err := item.Update(data); err != nil {
		return nil, err
	}

	if err := item.Commit(ctx); err != nil {
		return nil, err
	}

	return item, nil
}

// Upsert updates when data carries an existing _key, inserts otherwise.
func (c *Collection) Upsert(ctx context.Context, data map[string]any) (*CollectionItem, error) {
	if key, ok := data[FieldKey].(string); ok && key != "" {
		exists, err := c.Has(ctx, key)
		if err != nil {
			return nil, err
		}

		if exists {
			patch := make(map[string]any, len(data))
			for k, v := range data {
				if k != FieldKey {
					patch[k] = v
				}
			}

			return c.Update(ctx, key, patch)
		}
	}

	return c.Insert(ctx, data, "")
}

// Delete removes the document with the key.
func (c *Collection) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return wrap(err, withCollection(c.name), withKey(key))
	}

	return nil
}

// FindOptions tunes a Find call.
type FindOptions struct {
	Limit  int
	Offset int
	Sort   any
}

// Find queries the collection with a filter mapping. Each result document
// is wrapped as a committed-capable item; the query result's mapper yields
// adapted items when the collection has an adapter.
func (c *Collection) Find(ctx context.Context, filters map[string]any, opts *FindOptions) (*QueryResult, error) {
	if opts == nil {
		opts = &FindOptions{}
	}

	if c.db == nil {
		return c.findLocal(ctx, filters, opts)
	}

	q := xql.XQL{
		"FROM":    c.name,
		"FILTERS": filters,
	}

	if opts.Limit > 0 {
		q["LIMIT"] = opts.Limit
	}

	if opts.Offset > 0 {
		q["OFFSET"] = opts.Offset
	}

	if opts.Sort != nil {
		q["SORT"] = opts.Sort
	}

	return c.db.Query(ctx, q, &QueryOptions{Mapper: c.resultMapper()})
}

// findLocal serves Find for store-backed collections without a server
// connection.
func (c *Collection) findLocal(ctx context.Context, filters map[string]any, opts *FindOptions) (*QueryResult, error) {
	matched, err := c.store.Find(ctx, filters, 0)
	if err != nil {
		return nil, wrap(err, withCollection(c.name))
	}

	total := len(matched)

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = xql.DefaultLimit
	}

	if len(matched) > limit {
		matched = matched[:limit]
	}

	page := 1
	if limit > 0 {
		page = opts.Offset/limit + 1
	}

	return newQueryResult(matched, total, page, limit, c.resultMapper()), nil
}

// FindOne returns the first match, or nil.
func (c *Collection) FindOne(ctx context.Context, filters map[string]any) (*CollectionItem, error) {
	res, err := c.Find(ctx, filters, &FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}

	docs := res.Docs()
	if len(docs) == 0 {
		return nil, nil
	}

	return c.item(docs[0])
}

func (c *Collection) resultMapper() DataMapper {
	return func(doc map[string]any) any {
		item, err := c.item(doc)
		if err != nil {
			return doc
		}

		return c.Adapt(item)
	}
}

// Link declares an edge relation from this collection to another, for use
// in traversals.
func (c *Collection) Link(to *Collection) EdgeRelation {
	return EdgeRelation{
		Name:           c.name + "--" + to.name,
		EdgeCollection: EdgeCollectionName(c.name, to.name),
		From:           c.name,
		To:             to.name,
	}
}

func withField(data map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}

	out[key] = value

	return out
}
