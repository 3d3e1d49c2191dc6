package arangodoc

import (
	"fmt"

	"github.com/arangodoc/arangodoc/pkg/dictquery"
	"github.com/arangodoc/arangodoc/pkg/flatpath"
	"github.com/arangodoc/arangodoc/pkg/mutator"
)

// SubCollection is a handle on an embedded subcollection: an ordered list
// of sub-documents stored inline under the parent document's reserved
// subcollections mapping. The parent owns the data; the handle borrows it
// and writes through, so persisting still goes through the parent's
// Commit.
type SubCollection struct {
	parent      *CollectionItem
	name        string
	constraints []string
}

// Name returns the subcollection name.
func (s *SubCollection) Name() string {
	return s.name
}

// docs returns the current sub-documents.
func (s *SubCollection) docs() []map[string]any {
	raw := s.parent.subcollections[s.name]
	out := make([]map[string]any, 0, len(raw))

	for _, item := range raw {
		if doc, ok := item.(map[string]any); ok {
			out = append(out, doc)
		}
	}

	return out
}

func (s *SubCollection) store(docs []map[string]any) {
	raw := make([]any, len(docs))
	for i, doc := range docs {
		raw[i] = doc
	}

	s.parent.setSubcollection(s.name, raw)
}

// save replaces the sub-document with the given key.
func (s *SubCollection) save(key string, doc map[string]any) {
	docs := s.docs()

	for i, existing := range docs {
		if existing[FieldKey] == key {
			docs[i] = doc
			s.store(docs)

			return
		}
	}

	docs = append(docs, doc)
	s.store(docs)
}

// Len returns the number of sub-documents.
func (s *SubCollection) Len() int {
	return len(s.parent.subcollections[s.name])
}

// Has reports whether a sub-document with the key exists.
func (s *SubCollection) Has(key string) bool {
	item, err := s.FindOne(map[string]any{FieldKey: key})

	return err == nil && item != nil
}

// Insert adds a sub-document. Operator-qualified keys in data take effect
// through the mutator. A non-empty key pins the sub-document's _key.
//
// When the subcollection carries constraint paths, an insert whose value
// at any constraint path already exists fails with ErrConstraint.
func (s *SubCollection) Insert(data map[string]any, key string) (*SubCollectionItem, error) {
	// like the item constructor, the insert payload may set immutable
	// fields
	doc, _, err := mutator.Mutate(data, nil,
		mutator.WithCustomOps(s.parent.customOps),
		mutator.WithClock(s.parent.clock),
		mutator.WithLogger(s.parent.log),
	)
	if err != nil {
		return nil, err
	}

	for _, c := range s.constraints {
		v := flatpath.Get(doc, c, nil)
		if v == nil {
			continue
		}

		existing, err := s.FindOne(map[string]any{c: v})
		if err != nil {
			return nil, err
		}

		if existing != nil {
			return nil, wrap(fmt.Errorf("%w on %q", ErrConstraint, c), withKey(s.parent.key))
		}
	}

	if key == "" {
		key, _ = doc[FieldKey].(string)
	}

	if key != "" {
		if s.Has(key) {
			return nil, wrap(ErrItemExists, withKey(key))
		}

		doc[FieldKey] = key
	} else {
		doc[FieldKey] = NewKey()
	}

	stamped, _, err := mutator.Mutate(map[string]any{
		FieldCreatedAt + ":$timestamp": true,
		FieldModifiedAt:                nil,
	}, doc, mutator.WithClock(s.parent.clock))
	if err != nil {
		return nil, err
	}

	docs := s.docs()
	docs = append(docs, stamped)
	s.store(docs)

	return s.item(stamped), nil
}

// UpdateWhere applies mutations to every sub-document matching filters.
// With upsert set and nothing matching, the mutations insert a new
// sub-document instead.
func (s *SubCollection) UpdateWhere(filters, mutations map[string]any, upsert bool) error {
	matched, err := dictquery.Query(s.docs(), filters)
	if err != nil {
		return err
	}

	if len(matched) == 0 {
		if upsert {
			_, err := s.Insert(mutations, "")

			return err
		}

		return nil
	}

	for _, doc := range matched {
		key, _ := doc[FieldKey].(string)

		updated, _, err := mutator.Mutate(mutations, doc,
			mutator.WithImmutableKeys(s.parent.immutKeys),
			mutator.WithCustomOps(s.parent.customOps),
			mutator.WithClock(s.parent.clock),
			mutator.WithLogger(s.parent.log),
		)
		if err != nil {
			return err
		}

		// the key survives whatever the mutations did
		updated[FieldKey] = key

		s.save(key, updated)
	}

	return nil
}

// DeleteWhere removes every sub-document matching filters.
func (s *SubCollection) DeleteWhere(filters map[string]any) error {
	matched, err := dictquery.Query(s.docs(), filters)
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(matched))

	for _, doc := range matched {
		if key, ok := doc[FieldKey].(string); ok {
			drop[key] = true
		}
	}

	var kept []map[string]any

	for _, doc := range s.docs() {
		key, _ := doc[FieldKey].(string)
		if !drop[key] {
			kept = append(kept, doc)
		}
	}

	s.store(kept)

	return nil
}

// Get returns the sub-document with the key, or nil.
func (s *SubCollection) Get(key string) (*SubCollectionItem, error) {
	return s.FindOne(map[string]any{FieldKey: key})
}

// FindOne returns the first sub-document matching filters, or nil.
func (s *SubCollection) FindOne(filters map[string]any) (*SubCollectionItem, error) {
	matched, err := dictquery.Query(s.docs(), filters)
	if err != nil {
		return nil, err
	}

	if len(matched) == 0 {
		return nil, nil
	}

	return s.item(matched[0]), nil
}

// Find evaluates filters against the subcollection and returns a cursor
// over the matches. sorts maps paths to a direction ("asc"/"desc" or the
// 1/-1 convention).
func (s *SubCollection) Find(filters map[string]any, sorts map[string]any, limit, skip int) (*dictquery.Cursor, error) {
	matched, err := dictquery.Query(s.docs(), filters)
	if err != nil {
		return nil, err
	}

	return dictquery.NewCursor(matched,
		dictquery.WithSort(sortKeys(sorts)),
		dictquery.WithLimit(limit),
		dictquery.WithSkip(skip),
	), nil
}

// Filter is Find without pagination.
func (s *SubCollection) Filter(filters map[string]any) (*dictquery.Cursor, error) {
	matched, err := dictquery.Query(s.docs(), filters)
	if err != nil {
		return nil, err
	}

	return dictquery.NewCursor(matched), nil
}

// Items returns a cursor over every sub-document.
func (s *SubCollection) Items() *dictquery.Cursor {
	return dictquery.NewCursor(s.docs())
}

func (s *SubCollection) item(doc map[string]any) *SubCollectionItem {
	item := &SubCollectionItem{sub: s}
	item.itemCore.apply = item.applyPatch
	item.load(doc)

	return item
}

// sortKeys converts a {path: direction} mapping into cursor sort keys.
func sortKeys(sorts map[string]any) []dictquery.SortKey {
	if len(sorts) == 0 {
		return nil
	}

	keys := make([]dictquery.SortKey, 0, len(sorts))

	for path, dir := range sorts {
		desc := false

		switch tv := dir.(type) {
		case string:
			desc = tv == "desc" || tv == "DESC"
		case int:
			desc = tv == -1
		case float64:
			desc = tv == -1
		}

		keys = append(keys, dictquery.SortKey{Path: path, Desc: desc})
	}

	return keys
}

// SubCollectionItem is a sub-document handle with the same mutation
// surface as a collection item. Mutations write through into the parent's
// subcollection data; the parent persists them on its own Commit.
type SubCollectionItem struct {
	itemCore

	sub *SubCollection
}

// Parent returns the owning collection item.
func (i *SubCollectionItem) Parent() *CollectionItem {
	return i.sub.parent
}

func (i *SubCollectionItem) applyPatch(patch map[string]any) (mutator.Oplog, error) {
	parent := i.sub.parent

	doc, oplog, err := mutator.Mutate(patch, i.data,
		mutator.WithImmutableKeys(parent.immutKeys),
		mutator.WithCustomOps(parent.customOps),
		mutator.WithClock(parent.clock),
		mutator.WithLogger(parent.log),
	)
	if err != nil {
		return nil, err
	}

	i.sub.save(i.key, doc)
	i.load(doc)

	return oplog, nil
}

func (i *SubCollectionItem) load(doc map[string]any) {
	i.key, _ = doc[FieldKey].(string)
	i.data = doc
}

// ToMap returns the sub-document.
func (i *SubCollectionItem) ToMap() map[string]any {
	out := make(map[string]any, len(i.data))
	for k, v := range i.data {
		out[k] = v
	}

	return out
}
