package arangodoc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	driver "github.com/arangodb/go-driver"

	"github.com/arangodoc/arangodoc/pkg/dictquery"
	"github.com/arangodoc/arangodoc/pkg/xql"
)

// DocumentStore is the persistence contract a collection writes through.
// The production implementation wraps an ArangoDB collection; a memory
// implementation backs tests and embedding.
//
// Update on a missing document returns ErrItemNotFound, which the commit
// path converts into an insert fallback.
type DocumentStore interface {
	// Has reports whether a document with the key exists.
	Has(ctx context.Context, key string) (bool, error)

	// Get returns the document with the key, or ErrItemNotFound.
	Get(ctx context.Context, key string) (map[string]any, error)

	// Insert stores a new document. With silent set the engine skips
	// returning metadata for the write.
	Insert(ctx context.Context, doc map[string]any, silent bool) error

	// Update patches the stored document identified by doc's _key. With
	// returnNew set, the stored result is returned.
	Update(ctx context.Context, doc map[string]any, returnNew bool) (map[string]any, error)

	// Replace overwrites the stored document identified by doc's _key.
	Replace(ctx context.Context, doc map[string]any, returnNew bool) (map[string]any, error)

	// Delete removes the document with the key.
	Delete(ctx context.Context, key string) error

	// Find returns the documents matching a filter mapping in the XQL
	// filter dialect, at most limit of them when limit is positive. For a
	// non-positive limit the Arango store applies xql.DefaultLimit and the
	// memory store returns every match.
	Find(ctx context.Context, filter map[string]any, limit int) ([]map[string]any, error)
}

// --- ArangoDB-backed store ---

type arangoStore struct {
	db   driver.Database
	coll driver.Collection
}

func (s *arangoStore) Has(ctx context.Context, key string) (bool, error) {
	exists, err := s.coll.DocumentExists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("document exists: %w", err)
	}

	return exists, nil
}

func (s *arangoStore) Get(ctx context.Context, key string) (map[string]any, error) {
	var doc map[string]any

	_, err := s.coll.ReadDocument(ctx, key, &doc)
	if err != nil {
		if driver.IsNotFound(err) {
			return nil, wrap(ErrItemNotFound, withKey(key), withCollection(s.coll.Name()))
		}

		return nil, fmt.Errorf("read document: %w", err)
	}

	return doc, nil
}

func (s *arangoStore) Insert(ctx context.Context, doc map[string]any, silent bool) error {
	if silent {
		ctx = driver.WithSilent(ctx)
	}

	_, err := s.coll.CreateDocument(ctx, doc)
	if err != nil {
		if driver.IsConflict(err) {
			return wrap(ErrItemExists, withCollection(s.coll.Name()))
		}

		return fmt.Errorf("create document: %w", err)
	}

	return nil
}

func (s *arangoStore) Update(ctx context.Context, doc map[string]any, returnNew bool) (map[string]any, error) {
	key, _ := doc["_key"].(string)
	if key == "" {
		return nil, wrap(ErrMissingKey, withCollection(s.coll.Name()))
	}

	var newDoc map[string]any
	if returnNew {
		ctx = driver.WithReturnNew(ctx, &newDoc)
	}

	_, err := s.coll.UpdateDocument(ctx, key, doc)
	if err != nil {
		if driver.IsNotFound(err) {
			return nil, wrap(ErrItemNotFound, withKey(key), withCollection(s.coll.Name()))
		}

		return nil, fmt.Errorf("update document: %w", err)
	}

	return newDoc, nil
}

func (s *arangoStore) Replace(ctx context.Context, doc map[string]any, returnNew bool) (map[string]any, error) {
	key, _ := doc["_key"].(string)
	if key == "" {
		return nil, wrap(ErrMissingKey, withCollection(s.coll.Name()))
	}

	var newDoc map[string]any
	if returnNew {
		ctx = driver.WithReturnNew(ctx, &newDoc)
	}

	_, err := s.coll.ReplaceDocument(ctx, key, doc)
	if err != nil {
		if driver.IsNotFound(err) {
			return nil, wrap(ErrItemNotFound, withKey(key), withCollection(s.coll.Name()))
		}

		return nil, fmt.Errorf("replace document: %w", err)
	}

	return newDoc, nil
}

func (s *arangoStore) Delete(ctx context.Context, key string) error {
	_, err := s.coll.RemoveDocument(ctx, key)
	if err != nil {
		if driver.IsNotFound(err) {
			return wrap(ErrItemNotFound, withKey(key), withCollection(s.coll.Name()))
		}

		return fmt.Errorf("remove document: %w", err)
	}

	return nil
}

func (s *arangoStore) Find(ctx context.Context, filter map[string]any, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = xql.DefaultLimit
	}

	query, bindVars, err := xql.Compile(xql.XQL{
		"FROM":    s.coll.Name(),
		"FILTERS": filter,
		"LIMIT":   limit,
	}, xql.WithMaxLimit(limit))
	if err != nil {
		return nil, err
	}

	cursor, err := s.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	defer func() { _ = cursor.Close() }()

	return readAll(ctx, cursor)
}

// readAll drains a driver cursor into memory. Result sets are materialized
// by design.
func readAll(ctx context.Context, cursor driver.Cursor) ([]map[string]any, error) {
	var docs []map[string]any

	for {
		var doc map[string]any

		_, err := cursor.ReadDocument(ctx, &doc)
		if driver.IsNoMoreDocuments(err) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read cursor: %w", err)
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

// --- In-memory store ---

// MemoryStore is an in-memory DocumentStore used by tests and embedding
// scenarios. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]map[string]any{}}
}

// Has implements DocumentStore.
func (s *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.docs[key]

	return ok, nil
}

// Get implements DocumentStore.
func (s *MemoryStore) Get(_ context.Context, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[key]
	if !ok {
		return nil, wrap(ErrItemNotFound, withKey(key))
	}

	return cloneDoc(doc), nil
}

// Insert implements DocumentStore.
func (s *MemoryStore) Insert(_ context.Context, doc map[string]any, _ bool) error {
	key, _ := doc["_key"].(string)
	if key == "" {
		return wrap(ErrMissingKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[key]; ok {
		return wrap(ErrItemExists, withKey(key))
	}

	s.docs[key] = cloneDoc(doc)

	return nil
}

// Update implements DocumentStore. Incoming fields merge over the stored
// document, matching the engine's partial-update semantics.
func (s *MemoryStore) Update(_ context.Context, doc map[string]any, _ bool) (map[string]any, error) {
	key, _ := doc["_key"].(string)
	if key == "" {
		return nil, wrap(ErrMissingKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.docs[key]
	if !ok {
		return nil, wrap(ErrItemNotFound, withKey(key))
	}

	merged := cloneDoc(stored)
	for k, v := range doc {
		merged[k] = v
	}

	s.docs[key] = merged

	return cloneDoc(merged), nil
}

// Replace implements DocumentStore.
func (s *MemoryStore) Replace(_ context.Context, doc map[string]any, _ bool) (map[string]any, error) {
	key, _ := doc["_key"].(string)
	if key == "" {
		return nil, wrap(ErrMissingKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[key]; !ok {
		return nil, wrap(ErrItemNotFound, withKey(key))
	}

	s.docs[key] = cloneDoc(doc)

	return cloneDoc(doc), nil
}

// Delete implements DocumentStore.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[key]; !ok {
		return wrap(ErrItemNotFound, withKey(key))
	}

	delete(s.docs, key)

	return nil
}

// Find implements DocumentStore using the in-memory filter dialect.
func (s *MemoryStore) Find(_ context.Context, filter map[string]any, limit int) ([]map[string]any, error) {
	s.mu.RLock()

	keys := make([]string, 0, len(s.docs))
	for k := range s.docs {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	all := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		all = append(all, cloneDoc(s.docs[k]))
	}

	s.mu.RUnlock()

	matched, err := dictquery.Query(all, filter)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

// cloneDoc deep-copies a document so store internals never alias caller
// state.
func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))

	for k, v := range doc {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneDoc(tv)
	case []any:
		items := make([]any, len(tv))
		for i, item := range tv {
			items[i] = cloneValue(item)
		}

		return items
	default:
		return v
	}
}
