package arangodoc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/arangodoc/arangodoc/pkg/flatpath"
	"github.com/arangodoc/arangodoc/pkg/mutator"
	"github.com/arangodoc/arangodoc/pkg/timex"
)

// Reserved field names in persisted documents.
const (
	// FieldKey is the document key.
	FieldKey = "_key"

	// FieldCreatedAt is stamped once at creation.
	FieldCreatedAt = "_created_at"

	// FieldModifiedAt is refreshed on every persisted write.
	FieldModifiedAt = "_modified_at"

	// FieldTTL holds the eviction timestamp the engine's TTL index watches.
	FieldTTL = "__ttl"

	// FieldSubcollections holds embedded subcollections. It is lifted out
	// of the working document on load so filters never collide with it.
	FieldSubcollections = "__subcollections"

	// legacySubcollectionsField was used by earlier revisions of the
	// persisted format and is migrated on load.
	legacySubcollectionsField = "/subcollections"
)

// NewKey returns a fresh document key.
func NewKey() string {
	return xid.New().String()
}

// itemCore carries the shared mutation surface of collection items and
// subcollection items. Every method funnels through apply, which runs the
// patch through the mutator and re-hydrates the holder's state.
type itemCore struct {
	data  map[string]any
	key   string
	apply func(patch map[string]any) (mutator.Oplog, error)
}

// Key returns the document key.
func (i *itemCore) Key() string {
	return i.key
}

// Get returns the value at a dotted path, or nil.
func (i *itemCore) Get(path string) any {
	return flatpath.Get(i.data, path, nil)
}

// GetOr returns the value at a dotted path, or def when absent.
func (i *itemCore) GetOr(path string, def any) any {
	return flatpath.Get(i.data, path, def)
}

// Len returns the length of the string, list, or map at a dotted path,
// or zero.
func (i *itemCore) Len(path string) int {
	switch v := i.Get(path).(type) {
	case string:
		return len(v)
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	default:
		return 0
	}
}

// Set writes a value at a dotted path.
func (i *itemCore) Set(path string, value any) error {
	_, err := i.apply(map[string]any{path: value})

	return err
}

// Unset removes the value at a dotted path and returns it.
func (i *itemCore) Unset(path string) (any, error) {
	op := path + ":$unset"

	oplog, err := i.apply(map[string]any{op: true})
	if err != nil {
		return nil, err
	}

	return oplog[op], nil
}

// Incr adds by to the integer at path (missing counts as zero) and returns
// the new value.
func (i *itemCore) Incr(path string, by int64) (int64, error) {
	op := path + ":$incr"

	oplog, err := i.apply(map[string]any{op: by})
	if err != nil {
		return 0, err
	}

	return cast.ToInt64(oplog[op]), nil
}

// Decr subtracts by from the integer at path and returns the new value.
func (i *itemCore) Decr(path string, by int64) (int64, error) {
	op := path + ":$decr"

	oplog, err := i.apply(map[string]any{op: by})
	if err != nil {
		return 0, err
	}

	return cast.ToInt64(oplog[op]), nil
}

// Rename moves the value at path to newPath.
func (i *itemCore) Rename(path, newPath string) error {
	_, err := i.apply(map[string]any{path + ":$rename": newPath})

	return err
}

// Copy duplicates the value at path to newPath.
func (i *itemCore) Copy(path, newPath string) error {
	_, err := i.apply(map[string]any{path + ":$copy": newPath})

	return err
}

// Xadd appends a value to the list at path unless already present.
func (i *itemCore) Xadd(path string, value any) error {
	_, err := i.apply(map[string]any{path + ":$xadd": value})

	return err
}

// XaddMany appends each value missing from the list at path.
func (i *itemCore) XaddMany(path string, values ...any) error {
	_, err := i.apply(map[string]any{path + ":$xadd_many": values})

	return err
}

// Xrem removes the first occurrence of a value from the list at path.
func (i *itemCore) Xrem(path string, value any) error {
	_, err := i.apply(map[string]any{path + ":$xrem": value})

	return err
}

// XremMany removes the first occurrence of each value.
func (i *itemCore) XremMany(path string, values ...any) error {
	_, err := i.apply(map[string]any{path + ":$xrem_many": values})

	return err
}

// Xpush appends a value to the tail of the list at path.
func (i *itemCore) Xpush(path string, value any) error {
	_, err := i.apply(map[string]any{path + ":$xpush": value})

	return err
}

// XpushMany appends values to the tail of the list at path.
func (i *itemCore) XpushMany(path string, values ...any) error {
	_, err := i.apply(map[string]any{path + ":$xpush_many": values})

	return err
}

// Xpushl prepends a value to the head of the list at path.
func (i *itemCore) Xpushl(path string, value any) error {
	_, err := i.apply(map[string]any{path + ":$xpushl": value})

	return err
}

// XpushlMany prepends values as a block, preserving their order.
func (i *itemCore) XpushlMany(path string, values ...any) error {
	_, err := i.apply(map[string]any{path + ":$xpushl_many": values})

	return err
}

// Xpop removes and returns the tail of the list at path. Returns nil on an
// empty list.
func (i *itemCore) Xpop(path string) (any, error) {
	op := path + ":$xpop"

	oplog, err := i.apply(map[string]any{op: true})
	if err != nil {
		return nil, err
	}

	return oplog[op], nil
}

// Xpopl removes and returns the head of the list at path. Returns nil on
// an empty list.
func (i *itemCore) Xpopl(path string) (any, error) {
	op := path + ":$xpopl"

	oplog, err := i.apply(map[string]any{op: true})
	if err != nil {
		return nil, err
	}

	return oplog[op], nil
}

// Timestamp writes the current UTC time at path. value is true for "now"
// or a shifter expression such as "+2days 3hours".
func (i *itemCore) Timestamp(path string, value any) error {
	_, err := i.apply(map[string]any{path + ":$timestamp": value})

	return err
}

// Template renders a mustache-style template against the document and
// writes the result at path.
func (i *itemCore) Template(path, tmpl string) error {
	_, err := i.apply(map[string]any{path + ":$template": tmpl})

	return err
}

// UUID4 writes a freshly generated UUID string at path.
func (i *itemCore) UUID4(path string) error {
	_, err := i.apply(map[string]any{path + ":$uuid4": true})

	return err
}

// Update applies an arbitrary patch document and returns the oplog.
func (i *itemCore) Update(patch map[string]any) (mutator.Oplog, error) {
	return i.apply(patch)
}

// CollectionItem is a stateful holder of one document. Mutations apply
// locally through the mutator and flush to the store on Commit.
//
// A CollectionItem is not safe for concurrent mutation by multiple
// callers.
type CollectionItem struct {
	itemCore

	subcollections map[string][]any

	db         *Database
	collection *Collection
	committer  func(context.Context, *CollectionItem) (map[string]any, error)
	loadParser func(map[string]any) map[string]any
	immutKeys  []string
	customOps  map[string]mutator.CustomOp
	readOnly   bool
	clock      timex.Clock
	log        logrus.FieldLogger
}

// ItemOption configures a CollectionItem.
type ItemOption func(*CollectionItem)

// WithCommitter binds the callback Commit flushes through.
func WithCommitter(fn func(context.Context, *CollectionItem) (map[string]any, error)) ItemOption {
	return func(i *CollectionItem) { i.committer = fn }
}

// WithImmutableKeys marks paths no mutation may touch.
func WithImmutableKeys(keys []string) ItemOption {
	return func(i *CollectionItem) { i.immutKeys = keys }
}

// WithCustomOps registers caller-defined mutation operators.
func WithCustomOps(ops map[string]mutator.CustomOp) ItemOption {
	return func(i *CollectionItem) { i.customOps = ops }
}

// WithLoadParser installs a hook that rewrites raw documents on load.
func WithLoadParser(fn func(map[string]any) map[string]any) ItemOption {
	return func(i *CollectionItem) { i.loadParser = fn }
}

// ReadOnly makes the item ignore mutations and commits silently.
func ReadOnly() ItemOption {
	return func(i *CollectionItem) { i.readOnly = true }
}

func withItemClock(c timex.Clock) ItemOption {
	return func(i *CollectionItem) { i.clock = c }
}

func withItemLogger(log logrus.FieldLogger) ItemOption {
	return func(i *CollectionItem) { i.log = log }
}

func withItemDB(db *Database, coll *Collection) ItemOption {
	return func(i *CollectionItem) {
		i.db = db
		i.collection = coll
	}
}

// NewItem wraps an existing document. The document must carry _key; the
// data runs through the mutator so operator-qualified keys in the payload
// take effect.
func NewItem(data map[string]any, opts ...ItemOption) (*CollectionItem, error) {
	if _, ok := data[FieldKey]; !ok {
		return nil, wrap(ErrMissingKey)
	}

	item := &CollectionItem{
		clock: timex.UTC(),
		log:   logrus.StandardLogger(),
	}
	item.itemCore.apply = item.applyPatch

	for _, opt := range opts {
		opt(item)
	}

	// The creation payload may set immutable fields; immutability binds
	// from the first update on.
	doc, _, err := mutator.Mutate(data, nil, item.ctorMutateOptions()...)
	if err != nil {
		return nil, err
	}

	item.load(doc)

	return item, nil
}

// NewDocumentItem stamps creation fields onto data and wraps it: a fresh
// _key when absent, _created_at set to now, _modified_at null.
func NewDocumentItem(data map[string]any, opts ...ItemOption) (*CollectionItem, error) {
	stamped := make(map[string]any, len(data)+3)
	for k, v := range data {
		stamped[k] = v
	}

	if _, ok := stamped[FieldKey]; !ok {
		stamped[FieldKey] = NewKey()
	}

	stamped[FieldCreatedAt+":$timestamp"] = true
	stamped[FieldModifiedAt] = nil

	return NewItem(stamped, opts...)
}

func (item *CollectionItem) mutateOptions() []mutator.Option {
	return append(item.ctorMutateOptions(),
		mutator.WithImmutableKeys(item.immutKeys),
		mutator.WithImmutableKeys([]string{FieldKey}),
	)
}

func (item *CollectionItem) ctorMutateOptions() []mutator.Option {
	return []mutator.Option{
		mutator.WithCustomOps(item.customOps),
		mutator.WithClock(item.clock),
		mutator.WithLogger(item.log),
	}
}

// applyPatch runs a patch against the current document and re-hydrates the
// item. Read-only items ignore it.
func (item *CollectionItem) applyPatch(patch map[string]any) (mutator.Oplog, error) {
	if item.readOnly {
		return mutator.Oplog{}, nil
	}

	doc, oplog, err := mutator.Mutate(patch, item.ToMap(), item.mutateOptions()...)
	if err != nil {
		return nil, err
	}

	item.load(doc)

	return oplog, nil
}

// load replaces the item's state from a raw document, lifting embedded
// subcollections (including the legacy reserved key) out of the working
// data.
func (item *CollectionItem) load(doc map[string]any) {
	if item.loadParser != nil {
		doc = item.loadParser(doc)
	}

	data := make(map[string]any, len(doc))
	for k, v := range doc {
		data[k] = v
	}

	item.subcollections = map[string][]any{}

	for _, field := range []string{FieldSubcollections, legacySubcollectionsField} {
		raw, ok := data[field]
		if !ok {
			continue
		}

		delete(data, field)

		subs, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		for name, v := range subs {
			if docs, ok := v.([]any); ok {
				item.subcollections[name] = docs
			}
		}
	}

	item.key, _ = data[FieldKey].(string)
	item.data = data
}

// ToMap returns the full document, subcollections re-attached under the
// reserved key.
func (item *CollectionItem) ToMap() map[string]any {
	doc := make(map[string]any, len(item.data)+1)
	for k, v := range item.data {
		doc[k] = v
	}

	if len(item.subcollections) > 0 {
		subs := make(map[string]any, len(item.subcollections))
		for name, docs := range item.subcollections {
			subs[name] = docs
		}

		doc[FieldSubcollections] = subs
	}

	return doc
}

// SetImmutableKeys replaces the item's immutable key list.
func (item *CollectionItem) SetImmutableKeys(keys []string) {
	item.immutKeys = keys
}

// SetTTL schedules eviction. value is a shifter expression ("+30days"),
// true for "now", or false to clear the TTL.
func (item *CollectionItem) SetTTL(value any) error {
	if value == false {
		return item.Set(FieldTTL, nil)
	}

	return item.Timestamp(FieldTTL, value)
}

// Commit flushes the document through the bound commit callback and
// reloads the returned state. Read-only items ignore it.
func (item *CollectionItem) Commit(ctx context.Context) error {
	if item.readOnly {
		return nil
	}

	if item.committer == nil {
		return wrap(ErrMissingCommitter, withKey(item.key))
	}

	doc, err := item.committer(ctx, item)
	if err != nil {
		return err
	}

	if doc != nil {
		item.load(doc)
	}

	return nil
}

// Context runs fn against the item and commits on exit, including when fn
// fails. The fn error wins over the commit error.
func (item *CollectionItem) Context(ctx context.Context, fn func(*CollectionItem) error) error {
	err := fn(item)

	if cerr := item.Commit(ctx); err == nil {
		err = cerr
	}

	return err
}

// Delete removes the persisted document from its collection.
func (item *CollectionItem) Delete(ctx context.Context) error {
	if item.collection == nil {
		return wrap(ErrMissingCommitter, withKey(item.key))
	}

	return item.collection.Delete(ctx, item.key)
}

// Subcollections lists the embedded subcollection names.
func (item *CollectionItem) Subcollections() []string {
	names := make([]string, 0, len(item.subcollections))
	for name := range item.subcollections {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// SelectSubcollection returns a handle on the named embedded
// subcollection, creating it lazily. Constraint paths make inserts fail
// when another sub-document already holds the same value at that path.
//
// Changes made through the handle land in the parent's state; persist them
// with the parent's Commit.
func (item *CollectionItem) SelectSubcollection(name string, constraints ...string) *SubCollection {
	return &SubCollection{
		parent:      item,
		name:        name,
		constraints: constraints,
	}
}

// ContextSubcollection runs fn against a subcollection handle and commits
// the parent on exit, including when fn fails.
func (item *CollectionItem) ContextSubcollection(ctx context.Context, name string, fn func(*SubCollection) error) error {
	err := fn(item.SelectSubcollection(name))

	if cerr := item.Commit(ctx); err == nil {
		err = cerr
	}

	return err
}

// DropSubcollection removes an embedded subcollection from the working
// document.
func (item *CollectionItem) DropSubcollection(name string) error {
	delete(item.subcollections, name)

	return nil
}

// GetItem resolves "subcollection/key" to the addressed sub-document.
func (item *CollectionItem) GetItem(path string) (*SubCollectionItem, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, wrap(fmt.Errorf("%w: %q", ErrInvalidPath, path), withKey(item.key))
	}

	return item.SelectSubcollection(parts[0]).Get(parts[1])
}

// setSubcollection installs a subcollection's documents. They stay out of
// the working document; ToMap re-attaches them under the reserved key.
func (item *CollectionItem) setSubcollection(name string, docs []any) {
	item.subcollections[name] = docs
}

// Link creates a graph edge from this item to another.
func (item *CollectionItem) Link(ctx context.Context, to *CollectionItem, data map[string]any, edgeName string) error {
	if item.db == nil {
		return wrap(ErrMissingCommitter, withKey(item.key))
	}

	return item.db.LinkEdges(ctx, item, to, data, edgeName)
}

// Traverse walks the graph from this item toward a collection.
func (item *CollectionItem) Traverse(ctx context.Context, to *Collection, relations []EdgeRelation, direction string) ([][]*CollectionItem, error) {
	if item.db == nil {
		return nil, wrap(ErrMissingCommitter, withKey(item.key))
	}

	return item.db.Traverse(ctx, item, to, relations, direction)
}
