package arangodoc

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	driver "github.com/arangodb/go-driver"
	arangohttp "github.com/arangodb/go-driver/http"
	"github.com/sirupsen/logrus"

	"github.com/arangodoc/arangodoc/pkg/flatpath"
	"github.com/arangodoc/arangodoc/pkg/mutator"
	"github.com/arangodoc/arangodoc/pkg/timex"
	"github.com/arangodoc/arangodoc/pkg/xql"
)

// Index describes a collection index.
type Index struct {
	// Type is "persistent" or "ttl".
	Type string

	// Fields are the indexed document paths.
	Fields []string

	// Name identifies the index.
	Name string

	// Unique and Sparse apply to persistent indexes.
	Unique bool
	Sparse bool

	// ExpireAfter applies to TTL indexes, in seconds after the indexed
	// timestamp.
	ExpireAfter int
}

// DefaultIndexes are ensured on every collection this layer creates. The
// TTL index makes the engine evict documents whose __ttl has passed.
var DefaultIndexes = []Index{
	{Type: "persistent", Fields: []string{FieldCreatedAt}, Name: "idx_created_at__0"},
	{Type: "persistent", Fields: []string{FieldModifiedAt}, Name: "idx_modified_at__0"},
	{Type: "ttl", Fields: []string{FieldTTL}, Name: "idx_ttl__0", ExpireAfter: 0},
}

var collectionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{2,64}$`)

// ValidCollectionName reports whether a name fits the allowed pattern:
// lowercase letters, digits, and underscores, starting with a letter.
func ValidCollectionName(name string) bool {
	return collectionNamePattern.MatchString(name)
}

// Database is a handle on one ArangoDB database through which collections,
// queries, and graph operations run.
type Database struct {
	client    driver.Client
	db        driver.Database
	name      string
	cfg       Config
	log       logrus.FieldLogger
	clock     timex.Clock
	customOps map[string]mutator.CustomOp
}

// ConnectOption configures a Database handle.
type ConnectOption func(*Database)

// WithLogger sets the ambient logger.
func WithLogger(log logrus.FieldLogger) ConnectOption {
	return func(db *Database) { db.log = log }
}

// WithOperators registers database-wide custom mutation operators,
// inherited by every collection.
func WithOperators(ops map[string]mutator.CustomOp) ConnectOption {
	return func(db *Database) { db.customOps = ops }
}

// WithClock overrides the clock behind time operators and query macros.
func WithClock(c timex.Clock) ConnectOption {
	return func(db *Database) { db.clock = c }
}

// WithClient injects an existing driver client instead of dialing the
// configured endpoints.
func WithClient(client driver.Client) ConnectOption {
	return func(db *Database) { db.client = client }
}

// Connect dials the configured endpoints and selects the configured
// database.
func Connect(ctx context.Context, cfg Config, opts ...ConnectOption) (*Database, error) {
	cfg = cfg.withDefaults()

	db := &Database{
		cfg:   cfg,
		name:  cfg.Database,
		log:   logrus.StandardLogger(),
		clock: timex.UTC(),
	}

	for _, opt := range opts {
		opt(db)
	}

	if db.client == nil {
		conn, err := arangohttp.NewConnection(arangohttp.ConnectionConfig{
			Endpoints: cfg.Endpoints,
		})
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}

		client, err := driver.NewClient(driver.ClientConfig{
			Connection:     conn,
			Authentication: driver.BasicAuthentication(cfg.Username, cfg.Password),
		})
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}

		db.client = client
	}

	handle, err := db.client.Database(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("select database %q: %w", cfg.Database, err)
	}

	db.db = handle

	return db, nil
}

// Name returns the selected database name.
func (db *Database) Name() string {
	return db.name
}

// HasDatabase reports whether the server has a database with the name.
func (db *Database) HasDatabase(ctx context.Context, name string) (bool, error) {
	if name == "" {
		name = db.name
	}

	exists, err := db.client.DatabaseExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("database exists: %w", err)
	}

	return exists, nil
}

// CreateDatabase creates the database when missing and returns a handle on
// it.
func (db *Database) CreateDatabase(ctx context.Context, name string) (*Database, error) {
	if name == "" {
		name = db.name
	}

	exists, err := db.HasDatabase(ctx, name)
	if err != nil {
		return nil, err
	}

	if !exists {
		if _, err := db.client.CreateDatabase(ctx, name, nil); err != nil {
			return nil, fmt.Errorf("create database %q: %w", name, err)
		}

		db.log.WithField("database", name).Debug("database created")
	}

	return db.SelectDatabase(ctx, name)
}

// SelectDatabase returns a handle on another database over the same
// connection.
func (db *Database) SelectDatabase(ctx context.Context, name string) (*Database, error) {
	cfg := db.cfg
	cfg.Database = name

	return Connect(ctx, cfg,
		WithClient(db.client),
		WithLogger(db.log),
		WithClock(db.clock),
		WithOperators(db.customOps),
	)
}

// HasCollection reports whether the database has the collection.
func (db *Database) HasCollection(ctx context.Context, name string) (bool, error) {
	exists, err := db.db.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("collection exists: %w", err)
	}

	return exists, nil
}

// SelectCollection returns a handle on a collection, creating it (with the
// default indexes) when missing unless opts.NoAutoCreate is set.
func (db *Database) SelectCollection(ctx context.Context, name string, opts *CollectionOptions) (*Collection, error) {
	if opts == nil {
		opts = &CollectionOptions{}
	}

	if !ValidCollectionName(name) {
		return nil, wrap(ErrInvalidCollectionName, withCollection(name))
	}

	exists, err := db.HasCollection(ctx, name)
	if err != nil {
		return nil, err
	}

	var coll driver.Collection

	switch {
	case exists:
		coll, err = db.db.Collection(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", name, err)
		}
	case opts.NoAutoCreate:
		return nil, wrap(ErrCollectionNotFound, withCollection(name))
	default:
		coll, err = db.db.CreateCollection(ctx, name, nil)
		if err != nil {
			return nil, fmt.Errorf("create collection %q: %w", name, err)
		}

		db.log.WithField("collection", name).Debug("collection created")

		indexes := append(append([]Index{}, opts.Indexes...), DefaultIndexes...)
		if err := db.ensureIndexes(ctx, coll, indexes); err != nil {
			return nil, err
		}
	}

	ops := make(map[string]mutator.CustomOp, len(db.customOps)+len(opts.CustomOps))
	for k, v := range db.customOps {
		ops[k] = v
	}

	for k, v := range opts.CustomOps {
		ops[k] = v
	}

	return &Collection{
		db:        db,
		store:     &arangoStore{db: db.db, coll: coll},
		name:      name,
		immutKeys: opts.ImmutableKeys,
		customOps: ops,
		adapter:   opts.Adapter,
		clock:     db.clock,
		log:       db.log,
	}, nil
}

func (db *Database) ensureIndexes(ctx context.Context, coll driver.Collection, indexes []Index) error {
	for _, idx := range indexes {
		var err error

		switch idx.Type {
		case "ttl":
			field := FieldTTL
			if len(idx.Fields) > 0 {
				field = idx.Fields[0]
			}

			_, _, err = coll.EnsureTTLIndex(ctx, field, idx.ExpireAfter, &driver.EnsureTTLIndexOptions{
				Name: idx.Name,
			})
		default:
			_, _, err = coll.EnsurePersistentIndex(ctx, idx.Fields, &driver.EnsurePersistentIndexOptions{
				Name:   idx.Name,
				Unique: idx.Unique,
				Sparse: idx.Sparse,
			})
		}

		if err != nil {
			return fmt.Errorf("ensure index %q: %w", idx.Name, err)
		}

		db.log.WithFields(logrus.Fields{
			"collection": coll.Name(),
			"index":      idx.Name,
		}).Debug("index ensured")
	}

	return nil
}

// Collections lists the collection names in the database.
func (db *Database) Collections(ctx context.Context) ([]string, error) {
	colls, err := db.db.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	names := make([]string, 0, len(colls))
	for _, coll := range colls {
		names = append(names, coll.Name())
	}

	return names, nil
}

// DropCollection removes a collection.
func (db *Database) DropCollection(ctx context.Context, name string) error {
	exists, err := db.HasCollection(ctx, name)
	if err != nil {
		return err
	}

	if !exists {
		return nil
	}

	coll, err := db.db.Collection(ctx, name)
	if err != nil {
		return fmt.Errorf("collection %q: %w", name, err)
	}

	if err := coll.Remove(ctx); err != nil {
		return fmt.Errorf("drop collection %q: %w", name, err)
	}

	return nil
}

// GetItem resolves a slash-path to the addressed document or sub-document:
//
//	coll/key              -> *CollectionItem
//	coll/key/sub          -> *SubCollection
//	coll/key/sub/subkey   -> *SubCollectionItem
//
// A path outside those shapes fails with ErrInvalidPath.
func (db *Database) GetItem(ctx context.Context, path string) (any, error) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts) > 4 {
		return nil, wrap(fmt.Errorf("%w: %q", ErrInvalidPath, path))
	}

	for _, p := range parts {
		if p == "" {
			return nil, wrap(fmt.Errorf("%w: %q", ErrInvalidPath, path))
		}
	}

	coll, err := db.SelectCollection(ctx, parts[0], nil)
	if err != nil {
		return nil, err
	}

	item, err := coll.Get(ctx, parts[1])
	if err != nil {
		return nil, err
	}

	switch len(parts) {
	case 2:
		return item, nil
	case 3:
		return item.SelectSubcollection(parts[2]), nil
	default:
		return item.GetItem(parts[2] + "/" + parts[3])
	}
}

// ExecuteAQL runs a raw query with count and fullCount tracking enabled
// and returns the driver cursor.
func (db *Database) ExecuteAQL(ctx context.Context, query string, bindVars map[string]any) (driver.Cursor, error) {
	ctx = driver.WithQueryCount(ctx, true)
	ctx = driver.WithQueryFullCount(ctx, true)

	cursor, err := db.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	return cursor, nil
}

// ExecuteReadAQL is ExecuteAQL restricted to read-only queries: AQL
// containing data-modification keywords fails with ErrModifierQuery.
func (db *Database) ExecuteReadAQL(ctx context.Context, query string, bindVars map[string]any) (driver.Cursor, error) {
	if xql.HasModifierOps(query) {
		return nil, wrap(ErrModifierQuery)
	}

	return db.ExecuteAQL(ctx, query, bindVars)
}

// QueryOptions tunes an XQL query execution.
type QueryOptions struct {
	// Vars are extra bind variables merged into the compiled set. The
	// reserved keys "page" and "limit" override the tree's pagination
	// instead of being bound.
	Vars map[string]any

	// KVMap is a find/replace mapping applied over FILTERS values before
	// compilation.
	KVMap map[string]any

	// Parser may rewrite the normalized tree before emission.
	Parser xql.ParserFunc

	// Mapper converts result documents during iteration.
	Mapper DataMapper
}

// BuildQuery compiles an XQL tree into (query, bind variables) plus the
// effective (page, perPage) pair, applying kvmap replacement and
// pagination overrides first.
func (db *Database) BuildQuery(q xql.XQL, opts *QueryOptions) (string, xql.BindVars, int, int, error) {
	if opts == nil {
		opts = &QueryOptions{}
	}

	q = xql.Normalize(q)

	if filters, ok := q["FILTERS"].(map[string]any); ok && len(opts.KVMap) > 0 {
		q["FILTERS"] = flatpath.FindReplace(filters, opts.KVMap)
	}

	vars := make(map[string]any, len(opts.Vars))
	for k, v := range opts.Vars {
		vars[k] = v
	}

	if page, ok := vars["page"]; ok {
		q["PAGE"] = page
		delete(vars, "page")
	}

	if limit, ok := vars["limit"]; ok {
		q["LIMIT"] = limit
		delete(vars, "limit")
	}

	perPage, _, page := xql.ResolvePage(q, db.cfg.QueryMaxLimit)

	query, bindVars, err := xql.Compile(q,
		xql.WithMaxLimit(db.cfg.QueryMaxLimit),
		xql.WithParser(opts.Parser),
		xql.WithClock(db.clock),
	)
	if err != nil {
		return "", nil, 0, 0, err
	}

	for k, v := range vars {
		bindVars[k] = v
	}

	return query, bindVars, page, perPage, nil
}

// Query compiles and executes an XQL tree, materializing the batch into a
// QueryResult with pagination computed from the engine's fullCount.
func (db *Database) Query(ctx context.Context, q xql.XQL, opts *QueryOptions) (*QueryResult, error) {
	if opts == nil {
		opts = &QueryOptions{}
	}

	query, bindVars, page, perPage, err := db.BuildQuery(q, opts)
	if err != nil {
		return nil, err
	}

	cursor, err := db.ExecuteAQL(ctx, query, bindVars)
	if err != nil {
		return nil, err
	}

	defer func() { _ = cursor.Close() }()

	docs, err := readAll(ctx, cursor)
	if err != nil {
		return nil, err
	}

	totalCount := len(docs)
	if stats := cursor.Statistics(); stats != nil {
		totalCount = int(stats.FullCount())
	}

	return newQueryResult(docs, totalCount, page, perPage, opts.Mapper), nil
}
