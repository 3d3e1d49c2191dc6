package arangodoc

import (
	"errors"
	"strings"
)

// Sentinel errors returned by the public API. Use [errors.Is] to test for
// them through wrapping.
var (
	// ErrMissingKey indicates a document without the mandatory _key field.
	ErrMissingKey = errors.New("document missing _key")

	// ErrMissingCommitter indicates Commit was called on an item with no
	// bound commit callback.
	ErrMissingCommitter = errors.New("item has no commit callback")

	// ErrInvalidPath indicates a slash-path that does not parse.
	ErrInvalidPath = errors.New("invalid item path")

	// ErrItemExists indicates an insert collided with an existing key.
	ErrItemExists = errors.New("item already exists")

	// ErrItemNotFound indicates the requested document does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrCollectionNotFound indicates a missing collection when
	// auto-creation is disabled.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrConstraint indicates a subcollection insert collided on a
	// constraint path.
	ErrConstraint = errors.New("constraint violation")

	// ErrInvalidCollectionName indicates a collection name outside the
	// allowed pattern.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrModifierQuery indicates caller-supplied AQL containing
	// data-modification keywords where only reads are allowed.
	ErrModifierQuery = errors.New("query contains modifier operations")
)

// Error is the uniform error type returned by the public API. It carries
// the collection and document key involved, appended to the underlying
// message:
//
//	item not found (collection=users key=abc123)
//
// Use [errors.As] to extract the fields, [errors.Is] for sentinels.
type Error struct {
	// Collection is the collection name involved, when known.
	Collection string

	// Key is the document key involved. For failed lookups it is the
	// requested key.
	Key string

	// Err is the underlying cause.
	Err error
}

// Error formats as "<cause> (collection=X key=Y)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	suffix := e.suffix()
	if suffix == "" {
		return cause
	}

	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error for use with [errors.Is] and
// [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) suffix() string {
	var parts []string

	if e.Collection != "" {
		parts = append(parts, "collection="+e.Collection)
	}

	if e.Key != "" {
		parts = append(parts, "key="+e.Key)
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

// errOpt configures an [Error] during construction via [wrap].
type errOpt func(*Error)

// withKey attaches the document key involved.
func withKey(key string) errOpt {
	return func(e *Error) { e.Key = key }
}

// withCollection attaches the collection name involved.
func withCollection(name string) errOpt {
	return func(e *Error) { e.Collection = name }
}

// wrap creates an [*Error] with optional context. Returns nil for a nil
// err, returns err unchanged when it is already an [*Error] and no new
// context is supplied, and inherits context from an inner [*Error] so the
// suffix never duplicates.
func wrap(err error, opts ...errOpt) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	isDirect := errors.As(err, &existing)

	if isDirect && len(opts) == 0 {
		return existing
	}

	e := &Error{Err: err}

	if isDirect {
		e.Collection = existing.Collection
		e.Key = existing.Key
		e.Err = existing.Err
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}
