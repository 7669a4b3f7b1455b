// Package storage provides the document persistence layer used by the service host.
//
// A Backend is a flat key/value store of JSON documents (memory, Redis or SQLite).
// Cached layers a write-through, id-keyed cache of decoded values on top of a
// Backend so that hot reads never leave the process.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("storage closed")

// Backend is the remote document store the cache layer sits on.
//
// Keys are opaque strings; documents are raw JSON. Get reports a missing key
// with found == false and a nil error.
type Backend interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (doc []byte, found bool, err error)
	Put(ctx context.Context, key string, doc []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// Error wraps a failure of a backend operation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}

// Namespace maps entity ids to backend keys as Prefix + id + Suffix.
type Namespace struct {
	Prefix string
	Suffix string
}

// Key returns the backend key for id.
func (n Namespace) Key(id string) string {
	return n.Prefix + id + n.Suffix
}

// ID extracts the entity id from key. ok is false when key does not belong
// to the namespace.
func (n Namespace) ID(key string) (string, bool) {
	if !strings.HasPrefix(key, n.Prefix) || !strings.HasSuffix(key, n.Suffix) {
		return "", false
	}
	if len(key) < len(n.Prefix)+len(n.Suffix) {
		return "", false
	}
	id := key[len(n.Prefix) : len(key)-len(n.Suffix)]
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
