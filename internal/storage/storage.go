// Package storage is the gateway to the document store that holds summary
// documents and their vectors. The default backend is an embedded SQLite
// database; see the mongo subpackage for MongoDB Atlas.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/seedbank/internal/record"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrIndexMismatch is returned when a vector index already exists with a
// different definition than the one requested.
var ErrIndexMismatch = errors.New("vector index definition mismatch")

// SourceRecordKey is the document key holding the source record.
const SourceRecordKey = "sourceRecord"

// IndexSpec names the vector index a collection is searched through and the
// document keys that hold the summary text and its embedding.
type IndexSpec struct {
	Name         string
	TextKey      string
	EmbeddingKey string
	Dimensions   int
	Similarity   string
}

// Document is one persisted summary document.
// Vector must have been computed from exactly Text.
type Document struct {
	ID           string
	SourceRecord record.Record
	Text         string
	Vector       []float32
	CreatedAt    time.Time
}

// Match is a search hit.
type Match struct {
	Document
	Score float32
}

// Gateway hands out scoped connections to the store.
type Gateway interface {
	// Acquire connects and verifies the connection with a round trip.
	// Failures are returned as *ConnectionError.
	Acquire(ctx context.Context) (Conn, error)
}

// Conn is an acquired connection. Close must be called exactly once.
type Conn interface {
	Collection(name string) Collection
	Close() error
}

// Collection is the write surface the ingestion pipeline uses.
type Collection interface {
	// DeleteAll removes every document in the collection and reports how many went.
	DeleteAll(ctx context.Context) (int64, error)
	// InsertWithVector stores doc as a single atomic insert under idx.
	InsertWithVector(ctx context.Context, doc Document, idx IndexSpec) error
}

// IndexEnsurer is implemented by collections that create or verify their
// vector index before a run.
type IndexEnsurer interface {
	EnsureIndex(ctx context.Context, idx IndexSpec) error
}

// Searcher is implemented by collections that support nearest-neighbour lookup.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, idx IndexSpec) ([]Match, error)
}

// Counter is implemented by collections that can report their size.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// ConnectionError means the store could not be reached or failed its liveness check.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s store: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Validate reports whether idx is complete enough to write through.
func (idx IndexSpec) Validate() error {
	switch {
	case idx.Name == "":
		return errors.New("index name is required")
	case idx.TextKey == "":
		return errors.New("text key is required")
	case idx.EmbeddingKey == "":
		return errors.New("embedding key is required")
	case idx.TextKey == idx.EmbeddingKey:
		return fmt.Errorf("text key and embedding key must differ (both %q)", idx.TextKey)
	case idx.TextKey == SourceRecordKey || idx.EmbeddingKey == SourceRecordKey:
		return fmt.Errorf("%q is reserved for the source record", SourceRecordKey)
	case idx.Dimensions < 0:
		return fmt.Errorf("invalid dimensions %d", idx.Dimensions)
	}
	return nil
}
