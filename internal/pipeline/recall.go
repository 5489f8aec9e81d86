package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/seedbank/internal/engine"
	"github.com/kalambet/seedbank/internal/storage"
)

// ErrSearchUnsupported is returned when the collection cannot search.
var ErrSearchUnsupported = errors.New("collection does not support vector search")

// Recaller answers queries against the seeded collection.
type Recaller struct {
	gateway    storage.Gateway
	embedder   engine.Embedder
	collection string
	index      storage.IndexSpec
}

// NewRecaller creates a Recaller.
func NewRecaller(gw storage.Gateway, embedder engine.Embedder, collection string, idx storage.IndexSpec) *Recaller {
	return &Recaller{gateway: gw, embedder: embedder, collection: collection, index: idx}
}

// Recall embeds query and returns the topK nearest documents.
func (r *Recaller) Recall(ctx context.Context, query string, topK int) ([]storage.Match, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	conn, err := r.gateway.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	searcher, ok := conn.Collection(r.collection).(storage.Searcher)
	if !ok {
		return nil, ErrSearchUnsupported
	}
	return searcher.Search(ctx, vec, topK, r.index)
}

// Count returns the number of documents in the collection, or -1 if the
// backend cannot count.
func (r *Recaller) Count(ctx context.Context) (int, error) {
	conn, err := r.gateway.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	counter, ok := conn.Collection(r.collection).(storage.Counter)
	if !ok {
		return -1, nil
	}
	return counter.Count(ctx)
}
