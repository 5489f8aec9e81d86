package storage

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/seedbank/internal/record"
)

// SQLiteCollection is a named set of documents inside a Store.
type SQLiteCollection struct {
	db   *sql.DB
	name string
}

var (
	_ Collection   = (*SQLiteCollection)(nil)
	_ IndexEnsurer = (*SQLiteCollection)(nil)
	_ Searcher     = (*SQLiteCollection)(nil)
	_ Counter      = (*SQLiteCollection)(nil)
)

// Name returns the collection name.
func (c *SQLiteCollection) Name() string { return c.name }

// EnsureIndex registers idx for this collection, or verifies that an existing
// index of the same name has the same definition.
func (c *SQLiteCollection) EnsureIndex(ctx context.Context, idx IndexSpec) error {
	if err := idx.Validate(); err != nil {
		return err
	}
	if _, err := similarityFunc(idx.Similarity); err != nil {
		return err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	if err := c.ensureIndexTx(ctx, tx, idx); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *SQLiteCollection) ensureIndexTx(ctx context.Context, tx *sql.Tx, idx IndexSpec) error {
	var existing IndexSpec
	var collection string
	err := tx.QueryRowContext(ctx, `
		SELECT collection, text_key, embedding_key, dimensions, similarity
		FROM vector_indexes WHERE name = ?`, idx.Name).
		Scan(&collection, &existing.TextKey, &existing.EmbeddingKey, &existing.Dimensions, &existing.Similarity)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO vector_indexes (name, collection, text_key, embedding_key, dimensions, similarity, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			idx.Name, c.name, idx.TextKey, idx.EmbeddingKey, idx.Dimensions, normalizeSimilarity(idx.Similarity),
			time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("creating index %s: %w", idx.Name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up index %s: %w", idx.Name, err)
	}

	switch {
	case collection != c.name:
		return fmt.Errorf("%w: index %s belongs to collection %s", ErrIndexMismatch, idx.Name, collection)
	case existing.TextKey != idx.TextKey || existing.EmbeddingKey != idx.EmbeddingKey:
		return fmt.Errorf("%w: index %s uses keys %s/%s, requested %s/%s", ErrIndexMismatch, idx.Name,
			existing.TextKey, existing.EmbeddingKey, idx.TextKey, idx.EmbeddingKey)
	case existing.Dimensions != idx.Dimensions:
		return fmt.Errorf("%w: index %s has %d dimensions, requested %d", ErrIndexMismatch, idx.Name,
			existing.Dimensions, idx.Dimensions)
	case existing.Similarity != normalizeSimilarity(idx.Similarity):
		return fmt.Errorf("%w: index %s uses %s similarity, requested %s", ErrIndexMismatch, idx.Name,
			existing.Similarity, idx.Similarity)
	}
	return nil
}

// DeleteAll removes every document in the collection. Index definitions survive.
func (c *SQLiteCollection) DeleteAll(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ?", c.name)
	if err != nil {
		return 0, fmt.Errorf("deleting documents in %s: %w", c.name, err)
	}
	return res.RowsAffected()
}

// InsertWithVector writes doc in a single transaction. The text is stored
// under idx.TextKey and the vector is bound to idx.EmbeddingKey.
func (c *SQLiteCollection) InsertWithVector(ctx context.Context, doc Document, idx IndexSpec) error {
	if err := idx.Validate(); err != nil {
		return err
	}
	if len(doc.Vector) == 0 {
		return errors.New("document has no vector")
	}
	if idx.Dimensions > 0 && len(doc.Vector) != idx.Dimensions {
		return fmt.Errorf("vector has %d dimensions, index %s expects %d", len(doc.Vector), idx.Name, idx.Dimensions)
	}

	body, err := json.Marshal(map[string]any{
		idx.TextKey:     doc.Text,
		SourceRecordKey: doc.SourceRecord,
	})
	if err != nil {
		return fmt.Errorf("encoding document body: %w", err)
	}

	id := doc.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	if err := c.ensureIndexTx(ctx, tx, idx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, collection, index_name, body, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, c.name, idx.Name, string(body), encodeFloat32s(doc.Vector), createdAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("inserting document %s: %w", id, err)
	}
	return tx.Commit()
}

// Count returns the number of documents in the collection.
func (c *SQLiteCollection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE collection = ?", c.name).Scan(&n)
	return n, err
}

// Documents returns every document in insertion order.
func (c *SQLiteCollection) Documents(ctx context.Context) ([]Document, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT d.id, d.body, d.embedding, d.created_at, v.text_key
		FROM documents d JOIN vector_indexes v ON v.name = d.index_name
		WHERE d.collection = ? ORDER BY d.seq ASC`, c.name)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type seqScore struct {
	seq   int64
	score float32
}

// Search scans every vector in the collection bound to idx and returns the
// topK best matches, best first.
func (c *SQLiteCollection) Search(ctx context.Context, vector []float32, topK int, idx IndexSpec) ([]Match, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	score, err := similarityFunc(idx.Similarity)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT seq, embedding FROM documents WHERE collection = ? AND index_name = ?`, c.name, idx.Name)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &seqScoreHeap{}
	var buf []float32
	for rows.Next() {
		var seq int64
		var blob []byte
		if err := rows.Scan(&seq, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for row %d: %w", seq, err)
		}
		if len(buf) != len(vector) {
			continue
		}
		s := score(vector, buf)
		if h.Len() < topK {
			heap.Push(h, seqScore{seq: seq, score: s})
		} else if s > (*h)[0].score {
			(*h)[0] = seqScore{seq: seq, score: s}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	winners := make([]seqScore, h.Len())
	for i := len(winners) - 1; i >= 0; i-- {
		winners[i] = heap.Pop(h).(seqScore)
	}
	args := make([]any, len(winners))
	for i, w := range winners {
		args[i] = w.seq
	}

	full, err := c.db.QueryContext(ctx, `
		SELECT d.seq, d.id, d.body, d.embedding, d.created_at, v.text_key
		FROM documents d JOIN vector_indexes v ON v.name = d.index_name
		WHERE d.seq IN (?`+strings.Repeat(",?", len(args)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K documents: %w", err)
	}
	defer full.Close()

	bySeq := make(map[int64]Document, len(winners))
	for full.Next() {
		var seq int64
		doc, err := scanDocument(full, &seq)
		if err != nil {
			return nil, err
		}
		bySeq[seq] = doc
	}
	if err := full.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	matches := make([]Match, 0, len(winners))
	for _, w := range winners {
		if doc, ok := bySeq[w.seq]; ok {
			matches = append(matches, Match{Document: doc, Score: w.score})
		}
	}
	return matches, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocument reads (id, body, embedding, created_at, text_key), preceded by
// any extra destinations.
func scanDocument(row rowScanner, extra ...any) (Document, error) {
	var (
		doc       Document
		body      string
		blob      []byte
		createdAt string
		textKey   string
	)
	dest := append(extra, &doc.ID, &body, &blob, &createdAt, &textKey)
	if err := row.Scan(dest...); err != nil {
		return Document{}, fmt.Errorf("scanning document: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Document{}, fmt.Errorf("decoding body of %s: %w", doc.ID, err)
	}
	if raw, ok := fields[textKey]; ok {
		if err := json.Unmarshal(raw, &doc.Text); err != nil {
			return Document{}, fmt.Errorf("decoding text of %s: %w", doc.ID, err)
		}
	}
	if raw, ok := fields[SourceRecordKey]; ok {
		var rec record.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Document{}, fmt.Errorf("decoding source record of %s: %w", doc.ID, err)
		}
		doc.SourceRecord = rec
	}

	vec, err := decodeFloat32s(blob)
	if err != nil {
		return Document{}, fmt.Errorf("decoding embedding for %s: %w", doc.ID, err)
	}
	doc.Vector = vec

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at for %s: %w", doc.ID, err)
	}
	doc.CreatedAt = t
	return doc, nil
}

// seqScoreHeap is a min-heap on score.
type seqScoreHeap []seqScore

func (h seqScoreHeap) Len() int           { return len(h) }
func (h seqScoreHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h seqScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *seqScoreHeap) Push(x any)        { *h = append(*h, x.(seqScore)) }
func (h *seqScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
