// Package mongo stores summary documents in MongoDB and searches them with
// Atlas Vector Search.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kalambet/seedbank/internal/record"
	"github.com/kalambet/seedbank/internal/storage"
)

const backendName = "mongo"

const disconnectTimeout = 10 * time.Second

// Gateway connects to a MongoDB deployment by URI.
type Gateway struct {
	uri      string
	database string
}

// NewGateway returns a gateway for database on the deployment at uri.
func NewGateway(uri, database string) *Gateway {
	return &Gateway{uri: uri, database: database}
}

// Acquire connects and pings the primary. Any failure is a *storage.ConnectionError.
func (g *Gateway) Acquire(ctx context.Context) (storage.Conn, error) {
	if g.uri == "" {
		return nil, &storage.ConnectionError{Backend: backendName, Err: errors.New("no connection URI configured")}
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(g.uri))
	if err != nil {
		return nil, &storage.ConnectionError{Backend: backendName, Err: err}
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		_ = client.Disconnect(dctx)
		return nil, &storage.ConnectionError{Backend: backendName, Err: err}
	}
	return &Conn{client: client, db: client.Database(g.database)}, nil
}

// Conn is an acquired client bound to one database.
type Conn struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.Conn = (*Conn)(nil)

// Collection returns a handle on the named collection.
func (c *Conn) Collection(name string) storage.Collection {
	return &Collection{coll: c.db.Collection(name)}
}

// Close disconnects the client.
func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// Collection wraps a MongoDB collection.
type Collection struct {
	coll *mongo.Collection
}

var (
	_ storage.Collection   = (*Collection)(nil)
	_ storage.IndexEnsurer = (*Collection)(nil)
	_ storage.Searcher     = (*Collection)(nil)
	_ storage.Counter      = (*Collection)(nil)
)

// DeleteAll removes every document. Search indexes are left in place.
func (c *Collection) DeleteAll(ctx context.Context) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("deleting documents in %s: %w", c.coll.Name(), err)
	}
	return res.DeletedCount, nil
}

// InsertWithVector writes doc as one document with the text and vector under
// the keys named by idx.
func (c *Collection) InsertWithVector(ctx context.Context, doc storage.Document, idx storage.IndexSpec) error {
	if err := idx.Validate(); err != nil {
		return err
	}
	if len(doc.Vector) == 0 {
		return errors.New("document has no vector")
	}
	if idx.Dimensions > 0 && len(doc.Vector) != idx.Dimensions {
		return fmt.Errorf("vector has %d dimensions, index %s expects %d", len(doc.Vector), idx.Name, idx.Dimensions)
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if _, err := c.coll.InsertOne(ctx, buildDocument(doc, idx)); err != nil {
		return fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}
	return nil
}

// Count returns the number of documents in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	n, err := c.coll.CountDocuments(ctx, bson.D{})
	return int(n), err
}

// EnsureIndex creates the vectorSearch index if it does not exist, or checks
// that the existing one indexes the same path with the same dimensions.
// Atlas builds indexes asynchronously; a new index may not be queryable yet
// when this returns.
func (c *Collection) EnsureIndex(ctx context.Context, idx storage.IndexSpec) error {
	if err := idx.Validate(); err != nil {
		return err
	}
	if idx.Dimensions <= 0 {
		return fmt.Errorf("index %s needs a positive dimension count", idx.Name)
	}

	view := c.coll.SearchIndexes()
	cur, err := view.List(ctx, options.SearchIndexes().SetName(idx.Name))
	if err != nil {
		return fmt.Errorf("listing search indexes: %w", err)
	}
	var existing []bson.M
	if err := cur.All(ctx, &existing); err != nil {
		return fmt.Errorf("reading search indexes: %w", err)
	}

	if len(existing) > 0 {
		def, _ := existing[0]["latestDefinition"].(bson.M)
		return compareDefinition(idx, def)
	}

	_, err = view.CreateOne(ctx, mongo.SearchIndexModel{
		Definition: indexDefinition(idx),
		Options:    options.SearchIndexes().SetName(idx.Name).SetType("vectorSearch"),
	})
	if err != nil {
		return fmt.Errorf("creating search index %s: %w", idx.Name, err)
	}
	return nil
}

// Search runs a $vectorSearch aggregation and returns the topK matches.
func (c *Collection) Search(ctx context.Context, vector []float32, topK int, idx storage.IndexSpec) ([]storage.Match, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	cur, err := c.coll.Aggregate(ctx, searchPipeline(vector, topK, idx))
	if err != nil {
		return nil, fmt.Errorf("running vector search: %w", err)
	}
	defer cur.Close(ctx)

	var matches []storage.Match
	for cur.Next(ctx) {
		m, err := decodeMatch(cur.Current, idx)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, cur.Err()
}

func indexDefinition(idx storage.IndexSpec) bson.D {
	similarity := idx.Similarity
	if similarity == "" {
		similarity = storage.SimilarityCosine
	}
	return bson.D{{Key: "fields", Value: bson.A{
		bson.D{
			{Key: "type", Value: "vector"},
			{Key: "path", Value: idx.EmbeddingKey},
			{Key: "numDimensions", Value: idx.Dimensions},
			{Key: "similarity", Value: similarity},
		},
	}}}
}

func compareDefinition(idx storage.IndexSpec, def bson.M) error {
	fields, _ := def["fields"].(bson.A)
	for _, f := range fields {
		field, ok := f.(bson.M)
		if !ok || field["type"] != "vector" {
			continue
		}
		if field["path"] != idx.EmbeddingKey {
			return fmt.Errorf("%w: index %s indexes %v, requested %s", storage.ErrIndexMismatch, idx.Name, field["path"], idx.EmbeddingKey)
		}
		if dims := toInt(field["numDimensions"]); dims != idx.Dimensions {
			return fmt.Errorf("%w: index %s has %d dimensions, requested %d", storage.ErrIndexMismatch, idx.Name, dims, idx.Dimensions)
		}
		return nil
	}
	return fmt.Errorf("%w: index %s has no vector field", storage.ErrIndexMismatch, idx.Name)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	}
	return -1
}

func searchPipeline(vector []float32, topK int, idx storage.IndexSpec) mongo.Pipeline {
	candidates := topK * 10
	if candidates < 100 {
		candidates = 100
	}
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: idx.Name},
			{Key: "path", Value: idx.EmbeddingKey},
			{Key: "queryVector", Value: vector},
			{Key: "numCandidates", Value: candidates},
			{Key: "limit", Value: topK},
		}}},
		{{Key: "$set", Value: bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}}}}},
	}
}

// sourceRecord mirrors record.Record with the same camelCase keys.
type sourceRecord struct {
	ID                   string   `bson:"id"`
	Name                 string   `bson:"name"`
	Description          string   `bson:"description"`
	KeyConcepts          []string `bson:"keyConcepts"`
	DesignGuidelines     []string `bson:"designGuidelines"`
	CommonPitfalls       []string `bson:"commonPitfalls"`
	BestPractices        []string `bson:"bestPractices"`
	RelevantTechnologies []string `bson:"relevantTechnologies"`
	Notes                string   `bson:"notes"`
}

func fromRecord(r record.Record) sourceRecord {
	return sourceRecord{
		ID:                   r.ID,
		Name:                 r.Name,
		Description:          r.Description,
		KeyConcepts:          nonNil(r.KeyConcepts),
		DesignGuidelines:     nonNil(r.DesignGuidelines),
		CommonPitfalls:       nonNil(r.CommonPitfalls),
		BestPractices:        nonNil(r.BestPractices),
		RelevantTechnologies: nonNil(r.RelevantTechnologies),
		Notes:                r.Notes,
	}
}

func (s sourceRecord) toRecord() record.Record {
	return record.Record(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// buildDocument lays out doc the way the vector index expects it.
func buildDocument(doc storage.Document, idx storage.IndexSpec) bson.D {
	return bson.D{
		{Key: "_id", Value: doc.ID},
		{Key: idx.TextKey, Value: doc.Text},
		{Key: idx.EmbeddingKey, Value: doc.Vector},
		{Key: storage.SourceRecordKey, Value: fromRecord(doc.SourceRecord)},
		{Key: "createdAt", Value: doc.CreatedAt},
	}
}

func decodeMatch(raw bson.Raw, idx storage.IndexSpec) (storage.Match, error) {
	var m storage.Match
	if v, err := raw.LookupErr("_id"); err == nil {
		m.ID, _ = v.StringValueOK()
	}
	if v, err := raw.LookupErr(idx.TextKey); err == nil {
		m.Text, _ = v.StringValueOK()
	}
	if v, err := raw.LookupErr("score"); err == nil {
		if f, ok := v.DoubleOK(); ok {
			m.Score = float32(f)
		}
	}
	if v, err := raw.LookupErr("createdAt"); err == nil {
		if t, ok := v.TimeOK(); ok {
			m.CreatedAt = t.UTC()
		}
	}
	if v, err := raw.LookupErr(storage.SourceRecordKey); err == nil {
		var src sourceRecord
		if err := v.Unmarshal(&src); err != nil {
			return storage.Match{}, fmt.Errorf("decoding source record of %s: %w", m.ID, err)
		}
		m.SourceRecord = src.toRecord()
	}
	if v, err := raw.LookupErr(idx.EmbeddingKey); err == nil {
		var vec []float32
		if err := v.Unmarshal(&vec); err != nil {
			return storage.Match{}, fmt.Errorf("decoding vector of %s: %w", m.ID, err)
		}
		m.Vector = vec
	}
	return m, nil
}
