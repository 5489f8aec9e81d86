// Package pipeline runs a seed: generate records, summarize each one, embed
// the summary and write record, summary and vector to the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/seedbank/internal/engine"
	"github.com/kalambet/seedbank/internal/generator"
	"github.com/kalambet/seedbank/internal/record"
	"github.com/kalambet/seedbank/internal/storage"
)

// Mode decides what happens to documents already in the collection.
type Mode string

const (
	// ModeReplace deletes every existing document before writing.
	ModeReplace Mode = "replace"
	// ModeAppend keeps existing documents. Re-seeding can duplicate records.
	ModeAppend Mode = "append"
)

var (
	ErrInvalidMode  = errors.New(`seed mode must be "replace" or "append"`)
	ErrInvalidCount = generator.ErrInvalidCount
)

// ParseMode converts a user-supplied mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReplace, ModeAppend:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: got %q", ErrInvalidMode, s)
}

// EmbeddingError means one record's summary could not be embedded.
type EmbeddingError struct {
	RecordID string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding record %s: %v", e.RecordID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// WriteError means one record's document could not be inserted.
type WriteError struct {
	RecordID string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing record %s: %v", e.RecordID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// RecordSource produces a batch of validated records.
type RecordSource interface {
	Generate(ctx context.Context, count int) (generator.Batch, error)
}

// Outcome statuses.
const (
	StatusWritten = "written"
	StatusFailed  = "failed"
)

// Outcome is what happened to one validated record.
type Outcome struct {
	RecordID string `json:"record_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Err      error  `json:"-"`
}

// Report summarizes a seed run.
type Report struct {
	Mode       Mode      `json:"mode"`
	Collection string    `json:"collection"`
	Requested  int       `json:"requested"`
	Candidates int       `json:"candidates"`
	Validated  int       `json:"validated"`
	Written    int       `json:"written"`
	Deleted    int64     `json:"deleted"`
	Rejected   []string  `json:"rejected,omitempty"`
	Outcomes   []Outcome `json:"outcomes"`
	Duration   string    `json:"duration"`
}

// Failures returns the outcomes that did not end in a write.
func (r Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status != StatusWritten {
			out = append(out, o)
		}
	}
	return out
}

// Config holds the Seeder's dependencies and settings.
type Config struct {
	Gateway    storage.Gateway
	Source     RecordSource
	Embedder   engine.Embedder
	Collection string
	Index      storage.IndexSpec
	// Concurrency bounds how many records are embedded and written at once.
	// Values below 2 process records one at a time.
	Concurrency int
	// EmbedTimeout bounds each embedding call. Zero means no per-call limit.
	EmbedTimeout time.Duration
	// WriteTimeout bounds each insert. Zero means no per-call limit.
	WriteTimeout time.Duration
	// OnRecord, if set, is called once per validated record as it finishes.
	// With Concurrency > 1 it may be called from several goroutines.
	OnRecord func(Outcome)
	Logger   *slog.Logger
}

// Seeder runs seeds against one collection.
type Seeder struct {
	cfg    Config
	logger *slog.Logger
}

// NewSeeder creates a Seeder.
func NewSeeder(cfg Config) *Seeder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{cfg: cfg, logger: logger}
}

// Seed runs one ingestion pass:
//
//	acquire → ensure index → (delete all, replace mode) → generate → per record: summarize → embed → write → release
//
// The connection is released on every path. Per-record embedding and write
// failures are recorded in the report and never abort the run; connection,
// clearing and generation failures do, and are returned as errors alongside
// whatever the report holds so far.
func (s *Seeder) Seed(ctx context.Context, mode Mode, count int) (report Report, err error) {
	if mode != ModeReplace && mode != ModeAppend {
		return Report{}, fmt.Errorf("%w: got %q", ErrInvalidMode, mode)
	}
	if count < 1 {
		return Report{}, ErrInvalidCount
	}

	start := time.Now()
	report = Report{Mode: mode, Collection: s.cfg.Collection, Requested: count}
	defer func() { report.Duration = time.Since(start).Round(time.Millisecond).String() }()

	conn, err := s.cfg.Gateway.Acquire(ctx)
	if err != nil {
		return report, err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.logger.Warn("closing store connection", "error", cerr)
		}
	}()

	coll := conn.Collection(s.cfg.Collection)
	if ensurer, ok := coll.(storage.IndexEnsurer); ok {
		if err := ensurer.EnsureIndex(ctx, s.cfg.Index); err != nil {
			return report, fmt.Errorf("preparing vector index %s: %w", s.cfg.Index.Name, err)
		}
	}

	if mode == ModeReplace {
		n, err := coll.DeleteAll(ctx)
		if err != nil {
			return report, fmt.Errorf("clearing collection %s: %w", s.cfg.Collection, err)
		}
		report.Deleted = n
		s.logger.Info("cleared collection", "collection", s.cfg.Collection, "deleted", n)
	}

	batch, err := s.cfg.Source.Generate(ctx, count)
	if err != nil {
		var genErr *generator.GenerationError
		if errors.As(err, &genErr) {
			report.Rejected = rejectionReasons(genErr.Rejected)
		}
		return report, err
	}
	report.Candidates = batch.Candidates
	report.Validated = len(batch.Records)
	report.Rejected = rejectionReasons(batch.Rejected)

	report.Outcomes = s.ingest(ctx, coll, batch.Records)
	for _, o := range report.Outcomes {
		if o.Status == StatusWritten {
			report.Written++
		}
	}

	s.logger.Info("seed finished",
		"mode", mode,
		"collection", s.cfg.Collection,
		"requested", count,
		"validated", report.Validated,
		"written", report.Written,
		"failed", report.Validated-report.Written,
	)
	return report, nil
}

// ingest processes every record and returns outcomes in record order.
func (s *Seeder) ingest(ctx context.Context, coll storage.Collection, records []record.Record) []Outcome {
	outcomes := make([]Outcome, len(records))

	if s.cfg.Concurrency < 2 {
		for i, rec := range records {
			outcomes[i] = s.finish(rec, s.ingestOne(ctx, coll, rec))
		}
		return outcomes
	}

	// Workers never return an error: one record failing must not cancel the others.
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, rec := range records {
		g.Go(func() error {
			outcomes[i] = s.finish(rec, s.ingestOne(ctx, coll, rec))
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Seeder) finish(rec record.Record, err error) Outcome {
	o := Outcome{RecordID: rec.ID, Status: StatusWritten}
	if err != nil {
		o.Status = StatusFailed
		o.Reason = err.Error()
		o.Err = err
		s.logger.Warn("record not written", "record_id", rec.ID, "error", err)
	}
	if s.cfg.OnRecord != nil {
		s.cfg.OnRecord(o)
	}
	return o
}

// ingestOne summarizes, embeds and writes a single record. The vector is
// always computed from exactly the text that is stored next to it.
func (s *Seeder) ingestOne(ctx context.Context, coll storage.Collection, rec record.Record) error {
	text := record.Summarize(rec)

	embedCtx, cancelEmbed := withTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancelEmbed()
	vec, err := s.cfg.Embedder.Embed(embedCtx, text)
	if err != nil {
		return &EmbeddingError{RecordID: rec.ID, Err: err}
	}
	if len(vec) == 0 {
		return &EmbeddingError{RecordID: rec.ID, Err: errors.New("empty vector")}
	}

	doc := storage.Document{SourceRecord: rec, Text: text, Vector: vec}
	writeCtx, cancelWrite := withTimeout(ctx, s.cfg.WriteTimeout)
	defer cancelWrite()
	if err := coll.InsertWithVector(writeCtx, doc, s.cfg.Index); err != nil {
		return &WriteError{RecordID: rec.ID, Err: err}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func rejectionReasons(rejected []*record.ValidationError) []string {
	if len(rejected) == 0 {
		return nil
	}
	out := make([]string, len(rejected))
	for i, r := range rejected {
		out[i] = r.Error()
	}
	return out
}
