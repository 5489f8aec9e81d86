// Package generator asks a language model for synthetic domain records and
// turns its raw response into validated records.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/seedbank/internal/engine"
	"github.com/kalambet/seedbank/internal/record"
)

// Reasons carried by GenerationError.
const (
	ReasonModelCall      = "model_call"
	ReasonUnparsable     = "unparsable"
	ReasonNoValidRecords = "no_valid_records"
)

// ErrInvalidCount is returned when Generate is asked for fewer than one record.
var ErrInvalidCount = errors.New("record count must be positive")

// GenerationError means a generate call produced nothing usable.
// Rejected holds the per-candidate failures when Reason is ReasonNoValidRecords.
type GenerationError struct {
	Reason   string
	Err      error
	Rejected []*record.ValidationError
}

func (e *GenerationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("generation failed (%s): %v", e.Reason, e.Err)
	case len(e.Rejected) > 0:
		return fmt.Sprintf("generation failed (%s): %d candidates rejected, first: %v", e.Reason, len(e.Rejected), e.Rejected[0])
	default:
		return fmt.Sprintf("generation failed (%s)", e.Reason)
	}
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Batch is the outcome of one successful generate call.
type Batch struct {
	Records    []record.Record
	Candidates int
	Rejected   []*record.ValidationError
}

// Generator drives a Completer with the generation prompt.
// It keeps no state between calls.
type Generator struct {
	completer engine.Completer
	profile   Profile
	schema    json.RawMessage
	logger    *slog.Logger
}

// New creates a Generator. schema is embedded in every prompt; pass
// MustFormatSchema() unless a test needs something smaller.
func New(completer engine.Completer, profile Profile, schema json.RawMessage) *Generator {
	if profile.Domain == "" {
		profile.Domain = DefaultDomain
	}
	return &Generator{
		completer: completer,
		profile:   profile,
		schema:    schema,
		logger:    slog.Default(),
	}
}

// Generate asks the model for count records with a single completion call
// and validates what comes back. The model may return more or fewer than
// count; whatever validates is kept.
func (g *Generator) Generate(ctx context.Context, count int) (Batch, error) {
	if count < 1 {
		return Batch{}, ErrInvalidCount
	}

	prompt := BuildPrompt(count, g.profile, g.schema)
	raw, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return Batch{}, &GenerationError{Reason: ReasonModelCall, Err: err}
	}

	candidates, err := ParseCandidates(raw)
	if err != nil {
		g.logger.Warn("unparsable generation response", "error", err, "response", truncate(raw, 500))
		return Batch{}, &GenerationError{Reason: ReasonUnparsable, Err: err}
	}

	valid, rejected := record.ValidateBatch(candidates)
	for _, r := range rejected {
		g.logger.Warn("candidate record rejected", "index", r.Index, "record_id", r.RecordID, "problems", strings.Join(r.Problems, "; "))
	}
	if len(valid) == 0 {
		return Batch{}, &GenerationError{Reason: ReasonNoValidRecords, Rejected: rejected}
	}

	if len(candidates) != count {
		g.logger.Info("model returned a different record count", "requested", count, "returned", len(candidates))
	}

	return Batch{Records: valid, Candidates: len(candidates), Rejected: rejected}, nil
}

// ParseCandidates extracts the candidate records from a raw model response.
// It accepts a bare JSON array or an object with a "records" array, optionally
// wrapped in a markdown code fence.
func ParseCandidates(raw string) ([]json.RawMessage, error) {
	body := bytes.TrimSpace([]byte(stripFence(raw)))
	if len(body) == 0 {
		return nil, errors.New("empty response")
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decoding record array: %w", err)
		}
		return items, nil
	case '{':
		var env struct {
			Records *[]json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decoding record envelope: %w", err)
		}
		if env.Records == nil {
			return nil, errors.New(`response object has no "records" array`)
		}
		return *env.Records, nil
	default:
		return nil, fmt.Errorf("response is not JSON (starts with %q)", body[0])
	}
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the language tag on the opening fence line.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
