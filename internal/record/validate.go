package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError describes why one candidate record was rejected.
// Index is the candidate's position in the batch it arrived in.
type ValidationError struct {
	Index    int
	RecordID string
	Problems []string
}

func (e *ValidationError) Error() string {
	label := fmt.Sprintf("record %d", e.Index)
	if e.RecordID != "" {
		label = fmt.Sprintf("record %d (%s)", e.Index, e.RecordID)
	}
	return fmt.Sprintf("%s: %s", label, strings.Join(e.Problems, "; "))
}

// candidate mirrors Record with pointer fields so that an absent or null field
// can be told apart from an empty one. encoding/json never coerces between
// strings, numbers and arrays, so a wrong primitive type fails the decode.
type candidate struct {
	ID                   *string   `json:"id" validate:"required"`
	Name                 *string   `json:"name" validate:"required"`
	Description          *string   `json:"description" validate:"required"`
	KeyConcepts          []*string `json:"keyConcepts" validate:"required,dive,required"`
	DesignGuidelines     []*string `json:"designGuidelines" validate:"required,dive,required"`
	CommonPitfalls       []*string `json:"commonPitfalls" validate:"required,dive,required"`
	BestPractices        []*string `json:"bestPractices" validate:"required,dive,required"`
	RelevantTechnologies []*string `json:"relevantTechnologies" validate:"required,dive,required"`
	Notes                *string   `json:"notes" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that candidate is a JSON object carrying every record field
// with the declared type and returns the decoded record. Keys match
// case-sensitively; unknown keys, including case variants, are ignored.
// Index is only used to label the returned error.
func Validate(index int, raw json.RawMessage) (Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Record{}, &ValidationError{Index: index, Problems: []string{"candidate is not a JSON object"}}
	}

	exact, err := exactFields(trimmed)
	if err != nil {
		return Record{}, &ValidationError{Index: index, Problems: []string{describeDecodeError(err)}}
	}

	var c candidate
	if err := json.Unmarshal(exact, &c); err != nil {
		return Record{}, &ValidationError{
			Index:    index,
			RecordID: peekID(trimmed),
			Problems: []string{describeDecodeError(err)},
		}
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Record{}, fmt.Errorf("validating record %d: %w", index, err)
		}
		problems := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			problems = append(problems, describeFieldError(fe))
		}
		id := ""
		if c.ID != nil {
			id = *c.ID
		}
		return Record{}, &ValidationError{Index: index, RecordID: id, Problems: problems}
	}

	return c.record(), nil
}

// ValidateBatch validates each candidate independently. Valid records keep the
// order they had in candidates; every rejection is returned alongside.
func ValidateBatch(candidates []json.RawMessage) ([]Record, []*ValidationError) {
	var (
		valid    []Record
		rejected []*ValidationError
	)
	for i, raw := range candidates {
		rec, err := Validate(i, raw)
		if err != nil {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				ve = &ValidationError{Index: i, Problems: []string{err.Error()}}
			}
			rejected = append(rejected, ve)
			continue
		}
		valid = append(valid, rec)
	}
	return valid, rejected
}

func (c candidate) record() Record {
	return Record{
		ID:                   *c.ID,
		Name:                 *c.Name,
		Description:          *c.Description,
		KeyConcepts:          deref(c.KeyConcepts),
		DesignGuidelines:     deref(c.DesignGuidelines),
		CommonPitfalls:       deref(c.CommonPitfalls),
		BestPractices:        deref(c.BestPractices),
		RelevantTechnologies: deref(c.RelevantTechnologies),
		Notes:                *c.Notes,
	}
}

func deref(items []*string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = *s
	}
	return out
}

func describeFieldError(fe validator.FieldError) string {
	// Namespace is "candidate.keyConcepts[2]"; drop the struct name.
	_, path, _ := strings.Cut(fe.Namespace(), ".")
	if strings.HasSuffix(path, "]") {
		return fmt.Sprintf("%s: item is null", path)
	}
	return fmt.Sprintf("%s: missing or null", path)
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "record"
		}
		return fmt.Sprintf("%s: got %s, want %s", field, typeErr.Value, jsonKind(typeErr.Type))
	}
	return fmt.Sprintf("malformed JSON: %v", err)
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Slice:
		return "array"
	case reflect.Struct:
		return "object"
	default:
		return t.Kind().String()
	}
}

// exactFields re-encodes obj keeping only the keys in Fields, spelled exactly.
// encoding/json folds case when decoding into a struct, so "ID" or "Notes"
// would otherwise stand in for a missing "id" or "notes".
func exactFields(obj []byte) ([]byte, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(obj, &all); err != nil {
		return nil, err
	}
	kept := make(map[string]json.RawMessage, len(Fields))
	for _, f := range Fields {
		if v, ok := all[f]; ok {
			kept[f] = v
		}
	}
	return json.Marshal(kept)
}

// peekID pulls a string id out of an otherwise invalid candidate so the
// rejection can be attributed.
func peekID(raw []byte) string {
	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return ""
	}
	id, _ := loose["id"].(string)
	return id
}
