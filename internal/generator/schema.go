package generator

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/kalambet/seedbank/internal/record"
)

// envelope is the container shape the model is asked to emit.
type envelope struct {
	Records []record.Record `json:"records" jsonschema:"description=The generated records"`
}

// FormatSchema returns the JSON Schema for the generation output. It is sent
// to the model twice: inside the prompt and as the structured output format.
func FormatSchema() (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(&envelope{})
	s.Version = ""
	s.ID = ""

	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshalling format schema: %w", err)
	}
	return b, nil
}

// MustFormatSchema is FormatSchema for package-level wiring.
func MustFormatSchema() json.RawMessage {
	b, err := FormatSchema()
	if err != nil {
		panic(err)
	}
	return b
}
