// Package record defines the domain record synthesized by the language model,
// the schema check applied to raw model output, and the summary text that is
// embedded for each record.
package record

// Record is one validated unit of synthesized knowledge.
// List fields keep the order the model emitted them in.
type Record struct {
	ID                   string   `json:"id" jsonschema:"description=Short unique identifier for the record within this batch"`
	Name                 string   `json:"name" jsonschema:"description=Short human readable label"`
	Description          string   `json:"description" jsonschema:"description=One or two sentence description"`
	KeyConcepts          []string `json:"keyConcepts" jsonschema:"description=Core concepts in order of importance"`
	DesignGuidelines     []string `json:"designGuidelines" jsonschema:"description=Actionable design guidelines"`
	CommonPitfalls       []string `json:"commonPitfalls" jsonschema:"description=Mistakes practitioners commonly make"`
	BestPractices        []string `json:"bestPractices" jsonschema:"description=Recommended practices"`
	RelevantTechnologies []string `json:"relevantTechnologies" jsonschema:"description=Technologies or tools that apply"`
	Notes                string   `json:"notes" jsonschema:"description=Free form notes or an empty string"`
}

// Fields lists the JSON keys every record must carry, in schema order.
var Fields = []string{
	"id",
	"name",
	"description",
	"keyConcepts",
	"designGuidelines",
	"commonPitfalls",
	"bestPractices",
	"relevantTechnologies",
	"notes",
}
