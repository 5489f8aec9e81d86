package record

import (
	"strings"
)

// Summarize renders r as the single paragraph that gets embedded.
//
// The field order is fixed: vectors already stored were computed from this
// exact layout, so changing it makes new embeddings incomparable with old ones.
func Summarize(r Record) string {
	var sb strings.Builder
	sb.WriteString(r.Name)
	sb.WriteString(" (")
	sb.WriteString(r.ID)
	sb.WriteString("): ")
	sb.WriteString(r.Description)
	sb.WriteString(".")

	writeList(&sb, "Key Concepts", r.KeyConcepts)
	writeList(&sb, "Design Guidelines", r.DesignGuidelines)
	writeList(&sb, "Common Pitfalls", r.CommonPitfalls)
	writeList(&sb, "Best Practices", r.BestPractices)
	writeList(&sb, "Technologies", r.RelevantTechnologies)

	sb.WriteString(" Notes: ")
	sb.WriteString(r.Notes)
	return sb.String()
}

func writeList(sb *strings.Builder, label string, items []string) {
	sb.WriteString(" ")
	sb.WriteString(label)
	sb.WriteString(": ")
	sb.WriteString(strings.Join(items, ", "))
	sb.WriteString(".")
}
