package generator

import (
	"fmt"
	"strings"
)

const promptTemplate = `Generate %d distinct knowledge records about %s.

Each record captures one concept, pattern or practice in the domain. Give every record a short unique id, a concise name, a one or two sentence description, ordered lists of key concepts, design guidelines, common pitfalls, best practices and relevant technologies (most important first), and optional notes.`

const formatTemplate = `Your output must be ONLY a single JSON object conforming to the JSON Schema below, with the records under the "records" key. Do not include any other text, prose, or markdown.

%s`

// BuildPrompt renders the generation instruction for count records.
func BuildPrompt(count int, p Profile, schema []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, promptTemplate, count, p.Domain)

	if p.Audience != "" {
		fmt.Fprintf(&sb, "\n\nWrite for %s.", p.Audience)
	}
	if len(p.Focus) > 0 {
		fmt.Fprintf(&sb, "\n\nCover these areas: %s.", strings.Join(p.Focus, ", "))
	}
	if len(p.Guidance) > 0 {
		sb.WriteString("\n\nAdditional guidance:")
		for _, g := range p.Guidance {
			fmt.Fprintf(&sb, "\n- %s", g)
		}
	}

	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, formatTemplate, schema)
	return sb.String()
}
