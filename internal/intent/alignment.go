package intent

import (
	"strings"

	"kylo/internal/audit"
)

const missingSampleCap = 5

// CheckAlignment tests literal substring containment of every intent keyword
// in the file's lowercased source. No tokenization is applied to the source.
// At most one issue is emitted per file; an empty keyword set emits nothing.
func CheckAlignment(path string, source []byte, keywords []string) []audit.Issue {
	if len(keywords) == 0 {
		return nil
	}

	text := strings.ToLower(string(source))
	var missing []string
	for _, kw := range keywords {
		if !strings.Contains(text, kw) {
			missing = append(missing, kw)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sample := missing
	if len(sample) > missingSampleCap {
		sample = sample[:missingSampleCap]
	}
	return []audit.Issue{{
		File:     path,
		Severity: audit.SeverityMedium,
		Message:  "Potential misalignment with stated project goals.",
		Details:  map[string]any{"missing_keywords_sample": sample},
	}}
}
