package pipeline

import (
	"strings"

	"fusionbot/pkg/knowledge"
)

const referencesHeading = "\n\n*References*\n"

// FormatCitations renders citations as Slack link bullets. Citations missing
// a title or a URI are dropped; the result is empty when none qualify.
func FormatCitations(citations []knowledge.Citation) string {
	lines := make([]string, 0, len(citations))
	for _, citation := range citations {
		uri := strings.TrimSpace(citation.URI)
		title := strings.TrimSpace(citation.Title)
		if uri == "" || title == "" {
			continue
		}
		lines = append(lines, "・<"+uri+"|"+title+">")
	}

	return strings.Join(lines, "\n")
}

// withReferences appends the citation section to answer when there is one.
func withReferences(answer string, citations []knowledge.Citation) string {
	formatted := FormatCitations(citations)
	if formatted == "" {
		return answer
	}

	return answer + referencesHeading + formatted
}
