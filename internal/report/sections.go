package report

import (
	"regexp"
	"strings"
)

// RawTextKey holds the unparsed report in the map returned by ParseSections.
const RawTextKey = "full_raw_text"

var heading = regexp.MustCompile(`\d+\.\s+\*\*(.*?)\*\*:`)

// ParseSections splits a report on its "N. **Heading**:" markers. Keys are
// lowercased headings with spaces replaced by underscores. Text before the
// first heading is dropped.
func ParseSections(text string) map[string]string {
	sections := make(map[string]string)

	matches := heading.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		title := strings.TrimSpace(text[m[2]:m[3]])
		key := strings.ReplaceAll(strings.ToLower(title), " ", "_")
		sections[key] = strings.TrimSpace(text[m[1]:end])
	}

	sections[RawTextKey] = text
	return sections
}
