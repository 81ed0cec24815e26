package indexer

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

var (
	htmlTagPattern   = regexp.MustCompile(`(?s)<[a-zA-Z/][^>]*>`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern  = regexp.MustCompile(`[ \t\r\f\v]+`)
	markdownEmphasis = regexp.MustCompile(`(\*\*|__)`)
)

// NormalizeText turns rich-text field values into stable plain text:
// HTML is converted to markdown, whitespace runs are collapsed and
// the result is trimmed. The same input always yields the same output.
func NormalizeText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if htmlTagPattern.MatchString(value) {
		converter := md.NewConverter("", true, nil)
		if converted, err := converter.ConvertString(value); err == nil && strings.TrimSpace(converted) != "" {
			value = converted
		} else {
			value = htmlTagPattern.ReplaceAllString(value, " ")
		}
		value = markdownEmphasis.ReplaceAllString(value, "")
	}

	lines := strings.Split(value, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunPattern.ReplaceAllString(line, " "))
	}
	value = strings.Join(lines, "\n")
	value = blankRunPattern.ReplaceAllString(value, "\n\n")

	return strings.TrimSpace(value)
}

// truncateRunes shortens value to at most n runes, appending an ellipsis when cut
func truncateRunes(value string, n int) string {
	runes := []rune(value)
	if len(runes) <= n {
		return value
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
