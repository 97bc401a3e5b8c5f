package brain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Metadata keys rendered into the document header.
const (
	MetaSource = "source"
	MetaTags   = "tags" // comma-separated
	MetaAuthor = "author"
)

// Slug turns a topic into a lower-case, hyphen-separated reference
// name: "Pricing & Plans" becomes "pricing-plans".
func Slug(topic string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(topic) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(sb.String(), "-")
}

var anchorPattern = regexp.MustCompile(`<!-- ref:@([^\s>]+) -->`)

// Anchor returns the back-reference marker embedded in formatted
// documents for topic.
func Anchor(topic string) string {
	return fmt.Sprintf("<!-- ref:@%s -->", Slug(topic))
}

// ParseAnchor extracts the reference name from a formatted document.
func ParseAnchor(formatted string) (string, bool) {
	m := anchorPattern.FindStringSubmatch(formatted)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FormatDocument wraps content in the structured document stored
// alongside the raw text.
func FormatDocument(topic, contentType, content string, metadata map[string]string, created, updated time.Time) string {
	var sb strings.Builder
	sb.WriteString("# " + topic + "\n")
	sb.WriteString(Anchor(topic) + "\n\n")
	sb.WriteString("- **Type:** " + contentType + "\n")
	sb.WriteString("- **Created:** " + created.UTC().Format(time.RFC3339) + "\n")
	sb.WriteString("- **Updated:** " + updated.UTC().Format(time.RFC3339) + "\n")
	if v := metadata[MetaSource]; v != "" {
		sb.WriteString("- **Source:** " + v + "\n")
	}
	if v := metadata[MetaTags]; v != "" {
		var tags []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		if len(tags) > 0 {
			sb.WriteString("- **Tags:** " + strings.Join(tags, ", ") + "\n")
		}
	}
	if v := metadata[MetaAuthor]; v != "" {
		sb.WriteString("- **Author:** " + v + "\n")
	}
	sb.WriteString("\n---\n\n")
	sb.WriteString(strings.TrimSpace(content))
	sb.WriteString("\n")
	return sb.String()
}
