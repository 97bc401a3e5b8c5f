package brain

import (
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// stopwords are dropped from keyword lists. English and Portuguese,
// matching the languages the validators understand.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "does": true,
	"for": true, "from": true, "has": true, "have": true, "how": true, "i": true,
	"if": true, "in": true, "into": true, "is": true, "it": true, "its": true,
	"not": true, "of": true, "on": true, "or": true, "our": true, "so": true,
	"that": true, "the": true, "their": true, "them": true, "then": true,
	"there": true, "these": true, "they": true, "this": true, "to": true,
	"was": true, "we": true, "were": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "will": true, "with": true,
	"you": true, "your": true,
	"o": true, "os": true, "um": true, "uma": true, "de": true,
	"da": true, "das": true, "dos": true, "e": true, "em": true,
	"no": true, "na": true, "nos": true, "nas": true, "para": true, "por": true,
	"com": true, "que": true, "se": true, "ao": true, "é": true,
}

// Keywords derives a deduplicated keyword list from markdown content:
// markup is parsed away, the remaining text is split into words,
// lower-cased, stopwords and single characters are dropped, and the
// list is capped at max entries in order of first appearance.
func Keywords(content string, max int) []string {
	if max <= 0 {
		max = 20
	}

	words := strings.FieldsFunc(strings.ToLower(plainText(content)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(words))
	out := make([]string, 0, max)
	for _, w := range words {
		if len([]rune(w)) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == max {
			break
		}
	}
	return out
}

// plainText renders the text nodes of a markdown document, dropping
// markup such as emphasis markers, link targets and heading hashes.
func plainText(content string) string {
	src := []byte(content)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				sb.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(v.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := v.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
