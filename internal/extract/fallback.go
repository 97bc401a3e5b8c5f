package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/nugget/stagehand/internal/validate"
)

// nameIntros match phrases that introduce a name regardless of case.
var nameIntros = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is\s+(\p{L}[\p{L}'\-]*(?:\s+\p{L}[\p{L}'\-]*)?)`),
	regexp.MustCompile(`(?i)\bcall me\s+(\p{L}[\p{L}'\-]*(?:\s+\p{L}[\p{L}'\-]*)?)`),
	regexp.MustCompile(`(?i)\bmeu nome é\s+(\p{L}[\p{L}'\-]*(?:\s+\p{L}[\p{L}'\-]*)?)`),
	regexp.MustCompile(`(?i)\bme chamo\s+(\p{L}[\p{L}'\-]*(?:\s+\p{L}[\p{L}'\-]*)?)`),
}

// selfIntros ("I am", "this is") are only trusted when the next word is
// capitalized, otherwise "I'm available" would yield a name.
var selfIntros = regexp.MustCompile(`(?i:\bi am|\bi'm|\bthis is|\bsou o|\bsou a)\s+(\p{Lu}[\p{L}'\-]*(?:\s+\p{Lu}[\p{L}'\-]*)?)`)

var (
	timeExpr  = regexp.MustCompile(`(?i)(?:(?:^|\s)(?:at|às|as)\s+\d{1,2}(?:(?::|h)\d{2}|h)?(?:\s*(?:am|pm))?\b|\b\d{1,2}(?::|h)\d{2}\b|\b\d{1,2}h\b|\b\d{1,2}\s*(?:am|pm)\b)`)
	emailExpr = regexp.MustCompile(`[^\s@<>(),;:]+@[^\s@<>(),;:]+\.[^\s@<>(),;:]+`)
	phoneExpr = regexp.MustCompile(`\+?\d[\d\s().\-]{6,}\d`)
	isoExpr   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
)

// Fallback runs the pattern table against utterance and returns raw
// candidates for the targets whose kind has a pattern. Candidates are
// not yet validated, except that name matches prefer the longest form
// the validator accepts.
func Fallback(utterance string, targets []string, validators *validate.Set) map[string]any {
	if validators == nil {
		validators = validate.NewSet(validate.DefaultBusinessHours())
	}

	out := make(map[string]any)
	for _, target := range targets {
		var candidate string
		switch validators.KindOf(target) {
		case validate.KindName:
			candidate = findName(utterance)
		case validate.KindDate:
			candidate = findDate(utterance)
		case validate.KindTime:
			candidate = strings.TrimSpace(timeExpr.FindString(utterance))
		case validate.KindEmail:
			candidate = emailExpr.FindString(utterance)
		case validate.KindPhone:
			candidate = phoneExpr.FindString(utterance)
		}
		if candidate != "" {
			out[target] = candidate
		}
	}
	return out
}

func findName(s string) string {
	var captured []string
	for _, re := range nameIntros {
		if m := re.FindStringSubmatch(s); m != nil {
			captured = append(captured, m[1])
		}
	}
	if m := selfIntros.FindStringSubmatch(s); m != nil {
		captured = append(captured, m[1])
	}

	for _, c := range captured {
		first, second, ok := strings.Cut(c, " ")
		// A second word only counts when capitalized ("John Smith",
		// not "John and").
		if ok && startsUpper(second) && validate.Name(c).Valid {
			return c
		}
		if validate.Name(first).Valid {
			return first
		}
	}
	return ""
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func findDate(s string) string {
	if iso := isoExpr.FindString(s); iso != "" {
		return iso
	}
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	for _, w := range words {
		if _, ok := validate.Weekday(w); ok {
			return w
		}
	}
	return ""
}
