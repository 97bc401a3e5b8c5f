// Package validate rejects nonsensical values for the variable types a
// conversation collects. Every validator is a pure function returning a
// [Result]; callers only accept values marked valid, using the
// normalized form.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Result is the outcome of validating one candidate value.
type Result struct {
	Valid      bool
	Normalized any
}

func invalid() Result { return Result{} }

func valid(v any) Result { return Result{Valid: true, Normalized: v} }

// BusinessHours bounds acceptable meeting times, in minutes after
// midnight. Both ends are inclusive.
type BusinessHours struct {
	Start int
	End   int
}

// DefaultBusinessHours returns the 09:00–18:00 window.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{Start: 9 * 60, End: 18 * 60}
}

// Contains reports whether minute-of-day m falls inside the window.
func (b BusinessHours) Contains(m int) bool {
	return m >= b.Start && m <= b.End
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// weekdays maps day words to a canonical lower-case English weekday.
var weekdays = map[string]string{
	"monday": "monday", "tuesday": "tuesday", "wednesday": "wednesday",
	"thursday": "thursday", "friday": "friday", "saturday": "saturday",
	"sunday": "sunday",
	"segunda": "monday", "segunda-feira": "monday",
	"terça": "tuesday", "terca": "tuesday", "terça-feira": "tuesday", "terca-feira": "tuesday",
	"quarta": "wednesday", "quarta-feira": "wednesday",
	"quinta": "thursday", "quinta-feira": "thursday",
	"sexta": "friday", "sexta-feira": "friday",
	"sábado": "saturday", "sabado": "saturday",
	"domingo": "sunday",
}

// Weekday returns the canonical weekday for a day word.
func Weekday(word string) (string, bool) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(word))]
	return d, ok
}

// nonNames are short replies and fillers that show up where a name
// was expected.
var nonNames = map[string]bool{
	"yes": true, "no": true, "ok": true, "okay": true, "sure": true,
	"yeah": true, "yep": true, "nope": true, "nah": true, "fine": true,
	"hi": true, "hello": true, "hey": true, "thanks": true, "thank": true,
	"sim": true, "não": true, "nao": true, "oi": true, "olá": true, "ola": true,
	"today": true, "tomorrow": true, "hoje": true, "amanhã": true, "amanha": true,
}

// introWords frame a name without being part of one ("my name is
// John", "this is Ana", "me chamo João").
var introWords = map[string]bool{
	"my": true, "name": true, "names": true, "is": true, "i": true, "i'm": true,
	"im": true, "am": true, "this": true, "it's": true, "its": true, "call": true,
	"me": true, "there": true, "here": true, "speaking": true,
	"meu": true, "nome": true, "é": true, "sou": true, "chamo": true, "aqui": true,
}

var nameToken = regexp.MustCompile(`^\p{L}[\p{L}'\-]*$`)

// Name accepts ordinary word tokens that read as a person's name. It
// rejects day names, anything containing digits (time expressions such
// as "at 16", "14:30" or "10h"), and any token that is a greeting, a
// confirmation word or part of an introduction phrase.
func Name(s string) Result {
	s = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ".,!?;"))
	if s == "" || utf8.RuneCountInString(s) > 60 {
		return invalid()
	}
	if strings.IndexFunc(s, unicode.IsDigit) >= 0 {
		return invalid()
	}
	if _, ok := timeOf(strings.ToLower(s)); ok {
		return invalid()
	}
	if nonNames[strings.ToLower(s)] {
		return invalid()
	}

	tokens := strings.Fields(s)
	if len(tokens) > 4 {
		return invalid()
	}
	for i, tok := range tokens {
		if !nameToken.MatchString(tok) {
			return invalid()
		}
		if _, ok := Weekday(tok); ok {
			return invalid()
		}
		if lower := strings.ToLower(tok); nonNames[lower] || introWords[lower] {
			return invalid()
		}
		tokens[i] = capitalize(tok)
	}
	return valid(strings.Join(tokens, " "))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// timePattern covers "at H", "Hh", "H:MM", "HhMM" and an am/pm suffix.
var timePattern = regexp.MustCompile(`^(?:(at|às|as)\s+)?(\d{1,2})(?:(:|h)(\d{2})?)?\s*(am|pm)?$`)

// timeOf parses a lower-cased time expression into minutes after
// midnight, without applying business hours.
func timeOf(s string) (int, bool) {
	m := timePattern.FindStringSubmatch(strings.TrimRight(s, "."))
	if m == nil {
		return 0, false
	}
	prefix, sep, minStr, meridiem := m[1], m[3], m[4], m[5]
	if sep == ":" && minStr == "" {
		return 0, false
	}
	if prefix == "" && sep == "" && meridiem == "" {
		// A bare number is not a time.
		return 0, false
	}

	hour, _ := strconv.Atoi(m[2])
	minute := 0
	if minStr != "" {
		minute, _ = strconv.Atoi(minStr)
	}
	if minute > 59 {
		return 0, false
	}

	switch meridiem {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return 0, false
		}
		hour %= 12
		if meridiem == "pm" {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, false
		}
	}
	return hour*60 + minute, true
}

// Time accepts "at H", "Hh", "H:MM" and "HhMM" (plus an am/pm suffix),
// normalizing to zero-padded "HH:MM". Times outside hours are rejected.
func Time(s string, hours BusinessHours) Result {
	minutes, ok := timeOf(strings.ToLower(strings.TrimSpace(s)))
	if !ok || !hours.Contains(minutes) {
		return invalid()
	}
	return valid(fmt.Sprintf("%02d:%02d", minutes/60, minutes%60))
}

// Email requires local@domain.tld with no whitespace and at least one
// dot inside the domain.
func Email(s string) Result {
	s = strings.ToLower(strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ".,;")))
	local, domain, ok := strings.Cut(s, "@")
	if !ok || local == "" || domain == "" {
		return invalid()
	}
	if strings.ContainsAny(s, " \t\r\n") || strings.Contains(domain, "@") {
		return invalid()
	}
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") ||
		strings.HasSuffix(domain, ".") || strings.Contains(domain, "..") {
		return invalid()
	}
	return valid(s)
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Date accepts a weekday word (optionally preceded by "on", "next" or
// "this") normalized to the lower-case English weekday, or an ISO date.
func Date(s string) Result {
	s = strings.ToLower(strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ".,!?")))
	for _, p := range []string{"on ", "next ", "this ", "na ", "no ", "próxima ", "proxima "} {
		s = strings.TrimPrefix(s, p)
	}
	if d, ok := Weekday(s); ok {
		return valid(d)
	}
	if isoDate.MatchString(s) {
		return valid(s)
	}
	return invalid()
}

// Phone accepts 8 to 15 digits after removing common separators. A
// leading "+" is preserved.
func Phone(s string) Result {
	s = strings.TrimSpace(s)
	plus := strings.HasPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.' || r == '+':
		default:
			return invalid()
		}
	}
	digits := b.String()
	if len(digits) < 8 || len(digits) > 15 {
		return invalid()
	}
	if plus {
		digits = "+" + digits
	}
	return valid(digits)
}
