package validate

import (
	"strings"

	"github.com/nugget/stagehand/internal/vars"
)

// Kind identifies which validator applies to a variable.
type Kind string

const (
	KindText  Kind = "text"
	KindName  Kind = "name"
	KindTime  Kind = "time"
	KindEmail Kind = "email"
	KindDate  Kind = "date"
	KindPhone Kind = "phone"
)

// Set dispatches validation by variable name. Kinds are inferred from
// the name ("email", "meeting_time", "customer_name", ...) unless set
// explicitly with [Set.SetKind].
type Set struct {
	hours BusinessHours
	kinds map[string]Kind
}

// NewSet creates a validator set using the given business hours for
// time variables.
func NewSet(hours BusinessHours) *Set {
	return &Set{hours: hours, kinds: make(map[string]Kind)}
}

// SetKind pins the validator kind for a variable name.
func (s *Set) SetKind(variable string, kind Kind) {
	s.kinds[variable] = kind
}

// Hours returns the configured business-hours window.
func (s *Set) Hours() BusinessHours {
	return s.hours
}

// KindOf returns the validator kind for a variable name.
func (s *Set) KindOf(variable string) Kind {
	if k, ok := s.kinds[variable]; ok {
		return k
	}
	return InferKind(variable)
}

// InferKind guesses a validator kind from a variable name.
func InferKind(variable string) Kind {
	n := strings.ToLower(variable)
	switch {
	case strings.Contains(n, "email") || strings.Contains(n, "e_mail"):
		return KindEmail
	case strings.Contains(n, "phone") || strings.Contains(n, "whatsapp") || strings.Contains(n, "mobile"):
		return KindPhone
	case strings.Contains(n, "time") || strings.Contains(n, "hour"):
		return KindTime
	case strings.Contains(n, "date") || n == "day" || strings.HasSuffix(n, "_day") || n == "weekday":
		return KindDate
	case n == "name" || strings.HasSuffix(n, "_name") || strings.HasPrefix(n, "name_"):
		return KindName
	default:
		return KindText
	}
}

// Check validates value for variable. Non-string scalars are accepted
// unchanged for text variables and converted to strings otherwise.
func (s *Set) Check(variable string, value any) Result {
	if !vars.Bound(value) {
		return invalid()
	}

	kind := s.KindOf(variable)
	str, isString := value.(string)
	if !isString {
		if kind == KindText {
			return valid(value)
		}
		str = vars.String(value)
	}

	switch kind {
	case KindName:
		return Name(str)
	case KindTime:
		return Time(str, s.hours)
	case KindEmail:
		return Email(str)
	case KindDate:
		return Date(str)
	case KindPhone:
		return Phone(str)
	default:
		if strings.TrimSpace(str) == "" {
			return invalid()
		}
		return valid(strings.TrimSpace(str))
	}
}
