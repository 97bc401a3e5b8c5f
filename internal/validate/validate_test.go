package validate

import (
	"testing"
)

func TestName_Rejects(t *testing.T) {
	rejected := []string{
		// day names
		"Monday", "monday", "Friday", "sunday", "segunda", "sexta-feira", "Sábado",
		// time expressions
		"at 16", "14:30", "10h", "16h30", "4pm",
		// short confirmations
		"yes", "no", "ok", "Ok", "okay", "sim", "não",
		// greetings and introductions around a name
		"Hi John", "Hello there", "hey Ana", "my name is John", "I'm John",
		"this is Ana", "call me Bob", "meu nome é João", "sou Ana", "thanks John",
		// junk
		"", "   ", "john@gmail.com", "R2D2", "one two three four five",
	}
	for _, s := range rejected {
		t.Run(s, func(t *testing.T) {
			if r := Name(s); r.Valid {
				t.Errorf("Name(%q) = %v, should be rejected", s, r.Normalized)
			}
		})
	}
}

func TestName_Accepts(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"John", "John"},
		{"john", "John"},
		{"Mary Jane", "Mary Jane"},
		{"O'Brien", "O'Brien"},
		{"Jean-Luc", "Jean-Luc"},
		{"José.", "José"},
		{"Ana da Silva", "Ana Da Silva"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r := Name(tt.in)
			if !r.Valid {
				t.Fatalf("Name(%q) rejected", tt.in)
			}
			if r.Normalized != tt.want {
				t.Errorf("Name(%q) = %v, want %q", tt.in, r.Normalized, tt.want)
			}
		})
	}
}

func TestTime(t *testing.T) {
	hours := DefaultBusinessHours()
	tests := []struct {
		in    string
		valid bool
		want  string
	}{
		{"at 16", true, "16:00"},
		{"At 9", true, "09:00"},
		{"10h", true, "10:00"},
		{"14:30", true, "14:30"},
		{"14h30", true, "14:30"},
		{"9:05", true, "09:05"},
		{"às 15", true, "15:00"},
		{"4pm", true, "16:00"},
		{"18:00", true, "18:00"},
		{"23:00", false, ""},
		{"03:00", false, ""},
		{"02:00", false, ""},
		{"05:00", false, ""},
		{"at 3", false, ""},
		{"18:01", false, ""},
		{"16", false, ""},
		{"25:00", false, ""},
		{"12:75", false, ""},
		{"14:", false, ""},
		{"John", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r := Time(tt.in, hours)
			if r.Valid != tt.valid {
				t.Fatalf("Time(%q).Valid = %v, want %v", tt.in, r.Valid, tt.valid)
			}
			if tt.valid && r.Normalized != tt.want {
				t.Errorf("Time(%q) = %v, want %q", tt.in, r.Normalized, tt.want)
			}
		})
	}
}

func TestTime_CustomHours(t *testing.T) {
	night := BusinessHours{Start: 20 * 60, End: 23*60 + 59}
	if r := Time("23:00", night); !r.Valid || r.Normalized != "23:00" {
		t.Errorf("Time(23:00) = %+v, want valid 23:00", r)
	}
	if Time("at 16", night).Valid {
		t.Error("16:00 accepted outside night hours")
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
		want  string
	}{
		{"john@gmail.com", true, "john@gmail.com"},
		{"  John.Doe@Example.co.uk ", true, "john.doe@example.co.uk"},
		{"john@gmail.com.", true, "john@gmail.com"},
		{"john@gmail", false, ""},
		{"john gmail.com", false, ""},
		{"jo hn@gmail.com", false, ""},
		{"@gmail.com", false, ""},
		{"john@.com", false, ""},
		{"john@gmail..com", false, ""},
		{"john@@gmail.com", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r := Email(tt.in)
			if r.Valid != tt.valid {
				t.Fatalf("Email(%q).Valid = %v, want %v", tt.in, r.Valid, tt.valid)
			}
			if tt.valid && r.Normalized != tt.want {
				t.Errorf("Email(%q) = %v, want %q", tt.in, r.Normalized, tt.want)
			}
		})
	}
}

func TestDate(t *testing.T) {
	tests := []struct {
		in   string
		want Result
	}{
		{"monday", Result{Valid: true, Normalized: "monday"}},
		{"next Friday", Result{Valid: true, Normalized: "friday"}},
		{"terça-feira", Result{Valid: true, Normalized: "tuesday"}},
		{"2026-10-19", Result{Valid: true, Normalized: "2026-10-19"}},
	}
	for _, tt := range tests {
		if got := Date(tt.in); got != tt.want {
			t.Errorf("Date(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if Date("someday").Valid {
		t.Error("Date(someday) accepted")
	}
}

func TestPhone(t *testing.T) {
	if got := Phone("+55 (11) 98765-4321").Normalized; got != "+5511987654321" {
		t.Errorf("Phone(+55 ...) = %v", got)
	}
	if got := Phone("555.123.4567").Normalized; got != "5551234567" {
		t.Errorf("Phone(555.123.4567) = %v", got)
	}
	for _, bad := range []string{"12345", "call me maybe"} {
		if Phone(bad).Valid {
			t.Errorf("Phone(%q) accepted", bad)
		}
	}
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:30")
	if err != nil {
		t.Fatalf("ParseClock(09:30): %v", err)
	}
	if m != 570 {
		t.Errorf("ParseClock(09:30) = %d, want 570", m)
	}

	for _, bad := range []string{"9", "24:00"} {
		if _, err := ParseClock(bad); err == nil {
			t.Errorf("ParseClock(%q) should fail", bad)
		}
	}
}

func TestSet_Check(t *testing.T) {
	s := NewSet(DefaultBusinessHours())

	kinds := map[string]Kind{
		"name":          KindName,
		"customer_name": KindName,
		"meeting_time":  KindTime,
		"meeting_date":  KindDate,
		"email":         KindEmail,
		"phone":         KindPhone,
		"problem":       KindText,
	}
	for variable, want := range kinds {
		if got := s.KindOf(variable); got != want {
			t.Errorf("KindOf(%q) = %q, want %q", variable, got, want)
		}
	}

	if got := s.Check("meeting_time", "at 16").Normalized; got != "16:00" {
		t.Errorf("meeting_time normalized = %v, want 16:00", got)
	}
	if s.Check("name", "Monday").Valid || s.Check("name", nil).Valid {
		t.Error("name accepted a day name or nil")
	}
	if got := s.Check("quantity", 3.0).Normalized; got != 3.0 {
		t.Errorf("quantity normalized = %v, want 3", got)
	}
	if got := s.Check("problem", "  leaky roof ").Normalized; got != "leaky roof" {
		t.Errorf("problem normalized = %q, want trimmed text", got)
	}
	if s.Check("problem", "   ").Valid {
		t.Error("whitespace-only text accepted")
	}

	s.SetKind("problem", KindEmail)
	if s.Check("problem", "leaky roof").Valid {
		t.Error("SetKind override ignored")
	}
}
