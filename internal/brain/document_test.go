package brain

import (
	"slices"
	"testing"
	"time"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Pricing & Plans", "pricing-plans"},
		{"  FAQ!  ", "faq"},
		{"Horário de Funcionamento", "horário-de-funcionamento"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDocument(t *testing.T) {
	ts := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	doc := FormatDocument("Refund Policy", "policy", "  30 days.  ", map[string]string{
		MetaSource: "handbook",
		MetaTags:   " money, ,returns ",
	}, ts, ts)

	want := `# Refund Policy
<!-- ref:@refund-policy -->

- **Type:** policy
- **Created:** 2026-10-15T12:00:00Z
- **Updated:** 2026-10-15T12:00:00Z
- **Source:** handbook
- **Tags:** money, returns

---

30 days.
`
	if doc != want {
		t.Errorf("FormatDocument =\n%s\nwant\n%s", doc, want)
	}

	ref, ok := ParseAnchor(doc)
	if !ok || ref != "refund-policy" {
		t.Errorf("ParseAnchor = %q, %v; want refund-policy, true", ref, ok)
	}
	if _, ok := ParseAnchor("no anchor"); ok {
		t.Error("ParseAnchor found an anchor in plain text")
	}
}

func TestKeywords(t *testing.T) {
	md := "# Shipping\n\nWe ship **worldwide** via [DHL](https://dhl.com).\n\n```\ntracking code\n```\n\nWe ship fast."
	if got, want := Keywords(md, 20), []string{"shipping", "ship", "worldwide", "via", "dhl", "tracking", "code", "fast"}; !slices.Equal(got, want) {
		t.Errorf("Keywords = %v, want %v", got, want)
	}
	if got, want := Keywords(md, 2), []string{"shipping", "ship"}; !slices.Equal(got, want) {
		t.Errorf("Keywords(limit 2) = %v, want %v", got, want)
	}
}
