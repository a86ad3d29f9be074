package util

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizePostgresText_GraphValues(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty id", "", ""},
		{"factor id unchanged", "FR_credit_rating", "FR_credit_rating"},
		{"non-ascii label kept", "KOSPI → 원/달러", "KOSPI → 원/달러"},
		{"nul inside node id", "US_\x00CPI", "US_CPI"},
		{"truncated multibyte sequence", "oil_price\xe2\x86", "oil_price"},
		{"stray byte in jsonb text", `{"label":"Gold` + "\xff" + `"}`, `{"label":"Gold"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePostgresText(tt.input)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) || strings.ContainsRune(got, 0) {
				t.Fatalf("result is not storable in postgres: %q", got)
			}
		})
	}
}

func TestSanitizePostgresText_KeepsAttributesValidJSON(t *testing.T) {
	raw := `{"group":"macro` + "\x00\xfe" + `","evidence":["paper"]}`

	var attrs map[string]any
	if err := json.Unmarshal([]byte(SanitizePostgresText(raw)), &attrs); err != nil {
		t.Fatalf("sanitized attributes must stay valid JSON: %v", err)
	}
	if attrs["group"] != "macro" {
		t.Fatalf("unexpected group %v", attrs["group"])
	}
}
