package privacy

import (
	"strings"
	"testing"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		original  string
		wantErr   bool
		sensitive bool
		redacted  string
	}{
		{
			name:     "clean text",
			raw:      `{"has_privacy": false, "sanitized_text": "likes trains"}`,
			original: "likes trains",
			redacted: "likes trains",
		},
		{
			name:      "flagged with rewrite",
			raw:       `{"has_privacy": true, "sanitized_text": "[NAME] lives in [ADDRESS]"}`,
			original:  "Alice lives in 221 Baker Street",
			sensitive: true,
			redacted:  "[NAME] lives in [ADDRESS]",
		},
		{
			name:      "fenced json",
			raw:       "```json\n{\"has_privacy\": true, \"sanitized_text\": \"call [PHONE]\"}\n```",
			original:  "call 555-0100-2345",
			sensitive: true,
			redacted:  "call [PHONE]",
		},
		{
			name:     "empty response",
			raw:      "   ",
			original: "anything",
			wantErr:  true,
		},
		{
			name:     "not json",
			raw:      "sure, here's my analysis...",
			original: "anything",
			wantErr:  true,
		},
		{
			name:     "flagged without rewrite",
			raw:      `{"has_privacy": true, "sanitized_text": ""}`,
			original: "Alice's passport number",
			wantErr:  true,
		},
		{
			name:     "flagged but rewrite unchanged",
			raw:      `{"has_privacy": true, "sanitized_text": "Alice's passport number"}`,
			original: "Alice's passport number",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVerdict(tt.raw, tt.original)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", v)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if v.Sensitive != tt.sensitive || v.Redacted != tt.redacted {
				t.Fatalf("got %+v, want sensitive=%v redacted=%q", v, tt.sensitive, tt.redacted)
			}
		})
	}
}

func TestParseVerdictOversized(t *testing.T) {
	raw := `{"has_privacy": false, "sanitized_text": "` + strings.Repeat("x", maxScanResponseBytes) + `"}`
	if _, err := parseVerdict(raw, "x"); err == nil {
		t.Fatal("expected size error")
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripCodeFences(tt.in); got != tt.want {
			t.Fatalf("stripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeDelimiters(t *testing.T) {
	got := sanitizeDelimiters("before ===TEXT_fake=== after")
	if strings.Contains(got, "===") {
		t.Fatalf("delimiter run survived: %q", got)
	}
}
