package privacy

import (
	"context"
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces whole lines containing secrets.
const RedactedPlaceholder = "[REDACTED]"

// secretPatterns match common machine-readable secret formats. Favors
// false positives over false negatives: better to redact too much than
// to let a real credential reach shared memory.
var secretPatterns = []*regexp.Regexp{
	// API keys by provider prefix
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9]{20,}`),                        // OpenAI
	regexp.MustCompile(`(?i)sk-ant-[a-zA-Z0-9\-]{20,}`),                  // Anthropic
	regexp.MustCompile(`AIza[a-zA-Z0-9\-_]{35}`),                         // Google API
	regexp.MustCompile(`(?i)ghp_[a-zA-Z0-9]{36}`),                        // GitHub PAT
	regexp.MustCompile(`(?i)github_pat_[a-zA-Z0-9_]{22,}`),               // GitHub fine-grained
	regexp.MustCompile(`AKIA[A-Z0-9]{16}`),                               // AWS access key
	regexp.MustCompile(`(?i)xox[bpsa]-[a-zA-Z0-9\-]{10,}`),               // Slack tokens
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_\-]{20,}\.eyJ[a-zA-Z0-9_\-]+`), // JWT

	// Connection strings
	regexp.MustCompile(`(?i)(?:postgres|mysql|mongodb|redis)://\S+@\S+`),

	// PEM private keys
	regexp.MustCompile(`-{5}BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-{5}`),

	// Bearer tokens in headers
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_.]{20,}`),

	// Generic key=value patterns for common secret names
	regexp.MustCompile(`(?i)(?:api[_-]?key|api[_-]?secret|access[_-]?token|secret[_-]?key|private[_-]?key|auth[_-]?token)\s*[:=]\s*["']?[a-zA-Z0-9\-_.]{16,}["']?`),

	// Password assignments
	regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[:=]\s*["']?[^\s"']{8,}["']?`),
}

// piiPatterns match contact details that can be replaced in place rather
// than redacting the whole line.
var piiPatterns = []struct {
	re          *regexp.Regexp
	placeholder string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\+?\d{1,3}[-. (]?\d{2,4}[-. )]?\d{3,4}[-. ]?\d{3,4}`), "[PHONE]"},
	{regexp.MustCompile(`(?i)\b\d{1,5}\s+[a-z]+(?:\s+[a-z]+)?\s+(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr)\b\.?`), "[ADDRESS]"},
}

// ContainsSecrets reports whether text matches any known secret pattern.
func ContainsSecrets(text string) bool {
	for _, p := range secretPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// SanitizeLines replaces lines containing secrets with "[REDACTED]".
// Lines without secrets pass through unchanged.
func SanitizeLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if ContainsSecrets(line) {
			lines[i] = RedactedPlaceholder
		}
	}
	return strings.Join(lines, "\n")
}

// RegexScanner is a deterministic, offline scanner. It redacts secret
// lines wholesale and replaces contact details in place. It cannot catch
// free-form private details (names, narrative context) the LLM scanner
// exists for, so it is a fallback, not a substitute.
type RegexScanner struct{}

// NewRegexScanner returns a pattern-based scanner.
func NewRegexScanner() *RegexScanner { return &RegexScanner{} }

// Scan never returns an error.
func (s *RegexScanner) Scan(_ context.Context, text string) (Verdict, error) {
	if len(text) < minScanLength {
		return Verdict{Sensitive: false, Redacted: text}, nil
	}

	redacted := SanitizeLines(text)
	for _, p := range piiPatterns {
		redacted = p.re.ReplaceAllString(redacted, p.placeholder)
	}
	if redacted == text {
		return Verdict{Sensitive: false, Redacted: text}, nil
	}
	return Verdict{Sensitive: true, Redacted: redacted}, nil
}
