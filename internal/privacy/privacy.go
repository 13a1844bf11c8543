// Package privacy decides whether a piece of text is safe to share with
// other users, and produces a sanitized version when it is not.
//
// Two scanners are provided. LLMScanner asks a model to judge the text
// and rewrite sensitive spans with placeholders; it is the primary path.
// RegexScanner is a deterministic pattern-based fallback that catches
// machine-readable secrets and contact details without a network call.
// Both fail closed: when a scanner cannot produce a trustworthy verdict
// it returns an error and the caller must not share the text.
package privacy

import "context"

// Verdict is the outcome of scanning one piece of text.
type Verdict struct {
	// Sensitive reports whether the text contains private details.
	Sensitive bool
	// Redacted is the text with sensitive spans replaced by placeholders.
	// Equal to the input when Sensitive is false.
	Redacted string
}

// Scanner judges text for private details.
type Scanner interface {
	Scan(ctx context.Context, text string) (Verdict, error)
}

// minScanLength is the shortest text worth scanning. Anything shorter
// cannot carry meaningful PII.
const minScanLength = 5
