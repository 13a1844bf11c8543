package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tripmesh/tripmesh/internal/log"
	"github.com/tripmesh/tripmesh/internal/privacy"
)

// DefaultMaxChars is the length memories are truncated to before storage.
const DefaultMaxChars = 800

// DefaultScanTimeout bounds the privacy scan inside Remember.
const DefaultScanTimeout = 15 * time.Second

// Options tune the recall-then-rerank pipeline. Zero values take the
// package defaults.
type Options struct {
	Alpha        float64
	HalfLifeDays float64
	MinSim       float64
	RecallLimit  int
	MaxChars     int
	ScanTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Alpha <= 0 {
		o.Alpha = DefaultAlpha
	}
	if o.HalfLifeDays <= 0 {
		o.HalfLifeDays = DefaultHalfLifeDays
	}
	if o.MinSim <= 0 {
		o.MinSim = DefaultMinSim
	}
	if o.RecallLimit <= 0 {
		o.RecallLimit = DefaultRecallLimit
	}
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = DefaultScanTimeout
	}
	return o
}

// Store is the long-term memory facade: Remember writes items with
// privacy-aware sharing, Retrieve runs the recall-then-rerank pipeline.
type Store struct {
	backend  Backend
	embedder Embedder
	scanner  privacy.Scanner
	opts     Options
	logger   log.Logger
}

// NewStore wires a store. The scanner may be nil, in which case nothing
// is ever shared: without a privacy verdict the safe answer is no.
func NewStore(backend Backend, embedder Embedder, scanner privacy.Scanner, opts Options, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		backend:  backend,
		embedder: embedder,
		scanner:  scanner,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Remember stores text as a memory of ownerID. When share is set the
// text is scanned for private details first: clean text is stored once
// as shared; sensitive text is stored twice, the original private to the
// owner and a redacted version shared. If the scan fails the text is
// stored private only.
func (s *Store) Remember(ctx context.Context, ownerID, text string, kind Kind, meta map[string]any, share bool) error {
	text = strings.TrimSpace(text)
	if text == "" || ownerID == "" {
		return nil
	}
	if !kind.Valid() {
		return fmt.Errorf("invalid memory kind %q", kind)
	}
	text = truncateRunes(text, s.opts.MaxChars)

	if !share {
		return s.insert(ctx, ownerID, kind, text, meta, false)
	}
	if s.scanner == nil {
		s.logger.Warn("no privacy scanner configured, storing private only", "owner", ownerID)
		return s.insert(ctx, ownerID, kind, text, meta, false)
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.opts.ScanTimeout)
	verdict, err := s.scanner.Scan(scanCtx, text)
	cancel()
	if err != nil {
		// Fail closed: without a verdict the text stays private.
		s.logger.Warn("privacy scan failed, storing private only",
			"owner", ownerID, "error", err)
		return s.insert(ctx, ownerID, kind, text, meta, false)
	}

	if !verdict.Sensitive {
		return s.insert(ctx, ownerID, kind, text, meta, true)
	}

	// Dual copy: the owner keeps the original, others see the redaction.
	if err := s.insert(ctx, ownerID, kind, text, meta, false); err != nil {
		return err
	}
	sharedMeta := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		sharedMeta[k] = v
	}
	sharedMeta["sanitized"] = true
	return s.insert(ctx, ownerID, kind, verdict.Redacted, sharedMeta, true)
}

func (s *Store) insert(ctx context.Context, ownerID string, kind Kind, text string, meta map[string]any, shared bool) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding memory text: %w", err)
	}
	item := NewItem(ownerID, kind, text, meta, shared, vec)
	if err := s.backend.Insert(ctx, item); err != nil {
		return fmt.Errorf("storing memory item: %w", err)
	}
	s.logger.Debug("stored memory item",
		"owner", ownerID, "kind", kind, "shared", shared, "chars", len(text))
	return nil
}

// Retrieve runs the recall-then-rerank pipeline for ownerID's view of
// memory: their own items plus shared items from externalOwners. Results
// scoring at least the similarity floor are returned, best first, at
// most k; when nothing clears the floor the top k candidates are
// returned anyway so the caller is never left empty-handed by a strict
// threshold. A recall failure is returned as an error; the caller
// decides how to degrade.
func (s *Store) Retrieve(ctx context.Context, ownerID, query string, k int, externalOwners []string) ([]Scored, error) {
	if ownerID == "" || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 4
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scope := Scope{Owner: ownerID, External: externalOwners}
	candidates, err := s.backend.Recall(ctx, scope, query, queryVec, s.opts.RecallLimit)
	if err != nil {
		return nil, fmt.Errorf("recalling memories: %w", err)
	}

	now := time.Now().UTC()
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		// Backends enforce the scope; re-check anyway so a backend bug
		// cannot leak another user's private memory.
		if c.Item.OwnerID != ownerID && !c.Item.Shared {
			s.logger.Warn("dropping out-of-scope recall result",
				"owner", ownerID, "item_owner", c.Item.OwnerID, "id", c.Item.ID)
			continue
		}
		kw := KeywordOverlap(query, c.Item.Text)
		rec := Recency(c.Item.CreatedAt, now, s.opts.HalfLifeDays)
		scored = append(scored, Scored{
			Item:  c.Item,
			Score: Fuse(s.opts.Alpha, c.Cosine, kw, rec),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	hits := make([]Scored, 0, k)
	for _, sc := range scored {
		if sc.Score >= s.opts.MinSim {
			hits = append(hits, sc)
			if len(hits) == k {
				break
			}
		}
	}
	if len(hits) == 0 && len(scored) > 0 {
		if len(scored) > k {
			scored = scored[:k]
		}
		s.logger.Debug("no memories above similarity floor, falling back to top candidates",
			"owner", ownerID, "returned", len(scored))
		return scored, nil
	}
	return hits, nil
}

// FormatSnippets renders retrieved memories as one system-message block.
// When multiSource is set each line is attributed via displayName (item
// owner ID is passed through when displayName is nil). Returns "" for an
// empty result so callers can skip injection entirely.
func FormatSnippets(items []Scored, multiSource bool, displayName func(ownerID string) string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant notes from long-term memory:\n")
	for _, s := range items {
		text := strings.ReplaceAll(strings.TrimSpace(s.Item.Text), "\n", " ")
		if multiSource {
			name := s.Item.OwnerID
			if displayName != nil {
				name = displayName(s.Item.OwnerID)
			}
			fmt.Fprintf(&b, "- [%s] %s\n", name, text)
		} else {
			fmt.Fprintf(&b, "- %s\n", text)
		}
	}
	b.WriteString("Use these notes only where they are relevant to the current request.")
	return b.String()
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
