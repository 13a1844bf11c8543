// Package memory implements long-term memory as a recall-then-rerank
// pipeline over pluggable vector backends, with privacy-aware sharing
// between users.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a memory item.
type Kind string

const (
	// KindProfile marks durable facts about a user.
	KindProfile Kind = "profile"
	// KindTurn marks a remembered conversation exchange.
	KindTurn Kind = "turn"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindProfile || k == KindTurn
}

// Item is one long-term memory entry. Items are immutable once written;
// there is no update or delete path.
type Item struct {
	ID        string
	OwnerID   string
	Kind      Kind
	Text      string
	CreatedAt time.Time
	Meta      map[string]any
	// Shared items are visible to users the owner exposes memory to.
	Shared bool
	// Embedding is L2-normalized before storage.
	Embedding []float32
}

// NewItem returns an item with a fresh ID and the current time.
func NewItem(ownerID string, kind Kind, text string, meta map[string]any, shared bool, embedding []float32) Item {
	return Item{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now().UTC(),
		Meta:      meta,
		Shared:    shared,
		Embedding: embedding,
	}
}

// Scope bounds a recall to one user's view of memory: their own items
// plus shared items from the listed external owners.
type Scope struct {
	Owner    string
	External []string
}

// Candidate is a recalled item with its raw semantic similarity, before
// reranking.
type Candidate struct {
	Item   Item
	Cosine float64
}

// Scored is a reranked item with its fused score.
type Scored struct {
	Item  Item
	Score float64
}

// Backend recalls candidate items for a scope. Implementations must
// enforce the scope filter; the store re-checks it on every candidate.
type Backend interface {
	// Insert persists one item.
	Insert(ctx context.Context, item Item) error
	// Recall returns up to limit candidates visible to scope, each with
	// its cosine similarity against queryVec.
	Recall(ctx context.Context, scope Scope, query string, queryVec []float32, limit int) ([]Candidate, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
