package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tripmesh/tripmesh/internal/log"
)

// Recall weights for the database-side hybrid ordering. The precise
// ranking happens later in the rerank step; these only decide which
// candidates make it into the recall window.
const (
	recallWeightVector = 0.5
	recallWeightText   = 0.5
)

// maxRecallQueryLen bounds the lexical query passed to the database.
const maxRecallQueryLen = 1000

// PgIndex is the pgvector-backed memory backend. It serves both private
// and shared recall across users.
type PgIndex struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPgIndex returns an index over pool.
func NewPgIndex(pool *pgxpool.Pool, logger log.Logger) *PgIndex {
	if logger == nil {
		logger = log.NewNop()
	}
	return &PgIndex{pool: pool, logger: logger}
}

// Insert persists one item.
func (x *PgIndex) Insert(ctx context.Context, item Item) error {
	meta := item.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding item meta: %w", err)
	}

	vec := pgvector.NewVector(L2Normalize(item.Embedding))
	_, err = x.pool.Exec(ctx,
		`INSERT INTO memory_items (id, owner_id, kind, content, created_at, meta, shared, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.OwnerID, string(item.Kind), item.Text, item.CreatedAt,
		metaJSON, item.Shared, vec,
	)
	if err != nil {
		return fmt.Errorf("inserting memory item: %w", err)
	}
	return nil
}

// Recall returns up to limit candidates visible to scope: the owner's
// items plus shared items from the external owners. The recall window is
// ordered by a vector+lexical blend; each candidate carries its raw
// cosine similarity for reranking.
func (x *PgIndex) Recall(ctx context.Context, scope Scope, query string, queryVec []float32, limit int) ([]Candidate, error) {
	if scope.Owner == "" {
		return nil, fmt.Errorf("recall requires an owner")
	}
	if limit <= 0 {
		limit = DefaultRecallLimit
	}
	if len(query) > maxRecallQueryLen {
		query = query[:maxRecallQueryLen]
	}
	if strings.ContainsRune(query, 0) {
		return []Candidate{}, nil
	}

	external := scope.External
	if external == nil {
		external = []string{}
	}
	vec := pgvector.NewVector(queryVec)

	rows, err := x.pool.Query(ctx,
		`SELECT id, owner_id, kind, content, created_at, meta, shared,
		        1 - (embedding <=> $1) AS cosine
		 FROM memory_items
		 WHERE owner_id = $2
		    OR (owner_id = ANY($3) AND shared)
		 ORDER BY ($5 * (1 - (embedding <=> $1))
		         + $6 * LEAST(1.0, COALESCE(ts_rank_cd(search_text, plainto_tsquery('english', $4), 1), 0))
		          ) DESC
		 LIMIT $7`,
		vec, scope.Owner, external, query,
		recallWeightVector, recallWeightText,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recalling memory items: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			c         Candidate
			kind      string
			createdAt time.Time
			metaJSON  []byte
		)
		if err := rows.Scan(&c.Item.ID, &c.Item.OwnerID, &kind, &c.Item.Text,
			&createdAt, &metaJSON, &c.Item.Shared, &c.Cosine); err != nil {
			return nil, fmt.Errorf("scanning memory item: %w", err)
		}
		c.Item.Kind = Kind(kind)
		c.Item.CreatedAt = createdAt.UTC()
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &c.Item.Meta); err != nil {
				x.logger.Warn("skipping unreadable item meta", "id", c.Item.ID, "error", err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading recall rows: %w", err)
	}
	return out, nil
}
