package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tripmesh/tripmesh/internal/log"
)

// maxLocalLineBytes bounds a single memory line during load.
const maxLocalLineBytes = 1 << 20

// localLine is the on-disk NDJSON shape of one memory entry. Owner and
// sharing flags are implicit: each user has their own file and nothing
// in it is shared.
type localLine struct {
	Item      localItem `json:"item"`
	Embedding []float32 `json:"embedding"`
}

type localItem struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Text      string         `json:"text"`
	CreatedAt float64        `json:"created_at"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// LocalStore is the file-backed memory backend used when no vector
// database is configured. Each owner's items live in
// <root>/user_data/<owner>/memory.jsonl and are loaded into memory on
// first use. It serves private items only: shared recall across users
// needs the database backend.
type LocalStore struct {
	root   string
	logger log.Logger

	mu     sync.Mutex
	loaded map[string][]Item
}

// NewLocalStore returns a store rooted at root.
func NewLocalStore(root string, logger log.Logger) *LocalStore {
	if logger == nil {
		logger = log.NewNop()
	}
	return &LocalStore{
		root:   root,
		logger: logger,
		loaded: make(map[string][]Item),
	}
}

// Path returns the memory file location for ownerID.
func (s *LocalStore) Path(ownerID string) string {
	return filepath.Join(s.root, "user_data", ownerID, "memory.jsonl")
}

// Insert appends item to its owner's memory file and the in-memory view.
func (s *LocalStore) Insert(_ context.Context, item Item) error {
	item.Embedding = L2Normalize(item.Embedding)

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.ensureLoadedLocked(item.OwnerID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(localLine{
		Item: localItem{
			ID:        item.ID,
			Kind:      item.Kind,
			Text:      item.Text,
			CreatedAt: float64(item.CreatedAt.UnixNano()) / float64(time.Second),
			Meta:      item.Meta,
		},
		Embedding: item.Embedding,
	})
	if err != nil {
		return fmt.Errorf("encoding memory item: %w", err)
	}

	path := s.Path(item.OwnerID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating memory directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}

	s.loaded[item.OwnerID] = append(items, item)
	return nil
}

// Recall scans the owner's items and returns up to limit candidates
// ranked by cosine similarity. External owners in the scope are ignored;
// this backend holds no shared items.
func (s *LocalStore) Recall(_ context.Context, scope Scope, _ string, queryVec []float32, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = DefaultRecallLimit
	}

	s.mu.Lock()
	items, err := s.ensureLoadedLocked(scope.Owner)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, Candidate{
			Item:   item,
			Cosine: Cosine(queryVec, item.Embedding),
		})
	}
	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// ensureLoadedLocked reads the owner's file once. Missing files are an
// empty memory; corrupt lines are skipped with a warning.
func (s *LocalStore) ensureLoadedLocked(ownerID string) ([]Item, error) {
	if items, ok := s.loaded[ownerID]; ok {
		return items, nil
	}

	path := s.Path(ownerID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		s.loaded[ownerID] = []Item{}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var items []Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLocalLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line localLine
		if err := json.Unmarshal(raw, &line); err != nil {
			s.logger.Warn("skipping corrupt memory line",
				"path", path, "line", lineNo, "error", err)
			continue
		}
		sec, frac := math.Modf(line.Item.CreatedAt)
		items = append(items, Item{
			ID:        line.Item.ID,
			OwnerID:   ownerID,
			Kind:      line.Item.Kind,
			Text:      line.Item.Text,
			CreatedAt: time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(),
			Meta:      line.Item.Meta,
			Shared:    false,
			Embedding: L2Normalize(line.Embedding),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	s.loaded[ownerID] = items
	return items, nil
}

func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Cosine > cs[j].Cosine
	})
}
