package relation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/tripmesh/tripmesh/internal/log"
)

// edgeDoc is the on-disk shape of one user's edges.
type edgeDoc struct {
	ExposedTo   []string `json:"exposed_to"`
	AmplifyFrom []string `json:"amplify_from"`
}

// Save writes the whole graph to path as one JSON document, atomically:
// the document is written to a temp file in the same directory and
// renamed over the target while holding a file lock. Readers never see a
// partial write.
func (g *Graph) Save(path string) error {
	doc := g.snapshot()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding relationship graph: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	defer lock.Unlock() //nolint:errcheck

	tmp, err := os.CreateTemp(dir, ".relations-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

func (g *Graph) snapshot() map[string]edgeDoc {
	g.mu.Lock()
	defer g.mu.Unlock()
	doc := make(map[string]edgeDoc, len(g.users))
	for id, e := range g.users {
		doc[id] = edgeDoc{
			ExposedTo:   sortedKeys(e.exposedTo),
			AmplifyFrom: sortedKeys(e.amplifyFrom),
		}
	}
	return doc
}

// Load reads a graph previously written by Save. A missing file yields an
// empty graph. Edges naming users absent from the document are dropped
// with a warning, and each surviving edge is mirrored on both sides so
// the loaded graph is consistent regardless of how the file was produced.
func Load(path string, logger log.Logger) (*Graph, error) {
	g := NewGraph(logger)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc map[string]edgeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	for id := range doc {
		g.ensureLocked(id)
	}
	for id, edges := range doc {
		subject := g.users[id]
		for _, peer := range edges.ExposedTo {
			p, ok := g.users[peer]
			if !ok || peer == id {
				g.logger.Warn("dropping edge to unknown user",
					"user", id, "edge", "exposed_to", "target", peer)
				continue
			}
			subject.exposedTo[peer] = struct{}{}
			p.amplifyFrom[id] = struct{}{}
		}
		for _, peer := range edges.AmplifyFrom {
			p, ok := g.users[peer]
			if !ok || peer == id {
				g.logger.Warn("dropping edge to unknown user",
					"user", id, "edge", "amplify_from", "target", peer)
				continue
			}
			subject.amplifyFrom[peer] = struct{}{}
			p.exposedTo[id] = struct{}{}
		}
	}
	return g, nil
}

// NameResolver maps a user ID to a human-readable display name.
type NameResolver interface {
	DisplayName(userID string) (string, bool)
}

// Peer pairs a user ID with its display name.
type Peer struct {
	ID   string `json:"id"`
	Name string `json:"display_name"`
}

// Enrich projects user IDs onto (ID, display name) pairs via resolver.
// IDs the resolver does not know come back with the placeholder name
// "Unknown(<id>)" so callers always get one pair per input ID, in input
// order.
func Enrich(ids []string, resolver NameResolver) []Peer {
	peers := make([]Peer, len(ids))
	for i, id := range ids {
		peers[i] = Peer{ID: id, Name: fmt.Sprintf("Unknown(%s)", id)}
		if resolver != nil {
			if name, ok := resolver.DisplayName(id); ok {
				peers[i].Name = name
			}
		}
	}
	return peers
}
