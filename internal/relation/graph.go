// Package relation maintains the directed sharing graph between users.
//
// Every edge exists in two mirrored forms: if user A lists B under
// "exposed to", then B lists A under "amplify from". The two views are
// kept consistent by construction; callers never edit the mirror side
// directly.
package relation

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tripmesh/tripmesh/internal/log"
)

var (
	// ErrUnknownUser is returned when an update names a subject the graph
	// has never seen.
	ErrUnknownUser = errors.New("relation: unknown user")
	// ErrUnknownTarget is returned when an update tries to add an edge to
	// a user the graph has never seen. The whole update is rejected.
	ErrUnknownTarget = errors.New("relation: unknown target user")
	// ErrSelfEdge is returned when an update tries to relate a user to
	// themselves.
	ErrSelfEdge = errors.New("relation: self edge not allowed")
)

// Update describes a replacement of a user's edge lists. A nil field
// leaves that list untouched; a pointer to an empty slice clears it.
type Update struct {
	ExposedTo   *[]string
	AmplifyFrom *[]string
}

type entry struct {
	exposedTo   map[string]struct{}
	amplifyFrom map[string]struct{}
}

func newEntry() *entry {
	return &entry{
		exposedTo:   make(map[string]struct{}),
		amplifyFrom: make(map[string]struct{}),
	}
}

// Graph is the in-memory sharing graph. All methods are safe for
// concurrent use.
type Graph struct {
	mu     sync.Mutex
	users  map[string]*entry
	logger log.Logger
}

// NewGraph returns an empty graph.
func NewGraph(logger log.Logger) *Graph {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Graph{
		users:  make(map[string]*entry),
		logger: logger,
	}
}

// Ensure registers userID with empty edge lists if it is not already
// present. Existing edges are left alone.
func (g *Graph) Ensure(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLocked(userID)
}

func (g *Graph) ensureLocked(userID string) *entry {
	e, ok := g.users[userID]
	if !ok {
		e = newEntry()
		g.users[userID] = e
	}
	return e
}

// Apply replaces userID's edge lists per upd. The update is validated in
// full before any state changes: if any named target is unknown or equals
// the subject, the graph is left exactly as it was. Mirror edges on the
// affected targets are adjusted so both views stay consistent.
func (g *Graph) Apply(userID string, upd Update) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	subject, ok := g.users[userID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}
	if err := g.validateLocked(userID, upd.ExposedTo); err != nil {
		return err
	}
	if err := g.validateLocked(userID, upd.AmplifyFrom); err != nil {
		return err
	}

	if upd.ExposedTo != nil {
		next := toSet(*upd.ExposedTo)
		for removed := range subject.exposedTo {
			if _, keep := next[removed]; keep {
				continue
			}
			if peer, ok := g.users[removed]; ok {
				delete(peer.amplifyFrom, userID)
			}
		}
		for added := range next {
			g.users[added].amplifyFrom[userID] = struct{}{}
		}
		subject.exposedTo = next
	}
	if upd.AmplifyFrom != nil {
		next := toSet(*upd.AmplifyFrom)
		for removed := range subject.amplifyFrom {
			if _, keep := next[removed]; keep {
				continue
			}
			if peer, ok := g.users[removed]; ok {
				delete(peer.exposedTo, userID)
			}
		}
		for added := range next {
			g.users[added].exposedTo[userID] = struct{}{}
		}
		subject.amplifyFrom = next
	}
	return nil
}

func (g *Graph) validateLocked(userID string, ids *[]string) error {
	if ids == nil {
		return nil
	}
	for _, id := range *ids {
		if id == userID {
			return fmt.Errorf("%w: %q", ErrSelfEdge, id)
		}
		if _, ok := g.users[id]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTarget, id)
		}
	}
	return nil
}

// ExposedTo reports which users userID has chosen to share with, sorted.
func (g *Graph) ExposedTo(userID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.users[userID]; ok {
		return sortedKeys(e.exposedTo)
	}
	return nil
}

// AmplifyFrom reports which users have chosen to share with userID,
// sorted. This is the set a recall scope is built from.
func (g *Graph) AmplifyFrom(userID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.users[userID]; ok {
		return sortedKeys(e.amplifyFrom)
	}
	return nil
}

// Users returns every registered user ID, sorted.
func (g *Graph) Users() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sortedKeys(g.users)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
