package relation

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tripmesh/tripmesh/internal/log"
)

func strs(ss ...string) *[]string { return &ss }

func TestApplyMaintainsMirrorEdges(t *testing.T) {
	g := NewGraph(log.NewNop())
	g.Ensure("alice")
	g.Ensure("bob")
	g.Ensure("carol")

	if err := g.Apply("alice", Update{ExposedTo: strs("bob", "carol")}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := g.ExposedTo("alice"); !reflect.DeepEqual(got, []string{"bob", "carol"}) {
		t.Fatalf("alice exposed_to = %v", got)
	}
	if got := g.AmplifyFrom("bob"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("bob amplify_from = %v", got)
	}
	if got := g.AmplifyFrom("carol"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("carol amplify_from = %v", got)
	}
}

func TestApplyAmplifyFromMirrorsExposedTo(t *testing.T) {
	g := NewGraph(log.NewNop())
	g.Ensure("alice")
	g.Ensure("bob")

	if err := g.Apply("bob", Update{AmplifyFrom: strs("alice")}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := g.ExposedTo("alice"); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("alice exposed_to = %v", got)
	}
}

func TestApplyRemovalClearsMirror(t *testing.T) {
	g := NewGraph(log.NewNop())
	g.Ensure("alice")
	g.Ensure("bob")

	if err := g.Apply("alice", Update{ExposedTo: strs("bob")}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := g.Apply("alice", Update{ExposedTo: strs()}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := g.ExposedTo("alice"); len(got) != 0 {
		t.Fatalf("alice exposed_to = %v, want empty", got)
	}
	if got := g.AmplifyFrom("bob"); len(got) != 0 {
		t.Fatalf("bob amplify_from = %v, want empty", got)
	}
}

func TestApplyUnknownTargetRejectsWholeUpdate(t *testing.T) {
	g := NewGraph(log.NewNop())
	g.Ensure("alice")
	g.Ensure("bob")

	err := g.Apply("alice", Update{ExposedTo: strs("bob", "nobody")})
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("err = %v, want ErrUnknownTarget", err)
	}
	// The valid half must not have been applied.
	if got := g.ExposedTo("alice"); len(got) != 0 {
		t.Fatalf("alice exposed_to = %v, want empty after rejection", got)
	}
	if got := g.AmplifyFrom("bob"); len(got) != 0 {
		t.Fatalf("bob amplify_from = %v, want empty after rejection", got)
	}
}

func TestApplyUnknownSubject(t *testing.T) {
	g := NewGraph(log.NewNop())
	g.Ensure("bob")
	if err := g.Apply("ghost", Update{ExposedTo: strs("bob")}); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("err = %v, want ErrUnknownUser", err)
	}
}

func TestApplySelfEdgeRejected(t *testing.T) {
	g := NewGraph(log.NewNop())
	g.Ensure("alice")
	if err := g.Apply("alice", Update{ExposedTo: strs("alice")}); !errors.Is(err, ErrSelfEdge) {
		t.Fatalf("err = %v, want ErrSelfEdge", err)
	}
}

func TestApplyNilFieldsLeaveEdgesAlone(t *testing.T) {
	g := NewGraph(log.NewNop())
	g.Ensure("alice")
	g.Ensure("bob")
	if err := g.Apply("alice", Update{ExposedTo: strs("bob")}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := g.Apply("alice", Update{}); err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if got := g.ExposedTo("alice"); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("alice exposed_to = %v, want [bob]", got)
	}
}

func TestMirrorInvariantProperty(t *testing.T) {
	g := NewGraph(log.NewNop())
	users := []string{"a", "b", "c", "d"}
	for _, u := range users {
		g.Ensure(u)
	}
	steps := []struct {
		user string
		upd  Update
	}{
		{"a", Update{ExposedTo: strs("b", "c")}},
		{"b", Update{AmplifyFrom: strs("a", "c")}},
		{"c", Update{ExposedTo: strs("a")}},
		{"a", Update{ExposedTo: strs("d")}},
		{"d", Update{AmplifyFrom: strs()}},
	}
	for i, s := range steps {
		if err := g.Apply(s.user, s.upd); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		assertMirrored(t, g, users)
	}
}

// assertMirrored checks that B appears in A's exposed_to exactly when A
// appears in B's amplify_from.
func assertMirrored(t *testing.T, g *Graph, users []string) {
	t.Helper()
	for _, a := range users {
		for _, b := range users {
			fwd := contains(g.ExposedTo(a), b)
			rev := contains(g.AmplifyFrom(b), a)
			if fwd != rev {
				t.Fatalf("mirror broken: %s exposed_to %s = %v, %s amplify_from %s = %v",
					a, b, fwd, b, a, rev)
			}
		}
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := NewGraph(log.NewNop())
	g.Ensure("alice")
	g.Ensure("bob")
	if err := g.Apply("alice", Update{ExposedTo: strs("bob")}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	path := filepath.Join(t.TempDir(), "relations.json")
	if err := g.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path, log.NewNop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loaded.ExposedTo("alice"); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("alice exposed_to = %v", got)
	}
	if got := loaded.AmplifyFrom("bob"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("bob amplify_from = %v", got)
	}
	if got := loaded.Users(); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("users = %v", got)
	}
}

func TestLoadMissingFileIsEmptyGraph(t *testing.T) {
	g, err := Load(filepath.Join(t.TempDir(), "absent.json"), log.NewNop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := g.Users(); len(got) != 0 {
		t.Fatalf("users = %v, want empty", got)
	}
}

func TestLoadRepairsOneSidedEdges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relations.json")
	raw := `{
  "alice": {"exposed_to": ["bob", "ghost"], "amplify_from": []},
  "bob":   {"exposed_to": [], "amplify_from": []}
}`
	if err := os.WriteFile(path, []byte(raw), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	g, err := Load(path, log.NewNop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// The edge to ghost is dropped, bob's missing mirror is restored.
	if got := g.ExposedTo("alice"); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("alice exposed_to = %v", got)
	}
	if got := g.AmplifyFrom("bob"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("bob amplify_from = %v", got)
	}
}

type fakeResolver map[string]string

func (f fakeResolver) DisplayName(id string) (string, bool) {
	name, ok := f[id]
	return name, ok
}

func TestEnrich(t *testing.T) {
	r := fakeResolver{"u1": "Alice", "u2": "Bob"}
	got := Enrich([]string{"u1", "u3", "u2"}, r)
	want := []Peer{
		{ID: "u1", Name: "Alice"},
		{ID: "u3", Name: "Unknown(u3)"},
		{ID: "u2", Name: "Bob"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEnrichNilResolver(t *testing.T) {
	got := Enrich([]string{"u1"}, nil)
	want := []Peer{{ID: "u1", Name: "Unknown(u1)"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v", got)
	}
}
