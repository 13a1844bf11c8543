package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/tripmesh/tripmesh/internal/log"
	"github.com/tripmesh/tripmesh/internal/memory"
	"github.com/tripmesh/tripmesh/internal/relation"
	"github.com/tripmesh/tripmesh/internal/testutil"
	"github.com/tripmesh/tripmesh/internal/transcript"
	"github.com/tripmesh/tripmesh/internal/window"
)

// captureModel records the window it was called with.
type captureModel struct {
	mu    sync.Mutex
	seen  [][]transcript.Message
	reply string
	err   error
}

func (m *captureModel) Generate(_ context.Context, msgs []transcript.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, msgs)
	return m.reply, m.err
}

func (m *captureModel) last() []transcript.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seen) == 0 {
		return nil
	}
	return m.seen[len(m.seen)-1]
}

func newTranscripts(t *testing.T) *transcript.Store {
	t.Helper()
	s, err := transcript.NewStore(transcript.Config{Root: t.TempDir(), Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("transcript store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	backend := memory.NewLocalStore(t.TempDir(), log.NewNop())
	return memory.NewStore(backend, testutil.FakeEmbedder{}, nil, memory.Options{}, log.NewNop())
}

func TestTurnAppendsAndReplies(t *testing.T) {
	ts := newTranscripts(t)
	if err := ts.Create("u1", "s1", window.DefaultSystemPrompt); err != nil {
		t.Fatalf("create: %v", err)
	}

	model := &captureModel{reply: "hello there"}
	var wg sync.WaitGroup
	e, err := NewEngine(Config{
		Transcripts: ts,
		Model:       model,
		Memory:      newMemoryStore(t),
		Logger:      log.NewNop(),
		WG:          &wg,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	reply, err := e.Turn(context.Background(), "u1", "s1", "hi", TurnOptions{})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != "hello there" {
		t.Fatalf("reply = %q", reply)
	}
	wg.Wait()

	msgs, err := ts.Read("u1", "s1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Seeded system message, then the exchange.
	if len(msgs) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(msgs))
	}
	if msgs[1].Kind != transcript.KindHuman || msgs[1].Content != "hi" {
		t.Fatalf("human message = %+v", msgs[1])
	}
	if msgs[2].Kind != transcript.KindAI || msgs[2].Content != "hello there" {
		t.Fatalf("ai message = %+v", msgs[2])
	}
}

func TestTurnAfterCacheEviction(t *testing.T) {
	// A one-entry cache forces the first session out when the second is
	// created. The turn on the evicted session must still show the
	// just-typed message to the model and keep it readable afterwards.
	ts, err := transcript.NewStore(transcript.Config{
		Root:      t.TempDir(),
		CacheSize: 1,
		Logger:    log.NewNop(),
	})
	if err != nil {
		t.Fatalf("transcript store: %v", err)
	}
	t.Cleanup(ts.Close)

	if err := ts.Create("u1", "s1", window.DefaultSystemPrompt); err != nil {
		t.Fatalf("create s1: %v", err)
	}
	if err := ts.Create("u1", "s2", window.DefaultSystemPrompt); err != nil {
		t.Fatalf("create s2: %v", err)
	}

	model := &captureModel{reply: "ok"}
	e, err := NewEngine(Config{Transcripts: ts, Model: model, Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	if _, err := e.Turn(context.Background(), "u1", "s1", "hello", TurnOptions{}); err != nil {
		t.Fatalf("turn: %v", err)
	}

	var sawInput bool
	for _, m := range model.last() {
		if m.Kind == transcript.KindHuman && m.Content == "hello" {
			sawInput = true
		}
	}
	if !sawInput {
		t.Fatal("model window is missing the just-typed message")
	}

	ts.Flush()
	msgs, err := ts.Read("u1", "s1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(msgs))
	}
	if msgs[1].Kind != transcript.KindHuman || msgs[1].Content != "hello" {
		t.Fatalf("human message = %+v", msgs[1])
	}
}

func TestTurnWritesExchangeToMemory(t *testing.T) {
	ts := newTranscripts(t)
	if err := ts.Create("u1", "s1", window.DefaultSystemPrompt); err != nil {
		t.Fatalf("create: %v", err)
	}

	mem := newMemoryStore(t)
	var wg sync.WaitGroup
	e, err := NewEngine(Config{
		Transcripts: ts,
		Model:       &captureModel{reply: "visit the alps in june"},
		Memory:      mem,
		Logger:      log.NewNop(),
		WG:          &wg,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	if _, err := e.Turn(context.Background(), "u1", "s1", "when to visit the alps", TurnOptions{}); err != nil {
		t.Fatalf("turn: %v", err)
	}
	wg.Wait()

	got, err := mem.Retrieve(context.Background(), "u1", "when to visit the alps", 4, nil)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) == 0 || !strings.Contains(got[0].Item.Text, "Q: when to visit the alps") {
		t.Fatalf("exchange not remembered: %+v", got)
	}
}

func TestTurnInjectsMemorySnippets(t *testing.T) {
	ts := newTranscripts(t)
	if err := ts.Create("u1", "s1", window.DefaultSystemPrompt); err != nil {
		t.Fatalf("create: %v", err)
	}

	mem := newMemoryStore(t)
	if err := mem.Remember(context.Background(), "u1", "prefers overnight trains to vienna", memory.KindProfile, nil, false); err != nil {
		t.Fatalf("seed memory: %v", err)
	}

	model := &captureModel{reply: "ok"}
	var wg sync.WaitGroup
	e, err := NewEngine(Config{
		Transcripts: ts,
		Model:       model,
		Memory:      mem,
		Logger:      log.NewNop(),
		WG:          &wg,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	if _, err := e.Turn(context.Background(), "u1", "s1", "book overnight trains to vienna", TurnOptions{}); err != nil {
		t.Fatalf("turn: %v", err)
	}
	wg.Wait()

	seen := model.last()
	if len(seen) < 2 {
		t.Fatalf("model saw %d messages", len(seen))
	}
	// The snippet block lands right after the seeded system prompt.
	if seen[0].Kind != transcript.KindSystem {
		t.Fatalf("first message kind = %v", seen[0].Kind)
	}
	if seen[1].Kind != transcript.KindSystem || !strings.Contains(seen[1].Content, "overnight trains to vienna") {
		t.Fatalf("snippet not injected: %+v", seen[1])
	}
}

func TestTurnDegradesOnMemoryFailure(t *testing.T) {
	ts := newTranscripts(t)
	if err := ts.Create("u1", "s1", window.DefaultSystemPrompt); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A memory store over a backend that always fails recall.
	mem := memory.NewStore(failingBackend{}, testutil.FakeEmbedder{}, nil, memory.Options{}, log.NewNop())
	model := &captureModel{reply: "still works"}
	var wg sync.WaitGroup
	e, err := NewEngine(Config{
		Transcripts: ts,
		Model:       model,
		Memory:      mem,
		Logger:      log.NewNop(),
		WG:          &wg,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	reply, err := e.Turn(context.Background(), "u1", "s1", "hello", TurnOptions{})
	if err != nil {
		t.Fatalf("turn should degrade, got %v", err)
	}
	if reply != "still works" {
		t.Fatalf("reply = %q", reply)
	}
	wg.Wait()

	for _, m := range model.last() {
		if m.Kind == transcript.KindSystem && strings.Contains(m.Content, "long-term memory") {
			t.Fatal("snippet injected despite recall failure")
		}
	}
}

type failingBackend struct{}

func (failingBackend) Insert(context.Context, memory.Item) error {
	return errors.New("index offline")
}

func (failingBackend) Recall(context.Context, memory.Scope, string, []float32, int) ([]memory.Candidate, error) {
	return nil, errors.New("index offline")
}

func TestTurnUsesAmplifyFromScope(t *testing.T) {
	ts := newTranscripts(t)
	if err := ts.Create("bob", "s1", window.DefaultSystemPrompt); err != nil {
		t.Fatalf("create: %v", err)
	}

	root := t.TempDir()
	backend := memory.NewLocalStore(root, log.NewNop())
	mem := memory.NewStore(backend, testutil.FakeEmbedder{}, nil, memory.Options{}, log.NewNop())

	graph := relation.NewGraph(log.NewNop())
	graph.Ensure("alice")
	graph.Ensure("bob")
	exposed := []string{"bob"}
	if err := graph.Apply("alice", relation.Update{ExposedTo: &exposed}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	model := &captureModel{reply: "ok"}
	var wg sync.WaitGroup
	e, err := NewEngine(Config{
		Transcripts: ts,
		Model:       model,
		Memory:      mem,
		Graph:       graph,
		Logger:      log.NewNop(),
		WG:          &wg,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	// The local backend cannot serve shared items, but the turn must
	// still complete with the graph-derived scope in place.
	if _, err := e.Turn(context.Background(), "bob", "s1", "any plans", TurnOptions{}); err != nil {
		t.Fatalf("turn: %v", err)
	}
	wg.Wait()
}

func TestTurnEmptyReplyFallsBack(t *testing.T) {
	ts := newTranscripts(t)
	if err := ts.Create("u1", "s1", window.DefaultSystemPrompt); err != nil {
		t.Fatalf("create: %v", err)
	}

	e, err := NewEngine(Config{
		Transcripts: ts,
		Model:       &captureModel{reply: "   "},
		Logger:      log.NewNop(),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	reply, err := e.Turn(context.Background(), "u1", "s1", "hi", TurnOptions{})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != fallbackResponse {
		t.Fatalf("reply = %q", reply)
	}
}

func TestTurnValidatesInput(t *testing.T) {
	ts := newTranscripts(t)
	e, err := NewEngine(Config{Transcripts: ts, Model: &captureModel{reply: "x"}, Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := e.Turn(context.Background(), "", "s1", "hi", TurnOptions{}); err == nil {
		t.Fatal("expected error for empty user")
	}
	if _, err := e.Turn(context.Background(), "u1", "s1", "  ", TurnOptions{}); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(Config{Model: &captureModel{}}); err == nil {
		t.Fatal("expected error without transcripts")
	}
	if _, err := NewEngine(Config{Transcripts: newTranscripts(t)}); err == nil {
		t.Fatal("expected error without model")
	}
	if _, err := NewEngine(Config{
		Transcripts: newTranscripts(t),
		Model:       &captureModel{},
		Memory:      newMemoryStore(t),
	}); err == nil {
		t.Fatal("expected error for memory without wait group")
	}
}
