package memory_test

import (
	"context"
	"testing"

	"github.com/tripmesh/tripmesh/internal/log"
	"github.com/tripmesh/tripmesh/internal/memory"
	"github.com/tripmesh/tripmesh/internal/testutil"
)

func TestPgIndexInsertRecall(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	idx := memory.NewPgIndex(db.Pool, log.NewNop())
	emb := testutil.FakeEmbedder{}

	insert := func(owner, text string, shared bool) {
		t.Helper()
		vec, err := emb.Embed(ctx, text)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		item := memory.NewItem(owner, memory.KindTurn, text, map[string]any{"origin": "test"}, shared, vec)
		if err := idx.Insert(ctx, item); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	insert("alice", "planning a cycling trip through the alps", false)
	insert("alice", "prefers mountain hostels over hotels", true)
	insert("bob", "shared tip about alpine cycling routes", true)
	insert("bob", "private note about bank details", false)
	insert("carol", "shared but out of scope for alice", true)

	queryVec, err := emb.Embed(ctx, "cycling trip alps")
	if err != nil {
		t.Fatalf("embed query: %v", err)
	}

	scope := memory.Scope{Owner: "alice", External: []string{"bob"}}
	got, err := idx.Recall(ctx, scope, "cycling trip alps", queryVec, 50)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}

	seen := make(map[string]memory.Candidate)
	for _, c := range got {
		seen[c.Item.Text] = c
		if c.Item.OwnerID != "alice" && !c.Item.Shared {
			t.Fatalf("scope filter leaked private item: %+v", c.Item)
		}
		if c.Item.OwnerID == "carol" {
			t.Fatalf("scope filter leaked out-of-scope owner: %+v", c.Item)
		}
	}

	if _, ok := seen["planning a cycling trip through the alps"]; !ok {
		t.Fatal("own private item missing from recall")
	}
	if _, ok := seen["shared tip about alpine cycling routes"]; !ok {
		t.Fatal("external shared item missing from recall")
	}
	if _, ok := seen["private note about bank details"]; ok {
		t.Fatal("external private item recalled")
	}

	best := seen["planning a cycling trip through the alps"]
	if best.Cosine < 0.5 {
		t.Fatalf("cosine for near-identical text = %v", best.Cosine)
	}
	if v, ok := best.Item.Meta["origin"].(string); !ok || v != "test" {
		t.Fatalf("meta lost in round trip: %+v", best.Item.Meta)
	}
}

func TestPgIndexStoreEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	idx := memory.NewPgIndex(db.Pool, log.NewNop())
	store := memory.NewStore(idx, testutil.FakeEmbedder{}, nil, memory.Options{}, log.NewNop())

	if err := store.Remember(ctx, "alice", "loves overnight trains to vienna", memory.KindTurn, nil, false); err != nil {
		t.Fatalf("remember: %v", err)
	}

	got, err := store.Retrieve(ctx, "alice", "overnight trains vienna", 4, nil)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) == 0 || got[0].Item.Text != "loves overnight trains to vienna" {
		t.Fatalf("got %+v", got)
	}
}
