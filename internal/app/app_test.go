package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tripmesh/tripmesh/internal/config"
	"github.com/tripmesh/tripmesh/internal/log"
	"github.com/tripmesh/tripmesh/internal/relation"
)

func TestRelationsPath(t *testing.T) {
	a := &App{Config: &config.Config{DataRoot: "/var/lib/tripmesh"}}
	want := filepath.Join("/var/lib/tripmesh", "relations.json")
	if got := a.RelationsPath(); got != want {
		t.Fatalf("RelationsPath() = %q, want %q", got, want)
	}
}

func TestCloseWithPartialContainer(t *testing.T) {
	// Close must be safe on a container that never finished Setup.
	a := &App{
		Config: &config.Config{DataRoot: t.TempDir()},
		Logger: log.NewNop(),
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}

func TestCloseCancelsBackgroundContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config: &config.Config{DataRoot: t.TempDir()},
		Logger: log.NewNop(),
		cancel: cancel,
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("background context not canceled by Close")
	}
}

func TestCloseSavesGraph(t *testing.T) {
	root := t.TempDir()
	graph := relation.NewGraph(log.NewNop())
	graph.Ensure("alice")

	a := &App{
		Config: &config.Config{DataRoot: root},
		Logger: log.NewNop(),
		Graph:  graph,
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	loaded, err := relation.Load(filepath.Join(root, "relations.json"), log.NewNop())
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if users := loaded.Users(); len(users) != 1 || users[0] != "alice" {
		t.Fatalf("Users() = %v", users)
	}
}
