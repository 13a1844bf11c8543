// Package app wires tripmesh components into a running application.
//
// Setup builds the container from configuration: Genkit, the memory
// backend (local jsonl or Postgres with pgvector), the transcript store,
// the sharing graph and the chat engine. Close releases everything in
// reverse order.
package app

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripmesh/tripmesh/internal/chat"
	"github.com/tripmesh/tripmesh/internal/config"
	"github.com/tripmesh/tripmesh/internal/log"
	"github.com/tripmesh/tripmesh/internal/memory"
	"github.com/tripmesh/tripmesh/internal/relation"
	"github.com/tripmesh/tripmesh/internal/transcript"
	"github.com/tripmesh/tripmesh/internal/user"
)

// relationsFile is the graph snapshot, relative to the data root.
const relationsFile = "relations.json"

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit      *genkit.Genkit
	Pool        *pgxpool.Pool // nil when running on the local backend
	Memory      *memory.Store
	Transcripts *transcript.Store
	Graph       *relation.Graph
	Users       *user.Directory
	Engine      *chat.Engine

	// Background lifecycle: cancel stops the write-back context and wg
	// tracks the goroutines for graceful shutdown.
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RelationsPath returns the location of the persisted sharing graph.
func (a *App) RelationsPath() string {
	return filepath.Join(a.Config.DataRoot, relationsFile)
}

// Close gracefully shuts down all resources: pending memory write-backs
// are drained, transcripts flushed to disk, the sharing graph saved, and
// the database pool closed.
func (a *App) Close() error {
	a.Logger.Info("shutting down")

	// Drain in-flight write-backs before canceling their context, so a
	// shutdown does not turn pending memories into aborted writes. The
	// embed and scan timeouts bound how long this can take.
	a.wg.Wait()
	if a.cancel != nil {
		a.cancel()
	}

	if a.Transcripts != nil {
		a.Transcripts.Close()
	}

	var errOut error
	if a.Graph != nil {
		if err := a.Graph.Save(a.RelationsPath()); err != nil {
			a.Logger.Error("saving relation graph", "error", err)
			errOut = err
		}
	}

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}

	return errOut
}
