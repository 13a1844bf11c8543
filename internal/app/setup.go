package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/tripmesh/tripmesh/db"
	"github.com/tripmesh/tripmesh/internal/chat"
	"github.com/tripmesh/tripmesh/internal/config"
	"github.com/tripmesh/tripmesh/internal/log"
	"github.com/tripmesh/tripmesh/internal/memory"
	"github.com/tripmesh/tripmesh/internal/privacy"
	"github.com/tripmesh/tripmesh/internal/relation"
	"github.com/tripmesh/tripmesh/internal/transcript"
	"github.com/tripmesh/tripmesh/internal/user"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	backend, pool, err := provideMemoryBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	a.Memory = provideMemoryStore(g, cfg, backend, logger)

	transcripts, err := transcript.NewStore(transcript.Config{
		Root:      cfg.DataRoot,
		CacheSize: cfg.CacheSize,
		QueueSize: cfg.QueueSize,
		Logger:    logger.With("component", "transcript"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating transcript store: %w", err)
	}
	a.Transcripts = transcripts

	graph, err := relation.Load(a.RelationsPath(), logger.With("component", "relation"))
	if err != nil {
		return nil, fmt.Errorf("loading relation graph: %w", err)
	}
	a.Graph = graph

	a.Users = user.NewDirectory(cfg.DataRoot, logger.With("component", "user"))
	if err := a.Users.Refresh(); err != nil {
		return nil, fmt.Errorf("scanning user directory: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	engine, err := chat.NewEngine(chat.Config{
		Transcripts:   transcripts,
		Model:         chat.NewGenkitInferencer(g, cfg.ModelName),
		Logger:        logger.With("component", "chat"),
		Memory:        a.Memory,
		Graph:         graph,
		Users:         a.Users,
		MaxTurns:      cfg.MaxTurns,
		KeepSystem:    cfg.KeepSystem,
		TopK:          cfg.Memory.TopK,
		RateLimiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		BackgroundCtx: bgCtx,
		WG:            &a.wg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat engine: %w", err)
	}
	a.Engine = engine

	return a, nil
}

// provideGenkit initializes Genkit with the Google AI plugin. The
// GEMINI_API_KEY environment variable supplies credentials.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	return g, nil
}

// provideMemoryBackend selects the long-term memory index: Postgres with
// pgvector when configured, otherwise per-user jsonl files under the
// data root. The returned pool is nil for the local backend.
func provideMemoryBackend(ctx context.Context, cfg *config.Config, logger log.Logger) (memory.Backend, *pgxpool.Pool, error) {
	if !cfg.UseVectorDB {
		logger.Info("memory index: local jsonl", "root", cfg.DataRoot)
		return memory.NewLocalStore(cfg.DataRoot, logger.With("component", "memory")), nil, nil
	}

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("memory index: postgres", "host", cfg.PostgresHost, "db", cfg.PostgresDBName)
	return memory.NewPgIndex(pool, logger.With("component", "memory")), pool, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideMemoryStore assembles the memory store with its embedder and
// privacy scanner over the chosen backend.
func provideMemoryStore(g *genkit.Genkit, cfg *config.Config, backend memory.Backend, logger log.Logger) *memory.Store {
	embedder := memory.NewGenkitEmbedder(
		googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel),
		memory.DefaultEmbedTimeout,
	)
	scanner := privacy.NewLLMScanner(g, cfg.ScanModelName, privacy.DefaultScanTimeout,
		logger.With("component", "privacy"))

	return memory.NewStore(backend, embedder, scanner, memory.Options{
		Alpha:        cfg.Memory.Alpha,
		HalfLifeDays: cfg.Memory.HalfLifeDays,
		MinSim:       cfg.Memory.MinSim,
		RecallLimit:  cfg.Memory.RecallLimit,
		MaxChars:     cfg.Memory.MaxChars,
		ScanTimeout:  privacy.DefaultScanTimeout,
	}, logger.With("component", "memory"))
}
