// Package chat runs conversational turns: transcript assembly, memory
// injection, context trimming, model invocation and write-back.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tripmesh/tripmesh/internal/log"
	"github.com/tripmesh/tripmesh/internal/memory"
	"github.com/tripmesh/tripmesh/internal/relation"
	"github.com/tripmesh/tripmesh/internal/transcript"
	"github.com/tripmesh/tripmesh/internal/user"
	"github.com/tripmesh/tripmesh/internal/window"
)

// memorySearchTimeout limits how long memory retrieval can take per
// turn. Retrieval is an enhancement; a slow index must not stall the
// conversation.
const memorySearchTimeout = 5 * time.Second

// fallbackResponse is returned when the model produces empty output.
const fallbackResponse = "I couldn't generate a response. Please try rephrasing your question."

// Inferencer produces a model reply for a prepared message window.
type Inferencer interface {
	Generate(ctx context.Context, msgs []transcript.Message) (string, error)
}

// Config contains all parameters for the Engine.
type Config struct {
	Transcripts *transcript.Store
	Model       Inferencer
	Logger      log.Logger

	// Optional long-term memory. Nil disables retrieval and write-back.
	Memory *memory.Store
	// Optional sharing graph; nil means no cross-user recall.
	Graph *relation.Graph
	// Optional display-name directory for attributing shared snippets.
	Users *user.Directory

	// Context window
	MaxTurns   int
	KeepSystem int
	// Snippets injected per turn
	TopK int

	Retry       RetryConfig
	RateLimiter *rate.Limiter

	// Background lifecycle, required when Memory is set: BackgroundCtx
	// outlives individual requests and WG tracks write-back goroutines
	// for graceful shutdown.
	BackgroundCtx context.Context //nolint:containedctx // app lifecycle context, not a request context
	WG            *sync.WaitGroup
}

func (cfg Config) validate() error {
	if cfg.Transcripts == nil {
		return errors.New("transcript store is required")
	}
	if cfg.Model == nil {
		return errors.New("model is required")
	}
	if cfg.Memory != nil && cfg.WG == nil {
		return errors.New("wait group is required when memory is set")
	}
	return nil
}

// Engine executes chat turns. It is stateless between turns and safe
// for concurrent use.
type Engine struct {
	transcripts *transcript.Store
	model       Inferencer
	mem         *memory.Store
	graph       *relation.Graph
	users       *user.Directory
	logger      log.Logger

	maxTurns   int
	keepSystem int
	topK       int

	retry   RetryConfig
	limiter *rate.Limiter

	bgCtx context.Context //nolint:containedctx // see Config.BackgroundCtx
	wg    *sync.WaitGroup
}

// NewEngine wires an engine from cfg.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid chat config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.MaxTurns < 1 {
		cfg.MaxTurns = 30
	}
	if cfg.KeepSystem < 0 {
		cfg.KeepSystem = 0
	}
	if cfg.TopK < 1 {
		cfg.TopK = 4
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	bgCtx := cfg.BackgroundCtx
	if bgCtx == nil {
		bgCtx = context.Background()
	}
	return &Engine{
		transcripts: cfg.Transcripts,
		model:       cfg.Model,
		mem:         cfg.Memory,
		graph:       cfg.Graph,
		users:       cfg.Users,
		logger:      cfg.Logger,
		maxTurns:    cfg.MaxTurns,
		keepSystem:  cfg.KeepSystem,
		topK:        cfg.TopK,
		retry:       cfg.Retry,
		limiter:     cfg.RateLimiter,
		bgCtx:       bgCtx,
		wg:          cfg.WG,
	}, nil
}

// TurnOptions tune a single turn.
type TurnOptions struct {
	// Share marks the remembered exchange as shareable, subject to the
	// privacy scan.
	Share bool
}

// Turn runs one conversational exchange for userID in sessionID: the
// input is appended to the transcript, relevant memories are injected,
// the window is trimmed, the model is invoked, and the reply is appended
// and remembered in the background.
func (e *Engine) Turn(ctx context.Context, userID, sessionID, input string, opts TurnOptions) (string, error) {
	input = strings.TrimSpace(input)
	if userID == "" || sessionID == "" {
		return "", errors.New("user and session are required")
	}
	if input == "" {
		return "", errors.New("empty input")
	}

	// Read before appending: the read populates the cache after an
	// eviction, so the append below lands in the resident entry instead
	// of racing the async writer against a stale reload.
	msgs, err := e.transcripts.Read(userID, sessionID)
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}

	human := transcript.Human(input)
	if err := e.transcripts.Append(userID, sessionID, human); err != nil {
		return "", fmt.Errorf("recording user message: %w", err)
	}
	msgs = append(msgs, human)

	msgs = e.injectMemories(ctx, userID, input, msgs)
	trimmed := window.Trim(msgs, e.maxTurns, e.keepSystem)

	reply, err := e.invokeWithRetry(ctx, trimmed)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		reply = fallbackResponse
	}

	if err := e.transcripts.Append(userID, sessionID, transcript.AI(reply)); err != nil {
		return "", fmt.Errorf("recording model reply: %w", err)
	}

	e.rememberExchange(userID, sessionID, input, reply, opts.Share)
	return reply, nil
}

// injectMemories retrieves long-term memories for input and inserts them
// as one system message after the leading system prompt. Retrieval
// failures degrade to no injection; the turn proceeds without memory.
func (e *Engine) injectMemories(ctx context.Context, userID, input string, msgs []transcript.Message) []transcript.Message {
	if e.mem == nil {
		return msgs
	}

	var external []string
	if e.graph != nil {
		external = e.graph.AmplifyFrom(userID)
	}

	memCtx, cancel := context.WithTimeout(ctx, memorySearchTimeout)
	defer cancel()

	snips, err := e.mem.Retrieve(memCtx, userID, input, e.topK, external)
	if err != nil {
		e.logger.Warn("memory retrieval failed, continuing without",
			"user", userID, "error", err)
		return msgs
	}
	if len(snips) == 0 {
		return msgs
	}

	text := memory.FormatSnippets(snips, len(external) > 0, e.displayName)
	if text == "" {
		return msgs
	}

	insertAt := 0
	if len(msgs) > 0 && msgs[0].Kind == transcript.KindSystem {
		insertAt = 1
	}
	out := make([]transcript.Message, 0, len(msgs)+1)
	out = append(out, msgs[:insertAt]...)
	out = append(out, transcript.System(text))
	return append(out, msgs[insertAt:]...)
}

func (e *Engine) displayName(ownerID string) string {
	if e.users != nil {
		if name, ok := e.users.DisplayName(ownerID); ok {
			return name
		}
	}
	return ownerID
}

// rememberExchange writes the turn to long-term memory in the
// background. Failures are logged, never surfaced: the reply has already
// been delivered.
func (e *Engine) rememberExchange(userID, sessionID, input, reply string, share bool) {
	if e.mem == nil {
		return
	}

	snippet := fmt.Sprintf("Q: %s\nA: %s", input, reply)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		meta := map[string]any{"session_id": sessionID}
		if err := e.mem.Remember(e.bgCtx, userID, snippet, memory.KindTurn, meta, share); err != nil {
			e.logger.Warn("remembering exchange failed",
				"user", userID, "session", sessionID, "error", err)
		}
	}()
}
