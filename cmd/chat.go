package cmd

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/tripmesh/tripmesh/internal/app"
	"github.com/tripmesh/tripmesh/internal/chat"
	"github.com/tripmesh/tripmesh/internal/config"
	"github.com/tripmesh/tripmesh/internal/log"
	"github.com/tripmesh/tripmesh/internal/window"
)

// runChat starts an interactive chat session for one user.
func runChat(logger log.Logger) error {
	flags := flag.NewFlagSet("chat", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	userID := flags.String("user", "", "user ID (required)")
	sessionID := flags.String("session", "", "session ID (default: new session)")
	share := flags.Bool("share", false, "offer remembered exchanges to connected users")
	if err := flags.Parse(args()); err != nil {
		return fmt.Errorf("parsing chat flags: %w", err)
	}
	if *userID == "" {
		return errors.New("chat: --user is required")
	}
	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	a.Graph.Ensure(*userID)
	if err := ensureSession(a, *userID, *sessionID); err != nil {
		return err
	}

	fmt.Printf("session %s (user %s). /exit to quit.\n", *sessionID, *userID)
	return repl(ctx, a, *userID, *sessionID, chat.TurnOptions{Share: *share})
}

// ensureSession seeds the transcript when the session is new.
func ensureSession(a *app.App, userID, sessionID string) error {
	msgs, err := a.Transcripts.Read(userID, sessionID)
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	if len(msgs) > 0 {
		return nil
	}
	if err := a.Transcripts.Create(userID, sessionID, window.DefaultSystemPrompt); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// repl reads lines from stdin and runs one turn per line until EOF,
// /exit, or context cancellation.
func repl(ctx context.Context, a *app.App, userID, sessionID string, opts chat.TurnOptions) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			break
		}

		reply, err := a.Engine.Turn(ctx, userID, sessionID, line, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}
	return scanner.Err()
}

// args returns the arguments after the subcommand name.
func args() []string {
	if len(os.Args) > 2 {
		return os.Args[2:]
	}
	return nil
}
