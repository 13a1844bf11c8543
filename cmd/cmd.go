// Package cmd provides CLI commands for tripmesh.
//
// Commands:
//   - chat: interactive chat session for one user
//   - relate: show or edit a user's sharing edges
//   - register: create a user with a display name
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tripmesh/tripmesh/internal/log"
)

// Execute is the main entry point for the tripmesh CLI.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "chat":
		return runChat(logger)
	case "relate":
		return runRelate(logger)
	case "register":
		return runRegister(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("tripmesh - multi-user chat with shared long-term memory")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tripmesh chat --user <id> [--session <id>] [--share]")
	fmt.Println("                         Start an interactive chat session")
	fmt.Println("  tripmesh relate show --user <id>")
	fmt.Println("                         Show a user's sharing edges")
	fmt.Println("  tripmesh relate set --user <id> [--exposed-to a,b] [--amplify-from a,b]")
	fmt.Println("                         Replace a user's sharing edges")
	fmt.Println("  tripmesh register --user <id> --name <display name>")
	fmt.Println("                         Create a user")
	fmt.Println("  tripmesh --version     Show version information")
	fmt.Println("  tripmesh --help        Show this help")
	fmt.Println()
	fmt.Println("Chat commands (in interactive mode):")
	fmt.Println("  /exit, /quit           End the session")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY         Required: Gemini API key")
	fmt.Println("  TRIPMESH_DATA_ROOT     Optional: data directory (default ./data)")
	fmt.Println("  DATABASE_URL           Optional: Postgres URL for the vector index")
	fmt.Println("  DEBUG                  Optional: enable debug logging")
}
