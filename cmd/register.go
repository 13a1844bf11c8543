package cmd

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tripmesh/tripmesh/internal/config"
	"github.com/tripmesh/tripmesh/internal/log"
	"github.com/tripmesh/tripmesh/internal/relation"
	"github.com/tripmesh/tripmesh/internal/user"
)

// runRegister creates a user's data directory, display name, and
// relation graph entry, so the user is immediately addressable by
// relate edits.
func runRegister(logger log.Logger) error {
	flags := flag.NewFlagSet("register", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	userID := flags.String("user", "", "user ID (required)")
	name := flags.String("name", "", "display name (required)")
	if err := flags.Parse(args()); err != nil {
		return fmt.Errorf("parsing register flags: %w", err)
	}
	if *userID == "" || *name == "" {
		return errors.New("register: --user and --name are required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	users := user.NewDirectory(cfg.DataRoot, logger)
	if err := users.Register(*userID, *name); err != nil {
		return fmt.Errorf("registering user: %w", err)
	}

	path := filepath.Join(cfg.DataRoot, "relations.json")
	graph, err := relation.Load(path, logger)
	if err != nil {
		return fmt.Errorf("loading relation graph: %w", err)
	}
	graph.Ensure(*userID)
	if err := graph.Save(path); err != nil {
		return fmt.Errorf("saving relation graph: %w", err)
	}

	fmt.Printf("registered %s as %q\n", *userID, *name)
	return nil
}
