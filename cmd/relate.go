package cmd

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tripmesh/tripmesh/internal/config"
	"github.com/tripmesh/tripmesh/internal/log"
	"github.com/tripmesh/tripmesh/internal/relation"
	"github.com/tripmesh/tripmesh/internal/user"
)

// runRelate dispatches the relate subcommands. Edits load the graph,
// apply the update, and save it back; no long-lived process owns the
// file, so edits and chat sessions must not run concurrently.
func runRelate(logger log.Logger) error {
	if len(os.Args) < 3 {
		return errors.New("relate: expected 'show' or 'set' subcommand")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.DataRoot, "relations.json")

	graph, err := relation.Load(path, logger)
	if err != nil {
		return fmt.Errorf("loading relation graph: %w", err)
	}

	users := user.NewDirectory(cfg.DataRoot, logger)
	if err := users.Refresh(); err != nil {
		return fmt.Errorf("scanning user directory: %w", err)
	}

	switch os.Args[2] {
	case "show":
		return relateShow(graph, users)
	case "set":
		return relateSet(graph, path)
	default:
		return fmt.Errorf("relate: unknown subcommand %q", os.Args[2])
	}
}

func relateShow(graph *relation.Graph, users *user.Directory) error {
	flags := flag.NewFlagSet("relate show", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	userID := flags.String("user", "", "user ID (required)")
	if err := flags.Parse(subArgs()); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	if *userID == "" {
		return errors.New("relate show: --user is required")
	}

	fmt.Printf("%s\n", *userID)
	fmt.Printf("  exposed to:   %s\n", formatPeers(graph.ExposedTo(*userID), users))
	fmt.Printf("  amplify from: %s\n", formatPeers(graph.AmplifyFrom(*userID), users))
	return nil
}

func relateSet(graph *relation.Graph, path string) error {
	flags := flag.NewFlagSet("relate set", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	userID := flags.String("user", "", "user ID (required)")
	exposedTo := flags.String("exposed-to", "", "comma-separated user IDs, empty string clears")
	amplifyFrom := flags.String("amplify-from", "", "comma-separated user IDs, empty string clears")
	if err := flags.Parse(subArgs()); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	if *userID == "" {
		return errors.New("relate set: --user is required")
	}

	var upd relation.Update
	var touched bool
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "exposed-to":
			ids := splitIDs(*exposedTo)
			upd.ExposedTo = &ids
			touched = true
		case "amplify-from":
			ids := splitIDs(*amplifyFrom)
			upd.AmplifyFrom = &ids
			touched = true
		}
	})
	if !touched {
		return errors.New("relate set: nothing to change, pass --exposed-to or --amplify-from")
	}

	graph.Ensure(*userID)
	if err := graph.Apply(*userID, upd); err != nil {
		return err
	}
	if err := graph.Save(path); err != nil {
		return fmt.Errorf("saving relation graph: %w", err)
	}
	fmt.Println("updated")
	return nil
}

func formatPeers(ids []string, users *user.Directory) string {
	if len(ids) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(ids))
	for _, p := range relation.Enrich(ids, users) {
		parts = append(parts, fmt.Sprintf("%s (%s)", p.Name, p.ID))
	}
	return strings.Join(parts, ", ")
}

// splitIDs parses a comma-separated ID list; an empty value means an
// empty list, which clears the edge set.
func splitIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// subArgs returns the arguments after "relate <subcommand>".
func subArgs() []string {
	if len(os.Args) > 3 {
		return os.Args[3:]
	}
	return nil
}
