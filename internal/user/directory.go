// Package user resolves user IDs to display names from per-user metadata
// files on disk.
package user

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tripmesh/tripmesh/internal/log"
)

// Meta is the content of a user's user.meta.json file.
type Meta struct {
	Name string `json:"name"`
}

// MetaPath returns the metadata file location for userID under root.
func MetaPath(root, userID string) string {
	return filepath.Join(root, "user_data", userID, "user.meta.json")
}

// Directory caches display names read from user.meta.json files. It
// implements the name lookup the relation package enriches edges with.
type Directory struct {
	root   string
	logger log.Logger

	mu    sync.RWMutex
	names map[string]string
}

// NewDirectory returns a directory rooted at root. Call Refresh to load
// names from disk.
func NewDirectory(root string, logger log.Logger) *Directory {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Directory{
		root:   root,
		logger: logger,
		names:  make(map[string]string),
	}
}

// Refresh rescans <root>/user_data for user.meta.json files. Users with a
// missing or unreadable metadata file keep no entry; a corrupt file is
// skipped with a warning rather than failing the scan.
func (d *Directory) Refresh() error {
	base := filepath.Join(d.root, "user_data")
	entries, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scanning %s: %w", base, err)
	}

	names := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		uid := e.Name()
		data, err := os.ReadFile(MetaPath(d.root, uid))
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			d.logger.Warn("skipping corrupt user metadata", "user", uid, "error", err)
			continue
		}
		if meta.Name != "" {
			names[uid] = meta.Name
		}
	}

	d.mu.Lock()
	d.names = names
	d.mu.Unlock()
	d.logger.Debug("loaded user metadata", "users", len(names))
	return nil
}

// DisplayName reports the display name recorded for userID.
func (d *Directory) DisplayName(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[userID]
	return name, ok
}

// Register writes userID's metadata file and updates the in-memory map.
// Used when a user is first created.
func (d *Directory) Register(userID, name string) error {
	path := MetaPath(d.root, userID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating user directory: %w", err)
	}
	data, err := json.Marshal(Meta{Name: name})
	if err != nil {
		return fmt.Errorf("encoding user metadata: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	d.mu.Lock()
	d.names[userID] = name
	d.mu.Unlock()
	return nil
}
