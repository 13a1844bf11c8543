package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultSeedPrompt seeds new transcripts when the caller supplies none.
const DefaultSeedPrompt = "You are a helpful assistant."

// maxLineBytes bounds a single transcript line during reads. Messages are
// truncated upstream, so anything larger indicates corruption.
const maxLineBytes = 1 << 20

// ErrSessionExists indicates Create was called for a transcript that
// already has a state file.
var ErrSessionExists = errors.New("session already exists")

// FileStore persists transcripts as append-only NDJSON files under
// <root>/user_data/<owner>/sessions/<session>/state.jsonl.
//
// FileStore methods are safe for concurrent use as long as appends to the
// same path are serialized by the caller; the [Writer] provides that
// serialization.
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at root.
func NewFileStore(root string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{root: root, logger: logger}
}

// Path resolves the state file path for (owner, session).
func (fs *FileStore) Path(owner, session string) string {
	return filepath.Join(fs.root, "user_data", owner, "sessions", session, "state.jsonl")
}

// Create initializes a new transcript with one seed system message.
// Returns ErrSessionExists when the state file is already present.
func (fs *FileStore) Create(owner, session, seedPrompt string) error {
	path := fs.Path(owner, session)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s/%s", ErrSessionExists, owner, session)
	}
	if seedPrompt == "" {
		seedPrompt = DefaultSeedPrompt
	}
	return fs.Append(path, System(seedPrompt))
}

// Read loads all messages from path. A missing file yields an empty
// transcript; corrupt lines are skipped with a warning so one bad record
// never poisons the whole history.
func (fs *FileStore) Read(path string) ([]Message, error) {
	f, err := os.Open(path) // #nosec G304 -- path is derived from Path()
	if err != nil {
		if os.IsNotExist(err) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("opening transcript %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var out []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			fs.logger.Warn("skipping corrupt transcript line",
				"path", path, "line", lineNo, "error", err)
			continue
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript %s: %w", path, err)
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

// Append writes msg as one NDJSON line at the end of path, creating
// parent directories as needed.
func (fs *FileStore) Append(path string, msg Message) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) // #nosec G304
	if err != nil {
		return fmt.Errorf("opening transcript %s: %w", path, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("appending to transcript %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing transcript %s: %w", path, err)
	}
	return nil
}
