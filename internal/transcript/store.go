package transcript

import (
	"fmt"
	"log/slog"
)

// Store combines the file store, cache, and write-behind writer into the
// transcript surface the rest of the service uses.
//
// Reads are served from the cache when possible and populate it on a
// miss. Appends update the cache synchronously (read-your-writes within
// the process) and enqueue the durable write asynchronously; a crash
// between the two loses that message. That tradeoff is deliberate: the
// chat path never blocks on disk.
type Store struct {
	files  *FileStore
	cache  *Cache
	writer *Writer
	logger *slog.Logger
}

// Config configures a transcript Store.
type Config struct {
	Root      string // data root directory
	CacheSize int    // max cached transcripts (default DefaultCacheSize)
	QueueSize int    // max pending durable writes per transcript (default DefaultQueueSize)
	Logger    *slog.Logger
}

// NewStore creates a transcript Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("data root is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	files := NewFileStore(cfg.Root, logger)
	return &Store{
		files:  files,
		cache:  NewCache(cfg.CacheSize),
		writer: NewWriter(files, cfg.QueueSize, logger),
		logger: logger,
	}, nil
}

// Create initializes a new session transcript seeded with one system
// message and primes the cache with it.
func (s *Store) Create(owner, session, seedPrompt string) error {
	if err := s.files.Create(owner, session, seedPrompt); err != nil {
		return err
	}
	path := s.files.Path(owner, session)
	msgs, err := s.files.Read(path)
	if err != nil {
		return err
	}
	s.cache.Put(path, msgs)
	return nil
}

// Read returns the transcript for (owner, session). Cache hits are
// authoritative; on a miss the transcript is loaded from disk and cached.
// A session with no state file reads as empty.
func (s *Store) Read(owner, session string) ([]Message, error) {
	path := s.files.Path(owner, session)
	if msgs, ok := s.cache.Get(path); ok {
		return msgs, nil
	}

	msgs, err := s.files.Read(path)
	if err != nil {
		return nil, err
	}
	s.cache.Put(path, msgs)
	return msgs, nil
}

// Append records msg at the end of the transcript: synchronously in the
// cache (when the entry is resident) and asynchronously on disk.
func (s *Store) Append(owner, session string, msg Message) error {
	path := s.files.Path(owner, session)
	s.cache.Append(path, msg)
	if err := s.writer.Enqueue(path, msg); err != nil {
		return fmt.Errorf("scheduling durable write: %w", err)
	}
	return nil
}

// Flush blocks until all scheduled durable writes have been applied.
func (s *Store) Flush() {
	s.writer.Flush()
}

// Close flushes pending writes and stops the background workers.
func (s *Store) Close() {
	s.writer.Close()
}
