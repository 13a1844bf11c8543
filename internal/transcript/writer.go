package transcript

import (
	"errors"
	"log/slog"
	"sync"
)

// DefaultQueueSize bounds the number of pending durable writes per
// transcript before Enqueue applies backpressure.
const DefaultQueueSize = 64

// ErrWriterClosed indicates Enqueue was called after Close.
var ErrWriterClosed = errors.New("transcript writer is closed")

// Writer applies durable transcript appends asynchronously.
//
// Each active transcript path gets its own worker goroutine draining a
// bounded FIFO, so writes to the same transcript always land on disk in
// submission order while different transcripts proceed in parallel. A
// shared pool of interchangeable workers cannot give that guarantee,
// which is why the pool is keyed.
//
// Write failures are logged and not retried: the in-memory cache remains
// correct until eviction, and the transcript is reloaded from disk after
// a crash. See the error taxonomy note on Store.Append.
type Writer struct {
	store    *FileStore
	logger   *slog.Logger
	maxQueue int

	mu     sync.Mutex
	queues map[string]*keyQueue
	closed bool
	wg     sync.WaitGroup
}

// keyQueue is the ordered mailbox for one transcript path.
type keyQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Message
	closed  bool
	idle    bool // worker has drained everything and is waiting
}

// NewWriter creates a Writer persisting through store. maxQueue values
// below 1 are clamped to DefaultQueueSize.
func NewWriter(store *FileStore, maxQueue int, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxQueue < 1 {
		maxQueue = DefaultQueueSize
	}
	return &Writer{
		store:    store,
		logger:   logger,
		maxQueue: maxQueue,
		queues:   make(map[string]*keyQueue),
	}
}

// Enqueue schedules msg for a durable append to path. It returns quickly
// unless the per-path queue is full, in which case it blocks until the
// worker catches up (backpressure instead of unbounded buffering).
func (w *Writer) Enqueue(path string, msg Message) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	kq, ok := w.queues[path]
	if !ok {
		kq = &keyQueue{}
		kq.cond = sync.NewCond(&kq.mu)
		w.queues[path] = kq
		w.wg.Add(1)
		go w.drain(path, kq)
	}
	w.mu.Unlock()

	kq.mu.Lock()
	defer kq.mu.Unlock()
	for len(kq.pending) >= w.maxQueue && !kq.closed {
		kq.cond.Wait()
	}
	if kq.closed {
		return ErrWriterClosed
	}
	kq.pending = append(kq.pending, msg.Clone())
	kq.idle = false
	kq.cond.Broadcast()
	return nil
}

// drain is the worker loop for one transcript path.
func (w *Writer) drain(path string, kq *keyQueue) {
	defer w.wg.Done()
	for {
		kq.mu.Lock()
		for len(kq.pending) == 0 && !kq.closed {
			kq.idle = true
			kq.cond.Broadcast()
			kq.cond.Wait()
		}
		if len(kq.pending) == 0 && kq.closed {
			kq.idle = true
			kq.cond.Broadcast()
			kq.mu.Unlock()
			return
		}
		batch := kq.pending
		kq.pending = nil
		kq.cond.Broadcast()
		kq.mu.Unlock()

		for _, msg := range batch {
			if err := w.store.Append(path, msg); err != nil {
				w.logger.Error("durable transcript append failed",
					"path", path, "error", err)
			}
		}
	}
}

// Flush blocks until every queued write submitted before the call has
// been handed to the filesystem.
func (w *Writer) Flush() {
	w.mu.Lock()
	queues := make([]*keyQueue, 0, len(w.queues))
	for _, kq := range w.queues {
		queues = append(queues, kq)
	}
	w.mu.Unlock()

	for _, kq := range queues {
		kq.mu.Lock()
		for len(kq.pending) > 0 || !kq.idle {
			kq.cond.Wait()
		}
		kq.mu.Unlock()
	}
}

// Close drains all queues and stops the workers. Enqueue calls made
// after Close return ErrWriterClosed. Close is idempotent.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.wg.Wait()
		return
	}
	w.closed = true
	queues := make([]*keyQueue, 0, len(w.queues))
	for _, kq := range w.queues {
		queues = append(queues, kq)
	}
	w.mu.Unlock()

	for _, kq := range queues {
		kq.mu.Lock()
		kq.closed = true
		kq.cond.Broadcast()
		kq.mu.Unlock()
	}
	w.wg.Wait()
}
