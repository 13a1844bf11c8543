package transcript

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/tripmesh/tripmesh/internal/log"
)

func TestWriter_PreservesPerKeyOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := NewFileStore(t.TempDir(), log.NewNop())
	w := NewWriter(fs, 8, log.NewNop())

	const n = 200
	path := fs.Path("u1", "s1")
	for i := 0; i < n; i++ {
		if err := w.Enqueue(path, Human(fmt.Sprintf("%04d", i))); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	w.Close()

	got, err := fs.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != n {
		t.Fatalf("disk has %d messages, want %d", len(got), n)
	}
	for i, m := range got {
		if want := fmt.Sprintf("%04d", i); m.Content != want {
			t.Fatalf("message %d = %q, want %q (order violated)", i, m.Content, want)
		}
	}
}

func TestWriter_OrderHeldUnderConcurrentKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := NewFileStore(t.TempDir(), log.NewNop())
	w := NewWriter(fs, 4, log.NewNop())

	const keys = 8
	const perKey = 50
	var wg sync.WaitGroup
	for k := 0; k < keys; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			path := fs.Path(fmt.Sprintf("u%d", k), "s")
			for i := 0; i < perKey; i++ {
				if err := w.Enqueue(path, Human(fmt.Sprintf("%d-%04d", k, i))); err != nil {
					t.Errorf("Enqueue: %v", err)
					return
				}
			}
		}(k)
	}
	wg.Wait()
	w.Close()

	for k := 0; k < keys; k++ {
		path := fs.Path(fmt.Sprintf("u%d", k), "s")
		got, err := fs.Read(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != perKey {
			t.Fatalf("key %d has %d messages, want %d", k, len(got), perKey)
		}
		for i, m := range got {
			if want := fmt.Sprintf("%d-%04d", k, i); m.Content != want {
				t.Fatalf("key %d message %d = %q, want %q", k, i, m.Content, want)
			}
		}
	}
}

func TestWriter_FlushWaitsForPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := NewFileStore(t.TempDir(), log.NewNop())
	w := NewWriter(fs, 64, log.NewNop())
	defer w.Close()

	path := fs.Path("u", "s")
	for i := 0; i < 32; i++ {
		if err := w.Enqueue(path, Human("m")); err != nil {
			t.Fatal(err)
		}
	}
	w.Flush()

	got, err := fs.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 32 {
		t.Errorf("after Flush disk has %d messages, want 32", len(got))
	}
}

func TestWriter_EnqueueAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := NewFileStore(t.TempDir(), log.NewNop())
	w := NewWriter(fs, 4, log.NewNop())
	w.Close()

	err := w.Enqueue(fs.Path("u", "s"), Human("late"))
	if !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrWriterClosed", err)
	}
}

func TestWriter_CloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := NewFileStore(t.TempDir(), log.NewNop())
	w := NewWriter(fs, 4, log.NewNop())
	w.Close()
	w.Close()
}
