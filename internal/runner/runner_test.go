package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSink is an in-memory StatusSink for tests.
type memSink struct {
	mu     sync.Mutex
	status map[string]string
	result map[string]string
	errMsg map[string]string
}

func newMemSink() *memSink {
	return &memSink{
		status: make(map[string]string),
		result: make(map[string]string),
		errMsg: make(map[string]string),
	}
}

func (s *memSink) MarkPending(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.status[key] = "pending"
	}
}

func (s *memSink) MarkDone(key, resultPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[key] = "done"
	s.result[key] = resultPath
}

func (s *memSink) MarkError(key, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[key] = "error"
	s.errMsg[key] = message
}

func (s *memSink) TryMarkPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status[key] == "pending" {
		return false
	}
	s.status[key] = "pending"
	return true
}

func (s *memSink) get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[key]
}

func (s *memSink) terminalCount() (done, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.status {
		switch st {
		case "done":
			done++
		case "error":
			failed++
		}
	}
	return done, failed
}

var batchKeys = []string{"Les Paul", "Stratocaster", "Telecaster", "SG", "Flying V", "Explorer"}

func TestRunAllItemsTerminal(t *testing.T) {
	sink := newMemSink()
	gen := func(ctx context.Context, key string) (string, error) {
		time.Sleep(time.Duration(len(key)) * time.Millisecond) // uneven durations
		return "portraits/" + key + ".jpg", nil
	}

	New(2, gen, sink).Run(context.Background(), batchKeys)

	done, failed := sink.terminalCount()
	assert.Equal(t, 6, done)
	assert.Equal(t, 0, failed)
	for _, key := range batchKeys {
		assert.Equal(t, "done", sink.get(key), key)
	}
}

func TestRunConcurrencyLimit(t *testing.T) {
	const limit = 2

	var inflight, peak int32
	sink := newMemSink()
	gen := func(ctx context.Context, key string) (string, error) {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return "ok", nil
	}

	New(limit, gen, sink).Run(context.Background(), batchKeys)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
	done, _ := sink.terminalCount()
	assert.Equal(t, 6, done)
}

func TestRunDequeueOrderIsFIFO(t *testing.T) {
	var mu sync.Mutex
	var started []string

	sink := newMemSink()
	gen := func(ctx context.Context, key string) (string, error) {
		mu.Lock()
		started = append(started, key)
		mu.Unlock()
		return "ok", nil
	}

	// A single worker makes the dequeue order observable directly.
	New(1, gen, sink).Run(context.Background(), batchKeys)

	assert.Equal(t, batchKeys, started)
}

func TestRunCompletionOrderUnconstrained(t *testing.T) {
	var mu sync.Mutex
	var completed []string

	sink := newMemSink()
	gen := func(ctx context.Context, key string) (string, error) {
		if key == "slow" {
			time.Sleep(80 * time.Millisecond)
		}
		mu.Lock()
		completed = append(completed, key)
		mu.Unlock()
		return "ok", nil
	}

	New(2, gen, sink).Run(context.Background(), []string{"slow", "fast"})

	require.Len(t, completed, 2)
	assert.Equal(t, "fast", completed[0], "the fast item should finish first")
	assert.Equal(t, "done", sink.get("slow"), "the run must still wait for the slow item")
}

func TestRunSingleFailureIsolated(t *testing.T) {
	sink := newMemSink()
	gen := func(ctx context.Context, key string) (string, error) {
		if key == "SG" {
			return "", errors.New("provider rejected the request")
		}
		return "portraits/" + key + ".jpg", nil
	}

	New(2, gen, sink).Run(context.Background(), batchKeys)

	done, failed := sink.terminalCount()
	assert.Equal(t, 5, done)
	assert.Equal(t, 1, failed)
	assert.Equal(t, "error", sink.get("SG"))
	assert.Equal(t, "provider rejected the request", sink.errMsg["SG"])
}

func TestRunCancelDrainsQueuedItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newMemSink()
	gen := func(ctx context.Context, key string) (string, error) {
		if key == "Les Paul" {
			// Cancel mid-flight; this call still runs to completion.
			cancel()
			return "portraits/les-paul.jpg", nil
		}
		return "portraits/" + key + ".jpg", nil
	}

	New(1, gen, sink).Run(ctx, []string{"Les Paul", "Stratocaster", "Telecaster"})

	assert.Equal(t, "done", sink.get("Les Paul"))
	for _, key := range []string{"Stratocaster", "Telecaster"} {
		assert.Equal(t, "error", sink.get(key), key)
		assert.Equal(t, "generation canceled", sink.errMsg[key], key)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	called := false
	sink := newMemSink()
	gen := func(ctx context.Context, key string) (string, error) {
		called = true
		return "", nil
	}

	New(2, gen, sink).Run(context.Background(), nil)

	assert.False(t, called)
	assert.Empty(t, sink.status)
}

func TestRegenerateReplacesResult(t *testing.T) {
	sink := newMemSink()
	sink.MarkError("SG", "first attempt failed")

	gen := func(ctx context.Context, key string) (string, error) {
		return "portraits/sg-retry.jpg", nil
	}

	ok := New(1, gen, sink).Regenerate(context.Background(), "SG")

	require.True(t, ok)
	assert.Equal(t, "done", sink.get("SG"))
	assert.Equal(t, "portraits/sg-retry.jpg", sink.result["SG"])
}

func TestRegeneratePendingIsNoop(t *testing.T) {
	sink := newMemSink()
	sink.MarkPending([]string{"SG"})

	gen := func(ctx context.Context, key string) (string, error) {
		t.Fatal("generate must not run for a pending key")
		return "", nil
	}

	ok := New(1, gen, sink).Regenerate(context.Background(), "SG")

	assert.False(t, ok)
	assert.Equal(t, "pending", sink.get("SG"))
}

func TestRegenerateDoesNotTouchSiblings(t *testing.T) {
	sink := newMemSink()
	sink.MarkDone("Les Paul", "portraits/les-paul.jpg")
	sink.MarkDone("SG", "portraits/sg.jpg")

	gen := func(ctx context.Context, key string) (string, error) {
		return fmt.Sprintf("portraits/%s-v2.jpg", key), nil
	}

	require.True(t, New(1, gen, sink).Regenerate(context.Background(), "SG"))

	assert.Equal(t, "portraits/les-paul.jpg", sink.result["Les Paul"])
	assert.Equal(t, "portraits/sg-v2.jpg", sink.result["SG"])
}
