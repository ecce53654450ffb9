// Package runner executes one remote portrait generation per batch item
// under a fixed concurrency ceiling. Items are dequeued in their original
// order but may complete in any order; a failing item never affects its
// siblings, and the run returns only once every item is terminal.
package runner

import (
	"context"
	"sync"

	"github.com/wb-go/wbf/zlog"
)

// GenerateFunc performs the remote generation call for one key and
// returns the stored result path.
type GenerateFunc func(ctx context.Context, key string) (string, error)

// StatusSink receives per-item status updates. MarkPending seeds every
// key before any work starts; the other writes are per-key point updates
// and may be called concurrently for different keys. TryMarkPending is
// the regenerate guard: it must atomically refuse keys that are already
// pending.
type StatusSink interface {
	MarkPending(keys []string)
	MarkDone(key, resultPath string)
	MarkError(key, message string)
	TryMarkPending(key string) bool
}

// Runner is a bounded-concurrency batch executor.
type Runner struct {
	workers  int
	generate GenerateFunc
	sink     StatusSink
}

// New creates a Runner with the given concurrency limit. Limits below
// one are clamped to one.
func New(workers int, generate GenerateFunc, sink StatusSink) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{workers: workers, generate: generate, sink: sink}
}

// queue is a mutex-guarded FIFO over the batch keys. pop is the only
// mutation, so no key can ever be handed to two workers.
type queue struct {
	mu   sync.Mutex
	keys []string
}

func (q *queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.keys) == 0 {
		return "", false
	}
	key := q.keys[0]
	q.keys = q.keys[1:]
	return key, true
}

// Run processes all keys and blocks until every one of them is terminal.
// Canceling ctx stops workers from pulling new keys; in-flight calls run
// to completion and the keys never dequeued are drained to an error
// status so the batch still ends with no pending items.
func (r *Runner) Run(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}

	r.sink.MarkPending(keys)

	q := &queue{keys: append([]string(nil), keys...)}

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx, q)
		}()
	}
	wg.Wait()

	// Anything still queued after cancellation is drained here, once the
	// workers are gone and the queue is no longer contended.
	for {
		key, ok := q.pop()
		if !ok {
			break
		}
		r.sink.MarkError(key, "generation canceled")
	}
}

func (r *Runner) work(ctx context.Context, q *queue) {
	for {
		if ctx.Err() != nil {
			return
		}

		key, ok := q.pop()
		if !ok {
			return
		}

		r.process(ctx, key)
	}
}

func (r *Runner) process(ctx context.Context, key string) {
	path, err := r.generate(ctx, key)
	if err != nil {
		zlog.Logger.Err(err).Str("key", key).Msg("generation failed")
		r.sink.MarkError(key, err.Error())
		return
	}

	r.sink.MarkDone(key, path)
}

// Regenerate re-executes a single item outside the batch queue. The
// pending check enforces at most one in-flight request per key: a key
// that is already pending is left untouched and false is returned.
func (r *Runner) Regenerate(ctx context.Context, key string) bool {
	if !r.sink.TryMarkPending(key) {
		return false
	}

	r.process(ctx, key)

	return true
}
