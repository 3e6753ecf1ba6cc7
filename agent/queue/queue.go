// Package queue serializes orchestration runs per session: requests
// for one session run strictly one at a time in submission order,
// while unrelated sessions drain fully in parallel.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	contractx "atendai/agent/contract"
)

// Runner executes the full pipeline for one dequeued request.
type Runner func(ctx context.Context, req contractx.Request) (string, error)

var errNilRunner = errors.New("queue runner is required")

type outcome struct {
	reply string
	err   error
}

type item struct {
	ctx  context.Context
	req  contractx.Request
	done chan outcome
}

// Queue owns the only process-wide mutable state of the core: the
// per-session pending lists and draining flags.
type Queue struct {
	runner Runner

	mu       sync.Mutex
	pending  map[string][]*item
	draining map[string]bool
}

func New(runner Runner) (*Queue, error) {
	if runner == nil {
		return nil, errNilRunner
	}
	return &Queue{
		runner:   runner,
		pending:  make(map[string][]*item),
		draining: make(map[string]bool),
	}, nil
}

// Submit enqueues the request and blocks until its own run completes.
// The reply or error belongs to this request only; failures of earlier
// queued requests never leak into later ones.
func (q *Queue) Submit(ctx context.Context, req contractx.Request) (string, error) {
	it := &item{ctx: ctx, req: req, done: make(chan outcome, 1)}

	q.mu.Lock()
	q.pending[req.SessionID] = append(q.pending[req.SessionID], it)
	if !q.draining[req.SessionID] {
		q.draining[req.SessionID] = true
		go q.drain(req.SessionID)
	}
	q.mu.Unlock()

	out := <-it.done
	return out.reply, out.err
}

// drain pops one request at a time until the session's list is empty,
// then clears the draining flag. Checking emptiness and clearing the
// flag under the same lock keeps a concurrent Submit from racing a
// second drainer into existence.
func (q *Queue) drain(sessionID string) {
	for {
		q.mu.Lock()
		items := q.pending[sessionID]
		if len(items) == 0 {
			q.draining[sessionID] = false
			delete(q.pending, sessionID)
			q.mu.Unlock()
			return
		}
		head := items[0]
		q.pending[sessionID] = items[1:]
		q.mu.Unlock()

		reply, err := q.runner(head.ctx, head.req)
		if err != nil {
			log.Error().
				Str("session_id", sessionID).
				Err(err).
				Msg("queue: request failed, continuing drain")
		}
		head.done <- outcome{reply: reply, err: err}
	}
}
