// Package queue implements the bounded single-consumer admission queue
// that serializes evaluations into a single Isolate Runner.
package queue

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/RyanPotat/eval-server/internal/debug"
	"github.com/RyanPotat/eval-server/internal/metrics"
)

// Capacity is the maximum number of waiters held in the queue at once,
// not counting the one currently in service.
const Capacity = 20

// ErrQueueFull is returned by Enqueue when the queue is already at
// Capacity.
var ErrQueueFull = errors.New("queue: full")

// Runner executes one evaluation to completion. Implemented by
// internal/sandbox/isolate.Runner.
type Runner interface {
	Run(ctx context.Context, evalID, code string, msg map[string]interface{}) string
}

type waiter struct {
	evalID   string
	code     string
	msg      map[string]interface{}
	resolver chan string
}

// Queue is a bounded FIFO with a single long-running consumer goroutine
// that feeds Runner one evaluation at a time. Because the buffered
// channel backing the queue has exactly Capacity slots, and the
// consumer removes a waiter from the channel the instant it starts
// working on it, a non-blocking send accepting up to Capacity queued
// waiters while one more is in flight is exactly the behavior spec.md
// §4.5 and §8's "21st pending request" scenario describe.
type Queue struct {
	ch    chan *waiter
	depth int32
}

// New starts the consumer goroutine and returns a ready Queue.
func New(runner Runner) *Queue {
	q := &Queue{ch: make(chan *waiter, Capacity)}
	go q.consume(runner)
	return q
}

// Enqueue admits one evaluation, blocking the caller until it completes.
// It returns ErrQueueFull immediately (without blocking) if the queue is
// already full.
func (q *Queue) Enqueue(ctx context.Context, code string, msg map[string]interface{}) (string, error) {
	w := &waiter{
		evalID:   uuid.NewString(),
		code:     code,
		msg:      msg,
		resolver: make(chan string, 1),
	}

	select {
	case q.ch <- w:
		depth := atomic.AddInt32(&q.depth, 1)
		debug.Queue(int(depth), true)
		metrics.RecordAdmission("accepted")
		metrics.SetQueueDepth(int(depth))
	default:
		debug.Queue(int(atomic.LoadInt32(&q.depth)), false)
		metrics.RecordAdmission("rejected")
		return "", ErrQueueFull
	}

	select {
	case result := <-w.resolver:
		return result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Depth reports the current number of waiters held in the queue,
// excluding the one currently being executed.
func (q *Queue) Depth() int {
	return int(atomic.LoadInt32(&q.depth))
}

func (q *Queue) consume(runner Runner) {
	for w := range q.ch {
		depth := atomic.AddInt32(&q.depth, -1)
		metrics.SetQueueDepth(int(depth))
		result := runner.Run(context.Background(), w.evalID, w.code, w.msg)
		w.resolver <- result
	}
}
