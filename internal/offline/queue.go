// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/apotheca-labs/pharmsync/internal/logging"
	"github.com/apotheca-labs/pharmsync/internal/metrics"
)

// maxRetries is the total number of replay attempts a queued operation
// gets before it is dropped and reported as a terminal network failure.
const maxRetries = 3

// Replay pacing. A device coming back online after a long outage can hold
// hundreds of operations; the drain must not arrive at the backend as a
// thundering herd.
const (
	replayRatePerSecond = 20
	replayBurst         = 5
)

// Sender delivers one operation to the backend. The HTTP replayer is the
// production implementation; tests substitute fakes.
type Sender interface {
	Send(ctx context.Context, op Operation) error
}

// RejectionError is an application-level rejection (validation failure,
// auth denial, conflict). Rejections are terminal: replaying the same
// payload would repeat the same rejection.
type RejectionError struct {
	StatusCode int
	Body       string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected with status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether a send failure is a transport-level error
// worth retrying. Application rejections are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rejection *RejectionError
	return !errors.As(err, &rejection)
}

// OutcomeStatus classifies how a submitted operation ended.
type OutcomeStatus string

const (
	// StatusSucceeded: the operation was delivered and accepted.
	StatusSucceeded OutcomeStatus = "succeeded"
	// StatusQueued: the operation is persisted and awaiting replay.
	StatusQueued OutcomeStatus = "queued"
	// StatusRejected: the backend rejected the operation; not retried.
	StatusRejected OutcomeStatus = "rejected"
	// StatusExhausted: replay failed maxRetries times; dropped.
	StatusExhausted OutcomeStatus = "exhausted"
)

// Outcome reports the fate of a submitted operation to listeners (toasts,
// status bars). Err is set for rejected and exhausted outcomes.
type Outcome struct {
	Operation PendingOperation
	Status    OutcomeStatus
	Err       error
}

// Queue implements enqueue-or-send: while online, mutations go straight to
// the backend; transport failures and offline periods divert them into the
// durable store for sequential FIFO replay.
type Queue struct {
	store   *Store
	sender  Sender
	limiter *rate.Limiter

	mu          sync.Mutex
	online      bool
	draining    bool
	closed      bool
	drainCancel context.CancelFunc
	listeners   []func(Outcome)

	wg sync.WaitGroup
}

// NewQueue creates a queue over the given store and sender. The queue
// starts offline; call SetOnline when connectivity is established.
func NewQueue(store *Store, sender Sender) *Queue {
	return &Queue{
		store:   store,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(replayRatePerSecond), replayBurst),
	}
}

// OnOutcome registers a listener for operation outcomes. Listeners are
// invoked synchronously from the submitting or draining goroutine.
func (q *Queue) OnOutcome(fn func(Outcome)) {
	q.mu.Lock()
	q.listeners = append(q.listeners, fn)
	q.mu.Unlock()
}

func (q *Queue) notify(o Outcome) {
	q.mu.Lock()
	listeners := append(make([]func(Outcome), 0, len(q.listeners)), q.listeners...)
	q.mu.Unlock()
	for _, fn := range listeners {
		fn(o)
	}
}

// immediateRecord describes an operation that was delivered without ever
// touching the store, so outcome listeners see the same record shape on
// every path. The operation has already been accepted or rejected; a
// marshal failure here only degrades the record to its type.
func immediateRecord(op Operation) PendingOperation {
	rec, err := newPendingRecord(op)
	if err != nil {
		return PendingOperation{Type: op.OpType()}
	}
	return rec
}

// Online reports the queue's current connectivity view.
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// SetOnline updates the connectivity state. A transition to online starts
// a background drain of the persisted queue; a transition to offline
// cancels any drain still in flight. No-op after Close.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	was := q.online
	q.online = online

	if !online && q.drainCancel != nil {
		q.drainCancel()
		q.drainCancel = nil
	}
	if online && !was {
		drainCtx, cancel := context.WithCancel(ctx)
		q.drainCancel = cancel
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			if err := q.Drain(drainCtx); err != nil {
				logging.Warn().Err(err).Msg("offline queue drain stopped")
			}
		}()
	}
	q.mu.Unlock()
}

// Close stops the queue and waits for any in-flight drain to return, so
// the store underneath can be closed safely. Pending operations stay
// persisted. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.drainCancel != nil {
		q.drainCancel()
		q.drainCancel = nil
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Submit attempts immediate delivery when online, falling back to the
// durable queue on transport failure. When offline the operation is queued
// directly without a send attempt. The returned outcome is also delivered
// to listeners.
func (q *Queue) Submit(ctx context.Context, op Operation) (Outcome, error) {
	if q.Online() {
		err := q.sender.Send(ctx, op)
		if err == nil {
			o := Outcome{Operation: immediateRecord(op), Status: StatusSucceeded}
			q.notify(o)
			return o, nil
		}
		if !IsRetryable(err) {
			// Application rejection: surfaced immediately, never queued.
			o := Outcome{Operation: immediateRecord(op), Status: StatusRejected, Err: err}
			q.notify(o)
			return o, err
		}
		logging.Debug().Err(err).Str("op", string(op.OpType())).Msg("send failed, queueing operation")
	}

	pending, err := q.store.Enqueue(op)
	if err != nil {
		return Outcome{}, fmt.Errorf("enqueue %s: %w", op.OpType(), err)
	}
	q.updateDepthGauge()

	o := Outcome{Operation: pending, Status: StatusQueued}
	q.notify(o)
	return o, nil
}

// Drain replays queued operations in FIFO order, one at a time. A
// retryable failure increments the operation's retry count and stops the
// pass (the network is likely still bad); once the count reaches
// maxRetries the operation is dropped and reported exhausted. Rejections
// are dropped and reported immediately. Only one drain runs at a time.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	pending, err := q.store.Pending()
	if err != nil {
		return fmt.Errorf("load pending operations: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	logging.Info().Int("pending", len(pending)).Msg("draining offline queue")

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		op, err := p.Operation()
		if err != nil {
			// Undecodable entry: drop it rather than wedging the queue.
			logging.Error().Err(err).Str("op_id", p.ID).Msg("dropping undecodable queued operation")
			_ = q.store.Remove(p)
			continue
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
		sendErr := q.sender.Send(ctx, op)
		switch {
		case sendErr == nil:
			if err := q.store.Remove(p); err != nil {
				return err
			}
			metrics.QueueReplays.WithLabelValues(metrics.OutcomeSuccess).Inc()
			q.notify(Outcome{Operation: p, Status: StatusSucceeded})

		case !IsRetryable(sendErr):
			if err := q.store.Remove(p); err != nil {
				return err
			}
			metrics.QueueReplays.WithLabelValues(metrics.OutcomeRejected).Inc()
			logging.Warn().Err(sendErr).Str("op_id", p.ID).Msg("queued operation rejected by backend")
			q.notify(Outcome{Operation: p, Status: StatusRejected, Err: sendErr})

		default:
			p.RetryCount++
			if p.RetryCount >= maxRetries {
				if err := q.store.Remove(p); err != nil {
					return err
				}
				metrics.QueueReplays.WithLabelValues(metrics.OutcomeExhausted).Inc()
				logging.Warn().
					Str("op_id", p.ID).
					Int("retries", p.RetryCount).
					Msg("queued operation exhausted retry budget")
				q.notify(Outcome{Operation: p, Status: StatusExhausted, Err: sendErr})
				q.updateDepthGauge()
				continue
			}
			if err := q.store.Update(p); err != nil {
				return err
			}
			metrics.QueueReplays.WithLabelValues(metrics.OutcomeRetry).Inc()
			q.updateDepthGauge()
			// The transport is still failing; stop this pass and keep the
			// remaining operations in order for the next one.
			return sendErr
		}
		q.updateDepthGauge()
	}
	return nil
}

func (q *Queue) updateDepthGauge() {
	if n, err := q.store.PendingCount(); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
