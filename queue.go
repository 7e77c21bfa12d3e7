package sockproxy

import (
	"context"
	"sync"
	"time"
)

// queueEntry is a pending notification. sessionID is used to look the
// session back up at drain time so that a "current Pid" (or any other
// binding field changed since enqueue — not possible today since binding
// is setup-only, but kept general) is honored; fallback is a binding
// snapshot used only once the session has already been torn down, per
// spec §4.3 "Entries for sessions that have been destroyed are still
// delivered".
type queueEntry struct {
	sessionID string
	fallback  NotifyBinding
}

// SendQueue implements the at-most-one-outstanding-per-session, paced
// notification delivery described in spec §4.3. It never blocks the relay:
// Enqueue only appends to a slice under a mutex, and the one goroutine that
// issues HTTP GETs (run) is entirely separate from session goroutines.
//
// Grounded on the teacher's single-dispatch-loop shape in server.go's
// ServeContext (one channel-fed loop mutating shared state), adapted from
// an unbounded channel read to a time-aware drain since notifications must
// respect a per-session minimum interval rather than fire immediately.
type SendQueue struct {
	mu       sync.Mutex
	entries  []*queueEntry
	sessions func(id string) *Session // session lookup, set by the daemon

	notifier *Notifier
	metrics  *Metrics
	wake     chan struct{}
}

func newSendQueue(notifier *Notifier, metrics *Metrics, lookup func(id string) *Session) *SendQueue {
	return &SendQueue{
		notifier: notifier,
		metrics:  metrics,
		sessions: lookup,
		wake:     make(chan struct{}, 1),
	}
}

func (q *SendQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue is a no-op if the session has no binding or already has a queued
// entry (spec §4.3 coalescing).
func (q *SendQueue) Enqueue(s *Session) {
	b := s.binding_()
	if !b.bound() {
		return
	}
	if !s.markNotifyPending() {
		if q.metrics != nil {
			q.metrics.notificationsTotal.WithLabelValues("coalesced").Inc()
		}
		return
	}
	q.mu.Lock()
	q.entries = append(q.entries, &queueEntry{sessionID: s.ID, fallback: b})
	q.mu.Unlock()
	q.signal()
}

// EnqueueFinal pushes a notification that must be delivered regardless of
// pacing or an existing pending entry, because the session no longer
// exists by the time the queue drains it (spec §4.3's "still delivered"
// clause, and spec §5's "final notification is emitted after teardown").
func (q *SendQueue) EnqueueFinal(sessionID string, b NotifyBinding) {
	if !b.bound() {
		return
	}
	q.mu.Lock()
	q.entries = append(q.entries, &queueEntry{sessionID: sessionID, fallback: b})
	q.mu.Unlock()
	q.signal()
}

// eligible returns the binding to dispatch and true if the entry is ready.
// A session that no longer exists, or whose pace has been satisfied, is
// ready; one still inside its pace window is not and stays queued.
func (q *SendQueue) eligible(e *queueEntry, now time.Time) (NotifyBinding, bool) {
	sess := q.sessions(e.sessionID)
	if sess == nil {
		return e.fallback, true
	}
	_, _, _, _, paceS, binding, _ := sess.snapshot()
	if paceS <= 0 {
		return binding, true
	}
	if sess.lastNotify().Add(time.Duration(paceS * float64(time.Second))).After(now) {
		return NotifyBinding{}, false
	}
	return binding, true
}

// drainOne removes and dispatches at most one eligible entry, per spec
// §4.3's "return after one dispatch". It reports the soonest time a
// currently-ineligible entry will become eligible, or zero if none.
func (q *SendQueue) drainOne(ctx context.Context) (dispatched bool, nextAt time.Time) {
	now := time.Now()

	q.mu.Lock()
	var soonest time.Time
	for i, e := range q.entries {
		binding, ready := q.eligible(e, now)
		if !ready {
			sess := q.sessions(e.sessionID)
			if sess != nil {
				_, _, _, _, paceS, _, _ := sess.snapshot()
				at := sess.lastNotify().Add(time.Duration(paceS * float64(time.Second)))
				if soonest.IsZero() || at.Before(soonest) {
					soonest = at
				}
			}
			continue
		}
		// Remove entry i, preserving order of the rest.
		q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
		q.mu.Unlock()

		if sess := q.sessions(e.sessionID); sess != nil {
			sess.setLastNotify(now)
			sess.clearNotifyPending()
		}
		ok := q.notifier.Notify(ctx, binding)
		if q.metrics != nil {
			result := "sent"
			if !ok {
				result = "failed"
			}
			q.metrics.notificationsTotal.WithLabelValues(result).Inc()
		}
		return true, time.Time{}
	}
	q.mu.Unlock()
	return false, soonest
}

// run drives the queue until ctx is canceled, waking on new entries or the
// next pace deadline, whichever comes first. waitProducers, if non-nil, is
// called once ctx is done and must block until every goroutine that could
// still call EnqueueFinal (i.e. every session's teardown) has finished; run
// then flushes whatever is left before returning, so a daemon-wide STOP
// still delivers every session's final notification (spec §5 "final
// notification is emitted after teardown") instead of dropping entries that
// were enqueued concurrently with shutdown.
func (q *SendQueue) run(ctx context.Context, waitProducers func()) {
	for {
		dispatched, nextAt := q.drainOne(ctx)
		if dispatched {
			continue
		}
		var (
			timerCh <-chan time.Time
			timer   *time.Timer
		)
		if !nextAt.IsZero() {
			d := time.Until(nextAt)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerCh = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			q.drainRemaining(waitProducers)
			return
		case <-q.wake:
		case <-timerCh:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// drainRemaining flushes every notification still queued at shutdown. It
// waits for in-flight session teardowns to finish enqueueing their final
// notification, then dispatches entries one at a time until none remain.
// Dispatch uses a fresh background context rather than the (already
// canceled) run context, since a canceled context would fail Notify's HTTP
// call instantly.
func (q *SendQueue) drainRemaining(waitProducers func()) {
	if waitProducers != nil {
		waitProducers()
	}
	for {
		dispatched, _ := q.drainOne(context.Background())
		if !dispatched {
			return
		}
	}
}
