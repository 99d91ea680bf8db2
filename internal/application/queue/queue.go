// Package queue is C6: the single-consumer FIFO scheduler that
// serializes every request against the one stateful UI session (spec
// §4.6). Queue is the data structure; Worker (worker.go) is the loop
// that drains it.
package queue

import (
	"sync"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/service"
)

// Item is one envelope's slot in the queue plus the disconnect monitor
// watching it. The monitor is started the instant the item is
// enqueued (spec §4.4: "C4 runs alongside C7 from enqueue until the
// future resolves") and is cancelled by the worker once processing of
// this item is done, win or lose.
type Item struct {
	Envelope *entity.RequestEnvelope
	Monitor  service.DisconnectMonitor
}

// Summary is the per-item shape GET /v1/queue reports (spec §6).
type Summary struct {
	ReqID           string
	WaitTimeSeconds float64
	Stream          bool
	Cancelled       bool
}

// Queue is the process-wide FIFO of not-yet-fully-processed requests.
// A plain mutex-guarded slice: the queue is always small (requests
// process one at a time) so there is no need for a lock-free structure,
// and a slice gives O(1) peek-by-index for the head-of-queue scan (spec
// §4.6 step 1) plus an O(n) lookup for cancel-by-id, which is rare
// compared to enqueue/dequeue.
type Queue struct {
	mu     sync.Mutex
	items  []*Item
	notify chan struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends item to the tail and wakes the worker loop.
func (q *Queue) Enqueue(item *Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Notify returns the channel the worker selects on to wake up as soon
// as an item is enqueued, instead of busy-polling.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// HeadScan returns up to n items from the head of the queue, without
// removing them, for the worker's dead-client scan (spec §4.6 step 1:
// "Peek at up to N=10 head items").
func (q *Queue) HeadScan(n int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]*Item, n)
	copy(out, q.items[:n])
	return out
}

// Dequeue removes and returns the item at the head of the queue, or
// nil if empty.
func (q *Queue) Dequeue() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// Cancel marks the queued item carrying reqID as cancelled (spec §6,
// POST /v1/cancel/{req_id}). It does not resolve the envelope's
// future or remove it from the queue — the worker's own dequeue step
// (§4.6 step 3a) is the only place a user-cancelled item's future gets
// resolved (the head scan skips items already marked cancelled), which
// keeps there being exactly one resolution path for them to reason
// about. Returns false if no queued item matches reqID.
func (q *Queue) Cancel(reqID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.Envelope.ReqID == reqID {
			item.Envelope.Cancel()
			return true
		}
	}
	return false
}

// Snapshot renders GET /v1/queue's items list (spec §6).
func (q *Queue) Snapshot() []Summary {
	q.mu.Lock()
	items := make([]*Item, len(q.items))
	copy(items, q.items)
	q.mu.Unlock()

	out := make([]Summary, 0, len(items))
	for _, item := range items {
		out = append(out, Summary{
			ReqID:           item.Envelope.ReqID,
			WaitTimeSeconds: item.Envelope.WaitTime().Seconds(),
			Stream:          item.Envelope.Request.Stream,
			Cancelled:       item.Envelope.Cancelled(),
		})
	}
	return out
}
