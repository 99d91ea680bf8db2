package service

import (
	"github.com/aistudioproxy/gateway/internal/domain/entity"
)

// StreamBus is the bounded, process-scoped FIFO of parsed frames
// running from C3 (producer) to C5 (consumer) (spec §3, "Stream Bus";
// Glossary). Exactly one producer and one consumer hold it at a time;
// the queue worker drains it before and after each request (P5) so no
// residue from one request's frames leaks into the next.
//
// This is deliberately a plain buffered channel wrapper, not a
// subscribe/publish event bus: the contract is single-producer,
// single-consumer, lossless, in strict wire order, which a fan-out bus
// would only complicate.
type StreamBus struct {
	ch chan entity.ParsedFrame
}

// NewStreamBus allocates a bus with the given backpressure capacity.
func NewStreamBus(capacity int) *StreamBus {
	if capacity <= 0 {
		capacity = 1
	}
	return &StreamBus{ch: make(chan entity.ParsedFrame, capacity)}
}

// Publish blocks if the bus is full — backpressure is intentional
// (spec §4.3: "Dropping frames is not permitted"). The caller is
// expected to be the MITM proxy's upstream pump goroutine.
func (b *StreamBus) Publish(f entity.ParsedFrame) {
	b.ch <- f
}

// Frames exposes the receive side for C5 to range over.
func (b *StreamBus) Frames() <-chan entity.ParsedFrame {
	return b.ch
}

// Drain discards any buffered frames without blocking. Called by the
// queue worker immediately before and after processing a request so a
// stale frame from a previous or aborted request can never be mistaken
// for part of the next one.
func (b *StreamBus) Drain() {
	for {
		select {
		case <-b.ch:
		default:
			return
		}
	}
}
