package linedisc

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultQueueSize is the number of chunks the forward queue holds.
const DefaultQueueSize = 256

// ForwardQueue carries raw received chunks to a consumer on another
// goroutine. The producer never blocks: when the queue is full the chunk is
// dropped and counted.
type ForwardQueue struct {
	ch      chan []byte
	dropped atomic.Uint64
	log     zerolog.Logger
}

// NewForwardQueue creates a queue holding up to size chunks.
func NewForwardQueue(size int, logger zerolog.Logger) *ForwardQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &ForwardQueue{
		ch:  make(chan []byte, size),
		log: logger,
	}
}

// Offer enqueues a copy of chunk. It reports false when the chunk was dropped.
func (q *ForwardQueue) Offer(chunk []byte) bool {
	data := make([]byte, len(chunk))
	copy(data, chunk)

	select {
	case q.ch <- data:
		return true
	default:
		n := q.dropped.Add(1)
		q.log.Warn().
			Int("bytes", len(chunk)).
			Uint64("dropped", n).
			Msg("forward queue full, chunk dropped")
		return false
	}
}

// C is the consumer side.
func (q *ForwardQueue) C() <-chan []byte {
	return q.ch
}

// Dropped returns how many chunks were discarded so far.
func (q *ForwardQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of chunks waiting.
func (q *ForwardQueue) Len() int {
	return len(q.ch)
}
