package app

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"serterm/pkg/linedisc"
)

// Tee copies raw received chunks from a ForwardQueue to a writer. It runs on
// its own goroutine so a slow writer only costs dropped chunks, never loop
// time.
type Tee struct {
	queue   *linedisc.ForwardQueue
	w       io.Writer
	log     zerolog.Logger
	written atomic.Uint64
	failed  atomic.Bool
}

// NewTee creates a consumer of q writing to w.
func NewTee(q *linedisc.ForwardQueue, w io.Writer, logger zerolog.Logger) *Tee {
	return &Tee{queue: q, w: w, log: logger}
}

// Run consumes chunks until ctx is done, then drains what is already queued.
func (t *Tee) Run(ctx context.Context) {
	for {
		select {
		case chunk := <-t.queue.C():
			t.write(chunk)
		case <-ctx.Done():
			for {
				select {
				case chunk := <-t.queue.C():
					t.write(chunk)
				default:
					return
				}
			}
		}
	}
}

func (t *Tee) write(chunk []byte) {
	if t.failed.Load() {
		return
	}
	n, err := t.w.Write(chunk)
	t.written.Add(uint64(n))
	if err != nil {
		t.failed.Store(true)
		t.log.Error().Err(err).Msg("tee write failed, tee stopped")
	}
}

// Written returns the number of bytes copied so far.
func (t *Tee) Written() uint64 {
	return t.written.Load()
}
