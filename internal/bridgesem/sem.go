// Package bridgesem implements the two semaphores the bridge transport
// uses to rendezvous with its worker child across a shared-memory
// region. Real POSIX named semaphores and an emulated one are both
// valid; this package emulates one with an atomic counter living
// inside the shared region and a bounded exponential backoff spin,
// since waking a real sem_t from Go without cgo isn't available to
// this module's dependency set.
package bridgesem

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"
)

// Size is the number of bytes a Semaphore occupies in shared memory.
const Size = 8

// Semaphore is a counting semaphore living at a fixed offset inside a
// shared-memory region, usable from two unrelated processes as long as
// both map the same bytes.
type Semaphore struct {
	counter *uint64
}

// At binds a Semaphore to the 8 bytes starting at buf[0]. buf must be at
// least Size bytes and must outlive the Semaphore (it is typically a
// slice into a shm.Region's mapping).
func At(buf []byte) *Semaphore {
	if len(buf) < Size {
		panic("bridgesem: buffer too small")
	}
	return &Semaphore{counter: (*uint64)(unsafe.Pointer(&buf[0]))}
}

func (s *Semaphore) load() uint64 { return atomic.LoadUint64(s.counter) }

// Post increments the semaphore, waking one waiter.
func (s *Semaphore) Post() {
	atomic.AddUint64(s.counter, 1)
}

// TryWait consumes one count if available without blocking.
func (s *Semaphore) TryWait() bool {
	for {
		v := s.load()
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(s.counter, v, v-1) {
			return true
		}
	}
}

// minBackoff/maxBackoff bound the spin-wait's sleep so Wait stays
// allocation-free and bounded-latency without busy-spinning a full core
// for the entire timeout.
const (
	minBackoff = 2 * time.Microsecond
	maxBackoff = 200 * time.Microsecond
)

// Wait blocks until the semaphore is posted or timeout elapses,
// returning false on timeout. A timeout <= 0 waits indefinitely, which
// the audio thread is only permitted to do when the outer host has
// reported offline mode.
func (s *Semaphore) Wait(timeout time.Duration) bool {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	backoff := minBackoff
	for {
		if s.TryWait() {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// WaitContext is Wait but cancellable via ctx, for non-RT callers that
// want to honor shutdown without a fixed timeout.
func (s *Semaphore) WaitContext(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	backoff := minBackoff
	for {
		if s.TryWait() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// Pair bundles the server->client and client->server semaphores the
// bridge transport embeds at the head of the RT-client shared-memory
// region.
type Pair struct {
	Server *Semaphore // posted by the engine, waited on by the worker
	Client *Semaphore // posted by the worker, waited on by the engine
}

// PairAt binds a Pair to the first 2*Size bytes of buf.
func PairAt(buf []byte) Pair {
	if len(buf) < 2*Size {
		panic("bridgesem: buffer too small for pair")
	}
	return Pair{
		Server: At(buf[0:Size]),
		Client: At(buf[Size : 2*Size]),
	}
}
