package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/shaban/carlahost/internal/bridgesem"
	"github.com/shaban/carlahost/internal/ringbuf"
)

// newLoopbackTransport builds a Transport whose rings and semaphores
// live in plain byte slices, skipping shm.Create and worker spawn
// entirely so the rendezvous and timeout logic can be exercised without
// a real child process.
func newLoopbackTransport(t *testing.T) *Transport {
	t.Helper()
	semBuf := make([]byte, 2*bridgesem.Size)
	tr := &Transport{
		cfg:          Config{ProcessTimeout: 50 * time.Millisecond},
		rtClientRing: ringbuf.New(make([]byte, ringbuf.SizeSmall)),
		nonRTCRing:   ringbuf.New(make([]byte, ringbuf.SizeBig)),
		nonRTSRing:   ringbuf.New(make([]byte, ringbuf.SizeBig)),
		sem:          bridgesem.PairAt(semBuf),
	}
	tr.lastPongAt.Store(time.Now().UnixNano())
	return tr
}

func TestCommitAndProcessSucceedsWhenWorkerResponds(t *testing.T) {
	tr := newLoopbackTransport(t)

	go func() {
		tr.sem.Server.Wait(time.Second)
		tr.sem.Client.Post()
	}()

	if !tr.CommitAndProcess(false) {
		t.Fatal("expected CommitAndProcess to succeed")
	}
	if tr.IsTimedOut() {
		t.Fatal("expected timedOut to be cleared on success")
	}
}

func TestCommitAndProcessTimesOutAndIsSticky(t *testing.T) {
	tr := newLoopbackTransport(t)

	if tr.CommitAndProcess(false) {
		t.Fatal("expected CommitAndProcess to time out with no worker")
	}
	if !tr.IsTimedOut() {
		t.Fatal("expected timedOut flag set after a timeout")
	}

	// A later successful cycle must clear the sticky flag.
	go func() {
		tr.sem.Server.Wait(time.Second)
		tr.sem.Client.Post()
	}()
	if !tr.CommitAndProcess(false) {
		t.Fatal("expected the retried cycle to succeed")
	}
	if tr.IsTimedOut() {
		t.Fatal("expected timedOut to clear after a successful retry")
	}
}

func TestWaitForClientHonorsContextCancellation(t *testing.T) {
	tr := newLoopbackTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if tr.WaitForClient(ctx, time.Second) {
		t.Fatal("expected WaitForClient to report failure on a cancelled context")
	}
}

func TestIsDeadByTimeoutAndNotePong(t *testing.T) {
	tr := newLoopbackTransport(t)
	tr.lastPongAt.Store(time.Now().Add(-time.Hour).UnixNano())

	if !tr.IsDeadByTimeout(time.Second) {
		t.Fatal("expected the worker to be reported dead after a stale pong")
	}

	tr.NotePong()
	if tr.IsDeadByTimeout(time.Second) {
		t.Fatal("expected NotePong to reset the dead-worker clock")
	}
}

func TestCommitNonRTClientSerializesWrites(t *testing.T) {
	tr := newLoopbackTransport(t)

	tr.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(NonRTClientPing))
	})

	op, ok := tr.nonRTCRing.ReadOpcode()
	if !ok {
		t.Fatal("expected the committed opcode to be readable")
	}
	if Opcode(op) != NonRTClientPing {
		t.Fatalf("expected NonRTClientPing, got %v", op)
	}
}

func TestHasCrashedDefaultsFalse(t *testing.T) {
	tr := newLoopbackTransport(t)
	if tr.HasCrashed() {
		t.Fatal("expected a fresh transport to report no crash")
	}
}
