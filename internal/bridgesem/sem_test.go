package bridgesem

import (
	"testing"
	"time"
)

func TestPostWait(t *testing.T) {
	buf := make([]byte, Size)
	s := At(buf)

	if s.TryWait() {
		t.Fatal("expected no pending count")
	}
	s.Post()
	if !s.Wait(time.Second) {
		t.Fatal("expected Wait to succeed after Post")
	}
}

func TestWaitTimesOut(t *testing.T) {
	buf := make([]byte, Size)
	s := At(buf)

	start := time.Now()
	if s.Wait(20 * time.Millisecond) {
		t.Fatal("expected timeout")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("returned suspiciously early")
	}
}

func TestCrossGoroutineRendezvous(t *testing.T) {
	buf := make([]byte, 2*Size)
	pair := PairAt(buf)

	done := make(chan struct{})
	go func() {
		if !pair.Server.Wait(time.Second) {
			t.Error("worker-side wait failed")
		}
		pair.Client.Post()
		close(done)
	}()

	pair.Server.Post()
	if !pair.Client.Wait(time.Second) {
		t.Fatal("engine-side wait failed")
	}
	<-done
}
