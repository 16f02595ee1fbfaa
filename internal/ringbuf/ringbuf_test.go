package ringbuf

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	r := New(make([]byte, 256))

	r.WriteOpcode(42)
	r.WriteFloat(3.5)
	r.WriteBool(true)
	r.CommitWrite()

	if !r.IsDataAvailableForReading() {
		t.Fatal("expected data available after commit")
	}

	op, ok := r.ReadOpcode()
	if !ok || op != 42 {
		t.Fatalf("opcode = %v, %v", op, ok)
	}
	f, err := r.ReadFloat()
	if err != nil || f != 3.5 {
		t.Fatalf("float = %v, %v", f, err)
	}
	b, err := r.ReadBool()
	if err != nil || !b {
		t.Fatalf("bool = %v, %v", b, err)
	}
	if r.IsDataAvailableForReading() {
		t.Fatal("expected no data after draining frame")
	}
}

// TestUncommittedWriteInvisible verifies that a reader never observes a
// write that hasn't been committed, i.e. partial frames stay hidden
//.
func TestUncommittedWriteInvisible(t *testing.T) {
	r := New(make([]byte, 256))

	r.WriteOpcode(1)
	r.WriteUInt(100)
	// no CommitWrite

	if r.IsDataAvailableForReading() {
		t.Fatal("uncommitted write must not be visible to the reader")
	}
}

func TestRollbackDiscardsPartialFrame(t *testing.T) {
	r := New(make([]byte, 256))

	r.WriteOpcode(7)
	r.CommitWrite()

	r.WriteOpcode(8) // not committed
	r.RollbackWrite()

	op, ok := r.ReadOpcode()
	if !ok || op != 7 {
		t.Fatalf("expected only the committed opcode 7, got %v %v", op, ok)
	}
	if r.IsDataAvailableForReading() {
		t.Fatal("rolled-back frame must not surface")
	}
}

func TestOverflowDropsEntireFrame(t *testing.T) {
	r := New(make([]byte, 16))

	ok1 := r.WriteOpcode(1)
	ok2 := r.WriteCustomData(make([]byte, 64)) // too big, should fail
	if !ok1 {
		t.Fatal("first write should fit")
	}
	if ok2 {
		t.Fatal("oversized custom data must report overflow")
	}
	if r.LostCount() == 0 {
		t.Fatal("expected a recorded loss event")
	}
	r.RollbackWrite()

	if r.IsDataAvailableForReading() {
		t.Fatal("nothing should have been committed")
	}
}

func TestCustomDataRoundTrip(t *testing.T) {
	r := New(make([]byte, 256))
	payload := []byte("hello plugin state")

	r.WriteOpcode(9)
	r.WriteCustomData(payload)
	r.CommitWrite()

	if _, ok := r.ReadOpcode(); !ok {
		t.Fatal("expected opcode")
	}
	got, err := r.ReadCustomData()
	if err != nil {
		t.Fatalf("ReadCustomData: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestWrapsAroundCapacity(t *testing.T) {
	r := New(make([]byte, 32))

	for i := 0; i < 50; i++ {
		r.WriteOpcode(uint32(i))
		r.CommitWrite()
		got, ok := r.ReadOpcode()
		if !ok || got != uint32(i) {
			t.Fatalf("iteration %d: got %v %v", i, got, ok)
		}
	}
}
