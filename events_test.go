package carlahost

import "testing"

func TestEventBufferAppendAndDrop(t *testing.T) {
	b := NewEventBuffer(2)
	if !b.Append(EngineEvent{Time: 1}) {
		t.Fatalf("expected first append to succeed")
	}
	if !b.Append(EngineEvent{Time: 2}) {
		t.Fatalf("expected second append to succeed")
	}
	if b.Append(EngineEvent{Time: 3}) {
		t.Fatalf("expected third append to be dropped at capacity")
	}
	if b.Len() != 2 {
		t.Fatalf("expected length 2, got %d", b.Len())
	}
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("expected length 0 after Clear, got %d", b.Len())
	}
	if cap(b.events) != 2 {
		t.Fatalf("expected Clear to preserve capacity, got %d", cap(b.events))
	}
}

func TestEventBusResetCycle(t *testing.T) {
	bus := NewEventBus(8)
	bus.In().Append(EngineEvent{Time: 1})
	bus.Out().Append(EngineEvent{Time: 2})
	bus.ResetCycle()
	if bus.In().Len() != 0 || bus.Out().Len() != 0 {
		t.Fatalf("expected both buffers empty after ResetCycle")
	}
}

func TestEventBusPostRtSpliceDrain(t *testing.T) {
	bus := NewEventBus(8)
	bus.PostRT(PostRtEvent{Type: PostRtNoteOn, Value1: 60})
	bus.PostRT(PostRtEvent{Type: PostRtNoteOff, Value1: 60})

	// Not visible until spliced.
	if drained := bus.DrainReady(); len(drained) != 0 {
		t.Fatalf("expected nothing ready before SpliceIdle, got %d", len(drained))
	}

	bus.SpliceIdle()
	drained := bus.DrainReady()
	if len(drained) != 2 {
		t.Fatalf("expected 2 events after splice+drain, got %d", len(drained))
	}
	if drained[0].Type != PostRtNoteOn || drained[1].Type != PostRtNoteOff {
		t.Fatalf("expected append order preserved, got %+v", drained)
	}

	if drained := bus.DrainReady(); len(drained) != 0 {
		t.Fatalf("expected drain to empty the ready queue")
	}
}

func TestEventBusDrainReadyBatch(t *testing.T) {
	bus := NewEventBus(8)
	for i := 0; i < 5; i++ {
		bus.PostRT(PostRtEvent{Type: PostRtParameterChange, Value1: int32(i)})
	}
	bus.SpliceIdle()

	first := bus.DrainReadyBatch(2)
	if len(first) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(first))
	}
	second := bus.DrainReadyBatch(10)
	if len(second) != 3 {
		t.Fatalf("expected remaining 3 events, got %d", len(second))
	}
	if second[0].Value1 != 2 {
		t.Fatalf("expected remaining batch to continue in order, got Value1=%d", second[0].Value1)
	}
}

func TestEventToMIDIParameterControlChange(t *testing.T) {
	e := EngineEvent{Channel: 3, Type: EngineEventControl, ControlSubtype: ControlParameter, Param: 7, Value: 1.0}
	data := EventToMIDI(e)
	if len(data) != 3 {
		t.Fatalf("expected a 3-byte control change, got %d bytes", len(data))
	}
	if data[0]&0xf0 != 0xb0 {
		t.Fatalf("expected control change status nibble 0xb0, got %#x", data[0])
	}
	if data[1] != 7 {
		t.Fatalf("expected CC number 7, got %d", data[1])
	}
	if data[2] != 127 {
		t.Fatalf("expected value 1.0 to scale to 127, got %d", data[2])
	}
}

func TestEventToMIDINonControlReturnsNil(t *testing.T) {
	e := EngineEvent{Type: EngineEventMIDI}
	if data := EventToMIDI(e); data != nil {
		t.Fatalf("expected nil for a non-control event, got %v", data)
	}
}

func TestEmitMIDIRejectsOversizedAndEmpty(t *testing.T) {
	bus := NewEventBus(8)
	if bus.EmitMIDI(0, 0, nil) {
		t.Fatalf("expected empty MIDI data to be rejected")
	}
	if bus.EmitMIDI(0, 0, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("expected 5-byte MIDI data to be rejected")
	}
	if bus.Out().Len() != 0 {
		t.Fatalf("expected no events appended for rejected MIDI data")
	}
}

func TestEmitMIDINoteOnZeroVelocityBecomesNoteOff(t *testing.T) {
	bus := NewEventBus(8)
	if !bus.EmitMIDI(0, 0, []byte{0x90, 60, 0}) {
		t.Fatalf("expected EmitMIDI to accept a 3-byte note-on")
	}
	events := bus.Out().Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 emitted event, got %d", len(events))
	}
	got := events[0].Data
	if got[0] != 0x80 {
		t.Fatalf("expected status byte rewritten to note-off (0x80), got %#x", got[0])
	}
}

func TestEmitMIDINoteOnNonZeroVelocityUnchanged(t *testing.T) {
	bus := NewEventBus(8)
	bus.EmitMIDI(0, 0, []byte{0x91, 60, 100})
	got := bus.Out().Events()[0].Data
	if got[0] != 0x91 {
		t.Fatalf("expected note-on with velocity left intact, got status %#x", got[0])
	}
}
