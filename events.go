package carlahost

import (
	"sync"

	"gitlab.com/gomidi/midi/v2"
)

// EngineEventType distinguishes the two non-null event payloads of an
// EngineEvent.
type EngineEventType int

const (
	EngineEventNull EngineEventType = iota
	EngineEventControl
	EngineEventMIDI
)

// ControlSubtype enumerates the built-in control event addresses.
type ControlSubtype int

const (
	ControlNull ControlSubtype = iota
	ControlParameter
	ControlMidiBank
	ControlMidiProgram
	ControlAllSoundOff
	ControlAllNotesOff
)

// EngineEvent is the tagged record the engine moves between the outer
// host, the per-cycle queues, and each PluginHandle's event input phase.
type EngineEvent struct {
	Time    uint32
	Channel uint8 // 0..15
	Type    EngineEventType

	// Control payload, valid when Type == EngineEventControl.
	ControlSubtype ControlSubtype
	Param          uint16
	Value          float32 // [0,1]

	// MIDI payload, valid when Type == EngineEventMIDI.
	Port uint8
	Data []byte // 1..n bytes
}

// kMaxEngineEventInternalCount bounds each cycle's fixed-size event
// array; events beyond this are dropped from the tail.
const kMaxEngineEventInternalCount = 512

// EventBuffer is a fixed-capacity, timestamp-ordered array of engine
// events for one audio cycle, held as a plain slice since a single
// cycle's worth of events never needs the ring semantics a cross-cycle
// queue would.
type EventBuffer struct {
	events []EngineEvent
}

// NewEventBuffer creates a buffer with the given maximum capacity.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 || capacity > kMaxEngineEventInternalCount {
		capacity = kMaxEngineEventInternalCount
	}
	return &EventBuffer{events: make([]EngineEvent, 0, capacity)}
}

// Append adds an event after those already held (append order, not
// sorted by timestamp), dropping it silently if the buffer is full
// (tail-drop).
func (b *EventBuffer) Append(e EngineEvent) bool {
	if len(b.events) >= cap(b.events) {
		return false
	}
	b.events = append(b.events, e)
	return true
}

// Clear empties the buffer for reuse across cycles without reallocating.
func (b *EventBuffer) Clear() { b.events = b.events[:0] }

// Events returns the buffer's events in append order.
func (b *EventBuffer) Events() []EngineEvent { return b.events }

// Len reports how many events the buffer currently holds.
func (b *EventBuffer) Len() int { return len(b.events) }

// EventBus owns a plugin or graph node's per-cycle input and output
// event buffers plus the lock-free-ish post-RT notification queue.
type EventBus struct {
	in, out *EventBuffer

	postMu  sync.Mutex // locked by the RT append path and by idle's splice
	pending []PostRtEvent
	mainMu  sync.Mutex // try-locked by idle's splice
	ready   []PostRtEvent
}

// NewEventBus creates a bus with input/output buffers sized to maxEvents
// (typical 512).
func NewEventBus(maxEvents int) *EventBus {
	return &EventBus{
		in:  NewEventBuffer(maxEvents),
		out: NewEventBuffer(maxEvents),
	}
}

// In returns the cycle's input event buffer.
func (b *EventBus) In() *EventBuffer { return b.in }

// Out returns the cycle's output event buffer.
func (b *EventBus) Out() *EventBuffer { return b.out }

// ResetCycle clears both buffers at the start of a new audio cycle.
func (b *EventBus) ResetCycle() {
	b.in.Clear()
	b.out.Clear()
}

// PostRtEventType tags a post-RT notification's shape.
type PostRtEventType int

const (
	PostRtNull PostRtEventType = iota
	PostRtParameterChange
	PostRtProgramChange
	PostRtMidiProgramChange
	PostRtNoteOn
	PostRtNoteOff
	PostRtUiClosed
	PostRtError
)

// PostRtEvent is posted by the RT thread and spliced into a main-thread
// queue during idle.
type PostRtEvent struct {
	Type              PostRtEventType
	Value1            int32
	Value2            int32
	Value3            int32
	ValueF            float32
	SendCallbackLater bool
	Message           string // used by PostRtError
}

// PostRT appends an event from the RT thread. It takes the pending-list
// mutex with a blocking Lock, so on contention it waits and still
// enqueues rather than dropping; the try-lock is used only on the splice
// side.
func (b *EventBus) PostRT(e PostRtEvent) {
	b.postMu.Lock()
	b.pending = append(b.pending, e)
	b.postMu.Unlock()
}

// SpliceIdle moves pending RT-posted events into the main-thread-visible
// queue. It try-locks the main-thread queue and, if that fails (a drain
// is in progress), defers the splice to the next tick; the pending list
// itself is taken with a blocking Lock, held only for the swap.
func (b *EventBus) SpliceIdle() {
	if !b.mainMu.TryLock() {
		return
	}
	defer b.mainMu.Unlock()

	b.postMu.Lock()
	moved := b.pending
	b.pending = nil
	b.postMu.Unlock()

	b.ready = append(b.ready, moved...)
}

// DrainReady removes and returns all main-thread-visible events
// accumulated since the last drain, in append order.
func (b *EventBus) DrainReady() []PostRtEvent {
	b.mainMu.Lock()
	defer b.mainMu.Unlock()
	drained := b.ready
	b.ready = nil
	return drained
}

// DrainReadyBatch removes and returns up to max main-thread-visible
// events, leaving any remainder queued for the next tick's batch.
func (b *EventBus) DrainReadyBatch(max int) []PostRtEvent {
	b.mainMu.Lock()
	defer b.mainMu.Unlock()
	if max <= 0 || max >= len(b.ready) {
		drained := b.ready
		b.ready = nil
		return drained
	}
	drained := b.ready[:max]
	remaining := make([]PostRtEvent, len(b.ready)-max)
	copy(remaining, b.ready[max:])
	b.ready = remaining
	return drained
}

// EventToMIDI converts an EngineEvent's control payload into the raw
// MIDI triplet, using gitlab.com/gomidi/midi/v2's message builders
// rather than hand-packed status bytes. Returns nil for non-control
// events or subtypes with no MIDI representation.
func EventToMIDI(e EngineEvent) []byte {
	if e.Type != EngineEventControl {
		return nil
	}
	ch := uint8(e.Channel & 0x0f)
	switch e.ControlSubtype {
	case ControlParameter:
		cc := midi.ControlChange(ch, uint8(e.Param), uint8(clampRound(e.Value*127)))
		return []byte(cc)
	case ControlMidiBank:
		msb := midi.ControlChange(ch, 0x00, 0)
		lsb := midi.ControlChange(ch, 0x20, uint8(e.Param))
		out := make([]byte, 0, len(msb)+len(lsb))
		out = append(out, msb...)
		out = append(out, lsb...)
		return out
	case ControlMidiProgram:
		pc := midi.ProgramChange(ch, uint8(e.Param))
		return []byte(pc)
	default:
		return nil
	}
}

func clampRound(v float32) int {
	if v < 0 {
		v = 0
	}
	if v > 127 {
		v = 127
	}
	return int(v + 0.5)
}

// EmitMIDI appends a raw MIDI event to the bus's output buffer, dropping
// it if it is empty or its size exceeds 4 bytes; a NoteOn with velocity
// 0 is rewritten to NoteOff before emission.
func (b *EventBus) EmitMIDI(time uint32, port uint8, data []byte) bool {
	if len(data) == 0 || len(data) > 4 {
		return false
	}
	fixed := normalizeNoteOnZeroVelocity(data)
	return b.out.Append(EngineEvent{
		Time: time,
		Type: EngineEventMIDI,
		Port: port,
		Data: fixed,
	})
}

// normalizeNoteOnZeroVelocity enforces "status = NoteOn with velocity 0
// => NoteOff".
func normalizeNoteOnZeroVelocity(data []byte) []byte {
	if len(data) < 3 {
		return data
	}
	status := data[0]
	if status&0xf0 == 0x90 && data[2] == 0 {
		out := make([]byte, len(data))
		copy(out, data)
		out[0] = 0x80 | (status & 0x0f)
		return out
	}
	return data
}
