// Package ringbuf implements the single-producer/single-consumer byte
// queue that carries the plugin bridge opcode protocol across a shared
// memory region.
//
// Capacity is fixed at construction. A writer accumulates bytes with the
// typed Write* helpers and only makes them visible to the reader by
// calling CommitWrite, which publishes everything written since the
// last commit as one atomic unit (release semantics). A reader that
// observes new data with IsDataAvailableForReading is guaranteed to see
// either a whole committed frame or nothing — never a partial one.
package ringbuf

import (
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
)

// Size classes mirror the small/big/huge stack sizes the bridge
// transport picks per channel.
const (
	SizeSmall = 1024
	SizeBig   = 1024 * 1024
	SizeHuge  = 8 * 1024 * 1024
)

// ErrOverflow is returned by the typed Read* helpers when fewer bytes
// are committed than the read needs. The RT-safe Write* helpers report a
// full buffer by returning false instead; the caller drops the message
// and reports a loss event out-of-band, and never blocks.
var ErrOverflow = errors.New("ringbuf: overflow")

// RingBuffer is a fixed-capacity SPSC byte queue backed by a flat byte
// slice, typically a view into a shared-memory region (see
// internal/shm). The zero value is not usable; use New.
type RingBuffer struct {
	buf  []byte
	size uint32
	mask uint32 // size-1 when size is a power of two; 0 disables masking

	// wr/rd are free-running byte offsets into buf, wrapped modulo size.
	// pendingWr tracks the writer's uncommitted position; a commit
	// publishes it into wr with a Release store.
	wr        atomic.Uint32
	rd        atomic.Uint32
	pendingWr uint32

	// lost counts frames dropped by Write* due to overflow, for the
	// out-of-band loss-event signal for the caller to report.
	lost atomic.Uint64
}

// New creates a ring buffer over buf, which the caller owns (typically a
// slice of a shared-memory mapping). size must equal len(buf) and should
// be a power of two for efficient wraparound, though any positive size
// works.
func New(buf []byte) *RingBuffer {
	size := uint32(len(buf))
	r := &RingBuffer{buf: buf, size: size}
	if size != 0 && size&(size-1) == 0 {
		r.mask = size - 1
	}
	r.pendingWr = r.wr.Load()
	return r
}

func (r *RingBuffer) wrapIndex(off uint32) uint32 {
	if r.mask != 0 || (r.size != 0 && r.size&(r.size-1) == 0) {
		return off & r.mask
	}
	return off % r.size
}

// IsDataAvailableForReading reports whether a committed frame is
// waiting to be read.
func (r *RingBuffer) IsDataAvailableForReading() bool {
	return r.rd.Load() != r.wr.Load()
}

// available returns the number of committed-but-unread bytes.
func (r *RingBuffer) available() uint32 {
	return r.wr.Load() - r.rd.Load()
}

// space returns bytes free between the writer's pending cursor and the
// last acknowledged read position, leaving one byte unused so wr==rd
// unambiguously means empty.
func (r *RingBuffer) space() uint32 {
	used := r.pendingWr - r.rd.Load()
	return r.size - used - 1
}

func (r *RingBuffer) writeBytes(p []byte) bool {
	if uint32(len(p)) > r.space() {
		r.lost.Add(1)
		return false
	}
	for _, b := range p {
		r.buf[r.wrapIndex(r.pendingWr)] = b
		r.pendingWr++
	}
	return true
}

func (r *RingBuffer) readBytes(p []byte) bool {
	if uint32(len(p)) > r.available() {
		return false
	}
	rd := r.rd.Load()
	for i := range p {
		p[i] = r.buf[r.wrapIndex(rd)]
		rd++
	}
	r.rd.Store(rd)
	return true
}

// CommitWrite publishes every byte written since the previous commit as
// a single atomic frame. Half-written frames are never observable: if
// the caller abandons a partial frame without committing, RollbackWrite
// discards it.
func (r *RingBuffer) CommitWrite() {
	r.wr.Store(r.pendingWr)
}

// RollbackWrite discards any uncommitted writes, resetting the pending
// cursor back to the last committed position. Used when a write
// sequence fails partway through (e.g. WriteCustomData overflow) so the
// next commit doesn't publish a mixed frame.
func (r *RingBuffer) RollbackWrite() {
	r.pendingWr = r.wr.Load()
}

// LostCount returns the number of frames dropped by overflow since
// construction.
func (r *RingBuffer) LostCount() uint64 { return r.lost.Load() }

// --- typed writers -----------------------------------------------------

func (r *RingBuffer) WriteOpcode(op uint32) bool { return r.WriteUInt(op) }

func (r *RingBuffer) WriteByte(v byte) bool { return r.writeBytes([]byte{v}) }

func (r *RingBuffer) WriteBool(v bool) bool {
	if v {
		return r.WriteByte(1)
	}
	return r.WriteByte(0)
}

func (r *RingBuffer) WriteShort(v int16) bool { return r.WriteUShort(uint16(v)) }

func (r *RingBuffer) WriteUShort(v uint16) bool {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return r.writeBytes(b[:])
}

func (r *RingBuffer) WriteInt(v int32) bool { return r.WriteUInt(uint32(v)) }

func (r *RingBuffer) WriteUInt(v uint32) bool {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return r.writeBytes(b[:])
}

func (r *RingBuffer) WriteLong(v int64) bool { return r.WriteULong(uint64(v)) }

func (r *RingBuffer) WriteULong(v uint64) bool {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return r.writeBytes(b[:])
}

func (r *RingBuffer) WriteFloat(v float32) bool {
	return r.WriteUInt(math.Float32bits(v))
}

func (r *RingBuffer) WriteDouble(v float64) bool {
	return r.WriteULong(math.Float64bits(v))
}

// WriteCustomData writes a length-prefixed byte blob. If it would
// overflow, nothing is written (the length prefix is not emitted
// either), so the caller can RollbackWrite the whole frame.
func (r *RingBuffer) WriteCustomData(data []byte) bool {
	if uint32(len(data))+4 > r.space() {
		r.lost.Add(1)
		return false
	}
	r.WriteUInt(uint32(len(data)))
	return r.writeBytes(data)
}

// --- typed readers -------------------------------------------------------

func (r *RingBuffer) ReadOpcode() (uint32, bool) { return r.ReadUInt() }

func (r *RingBuffer) ReadByte() (byte, error) {
	var b [1]byte
	if !r.readBytes(b[:]) {
		return 0, ErrOverflow
	}
	return b[0], nil
}

func (r *RingBuffer) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *RingBuffer) ReadShort() (int16, error) {
	v, err := r.ReadUShort()
	return int16(v), err
}

func (r *RingBuffer) ReadUShort() (uint16, error) {
	var b [2]byte
	if !r.readBytes(b[:]) {
		return 0, ErrOverflow
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (r *RingBuffer) ReadInt() (int32, error) {
	v, ok := r.ReadUInt()
	if !ok {
		return 0, ErrOverflow
	}
	return int32(v), nil
}

func (r *RingBuffer) ReadUInt() (uint32, bool) {
	var b [4]byte
	if !r.readBytes(b[:]) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[:]), true
}

func (r *RingBuffer) ReadLong() (int64, error) {
	v, err := r.ReadULong()
	return int64(v), err
}

func (r *RingBuffer) ReadULong() (uint64, error) {
	var b [8]byte
	if !r.readBytes(b[:]) {
		return 0, ErrOverflow
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (r *RingBuffer) ReadFloat() (float32, error) {
	v, err := r.ReadUInt32Raw()
	return math.Float32frombits(v), err
}

func (r *RingBuffer) ReadUInt32Raw() (uint32, error) {
	v, ok := r.ReadUInt()
	if !ok {
		return 0, ErrOverflow
	}
	return v, nil
}

func (r *RingBuffer) ReadDouble() (float64, error) {
	v, err := r.ReadULong()
	return math.Float64frombits(v), err
}

// ReadCustomData reads a length-prefixed byte blob written by
// WriteCustomData.
func (r *RingBuffer) ReadCustomData() ([]byte, error) {
	n, ok := r.ReadUInt()
	if !ok {
		return nil, ErrOverflow
	}
	data := make([]byte, n)
	if !r.readBytes(data) {
		return nil, ErrOverflow
	}
	return data, nil
}
