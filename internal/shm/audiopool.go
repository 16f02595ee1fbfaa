package shm

import (
	"fmt"
	"unsafe"
)

// AudioPool is the contiguous float region a bridged plugin's audio and
// CV ports are read from and written to each cycle. Layout
// is [inPorts*bufferSize][outPorts*bufferSize] floats, where inPorts =
// audioIn+cvIn and outPorts = audioOut+cvOut; the engine writes the
// leading inPorts*bufferSize floats and reads the trailing
// outPorts*bufferSize floats after the worker signals completion.
type AudioPool struct {
	region *Region

	audioIn, audioOut int
	cvIn, cvOut       int
	bufferSize        int
}

// NewAudioPool creates the pool sized for the given port counts and
// buffer size, with a minimum of one float in total.
func NewAudioPool(suffix string, audioIn, audioOut, cvIn, cvOut, bufferSize int) (*AudioPool, error) {
	p := &AudioPool{audioIn: audioIn, audioOut: audioOut, cvIn: cvIn, cvOut: cvOut, bufferSize: bufferSize}
	region, err := Create(RoleAudioPool, suffix, p.byteSize())
	if err != nil {
		return nil, err
	}
	p.region = region
	return p, nil
}

// OpenAudioPool attaches to a pool the parent process already created,
// for use from the bridge worker side, which knows its own adapter's
// port counts and the buffer size negotiated during the init protocol.
func OpenAudioPool(suffix string, audioIn, audioOut, cvIn, cvOut, bufferSize int) (*AudioPool, error) {
	p := &AudioPool{audioIn: audioIn, audioOut: audioOut, cvIn: cvIn, cvOut: cvOut, bufferSize: bufferSize}
	region, err := Open(RoleAudioPool, suffix, p.byteSize())
	if err != nil {
		return nil, err
	}
	p.region = region
	return p, nil
}

func (p *AudioPool) totalFloats() int {
	in := (p.audioIn + p.cvIn) * p.bufferSize
	out := (p.audioOut + p.cvOut) * p.bufferSize
	total := in + out
	if total < 1 {
		total = 1
	}
	return total
}

func (p *AudioPool) byteSize() int {
	return p.totalFloats() * 4
}

func (p *AudioPool) floats() []float32 {
	b := p.region.Bytes()
	n := len(b) / 4
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}

// WriteInputs copies the current cycle's audio+CV input frames into the
// leading slots of the pool. frames must be audioIn+cvIn slices of
// length bufferSize, audio channels first.
func (p *AudioPool) WriteInputs(audioIn [][]float32, cvIn [][]float32) error {
	want := p.audioIn + p.cvIn
	if len(audioIn) != p.audioIn || len(cvIn) != p.cvIn {
		return fmt.Errorf("shm: audiopool input port count mismatch: got audio=%d cv=%d want audio=%d cv=%d",
			len(audioIn), len(cvIn), p.audioIn, p.cvIn)
	}
	flat := p.floats()
	off := 0
	for i := 0; i < want; i++ {
		var src []float32
		if i < p.audioIn {
			src = audioIn[i]
		} else {
			src = cvIn[i-p.audioIn]
		}
		copy(flat[off:off+p.bufferSize], src)
		off += p.bufferSize
	}
	return nil
}

// ReadOutputs copies the trailing output slots of the pool into the
// caller-provided destination slices after a completed cycle.
func (p *AudioPool) ReadOutputs(audioOut [][]float32, cvOut [][]float32) error {
	if len(audioOut) != p.audioOut || len(cvOut) != p.cvOut {
		return fmt.Errorf("shm: audiopool output port count mismatch: got audio=%d cv=%d want audio=%d cv=%d",
			len(audioOut), len(cvOut), p.audioOut, p.cvOut)
	}
	flat := p.floats()
	off := (p.audioIn + p.cvIn) * p.bufferSize
	want := p.audioOut + p.cvOut
	for i := 0; i < want; i++ {
		var dst []float32
		if i < p.audioOut {
			dst = audioOut[i]
		} else {
			dst = cvOut[i-p.audioOut]
		}
		copy(dst, flat[off:off+p.bufferSize])
		off += p.bufferSize
	}
	return nil
}

// ReadInputs is the worker-side counterpart of WriteInputs: it copies
// the leading input slots the engine wrote this cycle into the
// caller-provided destination slices.
func (p *AudioPool) ReadInputs(audioIn [][]float32, cvIn [][]float32) error {
	if len(audioIn) != p.audioIn || len(cvIn) != p.cvIn {
		return fmt.Errorf("shm: audiopool input port count mismatch: got audio=%d cv=%d want audio=%d cv=%d",
			len(audioIn), len(cvIn), p.audioIn, p.cvIn)
	}
	flat := p.floats()
	off := 0
	want := p.audioIn + p.cvIn
	for i := 0; i < want; i++ {
		var dst []float32
		if i < p.audioIn {
			dst = audioIn[i]
		} else {
			dst = cvIn[i-p.audioIn]
		}
		copy(dst, flat[off:off+p.bufferSize])
		off += p.bufferSize
	}
	return nil
}

// WriteOutputs is the worker-side counterpart of ReadOutputs: it
// copies the adapter's computed output frames into the trailing
// output slots before the worker posts the client semaphore.
func (p *AudioPool) WriteOutputs(audioOut [][]float32, cvOut [][]float32) error {
	if len(audioOut) != p.audioOut || len(cvOut) != p.cvOut {
		return fmt.Errorf("shm: audiopool output port count mismatch: got audio=%d cv=%d want audio=%d cv=%d",
			len(audioOut), len(cvOut), p.audioOut, p.cvOut)
	}
	flat := p.floats()
	off := (p.audioIn + p.cvIn) * p.bufferSize
	want := p.audioOut + p.cvOut
	for i := 0; i < want; i++ {
		var src []float32
		if i < p.audioOut {
			src = audioOut[i]
		} else {
			src = cvOut[i-p.audioOut]
		}
		copy(flat[off:off+p.bufferSize], src)
		off += p.bufferSize
	}
	return nil
}

// Zero clears the entire pool, used to silence a bridged plugin's
// outputs after a crash or timeout.
func (p *AudioPool) Zero() {
	flat := p.floats()
	for i := range flat {
		flat[i] = 0
	}
}

// Resize reallocates the pool for a new buffer size or port topology.
// Callers must ensure no engine<->worker wait straddles this call: the engine posts SetBufferSize, waits for
// acknowledgement, and only then calls Resize before the next cycle.
func (p *AudioPool) Resize(audioIn, audioOut, cvIn, cvOut, bufferSize int) error {
	p.audioIn, p.audioOut, p.cvIn, p.cvOut, p.bufferSize = audioIn, audioOut, cvIn, cvOut, bufferSize
	return p.region.Resize(p.byteSize())
}

func (p *AudioPool) Close() error { return p.region.Close() }

// Unmap releases the pool's mapping without removing the backing file,
// for the worker side which attached to a pool it doesn't own.
func (p *AudioPool) Unmap() error { return p.region.Unmap() }

