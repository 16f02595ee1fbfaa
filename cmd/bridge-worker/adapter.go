package main

// Adapter is the pluggable surface a bridge worker drives once it has
// attached to the parent's shared memory. It deliberately knows
// nothing about any real plugin format: the worker's job is to speak
// the bridge wire protocol correctly, not to host formats, so the only
// adapter shipped here is an in-memory stand-in exercised by the
// protocol plumbing itself.
type Adapter interface {
	// PortCounts reports the fixed audio/CV layout this adapter uses to
	// size the shared audio pool. A real plugin-format adapter would
	// derive these from the loaded file; this one is constant.
	PortCounts() (audioIn, audioOut, cvIn, cvOut int)

	Parameters() []AdapterParameter
	Programs() []string
	MidiPrograms() []AdapterMidiProgram
	Latency() int

	// Process computes audioOut/cvOut from audioIn/cvIn for frames
	// samples. It runs on the worker's single processing loop and must
	// not block.
	Process(audioIn, audioOut, cvIn, cvOut [][]float32, frames int)

	SetParameterValue(idx int, value float32)
	SetProgram(idx int)
	SetMidiProgram(idx int)
	SetCustomData(kind, key, value string)
	SetChunkData(data []byte)

	// SendNote delivers one outer-host-triggered note on/off (velocity 0
	// means note-off), drained from the worker's external-note mailbox at
	// the top of a cycle rather than called directly off the wire.
	SendNote(channel, note, velocity uint8)
}

// AdapterParameter is one entry of an adapter's fixed parameter table.
type AdapterParameter struct {
	Name        string
	Unit        string
	Def, Min, Max float32
}

// AdapterMidiProgram is one entry of an adapter's MIDI program table.
type AdapterMidiProgram struct {
	Bank, Program int
	Name          string
}

// passthroughAdapter is the worker's only shipped adapter: a fixed
// stereo in/out chain with a single gain parameter, used to exercise
// the bridge protocol end to end without any plugin-format loading.
type passthroughAdapter struct {
	gain float32
}

func newPassthroughAdapter() *passthroughAdapter {
	return &passthroughAdapter{gain: 1.0}
}

func (a *passthroughAdapter) PortCounts() (audioIn, audioOut, cvIn, cvOut int) {
	return 2, 2, 0, 0
}

func (a *passthroughAdapter) Parameters() []AdapterParameter {
	return []AdapterParameter{
		{Name: "Gain", Unit: "", Def: 1.0, Min: 0.0, Max: 2.0},
	}
}

func (a *passthroughAdapter) Programs() []string { return nil }

func (a *passthroughAdapter) MidiPrograms() []AdapterMidiProgram { return nil }

func (a *passthroughAdapter) Latency() int { return 0 }

func (a *passthroughAdapter) Process(audioIn, audioOut, cvIn, cvOut [][]float32, frames int) {
	for ch := range audioOut {
		var in []float32
		if ch < len(audioIn) {
			in = audioIn[ch]
		}
		out := audioOut[ch]
		for i := 0; i < frames && i < len(out); i++ {
			if i < len(in) {
				out[i] = in[i] * a.gain
			} else {
				out[i] = 0
			}
		}
	}
}

func (a *passthroughAdapter) SetParameterValue(idx int, value float32) {
	if idx == 0 {
		a.gain = value
	}
}

func (a *passthroughAdapter) SetProgram(idx int)     {}
func (a *passthroughAdapter) SetMidiProgram(idx int) {}
func (a *passthroughAdapter) SetCustomData(kind, key, value string) {}
func (a *passthroughAdapter) SetChunkData(data []byte) {}

// SendNote is a no-op: the passthrough adapter models no MIDI-addressable
// voices, only a constant stereo gain stage.
func (a *passthroughAdapter) SendNote(channel, note, velocity uint8) {}
