package carlahost

import "testing"

// stubAdapter is a minimal FormatAdapter used by engine/dispatcher
// tests: one stereo in/out plugin with a single float parameter, no
// programs.
type stubAdapter struct {
	params []Parameter
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{
		params: []Parameter{
			{Kind: ParamInput, Ranges: ParameterRanges{Def: 1, Min: 0, Max: 2}},
		},
	}
}

func (a *stubAdapter) PortCounts() (audioIn, audioOut, cvIn, cvOut, eventIn, eventOut int) {
	return 2, 2, 0, 0, 1, 1
}
func (a *stubAdapter) ParameterTable() []Parameter      { return a.params }
func (a *stubAdapter) Programs() []ProgramEntry         { return nil }
func (a *stubAdapter) MidiPrograms() []MidiProgramEntry { return nil }
func (a *stubAdapter) LatencyFrames() int               { return 0 }
func (a *stubAdapter) RunProcess(audioIn, audioOut, cvIn, cvOut [][]float32, frames int) {
	for ch := range audioOut {
		for i := 0; i < frames && i < len(audioOut[ch]); i++ {
			if ch < len(audioIn) && i < len(audioIn[ch]) {
				audioOut[ch][i] = audioIn[ch][i]
			}
		}
	}
}
func (a *stubAdapter) ApplyParameter(idx int, value float32) {}
func (a *stubAdapter) SelectProgram(idx int)                 {}
func (a *stubAdapter) SelectMidiProgram(idx int)              {}
func (a *stubAdapter) ApplyCustomData(entry CustomDataEntry)  {}
func (a *stubAdapter) ApplyChunkData(data []byte)             {}
func (a *stubAdapter) ShowUI(show bool)                       {}
func (a *stubAdapter) SendNote(channel, note, velocity uint8) {}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{BufferSize: 256, SampleRate: 48000})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngineCreation(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	if e.BufferSize() != 256 {
		t.Fatalf("expected buffer size 256, got %d", e.BufferSize())
	}
	if e.SampleRate() != 48000 {
		t.Fatalf("expected sample rate 48000, got %v", e.SampleRate())
	}
	if e.Lifecycle() != LifecycleInitialized {
		t.Fatalf("expected LifecycleInitialized, got %v", e.Lifecycle())
	}
}

func TestEngineActivateDeactivate(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	if err := e.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !e.IsActive() {
		t.Fatalf("expected engine active after Activate")
	}
	if err := e.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if e.IsActive() {
		t.Fatalf("expected engine inactive after Deactivate")
	}
}

func TestEngineBufferSizeValidation(t *testing.T) {
	if _, err := NewEngine(EngineConfig{BufferSize: 4}); err == nil {
		t.Fatalf("expected error for out-of-range buffer size")
	}
	if _, err := NewEngine(EngineConfig{SampleRate: 1}); err == nil {
		t.Fatalf("expected error for out-of-range sample rate")
	}
}

func TestEngineAddRemovePlugin(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	plugin, err := NewInProcessPlugin(0, Identity{Name: "stub"}, newStubAdapter())
	if err != nil {
		t.Fatalf("NewInProcessPlugin: %v", err)
	}
	if err := e.Dispatcher().AddPlugin(plugin); err != nil {
		t.Fatalf("AddPlugin: %v", err)
	}
	if e.PluginCount() != 1 {
		t.Fatalf("expected 1 plugin, got %d", e.PluginCount())
	}
	if err := e.Dispatcher().RemovePlugin(plugin.ID()); err != nil {
		t.Fatalf("RemovePlugin: %v", err)
	}
	if e.PluginCount() != 0 {
		t.Fatalf("expected 0 plugins after removal, got %d", e.PluginCount())
	}
}
