package carlahost

import (
	"errors"
	"testing"
)

func TestSerializerGetStateRoundTripsThroughJSON(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	plugin, err := NewInProcessPlugin(0, Identity{Name: "stub", UniqueID: 1}, newStubAdapter())
	if err != nil {
		t.Fatalf("NewInProcessPlugin: %v", err)
	}
	if err := e.Dispatcher().AddPlugin(plugin); err != nil {
		t.Fatalf("AddPlugin: %v", err)
	}
	if err := plugin.SetParameterValue(0, 0.5); err != nil {
		t.Fatalf("SetParameterValue: %v", err)
	}

	text, err := e.Serializer().SaveToString()
	if err != nil {
		t.Fatalf("SaveToString: %v", err)
	}

	factory := func(ps PluginState) (PluginHandle, error) {
		return NewInProcessPlugin(ps.ID, ps.Identity, newStubAdapter())
	}
	if err := e.Serializer().LoadFromString(text, factory); err != nil {
		t.Fatalf("LoadFromString: %v", err)
	}
	if e.PluginCount() != 1 {
		t.Fatalf("expected 1 plugin restored, got %d", e.PluginCount())
	}
	restored, ok := e.GetPlugin(0)
	if !ok {
		t.Fatalf("expected a restored plugin at index 0")
	}
	param, ok := restored.Parameter(0)
	if !ok {
		t.Fatalf("expected restored plugin to have parameter 0")
	}
	if param.Value != 0.5 {
		t.Fatalf("expected restored parameter value 0.5, got %v", param.Value)
	}
}

// multiParamAdapter is a FormatAdapter stub with several independently
// addressable parameters, used to catch a restore path that conflates a
// parameter's table index with its rindex (they coincide at index 0,
// which is why a single-parameter stub can't catch that bug).
type multiParamAdapter struct {
	params []Parameter
}

func newMultiParamAdapter(n int) *multiParamAdapter {
	params := make([]Parameter, n)
	for i := range params {
		params[i] = Parameter{Kind: ParamInput, RIndex: i, Ranges: ParameterRanges{Def: 0, Min: 0, Max: 10}}
	}
	return &multiParamAdapter{params: params}
}

func (a *multiParamAdapter) PortCounts() (audioIn, audioOut, cvIn, cvOut, eventIn, eventOut int) {
	return 2, 2, 0, 0, 1, 1
}
func (a *multiParamAdapter) ParameterTable() []Parameter      { return a.params }
func (a *multiParamAdapter) Programs() []ProgramEntry         { return nil }
func (a *multiParamAdapter) MidiPrograms() []MidiProgramEntry { return nil }
func (a *multiParamAdapter) LatencyFrames() int               { return 0 }
func (a *multiParamAdapter) RunProcess(audioIn, audioOut, cvIn, cvOut [][]float32, frames int) {}
func (a *multiParamAdapter) ApplyParameter(idx int, value float32)    {}
func (a *multiParamAdapter) SelectProgram(idx int)                    {}
func (a *multiParamAdapter) SelectMidiProgram(idx int)                {}
func (a *multiParamAdapter) ApplyCustomData(entry CustomDataEntry)    {}
func (a *multiParamAdapter) ApplyChunkData(data []byte)               {}
func (a *multiParamAdapter) ShowUI(show bool)                         {}
func (a *multiParamAdapter) SendNote(channel, note, velocity uint8)   {}

// TestSerializerRoundTripsEveryParameterByTableIndex covers spec scenario
// S6: two plugins, each with three parameters at non-default values and
// one custom-data entry; after a save/restore round trip, every
// parameter value and the custom data must match exactly, not just the
// one at index 0.
func TestSerializerRoundTripsEveryParameterByTableIndex(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	wantValues := [][]float32{{1, 2, 3}, {4, 5, 6}}
	for i, values := range wantValues {
		plugin, err := NewInProcessPlugin(i, Identity{Name: "stub", UniqueID: int64(i)}, newMultiParamAdapter(3))
		if err != nil {
			t.Fatalf("NewInProcessPlugin(%d): %v", i, err)
		}
		if err := e.Dispatcher().AddPlugin(plugin); err != nil {
			t.Fatalf("AddPlugin(%d): %v", i, err)
		}
		for idx, v := range values {
			if err := plugin.SetParameterValue(idx, v); err != nil {
				t.Fatalf("SetParameterValue(%d,%d): %v", i, idx, err)
			}
		}
		if err := plugin.SetCustomData(CustomDataEntry{Type: "Property", Key: "note", Value: fmtInt(i)}); err != nil {
			t.Fatalf("SetCustomData(%d): %v", i, err)
		}
	}

	text, err := e.Serializer().SaveToString()
	if err != nil {
		t.Fatalf("SaveToString: %v", err)
	}

	factory := func(ps PluginState) (PluginHandle, error) {
		return NewInProcessPlugin(ps.ID, ps.Identity, newMultiParamAdapter(3))
	}
	if err := e.Serializer().LoadFromString(text, factory); err != nil {
		t.Fatalf("LoadFromString: %v", err)
	}

	for i, values := range wantValues {
		restored, ok := e.GetPlugin(i)
		if !ok {
			t.Fatalf("expected a restored plugin at index %d", i)
		}
		for idx, want := range values {
			param, ok := restored.Parameter(idx)
			if !ok {
				t.Fatalf("plugin %d: expected parameter %d", i, idx)
			}
			if param.Value != want {
				t.Fatalf("plugin %d parameter %d: expected %v, got %v", i, idx, want, param.Value)
			}
		}
		custom := restored.CustomData()
		if len(custom) != 1 || custom[0].Value != fmtInt(i) {
			t.Fatalf("plugin %d: expected custom data %q, got %v", i, fmtInt(i), custom)
		}
	}
}

func fmtInt(i int) string {
	digits := "0123456789"
	if i < 0 || i >= len(digits) {
		return "?"
	}
	return string(digits[i])
}

func TestSerializerRejectsIncompatibleVersion(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	state := ProjectState{Version: "0.0.1"}
	err := e.Serializer().SetState(state, func(PluginState) (PluginHandle, error) { return nil, nil })
	if err == nil {
		t.Fatalf("expected an error for an incompatible project version")
	}
	var hostErr *HostError
	if !errors.As(err, &hostErr) {
		t.Fatalf("expected a *HostError, got %T", err)
	}
	if hostErr.Kind != ErrStateRejection {
		t.Fatalf("expected ErrStateRejection, got %v", hostErr.Kind)
	}
}
