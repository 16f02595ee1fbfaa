package carlahost

import "testing"

func TestDescriptorTableLookup(t *testing.T) {
	d := Descriptor(DescriptorPatchbay16Channel)
	if d.Name != "Carla-Patchbay (16 channels)" {
		t.Fatalf("unexpected descriptor name: %q", d.Name)
	}
	if d.AudioIns != 16 || d.AudioOuts != 16 {
		t.Fatalf("expected 16/16 audio ports, got %d/%d", d.AudioIns, d.AudioOuts)
	}
}

func TestHostABIParameterFallsBackToCache(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	abi := NewHostABI(DescriptorRack, e, nil)
	// No plugins loaded: everything must hit the float cache.
	abi.SetParameterValue(5, 0.75)
	if got := abi.GetParameterValue(5); got != 0.75 {
		t.Fatalf("expected cached value 0.75, got %v", got)
	}
	if got := abi.GetParameterValue(6); got != 0 {
		t.Fatalf("expected untouched cache slot to read 0, got %v", got)
	}
}

func TestHostABIParameterReadsLoadedPlugin(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	plugin, err := NewInProcessPlugin(0, Identity{Name: "stub"}, newStubAdapter())
	if err != nil {
		t.Fatalf("NewInProcessPlugin: %v", err)
	}
	if err := e.Dispatcher().AddPlugin(plugin); err != nil {
		t.Fatalf("AddPlugin: %v", err)
	}

	abi := NewHostABI(DescriptorRack, e, nil)
	abi.SetParameterValue(0, 1.5)
	if got := abi.GetParameterValue(0); got != 1.5 {
		t.Fatalf("expected plugin parameter 0 updated to 1.5, got %v", got)
	}
}

func TestHostABIUiIdleNilSchedulerIsNoop(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	abi := NewHostABI(DescriptorRack, e, nil)
	abi.UiIdle() // must not panic
}

func TestHostABIProcessPassesThroughEmptyGraph(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	abi := NewHostABI(DescriptorRack, e, nil)

	if err := e.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	audioIn := [][]float32{{1, 2}, {3, 4}}
	audioOut := [][]float32{{0, 0}, {0, 0}}
	abi.Process(audioIn, audioOut, nil, nil, nil, 2)
	if audioOut[0][0] != 1 {
		t.Fatalf("expected passthrough through an empty graph, got %v", audioOut)
	}
}

func TestHostABIGetSetStateRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	plugin, err := NewInProcessPlugin(0, Identity{Name: "stub"}, newStubAdapter())
	if err != nil {
		t.Fatalf("NewInProcessPlugin: %v", err)
	}
	if err := e.Dispatcher().AddPlugin(plugin); err != nil {
		t.Fatalf("AddPlugin: %v", err)
	}

	abi := NewHostABI(DescriptorRack, e, nil)
	text := abi.GetState()
	if text == "" {
		t.Fatalf("expected a non-empty state document")
	}

	factory := func(ps PluginState) (PluginHandle, error) {
		return NewInProcessPlugin(ps.ID, ps.Identity, newStubAdapter())
	}
	if err := abi.SetState(text, factory); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if e.PluginCount() != 1 {
		t.Fatalf("expected 1 plugin after restoring state, got %d", e.PluginCount())
	}
}
