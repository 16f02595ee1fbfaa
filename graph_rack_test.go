package carlahost

import "testing"

// cvAdapter is a stub used only to exercise Rack's CV-port rejection.
type cvAdapter struct{ stubAdapter }

func (a *cvAdapter) PortCounts() (audioIn, audioOut, cvIn, cvOut, eventIn, eventOut int) {
	return 1, 1, 1, 0, 0, 0
}

func TestRackZeroPluginsPassesThrough(t *testing.T) {
	r := NewRack(false, 64)
	in := [][]float32{{1, 2, 3}, {4, 5, 6}}
	out := [][]float32{{0, 0, 0}, {0, 0, 0}}
	r.Process(in, out, nil, nil, nil, 3)
	for ch := range in {
		for i := range in[ch] {
			if out[ch][i] != in[ch][i] {
				t.Fatalf("expected passthrough at ch=%d i=%d: got %v want %v", ch, i, out[ch][i], in[ch][i])
			}
		}
	}
}

func TestRackRejectsCVPorts(t *testing.T) {
	r := NewRack(false, 64)
	plugin, err := NewInProcessPlugin(0, Identity{Name: "cv"}, &cvAdapter{})
	if err != nil {
		t.Fatalf("NewInProcessPlugin: %v", err)
	}
	if err := r.AddPlugin(plugin); err == nil {
		t.Fatalf("expected Rack to reject a plugin with CV ports")
	}
}

func TestRackChainProcessesInOrder(t *testing.T) {
	r := NewRack(false, 64)
	first, err := NewInProcessPlugin(0, Identity{Name: "a"}, newStubAdapter())
	if err != nil {
		t.Fatalf("NewInProcessPlugin: %v", err)
	}
	second, err := NewInProcessPlugin(1, Identity{Name: "b"}, newStubAdapter())
	if err != nil {
		t.Fatalf("NewInProcessPlugin: %v", err)
	}
	if err := r.AddPlugin(first); err != nil {
		t.Fatalf("AddPlugin(first): %v", err)
	}
	if err := r.AddPlugin(second); err != nil {
		t.Fatalf("AddPlugin(second): %v", err)
	}
	if len(r.Plugins()) != 2 {
		t.Fatalf("expected 2 plugins in chain, got %d", len(r.Plugins()))
	}

	in := [][]float32{{1, 1}, {1, 1}}
	out := [][]float32{{0, 0}, {0, 0}}
	r.Process(in, out, nil, nil, nil, 2)
	for ch := range out {
		for i := range out[ch] {
			if out[ch][i] != 1 {
				t.Fatalf("expected identity stub chain to preserve input, got %v at ch=%d i=%d", out[ch][i], ch, i)
			}
		}
	}

	if err := r.RemovePlugin(first.ID()); err != nil {
		t.Fatalf("RemovePlugin: %v", err)
	}
	if len(r.Plugins()) != 1 {
		t.Fatalf("expected 1 plugin after removal, got %d", len(r.Plugins()))
	}
	if err := r.RemovePlugin(99); err == nil {
		t.Fatalf("expected error removing an id that was never added")
	}
}
