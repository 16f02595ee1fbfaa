package carlahost

import "testing"

func TestPatchbayAddRemovePlugin(t *testing.T) {
	g := NewPatchbay(64)
	plugin, err := NewInProcessPlugin(0, Identity{Name: "stub"}, newStubAdapter())
	if err != nil {
		t.Fatalf("NewInProcessPlugin: %v", err)
	}
	if err := g.AddPlugin(plugin); err != nil {
		t.Fatalf("AddPlugin: %v", err)
	}
	if err := g.AddPlugin(plugin); err == nil {
		t.Fatalf("expected error re-adding the same plugin id")
	}
	if len(g.Plugins()) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(g.Plugins()))
	}
	if err := g.RemovePlugin(plugin.ID()); err != nil {
		t.Fatalf("RemovePlugin: %v", err)
	}
	if err := g.RemovePlugin(plugin.ID()); err == nil {
		t.Fatalf("expected error removing a plugin twice")
	}
}

func TestPatchbayConnectRejectsCycle(t *testing.T) {
	g := NewPatchbay(64)
	a, _ := NewInProcessPlugin(0, Identity{Name: "a"}, newStubAdapter())
	b, _ := NewInProcessPlugin(1, Identity{Name: "b"}, newStubAdapter())
	if err := g.AddPlugin(a); err != nil {
		t.Fatalf("AddPlugin(a): %v", err)
	}
	if err := g.AddPlugin(b); err != nil {
		t.Fatalf("AddPlugin(b): %v", err)
	}

	groupA := firstPluginGroup + a.ID()
	groupB := firstPluginGroup + b.ID()

	connID, err := g.Connect(groupA, 0, groupB, 0)
	if err != nil {
		t.Fatalf("Connect(a->b): %v", err)
	}
	if _, err := g.Connect(groupB, 0, groupA, 0); err == nil {
		t.Fatalf("expected b->a to be rejected as a cycle with a->b already present")
	}
	if err := g.Disconnect(connID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := g.Disconnect(connID); err == nil {
		t.Fatalf("expected error disconnecting an id that no longer exists")
	}
}

func TestPatchbayRemovePluginDropsItsConnections(t *testing.T) {
	g := NewPatchbay(64)
	a, _ := NewInProcessPlugin(0, Identity{Name: "a"}, newStubAdapter())
	b, _ := NewInProcessPlugin(1, Identity{Name: "b"}, newStubAdapter())
	g.AddPlugin(a)
	g.AddPlugin(b)

	groupA := firstPluginGroup + a.ID()
	groupB := firstPluginGroup + b.ID()
	connID, err := g.Connect(groupA, 0, groupB, 0)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := g.RemovePlugin(a.ID()); err != nil {
		t.Fatalf("RemovePlugin: %v", err)
	}
	if err := g.Disconnect(connID); err == nil {
		t.Fatalf("expected connection to have been dropped along with its plugin")
	}
}

func TestPatchbayZeroPluginsPassesThrough(t *testing.T) {
	g := NewPatchbay(64)
	in := [][]float32{{1, 2}, {3, 4}}
	out := [][]float32{{0, 0}, {0, 0}}
	g.Process(in, out, nil, nil, nil, 2)
	for ch := range in {
		for i := range in[ch] {
			if out[ch][i] != in[ch][i] {
				t.Fatalf("expected passthrough at ch=%d i=%d", ch, i)
			}
		}
	}
}

func TestPatchbayRefreshInvokesCallback(t *testing.T) {
	g := NewPatchbay(64)
	a, _ := NewInProcessPlugin(0, Identity{Name: "a"}, newStubAdapter())
	b, _ := NewInProcessPlugin(1, Identity{Name: "b"}, newStubAdapter())
	g.AddPlugin(a)
	g.AddPlugin(b)
	groupA := firstPluginGroup + a.ID()
	groupB := firstPluginGroup + b.ID()
	g.Connect(groupA, 0, groupB, 0)

	var got []GraphConnection
	g.OnRefresh(func(conns []GraphConnection) { got = conns })
	g.Refresh()

	if len(got) != 1 {
		t.Fatalf("expected 1 connection in the refresh snapshot, got %d", len(got))
	}
}

func TestPatchbayConnectsExternalAudioThroughPlugin(t *testing.T) {
	g := NewPatchbay(64)
	plugin, err := NewInProcessPlugin(0, Identity{Name: "stub"}, newStubAdapter())
	if err != nil {
		t.Fatalf("NewInProcessPlugin: %v", err)
	}
	if err := g.AddPlugin(plugin); err != nil {
		t.Fatalf("AddPlugin: %v", err)
	}
	group := firstPluginGroup + plugin.ID()
	if _, err := g.Connect(GroupExternalAudioIn, 0, group, 0); err != nil {
		t.Fatalf("Connect(external-in -> plugin): %v", err)
	}
	if _, err := g.Connect(GroupExternalAudioIn, 1, group, 1); err != nil {
		t.Fatalf("Connect(external-in -> plugin ch2): %v", err)
	}
	if _, err := g.Connect(group, 0, GroupExternalAudioOut, 0); err != nil {
		t.Fatalf("Connect(plugin -> external-out): %v", err)
	}
	if _, err := g.Connect(group, 1, GroupExternalAudioOut, 1); err != nil {
		t.Fatalf("Connect(plugin -> external-out ch2): %v", err)
	}

	in := [][]float32{{1, 1}, {2, 2}}
	out := [][]float32{{0, 0}, {0, 0}}
	g.Process(in, out, nil, nil, nil, 2)

	if out[0][0] != 1 || out[1][0] != 2 {
		t.Fatalf("expected routed identity passthrough, got %v", out)
	}
}
