package carlahost

import (
	"sync"
	"testing"
)

// TestDispatcherConcurrentAddRemove hammers AddPlugin/RemovePlugin from
// many goroutines at once: the dispatcher's single dispatchLoop
// goroutine must serialize every mutation, so the plugin table should
// never end up in a state GetPlugin/PluginCount disagree about. Run
// with -race to catch any unguarded access to the engine's plugin map.
func TestDispatcherConcurrentAddRemove(t *testing.T) {
	e := newTestDispatcherEngine(t)
	defer e.Close()

	const workers = 16
	const rounds = 20

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(worker int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				plugin, err := NewInProcessPlugin(0, Identity{Name: "stub"}, newStubAdapter())
				if err != nil {
					t.Errorf("NewInProcessPlugin: %v", err)
					return
				}
				if err := e.Dispatcher().AddPlugin(plugin); err != nil {
					t.Errorf("AddPlugin: %v", err)
					return
				}
				if err := e.Dispatcher().RemovePlugin(plugin.ID()); err != nil {
					t.Errorf("RemovePlugin(%d): %v", plugin.ID(), err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if e.PluginCount() != 0 {
		t.Fatalf("expected 0 plugins after all add/remove rounds settled, got %d", e.PluginCount())
	}
}

// TestDispatcherConcurrentPatchbayConnect exercises concurrent
// PatchbayConnect calls against a Patchbay-mode
// engine, checking that every connect gets a distinct id back even
// under concurrent submission through the same operations channel.
func TestDispatcherConcurrentPatchbayConnect(t *testing.T) {
	e, err := NewEngine(EngineConfig{
		BufferSize: 256,
		SampleRate: 48000,
		Options:    EngineOptions{ProcessMode: ProcessModePatchbay, MaxParameters: DefaultEngineOptions().MaxParameters},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	const workers = 8
	ids := make(chan int, workers)
	errs := make(chan error, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(worker int) {
			defer wg.Done()
			id, err := e.Dispatcher().PatchbayConnect(GroupExternalAudioIn, worker, GroupExternalAudioOut, worker+100)
			if err != nil {
				errs <- err
				return
			}
			ids <- id
		}(w)
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("PatchbayConnect: %v", err)
	}
	seen := make(map[int]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate connection id %d returned to two callers", id)
		}
		seen[id] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct connection ids, got %d", workers, len(seen))
	}
}
