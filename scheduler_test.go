package carlahost

import "testing"

// uiIdlingAdapter extends stubAdapter with the counters UiIdle updates;
// newUiIdlingPlugin gives the plugin a HasCustomUI hint so the
// scheduler's idlePlugins path calls UiIdle on it.
type uiIdlingAdapter struct {
	stubAdapter
	panicOnIdle bool
	idleCalls   int
}

func TestSchedulerTickCallsUiIdleAndRecoversPanic(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	adapter := &uiIdlingAdapter{panicOnIdle: true}
	plugin, err := newUiIdlingPlugin(e, adapter)
	if err != nil {
		t.Fatalf("newUiIdlingPlugin: %v", err)
	}
	_ = plugin

	sched := NewScheduler(e, nil, nil)
	sched.Tick() // must not panic despite the plugin's UiIdle panicking

	if adapter.idleCalls != 1 {
		t.Fatalf("expected UiIdle called once, got %d", adapter.idleCalls)
	}
}

func TestSchedulerPumpUIPipeSkippedWhenNil(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	sched := NewScheduler(e, nil, nil)
	// Must not panic with a nil pipe.
	sched.Tick()
}

func TestSchedulerPumpsFakeUIPipe(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	plugin, err := NewInProcessPlugin(0, Identity{Name: "stub"}, newStubAdapter())
	if err != nil {
		t.Fatalf("NewInProcessPlugin: %v", err)
	}
	if err := e.Dispatcher().AddPlugin(plugin); err != nil {
		t.Fatalf("AddPlugin: %v", err)
	}

	pipe := &fakeUIPipe{}
	sched := NewScheduler(e, pipe, nil)
	sched.Tick()

	if !pipe.pumped || !pipe.emittedRuntime || !pipe.emittedTransport {
		t.Fatalf("expected Tick to pump inbound and emit runtime/transport info, got %+v", pipe)
	}
	if pipe.peakCalls != 1 {
		t.Fatalf("expected one EmitPeaks call for the one plugin, got %d", pipe.peakCalls)
	}
}

// uiIdlingPlugin wraps an InProcessPlugin built on uiIdlingAdapter and
// adds UiIdle, so Scheduler's type assertion sees it.
type uiIdlingPlugin struct {
	*InProcessPlugin
	adapter *uiIdlingAdapter
}

func (p *uiIdlingPlugin) UiIdle() {
	p.adapter.idleCalls++
	if p.adapter.panicOnIdle {
		panic("ui idle blew up")
	}
}

func newUiIdlingPlugin(e *Engine, adapter *uiIdlingAdapter) (*uiIdlingPlugin, error) {
	identity := Identity{Name: "ui-stub", Hints: HintHasCustomUI}
	inner, err := NewInProcessPlugin(0, identity, adapter)
	if err != nil {
		return nil, err
	}
	p := &uiIdlingPlugin{InProcessPlugin: inner, adapter: adapter}
	return p, e.Dispatcher().AddPlugin(p)
}

type fakeUIPipe struct {
	pumped            bool
	emittedRuntime    bool
	emittedTransport  bool
	peakCalls         int
	parameterCalls    int
	callbackCalls     int
}

func (f *fakeUIPipe) PumpInbound() error                                     { f.pumped = true; return nil }
func (f *fakeUIPipe) EmitRuntimeInfo()                                       { f.emittedRuntime = true }
func (f *fakeUIPipe) EmitTransport(TransportTimeInfo)                       { f.emittedTransport = true }
func (f *fakeUIPipe) EmitPeaks(pluginID int, in, out [2]float32)            { f.peakCalls++ }
func (f *fakeUIPipe) EmitParameterValue(pluginID, paramIndex int, value float32) { f.parameterCalls++ }
func (f *fakeUIPipe) EmitCallback(PostRtEvent)                              { f.callbackCalls++ }
