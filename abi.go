package carlahost

import "fmt"

// Pseudo-parameter indices the outer host ABI exposes alongside a
// plugin's own parameter table, addressed with negative indices so
// they never collide with a real parameter's RIndex.
const (
	ParameterNull         = -1
	ParameterActive       = -2
	ParameterVolume       = -3
	ParameterDryWet       = -4
	ParameterBalanceLeft  = -5
	ParameterBalanceRight = -6
	ParameterPanning      = -7
	ParameterCtrlChannel  = -8
	ParameterMax          = -8
)

// ParameterInfo is the outer-host-facing description of one parameter
// slot, pseudo or real.
type ParameterInfo struct {
	Name string
	Unit string
	Ranges ParameterRanges
}

// DescriptorVariant names one of the eight fixed plugin descriptors
// this engine is embedded under. Each differs only in audio/MIDI/CV
// port counts; the dispatcher and parameter surface are identical.
type DescriptorVariant int

const (
	DescriptorRack DescriptorVariant = iota
	DescriptorRackNoMidiOut
	DescriptorPatchbay
	DescriptorPatchbaySidechain3In
	DescriptorPatchbay16Channel
	DescriptorPatchbay32Channel
	DescriptorPatchbay64Channel
	DescriptorPatchbayCV5InOut
)

// HostDescriptor is the static metadata an embedding host reads once
// to learn a variant's name, label, and port layout before
// instantiating it.
type HostDescriptor struct {
	Variant    DescriptorVariant
	Name       string
	Label      string
	AudioIns   int
	AudioOuts  int
	MidiOuts   int
	CVIns      int
	CVOuts     int
}

// descriptors is indexed by DescriptorVariant.
var descriptors = [...]HostDescriptor{
	DescriptorRack: {
		Variant: DescriptorRack, Name: "Carla-Rack", Label: "carlarack",
		AudioIns: 2, AudioOuts: 2, MidiOuts: 1,
	},
	DescriptorRackNoMidiOut: {
		Variant: DescriptorRackNoMidiOut, Name: "Carla-Rack (no MIDI out)", Label: "carlarack_nomidiout",
		AudioIns: 2, AudioOuts: 2, MidiOuts: 0,
	},
	DescriptorPatchbay: {
		Variant: DescriptorPatchbay, Name: "Carla-Patchbay", Label: "carlapatchbay",
		AudioIns: 2, AudioOuts: 2, MidiOuts: 1,
	},
	DescriptorPatchbaySidechain3In: {
		Variant: DescriptorPatchbaySidechain3In, Name: "Carla-Patchbay (sidechain)", Label: "carlapatchbay3s",
		AudioIns: 3, AudioOuts: 2, MidiOuts: 1,
	},
	DescriptorPatchbay16Channel: {
		Variant: DescriptorPatchbay16Channel, Name: "Carla-Patchbay (16 channels)", Label: "carlapatchbay16",
		AudioIns: 16, AudioOuts: 16, MidiOuts: 1,
	},
	DescriptorPatchbay32Channel: {
		Variant: DescriptorPatchbay32Channel, Name: "Carla-Patchbay (32 channels)", Label: "carlapatchbay32",
		AudioIns: 32, AudioOuts: 32, MidiOuts: 1,
	},
	DescriptorPatchbay64Channel: {
		Variant: DescriptorPatchbay64Channel, Name: "Carla-Patchbay (64 channels)", Label: "carlapatchbay64",
		AudioIns: 64, AudioOuts: 64, MidiOuts: 1,
	},
	DescriptorPatchbayCV5InOut: {
		Variant: DescriptorPatchbayCV5InOut, Name: "Carla-Patchbay (CV)", Label: "carlapatchbaycv",
		AudioIns: 2, AudioOuts: 2, MidiOuts: 1, CVIns: 5, CVOuts: 5,
	},
}

// Descriptor returns the static metadata for variant.
func Descriptor(variant DescriptorVariant) HostDescriptor { return descriptors[variant] }

// pluginParamCacheInputs and pluginParamCacheOutputs are the fixed
// input+output parameter surface the
// outer host sees regardless of which plugins are loaded: indices
// beyond the first plugin's own parameter count fall back to this
// float cache instead of failing.
const (
	pluginParamCacheInputs  = 100
	pluginParamCacheOutputs = 10
)

// HostABI is the outer-host-facing capability surface this engine
// exposes once instantiated under one of the eight descriptors: the
// plugin-callback equivalent of instantiate/cleanup/get_parameter_*/
// set_parameter_value/ui_*/activate/deactivate/process/get_state/
// set_state/dispatcher. Process, UiShow, UiIdle, SetParameterValue
// (and so UiSetParameterValue) and SetMidiProgram run inside guard,
// which recovers a panic from inside the engine and records it as the
// engine's last error. The other methods call the engine directly and
// do not recover a panic.
type HostABI struct {
	Variant   DescriptorVariant
	engine    *Engine
	scheduler *Scheduler

	paramCache [pluginParamCacheInputs + pluginParamCacheOutputs]float32
}

// NewHostABI wires engine and scheduler behind the variant's
// descriptor. scheduler may be nil if the embedding host never drives
// uiIdle (headless use).
func NewHostABI(variant DescriptorVariant, engine *Engine, scheduler *Scheduler) *HostABI {
	return &HostABI{Variant: variant, engine: engine, scheduler: scheduler}
}

func (a *HostABI) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.engine.setLastError(fmt.Errorf("carlahost: %s panicked: %v", name, r))
		}
	}()
	fn()
}

// Activate and Deactivate mirror the engine's lifecycle transitions.
func (a *HostABI) Activate() error   { return a.engine.Activate() }
func (a *HostABI) Deactivate() error { return a.engine.Deactivate() }

// Process runs one audio cycle.
func (a *HostABI) Process(audioIn, audioOut, cvIn, cvOut [][]float32, midiIn []EngineEvent, frames int) {
	a.guard("process", func() {
		a.engine.Process(audioIn, audioOut, cvIn, cvOut, midiIn, frames)
	})
}

// BufferSizeChanged and SampleRateChanged route through the
// dispatcher like any other topology change.
func (a *HostABI) BufferSizeChanged(n int) error    { return a.engine.BufferSizeChanged(n) }
func (a *HostABI) SampleRateChanged(r float64) error { return a.engine.SampleRateChanged(r) }

// UiShow forwards to every plugin exposing HAS_CUSTOM_UI.
func (a *HostABI) UiShow(show bool) {
	for _, p := range a.engine.Plugins() {
		if p.Identity().Hints&HintHasCustomUI == 0 {
			continue
		}
		if shower, ok := p.(interface{ UiShow(bool) }); ok {
			a.guard("ui_show", func() { shower.UiShow(show) })
		}
	}
}

// UiIdle runs one scheduler tick. A nil scheduler makes this a no-op.
func (a *HostABI) UiIdle() {
	if a.scheduler == nil {
		return
	}
	a.guard("ui_idle", func() { a.scheduler.Tick() })
}

// GetParameterCount returns the fixed 100-input + 10-output surface
// every descriptor variant exposes.
func (a *HostABI) GetParameterCount() (inputs, outputs int) {
	return pluginParamCacheInputs, pluginParamCacheOutputs
}

// GetParameterInfo describes one slot: the first plugin's own
// parameter where in range, otherwise a generic cache slot.
func (a *HostABI) GetParameterInfo(index int) ParameterInfo {
	if p, ok := a.firstPlugin(); ok {
		if param, ok := p.Parameter(index); ok {
			return ParameterInfo{Name: fmt.Sprintf("param_%d", index), Ranges: param.Ranges}
		}
	}
	return ParameterInfo{Name: fmt.Sprintf("cache_%d", index)}
}

// GetParameterValue reads the first plugin's parameter where in
// range, otherwise the engine's float cache.
func (a *HostABI) GetParameterValue(index int) float32 {
	if p, ok := a.firstPlugin(); ok {
		if param, ok := p.Parameter(index); ok {
			return param.Value
		}
	}
	return a.readCache(index)
}

// SetParameterValue writes the first plugin's parameter where in
// range, otherwise the engine's float cache.
func (a *HostABI) SetParameterValue(index int, value float32) {
	a.guard("set_parameter_value", func() {
		if p, ok := a.firstPlugin(); ok {
			if _, ok := p.Parameter(index); ok {
				p.SetParameterValue(index, value)
				return
			}
		}
		a.writeCache(index, value)
	})
}

// UiSetParameterValue is the UI-originated counterpart of
// SetParameterValue, routed identically; the distinction exists at
// the ABI boundary to let an embedding host tag the event's origin.
func (a *HostABI) UiSetParameterValue(index int, value float32) {
	a.SetParameterValue(index, value)
}

func (a *HostABI) cacheSlot(index int) (int, bool) {
	if index >= 0 && index < pluginParamCacheInputs {
		return index, true
	}
	if index < 0 {
		return 0, false
	}
	slot := pluginParamCacheInputs + (index - pluginParamCacheInputs)
	if slot < len(a.paramCache) {
		return slot, true
	}
	return 0, false
}

func (a *HostABI) readCache(index int) float32 {
	if slot, ok := a.cacheSlot(index); ok {
		return a.paramCache[slot]
	}
	return 0
}

func (a *HostABI) writeCache(index int, value float32) {
	if slot, ok := a.cacheSlot(index); ok {
		a.paramCache[slot] = value
	}
}

// GetMidiProgramCount and GetMidiProgramInfo proxy the first plugin's
// MIDI program table; an engine with no plugins reports zero.
func (a *HostABI) GetMidiProgramCount() int {
	if p, ok := a.firstPlugin(); ok {
		return p.MidiProgramCount()
	}
	return 0
}

func (a *HostABI) GetMidiProgramInfo(index int) (MidiProgramEntry, bool) {
	if p, ok := a.firstPlugin(); ok {
		progs := p.MidiPrograms()
		if index >= 0 && index < len(progs) {
			return progs[index], true
		}
	}
	return MidiProgramEntry{}, false
}

func (a *HostABI) SetMidiProgram(index int) {
	a.guard("set_midi_program", func() {
		if p, ok := a.firstPlugin(); ok {
			p.SetMidiProgram(index)
		}
	})
}

// GetState and SetState delegate to the engine's serializer.
func (a *HostABI) GetState() string {
	text, err := a.engine.serializer.SaveToString()
	if err != nil {
		a.engine.setLastError(err)
		return ""
	}
	return text
}

func (a *HostABI) SetState(text string, factory func(PluginState) (PluginHandle, error)) error {
	return a.engine.serializer.LoadFromString(text, factory)
}

// Dispatcher forwards a buffer-size / sample-rate / offline-mode
// change or a get-internal-handle request to the engine's dispatcher.
func (a *HostABI) Dispatcher(op OperationType, data interface{}) (interface{}, error) {
	switch op {
	case OpBufferSizeChanged:
		return nil, a.engine.BufferSizeChanged(data.(int))
	case OpSampleRateChanged:
		return nil, a.engine.SampleRateChanged(data.(float64))
	case OpSetOffline:
		a.engine.dispatcher.SetOffline(data.(bool))
		return nil, nil
	case OpGetInternalHandle:
		return a.engine.dispatcher.GetInternalHandle(data.(int))
	default:
		return nil, fmt.Errorf("carlahost: dispatcher op %q not valid at the ABI boundary", op)
	}
}

func (a *HostABI) firstPlugin() (PluginHandle, bool) {
	plugins := a.engine.Plugins()
	if len(plugins) == 0 {
		return nil, false
	}
	return plugins[0], true
}
