package carlahost

import "sync/atomic"

// FormatAdapter is the external collaborator an in-process PluginHandle
// calls directly. Only the
// surface this engine needs to drive a loaded plugin is modeled.
type FormatAdapter interface {
	PortCounts() (audioIn, audioOut, cvIn, cvOut, eventIn, eventOut int)
	ParameterTable() []Parameter
	Programs() []ProgramEntry
	MidiPrograms() []MidiProgramEntry
	LatencyFrames() int

	// RunProcess computes audioOut/cvOut from audioIn/cvIn in place,
	// honoring events already merged into the plugin's input event
	// queue by the engine. It must not block or allocate.
	RunProcess(audioIn, audioOut, cvIn, cvOut [][]float32, frames int)

	ApplyParameter(idx int, value float32)
	SelectProgram(idx int)
	SelectMidiProgram(idx int)
	ApplyCustomData(entry CustomDataEntry)
	ApplyChunkData(data []byte)

	// ShowUI toggles the plugin's own custom UI, the in-process
	// counterpart of a bridged plugin's NonRTClientShowUI/HideUI.
	ShowUI(show bool)

	// SendNote delivers one outer-host-triggered note on/off (velocity 0
	// means note-off), the in-process counterpart of a bridged plugin's
	// NonRTClientUiNoteOn/Off mailbox.
	SendNote(channel, note, velocity uint8)
}

// InProcessPlugin is the PluginHandle variant that calls a FormatAdapter
// directly within the audio thread, with a Load/Unload/SetParameter
// pattern generalized to the full identity/port/parameter table.
type InProcessPlugin struct {
	*pluginCore
	adapter FormatAdapter

	timedOut atomic.Bool // never set for in-process plugins, kept for a uniform zero-on-timeout check
}

// NewInProcessPlugin constructs a handle wired to adapter, immediately
// reloading its port layout.
func NewInProcessPlugin(id int, identity Identity, adapter FormatAdapter) (*InProcessPlugin, error) {
	p := &InProcessPlugin{
		pluginCore: newPluginCore(id, identity),
		adapter:    adapter,
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	p.enabled = true
	p.active = true
	return p, nil
}

// Reload recomputes ports, hints, and tables from the adapter.
func (p *InProcessPlugin) Reload() error {
	audioIn, audioOut, cvIn, cvOut, eventIn, eventOut := p.adapter.PortCounts()
	p.reloadPorts(audioIn, audioOut, cvIn, cvOut, eventIn, eventOut)
	p.parameters = p.adapter.ParameterTable()
	p.programs = p.adapter.Programs()
	p.midiPrograms = p.adapter.MidiPrograms()
	p.latency = p.adapter.LatencyFrames()
	p.deriveDefaultOptions(eventIn > 0, len(p.programs))
	return nil
}

func (p *InProcessPlugin) SetParameterValue(idx int, value float32) error {
	if err := p.pluginCore.SetParameterValue(idx, value); err != nil {
		return err
	}
	fixed, _ := p.Parameter(idx)
	p.adapter.ApplyParameter(idx, fixed.Value)
	return nil
}

func (p *InProcessPlugin) SetProgram(idx int) error {
	if err := p.pluginCore.SetProgram(idx); err != nil {
		return err
	}
	p.adapter.SelectProgram(idx)
	return nil
}

func (p *InProcessPlugin) SetMidiProgram(idx int) error {
	if err := p.pluginCore.SetMidiProgram(idx); err != nil {
		return err
	}
	p.adapter.SelectMidiProgram(idx)
	return nil
}

func (p *InProcessPlugin) SetCustomData(entry CustomDataEntry) error {
	if err := p.pluginCore.SetCustomData(entry); err != nil {
		return err
	}
	p.adapter.ApplyCustomData(entry)
	return nil
}

func (p *InProcessPlugin) SetChunkData(data []byte) error {
	p.adapter.ApplyChunkData(data)
	return nil
}

// Process implements the full per-cycle contract: event
// input phase, try-locked single-mutex RT processing, fixed-order
// post-processing, and the silence-on-failure guarantee (testable
// property 1).
func (p *InProcessPlugin) Process(audioIn, audioOut, cvIn, cvOut [][]float32, events *EventBus, frames int) {
	if !p.active {
		zeroAll(audioOut, cvOut)
		p.recordPeaks(audioIn, audioOut)
		return
	}
	if !p.single.TryLock() {
		zeroAll(audioOut, cvOut)
		p.recordPeaks(audioIn, audioOut)
		return
	}
	defer p.single.Unlock()

	for _, n := range p.drainExtNotes() {
		p.adapter.SendNote(n.channel, n.note, n.velocity)
	}

	in := events.In().Events()
	p.drainBuiltinControls(in)
	p.synthesizeAllNotesOff(in, events)

	p.adapter.RunProcess(audioIn, audioOut, cvIn, cvOut, frames)

	for i := range audioOut {
		var dry []float32
		if i < len(audioIn) {
			dry = audioIn[i]
		} else {
			dry = audioOut[i]
		}
		applyPostProcessing(dry, audioOut[i], p.mix)
	}
	applyBalance(audioOut, p.mix)
	applyVolume(audioOut, p.mix)
	p.recordPeaks(audioIn, audioOut)
}

// drainBuiltinControls implements the MIDI-CC-to-mix mapping and the
// MidiBank/MidiProgram/AllSoundOff forwarding gates, both keyed off the
// plugin-level PluginOptions rather than a per-parameter hint.
func (p *InProcessPlugin) drainBuiltinControls(in []EngineEvent) {
	p.mix = applyCtrlChannelEvents(p.mix, p.identity.Hints, in)

	for _, e := range in {
		if e.Type != EngineEventControl {
			continue
		}
		switch e.ControlSubtype {
		case ControlMidiBank:
			if p.options&OptionMapProgramChanges != 0 {
				// bank select is tracked by the adapter's own program table
			}
		case ControlMidiProgram:
			if p.options&OptionMapProgramChanges != 0 {
				p.adapter.SelectProgram(int(e.Param))
			}
		case ControlAllSoundOff:
			if p.options&OptionSendAllSoundOff != 0 {
				p.adapter.ApplyCustomData(CustomDataEntry{Type: "Internal", Key: "all-sound-off"})
			}
		}
	}
}

// synthesizeAllNotesOff posts a note-off event for every note in
// heldNotes, at most once per cycle, when an AllNotesOff event addresses
// this plugin's ctrlChannel. Nothing adds notes to heldNotes, so no
// note-off events are posted.
func (p *InProcessPlugin) synthesizeAllNotesOff(in []EngineEvent, events *EventBus) {
	if p.options&OptionSendAllSoundOff == 0 {
		return
	}
	fired := false
	for _, e := range in {
		if e.Type != EngineEventControl || e.ControlSubtype != ControlAllNotesOff {
			continue
		}
		if p.mix.CtrlChannel < 0 || uint8(p.mix.CtrlChannel) != e.Channel {
			continue
		}
		if fired {
			continue
		}
		for note := range p.heldNotes {
			events.PostRT(PostRtEvent{Type: PostRtNoteOff, Value1: int32(note)})
		}
		p.heldNotes = make(map[uint8]bool)
		fired = true
	}
}

// UiShow forwards a show/hide request to the adapter's own custom UI,
// the path abi.go's UiShow and uipipe's show_custom_ui command both
// resolve to via the interface{ UiShow(bool) } type assertion.
func (p *InProcessPlugin) UiShow(show bool) {
	p.adapter.ShowUI(show)
}

// SendUiNote queues an outer-host-triggered note on/off for delivery at the
// top of the next Process cycle, rather than calling the adapter directly
// from whatever goroutine is driving the UI control pipe: the adapter's
// RunProcess runs under p.single on the RT path, and this method has no
// such serialization of its own.
func (p *InProcessPlugin) SendUiNote(channel, note, velocity uint8) {
	p.queueExtNote(channel, note, velocity)
}

func (p *InProcessPlugin) PrepareForSave(idle func()) error { return nil }

func (p *InProcessPlugin) Close() error { return nil }
