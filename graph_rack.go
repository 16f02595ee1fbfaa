package carlahost

import (
	"fmt"
	"sync"
)

// Rack is the fixed 2-in/2-out linear-chain graph mode.
// Plugins process in table order, each reading the running buffer and
// writing into the staging buffer, which then become each other for the
// next plugin. forceStereo copies a mono host input into both channels
// before the chain runs; each plugin is run once over all channels, and
// a mono plugin is not duplicated across the pair.
type Rack struct {
	mu          sync.RWMutex
	plugins     []PluginHandle
	forceStereo bool
	events      *EventBus

	// running/staging are ping-ponged across plugins within one Process
	// call and resized in place via ensureBuf, so a steady-state cycle
	// (same channel count, same frame count as last time) never
	// allocates.
	running [][]float32
	staging [][]float32
}

// NewRack creates an empty rack graph.
func NewRack(forceStereo bool, maxEvents int) *Rack {
	return &Rack{forceStereo: forceStereo, events: NewEventBus(maxEvents)}
}

// AddPlugin appends p to the chain, rejecting anything that fails
// CAN_RUN_RACK or carries CV ports.
func (r *Rack) AddPlugin(p PluginHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cvIn, cvOut := p.CVPorts()
	if len(cvIn) > 0 || len(cvOut) > 0 {
		return NewHostError(ErrCapabilityMismatch, "Rack forbids plugins with CV ports", nil)
	}
	if p.Identity().ExtraHints&ExtraCanRunRack == 0 {
		return NewHostError(ErrCapabilityMismatch, fmt.Sprintf("plugin %d cannot run in Rack mode", p.ID()), nil)
	}
	r.plugins = append(r.plugins, p)
	return nil
}

func (r *Rack) RemovePlugin(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.plugins {
		if p.ID() == id {
			r.plugins = append(r.plugins[:i], r.plugins[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("carlahost: plugin %d not found in Rack", id)
}

// Events returns the rack's shared post-RT event bus.
func (r *Rack) Events() *EventBus { return r.events }

func (r *Rack) Plugins() []PluginHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PluginHandle, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Process implements the linear chain, plus the engine-level
// passthrough identity for the zero-plugin case: with zero
// plugins, inputs pass through to outputs and input MIDI is forwarded
// to the host's MIDI-out verbatim.
func (r *Rack) Process(audioIn, audioOut, cvIn, cvOut [][]float32, midiIn []EngineEvent, frames int) {
	r.mu.RLock()
	plugins := r.plugins
	r.mu.RUnlock()

	r.events.ResetCycle()
	for _, e := range midiIn {
		r.events.In().Append(e)
	}

	if len(plugins) == 0 {
		for i := range audioOut {
			if i < len(audioIn) {
				copy(audioOut[i], audioIn[i][:frames])
			} else {
				zeroAll(audioOut[i : i+1])
			}
		}
		zeroAll(cvOut)
		for _, e := range midiIn {
			if e.Type == EngineEventMIDI {
				r.events.EmitMIDI(e.Time, e.Port, e.Data)
			}
		}
		return
	}

	channels := len(audioIn)
	if r.forceStereo && channels == 1 {
		channels = 2
	}
	r.running = ensureBuf(r.running, channels, frames)
	for i, ch := range audioIn {
		copy(r.running[i], ch[:frames])
	}
	if r.forceStereo && len(audioIn) == 1 {
		copy(r.running[1], r.running[0])
	}
	r.staging = ensureBuf(r.staging, channels, frames)

	running, staging := r.running, r.staging
	for _, p := range plugins {
		p.Process(running, staging, nil, nil, r.events, frames)
		running, staging = staging, running
	}

	for i := range audioOut {
		if i < len(running) {
			copy(audioOut[i], running[i])
		} else {
			for j := range audioOut[i] {
				audioOut[i][j] = 0
			}
		}
	}
	zeroAll(cvOut)
}
