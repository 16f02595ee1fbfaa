package carlahost

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shaban/carlahost/internal/bridge"
	"github.com/shaban/carlahost/internal/ringbuf"
)

// BridgedPlugin is the PluginHandle variant that proxies every operation
// through a BridgeTransport child process. It owns no
// DSP itself; every Process call is a shared-memory round trip.
type BridgedPlugin struct {
	*pluginCore
	transport     *bridge.Transport
	logger        *zap.Logger
	bridgeTimeout time.Duration

	crashed atomic.Bool
	onError func(PostRtEvent)
}

// NewBridgedPlugin spawns the worker described by cfg and blocks for
// its Ready/Error handshake, returning a handle usable once Ready is
// observed. uiBridgesTimeout bounds how long a missing Pong is
// tolerated before Ping disables the plugin.
func NewBridgedPlugin(id int, identity Identity, cfg bridge.Config, uiBridgesTimeout time.Duration, onError func(PostRtEvent)) (*BridgedPlugin, error) {
	if cfg.Filename == "" || cfg.Label == "" {
		return nil, NewHostError(ErrUserError, "add-plugin requires a non-empty filename and label", nil)
	}
	identity.Hints |= HintIsBridge
	t, err := bridge.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("carlahost: bridged plugin init: %w", err)
	}
	p := &BridgedPlugin{
		pluginCore:    newPluginCore(id, identity),
		transport:     t,
		logger:        cfg.Logger,
		bridgeTimeout: uiBridgesTimeout,
		onError:       onError,
	}
	t.OnCrash(func(message string) {
		p.crashed.Store(true)
		p.active = false
		if p.onError != nil {
			p.onError(PostRtEvent{Type: PostRtError, Message: message})
		}
	})
	p.enabled = true
	p.active = true

	// The worker sends its port/parameter/program tables as a burst
	// right after Ready; awaitReady only consumes the Ready opcode
	// itself, so poll briefly for that burst to land before handing
	// back a handle with an empty port list.
	for i := 0; i < reloadPollAttempts; i++ {
		p.Reload()
		if len(p.pluginCore.audioIn) > 0 || len(p.pluginCore.audioOut) > 0 {
			break
		}
		time.Sleep(reloadPollInterval)
	}

	return p, nil
}

const (
	reloadPollInterval = 10 * time.Millisecond
	reloadPollAttempts = 50
)

// Reload asks the worker for its current port/parameter/program tables
// by draining the non-RT server ring down to the PluginInfo/AudioCount/
// ParameterCount family of opcodes.
func (p *BridgedPlugin) Reload() error {
	audioIn, audioOut, cvIn, cvOut := 0, 0, 0, 0
	p.drainNonRTServer(func(msg nonRTServerMessage) {
		switch msg.opcode {
		case bridge.NonRTServerAudioCount:
			audioIn, audioOut = msg.intA, msg.intB
		case bridge.NonRTServerParameterCount:
			p.parameters = make([]Parameter, msg.intA)
		case bridge.NonRTServerParameterData1:
			if idx := msg.intA; idx >= 0 && idx < len(p.parameters) {
				p.parameters[idx].Kind = ParameterKind(msg.intB)
				p.parameters[idx].Hints = ParameterHints(msg.uintA)
			}
		case bridge.NonRTServerParameterRanges1:
			if idx := msg.intA; idx >= 0 && idx < len(p.parameters) {
				p.parameters[idx].Ranges = ParameterRanges{Def: msg.floatA, Min: msg.floatB, Max: msg.floatC}
			}
		case bridge.NonRTServerSetLatency:
			p.latency = msg.intA
		case bridge.NonRTServerMidiProgramCount:
			p.midiPrograms = make([]MidiProgramEntry, msg.intA)
		case bridge.NonRTServerMidiProgramData:
			if idx := msg.intA; idx >= 0 && idx < len(p.midiPrograms) {
				p.midiPrograms[idx] = MidiProgramEntry{Bank: msg.intB, Program: msg.intC, Name: msg.text}
			}
		case bridge.NonRTServerProgramCount:
			p.programs = make([]ProgramEntry, msg.intA)
		case bridge.NonRTServerProgramName:
			if idx := msg.intA; idx >= 0 && idx < len(p.programs) {
				p.programs[idx] = ProgramEntry{Name: msg.text}
			}
		}
	})
	p.reloadPorts(audioIn, audioOut, cvIn, cvOut, 1, 1)
	p.deriveDefaultOptions(true, len(p.programs))
	return nil
}

// nonRTServerMessage is one fully-parsed opcode off the non-RT server
// ring, fields populated according to that opcode's payload shape.
type nonRTServerMessage struct {
	opcode                 bridge.Opcode
	intA, intB, intC       int
	uintA                  uint32
	floatA, floatB, floatC float32
	text                   string
	data                   []byte
}

// drainNonRTServer reads every currently-committed frame off the non-RT
// server ring, parsing each opcode's full payload so the stream never
// desyncs, and invokes handle for ones the caller cares about. Pong and
// Saved are always consumed here since every caller needs the liveness
// clock kept current.
func (p *BridgedPlugin) drainNonRTServer(handle func(nonRTServerMessage)) {
	ring := p.transport.NonRTServerRing()
	for {
		op, ok := ring.ReadOpcode()
		if !ok {
			return
		}
		msg := nonRTServerMessage{opcode: bridge.Opcode(op)}
		switch msg.opcode {
		case bridge.NonRTServerNull, bridge.NonRTServerUiClosed, bridge.NonRTServerReady:
			// no payload
		case bridge.NonRTServerPong:
			p.transport.NotePong()
		case bridge.NonRTServerPluginInfo1:
			a, _ := ring.ReadInt()
			b, _ := ring.ReadInt()
			c, _ := ring.ReadUInt32Raw()
			d, _ := ring.ReadLong()
			msg.intA, msg.intB, msg.uintA, msg.intC = int(a), int(b), c, int(d)
		case bridge.NonRTServerPluginInfo2:
			d, _ := ring.ReadCustomData()
			msg.text = string(d)
		case bridge.NonRTServerAudioCount, bridge.NonRTServerMidiCount:
			a, _ := ring.ReadInt()
			b, _ := ring.ReadInt()
			msg.intA, msg.intB = int(a), int(b)
		case bridge.NonRTServerParameterCount, bridge.NonRTServerProgramCount, bridge.NonRTServerMidiProgramCount:
			a, _ := ring.ReadInt()
			msg.intA = int(a)
		case bridge.NonRTServerParameterData1:
			a, _ := ring.ReadInt()
			b, _ := ring.ReadInt()
			c, _ := ring.ReadUInt32Raw()
			msg.intA, msg.intB, msg.uintA = int(a), int(b), c
		case bridge.NonRTServerParameterData2:
			a, _ := ring.ReadInt()
			name, _ := ring.ReadCustomData()
			unit, _ := ring.ReadCustomData()
			msg.intA, msg.text, msg.data = int(a), string(name), unit
		case bridge.NonRTServerParameterRanges1:
			a, _ := ring.ReadInt()
			def, _ := ring.ReadFloat()
			min, _ := ring.ReadFloat()
			max, _ := ring.ReadFloat()
			msg.intA, msg.floatA, msg.floatB, msg.floatC = int(a), def, min, max
		case bridge.NonRTServerParameterRanges2:
			a, _ := ring.ReadInt()
			step, _ := ring.ReadFloat()
			small, _ := ring.ReadFloat()
			large, _ := ring.ReadFloat()
			msg.intA, msg.floatA, msg.floatB, msg.floatC = int(a), step, small, large
		case bridge.NonRTServerParameterValue, bridge.NonRTServerDefaultValue:
			a, _ := ring.ReadInt()
			v, _ := ring.ReadFloat()
			msg.intA, msg.floatA = int(a), v
		case bridge.NonRTServerCurrentProgram, bridge.NonRTServerCurrentMidiProgram:
			a, _ := ring.ReadInt()
			msg.intA = int(a)
		case bridge.NonRTServerProgramName:
			a, _ := ring.ReadInt()
			name, _ := ring.ReadCustomData()
			msg.intA, msg.text = int(a), string(name)
		case bridge.NonRTServerMidiProgramData:
			a, _ := ring.ReadInt()
			b, _ := ring.ReadInt()
			c, _ := ring.ReadInt()
			name, _ := ring.ReadCustomData()
			msg.intA, msg.intB, msg.intC, msg.text = int(a), int(b), int(c), string(name)
		case bridge.NonRTServerSetCustomData:
			d, _ := ring.ReadCustomData()
			msg.data = d
		case bridge.NonRTServerSetChunkDataFile:
			d, _ := ring.ReadCustomData()
			msg.text = string(d)
		case bridge.NonRTServerSetLatency:
			a, _ := ring.ReadInt()
			msg.intA = int(a)
		case bridge.NonRTServerSaved:
			ok, _ := ring.ReadBool()
			msg.intA = boolToInt(ok)
		case bridge.NonRTServerError:
			d, _ := ring.ReadCustomData()
			msg.text = string(d)
		}
		if handle != nil {
			handle(msg)
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (p *BridgedPlugin) SetParameterValue(idx int, value float32) error {
	if err := p.pluginCore.SetParameterValue(idx, value); err != nil {
		return err
	}
	fixed, _ := p.Parameter(idx)
	p.transport.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(bridge.NonRTClientSetParameterValue))
		r.WriteInt(int32(idx))
		r.WriteFloat(fixed.Value)
	})
	return nil
}

func (p *BridgedPlugin) SetProgram(idx int) error {
	if err := p.pluginCore.SetProgram(idx); err != nil {
		return err
	}
	p.transport.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(bridge.NonRTClientSetProgram))
		r.WriteInt(int32(idx))
	})
	return nil
}

func (p *BridgedPlugin) SetMidiProgram(idx int) error {
	if err := p.pluginCore.SetMidiProgram(idx); err != nil {
		return err
	}
	p.transport.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(bridge.NonRTClientSetMidiProgram))
		r.WriteInt(int32(idx))
	})
	return nil
}

func (p *BridgedPlugin) SetCustomData(entry CustomDataEntry) error {
	if err := p.pluginCore.SetCustomData(entry); err != nil {
		return err
	}
	p.transport.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(bridge.NonRTClientSetCustomData))
		r.WriteCustomData([]byte(entry.Type + "\x00" + entry.Key + "\x00" + entry.Value))
	})
	return nil
}

func (p *BridgedPlugin) SetChunkData(data []byte) error {
	p.transport.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(bridge.NonRTClientSetChunkDataFile))
		r.WriteCustomData(data)
	})
	return nil
}

// UiShow commits a NonRTClientShowUI/HideUI opcode, the bridged
// counterpart of InProcessPlugin.UiShow, resolved the same way by
// abi.go's UiShow and uipipe's show_custom_ui command via the
// interface{ UiShow(bool) } type assertion.
func (p *BridgedPlugin) UiShow(show bool) {
	op := bridge.NonRTClientHideUI
	if show {
		op = bridge.NonRTClientShowUI
	}
	p.transport.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(op))
	})
}

// SendUiNote commits a NonRTClientUiNoteOn/Off opcode, the bridged
// counterpart of InProcessPlugin.SendUiNote. Velocity 0 is a note-off,
// which the worker decodes with one fewer byte (no velocity field).
func (p *BridgedPlugin) SendUiNote(channel, note, velocity uint8) {
	p.transport.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		if velocity == 0 {
			r.WriteOpcode(uint32(bridge.NonRTClientUiNoteOff))
			r.WriteByte(channel)
			r.WriteByte(note)
			return
		}
		r.WriteOpcode(uint32(bridge.NonRTClientUiNoteOn))
		r.WriteByte(channel)
		r.WriteByte(note)
		r.WriteByte(velocity)
	})
}

// Process drives one bridged cycle: copy inputs into the shared audio
// pool, commit a Process opcode, rendezvous, and either read back
// outputs or zero them.
func (p *BridgedPlugin) Process(audioIn, audioOut, cvIn, cvOut [][]float32, events *EventBus, frames int) {
	if !p.active || p.crashed.Load() {
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

	if p.transport.IsTimedOut() {
		zeroAll(audioOut, cvOut)
	}

	if err := p.transport.AudioPool().WriteInputs(audioIn, cvIn); err != nil {
		zeroAll(audioOut, cvOut)
		p.recordPeaks(audioIn, audioOut)
		return
	}

	p.transport.WriteRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(bridge.RTClientProcess))
		r.WriteUInt(uint32(frames))
	})
	p.writeRTControlEvents(events)

	ok := p.transport.CommitAndProcess(p.IsOffline())
	if !ok {
		zeroAll(audioOut, cvOut)
		p.recordPeaks(audioIn, audioOut)
		return
	}

	if err := p.transport.AudioPool().ReadOutputs(audioOut, cvOut); err != nil {
		zeroAll(audioOut, cvOut)
		p.recordPeaks(audioIn, audioOut)
		return
	}

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

// writeRTControlEvents forwards this cycle's control/MIDI events onto
// the RT-client ring, one RTClient opcode per event, skipping anything
// the worker-side adapter wouldn't recognize. MidiBank/MidiProgram only
// go out when OptionMapProgramChanges is set and AllSoundOff/
// AllNotesOff only when OptionSendAllSoundOff is set, mirroring
// CarlaPluginJuce.cpp's pData->options gating so both PluginHandle
// variants agree on when these are forwarded.
func (p *BridgedPlugin) writeRTControlEvents(events *EventBus) {
	p.transport.WriteRTClient(func(r *ringbuf.RingBuffer) {
		for _, e := range events.In().Events() {
			switch e.Type {
			case EngineEventMIDI:
				r.WriteOpcode(uint32(bridge.RTClientMidiEvent))
				r.WriteUInt(e.Time)
				r.WriteByte(e.Port)
				r.WriteCustomData(e.Data)
			case EngineEventControl:
				switch e.ControlSubtype {
				case ControlParameter:
					r.WriteOpcode(uint32(bridge.RTClientControlEventParameter))
					r.WriteUInt(e.Time)
					r.WriteByte(e.Channel)
					r.WriteUShort(e.Param)
					r.WriteFloat(e.Value)
				case ControlMidiBank:
					if p.options&OptionMapProgramChanges == 0 {
						continue
					}
					r.WriteOpcode(uint32(bridge.RTClientControlEventMidiBank))
					r.WriteUInt(e.Time)
					r.WriteByte(e.Channel)
					r.WriteUShort(e.Param)
				case ControlMidiProgram:
					if p.options&OptionMapProgramChanges == 0 {
						continue
					}
					r.WriteOpcode(uint32(bridge.RTClientControlEventMidiProgram))
					r.WriteUInt(e.Time)
					r.WriteByte(e.Channel)
					r.WriteUShort(e.Param)
				case ControlAllSoundOff:
					if p.options&OptionSendAllSoundOff == 0 {
						continue
					}
					r.WriteOpcode(uint32(bridge.RTClientControlEventAllSoundOff))
					r.WriteUInt(e.Time)
					r.WriteByte(e.Channel)
				case ControlAllNotesOff:
					if p.options&OptionSendAllSoundOff == 0 {
						continue
					}
					r.WriteOpcode(uint32(bridge.RTClientControlEventAllNotesOff))
					r.WriteUInt(e.Time)
					r.WriteByte(e.Channel)
				}
			}
		}
	})
}

// Ping posts a liveness probe to the worker and disables this plugin
// if the last Pong observed is older than the configured bridge
// timeout, the scheduler's per-tick hook for bridged plugins.
func (p *BridgedPlugin) Ping() {
	if p.crashed.Load() {
		return
	}
	p.transport.Ping()
	if p.transport.IsDeadByTimeout(p.bridgeTimeout) {
		p.crashed.Store(true)
		p.active = false
		if p.onError != nil {
			p.onError(PostRtEvent{Type: PostRtError, Message: fmt.Sprintf("plugin %d's bridge stopped responding", p.id)})
		}
	}
}

// prepareForSavePollInterval and prepareForSavePollAttempts bound the
// wait for the worker's Saved acknowledgement at roughly 6 seconds
// total, after which saving proceeds with the last-known state.
const (
	prepareForSavePollInterval = 30 * time.Millisecond
	prepareForSavePollAttempts = 200
)

// PrepareForSave commits the save-preparation opcode, then polls the
// non-RT server ring for the worker's Saved acknowledgement, calling
// idle (if non-nil, typically Scheduler.Tick) between attempts so the
// UI pipe keeps running while this blocks. A timeout is a soft
// failure: it returns nil so the caller saves with whatever state is
// already known.
func (p *BridgedPlugin) PrepareForSave(idle func()) error {
	p.transport.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(bridge.NonRTClientPrepareForSave))
	})

	for i := 0; i < prepareForSavePollAttempts; i++ {
		saved := false
		p.drainNonRTServer(func(msg nonRTServerMessage) {
			if msg.opcode == bridge.NonRTServerSaved {
				saved = true
			}
		})
		if saved {
			return nil
		}
		if idle != nil {
			idle()
		}
		time.Sleep(prepareForSavePollInterval)
	}
	if p.logger != nil {
		p.logger.Warn("plugin did not confirm save before timeout", zap.Int("plugin", p.id))
	}
	return nil
}

func (p *BridgedPlugin) Close() error {
	p.transport.Shutdown()
	return nil
}
