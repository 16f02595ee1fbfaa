// Package uipipe implements the control-plane side of the engine: a
// line-oriented, newline-delimited text protocol carried over two
// pipes (one per direction), matching spec section 4.8. Writes are
// serialized by a single mutex and batched into one flush per logical
// message the way the wire protocol expects; reads are a simple
// line-by-line command dispatch.
package uipipe

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/shaban/carlahost"
)

// UiState is the control-pipe's view of the embedding UI's lifecycle,
// as observed by the engine.
type UiState int

const (
	UiNone UiState = iota
	UiShow
	UiHide
	UiCrashed
)

// Pipe is the bidirectional text-protocol endpoint: reads commands
// from in, writes message frames to out, and drives the engine's
// mutating operations in response.
type Pipe struct {
	engine *carlahost.Engine
	logger *zap.Logger

	scanner *bufio.Scanner
	writeMu sync.Mutex
	out     *bufio.Writer
	cmds    chan command

	state         UiState
	onUiClosed    func()
	onUiCrashed   func()
	pluginFactory func(carlahost.PluginState) (carlahost.PluginHandle, error)
}

// inboundQueueSize bounds how many fully-parsed commands can be
// buffered between read-loop and PumpInbound before the read loop
// applies backpressure.
const inboundQueueSize = 256

// New wires a Pipe to engine, reading commands from in and writing
// message frames to out. pluginFactory is used by load_project to
// reconstruct each PluginHandle from its serialized state.
func New(engine *carlahost.Engine, in io.Reader, out io.Writer, logger *zap.Logger, pluginFactory func(carlahost.PluginState) (carlahost.PluginHandle, error)) *Pipe {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	p := &Pipe{
		engine:        engine,
		logger:        logger.Named("uipipe"),
		scanner:       scanner,
		out:           bufio.NewWriter(out),
		cmds:          make(chan command, inboundQueueSize),
		pluginFactory: pluginFactory,
	}
	go p.readLoop()
	return p
}

// --- outbound framing ----------------------------------------------------

// writeMessage appends one raw line, unescaped. Callers that need the
// empty-string escape should go through writeAndFixMessage instead.
func (p *Pipe) writeMessage(line string) {
	p.out.WriteString(line)
	p.out.WriteByte('\n')
}

// writeAndFixMessage appends one line, substituting the null marker
// for an empty string so a blank field is never mistaken for "field
// absent".
func (p *Pipe) writeAndFixMessage(s string) {
	p.writeMessage(fixEmpty(s))
}

func (p *Pipe) writeEmptyMessage() {
	p.writeMessage(nullMarker)
}

// flushMessages publishes every buffered write as one unit. Call this
// once at the end of a logical message, not after every line.
func (p *Pipe) flushMessages() error {
	return p.out.Flush()
}

// emit runs fn under the write mutex and flushes once fn returns,
// the discipline every Emit* method below follows.
func (p *Pipe) emit(fn func()) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	fn()
	if err := p.flushMessages(); err != nil {
		p.logger.Warn("ui pipe flush failed", zap.Error(err))
	}
}

// --- server -> client message families (spec 4.8) ------------------------

// EmitEngineInfo sends the one-time engine description a client needs
// right after connecting or after a Show transition.
func (p *Pipe) EmitEngineInfo(oscURLs string, maxPlugins int) {
	p.emit(func() {
		p.writeMessage(msgEngineOscURLs)
		p.writeAndFixMessage(oscURLs)
		p.writeMessage(msgEngineMaxPlugins)
		p.writeMessage(formatInt(maxPlugins))
		p.writeMessage(msgEngineBufferSize)
		p.writeMessage(formatInt(p.engine.BufferSize()))
		p.writeMessage(msgEngineSampleRate)
		p.writeMessage(strconv.FormatFloat(p.engine.SampleRate(), 'f', 6, 64))
	})
}

// EmitOptionDump sends one ENGINE_OPTION_<n> frame.
func (p *Pipe) EmitOptionDump(n int, forced bool, value string) {
	p.emit(func() {
		p.writeMessage(msgEngineOptionPrefix + formatInt(n))
		p.writeMessage(formatBool(forced))
		p.writeAndFixMessage(value)
	})
}

// EmitRuntimeInfo sends the per-tick runtime-info frame.
func (p *Pipe) EmitRuntimeInfo() {
	p.emit(func() {
		p.writeMessage(msgRuntimeInfo)
		p.writeMessage(formatFloat(0)) // DSP load: not modeled, reported as idle
		p.writeMessage(formatInt(p.engine.PluginCount()))
	})
}

// EmitTransport sends the per-tick transport frame.
func (p *Pipe) EmitTransport(t carlahost.TransportTimeInfo) {
	p.emit(func() {
		p.writeMessage(msgTransport)
		p.writeMessage(formatBool(t.Playing))
		p.writeMessage(strconv.FormatUint(t.Frame, 10))
		p.writeMessage(formatBool(t.ValidBBT))
		p.writeMessage(formatInt(int(t.Bar)))
		p.writeMessage(formatInt(int(t.Beat)))
		p.writeMessage(formatInt(int(t.Tick)))
		p.writeMessage(strconv.FormatFloat(t.BeatsPerMinute, 'f', 6, 64))
	})
}

// EmitPeaks sends PEAKS_<id>: input L, R, output L, R.
func (p *Pipe) EmitPeaks(pluginID int, in, out [2]float32) {
	p.emit(func() {
		p.writeMessage(msgPeaksPrefix + formatInt(pluginID))
		p.writeMessage(formatFloat(in[0]))
		p.writeMessage(formatFloat(in[1]))
		p.writeMessage(formatFloat(out[0]))
		p.writeMessage(formatFloat(out[1]))
	})
}

// EmitParameterValue sends PARAMVAL_<id>:<idx>.
func (p *Pipe) EmitParameterValue(pluginID, paramIndex int, value float32) {
	p.emit(func() {
		p.writeMessage(fmt.Sprintf("%s%d:%d", msgParamValPrefix, pluginID, paramIndex))
		p.writeMessage(formatFloat(value))
	})
}

// EmitPluginInfo sends the PLUGIN_INFO_<id> block.
func (p *Pipe) EmitPluginInfo(pluginID int) {
	plugin, ok := p.engine.GetPlugin(pluginID)
	if !ok {
		return
	}
	id := plugin.Identity()
	p.emit(func() {
		p.writeMessage(msgPluginInfoPrefix + formatInt(pluginID))
		p.writeAndFixMessage(string(id.Type))
		p.writeAndFixMessage(string(id.Category))
		p.writeMessage(strconv.FormatUint(uint64(id.Hints), 10))
		p.writeAndFixMessage(id.Name)
		p.writeAndFixMessage(id.Label)
		p.writeAndFixMessage(id.Maker)
		p.writeAndFixMessage(id.Copyright)
		p.writeMessage(strconv.FormatInt(id.UniqueID, 10))
	})
}

// EmitParameterCount sends PARAMETER_COUNT_<id>.
func (p *Pipe) EmitParameterCount(pluginID, count int) {
	p.emit(func() {
		p.writeMessage(msgParamCountPrefix + formatInt(pluginID))
		p.writeMessage(formatInt(count))
	})
}

// EmitParameterData sends one PARAMETER_DATA_<id>:<idx> frame.
func (p *Pipe) EmitParameterData(pluginID, idx int, param carlahost.Parameter) {
	p.emit(func() {
		p.writeMessage(fmt.Sprintf("%s%d:%d", msgParamDataPrefix, pluginID, idx))
		p.writeMessage(formatInt(int(param.Kind)))
		p.writeMessage(strconv.FormatUint(uint64(param.Hints), 10))
		p.writeMessage(formatInt(int(param.MidiChannel)))
		p.writeMessage(formatInt(int(param.MidiCC)))
	})
}

// EmitParameterRanges sends one PARAMETER_RANGES_<id>:<idx> frame.
func (p *Pipe) EmitParameterRanges(pluginID, idx int, r carlahost.ParameterRanges) {
	p.emit(func() {
		p.writeMessage(fmt.Sprintf("%s%d:%d", msgParamRangesPrefix, pluginID, idx))
		p.writeMessage(formatFloat(r.Def))
		p.writeMessage(formatFloat(r.Min))
		p.writeMessage(formatFloat(r.Max))
	})
}

// EmitProgramCount and EmitProgramName cover the PROGRAM_ family.
func (p *Pipe) EmitProgramCount(pluginID, count int) {
	p.emit(func() {
		p.writeMessage(msgProgramCountPrefix + formatInt(pluginID))
		p.writeMessage(formatInt(count))
	})
}

func (p *Pipe) EmitProgramName(pluginID, idx int, name string) {
	p.emit(func() {
		p.writeMessage(fmt.Sprintf("%s%d:%d", msgProgramNamePrefix, pluginID, idx))
		p.writeAndFixMessage(name)
	})
}

// EmitMidiProgramCount and EmitMidiProgramData cover the MIDI_PROGRAM_ family.
func (p *Pipe) EmitMidiProgramCount(pluginID, count int) {
	p.emit(func() {
		p.writeMessage(msgMidiProgCountPrefix + formatInt(pluginID))
		p.writeMessage(formatInt(count))
	})
}

func (p *Pipe) EmitMidiProgramData(pluginID, idx int, entry carlahost.MidiProgramEntry) {
	p.emit(func() {
		p.writeMessage(fmt.Sprintf("%s%d:%d", msgMidiProgDataPrefix, pluginID, idx))
		p.writeMessage(formatInt(entry.Bank))
		p.writeMessage(formatInt(entry.Program))
		p.writeAndFixMessage(entry.Name)
	})
}

// EmitCustomData sends one CUSTOM_DATA_<id> entry.
func (p *Pipe) EmitCustomData(pluginID int, entry carlahost.CustomDataEntry) {
	p.emit(func() {
		p.writeMessage(msgCustomDataPrefix + formatInt(pluginID))
		p.writeAndFixMessage(entry.Type)
		p.writeAndFixMessage(entry.Key)
		p.writeAndFixMessage(entry.Value)
	})
}

// EmitCallback sends the generic ENGINE_CALLBACK_<opcode> frame a
// post-RT event becomes once drained by the scheduler.
func (p *Pipe) EmitCallback(e carlahost.PostRtEvent) {
	p.emit(func() {
		p.writeMessage(msgEngineCallback + formatInt(int(e.Type)))
		p.writeMessage(formatInt(int(e.Value1)))
		p.writeMessage(formatInt(int(e.Value2)))
		p.writeMessage(formatInt(int(e.Value3)))
		p.writeMessage(formatFloat(e.ValueF))
		p.writeAndFixMessage(e.Message)
	})

	if e.Type == carlahost.PostRtUiClosed && p.onUiClosed != nil {
		p.onUiClosed()
	}
}

// emitError replies to a failed client command with the error\n<text>\n
// pattern.
func (p *Pipe) emitError(text string) {
	p.emit(func() {
		p.writeMessage(msgError)
		p.writeAndFixMessage(text)
	})
}

// SetUiState applies a UI lifecycle transition (spec 4.8's {None, Show,
// Hide, Crashed} machine): Show re-sends the engine info and a
// PLUGIN_INFO block per plugin (engine options are not re-sent),
// Hide notifies the outer host of ui-closed, Crashed notifies
// ui-unavailable.
func (p *Pipe) SetUiState(state UiState) {
	prev := p.state
	p.state = state
	if prev == state {
		return
	}
	switch state {
	case UiShow:
		p.EmitEngineInfo("", p.engine.PluginCount())
		for _, plugin := range p.engine.Plugins() {
			p.EmitPluginInfo(plugin.ID())
		}
	case UiHide:
		if p.onUiClosed != nil {
			p.onUiClosed()
		}
	case UiCrashed:
		if p.onUiCrashed != nil {
			p.onUiCrashed()
		}
	}
}
