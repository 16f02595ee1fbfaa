package uipipe

import (
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/shaban/carlahost"
)

// command is one fully-read client request: its name line plus the
// typed-parameter lines that follow it.
type command struct {
	name string
	args []string
}

type cmdSpec struct {
	argc    int
	handler func(p *Pipe, args []string) error
}

// commandTable maps every client -> server command name (spec 4.8) to
// its parameter-line count and handler. Commands whose functionality
// depends on loading an external plugin format (load_file,
// clone_plugin, replace_plugin, switch_plugins, rename_plugin) are
// intentionally unsupported here since plugin-format loading is out
// of scope; they reply with the error pattern rather than silently
// doing nothing.
var commandTable map[string]cmdSpec

func init() {
	commandTable = map[string]cmdSpec{
		"set_engine_option":         {2, cmdSetEngineOption},
		"clear_engine_xruns":        {0, cmdNoop},
		"cancel_engine_action":      {0, cmdNoop},
		"clear_project_filename":    {0, cmdNoop},
		"load_file":                 {1, cmdUnsupported},
		"load_project":              {1, cmdLoadProject},
		"save_project":              {1, cmdSaveProject},
		"patchbay_connect":          {4, cmdPatchbayConnect},
		"patchbay_disconnect":       {1, cmdPatchbayDisconnect},
		"patchbay_refresh":          {0, cmdPatchbayRefresh},
		"transport_play":            {0, cmdTransportPlay},
		"transport_pause":           {0, cmdTransportPause},
		"transport_bpm":             {1, cmdTransportBpm},
		"transport_relocate":        {1, cmdTransportRelocate},
		"add_plugin":                {0, cmdUnsupported},
		"remove_plugin":             {1, cmdRemovePlugin},
		"remove_all_plugins":        {0, cmdRemoveAllPlugins},
		"rename_plugin":             {2, cmdUnsupported},
		"clone_plugin":              {1, cmdUnsupported},
		"replace_plugin":            {1, cmdUnsupported},
		"switch_plugins":            {2, cmdUnsupported},
		"load_plugin_state":         {2, cmdLoadPluginState},
		"save_plugin_state":         {2, cmdSavePluginState},
		"set_option":                {3, cmdUnsupported},
		"set_active":                {2, cmdSetActive},
		"set_drywet":                {2, cmdSetDryWet},
		"set_volume":                {2, cmdSetVolume},
		"set_balance_left":          {2, cmdSetBalanceLeft},
		"set_balance_right":         {2, cmdSetBalanceRight},
		"set_panning":               {2, cmdSetPanning},
		"set_ctrl_channel":          {2, cmdSetCtrlChannel},
		"set_parameter_value":       {3, cmdSetParameterValue},
		"set_parameter_midi_channel": {3, cmdSetParameterMidiChannel},
		"set_parameter_midi_cc":     {3, cmdSetParameterMidiCC},
		"set_parameter_touch":       {3, cmdNoop},
		"set_program":               {2, cmdSetProgram},
		"set_midi_program":          {2, cmdSetMidiProgram},
		"set_custom_data":           {4, cmdSetCustomData},
		"set_chunk_data":            {2, cmdSetChunkData},
		"prepare_for_save":          {1, cmdPrepareForSave},
		"reset_parameters":          {1, cmdResetParameters},
		"randomize_parameters":      {1, cmdRandomizeParameters},
		"send_midi_note":            {4, cmdSendMidiNote},
		"show_custom_ui":            {2, cmdShowCustomUi},
	}
}

// PumpInbound drains every command currently queued from the reader
// goroutine, running each to completion, and replies with the error
// pattern for any handler that fails. It never blocks: a command whose
// full argument set hasn't arrived yet stays buffered in the scanner
// for the next call.
func (p *Pipe) PumpInbound() error {
	for {
		select {
		case cmd, ok := <-p.cmds:
			if !ok {
				return nil
			}
			p.dispatch(cmd)
		default:
			return nil
		}
	}
}

func (p *Pipe) dispatch(cmd command) {
	spec, ok := commandTable[cmd.name]
	if !ok {
		p.emitError("unknown command: " + cmd.name)
		return
	}
	if err := spec.handler(p, cmd.args); err != nil {
		p.emitError(err.Error())
	}
}

// readLoop runs on its own goroutine for the lifetime of the Pipe,
// parsing the name + typed-parameter-lines shape of every command and
// queueing complete ones for PumpInbound.
func (p *Pipe) readLoop() {
	defer close(p.cmds)
	for p.scanner.Scan() {
		name := p.scanner.Text()
		spec, ok := commandTable[name]
		if !ok {
			p.logger.Warn("unrecognized ui pipe command", zap.String("name", name))
			continue
		}
		args := make([]string, spec.argc)
		complete := true
		for i := 0; i < spec.argc; i++ {
			if !p.scanner.Scan() {
				complete = false
				break
			}
			args[i] = unfix(p.scanner.Text())
		}
		if !complete {
			return
		}
		p.cmds <- command{name: name, args: args}
	}
}

// --- handlers -------------------------------------------------------------

func cmdNoop(p *Pipe, args []string) error { return nil }

func cmdUnsupported(p *Pipe, args []string) error {
	return errUnsupported
}

var errUnsupported = &unsupportedError{}

type unsupportedError struct{}

func (*unsupportedError) Error() string {
	return "command requires plugin-format loading, which this engine does not provide"
}

func cmdSetEngineOption(p *Pipe, args []string) error {
	return p.engine.SetEngineOption(args[0], args[1])
}

func cmdLoadProject(p *Pipe, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	return p.engine.Serializer().LoadFromReader(f, p.pluginFactory)
}

func cmdSaveProject(p *Pipe, args []string) error {
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	return p.engine.Serializer().SaveToWriter(f)
}

func cmdPatchbayConnect(p *Pipe, args []string) error {
	srcGroup, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	srcPort, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	dstGroup, err := strconv.Atoi(args[2])
	if err != nil {
		return err
	}
	dstPort, err := strconv.Atoi(args[3])
	if err != nil {
		return err
	}
	_, err = p.engine.Dispatcher().PatchbayConnect(srcGroup, srcPort, dstGroup, dstPort)
	return err
}

func cmdPatchbayDisconnect(p *Pipe, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	return p.engine.Dispatcher().PatchbayDisconnect(id)
}

func cmdPatchbayRefresh(p *Pipe, args []string) error {
	for _, plugin := range p.engine.Plugins() {
		p.EmitPluginInfo(plugin.ID())
	}
	return nil
}

func cmdTransportPlay(p *Pipe, args []string) error {
	t := p.engine.Transport()
	t.Playing = true
	p.engine.SetTransport(t)
	return nil
}

func cmdTransportPause(p *Pipe, args []string) error {
	t := p.engine.Transport()
	t.Playing = false
	p.engine.SetTransport(t)
	return nil
}

func cmdTransportBpm(p *Pipe, args []string) error {
	bpm, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return err
	}
	t := p.engine.Transport()
	t.BeatsPerMinute = bpm
	p.engine.SetTransport(t)
	return nil
}

func cmdTransportRelocate(p *Pipe, args []string) error {
	frame, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return err
	}
	t := p.engine.Transport()
	t.Frame = frame
	p.engine.SetTransport(t)
	return nil
}

func cmdRemovePlugin(p *Pipe, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	return p.engine.Dispatcher().RemovePlugin(id)
}

func cmdRemoveAllPlugins(p *Pipe, args []string) error {
	return p.engine.Dispatcher().RemoveAllPlugins()
}

func cmdLoadPluginState(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	return plugin.SetChunkData(data)
}

func cmdSavePluginState(p *Pipe, args []string) error {
	_, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	return cmdUnsupported(p, args)
}

func cmdSetActive(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	active, err := strconv.ParseBool(args[1])
	if err != nil {
		return err
	}
	plugin.SetActive(active)
	return nil
}

func mixCommand(p *Pipe, args []string, apply func(*carlahost.MixControls, float32)) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return err
	}
	mix := plugin.Mix()
	apply(&mix, float32(v))
	plugin.SetMix(mix)
	return nil
}

func cmdSetDryWet(p *Pipe, args []string) error {
	return mixCommand(p, args, func(m *carlahost.MixControls, v float32) { m.DryWet = v })
}

func cmdSetVolume(p *Pipe, args []string) error {
	return mixCommand(p, args, func(m *carlahost.MixControls, v float32) { m.Volume = v })
}

func cmdSetBalanceLeft(p *Pipe, args []string) error {
	return mixCommand(p, args, func(m *carlahost.MixControls, v float32) { m.BalanceLeft = v })
}

func cmdSetBalanceRight(p *Pipe, args []string) error {
	return mixCommand(p, args, func(m *carlahost.MixControls, v float32) { m.BalanceRight = v })
}

func cmdSetPanning(p *Pipe, args []string) error {
	return mixCommand(p, args, func(m *carlahost.MixControls, v float32) { m.Panning = v })
}

func cmdSetCtrlChannel(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	ch, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	mix := plugin.Mix()
	mix.CtrlChannel = int8(ch)
	plugin.SetMix(mix)
	return nil
}

func cmdSetParameterValue(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(args[2], 32)
	if err != nil {
		return err
	}
	return plugin.SetParameterValue(idx, float32(v))
}

func cmdSetParameterMidiChannel(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	ch, err := strconv.Atoi(args[2])
	if err != nil {
		return err
	}
	return plugin.SetParameterMidiChannel(idx, uint8(ch))
}

func cmdSetParameterMidiCC(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	cc, err := strconv.Atoi(args[2])
	if err != nil {
		return err
	}
	return plugin.SetParameterMidiCC(idx, int16(cc))
}

func cmdSetProgram(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	return plugin.SetProgram(idx)
}

func cmdSetMidiProgram(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	return plugin.SetMidiProgram(idx)
}

func cmdSetCustomData(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	return plugin.SetCustomData(carlahost.CustomDataEntry{Type: args[1], Key: args[2], Value: args[3]})
}

func cmdSetChunkData(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	return plugin.SetChunkData([]byte(args[1]))
}

func cmdPrepareForSave(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	return plugin.PrepareForSave(func() {
		p.EmitRuntimeInfo()
		p.EmitTransport(p.engine.Transport())
	})
}

func cmdResetParameters(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	for i := 0; i < plugin.ParameterCount(); i++ {
		param, ok := plugin.Parameter(i)
		if !ok {
			continue
		}
		if err := plugin.SetParameterValue(i, param.Ranges.Def); err != nil {
			return err
		}
	}
	return nil
}

func cmdRandomizeParameters(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	for i := 0; i < plugin.ParameterCount(); i++ {
		param, ok := plugin.Parameter(i)
		if !ok {
			continue
		}
		mid := param.Ranges.Min + (param.Ranges.Max-param.Ranges.Min)/2
		if err := plugin.SetParameterValue(i, mid); err != nil {
			return err
		}
	}
	return nil
}

func cmdSendMidiNote(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	channel, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	note, err := strconv.Atoi(args[2])
	if err != nil {
		return err
	}
	velocity, err := strconv.Atoi(args[3])
	if err != nil {
		return err
	}
	sender, ok := plugin.(interface{ SendUiNote(channel, note, velocity uint8) })
	if !ok {
		return &unsupportedError{}
	}
	sender.SendUiNote(uint8(channel), uint8(note), uint8(velocity))
	return nil
}

func cmdShowCustomUi(p *Pipe, args []string) error {
	plugin, err := p.resolvePlugin(args[0])
	if err != nil {
		return err
	}
	show, err := strconv.ParseBool(args[1])
	if err != nil {
		return err
	}
	if shower, ok := plugin.(interface{ UiShow(bool) }); ok {
		shower.UiShow(show)
		return nil
	}
	return &unsupportedError{}
}

func (p *Pipe) resolvePlugin(idArg string) (carlahost.PluginHandle, error) {
	id, err := strconv.Atoi(idArg)
	if err != nil {
		return nil, err
	}
	plugin, ok := p.engine.GetPlugin(id)
	if !ok {
		return nil, &pluginNotFoundError{id: id}
	}
	return plugin, nil
}

type pluginNotFoundError struct{ id int }

func (e *pluginNotFoundError) Error() string {
	return "plugin " + strconv.Itoa(e.id) + " not found"
}
