package carlahost

import (
	"go.uber.org/zap"
)

// UiIdler is implemented by a PluginHandle variant that exposes a
// custom UI needing a periodic tick on the host's main thread.
type UiIdler interface {
	UiIdle()
}

// Pinger is implemented by a PluginHandle variant that maintains a
// liveness rendezvous with something outside this process.
type Pinger interface {
	Ping()
}

// UIPipe is the narrow surface Scheduler drives on every idle tick:
// pump one batch of inbound commands, then emit the periodic telemetry
// frames the control pipe protocol defines.
type UIPipe interface {
	PumpInbound() error
	EmitRuntimeInfo()
	EmitTransport(TransportTimeInfo)
	EmitPeaks(pluginID int, in, out [2]float32)
	EmitParameterValue(pluginID, paramIndex int, value float32)
	EmitCallback(PostRtEvent)
}

// Scheduler is the cooperative idle pump the outer host calls on its
// main thread: per-plugin UI idle hooks, a UI pipe pump, and a post-RT
// event drain, in that fixed order.
type Scheduler struct {
	engine *Engine
	pipe   UIPipe
	logger *zap.Logger

	postBatchSize int
}

// NewScheduler creates a scheduler bound to engine and pipe. pipe may
// be nil, in which case the UI pipe pump step is skipped.
func NewScheduler(engine *Engine, pipe UIPipe, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:        engine,
		pipe:          pipe,
		logger:        logger,
		postBatchSize: 64,
	}
}

// Tick runs one uiIdle pass.
func (s *Scheduler) Tick() {
	s.idlePlugins()
	s.pumpUIPipe()
	s.drainPostRT()
}

// idlePlugins calls UiIdle on every plugin hinting HAS_CUSTOM_UI or
// NEEDS_UI_MAIN_THREAD, swallowing a panic from any one plugin so a
// single misbehaving UI never stalls the others, and pings every
// bridged plugin to keep its liveness counter current.
func (s *Scheduler) idlePlugins() {
	for _, p := range s.engine.Plugins() {
		hints := p.Identity().Hints
		if hints&(HintHasCustomUI|HintNeedsUiMainThread) != 0 {
			if idler, ok := p.(UiIdler); ok {
				s.callUiIdle(p.ID(), idler)
			}
		}
		if pinger, ok := p.(Pinger); ok {
			pinger.Ping()
		}
	}
}

func (s *Scheduler) callUiIdle(pluginID int, idler UiIdler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("plugin uiIdle panicked", zap.Int("plugin", pluginID), zap.Any("recover", r))
		}
	}()
	idler.UiIdle()
}

// pumpUIPipe drains one batch of inbound commands, then emits the
// per-tick telemetry every connected control pipe client expects.
func (s *Scheduler) pumpUIPipe() {
	if s.pipe == nil {
		return
	}
	if err := s.pipe.PumpInbound(); err != nil {
		s.logger.Warn("ui pipe inbound pump failed", zap.Error(err))
	}
	s.pipe.EmitRuntimeInfo()
	s.pipe.EmitTransport(s.engine.Transport())
	for _, p := range s.engine.Plugins() {
		in, out := p.Peaks()
		s.pipe.EmitPeaks(p.ID(), in, out)
		for i := 0; i < p.ParameterCount(); i++ {
			param, ok := p.Parameter(i)
			if !ok || param.Kind != ParamOutput {
				continue
			}
			s.pipe.EmitParameterValue(p.ID(), i, param.Value)
		}
		s.emitMixPseudoParameters(p)
	}
}

// emitMixPseudoParameters sends the pseudo-parameter PARAMVAL frames the
// outer host ABI exposes alongside a plugin's own table (ParameterVolume
// and friends in abi.go), so set_volume/set_dry_wet/etc. become visible
// on the client's next idle tick.
func (s *Scheduler) emitMixPseudoParameters(p PluginHandle) {
	mix := p.Mix()
	s.pipe.EmitParameterValue(p.ID(), ParameterVolume, mix.Volume)
	s.pipe.EmitParameterValue(p.ID(), ParameterDryWet, mix.DryWet)
	s.pipe.EmitParameterValue(p.ID(), ParameterBalanceLeft, mix.BalanceLeft)
	s.pipe.EmitParameterValue(p.ID(), ParameterBalanceRight, mix.BalanceRight)
	s.pipe.EmitParameterValue(p.ID(), ParameterPanning, mix.Panning)
	s.pipe.EmitParameterValue(p.ID(), ParameterCtrlChannel, float32(mix.CtrlChannel))
}

// drainPostRT moves one batch of post-RT events from the active
// graph's event bus into the callback/UI notification path.
func (s *Scheduler) drainPostRT() {
	events := s.engine.Events()
	if events == nil {
		return
	}
	events.SpliceIdle()
	ready := events.DrainReadyBatch(s.postBatchSize)
	for _, e := range ready {
		if s.pipe != nil {
			s.pipe.EmitCallback(e)
		}
	}
}
