package carlahost

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// EngineLifecycle tracks the outer-host-facing lifecycle of an Engine.
type EngineLifecycle int

const (
	LifecycleCreated EngineLifecycle = iota
	LifecycleInitialized
	LifecycleActive
	LifecycleDeactivated
	LifecycleClosed
)

// TransportTimeInfo is the engine's notion of playhead position, either
// driven by the outer host or advanced internally depending on
// EngineOptions.TransportMode.
type TransportTimeInfo struct {
	Frame   uint64
	Playing bool

	ValidBBT       bool
	Bar            int32
	Beat           int32
	Tick           int32
	BeatsPerMinute float64
}

// engineSnapshot is the immutable view of the fields Engine.Process needs
// on every audio cycle: bufferSize, lifecycle, and the active graph.
// Every mutator that changes one of these publishes a fresh snapshot
// while still holding e.mu; Process reads it via a single atomic load,
// so the RT audio thread never blocks on e.mu.
type engineSnapshot struct {
	bufferSize int
	lifecycle  EngineLifecycle
	graph      Graph
}

// Engine owns the plugin list, the graph, the transport/time state, and
// the options struct: a mutex-guarded plugin table with an embedded
// dispatcher and serializer, driving a processing graph instead of a
// fixed channel strip.
type Engine struct {
	mu        sync.RWMutex
	lifecycle EngineLifecycle

	options    EngineOptions
	bufferSize int
	sampleRate float64

	plugins    map[int]PluginHandle
	nextPlugin int

	graph Graph

	transport    TransportTimeInfo
	frameCounter atomic.Uint64 // mirrors transport.Frame, advanced lock-free by Process

	snapshot atomic.Value // *engineSnapshot, read lock-free by Process

	dispatcher *Dispatcher
	serializer *Serializer

	errorHandler ErrorHandler
	logger       *zap.Logger

	lastError string

	offline atomic.Bool // last value announced via OpSetOffline, propagated to every plugin
}

// publishSnapshot refreshes the lock-free snapshot Process reads.
// Callers must hold e.mu (read or write) while calling this, since it
// reads e.bufferSize/e.lifecycle/e.graph directly.
func (e *Engine) publishSnapshot() {
	e.snapshot.Store(&engineSnapshot{
		bufferSize: e.bufferSize,
		lifecycle:  e.lifecycle,
		graph:      e.graph,
	})
}

// EngineConfig holds construction-time configuration for NewEngine,
// covering buffer size, sample rate, options, and error handling.
type EngineConfig struct {
	Options    EngineOptions
	BufferSize int
	SampleRate float64

	ErrorHandler ErrorHandler
	Logger       *zap.Logger
}

// NewEngine validates the requested buffer size and sample rate,
// constructs an Engine, starts its dispatcher, and returns it in the
// Initialized lifecycle state.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = 512
	} else if config.BufferSize < 16 || config.BufferSize > 8192 {
		return nil, fmt.Errorf("carlahost: BufferSize must be between 16 and 8192 samples, got %d", config.BufferSize)
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	} else if config.SampleRate < 8000 || config.SampleRate > 384000 {
		return nil, fmt.Errorf("carlahost: SampleRate must be between 8000 and 384000 Hz, got %.0f", config.SampleRate)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = NewDefaultErrorHandler(config.Logger)
	}

	opts := config.Options
	if opts.MaxParameters == 0 {
		opts = DefaultEngineOptions()
	}
	opts.LockInitOptions()

	e := &Engine{
		lifecycle:    LifecycleCreated,
		options:      opts,
		bufferSize:   config.BufferSize,
		sampleRate:   config.SampleRate,
		plugins:      make(map[int]PluginHandle),
		errorHandler: config.ErrorHandler,
		logger:       config.Logger,
	}
	e.graph = e.newGraphForMode(opts.ProcessMode)

	e.dispatcher = NewDispatcher(e, config.Logger)
	e.serializer = NewSerializer(e)

	if err := e.dispatcher.Start(); err != nil {
		return nil, fmt.Errorf("carlahost: starting dispatcher: %w", err)
	}

	e.lifecycle = LifecycleInitialized
	e.publishSnapshot()
	return e, nil
}

func (e *Engine) newGraphForMode(mode ProcessMode) Graph {
	if mode == ProcessModePatchbay {
		return NewPatchbay(e.options.MaxParameters)
	}
	return NewRack(e.options.ForceStereo, e.options.MaxParameters)
}

// Activate flips isActive on; it never touches plugin state itself,
// since each plugin's activity follows user intent independently.
func (e *Engine) Activate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lifecycle == LifecycleClosed {
		return fmt.Errorf("carlahost: engine is closed")
	}
	e.lifecycle = LifecycleActive
	e.publishSnapshot()
	return nil
}

func (e *Engine) Deactivate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lifecycle == LifecycleClosed {
		return nil
	}
	e.lifecycle = LifecycleDeactivated
	e.publishSnapshot()
	return nil
}

func (e *Engine) IsActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lifecycle == LifecycleActive
}

// Lifecycle reports the engine's current EngineLifecycle state.
func (e *Engine) Lifecycle() EngineLifecycle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lifecycle
}

// Close stops the background dispatcher and every bridged plugin's
// worker process, transitioning to Closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	plugins := make([]PluginHandle, 0, len(e.plugins))
	for _, p := range e.plugins {
		plugins = append(plugins, p)
	}
	e.lifecycle = LifecycleClosed
	e.publishSnapshot()
	e.mu.Unlock()

	if err := e.dispatcher.Stop(); err != nil {
		e.errorHandler.HandleError(err)
	}
	for _, p := range plugins {
		if err := p.Close(); err != nil {
			e.errorHandler.HandleError(err)
		}
	}
	return nil
}

// Process runs one audio cycle through the active graph. It reads an
// atomically-published engineSnapshot instead of e.mu, so the RT audio
// thread never blocks on the master lock. If frames exceeds the
// snapshotted buffer size, it falls back to the locked resize path used
// by a real buffer-size change — a rare, inherently non-RT-safe
// exception to the engine's buffer-size contract, not the steady-state
// cycle.
func (e *Engine) Process(audioIn, audioOut, cvIn, cvOut [][]float32, midiIn []EngineEvent, frames int) {
	snap, _ := e.snapshot.Load().(*engineSnapshot)
	if snap == nil {
		zeroAll(audioOut)
		zeroAll(cvOut)
		return
	}

	if frames > snap.bufferSize {
		e.mu.Lock()
		e.lifecycle = LifecycleDeactivated
		e.applyBufferSizeChangedLocked(frames)
		e.lifecycle = LifecycleActive
		e.publishSnapshot()
		e.mu.Unlock()
		snap, _ = e.snapshot.Load().(*engineSnapshot)
	}

	e.frameCounter.Add(uint64(frames))

	if snap.lifecycle != LifecycleActive {
		zeroAll(audioOut)
		zeroAll(cvOut)
		return
	}
	snap.graph.Process(audioIn, audioOut, cvIn, cvOut, midiIn, frames)
}

func (e *Engine) applyBufferSizeChangedLocked(n int) {
	e.bufferSize = n
}

// BufferSizeChanged routes a buffer-size change through the dispatcher
// so it serializes against concurrent topology changes.
func (e *Engine) BufferSizeChanged(n int) error {
	return e.dispatcher.BufferSizeChanged(n)
}

func (e *Engine) applyBufferSizeChanged(n int) error {
	if n <= 0 {
		return fmt.Errorf("carlahost: buffer size must be positive, got %d", n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bufferSize = n
	e.publishSnapshot()
	return nil
}

func (e *Engine) SampleRateChanged(r float64) error {
	return e.dispatcher.SampleRateChanged(r)
}

func (e *Engine) applySampleRateChanged(r float64) error {
	if r <= 0 {
		return fmt.Errorf("carlahost: sample rate must be positive, got %.0f", r)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sampleRate = r
	return nil
}

// applySetOffline stores the engine-wide offline flag and pushes it onto
// every plugin currently in the table, so each bridged plugin's next
// Process call picks the right CommitAndProcess wait behavior without
// the RT path ever touching e.mu.
func (e *Engine) applySetOffline(offline bool) {
	e.offline.Store(offline)
	e.mu.RLock()
	plugins := make([]PluginHandle, 0, len(e.plugins))
	for _, p := range e.plugins {
		plugins = append(plugins, p)
	}
	e.mu.RUnlock()
	for _, p := range plugins {
		if o, ok := p.(interface{ SetOfflineMode(bool) }); ok {
			o.SetOfflineMode(offline)
		}
	}
}

// IsOffline reports the engine's last-announced offline flag.
func (e *Engine) IsOffline() bool { return e.offline.Load() }

// BufferSize and SampleRate report the engine's current cycle geometry.
func (e *Engine) BufferSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bufferSize
}

func (e *Engine) SampleRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sampleRate
}

func (e *Engine) Options() EngineOptions {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.options
}

func (e *Engine) applyOptions(opts EngineOptions) {
	e.mu.Lock()
	defer e.mu.Unlock()
	opts.processModeLocked = e.options.processModeLocked
	opts.transportModeLocked = e.options.transportModeLocked
	e.options = opts
}

// SetEngineOption applies a single option key/value pair.
func (e *Engine) SetEngineOption(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.options.Set(key, value)
}

// Transport reports the engine's transport state, with Frame taken from
// the lock-free counter Process advances every cycle rather than the
// mutex-guarded struct, since Process never writes e.transport.Frame
// directly.
func (e *Engine) Transport() TransportTimeInfo {
	e.mu.RLock()
	t := e.transport
	e.mu.RUnlock()
	t.Frame = e.frameCounter.Load()
	return t
}

// SetTransport replaces the engine's transport state, including
// resetting the lock-free frame counter Process advances.
func (e *Engine) SetTransport(t TransportTimeInfo) {
	e.mu.Lock()
	e.transport = t
	e.mu.Unlock()
	e.frameCounter.Store(t.Frame)
}

func (e *Engine) LastError() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
	e.errorHandler.HandleError(err)
}

// addPlugin assigns the lowest free plugin id, records it on the plugin,
// adds to both the plugin table and the active graph, and is invoked
// exclusively by the dispatcher's background goroutine so the plugin
// table never races against a topology read.
func (e *Engine) addPlugin(p PluginHandle) error {
	if o, ok := p.(interface{ SetOfflineMode(bool) }); ok {
		o.SetOfflineMode(e.offline.Load())
	}

	e.mu.Lock()
	id := 0
	for _, taken := e.plugins[id]; taken; _, taken = e.plugins[id] {
		id++
	}
	if id >= e.nextPlugin {
		e.nextPlugin = id + 1
	}
	if s, ok := p.(interface{ setID(int) }); ok {
		s.setID(id)
	}
	e.plugins[id] = p
	graph := e.graph
	e.mu.Unlock()

	if err := graph.AddPlugin(p); err != nil {
		e.mu.Lock()
		delete(e.plugins, id)
		e.mu.Unlock()
		return err
	}
	return nil
}

// setID records the table index addPlugin assigned to the plugin, so
// ID() matches the plugin's key in the engine's table.
func (c *pluginCore) setID(id int) { c.id = id }

func (e *Engine) removePlugin(id int) error {
	e.mu.Lock()
	p, ok := e.plugins[id]
	graph := e.graph
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("carlahost: no plugin at index %d", id)
	}
	if err := graph.RemovePlugin(id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.plugins, id)
	e.mu.Unlock()
	return p.Close()
}

func (e *Engine) removeAllPlugins() error {
	e.mu.Lock()
	ids := make([]int, 0, len(e.plugins))
	for id := range e.plugins {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		if err := e.removePlugin(id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) patchbayConnect(srcGroup, srcPort, dstGroup, dstPort int) (int, error) {
	pb, ok := e.graph.(*Patchbay)
	if !ok {
		return 0, fmt.Errorf("carlahost: patchbay operations require Patchbay mode")
	}
	return pb.Connect(srcGroup, srcPort, dstGroup, dstPort)
}

func (e *Engine) patchbayDisconnect(id int) error {
	pb, ok := e.graph.(*Patchbay)
	if !ok {
		return fmt.Errorf("carlahost: patchbay operations require Patchbay mode")
	}
	return pb.Disconnect(id)
}

// GetPlugin returns the plugin at id and whether it exists.
func (e *Engine) GetPlugin(id int) (PluginHandle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.plugins[id]
	return p, ok
}

// Plugins returns the plugin table in ascending id order. Ids are not
// renumbered when a plugin is removed, so after a removal the ids can
// have a gap until addPlugin fills the lowest free id again.
func (e *Engine) Plugins() []PluginHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PluginHandle, 0, len(e.plugins))
	for id := 0; id < e.nextPlugin; id++ {
		if p, ok := e.plugins[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) PluginCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.plugins)
}

func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }
func (e *Engine) Serializer() *Serializer { return e.serializer }

// Events returns the active graph's shared post-RT event bus.
func (e *Engine) Events() *EventBus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph.Events()
}

// GetState and SetState delegate to the Serializer, matching the
// outer-host ABI's get_state/set_state pair.
func (e *Engine) GetState() ProjectState {
	return e.serializer.GetState()
}

func (e *Engine) SetState(state ProjectState, factory func(PluginState) (PluginHandle, error)) error {
	return e.serializer.SetState(state, factory)
}
