package carlahost

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OperationType enumerates the serialized topology/background
// operations the Dispatcher queues: plugin add/remove, patchbay
// connect/disconnect, buffer-size / sample-rate / offline-mode changes,
// and the "get-internal-handle" dispatcher opcode.
type OperationType string

const (
	OpAddPlugin          OperationType = "add_plugin"
	OpRemovePlugin       OperationType = "remove_plugin"
	OpRemoveAllPlugins   OperationType = "remove_all_plugins"
	OpPatchbayConnect    OperationType = "patchbay_connect"
	OpPatchbayDisconnect OperationType = "patchbay_disconnect"
	OpBufferSizeChanged  OperationType = "buffer_size_changed"
	OpSampleRateChanged  OperationType = "sample_rate_changed"
	OpSetOffline         OperationType = "set_offline"
	OpGetInternalHandle  OperationType = "get_internal_handle"
)

// DispatcherOperation is a queued unit of work with a response channel.
type DispatcherOperation struct {
	Type     OperationType
	Data     interface{}
	Response chan DispatcherResult
}

// DispatcherResult reports the outcome of one dispatched operation.
type DispatcherResult struct {
	Success bool
	Data    interface{}
	Error   error
}

// Dispatcher serializes topology changes against a soft 300ms deadline,
// guarding the engine's plugin table and graph from concurrent mutation.
type Dispatcher struct {
	engine *Engine
	logger *zap.Logger

	mu         sync.RWMutex
	isRunning  bool
	operations chan DispatcherOperation
	stopChan   chan struct{}

	lastOperationDuration time.Duration
	maxOperationDuration  time.Duration
}

// NewDispatcher creates a dispatcher bound to engine.
func NewDispatcher(engine *Engine, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		engine:               engine,
		logger:               logger,
		operations:           make(chan DispatcherOperation, 100),
		stopChan:             make(chan struct{}),
		maxOperationDuration: 300 * time.Millisecond,
	}
}

func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isRunning {
		return fmt.Errorf("carlahost: dispatcher is already running")
	}
	d.isRunning = true
	d.stopChan = make(chan struct{})
	go d.dispatchLoop(d.stopChan)
	return nil
}

func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isRunning {
		return nil
	}
	close(d.stopChan)
	d.isRunning = false
	return nil
}

func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}

// GetPerformanceStats returns the dispatcher's performance statistics.
func (d *Dispatcher) GetPerformanceStats() (lastDuration, maxDuration time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastOperationDuration, d.maxOperationDuration
}

// dispatchLoop takes its own stop channel rather than reading d.stopChan
// directly: a Stop()/Start() cycle replaces d.stopChan with a fresh one, and
// a loop that read the field instead of its own captured copy would race the
// new loop's select against the old (already-closed) channel.
func (d *Dispatcher) dispatchLoop(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case op := <-d.operations:
			start := time.Now()
			result := d.executeOperation(op)
			duration := time.Since(start)

			d.mu.Lock()
			d.lastOperationDuration = duration
			if duration > d.maxOperationDuration {
				d.logger.Warn("topology change exceeded soft deadline",
					zap.Duration("duration", duration), zap.String("op", string(op.Type)))
			}
			d.mu.Unlock()

			op.Response <- result
		}
	}
}

func (d *Dispatcher) executeOperation(op DispatcherOperation) DispatcherResult {
	switch op.Type {
	case OpAddPlugin:
		p := op.Data.(PluginHandle)
		err := d.engine.addPlugin(p)
		return DispatcherResult{Success: err == nil, Data: p, Error: err}

	case OpRemovePlugin:
		id := op.Data.(int)
		err := d.engine.removePlugin(id)
		return DispatcherResult{Success: err == nil, Error: err}

	case OpRemoveAllPlugins:
		err := d.engine.removeAllPlugins()
		return DispatcherResult{Success: err == nil, Error: err}

	case OpPatchbayConnect:
		data := op.Data.(patchbayConnectData)
		id, err := d.engine.patchbayConnect(data.srcGroup, data.srcPort, data.dstGroup, data.dstPort)
		return DispatcherResult{Success: err == nil, Data: id, Error: err}

	case OpPatchbayDisconnect:
		id := op.Data.(int)
		err := d.engine.patchbayDisconnect(id)
		return DispatcherResult{Success: err == nil, Error: err}

	case OpBufferSizeChanged:
		n := op.Data.(int)
		err := d.engine.applyBufferSizeChanged(n)
		return DispatcherResult{Success: err == nil, Error: err}

	case OpSampleRateChanged:
		r := op.Data.(float64)
		err := d.engine.applySampleRateChanged(r)
		return DispatcherResult{Success: err == nil, Error: err}

	case OpSetOffline:
		offline := op.Data.(bool)
		d.engine.applySetOffline(offline)
		return DispatcherResult{Success: true}

	case OpGetInternalHandle:
		id := op.Data.(int)
		p, ok := d.engine.GetPlugin(id)
		if !ok {
			return DispatcherResult{Success: false, Error: fmt.Errorf("carlahost: no plugin at index %d", id)}
		}
		return DispatcherResult{Success: true, Data: p}

	default:
		return DispatcherResult{Success: false, Error: fmt.Errorf("carlahost: unknown operation type: %s", op.Type)}
	}
}

type patchbayConnectData struct {
	srcGroup, srcPort, dstGroup, dstPort int
}

// submit queues op and blocks for its result, the pattern every public
// Dispatcher.* method below uses.
func (d *Dispatcher) submit(opType OperationType, data interface{}) DispatcherResult {
	response := make(chan DispatcherResult, 1)
	d.operations <- DispatcherOperation{Type: opType, Data: data, Response: response}
	return <-response
}

func (d *Dispatcher) AddPlugin(p PluginHandle) error {
	return d.submit(OpAddPlugin, p).Error
}

func (d *Dispatcher) RemovePlugin(id int) error {
	return d.submit(OpRemovePlugin, id).Error
}

func (d *Dispatcher) RemoveAllPlugins() error {
	return d.submit(OpRemoveAllPlugins, nil).Error
}

func (d *Dispatcher) PatchbayConnect(srcGroup, srcPort, dstGroup, dstPort int) (int, error) {
	result := d.submit(OpPatchbayConnect, patchbayConnectData{srcGroup, srcPort, dstGroup, dstPort})
	if !result.Success {
		return 0, result.Error
	}
	return result.Data.(int), nil
}

func (d *Dispatcher) PatchbayDisconnect(id int) error {
	return d.submit(OpPatchbayDisconnect, id).Error
}

func (d *Dispatcher) BufferSizeChanged(n int) error {
	return d.submit(OpBufferSizeChanged, n).Error
}

func (d *Dispatcher) SampleRateChanged(r float64) error {
	return d.submit(OpSampleRateChanged, r).Error
}

func (d *Dispatcher) SetOffline(offline bool) {
	d.submit(OpSetOffline, offline)
}

func (d *Dispatcher) GetInternalHandle(id int) (PluginHandle, error) {
	result := d.submit(OpGetInternalHandle, id)
	if !result.Success {
		return nil, result.Error
	}
	return result.Data.(PluginHandle), nil
}
