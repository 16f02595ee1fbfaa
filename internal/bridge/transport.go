// Package bridge implements the plugin bridge IPC transport: the
// shared-memory ring buffers, opcode protocol, and synchronization
// semaphores that let an RT audio cycle drive and wait for an external
// worker process.
package bridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shaban/carlahost/internal/bridgesem"
	"github.com/shaban/carlahost/internal/ringbuf"
	"github.com/shaban/carlahost/internal/shm"
)

// Default timeouts for the cycle rendezvous and shutdown sequence.
const (
	DefaultProcessTimeout     = 2 * time.Second
	DefaultNonRTTimeout       = 5 * time.Second
	DefaultShutdownWait       = 3 * time.Second
	DefaultKillGrace          = 2 * time.Second
	DefaultReadyPollTimeout   = 10 * time.Second
	DefaultPrepareSaveTimeout = 6 * time.Second
)

// Config describes the worker process and the initial sizing needed to
// create the four shared-memory regions.
type Config struct {
	BridgeBinary string
	PluginType   string
	Filename     string
	Label        string
	UniqueID     int64

	AudioIn, AudioOut int
	CVIn, CVOut       int
	BufferSize        int
	SampleRate        float64

	// EngineOptionEnv mirrors ENGINE_OPTION_* environment variables
	// passed to the child.
	EngineOptionEnv map[string]string

	// IsWindowsOnUnix selects WINEDEBUG=-all for a Wine-hosted worker.
	IsWindowsOnUnix bool

	ProcessTimeout time.Duration
	NonRTTimeout   time.Duration
	Logger         *zap.Logger
}

// Transport owns the four shared-memory regions and the semaphore pair
// for a single bridged plugin, plus the child worker process.
type Transport struct {
	cfg    Config
	logger *zap.Logger

	audioPool *shm.AudioPool
	rtClient  *shm.Region
	nonRTC    *shm.Region
	nonRTS    *shm.Region

	rtClientRing *ringbuf.RingBuffer
	nonRTCRing   *ringbuf.RingBuffer
	nonRTSRing   *ringbuf.RingBuffer

	sem bridgesem.Pair

	nonRTMu sync.Mutex // serializes non-RT client writes

	cmd *exec.Cmd

	timedOut      atomic.Bool
	lastPongAt    atomic.Int64 // unix nanos of the last observed Pong
	quitRequested atomic.Bool
	crashed       atomic.Bool

	ready    chan struct{}
	errCh    chan string
	waitDone chan struct{} // closed once superviseChild's cmd.Wait() returns

	onCrash func(message string)
}

// rtClientHeader reserves space for the semaphore pair plus a
// BridgeTimeInfo-equivalent struct before the ring buffer proper. The time-info struct itself is modeled in engine-level code; the
// transport only needs to agree on the offset.
const (
	timeInfoSize   = 64
	rtClientHeader = 2*bridgesem.Size + timeInfoSize
)

// TimeInfoSize and RTClientHeaderSize expose the same layout constants
// to the worker binary (cmd/bridge-worker), which attaches to the
// RT-client region from the other side and must agree on where the
// semaphore pair ends and the ring buffer proper begins.
const (
	TimeInfoSize       = timeInfoSize
	RTClientHeaderSize = rtClientHeader
)

// New creates the four regions, performs the initialization protocol
//, spawns the worker, and blocks (up to ~10s) for a Ready or
// Error opcode.
func New(cfg Config) (*Transport, error) {
	if cfg.ProcessTimeout == 0 {
		cfg.ProcessTimeout = DefaultProcessTimeout
	}
	if cfg.NonRTTimeout == 0 {
		cfg.NonRTTimeout = DefaultNonRTTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	suffix := shm.NewSuffix()

	pool, err := shm.NewAudioPool(suffix, cfg.AudioIn, cfg.AudioOut, cfg.CVIn, cfg.CVOut, cfg.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("bridge: audio pool: %w", err)
	}
	rtClient, err := shm.Create(shm.RoleRTClient, suffix, rtClientHeader+ringbuf.SizeSmall)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bridge: rt-client region: %w", err)
	}
	nonRTC, err := shm.Create(shm.RoleNonRTClient, suffix, ringbuf.SizeBig)
	if err != nil {
		pool.Close()
		rtClient.Close()
		return nil, fmt.Errorf("bridge: non-rt-client region: %w", err)
	}
	nonRTS, err := shm.Create(shm.RoleNonRTServer, suffix, ringbuf.SizeBig)
	if err != nil {
		pool.Close()
		rtClient.Close()
		nonRTC.Close()
		return nil, fmt.Errorf("bridge: non-rt-server region: %w", err)
	}

	t := &Transport{
		cfg:       cfg,
		logger:    logger,
		audioPool: pool,
		rtClient:  rtClient,
		nonRTC:    nonRTC,
		nonRTS:    nonRTS,
		sem:       bridgesem.PairAt(rtClient.Bytes()[:2*bridgesem.Size]),
		ready:     make(chan struct{}),
		errCh:     make(chan string, 1),
		waitDone:  make(chan struct{}),
	}
	t.lastPongAt.Store(time.Now().UnixNano())
	t.rtClientRing = ringbuf.New(rtClient.Bytes()[rtClientHeader:])
	t.nonRTCRing = ringbuf.New(nonRTC.Bytes())
	t.nonRTSRing = ringbuf.New(nonRTS.Bytes())

	// Initialization protocol: write region sizes and initial
	// buffer-size/sample-rate opcodes before spawning the worker.
	t.nonRTCRing.WriteOpcode(uint32(NonRTClientNull))
	t.nonRTCRing.WriteUInt(uint32(len(rtClient.Bytes())))
	t.nonRTCRing.WriteUInt(uint32(len(nonRTC.Bytes())))
	t.nonRTCRing.WriteUInt(uint32(len(nonRTS.Bytes())))
	t.nonRTCRing.WriteOpcode(uint32(NonRTClientSetBufferSize))
	t.nonRTCRing.WriteUInt(uint32(cfg.BufferSize))
	t.nonRTCRing.WriteOpcode(uint32(NonRTClientSetSampleRate))
	t.nonRTCRing.WriteDouble(cfg.SampleRate)
	t.nonRTCRing.CommitWrite()

	if err := t.spawn(suffix); err != nil {
		close(t.waitDone)
		t.closeRegions()
		return nil, err
	}
	go t.superviseChild()

	if err := t.awaitReady(); err != nil {
		t.Shutdown()
		return nil, err
	}

	return t, nil
}

func (t *Transport) spawn(suffix string) error {
	env := os.Environ()
	for k, v := range t.cfg.EngineOptionEnv {
		env = append(env, fmt.Sprintf("ENGINE_OPTION_%s=%s", k, v))
	}
	env = append(env, "ENGINE_BRIDGE_SHM_IDS="+suffix+suffix+suffix+suffix)
	if t.cfg.IsWindowsOnUnix {
		env = append(env, "WINEDEBUG=-all")
	}

	cmd := exec.Command(t.cfg.BridgeBinary, t.cfg.PluginType, t.cfg.Filename, t.cfg.Label, fmt.Sprintf("%d", t.cfg.UniqueID))
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("bridge: spawn worker: %w", err)
	}
	t.cmd = cmd
	return nil
}

func (t *Transport) awaitReady() error {
	deadline := time.Now().Add(DefaultReadyPollTimeout)
	for time.Now().Before(deadline) {
		if op, ok := t.nonRTSRing.ReadOpcode(); ok {
			switch Opcode(op) {
			case NonRTServerReady:
				return nil
			case NonRTServerError:
				msg, _ := t.nonRTSRing.ReadCustomData()
				return fmt.Errorf("bridge: worker reported error during init: %s", string(msg))
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("bridge: timed out waiting for worker ready signal")
}

// superviseChild is the sole caller of cmd.Wait (os/exec forbids calling
// it more than once); Shutdown waits on waitDone instead of calling Wait
// itself.
func (t *Transport) superviseChild() {
	if t.cmd == nil {
		close(t.waitDone)
		return
	}
	err := t.cmd.Wait()
	close(t.waitDone)
	if t.quitRequested.Load() {
		return
	}
	t.crashed.Store(true)
	t.audioPool.Zero()
	name := t.cfg.Filename
	msg := fmt.Sprintf("Plugin '%s' has crashed! Saving now will lose its current settings.", name)
	t.logger.Error("bridge worker crashed", zap.String("plugin", name), zap.Error(err))
	if t.onCrash != nil {
		t.onCrash(msg)
	}
}

// OnCrash registers a callback invoked exactly once if the worker exits
// without a requested Quit.
func (t *Transport) OnCrash(fn func(message string)) { t.onCrash = fn }

// HasCrashed reports whether the worker has died unexpectedly.
func (t *Transport) HasCrashed() bool { return t.crashed.Load() }

// IsTimedOut reports the sticky timeout flag: once set, it is only cleared by a later successful WaitForClient.
func (t *Transport) IsTimedOut() bool { return t.timedOut.Load() }

// NonRTServerRing exposes the raw server->client ring for protocol
// decoding that is specific to a plugin's state (parameter/program
// tables etc.), which this package doesn't know the shape of.
func (t *Transport) NonRTServerRing() *ringbuf.RingBuffer { return t.nonRTSRing }

// AudioPool exposes the shared audio region.
func (t *Transport) AudioPool() *shm.AudioPool { return t.audioPool }

// CommitNonRTClient runs fn with the non-RT-client ring and serializing
// mutex held, then commits. Every non-RT opcode is written this way.
func (t *Transport) CommitNonRTClient(fn func(r *ringbuf.RingBuffer)) {
	t.nonRTMu.Lock()
	defer t.nonRTMu.Unlock()
	fn(t.nonRTCRing)
	t.nonRTCRing.CommitWrite()
}

// WriteRTClient runs fn against the RT-client ring without committing;
// callers batch multiple RT opcodes (MIDI/control events) before a
// single CommitAndProcess.
func (t *Transport) WriteRTClient(fn func(r *ringbuf.RingBuffer)) {
	fn(t.rtClientRing)
}

// CommitAndProcess commits whatever was written to the RT-client ring,
// posts the server semaphore, and waits on the client semaphore for up
// to the configured process timeout (or indefinitely if offline is
// true). Returns false if the wait timed out, in which case the sticky
// timedOut flag is set and callers must silence the worker's outputs
// for this cycle.
func (t *Transport) CommitAndProcess(offline bool) bool {
	t.rtClientRing.CommitWrite()
	t.sem.Server.Post()

	timeout := t.cfg.ProcessTimeout
	if offline {
		timeout = 0
	}
	ok := t.sem.Client.Wait(timeout)
	if ok {
		t.timedOut.Store(false)
	} else {
		t.timedOut.Store(true)
	}
	return ok
}

// WaitForClient waits on the client semaphore directly, used by
// non-process paths (e.g. PrepareForSave polling) that need to wait
// without driving a full Process cycle.
func (t *Transport) WaitForClient(ctx context.Context, timeout time.Duration) bool {
	ok := t.sem.Client.WaitContext(ctx, timeout)
	if ok {
		t.timedOut.Store(false)
	} else {
		t.timedOut.Store(true)
	}
	return ok
}

// Ping posts a non-RT Ping opcode; the caller tracks elapsed time since
// the last Pong via NotePong to detect a dead UI bridge.
func (t *Transport) Ping() {
	t.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(NonRTClientPing))
	})
}

// NotePong resets the dead-worker clock; call when a Pong opcode is
// observed on the server ring.
func (t *Transport) NotePong() { t.lastPongAt.Store(time.Now().UnixNano()) }

// IsDeadByTimeout reports whether longer than timeout has elapsed since
// the last observed Pong, the scheduler's signal to disable a plugin
// whose worker has stopped responding.
func (t *Transport) IsDeadByTimeout(timeout time.Duration) bool {
	last := time.Unix(0, t.lastPongAt.Load())
	return time.Since(last) > timeout
}

// Shutdown performs the shutdown protocol: commit Quit on
// both non-RT-client and RT-client rings, wait up to ~3s on the client
// semaphore, then stop supervising; a still-running child is killed
// after a 2s grace period.
func (t *Transport) Shutdown() {
	t.quitRequested.Store(true)

	t.CommitNonRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(NonRTClientQuit))
	})
	t.WriteRTClient(func(r *ringbuf.RingBuffer) {
		r.WriteOpcode(uint32(RTClientQuit))
	})
	t.rtClientRing.CommitWrite()
	t.sem.Server.Post()

	t.sem.Client.Wait(DefaultShutdownWait)

	if t.cmd != nil && t.cmd.Process != nil {
		select {
		case <-t.waitDone:
		case <-time.After(DefaultKillGrace):
			t.cmd.Process.Kill()
			<-t.waitDone
		}
	}

	t.closeRegions()
}

func (t *Transport) closeRegions() {
	if t.audioPool != nil {
		t.audioPool.Close()
	}
	if t.rtClient != nil {
		t.rtClient.Close()
	}
	if t.nonRTC != nil {
		t.nonRTC.Close()
	}
	if t.nonRTS != nil {
		t.nonRTS.Close()
	}
}
