package main

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shaban/carlahost/internal/bridge"
	"github.com/shaban/carlahost/internal/bridgesem"
	"github.com/shaban/carlahost/internal/ringbuf"
	"github.com/shaban/carlahost/internal/shm"
)

// extNote is one outer-host-triggered note on/off queued by the
// NonRTClientUiNoteOn/Off opcode handlers; velocity 0 means note-off.
// Generalized from the original's extNotes mailbox (CarlaPluginBridge.cpp),
// the bridge-side counterpart of InProcessPlugin's drainExtNotes.
type extNote struct {
	channel, note, velocity uint8
}

// worker attaches to shared memory the parent engine already created
// and drives the server side of the bridge protocol: it answers
// non-RT commands at its own pace and rendezvous with the engine every
// RT cycle through the semaphore pair.
type worker struct {
	logger  *zap.Logger
	adapter Adapter

	rtClient *shm.Region
	nonRTC   *shm.Region
	nonRTS   *shm.Region
	pool     *shm.AudioPool

	rtClientRing *ringbuf.RingBuffer
	nonRTCRing   *ringbuf.RingBuffer
	nonRTSRing   *ringbuf.RingBuffer

	sem bridgesem.Pair

	bufferSize int
	sampleRate float64

	audioIn, audioOut int
	cvIn, cvOut       int

	audioInBufs, audioOutBufs [][]float32
	cvInBufs, cvOutBufs       [][]float32

	extNotesMu sync.Mutex
	extNotes   []extNote

	quit bool
}

// queueExtNote appends a UI-originated note to the mailbox; called from
// drainNonRTClient's NonRTClientUiNoteOn/Off cases.
func (w *worker) queueExtNote(channel, note, velocity uint8) {
	w.extNotesMu.Lock()
	w.extNotes = append(w.extNotes, extNote{channel, note, velocity})
	w.extNotesMu.Unlock()
}

// drainExtNotes returns and clears the queued notes, or nil without
// blocking if the mailbox is currently being appended to.
func (w *worker) drainExtNotes() []extNote {
	if !w.extNotesMu.TryLock() {
		return nil
	}
	defer w.extNotesMu.Unlock()
	if len(w.extNotes) == 0 {
		return nil
	}
	notes := w.extNotes
	w.extNotes = nil
	return notes
}

// attachWorker opens the four regions a parent Transport created for
// suffix, reading the init frame it wrote before spawning this process
// to learn the negotiated buffer size and sample rate.
func attachWorker(suffix string, adapter Adapter, logger *zap.Logger) (*worker, error) {
	nonRTC, err := shm.Open(shm.RoleNonRTClient, suffix, ringbuf.SizeBig)
	if err != nil {
		return nil, fmt.Errorf("bridge-worker: open non-rt-client region: %w", err)
	}
	nonRTCRing := ringbuf.New(nonRTC.Bytes())

	rtSize, nonRTCSize, nonRTSSize, bufferSize, sampleRate, err := readInitFrame(nonRTCRing)
	if err != nil {
		nonRTC.Unmap()
		return nil, err
	}
	_ = nonRTCSize // confirmed against the region we already opened; not reused

	rtClient, err := shm.Open(shm.RoleRTClient, suffix, int(rtSize))
	if err != nil {
		nonRTC.Unmap()
		return nil, fmt.Errorf("bridge-worker: open rt-client region: %w", err)
	}
	nonRTS, err := shm.Open(shm.RoleNonRTServer, suffix, int(nonRTSSize))
	if err != nil {
		nonRTC.Unmap()
		rtClient.Unmap()
		return nil, fmt.Errorf("bridge-worker: open non-rt-server region: %w", err)
	}

	audioIn, audioOut, cvIn, cvOut := adapter.PortCounts()
	pool, err := shm.OpenAudioPool(suffix, audioIn, audioOut, cvIn, cvOut, int(bufferSize))
	if err != nil {
		nonRTC.Unmap()
		rtClient.Unmap()
		nonRTS.Unmap()
		return nil, fmt.Errorf("bridge-worker: open audio pool: %w", err)
	}

	w := &worker{
		logger:       logger,
		adapter:      adapter,
		rtClient:     rtClient,
		nonRTC:       nonRTC,
		nonRTS:       nonRTS,
		pool:         pool,
		rtClientRing: ringbuf.New(rtClient.Bytes()[bridge.RTClientHeaderSize:]),
		nonRTCRing:   nonRTCRing,
		nonRTSRing:   ringbuf.New(nonRTS.Bytes()),
		sem:          bridgesem.PairAt(rtClient.Bytes()[:2*bridgesem.Size]),
		bufferSize:   int(bufferSize),
		sampleRate:   sampleRate,
		audioIn:      audioIn,
		audioOut:     audioOut,
		cvIn:         cvIn,
		cvOut:        cvOut,
	}
	w.audioInBufs = allocPortBufs(audioIn, w.bufferSize)
	w.audioOutBufs = allocPortBufs(audioOut, w.bufferSize)
	w.cvInBufs = allocPortBufs(cvIn, w.bufferSize)
	w.cvOutBufs = allocPortBufs(cvOut, w.bufferSize)
	return w, nil
}

func allocPortBufs(n, bufferSize int) [][]float32 {
	bufs := make([][]float32, n)
	for i := range bufs {
		bufs[i] = make([]float32, bufferSize)
	}
	return bufs
}

// readInitFrame parses the fixed frame Transport.New writes before
// spawning the worker: a Null opcode, the three region sizes, then
// SetBufferSize and SetSampleRate. The frame is committed before the
// child is started, so a short poll is enough to observe it.
func readInitFrame(ring *ringbuf.RingBuffer) (rtSize, nonRTCSize, nonRTSSize uint32, bufferSize uint32, sampleRate float64, err error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if ring.IsDataAvailableForReading() {
			break
		}
		if time.Now().After(deadline) {
			return 0, 0, 0, 0, 0, fmt.Errorf("bridge-worker: timed out waiting for init frame")
		}
		time.Sleep(2 * time.Millisecond)
	}

	op, ok := ring.ReadOpcode()
	if !ok || bridge.Opcode(op) != bridge.NonRTClientNull {
		return 0, 0, 0, 0, 0, fmt.Errorf("bridge-worker: expected init opcode, got %d", op)
	}
	rtSize, _ = ring.ReadUInt()
	nonRTCSize, _ = ring.ReadUInt()
	nonRTSSize, _ = ring.ReadUInt()

	op, ok = ring.ReadOpcode()
	if !ok || bridge.Opcode(op) != bridge.NonRTClientSetBufferSize {
		return 0, 0, 0, 0, 0, fmt.Errorf("bridge-worker: expected SetBufferSize opcode, got %d", op)
	}
	bufferSize, _ = ring.ReadUInt()

	op, ok = ring.ReadOpcode()
	if !ok || bridge.Opcode(op) != bridge.NonRTClientSetSampleRate {
		return 0, 0, 0, 0, 0, fmt.Errorf("bridge-worker: expected SetSampleRate opcode, got %d", op)
	}
	sampleRate, sErr := ring.ReadDouble()
	if sErr != nil {
		return 0, 0, 0, 0, 0, fmt.Errorf("bridge-worker: reading sample rate: %w", sErr)
	}
	return rtSize, nonRTCSize, nonRTSSize, bufferSize, sampleRate, nil
}

// sendReady publishes the Ready opcode the parent's awaitReady blocks
// for. It must be the first thing written to the server ring: nothing
// may precede it, since awaitReady reads bare opcodes and skips any
// that are not Ready or Error without consuming their payloads, so an
// earlier message's payload bytes would be misread as opcodes.
func (w *worker) sendReady() {
	w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerReady))
	w.nonRTSRing.CommitWrite()
}

// sendReloadInfo publishes the full port/parameter/program/MIDI-program
// burst BridgedPlugin.Reload expects, in the payload shapes its
// drainNonRTServer parses.
func (w *worker) sendReloadInfo() {
	params := w.adapter.Parameters()
	programs := w.adapter.Programs()
	midiPrograms := w.adapter.MidiPrograms()

	w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerAudioCount))
	w.nonRTSRing.WriteInt(int32(w.audioIn))
	w.nonRTSRing.WriteInt(int32(w.audioOut))

	w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerParameterCount))
	w.nonRTSRing.WriteInt(int32(len(params)))
	for i, param := range params {
		w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerParameterData1))
		w.nonRTSRing.WriteInt(int32(i))
		w.nonRTSRing.WriteInt(0) // ParamInput
		w.nonRTSRing.WriteUInt(0)

		w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerParameterRanges1))
		w.nonRTSRing.WriteInt(int32(i))
		w.nonRTSRing.WriteFloat(param.Def)
		w.nonRTSRing.WriteFloat(param.Min)
		w.nonRTSRing.WriteFloat(param.Max)
	}

	w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerProgramCount))
	w.nonRTSRing.WriteInt(int32(len(programs)))
	for i, name := range programs {
		w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerProgramName))
		w.nonRTSRing.WriteInt(int32(i))
		w.nonRTSRing.WriteCustomData([]byte(name))
	}

	w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerMidiProgramCount))
	w.nonRTSRing.WriteInt(int32(len(midiPrograms)))
	for i, mp := range midiPrograms {
		w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerMidiProgramData))
		w.nonRTSRing.WriteInt(int32(i))
		w.nonRTSRing.WriteInt(int32(mp.Bank))
		w.nonRTSRing.WriteInt(int32(mp.Program))
		w.nonRTSRing.WriteCustomData([]byte(mp.Name))
	}

	w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerSetLatency))
	w.nonRTSRing.WriteInt(int32(w.adapter.Latency()))

	w.nonRTSRing.CommitWrite()
}

// run drives the worker's cooperative loop until a Quit opcode is
// observed on either ring: poll the RT semaphore for a process cycle,
// then drain whatever non-RT commands have queued, sleeping briefly
// only when neither had anything to do. A single loop is sufficient
// here since this adapter doesn't need hard real-time guarantees the
// way the embedding engine's own audio thread does.
func (w *worker) run() {
	w.sendReady()
	w.sendReloadInfo()

	idle := 0
	for !w.quit {
		did := false
		if w.sem.Server.TryWait() {
			w.runCycle()
			did = true
		}
		if w.drainNonRTClient() {
			did = true
		}
		if !did {
			idle++
			time.Sleep(backoffFor(idle))
		} else {
			idle = 0
		}
	}
	w.close()
}

// close unmaps every region without removing the backing files, which
// the parent engine owns and deletes on Shutdown.
func (w *worker) close() {
	w.pool.Unmap()
	w.rtClient.Unmap()
	w.nonRTC.Unmap()
	w.nonRTS.Unmap()
}

func backoffFor(idle int) time.Duration {
	d := time.Duration(idle) * 100 * time.Microsecond
	if d > 2*time.Millisecond {
		d = 2 * time.Millisecond
	}
	return d
}

// runCycle reads the RT-client ring's committed frame for this cycle
// (a Process marker plus whatever control/MIDI events rode alongside
// it), runs the adapter, and posts the client semaphore so the engine
// can read outputs back.
func (w *worker) runCycle() {
	frames := w.bufferSize
	quitNow := false

	for _, n := range w.drainExtNotes() {
		w.adapter.SendNote(n.channel, n.note, n.velocity)
	}

	for w.rtClientRing.IsDataAvailableForReading() {
		op, ok := w.rtClientRing.ReadOpcode()
		if !ok {
			break
		}
		switch bridge.Opcode(op) {
		case bridge.RTClientProcess:
			n, _ := w.rtClientRing.ReadUInt()
			frames = int(n)
		case bridge.RTClientMidiEvent:
			w.rtClientRing.ReadUInt()        // time
			w.rtClientRing.ReadByte()        // port
			w.rtClientRing.ReadCustomData()  // raw MIDI bytes
		case bridge.RTClientControlEventParameter:
			w.rtClientRing.ReadUInt()
			w.rtClientRing.ReadByte()
			idx, _ := w.rtClientRing.ReadUShort()
			value, _ := w.rtClientRing.ReadFloat()
			w.adapter.SetParameterValue(int(idx), value)
		case bridge.RTClientControlEventMidiBank, bridge.RTClientControlEventMidiProgram:
			w.rtClientRing.ReadUInt()
			w.rtClientRing.ReadByte()
			w.rtClientRing.ReadUShort()
		case bridge.RTClientControlEventAllSoundOff, bridge.RTClientControlEventAllNotesOff:
			w.rtClientRing.ReadUInt()
			w.rtClientRing.ReadByte()
		case bridge.RTClientQuit:
			quitNow = true
		}
	}

	if err := w.pool.ReadInputs(w.audioInBufs, w.cvInBufs); err != nil {
		w.logger.Warn("audio pool read inputs failed", zap.Error(err))
	} else {
		w.adapter.Process(w.audioInBufs, w.audioOutBufs, w.cvInBufs, w.cvOutBufs, frames)
		if err := w.pool.WriteOutputs(w.audioOutBufs, w.cvOutBufs); err != nil {
			w.logger.Warn("audio pool write outputs failed", zap.Error(err))
		}
	}

	w.sem.Client.Post()
	if quitNow {
		w.quit = true
	}
}

// drainNonRTClient processes every currently-committed non-RT opcode
// and reports whether it did any work, for the caller's idle backoff.
func (w *worker) drainNonRTClient() bool {
	did := false
	for {
		op, ok := w.nonRTCRing.ReadOpcode()
		if !ok {
			return did
		}
		did = true
		switch bridge.Opcode(op) {
		case bridge.NonRTClientNull:
		case bridge.NonRTClientSetBufferSize:
			v, _ := w.nonRTCRing.ReadUInt()
			w.bufferSize = int(v)
		case bridge.NonRTClientSetSampleRate:
			v, _ := w.nonRTCRing.ReadDouble()
			w.sampleRate = v
		case bridge.NonRTClientSetAudioPoolSize:
			w.nonRTCRing.ReadUInt()
		case bridge.NonRTClientSetOffline, bridge.NonRTClientSetOnline:
		case bridge.NonRTClientSetOption:
			w.nonRTCRing.ReadInt()
			w.nonRTCRing.ReadInt()
		case bridge.NonRTClientSetCtrlChannel:
			w.nonRTCRing.ReadShort()
		case bridge.NonRTClientSetParameterValue:
			idx, _ := w.nonRTCRing.ReadInt()
			value, _ := w.nonRTCRing.ReadFloat()
			w.adapter.SetParameterValue(int(idx), value)
		case bridge.NonRTClientSetParameterMidiChannel:
			w.nonRTCRing.ReadInt()
			w.nonRTCRing.ReadByte()
		case bridge.NonRTClientSetParameterMidiCC:
			w.nonRTCRing.ReadInt()
			w.nonRTCRing.ReadShort()
		case bridge.NonRTClientSetProgram:
			idx, _ := w.nonRTCRing.ReadInt()
			w.adapter.SetProgram(int(idx))
		case bridge.NonRTClientSetMidiProgram:
			idx, _ := w.nonRTCRing.ReadInt()
			w.adapter.SetMidiProgram(int(idx))
		case bridge.NonRTClientSetCustomData:
			blob, _ := w.nonRTCRing.ReadCustomData()
			kind, key, value := splitCustomData(blob)
			w.adapter.SetCustomData(kind, key, value)
		case bridge.NonRTClientSetChunkDataFile:
			blob, _ := w.nonRTCRing.ReadCustomData()
			w.adapter.SetChunkData(blob)
		case bridge.NonRTClientPrepareForSave:
			w.replySaved()
		case bridge.NonRTClientActivate, bridge.NonRTClientDeactivate:
		case bridge.NonRTClientShowUI, bridge.NonRTClientHideUI:
		case bridge.NonRTClientPing:
			w.replyPong()
		case bridge.NonRTClientUiParameterChange:
			idx, _ := w.nonRTCRing.ReadInt()
			value, _ := w.nonRTCRing.ReadFloat()
			w.adapter.SetParameterValue(int(idx), value)
		case bridge.NonRTClientUiProgramChange:
			idx, _ := w.nonRTCRing.ReadInt()
			w.adapter.SetProgram(int(idx))
		case bridge.NonRTClientUiMidiProgramChange:
			idx, _ := w.nonRTCRing.ReadInt()
			w.adapter.SetMidiProgram(int(idx))
		case bridge.NonRTClientUiNoteOn:
			channel, _ := w.nonRTCRing.ReadByte()
			note, _ := w.nonRTCRing.ReadByte()
			velocity, _ := w.nonRTCRing.ReadByte()
			w.queueExtNote(channel, note, velocity)
		case bridge.NonRTClientUiNoteOff:
			channel, _ := w.nonRTCRing.ReadByte()
			note, _ := w.nonRTCRing.ReadByte()
			w.queueExtNote(channel, note, 0)
		case bridge.NonRTClientQuit:
			w.quit = true
		default:
			w.logger.Warn("unrecognized non-rt client opcode", zap.Uint32("opcode", op))
		}
	}
}

func splitCustomData(blob []byte) (kind, key, value string) {
	parts := [][]byte{}
	start := 0
	for i, b := range blob {
		if b == 0 {
			parts = append(parts, blob[start:i])
			start = i + 1
		}
	}
	parts = append(parts, blob[start:])
	for len(parts) < 3 {
		parts = append(parts, nil)
	}
	return string(parts[0]), string(parts[1]), string(parts[2])
}

func (w *worker) replyPong() {
	w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerPong))
	w.nonRTSRing.CommitWrite()
}

func (w *worker) replySaved() {
	w.nonRTSRing.WriteOpcode(uint32(bridge.NonRTServerSaved))
	w.nonRTSRing.WriteBool(true)
	w.nonRTSRing.CommitWrite()
}
