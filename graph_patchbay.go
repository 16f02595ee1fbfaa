package carlahost

import (
	"fmt"
	"sync"
)

// Patchbay special group identifiers for graph-external ports.
const (
	GroupExternalAudioIn  = 0
	GroupExternalAudioOut = 1
	GroupExternalCVIn     = 2
	GroupExternalCVOut    = 3
	GroupExternalMidiIn   = 4
	GroupExternalMidiOut  = 5

	firstPluginGroup = 100
)

// portBuf maps a port index to its current sample buffer.
type portBuf map[int][]float32

// groupScratch is the reused per-plugin I/O buffer set for one group,
// resized only when the frame count changes.
type groupScratch struct {
	audioIn, audioOut [][]float32
	cvIn, cvOut       [][]float32
}

// patchbayPlan is the pre-compiled view of the current topology:
// process order plus one persistent scratch buffer set per plugin
// group. It is rebuilt by AddPlugin/RemovePlugin/Connect/Disconnect,
// and by Process when the frame count differs from the plan's, so a
// steady-state cycle (same topology, same frame count) resizes nothing.
type patchbayPlan struct {
	order   []int
	plugins map[int]PluginHandle
	conns   []GraphConnection
	frames  int

	audioOut map[int]portBuf // group -> port -> reused plugin audio-output buffer
	scratch  map[int]*groupScratch
}

func newPatchbayPlan() *patchbayPlan {
	return &patchbayPlan{
		plugins:  map[int]PluginHandle{},
		audioOut: map[int]portBuf{},
		scratch:  map[int]*groupScratch{},
	}
}

// rebuild recomputes process order and per-group scratch sizing from
// the current plugin/connection set, reusing any backing arrays whose
// capacity already fits the requested frame count.
func (plan *patchbayPlan) rebuild(plugins map[int]PluginHandle, conns []GraphConnection, frames int) {
	plan.order = topoOrder(plugins, conns)
	plan.plugins = plugins
	plan.conns = conns
	plan.frames = frames

	for group := range plan.scratch {
		if _, ok := plugins[group]; !ok {
			delete(plan.scratch, group)
			delete(plan.audioOut, group)
		}
	}
	for group, p := range plugins {
		audioInP, audioOutP := p.AudioPorts()
		cvInP, cvOutP := p.CVPorts()

		sc, ok := plan.scratch[group]
		if !ok {
			sc = &groupScratch{}
			plan.scratch[group] = sc
		}
		sc.audioIn = ensureBuf(sc.audioIn, len(audioInP), frames)
		sc.audioOut = ensureBuf(sc.audioOut, len(audioOutP), frames)
		sc.cvIn = ensureBuf(sc.cvIn, len(cvInP), frames)
		sc.cvOut = ensureBuf(sc.cvOut, len(cvOutP), frames)

		out, ok := plan.audioOut[group]
		if !ok {
			out = make(portBuf, len(sc.audioOut))
			plan.audioOut[group] = out
		}
		for i := range out {
			if i >= len(sc.audioOut) {
				delete(out, i)
			}
		}
		for i, buf := range sc.audioOut {
			out[i] = buf
		}
	}
}

// Patchbay is the arbitrary-topology graph mode: explicit
// nodes and directional connections between dense group identifiers,
// addressed port-by-port, with CV support.
type Patchbay struct {
	mu          sync.RWMutex
	plugins     map[int]PluginHandle // group id -> plugin
	groupOf     map[int]int          // plugin id -> group id
	connections map[int]GraphConnection
	nextConnID  int
	events      *EventBus

	onRefresh func([]GraphConnection)

	plan *patchbayPlan

	// extAudioIn/extCVIn wrap the caller's audioIn/cvIn slices for one
	// Process call so gatherInto can resolve an external source the
	// same way it resolves a plugin's output group; rebuilt only when
	// the external port count itself changes.
	extAudioIn, extCVIn portBuf
}

// NewPatchbay creates an empty patchbay graph.
func NewPatchbay(maxEvents int) *Patchbay {
	return &Patchbay{
		plugins:     make(map[int]PluginHandle),
		groupOf:     make(map[int]int),
		connections: make(map[int]GraphConnection),
		nextConnID:  1,
		events:      NewEventBus(maxEvents),
		plan:        newPatchbayPlan(),
	}
}

// rebuildPlanLocked recompiles g.plan from the current plugin/connection
// tables. Callers must already hold g.mu for writing.
func (g *Patchbay) rebuildPlanLocked() {
	plugins := make(map[int]PluginHandle, len(g.plugins))
	for k, v := range g.plugins {
		plugins[k] = v
	}
	conns := make([]GraphConnection, 0, len(g.connections))
	for _, c := range g.connections {
		conns = append(conns, c)
	}
	frames := g.plan.frames
	g.plan.rebuild(plugins, conns, frames)
}

// OnRefresh registers the callback invoked by PatchbayRefresh to emit a
// topology snapshot over the UI pipe.
func (g *Patchbay) OnRefresh(fn func([]GraphConnection)) { g.onRefresh = fn }

func (g *Patchbay) AddPlugin(p PluginHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	group := firstPluginGroup + p.ID()
	if _, exists := g.plugins[group]; exists {
		return fmt.Errorf("carlahost: plugin %d already present in Patchbay", p.ID())
	}
	g.plugins[group] = p
	g.groupOf[p.ID()] = group
	g.rebuildPlanLocked()
	return nil
}

func (g *Patchbay) RemovePlugin(id int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	group, ok := g.groupOf[id]
	if !ok {
		return fmt.Errorf("carlahost: plugin %d not found in Patchbay", id)
	}
	delete(g.plugins, group)
	delete(g.groupOf, id)
	for cid, c := range g.connections {
		if c.SrcGroup == group || c.DstGroup == group {
			delete(g.connections, cid)
		}
	}
	g.rebuildPlanLocked()
	return nil
}

// Events returns the patchbay's shared post-RT event bus.
func (g *Patchbay) Events() *EventBus { return g.events }

func (g *Patchbay) Plugins() []PluginHandle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]PluginHandle, 0, len(g.plugins))
	for _, p := range g.plugins {
		out = append(out, p)
	}
	return out
}

// Connect adds a directed connection and returns its id. Ids are stable
// until the next PatchbayRefresh.
// A connection that would create a cycle among plugin nodes is rejected,
// since this implementation does not model delay nodes that could break
// one.
func (g *Patchbay) Connect(srcGroup, srcPort, dstGroup, dstPort int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextConnID
	candidate := GraphConnection{ID: id, SrcGroup: srcGroup, SrcPort: srcPort, DstGroup: dstGroup, DstPort: dstPort}
	trial := make(map[int]GraphConnection, len(g.connections)+1)
	for k, v := range g.connections {
		trial[k] = v
	}
	trial[id] = candidate
	if hasCycle(trial) {
		return 0, fmt.Errorf("carlahost: connection would create a cycle")
	}

	g.connections[id] = candidate
	g.nextConnID++
	g.rebuildPlanLocked()
	return id, nil
}

// Disconnect removes a connection by id.
func (g *Patchbay) Disconnect(id int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.connections[id]; !ok {
		return fmt.Errorf("carlahost: connection %d not found", id)
	}
	delete(g.connections, id)
	g.rebuildPlanLocked()
	return nil
}

// Refresh rewalks the graph and emits a complete topology snapshot to
// the registered callback.
func (g *Patchbay) Refresh() {
	g.mu.RLock()
	snapshot := make([]GraphConnection, 0, len(g.connections))
	for _, c := range g.connections {
		snapshot = append(snapshot, c)
	}
	cb := g.onRefresh
	g.mu.RUnlock()

	if cb != nil {
		cb(snapshot)
	}
}

// hasCycle reports whether the plugin-node subgraph of connections
// contains a cycle, via a straightforward DFS coloring.
func hasCycle(conns map[int]GraphConnection) bool {
	adj := make(map[int][]int)
	for _, c := range conns {
		if c.SrcGroup < firstPluginGroup || c.DstGroup < firstPluginGroup {
			continue // external ports never participate in a cycle
		}
		adj[c.SrcGroup] = append(adj[c.SrcGroup], c.DstGroup)
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int)
	var visit func(n int) bool
	visit = func(n int) bool {
		color[n] = gray
		for _, next := range adj[n] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range adj {
		if color[n] == white {
			if visit(n) {
				return true
			}
		}
	}
	return false
}

// Process walks the topology in dependency order, gathering each
// plugin's inputs from whatever feeds its group, running it, and
// scattering its outputs to every connection leaving its group. It
// reads g.plan, compiled by AddPlugin/RemovePlugin/Connect/Disconnect
// and rebuilt here under the write lock only when the frame count
// changes, and writes only into plan-owned or caller-owned buffers: a
// steady-state cycle (same topology, same frame count as last time)
// allocates nothing.
func (g *Patchbay) Process(audioIn, audioOut, cvIn, cvOut [][]float32, midiIn []EngineEvent, frames int) {
	g.mu.RLock()
	plan := g.plan
	g.mu.RUnlock()

	g.events.ResetCycle()
	for _, e := range midiIn {
		g.events.In().Append(e)
	}

	if plan == nil || len(plan.plugins) == 0 {
		for i := range audioOut {
			if i < len(audioIn) {
				copy(audioOut[i], audioIn[i][:frames])
			} else {
				zeroAll(audioOut[i : i+1])
			}
		}
		zeroAll(cvOut)
		return
	}

	if plan.frames != frames {
		g.mu.Lock()
		g.plan.rebuild(g.plan.plugins, g.plan.conns, frames)
		plan = g.plan
		g.mu.Unlock()
	}

	if len(g.extAudioIn) != len(audioIn) {
		g.extAudioIn = make(portBuf, len(audioIn))
	}
	for i, b := range audioIn {
		g.extAudioIn[i] = b
	}
	if len(g.extCVIn) != len(cvIn) {
		g.extCVIn = make(portBuf, len(cvIn))
	}
	for i, b := range cvIn {
		g.extCVIn[i] = b
	}

	gatherInto := func(group int, dst [][]float32) {
		for i := range dst {
			buf := dst[i]
			for j := range buf {
				buf[j] = 0
			}
		}
		for _, c := range plan.conns {
			if c.DstGroup != group || c.DstPort >= len(dst) {
				continue
			}
			var src []float32
			switch c.SrcGroup {
			case GroupExternalAudioIn:
				src = g.extAudioIn[c.SrcPort]
			case GroupExternalCVIn:
				src = g.extCVIn[c.SrcPort]
			default:
				if out, ok := plan.audioOut[c.SrcGroup]; ok {
					src = out[c.SrcPort]
				}
			}
			if src == nil {
				continue
			}
			d := dst[c.DstPort]
			n := len(d)
			if len(src) < n {
				n = len(src)
			}
			for i := 0; i < n; i++ {
				d[i] += src[i]
			}
		}
	}

	for _, group := range plan.order {
		p := plan.plugins[group]
		sc := plan.scratch[group]

		gatherInto(group, sc.audioIn)
		gatherInto(group, sc.cvIn)

		p.Process(sc.audioIn, sc.audioOut, sc.cvIn, sc.cvOut, g.events, frames)
	}

	gatherInto(GroupExternalAudioOut, audioOut)
	gatherInto(GroupExternalCVOut, cvOut)
}

// topoOrder returns plugin group ids in dependency order (sources before
// sinks), falling back to map iteration order for any component a
// partial connection set leaves ambiguous.
func topoOrder(plugins map[int]PluginHandle, conns []GraphConnection) []int {
	indegree := make(map[int]int)
	adj := make(map[int][]int)
	for group := range plugins {
		indegree[group] = 0
	}
	for _, c := range conns {
		if _, ok := plugins[c.SrcGroup]; !ok {
			continue
		}
		if _, ok := plugins[c.DstGroup]; !ok {
			continue
		}
		adj[c.SrcGroup] = append(adj[c.SrcGroup], c.DstGroup)
		indegree[c.DstGroup]++
	}

	var queue, order []int
	for group, d := range indegree {
		if d == 0 {
			queue = append(queue, group)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, next := range adj[n] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(plugins) {
		// a residual cycle slipped through; append anything left so
		// every plugin still processes exactly once.
		seen := make(map[int]bool, len(order))
		for _, g := range order {
			seen[g] = true
		}
		for group := range plugins {
			if !seen[group] {
				order = append(order, group)
			}
		}
	}
	return order
}
