package carlahost

// Graph is the per-engine signal router, implemented by
// Rack (fixed stereo chain) and Patchbay (arbitrary topology). Both
// variants connect plugin-chain nodes by port, the way a mixer connects
// named channels.
type Graph interface {
	// Process runs every plugin in the graph's current topology for one
	// cycle, leaving audioOut/cvOut fully defined on every exit path.
	Process(audioIn, audioOut, cvIn, cvOut [][]float32, midiIn []EngineEvent, frames int)

	AddPlugin(p PluginHandle) error
	RemovePlugin(id int) error
	Plugins() []PluginHandle

	// Events returns the graph's shared post-RT event bus, drained by
	// Scheduler on every idle tick.
	Events() *EventBus
}

// GraphConnection describes one directed edge, generalized
// from named channels to patchbay group/port addresses.
type GraphConnection struct {
	ID       int
	SrcGroup int
	SrcPort  int
	DstGroup int
	DstPort  int
}

// ensureBuf resizes a scratch [][]float32 to exactly channels slices of
// exactly frames samples each, reusing the existing backing arrays
// whenever their capacity already covers the request. Both graph
// Process implementations call this on their persistent scratch fields
// instead of calling make on every cycle: a cycle whose channel count
// and frame count match the previous one allocates nothing.
func ensureBuf(buf [][]float32, channels, frames int) [][]float32 {
	if cap(buf) < channels {
		grown := make([][]float32, channels)
		copy(grown, buf)
		buf = grown
	} else {
		buf = buf[:channels]
	}
	for i := range buf {
		if cap(buf[i]) < frames {
			buf[i] = make([]float32, frames)
		} else {
			buf[i] = buf[i][:frames]
		}
	}
	return buf
}
