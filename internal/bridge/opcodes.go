package bridge

// Opcode is a single entry in the plugin bridge wire protocol, grouped
// by which ring each opcode travels over.
type Opcode uint32

// Non-RT client -> worker opcodes, committed to the non-RT-client ring
// under a mutex and consumed at the worker's leisure.
const (
	NonRTClientNull Opcode = iota
	NonRTClientSetAudioPoolSize
	NonRTClientSetBufferSize
	NonRTClientSetSampleRate
	NonRTClientSetOffline
	NonRTClientSetOnline
	NonRTClientSetOption
	NonRTClientSetCtrlChannel
	NonRTClientSetParameterValue
	NonRTClientSetParameterMidiChannel
	NonRTClientSetParameterMidiCC
	NonRTClientSetProgram
	NonRTClientSetMidiProgram
	NonRTClientSetCustomData
	NonRTClientSetChunkDataFile
	NonRTClientPrepareForSave
	NonRTClientActivate
	NonRTClientDeactivate
	NonRTClientShowUI
	NonRTClientHideUI
	NonRTClientPing
	NonRTClientUiParameterChange
	NonRTClientUiProgramChange
	NonRTClientUiMidiProgramChange
	NonRTClientUiNoteOn
	NonRTClientUiNoteOff
	NonRTClientQuit
)

// RT client -> worker opcodes, posted inside the audio cycle on the
// RT-client ring.
const (
	RTClientNull Opcode = iota
	RTClientSetAudioPool
	RTClientMidiEvent
	RTClientControlEventParameter
	RTClientControlEventMidiBank
	RTClientControlEventMidiProgram
	RTClientControlEventAllSoundOff
	RTClientControlEventAllNotesOff
	RTClientProcess
	RTClientQuit
)

// Non-RT worker -> client opcodes, on the non-RT-server ring.
const (
	NonRTServerNull Opcode = iota
	NonRTServerPong
	NonRTServerPluginInfo1
	NonRTServerPluginInfo2
	NonRTServerAudioCount
	NonRTServerMidiCount
	NonRTServerParameterCount
	NonRTServerProgramCount
	NonRTServerMidiProgramCount
	NonRTServerParameterData1
	NonRTServerParameterData2
	NonRTServerParameterRanges1
	NonRTServerParameterRanges2
	NonRTServerParameterValue
	NonRTServerDefaultValue
	NonRTServerCurrentProgram
	NonRTServerCurrentMidiProgram
	NonRTServerProgramName
	NonRTServerMidiProgramData
	NonRTServerSetCustomData
	NonRTServerSetChunkDataFile
	NonRTServerSetLatency
	NonRTServerUiClosed
	NonRTServerReady
	NonRTServerSaved
	NonRTServerError
)
