package uipipe

import "strconv"

// nullMarker is the sentinel string standing in for "no value" on
// either side of the pipe.
const nullMarker = "(null)"

// formatFloat renders v with a '.' decimal point regardless of the
// process locale, matching the scoped-locale formatting the wire
// protocol requires. Go's strconv never consults the OS locale, so no
// explicit locale scope is needed to get this guarantee.
func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 6, 32)
}

func formatBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func formatInt(v int) string {
	return strconv.Itoa(v)
}

// fixEmpty escapes an empty string to the null marker so a blank line
// is never ambiguous with "field absent".
func fixEmpty(s string) string {
	if s == "" {
		return nullMarker
	}
	return s
}

// unfix reverses fixEmpty: the null marker reads back as "".
func unfix(s string) string {
	if s == nullMarker {
		return ""
	}
	return s
}

// Server -> client message family names.
const (
	msgEngineOscURLs       = "osc-urls"
	msgEngineMaxPlugins    = "max-plugin-number"
	msgEngineBufferSize    = "buffer-size"
	msgEngineSampleRate    = "sample-rate"
	msgEngineOptionPrefix  = "ENGINE_OPTION_"
	msgRuntimeInfo         = "runtime-info"
	msgTransport           = "transport"
	msgPeaksPrefix         = "PEAKS_"
	msgParamValPrefix      = "PARAMVAL_"
	msgPluginInfoPrefix    = "PLUGIN_INFO_"
	msgParamCountPrefix    = "PARAMETER_COUNT_"
	msgParamDataPrefix     = "PARAMETER_DATA_"
	msgParamRangesPrefix   = "PARAMETER_RANGES_"
	msgProgramCountPrefix  = "PROGRAM_COUNT_"
	msgProgramNamePrefix   = "PROGRAM_NAME_"
	msgMidiProgCountPrefix = "MIDI_PROGRAM_COUNT_"
	msgMidiProgDataPrefix  = "MIDI_PROGRAM_DATA_"
	msgCustomDataPrefix    = "CUSTOM_DATA_"
	msgEngineCallback      = "ENGINE_CALLBACK_"
	msgError               = "error"
)
