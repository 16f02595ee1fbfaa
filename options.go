package carlahost

import (
	"fmt"
	"strconv"
)

// ProcessMode selects the graph implementation.
type ProcessMode string

const (
	ProcessModeRack     ProcessMode = "Rack"
	ProcessModePatchbay ProcessMode = "Patchbay"
)

// TransportMode selects whether the outer host drives the transport
// clock or the engine keeps its own.
type TransportMode string

const (
	TransportHostDriven TransportMode = "HostDriven"
	TransportInternal   TransportMode = "Internal"
)

// EngineOptions holds every recognized option key. Validation follows
// the same style as the rest of this package: range checks with
// defaults substituted for zero values, descriptive wrapped errors.
type EngineOptions struct {
	ProcessMode         ProcessMode
	TransportMode       TransportMode
	ForceStereo         bool
	PreferPluginBridges bool
	PreferUiBridges     bool
	UisAlwaysOnTop      bool
	MaxParameters       int
	UiBridgesTimeoutMs  int

	PathLADSPA, PathDSSI, PathLV2 string
	PathVST2, PathVST3, PathAU    string
	PathGIG, PathSF2, PathSFZ     string

	BinaryDir, ResourceDir string

	PreventBadBehaviour bool
	FrontendWinID       uint64

	// OptionsForced locks every field above against later UI overrides
	// once a project load or the embedding host has set it.
	OptionsForced bool

	processModeLocked   bool
	transportModeLocked bool
}

// DefaultEngineOptions returns the option set this host assumes as
// defaults: Rack mode, host-driven transport, a generous parameter cap,
// and a 4-second dead-bridge timeout.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		ProcessMode:        ProcessModeRack,
		TransportMode:      TransportHostDriven,
		MaxParameters:      200,
		UiBridgesTimeoutMs: 4000,
	}
}

// Set applies a single `set_engine_option` key/value pair, rejecting
// attempts to change processMode or transportMode after init, since
// both are immutable once the engine has started.
func (o *EngineOptions) Set(key, value string) error {
	if o.OptionsForced {
		return fmt.Errorf("carlahost: options are forced, ignoring %s", key)
	}
	switch key {
	case "processMode":
		if o.processModeLocked {
			return fmt.Errorf("carlahost: processMode is immutable after init")
		}
		o.ProcessMode = ProcessMode(value)
	case "transportMode":
		if o.transportModeLocked {
			return fmt.Errorf("carlahost: transportMode is immutable after init")
		}
		o.TransportMode = TransportMode(value)
	case "forceStereo":
		return o.setBool(&o.ForceStereo, value)
	case "preferPluginBridges":
		return o.setBool(&o.PreferPluginBridges, value)
	case "preferUiBridges":
		return o.setBool(&o.PreferUiBridges, value)
	case "uisAlwaysOnTop":
		return o.setBool(&o.UisAlwaysOnTop, value)
	case "maxParameters":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("carlahost: maxParameters must be a positive integer, got %q", value)
		}
		o.MaxParameters = n
	case "uiBridgesTimeout":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("carlahost: uiBridgesTimeout must be a non-negative integer, got %q", value)
		}
		o.UiBridgesTimeoutMs = n
	case "pathLADSPA":
		o.PathLADSPA = value
	case "pathDSSI":
		o.PathDSSI = value
	case "pathLV2":
		o.PathLV2 = value
	case "pathVST2":
		o.PathVST2 = value
	case "pathVST3":
		o.PathVST3 = value
	case "pathAU":
		o.PathAU = value
	case "pathGIG":
		o.PathGIG = value
	case "pathSF2":
		o.PathSF2 = value
	case "pathSFZ":
		o.PathSFZ = value
	case "binaryDir":
		o.BinaryDir = value
	case "resourceDir":
		o.ResourceDir = value
	case "preventBadBehaviour":
		return o.setBool(&o.PreventBadBehaviour, value)
	case "frontendWinId":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("carlahost: frontendWinId must be an unsigned integer, got %q", value)
		}
		o.FrontendWinID = n
	default:
		return fmt.Errorf("carlahost: unrecognized engine option %q", key)
	}
	return nil
}

func (o *EngineOptions) setBool(field *bool, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("carlahost: expected boolean, got %q: %w", value, err)
	}
	*field = b
	return nil
}

// LockInitOptions freezes processMode/transportMode after engine
// initialization.
func (o *EngineOptions) LockInitOptions() {
	o.processModeLocked = true
	o.transportModeLocked = true
}
