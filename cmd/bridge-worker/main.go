// Command bridge-worker is the out-of-process counterpart of
// internal/bridge's Transport: the engine spawns one instance per
// bridged plugin, passing its shared-memory suffix and engine-option
// environment the same way Transport.spawn does, and this binary
// attaches to the four regions, answers the non-RT opcode protocol,
// and rendezvous with the engine's RT cycle through the semaphore
// pair.
//
// The plugin-type/filename/label/unique-id arguments describe the
// real plugin a production worker would load; this binary ships only
// the in-memory passthrough adapter and ignores them beyond logging,
// since loading VST/LV2/etc. binaries is out of scope here.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) != 5 {
		fmt.Fprintln(os.Stderr, "usage: bridge-worker <plugin-type> <filename> <label> <unique-id>")
		os.Exit(1)
	}
	pluginType, filename, label := os.Args[1], os.Args[2], os.Args[3]
	uniqueID, err := strconv.ParseInt(os.Args[4], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge-worker: invalid unique-id %q: %v\n", os.Args[4], err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()
	logger = logger.Named("bridge-worker")

	suffix, err := shmSuffixFromEnv()
	if err != nil {
		logger.Fatal("reading shared memory id", zap.Error(err))
	}

	logger.Info("attaching to bridge",
		zap.String("plugin_type", pluginType),
		zap.String("filename", filename),
		zap.String("label", label),
		zap.Int64("unique_id", uniqueID),
	)

	adapter := newPassthroughAdapter()
	applyEngineOptionEnv(adapter)

	w, err := attachWorker(suffix, adapter, logger)
	if err != nil {
		logger.Fatal("attaching to shared memory", zap.Error(err))
	}

	w.run()
}

// shmSuffixFromEnv reads ENGINE_BRIDGE_SHM_IDS, which Transport.spawn
// sets to the same 6-character suffix repeated four times (one region
// family would be enough; the repetition mirrors the real bridge's
// wire format so a worker reading only the first 6 characters still
// gets the right value).
func shmSuffixFromEnv() (string, error) {
	ids := os.Getenv("ENGINE_BRIDGE_SHM_IDS")
	if len(ids) < 6 {
		return "", fmt.Errorf("ENGINE_BRIDGE_SHM_IDS too short: %q", ids)
	}
	return ids[:6], nil
}

// applyEngineOptionEnv reads ENGINE_OPTION_* variables the parent set
// from Config.EngineOptionEnv. The passthrough adapter only recognizes
// GAIN as an initial value; everything else is accepted and ignored,
// matching a real bridge's tolerance for options it doesn't implement.
func applyEngineOptionEnv(adapter *passthroughAdapter) {
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "ENGINE_OPTION_") {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimPrefix(parts[0], "ENGINE_OPTION_")
		if key == "GAIN" {
			if v, err := strconv.ParseFloat(parts[1], 32); err == nil {
				adapter.gain = float32(v)
			}
		}
	}
}
