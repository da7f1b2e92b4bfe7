package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/biogate/biogate-go/cmd"
	"github.com/biogate/biogate-go/internal/classify"
	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/dsp"
	"github.com/biogate/biogate-go/internal/logging"
	"github.com/biogate/biogate-go/internal/model"
	"github.com/biogate/biogate-go/internal/runtime"
)

// Populated by the linker at build time.
var version = "dev"
var buildDate = ""

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)

	var closeFileLogger func() error
	if settings.Main.Log.Enabled {
		fileLog, closeFn, err := logging.NewFileLogger(
			settings.Main.Log.Path, "biogate", level,
			settings.Main.Log.MaxSizeMB, settings.Main.Log.MaxBackups, settings.Main.Log.MaxAgeDays)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			return 1
		}
		slog.SetDefault(fileLog)
		closeFileLogger = closeFn
	}
	if closeFileLogger != nil {
		defer closeFileLogger() //nolint:errcheck // nothing to do about a close error on exit
	}

	log := logging.ForService("main")

	ctx, err := runtime.NewContext(settings, collaborators(), log,
		runtime.Build{Version: version, BuildDate: buildDate})
	if err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}
	defer ctx.Close() //nolint:errcheck // exiting anyway

	// Leftover backups mean a previous run died between rollback phases;
	// the live artifacts are authoritative.
	ctx.Artifacts.SweepStaleBackups()

	if err := cmd.RootCommand(ctx).Execute(); err != nil {
		log.Error("command failed", "error", err)
		return 1
	}
	return 0
}

// collaborators wires the built-in implementations. The face stack
// (preprocessor, embedders, frame analyzer) and the capture devices are
// deployment-specific and plug in here; commands that need a missing
// collaborator refuse to run with a configuration error.
func collaborators() model.Collaborators {
	return model.Collaborators{
		Denoiser:          dsp.NewNoiseGate(),
		VAD:               dsp.NewEnergyVAD(),
		AudioEffects:      dsp.Effects{},
		ClassifierFactory: classify.Factory{},
	}
}
