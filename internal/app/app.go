// Package app assembles the archiving components from configuration.
package app

import (
	"archiver/internal/buffered"
	"archiver/internal/config"
	"archiver/internal/metrics"
	"archiver/internal/orchestrator"
	"archiver/internal/sevenzip"

	"github.com/rs/zerolog"
)

// App holds the long-lived components shared by every job of a process.
type App struct {
	Config       *config.Config
	Locator      *sevenzip.Locator
	Native       *sevenzip.Supervisor
	Buffered     *buffered.Archiver
	Orchestrator *orchestrator.Orchestrator
	Logger       zerolog.Logger
}

// New wires the components. m may be nil.
func New(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) *App {
	locator := sevenzip.NewLocator(LocatorConfig(cfg), logger, m)
	builder := sevenzip.NewCommandBuilder(ThreadPolicy(cfg), cfg.Binary.ExtraArgs)
	native := sevenzip.NewSupervisor(locator, builder, sevenzip.SupervisorConfig{
		GracePeriod:      cfg.Archive.GracePeriod,
		StrictWarnings:   cfg.Archive.StrictWarnings,
		TestAfterArchive: cfg.Binary.TestAfterArchive,
	}, logger)
	buf := buffered.New(buffered.Config{
		BufferSize:         cfg.Archive.BufferSize,
		LargeFileThreshold: cfg.Archive.LargeFileThreshold,
	}, logger)

	return &App{
		Config:       cfg,
		Locator:      locator,
		Native:       native,
		Buffered:     buf,
		Orchestrator: orchestrator.New(native, buf, logger, m),
		Logger:       logger,
	}
}

func LocatorConfig(cfg *config.Config) sevenzip.LocatorConfig {
	return sevenzip.LocatorConfig{
		Names:         cfg.Binary.Names,
		BundledDir:    cfg.Binary.BundledDir,
		SkipPath:      cfg.Binary.SkipPath,
		ProbeTimeout:  cfg.Binary.ProbeTimeout,
		KnownDigests:  cfg.Binary.KnownDigests,
		RejectUnknown: cfg.Binary.RejectUnknown,
	}
}

func ThreadPolicy(cfg *config.Config) sevenzip.ThreadPolicy {
	return sevenzip.ThreadPolicy{
		Ceiling:  cfg.Threads.Ceiling,
		HighCore: cfg.Threads.HighCore,
		LowCore:  cfg.Threads.LowCore,
	}
}
