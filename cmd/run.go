package main

import (
	"encoding/json"
	"fmt"
	"time"

	"archiver/internal/app"
	"archiver/internal/archive"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run SOURCE DEST",
		Short: "Archive SOURCE into the zip file DEST",
		Args:  cobra.ExactArgs(2),
		RunE:  runArchive,
	}
	flags := cmd.Flags()
	flags.String("backend", "", "native, buffered or auto (default from config)")
	flags.Int("level", 0, "compression level 0-9")
	flags.Bool("store", false, "store entries without compression")
	flags.Int("threads", 0, "compressor thread hint, 0 for the CPU count")
	flags.Bool("progress", true, "print progress to stderr")
	return cmd
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Archive.Backend, _ = flags.GetString("backend")
	}
	kind, err := cfg.Archive.BackendKind()
	if err != nil {
		return err
	}

	profile := cfg.Archive.Profile()
	if flags.Changed("level") {
		profile.Level, _ = flags.GetInt("level")
		profile.Store = false
	}
	if flags.Changed("store") {
		profile.Store, _ = flags.GetBool("store")
	}
	if flags.Changed("threads") {
		profile.ThreadHint, _ = flags.GetInt("threads")
	}

	a := app.New(cfg, logger, nil)
	job := archive.NewJob(args[0], args[1], profile, kind)

	var sink archive.ProgressSink
	if show, _ := flags.GetBool("progress"); show {
		sink = progressPrinter(cmd)
	}

	out := a.Orchestrator.Run(cmd.Context(), job, sink)
	if sink != nil {
		fmt.Fprintln(cmd.ErrOrStderr())
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !out.Success {
		return out.Err()
	}
	return nil
}

// progressPrinter redraws a single status line, at most ten times a second.
func progressPrinter(cmd *cobra.Command) archive.ProgressSink {
	var last time.Time
	return func(ev archive.ProgressEvent) {
		if ev.Percent < 100 && time.Since(last) < 100*time.Millisecond {
			return
		}
		last = time.Now()
		fmt.Fprintf(cmd.ErrOrStderr(), "\r%5.1f%% %-60.60s", ev.Percent, ev.CurrentFile)
	}
}
