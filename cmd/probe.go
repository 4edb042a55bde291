package main

import (
	"encoding/json"

	"archiver/internal/app"

	"github.com/spf13/cobra"
)

type probeResult struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Warning   string `json:"warning,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Locate and validate the 7-Zip executable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			a := app.New(cfg, logger, nil)

			locate := a.Locator.Locate
			if reprobe, _ := cmd.Flags().GetBool("reprobe"); reprobe {
				locate = a.Locator.Reprobe
			}

			var res probeResult
			d, err := locate(cmd.Context())
			if err != nil {
				res.Error = err.Error()
			} else {
				res = probeResult{Available: true, Path: d.Path, Version: d.Version, Digest: d.Digest, Warning: d.Warning}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().Bool("reprobe", false, "ignore any cached result")
	return cmd
}
