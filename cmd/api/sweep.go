package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deskflow/helpdesk-engine/internal/worker"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one SLA breach sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			e, err := buildEngine(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer e.Close()
			worker.StartNotificationWorker(e.notifications, logger)

			result, err := worker.NewSLAWorker(e.sla, cfg.SLA.SweepSchedule, logger).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d tickets, %d breaches flagged, %d failures\n",
				result.Scanned, result.Breaches, result.Failures)
			return nil
		},
	}
}
