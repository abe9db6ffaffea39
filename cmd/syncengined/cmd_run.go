package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlag(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		svc, err := newService(ctx, cfg)
		if err != nil {
			return err
		}
		defer svc.close()

		return svc.run(ctx)
	},
}

func init() {
	registerConfigFlag(runCmd)
	rootCmd.AddCommand(runCmd)
}
