package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxdata-sh/max-sub001/internal/rpcwire"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlag(cmd)
		if err != nil {
			return err
		}

		client, err := rpcwire.Dial(cfg.SocketPath)
		if err != nil {
			fmt.Println("syncengined: not running")
			return nil
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if _, err := client.Call(ctx, "installation", "stop", []any{}); err != nil {
			return fmt.Errorf("syncengined: stop failed: %w", err)
		}

		fmt.Println("syncengined: stopping")
		return nil
	},
}

func init() {
	registerConfigFlag(stopCmd)
	rootCmd.AddCommand(stopCmd)
}
