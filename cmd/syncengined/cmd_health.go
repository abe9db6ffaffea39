package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxdata-sh/max-sub001/internal/rpcwire"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the daemon is reachable and healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlag(cmd)
		if err != nil {
			return err
		}

		client, err := rpcwire.Dial(cfg.SocketPath)
		if err != nil {
			return fmt.Errorf("syncengined: daemon not reachable at %s: %w", cfg.SocketPath, err)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		raw, err := client.Call(ctx, "installation", "health", []any{})
		if err != nil {
			return fmt.Errorf("syncengined: health check failed: %w", err)
		}

		var result map[string]any
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("syncengined: malformed health response: %w", err)
		}

		fmt.Printf("status=%v activeSyncs=%v\n", result["status"], result["activeSyncs"])
		return nil
	},
}

func init() {
	registerConfigFlag(healthCmd)
	rootCmd.AddCommand(healthCmd)
}

// waitForSocket polls until the daemon's RPC socket accepts connections
// and answers a health check, or ctx expires.
func waitForSocket(ctx context.Context, socketPath string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		client, err := rpcwire.Dial(socketPath)
		if err == nil {
			callCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			_, callErr := client.Call(callCtx, "installation", "health", []any{})
			cancel()
			_ = client.Close()
			if callErr == nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
