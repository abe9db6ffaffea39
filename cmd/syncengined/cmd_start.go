package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxdata-sh/max-sub001/internal/lockfile"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlag(cmd)
		if err != nil {
			return err
		}

		if running, pid := lockfile.TryLock(cfg.LockPath); running {
			return fmt.Errorf("syncengined: already running (pid %d)", pid)
		}

		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("syncengined: resolve executable: %w", err)
		}

		runArgs := []string{"run"}
		if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
			runArgs = append(runArgs, "--config", configFile)
		}

		child := exec.Command(exe, runArgs...)
		child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

		if err := child.Start(); err != nil {
			return fmt.Errorf("syncengined: spawn daemon: %w", err)
		}
		if err := child.Process.Release(); err != nil {
			return fmt.Errorf("syncengined: release daemon process: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := waitForSocket(ctx, cfg.SocketPath); err != nil {
			return fmt.Errorf("syncengined: daemon did not become ready: %w", err)
		}

		fmt.Printf("syncengined started (pid %d)\n", child.Process.Pid)
		return nil
	},
}

func init() {
	registerConfigFlag(startCmd)
	rootCmd.AddCommand(startCmd)
}
