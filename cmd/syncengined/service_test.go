package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxdata-sh/max-sub001/internal/config"
	"github.com/maxdata-sh/max-sub001/internal/rpcwire"
	"github.com/maxdata-sh/max-sub001/pkg/plan"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.SocketPath = filepath.Join(dir, "syncengined.sock")
	cfg.DBPath = filepath.Join(dir, "tasks.db")
	cfg.SyncMetaDBPath = filepath.Join(dir, "meta.db")
	cfg.LockPath = filepath.Join(dir, "syncengined.lock")
	cfg.LogPath = ""
	return cfg
}

func TestServiceServesHealthOverSocket(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newService(ctx, cfg)
	require.NoError(t, err)
	defer svc.close()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- svc.run(ctx) }()

	require.NoError(t, waitForSocket(context.Background(), cfg.SocketPath))

	client, err := rpcwire.Dial(cfg.SocketPath)
	require.NoError(t, err)
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()

	raw, err := client.Call(callCtx, "installation", "health", []any{})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, "ok", result["status"])

	cancel()
	select {
	case <-runErrCh:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not shut down after context cancel")
	}
}

func TestServiceRejectsSecondLockHolder(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := newService(ctx, cfg)
	require.NoError(t, err)
	defer first.close()

	_, err = newService(ctx, cfg)
	require.Error(t, err)
}

// TestSyncCompletionRoundTripOverRPC drives the full federation client
// path (§8 scenario 6): submit a plan via sync(), take the returned
// syncId, and poll completion() over the same socket, asserting the
// result matches what an in-process SyncHandle.Completion would give. A
// forAll over an entity type with nothing stored completes as soon as its
// single sync-step task finds no refs, so this needs no registry/resolver
// wiring.
func TestSyncCompletionRoundTripOverRPC(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newService(ctx, cfg)
	require.NoError(t, err)
	defer svc.close()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- svc.run(ctx) }()

	require.NoError(t, waitForSocket(context.Background(), cfg.SocketPath))

	client, err := rpcwire.Dial(cfg.SocketPath)
	require.NoError(t, err)
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()

	p := plan.New(plan.ForAllStep("Widget", plan.LoadFieldsOp("name")))

	syncRaw, err := client.Call(callCtx, "installation", "sync", p)
	require.NoError(t, err)
	var syncResp struct {
		SyncID string `json:"syncId"`
	}
	require.NoError(t, json.Unmarshal(syncRaw, &syncResp))
	require.NotEmpty(t, syncResp.SyncID)

	completionRaw, err := client.Call(callCtx, "installation", "completion", map[string]string{"syncId": syncResp.SyncID})
	require.NoError(t, err)
	var completionResp struct {
		Status         string `json:"status"`
		TasksCompleted int    `json:"tasksCompleted"`
		TasksFailed    int    `json:"tasksFailed"`
	}
	require.NoError(t, json.Unmarshal(completionRaw, &completionResp))
	require.Equal(t, "completed", completionResp.Status)
	require.Equal(t, 0, completionResp.TasksFailed)

	statusRaw, err := client.Call(callCtx, "installation", "status", map[string]string{"syncId": syncResp.SyncID})
	require.NoError(t, err)
	var statusResp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(statusRaw, &statusResp))
	require.Equal(t, "completed", statusResp.Status)

	handle, ok := svc.exec.Get(syncResp.SyncID)
	require.True(t, ok)
	inProcess, err := handle.Completion(callCtx)
	require.NoError(t, err)
	require.Equal(t, string(inProcess.Status), completionResp.Status)
	require.Equal(t, inProcess.TasksCompleted, completionResp.TasksCompleted)
}

func TestHandleSyncRejectsEmptyPlan(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newService(ctx, cfg)
	require.NoError(t, err)
	defer svc.close()

	_, err = svc.handleSync(ctx, nil, json.RawMessage(`{"Steps":[]}`))
	require.Error(t, err)
}
