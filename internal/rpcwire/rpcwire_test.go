package rpcwire

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxdata-sh/max-sub001/pkg/errs"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")
	s := NewServer(socketPath)

	s.Handle("health", "check", func(ctx context.Context, scope *Scope, args json.RawMessage) (any, error) {
		return map[string]string{"status": "ok"}, nil
	})
	s.Handle("sync", "fail", func(ctx context.Context, scope *Scope, args json.RawMessage) (any, error) {
		return nil, errs.New(errs.LoaderResultNotAvailable, "boom").WithData("taskId", 42)
	})
	s.Handle("echo", "scope", func(ctx context.Context, scope *Scope, args json.RawMessage) (any, error) {
		if scope == nil {
			return "", nil
		}
		return scope.InstallationID, nil
	})

	go func() { _ = s.Start(context.Background()) }()
	select {
	case <-s.WaitReady():
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s, socketPath
}

func TestCallRoundTrip(t *testing.T) {
	_, socketPath := startTestServer(t)
	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := client.Call(ctx, "health", "check", []any{})
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, "ok", result["status"])
}

func TestCallErrorSurvivesWire(t *testing.T) {
	_, socketPath := startTestServer(t)
	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = client.Call(ctx, "sync", "fail", []any{})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.LoaderResultNotAvailable))
	require.True(t, errs.Has(err, errs.NotFound))

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, float64(42), e.Data()["taskId"])
}

func TestConcurrentCallsMultiplexOnOneConnection(t *testing.T) {
	_, socketPath := startTestServer(t)
	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	const n = 20
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, callErr := client.Call(ctx, "health", "check", []any{})
			errCh <- callErr
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errCh)
	}
}

func TestUnknownHandlerReturnsError(t *testing.T) {
	_, socketPath := startTestServer(t)
	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = client.Call(ctx, "nope", "nope", []any{})
	require.Error(t, err)
}
