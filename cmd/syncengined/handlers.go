package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/maxdata-sh/max-sub001/internal/executor"
	"github.com/maxdata-sh/max-sub001/internal/rpcwire"
	"github.com/maxdata-sh/max-sub001/pkg/engine"
	"github.com/maxdata-sh/max-sub001/pkg/errs"
	"github.com/maxdata-sh/max-sub001/pkg/plan"
	"github.com/maxdata-sh/max-sub001/pkg/ref"
)

// registerHandlers wires the federation boundary's describe/schema/
// engine/sync/health/start/stop surface (§4.5) onto the "installation"
// RPC target. status/completion round out sync() with the poll-by-id
// half of the SyncHandle contract, so a federation client can observe a
// sync it started without staying on the same in-process handle.
func (s *service) registerHandlers() {
	s.rpc.Handle("installation", "describe", s.handleDescribe)
	s.rpc.Handle("installation", "schema", s.handleSchema)
	s.rpc.Handle("installation", "engine", s.handleEngine)
	s.rpc.Handle("installation", "health", s.handleHealth)
	s.rpc.Handle("installation", "sync", s.handleSync)
	s.rpc.Handle("installation", "status", s.handleStatus)
	s.rpc.Handle("installation", "completion", s.handleCompletion)
	s.rpc.Handle("installation", "start", s.handleStart)
	s.rpc.Handle("installation", "stop", s.handleStop)
}

type describeResult struct {
	Version string `json:"version"`
	Socket  string `json:"socket"`
	Workers int    `json:"workers"`
}

func (s *service) handleDescribe(ctx context.Context, scope *rpcwire.Scope, args json.RawMessage) (any, error) {
	return describeResult{Version: Version, Socket: s.cfg.SocketPath, Workers: s.cfg.Workers}, nil
}

type schemaEntity struct {
	EntityType string            `json:"entityType"`
	Fields     map[string]string `json:"fields"` // field name -> loader name
}

func (s *service) handleSchema(ctx context.Context, scope *rpcwire.Scope, args json.RawMessage) (any, error) {
	entities := s.reg.Entities()
	out := make([]schemaEntity, 0, len(entities))
	for _, e := range entities {
		se := schemaEntity{EntityType: e.EntityType, Fields: map[string]string{}}
		if resolver, ok := s.reg.GetResolver(e.EntityType); ok {
			for field, loader := range resolver.FieldLoaders {
				se.Fields[field] = loader
			}
		}
		out = append(out, se)
	}
	return out, nil
}

// engineRequest is the tagged-union wire shape for the "engine" RPC
// method: op selects which of the six Engine methods (§4.5) to invoke,
// and only the fields that op needs are meaningful.
type engineRequest struct {
	Op         string             `json:"op"` // load|loadField|loadCollection|store|loadPage|query
	Ref        ref.Ref            `json:"ref,omitempty"`
	Field      string             `json:"field,omitempty"`
	Input      engine.EntityInput `json:"input,omitempty"`
	EntityType string             `json:"entityType,omitempty"`
	Projection string             `json:"projection,omitempty"` // refs|select|all, default refs
	Fields     []string           `json:"fields,omitempty"`
	Cursor     string             `json:"cursor,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Query      string             `json:"query,omitempty"`
}

type loadFieldResult struct {
	Value any  `json:"value"`
	Found bool `json:"found"`
}

// handleEngine dispatches one of the six Engine surface calls (§4.5:
// load/loadField/loadCollection/store/loadPage/query) so a federation
// client can read back data the sync execution engine has ingested.
func (s *service) handleEngine(ctx context.Context, scope *rpcwire.Scope, args json.RawMessage) (any, error) {
	var req engineRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, errs.Wrap(errs.InvalidRequest, err, "engine: malformed request")
	}

	switch req.Op {
	case "load":
		return s.eng.Load(ctx, req.Ref)
	case "loadField":
		value, found, err := s.eng.LoadField(ctx, req.Ref, req.Field)
		if err != nil {
			return nil, err
		}
		return loadFieldResult{Value: value, Found: found}, nil
	case "loadCollection":
		return s.eng.LoadCollection(ctx, req.Ref, req.Field)
	case "store":
		if err := s.eng.Store(ctx, req.Ref, req.Input); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	case "loadPage":
		return s.eng.LoadPage(ctx, req.EntityType, engineProjection(req.Projection, req.Fields), engine.PageRequest{
			Cursor: req.Cursor,
			Limit:  req.Limit,
		})
	case "query":
		return s.eng.Query(ctx, req.Query)
	default:
		return nil, errs.Newf(errs.InvalidRequest, "engine: unknown op %q", req.Op)
	}
}

func engineProjection(kind string, fields []string) engine.Projection {
	switch kind {
	case "select":
		return engine.SelectProjection(fields...)
	case "all":
		return engine.AllProjection()
	default:
		return engine.RefsProjection()
	}
}

type healthResult struct {
	Status      string `json:"status"`
	ActiveSyncs int    `json:"activeSyncs"`
}

func (s *service) handleHealth(ctx context.Context, scope *rpcwire.Scope, args json.RawMessage) (any, error) {
	active := 0
	for _, h := range s.exec.List() {
		if h.StatusNow() == executor.StatusRunning {
			active++
		}
	}
	return healthResult{Status: "ok", ActiveSyncs: active}, nil
}

type syncResult struct {
	SyncID string `json:"syncId"`
}

// handleSync accepts a plan.Plan as args and starts executing it,
// returning immediately with the assigned sync id (§4.4, §4.5).
func (s *service) handleSync(ctx context.Context, scope *rpcwire.Scope, args json.RawMessage) (any, error) {
	var p plan.Plan
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, errs.Wrap(errs.InvalidPlan, err, "sync: malformed plan")
	}
	if len(p.Steps) == 0 {
		return nil, errs.New(errs.InvalidPlan, "sync: plan has no steps")
	}

	// Execute gets the daemon's own lifetime context, not this RPC
	// connection's: a sync must keep running after the client that
	// started it disconnects, and stop only when the daemon shuts down.
	handle, err := s.exec.Execute(s.runCtx, p)
	if err != nil {
		return nil, err
	}
	return syncResult{SyncID: handle.ID}, nil
}

type syncIDArgs struct {
	SyncID string `json:"syncId"`
}

type statusResult struct {
	Status string `json:"status"`
}

// handleStatus answers a non-blocking peek at a sync's current status, by
// syncId as returned from sync().
func (s *service) handleStatus(ctx context.Context, scope *rpcwire.Scope, args json.RawMessage) (any, error) {
	var req syncIDArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, errs.Wrap(errs.InvalidRequest, err, "status: malformed request")
	}
	handle, ok := s.exec.Get(req.SyncID)
	if !ok {
		return nil, errs.Newf(errs.UnknownSync, "status: unknown sync %q", req.SyncID)
	}
	return statusResult{Status: string(handle.StatusNow())}, nil
}

type completionResult struct {
	Status         string `json:"status"`
	TasksCompleted int    `json:"tasksCompleted"`
	TasksFailed    int    `json:"tasksFailed"`
	DurationMS     int64  `json:"durationMs"`
}

// handleCompletion blocks until the named sync reaches a terminal state
// (or ctx is cancelled — e.g. the client disconnects), then returns the
// same Completion a caller holding the in-process SyncHandle would have
// gotten from handle.Completion(ctx) (§3 "SyncHandle", §8 scenario 6).
func (s *service) handleCompletion(ctx context.Context, scope *rpcwire.Scope, args json.RawMessage) (any, error) {
	var req syncIDArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, errs.Wrap(errs.InvalidRequest, err, "completion: malformed request")
	}
	handle, ok := s.exec.Get(req.SyncID)
	if !ok {
		return nil, errs.Newf(errs.UnknownSync, "completion: unknown sync %q", req.SyncID)
	}

	c, err := handle.Completion(ctx)
	if err != nil {
		return nil, err
	}
	return completionResult{
		Status:         string(c.Status),
		TasksCompleted: c.TasksCompleted,
		TasksFailed:    c.TasksFailed,
		DurationMS:     c.Duration.Milliseconds(),
	}, nil
}

func (s *service) handleStart(ctx context.Context, scope *rpcwire.Scope, args json.RawMessage) (any, error) {
	return healthResult{Status: "already running"}, nil
}

func (s *service) handleStop(ctx context.Context, scope *rpcwire.Scope, args json.RawMessage) (any, error) {
	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = s.rpc.Stop()
	}()
	return healthResult{Status: "stopping"}, nil
}
