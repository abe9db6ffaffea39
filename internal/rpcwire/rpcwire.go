// Package rpcwire implements the RPC Transport (§4.7 / §6): JSONL request/
// response records over a Unix socket, one connection multiplexing many
// concurrent requests by id. Grounded on the teacher's
// internal/rpc/server_lifecycle_conn.go connection-handling shape (accept
// loop with a bounded connection semaphore, bufio reader/writer, newline-
// terminated JSON frames); generalised here to dispatch each request line
// to its own goroutine so slow calls don't block others sharing the
// connection, matching §6's multiplexing requirement.
package rpcwire

import (
	"encoding/json"

	"github.com/maxdata-sh/max-sub001/pkg/errs"
)

// Scope carries the installation routing hint a request may name (§4.5:
// "Scope routing strips and forwards scope.installationId to the
// installation dispatcher").
type Scope struct {
	InstallationID string `json:"installationId,omitempty"`
}

// Request is one line of the request stream (§6).
type Request struct {
	ID     string          `json:"id"`
	Target string          `json:"target"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
	Scope  *Scope          `json:"scope,omitempty"`
}

// Response is one line of the response stream (§6). Exactly one of
// Result/Error is populated, selected by Ok.
type Response struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// okResponse builds a successful Response by marshalling result.
func okResponse(id string, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return errResponse(id, errs.Wrap(errs.ContextBuildFailed, err, "marshal result"))
	}
	return Response{ID: id, Ok: true, Result: raw}
}

// errResponse builds a failed Response, serialising err via pkg/errs so
// Is/Has-by-facet survive the wire (§7 propagation policy).
func errResponse(id string, err error) Response {
	return Response{ID: id, Ok: false, Error: errs.Serialize(err)}
}
