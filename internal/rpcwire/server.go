package rpcwire

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/maxdata-sh/max-sub001/pkg/errs"
)

// Handler answers one target.method call. args is the raw JSON value the
// client sent as the request's args (an array, an object, or absent); the
// handler is responsible for unmarshalling whatever shape it expects.
type Handler func(ctx context.Context, scope *Scope, args json.RawMessage) (any, error)

// maxConns bounds concurrent accepted connections, mirroring the teacher's
// connSemaphore-gated accept loop so a runaway client can't exhaust file
// descriptors.
const maxConns = 64

// Server listens on a Unix socket and dispatches JSONL requests to
// registered target.method handlers.
type Server struct {
	socketPath string

	mu       sync.RWMutex
	handlers map[string]Handler
	listener net.Listener

	connSema  chan struct{}
	readyChan chan struct{}
	doneChan  chan struct{}
	stopOnce  sync.Once
	shutdown  bool
}

// NewServer builds a Server bound to socketPath. Call Handle to register
// handlers before Start.
func NewServer(socketPath string) *Server {
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]Handler),
		connSema:   make(chan struct{}, maxConns),
		readyChan:  make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Handle registers a handler for "target.method".
func (s *Server) Handle(target, method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[target+"."+method] = h
}

// WaitReady blocks until the server's listener is accepting connections.
func (s *Server) WaitReady() <-chan struct{} {
	return s.readyChan
}

// Start begins accepting connections. Blocks until the listener closes
// (normally via Stop); returns nil on a clean shutdown.
func (s *Server) Start(context.Context) error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("rpcwire: listen: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("rpcwire: chmod socket: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.readyChan)
	defer close(s.doneChan)

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.RLock()
			shutdown := s.shutdown
			s.mu.RUnlock()
			if shutdown {
				return nil
			}
			return fmt.Errorf("rpcwire: accept: %w", err)
		}

		select {
		case s.connSema <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-s.connSema }()
				s.handleConnection(c)
			}(conn)
		default:
			_ = conn.Close()
		}
	}
}

// Stop closes the listener and the underlying socket file, then waits
// (bounded) for Start's accept loop to exit.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()

		if listener != nil {
			if closeErr := listener.Close(); closeErr != nil {
				err = fmt.Errorf("rpcwire: close listener: %w", closeErr)
			}
		}
		_ = os.Remove(s.socketPath)
	})

	select {
	case <-s.doneChan:
	case <-time.After(5 * time.Second):
	}
	return err
}

// handleConnection reads newline-delimited Requests and dispatches each to
// its own goroutine, so one slow call never blocks other in-flight calls
// multiplexed on the same connection (§6). Responses are written as each
// call completes, serialised by writeMu since bufio.Writer isn't safe for
// concurrent use.
func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := bufio.NewReader(conn)
	var writeMu sync.Mutex
	writer := bufio.NewWriter(conn)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(&writeMu, writer, Response{Ok: false, Error: errs.Serialize(
				errs.Wrap(errs.ContextBuildFailed, err, "malformed request"))})
			continue
		}

		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			resp := s.dispatch(connCtx, &req)
			s.writeResponse(&writeMu, writer, resp)
		}(req)
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	s.mu.RLock()
	h, ok := s.handlers[req.Target+"."+req.Method]
	s.mu.RUnlock()
	if !ok {
		return errResponse(req.ID, errs.Newf(errs.NoResolver, "no handler for %s.%s", req.Target, req.Method))
	}

	result, err := h(ctx, req.Scope, req.Args)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, result)
}

func (s *Server) writeResponse(writeMu *sync.Mutex, writer *bufio.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	_, _ = writer.Write(data)
	_ = writer.WriteByte('\n')
	_ = writer.Flush()
}
