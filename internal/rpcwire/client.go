package rpcwire

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/maxdata-sh/max-sub001/pkg/errs"
)

// Client is a single multiplexed connection to an rpcwire.Server: many
// goroutines may call Call concurrently; responses are routed back to the
// right caller by the request id they were issued with.
type Client struct {
	conn   net.Conn
	writer *bufio.Writer
	wmu    sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	closed  chan struct{}
}

// Dial opens a connection to the Unix socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("rpcwire: dial: %w", err)
	}
	c := &Client{
		conn:    conn,
		writer:  bufio.NewWriter(conn),
		pending: make(map[string]chan Response),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts down the connection; any Call still waiting on a response
// returns an error.
func (c *Client) Close() error {
	err := c.conn.Close()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return err
}

func (c *Client) readLoop() {
	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.failAllPending(err)
			return
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failAllPending(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- errResponse(id, errs.Wrap(errs.ContextBuildFailed, cause, "connection closed"))
		delete(c.pending, id)
	}
}

// Call issues one request and blocks until its matching response arrives
// or ctx is done. On ok:false, the returned error is a *errs.Error
// reconstituted from the wire so Is/Has-by-facet still work (§7).
func (c *Client) Call(ctx context.Context, target, method string, args any) (json.RawMessage, error) {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, errs.Wrap(errs.ContextBuildFailed, err, "marshal args")
	}

	id := uuid.NewString()
	req := Request{ID: id, Target: target, Method: method, Args: rawArgs}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.ContextBuildFailed, err, "marshal request")
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.wmu.Lock()
	_, writeErr := c.writer.Write(data)
	if writeErr == nil {
		writeErr = c.writer.WriteByte('\n')
	}
	if writeErr == nil {
		writeErr = c.writer.Flush()
	}
	c.wmu.Unlock()
	if writeErr != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, errs.Wrap(errs.ContextBuildFailed, writeErr, "write request")
	}

	select {
	case resp := <-ch:
		if !resp.Ok {
			reconstituted, rErr := errs.Reconstitute(resp.Error)
			if rErr != nil {
				return nil, rErr
			}
			return nil, reconstituted
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("rpcwire: client closed")
	}
}
