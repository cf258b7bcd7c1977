package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ErrConnClosed is returned by calls on a connection whose peer went away.
var ErrConnClosed = errors.New("sidecar connection closed")

// rpcRequest is a JSON-RPC 2.0 request. A zero ID marks a notification.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response or notification.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the sidecar. Code may arrive as
// a number or a string.
type RPCError struct {
	Code     int
	CodeText string
	Message  string
}

func (e *RPCError) Error() string {
	code := e.CodeText
	if code == "" {
		code = strconv.Itoa(e.Code)
	}
	return fmt.Sprintf("sidecar error [%s]: %s", code, e.Message)
}

func (e *RPCError) UnmarshalJSON(data []byte) error {
	var aux struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Message = aux.Message

	var codeInt int
	if err := json.Unmarshal(aux.Code, &codeInt); err == nil {
		e.Code = codeInt
		e.CodeText = strconv.Itoa(codeInt)
		return nil
	}
	var codeStr string
	if err := json.Unmarshal(aux.Code, &codeStr); err == nil {
		e.CodeText = codeStr
		if parsed, parseErr := strconv.Atoi(codeStr); parseErr == nil {
			e.Code = parsed
		}
		return nil
	}
	return fmt.Errorf("invalid jsonrpc error code: %s", string(aux.Code))
}

// rpcConn multiplexes newline-delimited JSON-RPC calls over a stream pair.
// A single reader goroutine routes responses to callers by id, so a call
// abandoned through its context does not desynchronize later calls.
type rpcConn struct {
	w io.Writer

	wmu sync.Mutex // serializes writes

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResponse
	err     error // set once the reader stops

	done chan struct{}
}

func newRPCConn(r io.Reader, w io.Writer) *rpcConn {
	c := &rpcConn{
		w:       w,
		pending: make(map[int64]chan rpcResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *rpcConn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024) // screenshots are large
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue // not a protocol line
		}
		// Ignore notifications (no id).
		if len(resp.ID) == 0 {
			continue
		}
		id, ok := parseID(resp.ID)
		if !ok {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrConnClosed
	}
	c.mu.Lock()
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.done)
}

// parseID accepts both numeric ids (1) and string ids ("1").
func parseID(raw json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func (c *rpcConn) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := fmt.Fprintf(c.w, "%s\n", data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// Call sends method and decodes the result into out (when non-nil).
func (c *rpcConn) Call(ctx context.Context, method string, params, out any) error {
	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.forget(id)
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return fmt.Errorf("%s: %w", method, err)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// Notify sends a notification; no response is expected.
func (c *rpcConn) Notify(method string, params any) error {
	return c.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *rpcConn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
