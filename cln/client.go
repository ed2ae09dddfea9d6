// Package cln implements the small slice of the Core Lightning JSON-RPC
// surface that fee bumping needs, along with the stdio wire protocol used by
// lightningd to drive plugins. Wallet custody never leaves lightningd; this
// package only asks it for addresses, UTXOs, reservations and signatures.
package cln

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var (
	// ErrClientShutdown is returned when a call is attempted after the
	// client has been closed.
	ErrClientShutdown = errors.New("cln client has been shut down")

	// ErrEmptyResponse is returned when lightningd closes the connection
	// before delivering a response to a pending call.
	ErrEmptyResponse = errors.New("no response received from lightningd")
)

// RPCError is the error payload lightningd attaches to a failed call.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error returns the error message carried by the RPC error payload.
func (e *RPCError) Error() string {
	return fmt.Sprintf("cln rpc error %d: %s", e.Code, e.Message)
}

// request is a single JSON-RPC 2.0 request frame.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// response is a single JSON-RPC 2.0 response frame.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Client speaks JSON-RPC 2.0 to lightningd over its lightning-rpc unix
// socket. The socket serves one response per request in order, so calls are
// serialized with a mutex rather than demultiplexed.
type Client struct {
	socketPath string

	// mtx guards the connection and the decoder so that a single
	// request/response exchange is always atomic on the wire.
	mtx    sync.Mutex
	conn   net.Conn
	dec    *json.Decoder
	nextID uint64

	closed bool
}

// NewClient creates a client for the lightning-rpc socket at the given path.
// The connection is established lazily on the first call so that the client
// can be constructed during the plugin handshake before lightningd has
// finished starting its own RPC server.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
	}
}

// Close tears down the socket connection. Calls made after Close return
// ErrClientShutdown.
func (c *Client) Close() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.dec = nil

	return err
}

// connect dials the unix socket if no connection is active. The caller must
// hold the client mutex.
func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}

	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("unable to dial lightning-rpc socket "+
			"%v: %w", c.socketPath, err)
	}

	log.Debugf("Connected to lightning-rpc socket %v", c.socketPath)

	c.conn = conn
	c.dec = json.NewDecoder(conn)

	return nil
}

// Call invokes a method on lightningd with the given params and decodes the
// result into reply. A nil reply discards the result. If the context carries
// a deadline it is applied to the socket exchange, otherwise the call blocks
// until lightningd answers.
func (c *Client) Call(ctx context.Context, method string,
	params, reply interface{}) error {

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.closed {
		return ErrClientShutdown
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.connect(); err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	c.nextID++
	id := c.nextID

	req := &request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("unable to marshal %v request: %w", method,
			err)
	}

	log.Tracef("Sending %v request id=%d", method, id)

	// lightningd's parser treats requests as a stream of JSON objects;
	// the blank line terminator matches what its own tooling sends.
	payload = append(payload, '\n', '\n')
	if _, err := c.conn.Write(payload); err != nil {
		c.teardown()
		return fmt.Errorf("unable to send %v request: %w", method, err)
	}

	// Responses arrive in request order on this socket. Skip anything
	// without our id, such as notifications lightningd may emit.
	for {
		var resp response
		if err := c.dec.Decode(&resp); err != nil {
			c.teardown()
			return fmt.Errorf("unable to read %v response: %w",
				method, errors.Join(ErrEmptyResponse, err))
		}

		if resp.ID == nil || *resp.ID != id {
			continue
		}

		if resp.Error != nil {
			return resp.Error
		}

		if reply == nil {
			return nil
		}

		if err := json.Unmarshal(resp.Result, reply); err != nil {
			return fmt.Errorf("unable to decode %v result: %w",
				method, err)
		}

		return nil
	}
}

// teardown drops a broken connection so the next call redials. The caller
// must hold the client mutex.
func (c *Client) teardown() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.dec = nil
}
