package headless

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xhd2015/dlv-fixture/log"
)

// ErrClientClosed is returned by requests on a closed client.
var ErrClientClosed = errors.New("client is closed")

type jsonRPCRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	Id     int           `json:"id"`
}

// Delve's server uses net/rpc's JSON codec, where error is a plain string.
type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  interface{}     `json:"error"`
	Id     int             `json:"id"`
}

// Client sends JSON-RPC requests to a Delve headless server, one at a time.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	logger log.Logger

	mu     sync.Mutex
	seq    int
	closed bool
}

func NewClient(conn net.Conn, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: logger,
		seq:    1,
	}
}

// Close closes the connection to the headless server
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Abort closes the connection without waiting for an in-flight request,
// which then fails.
func (c *Client) Abort() {
	c.conn.Close()
}

func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sendRequest sends method with params and decodes the result into T.
// When ctx ends mid-request the connection can no longer be trusted to be in
// sync, so the client is closed.
func sendRequest[T any](ctx context.Context, c *Client, method RPCMethod, params interface{}) (T, error) {
	var result T

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return result, ErrClientClosed
	}

	seqNum := c.seq
	c.seq++

	requestBytes, err := json.Marshal(jsonRPCRequest{
		Method: string(method),
		Params: []interface{}{params},
		Id:     seqNum,
	})
	if err != nil {
		return result, fmt.Errorf("failed to marshal request: %w", err)
	}
	c.logger.Debugf("delve request: %s", requestBytes)
	requestBytes = append(requestBytes, '\n')

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	fail := func(err error) (T, error) {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		c.closed = true
		c.conn.Close()
		return result, err
	}

	if _, err := c.conn.Write(requestBytes); err != nil {
		return fail(fmt.Errorf("failed to send request: %w", err))
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return fail(fmt.Errorf("failed to read response: %w", err))
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return result, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Id != seqNum {
		return result, fmt.Errorf("response ID %d does not match request ID %d", resp.Id, seqNum)
	}
	if resp.Error != nil {
		switch e := resp.Error.(type) {
		case string:
			return result, errors.New(e)
		default:
			b, _ := json.Marshal(e)
			return result, fmt.Errorf("error from Delve: %s", b)
		}
	}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return result, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return result, nil
}
