package dap

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// Transport reads and writes DAP protocol messages.
// Reads happen on a single goroutine; writes may come from several.
type Transport interface {
	ReadMessage() (dap.Message, error)
	WriteMessage(msg dap.Message) error
	Close() error
}

type connTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewConnTransport returns a Transport over conn.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

func (t *connTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *connTransport) ReadMessage() (dap.Message, error) {
	if t.isClosed() {
		return nil, fmt.Errorf("transport is closed")
	}
	msg, err := dap.ReadProtocolMessage(t.reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read DAP message: %w", err)
	}
	return msg, nil
}

func (t *connTransport) WriteMessage(msg dap.Message) error {
	if t.isClosed() {
		return fmt.Errorf("transport is closed")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return fmt.Errorf("failed to write DAP message: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush DAP message: %w", err)
	}
	return nil
}

func (t *connTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
