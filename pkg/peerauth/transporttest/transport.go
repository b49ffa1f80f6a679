// Package transporttest provides an in-memory peerauth.Transport, built on
// top of pkg/transport.Pipe, the same pion/transport/v3/test bridge the
// rest of this module already uses for deterministic, flaky-free tests,
// and pkg/message's length-prefix stream framing.
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/backkem/peerauth/pkg/message"
	"github.com/backkem/peerauth/pkg/peerauth"
	"github.com/backkem/peerauth/pkg/transport"
)

// Pair returns two connected Transports, A and B, each delivering
// AuthMessages sent on one side to OnData handlers registered on the
// other.
func Pair() (a, b *Transport, closeFn func()) {
	pipe := transport.NewPipe()
	a = newTransport(pipe.Conn0())
	b = newTransport(pipe.Conn1())
	return a, b, func() {
		a.Close()
		b.Close()
		pipe.Close()
	}
}

// Transport is a peerauth.Transport backed by a single net.Conn. Sent
// messages are JSON-encoded and length-prefix framed; a background reader
// goroutine decodes frames off the connection and dispatches them to the
// registered handler.
type Transport struct {
	conn   net.Conn
	writer *message.StreamWriter
	writeM sync.Mutex

	mu      sync.Mutex
	handler func(*peerauth.AuthMessage)

	closeOnce sync.Once
}

func newTransport(conn net.Conn) *Transport {
	t := &Transport{
		conn:   conn,
		writer: message.NewStreamWriter(conn),
	}
	go t.readLoop()
	return t
}

// Send writes msg to the underlying connection, length-prefixed.
func (t *Transport) Send(ctx context.Context, msg *peerauth.AuthMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transporttest: encoding message: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(dl); err != nil {
			return fmt.Errorf("transporttest: setting write deadline: %w", err)
		}
	}

	t.writeM.Lock()
	defer t.writeM.Unlock()
	if _, err := t.writer.Write(body); err != nil {
		return fmt.Errorf("transporttest: writing frame: %w", err)
	}
	return nil
}

// OnData registers the handler invoked for every message read off the
// connection. Only one handler may be registered at a time; a later call
// replaces the earlier one.
func (t *Transport) OnData(handler func(*peerauth.AuthMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *Transport) readLoop() {
	reader := message.NewStreamReader(t.conn)
	for {
		body, err := reader.Read()
		if err != nil {
			return
		}

		var msg peerauth.AuthMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			continue
		}

		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(&msg)
		}
	}
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

var _ peerauth.Transport = (*Transport)(nil)
