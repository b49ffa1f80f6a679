// Package nettransport provides a real TCP peerauth.Transport, grounded on
// pkg/transport's TCP listener and pkg/message's length-prefix stream
// framing, for connecting two Peers across real sockets rather than an
// in-memory pipe.
package nettransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/backkem/peerauth/pkg/message"
	"github.com/backkem/peerauth/pkg/peerauth"
	"github.com/pion/logging"
)

// Config configures a TCP transport. Exactly one of Listener, ListenAddr or
// DialAddr establishes the connection; the other side is expected to do the
// opposite.
type Config struct {
	// ListenAddr, if set, makes the transport accept a single inbound
	// connection on this address (e.g. ":7040"). Ignored if Listener is set.
	ListenAddr string

	// Listener, if set, is used directly instead of opening ListenAddr,
	// the same injected-listener pattern pkg/transport.TCPConfig uses.
	// Lets callers bind an ephemeral port (":0") up front and learn its
	// address before the counterparty dials it.
	Listener net.Listener

	// DialAddr, if set, makes the transport dial out to a peer already
	// listening at this address.
	DialAddr string

	// LoggerFactory builds the transport's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Transport is a peerauth.Transport over one persistent TCP connection to
// a single counterparty.
type Transport struct {
	log logging.LeveledLogger

	mu   sync.Mutex
	conn net.Conn

	writeM  sync.Mutex
	writer  *message.StreamWriter
	handler func(*peerauth.AuthMessage)

	ready chan struct{}
}

// Dial establishes the connection described by config and returns a ready
// Transport. For ListenAddr it blocks until a peer connects; for DialAddr
// it blocks until the dial succeeds.
func Dial(ctx context.Context, config Config) (*Transport, error) {
	t := &Transport{ready: make(chan struct{})}
	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("peerauth-tcp")
	}

	var conn net.Conn
	var err error
	switch {
	case config.Listener != nil:
		conn, err = acceptOneOn(ctx, config.Listener)
	case config.ListenAddr != "":
		conn, err = acceptOne(ctx, config.ListenAddr)
	case config.DialAddr != "":
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", config.DialAddr)
	default:
		return nil, fmt.Errorf("nettransport: one of Listener, ListenAddr or DialAddr is required")
	}
	if err != nil {
		return nil, fmt.Errorf("nettransport: establishing connection: %w", err)
	}

	t.conn = conn
	t.writer = message.NewStreamWriter(conn)
	close(t.ready)

	go t.readLoop()
	return t, nil
}

func acceptOne(ctx context.Context, addr string) (net.Conn, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	return acceptOneOn(ctx, ln)
}

func acceptOneOn(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		resCh <- result{conn, err}
	}()

	select {
	case res := <-resCh:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implements peerauth.Transport.
func (t *Transport) Send(ctx context.Context, msg *peerauth.AuthMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("nettransport: encoding message: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(dl); err != nil {
			return fmt.Errorf("nettransport: setting write deadline: %w", err)
		}
	}

	t.writeM.Lock()
	defer t.writeM.Unlock()
	if _, err := t.writer.Write(body); err != nil {
		return fmt.Errorf("nettransport: writing frame: %w", err)
	}
	return nil
}

// OnData implements peerauth.Transport.
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
			if t.log != nil {
				t.log.Debugf("read loop exiting: %v", err)
			}
			return
		}

		var msg peerauth.AuthMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			if t.log != nil {
				t.log.Warnf("dropping undecodable frame: %v", err)
			}
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
	return t.conn.Close()
}

var _ peerauth.Transport = (*Transport)(nil)
