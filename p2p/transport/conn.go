// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package transport runs RLPx sessions over network connections.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/devp2p/go-rlpx/p2p/session"
	"github.com/devp2p/go-rlpx/p2p/wire"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

const (
	readBufferSize = 4096

	// discWriteTimeout bounds the write of the final Disconnect message.
	discWriteTimeout = 1 * time.Second
)

var errUnexpectedEvent = errors.New("unexpected message during handshake")

// aLongTimeAgo is a past deadline used to interrupt blocked socket calls.
var aLongTimeAgo = time.Unix(1, 0)

// Conn is an RLPx connection. It feeds data read from the socket into a session
// and writes the messages encoded by it.
//
// ReadEvent must not be called concurrently, but it may run concurrently with
// Write and Close.
type Conn struct {
	fd  net.Conn
	log log.Logger

	wmu sync.Mutex // serializes writes, held across Encode and the socket write
	mu  sync.Mutex // guards sess
	// No other lock may be taken while holding mu.
	sess *session.Session

	rbuf    bytes.Buffer
	scratch []byte
}

// Dial connects to the given node and creates an outgoing connection. The handshake
// is not performed, call Handshake next.
func Dial(ctx context.Context, cfg session.Config, n *enode.Node) (*Conn, error) {
	if n.Pubkey() == nil {
		return nil, fmt.Errorf("node %v has no public key", n)
	}
	if n.IP() == nil || n.TCP() == 0 {
		return nil, fmt.Errorf("node %v has no TCP endpoint", n.ID().TerminalString())
	}
	addr := net.JoinHostPort(n.IP().String(), strconv.Itoa(n.TCP()))

	var d net.Dialer
	fd, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New("id", n.ID().TerminalString(), "addr", addr)
	}
	return newConn(fd, session.NewOutgoing(cfg, n.Pubkey()), cfg.Logger), nil
}

// NewConn creates an incoming connection on an accepted socket.
func NewConn(fd net.Conn, cfg session.Config) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = log.New("addr", fd.RemoteAddr())
	}
	return newConn(fd, session.NewIncoming(cfg), cfg.Logger)
}

func newConn(fd net.Conn, sess *session.Session, logger log.Logger) *Conn {
	return &Conn{
		fd:      fd,
		log:     logger,
		sess:    sess,
		scratch: make([]byte, readBufferSize),
	}
}

// RemoteAddr returns the address of the remote end.
func (c *Conn) RemoteAddr() net.Addr {
	return c.fd.RemoteAddr()
}

// State returns the session state.
func (c *Conn) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.State()
}

// Handshake performs the encryption handshake and the Hello exchange. It returns
// the Hello sent by the remote side.
func (c *Conn) Handshake(ctx context.Context) (*wire.Hello, error) {
	c.mu.Lock()
	dir := c.sess.Direction()
	c.mu.Unlock()

	if dir == session.Outgoing {
		if err := c.Write(ctx, session.AuthMsg); err != nil {
			return nil, err
		}
		if err := c.expect(ctx, session.KindAuthAck); err != nil {
			return nil, err
		}
	} else {
		if err := c.expect(ctx, session.KindAuth); err != nil {
			return nil, err
		}
		if err := c.Write(ctx, session.AuthAckMsg); err != nil {
			return nil, err
		}
	}

	if err := c.Write(ctx, session.HelloMsg); err != nil {
		return nil, err
	}
	ev, err := c.ReadEvent(ctx)
	if err != nil {
		return nil, err
	}
	if ev.Kind != session.KindHello {
		// Not reachable, the session rejects anything else before Hello.
		return nil, fmt.Errorf("%w: %v", errUnexpectedEvent, ev)
	}
	c.log.Debug("RLPx handshake done", "name", ev.Hello.Name, "caps", ev.Hello.Caps)
	return ev.Hello, nil
}

func (c *Conn) expect(ctx context.Context, kind session.Kind) error {
	ev, err := c.ReadEvent(ctx)
	if err != nil {
		return err
	}
	if ev.Kind != kind {
		return fmt.Errorf("%w: got %v, want %v", errUnexpectedEvent, ev, kind)
	}
	return nil
}

// ReadEvent reads until the session has decoded the next event.
func (c *Conn) ReadEvent(ctx context.Context) (*session.Event, error) {
	stop := c.watch(ctx, c.fd.SetReadDeadline)
	defer stop()

	for {
		c.mu.Lock()
		ev, err := c.sess.Decode(&c.rbuf)
		c.mu.Unlock()
		if err != nil || ev != nil {
			return ev, err
		}
		n, err := c.fd.Read(c.scratch)
		if err != nil {
			return nil, ctxError(ctx, err)
		}
		c.rbuf.Write(c.scratch[:n])
	}
}

// Write encodes msg and writes it to the connection.
func (c *Conn) Write(ctx context.Context, msg session.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.mu.Lock()
	data, err := c.sess.Encode(msg)
	c.mu.Unlock()
	if err != nil || len(data) == 0 {
		return err
	}

	stop := c.watch(ctx, c.fd.SetWriteDeadline)
	defer stop()
	if _, err := c.fd.Write(data); err != nil {
		return ctxError(ctx, err)
	}
	return nil
}

// Close sends a Disconnect message if the session is still open, then closes the
// socket.
func (c *Conn) Close(reason wire.DiscReason) error {
	if c.State() != session.Disconnected {
		ctx, cancel := context.WithTimeout(context.Background(), discWriteTimeout)
		if err := c.Write(ctx, session.DisconnectMsg(reason)); err != nil {
			c.log.Trace("Failed to send disconnect", "err", err)
		}
		cancel()
	}
	return c.fd.Close()
}

// watch applies the context deadline to the socket and interrupts blocked calls
// when ctx is canceled. The returned function must be called when the socket
// operation is done.
func (c *Conn) watch(ctx context.Context, setDeadline func(time.Time) error) (stop func()) {
	deadline, _ := ctx.Deadline()
	setDeadline(deadline)
	stopf := context.AfterFunc(ctx, func() {
		setDeadline(aLongTimeAgo)
	})
	return func() { stopf() }
}

// ctxError returns the context error if the socket call failed because the context
// ended.
func ctxError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// The socket deadline can expire just before the context timer fires.
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}
	return err
}
