// Copyright 2024 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devp2p/go-rlpx/p2p/session"
	"github.com/devp2p/go-rlpx/p2p/transport"
	"github.com/devp2p/go-rlpx/p2p/wire"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var (
	dialCommand = &cli.Command{
		Name:      "dial",
		Usage:     "Connects to nodes and performs the RLPx handshake",
		ArgsUsage: "<enode>...",
		Action:    dialNodes,
	}
	listenCommand = &cli.Command{
		Name:   "listen",
		Usage:  "Accepts RLPx connections",
		Action: listen,
	}
)

func dialNodes(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("need at least one enode URL")
	}
	var nodes []*enode.Node
	for _, arg := range ctx.Args().Slice() {
		n, err := enode.ParseV4(arg)
		if err != nil {
			return fmt.Errorf("invalid node %q: %v", arg, err)
		}
		nodes = append(nodes, n)
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	scfg, err := cfg.sessionConfig()
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var group errgroup.Group
	for _, n := range nodes {
		n := n
		group.Go(func() error {
			dialCtx, cancel := context.WithTimeout(runCtx, cfg.Timeout.Duration)
			conn, err := transport.Dial(dialCtx, scfg, n)
			cancel()
			if err != nil {
				return fmt.Errorf("dial %v: %w", n.ID().TerminalString(), err)
			}
			if err := runPeer(runCtx, conn, cfg.Timeout.Duration); err != nil {
				return fmt.Errorf("peer %v: %w", n.ID().TerminalString(), err)
			}
			return nil
		})
	}
	return group.Wait()
}

func listen(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	scfg, err := cfg.sessionConfig()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return err
	}
	addr := ln.Addr().(*net.TCPAddr)
	self := enode.NewV4(&scfg.PrivateKey.PublicKey, net.IP{127, 0, 0, 1}, addr.Port, 0)
	log.Info("Listening for RLPx connections", "addr", addr, "self", self.URLv4())

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(runCtx, ln, scfg, cfg.Timeout.Duration)
}

// serve accepts connections until ctx is canceled.
func serve(ctx context.Context, ln net.Listener, cfg session.Config, timeout time.Duration) error {
	stopListener := context.AfterFunc(ctx, func() { ln.Close() })
	defer stopListener()

	var group errgroup.Group
	defer group.Wait()
	for {
		fd, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		conn := transport.NewConn(fd, cfg)
		group.Go(func() error {
			if err := runPeer(ctx, conn, timeout); err != nil {
				log.Debug("Peer session failed", "addr", conn.RemoteAddr(), "err", err)
			}
			return nil
		})
	}
}

// runPeer performs the handshake and then serves the connection until the remote
// side sends its first sub-protocol message or disconnects. Pings are answered.
func runPeer(ctx context.Context, conn *transport.Conn, timeout time.Duration) error {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	hello, err := conn.Handshake(hctx)
	cancel()
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return conn.Close(wire.DiscQuitting)
		case errors.Is(err, context.DeadlineExceeded):
			conn.Close(wire.DiscReadTimeout)
		default:
			conn.Close(wire.DiscProtocolError)
		}
		return err
	}
	// The session has validated the identity already.
	pub, _ := hello.Pubkey()
	log.Info("Peer connected", "addr", conn.RemoteAddr(), "id", enode.PubkeyToIDV4(pub).TerminalString(),
		"name", hello.Name, "version", hello.Version, "caps", hello.Caps)

	for {
		ev, err := conn.ReadEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return conn.Close(wire.DiscQuitting)
			}
			conn.Close(wire.DiscProtocolError)
			return err
		}
		switch ev.Kind {
		case session.KindPing:
			if err := conn.Write(ctx, session.PongMsg); err != nil {
				conn.Close(wire.DiscNetworkError)
				return err
			}
		case session.KindPong:
		case session.KindDisconnect:
			log.Info("Peer disconnected", "addr", conn.RemoteAddr(), "reason", ev.Reason)
			return conn.Close(ev.Reason)
		default:
			log.Info("Received message", "addr", conn.RemoteAddr(), "msg", ev)
			return conn.Close(wire.DiscRequested)
		}
	}
}
