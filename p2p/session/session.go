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

// Package session implements the RLPx session state machine. A Session turns
// the encryption handshake and the Hello exchange into an active message stream.
//
// Sessions do not perform I/O. The caller feeds received bytes into Decode and
// writes the output of Encode to the connection. A session must not be used
// from more than one goroutine at a time.
package session

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/devp2p/go-rlpx/p2p/rlpx"
	"github.com/devp2p/go-rlpx/p2p/wire"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/golang/snappy"
)

var (
	// ErrSessionClosed is returned by every call on a disconnected session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotActive is returned when a message other than Hello or Disconnect is
	// encoded before the Hello exchange has completed.
	ErrNotActive = errors.New("session not active")

	// ErrInvalidState is returned when a handshake message is encoded in the wrong
	// state. The session is not affected.
	ErrInvalidState = errors.New("message not allowed in current state")

	// ErrProtocolViolation is returned when the remote side sends a message that
	// is not allowed in the current state. It is fatal.
	ErrProtocolViolation = errors.New("protocol violation")

	ErrPayloadTooLarge = errors.New("message payload too large")
)

// Direction tells which side initiated the connection.
type Direction uint8

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// Config contains the local settings of a session.
type Config struct {
	PrivateKey *ecdsa.PrivateKey // node key, required
	Name       string            // client name announced in Hello
	Caps       []wire.Cap        // announced capabilities, eth/68 if empty
	ListenPort uint64            // announced listening port, zero if not listening
	Logger     log.Logger        // optional
}

// frameProgress records a frame whose header has been read but whose body has
// not fully arrived yet.
type frameProgress struct {
	header bool
	size   int
}

// Session is the state of one RLPx connection.
type Session struct {
	state State
	dir   Direction
	log   log.Logger

	hs     *rlpx.Handshake  // until secrets are derived
	codec  *rlpx.FrameCodec // after secrets are derived
	remote *ecdsa.PublicKey

	progress frameProgress

	hello       *wire.Hello // local Hello
	helloSent   bool
	remoteHello *wire.Hello
	snappy      bool
}

// NewOutgoing creates a session for a connection dialed to the node with the
// given public key.
func NewOutgoing(cfg Config, remote *ecdsa.PublicKey) *Session {
	if remote == nil {
		panic("session: outgoing session needs remote key")
	}
	return newSession(cfg, Outgoing, remote)
}

// NewIncoming creates a session for an accepted connection. The remote key is
// learned from the auth packet.
func NewIncoming(cfg Config) *Session {
	return newSession(cfg, Incoming, nil)
}

func newSession(cfg Config, dir Direction, remote *ecdsa.PublicKey) *Session {
	s := &Session{
		state:  ExpectingConnection,
		dir:    dir,
		log:    cfg.Logger,
		hs:     rlpx.NewHandshake(cfg.PrivateKey, remote),
		remote: remote,
		hello:  wire.NewHello(&cfg.PrivateKey.PublicKey, cfg.Name, cfg.Caps, cfg.ListenPort),
	}
	if s.log == nil {
		s.log = log.New("dir", dir)
	}
	return s
}

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// Direction returns the connection direction.
func (s *Session) Direction() Direction { return s.dir }

// Remote returns the remote node key. For incoming sessions it is nil until the
// auth packet has been read.
func (s *Session) Remote() *ecdsa.PublicKey { return s.remote }

// RemoteHello returns the Hello received from the remote side, or nil.
func (s *Session) RemoteHello() *wire.Hello { return s.remoteHello }

// Snappy reports whether message payloads are compressed.
func (s *Session) Snappy() bool { return s.snappy }

// Decode reads the next record from in. It returns (nil, nil) if in does not
// hold a complete record yet. In that case nothing is consumed, except a frame
// header which is remembered until the frame body arrives. On success exactly
// the bytes of the decoded record are consumed.
//
// Any error is fatal: the session moves to Disconnected and every later call
// fails with ErrSessionClosed.
func (s *Session) Decode(in *bytes.Buffer) (*Event, error) {
	switch s.state {
	case Disconnected:
		return nil, ErrSessionClosed
	case ExpectingConnection:
		if s.dir == Incoming {
			return s.readAuth(in)
		}
		return nil, nil
	case AuthSent:
		return s.readAuthAck(in)
	case AuthReceived:
		// Frames can only follow our ack.
		return nil, nil
	default:
		return s.readFrame(in)
	}
}

func (s *Session) readAuth(in *bytes.Buffer) (*Event, error) {
	n, err := s.hs.ReadAuth(in.Bytes())
	if errors.Is(err, rlpx.ErrShortPacket) {
		return nil, nil
	} else if err != nil {
		return nil, s.fail(err)
	}
	in.Next(n)
	s.remote = s.hs.Remote()
	s.setState(AuthReceived)
	return &Event{Kind: KindAuth}, nil
}

func (s *Session) readAuthAck(in *bytes.Buffer) (*Event, error) {
	n, err := s.hs.ReadAuthAck(in.Bytes())
	if errors.Is(err, rlpx.ErrShortPacket) {
		return nil, nil
	} else if err != nil {
		return nil, s.fail(err)
	}
	if err := s.establish(); err != nil {
		return nil, s.fail(err)
	}
	in.Next(n)
	s.setState(AuthAckReceived)
	return &Event{Kind: KindAuthAck}, nil
}

// establish derives the secrets and sets up the frame codec.
func (s *Session) establish() error {
	sec, err := s.hs.Secrets()
	if err != nil {
		return err
	}
	codec, err := rlpx.NewFrameCodec(sec)
	if err != nil {
		return err
	}
	s.codec, s.hs = codec, nil
	s.log.Trace("RLPx secrets established", "remote", fmt.Sprintf("%x", crypto.FromECDSAPub(s.remote)[1:9]))
	return nil
}

func (s *Session) readFrame(in *bytes.Buffer) (*Event, error) {
	if !s.progress.header {
		var header [rlpx.HeaderSize + rlpx.MACSize]byte
		if in.Len() < len(header) {
			return nil, nil
		}
		copy(header[:], in.Bytes())
		size, err := s.codec.DecodeHeader(&header)
		if err != nil {
			return nil, s.fail(err)
		}
		in.Next(len(header))
		s.progress = frameProgress{header: true, size: size}
	}

	need := rlpx.PaddedSize(s.progress.size) + rlpx.MACSize
	if in.Len() < need {
		return nil, nil
	}
	frame := make([]byte, need)
	in.Read(frame)
	body, err := s.codec.DecodeBody(frame)
	if err != nil {
		return nil, s.fail(err)
	}
	size := s.progress.size
	s.progress = frameProgress{}
	return s.handleFrame(body[:size])
}

func (s *Session) handleFrame(data []byte) (*Event, error) {
	code, payload, err := wire.SplitFrameData(data)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: %v", ErrProtocolViolation, err))
	}
	if s.snappy {
		if payload, err = decompress(payload); err != nil {
			return nil, s.fail(err)
		}
	}
	s.log.Trace("<< "+msgName(code), "code", code, "size", len(payload))

	if s.state != Active {
		return s.handleHandshakeFrame(code, payload)
	}
	ev := &Event{Kind: KindUnhandled, Code: code, Payload: payload}
	if code == wire.HelloMsg {
		// The handshake is complete, a second Hello is passed up as is.
		return ev, nil
	}
	msg, err := wire.DecodePayload(code, payload)
	if errors.Is(err, wire.ErrUnsupported) {
		return ev, nil
	} else if err != nil {
		return nil, s.fail(fmt.Errorf("%w: %v", ErrProtocolViolation, err))
	}
	switch msg := msg.(type) {
	case wire.DiscReason:
		ev.Kind, ev.Reason = KindDisconnect, msg
		s.log.Debug("Peer disconnected", "reason", msg)
		s.close()
	case wire.Ping:
		ev.Kind = KindPing
	case wire.Pong:
		ev.Kind = KindPong
	case *wire.Status:
		ev.Kind, ev.Status = KindStatus, msg
	}
	return ev, nil
}

// handleHandshakeFrame accepts the remote Hello. Any other message before it
// terminates the session.
func (s *Session) handleHandshakeFrame(code uint64, payload []byte) (*Event, error) {
	switch code {
	case wire.HelloMsg:
		hello := new(wire.Hello)
		if err := wire.DecodeHello(payload, hello); err != nil {
			return nil, s.fail(fmt.Errorf("%w: %v", ErrProtocolViolation, err))
		}
		if err := hello.Validate(s.remote); err != nil {
			return nil, s.fail(fmt.Errorf("%w: %w", ErrProtocolViolation, err))
		}
		s.log.Debug("Received Hello", "name", hello.Name, "version", hello.Version, "caps", hello.Caps)
		s.remoteHello = hello
		s.setState(Active)
		s.updateSnappy()
		return &Event{Kind: KindHello, Hello: hello, Code: code, Payload: payload}, nil
	case wire.DisconnectMsg:
		reason := wire.DecodeDisconnect(payload)
		return nil, s.fail(fmt.Errorf("%w: peer disconnected before hello: %w", ErrProtocolViolation, reason))
	default:
		return nil, s.fail(fmt.Errorf("%w: message %#x before hello", ErrProtocolViolation, code))
	}
}

// Encode serializes msg into the bytes to be written to the connection.
//
// Auth and AuthAck drive the encryption handshake. Hello can be sent once after
// the secrets are known. Disconnect is accepted in any state, it closes the
// session and returns nil if no frame can be written yet. All other messages
// require an active session.
func (s *Session) Encode(msg Message) ([]byte, error) {
	if s.state == Disconnected {
		return nil, ErrSessionClosed
	}
	switch msg.Kind {
	case KindAuth:
		return s.writeAuth()
	case KindAuthAck:
		return s.writeAuthAck()
	case KindHello:
		return s.writeHello()
	case KindDisconnect:
		return s.writeDisconnect(msg.Reason)
	}
	if s.state != Active {
		return nil, ErrNotActive
	}

	var (
		code    uint64
		payload []byte
		err     error
	)
	switch msg.Kind {
	case KindPing:
		code, payload, err = wire.EncodePayload(wire.Ping{})
	case KindPong:
		code, payload, err = wire.EncodePayload(wire.Pong{})
	case KindStatus:
		if msg.Status == nil {
			return nil, errors.New("session: nil status")
		}
		code, payload, err = wire.EncodePayload(msg.Status)
	case KindRaw:
		if msg.Code < wire.BaseProtocolLength {
			return nil, fmt.Errorf("session: message code %#x is reserved", msg.Code)
		}
		code, payload = msg.Code, msg.Payload
	default:
		return nil, fmt.Errorf("session: cannot encode %v message", msg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return s.writeFrame(code, payload)
}

func (s *Session) writeAuth() ([]byte, error) {
	if s.dir != Outgoing || s.state != ExpectingConnection {
		return nil, fmt.Errorf("%w: %v in state %v", ErrInvalidState, KindAuth, s.state)
	}
	packet, err := s.hs.MakeAuth()
	if err != nil {
		return nil, s.fail(err)
	}
	s.setState(AuthSent)
	return packet, nil
}

func (s *Session) writeAuthAck() ([]byte, error) {
	if s.state != AuthReceived {
		return nil, fmt.Errorf("%w: %v in state %v", ErrInvalidState, KindAuthAck, s.state)
	}
	packet, err := s.hs.MakeAuthAck()
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.establish(); err != nil {
		return nil, s.fail(err)
	}
	s.setState(AuthAckReceived)
	return packet, nil
}

func (s *Session) writeHello() ([]byte, error) {
	if s.helloSent || (s.state != AuthAckReceived && s.state != Active) {
		return nil, fmt.Errorf("%w: %v in state %v", ErrInvalidState, KindHello, s.state)
	}
	code, payload, err := wire.EncodePayload(s.hello)
	if err != nil {
		return nil, err
	}
	frame, err := s.writeFrame(code, payload)
	if err != nil {
		return nil, err
	}
	s.helloSent = true
	if s.state == AuthAckReceived {
		s.setState(HelloSent)
	}
	s.updateSnappy()
	return frame, nil
}

func (s *Session) writeDisconnect(reason wire.DiscReason) ([]byte, error) {
	var frame []byte
	if s.codec != nil {
		code, payload, err := wire.EncodePayload(reason)
		if err != nil {
			return nil, err
		}
		if frame, err = s.writeFrame(code, payload); err != nil {
			return nil, err
		}
	}
	s.log.Debug("Disconnecting", "reason", reason)
	s.close()
	return frame, nil
}

func (s *Session) writeFrame(code uint64, payload []byte) ([]byte, error) {
	if s.snappy {
		if len(payload) > wire.MaxPayloadSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
		}
		payload = snappy.Encode(nil, payload)
	}
	frame, err := s.codec.EncodeFrame(wire.AppendFrameData(code, payload))
	if err != nil {
		return nil, err
	}
	s.log.Trace(">> "+msgName(code), "code", code, "size", len(payload))
	return frame, nil
}

// updateSnappy enables compression once both Hello messages have been exchanged
// and both announce version 5 or later.
func (s *Session) updateSnappy() {
	if s.snappy || !s.helloSent || s.remoteHello == nil {
		return
	}
	if s.hello.Version >= 5 && s.remoteHello.Version >= 5 {
		s.snappy = true
		s.log.Trace("Enabled snappy compression")
	}
}

func (s *Session) setState(next State) {
	if !s.state.CanTransition(next) {
		panic(fmt.Sprintf("session: invalid transition %v -> %v", s.state, next))
	}
	s.log.Trace("Session state change", "from", s.state, "to", next)
	s.state = next
}

// fail terminates the session because of err.
func (s *Session) fail(err error) error {
	s.log.Debug("Session failed", "state", s.state, "err", err)
	s.close()
	return err
}

// close moves to Disconnected and drops all key material.
func (s *Session) close() {
	s.setState(Disconnected)
	s.hs, s.codec = nil, nil
	s.progress = frameProgress{}
}

func decompress(payload []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if n > wire.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	data, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return data, nil
}

func msgName(code uint64) string {
	switch code {
	case wire.HelloMsg:
		return "Hello"
	case wire.DisconnectMsg:
		return "Disconnect"
	case wire.PingMsg:
		return "Ping"
	case wire.PongMsg:
		return "Pong"
	case wire.StatusMsg:
		return "Status"
	}
	return "msg"
}
