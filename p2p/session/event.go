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

package session

import (
	"fmt"

	"github.com/devp2p/go-rlpx/p2p/wire"
)

// Kind identifies a session message.
type Kind uint8

const (
	KindAuth Kind = iota
	KindAuthAck
	KindHello
	KindPing
	KindPong
	KindDisconnect
	KindStatus
	KindRaw       // Encode only: message with a caller-encoded payload
	KindUnhandled // Decode only: message this package has no type for
)

var kindNames = [...]string{
	KindAuth:       "Auth",
	KindAuthAck:    "AuthAck",
	KindHello:      "Hello",
	KindPing:       "Ping",
	KindPong:       "Pong",
	KindDisconnect: "Disconnect",
	KindStatus:     "Status",
	KindRaw:        "Raw",
	KindUnhandled:  "Unhandled",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Message is an outbound message handed to Session.Encode.
type Message struct {
	Kind Kind

	Reason wire.DiscReason // KindDisconnect
	Status *wire.Status    // KindStatus

	// KindRaw
	Code    uint64
	Payload []byte // RLP encoded
}

// Convenience constructors for outbound messages.
var (
	AuthMsg    = Message{Kind: KindAuth}
	AuthAckMsg = Message{Kind: KindAuthAck}
	HelloMsg   = Message{Kind: KindHello}
	PingMsg    = Message{Kind: KindPing}
	PongMsg    = Message{Kind: KindPong}
)

// DisconnectMsg creates a Disconnect message.
func DisconnectMsg(reason wire.DiscReason) Message {
	return Message{Kind: KindDisconnect, Reason: reason}
}

// StatusMsg creates an eth Status message.
func StatusMsg(st *wire.Status) Message {
	return Message{Kind: KindStatus, Status: st}
}

// RawMsg creates a message with an already encoded payload.
func RawMsg(code uint64, payload []byte) Message {
	return Message{Kind: KindRaw, Code: code, Payload: payload}
}

// Event is a record decoded by Session.Decode.
type Event struct {
	Kind Kind

	Hello  *wire.Hello     // KindHello
	Reason wire.DiscReason // KindDisconnect
	Status *wire.Status    // KindStatus

	// Message code and decompressed payload of every frame-carried event.
	Code    uint64
	Payload []byte
}

func (ev *Event) String() string {
	switch ev.Kind {
	case KindHello:
		return ev.Hello.String()
	case KindDisconnect:
		return fmt.Sprintf("Disconnect(%v)", ev.Reason)
	case KindStatus:
		return ev.Status.String()
	case KindUnhandled:
		return fmt.Sprintf("Unhandled(code %#x, %d bytes)", ev.Code, len(ev.Payload))
	default:
		return ev.Kind.String()
	}
}
