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

// Package wire defines the devp2p base protocol messages and the eth Status
// message, along with their RLP encodings.
package wire

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

const (
	// BaseProtocolVersion is the devp2p version announced in Hello.
	// Version 5 enables snappy compression of message payloads.
	BaseProtocolVersion = 5

	// BaseProtocolLength is the number of message codes reserved for the base
	// protocol. Capability messages start at this offset.
	BaseProtocolLength = uint64(16)

	// MaxPayloadSize limits the decompressed size of a message payload.
	MaxPayloadSize = 16 * 1024 * 1024
)

// devp2p message codes
const (
	HelloMsg      = 0x00
	DisconnectMsg = 0x01
	PingMsg       = 0x02
	PongMsg       = 0x03
)

// StatusMsg is the eth Status message code, offset past the base protocol.
const StatusMsg = BaseProtocolLength + 0x00

var (
	// ErrUnsupported is returned by DecodePayload for codes this package has no
	// payload type for.
	ErrUnsupported = errors.New("wire: unsupported message")

	errEmptyFrame = errors.New("wire: empty frame data")
)

// Ping is the keepalive request. Its payload is the empty list.
type Ping struct{}

// Pong answers Ping.
type Pong struct{}

// EncodeFrameData RLP-encodes val and prefixes it with the message code.
func EncodeFrameData(code uint64, val interface{}) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(val)
	if err != nil {
		return nil, err
	}
	return AppendFrameData(code, payload), nil
}

// AppendFrameData returns the frame data for an already encoded payload.
func AppendFrameData(code uint64, payload []byte) []byte {
	data := rlp.AppendUint64(make([]byte, 0, 9+len(payload)), code)
	return append(data, payload...)
}

// SplitFrameData splits frame data into the message code and the payload that
// follows it. The payload is not copied.
func SplitFrameData(data []byte) (code uint64, payload []byte, err error) {
	if len(data) == 0 {
		return 0, nil, errEmptyFrame
	}
	code, payload, err = rlp.SplitUint64(data)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid message code: %v", err)
	}
	return code, payload, nil
}

// DecodePayload decodes the payload of a message with the given code. The result
// is one of *Hello, DiscReason, Ping, Pong or *Status. Codes without a payload type
// yield ErrUnsupported.
func DecodePayload(code uint64, payload []byte) (interface{}, error) {
	switch code {
	case HelloMsg:
		h := new(Hello)
		if err := DecodeHello(payload, h); err != nil {
			return nil, err
		}
		return h, nil
	case DisconnectMsg:
		return DecodeDisconnect(payload), nil
	case PingMsg:
		return Ping{}, nil
	case PongMsg:
		return Pong{}, nil
	case StatusMsg:
		st := new(Status)
		if err := rlp.DecodeBytes(payload, st); err != nil {
			return nil, fmt.Errorf("invalid status: %v", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: code %#x", ErrUnsupported, code)
	}
}

// EncodePayload returns the payload encoding of a message value, together with its
// message code.
func EncodePayload(val interface{}) (code uint64, payload []byte, err error) {
	switch v := val.(type) {
	case *Hello:
		code = HelloMsg
	case DiscReason:
		return DisconnectMsg, v.encode(), nil
	case Ping:
		code, val = PingMsg, []interface{}{}
	case Pong:
		code, val = PongMsg, []interface{}{}
	case *Status:
		code = StatusMsg
	default:
		return 0, nil, fmt.Errorf("%w: %T", ErrUnsupported, val)
	}
	payload, err = rlp.EncodeToBytes(val)
	return code, payload, err
}
