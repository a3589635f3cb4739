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

// Package rlpx implements the cryptographic parts of the RLPx transport protocol:
// the ECIES key exchange (auth/ack) and the frame codec used after it.
//
// Nothing in this package performs I/O. All operations work on byte slices handed
// in by the caller, which makes them usable from a non-blocking decode loop.
package rlpx

import (
	"crypto/ecdsa"
	"errors"
	"hash"

	"github.com/ethereum/go-ethereum/crypto"
)

// Frame layout constants.
const (
	HeaderSize = 16 // encrypted frame header
	MACSize    = 16 // header and frame MAC

	// MaxFrameSize is the largest frame body that can be written. The length field
	// this codec writes is 16 bits wide.
	MaxFrameSize = 1<<16 - 1

	maxUint24 = int(^uint32(0) >> 8)
)

// Constants for the handshake.
const (
	sskLen = 16                     // ecies.MaxSharedKeyLength(pubKey) / 2
	sigLen = crypto.SignatureLength // elliptic S256
	pubLen = 64                     // 512 bit pubkey in uncompressed representation without format byte
	shaLen = 32                     // hash length (for nonce etc)

	authMsgLen  = sigLen + shaLen + pubLen + shaLen + 1
	authRespLen = pubLen + shaLen + 1

	eciesOverhead = 65 /* pubkey */ + 16 /* IV */ + 32 /* MAC */

	encAuthMsgLen  = authMsgLen + eciesOverhead  // size of encrypted pre-EIP-8 initiator handshake
	encAuthRespLen = authRespLen + eciesOverhead // size of encrypted pre-EIP-8 handshake reply

	// maxHandshakeSize limits the size of EIP-8 handshake packets.
	maxHandshakeSize = 2048
)

// zeroHeader is the header-data placeholder: the RLP list [capability-id, context-id]
// with both values zero.
var zeroHeader = []byte{0xC2, 0x80, 0x80}

var (
	// ErrShortPacket is returned by the handshake readers when the input holds less
	// than one complete handshake packet. It is not fatal, the caller should retry
	// once more data has arrived.
	ErrShortPacket = errors.New("rlpx: incomplete handshake packet")

	// ErrDecrypt is returned when a handshake packet cannot be decrypted or decoded.
	ErrDecrypt = errors.New("rlpx: handshake decryption failed")

	ErrHeaderMAC     = errors.New("rlpx: bad header MAC")
	ErrFrameMAC      = errors.New("rlpx: bad frame MAC")
	ErrFrameTooLarge = errors.New("rlpx: frame size exceeds 65535 bytes")
	ErrFrameSize     = errors.New("rlpx: invalid frame length")
	errPacketTooBig  = errors.New("rlpx: handshake packet too big")
)

// Secrets represents the connection secrets which are negotiated during the handshake.
type Secrets struct {
	AES, MAC              []byte
	EgressMAC, IngressMAC hash.Hash
	Remote                *ecdsa.PublicKey
}

// PaddedSize returns n rounded up to the next multiple of 16.
func PaddedSize(n int) int {
	if padding := n % 16; padding > 0 {
		return n + 16 - padding
	}
	return n
}

func readUint24(b []byte) uint32 {
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16
}

func putUint24(v uint32, b []byte) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func xor(one, other []byte) (xor []byte) {
	xor = make([]byte, len(one))
	for i := 0; i < len(one); i++ {
		xor[i] = one[i] ^ other[i]
	}
	return xor
}
