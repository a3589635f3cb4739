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

package rlpx

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"fmt"
	"hash"
)

// FrameCodec encrypts and authenticates RLPx frames. It holds the directional key
// streams and running MACs negotiated by the handshake.
//
// Every call advances the cipher and MAC state of one direction. The state cannot be
// rewound, so a codec must see frames in exactly the order they are sent, and it must
// be discarded after any MAC failure. FrameCodec is not safe for concurrent use.
type FrameCodec struct {
	enc cipher.Stream
	dec cipher.Stream

	egressMAC  hashMAC
	ingressMAC hashMAC
}

// hashMAC holds the state of the RLPx v4 MAC contraption.
type hashMAC struct {
	cipher     cipher.Block
	hash       hash.Hash
	aesBuffer  [16]byte
	hashBuffer [32]byte
	seedBuffer [32]byte
}

func newHashMAC(cipher cipher.Block, h hash.Hash) (hashMAC, error) {
	m := hashMAC{cipher: cipher, hash: h}
	if cipher.BlockSize() != len(m.aesBuffer) {
		return m, fmt.Errorf("invalid MAC cipher block size %d", cipher.BlockSize())
	}
	if h == nil || h.Size() != len(m.hashBuffer) {
		return m, fmt.Errorf("invalid MAC digest")
	}
	return m, nil
}

// NewFrameCodec creates the frame codec for the given connection secrets.
// The codec takes ownership of the MAC hashes in sec.
func NewFrameCodec(sec Secrets) (*FrameCodec, error) {
	macc, err := aes.NewCipher(sec.MAC)
	if err != nil {
		return nil, fmt.Errorf("invalid MAC secret: %w", err)
	}
	encc, err := aes.NewCipher(sec.AES)
	if err != nil {
		return nil, fmt.Errorf("invalid AES secret: %w", err)
	}
	egress, err := newHashMAC(macc, sec.EgressMAC)
	if err != nil {
		return nil, fmt.Errorf("egress: %w", err)
	}
	ingress, err := newHashMAC(macc, sec.IngressMAC)
	if err != nil {
		return nil, fmt.Errorf("ingress: %w", err)
	}
	// we use an all-zeroes IV for AES because the key used
	// for encryption is ephemeral.
	iv := make([]byte, encc.BlockSize())
	return &FrameCodec{
		enc:        cipher.NewCTR(encc, iv),
		dec:        cipher.NewCTR(encc, iv),
		egressMAC:  egress,
		ingressMAC: ingress,
	}, nil
}

// EncodeFrame encrypts body into a complete frame:
//
//	header-ciphertext || header-mac || frame-ciphertext || frame-mac
func (c *FrameCodec) EncodeFrame(body []byte) ([]byte, error) {
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	var (
		rsize = PaddedSize(len(body))
		out   = make([]byte, HeaderSize+MACSize+rsize+MACSize)
	)

	// Write header.
	header := out[:HeaderSize]
	putUint24(uint32(len(body)), header)
	copy(header[3:], zeroHeader)
	c.enc.XORKeyStream(header, header)

	// Write header MAC.
	headerMAC := c.egressMAC.computeHeader(header)
	copy(out[HeaderSize:], headerMAC[:])

	// Encrypt the frame data. The key stream continues from the header.
	framedata := out[HeaderSize+MACSize : HeaderSize+MACSize+rsize]
	copy(framedata, body)
	c.enc.XORKeyStream(framedata, framedata)

	// Write frame MAC.
	frameMAC := c.egressMAC.computeFrame(framedata)
	copy(out[HeaderSize+MACSize+rsize:], frameMAC[:])
	return out, nil
}

// DecodeHeader authenticates and decrypts a frame header together with its MAC.
// It returns the declared size of the frame body. The number of bytes that follow
// on the wire is PaddedSize(size) + MACSize.
func (c *FrameCodec) DecodeHeader(h *[HeaderSize + MACSize]byte) (int, error) {
	header := h[:HeaderSize]
	want := c.ingressMAC.computeHeader(header)
	if !hmac.Equal(want[:], h[HeaderSize:]) {
		return 0, ErrHeaderMAC
	}
	c.dec.XORKeyStream(header, header)
	return int(readUint24(header)), nil
}

// DecodeBody authenticates and decrypts the body of a frame. The input is the padded
// ciphertext followed by the frame MAC. On success the plaintext is returned, still
// zero-padded to the 16 byte boundary. The input slice is decrypted in place.
//
// Nothing is decrypted if the MAC does not match.
func (c *FrameCodec) DecodeBody(frame []byte) ([]byte, error) {
	if len(frame) < MACSize || (len(frame)-MACSize)%16 != 0 {
		return nil, ErrFrameSize
	}
	framedata, mac := frame[:len(frame)-MACSize], frame[len(frame)-MACSize:]
	want := c.ingressMAC.computeFrame(framedata)
	if !hmac.Equal(want[:], mac) {
		return nil, ErrFrameMAC
	}
	c.dec.XORKeyStream(framedata, framedata)
	return framedata, nil
}

// computeHeader computes the MAC of a frame header.
func (m *hashMAC) computeHeader(header []byte) [MACSize]byte {
	sum1 := m.hash.Sum(m.hashBuffer[:0])
	return m.compute(sum1, header)
}

// computeFrame computes the MAC of framedata.
func (m *hashMAC) computeFrame(framedata []byte) [MACSize]byte {
	m.hash.Write(framedata)
	seed := m.hash.Sum(m.seedBuffer[:0])
	return m.compute(seed, seed[:16])
}

// compute computes the MAC of a 16-byte 'seed'.
//
// To do this, it encrypts the current value of the hash state, then XORs the ciphertext
// with seed. The obtained value is written back into the hash state and hash output is
// taken again. The first 16 bytes of the resulting sum are the MAC value.
//
// Sum finalizes a copy of the Keccak state, the running state itself keeps absorbing.
func (m *hashMAC) compute(sum1, seed []byte) (mac [MACSize]byte) {
	if len(seed) != len(m.aesBuffer) {
		panic("invalid MAC seed")
	}
	m.cipher.Encrypt(m.aesBuffer[:], sum1)
	for i := range m.aesBuffer {
		m.aesBuffer[i] ^= seed[i]
	}
	m.hash.Write(m.aesBuffer[:])
	sum2 := m.hash.Sum(m.hashBuffer[:0])
	copy(mac[:], sum2[:MACSize])
	return mac
}
