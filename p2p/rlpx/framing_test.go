// Copyright 2015 The go-ethereum Authors
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
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
	"pgregory.net/rapid"
)

func TestFrameFakeGolden(t *testing.T) {
	fake := fakeHash{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	codec, err := NewFrameCodec(Secrets{
		AES:        crypto.Keccak256(),
		MAC:        crypto.Keccak256(),
		IngressMAC: fake,
		EgressMAC:  fake,
	})
	if err != nil {
		t.Fatal(err)
	}

	golden := hexb(`
00828ddae471818bb0bfa6b551d1cb42
01010101010101010101010101010101
ba628a4ba590cb43f7848f41c4382885
01010101010101010101010101010101
`)
	body := hexb(`08C401020304`)

	// Check EncodeFrame.
	written, err := codec.EncodeFrame(body)
	if err != nil {
		t.Fatalf("EncodeFrame error: %v", err)
	}
	if !bytes.Equal(written, golden) {
		t.Fatalf("output mismatch:\n  got:  %x\n  want: %x", written, golden)
	}

	// Check decoding. The decoder has its own key stream, so it can read
	// the frame written above.
	got, err := decodeFrame(codec, written)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("read body mismatch:\ngot  %x\nwant %x", got, body)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a, b := newCodecPair(t)
		bodies := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 0, 600), 1, 8).Draw(t, "bodies")
		for i, body := range bodies {
			frame, err := a.EncodeFrame(body)
			if err != nil {
				t.Fatalf("frame %d: encode error: %v", i, err)
			}
			if want := HeaderSize + MACSize + PaddedSize(len(body)) + MACSize; len(frame) != want {
				t.Fatalf("frame %d: wrong frame length %d, want %d", i, len(frame), want)
			}
			got, err := decodeFrame(b, frame)
			if err != nil {
				t.Fatalf("frame %d: decode error: %v", i, err)
			}
			if !bytes.Equal(got, body) {
				t.Fatalf("frame %d: body mismatch:\ngot  %x\nwant %x", i, got, body)
			}
		}
	})
}

func TestFrameMaxSize(t *testing.T) {
	a, b := newCodecPair(t)
	body := make([]byte, MaxFrameSize)
	for i := range body {
		body[i] = byte(i)
	}
	frame, err := a.EncodeFrame(body)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	got, err := decodeFrame(b, frame)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("body mismatch")
	}
	if _, err := a.EncodeFrame(make([]byte, MaxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("wrong error for oversized frame: %v", err)
	}
}

func TestFrameTamper(t *testing.T) {
	body := []byte("tampering with this frame must be detected")
	a, _ := newCodecPair(t)
	frame, _ := a.EncodeFrame(body)

	for bit := 0; bit < len(frame)*8; bit++ {
		_, b := newCodecPair(t)
		mod := bytes.Clone(frame)
		mod[bit/8] ^= 1 << (bit % 8)

		got, err := decodeFrame(b, mod)
		if got != nil {
			t.Fatalf("bit %d: decoder returned data for tampered frame", bit)
		}
		switch {
		case bit < (HeaderSize+MACSize)*8:
			if !errors.Is(err, ErrHeaderMAC) {
				t.Fatalf("bit %d: got error %v, want %v", bit, err, ErrHeaderMAC)
			}
		default:
			if !errors.Is(err, ErrFrameMAC) {
				t.Fatalf("bit %d: got error %v, want %v", bit, err, ErrFrameMAC)
			}
		}
	}
}

func TestFrameReorder(t *testing.T) {
	a, b := newCodecPair(t)
	a.EncodeFrame([]byte("first"))
	second, _ := a.EncodeFrame([]byte("second"))

	// The first frame was never delivered.
	if _, err := decodeFrame(b, second); !errors.Is(err, ErrHeaderMAC) {
		t.Fatalf("reordered frame accepted, err %v", err)
	}
}

func TestEgressMACAdvances(t *testing.T) {
	a, _ := newCodecPair(t)
	prev := a.egressMAC.hash.Sum(nil)
	for i := 0; i < 20; i++ {
		if _, err := a.EncodeFrame([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
		cur := a.egressMAC.hash.Sum(nil)
		if bytes.Equal(prev, cur) {
			t.Fatalf("egress MAC digest unchanged after frame %d", i)
		}
		prev = cur
	}
}

func TestDecodeBodyLength(t *testing.T) {
	_, b := newCodecPair(t)
	for _, n := range []int{0, 15, 17, 33} {
		if _, err := b.DecodeBody(make([]byte, n)); !errors.Is(err, ErrFrameSize) {
			t.Errorf("length %d: got error %v, want %v", n, err, ErrFrameSize)
		}
	}
}

func TestNewFrameCodecInvalidSecrets(t *testing.T) {
	sec := Secrets{
		AES:        make([]byte, 32),
		MAC:        make([]byte, 7),
		EgressMAC:  sha3.NewLegacyKeccak256(),
		IngressMAC: sha3.NewLegacyKeccak256(),
	}
	if _, err := NewFrameCodec(sec); err == nil {
		t.Fatal("expected error for invalid MAC secret")
	}
	sec.MAC = make([]byte, 32)
	sec.IngressMAC = sha3.New512()
	if _, err := NewFrameCodec(sec); err == nil {
		t.Fatal("expected error for invalid MAC digest size")
	}
}

// decodeFrame runs the header and body decoders over a complete frame.
func decodeFrame(c *FrameCodec, frame []byte) ([]byte, error) {
	var header [HeaderSize + MACSize]byte
	if len(frame) < len(header) {
		return nil, fmt.Errorf("short frame")
	}
	copy(header[:], frame)
	size, err := c.DecodeHeader(&header)
	if err != nil {
		return nil, err
	}
	rest := bytes.Clone(frame[len(header):])
	if len(rest) != PaddedSize(size)+MACSize {
		return nil, fmt.Errorf("frame length %d does not match header size %d", len(rest), size)
	}
	body, err := c.DecodeBody(rest)
	if err != nil {
		return nil, err
	}
	return body[:size], nil
}

// newCodecPair creates two codecs with mirrored secrets.
func newCodecPair(t interface{ Fatal(...interface{}) }) (*FrameCodec, *FrameCodec) {
	var (
		aesSecret = crypto.Keccak256([]byte("aes"))
		macSecret = crypto.Keccak256([]byte("mac"))
	)
	mac := func(seed string) hash.Hash {
		h := sha3.NewLegacyKeccak256()
		h.Write([]byte(seed))
		return h
	}
	a, err := NewFrameCodec(Secrets{
		AES:        aesSecret,
		MAC:        macSecret,
		EgressMAC:  mac("one"),
		IngressMAC: mac("two"),
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewFrameCodec(Secrets{
		AES:        aesSecret,
		MAC:        macSecret,
		EgressMAC:  mac("two"),
		IngressMAC: mac("one"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return a, b
}

type fakeHash []byte

func (fakeHash) Write(p []byte) (int, error) { return len(p), nil }
func (fakeHash) Reset()                      {}
func (fakeHash) BlockSize() int              { return 0 }

func (h fakeHash) Size() int           { return len(h) }
func (h fakeHash) Sum(b []byte) []byte { return append(b, h...) }

func hexb(str string) []byte {
	unspace := strings.NewReplacer("\n", "", "\t", "", " ", "")
	b, err := hex.DecodeString(unspace.Replace(str))
	if err != nil {
		panic(fmt.Sprintf("invalid hex string: %q", str))
	}
	return b
}

func hexkey(str string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(str)
	if err != nil {
		panic(err)
	}
	return key
}
