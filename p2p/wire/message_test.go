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

package wire

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math/big"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/forkid"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

func TestFrameData(t *testing.T) {
	tests := []struct {
		code    uint64
		payload []byte
		want    string
	}{
		{code: PingMsg, payload: []byte{0xC0}, want: "02c0"},
		{code: HelloMsg, payload: []byte{0xC0}, want: "80c0"},
		{code: StatusMsg, payload: []byte{0xC1, 0x01}, want: "10c101"},
		{code: 0x80, payload: nil, want: "8180"},
	}
	for _, test := range tests {
		data := AppendFrameData(test.code, test.payload)
		if hex.EncodeToString(data) != test.want {
			t.Errorf("code %#x: got %x, want %s", test.code, data, test.want)
			continue
		}
		code, payload, err := SplitFrameData(data)
		if err != nil {
			t.Errorf("code %#x: split error: %v", test.code, err)
			continue
		}
		if code != test.code || !bytes.Equal(payload, test.payload) {
			t.Errorf("code %#x: split returned code %#x payload %x", test.code, code, payload)
		}
	}

	if _, _, err := SplitFrameData(nil); err == nil {
		t.Error("no error for empty frame data")
	}
	// 0x81 0x05 is a non-canonical encoding of 5.
	if _, _, err := SplitFrameData([]byte{0x81, 0x05}); err == nil {
		t.Error("no error for non-canonical message code")
	}
}

func TestDecodeDisconnect(t *testing.T) {
	tests := []struct {
		input string
		want  DiscReason
	}{
		{"c104", DiscTooManyPeers},
		{"c180", DiscRequested},
		{"04", DiscTooManyPeers},
		{"80", DiscRequested},
		{"c110", DiscSubprotocolError},
		{"c0", DiscInvalid},
		{"", DiscInvalid},
		{"c3820102", DiscInvalid},
	}
	for _, test := range tests {
		input, _ := hex.DecodeString(test.input)
		if got := DecodeDisconnect(input); got != test.want {
			t.Errorf("input %q: got %v, want %v", test.input, got, test.want)
		}
	}
}

func TestDiscReasonString(t *testing.T) {
	if s := DiscTooManyPeers.String(); s != "too many peers" {
		t.Errorf("wrong string %q", s)
	}
	if s := DiscReason(0x0f).String(); s != "unknown disconnect reason 15" {
		t.Errorf("wrong string for unknown reason: %q", s)
	}
	var err error = DiscQuitting
	if !errors.Is(err, DiscQuitting) {
		t.Error("DiscReason does not match itself as error")
	}
}

func TestHelloEncoding(t *testing.T) {
	key, _ := crypto.GenerateKey()
	h := NewHello(&key.PublicKey, "test", []Cap{{"snap", 1}, {"eth", 68}, {"eth", 67}}, 30303)

	wantCaps := []Cap{{"eth", 67}, {"eth", 68}, {"snap", 1}}
	if !reflect.DeepEqual(h.Caps, wantCaps) {
		t.Fatalf("caps not sorted: %v", h.Caps)
	}
	code, payload, err := EncodePayload(h)
	if err != nil {
		t.Fatal(err)
	}
	if code != HelloMsg {
		t.Fatalf("wrong code %d", code)
	}
	dec, err := DecodePayload(code, payload)
	if err != nil {
		t.Fatal(err)
	}
	got := dec.(*Hello)
	if got.Version != h.Version || got.Name != h.Name || got.ListenPort != h.ListenPort ||
		!reflect.DeepEqual(got.Caps, h.Caps) || !bytes.Equal(got.ID, h.ID) {
		t.Fatalf("decoded hello mismatch:\ngot  %v\nwant %v", got, h)
	}
	if err := got.Validate(&key.PublicKey); err != nil {
		t.Fatalf("validate: %v", err)
	}
	pub, err := got.Pubkey()
	if err != nil {
		t.Fatal(err)
	}
	if !pub.Equal(&key.PublicKey) {
		t.Error("Pubkey returned wrong key")
	}
	if !got.HasCap("snap") || got.HasCap("les") {
		t.Error("HasCap returned wrong result")
	}
}

func TestHelloDefaultCaps(t *testing.T) {
	key, _ := crypto.GenerateKey()
	h := NewHello(&key.PublicKey, "test", nil, 0)
	if !reflect.DeepEqual(h.Caps, []Cap{ETH68}) {
		t.Fatalf("wrong default caps %v", h.Caps)
	}
	if h.Version != BaseProtocolVersion {
		t.Fatalf("wrong version %d", h.Version)
	}
}

func TestHelloForwardCompatible(t *testing.T) {
	key, _ := crypto.GenerateKey()
	type futureHello struct {
		Version    uint64
		Name       string
		Caps       []Cap
		ListenPort uint64
		ID         []byte
		Extra      []uint
		More       string
	}
	enc, _ := rlp.EncodeToBytes(&futureHello{
		Version: 6,
		Name:    "future",
		Caps:    []Cap{ETH68},
		ID:      crypto.FromECDSAPub(&key.PublicKey)[1:],
		Extra:   []uint{1, 2},
		More:    "x",
	})
	var h Hello
	if err := DecodeHello(enc, &h); err != nil {
		t.Fatal(err)
	}
	if h.Version != 6 || h.Name != "future" || len(h.Rest) != 2 {
		t.Fatalf("wrong decode result %v (%d rest)", &h, len(h.Rest))
	}
}

func TestHelloValidate(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	h := NewHello(&key.PublicKey, "test", nil, 0)

	if err := h.Validate(nil); err != nil {
		t.Errorf("unexpected error without remote key: %v", err)
	}
	if err := h.Validate(&other.PublicKey); !errors.Is(err, ErrUnexpectedIdentity) {
		t.Errorf("wrong error for foreign key: %v", err)
	}
	h.ID = h.ID[:63]
	if err := h.Validate(nil); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("wrong error for short ID: %v", err)
	}
	if _, err := h.Pubkey(); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("wrong Pubkey error for short ID: %v", err)
	}
}

func TestStatusEncoding(t *testing.T) {
	st := &Status{
		ProtocolVersion: uint32(ETH68.Version),
		NetworkID:       1,
		TD:              big.NewInt(17179869184),
		Head:            common.HexToHash("0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa3"),
		Genesis:         common.HexToHash("0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa3"),
		ForkID:          forkid.ID{Hash: [4]byte{0xfc, 0x64, 0xec, 0x04}, Next: 1150000},
	}
	code, payload, err := EncodePayload(st)
	if err != nil {
		t.Fatal(err)
	}
	if code != StatusMsg {
		t.Fatalf("wrong code %#x", code)
	}
	dec, err := DecodePayload(code, payload)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(dec, st) {
		t.Fatalf("status mismatch:\ngot  %v\nwant %v", dec, st)
	}
	if _, err := DecodePayload(StatusMsg, []byte{0xC0}); err == nil {
		t.Fatal("no error for empty status")
	}
}

func TestDecodePayloadUnsupported(t *testing.T) {
	for _, code := range []uint64{0x04, 0x0f, StatusMsg + 1, 0x1234} {
		if _, err := DecodePayload(code, []byte{0xC0}); !errors.Is(err, ErrUnsupported) {
			t.Errorf("code %#x: got error %v, want %v", code, err, ErrUnsupported)
		}
	}
	if _, _, err := EncodePayload("string"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("EncodePayload: got error %v, want %v", err, ErrUnsupported)
	}
}

func TestPingPongPayload(t *testing.T) {
	for _, msg := range []interface{}{Ping{}, Pong{}} {
		code, payload, err := EncodePayload(msg)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(payload, []byte{0xC0}) {
			t.Errorf("%T: payload %x, want c0", msg, payload)
		}
		dec, err := DecodePayload(code, payload)
		if err != nil {
			t.Fatal(err)
		}
		if dec != msg {
			t.Errorf("%T: decoded %T", msg, dec)
		}
	}
}

func TestClientName(t *testing.T) {
	name := ClientName("rlpxpeer", "1.0.0", "")
	want := "rlpxpeer/v1.0.0/" + runtime.GOOS + "-" + runtime.GOARCH + "/" + runtime.Version()
	if name != want {
		t.Errorf("got %q, want %q", name, want)
	}
	if name := ClientName("rlpxpeer", "1.0.0", "node1"); !strings.HasPrefix(name, "rlpxpeer/v1.0.0/node1/") {
		t.Errorf("custom part missing: %q", name)
	}
}
