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
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// IDLength is the length of the node ID in Hello: an uncompressed secp256k1
// public key without its format byte.
const IDLength = 64

var (
	ErrInvalidIdentity    = errors.New("wire: invalid node identity")
	ErrUnexpectedIdentity = errors.New("wire: unexpected node identity")
)

// Cap is the structure of a peer capability.
type Cap struct {
	Name    string
	Version uint
}

func (cap Cap) String() string {
	return fmt.Sprintf("%s/%d", cap.Name, cap.Version)
}

// Cmp defines the canonical sorting order of capabilities.
func (cap Cap) Cmp(other Cap) int {
	if cap.Name == other.Name {
		if cap.Version < other.Version {
			return -1
		}
		if cap.Version > other.Version {
			return 1
		}
		return 0
	}
	return strings.Compare(cap.Name, other.Name)
}

// ETH68 is the capability announced when none is configured.
var ETH68 = Cap{Name: "eth", Version: 68}

// Hello is the first message sent on a connection after the encryption handshake.
type Hello struct {
	Version    uint64
	Name       string
	Caps       []Cap
	ListenPort uint64
	ID         []byte // secp256k1 public key

	// Ignore additional fields (for forward compatibility).
	Rest []rlp.RawValue `rlp:"tail"`
}

// NewHello creates the Hello message announcing the given key and capabilities.
// Capabilities are sorted into canonical order.
func NewHello(pub *ecdsa.PublicKey, name string, caps []Cap, port uint64) *Hello {
	h := &Hello{
		Version:    BaseProtocolVersion,
		Name:       name,
		Caps:       append([]Cap(nil), caps...),
		ListenPort: port,
		ID:         crypto.FromECDSAPub(pub)[1:],
	}
	if len(h.Caps) == 0 {
		h.Caps = []Cap{ETH68}
	}
	sort.Slice(h.Caps, func(i, j int) bool { return h.Caps[i].Cmp(h.Caps[j]) < 0 })
	return h
}

// DecodeHello decodes a Hello payload. Trailing list elements are accepted.
func DecodeHello(payload []byte, h *Hello) error {
	if err := rlp.DecodeBytes(payload, h); err != nil {
		return fmt.Errorf("invalid hello: %v", err)
	}
	return nil
}

// Validate checks the node identity in h. If remote is non-nil, the ID must match it.
func (h *Hello) Validate(remote *ecdsa.PublicKey) error {
	if len(h.ID) != IDLength {
		return fmt.Errorf("%w: ID length %d", ErrInvalidIdentity, len(h.ID))
	}
	if remote != nil && !bytes.Equal(crypto.FromECDSAPub(remote)[1:], h.ID) {
		return ErrUnexpectedIdentity
	}
	return nil
}

// Pubkey returns the public key carried in the ID field.
func (h *Hello) Pubkey() (*ecdsa.PublicKey, error) {
	if len(h.ID) != IDLength {
		return nil, ErrInvalidIdentity
	}
	return crypto.UnmarshalPubkey(append([]byte{0x04}, h.ID...))
}

// HasCap reports whether the Hello announces the named capability at any version.
func (h *Hello) HasCap(name string) bool {
	for _, cap := range h.Caps {
		if cap.Name == name {
			return true
		}
	}
	return false
}

func (h *Hello) String() string {
	caps := make([]string, len(h.Caps))
	for i, cap := range h.Caps {
		caps[i] = cap.String()
	}
	return fmt.Sprintf("Hello{v%d %q caps=[%s] port=%d}", h.Version, h.Name, strings.Join(caps, " "), h.ListenPort)
}
