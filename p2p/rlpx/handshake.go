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
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

var (
	errNotInitiator   = errors.New("rlpx: only the initiator sends auth")
	errNotRecipient   = errors.New("rlpx: only the recipient sends auth-ack")
	errAuthNotSent    = errors.New("rlpx: auth-ack read before auth was sent")
	errAuthMissing    = errors.New("rlpx: auth-ack requested before auth was read")
	errHandshakeState = errors.New("rlpx: handshake not complete")
)

// Handshake contains the state of the encryption handshake. It is driven by the
// caller, one packet at a time:
//
//	initiator:  MakeAuth -> ReadAuthAck -> Secrets
//	recipient:  ReadAuth -> MakeAuthAck -> Secrets
type Handshake struct {
	prv                  *ecdsa.PrivateKey
	initiator            bool
	remote               *ecies.PublicKey  // remote-pubk
	initNonce, respNonce []byte            // nonce
	randomPrivKey        *ecies.PrivateKey // ecdhe-random
	remoteRandomPub      *ecies.PublicKey  // ecdhe-random-pubk

	authPacket     []byte
	authRespPacket []byte
	gotPlain       bool // whether the auth packet had pre-EIP-8 format
}

// RLPx v4 handshake auth (defined in EIP-8).
type authMsgV4 struct {
	gotPlain bool // whether read packet had plain format.

	Signature       [sigLen]byte
	InitiatorPubkey [pubLen]byte
	Nonce           [shaLen]byte
	Version         uint

	// Ignore additional fields (forward-compatibility)
	Rest []rlp.RawValue `rlp:"tail"`
}

// RLPx v4 handshake response (defined in EIP-8).
type authRespV4 struct {
	RandomPubkey [pubLen]byte
	Nonce        [shaLen]byte
	Version      uint

	// Ignore additional fields (forward-compatibility)
	Rest []rlp.RawValue `rlp:"tail"`
}

// NewHandshake creates the handshake state for the local key prv. If remote is
// non-nil, the local side is the initiator of the connection.
func NewHandshake(prv *ecdsa.PrivateKey, remote *ecdsa.PublicKey) *Handshake {
	h := &Handshake{prv: prv, initiator: remote != nil}
	if remote != nil {
		h.remote = ecies.ImportECDSAPublic(remote)
	}
	return h
}

// Initiator reports whether the local side initiates the handshake.
func (h *Handshake) Initiator() bool {
	return h.initiator
}

// Remote returns the static public key of the remote node. It is nil on the
// recipient side until the auth packet has been read.
func (h *Handshake) Remote() *ecdsa.PublicKey {
	if h.remote == nil {
		return nil
	}
	return h.remote.ExportECDSA()
}

// MakeAuth creates the initiator handshake packet in EIP-8 format.
func (h *Handshake) MakeAuth() ([]byte, error) {
	return h.makeAuth(false)
}

func (h *Handshake) makeAuth(plain bool) ([]byte, error) {
	if !h.initiator {
		return nil, errNotInitiator
	}
	msg, err := h.makeAuthMsg()
	if err != nil {
		return nil, err
	}
	var packet []byte
	if plain {
		packet, err = msg.sealPlain(h)
	} else {
		packet, err = h.sealEIP8(msg)
	}
	if err != nil {
		return nil, err
	}
	h.authPacket = packet
	return packet, nil
}

// ReadAuth decodes the initiator handshake packet at the start of data. It returns
// the number of bytes the packet occupies. ErrShortPacket is returned if data does
// not hold a complete packet yet.
func (h *Handshake) ReadAuth(data []byte) (int, error) {
	if h.initiator {
		return 0, errNotRecipient
	}
	msg := new(authMsgV4)
	packet, err := h.readMsg(msg, encAuthMsgLen, data)
	if err != nil {
		return 0, err
	}
	if err := h.handleAuthMsg(msg); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	h.authPacket = bytes.Clone(packet)
	h.gotPlain = msg.gotPlain
	return len(packet), nil
}

// MakeAuthAck creates the recipient handshake packet. The reply uses the format of
// the auth packet that was read.
func (h *Handshake) MakeAuthAck() ([]byte, error) {
	if h.initiator {
		return nil, errNotRecipient
	}
	if h.authPacket == nil {
		return nil, errAuthMissing
	}
	msg, err := h.makeAuthResp()
	if err != nil {
		return nil, err
	}
	var packet []byte
	if h.gotPlain {
		packet, err = msg.sealPlain(h)
	} else {
		packet, err = h.sealEIP8(msg)
	}
	if err != nil {
		return nil, err
	}
	h.authRespPacket = packet
	return packet, nil
}

// ReadAuthAck decodes the recipient handshake packet at the start of data. It
// returns the number of bytes the packet occupies. ErrShortPacket is returned if
// data does not hold a complete packet yet.
func (h *Handshake) ReadAuthAck(data []byte) (int, error) {
	if !h.initiator {
		return 0, errNotInitiator
	}
	if h.authPacket == nil {
		return 0, errAuthNotSent
	}
	msg := new(authRespV4)
	packet, err := h.readMsg(msg, encAuthRespLen, data)
	if err != nil {
		return 0, err
	}
	if err := h.handleAuthResp(msg); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	h.authRespPacket = bytes.Clone(packet)
	return len(packet), nil
}

// Secrets derives the connection secrets. It can be called once both handshake
// packets have been exchanged.
func (h *Handshake) Secrets() (Secrets, error) {
	if h.authPacket == nil || h.authRespPacket == nil {
		return Secrets{}, errHandshakeState
	}
	return h.secrets(h.authPacket, h.authRespPacket)
}

func (h *Handshake) handleAuthMsg(msg *authMsgV4) error {
	// Import the remote identity.
	rpub, err := importPublicKey(msg.InitiatorPubkey[:])
	if err != nil {
		return err
	}
	h.initNonce = msg.Nonce[:]
	h.remote = rpub

	// Generate random keypair for ECDH.
	// If a private key is already set, use it instead of generating one (for testing).
	if h.randomPrivKey == nil {
		h.randomPrivKey, err = ecies.GenerateKey(rand.Reader, crypto.S256(), nil)
		if err != nil {
			return err
		}
	}

	// Check the signature.
	token, err := h.staticSharedSecret()
	if err != nil {
		return err
	}
	signedMsg := xor(token, h.initNonce)
	remoteRandomPub, err := crypto.Ecrecover(signedMsg, msg.Signature[:])
	if err != nil {
		return err
	}
	h.remoteRandomPub, err = importPublicKey(remoteRandomPub)
	return err
}

// secrets is called after the handshake is completed.
// It extracts the connection secrets from the handshake values.
func (h *Handshake) secrets(auth, authResp []byte) (Secrets, error) {
	ecdheSecret, err := h.randomPrivKey.GenerateShared(h.remoteRandomPub, sskLen, sskLen)
	if err != nil {
		return Secrets{}, err
	}

	// derive base secrets from ephemeral key agreement
	sharedSecret := crypto.Keccak256(ecdheSecret, crypto.Keccak256(h.respNonce, h.initNonce))
	aesSecret := crypto.Keccak256(ecdheSecret, sharedSecret)
	s := Secrets{
		Remote: h.remote.ExportECDSA(),
		AES:    aesSecret,
		MAC:    crypto.Keccak256(ecdheSecret, aesSecret),
	}

	// setup sha3 instances for the MACs
	mac1 := sha3.NewLegacyKeccak256()
	mac1.Write(xor(s.MAC, h.respNonce))
	mac1.Write(auth)
	mac2 := sha3.NewLegacyKeccak256()
	mac2.Write(xor(s.MAC, h.initNonce))
	mac2.Write(authResp)
	if h.initiator {
		s.EgressMAC, s.IngressMAC = mac1, mac2
	} else {
		s.EgressMAC, s.IngressMAC = mac2, mac1
	}
	return s, nil
}

// staticSharedSecret returns the static shared secret, the result
// of key agreement between the local and remote static node key.
func (h *Handshake) staticSharedSecret() ([]byte, error) {
	return ecies.ImportECDSA(h.prv).GenerateShared(h.remote, sskLen, sskLen)
}

// makeAuthMsg creates the initiator handshake message.
func (h *Handshake) makeAuthMsg() (*authMsgV4, error) {
	// Generate random initiator nonce.
	h.initNonce = make([]byte, shaLen)
	if _, err := rand.Read(h.initNonce); err != nil {
		return nil, err
	}
	// Generate random keypair to for ECDH.
	var err error
	h.randomPrivKey, err = ecies.GenerateKey(rand.Reader, crypto.S256(), nil)
	if err != nil {
		return nil, err
	}

	// Sign known message: static-shared-secret ^ nonce
	token, err := h.staticSharedSecret()
	if err != nil {
		return nil, err
	}
	signed := xor(token, h.initNonce)
	signature, err := crypto.Sign(signed, h.randomPrivKey.ExportECDSA())
	if err != nil {
		return nil, err
	}

	msg := new(authMsgV4)
	copy(msg.Signature[:], signature)
	copy(msg.InitiatorPubkey[:], crypto.FromECDSAPub(&h.prv.PublicKey)[1:])
	copy(msg.Nonce[:], h.initNonce)
	msg.Version = 4
	return msg, nil
}

func (h *Handshake) handleAuthResp(msg *authRespV4) (err error) {
	h.respNonce = msg.Nonce[:]
	h.remoteRandomPub, err = importPublicKey(msg.RandomPubkey[:])
	return err
}

func (h *Handshake) makeAuthResp() (msg *authRespV4, err error) {
	// Generate random nonce.
	h.respNonce = make([]byte, shaLen)
	if _, err = rand.Read(h.respNonce); err != nil {
		return nil, err
	}

	msg = new(authRespV4)
	copy(msg.Nonce[:], h.respNonce)
	copy(msg.RandomPubkey[:], exportPubkey(&h.randomPrivKey.PublicKey))
	msg.Version = 4
	return msg, nil
}

func (msg *authMsgV4) sealPlain(h *Handshake) ([]byte, error) {
	buf := make([]byte, authMsgLen)
	n := copy(buf, msg.Signature[:])
	n += copy(buf[n:], crypto.Keccak256(exportPubkey(&h.randomPrivKey.PublicKey)))
	n += copy(buf[n:], msg.InitiatorPubkey[:])
	n += copy(buf[n:], msg.Nonce[:])
	buf[n] = 0 // token-flag
	return ecies.Encrypt(rand.Reader, h.remote, buf, nil, nil)
}

func (msg *authMsgV4) decodePlain(input []byte) {
	n := copy(msg.Signature[:], input)
	n += shaLen // skip sha3(initiator-ephemeral-pubk)
	n += copy(msg.InitiatorPubkey[:], input[n:])
	copy(msg.Nonce[:], input[n:])
	msg.Version = 4
	msg.gotPlain = true
}

func (msg *authRespV4) sealPlain(h *Handshake) ([]byte, error) {
	buf := make([]byte, authRespLen)
	n := copy(buf, msg.RandomPubkey[:])
	copy(buf[n:], msg.Nonce[:])
	return ecies.Encrypt(rand.Reader, h.remote, buf, nil, nil)
}

func (msg *authRespV4) decodePlain(input []byte) {
	n := copy(msg.RandomPubkey[:], input)
	copy(msg.Nonce[:], input[n:])
	msg.Version = 4
}

// sealEIP8 encrypts a handshake message.
func (h *Handshake) sealEIP8(msg interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := rlp.Encode(buf, msg); err != nil {
		return nil, err
	}
	// pad with random amount of data. the amount needs to be at least 100 bytes to make
	// the message distinguishable from pre-EIP-8 handshakes.
	buf.Write(make([]byte, mrand.Intn(100)+100))

	prefix := make([]byte, 2)
	binary.BigEndian.PutUint16(prefix, uint16(buf.Len()+eciesOverhead))

	enc, err := ecies.Encrypt(rand.Reader, h.remote, buf.Bytes(), nil, prefix)
	return append(prefix, enc...), err
}

type plainDecoder interface {
	decodePlain([]byte)
}

// readMsg decodes the handshake packet at the start of data into msg. It returns the
// raw packet, which is a prefix of data.
func (h *Handshake) readMsg(msg plainDecoder, plainSize int, data []byte) ([]byte, error) {
	// Both formats are at least plainSize bytes long.
	if len(data) < plainSize {
		return nil, ErrShortPacket
	}
	// Attempt decoding pre-EIP-8 "plain" format.
	key := ecies.ImportECDSA(h.prv)
	if dec, err := key.Decrypt(data[:plainSize], nil, nil); err == nil {
		msg.decodePlain(dec)
		return data[:plainSize], nil
	}
	// Could be EIP-8 format, try that.
	prefix := data[:2]
	size := int(binary.BigEndian.Uint16(prefix))
	if size < plainSize {
		return nil, fmt.Errorf("%w: size underflow, need at least %d bytes", ErrDecrypt, plainSize)
	}
	if size > maxHandshakeSize {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, errPacketTooBig)
	}
	if len(data) < 2+size {
		return nil, ErrShortPacket
	}
	packet := data[:2+size]
	dec, err := key.Decrypt(packet[2:], nil, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	// Can't use rlp.DecodeBytes here because it rejects
	// trailing data (forward-compatibility).
	s := rlp.NewStream(bytes.NewReader(dec), 0)
	if err := s.Decode(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return packet, nil
}

// importPublicKey unmarshals 512 bit public keys.
func importPublicKey(pubKey []byte) (*ecies.PublicKey, error) {
	var pubKey65 []byte
	switch len(pubKey) {
	case 64:
		// add 'uncompressed key' flag
		pubKey65 = append([]byte{0x04}, pubKey...)
	case 65:
		pubKey65 = pubKey
	default:
		return nil, fmt.Errorf("invalid public key length %v (expect 64/65)", len(pubKey))
	}
	pub, err := crypto.UnmarshalPubkey(pubKey65)
	if err != nil {
		return nil, err
	}
	return ecies.ImportECDSAPublic(pub), nil
}

func exportPubkey(pub *ecies.PublicKey) []byte {
	if pub == nil {
		panic("nil pubkey")
	}
	return crypto.FromECDSAPub(pub.ExportECDSA())[1:]
}
