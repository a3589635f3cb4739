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

import "fmt"

// State is the protocol state of a session.
type State uint8

const (
	ExpectingConnection State = iota
	AuthReceived              // incoming: auth read, ack not yet sent
	AuthSent                  // outgoing: auth sent, waiting for ack
	AuthAckReceived           // secrets known, Hello not yet sent
	HelloSent                 // local Hello sent, waiting for remote Hello
	HelloReceived             // unused, remote Hello completes the handshake
	Active
	Disconnected
)

var stateNames = [...]string{
	ExpectingConnection: "ExpectingConnection",
	AuthReceived:        "AuthReceived",
	AuthSent:            "AuthSent",
	AuthAckReceived:     "AuthAckReceived",
	HelloSent:           "HelloSent",
	HelloReceived:       "HelloReceived",
	Active:              "Active",
	Disconnected:        "Disconnected",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// transitions lists the states reachable from each state. Every state may also
// move to Disconnected.
var transitions = map[State][]State{
	ExpectingConnection: {AuthSent, AuthReceived},
	AuthReceived:        {AuthAckReceived},
	AuthSent:            {AuthAckReceived},
	AuthAckReceived:     {HelloSent, Active},
	HelloSent:           {Active},
}

// CanTransition reports whether a session in state s may move to state next.
func (s State) CanTransition(next State) bool {
	if s == Disconnected {
		return false
	}
	if next == Disconnected {
		return true
	}
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}
