// Copyright 2024 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/devp2p/go-rlpx/p2p/session"
	"github.com/devp2p/go-rlpx/p2p/wire"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	nodeKeyFlag = &cli.StringFlag{
		Name:  "nodekey",
		Usage: "Node key file (an ephemeral key is used if unset)",
	}
	clientNameFlag = &cli.StringFlag{
		Name:  "client",
		Usage: "Client name announced in the Hello message",
	}
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "TCP listening port, also announced in the Hello message",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Timeout for dialing and for the handshake",
	}
)

var dumpConfigCommand = &cli.Command{
	Name:   "dumpconfig",
	Usage:  "Show configuration values",
	Action: dumpConfig,
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// duration is a time.Duration that is written as a string in TOML files.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type peerConfig struct {
	NodeKey string `toml:",omitempty"`
	Client  string
	Port    int
	Timeout duration
	Caps    []string
}

func defaultConfig() peerConfig {
	return peerConfig{
		Client:  "rlpxpeer",
		Port:    30303,
		Timeout: duration{10 * time.Second},
		Caps:    []string{"eth/68"},
	}
}

func loadConfig(file string, cfg *peerConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the configuration file and applies command line flags on top.
func makeConfig(ctx *cli.Context) (peerConfig, error) {
	cfg := defaultConfig()

	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(nodeKeyFlag.Name) {
		cfg.NodeKey = ctx.String(nodeKeyFlag.Name)
	}
	if ctx.IsSet(clientNameFlag.Name) {
		cfg.Client = ctx.String(clientNameFlag.Name)
	}
	if ctx.IsSet(portFlag.Name) {
		cfg.Port = ctx.Int(portFlag.Name)
	}
	if ctx.IsSet(timeoutFlag.Name) {
		cfg.Timeout.Duration = ctx.Duration(timeoutFlag.Name)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Timeout.Duration <= 0 {
		return cfg, fmt.Errorf("invalid timeout %v", cfg.Timeout)
	}
	return cfg, nil
}

// sessionConfig creates the session settings, loading the node key.
func (cfg *peerConfig) sessionConfig() (session.Config, error) {
	key, err := cfg.nodeKey()
	if err != nil {
		return session.Config{}, err
	}
	caps := make([]wire.Cap, 0, len(cfg.Caps))
	for _, s := range cfg.Caps {
		c, err := parseCap(s)
		if err != nil {
			return session.Config{}, err
		}
		caps = append(caps, c)
	}
	return session.Config{
		PrivateKey: key,
		Name:       wire.ClientName(cfg.Client, clientVersion, ""),
		Caps:       caps,
		ListenPort: uint64(cfg.Port),
	}, nil
}

func (cfg *peerConfig) nodeKey() (*ecdsa.PrivateKey, error) {
	if cfg.NodeKey == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		log.Info("Using ephemeral node key")
		return key, nil
	}
	key, err := crypto.LoadECDSA(cfg.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("invalid node key %s: %v", cfg.NodeKey, err)
	}
	return key, nil
}

// parseCap parses a capability in "name/version" notation.
func parseCap(s string) (wire.Cap, error) {
	name, version, ok := strings.Cut(s, "/")
	if !ok || name == "" {
		return wire.Cap{}, fmt.Errorf("invalid capability %q", s)
	}
	v, err := strconv.ParseUint(version, 10, 32)
	if err != nil {
		return wire.Cap{}, fmt.Errorf("invalid capability version in %q", s)
	}
	return wire.Cap{Name: name, Version: uint(v)}, nil
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	_, err = ctx.App.Writer.Write(out)
	return err
}
