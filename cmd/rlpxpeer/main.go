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

// rlpxpeer dials or accepts RLPx connections and logs the peer handshake.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
)

const clientVersion = "0.1.0"

var app = &cli.App{
	Name:    filepath.Base(os.Args[0]),
	Usage:   "RLPx session tool",
	Version: clientVersion,
	Writer:  os.Stdout,
	Flags: []cli.Flag{
		configFileFlag,
		nodeKeyFlag,
		clientNameFlag,
		portFlag,
		timeoutFlag,
		verbosityFlag,
		logJSONFlag,
		logFileFlag,
	},
	Before: setupLogging,
	After:  closeLogging,
	Commands: []*cli.Command{
		dialCommand,
		listenCommand,
		keyCommand,
		dumpConfigCommand,
	},
	CommandNotFound: func(ctx *cli.Context, cmd string) {
		fmt.Fprintf(os.Stderr, "No such command: %s\n", cmd)
		os.Exit(1)
	},
}

func main() {
	exit(app.Run(os.Args))
}

func exit(err interface{}) {
	if err == nil {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
