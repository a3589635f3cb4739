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
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "Format logs with JSON",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a file, rotating it when it grows large",
	}
)

// logOutputFile is the rotating log file, if --log.file is set.
var logOutputFile io.WriteCloser

func setupLogging(ctx *cli.Context) error {
	var (
		output   = io.Writer(os.Stderr)
		usecolor = (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	)
	if file := ctx.String(logFileFlag.Name); file != "" {
		logOutputFile = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		output = logOutputFile
		usecolor = false
	} else if usecolor {
		output = colorable.NewColorableStderr()
	}

	format := log.TerminalFormat(usecolor)
	if ctx.Bool(logJSONFlag.Name) {
		format = log.JSONFormat()
	}
	glogger := log.NewGlogHandler(log.StreamHandler(output, format))
	glogger.Verbosity(log.Lvl(ctx.Int(verbosityFlag.Name)))
	log.Root().SetHandler(glogger)
	return nil
}

func closeLogging(ctx *cli.Context) error {
	if logOutputFile != nil {
		return logOutputFile.Close()
	}
	return nil
}
