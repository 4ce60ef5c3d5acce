// Copyright (C) 2024  mieru authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Command rtcpctl is a manual driver for exercising the congestion control
// and policer-detection engine against a handful of built-in traffic
// scenarios. It is not a test harness; see the package test files for that.
package main

import (
	"os"

	"github.com/mclab-cuhk/R-TCP/pkg/cli"
	"github.com/mclab-cuhk/R-TCP/pkg/log"
	"github.com/mclab-cuhk/R-TCP/pkg/stderror"
)

func main() {
	cli.RegisterRTCPCommands()
	if err := cli.ParseAndExecute(); err != nil {
		log.Errorf("%v", err)
		if stderror.GetErrorType(err) == stderror.CONFIG_ERROR {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
