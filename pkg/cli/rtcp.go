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

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/mclab-cuhk/R-TCP/pkg/congestion"
	"github.com/mclab-cuhk/R-TCP/pkg/log"
	"github.com/mclab-cuhk/R-TCP/pkg/rng"
	"github.com/mclab-cuhk/R-TCP/pkg/stderror"
)

// roundSpec is one simulated round trip: how many packets of mss bytes were
// delivered versus lost.
type roundSpec struct {
	delivered int64
	lost      int64
}

// scenarios are the built-in demo drivers behind "rtcpctl simulate". They
// mirror the concrete end-to-end cases this engine is evaluated against, not
// the package's own test suite.
var scenarios = map[string]func() string{
	"ideal":    func() string { return simulate(idealLinkRounds(), 50) },
	"policer":  func() string { return simulate(sustainedPolicerRounds(), 50) },
	"bucket":   func() string { return simulate(tokenBucketRounds(), 20) },
	"probe":    func() string { return simulate(probeCycleRounds(), 20) },
	"probertt": func() string { return simulate(probeRTTRounds(), 50) },
	"recovery": func() string { return simulate(recoveryRounds(), 50) },
}

func idealLinkRounds() []roundSpec {
	rounds := make([]roundSpec, 50)
	for i := range rounds {
		rounds[i] = roundSpec{delivered: 10}
	}
	return rounds
}

func sustainedPolicerRounds() []roundSpec {
	rounds := make([]roundSpec, 40)
	for i := range rounds {
		if i < 20 {
			rounds[i] = roundSpec{delivered: 10}
		} else {
			rounds[i] = roundSpec{delivered: 5, lost: 2}
		}
	}
	return rounds
}

func tokenBucketRounds() []roundSpec {
	rounds := make([]roundSpec, 80)
	for i := range rounds {
		if i < 50 {
			rounds[i] = roundSpec{delivered: 10}
		} else {
			rounds[i] = roundSpec{delivered: 2, lost: 3}
		}
	}
	return rounds
}

// probeCycleRounds extends the token-bucket scenario with enough further
// policed rounds for a cap probe to become due (probe_interval = 20 rounds).
func probeCycleRounds() []roundSpec {
	rounds := tokenBucketRounds()
	for i := 0; i < 25; i++ {
		rounds = append(rounds, roundSpec{delivered: 2, lost: 3})
	}
	return rounds
}

// probeRTTRounds holds a steady, lossless flow long enough in simulated wall
// clock time (> 10s) for the min-RTT filter to expire and force a PROBE_RTT
// entry.
func probeRTTRounds() []roundSpec {
	rounds := make([]roundSpec, 250)
	for i := range rounds {
		rounds[i] = roundSpec{delivered: 10}
	}
	return rounds
}

func recoveryRounds() []roundSpec {
	rounds := make([]roundSpec, 20)
	for i := range rounds {
		rounds[i] = roundSpec{delivered: 10}
	}
	rounds[10] = roundSpec{delivered: 6, lost: 4}
	return rounds
}

// simulate feeds rounds through a freshly constructed sender with the policer
// detector attached and returns a human-readable trace of classify
// transitions plus a final introspection summary. rttMs is jittered with
// rng's scale-down distribution to avoid every round landing on an identical
// synthetic clock tick, the way a real network never would.
func simulate(rounds []roundSpec, rttMs int64) string {
	const mss = int64(1500)
	sender := congestion.NewBBRSender("rtcpctl", nil)
	sender.EnableDetector(nil, time.Now())

	var trace strings.Builder
	now := time.Now()
	var nextPacket int64
	lastClassify := -1

	for i, r := range rounds {
		rtt := time.Duration(rttMs)*time.Millisecond + time.Duration(rng.IntRange(0, 4))*time.Millisecond
		bytesInFlight := (r.delivered + r.lost) * mss

		var acked []congestion.AckedPacketInfo
		var lost []congestion.LostPacketInfo
		for j := int64(0); j < r.delivered+r.lost; j++ {
			pn := nextPacket
			nextPacket++
			sender.OnPacketSent(now, bytesInFlight, pn, mss, true)
			if j < r.delivered {
				acked = append(acked, congestion.AckedPacketInfo{PacketNumber: pn, BytesAcked: mss, ReceiveTimestamp: now.Add(rtt)})
			} else {
				lost = append(lost, congestion.LostPacketInfo{PacketNumber: pn, BytesLost: mss})
			}
		}
		now = now.Add(rtt)
		sender.OnCongestionEvent(bytesInFlight, now, acked, lost)

		if snap, ok := sender.Introspect(); ok && snap.Classify != lastClassify {
			fmt.Fprintf(&trace, "round %d: classify -> %d\n", i, snap.Classify)
			lastClassify = snap.Classify
		}
	}

	snap, _ := sender.Introspect()
	fmt.Fprintf(&trace, "final: classify=%d bandwidth=%d B/s bucket=%d B rate=%d B/s\n",
		snap.Classify, sender.BandwidthEstimate(), snap.BucketBytes, snap.SustainedRateBps)
	return trace.String()
}

// RegisterRTCPCommands registers the rtcpctl CLI commands.
func RegisterRTCPCommands() {
	binaryName = "rtcpctl"
	RegisterCallback(
		[]string{"", "help"},
		func(s []string) error {
			return unexpectedArgsError(s, 2)
		},
		rtcpHelpFunc,
	)
	RegisterCallback(
		[]string{"", "simulate"},
		func(s []string) error {
			if len(s) < 3 {
				return fmt.Errorf("usage: rtcpctl simulate <scenario>. no scenario name provided")
			}
			return unexpectedArgsError(s, 3)
		},
		rtcpSimulateFunc,
	)
}

func rtcpHelpFunc(s []string) error {
	helpFormatter{
		appName: "rtcpctl",
		entries: []helpCmdEntry{
			{cmd: "help", help: []string{"Print this help message."}},
			{cmd: "simulate <scenario>", help: []string{
				"Run a built-in scenario against the engine and print a trace",
				"of classify transitions plus a final introspection summary.",
				"Scenarios: ideal, policer, bucket, probe, probertt, recovery.",
			}},
		},
	}.print()
	return nil
}

func rtcpSimulateFunc(s []string) error {
	name := s[2]
	run, ok := scenarios[name]
	if !ok {
		return stderror.WrapErrorWithType(
			fmt.Errorf(stderror.ParseScenarioFailedErr, fmt.Errorf("unknown scenario %q", name)),
			stderror.CONFIG_ERROR,
		)
	}
	log.Infof("%s", run())
	return nil
}
