// Copyright (C) 2023  mieru authors
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

package metrics

var (
	// Number of times the BBR state machine entered STARTUP.
	BBRStartupEntries = RegisterMetric("bbr", "StartupEntries", COUNTER)

	// Number of times the BBR state machine entered PROBE_RTT.
	BBRProbeRTTEntries = RegisterMetric("bbr", "ProbeRTTEntries", COUNTER)

	// Number of round starts observed while in loss recovery.
	BBRRecoveryRounds = RegisterMetric("bbr", "RecoveryRounds", COUNTER)

	// Number of times the policer detector classified the path as rate limited.
	DetectorClassifyPoliced = RegisterMetric("detector", "ClassifyPoliced", COUNTER)

	// Number of times the policer detector classified the path as an
	// ordinary loss event (not a policer).
	DetectorClassifyOrdinaryLoss = RegisterMetric("detector", "ClassifyOrdinaryLoss", COUNTER)

	// Number of times the detector state was reset.
	DetectorResets = RegisterMetric("detector", "Resets", COUNTER)

	// Number of upward probes the cap & probe controller started. During a
	// probe the rate cap stays on, raised by the probe gain.
	DetectorProbeRounds = RegisterMetric("detector", "ProbeRounds", COUNTER)

	// Current best-candidate bucket size, in bytes. A gauge so introspection
	// tools can read the latest value without waiting for the logging loop.
	DetectorBucketBytes = RegisterMetric("detector", "BucketBytes", GAUGE)

	// Current best-candidate sustained rate, in bytes per second.
	DetectorSustainedRateBps = RegisterMetric("detector", "SustainedRateBps", GAUGE)
)
