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

package congestion

import "sync/atomic"

// DetectorConfig holds the process-wide tunables of the policer detector and
// its cap & probe controller. Fields are word-sized atomics: readers never
// take a lock, and a torn read only ever affects the next sample, which is
// an acceptable cost for knobs an operator may flip at any time.
type DetectorConfig struct {
	// ProbeInterval is the number of rounds the cap stays active before the
	// controller schedules an upward probe. Rounds are counted in every BBR
	// mode, not only in PROBE_BW.
	ProbeInterval atomic.Int64

	// ProbePer sets the probe gain inflation: effective multiplier is
	// gain * ProbePer / 20.
	ProbePer atomic.Int64

	// OptimizeFlag is the master enable for the cap & probe controller. When
	// false, the detector still classifies the path but never caps pacing.
	OptimizeFlag atomic.Bool

	// MonitorPeriod is the number of rounds a probe is allowed to run before
	// concluding it found no new headroom.
	MonitorPeriod atomic.Int64

	// UseGoodput selects the delivery counter used by the detector:
	// true uses bytes confirmed delivered by the peer (snd_una-derived),
	// false uses the sampler's own delivered counter.
	UseGoodput atomic.Bool

	// ExcludeRTO resets the detector whenever the connection exits loss
	// recovery (RTO-driven retransmission completed).
	ExcludeRTO atomic.Bool

	// ExcludeRwnd resets the detector whenever the connection was
	// receive-window limited during the round.
	ExcludeRwnd atomic.Bool

	// ExcludeAppLimited resets the detector whenever the current sample is
	// app-limited.
	ExcludeAppLimited atomic.Bool

	// EnablePrintk gates the detector's diagnostic trace lines.
	EnablePrintk atomic.Bool
}

// NewDetectorConfig returns a DetectorConfig populated with the defaults
// observed in the policer-detection algorithm this package ports.
func NewDetectorConfig() *DetectorConfig {
	c := &DetectorConfig{}
	c.ProbeInterval.Store(20)
	c.ProbePer.Store(24)
	c.OptimizeFlag.Store(true)
	c.MonitorPeriod.Store(3)
	c.UseGoodput.Store(true)
	c.EnablePrintk.Store(true)
	return c
}
