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

import (
	"time"

	"github.com/mclab-cuhk/R-TCP/pkg/log"
	"github.com/mclab-cuhk/R-TCP/pkg/mathext"
)

const (
	// ltIntervalMinRTTs is the minimum number of round trips a long-term
	// bandwidth sampling interval must span before it can close.
	ltIntervalMinRTTs = 4

	// ltIntervalMaxRTTs bounds how long a sampling interval is allowed to
	// run without a closing loss before it is abandoned and restarted.
	ltIntervalMaxRTTs = 4 * ltIntervalMinRTTs

	// ltBWMaxRTTs is the number of PROBE_BW rounds a committed long-term
	// bandwidth estimate is trusted before normal gain cycling resumes.
	ltBWMaxRTTs = 48

	// ltLossThreshNum/ltLossThreshDenom is the minimum loss rate (~20%) an
	// interval must exhibit to be considered evidence of policing rather
	// than ordinary congestion loss.
	ltLossThreshNum   = 50
	ltLossThreshDenom = 256

	// ltBWRatioNum/ltBWRatioDenom is the relative tolerance (1/8) between
	// two consecutive interval estimates for them to be considered the same
	// underlying rate.
	ltBWRatioNum   = 1
	ltBWRatioDenom = 8

	// ltBWDiffBytesPerSec is the absolute tolerance (4 Kbit/s) used
	// alongside the relative one.
	ltBWDiffBytesPerSec = 500
)

// resetLTBWInterval restarts the current sampling interval without
// abandoning long-term sampling altogether: used when sampling starts and
// when an interval closes, is rejected, or runs past ltIntervalMaxRTTs. An
// app-limited sample abandons sampling through resetLTBWSampling instead.
func (b *BBRSender) resetLTBWInterval(now time.Time, delivered, lost int64) {
	b.ltLastStamp = now
	b.ltLastDelivered = delivered
	b.ltLastLost = lost
	b.ltRTTCount = 0
}

// resetLTBWSampling abandons long-term bandwidth sampling entirely. Called
// when the policer detector asks for it or has locked onto a policer
// classification (the bucket/rate estimator takes over rate capping), on an
// app-limited sample, when the long-term rate has been in use for
// ltBWMaxRTTs rounds, and on a spurious-loss undo.
func (b *BBRSender) resetLTBWSampling(now time.Time) {
	b.ltIsSampling = false
	b.ltUseBW = false
	b.ltBW = 0
	b.ltRoundsSinceReset = 0
	b.resetLTBWInterval(now, b.sampler.TotalBytesAcked(), b.totalBytesLost)
}

// ltBWIntervalDone compares a freshly closed interval's bandwidth against
// the previous commitment and either commits a new long-term estimate or
// keeps the freshest sample as the new baseline.
func (b *BBRSender) ltBWIntervalDone(now time.Time, bw int64) {
	if b.ltBW == 0 {
		b.ltBW = bw
		b.resetLTBWInterval(now, b.sampler.TotalBytesAcked(), b.totalBytesLost)
		return
	}

	diff := mathext.Abs(bw - b.ltBW)
	if diff*ltBWRatioDenom <= b.ltBW*ltBWRatioNum || diff <= ltBWDiffBytesPerSec {
		b.ltBW = (bw + b.ltBW) / 2
		b.ltUseBW = true
		b.ltRoundsSinceReset = 0
		if log.IsLevelEnabled(log.DebugLevel) {
			log.Debugf("[BBRSender %s] long-term bandwidth committed at %d B/s", b.loggingContext, b.ltBW)
		}
	} else {
		b.ltBW = bw
	}
	b.resetLTBWInterval(now, b.sampler.TotalBytesAcked(), b.totalBytesLost)
}

// updateLTBandwidth runs the long-term policed-bandwidth sampler. It must be
// called once per congestion event, after round-trip and loss accounting
// for the event are up to date.
func (b *BBRSender) updateLTBandwidth(now time.Time, isRoundStart bool, hasLoss bool, isAppLimited bool) {
	if b.ltUseBW {
		if b.mode == modeProbeBW && isRoundStart {
			b.ltRoundsSinceReset++
			if b.ltRoundsSinceReset >= ltBWMaxRTTs {
				b.resetLTBWSampling(now)
				b.EnterProbeBandwidthMode(now)
			}
		}
		return
	}

	if !b.ltIsSampling {
		if !hasLoss {
			return
		}
		b.ltIsSampling = true
		b.resetLTBWInterval(now, b.sampler.TotalBytesAcked(), b.totalBytesLost)
		return
	}

	if isAppLimited {
		b.resetLTBWSampling(now)
		return
	}

	if !isRoundStart {
		return
	}
	b.ltRTTCount++
	if b.ltRTTCount < ltIntervalMinRTTs {
		return
	}
	if b.ltRTTCount > ltIntervalMaxRTTs {
		b.resetLTBWInterval(now, b.sampler.TotalBytesAcked(), b.totalBytesLost)
		return
	}
	if !hasLoss {
		// Interval only closes on a loss event; keep accumulating.
		return
	}

	delivered := b.sampler.TotalBytesAcked() - b.ltLastDelivered
	lost := b.totalBytesLost - b.ltLastLost
	elapsed := now.Sub(b.ltLastStamp)
	if elapsed <= 0 || delivered+lost <= 0 {
		b.resetLTBWInterval(now, b.sampler.TotalBytesAcked(), b.totalBytesLost)
		return
	}

	if lost*ltLossThreshDenom < (delivered+lost)*ltLossThreshNum {
		// Loss rate too low to attribute to a policer; this was an ordinary
		// loss event.
		b.resetLTBWInterval(now, b.sampler.TotalBytesAcked(), b.totalBytesLost)
		return
	}

	bw := BandwidthFromBytesAndTimeDelta(delivered, elapsed)
	b.ltBWIntervalDone(now, bw)
}

// ltBandwidthEstimate returns the bandwidth the pacing-rate calculation
// should target: the long-term estimate while it is in force, otherwise the
// windowed-max filter's current best.
func (b *BBRSender) ltBandwidthEstimate() int64 {
	if b.ltUseBW {
		return b.ltBW
	}
	return b.BandwidthEstimate()
}
