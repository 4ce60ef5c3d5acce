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
	"github.com/mclab-cuhk/R-TCP/pkg/log"
	"github.com/mclab-cuhk/R-TCP/pkg/mathext"
	"github.com/mclab-cuhk/R-TCP/pkg/metrics"
)

const (
	// gridSize is the number of (bucket, rate) candidates the detector
	// tracks in parallel, N in the percent vector below.
	gridSize = 9

	// bwScale/bwUnit give the fixed-point scale used by the candidate grid
	// arithmetic: a bandwidth or a byte count multiplied by bwUnit carries
	// bwScale extra bits of fractional precision.
	bwScale = 24
	bwUnit  = int64(1) << bwScale

	// basedScale is used both as a right-shift width when building a
	// candidate's lower bound and as a plain scaling factor inside comp's
	// ratio test; both uses share the same constant in the algorithm this
	// detector ports.
	basedScale = 8
	basedUnit  = int64(1) << basedScale

	// abruptDecreaseThresh (/basedUnit) is how far the best candidate's
	// sustained rate must fall below the pre-loss goodput to be called an
	// "abrupt decrease" rather than ordinary rate variance. 150/256 ≈ 59%.
	abruptDecreaseThreshNum = 150
)

// percentArr is the fixed hypothesis vector: percentArr[i] is "what fraction
// of delivered bytes, at the moment the bucket emptied, was bucket content
// rather than sustained-rate traffic" for candidate i.
var percentArr = [gridSize]int64{
	bwUnit, bwUnit * 7 / 8, bwUnit * 6 / 8, bwUnit * 5 / 8, bwUnit * 4 / 8,
	bwUnit * 3 / 8, bwUnit * 2 / 8, bwUnit * 1 / 8, 0,
}

// Detector reset reason codes. Values 1/2 are the live classification
// states; 5-10 are diagnostic-only markers left behind by a reset so
// introspection/logs can tell why a detection epoch restarted. They are
// never read back by the classifier.
const (
	ClassifyUnclassified  = 0
	ClassifyPoliced       = 1
	ClassifyDisclassified = 2

	ResetRwndLimitedWasPoliced       = 5
	ResetRwndLimitedWasDisclassified = 6
	ResetRTOExitWasPoliced           = 7
	ResetRTOExitWasDisclassified     = 8
	ResetAppLimitedWasPoliced        = 9
	ResetAppLimitedWasDisclassified  = 10
)

// Detector fits a family of (bucket size, sustained rate) hypotheses to the
// delivery/loss signal of a connection and decides whether the path looks
// like it sits behind a token-bucket policer. It is owned exclusively by a
// BBRSender and carries no back-reference; a nil *Detector means the policer
// detector is disabled for this connection.
type Detector struct {
	cfg *DetectorConfig

	b [gridSize]int64
	r [gridSize]int64
	bestIndex int

	classify        int
	lastResetReason int
	disableFlag     bool

	highLossFlag        bool
	lossStartTimeUs     int64
	beforeLossDelivered int64
	beforeLossTimeUs    int64
	beforeLossLost      int64
	befEmptyGoodput     int64

	bbrStartUs             int64
	transferStartDelivered int64
	transferStartLost      int64

	classifyTimeUs int64
	memB, memR     int64

	upperBound int
	nominator  int
	roundCount int64
	roundCountNo int64

	detectedTimeUs     int64
	detectedBytesAcked int64

	ltResetPending bool

	latestAckLoss    int64
	roundStart       bool
	nextRTTDelivered int64
}

// NewDetector creates a Detector bound to cfg. nowUs/delivered/lost are the
// connection's current clock and cumulative counters at detector creation.
func NewDetector(cfg *DetectorConfig, nowUs, delivered, lost int64) *Detector {
	d := &Detector{cfg: cfg}
	d.bbrStartUs = nowUs
	d.transferStartDelivered = delivered
	d.transferStartLost = lost
	return d
}

// Classify returns the detector's current classification state.
func (d *Detector) Classify() int { return d.classify }

// BestCandidate returns the currently selected (bucket, rate) hypothesis, in
// the detector's internal bwUnit-scaled units.
func (d *Detector) BestCandidate() (bucket, rate int64) {
	return d.b[d.bestIndex], d.r[d.bestIndex]
}

// comp selects the best candidate index: the grid is walked from index 0
// (the largest bucket hypothesis) upward in index, advancing past any candidate whose (B,R) is still
// consistent with the observed flow duration, and stopping at the first one
// that is not.
func (d *Detector) comp(nowUs int64) int {
	bestIndex := 0
	flowLenUs := nowUs - d.bbrStartUs
	for i := 1; i < gridSize; i++ {
		bDiff := mathext.Abs(d.b[i] - d.b[bestIndex])
		rDiff := mathext.Abs(d.r[i] - d.r[bestIndex])
		if rDiff == 0 {
			bestIndex = i
			continue
		}
		if bDiff*basedScale*2/rDiff > flowLenUs*basedScale {
			bestIndex = i
		} else {
			break
		}
	}
	return bestIndex
}

// refineCandidates re-evaluates R[i] for every candidate whose bucket has
// been exceeded by the cumulative delivery at (nowUs, delivered).
func (d *Detector) refineCandidates(nowUs, delivered int64) bool {
	elapsed := nowUs - d.bbrStartUs
	if elapsed/1000 < 1 {
		return false
	}
	for i := 0; i < gridSize; i++ {
		if delivered*bwUnit > d.b[i] {
			h := delivered*bwUnit - d.b[i]
			d.r[i] = mathext.Max(d.r[i], h/elapsed)
		}
	}
	return true
}

// OnSample runs one step of the policer classifier. nowUs/minRTTUs are
// microsecond clocks; delivered/lost are the cumulative byte counters the
// caller has chosen as the delivery metric (UseGoodput selects which).
// Callers must check ConsumeLTBWReset afterward and reset their long-term
// bandwidth sampler if it returns true.
func (d *Detector) OnSample(nowUs, delivered, lost, minRTTUs int64) {
	curDelivered := delivered - d.transferStartDelivered
	curLost := lost - d.transferStartLost

	if !d.highLossFlag {
		if d.lossStartTimeUs == 0 || d.lossStartTimeUs+7*minRTTUs > nowUs {
			return
		}
		dd := curDelivered - d.beforeLossDelivered
		ll := curLost - d.beforeLossLost
		if dd+ll == 0 || ll*10 < (dd+ll)*2 {
			d.lossStartTimeUs = 0
			return
		}
		d.highLossFlag = true
		if (d.beforeLossTimeUs-d.bbrStartUs)/1000 < 1 {
			return
		}
		d.befEmptyGoodput = d.beforeLossDelivered * bwUnit / (d.beforeLossTimeUs - d.bbrStartUs)
		lowerBoundB := d.beforeLossDelivered * (basedUnit - abruptDecreaseThreshNum)
		for i := 0; i < gridSize; i++ {
			if percentArr[i] == 0 {
				d.b[i] = 0
				continue
			}
			t := (bwUnit - percentArr[i]) * lowerBoundB
			t >>= basedScale
			d.b[i] = d.beforeLossDelivered*percentArr[i] + t
		}
		for i := 0; i < gridSize; i++ {
			if d.beforeLossDelivered*bwUnit > d.b[i] {
				h := d.beforeLossDelivered*bwUnit - d.b[i]
				d.r[i] = mathext.Max(d.r[i], h/(d.beforeLossTimeUs-d.bbrStartUs))
			}
		}
	}

	if !d.refineCandidates(nowUs, curDelivered) {
		return
	}
	d.bestIndex = d.comp(nowUs)
	for d.bestIndex == 0 {
		incrDiff := d.b[0] - d.b[1]
		for i := gridSize - 1; i >= 1; i-- {
			d.b[i] = d.b[i-1]
			d.r[i] = d.r[i-1]
		}
		d.b[0] += incrDiff
		d.r[0] = 0
		if curDelivered*bwUnit > d.b[0] {
			h := curDelivered*bwUnit - d.b[0]
			d.r[0] = mathext.Max(d.r[0], h/(nowUs-d.bbrStartUs))
		}
		if d.beforeLossDelivered*bwUnit > d.b[0] {
			h := d.beforeLossDelivered*bwUnit - d.b[0]
			d.r[0] = mathext.Max(d.r[0], h/(d.beforeLossTimeUs-d.bbrStartUs))
		}
		d.bestIndex = d.comp(nowUs)
	}

	abruptDecrease := d.r[d.bestIndex]*basedUnit <= abruptDecreaseThreshNum*d.befEmptyGoodput

	if d.classify == ClassifyPoliced {
		if !abruptDecrease {
			d.classify = ClassifyDisclassified
			d.disableFlag = true
			metrics.DetectorClassifyOrdinaryLoss.Add(1)
		}
		return
	}

	if !(d.highLossFlag && abruptDecrease) {
		d.classifyTimeUs = 0
		return
	}

	if d.classifyTimeUs == 0 {
		d.classifyTimeUs = nowUs
	}
	if !d.ltResetPending && d.classify != ClassifyPoliced {
		d.ltResetPending = true
	}
	if d.r[d.bestIndex] != d.memR || d.b[d.bestIndex] != d.memB {
		d.classifyTimeUs = nowUs
		d.memB = d.b[d.bestIndex]
		d.memR = d.r[d.bestIndex]
		return
	}
	if nowUs-d.classifyTimeUs > 10*minRTTUs {
		d.classify = ClassifyPoliced
		d.upperBound = 1
		d.detectedTimeUs = nowUs - d.bbrStartUs
		d.detectedBytesAcked = delivered
		if log.IsLevelEnabled(log.DebugLevel) {
			log.Debugf("policer detector locked: bucket=%d rate=%d", d.b[d.bestIndex], d.r[d.bestIndex])
		}
		metrics.DetectorClassifyPoliced.Add(1)
	}
}

// ConsumeLTBWReset reports whether the caller should reset its long-term
// bandwidth sampler, and clears the pending flag.
func (d *Detector) ConsumeLTBWReset() bool {
	v := d.ltResetPending
	d.ltResetPending = false
	return v
}

// NoteLossCounter feeds the per-ACK loss counter bookkeeping that drives the
// "bucket just emptied" snapshot, mirroring the main per-ACK handler's
// before/after loss-counter comparison.
func (d *Detector) NoteLossCounter(nowUs, delivered, lost int64) {
	if d.latestAckLoss != lost {
		if !d.highLossFlag && d.lossStartTimeUs == 0 {
			d.lossStartTimeUs = nowUs
		}
	} else if !d.highLossFlag && d.lossStartTimeUs == 0 {
		d.beforeLossDelivered = delivered - d.transferStartDelivered
		d.beforeLossTimeUs = nowUs
		d.beforeLossLost = lost - d.transferStartLost
	}
	d.latestAckLoss = lost
}

// NoteRoundStart updates round-boundary bookkeeping the probe controller
// relies on; mirrors the main per-ACK handler's round_start computation.
func (d *Detector) NoteRoundStart(priorDelivered, delivered int64) {
	d.roundStart = priorDelivered >= d.nextRTTDelivered
	if d.roundStart {
		d.nextRTTDelivered = delivered
	}
}

// Probe runs the cap & probe controller. It returns true when the caller
// must force the BBR gain cycle back to its first (high-gain) phase and
// ensure the connection is in PROBE_BW, because a scheduled probe just
// started.
func (d *Detector) Probe() bool {
	if d.classify != ClassifyPoliced || !d.cfg.OptimizeFlag.Load() {
		return false
	}
	if d.upperBound != 1 || d.nominator != 0 {
		if d.roundStart {
			d.roundCountNo++
			if d.roundCountNo >= d.cfg.MonitorPeriod.Load() && d.memB == d.b[d.bestIndex] && d.memR == d.r[d.bestIndex] {
				d.upperBound = 1
				d.nominator = 0
				d.roundCountNo = 0
			}
		}
		if d.memB != d.b[d.bestIndex] || d.memR != d.r[d.bestIndex] {
			d.upperBound = 2
			d.nominator = 0
			d.memB = d.b[d.bestIndex]
			d.memR = d.r[d.bestIndex]
			d.roundCountNo = 0
		}
		return false
	}

	if !d.roundStart {
		return false
	}
	d.roundCount++
	if d.roundCount < d.cfg.ProbeInterval.Load() {
		return false
	}
	d.upperBound = 1
	d.nominator = 1
	d.memB = d.b[d.bestIndex]
	d.memR = d.r[d.bestIndex]
	d.roundCount = 0
	d.roundCountNo = 0
	metrics.DetectorProbeRounds.Add(1)
	return true
}

// CapActive reports whether the cap & probe controller currently wants to
// ceiling the pacing rate with CapRate.
func (d *Detector) CapActive() bool {
	return d.classify == ClassifyPoliced && d.upperBound == 1
}

// CapRate converts the best candidate's sustained rate into a pacing rate in
// bytes/second, applying the probe's inflation gain when a probe round is
// in progress.
func (d *Detector) CapRate() int64 {
	gain := 1.0
	if d.classify == ClassifyPoliced && d.nominator != 0 {
		gain = gain * float64(d.cfg.ProbePer.Load()) / 20.0
	}
	return int64(gain * float64(d.r[d.bestIndex]) * 1e6 / float64(bwUnit))
}

// Reset reseeds the detector for a new detection epoch, recording why via a
// reason code pair. flag tracks the classification at the moment of reset
// purely for the reason-code lookup; classify always restarts at
// ClassifyUnclassified, never at a reason code (see lastResetReason).
func (d *Detector) Reset(nowUs, delivered, lost int64, reason1, reason2 int) {
	flag := d.classify
	cfg := d.cfg
	*d = Detector{cfg: cfg}
	d.bbrStartUs = nowUs
	d.transferStartDelivered = delivered
	d.transferStartLost = lost
	switch flag {
	case ClassifyPoliced:
		d.lastResetReason = reason1
	case ClassifyDisclassified:
		d.lastResetReason = reason2
	}
	metrics.DetectorResets.Add(1)
}

// Snapshot is a read-only introspection export. Field names follow the
// detector's own classify/bucket/rate vocabulary rather than the repurposed
// transport-info fields the original implementation piggybacked on.
type Snapshot struct {
	Classify           int
	DetectedTimeMs     int64
	DetectedBytesAcked int64
	BucketBytes        int64
	SustainedRateBps   int64
}

// Introspect returns the current detector snapshot and refreshes the
// exported gauges.
func (d *Detector) Introspect() Snapshot {
	bucket, rate := d.BestCandidate()
	rateBps := rate * 1e6 / bwUnit
	metrics.DetectorBucketBytes.Store(bucket >> bwScale)
	metrics.DetectorSustainedRateBps.Store(rateBps)
	if d.classify != ClassifyPoliced {
		return Snapshot{Classify: d.classify}
	}
	return Snapshot{
		Classify:           ClassifyPoliced,
		DetectedTimeMs:     d.detectedTimeUs / 1000,
		DetectedBytesAcked: d.detectedBytesAcked,
		BucketBytes:        bucket >> bwScale,
		SustainedRateBps:   rateBps,
	}
}
