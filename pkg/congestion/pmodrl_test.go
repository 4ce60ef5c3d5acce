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

import "testing"

func TestCompStopsAtFirstInconsistentCandidate(t *testing.T) {
	d := &Detector{cfg: NewDetectorConfig()}
	for i := 0; i < gridSize; i++ {
		d.b[i] = int64(i) * 1000
	}
	d.r = [gridSize]int64{0, 10, 20, 30, 40, 340, 350, 360, 370}

	got := d.comp(10)
	if got != 4 {
		t.Errorf("comp() = %d, want 4", got)
	}
}

// TestOnSampleLocksClassificationAfterSustainedLoss walks through a single
// sustained, abrupt throughput drop and checks that the detector only
// locks onto ClassifyPoliced once the best candidate has stayed stable for
// more than 10 round trips, matching estimation_classify's two-sample
// confirmation requirement.
func TestOnSampleLocksClassificationAfterSustainedLoss(t *testing.T) {
	cfg := NewDetectorConfig()
	d := NewDetector(cfg, 0, 0, 0)

	d.NoteLossCounter(50000, 500, 0)
	d.NoteLossCounter(60000, 520, 100)

	const minRTTUs = 10000

	d.OnSample(140000, 700, 300, minRTTUs)
	if d.Classify() != ClassifyUnclassified {
		t.Fatalf("after first stable sample, Classify() = %d, want %d", d.Classify(), ClassifyUnclassified)
	}
	if !d.highLossFlag {
		t.Fatalf("highLossFlag not set after a sustained loss interval")
	}

	d.OnSample(250000, 700, 300, minRTTUs)
	if d.Classify() != ClassifyPoliced {
		t.Fatalf("after second stable sample, Classify() = %d, want %d", d.Classify(), ClassifyPoliced)
	}
	if !d.CapActive() {
		t.Errorf("CapActive() = false right after locking on, want true")
	}
	bucket, rate := d.BestCandidate()
	if bucket != d.b[d.bestIndex] || rate != d.r[d.bestIndex] {
		t.Errorf("BestCandidate() = (%d, %d), want the grid entry at bestIndex", bucket, rate)
	}
}

func TestResetAlwaysRestartsAtUnclassified(t *testing.T) {
	cfg := NewDetectorConfig()
	d := NewDetector(cfg, 0, 0, 0)
	d.classify = ClassifyPoliced
	d.upperBound = 1
	d.b[3] = 123
	d.r[3] = 456

	d.Reset(1000, 10, 5, ResetRwndLimitedWasPoliced, ResetRwndLimitedWasDisclassified)

	if d.Classify() != ClassifyUnclassified {
		t.Errorf("Classify() after Reset = %d, want %d (reason codes must not leak into classify)", d.Classify(), ClassifyUnclassified)
	}
	if d.lastResetReason != ResetRwndLimitedWasPoliced {
		t.Errorf("lastResetReason = %d, want %d", d.lastResetReason, ResetRwndLimitedWasPoliced)
	}
	if d.b[3] != 0 || d.r[3] != 0 {
		t.Errorf("grid not cleared by Reset")
	}
	if d.transferStartDelivered != 10 || d.transferStartLost != 5 {
		t.Errorf("transfer start counters not reseeded by Reset")
	}

	// A reset from an already-disclassified detector remembers the other
	// reason code.
	d2 := NewDetector(cfg, 0, 0, 0)
	d2.classify = ClassifyDisclassified
	d2.Reset(0, 0, 0, ResetRwndLimitedWasPoliced, ResetRwndLimitedWasDisclassified)
	if d2.lastResetReason != ResetRwndLimitedWasDisclassified {
		t.Errorf("lastResetReason = %d, want %d", d2.lastResetReason, ResetRwndLimitedWasDisclassified)
	}
}

func TestProbeSchedulesAfterProbeInterval(t *testing.T) {
	cfg := NewDetectorConfig()
	cfg.ProbeInterval.Store(3)
	d := NewDetector(cfg, 0, 0, 0)
	d.classify = ClassifyPoliced
	d.upperBound = 1

	delivered := int64(0)
	for i := 1; i <= 3; i++ {
		delivered += 10
		d.NoteRoundStart(delivered-10, delivered)
		got := d.Probe()
		want := i == 3
		if got != want {
			t.Errorf("round %d: Probe() = %v, want %v", i, got, want)
		}
	}
	if d.nominator != 1 || d.upperBound != 1 {
		t.Errorf("after scheduled probe: nominator=%d upperBound=%d, want 1,1", d.nominator, d.upperBound)
	}
	if d.roundCount != 0 {
		t.Errorf("roundCount not reset after scheduling a probe, got %d", d.roundCount)
	}
}

func TestProbeMonitorsThenReengagesCap(t *testing.T) {
	cfg := NewDetectorConfig()
	cfg.MonitorPeriod.Store(2)
	d := NewDetector(cfg, 0, 0, 0)
	d.classify = ClassifyPoliced
	d.upperBound = 1
	d.nominator = 1
	d.b[0], d.r[0] = 100, 200
	d.memB, d.memR = d.b[0], d.r[0]

	if !d.CapActive() {
		t.Fatalf("CapActive() should be true while a probe is in progress (the cap is raised by the probe gain, not lifted)")
	}

	delivered := int64(1000)
	for i := 0; i < 2; i++ {
		delivered += 10
		d.NoteRoundStart(delivered-10, delivered)
		d.Probe()
	}

	if d.upperBound != 1 || d.nominator != 0 {
		t.Errorf("after monitor period with unchanged candidate: upperBound=%d nominator=%d, want 1,0", d.upperBound, d.nominator)
	}
	if !d.CapActive() {
		t.Errorf("CapActive() should still be true once the probe concludes with no improvement")
	}
}

func TestCapRateAppliesProbeGainOnlyDuringAProbe(t *testing.T) {
	cfg := NewDetectorConfig()
	cfg.ProbePer.Store(24)
	d := NewDetector(cfg, 0, 0, 0)
	d.classify = ClassifyPoliced
	d.r[0] = bwUnit

	if got := d.CapRate(); got != 1_000_000 {
		t.Errorf("CapRate() outside a probe = %d, want 1000000", got)
	}

	d.nominator = 1
	if got := d.CapRate(); got < 1_199_000 || got > 1_201_000 {
		t.Errorf("CapRate() during a probe = %d, want ~1200000 (gain*probe_per/20)", got)
	}
}
