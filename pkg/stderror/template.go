// Copyright (C) 2021  mieru authors
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

package stderror

const (
	ConnectionStateIsNilErr        = "connection state is nil: %w"
	DetectorAlreadyRunningErr      = "detector is already running: %w"
	DetectorNotRunningErr          = "detector is not running: %w"
	GridSizeMismatchErr            = "candidate grid size mismatch: %w"
	InvalidBandwidthSampleErr      = "invalid bandwidth sample: %w"
	InvalidCandidateIndexErr       = "invalid candidate index: %w"
	InvalidPacingGainErr           = "invalid pacing gain: %w"
	InvalidRTTSampleErr            = "invalid round trip time sample: %w"
	LoadIntrospectionSnapshotErr   = "load introspection snapshot failed: %w"
	NegativeBucketSizeErr          = "candidate bucket size must not be negative"
	NegativeSustainedRateErr       = "candidate sustained rate must not be negative"
	OpenScenarioFileFailedErr      = "open scenario file failed: %w"
	ParseScenarioFailedErr         = "parse scenario failed: %w"
	SenderNotCongestionControlled = "sender is not congestion controlled"
	StartControlLoopFailedErr     = "start control loop failed: %w"
	StopControlLoopFailedErr      = "stop control loop failed: %w"
	WriteIntrospectionSnapshotErr = "write introspection snapshot failed: %w"
)
