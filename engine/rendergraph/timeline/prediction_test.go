package timeline

import (
	"testing"
)

func TestCorrectionFactorConvergence(t *testing.T) {
	tracker := NewPredictionErrorTracker(DefaultPredictionTrackerConfig())

	for frame := uint32(0); frame < 15; frame++ {
		tracker.RecordPrediction("shadowMap", 2_000_000, 2_500_000, frame)
	}

	factor := tracker.CorrectionFactor("shadowMap")
	if factor <= 1.24 || factor >= 1.26 {
		t.Errorf("CorrectionFactor = %f, want in (1.24, 1.26)", factor)
	}

	corrected := uint64(float32(2_000_000) * factor)
	if corrected <= 2_480_000 || corrected >= 2_520_000 {
		t.Errorf("corrected estimate = %d, want in (2480000, 2520000)", corrected)
	}
}

func TestCorrectionUnreliableUntilTenSamples(t *testing.T) {
	tracker := NewPredictionErrorTracker(DefaultPredictionTrackerConfig())
	for frame := uint32(0); frame < 9; frame++ {
		tracker.RecordPrediction("sparse", 1_000, 2_000, frame)
	}
	if got := tracker.CorrectionFactor("sparse"); got != 1.0 {
		t.Errorf("CorrectionFactor with 9 samples = %f, want 1.0", got)
	}
	tracker.RecordPrediction("sparse", 1_000, 2_000, 9)
	if got := tracker.CorrectionFactor("sparse"); got == 1.0 {
		t.Error("CorrectionFactor with 10 samples should differ from 1.0")
	}
}

func TestCorrectionClamped(t *testing.T) {
	tracker := NewPredictionErrorTracker(DefaultPredictionTrackerConfig())
	for frame := uint32(0); frame < 20; frame++ {
		// 10x underestimate; correction must clamp at 2.0.
		tracker.RecordPrediction("spiky", 1_000, 10_000, frame)
	}
	if got := tracker.CorrectionFactor("spiky"); got > 2.0 {
		t.Errorf("CorrectionFactor = %f, want <= 2.0", got)
	}
	for frame := uint32(0); frame < 20; frame++ {
		// 10x overestimate; correction must clamp at 0.5.
		tracker.RecordPrediction("padded", 10_000, 1_000, frame)
	}
	if got := tracker.CorrectionFactor("padded"); got < 0.5 {
		t.Errorf("CorrectionFactor = %f, want >= 0.5", got)
	}
}

func TestBiasIndicators(t *testing.T) {
	tracker := NewPredictionErrorTracker(DefaultPredictionTrackerConfig())
	for frame := uint32(0); frame < 12; frame++ {
		tracker.RecordPrediction("steady", 1_000_000, 1_200_000, frame)
	}
	stats := tracker.TaskStats("steady")
	if stats == nil {
		t.Fatal("stats missing")
	}
	if stats.BiasDirection < 0.19 || stats.BiasDirection > 0.21 {
		t.Errorf("BiasDirection = %f, want ~0.2", stats.BiasDirection)
	}
	if stats.BiasConfidence != 1.0 {
		t.Errorf("BiasConfidence = %f, want 1.0 for zero variance", stats.BiasConfidence)
	}
	if stats.MeanErrorNs != 200_000 {
		t.Errorf("MeanErrorNs = %d, want 200000", stats.MeanErrorNs)
	}
}

func TestRollingWindowBounded(t *testing.T) {
	config := DefaultPredictionTrackerConfig()
	config.WindowSize = 5
	tracker := NewPredictionErrorTracker(config)
	for frame := uint32(0); frame < 50; frame++ {
		tracker.RecordPrediction("windowed", 100, 100, frame)
	}
	stats := tracker.TaskStats("windowed")
	if stats.HistoryLen() != 5 {
		t.Errorf("HistoryLen = %d, want 5", stats.HistoryLen())
	}
	if stats.SampleCount != 50 {
		t.Errorf("SampleCount = %d, want 50", stats.SampleCount)
	}
}

func TestLeastSampledEviction(t *testing.T) {
	config := DefaultPredictionTrackerConfig()
	config.MaxTaskTypes = 2
	tracker := NewPredictionErrorTracker(config)

	tracker.RecordPrediction("busy", 100, 100, 0)
	tracker.RecordPrediction("busy", 100, 100, 1)
	tracker.RecordPrediction("idle", 100, 100, 0)
	// Third type evicts the least-sampled entry ("idle").
	tracker.RecordPrediction("new", 100, 100, 2)

	if tracker.TaskStats("idle") != nil {
		t.Error("least-sampled task should have been evicted")
	}
	if tracker.TaskStats("busy") == nil || tracker.TaskStats("new") == nil {
		t.Error("busy and new tasks should survive eviction")
	}
}

func TestGlobalStats(t *testing.T) {
	tracker := NewPredictionErrorTracker(DefaultPredictionTrackerConfig())
	tracker.RecordPrediction("under", 100, 200, 0) // ratio 2.0
	tracker.RecordPrediction("over", 200, 100, 0)  // ratio 0.5
	tracker.RecordPrediction("exact", 100, 100, 0) // ratio 1.0

	global := tracker.GlobalStats()
	if global.TotalSamples != 3 {
		t.Errorf("TotalSamples = %d, want 3", global.TotalSamples)
	}
	if global.TaskTypeCount != 3 {
		t.Errorf("TaskTypeCount = %d, want 3", global.TaskTypeCount)
	}
	wantPercent := float32(100.0 / 3.0)
	approx := func(got, want float32) bool { return got > want-0.01 && got < want+0.01 }
	if !approx(global.UnderestimatePercent, wantPercent) ||
		!approx(global.OverestimatePercent, wantPercent) ||
		!approx(global.AccuratePercent, wantPercent) {
		t.Errorf("percentages = (%f, %f, %f), want each ~33.3",
			global.UnderestimatePercent, global.OverestimatePercent, global.AccuratePercent)
	}
}

func TestZeroEstimateRatio(t *testing.T) {
	tracker := NewPredictionErrorTracker(DefaultPredictionTrackerConfig())
	tracker.RecordPrediction("zero", 0, 500, 0)
	stats := tracker.TaskStats("zero")
	if last := stats.LastError(); last == nil || last.ErrorRatio != 10.0 {
		t.Errorf("zero-estimate ratio = %v, want 10.0", last)
	}
}
