package timeline

import (
	stdmath "math"
	"strconv"

	"github.com/spaghettifunk/vixen/engine/math"
)

// PredictionError is one recorded estimate-vs-actual sample.
type PredictionError struct {
	EstimatedNs uint64
	ActualNs    uint64
	// ErrorNs = actual - estimated; positive means underestimate.
	ErrorNs int64
	// ErrorRatio = actual / estimated; 1.0 is a perfect prediction.
	ErrorRatio  float32
	FrameNumber uint32
}

func (e *PredictionError) compute() {
	e.ErrorNs = int64(e.ActualNs) - int64(e.EstimatedNs)
	if e.EstimatedNs > 0 {
		e.ErrorRatio = float32(e.ActualNs) / float32(e.EstimatedNs)
	} else if e.ActualNs > 0 {
		e.ErrorRatio = 10.0
	} else {
		e.ErrorRatio = 1.0
	}
}

// TaskPredictionStats accumulates rolling statistics for one task type.
type TaskPredictionStats struct {
	TaskID string

	SampleCount uint32
	WindowSize  uint32

	MeanErrorRatio float32
	VarianceRatio  float32
	StdDevRatio    float32

	// BiasDirection > 0 means the estimate runs low.
	BiasDirection  float32
	BiasConfidence float32

	// CorrectionFactor is the smoothed multiplier for future estimates,
	// clamped to [0.5, 2.0].
	CorrectionFactor float32

	MeanErrorNs    int64
	MeanAbsErrorNs uint64

	history []PredictionError
}

func (s *TaskPredictionStats) addSample(sample PredictionError) {
	s.history = append(s.history, sample)
	s.SampleCount++
	for uint32(len(s.history)) > s.WindowSize {
		s.history = s.history[1:]
	}
	s.recomputeStats()
}

// recomputeStats recalculates the window statistics with Welford's online
// algorithm for numerically stable mean/variance.
func (s *TaskPredictionStats) recomputeStats() {
	if len(s.history) == 0 {
		s.resetStats()
		return
	}

	mean := 0.0
	m2 := 0.0
	totalErrorNs := int64(0)
	totalAbsErrorNs := uint64(0)
	n := 0

	for i := range s.history {
		n++
		ratio := float64(s.history[i].ErrorRatio)
		delta := ratio - mean
		mean += delta / float64(n)
		delta2 := ratio - mean
		m2 += delta * delta2

		totalErrorNs += s.history[i].ErrorNs
		abs := s.history[i].ErrorNs
		if abs < 0 {
			abs = -abs
		}
		totalAbsErrorNs += uint64(abs)
	}

	s.MeanErrorRatio = float32(mean)
	if n > 1 {
		s.VarianceRatio = float32(m2 / float64(n-1))
	} else {
		s.VarianceRatio = 0
	}
	s.StdDevRatio = float32(stdmath.Sqrt(float64(s.VarianceRatio)))

	s.MeanErrorNs = totalErrorNs / int64(n)
	s.MeanAbsErrorNs = totalAbsErrorNs / uint64(n)

	s.BiasDirection = s.MeanErrorRatio - 1.0

	absBias := s.BiasDirection
	if absBias < 0 {
		absBias = -absBias
	}
	if absBias > 0.001 {
		if s.StdDevRatio < 0.001 {
			// Perfect consistency.
			s.BiasConfidence = 1.0
		} else {
			signalToNoise := absBias / s.StdDevRatio
			s.BiasConfidence = math.Clamp(signalToNoise/3.0, 0.0, 1.0)
		}
	} else {
		s.BiasConfidence = 0.0
	}

	// Smoothed toward the window mean at a 0.1 rate to prevent
	// overcorrection. At full bias confidence (zero variance) the
	// smoothing lag serves nothing, so the factor snaps to the target.
	targetCorrection := s.MeanErrorRatio
	if s.BiasConfidence >= 1.0 {
		s.CorrectionFactor = targetCorrection
	} else {
		s.CorrectionFactor = s.CorrectionFactor*0.9 + targetCorrection*0.1
	}
	s.CorrectionFactor = math.Clamp(s.CorrectionFactor, 0.5, 2.0)
}

func (s *TaskPredictionStats) resetStats() {
	s.MeanErrorRatio = 1.0
	s.VarianceRatio = 0
	s.StdDevRatio = 0
	s.BiasDirection = 0
	s.BiasConfidence = 0
	s.CorrectionFactor = 1.0
	s.MeanErrorNs = 0
	s.MeanAbsErrorNs = 0
}

// HasReliableStats requires at least 10 samples in a window of at least
// 10.
func (s *TaskPredictionStats) HasReliableStats() bool {
	return s.SampleCount >= 10 && len(s.history) >= 10
}

// LastError returns the most recent sample, or nil.
func (s *TaskPredictionStats) LastError() *PredictionError {
	if len(s.history) == 0 {
		return nil
	}
	return &s.history[len(s.history)-1]
}

func (s *TaskPredictionStats) HistoryLen() int { return len(s.history) }

// GlobalPredictionStats aggregates across all task types.
type GlobalPredictionStats struct {
	TotalSamples  uint32
	TaskTypeCount uint32

	GlobalMeanErrorRatio float32

	OverestimatePercent  float32
	UnderestimatePercent float32
	AccuratePercent      float32

	TotalBiasNs int64
}

// PredictionTrackerConfig tunes the tracker.
type PredictionTrackerConfig struct {
	WindowSize        uint32
	MaxTaskTypes      uint32
	AccuracyThreshold float32
}

func DefaultPredictionTrackerConfig() PredictionTrackerConfig {
	return PredictionTrackerConfig{
		WindowSize:        60,
		MaxTaskTypes:      64,
		AccuracyThreshold: 0.10,
	}
}

/**
 * @brief PredictionErrorTracker learns how wrong per-task cost estimates
 * run and produces smoothed correction factors.
 */
type PredictionErrorTracker struct {
	config    PredictionTrackerConfig
	taskStats map[string]*TaskPredictionStats

	totalSamples       uint32
	totalBiasNs        int64
	overestimateCount  uint32
	underestimateCount uint32
	accurateCount      uint32
}

func NewPredictionErrorTracker(config PredictionTrackerConfig) *PredictionErrorTracker {
	if config.WindowSize == 0 {
		config.WindowSize = 60
	}
	if config.MaxTaskTypes == 0 {
		config.MaxTaskTypes = 64
	}
	if config.AccuracyThreshold == 0 {
		config.AccuracyThreshold = 0.10
	}
	return &PredictionErrorTracker{
		config:    config,
		taskStats: make(map[string]*TaskPredictionStats),
	}
}

// RecordPrediction appends a sample for a task id and recomputes its
// rolling statistics.
func (t *PredictionErrorTracker) RecordPrediction(taskID string, estimatedNs, actualNs uint64, frameNumber uint32) {
	stats := t.getOrCreate(taskID)

	sample := PredictionError{
		EstimatedNs: estimatedNs,
		ActualNs:    actualNs,
		FrameNumber: frameNumber,
	}
	sample.compute()
	stats.addSample(sample)

	t.totalSamples++
	t.totalBiasNs += sample.ErrorNs

	threshold := t.config.AccuracyThreshold
	switch {
	case sample.ErrorRatio > 1.0+threshold:
		t.underestimateCount++
	case sample.ErrorRatio < 1.0-threshold:
		t.overestimateCount++
	default:
		t.accurateCount++
	}
}

// RecordPredictionIndexed names the task by a small integer.
func (t *PredictionErrorTracker) RecordPredictionIndexed(taskIndex uint32, estimatedNs, actualNs uint64, frameNumber uint32) {
	t.RecordPrediction(indexedTaskID(taskIndex), estimatedNs, actualNs, frameNumber)
}

// TaskStats returns the stats for a task id, or nil.
func (t *PredictionErrorTracker) TaskStats(taskID string) *TaskPredictionStats {
	return t.taskStats[taskID]
}

// CorrectionFactor returns 1.0 until the task has reliable statistics.
func (t *PredictionErrorTracker) CorrectionFactor(taskID string) float32 {
	if stats := t.taskStats[taskID]; stats != nil && stats.HasReliableStats() {
		return stats.CorrectionFactor
	}
	return 1.0
}

func (t *PredictionErrorTracker) BiasDirection(taskID string) float32 {
	if stats := t.taskStats[taskID]; stats != nil {
		return stats.BiasDirection
	}
	return 0
}

func (t *PredictionErrorTracker) MeanAbsoluteError(taskID string) uint64 {
	if stats := t.taskStats[taskID]; stats != nil {
		return stats.MeanAbsErrorNs
	}
	return 0
}

func (t *PredictionErrorTracker) HasReliableStats(taskID string) bool {
	stats := t.taskStats[taskID]
	return stats != nil && stats.HasReliableStats()
}

// GlobalStats summarizes across every tracked task type.
func (t *PredictionErrorTracker) GlobalStats() GlobalPredictionStats {
	global := GlobalPredictionStats{
		TotalSamples:         t.totalSamples,
		TaskTypeCount:        uint32(len(t.taskStats)),
		TotalBiasNs:          t.totalBiasNs,
		GlobalMeanErrorRatio: 1.0,
	}
	if t.totalSamples > 0 {
		total := float32(t.totalSamples)
		global.OverestimatePercent = float32(t.overestimateCount) / total * 100.0
		global.UnderestimatePercent = float32(t.underestimateCount) / total * 100.0
		global.AccuratePercent = float32(t.accurateCount) / total * 100.0
	}
	if len(t.taskStats) > 0 {
		sum := float32(0)
		for _, stats := range t.taskStats {
			sum += stats.MeanErrorRatio
		}
		global.GlobalMeanErrorRatio = sum / float32(len(t.taskStats))
	}
	return global
}

func (t *PredictionErrorTracker) TaskTypeCount() int { return len(t.taskStats) }

func (t *PredictionErrorTracker) TotalSamples() uint32 { return t.totalSamples }

// TrackedTaskIDs lists every task id with samples.
func (t *PredictionErrorTracker) TrackedTaskIDs() []string {
	ids := make([]string, 0, len(t.taskStats))
	for id := range t.taskStats {
		ids = append(ids, id)
	}
	return ids
}

// SetWindowSize resizes the rolling window for all tasks.
func (t *PredictionErrorTracker) SetWindowSize(windowSize uint32) {
	t.config.WindowSize = windowSize
	for _, stats := range t.taskStats {
		stats.WindowSize = windowSize
	}
}

// Clear drops every sample and counter.
func (t *PredictionErrorTracker) Clear() {
	t.taskStats = make(map[string]*TaskPredictionStats)
	t.totalSamples = 0
	t.totalBiasNs = 0
	t.overestimateCount = 0
	t.underestimateCount = 0
	t.accurateCount = 0
}

// ClearTask drops one task's samples.
func (t *PredictionErrorTracker) ClearTask(taskID string) {
	delete(t.taskStats, taskID)
}

func (t *PredictionErrorTracker) getOrCreate(taskID string) *TaskPredictionStats {
	if stats, ok := t.taskStats[taskID]; ok {
		return stats
	}

	// Evict the least-sampled entry when at capacity.
	if uint32(len(t.taskStats)) >= t.config.MaxTaskTypes {
		var evictID string
		evictCount := uint32(stdmath.MaxUint32)
		for id, stats := range t.taskStats {
			if stats.SampleCount < evictCount {
				evictCount = stats.SampleCount
				evictID = id
			}
		}
		if evictID != "" {
			delete(t.taskStats, evictID)
		}
	}

	stats := &TaskPredictionStats{
		TaskID:           taskID,
		WindowSize:       t.config.WindowSize,
		MeanErrorRatio:   1.0,
		CorrectionFactor: 1.0,
	}
	t.taskStats[taskID] = stats
	return stats
}

func indexedTaskID(taskIndex uint32) string {
	return "task_" + strconv.FormatUint(uint64(taskIndex), 10)
}
