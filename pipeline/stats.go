package pipeline

import (
	"time"

	"github.com/montanaflynn/stats"

	"go.viam.com/fusion/logging"
)

// DefaultStatsEvery is the number of steps between two timing reports.
const DefaultStatsEvery = 33

// StepTiming is a summary of the step durations of one reporting window.
type StepTiming struct {
	Count  int
	MeanMs float64
	P95Ms  float64
	FPS    float64
}

// stepStats collects step durations and reports them every n steps.
type stepStats struct {
	every   int
	samples []float64
	last    StepTiming
	logger  logging.Logger
}

func newStepStats(every int, logger logging.Logger) *stepStats {
	if every <= 0 {
		every = DefaultStatsEvery
	}
	return &stepStats{every: every, samples: make([]float64, 0, every), logger: logger}
}

// Add records one step and reports whether a window completed.
func (s *stepStats) Add(d time.Duration) bool {
	s.samples = append(s.samples, float64(d)/float64(time.Millisecond))
	if len(s.samples) < s.every {
		return false
	}
	// Neither call fails on a non-empty sample.
	mean, _ := stats.Mean(s.samples)
	p95, _ := stats.Percentile(s.samples, 95)
	s.last = StepTiming{Count: len(s.samples), MeanMs: mean, P95Ms: p95}
	if mean > 0 {
		s.last.FPS = 1000 / mean
	}
	s.samples = s.samples[:0]
	s.logger.Infow("average frame time", "ms", mean, "p95_ms", p95, "fps", s.last.FPS)
	return true
}

// Last is the most recent completed window.
func (s *stepStats) Last() StepTiming {
	return s.last
}
