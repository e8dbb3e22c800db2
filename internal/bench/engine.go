// Package bench is the benchmark harness around the forest inference engine:
// it replays an evaluation sample set for a configured number of iterations,
// counts correct predictions, and reports accuracy.
package bench

import (
	"fmt"
	"time"

	"forestbench/internal/bundle"
	"forestbench/internal/forest"

	"github.com/rs/zerolog/log"
)

// MetricsSink is the subset of metrics the harness reports. Declared here so
// the package does not depend on the metrics implementation.
type MetricsSink interface {
	PredictionsInc()
	PredictionErrorsInc()
	PredictionLatencyObserve(time.Duration)
	SamplesEvaluatedAdd(int)
	EvalAccuracySet(float64)
	EvalDurationObserve(time.Duration)
}

// ClassStats accumulates per-class accuracy over a run.
type ClassStats struct {
	Samples int `json:"samples"`
	Correct int `json:"correct"`
}

// Results holds the outcome of one evaluation run.
type Results struct {
	Iterations     int           `json:"iterations"`
	SamplesPerPass int           `json:"samples_per_pass"`
	TotalSamples   int           `json:"total_samples"`
	Correct        int           `json:"correct"`
	Accuracy       float64       `json:"accuracy"`
	PerClass       []ClassStats  `json:"per_class"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
}

// BenchmarkLine formats the classic harness output: iterations, samples
// evaluated, correct predictions, semicolon separated.
func (r *Results) BenchmarkLine() string {
	return fmt.Sprintf("%d;%d;%d", r.Iterations, r.TotalSamples, r.Correct)
}

// Engine runs the evaluation loop.
type Engine struct {
	predictor *forest.Predictor
	samples   bundle.SampleSet
	scale     int
	metrics   MetricsSink
	results   *Results
}

// NewEngine creates a harness over a predictor and its evaluation samples.
// scale is the number of passes over the sample set; metrics may be nil.
func NewEngine(predictor *forest.Predictor, samples bundle.SampleSet, scale int, metrics MetricsSink) *Engine {
	if scale < 1 {
		scale = 1
	}
	return &Engine{
		predictor: predictor,
		samples:   samples,
		scale:     scale,
		metrics:   metrics,
		results: &Results{
			Iterations:     scale,
			SamplesPerPass: samples.Len(),
			PerClass:       make([]ClassStats, predictor.Classes()),
		},
	}
}

// Run executes the evaluation. A traversal error aborts the run; partial
// results are not reported.
func (e *Engine) Run() error {
	log.Info().
		Int("iterations", e.scale).
		Int("samples", e.samples.Len()).
		Int("classes", e.predictor.Classes()).
		Msg("starting evaluation")

	e.results.StartTime = time.Now()

	for pass := 0; pass < e.scale; pass++ {
		for i := 0; i < e.samples.Len(); i++ {
			features, label := e.samples.At(i)

			start := time.Now()
			predicted, err := e.predictor.Predict(features)
			if e.metrics != nil {
				e.metrics.PredictionLatencyObserve(time.Since(start))
				e.metrics.PredictionsInc()
			}
			if err != nil {
				if e.metrics != nil {
					e.metrics.PredictionErrorsInc()
				}
				return fmt.Errorf("sample %d of pass %d: %w", i, pass, err)
			}

			if int(label) < len(e.results.PerClass) {
				e.results.PerClass[label].Samples++
			}
			if predicted == int(label) {
				e.results.Correct++
				e.results.PerClass[label].Correct++
			}
			e.results.TotalSamples++
		}

		if e.metrics != nil {
			e.metrics.SamplesEvaluatedAdd(e.samples.Len())
		}
	}

	e.results.EndTime = time.Now()
	e.results.Duration = e.results.EndTime.Sub(e.results.StartTime)
	if e.results.TotalSamples > 0 {
		e.results.Accuracy = float64(e.results.Correct) / float64(e.results.TotalSamples)
	}

	if e.metrics != nil {
		e.metrics.EvalAccuracySet(e.results.Accuracy)
		e.metrics.EvalDurationObserve(e.results.Duration)
	}

	log.Info().
		Int("correct", e.results.Correct).
		Int("total", e.results.TotalSamples).
		Float64("accuracy", e.results.Accuracy).
		Dur("duration", e.results.Duration).
		Msg("evaluation finished")

	return nil
}

// GetResults returns the evaluation results.
func (e *Engine) GetResults() *Results {
	return e.results
}
