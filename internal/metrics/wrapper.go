package metrics

import "time"

// Wrapper exposes the metrics as plain methods so consumer packages can
// depend on a small interface of their own instead of importing Prometheus
// types directly.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) PredictionsInc() {
	w.m.PredictionsTotal.Inc()
}

func (w *Wrapper) PredictionErrorsInc() {
	w.m.PredictionErrors.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *Wrapper) PredictionLatencyObserve(d time.Duration) {
	w.m.PredictionLatency.Observe(d.Seconds())
}

func (w *Wrapper) SamplesEvaluatedAdd(n int) {
	w.m.SamplesEvaluated.Add(float64(n))
}

func (w *Wrapper) EvalAccuracySet(accuracy float64) {
	w.m.EvalAccuracy.Set(accuracy)
}

func (w *Wrapper) EvalDurationObserve(d time.Duration) {
	w.m.EvalDuration.Observe(d.Seconds())
}

func (w *Wrapper) BundleLoadsInc() {
	w.m.BundleLoads.Inc()
}

func (w *Wrapper) WSClientsAdd(delta float64) {
	w.m.WSClients.Add(delta)
}
