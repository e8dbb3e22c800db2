// Package server exposes a loaded forest over HTTP: JSON prediction requests,
// model info, health, Prometheus metrics, and a websocket endpoint that
// streams classifications for a sequence of feature vectors.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"forestbench/internal/forest"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// MetricsSink is the subset of metrics the server reports.
type MetricsSink interface {
	PredictionsInc()
	PredictionErrorsInc()
	PredictionLatencyObserve(time.Duration)
	WSClientsAdd(delta float64)
}

// Server serves predictions from one validated forest.
type Server struct {
	predictor  *forest.Predictor
	featureLen int
	metrics    MetricsSink
	checksum   string
	server     *http.Server
	upgrader   websocket.Upgrader
}

// PredictionRequest is the incoming prediction request. Features are byte
// values carried as integers; anything outside 0..255 is rejected.
type PredictionRequest struct {
	Features  []int  `json:"features"`
	RequestID string `json:"request_id,omitempty"`
}

// PredictionResponse is the prediction result.
type PredictionResponse struct {
	Class     int       `json:"class"`
	Votes     []uint16  `json:"votes"`
	RequestID string    `json:"request_id,omitempty"`
	Latency   float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates the prediction server. checksum identifies the loaded bundle in
// /model/info; metrics may be nil.
func New(predictor *forest.Predictor, featureLen, port int, checksum string, metrics MetricsSink) *Server {
	s := &Server{
		predictor:  predictor,
		featureLen: featureLen,
		metrics:    metrics,
		checksum:   checksum,
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/model/info", s.handleModelInfo)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting prediction server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// classify converts a request's features to bytes and runs one prediction.
func (s *Server) classify(features []int) (int, []uint16, error) {
	if len(features) != s.featureLen {
		return 0, nil, fmt.Errorf("expected %d features, got %d", s.featureLen, len(features))
	}
	vec := make([]byte, len(features))
	for i, v := range features {
		if v < 0 || v > 255 {
			return 0, nil, fmt.Errorf("feature %d out of byte range: %d", i, v)
		}
		vec[i] = byte(v)
	}

	start := time.Now()
	class, votes, err := s.predictor.PredictVotes(vec)
	if s.metrics != nil {
		s.metrics.PredictionLatencyObserve(time.Since(start))
		s.metrics.PredictionsInc()
		if err != nil {
			s.metrics.PredictionErrorsInc()
		}
	}
	return class, votes, err
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	class, votes, err := s.classify(req.Features)
	if err != nil {
		status := http.StatusBadRequest
		if isForestError(err) {
			// A traversal failure means the loaded bundle is defective, not
			// the request.
			status = http.StatusInternalServerError
			log.Error().Err(err).Msg("prediction failed")
		}
		http.Error(w, fmt.Sprintf("prediction failed: %v", err), status)
		return
	}

	resp := PredictionResponse{
		Class:     class,
		Votes:     votes,
		RequestID: req.RequestID,
		Latency:   float64(time.Since(start).Milliseconds()),
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func isForestError(err error) bool {
	for _, sentinel := range []error{
		forest.ErrTraversalOutOfBounds,
		forest.ErrTraversalCycle,
		forest.ErrMalformedForest,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// handleStream upgrades to a websocket and classifies each incoming request
// until the client disconnects. Request errors are reported in-band so one
// malformed vector does not tear down the stream; forest corruption does.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.WSClientsAdd(1)
		defer s.metrics.WSClientsAdd(-1)
	}
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("stream client connected")

	for {
		var req PredictionRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("stream read failed")
			}
			return
		}

		class, votes, err := s.classify(req.Features)
		if err != nil {
			if isForestError(err) {
				log.Error().Err(err).Msg("stream prediction failed, closing")
				conn.WriteJSON(map[string]string{"error": err.Error()})
				return
			}
			if writeErr := conn.WriteJSON(map[string]string{"error": err.Error()}); writeErr != nil {
				return
			}
			continue
		}

		resp := PredictionResponse{
			Class:     class,
			Votes:     votes,
			RequestID: req.RequestID,
			Timestamp: time.Now(),
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"checksum":        s.checksum,
		"classes":         s.predictor.Classes(),
		"trees_per_class": s.predictor.TreesPerClass(),
		"feature_len":     s.featureLen,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}
