package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"forestbench/internal/bench"
	"forestbench/internal/bundle"
	"forestbench/internal/cfg"
	"forestbench/internal/forest"
	"forestbench/internal/metrics"
	"forestbench/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	startMetricsServer(ctx, c)

	file := loadBundle(c)
	mw.BundleLoadsInc()

	predictor := buildPredictor(c, file)

	engine := bench.NewEngine(predictor, file.Samples, c.ScaleFactor, mw)
	if err := engine.Run(); err != nil {
		log.Fatal().Err(err).Msg("evaluation failed")
	}
	results := engine.GetResults()

	reporter := bench.NewReporter(results, c.OutputPath)
	if err := reporter.GenerateReport(); err != nil {
		log.Error().Err(err).Msg("report generation failed")
	}

	persistRun(store, file, results)

	// The classic harness output line.
	fmt.Println(results.BenchmarkLine())
}

// initializeStorage opens run persistence if DATA_PATH is configured.
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// startMetricsServer starts the Prometheus metrics HTTP server.
func startMetricsServer(ctx context.Context, c cfg.Settings) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// loadBundle fetches the model container from the registry URL when one is
// configured, otherwise reads it from disk.
func loadBundle(c cfg.Settings) *bundle.File {
	if c.BundleURL != "" {
		file, err := bundle.Fetch(c.BundleURL, c.FetchTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("bundle fetch failed")
		}
		return file
	}

	file, err := bundle.Load(c.BundlePath)
	if err != nil {
		log.Fatal().Err(err).Msg("bundle load failed")
	}
	return file
}

// buildPredictor validates the forest once at load time; predictions then run
// against the validated structure.
func buildPredictor(c cfg.Settings, file *bundle.File) *forest.Predictor {
	f, err := forest.New(file.Forest)
	if err != nil {
		log.Fatal().Err(err).Msg("forest validation failed")
	}

	predictor, err := forest.NewPredictor(f, c.Classes, c.TreesPerClass)
	if err != nil {
		log.Fatal().Err(err).Msg("predictor setup failed")
	}

	if file.Samples.FeatureLen != c.FeatureLen {
		log.Warn().
			Int("configured", c.FeatureLen).
			Int("bundle", file.Samples.FeatureLen).
			Msg("bundle sample width differs from configured feature length")
	}

	return predictor
}

func persistRun(store *storage.Store, file *bundle.File, results *bench.Results) {
	if store == nil {
		return
	}
	run := storage.Run{
		Timestamp:      results.StartTime,
		BundleChecksum: file.Checksum,
		Iterations:     results.Iterations,
		Samples:        results.TotalSamples,
		Correct:        results.Correct,
		Accuracy:       results.Accuracy,
		Duration:       results.Duration,
	}
	if err := store.StoreRun(run); err != nil {
		log.Error().Err(err).Msg("failed to persist run record")
	}
}
