package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forestbench/internal/bundle"
	"forestbench/internal/cfg"
	"forestbench/internal/forest"
	"forestbench/internal/metrics"
	"forestbench/internal/server"

	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	var file *bundle.File
	if c.BundleURL != "" {
		file, err = bundle.Fetch(c.BundleURL, c.FetchTimeout)
	} else {
		file, err = bundle.Load(c.BundlePath)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("bundle load failed")
	}
	mw.BundleLoadsInc()

	f, err := forest.New(file.Forest)
	if err != nil {
		log.Fatal().Err(err).Msg("forest validation failed")
	}
	predictor, err := forest.NewPredictor(f, c.Classes, c.TreesPerClass)
	if err != nil {
		log.Fatal().Err(err).Msg("predictor setup failed")
	}

	srv := server.New(predictor, c.FeatureLen, c.ServerPort, file.Checksum, mw)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("prediction server stopped")
		}
	}()

	waitForShutdown(srv)
}

// waitForShutdown blocks until a termination signal and then drains the
// server gracefully.
func waitForShutdown(srv *server.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
	}
}
