// Command moviewriter records a synthetic animation (and optionally a tone)
// through the movie writer, to show the recorder end to end.
//
//	moviewriter -config demo.yaml
//	moviewriter -out clip.mwraw -duration 5s -audio
//	moviewriter -out clip.mp4 -writer gst -metrics :2112   # needs -tags gst
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Swind/go-movie-writer/config"
	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/media"
	"github.com/Swind/go-movie-writer/media/rawfile"
	obs "github.com/Swind/go-movie-writer/observability/prometheus"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, _ := cfg.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := core.NewSlogLogger(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("recording failed", core.F("error", err))
		os.Exit(1)
	}
}

// loadConfig reads -config (if given) and applies the other flags on top.
func loadConfig(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("moviewriter", flag.ContinueOnError)
	path := fs.String("config", "", "YAML configuration file")
	out := fs.String("out", "", "output file path")
	writer := fs.String("writer", "", "container writer: rawfile or gst")
	duration := fs.Duration("duration", 0, "recording length")
	audio := fs.Bool("audio", false, "record a synthetic tone")
	pull := fs.Bool("pull", false, "drive frames from writer readiness callbacks")
	listen := fs.String("metrics", "", "serve Prometheus metrics on this address")
	level := fs.String("log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.Path = *out
			cfg.Output.FileType = ""
		case "writer":
			cfg.Output.Writer = *writer
		case "duration":
			cfg.Duration = config.Duration(*duration)
		case "audio":
			cfg.Audio.Enabled = *audio
		case "pull":
			cfg.Video.Pull = *pull
		case "metrics":
			cfg.Metrics.Listen = *listen
		case "log-level":
			cfg.Log.Level = *level
		}
	})
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newWriter(cfg *config.Config, logger core.Logger) (media.ContainerWriter, error) {
	if cfg.Output.Writer == "gst" {
		return newGstWriter(logger)
	}
	return rawfile.New(rawfile.WithLogger(logger)), nil
}

// serveMetrics registers the exporter and poller and starts /metrics. The
// returned function shuts everything down.
func serveMetrics(ctx context.Context, cfg *config.Config, logger core.Logger) (core.Metrics, *obs.SnapshotPoller, func(), error) {
	if cfg.Metrics.Listen == "" {
		return &core.NilMetrics{}, nil, func() {}, nil
	}
	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter("moviewriter", reg, obs.ExporterOptions{})
	if err != nil {
		return nil, nil, nil, err
	}
	poller, err := obs.NewSnapshotPoller(reg, cfg.Metrics.PollInterval.Std())
	if err != nil {
		return nil, nil, nil, err
	}
	poller.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", core.F("error", err))
		}
	}()
	logger.Info("serving metrics", core.F("addr", cfg.Metrics.Listen))

	return exporter, poller, func() {
		poller.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}, nil
}
