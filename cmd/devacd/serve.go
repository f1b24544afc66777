// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/devac-project/devac/internal/errs"
	"github.com/devac-project/devac/pkg/hub"
	"github.com/devac-project/devac/pkg/hubrpc"
	"github.com/devac-project/devac/pkg/model"
	"github.com/devac-project/devac/pkg/parser"
	"github.com/devac-project/devac/pkg/parser/refparser"
	"github.com/devac-project/devac/pkg/rename"
	"github.com/devac-project/devac/pkg/seed"
	"github.com/devac-project/devac/pkg/updatemgr"
	"github.com/devac-project/devac/pkg/watch"
)

var (
	filesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devacd_files_processed_total",
		Help: "Files processed by the update manager, by package and outcome status.",
	}, []string{"package", "status"})

	batchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "devacd_batch_duration_seconds",
		Help: "Time to run one debounced batch through the update manager.",
	}, []string{"package"})
)

func init() {
	prometheus.MustRegister(filesProcessed, batchLatency)
}

// runServe is the 'serve' command: it registers the current working
// directory (or each path given as a positional argument) as a repo,
// starts one watcher + update manager per discovered package, and serves
// the hub over a Unix-domain socket.
func runServe(args []string, configPath string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	repoPaths := fs.Args()
	if len(repoPaths) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			fatal(errs.NewIOError("Could not determine working directory", err.Error(), "", err))
		}
		repoPaths = []string{cwd}
	}

	h := hub.New()
	writer := seed.NewWriter()
	registry := parser.NewRegistry(refparser.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, logger, cfg.Metrics.Addr)
	}

	var watchers []*watch.Watcher
	for _, repoPath := range repoPaths {
		repo, err := h.RegisterRepo(repoPath)
		if err != nil {
			logger.Error("repo.register.error", "path", repoPath, "err", err)
			continue
		}
		logger.Info("repo.registered", "repo_id", repo.ID, "path", repo.Path, "packages", len(repo.Packages))

		for _, name := range repo.Packages {
			pkg, ok := h.Package(name)
			if !ok {
				continue
			}
			w, err := startPackageWatcher(ctx, logger, writer, registry, pkg, repo.ID, cfg.Watch)
			if err != nil {
				logger.Error("watch.start.error", "package", name, "err", err)
				continue
			}
			watchers = append(watchers, w)
		}
	}

	socketPath := cfg.Socket
	if socketPath == "" {
		socketPath = defaultSocketPath()
	}

	server := hubrpc.NewServer(h, version)
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.Serve(ctx, socketPath) }()
	logger.Info("hub.listening", "socket", socketPath)

	<-ctx.Done()
	for _, w := range watchers {
		_ = w.Stop()
	}
	_ = server.Close()
	<-serverDone
	logger.Info("shutdown.complete")
}

// startPackageWatcher wires one package's watcher -> rename detector ->
// update manager chain and starts it.
func startPackageWatcher(ctx context.Context, logger *slog.Logger, writer *seed.Writer, registry *parser.Registry, pkg hub.Package, repoID string, wc WatchConfig) (*watch.Watcher, error) {
	partition := seed.Partition{
		Dir:       filepath.Join(pkg.SeedRoot, model.BaseBranch),
		RepoID:    repoID,
		PackageID: pkg.Name,
		Branch:    model.BaseBranch,
	}
	if err := seed.EnsurePartitionDir(partition.Dir); err != nil {
		return nil, err
	}

	opts := watch.DefaultOptions()
	if wc.DebounceMs > 0 {
		opts.DebounceMs = wc.DebounceMs
	}
	if len(wc.Extensions) > 0 {
		opts.Extensions = wc.Extensions
	}
	opts.IgnorePatterns = wc.IgnorePatterns

	w, err := watch.New(pkg.Path, opts)
	if err != nil {
		return nil, err
	}

	detector := rename.NewDetector(rename.DefaultTimeout)
	mgr := updatemgr.NewManager(writer, partition, registry, logger.With("package", pkg.Name))

	w.OnEvent(func(ev watch.Event) {
		if ev.Kind == watch.EventUnlink {
			if content, err := os.ReadFile(ev.Path); err == nil {
				detector.RegisterPendingDelete(ev.Path, content)
			}
		}
	})

	w.OnBatch(func(b watch.Batch) {
		start := time.Now()
		remaining, renames := detector.Resolve(b.Events, os.ReadFile)
		batch := mgr.ProcessBatch(ctx, remaining, renames, os.ReadFile)
		batchLatency.WithLabelValues(pkg.Name).Observe(time.Since(start).Seconds())
		for _, r := range batch.Results {
			filesProcessed.WithLabelValues(pkg.Name, string(r.Status)).Inc()
		}
	})

	if err := w.Start(); err != nil {
		return nil, err
	}
	logger.Info("watch.started", "package", pkg.Name, "path", pkg.Path)
	return w, nil
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics.http.error", "err", err)
	}
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "devacd.sock")
	}
	return filepath.Join(os.TempDir(), "devacd.sock")
}

func fatal(err error) {
	if e, ok := errs.As(err); ok {
		fmt.Fprintln(os.Stderr, e.Format(false))
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
