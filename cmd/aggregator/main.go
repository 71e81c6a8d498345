// Command aggregator runs a standalone multishot aggregator service.
//
// The aggregator owns the shared model for one regression run: it seeds the
// coefficients, collects per-site gradient results, and advances the model
// until convergence or the iteration cap. Raw participant data never
// reaches it.
//
// # Usage
//
//	go run ./cmd/aggregator --config=run.yaml
//	go run ./cmd/aggregator --config=run.yaml --addr=:8090 --log-level=debug
//
// Round history is persisted to PostgreSQL when the config carries a
// postgres section, and kept in memory otherwise.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MRN-Code/multishot/cmd/common"
	"github.com/MRN-Code/multishot/services"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
		logLevel   = flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	)
	flag.Parse()

	log := common.NewLogger("multishot", *logLevel)

	if *configPath == "" {
		fmt.Println("Error: --config is required")
		os.Exit(1)
	}
	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		log.Error("loading config", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	store, err := common.NewStore(cfg, log)
	if err != nil {
		log.Error("opening store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	agg, err := services.NewAggregator(&cfg.Run, store, log)
	if err != nil {
		log.Error("creating aggregator", "err", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	services.NewHTTPAggregator(agg).RegisterRoutes(r)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("aggregator listening", "addr", cfg.HTTPAddr, "run_id", agg.RunID())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	log.Info("shutting down aggregator")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
}
