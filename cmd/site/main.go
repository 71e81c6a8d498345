// Command site runs a standalone multishot site service wrapping one
// participant's private data.
//
// The site holds its predictor and response matrices locally and computes
// regression gradients against each model broadcast. Only gradients,
// objectives and r-squared values ever leave the process.
//
// # Usage
//
// Polling mode, where the site drives its own rounds against an aggregator:
//
//	go run ./cmd/site --config=run.yaml --site-id=site-1 \
//	    --predictors=site1_x.npy --responses=site1_y.npy \
//	    --aggregator=http://localhost:8090
//
// Serve-only mode, where an external scheduler posts model broadcasts:
//
//	go run ./cmd/site --config=run.yaml --site-id=site-1 \
//	    --predictors=site1_x.npy --responses=site1_y.npy --addr=:8091
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/MRN-Code/multishot/cmd/common"
	"github.com/MRN-Code/multishot/services"
)

func main() {
	var (
		configPath     = flag.String("config", "", "Path to YAML config file")
		siteID         = flag.String("site-id", "", "Unique site identifier")
		predictorsPath = flag.String("predictors", "", "Path to predictors .npy matrix")
		responsesPath  = flag.String("responses", "", "Path to responses .npy matrix")
		aggregatorURL  = flag.String("aggregator", "", "Aggregator base URL (enables polling mode)")
		pollInterval   = flag.Duration("poll-interval", 2*time.Second, "Delay between polls in polling mode")
		addr           = flag.String("addr", "", "HTTP listen address (overrides config)")
		logLevel       = flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	)
	flag.Parse()

	log := common.NewLogger("multishot", *logLevel)

	if *configPath == "" || *siteID == "" || *predictorsPath == "" || *responsesPath == "" {
		fmt.Println("Error: --config, --site-id, --predictors and --responses are required")
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

	predictors, err := common.LoadMatrix(*predictorsPath)
	if err != nil {
		log.Error("loading predictors", "err", err)
		os.Exit(1)
	}
	responses, err := common.LoadMatrix(*responsesPath)
	if err != nil {
		log.Error("loading responses", "err", err)
		os.Exit(1)
	}

	site, err := services.NewSite(*siteID, &cfg.Run, predictors, responses, log)
	if err != nil {
		log.Error("creating site", "err", err)
		os.Exit(1)
	}
	log.Info("site data loaded", "site", *siteID, "subjects", len(predictors), "rois", len(cfg.Run.ROIs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if *aggregatorURL != "" {
		if err := pollRounds(ctx, site, *aggregatorURL, *pollInterval, log); err != nil && err != context.Canceled {
			log.Error("polling aggregator", "err", err)
			os.Exit(1)
		}
		return
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	services.NewHTTPSite(site).RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("site listening", "site", *siteID, "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	log.Info("shutting down site")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
}

// pollRounds drives the site's half of the run against a remote aggregator:
// fetch the current model, compute, submit, repeat until the run finishes.
func pollRounds(ctx context.Context, site *services.Site, aggregatorURL string, interval time.Duration, log hclog.Logger) error {
	client := &http.Client{Timeout: 30 * time.Second}

	for {
		var model services.ModelResponse
		if err := getJSON(ctx, client, aggregatorURL+"/model", &model); err != nil {
			log.Warn("fetching model", "err", err)
		} else {
			if model.Complete {
				log.Info("run finished", "iteration", model.Iteration)
				return nil
			}

			result, err := site.ComputeRound(model.MVals)
			if err != nil {
				log.Error("computing round", "err", err)
				return err
			}
			if result != nil {
				var resp services.SubmitResultResponse
				err := postJSON(ctx, client, aggregatorURL+"/results", &services.SubmitResultRequest{
					SiteID: site.ID(),
					Result: result,
				}, &resp)
				if err != nil {
					log.Warn("submitting result", "err", err)
				} else {
					log.Info("result submitted", "iteration", resp.Iteration, "status", resp.Status)
					if resp.Complete {
						log.Info("run finished", "iteration", resp.Iteration, "status", resp.Status)
						return nil
					}
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
