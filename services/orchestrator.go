package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/MRN-Code/multishot/protocol"
)

// OrchestratorConfig contains deployment configuration.
type OrchestratorConfig struct {
	RunConfig *protocol.RunConfig

	// SiteData holds one participant's matrices per expected site, keyed
	// by site ID.
	SiteData map[string]SiteData

	BasePort      int           // Starting port for services
	RoundInterval time.Duration // Pause between scheduling rounds
}

// SiteData is one participant's private matrices.
type SiteData struct {
	Predictors [][]float64
	Responses  [][]float64
}

// DeployedService represents a running service instance.
type DeployedService struct {
	ServiceID   string
	ServiceType ServiceType
	HTTPAddr    string
	HTTPServer  *http.Server
}

// Orchestrator deploys one aggregator plus N sites as in-process HTTP
// services and schedules rounds between them. It is the external scheduling
// runtime the protocol core relies on: it retries waiting rounds and stops
// on a terminal state, while the services themselves stay request/response.
type Orchestrator struct {
	config *OrchestratorConfig
	log    hclog.Logger

	aggregator *DeployedService
	sites      []*DeployedService
	httpClient *http.Client
}

// NewOrchestrator creates a deployment orchestrator.
func NewOrchestrator(config *OrchestratorConfig, log hclog.Logger) (*Orchestrator, error) {
	if err := config.RunConfig.Validate(); err != nil {
		return nil, err
	}
	if len(config.SiteData) != config.RunConfig.ExpectedSites {
		return nil, fmt.Errorf("have data for %d sites, expected %d",
			len(config.SiteData), config.RunConfig.ExpectedSites)
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Orchestrator{
		config:     config,
		log:        log.Named("orchestrator"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Deploy starts the aggregator and site services.
func (o *Orchestrator) Deploy(store RunStore) error {
	port := o.config.BasePort

	agg, err := NewAggregator(o.config.RunConfig, store, o.log)
	if err != nil {
		return fmt.Errorf("deploy aggregator: %w", err)
	}
	o.aggregator = o.deployService("aggregator", AggregatorService, port, func(r chi.Router) {
		NewHTTPAggregator(agg).RegisterRoutes(r)
	})
	port++

	for siteID, data := range o.config.SiteData {
		site, err := NewSite(siteID, o.config.RunConfig, data.Predictors, data.Responses, o.log)
		if err != nil {
			return fmt.Errorf("deploy site %s: %w", siteID, err)
		}
		o.sites = append(o.sites, o.deployService(siteID, SiteService, port, func(r chi.Router) {
			NewHTTPSite(site).RegisterRoutes(r)
		}))
		port++
	}

	o.log.Info("deployment complete", "sites", len(o.sites), "base_port", o.config.BasePort)
	return nil
}

// deployService creates and starts a single service instance.
func (o *Orchestrator) deployService(serviceID string, serviceType ServiceType, port int, register func(chi.Router)) *DeployedService {
	addr := fmt.Sprintf("localhost:%d", port)

	r := chi.NewRouter()
	register(r)

	service := &DeployedService{
		ServiceID:   serviceID,
		ServiceType: serviceType,
		HTTPAddr:    fmt.Sprintf("http://%s", addr),
		HTTPServer:  &http.Server{Addr: addr, Handler: r},
	}

	go func() {
		o.log.Info("starting service", "type", serviceType, "id", serviceID, "addr", addr)
		if err := service.HTTPServer.ListenAndServe(); err != http.ErrServerClosed {
			o.log.Error("service stopped", "id", serviceID, "err", err)
		}
	}()

	return service
}

// Run schedules rounds until the run reaches a terminal state or the
// context is cancelled. It returns the final run status.
func (o *Orchestrator) Run(ctx context.Context) (*StatusResponse, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		status, err := o.fetchStatus()
		if err != nil {
			return nil, err
		}
		if status.Complete {
			o.log.Info("run finished",
				"status", status.Status,
				"iterations", status.Iteration,
				"objective", status.Objective,
				"r2", status.R2)
			return status, nil
		}

		if err := o.scheduleRound(ctx); err != nil {
			return nil, err
		}

		if o.config.RoundInterval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.config.RoundInterval):
			}
		}
	}
}

// scheduleRound broadcasts the current model to every site and forwards
// their results to the aggregator.
func (o *Orchestrator) scheduleRound(ctx context.Context) error {
	var model ModelResponse
	if err := o.getJSON(ctx, o.aggregator.HTTPAddr+"/model", &model); err != nil {
		return fmt.Errorf("fetch model: %w", err)
	}

	for _, site := range o.sites {
		var computed ComputeResponse
		err := o.postJSON(ctx, site.HTTPAddr+"/model", &ComputeRequest{
			MVals:     model.MVals,
			Iteration: model.Iteration,
		}, &computed)
		if err != nil {
			// This site's round failed; the next scheduling pass resubmits.
			o.log.Warn("site round failed", "site", site.ServiceID, "err", err)
			continue
		}
		if !computed.Computed {
			continue
		}

		var submitted SubmitResultResponse
		err = o.postJSON(ctx, o.aggregator.HTTPAddr+"/results", &SubmitResultRequest{
			SiteID: site.ServiceID,
			Result: computed.Result,
		}, &submitted)
		if err != nil {
			o.log.Warn("result submission failed", "site", site.ServiceID, "err", err)
			continue
		}
		if submitted.Complete {
			break
		}
	}

	return nil
}

// Shutdown stops all services.
func (o *Orchestrator) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, svc := range append([]*DeployedService{o.aggregator}, o.sites...) {
		if svc == nil {
			continue
		}
		if err := svc.HTTPServer.Shutdown(ctx); err != nil {
			o.log.Error("shutting down service", "id", svc.ServiceID, "err", err)
		}
	}

	return nil
}

// Model fetches the aggregator's current coefficient vector.
func (o *Orchestrator) Model(ctx context.Context) (*ModelResponse, error) {
	var model ModelResponse
	if err := o.getJSON(ctx, o.aggregator.HTTPAddr+"/model", &model); err != nil {
		return nil, err
	}
	return &model, nil
}

func (o *Orchestrator) fetchStatus() (*StatusResponse, error) {
	var status StatusResponse
	if err := o.getJSON(context.Background(), o.aggregator.HTTPAddr+"/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// getJSON fetches and decodes a JSON GET response.
func (o *Orchestrator) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := o.httpClient.Do(req)
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

// postJSON sends a JSON POST request and decodes the response.
func (o *Orchestrator) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
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
