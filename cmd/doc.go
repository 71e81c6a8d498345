// Package cmd provides CLI commands for the multishot regression services.
//
// # Commands
//
// aggregator: Runs a standalone aggregator service for one regression run.
// Seeds the shared model, collects site results, and advances the model
// until convergence or the iteration cap.
//
//	go run ./cmd/aggregator --config=run.yaml --addr=:8090
//	go run ./cmd/aggregator --config=run.yaml --postgres-host=localhost
//
// site: Runs a standalone site service wrapping one participant's private
// data. With --aggregator it polls the aggregator for model broadcasts and
// submits results until the run finishes; without it, the site only serves
// and an external scheduler drives the rounds.
//
//	go run ./cmd/site --config=run.yaml --site-id=site-1 \
//	    --predictors=site1_x.npy --responses=site1_y.npy \
//	    --aggregator=http://localhost:8090
//
// demo: Runs a complete multi-site regression in-process against synthetic
// data with known ground-truth coefficients, printing per-round progress
// and the recovered fit.
//
//	go run ./cmd/demo --sites=3 --subjects=200
//
// # Configuration
//
// All commands accept a YAML run configuration via --config; command-line
// flags override file values. The run section must be identical across the
// aggregator and every site:
//
//	http_addr: ":8090"
//	run:
//	  rois:
//	    - {key: "left-hippocampus", min: 0, max: 12000}
//	    - {key: "right-hippocampus", min: 0, max: 12000}
//	  expected_sites: 2
//	  initial_learning_rate: 0.01
//	  tolerance: 0.001
//	  max_iterations: 500
//	  lambda: 0.0
//	postgres:
//	  host: "localhost"
//	  port: 5432
//	  user: "multishot"
//	  password: "secret"
//	  database: "multishot"
//
// Site data files are NumPy .npy matrices: predictors with one column per
// ROI in config order, responses with a single column.
package cmd
