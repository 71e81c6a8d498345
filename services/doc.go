// Package services wraps the multishot protocol core with HTTP service
// shells and an in-process deployment orchestrator.
//
// # Components
//
// Aggregator owns the remote half of the protocol for one run: it collects
// site results, advances protocol.RemoteStep once a full synchronized set is
// in hand, and persists every accepted round to a RunStore. HTTPAggregator
// exposes it over chi routes:
//
//	POST /results        submit one site's LocalResult
//	GET  /model          current coefficient vector and iteration
//	GET  /status         run status, objective and r2
//	GET  /history        accepted-round snapshots
//
// Site owns the local half: it holds one participant's predictor/response
// matrices and computes protocol.LocalStep against each model broadcast,
// resubmitting its cached fit when the model has not moved. HTTPSite
// exposes:
//
//	POST /model          receive a model broadcast, return the round result
//	GET  /health         liveness
//
// # Orchestration
//
// Orchestrator deploys one aggregator and N sites as in-process HTTP
// servers and drives rounds between them until the run converges or
// exhausts its iteration cap. It is the reference implementation of the
// external scheduling runtime: the protocol core itself never retries,
// times out, or transports anything.
//
// # Persistence
//
// RunStore persists accepted-round history keyed by run ID, with a
// PostgreSQL implementation for deployments and an in-memory one for tests
// and the demo.
package services
