// Package http exposes the validation engine to a local reader frontend: a
// validate endpoint driving one engine per unlock attempt, a status endpoint
// reporting the service-level license state and the most recent validation
// outcome, a liveness probe, and the websocket upgrade pushing terminal
// validation events.
package http
