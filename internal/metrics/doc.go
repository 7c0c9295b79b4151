// Package metrics exposes Prometheus collectors for transport calls,
// conformance phases and runs. Metrics implements both transport.Observer
// and pipeline.Observer, so one value is wired into the transport and the
// harness.
package metrics
