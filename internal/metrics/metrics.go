// Package metrics exposes Prometheus collectors for the daemon's peer
// table, transport, replay cache, and IPC server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "axon"

// Registry is the collector registry every metric in this package is
// registered against, and the one /metrics serves.
var Registry = prometheus.NewRegistry()
