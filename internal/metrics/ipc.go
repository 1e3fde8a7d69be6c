package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IPCClients tracks currently connected IPC clients.
	IPCClients = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "clients",
			Help:      "Number of connected IPC clients",
		},
	)

	// IPCCommandsTotal counts commands by name and outcome.
	IPCCommandsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "commands_total",
			Help:      "IPC commands processed by name and outcome",
		},
		[]string{"command", "outcome"}, // outcome: ok, error
	)

	// IPCMailboxDrops counts events dropped due to a full client mailbox.
	IPCMailboxDrops = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "mailbox_drops_total",
			Help:      "Live events dropped because a client's mailbox was full",
		},
	)

	// IPCBufferSize tracks the receive buffer's current entry count.
	IPCBufferSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "buffer_size",
			Help:      "Current number of entries retained in the receive buffer",
		},
	)
)
