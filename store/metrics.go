package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storeCommands = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "store_commands_total",
		Help: "Total number of store commands by outcome",
	},
	[]string{"store", "command", "status"},
)

func recordCommand(store, command string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	storeCommands.WithLabelValues(store, command, status).Inc()
}
