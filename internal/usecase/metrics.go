package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics updated by the agent loop and served at /metrics by
// the status server.
var (
	mtxTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_ticks_total",
		Help: "Loop iterations executed",
	})

	mtxEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_entries_total",
		Help: "Positions opened, by side",
	}, []string{"side"})

	mtxExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_exits_total",
		Help: "Positions closed, by detected outcome",
	}, []string{"outcome"}) // stop|profit|forced

	mtxGateBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_volatility_blocks_total",
		Help: "Iterations withheld by the volatility gate",
	})

	mtxTransientErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_transient_errors_total",
		Help: "Transient exchange errors absorbed by the loop",
	})

	mtxPartialProtection = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_partial_protection_total",
		Help: "Entries whose protective orders were incomplete",
	})
)
