package pipeline

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"

	"github.com/systemshift/bioref/internal/config"
	"github.com/systemshift/bioref/internal/fetch"
	"github.com/systemshift/bioref/internal/logger"
	"github.com/systemshift/bioref/internal/metrics"
	"github.com/systemshift/bioref/internal/server/graph"
)

// Open connects the configured graph store and builds a Runner around it.
// The returned close function releases the store.
func Open(ctx context.Context, cfg config.Config, m *metrics.Collector, log *logger.Logger) (*Runner, func(context.Context) error, error) {
	store, err := graph.Open(ctx, cfg.GraphStore())
	if err != nil {
		return nil, nil, fmt.Errorf("opening graph store: %w", err)
	}

	if n, ok := store.(*graph.Neo4jStore); ok {
		if err := n.EnsureIndexes(ctx, cfg.Collections.EquivalenceNodes, cfg.Collections.OrthologNodes); err != nil {
			store.Close(ctx)
			return nil, nil, fmt.Errorf("creating indexes: %w", err)
		}
	}
	log.Info("graph store ready", "backend", cfg.Graph.Backend, "species_filter", cfg.SpeciesSet().Len())

	fetcher := fetch.New(log, fetch.WithLimiter(Limiter(cfg.FetchRate)))
	return NewRunner(cfg, fetcher, store, m, log), store.Close, nil
}

// Limiter allows perSecond connection attempts per second with a burst of
// one. A non-positive rate disables limiting.
func Limiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 || math.IsInf(perSecond, 1) {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}
