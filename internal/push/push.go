// Package push delivers "schedule changed" signals to the engine from
// outside sources: Redis pub/sub, cron expressions and HTTP.
package push

import (
	"context"
	"errors"
	"sync"

	appLog "muezzin/internal/log"
	"muezzin/internal/metrics"
)

// Invalidator receives invalidation signals. *engine.Engine satisfies it.
type Invalidator interface {
	Invalidate(reason string)
}

// Source emits invalidations by calling notify until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, notify func(reason string)) error
}

// Hub fans every source into one Invalidator.
type Hub struct {
	target  Invalidator
	sources []Source
}

func NewHub(target Invalidator, sources ...Source) *Hub {
	return &Hub{target: target, sources: sources}
}

// Notify forwards one invalidation from source.
func (h *Hub) Notify(source, reason string) {
	metrics.ObservePush(source)
	if reason == "" {
		reason = source
	} else {
		reason = source + ": " + reason
	}
	h.target.Invalidate(reason)
}

// Run starts every source and blocks until ctx is cancelled and all of
// them have returned. A failing source is logged; the rest keep running.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range h.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			name := src.Name()
			appLog.Info("push source started", "source", name)
			err := src.Run(ctx, func(reason string) { h.Notify(name, reason) })
			if err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("push source stopped", err, "source", name)
				return
			}
			appLog.Info("push source stopped", "source", name)
		}(src)
	}
	wg.Wait()
}
