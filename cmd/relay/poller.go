package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/batchstore"
	"github.com/germanamz/relay/pkg/engine"
	"github.com/germanamz/relay/pkg/modeladapter"
)

// batchPoller polls pending batches in the background. Batches whose
// providers need request credentials stay pending until a client polls them.
type batchPoller struct {
	logger *slog.Logger
	eng    *engine.Engine
	store  *batchstore.Store

	// unsupported holds batches whose provider cannot poll. They are never
	// polled again by this process.
	unsupported map[uuid.UUID]struct{}
}

func newBatchPoller(logger *slog.Logger, eng *engine.Engine, store *batchstore.Store) *batchPoller {
	return &batchPoller{
		logger:      logger,
		eng:         eng,
		store:       store,
		unsupported: make(map[uuid.UUID]struct{}),
	}
}

// run polls once per interval until ctx is done.
func (p *batchPoller) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *batchPoller) tick(ctx context.Context) {
	ids, err := p.store.Pending(ctx)
	if err != nil {
		p.logger.Warn("list pending batches", "error", err)
		return
	}

	for _, id := range ids {
		if _, skip := p.unsupported[id]; skip {
			continue
		}

		_, err := p.eng.PollBatch(ctx, id, nil)

		var unsupported *modeladapter.UnsupportedError
		switch {
		case errors.As(err, &unsupported):
			p.logger.Info("batch cannot be polled", "batch_id", id, "error", err)
			p.unsupported[id] = struct{}{}
		case err != nil:
			p.logger.Debug("poll batch", "batch_id", id, "error", err)
		}
	}
}
