// Package processor runs the anchor loop: accepted mesh pulses are
// committed into the header chain, one block per pulse epoch.
package processor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luckyjupiter/chronomancy/chain"
	"github.com/luckyjupiter/chronomancy/mesh"
	"github.com/luckyjupiter/chronomancy/store"
)

type Processor struct {
	mesh     *mesh.Mixer
	chain    *chain.Chain
	ps       *store.PebbleStore
	interval time.Duration
	logger   *zap.Logger
}

func NewProcessor(meshMixer *mesh.Mixer, headerChain *chain.Chain, ps *store.PebbleStore, interval time.Duration, logger *zap.Logger) *Processor {
	return &Processor{
		mesh:     meshMixer,
		chain:    headerChain,
		ps:       ps,
		interval: interval,
		logger:   logger,
	}
}

// Start anchors pending pulses on every interval until the context is
// cancelled. A failing pass is logged and retried on the next tick; pulses
// are never skipped, because the cursor only advances after a successful
// append.
func (p *Processor) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.AnchorPending(ctx); err != nil {
				p.logger.Error("anchoring pass failed", zap.Error(err))
			}
		}
	}
}

// AnchorPending commits every pulse newer than the anchor cursor, in epoch
// order, and advances the cursor after each committed block.
func (p *Processor) AnchorPending(ctx context.Context) error {
	cursor := int64(-1)
	epoch, err := p.ps.GetLastAnchoredEpoch(ctx)
	switch {
	case err == nil:
		cursor = int64(epoch)
	case errors.Is(err, store.ErrNotFound):
		// Nothing anchored yet.
	default:
		return errors.Wrap(err, "getting anchor cursor")
	}

	pulses, err := p.mesh.PendingAfter(ctx, cursor)
	if err != nil {
		return errors.Wrap(err, "listing pending pulses")
	}

	for _, pulse := range pulses {
		block, err := p.chain.Append(ctx, pulse.MerkleRoot)
		if err != nil {
			return errors.Wrapf(err, "anchoring pulse for epoch %d", pulse.Epoch)
		}

		if err := p.ps.SetLastAnchoredEpoch(ctx, pulse.Epoch); err != nil {
			return errors.Wrap(err, "advancing anchor cursor")
		}

		p.logger.Info("pulse anchored",
			zap.Uint64("epoch", pulse.Epoch),
			zap.Uint64("height", block.Height),
			zap.String("hash", block.Hash),
			zap.Int("walk", block.Walk),
		)
	}

	return nil
}
