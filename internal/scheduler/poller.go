package scheduler

import (
	"context"
	"time"

	"coachflow/internal/logger"
	"coachflow/pkg/metrics"
)

const requeueTimeout = 5 * time.Second

// Publisher releases a due action to the scheduled-actions destination.
type Publisher interface {
	PublishScheduled(ctx context.Context, entry Entry) error
}

type Poller struct {
	store     Store
	publisher Publisher
	logger    logger.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewPoller(store Store, publisher Publisher, log logger.Logger, interval time.Duration, batchSize int) *Poller {
	return &Poller{
		store:     store,
		publisher: publisher,
		logger:    log,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Infow("Scheduler poller started",
		"interval", p.interval,
		"batch_size", p.batchSize,
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Scheduler poller stopped")
			return nil
		case <-ticker.C:
			if _, err := p.Release(ctx); err != nil && ctx.Err() == nil {
				p.logger.Errorw("Failed to release scheduled actions", "error", err)
			}
		}
	}
}

// Release publishes every entry that is due now and returns how many were
// published. Entries that fail to publish go back to the store.
func (p *Poller) Release(ctx context.Context) (int, error) {
	released := 0
	for {
		entries, err := p.store.Claim(ctx, p.now(), p.batchSize)
		if err != nil {
			p.requeue(ctx, entries)
			return released, err
		}

		for i, entry := range entries {
			if err := p.publisher.PublishScheduled(ctx, entry); err != nil {
				metrics.IncSchedulerReleased("failed")
				p.logger.Warnw("Failed to publish scheduled action, requeueing",
					"error", err,
					"action_type", entry.ActionType,
					"entry_id", entry.ID,
				)
				p.requeue(ctx, entries[i:])
				p.updatePending(ctx)
				return released, err
			}
			metrics.IncSchedulerReleased("published")
			released++
		}

		if len(entries) < p.batchSize {
			p.updatePending(ctx)
			return released, nil
		}
	}
}

// requeue puts claimed entries back. It outlives ctx so a shutdown in the
// middle of a batch does not lose them.
func (p *Poller) requeue(ctx context.Context, entries []Entry) {
	if len(entries) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()

	for _, entry := range entries {
		if err := p.store.Requeue(rctx, entry); err != nil {
			metrics.IncSchedulerReleased("lost")
			p.logger.Errorw("Failed to requeue scheduled action",
				"error", err,
				"entry_id", entry.ID,
				"action_type", entry.ActionType,
			)
		}
	}
}

func (p *Poller) updatePending(ctx context.Context) {
	size, err := p.store.Size(ctx)
	if err != nil {
		return
	}
	metrics.SetSchedulerPending(size)
}
