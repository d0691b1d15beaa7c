package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pruner deletes rows older than a cutoff and reports how many went.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneObserver counts pruned rows. *observability.Metrics satisfies it.
type PruneObserver interface {
	Pruned(table string, rows int64)
}

// PruneTarget is one table kept for Retention. A zero Retention keeps
// everything.
type PruneTarget struct {
	Name      string
	Store     Pruner
	Retention time.Duration
}

// RetentionPruner periodically trims heartbeat and access-event history.
// It runs as a background goroutine stopped via its context or Stop.
type RetentionPruner struct {
	targets  []PruneTarget
	interval time.Duration
	logger   *logrus.Logger
	observer PruneObserver
	now      func() time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewRetentionPruner creates a pruner but does not start it. Targets with
// no retention are skipped. interval defaults to 6h.
func NewRetentionPruner(targets []PruneTarget, interval time.Duration, logger *logrus.Logger, obs PruneObserver) *RetentionPruner {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	active := make([]PruneTarget, 0, len(targets))
	for _, t := range targets {
		if t.Retention > 0 && t.Store != nil {
			active = append(active, t)
		}
	}
	return &RetentionPruner{
		targets:  active,
		interval: interval,
		logger:   logger,
		observer: obs,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start prunes once immediately, then on every interval, until ctx ends or
// Stop is called.
func (p *RetentionPruner) Start(ctx context.Context) {
	if len(p.targets) == 0 {
		p.logger.Info("retention pruner disabled (no retention configured)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	for _, t := range p.targets {
		p.logger.WithFields(logrus.Fields{
			"table":     t.Name,
			"retention": t.Retention.String(),
			"interval":  p.interval.String(),
		}).Info("retention pruner started")
	}
}

// Stop signals the pruner to exit and waits for it. Safe to call twice.
func (p *RetentionPruner) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	<-p.done
}

func (p *RetentionPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.PruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce runs every target once. Failures are logged and do not stop the
// other targets.
func (p *RetentionPruner) PruneOnce(ctx context.Context) {
	now := p.now().UTC()
	for _, t := range p.targets {
		cutoff := now.Add(-t.Retention)
		deleted, err := t.Store.PruneOlderThan(ctx, cutoff)
		log := p.logger.WithField("table", t.Name)
		if err != nil {
			log.WithError(err).Error("prune failed")
			continue
		}
		if p.observer != nil {
			p.observer.Pruned(t.Name, deleted)
		}
		if deleted > 0 {
			log.WithFields(logrus.Fields{
				"deleted": deleted,
				"cutoff":  cutoff.Format(time.RFC3339),
			}).Info("pruned old rows")
		}
	}
}
