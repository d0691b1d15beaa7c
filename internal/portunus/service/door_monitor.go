package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
)

// DoorStatusMonitor marks a door offline once none of its commissioned
// modules has been heard from within StaleAfter.
type DoorStatusMonitor struct {
	registry   *DeviceRegistry
	doors      store.DoorStore
	staleAfter time.Duration
	interval   time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewDoorStatusMonitor(reg *DeviceRegistry, doors store.DoorStore, staleAfter, interval time.Duration, logger *logrus.Logger) *DoorStatusMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DoorStatusMonitor{
		registry:   reg,
		doors:      doors,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

func (m *DoorStatusMonitor) Start(ctx context.Context) {
	if m.staleAfter <= 0 {
		m.logger.Info("door status monitor disabled (stale_after=0)")
		close(m.done)
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
					m.logger.WithError(err).Warn("door status sweep")
				}
			}
		}
	}()
}

func (m *DoorStatusMonitor) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
	})
	<-m.done
}

// Sweep checks every door that has a commissioned module and marks the
// silent ones offline.
func (m *DoorStatusMonitor) Sweep(ctx context.Context) error {
	devices, err := m.registry.Devices(ctx)
	if err != nil {
		return err
	}

	cutoff := m.now().UTC().Add(-m.staleAfter)
	alive := make(map[string]bool)
	for _, d := range devices {
		if !d.Known || d.DoorName == "" {
			continue
		}
		if d.LastSeen.After(cutoff) {
			alive[d.DoorName] = true
		} else if _, ok := alive[d.DoorName]; !ok {
			alive[d.DoorName] = false
		}
	}

	for door, up := range alive {
		if up {
			continue
		}
		cur, err := m.doors.DoorByName(ctx, door)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if cur.Status == engine.DoorOffline {
			continue
		}
		if err := m.doors.SetDoorStatus(ctx, door, engine.DoorOffline); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		m.logger.WithField("door", door).Warn("door offline: no recent heartbeat")
	}
	return nil
}
