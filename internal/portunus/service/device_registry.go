package service

import (
	"context"
	"strings"
	"time"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
)

type DeviceRegistry struct {
	store store.DeviceStore
	now   func() time.Time
}

func NewDeviceRegistry(st store.DeviceStore) *DeviceRegistry {
	return &DeviceRegistry{store: st, now: time.Now}
}

func (r *DeviceRegistry) IsKnown(ctx context.Context, moduleID string) (bool, error) {
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return false, nil
	}
	return r.store.IsKnown(ctx, moduleID)
}

func (r *DeviceRegistry) NoteSeen(ctx context.Context, moduleID string, known bool) error {
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return nil
	}
	return r.store.MarkSeen(ctx, moduleID, known, r.now().UTC())
}

// DoorFor returns the door the module is mounted on, "" when unassigned.
func (r *DeviceRegistry) DoorFor(ctx context.Context, moduleID string) (string, error) {
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return "", nil
	}
	return r.store.DoorForModule(ctx, moduleID)
}

func (r *DeviceRegistry) Devices(ctx context.Context) ([]store.DeviceRecord, error) {
	return r.store.ListDevices(ctx)
}
