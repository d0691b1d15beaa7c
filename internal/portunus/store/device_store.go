package store

import (
	"context"
	"time"
)

type DeviceRecord struct {
	ModuleID string
	DoorName string
	Known    bool
	LastSeen time.Time
}

type DeviceStore interface {
	IsKnown(ctx context.Context, moduleID string) (bool, error)
	MarkSeen(ctx context.Context, moduleID string, known bool, t time.Time) error
	// DoorForModule returns the door a module is mounted on, or "" when the
	// module has not been assigned one.
	DoorForModule(ctx context.Context, moduleID string) (string, error)
	ListDevices(ctx context.Context) ([]DeviceRecord, error)
}
