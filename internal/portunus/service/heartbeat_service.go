package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/types"
)

var (
	ErrInvalidModuleID = errors.New("module_id is required")
)

type HeartbeatService struct {
	heartbeatStore store.HeartbeatStore
	registry       *DeviceRegistry
	doors          store.DoorStore
	logger         *logrus.Logger
}

// NewHeartbeatService wires heartbeat persistence. doors may be nil, in
// which case door status is left alone.
func NewHeartbeatService(hs store.HeartbeatStore, reg *DeviceRegistry, doors store.DoorStore, logger *logrus.Logger) *HeartbeatService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HeartbeatService{heartbeatStore: hs, registry: reg, doors: doors, logger: logger}
}

// Record stores the heartbeat and, for a commissioned module mounted on a
// door, flips that door online.
func (s *HeartbeatService) Record(ctx context.Context, req types.HeartbeatRequest) (types.HeartbeatResponse, error) {
	moduleID := strings.TrimSpace(req.ModuleID)
	if moduleID == "" {
		return types.HeartbeatResponse{}, ErrInvalidModuleID
	}

	known, err := s.registry.IsKnown(ctx, moduleID)
	if err != nil {
		return types.HeartbeatResponse{}, err
	}
	_ = s.registry.NoteSeen(ctx, moduleID, known)

	now := s.registry.now().UTC()
	rec := store.HeartbeatRecord{
		ReceivedAt: now,
		Request:    req,
	}
	if err := s.heartbeatStore.UpsertHeartbeat(ctx, moduleID, rec); err != nil {
		return types.HeartbeatResponse{}, err
	}

	var door string
	if known {
		door, err = s.registry.DoorFor(ctx, moduleID)
		if err != nil {
			return types.HeartbeatResponse{}, err
		}
		s.markOnline(ctx, moduleID, door)
	}

	return types.HeartbeatResponse{
		OK:         true,
		Known:      known,
		ModuleID:   moduleID,
		Door:       door,
		ServerTime: now.Format(time.RFC3339Nano),
	}, nil
}

func (s *HeartbeatService) markOnline(ctx context.Context, moduleID, door string) {
	if s.doors == nil || door == "" {
		return
	}
	err := s.doors.SetDoorStatus(ctx, door, engine.DoorOnline)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.WithFields(logrus.Fields{"module_id": moduleID, "door": door}).
			WithError(err).Warn("mark door online")
	}
}
