package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/audit"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/types"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/wiegand"
)

var (
	ErrInvalidCardID     = errors.New("card_id or bits is required")
	ErrInvalidCredential = errors.New("credential could not be decoded")
	ErrInvalidDoor       = errors.New("door is required")
	ErrInvalidTime       = errors.New("time must be RFC3339")
)

const (
	ReasonUnknownModule = "unknown_module"
	// ReasonStorageError is audited when the snapshot could not be loaded.
	// The request itself fails with the underlying error.
	ReasonStorageError = "storage_error"
)

// EventRecorder takes audit events without blocking. *audit.Recorder
// satisfies it.
type EventRecorder interface {
	Record(ev audit.Event)
}

// DecisionObserver counts decisions. *observability.Metrics satisfies it.
type DecisionObserver interface {
	ObserveDecision(reason string, granted bool)
}

type AccessOptions struct {
	// Location is the site timezone schedules are written in. Nil means UTC.
	Location *time.Location
	Policy   engine.SchedulePolicy
	// EnrollUnknownCards stores never-seen cards as inactive so an operator
	// can activate them later.
	EnrollUnknownCards bool
	// ClockSkew bounds how far a device's requested_at may drift from server
	// time and still be used as the decision instant. Zero ignores
	// requested_at for the decision.
	ClockSkew time.Duration

	Logger   *logrus.Logger
	Observer DecisionObserver
	Now      func() time.Time
}

type AccessService struct {
	registry *DeviceRegistry
	model    store.AccessModel
	recorder EventRecorder
	formats  *wiegand.Registry
	opt      AccessOptions
}

func NewAccessService(reg *DeviceRegistry, model store.AccessModel, rec EventRecorder, formats *wiegand.Registry, opt AccessOptions) *AccessService {
	if formats == nil {
		formats = wiegand.NewRegistry()
	}
	if opt.Logger == nil {
		opt.Logger = logrus.StandardLogger()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Policy == "" {
		opt.Policy = engine.CardThenDoor
	}
	return &AccessService{registry: reg, model: model, recorder: rec, formats: formats, opt: opt}
}

// credential is what the reader presented, after Wiegand decoding.
type credential struct {
	cardID   string
	facility string
	userID   string
}

// Decide answers a door module's access request. Storage failures are
// returned as errors and never turned into a grant.
func (s *AccessService) Decide(ctx context.Context, req types.AccessRequest) (types.AccessResponse, error) {
	received := s.opt.Now().UTC()

	moduleID := strings.TrimSpace(req.ModuleID)
	if moduleID == "" {
		return types.AccessResponse{}, ErrInvalidModuleID
	}
	cred, err := s.credentialFrom(req)
	if err != nil {
		return types.AccessResponse{}, err
	}

	known, err := s.registry.IsKnown(ctx, moduleID)
	if err != nil {
		return types.AccessResponse{}, err
	}
	_ = s.registry.NoteSeen(ctx, moduleID, known)

	requestedAt := parseOptionalTimestamp(req.RequestedAt)
	ev := audit.Event{
		CardID:      cred.cardID,
		ModuleID:    moduleID,
		RequestedAt: requestedAt,
		DoorClosed:  req.DoorClosed,
		RecordedAt:  received,
		IPAddress:   ipFrom(ctx),
	}
	if cred.facility != "" {
		ev.Details = "facility=" + cred.facility
	}

	if !known {
		s.finish(ev, false, ReasonUnknownModule, received)
		return types.AccessResponse{
			OK:         false,
			Known:      false,
			Granted:    false,
			Reason:     ReasonUnknownModule,
			ModuleID:   moduleID,
			ServerTime: received.Format(time.RFC3339Nano),
		}, nil
	}

	doorName, err := s.registry.DoorFor(ctx, moduleID)
	if err != nil {
		s.finish(ev, false, ReasonStorageError, s.opt.Now().UTC())
		return types.AccessResponse{}, err
	}
	ev.DoorName = doorName

	in, holidays, err := s.snapshot(ctx, cred, doorName)
	if err != nil {
		ev.UserID = cred.userID
		s.finish(ev, false, ReasonStorageError, s.opt.Now().UTC())
		return types.AccessResponse{}, err
	}
	if in.Card == nil && s.opt.EnrollUnknownCards {
		s.enroll(ctx, cred)
	}

	at := s.decisionInstant(received, requestedAt)
	in.Time = engine.Resolve(at, s.opt.Location, holidays)
	in.Policy = s.opt.Policy
	dec := engine.Decide(in)

	decided := s.opt.Now().UTC()
	if in.Card != nil {
		ev.UserID = in.Card.UserID
	} else {
		ev.UserID = cred.userID
	}
	s.finish(ev, dec.Granted, string(dec.Reason), decided)

	resp := types.AccessResponse{
		OK:         true,
		Known:      true,
		Granted:    dec.Granted,
		Reason:     string(dec.Reason),
		ModuleID:   moduleID,
		Door:       doorName,
		ServerTime: decided.Format(time.RFC3339Nano),
	}
	if dec.Granted && in.Door != nil {
		resp.UnlockMs = in.Door.UnlockDuration.Milliseconds()
	}
	return resp, nil
}

// Evaluate runs a decision for a card at a named door without recording
// anything. An empty At means now.
func (s *AccessService) Evaluate(ctx context.Context, req types.EvaluateRequest) (types.EvaluateResponse, error) {
	cardID := normalizeCardID(req.CardID)
	door := strings.TrimSpace(req.Door)
	if cardID == "" {
		return types.EvaluateResponse{}, ErrInvalidCardID
	}
	if door == "" {
		return types.EvaluateResponse{}, ErrInvalidDoor
	}

	now := s.opt.Now().UTC()
	at := now
	if strings.TrimSpace(req.At) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(req.At))
		if err != nil {
			return types.EvaluateResponse{}, fmt.Errorf("%w: %v", ErrInvalidTime, err)
		}
		at = t
	}

	in, holidays, err := s.snapshot(ctx, credential{cardID: cardID}, door)
	if err != nil {
		return types.EvaluateResponse{}, err
	}
	in.Time = engine.Resolve(at, s.opt.Location, holidays)
	in.Policy = s.opt.Policy
	dec := engine.Decide(in)

	return types.EvaluateResponse{
		Granted:    dec.Granted,
		Reason:     string(dec.Reason),
		Door:       door,
		CardID:     cardID,
		Weekday:    in.Time.Weekday.String(),
		LocalTime:  in.Time.TimeOfDay.String(),
		IsHoliday:  in.Time.IsHoliday,
		ServerTime: now.Format(time.RFC3339Nano),
	}, nil
}

func (s *AccessService) credentialFrom(req types.AccessRequest) (credential, error) {
	if bits := strings.TrimSpace(req.Bits); bits != "" {
		c, err := s.formats.Decode(bits)
		if err != nil {
			return credential{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
		}
		return credential{cardID: c.CardID, facility: c.Facility, userID: c.UserID}, nil
	}
	cardID := normalizeCardID(req.CardID)
	if cardID == "" {
		return credential{}, ErrInvalidCardID
	}
	return credential{cardID: cardID}, nil
}

// snapshot loads everything Decide needs. The card and door are fetched
// first; their group, schedules and the holiday calendar follow in
// parallel. Missing records become nil; any other error aborts.
func (s *AccessService) snapshot(ctx context.Context, cred credential, doorName string) (engine.Input, []engine.Holiday, error) {
	var (
		in       engine.Input
		holidays []engine.Holiday
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.lookupCard(gctx, cred)
		in.Card = c
		return err
	})
	g.Go(func() error {
		if doorName == "" {
			return nil
		}
		d, err := found(s.model.DoorByName(gctx, doorName))
		in.Door = d
		return err
	})
	g.Go(func() error {
		var err error
		holidays, err = s.model.ListHolidays(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return engine.Input{}, nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	if in.Card != nil && in.Card.GroupID != nil {
		id := *in.Card.GroupID
		g.Go(func() error {
			grp, err := found(s.model.GroupByID(gctx, id))
			in.Group = grp
			return err
		})
	}
	if in.Card != nil && in.Card.ScheduleID != nil {
		id := *in.Card.ScheduleID
		g.Go(func() error {
			sch, err := found(s.model.ScheduleByID(gctx, id))
			in.CardSchedule = sch
			return err
		})
	}
	if in.Door != nil && in.Door.ScheduleID != nil {
		id := *in.Door.ScheduleID
		g.Go(func() error {
			sch, err := found(s.model.ScheduleByID(gctx, id))
			in.DoorSchedule = sch
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return engine.Input{}, nil, err
	}
	return in, holidays, nil
}

// lookupCard tries the card id first, then the facility and user id pair a
// reader may report for a card enrolled under a different id width.
func (s *AccessService) lookupCard(ctx context.Context, cred credential) (*engine.Card, error) {
	c, err := found(s.model.CardByID(ctx, cred.cardID))
	if err != nil || c != nil || cred.userID == "" {
		return c, err
	}
	return found(s.model.CardByCredential(ctx, cred.facility, cred.userID))
}

func (s *AccessService) enroll(ctx context.Context, cred credential) {
	userID := cred.userID
	if userID == "" {
		userID = cred.cardID
	}
	err := s.model.EnrollInactive(ctx, engine.Card{CardID: cred.cardID, UserID: userID, Facility: cred.facility})
	if err != nil {
		s.opt.Logger.WithField("user_id", userID).WithError(err).Warn("enroll unknown card")
		return
	}
	s.opt.Logger.WithField("user_id", userID).Info("enrolled unknown card as inactive")
}

// decisionInstant uses the device timestamp when it is close enough to the
// server clock, so a request queued briefly on the device is judged at the
// moment the card was presented.
func (s *AccessService) decisionInstant(received time.Time, requested *time.Time) time.Time {
	if requested == nil || s.opt.ClockSkew <= 0 {
		return received
	}
	d := received.Sub(*requested)
	if d < 0 {
		d = -d
	}
	if d > s.opt.ClockSkew {
		return received
	}
	return *requested
}

func (s *AccessService) finish(ev audit.Event, granted bool, reason string, decided time.Time) {
	ev.Granted = granted
	ev.Reason = reason
	ev.OccurredAt = decided
	if s.recorder != nil {
		s.recorder.Record(ev)
	}
	if s.opt.Observer != nil {
		s.opt.Observer.ObserveDecision(reason, granted)
	}
	s.opt.Logger.WithFields(logrus.Fields{
		"module_id": ev.ModuleID,
		"door":      ev.DoorName,
		"user_id":   ev.UserID,
		"granted":   granted,
		"reason":    reason,
	}).Debug("access decision")
}

// found turns store.ErrNotFound into a nil result.
func found[T any](v T, err error) (*T, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func normalizeCardID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseOptionalTimestamp returns nil for an empty or unparseable
// device-reported timestamp.
func parseOptionalTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		u := t.UTC()
		return &u
	}
	return nil
}

type ipKey struct{}

// WithClientIP attaches the caller's address for the audit trail.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func ipFrom(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}
