package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sjperalta/fintera-sign-api/internal/chainlock"
	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/jobs"
	"github.com/sjperalta/fintera-sign-api/internal/ledger"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/sjperalta/fintera-sign-api/internal/telemetry"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

// AsyncRunner runs fire-and-forget jobs
type AsyncRunner interface {
	EnqueueAsync(job jobs.Job)
}

// GeoLookup resolves an IP address to an approximate location
type GeoLookup interface {
	Lookup(ip string) *models.GeoLocation
}

// EventObserver is notified after an event was appended to the ledger
type EventObserver interface {
	EventAppended(ctx context.Context, e *models.AuditEvent)
}

// EventInput describes one event to append. The event type is taken from Metadata.
type EventInput struct {
	SignRequestID string
	ContractID    string
	Actor         geoip.Actor
	Metadata      models.EventMetadata
	At            time.Time
}

type heldChainKey struct{}

// EventLogger appends hash-linked events to the audit ledger. Appends to
// one chain are serialized by the chain locker and, in the store, by a
// transaction scoped advisory lock.
type EventLogger struct {
	repo      repository.AuditEventRepository
	locker    chainlock.Locker
	geo       GeoLookup
	runner    AsyncRunner
	observers []EventObserver
	now       func() time.Time
}

// NewEventLogger creates an event logger
func NewEventLogger(repo repository.AuditEventRepository, locker chainlock.Locker, geo GeoLookup, runner AsyncRunner) *EventLogger {
	if locker == nil {
		locker = chainlock.NewLocalLocker()
	}
	return &EventLogger{
		repo:   repo,
		locker: locker,
		geo:    geo,
		runner: runner,
		now:    time.Now,
	}
}

// Observe registers an observer called after every successful append
func (l *EventLogger) Observe(o EventObserver) {
	l.observers = append(l.observers, o)
}

// WithChainLock runs fn holding the chain lock of signRequestID. Appends
// made with the ctx passed to fn reuse the held lock.
func (l *EventLogger) WithChainLock(ctx context.Context, signRequestID string, fn func(ctx context.Context) error) error {
	if held, _ := ctx.Value(heldChainKey{}).(string); held == signRequestID {
		return fn(ctx)
	}
	unlock, err := l.locker.Lock(ctx, signRequestID)
	if err != nil {
		return fmt.Errorf("failed to lock audit chain: %w", err)
	}
	defer unlock()
	return fn(context.WithValue(ctx, heldChainKey{}, signRequestID))
}

// Append writes one event and returns it. Errors are returned to the caller.
func (l *EventLogger) Append(ctx context.Context, in EventInput) (*models.AuditEvent, error) {
	e, err := l.newEvent(in)
	if err != nil {
		return nil, err
	}

	var appended *models.AuditEvent
	err = l.WithChainLock(ctx, in.SignRequestID, func(ctx context.Context) error {
		var err error
		appended, err = l.repo.Append(ctx, in.SignRequestID, func(tail *models.AuditEvent) (*models.AuditEvent, error) {
			return e, nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append %s event: %w", e.EventType, err)
	}

	l.appended(ctx, appended)
	return appended, nil
}

// AppendWithChain writes an event whose metadata depends on the whole
// chain before it, such as the seal.
func (l *EventLogger) AppendWithChain(ctx context.Context, in EventInput, build func(chain []models.AuditEvent) (models.EventMetadata, error)) (*models.AuditEvent, error) {
	var appended *models.AuditEvent
	err := l.WithChainLock(ctx, in.SignRequestID, func(ctx context.Context) error {
		var err error
		appended, err = l.repo.AppendWithChain(ctx, in.SignRequestID, func(chain []models.AuditEvent) (*models.AuditEvent, error) {
			md, err := build(chain)
			if err != nil {
				return nil, err
			}
			in.Metadata = md
			return l.newEvent(in)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append chained event: %w", err)
	}

	l.appended(ctx, appended)
	return appended, nil
}

// Log appends an event and logs instead of returning a failure
func (l *EventLogger) Log(ctx context.Context, in EventInput) *models.AuditEvent {
	e, err := l.Append(ctx, in)
	if err != nil {
		l.failed(in, err)
		return nil
	}
	return e
}

// LogAsync appends an event in the background. The caller does not wait.
func (l *EventLogger) LogAsync(in EventInput) {
	if in.At.IsZero() {
		in.At = l.now()
	}
	if l.runner == nil {
		l.Log(context.Background(), in)
		return
	}
	l.runner.EnqueueAsync(func(ctx context.Context) error {
		l.Log(ctx, in)
		return nil
	})
}

// Events returns the ordered chain of a request
func (l *EventLogger) Events(ctx context.Context, signRequestID string) ([]models.AuditEvent, error) {
	return l.repo.FindBySignRequest(ctx, signRequestID)
}

// HasEvent reports whether the chain holds at least one event of type t
func (l *EventLogger) HasEvent(ctx context.Context, signRequestID string, t models.EventType) (bool, error) {
	n, err := l.repo.CountByType(ctx, signRequestID, t)
	return n > 0, err
}

func (l *EventLogger) newEvent(in EventInput) (*models.AuditEvent, error) {
	if in.Metadata == nil {
		return nil, fmt.Errorf("event metadata is required")
	}
	at := in.At
	if at.IsZero() {
		at = l.now()
	}
	ip := in.Actor.IPAddress
	if ip == "" {
		ip = geoip.DefaultIP
	}

	e := &models.AuditEvent{
		ID:            uuid.NewString(),
		SignRequestID: in.SignRequestID,
		ContractID:    in.ContractID,
		UserID:        in.Actor.UserID,
		EventType:     in.Metadata.EventType(),
		Timestamp:     at.UTC().Truncate(ledger.Precision),
		IPAddress:     ip,
		UserAgent:     in.Actor.UserAgent,
	}
	if l.geo != nil {
		e.SetGeo(l.geo.Lookup(ip))
	}
	if err := e.SetMetadata(in.Metadata); err != nil {
		return nil, err
	}
	return e, nil
}

func (l *EventLogger) appended(ctx context.Context, e *models.AuditEvent) {
	telemetry.AuditEventsAppendedTotal.WithLabelValues(string(e.EventType)).Inc()
	for _, o := range l.observers {
		o.EventAppended(ctx, e)
	}
}

func (l *EventLogger) failed(in EventInput, err error) {
	eventType := "unknown"
	if in.Metadata != nil {
		eventType = string(in.Metadata.EventType())
	}
	telemetry.AuditAppendFailuresTotal.WithLabelValues(eventType).Inc()
	logger.Error("[Audit] Failed to append event",
		"sign_request_id", in.SignRequestID,
		"event_type", eventType,
		"error", err,
	)
}
