package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sjperalta/fintera-sign-api/internal/ledger"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"gorm.io/gorm"
)

// ChainBuilder builds the next event from the current chain tail (nil when empty)
type ChainBuilder func(tail *models.AuditEvent) (*models.AuditEvent, error)

// SealBuilder builds the next event from the whole chain
type SealBuilder func(chain []models.AuditEvent) (*models.AuditEvent, error)

// AuditEventRepository is the insert-only store of the audit ledger.
// Appends to one chain are serialized by a transaction scoped advisory lock.
type AuditEventRepository interface {
	Append(ctx context.Context, signRequestID string, build ChainBuilder) (*models.AuditEvent, error)
	AppendWithChain(ctx context.Context, signRequestID string, build SealBuilder) (*models.AuditEvent, error)
	FindBySignRequest(ctx context.Context, signRequestID string) ([]models.AuditEvent, error)
	CountByType(ctx context.Context, signRequestID string, eventType models.EventType) (int64, error)
}

type auditEventRepository struct {
	db *gorm.DB
}

// NewAuditEventRepository creates a new audit event repository
func NewAuditEventRepository(db *gorm.DB) AuditEventRepository {
	return &auditEventRepository{db: db}
}

func lockChain(tx *gorm.DB, signRequestID string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", signRequestID).Error
}

func (r *auditEventRepository) Append(ctx context.Context, signRequestID string, build ChainBuilder) (*models.AuditEvent, error) {
	var appended *models.AuditEvent
	err := inTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := lockChain(tx, signRequestID); err != nil {
			return fmt.Errorf("failed to lock chain: %w", err)
		}

		var tails []models.AuditEvent
		if err := tx.Where("sign_request_id = ?", signRequestID).
			Order("sequence DESC").Limit(1).Find(&tails).Error; err != nil {
			return err
		}
		var tail *models.AuditEvent
		if len(tails) > 0 {
			tail = &tails[0]
		}

		e, err := build(tail)
		if err != nil {
			return err
		}
		if err := r.insert(tx, e, tail); err != nil {
			return err
		}
		appended = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func (r *auditEventRepository) AppendWithChain(ctx context.Context, signRequestID string, build SealBuilder) (*models.AuditEvent, error) {
	var appended *models.AuditEvent
	err := inTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := lockChain(tx, signRequestID); err != nil {
			return fmt.Errorf("failed to lock chain: %w", err)
		}

		var chain []models.AuditEvent
		if err := tx.Where("sign_request_id = ?", signRequestID).
			Order("sequence ASC").Find(&chain).Error; err != nil {
			return err
		}

		e, err := build(chain)
		if err != nil {
			return err
		}
		var tail *models.AuditEvent
		if len(chain) > 0 {
			tail = &chain[len(chain)-1]
		}
		if err := r.insert(tx, e, tail); err != nil {
			return err
		}
		appended = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func (r *auditEventRepository) insert(tx *gorm.DB, e *models.AuditEvent, tail *models.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := ledger.Link(e, tail); err != nil {
		return fmt.Errorf("failed to link event: %w", err)
	}
	return tx.Create(e).Error
}

func (r *auditEventRepository) FindBySignRequest(ctx context.Context, signRequestID string) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := conn(ctx, r.db).
		Where("sign_request_id = ?", signRequestID).
		Order("sequence ASC").
		Find(&events).Error
	return events, err
}

func (r *auditEventRepository) CountByType(ctx context.Context, signRequestID string, eventType models.EventType) (int64, error) {
	var count int64
	err := conn(ctx, r.db).Model(&models.AuditEvent{}).
		Where("sign_request_id = ? AND event_type = ?", signRequestID, eventType).
		Count(&count).Error
	return count, err
}
