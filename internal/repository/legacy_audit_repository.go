package repository

import (
	"context"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/models"
	"gorm.io/gorm"
)

// LegacyAuditRepository reads and writes the older audit_logs table
type LegacyAuditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	FindByEntity(ctx context.Context, entity, entityID string) ([]models.AuditLog, error)
	MarkMigrated(ctx context.Context, ids []uint, at time.Time) error
}

type legacyAuditRepository struct {
	db *gorm.DB
}

// NewLegacyAuditRepository creates a new legacy audit repository
func NewLegacyAuditRepository(db *gorm.DB) LegacyAuditRepository {
	return &legacyAuditRepository{db: db}
}

func (r *legacyAuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	return conn(ctx, r.db).Create(log).Error
}

func (r *legacyAuditRepository) FindByEntity(ctx context.Context, entity, entityID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := conn(ctx, r.db).
		Where("entity = ? AND entity_id = ?", entity, entityID).
		Order("created_at ASC, id ASC").
		Find(&logs).Error
	return logs, err
}

func (r *legacyAuditRepository) MarkMigrated(ctx context.Context, ids []uint, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return conn(ctx, r.db).Model(&models.AuditLog{}).
		Where("id IN ? AND migrated_at IS NULL", ids).
		Update("migrated_at", at).Error
}
