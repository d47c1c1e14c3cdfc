package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/models"
	"gorm.io/gorm"
)

// SignatureRequestQuery filters the authenticated listing
type SignatureRequestQuery struct {
	*ListQuery
	CustomerID string
	Status     string
	ContractID string
	Now        time.Time
}

// StatusChange moves a request out of one of the expected states
type StatusChange struct {
	To     string
	At     time.Time
	Reason *string
}

// AccessRotation replaces the public credentials of a pending request
type AccessRotation struct {
	ShortID      string
	AccessKey    string
	SignatureURL string
	Channel      string
	ExpiresAt    time.Time
	At           time.Time
}

// Completion is the data written when a request becomes signed
type Completion struct {
	SignedAt           time.Time
	DocumentHash       string
	SignatureMetadata  string
	QualifiedTimestamp string
	SignaturePath      *string
}

// SignatureRequestRepository defines data access for signature requests.
// Every state change is conditional on the expected prior state and
// reports whether a row was updated.
type SignatureRequestRepository interface {
	Create(ctx context.Context, req *models.SignatureRequest) error
	FindByID(ctx context.Context, customerID, id string) (*models.SignatureRequest, error)
	FindByShortID(ctx context.Context, shortID string) (*models.SignatureRequest, error)
	FindActiveForSigner(ctx context.Context, customerID, contractID, email, phone string) (*models.SignatureRequest, error)
	List(ctx context.Context, query *SignatureRequestQuery) ([]models.SignatureRequest, int64, error)
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.SignatureRequest, error)

	UpdateChannel(ctx context.Context, id, channel string) (bool, error)
	Transition(ctx context.Context, id string, from []string, change StatusChange) (bool, error)
	RotateAccess(ctx context.Context, id, expectedShortID string, rot AccessRotation) (bool, error)
	Complete(ctx context.Context, shortID string, now time.Time, c Completion) (bool, error)
	SetSealHash(ctx context.Context, id, sealHash string) error
	ReserveEmailSend(ctx context.Context, id string, limit int) (bool, error)
	AppendSendHistory(ctx context.Context, id string, send models.EmailSend) error
	MarkAccessed(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteUnopened(ctx context.Context, id string, statuses []string) (bool, error)
	DeleteExpired(ctx context.Context, id string, now time.Time) (bool, error)
}

type signatureRequestRepository struct {
	db *gorm.DB
}

// NewSignatureRequestRepository creates a new signature request repository
func NewSignatureRequestRepository(db *gorm.DB) SignatureRequestRepository {
	return &signatureRequestRepository{db: db}
}

func (r *signatureRequestRepository) Create(ctx context.Context, req *models.SignatureRequest) error {
	return conn(ctx, r.db).Create(req).Error
}

func (r *signatureRequestRepository) FindByID(ctx context.Context, customerID, id string) (*models.SignatureRequest, error) {
	var req models.SignatureRequest
	err := conn(ctx, r.db).
		Where("id = ? AND customer_id = ?", id, customerID).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *signatureRequestRepository) FindByShortID(ctx context.Context, shortID string) (*models.SignatureRequest, error) {
	var req models.SignatureRequest
	if err := conn(ctx, r.db).Where("short_id = ?", shortID).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// FindActiveForSigner returns the newest pending or signed request of the
// same contract and signer, nil when none exists.
func (r *signatureRequestRepository) FindActiveForSigner(ctx context.Context, customerID, contractID, email, phone string) (*models.SignatureRequest, error) {
	db := conn(ctx, r.db).
		Where("customer_id = ? AND contract_id = ?", customerID, contractID).
		Where("status IN ?", []string{models.SignatureStatusPending, models.SignatureStatusSigned, models.SignatureStatusCompleted})

	switch {
	case email != "":
		db = db.Where("LOWER(signer_email) = LOWER(?)", strings.TrimSpace(email))
	case phone != "":
		db = db.Where("signer_phone = ?", strings.TrimSpace(phone))
	default:
		return nil, nil
	}

	var reqs []models.SignatureRequest
	if err := db.Order("created_at DESC").Limit(1).Find(&reqs).Error; err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	return &reqs[0], nil
}

func (r *signatureRequestRepository) List(ctx context.Context, query *SignatureRequestQuery) ([]models.SignatureRequest, int64, error) {
	var reqs []models.SignatureRequest
	var total int64

	db := conn(ctx, r.db).Model(&models.SignatureRequest{}).Where("customer_id = ?", query.CustomerID)

	if query.ContractID != "" {
		db = db.Where("contract_id = ?", query.ContractID)
	}

	now := query.Now
	if now.IsZero() {
		now = time.Now()
	}
	switch query.Status {
	case "":
	case models.SignatureStatusExpired:
		db = db.Where("status = ? AND expires_at <= ?", models.SignatureStatusPending, now)
	case models.SignatureStatusPending:
		db = db.Where("status = ? AND expires_at > ?", models.SignatureStatusPending, now)
	case models.SignatureStatusSigned:
		db = db.Where("status IN ?", []string{models.SignatureStatusSigned, models.SignatureStatusCompleted})
	default:
		db = db.Where("status = ?", query.Status)
	}

	if query.Search != "" {
		search := "%" + strings.ToLower(query.Search) + "%"
		db = db.Where("LOWER(signer_name) LIKE ? OR LOWER(signer_email) LIKE ? OR LOWER(snapshot_name) LIKE ?", search, search, search)
	}

	countDB := db.Session(&gorm.Session{})
	if err := countDB.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortBy := "created_at"
	switch query.SortBy {
	case "expires_at", "signer_name", "status", "updated_at":
		sortBy = query.SortBy
	}
	sortDir := "DESC"
	if strings.EqualFold(query.SortDir, "asc") {
		sortDir = "ASC"
	}

	offset := (query.Page - 1) * query.PerPage
	if offset < 0 {
		offset = 0
	}
	err := db.Order(fmt.Sprintf("%s %s", sortBy, sortDir)).
		Offset(offset).
		Limit(query.PerPage).
		Find(&reqs).Error
	if err != nil {
		return nil, 0, err
	}

	return reqs, total, nil
}

func (r *signatureRequestRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.SignatureRequest, error) {
	var reqs []models.SignatureRequest
	err := conn(ctx, r.db).
		Where("status = ? AND expires_at <= ?", models.SignatureStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

func (r *signatureRequestRepository) UpdateChannel(ctx context.Context, id, channel string) (bool, error) {
	res := conn(ctx, r.db).Model(&models.SignatureRequest{}).
		Where("id = ? AND status = ?", id, models.SignatureStatusPending).
		Updates(map[string]any{"channel": channel, "updated_at": time.Now()})
	return res.RowsAffected == 1, res.Error
}

func (r *signatureRequestRepository) Transition(ctx context.Context, id string, from []string, change StatusChange) (bool, error) {
	updates := map[string]any{
		"status":     change.To,
		"updated_at": change.At,
	}
	switch change.To {
	case models.SignatureStatusArchived:
		updates["archived_at"] = change.At
		updates["archive_reason"] = change.Reason
	case models.SignatureStatusDiscarded:
		updates["discarded_at"] = change.At
		updates["discard_reason"] = change.Reason
	}

	res := conn(ctx, r.db).Model(&models.SignatureRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *signatureRequestRepository) RotateAccess(ctx context.Context, id, expectedShortID string, rot AccessRotation) (bool, error) {
	res := conn(ctx, r.db).Model(&models.SignatureRequest{}).
		Where("id = ? AND status = ? AND short_id = ?", id, models.SignatureStatusPending, expectedShortID).
		Updates(map[string]any{
			"short_id":       rot.ShortID,
			"access_key":     rot.AccessKey,
			"signature_url":  rot.SignatureURL,
			"channel":        rot.Channel,
			"expires_at":     rot.ExpiresAt,
			"resend_count":   gorm.Expr("resend_count + 1"),
			"last_resend_at": rot.At,
			"updated_at":     rot.At,
		})
	return res.RowsAffected == 1, res.Error
}

// Complete marks a pending, unexpired request signed. At most one caller
// observes true for a given short id.
func (r *signatureRequestRepository) Complete(ctx context.Context, shortID string, now time.Time, c Completion) (bool, error) {
	res := conn(ctx, r.db).Model(&models.SignatureRequest{}).
		Where("short_id = ? AND status = ? AND expires_at > ?", shortID, models.SignatureStatusPending, now).
		Updates(map[string]any{
			"status":              models.SignatureStatusSigned,
			"signed_at":           c.SignedAt,
			"document_hash":       c.DocumentHash,
			"signature_metadata":  c.SignatureMetadata,
			"qualified_timestamp": c.QualifiedTimestamp,
			"signature_path":      c.SignaturePath,
			"updated_at":          c.SignedAt,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *signatureRequestRepository) SetSealHash(ctx context.Context, id, sealHash string) error {
	return conn(ctx, r.db).Model(&models.SignatureRequest{}).
		Where("id = ?", id).
		Update("seal_hash", sealHash).Error
}

// ReserveEmailSend counts one email send while the counter is below limit
func (r *signatureRequestRepository) ReserveEmailSend(ctx context.Context, id string, limit int) (bool, error) {
	res := conn(ctx, r.db).Model(&models.SignatureRequest{}).
		Where("id = ? AND email_send_count < ?", id, limit).
		Updates(map[string]any{
			"email_send_count": gorm.Expr("email_send_count + 1"),
			"updated_at":       time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// AppendSendHistory appends one entry to the jsonb send history
func (r *signatureRequestRepository) AppendSendHistory(ctx context.Context, id string, send models.EmailSend) error {
	entry, err := json.Marshal([]models.EmailSend{send})
	if err != nil {
		return err
	}
	return conn(ctx, r.db).Model(&models.SignatureRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"email_history": gorm.Expr("COALESCE(email_history, '[]'::jsonb) || ?::jsonb", string(entry)),
			"last_sent_at":  send.At,
		}).Error
}

// MarkAccessed records the first access of a pending request. False means
// the request stopped being pending since it was read.
func (r *signatureRequestRepository) MarkAccessed(ctx context.Context, id string, at time.Time) (bool, error) {
	res := conn(ctx, r.db).Model(&models.SignatureRequest{}).
		Where("id = ? AND status = ?", id, models.SignatureStatusPending).
		Update("first_accessed_at", gorm.Expr("COALESCE(first_accessed_at, ?)", at))
	return res.RowsAffected == 1, res.Error
}

// DeleteUnopened hard-deletes a request whose signing link was never opened.
// An access that lands first makes this a no-op.
func (r *signatureRequestRepository) DeleteUnopened(ctx context.Context, id string, statuses []string) (bool, error) {
	res := conn(ctx, r.db).
		Where("id = ? AND status IN ? AND first_accessed_at IS NULL", id, statuses).
		Delete(&models.SignatureRequest{})
	return res.RowsAffected == 1, res.Error
}

// DeleteExpired removes a request that is still pending past its deadline
func (r *signatureRequestRepository) DeleteExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	res := conn(ctx, r.db).
		Where("id = ? AND status = ? AND expires_at <= ?", id, models.SignatureStatusPending, now).
		Delete(&models.SignatureRequest{})
	return res.RowsAffected == 1, res.Error
}
