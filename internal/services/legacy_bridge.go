package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/ledger"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

// Legacy audit_logs actions
const (
	LegacyActionCreate      = "CREATE"
	LegacyActionSend        = "SEND"
	LegacyActionResend      = "RESEND"
	LegacyActionArchive     = "ARCHIVE"
	LegacyActionDelete      = "DELETE"
	LegacyActionAccess      = "ACCESS"
	LegacyActionView        = "VIEW"
	LegacyActionSignStart   = "SIGN_START"
	LegacyActionFields      = "FIELDS"
	LegacyActionSign        = "SIGN"
	LegacyActionSeal        = "SEAL"
	LegacyActionDownload    = "DOWNLOAD"
	LegacyActionVerify      = "VERIFY"
	LegacyActionCertificate = "CERTIFICATE"
	LegacyActionNotify      = "NOTIFY"
	LegacyActionNotifyFail  = "NOTIFY_FAIL"
	LegacyActionPayment     = "PAYMENT"
	LegacyActionRefund      = "REFUND"
)

var legacyActions = map[models.EventType]string{
	models.EventRequestCreated:        LegacyActionCreate,
	models.EventRequestSent:           LegacyActionSend,
	models.EventRequestResent:         LegacyActionResend,
	models.EventRequestArchived:       LegacyActionArchive,
	models.EventRequestDeleted:        LegacyActionDelete,
	models.EventRequestAccessed:       LegacyActionAccess,
	models.EventRequestViewed:         LegacyActionView,
	models.EventSignatureStarted:      LegacyActionSignStart,
	models.EventSignatureFieldsFilled: LegacyActionFields,
	models.EventSignatureCompleted:    LegacyActionSign,
	models.EventSignatureSealed:       LegacyActionSeal,
	models.EventPDFDownloaded:         LegacyActionDownload,
	models.EventPDFVerified:           LegacyActionVerify,
	models.EventCertificateDownloaded: LegacyActionCertificate,
	models.EventNotificationSent:      LegacyActionNotify,
	models.EventNotificationFailed:    LegacyActionNotifyFail,
	models.EventPaymentProcessed:      LegacyActionPayment,
	models.EventPaymentRefunded:       LegacyActionRefund,
}

var legacyEventTypes = func() map[string]models.EventType {
	m := make(map[string]models.EventType, len(legacyActions))
	for t, a := range legacyActions {
		m[a] = t
	}
	return m
}()

// LegacyAction returns the audit_logs action of an event type
func LegacyAction(t models.EventType) string {
	return legacyActions[t]
}

// EventTypeForLegacyAction maps an audit_logs action back to an event type
func EventTypeForLegacyAction(action string) (models.EventType, bool) {
	t, ok := legacyEventTypes[action]
	return t, ok
}

// ToLegacyLog projects a ledger event onto the audit_logs shape
func ToLegacyLog(e *models.AuditEvent) models.AuditLog {
	return models.AuditLog{
		UserID:     e.UserID,
		Action:     LegacyAction(e.EventType),
		Entity:     models.AuditEntitySignatureRequest,
		EntityID:   e.SignRequestID,
		ContractID: e.ContractID,
		Details:    e.Metadata,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		CreatedAt:  e.Timestamp,
	}
}

// MigrationResult reports what a legacy import did
type MigrationResult struct {
	SignRequestID string `json:"sign_request_id"`
	Imported      int    `json:"imported"`
	Skipped       int    `json:"skipped"`
	Degraded      int    `json:"degraded"`
	Sealed        bool   `json:"sealed"`
}

type migratingKey struct{}

// LegacyBridge translates between the old audit_logs table and the
// ledger. While dual-write is on it mirrors every appended event into
// audit_logs; Migrate imports old rows into an empty chain once.
type LegacyBridge struct {
	logs      repository.LegacyAuditRepository
	tx        repository.Transactor
	events    *EventLogger
	dualWrite bool
	now       func() time.Time
}

func NewLegacyBridge(logs repository.LegacyAuditRepository, tx repository.Transactor, events *EventLogger, dualWrite bool) *LegacyBridge {
	b := &LegacyBridge{
		logs:      logs,
		tx:        tx,
		events:    events,
		dualWrite: dualWrite,
		now:       time.Now,
	}
	if dualWrite {
		events.Observe(b)
	}
	return b
}

// DualWrite reports whether ledger events are mirrored to audit_logs
func (b *LegacyBridge) DualWrite() bool {
	return b.dualWrite
}

// EventAppended mirrors a ledger event into audit_logs. Mirrored rows are
// born migrated so an import never reads them back.
func (b *LegacyBridge) EventAppended(ctx context.Context, e *models.AuditEvent) {
	if !b.dualWrite || ctx.Value(migratingKey{}) != nil {
		return
	}
	row := ToLegacyLog(e)
	now := b.now()
	row.MigratedAt = &now
	if err := b.logs.Create(ctx, &row); err != nil {
		logger.Error("[LegacyBridge] Dual write failed", "sign_request_id", e.SignRequestID, "event_type", e.EventType, "error", err)
	}
}

// Migrate imports the unmigrated audit_logs rows of a request into its
// ledger, keeping their original timestamps and actors. A SEAL row becomes
// a seal computed over the imported chain. The chain must be empty.
func (b *LegacyBridge) Migrate(ctx context.Context, signRequestID, contractID string) (*MigrationResult, error) {
	result := &MigrationResult{SignRequestID: signRequestID}
	ctx = context.WithValue(ctx, migratingKey{}, true)

	err := b.events.WithChainLock(ctx, signRequestID, func(ctx context.Context) error {
		return b.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			chain, err := b.events.Events(ctx, signRequestID)
			if err != nil {
				return err
			}
			if len(chain) > 0 {
				return fmt.Errorf("%w: la solicitud ya tiene eventos en el registro", ErrConflict)
			}

			rows, err := b.logs.FindByEntity(ctx, models.AuditEntitySignatureRequest, signRequestID)
			if err != nil {
				return err
			}

			var migrated []uint
			for i := range rows {
				row := &rows[i]
				if row.MigratedAt != nil {
					continue
				}
				eventType, ok := EventTypeForLegacyAction(row.Action)
				if !ok {
					result.Skipped++
					logger.Warn("[LegacyBridge] Unknown legacy action", "id", row.ID, "action", row.Action)
					continue
				}

				in := EventInput{
					SignRequestID: signRequestID,
					ContractID:    firstNonEmpty(row.ContractID, contractID),
					Actor:         geoip.Actor{UserID: row.UserID, IPAddress: row.IPAddress, UserAgent: row.UserAgent},
					At:            row.CreatedAt,
				}

				if eventType == models.EventSignatureSealed {
					_, err = b.events.AppendWithChain(ctx, in, func(chain []models.AuditEvent) (models.EventMetadata, error) {
						md, _ := legacyMetadata(eventType, row.Details)
						sealed := md.(models.SignatureSealedMetadata)
						sealed.SealHash = ledger.SealHash(chain)
						sealed.ContextSeal = ledger.ContextSeal(chain)
						sealed.SealedEvents = countNonSeal(chain)
						return sealed, nil
					})
					result.Sealed = true
				} else {
					md, degraded := legacyMetadata(eventType, row.Details)
					if degraded {
						result.Degraded++
					}
					in.Metadata = md
					_, err = b.events.Append(ctx, in)
				}
				if err != nil {
					return err
				}
				result.Imported++
				migrated = append(migrated, row.ID)
			}
			return b.logs.MarkMigrated(ctx, migrated, b.now())
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(fmt.Sprintf("[LegacyBridge] Migrated %d rows for %s (%d skipped)", result.Imported, signRequestID, result.Skipped))
	return result, nil
}

// legacyMetadata decodes the Details column. Free text that is not the
// variant's JSON yields the empty variant and degraded=true.
func legacyMetadata(t models.EventType, details string) (models.EventMetadata, bool) {
	md, err := models.DecodeMetadata(t, []byte(details))
	if err == nil {
		return md, false
	}
	md, _ = models.DecodeMetadata(t, nil)
	return md, true
}

func countNonSeal(chain []models.AuditEvent) int {
	n := 0
	for i := range chain {
		if chain[i].EventType != models.EventSignatureSealed {
			n++
		}
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
