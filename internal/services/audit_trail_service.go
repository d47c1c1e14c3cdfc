package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/ledger"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/sjperalta/fintera-sign-api/internal/telemetry"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

// Export formats
const (
	ExportFormatXLSX = "xlsx"
	ExportFormatCSV  = "csv"
)

// AuditTrailView is the ledger of one request with its derived summary
type AuditTrailView struct {
	Trail   models.AuditTrail           `json:"trail"`
	Summary models.AuditSummary         `json:"summary"`
	Events  []models.AuditEventResponse `json:"events"`
}

// Export is a rendered file
type Export struct {
	Data        []byte
	FileName    string
	ContentType string
}

// AuditTrailService reads, verifies and exports the audit ledger
type AuditTrailService struct {
	requests repository.SignatureRequestRepository
	events   *EventLogger
	exports  *ExportService
	legacy   *LegacyBridge
	now      func() time.Time
}

func NewAuditTrailService(requests repository.SignatureRequestRepository, events *EventLogger, exports *ExportService, legacy *LegacyBridge) *AuditTrailService {
	return &AuditTrailService{
		requests: requests,
		events:   events,
		exports:  exports,
		legacy:   legacy,
		now:      time.Now,
	}
}

func (s *AuditTrailService) load(ctx context.Context, customerID, id string) (*models.SignatureRequest, []models.AuditEvent, error) {
	req, err := s.requests.FindByID(ctx, customerID, id)
	if err != nil {
		return nil, nil, notFound(err)
	}
	events, err := s.events.Events(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}
	return req, events, nil
}

// Trail returns the ordered ledger, counters and summary of a request
func (s *AuditTrailService) Trail(ctx context.Context, customerID, id string) (*AuditTrailView, error) {
	req, events, err := s.load(ctx, customerID, id)
	if err != nil {
		return nil, err
	}
	view := &AuditTrailView{
		Trail:   models.NewAuditTrail(req.ID, events),
		Summary: BuildAuditSummary(events),
		Events:  make([]models.AuditEventResponse, 0, len(events)),
	}
	for i := range events {
		view.Events = append(view.Events, events[i].ToResponse())
	}
	return view, nil
}

// Summarize projects the ledger of a request. It never writes.
func (s *AuditTrailService) Summarize(ctx context.Context, customerID, id string) (models.AuditSummary, error) {
	_, events, err := s.load(ctx, customerID, id)
	if err != nil {
		return models.AuditSummary{}, err
	}
	return BuildAuditSummary(events), nil
}

// Verify rescans the ledger of a request. An invalid chain returns the full
// result together with ErrIntegrityMismatch.
func (s *AuditTrailService) Verify(ctx context.Context, customerID, id string) (ledger.Result, error) {
	req, events, err := s.load(ctx, customerID, id)
	if err != nil {
		return ledger.Result{}, err
	}
	return s.verify(req.ID, events)
}

// VerifyChain verifies a chain by request id without a customer scope.
// The chain of a hard-deleted request can still be checked.
func (s *AuditTrailService) VerifyChain(ctx context.Context, signRequestID string) (ledger.Result, error) {
	events, err := s.events.Events(ctx, signRequestID)
	if err != nil {
		return ledger.Result{}, err
	}
	if len(events) == 0 {
		return ledger.Result{}, ErrNotFound
	}
	return s.verify(signRequestID, events)
}

func (s *AuditTrailService) verify(signRequestID string, events []models.AuditEvent) (ledger.Result, error) {
	result := ledger.Verify(events)
	if !result.Valid {
		telemetry.IntegrityChecksTotal.WithLabelValues("invalid").Inc()
		logger.Warn("[Audit] Integrity check failed",
			"sign_request_id", signRequestID,
			"errors", len(result.Errors),
			"seal_mismatch", result.SealMismatch,
		)
		return result, ErrIntegrityMismatch
	}
	telemetry.IntegrityChecksTotal.WithLabelValues("valid").Inc()
	return result, nil
}

// Certificate renders the audit certificate and records certificate.downloaded
func (s *AuditTrailService) Certificate(ctx context.Context, customerID, id string, actor geoip.Actor) (*Export, error) {
	req, events, err := s.load(ctx, customerID, id)
	if err != nil {
		return nil, err
	}
	integrity := ledger.Verify(events)
	data, name, err := s.exports.CertificatePDF(req, models.NewAuditTrail(req.ID, events), BuildAuditSummary(events), integrity)
	if err != nil {
		return nil, fmt.Errorf("failed to render certificate: %w", err)
	}

	s.events.LogAsync(EventInput{
		SignRequestID: req.ID,
		ContractID:    req.ContractID,
		Actor:         actor,
		Metadata:      models.CertificateDownloadedMetadata{Format: "pdf"},
	})
	return &Export{Data: data, FileName: name, ContentType: "application/pdf"}, nil
}

// Export renders the raw ledger as a spreadsheet or CSV
func (s *AuditTrailService) Export(ctx context.Context, customerID, id, format string) (*Export, error) {
	req, events, err := s.load(ctx, customerID, id)
	if err != nil {
		return nil, err
	}
	trail := models.NewAuditTrail(req.ID, events)

	switch format {
	case ExportFormatXLSX:
		data, name, err := s.exports.LedgerXLSX(trail)
		if err != nil {
			return nil, err
		}
		return &Export{Data: data, FileName: name, ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}, nil
	case ExportFormatCSV:
		data, name, err := s.exports.LedgerCSV(trail)
		if err != nil {
			return nil, err
		}
		return &Export{Data: data, FileName: name, ContentType: "text/csv"}, nil
	}
	return nil, fmt.Errorf("%w: formato %q no soportado", ErrInvalidInput, format)
}

// LegacyView projects the ledger onto the old audit_logs format
func (s *AuditTrailService) LegacyView(ctx context.Context, customerID, id string) ([]models.AuditLog, error) {
	_, events, err := s.load(ctx, customerID, id)
	if err != nil {
		return nil, err
	}
	logs := make([]models.AuditLog, 0, len(events))
	for i := range events {
		logs = append(logs, ToLegacyLog(&events[i]))
	}
	return logs, nil
}

// MigrateLegacy imports the old audit_logs rows of a request into its ledger
func (s *AuditTrailService) MigrateLegacy(ctx context.Context, customerID, id string) (*MigrationResult, error) {
	req, err := s.requests.FindByID(ctx, customerID, id)
	if err != nil {
		return nil, notFound(err)
	}
	return s.legacy.Migrate(ctx, req.ID, req.ContractID)
}
