package services

import (
	"github.com/sjperalta/fintera-sign-api/internal/chainlock"
	"github.com/sjperalta/fintera-sign-api/internal/config"
	"github.com/sjperalta/fintera-sign-api/internal/jobs"
	"github.com/sjperalta/fintera-sign-api/internal/keys"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/sjperalta/fintera-sign-api/internal/tsa"
)

// Infrastructure holds the collaborators built by main from configuration
type Infrastructure struct {
	Locker    chainlock.Locker
	Geo       GeoLookup
	Authority tsa.Authority
	Keys      keys.Provider
	Blobs     BlobStore
}

// Services holds all service instances
type Services struct {
	Auth             *AuthService
	Events           *EventLogger
	SignatureRequest *SignatureRequestService
	AuditTrail       *AuditTrailService
	Legacy           *LegacyBridge
	Notification     *NotificationService
	Email            *EmailService
	SMS              *SMSService
	Export           *ExportService
	Job              *JobService
}

// NewServices creates all service instances
func NewServices(repos *repository.Repositories, worker *jobs.Worker, cfg *config.Config, infra Infrastructure) *Services {
	events := NewEventLogger(repos.AuditEvent, infra.Locker, infra.Geo, worker)
	legacy := NewLegacyBridge(repos.LegacyAudit, repos.Tx, events, cfg.LegacyDualWrite)

	emailSvc := NewEmailService(cfg)
	smsSvc := NewSMSService(cfg)
	notificationSvc := NewNotificationService(emailSvc, smsSvc)
	exportSvc := NewExportService()

	signatureSvc := NewSignatureRequestService(repos, events, notificationSvc, infra.Authority, infra.Keys, infra.Blobs, SignatureSettings{
		PublicBaseURL:  cfg.PublicBaseURL,
		TTL:            cfg.SignatureTTL(),
		EmailSendLimit: cfg.EmailSendLimit,
	})

	return &Services{
		Auth:             NewAuthService(repos.User, cfg),
		Events:           events,
		SignatureRequest: signatureSvc,
		AuditTrail:       NewAuditTrailService(repos.SignatureRequest, events, exportSvc, legacy),
		Legacy:           legacy,
		Notification:     notificationSvc,
		Email:            emailSvc,
		SMS:              smsSvc,
		Export:           exportSvc,
		Job:              NewJobService(worker, signatureSvc),
	}
}
