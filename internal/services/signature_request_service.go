package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/keys"
	"github.com/sjperalta/fintera-sign-api/internal/ledger"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/sjperalta/fintera-sign-api/internal/statemachine"
	"github.com/sjperalta/fintera-sign-api/internal/telemetry"
	"github.com/sjperalta/fintera-sign-api/internal/tsa"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
	"gorm.io/gorm"
)

// Signature methods recorded on completion
const (
	SignatureMethodDrawn = "drawn"
	SignatureMethodTyped = "typed"
)

// DeleteReasonExpired is recorded when an expired request is removed
const DeleteReasonExpired = "expired"

// BlobStore keeps encrypted signature images
type BlobStore interface {
	Put(ctx context.Context, prefix string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// SignatureSettings are the tunables of the signing flow
type SignatureSettings struct {
	PublicBaseURL  string
	TTL            time.Duration
	EmailSendLimit int
}

// CreateKind tells whether Create inserted a request or reused one
type CreateKind int

const (
	CreateKindCreated CreateKind = iota + 1
	CreateKindReused
)

func (k CreateKind) String() string {
	if k == CreateKindReused {
		return "reused"
	}
	return "created"
}

// CreateResult is the outcome of Create
type CreateResult struct {
	Kind         CreateKind
	Request      *models.SignatureRequest
	Notification *SendResult
}

// CreateInput holds the data for a new signature request
type CreateInput struct {
	CustomerID  string
	UserID      string
	ContractID  string
	SignerName  string
	SignerEmail string
	SignerPhone string
	ClientName  string
	ClientTaxID string
	Channel     string
	Actor       geoip.Actor
}

// CompleteInput holds the data submitted by the signer
type CompleteInput struct {
	ShortID     string
	AccessKey   string
	Signature   []byte
	Method      string
	FieldValues map[string]string
	Client      map[string]string
	Actor       geoip.Actor
}

// ResendInput holds the data for a resend. Signer fields are optional and,
// when present, must equal the stored values.
type ResendInput struct {
	CustomerID  string
	ID          string
	Channel     string
	Reason      string
	SignerName  *string
	SignerEmail *string
	SignerPhone *string
	Actor       geoip.Actor
}

// DiscardResult tells how a request was discarded
type DiscardResult struct {
	Mode    string
	Request *models.SignatureRequest
}

// SignatureRequestService drives the signature request lifecycle. Every
// state change is a conditional update on the expected stored status.
type SignatureRequestService struct {
	requests   repository.SignatureRequestRepository
	contracts  repository.ContractRepository
	tx         repository.Transactor
	events     *EventLogger
	notifier   Notifier
	authority  tsa.Authority
	keys       keys.Provider
	blobs      BlobStore
	validators []AccessKeyValidator
	settings   SignatureSettings
	now        func() time.Time
}

func NewSignatureRequestService(
	repos *repository.Repositories,
	events *EventLogger,
	notifier Notifier,
	authority tsa.Authority,
	keyProvider keys.Provider,
	blobs BlobStore,
	settings SignatureSettings,
) *SignatureRequestService {
	if settings.TTL <= 0 {
		settings.TTL = 7 * 24 * time.Hour
	}
	if settings.EmailSendLimit <= 0 {
		settings.EmailSendLimit = 5
	}
	return &SignatureRequestService{
		requests:   repos.SignatureRequest,
		contracts:  repos.Contract,
		tx:         repos.Tx,
		events:     events,
		notifier:   notifier,
		authority:  authority,
		keys:       keyProvider,
		blobs:      blobs,
		validators: DefaultAccessKeyValidators(),
		settings:   settings,
		now:        time.Now,
	}
}

func observeOperation(operation string, err error) {
	outcome := telemetry.OutcomeSuccess
	if err != nil {
		outcome = ErrorCode(err)
	}
	telemetry.SignatureOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *SignatureRequestService) signatureURL(shortID, accessKey string) string {
	return fmt.Sprintf("%s/sign/%s?a=%s", s.settings.PublicBaseURL, url.PathEscape(shortID), url.QueryEscape(accessKey))
}

// Get returns a request of the caller's customer
func (s *SignatureRequestService) Get(ctx context.Context, customerID, id string) (*models.SignatureRequest, error) {
	req, err := s.requests.FindByID(ctx, customerID, id)
	if err != nil {
		return nil, notFound(err)
	}
	return req, nil
}

// List returns a page of the caller's requests
func (s *SignatureRequestService) List(ctx context.Context, query *repository.SignatureRequestQuery) ([]models.SignatureRequest, int64, error) {
	if query.Now.IsZero() {
		query.Now = s.now()
	}
	return s.requests.List(ctx, query)
}

// Create inserts a request with a fresh contract snapshot, or reuses the
// pending or signed request the same signer already has for the contract.
func (s *SignatureRequestService) Create(ctx context.Context, in CreateInput) (result *CreateResult, err error) {
	defer func() { observeOperation("create", err) }()

	in.SignerEmail = strings.TrimSpace(in.SignerEmail)
	in.SignerPhone = strings.TrimSpace(in.SignerPhone)
	in.SignerName = strings.TrimSpace(in.SignerName)
	if in.Channel == "" {
		in.Channel = models.ChannelEmail
	}
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	existing, err := s.requests.FindActiveForSigner(ctx, in.CustomerID, in.ContractID, in.SignerEmail, in.SignerPhone)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsExpired(s.now()) {
		s.expire(ctx, existing, in.Actor)
		existing = nil
	}
	if existing != nil {
		return s.reuse(ctx, existing, in)
	}

	contract, err := s.contracts.FindForCustomer(ctx, in.CustomerID, in.ContractID)
	if err != nil {
		return nil, notFound(err)
	}

	shortID, err := NewShortID()
	if err != nil {
		return nil, err
	}
	accessKey, err := NewAccessKey()
	if err != nil {
		return nil, err
	}

	now := s.now()
	req := &models.SignatureRequest{
		ID:           uuid.NewString(),
		ShortID:      shortID,
		AccessKey:    accessKey,
		CustomerID:   in.CustomerID,
		ContractID:   contract.ID,
		CreatedBy:    in.UserID,
		Status:       models.SignatureStatusPending,
		Channel:      in.Channel,
		Snapshot:     contract.Snapshot(now),
		SignerName:   in.SignerName,
		SignerEmail:  in.SignerEmail,
		SignerPhone:  in.SignerPhone,
		ClientName:   in.ClientName,
		ClientTaxID:  in.ClientTaxID,
		SignatureURL: s.signatureURL(shortID, accessKey),
		ExpiresAt:    now.Add(s.settings.TTL),
		EmailHistory: "[]",
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create signature request: %w", err)
	}

	s.events.Log(ctx, EventInput{
		SignRequestID: req.ID,
		ContractID:    req.ContractID,
		Actor:         in.Actor,
		At:            now,
		Metadata: models.RequestCreatedMetadata{
			Channel:      req.Channel,
			SignerEmail:  req.SignerEmail,
			SignerPhone:  req.SignerPhone,
			ShortID:      req.ShortID,
			ContractName: req.Snapshot.Name,
			ExpiresAt:    models.FormatEventTime(req.ExpiresAt),
		},
	})

	result = &CreateResult{Kind: CreateKindCreated, Request: req}
	if req.Channel != models.ChannelLink {
		if req.Channel == models.ChannelEmail {
			if err := s.reserveEmailSend(ctx, req); err != nil {
				return nil, err
			}
		}
		sent := s.notify(ctx, req, req.Channel, false, in.Actor)
		s.events.Log(ctx, EventInput{
			SignRequestID: req.ID,
			ContractID:    req.ContractID,
			Actor:         in.Actor,
			Metadata: models.RequestSentMetadata{
				Channel:    req.Channel,
				Recipient:  req.Recipient(req.Channel),
				Success:    sent.Success,
				ProviderID: sent.ProviderID,
				Error:      sent.Error,
			},
		})
		result.Notification = &sent
	}

	logger.Info(fmt.Sprintf("[SignatureRequest] Created %s for contract %s", req.ID, req.ContractID))
	return result, nil
}

func validateCreate(in CreateInput) error {
	if in.CustomerID == "" || in.ContractID == "" {
		return fmt.Errorf("%w: contrato requerido", ErrInvalidInput)
	}
	if in.SignerName == "" {
		return fmt.Errorf("%w: nombre del firmante requerido", ErrInvalidInput)
	}
	if !models.ValidChannel(in.Channel) {
		return fmt.Errorf("%w: canal %q no soportado", ErrInvalidInput, in.Channel)
	}
	if in.SignerEmail == "" && in.SignerPhone == "" {
		return fmt.Errorf("%w: se requiere correo o teléfono del firmante", ErrInvalidInput)
	}
	if in.Channel == models.ChannelEmail && in.SignerEmail == "" {
		return fmt.Errorf("%w: correo del firmante requerido", ErrInvalidInput)
	}
	if in.Channel == models.ChannelSMS && in.SignerPhone == "" {
		return fmt.Errorf("%w: teléfono del firmante requerido", ErrInvalidInput)
	}
	return nil
}

// reuse returns an in-flight request instead of inserting a duplicate. A
// pending request gets the requested channel and the existing link is sent
// again; signer identity is never touched.
func (s *SignatureRequestService) reuse(ctx context.Context, req *models.SignatureRequest, in CreateInput) (*CreateResult, error) {
	result := &CreateResult{Kind: CreateKindReused, Request: req}
	if req.Status != models.SignatureStatusPending {
		return result, nil
	}

	if req.Channel != in.Channel {
		ok, err := s.requests.UpdateChannel(ctx, req.ID, in.Channel)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		req.Channel = in.Channel
	}

	if req.Channel == models.ChannelLink {
		return result, nil
	}
	if req.Channel == models.ChannelEmail {
		if err := s.reserveEmailSend(ctx, req); err != nil {
			logger.Warn("[SignatureRequest] Reused request reached its send limit", "sign_request_id", req.ID)
			return result, nil
		}
	}

	sent := s.notify(ctx, req, req.Channel, true, in.Actor)
	s.events.Log(ctx, EventInput{
		SignRequestID: req.ID,
		ContractID:    req.ContractID,
		Actor:         in.Actor,
		Metadata: models.RequestResentMetadata{
			Channel:         req.Channel,
			Recipient:       req.Recipient(req.Channel),
			Reason:          "reused",
			PreviousShortID: req.ShortID,
			ShortID:         req.ShortID,
			Success:         sent.Success,
			ProviderID:      sent.ProviderID,
			Error:           sent.Error,
			EmailSendCount:  req.EmailSendCount,
		},
	})
	result.Notification = &sent
	return result, nil
}

func (s *SignatureRequestService) reserveEmailSend(ctx context.Context, req *models.SignatureRequest) error {
	if req.EmailSendCount >= s.settings.EmailSendLimit {
		return ErrLimitExceeded
	}
	ok, err := s.requests.ReserveEmailSend(ctx, req.ID, s.settings.EmailSendLimit)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLimitExceeded
	}
	req.EmailSendCount++
	return nil
}

// notify sends the signing link, records the attempt in the send history
// and appends notification.sent or notification.failed.
func (s *SignatureRequestService) notify(ctx context.Context, req *models.SignatureRequest, channel string, resend bool, actor geoip.Actor) SendResult {
	recipient := req.Recipient(channel)
	result := s.notifier.Send(ctx, SigningLink{
		Channel:      channel,
		Recipient:    recipient,
		SignerName:   req.SignerName,
		ContractName: req.Snapshot.Name,
		URL:          req.SignatureURL,
		ExpiresAt:    req.ExpiresAt,
		Resend:       resend,
	})

	at := s.now()
	if err := s.requests.AppendSendHistory(ctx, req.ID, models.EmailSend{
		At:         at,
		Channel:    channel,
		Recipient:  recipient,
		Success:    result.Success,
		ProviderID: result.ProviderID,
	}); err != nil {
		logger.Error("[SignatureRequest] Failed to record send history", "sign_request_id", req.ID, "error", err)
	}

	var md models.EventMetadata = models.NotificationSentMetadata{Channel: channel, Recipient: recipient, ProviderID: result.ProviderID}
	if !result.Success {
		md = models.NotificationFailedMetadata{Channel: channel, Recipient: recipient, Error: result.Error}
	}
	s.events.Log(ctx, EventInput{
		SignRequestID: req.ID,
		ContractID:    req.ContractID,
		Actor:         actor,
		At:            at,
		Metadata:      md,
	})
	return result
}

// authorize runs the public access checks in order: unknown, signed,
// no longer active, expired (the request is removed), wrong key.
func (s *SignatureRequestService) authorize(ctx context.Context, shortID, accessKey string, actor geoip.Actor) (*models.SignatureRequest, string, error) {
	req, err := s.requests.FindByShortID(ctx, shortID)
	if err != nil {
		return nil, "", notFound(err)
	}
	if req.IsTerminal() {
		return req, "", ErrAlreadySigned
	}
	if req.Status != models.SignatureStatusPending {
		return nil, "", ErrNotFound
	}
	if req.IsExpired(s.now()) {
		s.expire(ctx, req, actor)
		return nil, "", ErrExpired
	}
	format, ok := matchAccessKey(s.validators, req, accessKey)
	if !ok {
		return nil, "", ErrInvalidAccessKey
	}
	return req, format, nil
}

// ValidateAccess authorizes a public read of a signing link and records
// request.accessed without waiting for it.
func (s *SignatureRequestService) ValidateAccess(ctx context.Context, shortID, accessKey string, actor geoip.Actor) (req *models.SignatureRequest, err error) {
	defer func() { observeOperation("validate_access", err) }()

	req, format, err := s.authorize(ctx, shortID, accessKey, actor)
	if err != nil {
		return nil, err
	}

	now := s.now()
	// the mark fails once a concurrent discard or archive has landed
	marked, err := s.requests.MarkAccessed(ctx, req.ID, now)
	if err != nil {
		logger.Error("[SignatureRequest] Failed to mark access", "sign_request_id", req.ID, "error", err)
	} else if !marked {
		return nil, ErrNotFound
	} else if req.FirstAccessedAt == nil {
		req.FirstAccessedAt = &now
	}

	s.events.LogAsync(EventInput{
		SignRequestID: req.ID,
		ContractID:    req.ContractID,
		Actor:         actor,
		At:            now,
		Metadata:      models.RequestAccessedMetadata{ShortID: req.ShortID, KeyFormat: format},
	})
	return req, nil
}

type documentSigner struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type documentBundle struct {
	ContractID      string            `json:"contractId"`
	ContractName    string            `json:"contractName"`
	ContractContent string            `json:"contractContent"`
	Fields          map[string]string `json:"fields"`
	Signer          documentSigner    `json:"signer"`
	Channel         string            `json:"channel"`
	Timestamp       string            `json:"timestamp"`
}

// DocumentHash digests what the signer signed: snapshot, field values,
// signer identity, channel and signing time.
func DocumentHash(req *models.SignatureRequest, fields map[string]string, at time.Time) (string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	return ledger.Digest(documentBundle{
		ContractID:      req.ContractID,
		ContractName:    req.Snapshot.Name,
		ContractContent: req.Snapshot.Content,
		Fields:          fields,
		Signer:          documentSigner{Name: req.SignerName, Email: req.SignerEmail, Phone: req.SignerPhone},
		Channel:         req.Channel,
		Timestamp:       models.FormatEventTime(at),
	})
}

func requiredFieldsMissing(req *models.SignatureRequest, values map[string]string) error {
	for _, f := range req.Snapshot.FieldDefinitions() {
		if f.Required && strings.TrimSpace(values[f.Key]) == "" {
			label := f.Label
			if label == "" {
				label = f.Key
			}
			return fmt.Errorf("%w: el campo %s es requerido", ErrInvalidInput, label)
		}
	}
	return nil
}

// CompleteSignature signs a pending request exactly once. The status
// change, the signature events and the seal commit in one transaction;
// any failure leaves the request pending.
func (s *SignatureRequestService) CompleteSignature(ctx context.Context, in CompleteInput) (req *models.SignatureRequest, err error) {
	defer func() { observeOperation("complete", err) }()

	req, _, err = s.authorize(ctx, in.ShortID, in.AccessKey, in.Actor)
	if err != nil {
		return nil, err
	}
	if len(in.Signature) == 0 {
		return nil, fmt.Errorf("%w: firma requerida", ErrInvalidInput)
	}
	if err := requiredFieldsMissing(req, in.FieldValues); err != nil {
		return nil, err
	}
	if err := statemachine.NewSignatureRequestFSM(&models.SignatureRequest{Status: req.Status}).Sign(ctx); err != nil {
		return nil, ErrSignatureFailed
	}
	if in.Method == "" {
		in.Method = SignatureMethodDrawn
	}

	now := s.now().UTC().Truncate(ledger.Precision)
	documentHash, err := DocumentHash(req, in.FieldValues, now)
	if err != nil {
		return nil, err
	}

	stamp, err := s.authority.Timestamp(ctx, documentHash)
	if err != nil {
		logger.Error("[SignatureRequest] Timestamp authority failed", "sign_request_id", req.ID, "error", err)
		return nil, fmt.Errorf("%w: sello de tiempo no disponible", ErrSignatureFailed)
	}

	signaturePath, err := s.storeSignature(ctx, req, in.Signature)
	if err != nil {
		logger.Error("[SignatureRequest] Failed to store signature", "sign_request_id", req.ID, "error", err)
		return nil, ErrSignatureFailed
	}

	signatureMetadata, err := encodeJSON(models.SignatureMetadata{
		Method:      in.Method,
		IPAddress:   in.Actor.IPAddress,
		UserAgent:   in.Actor.UserAgent,
		FieldValues: in.FieldValues,
		Client:      in.Client,
		SignedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	qualified, err := encodeJSON(stamp)
	if err != nil {
		return nil, err
	}

	var sealHash string
	err = s.events.WithChainLock(ctx, req.ID, func(ctx context.Context) error {
		return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			ok, err := s.requests.Complete(ctx, req.ShortID, now, repository.Completion{
				SignedAt:           now,
				DocumentHash:       documentHash,
				SignatureMetadata:  signatureMetadata,
				QualifiedTimestamp: qualified,
				SignaturePath:      &signaturePath,
			})
			if err != nil {
				return err
			}
			if !ok {
				return ErrSignatureFailed
			}

			base := EventInput{SignRequestID: req.ID, ContractID: req.ContractID, Actor: in.Actor, At: now}

			started := base
			started.Metadata = models.SignatureStartedMetadata{Method: in.Method, ShortID: req.ShortID}
			if _, err := s.events.Append(ctx, started); err != nil {
				return err
			}

			if len(in.FieldValues) > 0 {
				filled := base
				filled.Metadata = models.SignatureFieldsFilledMetadata{Fields: in.FieldValues}
				if _, err := s.events.Append(ctx, filled); err != nil {
					return err
				}
			}

			completed := base
			completed.Metadata = models.SignatureCompletedMetadata{
				Method:       in.Method,
				DocumentHash: documentHash,
				SignerName:   req.SignerName,
				SignerEmail:  req.SignerEmail,
				SignerPhone:  req.SignerPhone,
				Channel:      req.Channel,
				FieldsData:   in.FieldValues,
				SignedAt:     models.FormatEventTime(now),
			}
			if _, err := s.events.Append(ctx, completed); err != nil {
				return err
			}

			_, err = s.events.AppendWithChain(ctx, base, func(chain []models.AuditEvent) (models.EventMetadata, error) {
				sealHash = ledger.SealHash(chain)
				return models.SignatureSealedMetadata{
					SealHash:       sealHash,
					ContextSeal:    ledger.ContextSeal(chain),
					SealedEvents:   countNonSeal(chain),
					DocumentHash:   documentHash,
					TimestampToken: stamp.Token,
					TSAURL:         stamp.TSAURL,
					TSAVerified:    stamp.Verified,
					SerialNumber:   stamp.SerialNumber,
					TimestampedAt:  models.FormatEventTime(stamp.Timestamp),
				}, nil
			})
			if err != nil {
				return err
			}
			return s.requests.SetSealHash(ctx, req.ID, sealHash)
		})
	})
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), signaturePath); delErr != nil {
			logger.Warn("[SignatureRequest] Failed to remove orphaned signature", "path", signaturePath, "error", delErr)
		}
		if errors.Is(err, ErrSignatureFailed) {
			return nil, err
		}
		logger.Error("[SignatureRequest] Signing transaction failed", "sign_request_id", req.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSignatureFailed, err)
	}

	req.Status = models.SignatureStatusSigned
	req.SignedAt = &now
	req.DocumentHash = &documentHash
	req.SealHash = &sealHash
	req.SignatureMetadata = &signatureMetadata
	req.QualifiedTimestamp = &qualified
	req.SignaturePath = &signaturePath

	logger.Info(fmt.Sprintf("[SignatureRequest] %s signed, seal %s", req.ID, sealHash))
	return req, nil
}

func (s *SignatureRequestService) storeSignature(ctx context.Context, req *models.SignatureRequest, image []byte) (string, error) {
	key, err := s.keys.Key(ctx, req.CustomerID)
	if err != nil {
		return "", err
	}
	sealed, err := keys.Seal(key, image, []byte(req.ID))
	if err != nil {
		return "", err
	}
	return s.blobs.Put(ctx, "signatures/"+req.CustomerID, sealed)
}

// SignatureImage decrypts the stored signature of a signed request
func (s *SignatureRequestService) SignatureImage(ctx context.Context, req *models.SignatureRequest) ([]byte, error) {
	if req.SignaturePath == nil {
		return nil, ErrNotFound
	}
	sealed, err := s.blobs.Get(ctx, *req.SignaturePath)
	if err != nil {
		return nil, err
	}
	key, err := s.keys.Key(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	return keys.Open(key, sealed, []byte(req.ID))
}

// Resend issues a new short id and access key for a pending request and
// notifies the signer again. Signer identity cannot change.
func (s *SignatureRequestService) Resend(ctx context.Context, in ResendInput) (req *models.SignatureRequest, err error) {
	defer func() { observeOperation("resend", err) }()

	req, err = s.requests.FindByID(ctx, in.CustomerID, in.ID)
	if err != nil {
		return nil, notFound(err)
	}
	if err := statemachine.NewSignatureRequestFSM(&models.SignatureRequest{Status: req.Status}).Resend(ctx); err != nil {
		return nil, ErrInvalidTransition
	}
	if err := checkSignerUnchanged(req, in); err != nil {
		return nil, err
	}

	channel := in.Channel
	if channel == "" {
		channel = req.Channel
	}
	if !models.ValidChannel(channel) {
		return nil, fmt.Errorf("%w: canal %q no soportado", ErrInvalidInput, channel)
	}
	if req.Recipient(channel) == "" && channel != models.ChannelLink {
		return nil, fmt.Errorf("%w: el firmante no tiene destino para el canal %s", ErrInvalidInput, channel)
	}
	shortID, err := NewShortID()
	if err != nil {
		return nil, err
	}
	accessKey, err := NewAccessKey()
	if err != nil {
		return nil, err
	}

	now := s.now()
	previousShortID := req.ShortID
	rot := repository.AccessRotation{
		ShortID:      shortID,
		AccessKey:    accessKey,
		SignatureURL: s.signatureURL(shortID, accessKey),
		Channel:      channel,
		ExpiresAt:    now.Add(s.settings.TTL),
		At:           now,
	}
	// a rotation lost to a concurrent resend gives the reserved send back
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if channel == models.ChannelEmail {
			if err := s.reserveEmailSend(ctx, req); err != nil {
				return err
			}
		}
		ok, err := s.requests.RotateAccess(ctx, req.ID, previousShortID, rot)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req.ShortID = rot.ShortID
	req.AccessKey = rot.AccessKey
	req.SignatureURL = rot.SignatureURL
	req.Channel = rot.Channel
	req.ExpiresAt = rot.ExpiresAt
	req.ResendCount++
	req.LastResendAt = &now

	md := models.RequestResentMetadata{
		Channel:         channel,
		Recipient:       req.Recipient(channel),
		Reason:          strings.TrimSpace(in.Reason),
		PreviousShortID: previousShortID,
		ShortID:         req.ShortID,
		Success:         true,
		EmailSendCount:  req.EmailSendCount,
	}
	if channel != models.ChannelLink {
		sent := s.notify(ctx, req, channel, true, in.Actor)
		md.Success = sent.Success
		md.ProviderID = sent.ProviderID
		md.Error = sent.Error
	}
	s.events.Log(ctx, EventInput{
		SignRequestID: req.ID,
		ContractID:    req.ContractID,
		Actor:         in.Actor,
		Metadata:      md,
	})

	return req, nil
}

func checkSignerUnchanged(req *models.SignatureRequest, in ResendInput) error {
	if in.SignerName != nil && strings.TrimSpace(*in.SignerName) != strings.TrimSpace(req.SignerName) {
		return ErrSignerDataImmutable
	}
	if in.SignerEmail != nil && !strings.EqualFold(strings.TrimSpace(*in.SignerEmail), strings.TrimSpace(req.SignerEmail)) {
		return ErrSignerDataImmutable
	}
	if in.SignerPhone != nil && strings.TrimSpace(*in.SignerPhone) != strings.TrimSpace(req.SignerPhone) {
		return ErrSignerDataImmutable
	}
	return nil
}

// Archive moves a pending request to archived
func (s *SignatureRequestService) Archive(ctx context.Context, customerID, id, reason string, actor geoip.Actor) (req *models.SignatureRequest, err error) {
	defer func() { observeOperation("archive", err) }()

	req, err = s.requests.FindByID(ctx, customerID, id)
	if err != nil {
		return nil, notFound(err)
	}
	previous := req.Status
	if err := statemachine.NewSignatureRequestFSM(&models.SignatureRequest{Status: req.Status}).Archive(ctx); err != nil {
		return nil, ErrInvalidTransition
	}

	now := s.now()
	reason = strings.TrimSpace(reason)
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	ok, err := s.requests.Transition(ctx, req.ID, statemachine.Sources(statemachine.EventArchive), repository.StatusChange{
		To:     models.SignatureStatusArchived,
		At:     now,
		Reason: reasonPtr,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	req.Status = models.SignatureStatusArchived
	req.ArchivedAt = &now
	req.ArchiveReason = reasonPtr

	s.events.Log(ctx, EventInput{
		SignRequestID: req.ID,
		ContractID:    req.ContractID,
		Actor:         actor,
		At:            now,
		Metadata:      models.RequestArchivedMetadata{Reason: reason, PreviousStatus: previous},
	})
	return req, nil
}

// Discard removes a pending or archived request. Once the signing link was
// opened the request is only marked discarded so the evidence survives;
// otherwise the row is deleted. The ledger is kept in both cases.
func (s *SignatureRequestService) Discard(ctx context.Context, customerID, id, reason string, actor geoip.Actor) (result *DiscardResult, err error) {
	defer func() { observeOperation("discard", err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	req, err := s.requests.FindByID(ctx, customerID, id)
	if err != nil {
		return nil, notFound(err)
	}
	previous := req.Status
	if err := statemachine.NewSignatureRequestFSM(&models.SignatureRequest{Status: req.Status}).Discard(ctx); err != nil {
		return nil, ErrInvalidTransition
	}

	err = s.events.WithChainLock(ctx, req.ID, func(ctx context.Context) error {
		accessed := req.FirstAccessedAt != nil
		if !accessed {
			var err error
			accessed, err = s.events.HasEvent(ctx, req.ID, models.EventRequestAccessed)
			if err != nil {
				return err
			}
		}

		now := s.now()
		mode := models.DeletionModeSoft
		if !accessed {
			// an access racing this delete leaves the row in place
			deleted, err := s.requests.DeleteUnopened(ctx, req.ID, statemachine.Sources(statemachine.EventDiscard))
			if err != nil {
				return err
			}
			if deleted {
				mode = models.DeletionModeHard
			}
		}
		if mode == models.DeletionModeSoft {
			ok, err := s.requests.Transition(ctx, req.ID, statemachine.Sources(statemachine.EventDiscard), repository.StatusChange{
				To:     models.SignatureStatusDiscarded,
				At:     now,
				Reason: &reason,
			})
			if err != nil {
				return err
			}
			if !ok {
				return ErrInvalidTransition
			}
			req.Status = models.SignatureStatusDiscarded
			req.DiscardedAt = &now
			req.DiscardReason = &reason
		}

		s.events.Log(ctx, EventInput{
			SignRequestID: req.ID,
			ContractID:    req.ContractID,
			Actor:         actor,
			At:            now,
			Metadata:      models.RequestDeletedMetadata{Reason: reason, Mode: mode, PreviousStatus: previous},
		})
		result = &DiscardResult{Mode: mode, Request: req}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// expire removes a pending request past its deadline and records why.
// Losing the race to a resend or a completion is not an error.
func (s *SignatureRequestService) expire(ctx context.Context, req *models.SignatureRequest, actor geoip.Actor) bool {
	ok, err := s.requests.DeleteExpired(ctx, req.ID, s.now())
	if err != nil {
		logger.Error("[SignatureRequest] Failed to delete expired request", "sign_request_id", req.ID, "error", err)
		return false
	}
	if !ok {
		return false
	}
	s.events.Log(ctx, EventInput{
		SignRequestID: req.ID,
		ContractID:    req.ContractID,
		Actor:         actor,
		Metadata: models.RequestDeletedMetadata{
			Reason:         DeleteReasonExpired,
			Mode:           models.DeletionModeHard,
			PreviousStatus: models.SignatureStatusPending,
		},
	})
	return true
}

// SweepExpired deletes pending requests past their deadline in batches
func (s *SignatureRequestService) SweepExpired(ctx context.Context) (int, error) {
	const batch = 100
	removed := 0
	for {
		reqs, err := s.requests.FindExpiredPending(ctx, s.now(), batch)
		if err != nil {
			return removed, err
		}
		swept := 0
		for i := range reqs {
			if s.expire(ctx, &reqs[i], geoip.System()) {
				swept++
			}
		}
		removed += swept
		telemetry.ExpiredRequestsSweptTotal.Add(float64(swept))
		if len(reqs) < batch || swept == 0 {
			break
		}
	}
	if removed > 0 {
		logger.Info(fmt.Sprintf("[SignatureRequest] Expiry sweep removed %d requests", removed))
	}
	return removed, nil
}

// authorizeSigned checks the access key of a signed request for the
// post-signature public endpoints.
func (s *SignatureRequestService) authorizeSigned(ctx context.Context, shortID, accessKey string) (*models.SignatureRequest, error) {
	req, err := s.requests.FindByShortID(ctx, shortID)
	if err != nil {
		return nil, notFound(err)
	}
	if !req.IsTerminal() {
		return nil, ErrInvalidTransition
	}
	if _, ok := matchAccessKey(s.validators, req, accessKey); !ok {
		return nil, ErrInvalidAccessKey
	}
	return req, nil
}

// DownloadDocument authorizes a download of the signed document and
// records pdf.downloaded.
func (s *SignatureRequestService) DownloadDocument(ctx context.Context, shortID, accessKey string, actor geoip.Actor) (req *models.SignatureRequest, err error) {
	defer func() { observeOperation("download", err) }()

	req, err = s.authorizeSigned(ctx, shortID, accessKey)
	if err != nil {
		return nil, err
	}
	s.events.LogAsync(EventInput{
		SignRequestID: req.ID,
		ContractID:    req.ContractID,
		Actor:         actor,
		Metadata: models.PDFDownloadedMetadata{
			FileName:     SignedDocumentFileName(req),
			DocumentHash: derefString(req.DocumentHash),
		},
	})
	return req, nil
}

// VerifyDocument compares a submitted hash with the signed document hash
// and records pdf.verified.
func (s *SignatureRequestService) VerifyDocument(ctx context.Context, shortID, accessKey, submittedHash string, actor geoip.Actor) (match bool, err error) {
	defer func() { observeOperation("verify_document", err) }()

	req, err := s.authorizeSigned(ctx, shortID, accessKey)
	if err != nil {
		return false, err
	}
	submittedHash = strings.ToLower(strings.TrimSpace(submittedHash))
	if submittedHash == "" {
		return false, fmt.Errorf("%w: hash requerido", ErrInvalidInput)
	}

	match = req.DocumentHash != nil && constantTimeEqual(*req.DocumentHash, submittedHash)
	s.events.LogAsync(EventInput{
		SignRequestID: req.ID,
		ContractID:    req.ContractID,
		Actor:         actor,
		Metadata:      models.PDFVerifiedMetadata{SubmittedHash: submittedHash, Match: match},
	})
	return match, nil
}

// SignedDocumentFileName is the download name of a signed document
func SignedDocumentFileName(req *models.SignatureRequest) string {
	return fmt.Sprintf("documento_firmado_%s.pdf", req.ShortID)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return string(b), nil
}

func decodeJSON(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}
