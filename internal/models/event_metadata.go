package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EventMetadata is the closed union of per-event payloads. Each variant
// carries only the fields relevant to its event type.
type EventMetadata interface {
	EventType() EventType
}

type RequestCreatedMetadata struct {
	Channel      string `json:"channel"`
	SignerEmail  string `json:"signer_email,omitempty"`
	SignerPhone  string `json:"signer_phone,omitempty"`
	ShortID      string `json:"short_id"`
	ContractName string `json:"contract_name"`
	ExpiresAt    string `json:"expires_at"`
	Reused       bool   `json:"reused,omitempty"`
}

type RequestSentMetadata struct {
	Channel    string `json:"channel"`
	Recipient  string `json:"recipient"`
	Success    bool   `json:"success"`
	ProviderID string `json:"provider_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type RequestResentMetadata struct {
	Channel         string `json:"channel"`
	Recipient       string `json:"recipient"`
	Reason          string `json:"reason,omitempty"`
	PreviousShortID string `json:"previous_short_id"`
	ShortID         string `json:"short_id"`
	Success         bool   `json:"success"`
	ProviderID      string `json:"provider_id,omitempty"`
	Error           string `json:"error,omitempty"`
	EmailSendCount  int    `json:"email_send_count"`
}

type RequestArchivedMetadata struct {
	Reason         string `json:"reason,omitempty"`
	PreviousStatus string `json:"previous_status"`
}

// Deletion modes recorded on request.deleted
const (
	DeletionModeSoft = "soft"
	DeletionModeHard = "hard"
)

type RequestDeletedMetadata struct {
	Reason         string `json:"reason"`
	Mode           string `json:"mode"`
	PreviousStatus string `json:"previous_status"`
}

type RequestAccessedMetadata struct {
	ShortID   string `json:"short_id"`
	KeyFormat string `json:"key_format"`
}

type RequestViewedMetadata struct {
	ShortID string `json:"short_id"`
	Section string `json:"section,omitempty"`
}

type SignatureStartedMetadata struct {
	Method  string `json:"method"`
	ShortID string `json:"short_id"`
}

type SignatureFieldsFilledMetadata struct {
	Fields map[string]string `json:"fields"`
}

type SignatureCompletedMetadata struct {
	Method       string            `json:"method"`
	DocumentHash string            `json:"document_hash"`
	SignerName   string            `json:"signer_name"`
	SignerEmail  string            `json:"signer_email,omitempty"`
	SignerPhone  string            `json:"signer_phone,omitempty"`
	Channel      string            `json:"channel"`
	FieldsData   map[string]string `json:"fields_data,omitempty"`
	SignedAt     string            `json:"signed_at"`
}

type SignatureSealedMetadata struct {
	SealHash       string `json:"seal_hash"`
	ContextSeal    string `json:"context_seal,omitempty"`
	SealedEvents   int    `json:"sealed_events"`
	DocumentHash   string `json:"document_hash"`
	TimestampToken string `json:"timestamp_token,omitempty"`
	TSAURL         string `json:"tsa_url,omitempty"`
	TSAVerified    bool   `json:"tsa_verified"`
	SerialNumber   string `json:"serial_number,omitempty"`
	TimestampedAt  string `json:"timestamped_at,omitempty"`
}

type PDFDownloadedMetadata struct {
	FileName     string `json:"file_name"`
	DocumentHash string `json:"document_hash,omitempty"`
}

type PDFVerifiedMetadata struct {
	SubmittedHash string `json:"submitted_hash"`
	Match         bool   `json:"match"`
}

type CertificateDownloadedMetadata struct {
	Format string `json:"format"`
}

type NotificationSentMetadata struct {
	Channel    string `json:"channel"`
	Recipient  string `json:"recipient"`
	ProviderID string `json:"provider_id,omitempty"`
}

type NotificationFailedMetadata struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

type PaymentProcessedMetadata struct {
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

type PaymentRefundedMetadata struct {
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Reason    string  `json:"reason,omitempty"`
}

func (RequestCreatedMetadata) EventType() EventType        { return EventRequestCreated }
func (RequestSentMetadata) EventType() EventType           { return EventRequestSent }
func (RequestResentMetadata) EventType() EventType         { return EventRequestResent }
func (RequestArchivedMetadata) EventType() EventType       { return EventRequestArchived }
func (RequestDeletedMetadata) EventType() EventType        { return EventRequestDeleted }
func (RequestAccessedMetadata) EventType() EventType       { return EventRequestAccessed }
func (RequestViewedMetadata) EventType() EventType         { return EventRequestViewed }
func (SignatureStartedMetadata) EventType() EventType      { return EventSignatureStarted }
func (SignatureFieldsFilledMetadata) EventType() EventType { return EventSignatureFieldsFilled }
func (SignatureCompletedMetadata) EventType() EventType    { return EventSignatureCompleted }
func (SignatureSealedMetadata) EventType() EventType       { return EventSignatureSealed }
func (PDFDownloadedMetadata) EventType() EventType         { return EventPDFDownloaded }
func (PDFVerifiedMetadata) EventType() EventType           { return EventPDFVerified }
func (CertificateDownloadedMetadata) EventType() EventType { return EventCertificateDownloaded }
func (NotificationSentMetadata) EventType() EventType      { return EventNotificationSent }
func (NotificationFailedMetadata) EventType() EventType    { return EventNotificationFailed }
func (PaymentProcessedMetadata) EventType() EventType      { return EventPaymentProcessed }
func (PaymentRefundedMetadata) EventType() EventType       { return EventPaymentRefunded }

// DecodeMetadata decodes raw JSON into the variant registered for t
func DecodeMetadata(t EventType, raw []byte) (EventMetadata, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	var md EventMetadata
	var err error
	switch t {
	case EventRequestCreated:
		md, err = decodeInto[RequestCreatedMetadata](raw)
	case EventRequestSent:
		md, err = decodeInto[RequestSentMetadata](raw)
	case EventRequestResent:
		md, err = decodeInto[RequestResentMetadata](raw)
	case EventRequestArchived:
		md, err = decodeInto[RequestArchivedMetadata](raw)
	case EventRequestDeleted:
		md, err = decodeInto[RequestDeletedMetadata](raw)
	case EventRequestAccessed:
		md, err = decodeInto[RequestAccessedMetadata](raw)
	case EventRequestViewed:
		md, err = decodeInto[RequestViewedMetadata](raw)
	case EventSignatureStarted:
		md, err = decodeInto[SignatureStartedMetadata](raw)
	case EventSignatureFieldsFilled:
		md, err = decodeInto[SignatureFieldsFilledMetadata](raw)
	case EventSignatureCompleted:
		md, err = decodeInto[SignatureCompletedMetadata](raw)
	case EventSignatureSealed:
		md, err = decodeInto[SignatureSealedMetadata](raw)
	case EventPDFDownloaded:
		md, err = decodeInto[PDFDownloadedMetadata](raw)
	case EventPDFVerified:
		md, err = decodeInto[PDFVerifiedMetadata](raw)
	case EventCertificateDownloaded:
		md, err = decodeInto[CertificateDownloadedMetadata](raw)
	case EventNotificationSent:
		md, err = decodeInto[NotificationSentMetadata](raw)
	case EventNotificationFailed:
		md, err = decodeInto[NotificationFailedMetadata](raw)
	case EventPaymentProcessed:
		md, err = decodeInto[PaymentProcessedMetadata](raw)
	case EventPaymentRefunded:
		md, err = decodeInto[PaymentRefundedMetadata](raw)
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s metadata: %w", t, err)
	}
	return md, nil
}

func decodeInto[T EventMetadata](raw []byte) (EventMetadata, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// FormatEventTime renders a timestamp the way the ledger hashes it
func FormatEventTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
