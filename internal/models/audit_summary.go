package models

import "time"

// AuditTrail is the ordered ledger of one signature request plus counters.
// It is derived on read and never persisted.
type AuditTrail struct {
	SignRequestID  string       `json:"sign_request_id"`
	Events         []AuditEvent `json:"-"`
	TotalEvents    int          `json:"total_events"`
	TotalAccesses  int          `json:"total_accesses"`
	TotalDownloads int          `json:"total_downloads"`
	TotalResends   int          `json:"total_resends"`
	Sealed         bool         `json:"sealed"`
	SealHash       string       `json:"seal_hash,omitempty"`
}

// NewAuditTrail counts the ledger events of one request
func NewAuditTrail(signRequestID string, events []AuditEvent) AuditTrail {
	trail := AuditTrail{SignRequestID: signRequestID, Events: events, TotalEvents: len(events)}
	for i := range events {
		switch events[i].EventType {
		case EventRequestAccessed:
			trail.TotalAccesses++
		case EventPDFDownloaded:
			trail.TotalDownloads++
		case EventRequestResent:
			trail.TotalResends++
		case EventSignatureSealed:
			if md, err := events[i].DecodeMetadata(); err == nil {
				trail.Sealed = true
				trail.SealHash = md.(SignatureSealedMetadata).SealHash
			}
		}
	}
	return trail
}

// SummaryActor is the captured context of one summarized event
type SummaryActor struct {
	UserID    *string      `json:"user_id,omitempty"`
	IPAddress string       `json:"ip_address"`
	UserAgent string       `json:"user_agent"`
	Geo       *GeoLocation `json:"geo,omitempty"`
}

type SummaryCreated struct {
	At           time.Time    `json:"at"`
	Channel      string       `json:"channel"`
	ContractName string       `json:"contract_name"`
	Actor        SummaryActor `json:"actor"`
}

type SummarySent struct {
	At         time.Time `json:"at"`
	Channel    string    `json:"channel"`
	Recipient  string    `json:"recipient"`
	Success    bool      `json:"success"`
	ProviderID string    `json:"provider_id,omitempty"`
}

type SummaryResend struct {
	At        time.Time `json:"at"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Reason    string    `json:"reason,omitempty"`
	Success   bool      `json:"success"`
}

type SummaryAccess struct {
	At    time.Time    `json:"at"`
	Actor SummaryActor `json:"actor"`
}

type SummarySignature struct {
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  time.Time         `json:"completed_at"`
	Method       string            `json:"method"`
	SignerName   string            `json:"signer_name"`
	SignerEmail  string            `json:"signer_email,omitempty"`
	DocumentHash string            `json:"document_hash"`
	FieldsData   map[string]string `json:"fields_data,omitempty"`
	Actor        SummaryActor      `json:"actor"`
}

type SummarySealed struct {
	At            time.Time `json:"at"`
	SealHash      string    `json:"seal_hash"`
	SealedEvents  int       `json:"sealed_events"`
	TSAURL        string    `json:"tsa_url,omitempty"`
	TSAVerified   bool      `json:"tsa_verified"`
	TimestampedAt string    `json:"timestamped_at,omitempty"`
}

type SummaryDownload struct {
	At       time.Time    `json:"at"`
	FileName string       `json:"file_name"`
	Actor    SummaryActor `json:"actor"`
}

type SummaryVerification struct {
	At            time.Time `json:"at"`
	SubmittedHash string    `json:"submitted_hash"`
	Match         bool      `json:"match"`
}

// AuditSummary is the report-friendly projection of an AuditTrail
type AuditSummary struct {
	Created       *SummaryCreated       `json:"created"`
	Sent          *SummarySent          `json:"sent,omitempty"`
	Resends       []SummaryResend       `json:"resends"`
	Accesses      []SummaryAccess       `json:"accesses"`
	Signature     *SummarySignature     `json:"signature,omitempty"`
	Sealed        *SummarySealed        `json:"sealed,omitempty"`
	Downloads     []SummaryDownload     `json:"downloads"`
	Verifications []SummaryVerification `json:"verifications"`
}
