package models

import (
	"encoding/json"
	"strings"
	"time"
)

// SignatureRequest status constants
const (
	SignatureStatusPending   = "pending"
	SignatureStatusSigned    = "signed"
	SignatureStatusArchived  = "archived"
	SignatureStatusDiscarded = "discarded"
	// SignatureStatusCompleted is written by older clients; it is terminal like signed.
	SignatureStatusCompleted = "completed"
	// SignatureStatusExpired is never stored. It is derived from ExpiresAt on read.
	SignatureStatusExpired = "expired"
)

// Notification channels
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelLink  = "link"
)

// ValidChannel reports whether ch is a supported delivery channel
func ValidChannel(ch string) bool {
	switch ch {
	case ChannelEmail, ChannelSMS, ChannelLink:
		return true
	}
	return false
}

// ContractSnapshot is the immutable copy of the contract a signer sees.
// It is written once with the request and never updated in place.
type ContractSnapshot struct {
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Fields      string    `gorm:"type:jsonb;not null;default:'[]'" json:"-"`
	CapturedAt  time.Time `gorm:"not null" json:"captured_at"`
}

// FieldDefinitions decodes the dynamic field definitions of the snapshot
func (s ContractSnapshot) FieldDefinitions() []ContractField {
	var fields []ContractField
	if s.Fields == "" {
		return fields
	}
	_ = json.Unmarshal([]byte(s.Fields), &fields)
	return fields
}

// EmailSend is one entry of the notification tracking history
type EmailSend struct {
	At         time.Time `json:"at"`
	Channel    string    `json:"channel,omitempty"`
	Recipient  string    `json:"recipient"`
	Success    bool      `json:"success"`
	ProviderID string    `json:"provider_id,omitempty"`
}

// QualifiedTimestamp is the attestation returned by the timestamp authority
type QualifiedTimestamp struct {
	Timestamp    time.Time `json:"timestamp"`
	TSAURL       string    `json:"tsa_url"`
	Verified     bool      `json:"verified"`
	SerialNumber string    `json:"serial_number,omitempty"`
	Token        string    `json:"token,omitempty"`
}

// SignatureMetadata is captured from the signing client on completion
type SignatureMetadata struct {
	Method      string            `json:"method"`
	IPAddress   string            `json:"ip_address"`
	UserAgent   string            `json:"user_agent"`
	Geo         *GeoLocation      `json:"geo,omitempty"`
	FieldValues map[string]string `json:"field_values,omitempty"`
	Client      map[string]string `json:"client,omitempty"`
	SignedAt    time.Time         `json:"signed_at"`
}

// SignatureRequest is a request for one signer to sign a contract snapshot
type SignatureRequest struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	ShortID    string `gorm:"size:32;not null;uniqueIndex" json:"short_id"`
	AccessKey  string `gorm:"size:16;not null" json:"-"`
	CustomerID string `gorm:"size:36;not null;index" json:"customer_id"`
	ContractID string `gorm:"size:64;not null;index:idx_signature_requests_signer,priority:1" json:"contract_id"`
	CreatedBy  string `gorm:"size:36" json:"created_by"`
	Status     string `gorm:"size:20;not null;default:pending;index" json:"status"`
	Channel    string `gorm:"size:20;not null" json:"channel"`

	Snapshot ContractSnapshot `gorm:"embedded;embeddedPrefix:snapshot_" json:"contract_snapshot"`

	SignerName  string `gorm:"size:255;not null" json:"signer_name"`
	SignerEmail string `gorm:"size:255;index:idx_signature_requests_signer,priority:2" json:"signer_email"`
	SignerPhone string `gorm:"size:32" json:"signer_phone"`
	ClientName  string `gorm:"size:255" json:"client_name"`
	ClientTaxID string `gorm:"size:64" json:"client_tax_id"`

	SignatureURL    string     `gorm:"size:512" json:"signature_url"`
	ExpiresAt       time.Time  `gorm:"not null;index" json:"expires_at"`
	EmailSendCount  int        `gorm:"not null;default:0" json:"email_send_count"`
	EmailHistory    string     `gorm:"type:jsonb;not null;default:'[]'" json:"-"`
	LastSentAt      *time.Time `json:"last_sent_at"`
	ResendCount     int        `gorm:"not null;default:0" json:"resend_count"`
	LastResendAt    *time.Time `json:"last_resend_at"`
	ArchivedAt      *time.Time `json:"archived_at"`
	ArchiveReason   *string    `gorm:"type:text" json:"archive_reason"`
	DiscardedAt     *time.Time `json:"discarded_at"`
	DiscardReason   *string    `gorm:"type:text" json:"discard_reason"`
	FirstAccessedAt *time.Time `json:"first_accessed_at"`

	SignedAt           *time.Time `json:"signed_at"`
	DocumentHash       *string    `gorm:"size:64" json:"document_hash"`
	SignatureMetadata  *string    `gorm:"type:jsonb" json:"-"`
	QualifiedTimestamp *string    `gorm:"type:jsonb" json:"-"`
	SignaturePath      *string    `gorm:"size:512" json:"-"`
	SealHash           *string    `gorm:"size:64" json:"seal_hash"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for SignatureRequest
func (SignatureRequest) TableName() string {
	return "signature_requests"
}

// IsTerminal returns true once the request has been signed
func (r *SignatureRequest) IsTerminal() bool {
	return r.Status == SignatureStatusSigned || r.Status == SignatureStatusCompleted
}

// IsExpired returns true if a pending request passed its deadline
func (r *SignatureRequest) IsExpired(now time.Time) bool {
	return r.Status == SignatureStatusPending && now.After(r.ExpiresAt)
}

// EffectiveStatus returns the stored status with the virtual expired state applied
func (r *SignatureRequest) EffectiveStatus(now time.Time) string {
	if r.IsExpired(now) {
		return SignatureStatusExpired
	}
	if r.Status == SignatureStatusCompleted {
		return SignatureStatusSigned
	}
	return r.Status
}

// Recipient returns the address used for the given channel
func (r *SignatureRequest) Recipient(channel string) string {
	if channel == ChannelSMS {
		return r.SignerPhone
	}
	return r.SignerEmail
}

// Emails decodes the email tracking history
func (r *SignatureRequest) Emails() []EmailSend {
	var sends []EmailSend
	if r.EmailHistory == "" {
		return sends
	}
	_ = json.Unmarshal([]byte(r.EmailHistory), &sends)
	return sends
}

// Timestamp decodes the stored qualified timestamp
func (r *SignatureRequest) Timestamp() *QualifiedTimestamp {
	if r.QualifiedTimestamp == nil {
		return nil
	}
	var ts QualifiedTimestamp
	if err := json.Unmarshal([]byte(*r.QualifiedTimestamp), &ts); err != nil {
		return nil
	}
	return &ts
}

// SameSigner reports whether the identity matches the stored signer (email compared case-insensitively)
func (r *SignatureRequest) SameSigner(email, phone string) bool {
	if email != "" {
		return strings.EqualFold(strings.TrimSpace(r.SignerEmail), strings.TrimSpace(email))
	}
	return phone != "" && strings.TrimSpace(r.SignerPhone) == strings.TrimSpace(phone)
}

// SignatureRequestResponse is the JSON response format for authenticated callers
type SignatureRequestResponse struct {
	ID                 string              `json:"id"`
	ShortID            string              `json:"short_id"`
	ContractID         string              `json:"contract_id"`
	Status             string              `json:"status"`
	Channel            string              `json:"channel"`
	ContractName       string              `json:"contract_name"`
	SignerName         string              `json:"signer_name"`
	SignerEmail        string              `json:"signer_email"`
	SignerPhone        string              `json:"signer_phone"`
	ClientName         string              `json:"client_name"`
	ClientTaxID        string              `json:"client_tax_id"`
	SignatureURL       string              `json:"signature_url"`
	ExpiresAt          time.Time           `json:"expires_at"`
	EmailSendCount     int                 `json:"email_send_count"`
	EmailHistory       []EmailSend         `json:"email_history"`
	ResendCount        int                 `json:"resend_count"`
	ArchiveReason      *string             `json:"archive_reason,omitempty"`
	DiscardReason      *string             `json:"discard_reason,omitempty"`
	SignedAt           *time.Time          `json:"signed_at,omitempty"`
	DocumentHash       *string             `json:"document_hash,omitempty"`
	SealHash           *string             `json:"seal_hash,omitempty"`
	QualifiedTimestamp *QualifiedTimestamp `json:"qualified_timestamp,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// ToResponse converts SignatureRequest to SignatureRequestResponse
func (r *SignatureRequest) ToResponse(now time.Time) SignatureRequestResponse {
	return SignatureRequestResponse{
		ID:                 r.ID,
		ShortID:            r.ShortID,
		ContractID:         r.ContractID,
		Status:             r.EffectiveStatus(now),
		Channel:            r.Channel,
		ContractName:       r.Snapshot.Name,
		SignerName:         r.SignerName,
		SignerEmail:        r.SignerEmail,
		SignerPhone:        r.SignerPhone,
		ClientName:         r.ClientName,
		ClientTaxID:        r.ClientTaxID,
		SignatureURL:       r.SignatureURL,
		ExpiresAt:          r.ExpiresAt,
		EmailSendCount:     r.EmailSendCount,
		EmailHistory:       r.Emails(),
		ResendCount:        r.ResendCount,
		ArchiveReason:      r.ArchiveReason,
		DiscardReason:      r.DiscardReason,
		SignedAt:           r.SignedAt,
		DocumentHash:       r.DocumentHash,
		SealHash:           r.SealHash,
		QualifiedTimestamp: r.Timestamp(),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// PublicSignatureRequest is the display-safe view returned on the public endpoints.
// It never carries the access key, stored signature or internal ids.
type PublicSignatureRequest struct {
	ShortID     string          `json:"short_id"`
	Status      string          `json:"status"`
	SignerName  string          `json:"signer_name"`
	ClientName  string          `json:"client_name"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Contract    PublicContract  `json:"contract"`
	Fields      []ContractField `json:"fields"`
	RequestedAt time.Time       `json:"requested_at"`
}

// PublicContract is the snapshot content shown to the signer
type PublicContract struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// ToPublic converts SignatureRequest to its display-safe projection
func (r *SignatureRequest) ToPublic(now time.Time) PublicSignatureRequest {
	return PublicSignatureRequest{
		ShortID:    r.ShortID,
		Status:     r.EffectiveStatus(now),
		SignerName: r.SignerName,
		ClientName: r.ClientName,
		ExpiresAt:  r.ExpiresAt,
		Contract: PublicContract{
			Name:        r.Snapshot.Name,
			Description: r.Snapshot.Description,
			Content:     r.Snapshot.Content,
		},
		Fields:      r.Snapshot.FieldDefinitions(),
		RequestedAt: r.CreatedAt,
	}
}
