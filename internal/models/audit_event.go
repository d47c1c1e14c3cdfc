package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed set of lifecycle tags recorded in the audit ledger
type EventType string

const (
	EventRequestCreated  EventType = "request.created"
	EventRequestSent     EventType = "request.sent"
	EventRequestResent   EventType = "request.resent"
	EventRequestArchived EventType = "request.archived"
	EventRequestDeleted  EventType = "request.deleted"
	EventRequestAccessed EventType = "request.accessed"
	EventRequestViewed   EventType = "request.viewed"

	EventSignatureStarted      EventType = "signature.started"
	EventSignatureFieldsFilled EventType = "signature.fields_filled"
	EventSignatureCompleted    EventType = "signature.completed"
	EventSignatureSealed       EventType = "signature.sealed"

	EventPDFDownloaded         EventType = "pdf.downloaded"
	EventPDFVerified           EventType = "pdf.verified"
	EventCertificateDownloaded EventType = "certificate.downloaded"

	EventNotificationSent   EventType = "notification.sent"
	EventNotificationFailed EventType = "notification.failed"

	EventPaymentProcessed EventType = "payment.processed"
	EventPaymentRefunded  EventType = "payment.refunded"
)

// AllEventTypes lists every known event type in ledger order of appearance
var AllEventTypes = []EventType{
	EventRequestCreated, EventRequestSent, EventRequestResent, EventRequestArchived,
	EventRequestDeleted, EventRequestAccessed, EventRequestViewed,
	EventSignatureStarted, EventSignatureFieldsFilled, EventSignatureCompleted, EventSignatureSealed,
	EventPDFDownloaded, EventPDFVerified, EventCertificateDownloaded,
	EventNotificationSent, EventNotificationFailed,
	EventPaymentProcessed, EventPaymentRefunded,
}

// Valid reports whether t is one of the known event types
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// GeoLocation is the best-effort location resolved from the client IP
type GeoLocation struct {
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
}

// AuditEvent is one immutable, hash-linked fact about a signature request.
// Rows are insert-only; Sequence is dense per SignRequestID and the unique
// index on (sign_request_id, sequence) rejects a forked chain. ContextHash
// binds the actor fields and the sequence to Hash.
type AuditEvent struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	SignRequestID string    `gorm:"size:36;not null;index:idx_audit_events_chain,priority:1;uniqueIndex:idx_audit_events_seq,priority:1" json:"sign_request_id"`
	ContractID    string    `gorm:"size:64;not null;index" json:"contract_id"`
	UserID        *string   `gorm:"size:36;index" json:"user_id,omitempty"`
	EventType     EventType `gorm:"size:40;not null;index" json:"event_type"`
	Sequence      int       `gorm:"not null;uniqueIndex:idx_audit_events_seq,priority:2" json:"sequence"`
	Timestamp     time.Time `gorm:"not null;index:idx_audit_events_chain,priority:2" json:"timestamp"`
	IPAddress     string    `gorm:"size:45" json:"ip_address"`
	UserAgent     string    `gorm:"size:512" json:"user_agent"`
	GeoLocation   *string   `gorm:"type:jsonb" json:"-"`
	Metadata      string    `gorm:"type:jsonb;not null;default:'{}'" json:"-"`
	Hash          string    `gorm:"size:64;not null" json:"hash"`
	PreviousHash  *string   `gorm:"size:64" json:"previous_hash,omitempty"`
	ContextHash   string    `gorm:"size:64" json:"context_hash"`
}

// TableName specifies the table name for AuditEvent
func (AuditEvent) TableName() string {
	return "audit_events"
}

// Geo decodes the stored location, nil when none was resolved
func (e *AuditEvent) Geo() *GeoLocation {
	if e.GeoLocation == nil || *e.GeoLocation == "" {
		return nil
	}
	var geo GeoLocation
	if err := json.Unmarshal([]byte(*e.GeoLocation), &geo); err != nil {
		return nil
	}
	return &geo
}

// SetGeo encodes the location onto the event
func (e *AuditEvent) SetGeo(geo *GeoLocation) {
	if geo == nil {
		e.GeoLocation = nil
		return
	}
	b, _ := json.Marshal(geo)
	s := string(b)
	e.GeoLocation = &s
}

// DecodeMetadata returns the typed metadata variant for the event type
func (e *AuditEvent) DecodeMetadata() (EventMetadata, error) {
	return DecodeMetadata(e.EventType, []byte(e.Metadata))
}

// SetMetadata encodes a metadata variant. The variant must belong to the event type.
func (e *AuditEvent) SetMetadata(md EventMetadata) error {
	if md == nil {
		e.Metadata = "{}"
		return nil
	}
	if md.EventType() != e.EventType {
		return fmt.Errorf("metadata for %s cannot be attached to %s", md.EventType(), e.EventType)
	}
	b, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	e.Metadata = string(b)
	return nil
}

// PrevHash returns the previous hash or "" for the first event of a chain
func (e *AuditEvent) PrevHash() string {
	if e.PreviousHash == nil {
		return ""
	}
	return *e.PreviousHash
}

// AuditEventResponse is the JSON response format for ledger events
type AuditEventResponse struct {
	ID            string          `json:"id"`
	SignRequestID string          `json:"sign_request_id"`
	ContractID    string          `json:"contract_id"`
	UserID        *string         `json:"user_id,omitempty"`
	EventType     EventType       `json:"event_type"`
	Sequence      int             `json:"sequence"`
	Timestamp     time.Time       `json:"timestamp"`
	IPAddress     string          `json:"ip_address"`
	UserAgent     string          `json:"user_agent"`
	GeoLocation   *GeoLocation    `json:"geo_location,omitempty"`
	Metadata      json.RawMessage `json:"metadata"`
	Hash          string          `json:"hash"`
	PreviousHash  *string         `json:"previous_hash,omitempty"`
	ContextHash   string          `json:"context_hash"`
}

// ToResponse converts AuditEvent to AuditEventResponse
func (e *AuditEvent) ToResponse() AuditEventResponse {
	md := json.RawMessage(e.Metadata)
	if len(md) == 0 {
		md = json.RawMessage("{}")
	}
	return AuditEventResponse{
		ID:            e.ID,
		SignRequestID: e.SignRequestID,
		ContractID:    e.ContractID,
		UserID:        e.UserID,
		EventType:     e.EventType,
		Sequence:      e.Sequence,
		Timestamp:     e.Timestamp,
		IPAddress:     e.IPAddress,
		UserAgent:     e.UserAgent,
		GeoLocation:   e.Geo(),
		Metadata:      md,
		Hash:          e.Hash,
		PreviousHash:  e.PreviousHash,
		ContextHash:   e.ContextHash,
	}
}
