package models

import (
	"time"
)

// AuditLog is the older unstructured audit format. Rows are written by
// callers that predate the ledger and, while dual-write is enabled, by the
// legacy bridge for every ledger event.
type AuditLog struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     *string    `gorm:"size:36" json:"user_id"`
	Action     string     `gorm:"size:50;not null" json:"action"` // CREATE, SEND, ACCESS, SIGN, ARCHIVE, DELETE...
	Entity     string     `gorm:"size:50;not null;index:idx_audit_logs_entity,priority:1" json:"entity"`
	EntityID   string     `gorm:"size:64;index:idx_audit_logs_entity,priority:2" json:"entity_id"`
	ContractID string     `gorm:"size:64" json:"contract_id"`
	Details    string     `gorm:"type:text" json:"details"` // free text or loose JSON
	IPAddress  string     `gorm:"size:45" json:"ip_address"`
	UserAgent  string     `gorm:"size:255" json:"user_agent"`
	MigratedAt *time.Time `json:"migrated_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}

// Entity name used by signature request rows
const AuditEntitySignatureRequest = "SignatureRequest"
