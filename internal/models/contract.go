package models

import (
	"time"
)

// Contract is the live, editable contract owned by a customer. Signature
// requests never read it after creation; they carry a ContractSnapshot.
type Contract struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	CustomerID  string    `gorm:"size:36;not null;index" json:"customer_id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Fields      string    `gorm:"type:jsonb;not null;default:'[]'" json:"-"`
	Status      string    `gorm:"size:20;default:active" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for Contract
func (Contract) TableName() string {
	return "contracts"
}

// ContractField describes one dynamic field the signer fills in
type ContractField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Snapshot copies the contract content at the given instant
func (c *Contract) Snapshot(at time.Time) ContractSnapshot {
	fields := c.Fields
	if fields == "" {
		fields = "[]"
	}
	return ContractSnapshot{
		Name:        c.Name,
		Description: c.Description,
		Content:     c.Content,
		Fields:      fields,
		CapturedAt:  at,
	}
}
