package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an operator of a customer account who sends signature requests
type User struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	CustomerID        string     `gorm:"size:36;not null;index" json:"customer_id"`
	Email             string     `gorm:"uniqueIndex;not null" json:"email"`
	EncryptedPassword string     `gorm:"column:encrypted_password;not null" json:"-"`
	Role              string     `gorm:"default:user" json:"role"`
	FullName          string     `json:"full_name"`
	Status            string     `gorm:"default:active" json:"status"`
	Locale            string     `gorm:"default:es" json:"locale"`
	LastLoginAt       *time.Time `json:"last_login_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// BeforeCreate hook for setting defaults
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	if u.Locale == "" {
		u.Locale = LocaleES
	}
	return nil
}

// Role constants
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Status constants
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// Locale constants
const (
	LocaleES = "es"
	LocaleEN = "en"
)

// IsActive returns true if the user can sign in
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// IsAdmin returns true if user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserResponse is the JSON response format for users
type UserResponse struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	FullName    string     `json:"full_name"`
	Locale      string     `json:"locale"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

// ToResponse converts User to UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:          u.ID,
		CustomerID:  u.CustomerID,
		Email:       u.Email,
		Role:        u.Role,
		FullName:    u.FullName,
		Locale:      u.Locale,
		LastLoginAt: u.LastLoginAt,
	}
}
