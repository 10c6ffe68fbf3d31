package usersgorm

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserRecord is the auth identity. Metadata keeps what the caller sent at
// sign-up (intended role, full name) for later provisioning.
type UserRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"uniqueIndex;size:256;not null"`
	PasswordHash string `gorm:"size:255"` // bcrypt hash
	Metadata     datatypes.JSONMap
	Active       bool `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserRecord) TableName() string { return "users" }

// UserRoleRecord holds exactly one role per user.
type UserRoleRecord struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex;size:36;not null"`
	Role      string `gorm:"size:32;not null"`
	CreatedAt time.Time
}

func (UserRoleRecord) TableName() string { return "user_roles" }

// ProfileRecord carries the assistant orientation flag.
type ProfileRecord struct {
	UserID              string `gorm:"primaryKey;size:36"`
	FullName            string `gorm:"size:128"`
	Phone               string `gorm:"size:32"`
	OnboardingCompleted bool   `gorm:"not null;default:false"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (ProfileRecord) TableName() string { return "profiles" }

// BusinessRecord carries the business-owner onboarding flag.
type BusinessRecord struct {
	ID                  uint   `gorm:"primaryKey"`
	UserID              string `gorm:"uniqueIndex;size:36;not null"`
	BusinessName        string `gorm:"size:200"`
	Industry            string `gorm:"size:100"`
	Website             string `gorm:"size:256"`
	OnboardingCompleted bool   `gorm:"not null;default:false"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (BusinessRecord) TableName() string { return "businesses" }

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&UserRecord{}, &UserRoleRecord{}, &ProfileRecord{}, &BusinessRecord{})
}
