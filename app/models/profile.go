package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProfileRole string

const (
	RoleUser          ProfileRole = "user"
	RoleEventDirector ProfileRole = "event_director"
	RoleJudge         ProfileRole = "judge"
	RoleAdmin         ProfileRole = "admin"
)

// Profile is the account record of a member, event director, judge or admin.
type Profile struct {
	ID              string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email           string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	FirstName       string         `gorm:"type:varchar(100)" json:"first_name" validate:"max=100"`
	LastName        string         `gorm:"type:varchar(100)" json:"last_name" validate:"max=100"`
	Role            ProfileRole    `gorm:"type:varchar(32);default:'user'" json:"role" validate:"oneof=user event_director judge admin"`
	MecaID          *int           `gorm:"index" json:"meca_id,omitempty"`
	APIKeyHash      string         `gorm:"type:char(64);default:'';index" json:"-"`
	APIKeyCreatedAt *time.Time     `json:"api_key_created_at,omitempty"`
	APIKeyLastUsed  *time.Time     `gorm:"column:api_key_last_used_at" json:"api_key_last_used_at,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns a UUID primary key when none is set
func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

func (p *Profile) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// IsAdmin reports whether the profile carries the admin role
func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// HoldsRoleMecaID reports whether the role is one that receives a profile-level MECA ID.
func (p *Profile) HoldsRoleMecaID() bool {
	switch p.Role {
	case RoleEventDirector, RoleJudge, RoleAdmin:
		return true
	default:
		return false
	}
}

var apiKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const apiKeyPrefix = "meca_"

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// IssueAPIKey generates a new API key, stores its hash on the profile and returns the raw secret.
// Callers must persist the profile afterwards.
func (p *Profile) IssueAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	rawKey := apiKeyPrefix + strings.ToLower(apiKeyEncoding.EncodeToString(b))
	if len(rawKey) < 12 {
		return "", fmt.Errorf("api key generation failed: key too short")
	}
	now := time.Now()
	p.APIKeyHash = HashAPIKey(rawKey)
	p.APIKeyCreatedAt = &now
	return rawKey, nil
}
