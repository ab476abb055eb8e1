package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditEntry is the persisted copy of an access decision or a relationship
// lifecycle event. Entries are append-only; retention is enforced by the
// maintenance sweep except for compliance-held rows.
type AuditEntry struct {
	ID          string  `gorm:"primaryKey;type:uuid" json:"id"`
	ActorID     *string `gorm:"type:uuid;index" json:"actor_id"`
	PrincipalID string  `gorm:"type:uuid;index" json:"principal_id"`

	Action       string `gorm:"not null;index" json:"action"`
	ResourceType string `gorm:"type:varchar(16);index" json:"resource_type"`
	ResourceID   string `gorm:"index" json:"resource_id"`
	Capability   string `gorm:"type:varchar(32)" json:"capability"`
	Result       string `gorm:"not null;index" json:"result"`

	GrantKind           string  `gorm:"type:varchar(32)" json:"grant_kind,omitempty"`
	GrantRelationshipID *string `gorm:"type:uuid" json:"grant_relationship_id,omitempty"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	Metadata       datatypes.JSONMap `json:"metadata"`
	ComplianceHold bool              `gorm:"default:false;index" json:"compliance_hold"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (a *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
