package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Principal is an actor identity known to the access engine. Profile
// attributes live in the platform's user service; the engine only needs a
// stable identity to hang relationships off.
type Principal struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (p *Principal) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
