package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RelationshipKind enumerates the closed relationship taxonomy.
type RelationshipKind string

const (
	KindOwnership        RelationshipKind = "ownership"
	KindTeamMembership   RelationshipKind = "team-membership"
	KindDocumentReview   RelationshipKind = "document-review"
	KindMentorAssignment RelationshipKind = "mentor-assignment"
	KindAccountability   RelationshipKind = "accountability-partnership"
	KindFamilySupport    RelationshipKind = "family-support"
	KindAdvisorGrant     RelationshipKind = "advisor-grant"
	KindGroupMembership  RelationshipKind = "group-membership"
)

var validKinds = map[RelationshipKind]struct{}{
	KindOwnership:        {},
	KindTeamMembership:   {},
	KindDocumentReview:   {},
	KindMentorAssignment: {},
	KindAccountability:   {},
	KindFamilySupport:    {},
	KindAdvisorGrant:     {},
	KindGroupMembership:  {},
}

// Valid reports whether the kind is part of the taxonomy.
func (k RelationshipKind) Valid() bool {
	_, ok := validKinds[k]
	return ok
}

// RelationshipStatus tracks the lifecycle of a relationship.
type RelationshipStatus string

const (
	StatusPending   RelationshipStatus = "pending"
	StatusActive    RelationshipStatus = "active"
	StatusPaused    RelationshipStatus = "paused"
	StatusDeclined  RelationshipStatus = "declined"
	StatusCancelled RelationshipStatus = "cancelled"
	StatusExpired   RelationshipStatus = "expired"
	StatusEnded     RelationshipStatus = "ended"
)

// statusTransitions encodes pending -> active -> {paused <-> active} -> terminal.
// Terminal statuses have no outgoing edges.
var statusTransitions = map[RelationshipStatus][]RelationshipStatus{
	StatusPending: {StatusActive, StatusDeclined, StatusCancelled, StatusExpired},
	StatusActive:  {StatusPaused, StatusEnded, StatusCancelled, StatusExpired},
	StatusPaused:  {StatusActive, StatusEnded, StatusCancelled, StatusExpired},
}

var validStatuses = map[RelationshipStatus]struct{}{
	StatusPending:   {},
	StatusActive:    {},
	StatusPaused:    {},
	StatusDeclined:  {},
	StatusCancelled: {},
	StatusExpired:   {},
	StatusEnded:     {},
}

// Valid reports whether the status is a known lifecycle state.
func (s RelationshipStatus) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

// Terminal reports whether the status admits no further transitions.
func (s RelationshipStatus) Terminal() bool {
	switch s {
	case StatusDeclined, StatusCancelled, StatusExpired, StatusEnded:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle state machine permits moving
// from s to target.
func (s RelationshipStatus) CanTransitionTo(target RelationshipStatus) bool {
	for _, next := range statusTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// SubjectType distinguishes principal-held relationships from team ownership.
type SubjectType string

const (
	SubjectPrincipal SubjectType = "principal"
	SubjectTeam      SubjectType = "team"
)

// ObjectType identifies what a relationship points at: one of the protected
// resource families, or another principal for person-to-person kinds.
type ObjectType string

const (
	ObjectDocument  ObjectType = "document"
	ObjectProfile   ObjectType = "profile"
	ObjectJob       ObjectType = "job"
	ObjectTeam      ObjectType = "team"
	ObjectGroup     ObjectType = "group"
	ObjectPrincipal ObjectType = "principal"
)

var validObjectTypes = map[ObjectType]struct{}{
	ObjectDocument:  {},
	ObjectProfile:   {},
	ObjectJob:       {},
	ObjectTeam:      {},
	ObjectGroup:     {},
	ObjectPrincipal: {},
}

// Valid reports whether the object type is known.
func (o ObjectType) Valid() bool {
	_, ok := validObjectTypes[o]
	return ok
}

// ResourceFamily reports whether the object type names a protected resource
// family (as opposed to a principal).
func (o ObjectType) ResourceFamily() bool {
	return o.Valid() && o != ObjectPrincipal
}

// Relationship is the central fact of the access engine: who is related to
// whom (or to what), how, and within which lifecycle window. Rows are never
// hard-deleted while referenced by audit history; they move to a terminal
// status instead.
type Relationship struct {
	BaseModel

	Kind        RelationshipKind `gorm:"type:varchar(32);not null;index;index:idx_relationship_link,priority:1" json:"kind"`
	SubjectType SubjectType      `gorm:"type:varchar(16);not null;index:idx_relationship_link,priority:2" json:"subject_type"`
	SubjectID   string           `gorm:"type:uuid;not null;index;index:idx_relationship_link,priority:3" json:"subject_id"`
	ObjectType  ObjectType       `gorm:"type:varchar(16);not null;index:idx_relationship_link,priority:4" json:"object_type"`
	ObjectID    string           `gorm:"not null;index;index:idx_relationship_link,priority:5" json:"object_id"`

	Status RelationshipStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	// RoleOrAccessLevel carries the team/group role for membership kinds and
	// the access level (view/comment/suggest/approve) for delegated grants.
	RoleOrAccessLevel string `gorm:"type:varchar(32)" json:"role_or_access_level"`

	// CapabilityOverrides supersedes role defaults entry-by-entry; a false
	// value revokes a default-granted capability, true grants a non-default one.
	CapabilityOverrides datatypes.JSONMap `json:"capability_overrides"`

	GrantedByID *string    `gorm:"type:uuid;index" json:"granted_by_id"`
	ValidFrom   time.Time  `json:"valid_from"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at"`
}

// TableName overrides the default table name for GORM.
func (Relationship) TableName() string {
	return "relationships"
}

// BeforeCreate validates enum-valued fields before the row is first
// persisted. Validation deliberately does not run on updates: column-level
// status writes (CAS transitions, the expiry sweep) carry an empty model
// destination and must not be rejected for missing required fields.
func (r *Relationship) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}

	r.SubjectID = strings.TrimSpace(r.SubjectID)
	if r.SubjectID == "" {
		return errors.New("relationship: subject_id is required")
	}
	r.ObjectID = strings.TrimSpace(r.ObjectID)
	if r.ObjectID == "" {
		return errors.New("relationship: object_id is required")
	}

	if !r.Kind.Valid() {
		return fmt.Errorf("relationship: invalid kind %q", r.Kind)
	}

	if r.SubjectType == "" {
		r.SubjectType = SubjectPrincipal
	}
	if r.SubjectType != SubjectPrincipal && r.SubjectType != SubjectTeam {
		return fmt.Errorf("relationship: invalid subject type %q", r.SubjectType)
	}
	if r.SubjectType == SubjectTeam && r.Kind != KindOwnership {
		return fmt.Errorf("relationship: subject type %q is only valid for ownership", r.SubjectType)
	}

	if !r.ObjectType.Valid() {
		return fmt.Errorf("relationship: invalid object type %q", r.ObjectType)
	}

	if !r.Status.Valid() {
		return fmt.Errorf("relationship: invalid status %q", r.Status)
	}

	if r.ValidFrom.IsZero() {
		r.ValidFrom = time.Now()
	}

	return nil
}

// LiveAt reports whether the relationship confers access at the given time.
// The definitive rule is "active AND not expired": status alone is never
// trusted because the expiry sweep may lag behind the wall clock.
func (r *Relationship) LiveAt(at time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	if r.ValidFrom.After(at) {
		return false
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(at) {
		return false
	}
	return true
}

// OverrideFor extracts the override value for a capability key, if present.
func (r *Relationship) OverrideFor(capability string) (bool, bool) {
	if len(r.CapabilityOverrides) == 0 {
		return false, false
	}
	raw, ok := r.CapabilityOverrides[capability]
	if !ok {
		return false, false
	}
	v, ok := raw.(bool)
	if !ok {
		return false, false
	}
	return v, true
}
