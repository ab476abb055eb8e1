package authz

import (
	"fmt"

	"github.com/pathlight-hq/pathlight/internal/models"
	apperrors "github.com/pathlight-hq/pathlight/pkg/errors"
)

// Role names a position inside a team or peer group context.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleMentor    Role = "mentor"
	RoleCandidate Role = "candidate"

	RoleOrganizer Role = "organizer"
	RoleMember    Role = "member"
)

type roleKey struct {
	contextType models.ObjectType
	role        Role
}

// RoleDefaults is the static baseline capability table keyed by
// (context type, role). It is read-only at evaluation time; unknown pairs are
// a configuration fault surfaced as ErrUnknownRole.
type RoleDefaults struct {
	table map[roleKey]CapabilitySet
}

// DefaultRoleTable returns the platform's baseline role capability table.
//
// Admin is deliberately absent from the non-team contexts: AdminImpliesAll
// short-circuits before the table is consulted.
func DefaultRoleTable() *RoleDefaults {
	return &RoleDefaults{table: map[roleKey]CapabilitySet{
		// Team context.
		{models.ObjectTeam, RoleAdmin}:     NewCapabilitySet(CapView, CapInvite, CapRemoveMember, CapChangeRole, CapViewAnalytics, CapManageSettings),
		{models.ObjectTeam, RoleMentor}:    NewCapabilitySet(CapView, CapInvite, CapViewAnalytics),
		{models.ObjectTeam, RoleCandidate}: NewCapabilitySet(CapView),

		// Team-owned documents and job trackers.
		{models.ObjectDocument, RoleMentor}:    NewCapabilitySet(CapView, CapComment, CapSuggest),
		{models.ObjectDocument, RoleCandidate}: NewCapabilitySet(CapView),
		{models.ObjectJob, RoleMentor}:         NewCapabilitySet(CapView, CapComment),
		{models.ObjectJob, RoleCandidate}:      NewCapabilitySet(CapView),

		// Peer group context.
		{models.ObjectGroup, RoleOrganizer}: NewCapabilitySet(CapView, CapPost, CapInvite, CapModerate, CapManageSettings),
		{models.ObjectGroup, RoleMember}:    NewCapabilitySet(CapView, CapPost),
	}}
}

// DefaultCapabilities returns the baseline capability set for a role within a
// context. The returned set is a copy; mutating it does not affect the table.
func (d *RoleDefaults) DefaultCapabilities(contextType models.ObjectType, role Role) (CapabilitySet, error) {
	set, ok := d.table[roleKey{contextType, role}]
	if !ok {
		return nil, apperrors.ErrUnknownRole.WithInternal(
			fmt.Errorf("no defaults for role %q in context %q", role, contextType))
	}
	return set.Clone(), nil
}

// Known reports whether the (context, role) pair exists in the table.
func (d *RoleDefaults) Known(contextType models.ObjectType, role Role) bool {
	_, ok := d.table[roleKey{contextType, role}]
	return ok
}

// Validate checks every table entry against the closed capability set of its
// context, so misconfiguration is caught at policy-load time rather than
// during evaluation.
func (d *RoleDefaults) Validate() error {
	for key, set := range d.table {
		family, ok := familyCapabilities[key.contextType]
		if !ok {
			return fmt.Errorf("role defaults: context %q has no capability family", key.contextType)
		}
		for c := range set {
			if !family.Has(c) {
				return fmt.Errorf("role defaults: capability %q is not valid for context %q (role %q)",
					c, key.contextType, key.role)
			}
		}
	}
	return nil
}

// AdminImpliesAll reports whether the role is the team admin role, which is
// defined to imply every capability in its context regardless of overrides.
func AdminImpliesAll(role Role) bool {
	return role == RoleAdmin
}
