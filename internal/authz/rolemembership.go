package authz

import (
	"context"

	"github.com/pathlight-hq/pathlight/internal/models"
)

// TeamRoleResolver grants capabilities via an active team membership. For a
// team resource the membership is looked up on the team itself; for any other
// resource the resolver first resolves the owning team through a privileged
// lookup. The effective capability set is role defaults with per-membership
// overrides applied entry-by-entry; the admin role implies every capability
// in its context and is immune to overrides.
type TeamRoleResolver struct {
	defaults *RoleDefaults
}

// NewTeamRoleResolver builds the resolver around a role defaults table.
func NewTeamRoleResolver(defaults *RoleDefaults) *TeamRoleResolver {
	return &TeamRoleResolver{defaults: defaults}
}

// Kind implements Resolver.
func (r *TeamRoleResolver) Kind() models.RelationshipKind {
	return models.KindTeamMembership
}

// Resolve implements Resolver.
func (r *TeamRoleResolver) Resolve(ctx context.Context, ec *EvalContext, principalID string, resource ResourceRef, capability Capability) (Resolution, error) {
	teamID := ""
	switch resource.Type {
	case models.ObjectTeam:
		teamID = resource.ID
	default:
		owner, err := ec.Owner(ctx, resource)
		if err != nil {
			return Abstain, err
		}
		if owner == nil || owner.SubjectType != models.SubjectTeam {
			return Abstain, nil
		}
		teamID = owner.SubjectID
	}

	membership, err := ec.ActiveRelationship(ctx, models.KindTeamMembership, principalID, models.ObjectTeam, teamID)
	if err != nil {
		return Abstain, err
	}
	if membership == nil {
		return Abstain, nil
	}

	allowed, err := effectiveRoleCapability(r.defaults, resource.Type, membership, capability)
	if err != nil {
		return Abstain, err
	}
	if !allowed {
		return Abstain, nil
	}
	return GrantedBy(membership), nil
}

// GroupRoleResolver grants capabilities on a peer group via an active group
// membership, using the same defaults-plus-overrides computation as team
// roles. Groups have no admin shortcut; organizers are governed by the table.
type GroupRoleResolver struct {
	defaults *RoleDefaults
}

// NewGroupRoleResolver builds the resolver around a role defaults table.
func NewGroupRoleResolver(defaults *RoleDefaults) *GroupRoleResolver {
	return &GroupRoleResolver{defaults: defaults}
}

// Kind implements Resolver.
func (r *GroupRoleResolver) Kind() models.RelationshipKind {
	return models.KindGroupMembership
}

// Resolve implements Resolver.
func (r *GroupRoleResolver) Resolve(ctx context.Context, ec *EvalContext, principalID string, resource ResourceRef, capability Capability) (Resolution, error) {
	if resource.Type != models.ObjectGroup {
		return Abstain, nil
	}

	membership, err := ec.ActiveRelationship(ctx, models.KindGroupMembership, principalID, models.ObjectGroup, resource.ID)
	if err != nil {
		return Abstain, err
	}
	if membership == nil {
		return Abstain, nil
	}

	allowed, err := effectiveRoleCapability(r.defaults, resource.Type, membership, capability)
	if err != nil {
		return Abstain, err
	}
	if !allowed {
		return Abstain, nil
	}
	return GrantedBy(membership), nil
}

// OverridableCapabilities returns the capability names a membership's
// override map may reference: every capability of the contexts the role can
// reach. Nil for kinds that carry no overrides.
func OverridableCapabilities(kind models.RelationshipKind) CapabilitySet {
	switch kind {
	case models.KindTeamMembership:
		// Team roles also govern team-owned documents and job trackers.
		out := FamilyCapabilities(models.ObjectTeam)
		for c := range familyCapabilities[models.ObjectDocument] {
			out[c] = struct{}{}
		}
		for c := range familyCapabilities[models.ObjectJob] {
			out[c] = struct{}{}
		}
		return out
	case models.KindGroupMembership:
		return FamilyCapabilities(models.ObjectGroup)
	}
	return nil
}

// effectiveRoleCapability computes role defaults ∪ explicit overrides, with
// the override taking precedence entry-by-entry. An override key of false
// revokes a default-granted capability; true grants a non-default one.
func effectiveRoleCapability(defaults *RoleDefaults, contextType models.ObjectType, membership *models.Relationship, capability Capability) (bool, error) {
	role := Role(membership.RoleOrAccessLevel)

	if membership.Kind == models.KindTeamMembership && AdminImpliesAll(role) {
		return ValidCapability(contextType, capability), nil
	}

	set, err := defaults.DefaultCapabilities(contextType, role)
	if err != nil {
		return false, err
	}

	allowed := set.Has(capability)
	if override, ok := membership.OverrideFor(string(capability)); ok {
		allowed = override
	}
	return allowed, nil
}
