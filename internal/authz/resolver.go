package authz

import (
	"context"

	"github.com/pathlight-hq/pathlight/internal/models"
)

// Resolver answers whether one relationship kind grants a capability on a
// resource. Resolvers return Abstain when their kind is inapplicable or its
// governing relationship is not live; they never assert deny.
type Resolver interface {
	Kind() models.RelationshipKind
	Resolve(ctx context.Context, ec *EvalContext, principalID string, resource ResourceRef, capability Capability) (Resolution, error)
}

// defaultRouting maps each resource family to the resolver kinds that can
// apply to it. A static table, not a search.
func defaultRouting() map[models.ObjectType][]models.RelationshipKind {
	return map[models.ObjectType][]models.RelationshipKind{
		models.ObjectDocument: {
			models.KindOwnership,
			models.KindTeamMembership,
			models.KindDocumentReview,
			models.KindMentorAssignment,
			models.KindFamilySupport,
			models.KindAdvisorGrant,
		},
		models.ObjectProfile: {
			models.KindOwnership,
			models.KindMentorAssignment,
			models.KindAccountability,
			models.KindFamilySupport,
			models.KindAdvisorGrant,
		},
		models.ObjectJob: {
			models.KindOwnership,
			models.KindTeamMembership,
			models.KindMentorAssignment,
			models.KindAccountability,
			models.KindFamilySupport,
		},
		models.ObjectTeam: {
			models.KindOwnership,
			models.KindTeamMembership,
		},
		models.ObjectGroup: {
			models.KindOwnership,
			models.KindGroupMembership,
		},
	}
}
