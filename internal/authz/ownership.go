package authz

import (
	"context"

	"github.com/pathlight-hq/pathlight/internal/models"
)

// OwnershipResolver grants every capability to a resource's owning principal.
// Ownership is maximal and absolute: the aggregator runs it first and no
// other resolver can override its grant.
type OwnershipResolver struct{}

// Kind implements Resolver.
func (OwnershipResolver) Kind() models.RelationshipKind {
	return models.KindOwnership
}

// Resolve implements Resolver.
func (OwnershipResolver) Resolve(ctx context.Context, ec *EvalContext, principalID string, resource ResourceRef, capability Capability) (Resolution, error) {
	owner, err := ec.Owner(ctx, resource)
	if err != nil {
		return Abstain, err
	}
	if owner == nil {
		// A profile is owned by the principal it describes; no explicit
		// ownership row is required.
		if resource.Type == models.ObjectProfile && resource.ID == principalID {
			return Resolution{Verdict: VerdictGrant, Kind: models.KindOwnership}, nil
		}
		return Abstain, nil
	}
	if owner.SubjectType != models.SubjectPrincipal || owner.SubjectID != principalID {
		return Abstain, nil
	}
	return GrantedBy(owner), nil
}
