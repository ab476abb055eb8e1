package authz

import (
	"context"

	"github.com/pathlight-hq/pathlight/internal/models"
)

// AccessLevel grades a delegated grant. Levels are cumulative where noted.
type AccessLevel string

const (
	LevelView    AccessLevel = "view"
	LevelComment AccessLevel = "comment"
	LevelSuggest AccessLevel = "suggest"
	LevelApprove AccessLevel = "approve"
)

// reviewLevelCapabilities maps a document review access level to the
// capability set it grants on the reviewed document. Levels are cumulative:
// comment grants view+comment, approve grants view+comment+suggest+approve.
var reviewLevelCapabilities = map[AccessLevel]CapabilitySet{
	LevelView:    NewCapabilitySet(CapView),
	LevelComment: NewCapabilitySet(CapView, CapComment),
	LevelSuggest: NewCapabilitySet(CapView, CapComment, CapSuggest),
	LevelApprove: NewCapabilitySet(CapView, CapComment, CapSuggest, CapApprove),
}

// advisorLevelCapabilities maps an advisor grant level to the capability set
// it grants on the advised principal's documents and profile.
var advisorLevelCapabilities = map[AccessLevel]CapabilitySet{
	LevelView:    NewCapabilitySet(CapView),
	LevelComment: NewCapabilitySet(CapView, CapComment),
}

// ValidAccessLevel reports whether the level means something for the delegated
// kind. Kinds without graded levels accept none.
func ValidAccessLevel(kind models.RelationshipKind, level AccessLevel) bool {
	switch kind {
	case models.KindDocumentReview:
		_, ok := reviewLevelCapabilities[level]
		return ok
	case models.KindAdvisorGrant:
		_, ok := advisorLevelCapabilities[level]
		return ok
	}
	return false
}

// Fixed capability subsets for the ungraded person-to-person kinds, keyed by
// the resource family the grant reaches into.
var (
	mentorCapabilities = map[models.ObjectType]CapabilitySet{
		models.ObjectProfile:  NewCapabilitySet(CapView, CapComment),
		models.ObjectDocument: NewCapabilitySet(CapView, CapComment),
		models.ObjectJob:      NewCapabilitySet(CapView, CapComment),
	}
	partnerCapabilities = map[models.ObjectType]CapabilitySet{
		models.ObjectProfile: NewCapabilitySet(CapView),
		models.ObjectJob:     NewCapabilitySet(CapView),
	}
	familyCapabilitiesByType = map[models.ObjectType]CapabilitySet{
		models.ObjectProfile:  NewCapabilitySet(CapView),
		models.ObjectDocument: NewCapabilitySet(CapView),
		models.ObjectJob:      NewCapabilitySet(CapView),
	}
)

// DocumentReviewResolver grants capabilities on a document to its active
// reviewers, scaled by the review's access level. The governing relationship
// points at the document itself.
type DocumentReviewResolver struct{}

// Kind implements Resolver.
func (DocumentReviewResolver) Kind() models.RelationshipKind {
	return models.KindDocumentReview
}

// Resolve implements Resolver.
func (DocumentReviewResolver) Resolve(ctx context.Context, ec *EvalContext, principalID string, resource ResourceRef, capability Capability) (Resolution, error) {
	if resource.Type != models.ObjectDocument {
		return Abstain, nil
	}

	review, err := ec.ActiveRelationship(ctx, models.KindDocumentReview, principalID, models.ObjectDocument, resource.ID)
	if err != nil {
		return Abstain, err
	}
	if review == nil {
		return Abstain, nil
	}

	granted, ok := reviewLevelCapabilities[AccessLevel(review.RoleOrAccessLevel)]
	if !ok || !granted.Has(capability) {
		return Abstain, nil
	}
	return GrantedBy(review), nil
}

// principalGrantResolver covers the delegated kinds whose governing
// relationship links two principals (mentor↔candidate, accountability
// partners, family supporter, external advisor). The resolver first finds the
// resource's owning principal via a privileged lookup, then checks for a live
// relationship of its kind between the evaluated principal and that owner.
type principalGrantResolver struct {
	kind models.RelationshipKind

	// grants yields the capability set the relationship confers on a
	// resource family, or nil when the family is out of reach for this kind.
	grants func(rel *models.Relationship, resourceType models.ObjectType) CapabilitySet

	// mutual kinds grant in both directions (either principal may be the
	// relationship's subject).
	mutual bool
}

// Kind implements Resolver.
func (r *principalGrantResolver) Kind() models.RelationshipKind {
	return r.kind
}

// Resolve implements Resolver.
func (r *principalGrantResolver) Resolve(ctx context.Context, ec *EvalContext, principalID string, resource ResourceRef, capability Capability) (Resolution, error) {
	ownerID, err := owningPrincipal(ctx, ec, resource)
	if err != nil {
		return Abstain, err
	}
	if ownerID == "" || ownerID == principalID {
		return Abstain, nil
	}

	rel, err := ec.ActiveRelationship(ctx, r.kind, principalID, models.ObjectPrincipal, ownerID)
	if err != nil {
		return Abstain, err
	}
	if rel == nil && r.mutual {
		rel, err = ec.ActiveRelationship(ctx, r.kind, ownerID, models.ObjectPrincipal, principalID)
		if err != nil {
			return Abstain, err
		}
	}
	if rel == nil {
		return Abstain, nil
	}

	granted := r.grants(rel, resource.Type)
	if granted == nil || !granted.Has(capability) {
		return Abstain, nil
	}
	return GrantedBy(rel), nil
}

// owningPrincipal resolves the principal that owns a resource. A profile is
// owned by the principal it describes, so the resource ID doubles as the
// owner ID when no explicit ownership row exists.
func owningPrincipal(ctx context.Context, ec *EvalContext, resource ResourceRef) (string, error) {
	owner, err := ec.Owner(ctx, resource)
	if err != nil {
		return "", err
	}
	if owner != nil && owner.SubjectType == models.SubjectPrincipal {
		return owner.SubjectID, nil
	}
	if owner == nil && resource.Type == models.ObjectProfile {
		return resource.ID, nil
	}
	return "", nil
}

// NewMentorAssignmentResolver grants a mentor view+comment on an assigned
// candidate's profile, documents, and job tracker.
func NewMentorAssignmentResolver() Resolver {
	return &principalGrantResolver{
		kind: models.KindMentorAssignment,
		grants: func(rel *models.Relationship, resourceType models.ObjectType) CapabilitySet {
			return mentorCapabilities[resourceType]
		},
	}
}

// NewAccountabilityResolver grants accountability partners mutual view access
// to each other's profile and job tracker.
func NewAccountabilityResolver() Resolver {
	return &principalGrantResolver{
		kind:   models.KindAccountability,
		mutual: true,
		grants: func(rel *models.Relationship, resourceType models.ObjectType) CapabilitySet {
			return partnerCapabilities[resourceType]
		},
	}
}

// NewFamilySupportResolver grants a family supporter read access to their
// charge's profile, documents, and job tracker.
func NewFamilySupportResolver() Resolver {
	return &principalGrantResolver{
		kind: models.KindFamilySupport,
		grants: func(rel *models.Relationship, resourceType models.ObjectType) CapabilitySet {
			return familyCapabilitiesByType[resourceType]
		},
	}
}

// NewAdvisorGrantResolver grants an external advisor access to the advised
// principal's documents and profile, scaled by the grant's access level.
func NewAdvisorGrantResolver() Resolver {
	return &principalGrantResolver{
		kind: models.KindAdvisorGrant,
		grants: func(rel *models.Relationship, resourceType models.ObjectType) CapabilitySet {
			if resourceType != models.ObjectDocument && resourceType != models.ObjectProfile {
				return nil
			}
			return advisorLevelCapabilities[AccessLevel(rel.RoleOrAccessLevel)]
		},
	}
}
