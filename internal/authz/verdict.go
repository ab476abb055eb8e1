package authz

import (
	"time"

	"github.com/pathlight-hq/pathlight/internal/models"
)

// ResourceRef identifies a protected resource by family and ID. The engine
// never inspects resource content.
type ResourceRef struct {
	Type models.ObjectType `json:"type"`
	ID   string            `json:"id"`
}

// String returns the canonical "type:id" form used in logs.
func (r ResourceRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// Verdict is a resolver's answer: it either actively grants, or declines to
// opine. Deny is never asserted by a single resolver; only the aggregator
// decides final deny, by exhaustion.
type Verdict int

const (
	VerdictAbstain Verdict = iota
	VerdictGrant
)

// Resolution pairs a verdict with the relationship that justified a grant.
type Resolution struct {
	Verdict        Verdict
	RelationshipID string
	Kind           models.RelationshipKind
}

// Abstain is the zero resolution.
var Abstain = Resolution{Verdict: VerdictAbstain}

// GrantedBy builds a granting resolution from a relationship row.
func GrantedBy(rel *models.Relationship) Resolution {
	return Resolution{
		Verdict:        VerdictGrant,
		RelationshipID: rel.ID,
		Kind:           rel.Kind,
	}
}

// Decision is the ephemeral result of one evaluation. It is persisted as an
// audit entry only when recording is enabled for the call site.
type Decision struct {
	Allowed     bool        `json:"allowed"`
	PrincipalID string      `json:"principal_id"`
	Resource    ResourceRef `json:"resource"`
	Capability  Capability  `json:"capability"`
	EvaluatedAt time.Time   `json:"evaluated_at"`

	// The relationship that justified an allow, for UI and debugging.
	// Empty on deny.
	GrantingRelationshipID string                  `json:"granting_relationship_id,omitempty"`
	GrantKind              models.RelationshipKind `json:"grant_kind,omitempty"`
}
