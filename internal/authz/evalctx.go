package authz

import (
	"context"
	"time"

	"github.com/pathlight-hq/pathlight/internal/models"
)

// FactReader answers narrow factual questions directly from the Relationship
// Store, bypassing capability evaluation entirely. Implementations must not
// call back into the aggregator.
type FactReader interface {
	// ResourceOwner returns the live ownership relationship for a resource,
	// or nil when the resource has no recorded owner.
	ResourceOwner(ctx context.Context, objectType models.ObjectType, objectID string, at time.Time) (*models.Relationship, error)

	// ActiveRelationship returns a live relationship of the given kind linking
	// the subject principal to the object, or nil when none exists. Liveness
	// is checked against the supplied time, not the status column alone.
	ActiveRelationship(ctx context.Context, kind models.RelationshipKind, subjectID string, objectType models.ObjectType, objectID string, at time.Time) (*models.Relationship, error)
}

// EvalContext is the per-evaluation execution mode handed to resolvers. It
// carries the evaluation clock, memoises nested decisions, and exposes
// privileged fact lookups so a resolver can read facts about a different
// resource without re-entering the aggregator. The single rule that keeps
// evaluation cycle-free: privileged lookups never re-enter the aggregator,
// and nested Evaluate calls are refused for triples already in flight.
type EvalContext struct {
	engine   *Engine
	now      time.Time
	inFlight map[string]struct{}
	memo     map[string]Decision
}

func newEvalContext(engine *Engine, now time.Time) *EvalContext {
	return &EvalContext{
		engine:   engine,
		now:      now,
		inFlight: make(map[string]struct{}),
		memo:     make(map[string]Decision),
	}
}

// Now returns the evaluation clock. All liveness checks inside one evaluation
// observe the same instant.
func (ec *EvalContext) Now() time.Time {
	return ec.now
}

// Owner is a privileged lookup: the live ownership row for a resource, read
// straight from the store.
func (ec *EvalContext) Owner(ctx context.Context, resource ResourceRef) (*models.Relationship, error) {
	return ec.engine.facts.ResourceOwner(ctx, resource.Type, resource.ID, ec.now)
}

// IsOwner is a privileged lookup: whether the principal directly owns the
// resource.
func (ec *EvalContext) IsOwner(ctx context.Context, principalID string, resource ResourceRef) (bool, error) {
	owner, err := ec.Owner(ctx, resource)
	if err != nil {
		return false, err
	}
	return owner != nil && owner.SubjectType == models.SubjectPrincipal && owner.SubjectID == principalID, nil
}

// ActiveRelationship is a privileged lookup for a live relationship row.
func (ec *EvalContext) ActiveRelationship(ctx context.Context, kind models.RelationshipKind, subjectID string, objectType models.ObjectType, objectID string) (*models.Relationship, error) {
	return ec.engine.facts.ActiveRelationship(ctx, kind, subjectID, objectType, objectID, ec.now)
}

// Evaluate runs a nested capability evaluation within this context. Resolvers
// may only use it for facts about the same resource under evaluation;
// anything else belongs to the privileged lookups above. A triple already in
// flight is answered with a deny rather than recursing.
func (ec *EvalContext) Evaluate(ctx context.Context, principalID string, resource ResourceRef, capability Capability) (Decision, error) {
	return ec.engine.evaluate(ctx, ec, principalID, resource, capability)
}

func evalKey(principalID string, resource ResourceRef, capability Capability) string {
	return principalID + "|" + resource.String() + "|" + string(capability)
}
