package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pathlight-hq/pathlight/internal/models"
	apperrors "github.com/pathlight-hq/pathlight/pkg/errors"
	"github.com/pathlight-hq/pathlight/pkg/logger"
	"github.com/pathlight-hq/pathlight/pkg/metrics"
)

// DecisionRecorder receives decisions for audit persistence. Recording is
// fire-and-forget relative to evaluation: implementations must never fail or
// delay the access decision.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, decision Decision)
}

// Engine is the permission aggregator. For a (principal, resource,
// capability) triple it routes to the resolver kinds applicable to the
// resource family, invokes each inside a single cycle-safe evaluation
// context, and combines verdicts under default-deny, any-one-grant-allows.
// Ownership runs first and is absolute.
type Engine struct {
	facts     FactReader
	defaults  *RoleDefaults
	resolvers map[models.RelationshipKind]Resolver
	routing   map[models.ObjectType][]models.RelationshipKind
	recorder  DecisionRecorder
	log       *zap.Logger
	now       func() time.Time

	replacements []Resolver
}

// Option customises the Engine.
type Option func(*Engine)

// WithRecorder enables audit recording of decisions.
func WithRecorder(recorder DecisionRecorder) Option {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

// WithRoleDefaults replaces the built-in role defaults table.
func WithRoleDefaults(defaults *RoleDefaults) Option {
	return func(e *Engine) {
		if defaults != nil {
			e.defaults = defaults
		}
	}
}

// WithClock overrides the evaluation clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithResolver replaces the resolver registered for its kind, for embedders
// customising a single grant path.
func WithResolver(r Resolver) Option {
	return func(e *Engine) {
		if r != nil {
			e.replacements = append(e.replacements, r)
		}
	}
}

// New constructs an Engine over the given fact reader. The role defaults
// table is validated eagerly so misconfiguration fails at startup, not
// during evaluation.
func New(facts FactReader, opts ...Option) (*Engine, error) {
	if facts == nil {
		return nil, fmt.Errorf("authz: fact reader is required")
	}

	e := &Engine{
		facts:    facts,
		defaults: DefaultRoleTable(),
		routing:  defaultRouting(),
		log:      logger.WithModule("authz"),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if err := e.defaults.Validate(); err != nil {
		return nil, err
	}

	e.resolvers = map[models.RelationshipKind]Resolver{
		models.KindOwnership:        OwnershipResolver{},
		models.KindTeamMembership:   NewTeamRoleResolver(e.defaults),
		models.KindGroupMembership:  NewGroupRoleResolver(e.defaults),
		models.KindDocumentReview:   DocumentReviewResolver{},
		models.KindMentorAssignment: NewMentorAssignmentResolver(),
		models.KindAccountability:   NewAccountabilityResolver(),
		models.KindFamilySupport:    NewFamilySupportResolver(),
		models.KindAdvisorGrant:     NewAdvisorGrantResolver(),
	}
	for _, r := range e.replacements {
		e.resolvers[r.Kind()] = r
	}
	e.replacements = nil

	return e, nil
}

// Evaluate answers whether the principal may exercise the capability on the
// resource. Denial is a normal result, not an error; the only errors are
// caller mistakes (unknown resource family or capability) and transient
// store failures.
func (e *Engine) Evaluate(ctx context.Context, principalID string, resource ResourceRef, capability Capability) (Decision, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return Decision{}, apperrors.NewBadRequest("principal id is required")
	}
	if !resource.Type.ResourceFamily() {
		return Decision{}, apperrors.NewBadRequest(fmt.Sprintf("unknown resource type %q", resource.Type))
	}
	if strings.TrimSpace(resource.ID) == "" {
		return Decision{}, apperrors.NewBadRequest("resource id is required")
	}
	if !ValidCapability(resource.Type, capability) {
		return Decision{}, apperrors.NewBadRequest(fmt.Sprintf("capability %q is not valid for %q resources", capability, resource.Type))
	}

	ec := newEvalContext(e, e.now())
	decision, err := e.evaluate(ctx, ec, principalID, resource, capability)
	if err != nil {
		metrics.AccessDecisions.WithLabelValues(string(resource.Type), "error").Inc()
		return Decision{}, err
	}

	result := "deny"
	if decision.Allowed {
		result = "allow"
	}
	metrics.AccessDecisions.WithLabelValues(string(resource.Type), result).Inc()

	if e.recorder != nil {
		e.recorder.RecordDecision(ctx, decision)
	}

	return decision, nil
}

// evaluate runs the resolver chain inside an existing evaluation context.
// Nested calls share the context, so in-flight triples are visible and
// answered with a deny instead of recursing.
func (e *Engine) evaluate(ctx context.Context, ec *EvalContext, principalID string, resource ResourceRef, capability Capability) (Decision, error) {
	key := evalKey(principalID, resource, capability)

	if cached, ok := ec.memo[key]; ok {
		return cached, nil
	}
	if _, busy := ec.inFlight[key]; busy {
		e.log.Warn("evaluation re-entered for in-flight triple; denying",
			zap.String("principal", principalID),
			zap.String("resource", resource.String()),
			zap.String("capability", string(capability)),
		)
		return e.denied(principalID, resource, capability, ec.now), nil
	}

	ec.inFlight[key] = struct{}{}
	defer delete(ec.inFlight, key)

	for _, kind := range e.routing[resource.Type] {
		resolver, ok := e.resolvers[kind]
		if !ok {
			continue
		}

		resolution, err := e.safeResolve(ctx, resolver, ec, principalID, resource, capability)
		if err != nil {
			// Transient store failures abort the evaluation; anything else is
			// one corrupt grant path and must not deny unrelated ones.
			return Decision{}, err
		}

		if resolution.Verdict == VerdictGrant {
			decision := Decision{
				Allowed:                true,
				PrincipalID:            principalID,
				Resource:               resource,
				Capability:             capability,
				EvaluatedAt:            ec.now,
				GrantingRelationshipID: resolution.RelationshipID,
				GrantKind:              resolution.Kind,
			}
			ec.memo[key] = decision
			return decision, nil
		}
	}

	decision := e.denied(principalID, resource, capability, ec.now)
	ec.memo[key] = decision
	return decision, nil
}

// safeResolve shields the aggregator from resolver faults: panics and
// non-transient errors are logged and demoted to an abstention.
func (e *Engine) safeResolve(ctx context.Context, resolver Resolver, ec *EvalContext, principalID string, resource ResourceRef, capability Capability) (resolution Resolution, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ResolverAnomalies.WithLabelValues(string(resolver.Kind())).Inc()
			e.log.Error("resolver panicked; treating as abstain",
				zap.String("kind", string(resolver.Kind())),
				zap.String("resource", resource.String()),
				zap.Any("panic", r),
			)
			resolution = Abstain
			err = nil
		}
	}()

	resolution, err = resolver.Resolve(ctx, ec, principalID, resource, capability)
	if err != nil {
		if errors.Is(err, apperrors.ErrStoreUnavailable) {
			return Abstain, err
		}
		metrics.ResolverAnomalies.WithLabelValues(string(resolver.Kind())).Inc()
		e.log.Warn("resolver error; treating as abstain",
			zap.String("kind", string(resolver.Kind())),
			zap.String("resource", resource.String()),
			zap.Error(err),
		)
		return Abstain, nil
	}
	return resolution, nil
}

func (e *Engine) denied(principalID string, resource ResourceRef, capability Capability, at time.Time) Decision {
	return Decision{
		Allowed:     false,
		PrincipalID: principalID,
		Resource:    resource,
		Capability:  capability,
		EvaluatedAt: at,
	}
}
