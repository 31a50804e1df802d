package leave

import (
	"context"
	"strings"

	"github.com/warp/pto-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// POLICY RESOLVER - city -> state -> default, plus tenure tiers
// =============================================================================

// Resolver is the only implementation of the location cascade. Every other
// component resolves policies through it.
type Resolver struct {
	clock  generic.Clock
	logger *zap.Logger
}

func NewResolver(clock generic.Clock, logger *zap.Logger) *Resolver {
	return &Resolver{clock: clock, logger: logger.Named("leave.resolver")}
}

// LeaveType looks a code up and fails with NotFound when missing or inactive.
func (r *Resolver) LeaveType(ctx context.Context, rd Reader, code LeaveCode) (*LeaveType, error) {
	const op = "resolver.leave_type"
	lt, err := rd.GetLeaveTypeByCode(ctx, code)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	if lt == nil || !lt.IsActive {
		return nil, generic.NotFound(op, "leave type %s not found", code)
	}
	return lt, nil
}

// ResolvePolicy returns the single applicable policy for the employee and
// leave type code. A nil policy with nil error means even the default is
// missing; callers treat that as "no restriction".
func (r *Resolver) ResolvePolicy(ctx context.Context, rd Reader, emp Employee, code LeaveCode) (*LeavePolicy, error) {
	lt, err := r.LeaveType(ctx, rd, code)
	if err != nil {
		return nil, err
	}
	return r.ResolveForType(ctx, rd, emp, *lt)
}

// ResolvePolicyOn is ResolvePolicy evaluated on asOf instead of today.
func (r *Resolver) ResolvePolicyOn(ctx context.Context, rd Reader, emp Employee, code LeaveCode, asOf generic.Date) (*LeavePolicy, error) {
	lt, err := r.LeaveType(ctx, rd, code)
	if err != nil {
		return nil, err
	}
	return r.ResolveForTypeOn(ctx, rd, emp, *lt, asOf)
}

// ResolveForType runs the cascade for an already loaded leave type.
func (r *Resolver) ResolveForType(ctx context.Context, rd Reader, emp Employee, lt LeaveType) (*LeavePolicy, error) {
	return r.ResolveForTypeOn(ctx, rd, emp, lt, generic.Today(r.clock))
}

func (r *Resolver) ResolveForTypeOn(ctx context.Context, rd Reader, emp Employee, lt LeaveType, asOf generic.Date) (*LeavePolicy, error) {
	policies, err := rd.ListPolicies(ctx, lt.ID)
	if err != nil {
		return nil, generic.Internal("resolver.resolve_policy", err)
	}

	var effective []LeavePolicy
	for _, p := range policies {
		if p.EffectiveOn(asOf) {
			effective = append(effective, p)
		}
	}

	if emp.LocationState != "" && emp.LocationCity != "" {
		if p := latest(effective, func(p LeavePolicy) bool {
			return strings.EqualFold(p.LocationState, emp.LocationState) &&
				strings.EqualFold(p.LocationCity, emp.LocationCity)
		}); p != nil {
			return p, nil
		}
	}
	if emp.LocationState != "" {
		if p := latest(effective, func(p LeavePolicy) bool {
			return strings.EqualFold(p.LocationState, emp.LocationState) && p.LocationCity == ""
		}); p != nil {
			return p, nil
		}
	}
	if p := latest(effective, LeavePolicy.IsDefault); p != nil {
		return p, nil
	}

	r.logger.Error("no effective policy, not even a default",
		zap.String("leave_type", string(lt.Code)),
		zap.String("employee_id", emp.ID),
		zap.String("state", emp.LocationState),
		zap.String("city", emp.LocationCity),
		zap.String("as_of", asOf.String()),
	)
	return nil, nil
}

// latest picks the match with the most recent effective date.
func latest(policies []LeavePolicy, match func(LeavePolicy) bool) *LeavePolicy {
	var best *LeavePolicy
	for i := range policies {
		p := policies[i]
		if !match(p) {
			continue
		}
		if best == nil || p.EffectiveDate.After(best.EffectiveDate) {
			best = &p
		}
	}
	return best
}

// ResolveVacationTier selects the tenure band for the employee's years of
// service as of today.
func (r *Resolver) ResolveVacationTier(ctx context.Context, rd Reader, emp Employee) (*VacationAccrualTier, error) {
	return r.ResolveVacationTierOn(ctx, rd, emp, generic.Today(r.clock))
}

func (r *Resolver) ResolveVacationTierOn(ctx context.Context, rd Reader, emp Employee, asOf generic.Date) (*VacationAccrualTier, error) {
	const op = "resolver.vacation_tier"
	tiers, err := rd.ListVacationTiers(ctx)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	years := emp.YearsOfService(asOf)
	for i := range tiers {
		if tiers[i].Matches(years) {
			t := tiers[i]
			return &t, nil
		}
	}
	r.logger.Error("no vacation tier matches", zap.String("employee_id", emp.ID), zap.Int("years_of_service", years))
	return nil, generic.NotFound(op, "no vacation tier for %d years of service", years)
}

// YearsOfService is exposed for callers that report tenure.
func (r *Resolver) YearsOfService(emp Employee) int {
	return emp.YearsOfService(generic.Today(r.clock))
}
