package leave

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/pto-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// ELIGIBILITY CHECKER - Waiting period and request shape
// =============================================================================

type Eligibility struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason"`
	DaysRemaining int    `json:"days_remaining,omitempty"`
}

type EligibilityChecker struct {
	resolver *Resolver
	clock    generic.Clock
	logger   *zap.Logger
}

func NewEligibilityChecker(resolver *Resolver, clock generic.Clock, logger *zap.Logger) *EligibilityChecker {
	return &EligibilityChecker{resolver: resolver, clock: clock, logger: logger.Named("leave.eligibility")}
}

// CanUseLeave reports whether the employee has served the waiting period of
// the resolved policy.
func (c *EligibilityChecker) CanUseLeave(ctx context.Context, rd Reader, emp Employee, code LeaveCode) (Eligibility, error) {
	policy, err := c.resolver.ResolvePolicy(ctx, rd, emp, code)
	if err != nil {
		return Eligibility{}, err
	}
	return c.Evaluate(emp, policy), nil
}

// Evaluate applies the waiting period rule to an already resolved policy.
func (c *EligibilityChecker) Evaluate(emp Employee, policy *LeavePolicy) Eligibility {
	if policy == nil {
		return Eligibility{Allowed: true, Reason: "No policy restrictions"}
	}
	if policy.WaitingPeriodDays > 0 {
		employed := emp.DaysEmployed(generic.Today(c.clock))
		if employed < policy.WaitingPeriodDays {
			remaining := policy.WaitingPeriodDays - employed
			return Eligibility{
				Allowed:       false,
				Reason:        fmt.Sprintf("Must wait %d more days", remaining),
				DaysRemaining: remaining,
			}
		}
	}
	return Eligibility{Allowed: true, Reason: "Eligible"}
}

// RequestShape is everything the shape rules look at.
type RequestShape struct {
	LeaveType LeaveType
	Policy    *LeavePolicy
	Start     generic.Date
	End       generic.Date
	Hours     generic.Amount
	Notes     string
}

// CheckShape enforces the hard rules (minimum increment, documentation) and
// returns advisory warnings for the soft ones (advance notice, maximum
// increment).
func (c *EligibilityChecker) CheckShape(shape RequestShape) ([]generic.Warning, error) {
	const op = "eligibility.check_shape"
	var warnings []generic.Warning

	if shape.LeaveType.RequiresDocumentation && strings.TrimSpace(shape.Notes) == "" {
		return nil, generic.PolicyViolation(op, "%s requires documentation notes", shape.LeaveType.Name)
	}

	p := shape.Policy
	if p == nil {
		return warnings, nil
	}

	if p.MinIncrementHours.IsPositive() && shape.Hours.Value.LessThan(p.MinIncrementHours) {
		return nil, generic.PolicyViolation(op, "minimum request is %s hours, requested %s",
			p.MinIncrementHours.String(), shape.Hours.Value.String())
	}
	if p.MaxIncrementHours.IsPositive() && shape.Hours.Value.GreaterThan(p.MaxIncrementHours) {
		warnings = append(warnings, generic.NewWarning(generic.WarnMaxIncrement,
			"requested %s hours exceeds the %s hour maximum per request",
			shape.Hours.Value.String(), p.MaxIncrementHours.String()))
	}
	if p.AdvanceNoticeDays > 0 {
		until := generic.DaysBetween(generic.Today(c.clock), shape.Start)
		if until < p.AdvanceNoticeDays {
			warnings = append(warnings, generic.NewWarning(generic.WarnAdvanceNotice,
				"%d days notice given, policy asks for %d", until, p.AdvanceNoticeDays))
		}
	}
	return warnings, nil
}

// TotalDays counts calendar days inclusive, or 0.5 for a half-day request.
// A half day must start and end on the same date.
func TotalDays(start, end generic.Date, halfDay bool) (decimal.Decimal, error) {
	const op = "eligibility.total_days"
	if end.Before(start) {
		return decimal.Zero, generic.PolicyViolation(op, "end date %s before start date %s", end, start)
	}
	if halfDay {
		if !start.Equal(end) {
			return decimal.Zero, generic.PolicyViolation(op, "half-day requests must start and end on the same date")
		}
		return decimal.NewFromFloat(0.5), nil
	}
	return decimal.NewFromInt(int64(generic.DaysInclusive(start, end))), nil
}
