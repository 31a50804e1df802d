package leave

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/pto-engine/generic"
)

// =============================================================================
// LEAVE POLICY - Location-scoped rule set for one leave type
// =============================================================================

type AccrualPeriod string

const (
	AccrualNone           AccrualPeriod = ""
	AccrualMonthly        AccrualPeriod = "monthly"
	AccrualAnnual         AccrualPeriod = "annual"
	AccrualPerHoursWorked AccrualPeriod = "per_hours_worked"
)

// LeavePolicy is scoped by (LeaveTypeID, LocationState, LocationCity).
// Empty state and city together mark the default policy. A city policy
// always carries its state.
type LeavePolicy struct {
	ID                  string
	LeaveTypeID         string
	LocationState       string
	LocationCity        string
	AccrualRate         decimal.Decimal
	AccrualPeriod       AccrualPeriod
	AccrualHoursDivisor int // per_hours_worked: 1 accrual unit per N hours
	MaxAnnualHours      decimal.Decimal
	MaxCarryoverHours   decimal.Decimal
	WaitingPeriodDays   int
	MinIncrementHours   decimal.Decimal
	MaxIncrementHours   decimal.Decimal // zero means no maximum
	AdvanceNoticeDays   int
	EffectiveDate       generic.Date
	EndDate             *generic.Date
	CreatedAt           time.Time
}

// Scope describes which tier of the cascade a policy sits in.
type Scope string

const (
	ScopeCity    Scope = "city"
	ScopeState   Scope = "state"
	ScopeDefault Scope = "default"
)

func (p LeavePolicy) Scope() Scope {
	switch {
	case p.LocationCity != "":
		return ScopeCity
	case p.LocationState != "":
		return ScopeState
	default:
		return ScopeDefault
	}
}

func (p LeavePolicy) IsDefault() bool { return p.Scope() == ScopeDefault }

// EffectiveOn reports effective_date <= day and (end_date is null or
// end_date >= day).
func (p LeavePolicy) EffectiveOn(day generic.Date) bool {
	if p.EffectiveDate.After(day) {
		return false
	}
	return p.EndDate == nil || p.EndDate.AfterOrEqual(day)
}

// Key is the uniqueness key enforced by policy stores.
func (p LeavePolicy) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", p.LeaveTypeID, p.LocationState, p.LocationCity, p.EffectiveDate)
}

// Validate checks the shape of a single policy.
func (p LeavePolicy) Validate() error {
	const op = "policy.validate"
	if p.LeaveTypeID == "" {
		return generic.PolicyViolation(op, "leave type is required")
	}
	if p.LocationCity != "" && p.LocationState == "" {
		return generic.PolicyViolation(op, "city policy %q requires a state", p.LocationCity)
	}
	if p.EffectiveDate.IsZero() {
		return generic.PolicyViolation(op, "effective date is required")
	}
	if p.EndDate != nil && p.EndDate.Before(p.EffectiveDate) {
		return generic.PolicyViolation(op, "end date %s before effective date %s", p.EndDate, p.EffectiveDate)
	}
	if p.WaitingPeriodDays < 0 || p.AdvanceNoticeDays < 0 {
		return generic.PolicyViolation(op, "day counts must not be negative")
	}
	for name, v := range map[string]decimal.Decimal{
		"max_annual_hours":    p.MaxAnnualHours,
		"max_carryover_hours": p.MaxCarryoverHours,
		"min_increment_hours": p.MinIncrementHours,
		"max_increment_hours": p.MaxIncrementHours,
	} {
		if v.IsNegative() {
			return generic.PolicyViolation(op, "%s must not be negative", name)
		}
	}
	if p.MaxIncrementHours.IsPositive() && p.MaxIncrementHours.LessThan(p.MinIncrementHours) {
		return generic.PolicyViolation(op, "max increment below min increment")
	}
	return nil
}

// =============================================================================
// VACATION ACCRUAL TIER - Tenure band
// =============================================================================

type VacationAccrualTier struct {
	ID                 string
	MinYearsService    int
	MaxYearsService    *int // nil = unbounded
	AnnualDays         decimal.Decimal
	MonthlyAccrualRate decimal.Decimal // days per month
	EffectiveDate      generic.Date
}

// Matches reports min <= years and (max is nil or max >= years).
func (t VacationAccrualTier) Matches(years int) bool {
	if years < t.MinYearsService {
		return false
	}
	return t.MaxYearsService == nil || *t.MaxYearsService >= years
}

func (t VacationAccrualTier) String() string {
	if t.MaxYearsService == nil {
		return fmt.Sprintf("%d+ years", t.MinYearsService)
	}
	return fmt.Sprintf("%d-%d years", t.MinYearsService, *t.MaxYearsService)
}

// ValidateTiers checks the bands are contiguous and non-overlapping across
// [0, inf), with only the last band unbounded.
func ValidateTiers(tiers []VacationAccrualTier) error {
	const op = "tiers.validate"
	if len(tiers) == 0 {
		return generic.PolicyViolation(op, "at least one vacation tier is required")
	}
	sorted := append([]VacationAccrualTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinYearsService < sorted[j].MinYearsService })

	next := 0
	for i, t := range sorted {
		if t.MinYearsService != next {
			return generic.PolicyViolation(op, "tier %s: expected to start at %d years", t, next)
		}
		if t.AnnualDays.IsNegative() || t.MonthlyAccrualRate.IsNegative() {
			return generic.PolicyViolation(op, "tier %s: negative entitlement", t)
		}
		if t.MaxYearsService == nil {
			if i != len(sorted)-1 {
				return generic.PolicyViolation(op, "tier %s: only the last tier may be unbounded", t)
			}
			return nil
		}
		if *t.MaxYearsService < t.MinYearsService {
			return generic.PolicyViolation(op, "tier %s: max below min", t)
		}
		next = *t.MaxYearsService + 1
	}
	return generic.PolicyViolation(op, "last tier must be unbounded")
}
