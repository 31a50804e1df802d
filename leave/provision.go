package leave

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/pto-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// PROVISIONER - Tier and policy driven entitlements
// =============================================================================

// Provisioner turns the resolved tenure tier and policies into hour figures.
// Balances are never provisioned implicitly; ProvisionBalance is the only
// path that writes totals.
type Provisioner struct {
	store       Store
	resolver    *Resolver
	ledger      *Ledger
	hoursPerDay decimal.Decimal
	logger      *zap.Logger
}

func NewProvisioner(store Store, resolver *Resolver, ledger *Ledger, hoursPerDay decimal.Decimal, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		store:       store,
		resolver:    resolver,
		ledger:      ledger,
		hoursPerDay: hoursPerDay,
		logger:      logger.Named("leave.provision"),
	}
}

// AnnualVacationHours is tier.annual_days x hours per day.
func (p *Provisioner) AnnualVacationHours(ctx context.Context, rd Reader, emp Employee) (generic.Amount, error) {
	tier, err := p.resolver.ResolveVacationTier(ctx, rd, emp)
	if err != nil {
		return generic.Amount{}, err
	}
	return generic.HoursOf(tier.AnnualDays.Mul(p.hoursPerDay)), nil
}

// MonthlyVacationHours is tier.monthly_accrual_rate x hours per day.
func (p *Provisioner) MonthlyVacationHours(ctx context.Context, rd Reader, emp Employee) (generic.Amount, error) {
	tier, err := p.resolver.ResolveVacationTier(ctx, rd, emp)
	if err != nil {
		return generic.Amount{}, err
	}
	return generic.HoursOf(tier.MonthlyAccrualRate.Mul(p.hoursPerDay)), nil
}

func (p *Provisioner) MaxCarryoverHours(ctx context.Context, rd Reader, emp Employee, code LeaveCode) (generic.Amount, error) {
	return p.policyHours(ctx, rd, emp, code, func(lp LeavePolicy) decimal.Decimal { return lp.MaxCarryoverHours })
}

func (p *Provisioner) MinIncrementHours(ctx context.Context, rd Reader, emp Employee, code LeaveCode) (generic.Amount, error) {
	return p.policyHours(ctx, rd, emp, code, func(lp LeavePolicy) decimal.Decimal { return lp.MinIncrementHours })
}

// AdvanceNoticeDays returns 0 when no policy resolves.
func (p *Provisioner) AdvanceNoticeDays(ctx context.Context, rd Reader, emp Employee, code LeaveCode) (int, error) {
	policy, err := p.resolver.ResolvePolicy(ctx, rd, emp, code)
	if err != nil || policy == nil {
		return 0, err
	}
	return policy.AdvanceNoticeDays, nil
}

func (p *Provisioner) policyHours(ctx context.Context, rd Reader, emp Employee, code LeaveCode, pick func(LeavePolicy) decimal.Decimal) (generic.Amount, error) {
	policy, err := p.resolver.ResolvePolicy(ctx, rd, emp, code)
	if err != nil {
		return generic.Amount{}, err
	}
	if policy == nil {
		return generic.ZeroHours(), nil
	}
	return generic.HoursOf(pick(*policy)), nil
}

// ProvisionBalance sets the year's totals: vacation from the tenure tier,
// sick and personal from the resolved policy's max_annual_hours. Tenure and
// policies are evaluated on January 1 of the year, or on the hire date when
// the employee started later. Used, pending and carryover are left alone.
// Running it twice is a no-op.
func (p *Provisioner) ProvisionBalance(ctx context.Context, actor ActingUser, employeeID string, year int) (*PTOBalance, error) {
	const op = "provision.balance"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not provision balances", actor.Role)
	}

	var balance *PTOBalance
	err := p.store.WithTx(ctx, func(tx Tx) error {
		emp, err := tx.GetEmployee(ctx, employeeID)
		if err != nil {
			return generic.Internal(op, err)
		}
		if emp == nil {
			return generic.NotFound(op, "employee %s not found", employeeID)
		}

		asOf := generic.StartOfYear(year)
		if emp.HireDate.After(asOf) {
			asOf = emp.HireDate
		}

		tier, err := p.resolver.ResolveVacationTierOn(ctx, tx, *emp, asOf)
		if err != nil {
			return err
		}
		totals := map[generic.Bucket]generic.Amount{
			generic.BucketVacation: generic.HoursOf(tier.AnnualDays.Mul(p.hoursPerDay)),
		}
		for bucket, code := range map[generic.Bucket]LeaveCode{
			generic.BucketSick:     CodeSick,
			generic.BucketPersonal: CodePersonal,
		} {
			policy, err := p.resolver.ResolvePolicyOn(ctx, tx, *emp, code, asOf)
			if err != nil {
				if generic.IsNotFound(err) {
					// Leave type not configured; nothing to provision.
					continue
				}
				return err
			}
			if policy == nil {
				totals[bucket] = generic.ZeroHours()
				continue
			}
			totals[bucket] = generic.HoursOf(policy.MaxAnnualHours)
		}

		key := BalanceKey{EmployeeID: emp.ID, Year: year}
		ref := Ref{Kind: "provision", Actor: actor.ID, Reason: fmt.Sprintf("provisioned for %d", year)}
		for _, bucket := range []generic.Bucket{generic.BucketVacation, generic.BucketSick, generic.BucketPersonal} {
			h, ok := totals[bucket]
			if !ok {
				continue
			}
			balance, err = p.ledger.SetTotal(ctx, tx, key, bucket, h, ref)
			if err != nil {
				return err
			}
		}
		if balance == nil {
			balance, err = p.ledger.GetOrCreate(ctx, tx, key)
		}
		return err
	})
	if err != nil {
		p.logger.Warn("provisioning failed", zap.String("employee_id", employeeID), zap.Int("year", year), zap.Error(err))
		return nil, err
	}
	p.logger.Info("balance provisioned",
		zap.String("employee_id", employeeID),
		zap.Int("year", year),
		zap.String("vacation_total", balance.VacationTotal.Value.String()),
		zap.String("sick_total", balance.SickTotal.Value.String()),
		zap.String("personal_total", balance.PersonalTotal.Value.String()),
	)
	return balance, nil
}
