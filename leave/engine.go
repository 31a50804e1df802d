/*
engine.go - Facade over every leave component for one Store

PURPOSE:
  The entry point for callers (HTTP handlers, command-line tools, tests).
  Wires the Resolver, Eligibility Checker, Ledger, Request Lifecycle,
  Conflict Detector, Carryover Workflow and Provisioner over one Store
  and applies the read-side access rules the components leave to it.

ACCESS RULES:
  - Mutations check the actor inside the owning component.
  - Reads of one employee's data require the owner or a privileged actor.
  - Organisation-wide reads and employee administration require a
    privileged actor.

USAGE:
  eng := leave.NewEngine(store, generic.SystemClock{}, decimal.NewFromInt(8), logger)
  res, err := eng.CreateRequest(ctx, actor, leave.CreateRequestInput{...})
*/
package leave

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/pto-engine/generic"
	"go.uber.org/zap"
)

// DefaultHoursPerDay converts request days into balance hours.
var DefaultHoursPerDay = decimal.NewFromInt(8)

type Engine struct {
	store       Store
	clock       generic.Clock
	hoursPerDay decimal.Decimal
	logger      *zap.Logger

	Resolver    *Resolver
	Eligibility *EligibilityChecker
	Ledger      *Ledger
	Requests    *RequestService
	Conflicts   *ConflictDetector
	Carryover   *CarryoverService
	Provisioner *Provisioner
}

func NewEngine(store Store, clock generic.Clock, hoursPerDay decimal.Decimal, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if !hoursPerDay.IsPositive() {
		hoursPerDay = DefaultHoursPerDay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	resolver := NewResolver(clock, logger)
	checker := NewEligibilityChecker(resolver, clock, logger)
	ledger := NewLedger(clock, logger)
	return &Engine{
		store:       store,
		clock:       clock,
		hoursPerDay: hoursPerDay,
		logger:      logger.Named("leave.engine"),
		Resolver:    resolver,
		Eligibility: checker,
		Ledger:      ledger,
		Requests:    NewRequestService(store, resolver, checker, ledger, clock, hoursPerDay, logger),
		Conflicts:   NewConflictDetector(store, logger),
		Carryover:   NewCarryoverService(store, resolver, ledger, clock, logger),
		Provisioner: NewProvisioner(store, resolver, ledger, hoursPerDay, logger),
	}
}

func (e *Engine) Store() Store                 { return e.store }
func (e *Engine) HoursPerDay() decimal.Decimal { return e.hoursPerDay }

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func (e *Engine) CreateRequest(ctx context.Context, actor ActingUser, in CreateRequestInput) (*RequestResult, error) {
	return e.Requests.Create(ctx, actor, in)
}

func (e *Engine) ApproveRequest(ctx context.Context, actor ActingUser, requestID string) (*RequestResult, error) {
	return e.Requests.Approve(ctx, actor, requestID)
}

func (e *Engine) DenyRequest(ctx context.Context, actor ActingUser, requestID, reason string) (*RequestResult, error) {
	return e.Requests.Deny(ctx, actor, requestID, reason)
}

func (e *Engine) CancelRequest(ctx context.Context, actor ActingUser, requestID string) (*RequestResult, error) {
	return e.Requests.Cancel(ctx, actor, requestID)
}

func (e *Engine) GetRequest(ctx context.Context, actor ActingUser, requestID string) (*PTORequest, error) {
	req, err := e.Requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := canRead(actor, req.EmployeeID, "requests.get"); err != nil {
		return nil, err
	}
	return req, nil
}

// GetUserRequests lists an employee's requests, newest first.
func (e *Engine) GetUserRequests(ctx context.Context, actor ActingUser, employeeID string, status *RequestStatus) ([]PTORequest, error) {
	const op = "requests.user"
	if err := canRead(actor, employeeID, op); err != nil {
		return nil, err
	}
	if _, err := e.employee(ctx, op, employeeID); err != nil {
		return nil, err
	}
	return e.Requests.ListForEmployee(ctx, employeeID, status)
}

// GetPendingRequestsForDepartment lists the approval queue, oldest first.
// An empty department id returns the whole organisation's queue.
func (e *Engine) GetPendingRequestsForDepartment(ctx context.Context, actor ActingUser, departmentID string) ([]PTORequest, error) {
	const op = "requests.pending"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not view the approval queue", actor.Role)
	}
	if departmentID != "" {
		d, err := e.store.GetDepartment(ctx, departmentID)
		if err != nil {
			return nil, generic.Internal(op, err)
		}
		if d == nil {
			return nil, generic.NotFound(op, "department %s not found", departmentID)
		}
	}
	return e.Requests.PendingForDepartment(ctx, departmentID)
}

// GetOverlappingRequests returns the employee's own active requests that
// intersect [start, end].
func (e *Engine) GetOverlappingRequests(ctx context.Context, actor ActingUser, employeeID string, start, end generic.Date, excludeRequestID string) ([]PTORequest, error) {
	const op = "requests.overlapping"
	if err := canRead(actor, employeeID, op); err != nil {
		return nil, err
	}
	reqs, err := e.store.ListRequests(ctx, RequestFilter{
		EmployeeIDs:  []string{employeeID},
		Statuses:     ActiveStatuses,
		OverlapStart: &start,
		OverlapEnd:   &end,
		ExcludeID:    excludeRequestID,
	})
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	return reqs, nil
}

// RequestJournal returns the balance entries written for a request or
// carryover id.
func (e *Engine) RequestJournal(ctx context.Context, actor ActingUser, referenceID string) ([]generic.Entry, error) {
	const op = "journal.list"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not read the journal", actor.Role)
	}
	entries, err := e.store.ListEntries(ctx, referenceID)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	return entries, nil
}

// =============================================================================
// POLICY AND ELIGIBILITY
// =============================================================================

func (e *Engine) ResolvePolicy(ctx context.Context, employeeID string, code LeaveCode) (*LeavePolicy, error) {
	emp, err := e.employee(ctx, "policy.resolve", employeeID)
	if err != nil {
		return nil, err
	}
	return e.Resolver.ResolvePolicy(ctx, e.store, *emp, code)
}

func (e *Engine) CanUseLeave(ctx context.Context, employeeID string, code LeaveCode) (Eligibility, error) {
	emp, err := e.employee(ctx, "eligibility.can_use", employeeID)
	if err != nil {
		return Eligibility{}, err
	}
	return e.Eligibility.CanUseLeave(ctx, e.store, *emp, code)
}

// Entitlement summarises the tenure-derived vacation figures.
type Entitlement struct {
	YearsOfService       int
	Tier                 VacationAccrualTier
	AnnualVacationHours  generic.Amount
	MonthlyVacationHours generic.Amount
}

func (e *Engine) Entitlement(ctx context.Context, actor ActingUser, employeeID string) (*Entitlement, error) {
	const op = "provision.entitlement"
	if err := canRead(actor, employeeID, op); err != nil {
		return nil, err
	}
	emp, err := e.employee(ctx, op, employeeID)
	if err != nil {
		return nil, err
	}
	tier, err := e.Resolver.ResolveVacationTier(ctx, e.store, *emp)
	if err != nil {
		return nil, err
	}
	annual, err := e.Provisioner.AnnualVacationHours(ctx, e.store, *emp)
	if err != nil {
		return nil, err
	}
	monthly, err := e.Provisioner.MonthlyVacationHours(ctx, e.store, *emp)
	if err != nil {
		return nil, err
	}
	return &Entitlement{
		YearsOfService:       e.Resolver.YearsOfService(*emp),
		Tier:                 *tier,
		AnnualVacationHours:  annual,
		MonthlyVacationHours: monthly,
	}, nil
}

func (e *Engine) ListLeaveTypes(ctx context.Context) ([]LeaveType, error) {
	types, err := e.store.ListLeaveTypes(ctx)
	if err != nil {
		return nil, generic.Internal("leave_types.list", err)
	}
	return types, nil
}

// =============================================================================
// BALANCES
// =============================================================================

// GetBalance returns the (employee, year) balance, creating a zero row on
// first access.
func (e *Engine) GetBalance(ctx context.Context, actor ActingUser, employeeID string, year int) (*PTOBalance, error) {
	const op = "balance.get"
	if err := canRead(actor, employeeID, op); err != nil {
		return nil, err
	}
	if _, err := e.employee(ctx, op, employeeID); err != nil {
		return nil, err
	}
	if b, err := e.store.GetBalance(ctx, employeeID, year); err != nil {
		return nil, generic.Internal(op, err)
	} else if b != nil {
		return b, nil
	}

	var balance *PTOBalance
	err := e.store.WithTx(ctx, func(tx Tx) error {
		var err error
		balance, err = e.Ledger.GetOrCreate(ctx, tx, BalanceKey{EmployeeID: employeeID, Year: year})
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (e *Engine) ProvisionBalance(ctx context.Context, actor ActingUser, employeeID string, year int) (*PTOBalance, error) {
	return e.Provisioner.ProvisionBalance(ctx, actor, employeeID, year)
}

// =============================================================================
// CONFLICTS
// =============================================================================

func (e *Engine) FindDepartmentConflicts(ctx context.Context, actor ActingUser, employeeID string, start, end generic.Date, excludeRequestID string) ([]ConflictSummary, error) {
	if err := canRead(actor, employeeID, "conflicts.find"); err != nil {
		return nil, err
	}
	return e.Conflicts.FindDepartmentConflicts(ctx, employeeID, start, end, excludeRequestID)
}

// =============================================================================
// CARRYOVER
// =============================================================================

func (e *Engine) SubmitCarryover(ctx context.Context, actor ActingUser, in SubmitCarryoverInput) (*CarryoverResult, error) {
	return e.Carryover.Submit(ctx, actor, in)
}

func (e *Engine) ApproveCarryover(ctx context.Context, actor ActingUser, carryoverID string, hoursApproved generic.Amount, notes string) (*CarryoverResult, error) {
	return e.Carryover.Approve(ctx, actor, carryoverID, hoursApproved, notes)
}

func (e *Engine) DenyCarryover(ctx context.Context, actor ActingUser, carryoverID, notes string) (*CarryoverResult, error) {
	return e.Carryover.Deny(ctx, actor, carryoverID, notes)
}

func (e *Engine) GetCarryover(ctx context.Context, actor ActingUser, carryoverID string) (*CarryoverRequest, error) {
	cr, err := e.Carryover.Get(ctx, carryoverID)
	if err != nil {
		return nil, err
	}
	if err := canRead(actor, cr.EmployeeID, "carryover.get"); err != nil {
		return nil, err
	}
	return cr, nil
}

// ListCarryovers restricts non-privileged actors to their own requests.
func (e *Engine) ListCarryovers(ctx context.Context, actor ActingUser, filter CarryoverFilter) ([]CarryoverRequest, error) {
	if !actor.IsPrivileged() {
		if filter.EmployeeID != "" && filter.EmployeeID != actor.ID {
			return nil, generic.Unauthorized("carryover.list", "%s may not list carryover for %s", actor.ID, filter.EmployeeID)
		}
		filter.EmployeeID = actor.ID
	}
	return e.Carryover.List(ctx, filter)
}

// =============================================================================
// ORGANISATION
// =============================================================================

func (e *Engine) GetEmployee(ctx context.Context, actor ActingUser, employeeID string) (*Employee, error) {
	const op = "employees.get"
	if err := canRead(actor, employeeID, op); err != nil {
		return nil, err
	}
	return e.employee(ctx, op, employeeID)
}

func (e *Engine) ListEmployees(ctx context.Context, actor ActingUser, filter EmployeeFilter) ([]Employee, error) {
	const op = "employees.list"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not list employees", actor.Role)
	}
	emps, err := e.store.ListEmployees(ctx, filter)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	return emps, nil
}

// SaveEmployee creates or replaces an employee record.
func (e *Engine) SaveEmployee(ctx context.Context, actor ActingUser, emp Employee) (*Employee, error) {
	const op = "employees.save"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not manage employees", actor.Role)
	}
	if strings.TrimSpace(emp.ID) == "" || strings.TrimSpace(emp.Name) == "" {
		return nil, generic.PolicyViolation(op, "employee id and name are required")
	}
	if _, err := ParseRole(string(emp.Role)); err != nil {
		return nil, generic.PolicyViolation(op, "%v", err)
	}
	if emp.HireDate.IsZero() {
		return nil, generic.PolicyViolation(op, "hire date is required")
	}
	if emp.LocationCity != "" && emp.LocationState == "" {
		return nil, generic.PolicyViolation(op, "a city requires a state")
	}
	if emp.DepartmentID != "" {
		d, err := e.store.GetDepartment(ctx, emp.DepartmentID)
		if err != nil {
			return nil, generic.Internal(op, err)
		}
		if d == nil {
			return nil, generic.NotFound(op, "department %s not found", emp.DepartmentID)
		}
	}
	existing, err := e.store.GetEmployee(ctx, emp.ID)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	if existing != nil {
		emp.CreatedAt = existing.CreatedAt
	} else if emp.CreatedAt.IsZero() {
		emp.CreatedAt = e.clock.Now()
	}
	if err := e.store.SaveEmployee(ctx, emp); err != nil {
		return nil, generic.Internal(op, err)
	}
	e.logger.Info("employee saved", zap.String("employee_id", emp.ID), zap.String("actor", actor.ID))
	return &emp, nil
}

func (e *Engine) SaveDepartment(ctx context.Context, actor ActingUser, d Department) (*Department, error) {
	const op = "departments.save"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not manage departments", actor.Role)
	}
	if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.Name) == "" {
		return nil, generic.PolicyViolation(op, "department id and name are required")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.clock.Now()
	}
	if err := e.store.SaveDepartment(ctx, d); err != nil {
		return nil, generic.Internal(op, err)
	}
	return &d, nil
}

// DeactivateEmployee is a soft delete: history is kept, new requests are
// refused and the employee drops out of conflict checks.
func (e *Engine) DeactivateEmployee(ctx context.Context, actor ActingUser, employeeID string) (*Employee, error) {
	const op = "employees.deactivate"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not deactivate employees", actor.Role)
	}
	emp, err := e.employee(ctx, op, employeeID)
	if err != nil {
		return nil, err
	}
	if !emp.Active {
		return emp, nil
	}
	emp.Active = false
	if err := e.store.SaveEmployee(ctx, *emp); err != nil {
		return nil, generic.Internal(op, err)
	}
	e.logger.Info("employee deactivated", zap.String("employee_id", employeeID), zap.String("actor", actor.ID))
	return emp, nil
}

// DeleteEmployee hard-deletes the employee with its requests, balances,
// carryovers and journal.
func (e *Engine) DeleteEmployee(ctx context.Context, actor ActingUser, employeeID string) error {
	const op = "employees.delete"
	if !actor.IsPrivileged() {
		return generic.Unauthorized(op, "role %s may not delete employees", actor.Role)
	}
	if _, err := e.employee(ctx, op, employeeID); err != nil {
		return err
	}
	if err := e.store.DeleteEmployee(ctx, employeeID); err != nil {
		return generic.Internal(op, err)
	}
	e.logger.Warn("employee deleted", zap.String("employee_id", employeeID), zap.String("actor", actor.ID))
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) employee(ctx context.Context, op, id string) (*Employee, error) {
	emp, err := e.store.GetEmployee(ctx, id)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	if emp == nil {
		return nil, generic.NotFound(op, "employee %s not found", id)
	}
	return emp, nil
}

func canRead(actor ActingUser, employeeID, op string) error {
	if actor.ID == employeeID || actor.IsPrivileged() {
		return nil
	}
	return generic.Unauthorized(op, "%s may not view records of %s", actor.ID, employeeID)
}

// Now exposes the engine clock to adapters that stamp their own records.
func (e *Engine) Now() time.Time { return e.clock.Now() }
