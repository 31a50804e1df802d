/*
request.go - Request Lifecycle: the state machine for one PTO request

STATES:
  pending --approve--> approved
          --deny-----> denied
          --cancel---> cancelled

  All three terminal states are absorbing. Any transition attempted on a
  non-pending request fails with InvalidState and leaves the row as it was.

BALANCE EFFECTS (hours = total_days x hours_per_day):
  create   vacation: pending += hours           sick/personal: none
  approve  vacation: pending -> used            sick/personal: used += hours
  deny     vacation: pending -= hours           sick/personal: none
  cancel   vacation: pending -= hours           sick/personal: none
  Tracking-only leave types never touch a balance.

AUTO-APPROVAL:
  When the requesting employee's role is privileged the new request goes
  straight to approved in the same transaction. Vacation is then charged
  to used directly, so no pending hours are ever visible.

ATOMICITY:
  Every transition runs in Store.WithTx: the request row is locked, its
  status re-checked, the balance mutated, and the status written, all in
  one commit. Two concurrent approvals of the same request serialise on
  the row lock and the loser observes a non-pending status.

APPROVAL BOUNDARY:
  An approval never drives available hours negative. For sick and personal
  leave (charged at approval) an approval that would overdraw fails with
  PolicyViolation. Submissions may exceed available hours with a warning.
*/
package leave

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/pto-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// TYPES
// =============================================================================

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusDenied    RequestStatus = "denied"
	StatusCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusCancelled
}

func ParseRequestStatus(s string) (RequestStatus, error) {
	st := RequestStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusApproved, StatusDenied, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown request status %q", s)
}

// ActiveStatuses are the statuses that hold a date range.
var ActiveStatuses = []RequestStatus{StatusPending, StatusApproved}

type PTORequest struct {
	ID           string
	EmployeeID   string
	LeaveTypeID  string
	StartDate    generic.Date
	EndDate      generic.Date
	HalfDay      bool
	TotalDays    decimal.Decimal
	Hours        generic.Amount // fixed at creation, settled as-is
	Status       RequestStatus
	Notes        string
	DenialReason string
	ApprovedBy   string // approver or denier
	SubmittedAt  time.Time
	ApprovedAt   *time.Time // set on approve and deny
	UpdatedAt    time.Time
}

// BalanceKey is the balance row the request charges: the start date's year.
func (r PTORequest) BalanceKey() BalanceKey {
	return BalanceKey{EmployeeID: r.EmployeeID, Year: r.StartDate.Year()}
}

type CreateRequestInput struct {
	EmployeeID string
	LeaveCode  LeaveCode
	StartDate  generic.Date
	EndDate    generic.Date
	HalfDay    bool
	Notes      string
}

// RequestResult is returned by every transition. Warnings are advisory.
type RequestResult struct {
	Request  *PTORequest
	Balance  *PTOBalance // nil for tracking-only leave
	Warnings []generic.Warning
}

// =============================================================================
// REQUEST SERVICE
// =============================================================================

type RequestService struct {
	store       Store
	resolver    *Resolver
	checker     *EligibilityChecker
	ledger      *Ledger
	clock       generic.Clock
	hoursPerDay decimal.Decimal
	logger      *zap.Logger
}

func NewRequestService(store Store, resolver *Resolver, checker *EligibilityChecker, ledger *Ledger,
	clock generic.Clock, hoursPerDay decimal.Decimal, logger *zap.Logger) *RequestService {
	return &RequestService{
		store:       store,
		resolver:    resolver,
		checker:     checker,
		ledger:      ledger,
		clock:       clock,
		hoursPerDay: hoursPerDay,
		logger:      logger.Named("leave.requests"),
	}
}

func ptoRef(id, action string, actor ActingUser, reason string) Ref {
	return Ref{Kind: "pto", ReferenceID: id, Action: action, Actor: actor.ID, Reason: reason}
}

// =============================================================================
// CREATE
// =============================================================================

func (s *RequestService) Create(ctx context.Context, actor ActingUser, in CreateRequestInput) (*RequestResult, error) {
	const op = "requests.create"
	if actor.ID != in.EmployeeID && !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "%s may not submit requests for %s", actor.ID, in.EmployeeID)
	}

	var result *RequestResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		emp, err := tx.GetEmployee(ctx, in.EmployeeID)
		if err != nil {
			return generic.Internal(op, err)
		}
		if emp == nil {
			return generic.NotFound(op, "employee %s not found", in.EmployeeID)
		}
		if !emp.Active {
			return generic.InvalidState(op, "employee %s is inactive", emp.ID)
		}

		today := generic.Today(s.clock)
		if in.EndDate.Before(in.StartDate) {
			return generic.PolicyViolation(op, "end date %s before start date %s", in.EndDate, in.StartDate)
		}
		if in.StartDate.Before(today) {
			return generic.PolicyViolation(op, "start date %s is in the past", in.StartDate)
		}

		lt, err := s.resolver.LeaveType(ctx, tx, in.LeaveCode)
		if err != nil {
			return err
		}
		policy, err := s.resolver.ResolveForType(ctx, tx, *emp, *lt)
		if err != nil {
			return err
		}

		var warnings []generic.Warning
		if policy == nil {
			warnings = append(warnings, generic.NewWarning(generic.WarnNoPolicyResolved,
				"no %s policy is configured; no restrictions applied", lt.Code))
		}

		if el := s.checker.Evaluate(*emp, policy); !el.Allowed {
			return generic.PolicyViolation(op, "%s: %s", lt.Name, el.Reason)
		}

		totalDays, err := TotalDays(in.StartDate, in.EndDate, in.HalfDay)
		if err != nil {
			return err
		}
		hours := generic.Amount{Value: totalDays, Unit: generic.UnitDays}.ToHours(s.hoursPerDay)

		shapeWarnings, err := s.checker.CheckShape(RequestShape{
			LeaveType: *lt, Policy: policy,
			Start: in.StartDate, End: in.EndDate,
			Hours: hours, Notes: in.Notes,
		})
		if err != nil {
			return err
		}
		warnings = append(warnings, shapeWarnings...)

		overlapping, err := tx.ListRequests(ctx, RequestFilter{
			EmployeeIDs:  []string{emp.ID},
			Statuses:     ActiveStatuses,
			OverlapStart: &in.StartDate,
			OverlapEnd:   &in.EndDate,
		})
		if err != nil {
			return generic.Internal(op, err)
		}
		for _, o := range overlapping {
			warnings = append(warnings, generic.NewWarning(generic.WarnOverlap,
				"overlaps your %s request %s (%s to %s)", o.Status, o.ID, o.StartDate, o.EndDate))
		}

		now := s.clock.Now()
		req := &PTORequest{
			ID:          uuid.NewString(),
			EmployeeID:  emp.ID,
			LeaveTypeID: lt.ID,
			StartDate:   in.StartDate,
			EndDate:     in.EndDate,
			HalfDay:     in.HalfDay,
			TotalDays:   totalDays,
			Hours:       hours,
			Status:      StatusPending,
			Notes:       strings.TrimSpace(in.Notes),
			SubmittedAt: now,
			UpdatedAt:   now,
		}

		var balance *PTOBalance
		bucket, deducts := lt.Bucket()
		autoApprove := IsPrivileged(emp.Role)
		if deducts {
			balance, err = s.ledger.GetOrCreate(ctx, tx, req.BalanceKey())
			if err != nil {
				return err
			}
			available, err := s.spendable(ctx, tx, balance, bucket, lt.ID)
			if err != nil {
				return generic.Internal(op, err)
			}
			if hours.GreaterThan(available) {
				warnings = append(warnings, generic.NewWarning(generic.WarnBalanceExceeded,
					"requested %s hours exceeds %s available %s hours", hours.Value, bucket, available.Value))
				if autoApprove {
					autoApprove = false
					warnings = append(warnings, generic.NewWarning(generic.WarnAutoApproveHeld,
						"auto-approval skipped: approving would overdraw the %s balance; awaiting review", bucket))
				}
			}

			switch {
			case autoApprove:
				balance, err = s.ledger.AdjustUsed(ctx, tx, req.BalanceKey(), bucket, hours,
					ptoRef(req.ID, "settle", actor, "auto-approved on submission"))
			case bucket == generic.BucketVacation:
				balance, err = s.ledger.AdjustVacation(ctx, tx, req.BalanceKey(), hours, true,
					ptoRef(req.ID, "reserve", actor, "submitted"))
			}
			if err != nil {
				return err
			}
		}

		if autoApprove {
			req.Status = StatusApproved
			req.ApprovedBy = emp.ID
			req.ApprovedAt = &now
		}
		if err := tx.SaveRequest(ctx, req); err != nil {
			return generic.Internal(op, err)
		}

		result = &RequestResult{Request: req, Balance: balance, Warnings: warnings}
		return nil
	})
	if err != nil {
		s.logFailure(op, err, zap.String("employee_id", in.EmployeeID), zap.String("leave_type", string(in.LeaveCode)))
		return nil, err
	}

	s.logger.Info("request created",
		zap.String("request_id", result.Request.ID),
		zap.String("employee_id", result.Request.EmployeeID),
		zap.String("status", string(result.Request.Status)),
		zap.String("hours", result.Request.Hours.Value.String()),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Approve moves a pending request to approved and settles its hours.
func (s *RequestService) Approve(ctx context.Context, actor ActingUser, requestID string) (*RequestResult, error) {
	const op = "requests.approve"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not approve requests", actor.Role)
	}

	result, err := s.transition(ctx, op, requestID, nil, func(tx Tx, req *PTORequest, lt LeaveType) (*PTOBalance, error) {
		var balance *PTOBalance
		bucket, deducts := lt.Bucket()
		if deducts {
			current, err := s.ledger.GetOrCreate(ctx, tx, req.BalanceKey())
			if err != nil {
				return nil, err
			}
			available, err := s.spendable(ctx, tx, current, bucket, lt.ID)
			if err != nil {
				return nil, generic.Internal(op, err)
			}
			// Vacation pending already counts this request.
			if bucket != generic.BucketVacation {
				available = available.Sub(req.Hours)
			}
			if available.IsNegative() {
				return nil, generic.PolicyViolation(op, "approving %s hours would overdraw %s balance by %s hours",
					req.Hours.Value, bucket, available.Neg().Value)
			}
			if bucket == generic.BucketVacation {
				balance, err = s.ledger.MovePendingToUsed(ctx, tx, req.BalanceKey(), req.Hours,
					ptoRef(req.ID, "settle", actor, "approved"))
			} else {
				balance, err = s.ledger.AdjustUsed(ctx, tx, req.BalanceKey(), bucket, req.Hours,
					ptoRef(req.ID, "settle", actor, "approved"))
			}
			if err != nil {
				return nil, err
			}
		}

		now := s.clock.Now()
		req.Status = StatusApproved
		req.ApprovedBy = actor.ID
		req.ApprovedAt = &now
		return balance, nil
	})
	if err != nil {
		s.logFailure(op, err, zap.String("request_id", requestID), zap.String("actor", actor.ID))
		return nil, err
	}
	s.logger.Info("request approved", zap.String("request_id", requestID), zap.String("approver", actor.ID))
	return result, nil
}

// Deny moves a pending request to denied and releases reserved hours.
func (s *RequestService) Deny(ctx context.Context, actor ActingUser, requestID, reason string) (*RequestResult, error) {
	const op = "requests.deny"
	if !actor.IsPrivileged() {
		return nil, generic.Unauthorized(op, "role %s may not deny requests", actor.Role)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, generic.PolicyViolation(op, "a denial reason is required")
	}

	result, err := s.transition(ctx, op, requestID, nil, func(tx Tx, req *PTORequest, lt LeaveType) (*PTOBalance, error) {
		balance, err := s.release(ctx, tx, req, lt, ptoRef(req.ID, "release", actor, "denied: "+reason))
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		req.Status = StatusDenied
		req.DenialReason = reason
		req.ApprovedBy = actor.ID
		req.ApprovedAt = &now
		return balance, nil
	})
	if err != nil {
		s.logFailure(op, err, zap.String("request_id", requestID), zap.String("actor", actor.ID))
		return nil, err
	}
	s.logger.Info("request denied", zap.String("request_id", requestID), zap.String("denier", actor.ID))
	return result, nil
}

// Cancel withdraws a pending request. Only the owner or a privileged actor
// may cancel.
func (s *RequestService) Cancel(ctx context.Context, actor ActingUser, requestID string) (*RequestResult, error) {
	const op = "requests.cancel"
	owner := func(req *PTORequest) error {
		if req.EmployeeID != actor.ID && !actor.IsPrivileged() {
			return generic.Unauthorized(op, "only the owner may cancel request %s", req.ID)
		}
		return nil
	}
	result, err := s.transition(ctx, op, requestID, owner, func(tx Tx, req *PTORequest, lt LeaveType) (*PTOBalance, error) {
		balance, err := s.release(ctx, tx, req, lt, ptoRef(req.ID, "release", actor, "cancelled"))
		if err != nil {
			return nil, err
		}
		req.Status = StatusCancelled
		return balance, nil
	})
	if err != nil {
		s.logFailure(op, err, zap.String("request_id", requestID), zap.String("actor", actor.ID))
		return nil, err
	}
	s.logger.Info("request cancelled", zap.String("request_id", requestID), zap.String("actor", actor.ID))
	return result, nil
}

// spendable is the bucket's available hours less carryover that pending or
// approved carryover requests hold against the same year.
func (s *RequestService) spendable(ctx context.Context, tx Tx, b *PTOBalance, bucket generic.Bucket, leaveTypeID string) (generic.Amount, error) {
	held, err := heldCarryover(ctx, tx, b.EmployeeID, leaveTypeID, b.Year, "")
	if err != nil {
		return generic.Amount{}, err
	}
	return Available(*b, bucket).Sub(held), nil
}

// release undoes the creation-time reservation. Only vacation reserves.
func (s *RequestService) release(ctx context.Context, tx Tx, req *PTORequest, lt LeaveType, ref Ref) (*PTOBalance, error) {
	bucket, deducts := lt.Bucket()
	if !deducts || bucket != generic.BucketVacation {
		return nil, nil
	}
	return s.ledger.RemovePending(ctx, tx, req.BalanceKey(), req.Hours, ref)
}

type transitionFunc func(tx Tx, req *PTORequest, lt LeaveType) (*PTOBalance, error)

// transition locks the request, runs authorize, requires pending, applies fn
// and persists. The row is only written when every step succeeds.
func (s *RequestService) transition(ctx context.Context, op, requestID string, authorize func(*PTORequest) error, fn transitionFunc) (*RequestResult, error) {
	var result *RequestResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return generic.Internal(op, err)
		}
		if req == nil {
			return generic.NotFound(op, "request %s not found", requestID)
		}
		lt, err := tx.GetLeaveType(ctx, req.LeaveTypeID)
		if err != nil {
			return generic.Internal(op, err)
		}
		if lt == nil {
			return generic.NotFound(op, "leave type %s not found", req.LeaveTypeID)
		}
		if authorize != nil {
			if err := authorize(req); err != nil {
				return err
			}
		}
		if req.Status != StatusPending {
			return generic.InvalidState(op, "request %s is %s, not pending", req.ID, req.Status)
		}

		balance, err := fn(tx, req, *lt)
		if err != nil {
			return err
		}
		req.UpdatedAt = s.clock.Now()
		if err := tx.SaveRequest(ctx, req); err != nil {
			return generic.Internal(op, err)
		}
		result = &RequestResult{Request: req, Balance: balance}
		return nil
	})
	return result, err
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *RequestService) Get(ctx context.Context, requestID string) (*PTORequest, error) {
	const op = "requests.get"
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	if req == nil {
		return nil, generic.NotFound(op, "request %s not found", requestID)
	}
	return req, nil
}

// ListForEmployee returns the employee's requests, newest first. A nil
// status returns every status.
func (s *RequestService) ListForEmployee(ctx context.Context, employeeID string, status *RequestStatus) ([]PTORequest, error) {
	filter := RequestFilter{EmployeeIDs: []string{employeeID}}
	if status != nil {
		filter.Statuses = []RequestStatus{*status}
	}
	reqs, err := s.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, generic.Internal("requests.list_for_employee", err)
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].SubmittedAt.After(reqs[j].SubmittedAt) })
	return reqs, nil
}

// PendingForDepartment returns pending requests oldest first. An empty
// department id returns pending requests across the organisation.
func (s *RequestService) PendingForDepartment(ctx context.Context, departmentID string) ([]PTORequest, error) {
	const op = "requests.pending_for_department"
	filter := RequestFilter{Statuses: []RequestStatus{StatusPending}}
	if departmentID != "" {
		emps, err := s.store.ListEmployees(ctx, EmployeeFilter{DepartmentID: departmentID})
		if err != nil {
			return nil, generic.Internal(op, err)
		}
		if len(emps) == 0 {
			return []PTORequest{}, nil
		}
		for _, e := range emps {
			filter.EmployeeIDs = append(filter.EmployeeIDs, e.ID)
		}
	}
	reqs, err := s.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	return reqs, nil
}

func (s *RequestService) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	if generic.IsClientError(err) {
		s.logger.Warn("request operation rejected", fields...)
		return
	}
	s.logger.Error("request operation failed", fields...)
}
