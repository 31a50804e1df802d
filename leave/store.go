/*
store.go - Persistence contract for the leave engine

PURPOSE:
  Defines the interface between the leave components and the database.
  Reference data (leave types, policies, tiers, employees, departments) is
  written through Store directly. Everything that mutates balances or
  request state goes through WithTx so the status write and the balance
  write commit together.

KEY INTERFACES:
  Reader: Lookups available both inside and outside a transaction
  Tx:     Row-locking reads plus writes, valid only inside WithTx
  Store:  Reader + reference-data writes + WithTx

NOT-FOUND CONVENTION:
  Get and Lock methods return (nil, nil) when the row does not exist. Domain
  components translate that into a generic NotFound error with context.

ROW LOCKS:
  LockBalance, LockRequest and LockCarryover must hold the row for the
  rest of the transaction (SELECT ... FOR UPDATE on PostgreSQL, a store
  wide writer lock on SQLite and in memory). The "status == pending"
  check is always made on a locked row so two concurrent approvals of
  the same request can never both succeed.

UNIQUENESS:
  - pto_balances:   (employee_id, year)
  - leave_policies: (leave_type_id, location_state, location_city, effective_date)
  - journal:        idempotency_key
  Violations surface as generic.ErrDuplicate / ErrDuplicateIdempotencyKey.

IMPLEMENTATIONS:
  - store/memory:   In-memory for tests and development
  - store/sqlite:   database/sql + go-sqlite3
  - store/postgres: pgx/v5 pool
*/
package leave

import (
	"context"

	"github.com/warp/pto-engine/generic"
)

// =============================================================================
// FILTERS
// =============================================================================

type EmployeeFilter struct {
	DepartmentID string
	ActiveOnly   bool
}

// RequestFilter selects PTO requests. Zero-valued fields do not filter.
// Overlap selects requests whose [start, end] intersects [OverlapStart,
// OverlapEnd] inclusive. Results are ordered by submitted_at ascending.
type RequestFilter struct {
	EmployeeIDs  []string
	Statuses     []RequestStatus
	OverlapStart *generic.Date
	OverlapEnd   *generic.Date
	ExcludeID    string
}

// CarryoverFilter selects carryover requests, ordered by created_at ascending.
type CarryoverFilter struct {
	EmployeeID  string
	LeaveTypeID string
	FromYear    int
	Statuses    []CarryoverStatus
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type Reader interface {
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListEmployees(ctx context.Context, filter EmployeeFilter) ([]Employee, error)
	GetDepartment(ctx context.Context, id string) (*Department, error)

	GetLeaveType(ctx context.Context, id string) (*LeaveType, error)
	GetLeaveTypeByCode(ctx context.Context, code LeaveCode) (*LeaveType, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)
	ListPolicies(ctx context.Context, leaveTypeID string) ([]LeavePolicy, error)
	ListVacationTiers(ctx context.Context) ([]VacationAccrualTier, error)

	GetBalance(ctx context.Context, employeeID string, year int) (*PTOBalance, error)
	ListBalances(ctx context.Context, employeeID string) ([]PTOBalance, error)

	GetRequest(ctx context.Context, id string) (*PTORequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]PTORequest, error)

	GetCarryover(ctx context.Context, id string) (*CarryoverRequest, error)
	ListCarryovers(ctx context.Context, filter CarryoverFilter) ([]CarryoverRequest, error)

	// ListEntries returns journal entries for a request or carryover id in
	// insertion order.
	ListEntries(ctx context.Context, referenceID string) ([]generic.Entry, error)
}

type Tx interface {
	Reader

	LockBalance(ctx context.Context, employeeID string, year int) (*PTOBalance, error)
	InsertBalance(ctx context.Context, b *PTOBalance) error
	UpdateBalance(ctx context.Context, b *PTOBalance) error

	LockRequest(ctx context.Context, id string) (*PTORequest, error)
	SaveRequest(ctx context.Context, r *PTORequest) error

	LockCarryover(ctx context.Context, id string) (*CarryoverRequest, error)
	SaveCarryover(ctx context.Context, c *CarryoverRequest) error

	AppendEntry(ctx context.Context, e generic.Entry) error
}

type Store interface {
	Reader

	// WithTx runs fn in one unit of work. A non-nil error from fn rolls
	// every write back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	SaveDepartment(ctx context.Context, d Department) error
	SaveEmployee(ctx context.Context, e Employee) error
	// DeleteEmployee hard-deletes and cascades to requests, balances,
	// carryovers and journal entries.
	DeleteEmployee(ctx context.Context, id string) error

	SaveLeaveType(ctx context.Context, t LeaveType) error
	SavePolicy(ctx context.Context, p LeavePolicy) error
	DeletePolicy(ctx context.Context, id string) error
	SaveVacationTier(ctx context.Context, t VacationAccrualTier) error
}
