/*
Package leave implements the leave accrual, eligibility, balance, and request
engine on top of the generic building blocks.

PURPOSE:
  Resolve which policy applies to an employee (location cascade and tenure
  tier), decide whether leave may be used, keep per-year balances
  consistent across the request lifecycle, surface department conflicts,
  and run the year-end carryover workflow.

COMPONENTS (leaves first):
  store.go       Policy Store and persistence contract
  resolver.go    Policy Resolver (city -> state -> default, tenure tiers)
  eligibility.go Eligibility Checker (waiting period, request shape)
  balance.go     PTOBalance and the derived "available" functions
  ledger.go      Balance Ledger (all balance mutation)
  request.go     Request Lifecycle (pending -> approved/denied/cancelled)
  conflict.go    Conflict Detector (department overlap, advisory)
  carryover.go   Carryover Workflow (year N unused -> year N+1 carryover)
  provision.go   Tier/policy driven totals (explicit provisioning)
  engine.go      Facade wiring every component over one Store

KEY CONCEPTS IN THIS FILE (types.go):
  - Role and IsPrivileged: the single privilege boundary
  - ActingUser: explicit caller identity passed into every call
  - Employee, Department: the organisational data the rules read
  - LeaveType and LeaveCategory: what kind of leave, and whether it
    touches a balance at all

SEE ALSO:
  - generic/errors.go: Error kinds returned by every operation
*/
package leave

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/pto-engine/generic"
)

// =============================================================================
// ROLES - Closed set, one privilege predicate
// =============================================================================

type Role string

const (
	RoleEmployee   Role = "employee"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// ParseRole accepts the four known roles, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleEmployee, RoleManager, RoleAdmin, RoleSuperAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// IsPrivileged is the only place that decides elevated access. Privileged
// roles get auto-approval and may act on other employees' records.
func IsPrivileged(r Role) bool {
	switch r {
	case RoleManager, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// ActingUser is the authenticated caller. The engine trusts it as given.
type ActingUser struct {
	ID   string
	Role Role
}

func (a ActingUser) IsPrivileged() bool { return IsPrivileged(a.Role) }

// SystemActor is used for seeding and maintenance paths.
var SystemActor = ActingUser{ID: "system", Role: RoleSuperAdmin}

// =============================================================================
// ORGANISATION
// =============================================================================

type Department struct {
	ID        string
	Name      string
	ManagerID string // empty when unassigned
	CreatedAt time.Time
}

type Employee struct {
	ID            string
	Name          string
	Email         string
	Role          Role
	HireDate      generic.Date
	LocationState string // e.g. "IL"
	LocationCity  string // optional, e.g. "Chicago"
	DepartmentID  string // empty when unassigned
	Active        bool
	CreatedAt     time.Time
}

// YearsOfService uses a fixed 365-day year.
func (e Employee) YearsOfService(today generic.Date) int {
	days := e.DaysEmployed(today)
	if days < 0 {
		return 0
	}
	return days / 365
}

// DaysEmployed is the signed number of days since hire.
func (e Employee) DaysEmployed(today generic.Date) int {
	return generic.DaysBetween(e.HireDate, today)
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

type LeaveCode string

const (
	CodeVacation    LeaveCode = "VACATION"
	CodeSick        LeaveCode = "SICK"
	CodePersonal    LeaveCode = "PERSONAL"
	CodeBereavement LeaveCode = "BEREAVEMENT"
	CodeFMLA        LeaveCode = "FMLA"
	CodeJuryDuty    LeaveCode = "JURY_DUTY"
	CodeVoting      LeaveCode = "VOTING"
	CodeMilitary    LeaveCode = "MILITARY"
)

func NormalizeCode(s string) LeaveCode {
	return LeaveCode(strings.ToUpper(strings.TrimSpace(s)))
}

type LeaveCategory string

const (
	CategoryAccrued      LeaveCategory = "accrued"
	CategoryAllocated    LeaveCategory = "allocated"
	CategoryTrackingOnly LeaveCategory = "tracking_only"
)

func (c LeaveCategory) Valid() bool {
	switch c {
	case CategoryAccrued, CategoryAllocated, CategoryTrackingOnly:
		return true
	}
	return false
}

type LeaveType struct {
	ID                    string
	Code                  LeaveCode
	Name                  string
	Description           string
	Category              LeaveCategory
	DeductsFromBalance    bool
	RequiresApproval      bool
	RequiresDocumentation bool
	IsPaid                bool
	IsActive              bool
	SortOrder             int
}

// Bucket maps a leave type onto the balance counters it mutates. The second
// return is false for tracking-only types and for types without a bucket.
func (lt LeaveType) Bucket() (generic.Bucket, bool) {
	if !lt.DeductsFromBalance || lt.Category == CategoryTrackingOnly {
		return "", false
	}
	switch lt.Code {
	case CodeVacation:
		return generic.BucketVacation, true
	case CodeSick:
		return generic.BucketSick, true
	case CodePersonal:
		return generic.BucketPersonal, true
	}
	return "", false
}
