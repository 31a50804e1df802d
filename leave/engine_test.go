package leave_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-engine/factory"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
	"github.com/warp/pto-engine/store/memory"
	"go.uber.org/zap"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// today is a Monday; every test runs against this fixed date.
var today = generic.MustParseDate("2025-03-03")

type testEnv struct {
	ctx     context.Context
	engine  *leave.Engine
	store   *memory.Store
	clock   *generic.FixedClock
	manager leave.ActingUser
}

// newTestEngine returns an engine over a memory store seeded with the
// handbook defaults.
func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	clock := generic.FixedClockAt(today)

	doc, err := factory.Defaults()
	require.NoError(t, err)
	ref, err := doc.Compile()
	require.NoError(t, err)
	_, err = factory.Apply(ctx, store, ref, clock.Now())
	require.NoError(t, err)

	env := &testEnv{
		ctx:     ctx,
		engine:  leave.NewEngine(store, clock, leave.DefaultHoursPerDay, zap.NewNop()),
		store:   store,
		clock:   clock,
		manager: leave.ActingUser{ID: "mgr-1", Role: leave.RoleManager},
	}
	env.department(t, "eng")
	return env
}

func (e *testEnv) department(t *testing.T, id string) {
	t.Helper()
	_, err := e.engine.SaveDepartment(e.ctx, leave.SystemActor, leave.Department{ID: id, Name: id})
	require.NoError(t, err)
}

type hireOpt func(*leave.Employee)

func inChicago(emp *leave.Employee) { emp.LocationState, emp.LocationCity = "IL", "Chicago" }
func asManager(emp *leave.Employee) { emp.Role = leave.RoleManager }

func hiredOn(d generic.Date) hireOpt {
	return func(emp *leave.Employee) { emp.HireDate = d }
}

// hire saves an active FL employee in "eng", hired three years ago unless
// an option says otherwise.
func (e *testEnv) hire(t *testing.T, id string, opts ...hireOpt) leave.Employee {
	t.Helper()
	emp := leave.Employee{
		ID:            id,
		Name:          "Employee " + id,
		Role:          leave.RoleEmployee,
		HireDate:      today.AddYears(-3),
		LocationState: "FL",
		DepartmentID:  "eng",
		Active:        true,
	}
	for _, opt := range opts {
		opt(&emp)
	}
	saved, err := e.engine.SaveEmployee(e.ctx, leave.SystemActor, emp)
	require.NoError(t, err)
	return *saved
}

func (e *testEnv) provision(t *testing.T, empID string, year int) *leave.PTOBalance {
	t.Helper()
	b, err := e.engine.ProvisionBalance(e.ctx, leave.SystemActor, empID, year)
	require.NoError(t, err)
	return b
}

func (e *testEnv) balance(t *testing.T, empID string, year int) *leave.PTOBalance {
	t.Helper()
	b, err := e.engine.GetBalance(e.ctx, leave.SystemActor, empID, year)
	require.NoError(t, err)
	return b
}

func (e *testEnv) vacation(t *testing.T, emp leave.Employee, start generic.Date, days int) *leave.RequestResult {
	t.Helper()
	res, err := e.engine.CreateRequest(e.ctx, actorFor(emp), leave.CreateRequestInput{
		EmployeeID: emp.ID,
		LeaveCode:  leave.CodeVacation,
		StartDate:  start,
		EndDate:    start.AddDays(days - 1),
	})
	require.NoError(t, err)
	return res
}

func actorFor(emp leave.Employee) leave.ActingUser {
	return leave.ActingUser{ID: emp.ID, Role: emp.Role}
}

func hasWarning(warnings []generic.Warning, code string) bool {
	for _, w := range warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// =============================================================================
// END TO END
// =============================================================================

func TestRequest_ChicagoVacationReservesPending(t *testing.T) {
	// GIVEN: A Chicago employee hired 3 years ago with an 80 hour vacation total
	env := newTestEngine(t)
	emp := env.hire(t, "alice", inChicago)
	before := env.provision(t, emp.ID, 2025)
	require.Equal(t, 80.0, before.VacationTotal.Float())

	// WHEN: Requesting 3 vacation days starting tomorrow
	res := env.vacation(t, emp, today.AddDays(1), 3)

	// THEN: Pending request, 24 hours reserved, available drops 80 -> 56
	assert.Equal(t, leave.StatusPending, res.Request.Status)
	assert.Equal(t, "3", res.Request.TotalDays.String())
	assert.Equal(t, 24.0, res.Request.Hours.Float())
	assert.Equal(t, 24.0, res.Balance.VacationPending.Float())
	assert.Equal(t, 56.0, leave.AvailableVacation(*res.Balance).Float())
	assert.True(t, hasWarning(res.Warnings, generic.WarnAdvanceNotice), "one day notice is short of the 7 day policy")

	stored := env.balance(t, emp.ID, 2025)
	assert.Equal(t, 56.0, leave.AvailableVacation(*stored).Float())
}

func TestRequest_ManagerRequestAutoApproves(t *testing.T) {
	// GIVEN: A provisioned manager
	env := newTestEngine(t)
	mgr := env.hire(t, "maria", asManager)
	env.provision(t, mgr.ID, 2025)

	// WHEN: Submitting a 1 day vacation request
	res := env.vacation(t, mgr, today.AddDays(30), 1)

	// THEN: Approved immediately; used +8, pending never touched
	assert.Equal(t, leave.StatusApproved, res.Request.Status)
	assert.Equal(t, mgr.ID, res.Request.ApprovedBy)
	assert.Equal(t, 8.0, res.Balance.VacationUsed.Float())
	assert.True(t, res.Balance.VacationPending.IsZero())

	entries, err := env.engine.RequestJournal(env.ctx, env.manager, res.Request.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, generic.FieldUsed, entries[0].Field)
	assert.True(t, generic.SumDeltas(entries, generic.FieldPending).IsZero())
}

func TestEligibility_SickLeaveInsideWaitingPeriod(t *testing.T) {
	// GIVEN: An FL employee (default sick policy, 90 day wait) hired 10 days ago
	env := newTestEngine(t)
	emp := env.hire(t, "newbie", hiredOn(today.AddDays(-10)))

	// WHEN: Checking eligibility
	el, err := env.engine.CanUseLeave(env.ctx, emp.ID, leave.CodeSick)
	require.NoError(t, err)

	// THEN: Not allowed, 80 days remaining
	assert.False(t, el.Allowed)
	assert.Contains(t, el.Reason, "80")
	assert.Equal(t, 80, el.DaysRemaining)

	// AND: Creation is rejected as a policy violation
	_, err = env.engine.CreateRequest(env.ctx, actorFor(emp), leave.CreateRequestInput{
		EmployeeID: emp.ID,
		LeaveCode:  leave.CodeSick,
		StartDate:  today.AddDays(1),
		EndDate:    today.AddDays(1),
		Notes:      "doctor visit",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)
	assert.Contains(t, err.Error(), "80")
}

func TestConflicts_ColleagueOnApprovedVacation(t *testing.T) {
	// GIVEN: Two colleagues with approved vacation over March 10-12
	env := newTestEngine(t)
	a := env.hire(t, "amy")
	b := env.hire(t, "bob")
	env.provision(t, a.ID, 2025)
	env.provision(t, b.ID, 2025)
	march10 := generic.MustParseDate("2025-03-10")

	ra := env.vacation(t, a, march10, 3)
	rb := env.vacation(t, b, march10, 3)
	_, err := env.engine.ApproveRequest(env.ctx, env.manager, ra.Request.ID)
	require.NoError(t, err)
	_, err = env.engine.ApproveRequest(env.ctx, env.manager, rb.Request.ID)
	require.NoError(t, err)

	// WHEN: Looking for conflicts with amy's request
	conflicts, err := env.engine.FindDepartmentConflicts(env.ctx, actorFor(a), a.ID, march10, march10.AddDays(2), ra.Request.ID)
	require.NoError(t, err)

	// THEN: Exactly bob's request
	require.Len(t, conflicts, 1)
	assert.Equal(t, rb.Request.ID, conflicts[0].RequestID)
	assert.Equal(t, b.ID, conflicts[0].EmployeeID)
	assert.Equal(t, b.Name, conflicts[0].EmployeeName)
	assert.Equal(t, leave.CodeVacation, conflicts[0].LeaveTypeCode)
	assert.Equal(t, leave.StatusApproved, conflicts[0].Status)
}

func TestCarryover_PartialApproval(t *testing.T) {
	// GIVEN: 40 unused sick hours in 2024
	env := newTestEngine(t)
	emp := env.hire(t, "carl")
	from := env.provision(t, emp.ID, 2024)
	require.Equal(t, 40.0, leave.UnusedHours(*from, generic.BucketSick).Float())

	sick, err := env.store.GetLeaveTypeByCode(env.ctx, leave.CodeSick)
	require.NoError(t, err)

	// WHEN: Requesting 40 and a manager approving 20
	sub, err := env.engine.SubmitCarryover(env.ctx, actorFor(emp), leave.SubmitCarryoverInput{
		EmployeeID:     emp.ID,
		LeaveTypeID:    sick.ID,
		HoursRequested: generic.Hours(40),
		FromYear:       2024,
	})
	require.NoError(t, err)
	require.Equal(t, leave.CarryoverPending, sub.Carryover.Status)

	res, err := env.engine.ApproveCarryover(env.ctx, env.manager, sub.Carryover.ID, generic.Hours(20), "half")
	require.NoError(t, err)

	// THEN: 2025 sick carryover is 20, not 40
	assert.Equal(t, leave.CarryoverApproved, res.Carryover.Status)
	require.NotNil(t, res.Carryover.HoursApproved)
	assert.Equal(t, 20.0, res.Carryover.HoursApproved.Float())
	assert.Equal(t, 2025, res.Carryover.ToYear)

	next := env.balance(t, emp.ID, 2025)
	assert.Equal(t, 20.0, next.SickCarryover.Float())
}

// =============================================================================
// ENGINE QUERIES AND ORGANISATION
// =============================================================================

func TestEngine_GetBalanceCreatesZeroRow(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "zed")

	b := env.balance(t, emp.ID, 2026)

	assert.Equal(t, 2026, b.Year)
	assert.True(t, b.VacationTotal.IsZero(), "balances are never provisioned implicitly")
	again := env.balance(t, emp.ID, 2026)
	assert.Equal(t, b.ID, again.ID)
}

func TestEngine_GetBalanceOtherEmployeeUnauthorized(t *testing.T) {
	env := newTestEngine(t)
	a := env.hire(t, "amy")
	b := env.hire(t, "bob")

	_, err := env.engine.GetBalance(env.ctx, actorFor(a), b.ID, 2025)

	assert.ErrorIs(t, err, generic.ErrUnauthorized)
}

func TestEngine_Entitlement(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "vet", hiredOn(today.AddYears(-6)))

	ent, err := env.engine.Entitlement(env.ctx, actorFor(emp), emp.ID)
	require.NoError(t, err)

	assert.Equal(t, 6, ent.YearsOfService)
	assert.Equal(t, 5, ent.Tier.MinYearsService)
	assert.Equal(t, 120.0, ent.AnnualVacationHours.Float())
	assert.Equal(t, 10.0, ent.MonthlyVacationHours.Float())
}

func TestEngine_ProvisionUsesTenureOnFirstDayOfYear(t *testing.T) {
	// GIVEN: An employee who reached five years of service in mid 2024
	env := newTestEngine(t)
	emp := env.hire(t, "vera", hiredOn(generic.MustParseDate("2019-06-01")))

	tests := []struct {
		year         int
		wantVacation float64
	}{
		{2024, 80},  // four years on 2024-01-01
		{2025, 120}, // five years on 2025-01-01
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.year), func(t *testing.T) {
			b := env.provision(t, emp.ID, tt.year)
			assert.Equal(t, tt.wantVacation, b.VacationTotal.Float())
		})
	}

	// AND: A hire later in the year is provisioned from the hire date
	late := env.hire(t, "lena", hiredOn(generic.MustParseDate("2025-02-01")))
	b := env.provision(t, late.ID, 2025)
	assert.Equal(t, 80.0, b.VacationTotal.Float())
	assert.Equal(t, 40.0, b.SickTotal.Float())
}

func TestEngine_SaveEmployeeRequiresPrivilege(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	self := actorFor(emp)

	emp.Role = leave.RoleAdmin
	_, err := env.engine.SaveEmployee(env.ctx, self, emp)

	assert.ErrorIs(t, err, generic.ErrUnauthorized)
}

func TestEngine_SaveEmployeeUnknownDepartment(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.engine.SaveEmployee(env.ctx, leave.SystemActor, leave.Employee{
		ID: "x", Name: "X", Role: leave.RoleEmployee, HireDate: today, DepartmentID: "nope", Active: true,
	})

	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestEngine_DeactivatedEmployeeCannotSubmitAndLeavesConflicts(t *testing.T) {
	// GIVEN: bob has pending vacation, then is deactivated
	env := newTestEngine(t)
	a := env.hire(t, "amy")
	b := env.hire(t, "bob")
	start := today.AddDays(20)
	env.vacation(t, b, start, 2)

	_, err := env.engine.DeactivateEmployee(env.ctx, env.manager, b.ID)
	require.NoError(t, err)

	// WHEN/THEN: bob cannot submit
	_, err = env.engine.CreateRequest(env.ctx, actorFor(b), leave.CreateRequestInput{
		EmployeeID: b.ID, LeaveCode: leave.CodeVacation, StartDate: start.AddDays(5), EndDate: start.AddDays(5),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	// AND: bob no longer shows up as a conflict for amy
	conflicts, err := env.engine.FindDepartmentConflicts(env.ctx, actorFor(a), a.ID, start, start.AddDays(1), "")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestEngine_DeleteEmployeeCascades(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "gone")
	env.provision(t, emp.ID, 2025)
	res := env.vacation(t, emp, today.AddDays(20), 1)

	require.NoError(t, env.engine.DeleteEmployee(env.ctx, env.manager, emp.ID))

	_, err := env.engine.GetEmployee(env.ctx, env.manager, emp.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = env.engine.GetRequest(env.ctx, env.manager, res.Request.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
	entries, err := env.engine.RequestJournal(env.ctx, env.manager, res.Request.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_PendingQueueRequiresPrivilege(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.vacation(t, emp, today.AddDays(20), 1)

	_, err := env.engine.GetPendingRequestsForDepartment(env.ctx, actorFor(emp), "eng")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	queue, err := env.engine.GetPendingRequestsForDepartment(env.ctx, env.manager, "eng")
	require.NoError(t, err)
	assert.Len(t, queue, 1)

	_, err = env.engine.GetPendingRequestsForDepartment(env.ctx, env.manager, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestEngine_ListCarryoversScopedToOwnRecords(t *testing.T) {
	env := newTestEngine(t)
	a := env.hire(t, "amy")
	b := env.hire(t, "bob")

	_, err := env.engine.ListCarryovers(env.ctx, actorFor(a), leave.CarryoverFilter{EmployeeID: b.ID})
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	list, err := env.engine.ListCarryovers(env.ctx, actorFor(a), leave.CarryoverFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
