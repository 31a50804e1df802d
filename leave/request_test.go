package leave_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
)

// =============================================================================
// BALANCE CONSERVATION
// =============================================================================

func TestRequest_ApproveWithinAvailableNeverGoesNegative(t *testing.T) {
	tests := []struct {
		name string
		days int
	}{
		{"one day", 1},
		{"three days", 3},
		{"full week", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: 80 available vacation hours
			env := newTestEngine(t)
			emp := env.hire(t, "amy")
			before := leave.AvailableVacation(*env.provision(t, emp.ID, 2025))

			// WHEN: Requesting no more than available, then approving
			res := env.vacation(t, emp, today.AddDays(30), tt.days)
			approved, err := env.engine.ApproveRequest(env.ctx, env.manager, res.Request.ID)
			require.NoError(t, err)

			// THEN: available = before - requested, and not negative
			after := leave.AvailableVacation(*approved.Balance)
			assert.Equal(t, before.Sub(res.Request.Hours).Float(), after.Float())
			assert.False(t, after.IsNegative())
			assert.True(t, approved.Balance.VacationPending.IsZero())
		})
	}
}

func TestRequest_PendingNetsToZeroAcrossLifecycle(t *testing.T) {
	terminal := map[string]func(env *testEnv, id string) (*leave.RequestResult, error){
		"approve": func(env *testEnv, id string) (*leave.RequestResult, error) {
			return env.engine.ApproveRequest(env.ctx, env.manager, id)
		},
		"deny": func(env *testEnv, id string) (*leave.RequestResult, error) {
			return env.engine.DenyRequest(env.ctx, env.manager, id, "coverage")
		},
		"cancel": func(env *testEnv, id string) (*leave.RequestResult, error) {
			return env.engine.CancelRequest(env.ctx, env.manager, id)
		},
	}

	for name, finish := range terminal {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A pending vacation request
			env := newTestEngine(t)
			emp := env.hire(t, "amy")
			env.provision(t, emp.ID, 2025)
			res := env.vacation(t, emp, today.AddDays(30), 2)
			require.Equal(t, 16.0, res.Balance.VacationPending.Float())

			// WHEN: It reaches a terminal state
			_, err := finish(env, res.Request.ID)
			require.NoError(t, err)

			// THEN: Signed pending deltas for the request sum to zero
			entries, err := env.engine.RequestJournal(env.ctx, env.manager, res.Request.ID)
			require.NoError(t, err)
			assert.True(t, generic.SumDeltas(entries, generic.FieldPending).IsZero())
			assert.True(t, env.balance(t, emp.ID, 2025).VacationPending.IsZero())
		})
	}
}

// =============================================================================
// TERMINAL STATES
// =============================================================================

func TestRequest_TerminalStatesRejectEveryTransition(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2025)

	approved := env.vacation(t, emp, today.AddDays(20), 1)
	_, err := env.engine.ApproveRequest(env.ctx, env.manager, approved.Request.ID)
	require.NoError(t, err)

	denied := env.vacation(t, emp, today.AddDays(40), 1)
	_, err = env.engine.DenyRequest(env.ctx, env.manager, denied.Request.ID, "busy")
	require.NoError(t, err)

	cancelled := env.vacation(t, emp, today.AddDays(60), 1)
	_, err = env.engine.CancelRequest(env.ctx, actorFor(emp), cancelled.Request.ID)
	require.NoError(t, err)

	for _, id := range []string{approved.Request.ID, denied.Request.ID, cancelled.Request.ID} {
		before, err := env.engine.GetRequest(env.ctx, env.manager, id)
		require.NoError(t, err)
		balanceBefore := env.balance(t, emp.ID, 2025)

		_, err = env.engine.ApproveRequest(env.ctx, env.manager, id)
		assert.ErrorIs(t, err, generic.ErrInvalidState)
		_, err = env.engine.DenyRequest(env.ctx, env.manager, id, "again")
		assert.ErrorIs(t, err, generic.ErrInvalidState)
		_, err = env.engine.CancelRequest(env.ctx, actorFor(emp), id)
		assert.ErrorIs(t, err, generic.ErrInvalidState)

		after, err := env.engine.GetRequest(env.ctx, env.manager, id)
		require.NoError(t, err)
		assert.Equal(t, before.Status, after.Status)
		assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
		assert.Equal(t, balanceBefore, env.balance(t, emp.ID, 2025))
	}
}

func TestRequest_ConcurrentApprovalsOnlyOneWins(t *testing.T) {
	// GIVEN: One pending request
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2025)
	res := env.vacation(t, emp, today.AddDays(30), 1)

	// WHEN: Several managers approve at once
	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.ApproveRequest(env.ctx, env.manager, res.Request.ID)
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one succeeds; the rest see InvalidState
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrInvalidState)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 8.0, env.balance(t, emp.ID, 2025).VacationUsed.Float())
}

// =============================================================================
// CREATION RULES
// =============================================================================

func TestRequest_CreateRules(t *testing.T) {
	tests := []struct {
		name    string
		in      func(emp leave.Employee) leave.CreateRequestInput
		wantErr error
	}{
		{
			name: "start in the past",
			in: func(emp leave.Employee) leave.CreateRequestInput {
				return leave.CreateRequestInput{EmployeeID: emp.ID, LeaveCode: leave.CodeVacation,
					StartDate: today.AddDays(-1), EndDate: today}
			},
			wantErr: generic.ErrPolicyViolation,
		},
		{
			name: "end before start",
			in: func(emp leave.Employee) leave.CreateRequestInput {
				return leave.CreateRequestInput{EmployeeID: emp.ID, LeaveCode: leave.CodeVacation,
					StartDate: today.AddDays(5), EndDate: today.AddDays(4)}
			},
			wantErr: generic.ErrPolicyViolation,
		},
		{
			name: "personal half day under the 8 hour minimum",
			in: func(emp leave.Employee) leave.CreateRequestInput {
				d := today.AddDays(20)
				return leave.CreateRequestInput{EmployeeID: emp.ID, LeaveCode: leave.CodePersonal,
					StartDate: d, EndDate: d, HalfDay: true}
			},
			wantErr: generic.ErrPolicyViolation,
		},
		{
			name: "half day spanning two dates",
			in: func(emp leave.Employee) leave.CreateRequestInput {
				return leave.CreateRequestInput{EmployeeID: emp.ID, LeaveCode: leave.CodeVacation,
					StartDate: today.AddDays(20), EndDate: today.AddDays(21), HalfDay: true}
			},
			wantErr: generic.ErrPolicyViolation,
		},
		{
			name: "sick without documentation",
			in: func(emp leave.Employee) leave.CreateRequestInput {
				d := today.AddDays(2)
				return leave.CreateRequestInput{EmployeeID: emp.ID, LeaveCode: leave.CodeSick,
					StartDate: d, EndDate: d}
			},
			wantErr: generic.ErrPolicyViolation,
		},
		{
			name: "unknown leave type",
			in: func(emp leave.Employee) leave.CreateRequestInput {
				d := today.AddDays(2)
				return leave.CreateRequestInput{EmployeeID: emp.ID, LeaveCode: "SABBATICAL",
					StartDate: d, EndDate: d}
			},
			wantErr: generic.ErrNotFound,
		},
		{
			name: "vacation half day meets the 4 hour minimum",
			in: func(emp leave.Employee) leave.CreateRequestInput {
				d := today.AddDays(20)
				return leave.CreateRequestInput{EmployeeID: emp.ID, LeaveCode: leave.CodeVacation,
					StartDate: d, EndDate: d, HalfDay: true}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEngine(t)
			emp := env.hire(t, "amy")
			env.provision(t, emp.ID, 2025)

			_, err := env.engine.CreateRequest(env.ctx, actorFor(emp), tt.in(emp))

			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, env.balance(t, emp.ID, 2025).VacationPending.IsZero(), "rejected requests leave no trace")
		})
	}
}

func TestRequest_AdvisoryWarnings(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2025)

	// Six days is over the 40 hour per-request maximum but still submits.
	first := env.vacation(t, emp, today.AddDays(30), 6)
	assert.True(t, hasWarning(first.Warnings, generic.WarnMaxIncrement))
	assert.False(t, hasWarning(first.Warnings, generic.WarnAdvanceNotice))

	// Overlapping the first request.
	second := env.vacation(t, emp, today.AddDays(32), 1)
	assert.True(t, hasWarning(second.Warnings, generic.WarnOverlap))

	// 48 + 8 reserved leaves 24; asking for 5 days exceeds it.
	third := env.vacation(t, emp, today.AddDays(5), 5)
	assert.Equal(t, leave.StatusPending, third.Request.Status)
	assert.True(t, hasWarning(third.Warnings, generic.WarnBalanceExceeded))
	assert.True(t, hasWarning(third.Warnings, generic.WarnAdvanceNotice))
	assert.True(t, leave.AvailableVacation(*third.Balance).IsNegative())
}

func TestRequest_PrivilegedOverdraftHeldForReview(t *testing.T) {
	// GIVEN: A manager with no provisioned vacation
	env := newTestEngine(t)
	mgr := env.hire(t, "maria", asManager)

	// WHEN: Submitting vacation
	res := env.vacation(t, mgr, today.AddDays(30), 1)

	// THEN: Not auto-approved; reserved like any other request
	assert.Equal(t, leave.StatusPending, res.Request.Status)
	assert.True(t, hasWarning(res.Warnings, generic.WarnAutoApproveHeld))
	assert.Equal(t, 8.0, res.Balance.VacationPending.Float())
}

func TestRequest_SickApprovalCannotOverdraw(t *testing.T) {
	// GIVEN: A sick request with no sick hours available
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	d := today.AddDays(1)
	res, err := env.engine.CreateRequest(env.ctx, actorFor(emp), leave.CreateRequestInput{
		EmployeeID: emp.ID, LeaveCode: leave.CodeSick, StartDate: d, EndDate: d, Notes: "flu",
	})
	require.NoError(t, err)
	assert.True(t, hasWarning(res.Warnings, generic.WarnBalanceExceeded))
	assert.True(t, res.Balance.SickUsed.IsZero(), "sick hours are not reserved")

	// WHEN: Approving
	_, err = env.engine.ApproveRequest(env.ctx, env.manager, res.Request.ID)

	// THEN: Rejected and still pending
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)
	got, err := env.engine.GetRequest(env.ctx, env.manager, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, got.Status)
}

func TestRequest_VacationApprovalCannotOverdraw(t *testing.T) {
	// GIVEN: 80 vacation hours and a 15 day request submitted anyway
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2025)
	res := env.vacation(t, emp, today.AddDays(30), 15)
	require.Equal(t, 120.0, res.Request.Hours.Float())
	assert.True(t, hasWarning(res.Warnings, generic.WarnBalanceExceeded))

	// WHEN: A manager approves
	_, err := env.engine.ApproveRequest(env.ctx, env.manager, res.Request.ID)

	// THEN: Rejected, the request stays pending and nothing is settled
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)
	got, err := env.engine.GetRequest(env.ctx, env.manager, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, got.Status)

	b := env.balance(t, emp.ID, 2025)
	assert.True(t, b.VacationUsed.IsZero())
	assert.Equal(t, 120.0, b.VacationPending.Float())

	// AND: Once denied, the hours are free again
	_, err = env.engine.DenyRequest(env.ctx, env.manager, res.Request.ID, "too long")
	require.NoError(t, err)
	assert.Equal(t, 80.0, leave.AvailableVacation(*env.balance(t, emp.ID, 2025)).Float())
}

func TestRequest_ApprovalRespectsCarryoverHeld(t *testing.T) {
	// GIVEN: All 40 sick hours of 2025 held by a pending carryover into 2026
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2025)
	carry, err := env.engine.SubmitCarryover(env.ctx, actorFor(emp), leave.SubmitCarryoverInput{
		EmployeeID: emp.ID, LeaveTypeID: "lt-sick", HoursRequested: generic.Hours(40), FromYear: 2025,
	})
	require.NoError(t, err)

	d := today.AddDays(1)
	res, err := env.engine.CreateRequest(env.ctx, actorFor(emp), leave.CreateRequestInput{
		EmployeeID: emp.ID, LeaveCode: leave.CodeSick, StartDate: d, EndDate: d, Notes: "flu",
	})
	require.NoError(t, err)
	assert.True(t, hasWarning(res.Warnings, generic.WarnBalanceExceeded))

	// WHEN: Approving the sick day
	_, err = env.engine.ApproveRequest(env.ctx, env.manager, res.Request.ID)

	// THEN: The held hours cannot be spent twice
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)

	// AND: Denying the carryover releases them
	_, err = env.engine.DenyCarryover(env.ctx, env.manager, carry.Carryover.ID, "use them")
	require.NoError(t, err)
	approved, err := env.engine.ApproveRequest(env.ctx, env.manager, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, 8.0, approved.Balance.SickUsed.Float())
}

func TestRequest_SickApprovalDeductsUsed(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2025)
	d := today.AddDays(1)
	res, err := env.engine.CreateRequest(env.ctx, actorFor(emp), leave.CreateRequestInput{
		EmployeeID: emp.ID, LeaveCode: leave.CodeSick, StartDate: d, EndDate: d, Notes: "flu",
	})
	require.NoError(t, err)

	approved, err := env.engine.ApproveRequest(env.ctx, env.manager, res.Request.ID)
	require.NoError(t, err)

	assert.Equal(t, 8.0, approved.Balance.SickUsed.Float())
	assert.Equal(t, 32.0, leave.AvailableSick(*approved.Balance).Float())
}

func TestRequest_TrackingOnlyLeaveTouchesNoBalance(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	d := today.AddDays(1)

	res, err := env.engine.CreateRequest(env.ctx, actorFor(emp), leave.CreateRequestInput{
		EmployeeID: emp.ID, LeaveCode: leave.CodeBereavement, StartDate: d, EndDate: d.AddDays(1), Notes: "funeral",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Balance)

	approved, err := env.engine.ApproveRequest(env.ctx, env.manager, res.Request.ID)
	require.NoError(t, err)
	assert.Nil(t, approved.Balance)

	entries, err := env.engine.RequestJournal(env.ctx, env.manager, res.Request.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

func TestRequest_Authorization(t *testing.T) {
	env := newTestEngine(t)
	amy := env.hire(t, "amy")
	bob := env.hire(t, "bob")
	res := env.vacation(t, amy, today.AddDays(30), 1)

	_, err := env.engine.CreateRequest(env.ctx, actorFor(bob), leave.CreateRequestInput{
		EmployeeID: amy.ID, LeaveCode: leave.CodeVacation, StartDate: today.AddDays(40), EndDate: today.AddDays(40),
	})
	assert.ErrorIs(t, err, generic.ErrUnauthorized, "cannot submit for someone else")

	_, err = env.engine.ApproveRequest(env.ctx, actorFor(amy), res.Request.ID)
	assert.ErrorIs(t, err, generic.ErrUnauthorized, "employees cannot approve, not even their own")

	_, err = env.engine.CancelRequest(env.ctx, actorFor(bob), res.Request.ID)
	assert.ErrorIs(t, err, generic.ErrUnauthorized, "only the owner cancels")

	_, err = env.engine.GetRequest(env.ctx, actorFor(bob), res.Request.ID)
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	_, err = env.engine.DenyRequest(env.ctx, env.manager, res.Request.ID, "  ")
	assert.ErrorIs(t, err, generic.ErrPolicyViolation, "denial needs a reason")
}

func TestRequest_UserRequestsNewestFirstWithStatusFilter(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2025)

	first := env.vacation(t, emp, today.AddDays(20), 1)
	env.clock.Set(env.clock.Now().Add(time.Minute))
	second := env.vacation(t, emp, today.AddDays(40), 1)
	_, err := env.engine.CancelRequest(env.ctx, actorFor(emp), second.Request.ID)
	require.NoError(t, err)

	all, err := env.engine.GetUserRequests(env.ctx, actorFor(emp), emp.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.Request.ID, all[0].ID)
	assert.Equal(t, first.Request.ID, all[1].ID)

	pending := leave.StatusPending
	onlyPending, err := env.engine.GetUserRequests(env.ctx, actorFor(emp), emp.ID, &pending)
	require.NoError(t, err)
	require.Len(t, onlyPending, 1)
	assert.Equal(t, first.Request.ID, onlyPending[0].ID)
}

func TestRequest_OverlappingQuery(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	a := env.vacation(t, emp, today.AddDays(20), 3)
	env.vacation(t, emp, today.AddDays(40), 1)

	got, err := env.engine.GetOverlappingRequests(env.ctx, actorFor(emp), emp.ID, today.AddDays(22), today.AddDays(25), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.Request.ID, got[0].ID)

	got, err = env.engine.GetOverlappingRequests(env.ctx, actorFor(emp), emp.ID, today.AddDays(22), today.AddDays(25), a.Request.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}
