package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
)

func (e *testEnv) submitCarryover(t *testing.T, emp leave.Employee, leaveTypeID string, hours float64) *leave.CarryoverResult {
	t.Helper()
	res, err := e.engine.SubmitCarryover(e.ctx, actorFor(emp), leave.SubmitCarryoverInput{
		EmployeeID:     emp.ID,
		LeaveTypeID:    leaveTypeID,
		HoursRequested: generic.Hours(hours),
		FromYear:       2024,
	})
	require.NoError(t, err)
	return res
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestCarryover_SubmitCappedByUnusedMinusHeld(t *testing.T) {
	// GIVEN: 80 unused vacation hours in 2024
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2024)

	// WHEN: Asking for more than is unused
	_, err := env.engine.SubmitCarryover(env.ctx, actorFor(emp), leave.SubmitCarryoverInput{
		EmployeeID: emp.ID, LeaveTypeID: "lt-vacation", HoursRequested: generic.Hours(81), FromYear: 2024,
	})
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)

	// WHEN: A pending request holds 50 of them
	first := env.submitCarryover(t, emp, "lt-vacation", 50)
	assert.Equal(t, leave.CarryoverPending, first.Carryover.Status)
	assert.Nil(t, first.Balance)
	assert.Equal(t, 2025, first.Carryover.ToYear)

	// THEN: Only 30 remain claimable
	_, err = env.engine.SubmitCarryover(env.ctx, actorFor(emp), leave.SubmitCarryoverInput{
		EmployeeID: emp.ID, LeaveTypeID: "lt-vacation", HoursRequested: generic.Hours(31), FromYear: 2024,
	})
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)
	env.submitCarryover(t, emp, "lt-vacation", 30)
}

func TestCarryover_CapIsAdvisory(t *testing.T) {
	// GIVEN: Default vacation allows no carryover
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2024)

	// WHEN: Submitting anyway
	res := env.submitCarryover(t, emp, "lt-vacation", 16)

	// THEN: Accepted with a warning
	assert.Equal(t, leave.CarryoverPending, res.Carryover.Status)
	assert.True(t, hasWarning(res.Warnings, generic.WarnCarryoverCap))
}

func TestCarryover_Rejections(t *testing.T) {
	env := newTestEngine(t)
	amy := env.hire(t, "amy")
	bob := env.hire(t, "bob")
	env.provision(t, amy.ID, 2024)

	tests := []struct {
		name    string
		actor   leave.ActingUser
		in      leave.SubmitCarryoverInput
		wantErr error
	}{
		{
			name:    "zero hours",
			actor:   actorFor(amy),
			in:      leave.SubmitCarryoverInput{EmployeeID: amy.ID, LeaveTypeID: "lt-vacation", FromYear: 2024, HoursRequested: generic.ZeroHours()},
			wantErr: generic.ErrPolicyViolation,
		},
		{
			name:    "tracking only leave",
			actor:   actorFor(amy),
			in:      leave.SubmitCarryoverInput{EmployeeID: amy.ID, LeaveTypeID: "lt-bereavement", FromYear: 2024, HoursRequested: generic.Hours(8)},
			wantErr: generic.ErrPolicyViolation,
		},
		{
			name:    "unknown leave type",
			actor:   actorFor(amy),
			in:      leave.SubmitCarryoverInput{EmployeeID: amy.ID, LeaveTypeID: "lt-nope", FromYear: 2024, HoursRequested: generic.Hours(8)},
			wantErr: generic.ErrNotFound,
		},
		{
			name:    "nothing unused",
			actor:   actorFor(bob),
			in:      leave.SubmitCarryoverInput{EmployeeID: bob.ID, LeaveTypeID: "lt-vacation", FromYear: 2024, HoursRequested: generic.Hours(8)},
			wantErr: generic.ErrPolicyViolation,
		},
		{
			name:    "for someone else",
			actor:   actorFor(bob),
			in:      leave.SubmitCarryoverInput{EmployeeID: amy.ID, LeaveTypeID: "lt-vacation", FromYear: 2024, HoursRequested: generic.Hours(8)},
			wantErr: generic.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.SubmitCarryover(env.ctx, tt.actor, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCarryover_PrivilegedSubmissionAppliesImmediately(t *testing.T) {
	env := newTestEngine(t)
	mgr := env.hire(t, "maria", asManager)
	env.provision(t, mgr.ID, 2024)

	res := env.submitCarryover(t, mgr, "lt-vacation", 24)

	assert.Equal(t, leave.CarryoverApproved, res.Carryover.Status)
	require.NotNil(t, res.Carryover.HoursApproved)
	assert.Equal(t, 24.0, res.Carryover.HoursApproved.Float())
	require.NotNil(t, res.Balance)
	assert.Equal(t, 2025, res.Balance.Year)
	assert.Equal(t, 24.0, res.Balance.VacationCarryover.Float())
}

// =============================================================================
// APPROVE / DENY
// =============================================================================

func TestCarryover_ApproveAppliesOnce(t *testing.T) {
	// GIVEN: A pending 40 hour carryover
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2024)
	cr := env.submitCarryover(t, emp, "lt-vacation", 40)

	// WHEN: Approving part of it
	res, err := env.engine.ApproveCarryover(env.ctx, env.manager, cr.Carryover.ID, generic.Hours(30), "partial")
	require.NoError(t, err)
	assert.Equal(t, leave.CarryoverApproved, res.Carryover.Status)
	assert.Equal(t, "partial", res.Carryover.ManagerNotes)
	assert.Equal(t, 30.0, res.Balance.VacationCarryover.Float())
	assert.Equal(t, 30.0, leave.AvailableVacation(*res.Balance).Float())

	// THEN: A second approval is rejected and the balance is unchanged
	_, err = env.engine.ApproveCarryover(env.ctx, env.manager, cr.Carryover.ID, generic.Hours(30), "again")
	assert.ErrorIs(t, err, generic.ErrInvalidState)
	assert.Equal(t, 30.0, env.balance(t, emp.ID, 2025).VacationCarryover.Float())

	entries, err := env.engine.RequestJournal(env.ctx, env.manager, cr.Carryover.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, generic.FieldCarryover, entries[0].Field)
	assert.Equal(t, "carryover:"+cr.Carryover.ID+":apply:carryover", entries[0].IdempotencyKey)
}

func TestCarryover_ApproveRules(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2024)
	cr := env.submitCarryover(t, emp, "lt-vacation", 20)

	_, err := env.engine.ApproveCarryover(env.ctx, env.manager, cr.Carryover.ID, generic.Hours(21), "")
	assert.ErrorIs(t, err, generic.ErrPolicyViolation, "cannot approve more than requested")

	_, err = env.engine.ApproveCarryover(env.ctx, env.manager, cr.Carryover.ID, generic.ZeroHours(), "")
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)

	_, err = env.engine.ApproveCarryover(env.ctx, actorFor(emp), cr.Carryover.ID, generic.Hours(20), "")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	_, err = env.engine.ApproveCarryover(env.ctx, env.manager, "missing", generic.Hours(20), "")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestCarryover_ApproveRechecksUnusedHours(t *testing.T) {
	// GIVEN: A pending 40 hour sick carryover from 2024
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2024)
	cr := env.submitCarryover(t, emp, "lt-sick", 40)

	// WHEN: 30 of those hours are booked as used before approval
	err := env.store.WithTx(env.ctx, func(tx leave.Tx) error {
		b, err := tx.LockBalance(env.ctx, emp.ID, 2024)
		if err != nil {
			return err
		}
		b.SickUsed = generic.Hours(30)
		return tx.UpdateBalance(env.ctx, b)
	})
	require.NoError(t, err)

	// THEN: Only the 10 still unused can be approved
	_, err = env.engine.ApproveCarryover(env.ctx, env.manager, cr.Carryover.ID, generic.Hours(40), "")
	assert.ErrorIs(t, err, generic.ErrPolicyViolation)
	assert.True(t, env.balance(t, emp.ID, 2025).SickCarryover.IsZero())

	res, err := env.engine.ApproveCarryover(env.ctx, env.manager, cr.Carryover.ID, generic.Hours(10), "")
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Balance.SickCarryover.Float())
}

func TestCarryover_DenyReleasesHold(t *testing.T) {
	// GIVEN: All 80 unused hours held by one request
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2024)
	cr := env.submitCarryover(t, emp, "lt-vacation", 80)

	// WHEN: Denied
	res, err := env.engine.DenyCarryover(env.ctx, env.manager, cr.Carryover.ID, "use it")
	require.NoError(t, err)
	assert.Equal(t, leave.CarryoverDenied, res.Carryover.Status)
	assert.Equal(t, "mgr-1", res.Carryover.ApprovedBy)

	// THEN: No balance effect, and the hours can be claimed again
	assert.True(t, env.balance(t, emp.ID, 2025).VacationCarryover.IsZero())
	env.submitCarryover(t, emp, "lt-vacation", 80)

	_, err = env.engine.DenyCarryover(env.ctx, env.manager, cr.Carryover.ID, "again")
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

func TestCarryover_SickCreditsSickBucket(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2024)
	cr := env.submitCarryover(t, emp, "lt-sick", 40)
	assert.False(t, hasWarning(cr.Warnings, generic.WarnCarryoverCap), "40 is under the 60 hour guideline")

	res, err := env.engine.ApproveCarryover(env.ctx, env.manager, cr.Carryover.ID, generic.Hours(40), "")
	require.NoError(t, err)

	assert.Equal(t, 40.0, res.Balance.SickCarryover.Float())
	assert.True(t, res.Balance.VacationCarryover.IsZero())
	assert.Equal(t, 40.0, leave.AvailableSick(*res.Balance).Float())
}

func TestCarryover_ListFilters(t *testing.T) {
	env := newTestEngine(t)
	emp := env.hire(t, "amy")
	env.provision(t, emp.ID, 2024)
	a := env.submitCarryover(t, emp, "lt-vacation", 10)
	env.submitCarryover(t, emp, "lt-sick", 10)
	_, err := env.engine.ApproveCarryover(env.ctx, env.manager, a.Carryover.ID, generic.Hours(10), "")
	require.NoError(t, err)

	approved := []leave.CarryoverStatus{leave.CarryoverApproved}
	list, err := env.engine.ListCarryovers(env.ctx, env.manager, leave.CarryoverFilter{EmployeeID: emp.ID, Statuses: approved})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.Carryover.ID, list[0].ID)

	list, err = env.engine.ListCarryovers(env.ctx, env.manager, leave.CarryoverFilter{EmployeeID: emp.ID, FromYear: 2024})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
