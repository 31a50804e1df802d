/*
Package storetest runs the leave.Store contract against an implementation.

Every store package calls Run from its own tests, so the memory, SQLite and
PostgreSQL stores are held to the same behaviour: not-found as (nil, nil),
uniqueness errors, rollback, filters and cascades.

Ids are suffixed per call so the suite can run against a shared database.
*/
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-engine/factory"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
	"go.uber.org/zap"
)

// Factory returns an empty (or shared) store. It registers its own cleanup.
type Factory func(t *testing.T) leave.Store

var base = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

var errBoom = errors.New("boom")

// Run executes the contract suite.
func Run(t *testing.T, open Factory) {
	t.Run("Organisation", func(t *testing.T) { testOrganisation(t, newFixture(t, open)) })
	t.Run("LeaveTypeCodeUnique", func(t *testing.T) { testLeaveTypeCodeUnique(t, newFixture(t, open)) })
	t.Run("PolicyKeyUnique", func(t *testing.T) { testPolicyKeyUnique(t, newFixture(t, open)) })
	t.Run("BalanceUniqueAndRollback", func(t *testing.T) { testBalanceUniqueAndRollback(t, newFixture(t, open)) })
	t.Run("JournalIdempotency", func(t *testing.T) { testJournalIdempotency(t, newFixture(t, open)) })
	t.Run("RequestFilters", func(t *testing.T) { testRequestFilters(t, newFixture(t, open)) })
	t.Run("CarryoverRoundTrip", func(t *testing.T) { testCarryoverRoundTrip(t, newFixture(t, open)) })
	t.Run("DeleteEmployeeCascades", func(t *testing.T) { testDeleteEmployeeCascades(t, newFixture(t, open)) })
	t.Run("EngineLifecycle", func(t *testing.T) { testEngineLifecycle(t, newFixture(t, open)) })
	t.Run("ConcurrentApprove", func(t *testing.T) { testConcurrentApprove(t, newFixture(t, open)) })
}

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	ctx    context.Context
	store  leave.Store
	suffix string
	dept   string
	amy    leave.Employee
	bob    leave.Employee
}

// newFixture seeds the handbook and two employees in a fresh department.
func newFixture(t *testing.T, open Factory) *fixture {
	t.Helper()
	ctx := context.Background()
	store := open(t)

	doc, err := factory.Defaults()
	require.NoError(t, err)
	ref, err := doc.Compile()
	require.NoError(t, err)
	_, err = factory.Apply(ctx, store, ref, base)
	require.NoError(t, err)

	f := &fixture{ctx: ctx, store: store, suffix: uuid.NewString()[:8]}
	f.dept = f.id("dept")
	require.NoError(t, store.SaveDepartment(ctx, leave.Department{ID: f.dept, Name: "Engineering", CreatedAt: base}))
	f.amy = f.employee(t, "amy", leave.RoleEmployee)
	f.bob = f.employee(t, "bob", leave.RoleManager)
	return f
}

func (f *fixture) id(name string) string { return name + "-" + f.suffix }

func (f *fixture) employee(t *testing.T, name string, role leave.Role) leave.Employee {
	t.Helper()
	e := leave.Employee{
		ID:            f.id(name),
		Name:          name,
		Email:         name + "@example.com",
		Role:          role,
		HireDate:      generic.MustParseDate("2020-01-15"),
		LocationState: "IL",
		LocationCity:  "Chicago",
		DepartmentID:  f.dept,
		Active:        true,
		CreatedAt:     base,
	}
	require.NoError(t, f.store.SaveEmployee(f.ctx, e))
	return e
}

func (f *fixture) request(t *testing.T, emp leave.Employee, start, end string, status leave.RequestStatus, submitted time.Time) leave.PTORequest {
	t.Helper()
	r := leave.PTORequest{
		ID:          uuid.NewString(),
		EmployeeID:  emp.ID,
		LeaveTypeID: "lt-vacation",
		StartDate:   generic.MustParseDate(start),
		EndDate:     generic.MustParseDate(end),
		TotalDays:   decimal.NewFromInt(int64(generic.DaysInclusive(generic.MustParseDate(start), generic.MustParseDate(end)))),
		Status:      status,
		SubmittedAt: submitted,
		UpdatedAt:   submitted,
	}
	r.Hours = generic.HoursOf(r.TotalDays.Mul(decimal.NewFromInt(8)))
	require.NoError(t, f.store.WithTx(f.ctx, func(tx leave.Tx) error {
		return tx.SaveRequest(f.ctx, &r)
	}))
	return r
}

func (f *fixture) entry(emp leave.Employee, key, ref string) generic.Entry {
	return generic.Entry{
		ID:             uuid.NewString(),
		EmployeeID:     emp.ID,
		Year:           2025,
		Bucket:         generic.BucketVacation,
		Field:          generic.FieldPending,
		Delta:          generic.Hours(8),
		ReferenceID:    ref,
		Reason:         "test",
		IdempotencyKey: key,
		CreatedBy:      emp.ID,
		CreatedAt:      base,
	}
}

// =============================================================================
// CASES
// =============================================================================

func testOrganisation(t *testing.T, f *fixture) {
	got, err := f.store.GetEmployee(f.ctx, f.amy.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, f.amy.Name, got.Name)
	assert.Equal(t, f.amy.Email, got.Email)
	assert.Equal(t, leave.RoleEmployee, got.Role)
	assert.Equal(t, "2020-01-15", got.HireDate.String())
	assert.Equal(t, "Chicago", got.LocationCity)
	assert.Equal(t, f.dept, got.DepartmentID)
	assert.True(t, got.Active)

	missing, err := f.store.GetEmployee(f.ctx, f.id("nobody"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	dept, err := f.store.GetDepartment(f.ctx, f.dept)
	require.NoError(t, err)
	require.NotNil(t, dept)
	assert.Equal(t, "Engineering", dept.Name)

	f.amy.Active = false
	require.NoError(t, f.store.SaveEmployee(f.ctx, f.amy))

	all, err := f.store.ListEmployees(f.ctx, leave.EmployeeFilter{DepartmentID: f.dept})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := f.store.ListEmployees(f.ctx, leave.EmployeeFilter{DepartmentID: f.dept, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, f.bob.ID, active[0].ID)
}

func testLeaveTypeCodeUnique(t *testing.T, f *fixture) {
	lt, err := f.store.GetLeaveTypeByCode(f.ctx, leave.CodeVacation)
	require.NoError(t, err)
	require.NotNil(t, lt)
	assert.Equal(t, "lt-vacation", lt.ID)
	assert.True(t, lt.DeductsFromBalance)

	clash := *lt
	clash.ID = f.id("lt-other")
	err = f.store.SaveLeaveType(f.ctx, clash)
	assert.ErrorIs(t, err, generic.ErrDuplicate)

	lt.Name = "Vacation Time"
	require.NoError(t, f.store.SaveLeaveType(f.ctx, *lt), "same id is an upsert")
	got, err := f.store.GetLeaveType(f.ctx, "lt-vacation")
	require.NoError(t, err)
	assert.Equal(t, "Vacation Time", got.Name)

	missing, err := f.store.GetLeaveTypeByCode(f.ctx, leave.LeaveCode("NOPE_"+f.suffix))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testPolicyKeyUnique(t *testing.T, f *fixture) {
	ltID := f.id("lt")
	require.NoError(t, f.store.SaveLeaveType(f.ctx, leave.LeaveType{
		ID: ltID, Code: leave.LeaveCode("T_" + f.suffix), Name: "Test", Category: leave.CategoryTrackingOnly, IsActive: true,
	}))

	end := generic.MustParseDate("2025-12-31")
	p := leave.LeavePolicy{
		ID:                f.id("pol-a"),
		LeaveTypeID:       ltID,
		LocationState:     "IL",
		MaxAnnualHours:    decimal.NewFromInt(40),
		MinIncrementHours: decimal.RequireFromString("2.5"),
		WaitingPeriodDays: 30,
		EffectiveDate:     generic.MustParseDate("2025-01-01"),
		EndDate:           &end,
		CreatedAt:         base,
	}
	require.NoError(t, f.store.SavePolicy(f.ctx, p))

	dup := p
	dup.ID = f.id("pol-b")
	assert.ErrorIs(t, f.store.SavePolicy(f.ctx, dup), generic.ErrDuplicate)

	list, err := f.store.ListPolicies(f.ctx, ltID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2.5", list[0].MinIncrementHours.String())
	assert.Equal(t, 30, list[0].WaitingPeriodDays)
	require.NotNil(t, list[0].EndDate)
	assert.Equal(t, "2025-12-31", list[0].EndDate.String())
	assert.Equal(t, leave.ScopeState, list[0].Scope())

	require.NoError(t, f.store.DeletePolicy(f.ctx, p.ID))
	list, err = f.store.ListPolicies(f.ctx, ltID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testBalanceUniqueAndRollback(t *testing.T, f *fixture) {
	b := leave.NewPTOBalance(uuid.NewString(), f.amy.ID, 2025, base)
	b.VacationTotal = generic.Hours(80)
	require.NoError(t, f.store.WithTx(f.ctx, func(tx leave.Tx) error {
		return tx.InsertBalance(f.ctx, b)
	}))

	err := f.store.WithTx(f.ctx, func(tx leave.Tx) error {
		return tx.InsertBalance(f.ctx, leave.NewPTOBalance(uuid.NewString(), f.amy.ID, 2025, base))
	})
	assert.ErrorIs(t, err, generic.ErrDuplicate)

	err = f.store.WithTx(f.ctx, func(tx leave.Tx) error {
		locked, err := tx.LockBalance(f.ctx, f.amy.ID, 2025)
		if err != nil {
			return err
		}
		locked.VacationUsed = generic.Hours(40)
		if err := tx.UpdateBalance(f.ctx, locked); err != nil {
			return err
		}
		if err := tx.InsertBalance(f.ctx, leave.NewPTOBalance(uuid.NewString(), f.amy.ID, 2026, base)); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	got, err := f.store.GetBalance(f.ctx, f.amy.ID, 2025)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 80.0, got.VacationTotal.Float())
	assert.True(t, got.VacationUsed.IsZero(), "update rolled back")

	next, err := f.store.GetBalance(f.ctx, f.amy.ID, 2026)
	require.NoError(t, err)
	assert.Nil(t, next, "insert rolled back")

	all, err := f.store.ListBalances(f.ctx, f.amy.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testJournalIdempotency(t *testing.T, f *fixture) {
	ref := uuid.NewString()
	first := f.entry(f.amy, "pto:"+ref+":reserve:pending", ref)
	second := f.entry(f.amy, "pto:"+ref+":release:pending", ref)
	second.Delta = generic.Hours(-8)

	require.NoError(t, f.store.WithTx(f.ctx, func(tx leave.Tx) error {
		if err := tx.AppendEntry(f.ctx, first); err != nil {
			return err
		}
		return tx.AppendEntry(f.ctx, second)
	}))

	replay := f.entry(f.amy, first.IdempotencyKey, ref)
	err := f.store.WithTx(f.ctx, func(tx leave.Tx) error {
		return tx.AppendEntry(f.ctx, replay)
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	entries, err := f.store.ListEntries(f.ctx, ref)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)
	assert.Equal(t, generic.FieldPending, entries[0].Field)
	assert.Equal(t, generic.BucketVacation, entries[0].Bucket)
	assert.True(t, generic.SumDeltas(entries, generic.FieldPending).IsZero())
}

func testRequestFilters(t *testing.T, f *fixture) {
	a := f.request(t, f.amy, "2025-06-02", "2025-06-06", leave.StatusPending, base)
	b := f.request(t, f.amy, "2025-06-06", "2025-06-10", leave.StatusApproved, base.Add(time.Minute))
	f.request(t, f.amy, "2025-06-01", "2025-06-20", leave.StatusCancelled, base.Add(2*time.Minute))
	other := f.request(t, f.bob, "2025-06-03", "2025-06-03", leave.StatusPending, base.Add(3*time.Minute))

	start, end := generic.MustParseDate("2025-06-06"), generic.MustParseDate("2025-06-06")
	got, err := f.store.ListRequests(f.ctx, leave.RequestFilter{
		EmployeeIDs:  []string{f.amy.ID},
		Statuses:     leave.ActiveStatuses,
		OverlapStart: &start,
		OverlapEnd:   &end,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID, "ordered by submission")
	assert.Equal(t, b.ID, got[1].ID)

	got, err = f.store.ListRequests(f.ctx, leave.RequestFilter{
		EmployeeIDs:  []string{f.amy.ID},
		Statuses:     leave.ActiveStatuses,
		OverlapStart: &start,
		OverlapEnd:   &end,
		ExcludeID:    a.ID,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	got, err = f.store.ListRequests(f.ctx, leave.RequestFilter{
		EmployeeIDs: []string{f.amy.ID, f.bob.ID},
		Statuses:    []leave.RequestStatus{leave.StatusPending},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, other.ID, got[1].ID)

	r, err := f.store.GetRequest(f.ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "2025-06-02", r.StartDate.String())
	assert.Equal(t, 40.0, r.Hours.Float())
	assert.Equal(t, "5", r.TotalDays.String())
	assert.Nil(t, r.ApprovedAt)

	missing, err := f.store.GetRequest(f.ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testCarryoverRoundTrip(t *testing.T, f *fixture) {
	pending := leave.CarryoverRequest{
		ID: uuid.NewString(), EmployeeID: f.amy.ID, LeaveTypeID: "lt-vacation",
		FromYear: 2024, ToYear: 2025, HoursRequested: generic.Hours(12.5),
		Status: leave.CarryoverPending, EmployeeNotes: "trip", CreatedAt: base, UpdatedAt: base,
	}
	approvedHours := generic.Hours(8)
	at := base.Add(time.Hour)
	approved := leave.CarryoverRequest{
		ID: uuid.NewString(), EmployeeID: f.amy.ID, LeaveTypeID: "lt-sick",
		FromYear: 2024, ToYear: 2025, HoursRequested: generic.Hours(8), HoursApproved: &approvedHours,
		Status: leave.CarryoverApproved, ApprovedBy: f.bob.ID, ApprovedAt: &at,
		CreatedAt: base.Add(time.Minute), UpdatedAt: at,
	}
	require.NoError(t, f.store.WithTx(f.ctx, func(tx leave.Tx) error {
		if err := tx.SaveCarryover(f.ctx, &pending); err != nil {
			return err
		}
		return tx.SaveCarryover(f.ctx, &approved)
	}))

	got, err := f.store.GetCarryover(f.ctx, pending.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "12.5", got.HoursRequested.Value.String())
	assert.Nil(t, got.HoursApproved)
	assert.Nil(t, got.ApprovedAt)
	assert.Equal(t, "trip", got.EmployeeNotes)

	list, err := f.store.ListCarryovers(f.ctx, leave.CarryoverFilter{
		EmployeeID: f.amy.ID, FromYear: 2024, Statuses: []leave.CarryoverStatus{leave.CarryoverApproved},
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].HoursApproved)
	assert.Equal(t, 8.0, list[0].HoursApproved.Float())
	require.NotNil(t, list[0].ApprovedAt)
	assert.WithinDuration(t, at, *list[0].ApprovedAt, time.Millisecond)

	list, err = f.store.ListCarryovers(f.ctx, leave.CarryoverFilter{EmployeeID: f.amy.ID, LeaveTypeID: "lt-vacation"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pending.ID, list[0].ID)
}

func testDeleteEmployeeCascades(t *testing.T, f *fixture) {
	req := f.request(t, f.amy, "2025-06-02", "2025-06-02", leave.StatusPending, base)
	cr := leave.CarryoverRequest{
		ID: uuid.NewString(), EmployeeID: f.amy.ID, LeaveTypeID: "lt-vacation",
		FromYear: 2024, ToYear: 2025, HoursRequested: generic.Hours(4),
		Status: leave.CarryoverPending, CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, f.store.WithTx(f.ctx, func(tx leave.Tx) error {
		if err := tx.InsertBalance(f.ctx, leave.NewPTOBalance(uuid.NewString(), f.amy.ID, 2025, base)); err != nil {
			return err
		}
		if err := tx.SaveCarryover(f.ctx, &cr); err != nil {
			return err
		}
		return tx.AppendEntry(f.ctx, f.entry(f.amy, "pto:"+req.ID+":reserve:pending", req.ID))
	}))

	require.NoError(t, f.store.DeleteEmployee(f.ctx, f.amy.ID))

	emp, err := f.store.GetEmployee(f.ctx, f.amy.ID)
	require.NoError(t, err)
	assert.Nil(t, emp)
	r, err := f.store.GetRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Nil(t, r)
	b, err := f.store.GetBalance(f.ctx, f.amy.ID, 2025)
	require.NoError(t, err)
	assert.Nil(t, b)
	c, err := f.store.GetCarryover(f.ctx, cr.ID)
	require.NoError(t, err)
	assert.Nil(t, c)
	entries, err := f.store.ListEntries(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	other, err := f.store.GetEmployee(f.ctx, f.bob.ID)
	require.NoError(t, err)
	assert.NotNil(t, other, "other employees untouched")
}

// =============================================================================
// ENGINE OVER THE STORE
// =============================================================================

func newEngine(f *fixture) *leave.Engine {
	return leave.NewEngine(f.store, generic.FixedClockAt(generic.DateOf(base)), leave.DefaultHoursPerDay, zap.NewNop())
}

func testEngineLifecycle(t *testing.T, f *fixture) {
	engine := newEngine(f)
	actor := leave.ActingUser{ID: f.amy.ID, Role: f.amy.Role}
	approver := leave.ActingUser{ID: f.bob.ID, Role: f.bob.Role}

	_, err := engine.ProvisionBalance(f.ctx, leave.SystemActor, f.amy.ID, 2025)
	require.NoError(t, err)

	res, err := engine.CreateRequest(f.ctx, actor, leave.CreateRequestInput{
		EmployeeID: f.amy.ID, LeaveCode: leave.CodeVacation,
		StartDate: generic.MustParseDate("2025-04-07"), EndDate: generic.MustParseDate("2025-04-08"),
	})
	require.NoError(t, err)
	assert.Equal(t, 16.0, res.Balance.VacationPending.Float())

	approved, err := engine.ApproveRequest(f.ctx, approver, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, approved.Request.Status)

	b, err := f.store.GetBalance(f.ctx, f.amy.ID, 2025)
	require.NoError(t, err)
	assert.Equal(t, 16.0, b.VacationUsed.Float())
	assert.True(t, b.VacationPending.IsZero())

	entries, err := f.store.ListEntries(f.ctx, res.Request.ID)
	require.NoError(t, err)
	assert.True(t, generic.SumDeltas(entries, generic.FieldPending).IsZero())
	assert.Equal(t, 16.0, generic.SumDeltas(entries, generic.FieldUsed).Float())

	_, err = engine.CancelRequest(f.ctx, actor, res.Request.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

func testConcurrentApprove(t *testing.T, f *fixture) {
	engine := newEngine(f)
	_, err := engine.ProvisionBalance(f.ctx, leave.SystemActor, f.amy.ID, 2025)
	require.NoError(t, err)
	res, err := engine.CreateRequest(f.ctx, leave.ActingUser{ID: f.amy.ID, Role: f.amy.Role}, leave.CreateRequestInput{
		EmployeeID: f.amy.ID, LeaveCode: leave.CodeVacation,
		StartDate: generic.MustParseDate("2025-04-07"), EndDate: generic.MustParseDate("2025-04-07"),
	})
	require.NoError(t, err)

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.ApproveRequest(f.ctx, leave.ActingUser{ID: f.bob.ID, Role: f.bob.Role}, res.Request.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	b, err := f.store.GetBalance(f.ctx, f.amy.ID, 2025)
	require.NoError(t, err)
	assert.Equal(t, 8.0, b.VacationUsed.Float())
	assert.True(t, b.VacationPending.IsZero())
}
