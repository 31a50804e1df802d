/*
Package memory provides an in-memory leave.Store for tests and development.

TRANSACTIONS:
  WithTx holds the store-wide write lock for the whole callback, so every
  Lock* call inside it is trivially a row lock. Writes go straight into the
  live maps; a snapshot taken before fn runs is restored if fn fails.

COPY SEMANTICS:
  Values are stored by value and returned as fresh copies. Callers can
  mutate what they get back without touching the store.
*/
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
)

type balanceKey struct {
	employeeID string
	year       int
}

// state is the full data set. Its methods assume the caller holds the lock.
type state struct {
	departments map[string]leave.Department
	employees   map[string]leave.Employee
	leaveTypes  map[string]leave.LeaveType
	policies    map[string]leave.LeavePolicy
	tiers       map[string]leave.VacationAccrualTier
	balances    map[balanceKey]leave.PTOBalance
	requests    map[string]leave.PTORequest
	carryovers  map[string]leave.CarryoverRequest
	entries     []generic.Entry
	idempotency map[string]bool
}

func newState() *state {
	return &state{
		departments: make(map[string]leave.Department),
		employees:   make(map[string]leave.Employee),
		leaveTypes:  make(map[string]leave.LeaveType),
		policies:    make(map[string]leave.LeavePolicy),
		tiers:       make(map[string]leave.VacationAccrualTier),
		balances:    make(map[balanceKey]leave.PTOBalance),
		requests:    make(map[string]leave.PTORequest),
		carryovers:  make(map[string]leave.CarryoverRequest),
		idempotency: make(map[string]bool),
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		departments: copyMap(s.departments),
		employees:   copyMap(s.employees),
		leaveTypes:  copyMap(s.leaveTypes),
		policies:    copyMap(s.policies),
		tiers:       copyMap(s.tiers),
		balances:    copyMap(s.balances),
		requests:    copyMap(s.requests),
		carryovers:  copyMap(s.carryovers),
		entries:     append([]generic.Entry(nil), s.entries...),
		idempotency: copyMap(s.idempotency),
	}
}

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex
	s  *state
}

var _ leave.Store = (*Store)(nil)

func New() *Store {
	return &Store{s: newState()}
}

// WithTx runs fn under the write lock with snapshot rollback on error.
func (m *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(&txView{state: m.s}); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

func (m *Store) read() (*state, func()) {
	m.mu.RLock()
	return m.s, m.mu.RUnlock
}

func (m *Store) GetEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	s, unlock := m.read()
	defer unlock()
	return s.GetEmployee(ctx, id)
}

func (m *Store) ListEmployees(ctx context.Context, filter leave.EmployeeFilter) ([]leave.Employee, error) {
	s, unlock := m.read()
	defer unlock()
	return s.ListEmployees(ctx, filter)
}

func (m *Store) GetDepartment(ctx context.Context, id string) (*leave.Department, error) {
	s, unlock := m.read()
	defer unlock()
	return s.GetDepartment(ctx, id)
}

func (m *Store) GetLeaveType(ctx context.Context, id string) (*leave.LeaveType, error) {
	s, unlock := m.read()
	defer unlock()
	return s.GetLeaveType(ctx, id)
}

func (m *Store) GetLeaveTypeByCode(ctx context.Context, code leave.LeaveCode) (*leave.LeaveType, error) {
	s, unlock := m.read()
	defer unlock()
	return s.GetLeaveTypeByCode(ctx, code)
}

func (m *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	s, unlock := m.read()
	defer unlock()
	return s.ListLeaveTypes(ctx)
}

func (m *Store) ListPolicies(ctx context.Context, leaveTypeID string) ([]leave.LeavePolicy, error) {
	s, unlock := m.read()
	defer unlock()
	return s.ListPolicies(ctx, leaveTypeID)
}

func (m *Store) ListVacationTiers(ctx context.Context) ([]leave.VacationAccrualTier, error) {
	s, unlock := m.read()
	defer unlock()
	return s.ListVacationTiers(ctx)
}

func (m *Store) GetBalance(ctx context.Context, employeeID string, year int) (*leave.PTOBalance, error) {
	s, unlock := m.read()
	defer unlock()
	return s.GetBalance(ctx, employeeID, year)
}

func (m *Store) ListBalances(ctx context.Context, employeeID string) ([]leave.PTOBalance, error) {
	s, unlock := m.read()
	defer unlock()
	return s.ListBalances(ctx, employeeID)
}

func (m *Store) GetRequest(ctx context.Context, id string) (*leave.PTORequest, error) {
	s, unlock := m.read()
	defer unlock()
	return s.GetRequest(ctx, id)
}

func (m *Store) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.PTORequest, error) {
	s, unlock := m.read()
	defer unlock()
	return s.ListRequests(ctx, filter)
}

func (m *Store) GetCarryover(ctx context.Context, id string) (*leave.CarryoverRequest, error) {
	s, unlock := m.read()
	defer unlock()
	return s.GetCarryover(ctx, id)
}

func (m *Store) ListCarryovers(ctx context.Context, filter leave.CarryoverFilter) ([]leave.CarryoverRequest, error) {
	s, unlock := m.read()
	defer unlock()
	return s.ListCarryovers(ctx, filter)
}

func (m *Store) ListEntries(ctx context.Context, referenceID string) ([]generic.Entry, error) {
	s, unlock := m.read()
	defer unlock()
	return s.ListEntries(ctx, referenceID)
}

// =============================================================================
// REFERENCE DATA WRITES
// =============================================================================

func (m *Store) SaveDepartment(_ context.Context, d leave.Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.departments[d.ID] = d
	return nil
}

func (m *Store) SaveEmployee(_ context.Context, e leave.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.employees[e.ID] = e
	return nil
}

func (m *Store) DeleteEmployee(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.s
	delete(s.employees, id)
	for k := range s.balances {
		if k.employeeID == id {
			delete(s.balances, k)
		}
	}
	for rid, r := range s.requests {
		if r.EmployeeID == id {
			delete(s.requests, rid)
		}
	}
	for cid, c := range s.carryovers {
		if c.EmployeeID == id {
			delete(s.carryovers, cid)
		}
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.EmployeeID == id {
			delete(s.idempotency, e.IdempotencyKey)
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return nil
}

func (m *Store) SaveLeaveType(_ context.Context, t leave.LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.s.leaveTypes {
		if existing.Code == t.Code && id != t.ID {
			return generic.ErrDuplicate
		}
	}
	m.s.leaveTypes[t.ID] = t
	return nil
}

// SavePolicy upserts by id and rejects a second policy with the same
// (leave type, state, city, effective date).
func (m *Store) SavePolicy(_ context.Context, p leave.LeavePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.s.policies {
		if id != p.ID && existing.Key() == p.Key() {
			return generic.ErrDuplicate
		}
	}
	m.s.policies[p.ID] = p
	return nil
}

func (m *Store) DeletePolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.s.policies, id)
	return nil
}

func (m *Store) SaveVacationTier(_ context.Context, t leave.VacationAccrualTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.tiers[t.ID] = t
	return nil
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

// txView runs under the lock held by WithTx.
type txView struct {
	*state
}

func (tv *txView) LockBalance(ctx context.Context, employeeID string, year int) (*leave.PTOBalance, error) {
	return tv.GetBalance(ctx, employeeID, year)
}

func (tv *txView) InsertBalance(_ context.Context, b *leave.PTOBalance) error {
	k := balanceKey{b.EmployeeID, b.Year}
	if _, ok := tv.balances[k]; ok {
		return generic.ErrDuplicate
	}
	tv.balances[k] = *b
	return nil
}

func (tv *txView) UpdateBalance(_ context.Context, b *leave.PTOBalance) error {
	tv.balances[balanceKey{b.EmployeeID, b.Year}] = *b
	return nil
}

func (tv *txView) LockRequest(ctx context.Context, id string) (*leave.PTORequest, error) {
	return tv.GetRequest(ctx, id)
}

func (tv *txView) SaveRequest(_ context.Context, r *leave.PTORequest) error {
	tv.requests[r.ID] = *r
	return nil
}

func (tv *txView) LockCarryover(ctx context.Context, id string) (*leave.CarryoverRequest, error) {
	return tv.GetCarryover(ctx, id)
}

func (tv *txView) SaveCarryover(_ context.Context, c *leave.CarryoverRequest) error {
	tv.carryovers[c.ID] = *c
	return nil
}

func (tv *txView) AppendEntry(_ context.Context, e generic.Entry) error {
	if e.IdempotencyKey != "" {
		if tv.idempotency[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		tv.idempotency[e.IdempotencyKey] = true
	}
	tv.entries = append(tv.entries, e)
	return nil
}

// =============================================================================
// READS (lock held by caller)
// =============================================================================

func (s *state) GetEmployee(_ context.Context, id string) (*leave.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *state) ListEmployees(_ context.Context, filter leave.EmployeeFilter) ([]leave.Employee, error) {
	var out []leave.Employee
	for _, e := range s.employees {
		if filter.DepartmentID != "" && e.DepartmentID != filter.DepartmentID {
			continue
		}
		if filter.ActiveOnly && !e.Active {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) GetDepartment(_ context.Context, id string) (*leave.Department, error) {
	d, ok := s.departments[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *state) GetLeaveType(_ context.Context, id string) (*leave.LeaveType, error) {
	t, ok := s.leaveTypes[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *state) GetLeaveTypeByCode(_ context.Context, code leave.LeaveCode) (*leave.LeaveType, error) {
	for _, t := range s.leaveTypes {
		if strings.EqualFold(string(t.Code), string(code)) {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (s *state) ListLeaveTypes(_ context.Context) ([]leave.LeaveType, error) {
	out := make([]leave.LeaveType, 0, len(s.leaveTypes))
	for _, t := range s.leaveTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (s *state) ListPolicies(_ context.Context, leaveTypeID string) ([]leave.LeavePolicy, error) {
	var out []leave.LeavePolicy
	for _, p := range s.policies {
		if leaveTypeID == "" || p.LeaveTypeID == leaveTypeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveDate.Equal(out[j].EffectiveDate) {
			return out[i].EffectiveDate.Before(out[j].EffectiveDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) ListVacationTiers(_ context.Context) ([]leave.VacationAccrualTier, error) {
	out := make([]leave.VacationAccrualTier, 0, len(s.tiers))
	for _, t := range s.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinYearsService < out[j].MinYearsService })
	return out, nil
}

func (s *state) GetBalance(_ context.Context, employeeID string, year int) (*leave.PTOBalance, error) {
	b, ok := s.balances[balanceKey{employeeID, year}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *state) ListBalances(_ context.Context, employeeID string) ([]leave.PTOBalance, error) {
	var out []leave.PTOBalance
	for k, b := range s.balances {
		if k.employeeID == employeeID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

func (s *state) GetRequest(_ context.Context, id string) (*leave.PTORequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *state) ListRequests(_ context.Context, filter leave.RequestFilter) ([]leave.PTORequest, error) {
	employees := toSet(filter.EmployeeIDs)
	var out []leave.PTORequest
	for _, r := range s.requests {
		if len(employees) > 0 && !employees[r.EmployeeID] {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, r.Status) {
			continue
		}
		if filter.ExcludeID != "" && r.ID == filter.ExcludeID {
			continue
		}
		if filter.OverlapStart != nil && r.EndDate.Before(*filter.OverlapStart) {
			continue
		}
		if filter.OverlapEnd != nil && r.StartDate.After(*filter.OverlapEnd) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) GetCarryover(_ context.Context, id string) (*leave.CarryoverRequest, error) {
	c, ok := s.carryovers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *state) ListCarryovers(_ context.Context, filter leave.CarryoverFilter) ([]leave.CarryoverRequest, error) {
	var out []leave.CarryoverRequest
	for _, c := range s.carryovers {
		if filter.EmployeeID != "" && c.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.LeaveTypeID != "" && c.LeaveTypeID != filter.LeaveTypeID {
			continue
		}
		if filter.FromYear != 0 && c.FromYear != filter.FromYear {
			continue
		}
		if len(filter.Statuses) > 0 && !containsCarryoverStatus(filter.Statuses, c.Status) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) ListEntries(_ context.Context, referenceID string) ([]generic.Entry, error) {
	var out []generic.Entry
	for _, e := range s.entries {
		if e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func containsStatus(list []leave.RequestStatus, s leave.RequestStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsCarryoverStatus(list []leave.CarryoverStatus, s leave.CarryoverStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
