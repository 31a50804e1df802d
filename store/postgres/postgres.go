/*
Package postgres provides a PostgreSQL implementation of leave.Store on a
pgx/v5 connection pool.

PURPOSE:
  Production store. Same tables and constraints as store/sqlite, with
  NUMERIC amounts, DATE and TIMESTAMPTZ columns.

ROW LOCKS:
  LockBalance, LockRequest and LockCarryover use SELECT ... FOR UPDATE, so
  two transactions approving the same request serialise on the row and the
  second one sees the committed status.

BALANCE CREATION RACE:
  InsertBalance uses ON CONFLICT DO NOTHING and reports ErrDuplicate when
  no row was written. That keeps the transaction usable so the caller can
  re-lock the row the other transaction created.

ERRORS:
  Unique violations (SQLSTATE 23505) map to generic.ErrDuplicate, or to
  generic.ErrDuplicateIdempotencyKey on the journal.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
)

type Config struct {
	URL      string
	MaxConns int32
}

type Store struct {
	conn
	pool *pgxpool.Pool
}

var _ leave.Store = (*Store)(nil)

// Connect opens a pool and migrates the schema.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 2
	if poolCfg.MinConns > poolCfg.MaxConns {
		poolCfg.MinConns = poolCfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	s := &Store{conn: conn{q: pool}, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS departments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	manager_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS employees (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	hire_date DATE NOT NULL,
	location_state TEXT NOT NULL DEFAULT '',
	location_city TEXT NOT NULL DEFAULT '',
	department_id TEXT REFERENCES departments(id) ON DELETE SET NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_employees_department ON employees(department_id);

CREATE TABLE IF NOT EXISTS leave_types (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	deducts_from_balance BOOLEAN NOT NULL,
	requires_approval BOOLEAN NOT NULL,
	requires_documentation BOOLEAN NOT NULL,
	is_paid BOOLEAN NOT NULL,
	is_active BOOLEAN NOT NULL,
	sort_order INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS leave_policies (
	id TEXT PRIMARY KEY,
	leave_type_id TEXT NOT NULL REFERENCES leave_types(id) ON DELETE CASCADE,
	location_state TEXT NOT NULL DEFAULT '',
	location_city TEXT NOT NULL DEFAULT '',
	accrual_rate NUMERIC NOT NULL DEFAULT 0,
	accrual_period TEXT NOT NULL DEFAULT '',
	accrual_hours_divisor INTEGER NOT NULL DEFAULT 0,
	max_annual_hours NUMERIC NOT NULL DEFAULT 0,
	max_carryover_hours NUMERIC NOT NULL DEFAULT 0,
	waiting_period_days INTEGER NOT NULL DEFAULT 0,
	min_increment_hours NUMERIC NOT NULL DEFAULT 0,
	max_increment_hours NUMERIC NOT NULL DEFAULT 0,
	advance_notice_days INTEGER NOT NULL DEFAULT 0,
	effective_date DATE NOT NULL,
	end_date DATE,
	created_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_leave_policy_scope UNIQUE (leave_type_id, location_state, location_city, effective_date)
);

CREATE TABLE IF NOT EXISTS vacation_accrual_tiers (
	id TEXT PRIMARY KEY,
	min_years_service INTEGER NOT NULL,
	max_years_service INTEGER,
	annual_days NUMERIC NOT NULL,
	monthly_accrual_rate NUMERIC NOT NULL,
	effective_date DATE NOT NULL
);

CREATE TABLE IF NOT EXISTS pto_balances (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
	year INTEGER NOT NULL,
	vacation_total NUMERIC NOT NULL DEFAULT 0,
	vacation_used NUMERIC NOT NULL DEFAULT 0,
	vacation_pending NUMERIC NOT NULL DEFAULT 0,
	vacation_carryover NUMERIC NOT NULL DEFAULT 0,
	sick_total NUMERIC NOT NULL DEFAULT 0,
	sick_used NUMERIC NOT NULL DEFAULT 0,
	sick_carryover NUMERIC NOT NULL DEFAULT 0,
	personal_total NUMERIC NOT NULL DEFAULT 0,
	personal_used NUMERIC NOT NULL DEFAULT 0,
	personal_carryover NUMERIC NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_pto_balance_employee_year UNIQUE (employee_id, year)
);

CREATE TABLE IF NOT EXISTS pto_requests (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
	leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	half_day BOOLEAN NOT NULL DEFAULT FALSE,
	total_days NUMERIC NOT NULL,
	hours NUMERIC NOT NULL,
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	denial_reason TEXT NOT NULL DEFAULT '',
	approved_by TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	approved_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_employee_dates ON pto_requests(employee_id, start_date, end_date);
CREATE INDEX IF NOT EXISTS idx_requests_status ON pto_requests(status, submitted_at);

CREATE TABLE IF NOT EXISTS carryover_requests (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
	leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
	from_year INTEGER NOT NULL,
	to_year INTEGER NOT NULL,
	hours_requested NUMERIC NOT NULL,
	hours_approved NUMERIC,
	status TEXT NOT NULL,
	employee_notes TEXT NOT NULL DEFAULT '',
	manager_notes TEXT NOT NULL DEFAULT '',
	approved_by TEXT NOT NULL DEFAULT '',
	approved_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_carryover_employee_year ON carryover_requests(employee_id, leave_type_id, from_year);

CREATE TABLE IF NOT EXISTS balance_journal (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
	year INTEGER NOT NULL,
	bucket TEXT NOT NULL,
	field TEXT NOT NULL,
	delta NUMERIC NOT NULL,
	reference_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_journal_idempotency_key UNIQUE (idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_journal_reference ON balance_journal(reference_id);
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{conn: conn{q: tx}}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStore struct {
	conn
}

func (ts *txStore) LockBalance(ctx context.Context, employeeID string, year int) (*leave.PTOBalance, error) {
	return ts.getBalance(ctx, employeeID, year, true)
}

func (ts *txStore) InsertBalance(ctx context.Context, b *leave.PTOBalance) error {
	tag, err := ts.q.Exec(ctx, `
		INSERT INTO pto_balances (id, employee_id, year,
			vacation_total, vacation_used, vacation_pending, vacation_carryover,
			sick_total, sick_used, sick_carryover,
			personal_total, personal_used, personal_carryover,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (employee_id, year) DO NOTHING`,
		b.ID, b.EmployeeID, b.Year,
		b.VacationTotal.Value.String(), b.VacationUsed.Value.String(), b.VacationPending.Value.String(), b.VacationCarryover.Value.String(),
		b.SickTotal.Value.String(), b.SickUsed.Value.String(), b.SickCarryover.Value.String(),
		b.PersonalTotal.Value.String(), b.PersonalUsed.Value.String(), b.PersonalCarryover.Value.String(),
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "insert balance")
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrDuplicate
	}
	return nil
}

func (ts *txStore) UpdateBalance(ctx context.Context, b *leave.PTOBalance) error {
	_, err := ts.q.Exec(ctx, `
		UPDATE pto_balances SET
			vacation_total = $1, vacation_used = $2, vacation_pending = $3, vacation_carryover = $4,
			sick_total = $5, sick_used = $6, sick_carryover = $7,
			personal_total = $8, personal_used = $9, personal_carryover = $10,
			updated_at = $11
		WHERE employee_id = $12 AND year = $13`,
		b.VacationTotal.Value.String(), b.VacationUsed.Value.String(), b.VacationPending.Value.String(), b.VacationCarryover.Value.String(),
		b.SickTotal.Value.String(), b.SickUsed.Value.String(), b.SickCarryover.Value.String(),
		b.PersonalTotal.Value.String(), b.PersonalUsed.Value.String(), b.PersonalCarryover.Value.String(),
		b.UpdatedAt, b.EmployeeID, b.Year,
	)
	return mapError(err, "update balance")
}

func (ts *txStore) LockRequest(ctx context.Context, id string) (*leave.PTORequest, error) {
	return ts.getRequest(ctx, id, true)
}

func (ts *txStore) SaveRequest(ctx context.Context, r *leave.PTORequest) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO pto_requests (id, employee_id, leave_type_id, start_date, end_date, half_day,
			total_days, hours, status, notes, denial_reason, approved_by, submitted_at, approved_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			denial_reason = EXCLUDED.denial_reason,
			approved_by = EXCLUDED.approved_by,
			approved_at = EXCLUDED.approved_at,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.EmployeeID, r.LeaveTypeID, r.StartDate.Time, r.EndDate.Time, r.HalfDay,
		r.TotalDays.String(), r.Hours.Value.String(), string(r.Status), r.Notes, r.DenialReason,
		r.ApprovedBy, r.SubmittedAt, r.ApprovedAt, r.UpdatedAt,
	)
	return mapError(err, "save request")
}

func (ts *txStore) LockCarryover(ctx context.Context, id string) (*leave.CarryoverRequest, error) {
	return ts.getCarryover(ctx, id, true)
}

func (ts *txStore) SaveCarryover(ctx context.Context, c *leave.CarryoverRequest) error {
	var approved *string
	if c.HoursApproved != nil {
		v := c.HoursApproved.Value.String()
		approved = &v
	}
	_, err := ts.q.Exec(ctx, `
		INSERT INTO carryover_requests (id, employee_id, leave_type_id, from_year, to_year,
			hours_requested, hours_approved, status, employee_notes, manager_notes, approved_by,
			approved_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			hours_approved = EXCLUDED.hours_approved,
			status = EXCLUDED.status,
			manager_notes = EXCLUDED.manager_notes,
			approved_by = EXCLUDED.approved_by,
			approved_at = EXCLUDED.approved_at,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.EmployeeID, c.LeaveTypeID, c.FromYear, c.ToYear,
		c.HoursRequested.Value.String(), approved, string(c.Status), c.EmployeeNotes, c.ManagerNotes,
		c.ApprovedBy, c.ApprovedAt, c.CreatedAt, c.UpdatedAt,
	)
	return mapError(err, "save carryover")
}

func (ts *txStore) AppendEntry(ctx context.Context, e generic.Entry) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO balance_journal (id, employee_id, year, bucket, field, delta, reference_id,
			reason, idempotency_key, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.EmployeeID, e.Year, string(e.Bucket), string(e.Field), e.Delta.Value.String(),
		e.ReferenceID, e.Reason, e.IdempotencyKey, e.CreatedBy, e.CreatedAt,
	)
	if isUniqueViolation(err, "uq_journal_idempotency_key") {
		return generic.ErrDuplicateIdempotencyKey
	}
	return mapError(err, "append journal entry")
}

// =============================================================================
// REFERENCE DATA WRITES
// =============================================================================

func (s *Store) SaveDepartment(ctx context.Context, d leave.Department) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO departments (id, name, manager_id, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, manager_id = EXCLUDED.manager_id`,
		d.ID, d.Name, d.ManagerID, d.CreatedAt,
	)
	return mapError(err, "save department")
}

func (s *Store) SaveEmployee(ctx context.Context, e leave.Employee) error {
	var dept *string
	if e.DepartmentID != "" {
		dept = &e.DepartmentID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, name, email, role, hire_date, location_state, location_city,
			department_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			hire_date = EXCLUDED.hire_date,
			location_state = EXCLUDED.location_state,
			location_city = EXCLUDED.location_city,
			department_id = EXCLUDED.department_id,
			active = EXCLUDED.active`,
		e.ID, e.Name, e.Email, string(e.Role), e.HireDate.Time, e.LocationState, e.LocationCity,
		dept, e.Active, e.CreatedAt,
	)
	return mapError(err, "save employee")
}

func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM employees WHERE id = $1", id)
	return mapError(err, "delete employee")
}

func (s *Store) SaveLeaveType(ctx context.Context, t leave.LeaveType) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leave_types (id, code, name, description, category, deducts_from_balance,
			requires_approval, requires_documentation, is_paid, is_active, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			deducts_from_balance = EXCLUDED.deducts_from_balance,
			requires_approval = EXCLUDED.requires_approval,
			requires_documentation = EXCLUDED.requires_documentation,
			is_paid = EXCLUDED.is_paid,
			is_active = EXCLUDED.is_active,
			sort_order = EXCLUDED.sort_order`,
		t.ID, string(t.Code), t.Name, t.Description, string(t.Category), t.DeductsFromBalance,
		t.RequiresApproval, t.RequiresDocumentation, t.IsPaid, t.IsActive, t.SortOrder,
	)
	return mapError(err, "save leave type")
}

func (s *Store) SavePolicy(ctx context.Context, p leave.LeavePolicy) error {
	var endDate *time.Time
	if p.EndDate != nil {
		endDate = &p.EndDate.Time
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leave_policies (id, leave_type_id, location_state, location_city, accrual_rate,
			accrual_period, accrual_hours_divisor, max_annual_hours, max_carryover_hours,
			waiting_period_days, min_increment_hours, max_increment_hours, advance_notice_days,
			effective_date, end_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			location_state = EXCLUDED.location_state,
			location_city = EXCLUDED.location_city,
			accrual_rate = EXCLUDED.accrual_rate,
			accrual_period = EXCLUDED.accrual_period,
			accrual_hours_divisor = EXCLUDED.accrual_hours_divisor,
			max_annual_hours = EXCLUDED.max_annual_hours,
			max_carryover_hours = EXCLUDED.max_carryover_hours,
			waiting_period_days = EXCLUDED.waiting_period_days,
			min_increment_hours = EXCLUDED.min_increment_hours,
			max_increment_hours = EXCLUDED.max_increment_hours,
			advance_notice_days = EXCLUDED.advance_notice_days,
			effective_date = EXCLUDED.effective_date,
			end_date = EXCLUDED.end_date`,
		p.ID, p.LeaveTypeID, p.LocationState, p.LocationCity, p.AccrualRate.String(),
		string(p.AccrualPeriod), p.AccrualHoursDivisor, p.MaxAnnualHours.String(), p.MaxCarryoverHours.String(),
		p.WaitingPeriodDays, p.MinIncrementHours.String(), p.MaxIncrementHours.String(), p.AdvanceNoticeDays,
		p.EffectiveDate.Time, endDate, p.CreatedAt,
	)
	return mapError(err, "save policy")
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM leave_policies WHERE id = $1", id)
	return mapError(err, "delete policy")
}

func (s *Store) SaveVacationTier(ctx context.Context, t leave.VacationAccrualTier) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vacation_accrual_tiers (id, min_years_service, max_years_service, annual_days,
			monthly_accrual_rate, effective_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			min_years_service = EXCLUDED.min_years_service,
			max_years_service = EXCLUDED.max_years_service,
			annual_days = EXCLUDED.annual_days,
			monthly_accrual_rate = EXCLUDED.monthly_accrual_rate,
			effective_date = EXCLUDED.effective_date`,
		t.ID, t.MinYearsService, t.MaxYearsService, t.AnnualDays.String(), t.MonthlyAccrualRate.String(),
		t.EffectiveDate.Time,
	)
	return mapError(err, "save vacation tier")
}

// =============================================================================
// READS (shared by Store and txStore)
// =============================================================================

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type conn struct {
	q querier
}

const employeeColumns = `id, name, email, role, hire_date, location_state, location_city,
	COALESCE(department_id, ''), active, created_at`

func scanEmployee(row pgx.Row) (*leave.Employee, error) {
	var e leave.Employee
	var role string
	var hireDate time.Time
	if err := row.Scan(&e.ID, &e.Name, &e.Email, &role, &hireDate, &e.LocationState, &e.LocationCity,
		&e.DepartmentID, &e.Active, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Role = leave.Role(role)
	e.HireDate = generic.DateOf(hireDate)
	return &e, nil
}

func (c conn) GetEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	e, err := scanEmployee(c.q.QueryRow(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

func (c conn) ListEmployees(ctx context.Context, filter leave.EmployeeFilter) ([]leave.Employee, error) {
	var b queryBuilder
	if filter.DepartmentID != "" {
		b.where("department_id = ?", filter.DepartmentID)
	}
	if filter.ActiveOnly {
		b.where("active")
	}
	rows, err := c.q.Query(ctx, "SELECT "+employeeColumns+" FROM employees"+b.clause()+" ORDER BY id", b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	return collect(rows, scanEmployee)
}

func (c conn) GetDepartment(ctx context.Context, id string) (*leave.Department, error) {
	var d leave.Department
	err := c.q.QueryRow(ctx, "SELECT id, name, manager_id, created_at FROM departments WHERE id = $1", id).
		Scan(&d.ID, &d.Name, &d.ManagerID, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	return &d, nil
}

const leaveTypeColumns = `id, code, name, description, category, deducts_from_balance,
	requires_approval, requires_documentation, is_paid, is_active, sort_order`

func scanLeaveType(row pgx.Row) (*leave.LeaveType, error) {
	var t leave.LeaveType
	var code, category string
	if err := row.Scan(&t.ID, &code, &t.Name, &t.Description, &category, &t.DeductsFromBalance,
		&t.RequiresApproval, &t.RequiresDocumentation, &t.IsPaid, &t.IsActive, &t.SortOrder); err != nil {
		return nil, err
	}
	t.Code = leave.LeaveCode(code)
	t.Category = leave.LeaveCategory(category)
	return &t, nil
}

func (c conn) GetLeaveType(ctx context.Context, id string) (*leave.LeaveType, error) {
	t, err := scanLeaveType(c.q.QueryRow(ctx, "SELECT "+leaveTypeColumns+" FROM leave_types WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave type: %w", err)
	}
	return t, nil
}

func (c conn) GetLeaveTypeByCode(ctx context.Context, code leave.LeaveCode) (*leave.LeaveType, error) {
	t, err := scanLeaveType(c.q.QueryRow(ctx,
		"SELECT "+leaveTypeColumns+" FROM leave_types WHERE upper(code) = upper($1)", string(code)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave type: %w", err)
	}
	return t, nil
}

func (c conn) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	rows, err := c.q.Query(ctx, "SELECT "+leaveTypeColumns+" FROM leave_types ORDER BY sort_order, code")
	if err != nil {
		return nil, fmt.Errorf("failed to list leave types: %w", err)
	}
	return collect(rows, scanLeaveType)
}

func scanPolicy(row pgx.Row) (*leave.LeavePolicy, error) {
	var p leave.LeavePolicy
	var rate, period, maxAnnual, maxCarry, minInc, maxInc string
	var effective time.Time
	var endDate *time.Time
	if err := row.Scan(&p.ID, &p.LeaveTypeID, &p.LocationState, &p.LocationCity, &rate, &period,
		&p.AccrualHoursDivisor, &maxAnnual, &maxCarry, &p.WaitingPeriodDays,
		&minInc, &maxInc, &p.AdvanceNoticeDays, &effective, &endDate, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.AccrualRate = generic.MustParseDecimal(rate)
	p.AccrualPeriod = leave.AccrualPeriod(period)
	p.MaxAnnualHours = generic.MustParseDecimal(maxAnnual)
	p.MaxCarryoverHours = generic.MustParseDecimal(maxCarry)
	p.MinIncrementHours = generic.MustParseDecimal(minInc)
	p.MaxIncrementHours = generic.MustParseDecimal(maxInc)
	p.EffectiveDate = generic.DateOf(effective)
	if endDate != nil {
		d := generic.DateOf(*endDate)
		p.EndDate = &d
	}
	return &p, nil
}

func (c conn) ListPolicies(ctx context.Context, leaveTypeID string) ([]leave.LeavePolicy, error) {
	var b queryBuilder
	if leaveTypeID != "" {
		b.where("leave_type_id = ?", leaveTypeID)
	}
	rows, err := c.q.Query(ctx, `
		SELECT id, leave_type_id, location_state, location_city, accrual_rate::text, accrual_period,
			accrual_hours_divisor, max_annual_hours::text, max_carryover_hours::text, waiting_period_days,
			min_increment_hours::text, max_increment_hours::text, advance_notice_days, effective_date,
			end_date, created_at
		FROM leave_policies`+b.clause()+" ORDER BY effective_date, id", b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	return collect(rows, scanPolicy)
}

func scanTier(row pgx.Row) (*leave.VacationAccrualTier, error) {
	var t leave.VacationAccrualTier
	var annual, monthly string
	var effective time.Time
	if err := row.Scan(&t.ID, &t.MinYearsService, &t.MaxYearsService, &annual, &monthly, &effective); err != nil {
		return nil, err
	}
	t.AnnualDays = generic.MustParseDecimal(annual)
	t.MonthlyAccrualRate = generic.MustParseDecimal(monthly)
	t.EffectiveDate = generic.DateOf(effective)
	return &t, nil
}

func (c conn) ListVacationTiers(ctx context.Context) ([]leave.VacationAccrualTier, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, min_years_service, max_years_service, annual_days::text, monthly_accrual_rate::text,
			effective_date
		FROM vacation_accrual_tiers ORDER BY min_years_service`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	return collect(rows, scanTier)
}

const balanceColumns = `id, employee_id, year,
	vacation_total::text, vacation_used::text, vacation_pending::text, vacation_carryover::text,
	sick_total::text, sick_used::text, sick_carryover::text,
	personal_total::text, personal_used::text, personal_carryover::text,
	created_at, updated_at`

func scanBalance(row pgx.Row) (*leave.PTOBalance, error) {
	var b leave.PTOBalance
	var vt, vu, vp, vc, st, su, sc, pt, pu, pc string
	if err := row.Scan(&b.ID, &b.EmployeeID, &b.Year, &vt, &vu, &vp, &vc, &st, &su, &sc,
		&pt, &pu, &pc, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.VacationTotal, b.VacationUsed, b.VacationPending, b.VacationCarryover = hours(vt), hours(vu), hours(vp), hours(vc)
	b.SickTotal, b.SickUsed, b.SickCarryover = hours(st), hours(su), hours(sc)
	b.PersonalTotal, b.PersonalUsed, b.PersonalCarryover = hours(pt), hours(pu), hours(pc)
	return &b, nil
}

func (c conn) GetBalance(ctx context.Context, employeeID string, year int) (*leave.PTOBalance, error) {
	return c.getBalance(ctx, employeeID, year, false)
}

func (c conn) getBalance(ctx context.Context, employeeID string, year int, lock bool) (*leave.PTOBalance, error) {
	query := "SELECT " + balanceColumns + " FROM pto_balances WHERE employee_id = $1 AND year = $2"
	if lock {
		query += " FOR UPDATE"
	}
	b, err := scanBalance(c.q.QueryRow(ctx, query, employeeID, year))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

func (c conn) ListBalances(ctx context.Context, employeeID string) ([]leave.PTOBalance, error) {
	rows, err := c.q.Query(ctx,
		"SELECT "+balanceColumns+" FROM pto_balances WHERE employee_id = $1 ORDER BY year", employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	return collect(rows, scanBalance)
}

const requestColumns = `id, employee_id, leave_type_id, start_date, end_date, half_day, total_days::text,
	hours::text, status, notes, denial_reason, approved_by, submitted_at, approved_at, updated_at`

func scanRequest(row pgx.Row) (*leave.PTORequest, error) {
	var r leave.PTORequest
	var start, end time.Time
	var totalDays, hrs, status string
	if err := row.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &start, &end, &r.HalfDay, &totalDays,
		&hrs, &status, &r.Notes, &r.DenialReason, &r.ApprovedBy, &r.SubmittedAt, &r.ApprovedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.StartDate = generic.DateOf(start)
	r.EndDate = generic.DateOf(end)
	r.TotalDays = generic.MustParseDecimal(totalDays)
	r.Hours = hours(hrs)
	r.Status = leave.RequestStatus(status)
	return &r, nil
}

func (c conn) GetRequest(ctx context.Context, id string) (*leave.PTORequest, error) {
	return c.getRequest(ctx, id, false)
}

func (c conn) getRequest(ctx context.Context, id string, lock bool) (*leave.PTORequest, error) {
	query := "SELECT " + requestColumns + " FROM pto_requests WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	r, err := scanRequest(c.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return r, nil
}

func (c conn) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.PTORequest, error) {
	var b queryBuilder
	if len(filter.EmployeeIDs) > 0 {
		b.where("employee_id = ANY(?)", filter.EmployeeIDs)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		b.where("status = ANY(?)", statuses)
	}
	if filter.OverlapStart != nil {
		b.where("end_date >= ?", filter.OverlapStart.Time)
	}
	if filter.OverlapEnd != nil {
		b.where("start_date <= ?", filter.OverlapEnd.Time)
	}
	if filter.ExcludeID != "" {
		b.where("id <> ?", filter.ExcludeID)
	}
	rows, err := c.q.Query(ctx, "SELECT "+requestColumns+" FROM pto_requests"+b.clause()+" ORDER BY submitted_at, id", b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return collect(rows, scanRequest)
}

const carryoverColumns = `id, employee_id, leave_type_id, from_year, to_year, hours_requested::text,
	hours_approved::text, status, employee_notes, manager_notes, approved_by, approved_at, created_at, updated_at`

func scanCarryover(row pgx.Row) (*leave.CarryoverRequest, error) {
	var c leave.CarryoverRequest
	var requested, status string
	var approved *string
	if err := row.Scan(&c.ID, &c.EmployeeID, &c.LeaveTypeID, &c.FromYear, &c.ToYear, &requested,
		&approved, &status, &c.EmployeeNotes, &c.ManagerNotes, &c.ApprovedBy, &c.ApprovedAt,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.HoursRequested = hours(requested)
	if approved != nil {
		h := hours(*approved)
		c.HoursApproved = &h
	}
	c.Status = leave.CarryoverStatus(status)
	return &c, nil
}

func (c conn) GetCarryover(ctx context.Context, id string) (*leave.CarryoverRequest, error) {
	return c.getCarryover(ctx, id, false)
}

func (c conn) getCarryover(ctx context.Context, id string, lock bool) (*leave.CarryoverRequest, error) {
	query := "SELECT " + carryoverColumns + " FROM carryover_requests WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	cr, err := scanCarryover(c.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get carryover: %w", err)
	}
	return cr, nil
}

func (c conn) ListCarryovers(ctx context.Context, filter leave.CarryoverFilter) ([]leave.CarryoverRequest, error) {
	var b queryBuilder
	if filter.EmployeeID != "" {
		b.where("employee_id = ?", filter.EmployeeID)
	}
	if filter.LeaveTypeID != "" {
		b.where("leave_type_id = ?", filter.LeaveTypeID)
	}
	if filter.FromYear != 0 {
		b.where("from_year = ?", filter.FromYear)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		b.where("status = ANY(?)", statuses)
	}
	rows, err := c.q.Query(ctx, "SELECT "+carryoverColumns+" FROM carryover_requests"+b.clause()+" ORDER BY created_at, id", b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list carryovers: %w", err)
	}
	return collect(rows, scanCarryover)
}

func scanEntry(row pgx.Row) (*generic.Entry, error) {
	var e generic.Entry
	var bucket, field, delta string
	if err := row.Scan(&e.ID, &e.EmployeeID, &e.Year, &bucket, &field, &delta, &e.ReferenceID,
		&e.Reason, &e.IdempotencyKey, &e.CreatedBy, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Bucket = generic.Bucket(bucket)
	e.Field = generic.Field(field)
	e.Delta = hours(delta)
	return &e, nil
}

func (c conn) ListEntries(ctx context.Context, referenceID string) ([]generic.Entry, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, employee_id, year, bucket, field, delta::text, reference_id, reason, idempotency_key,
			created_by, created_at
		FROM balance_journal WHERE reference_id = $1 ORDER BY seq`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	return collect(rows, scanEntry)
}

// =============================================================================
// HELPERS
// =============================================================================

// queryBuilder numbers "?" placeholders as $n in the order they are added.
type queryBuilder struct {
	conds []string
	args  []any
}

func (b *queryBuilder) where(cond string, args ...any) {
	for _, a := range args {
		b.args = append(b.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(b.args)), 1)
	}
	b.conds = append(b.conds, cond)
}

func (b *queryBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func hours(s string) generic.Amount {
	return generic.HoursOf(generic.MustParseDecimal(s))
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err, "") {
		return generic.ErrDuplicate
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
