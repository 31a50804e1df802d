/*
Package sqlite provides a SQLite-backed implementation of leave.Store.

PURPOSE:
  Persists the organisation, reference data, balances, requests, carryover
  requests and the balance journal using database/sql and go-sqlite3. The
  PostgreSQL store in store/postgres follows the same schema.

KEY TABLES:
  departments, employees:   Organisation
  leave_types:              Static reference data (code unique)
  leave_policies:           Location-scoped rules
  vacation_accrual_tiers:   Tenure bands
  pto_balances:             One row per (employee_id, year)
  pto_requests:             Request lifecycle rows
  carryover_requests:       Year-end carryover rows
  balance_journal:          Append-only audit of every balance mutation

CONSTRAINTS:
  - UNIQUE(employee_id, year) on pto_balances
  - UNIQUE(leave_type_id, location_state, location_city, effective_date)
    on leave_policies; the default policy stores '' for state and city
  - UNIQUE(idempotency_key) on balance_journal
  - ON DELETE CASCADE from employees to balances, requests, carryovers
    and journal entries

CONCURRENCY:
  WithTx holds a store-wide writer lock for the whole transaction, which
  is what the Lock* methods rely on. Reads outside a transaction go
  straight to the pool; WAL mode keeps them from blocking the writer.

FORMATS:
  Decimals are TEXT (decimal.Decimal.String()), dates are YYYY-MM-DD and
  timestamps are fixed-width UTC so that TEXT ordering is time ordering.

USAGE:
  store, err := sqlite.New("./data/pto.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements leave.Store using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

var _ leave.Store = (*Store)(nil)

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS departments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		manager_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		hire_date TEXT NOT NULL,
		location_state TEXT NOT NULL DEFAULT '',
		location_city TEXT NOT NULL DEFAULT '',
		department_id TEXT REFERENCES departments(id) ON DELETE SET NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_employees_department ON employees(department_id);

	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		deducts_from_balance INTEGER NOT NULL,
		requires_approval INTEGER NOT NULL,
		requires_documentation INTEGER NOT NULL,
		is_paid INTEGER NOT NULL,
		is_active INTEGER NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS leave_policies (
		id TEXT PRIMARY KEY,
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id) ON DELETE CASCADE,
		location_state TEXT NOT NULL DEFAULT '',
		location_city TEXT NOT NULL DEFAULT '',
		accrual_rate TEXT NOT NULL DEFAULT '0',
		accrual_period TEXT NOT NULL DEFAULT '',
		accrual_hours_divisor INTEGER NOT NULL DEFAULT 0,
		max_annual_hours TEXT NOT NULL DEFAULT '0',
		max_carryover_hours TEXT NOT NULL DEFAULT '0',
		waiting_period_days INTEGER NOT NULL DEFAULT 0,
		min_increment_hours TEXT NOT NULL DEFAULT '0',
		max_increment_hours TEXT NOT NULL DEFAULT '0',
		advance_notice_days INTEGER NOT NULL DEFAULT 0,
		effective_date TEXT NOT NULL,
		end_date TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(leave_type_id, location_state, location_city, effective_date)
	);

	CREATE TABLE IF NOT EXISTS vacation_accrual_tiers (
		id TEXT PRIMARY KEY,
		min_years_service INTEGER NOT NULL,
		max_years_service INTEGER,
		annual_days TEXT NOT NULL,
		monthly_accrual_rate TEXT NOT NULL,
		effective_date TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pto_balances (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		year INTEGER NOT NULL,
		vacation_total TEXT NOT NULL,
		vacation_used TEXT NOT NULL,
		vacation_pending TEXT NOT NULL,
		vacation_carryover TEXT NOT NULL,
		sick_total TEXT NOT NULL,
		sick_used TEXT NOT NULL,
		sick_carryover TEXT NOT NULL,
		personal_total TEXT NOT NULL,
		personal_used TEXT NOT NULL,
		personal_carryover TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, year)
	);

	CREATE TABLE IF NOT EXISTS pto_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		half_day INTEGER NOT NULL DEFAULT 0,
		total_days TEXT NOT NULL,
		hours TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		denial_reason TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		submitted_at TEXT NOT NULL,
		approved_at TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_employee_dates ON pto_requests(employee_id, start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON pto_requests(status, submitted_at);

	CREATE TABLE IF NOT EXISTS carryover_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		from_year INTEGER NOT NULL,
		to_year INTEGER NOT NULL,
		hours_requested TEXT NOT NULL,
		hours_approved TEXT,
		status TEXT NOT NULL,
		employee_notes TEXT NOT NULL DEFAULT '',
		manager_notes TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_carryover_employee_year ON carryover_requests(employee_id, leave_type_id, from_year);

	CREATE TABLE IF NOT EXISTS balance_journal (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		year INTEGER NOT NULL,
		bucket TEXT NOT NULL,
		field TEXT NOT NULL,
		delta TEXT NOT NULL,
		reference_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL UNIQUE,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_reference ON balance_journal(reference_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{conn: conn{q: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs every statement on the open sql.Tx. Row locks are implied
// by the writer lock WithTx holds.
type txStore struct {
	conn
}

func (ts *txStore) LockBalance(ctx context.Context, employeeID string, year int) (*leave.PTOBalance, error) {
	return ts.GetBalance(ctx, employeeID, year)
}

func (ts *txStore) InsertBalance(ctx context.Context, b *leave.PTOBalance) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO pto_balances (id, employee_id, year,
			vacation_total, vacation_used, vacation_pending, vacation_carryover,
			sick_total, sick_used, sick_carryover,
			personal_total, personal_used, personal_carryover,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.EmployeeID, b.Year,
		b.VacationTotal.Value.String(), b.VacationUsed.Value.String(), b.VacationPending.Value.String(), b.VacationCarryover.Value.String(),
		b.SickTotal.Value.String(), b.SickUsed.Value.String(), b.SickCarryover.Value.String(),
		b.PersonalTotal.Value.String(), b.PersonalUsed.Value.String(), b.PersonalCarryover.Value.String(),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert balance: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateBalance(ctx context.Context, b *leave.PTOBalance) error {
	_, err := ts.q.ExecContext(ctx, `
		UPDATE pto_balances SET
			vacation_total = ?, vacation_used = ?, vacation_pending = ?, vacation_carryover = ?,
			sick_total = ?, sick_used = ?, sick_carryover = ?,
			personal_total = ?, personal_used = ?, personal_carryover = ?,
			updated_at = ?
		WHERE employee_id = ? AND year = ?`,
		b.VacationTotal.Value.String(), b.VacationUsed.Value.String(), b.VacationPending.Value.String(), b.VacationCarryover.Value.String(),
		b.SickTotal.Value.String(), b.SickUsed.Value.String(), b.SickCarryover.Value.String(),
		b.PersonalTotal.Value.String(), b.PersonalUsed.Value.String(), b.PersonalCarryover.Value.String(),
		formatTime(b.UpdatedAt), b.EmployeeID, b.Year,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

func (ts *txStore) LockRequest(ctx context.Context, id string) (*leave.PTORequest, error) {
	return ts.GetRequest(ctx, id)
}

func (ts *txStore) SaveRequest(ctx context.Context, r *leave.PTORequest) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO pto_requests (id, employee_id, leave_type_id, start_date, end_date, half_day,
			total_days, hours, status, notes, denial_reason, approved_by, submitted_at, approved_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			denial_reason = excluded.denial_reason,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			updated_at = excluded.updated_at`,
		r.ID, r.EmployeeID, r.LeaveTypeID, r.StartDate.String(), r.EndDate.String(), r.HalfDay,
		r.TotalDays.String(), r.Hours.Value.String(), string(r.Status), r.Notes, r.DenialReason,
		r.ApprovedBy, formatTime(r.SubmittedAt), formatTimePtr(r.ApprovedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (ts *txStore) LockCarryover(ctx context.Context, id string) (*leave.CarryoverRequest, error) {
	return ts.GetCarryover(ctx, id)
}

func (ts *txStore) SaveCarryover(ctx context.Context, c *leave.CarryoverRequest) error {
	var approved sql.NullString
	if c.HoursApproved != nil {
		approved = sql.NullString{String: c.HoursApproved.Value.String(), Valid: true}
	}
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO carryover_requests (id, employee_id, leave_type_id, from_year, to_year,
			hours_requested, hours_approved, status, employee_notes, manager_notes, approved_by,
			approved_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hours_approved = excluded.hours_approved,
			status = excluded.status,
			manager_notes = excluded.manager_notes,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			updated_at = excluded.updated_at`,
		c.ID, c.EmployeeID, c.LeaveTypeID, c.FromYear, c.ToYear,
		c.HoursRequested.Value.String(), approved, string(c.Status), c.EmployeeNotes, c.ManagerNotes,
		c.ApprovedBy, formatTimePtr(c.ApprovedAt), formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save carryover: %w", err)
	}
	return nil
}

func (ts *txStore) AppendEntry(ctx context.Context, e generic.Entry) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO balance_journal (id, employee_id, year, bucket, field, delta, reference_id,
			reason, idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EmployeeID, e.Year, string(e.Bucket), string(e.Field), e.Delta.Value.String(),
		e.ReferenceID, e.Reason, e.IdempotencyKey, e.CreatedBy, formatTime(e.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// =============================================================================
// REFERENCE DATA WRITES
// =============================================================================

func (s *Store) SaveDepartment(ctx context.Context, d leave.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, name, manager_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, manager_id = excluded.manager_id`,
		d.ID, d.Name, d.ManagerID, formatTime(d.CreatedAt),
	)
	return err
}

func (s *Store) SaveEmployee(ctx context.Context, e leave.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, role, hire_date, location_state, location_city,
			department_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			hire_date = excluded.hire_date,
			location_state = excluded.location_state,
			location_city = excluded.location_city,
			department_id = excluded.department_id,
			active = excluded.active`,
		e.ID, e.Name, e.Email, string(e.Role), e.HireDate.String(), e.LocationState, e.LocationCity,
		nullString(e.DepartmentID), e.Active, formatTime(e.CreatedAt),
	)
	return err
}

// DeleteEmployee relies on ON DELETE CASCADE for dependent rows.
func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM employees WHERE id = ?", id)
	return err
}

func (s *Store) SaveLeaveType(ctx context.Context, t leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_types (id, code, name, description, category, deducts_from_balance,
			requires_approval, requires_documentation, is_paid, is_active, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			deducts_from_balance = excluded.deducts_from_balance,
			requires_approval = excluded.requires_approval,
			requires_documentation = excluded.requires_documentation,
			is_paid = excluded.is_paid,
			is_active = excluded.is_active,
			sort_order = excluded.sort_order`,
		t.ID, string(t.Code), t.Name, t.Description, string(t.Category), t.DeductsFromBalance,
		t.RequiresApproval, t.RequiresDocumentation, t.IsPaid, t.IsActive, t.SortOrder,
	)
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicate
	}
	return err
}

func (s *Store) SavePolicy(ctx context.Context, p leave.LeavePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var endDate sql.NullString
	if p.EndDate != nil {
		endDate = sql.NullString{String: p.EndDate.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_policies (id, leave_type_id, location_state, location_city, accrual_rate,
			accrual_period, accrual_hours_divisor, max_annual_hours, max_carryover_hours,
			waiting_period_days, min_increment_hours, max_increment_hours, advance_notice_days,
			effective_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			location_state = excluded.location_state,
			location_city = excluded.location_city,
			accrual_rate = excluded.accrual_rate,
			accrual_period = excluded.accrual_period,
			accrual_hours_divisor = excluded.accrual_hours_divisor,
			max_annual_hours = excluded.max_annual_hours,
			max_carryover_hours = excluded.max_carryover_hours,
			waiting_period_days = excluded.waiting_period_days,
			min_increment_hours = excluded.min_increment_hours,
			max_increment_hours = excluded.max_increment_hours,
			advance_notice_days = excluded.advance_notice_days,
			effective_date = excluded.effective_date,
			end_date = excluded.end_date`,
		p.ID, p.LeaveTypeID, p.LocationState, p.LocationCity, p.AccrualRate.String(),
		string(p.AccrualPeriod), p.AccrualHoursDivisor, p.MaxAnnualHours.String(), p.MaxCarryoverHours.String(),
		p.WaitingPeriodDays, p.MinIncrementHours.String(), p.MaxIncrementHours.String(), p.AdvanceNoticeDays,
		p.EffectiveDate.String(), endDate, formatTime(p.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicate
	}
	return err
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM leave_policies WHERE id = ?", id)
	return err
}

func (s *Store) SaveVacationTier(ctx context.Context, t leave.VacationAccrualTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxYears sql.NullInt64
	if t.MaxYearsService != nil {
		maxYears = sql.NullInt64{Int64: int64(*t.MaxYearsService), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vacation_accrual_tiers (id, min_years_service, max_years_service, annual_days,
			monthly_accrual_rate, effective_date)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			min_years_service = excluded.min_years_service,
			max_years_service = excluded.max_years_service,
			annual_days = excluded.annual_days,
			monthly_accrual_rate = excluded.monthly_accrual_rate,
			effective_date = excluded.effective_date`,
		t.ID, t.MinYearsService, maxYears, t.AnnualDays.String(), t.MonthlyAccrualRate.String(),
		t.EffectiveDate.String(),
	)
	return err
}

// =============================================================================
// READS (shared by Store and txStore)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type conn struct {
	q querier
}

const employeeColumns = `id, name, email, role, hire_date, location_state, location_city,
	department_id, active, created_at`

func scanEmployee(row scanner) (*leave.Employee, error) {
	var e leave.Employee
	var role, hireDate, createdAt string
	var dept sql.NullString
	if err := row.Scan(&e.ID, &e.Name, &e.Email, &role, &hireDate, &e.LocationState, &e.LocationCity,
		&dept, &e.Active, &createdAt); err != nil {
		return nil, err
	}
	e.Role = leave.Role(role)
	e.HireDate = parseDate(hireDate)
	e.DepartmentID = dept.String
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func (c conn) GetEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	e, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

func (c conn) ListEmployees(ctx context.Context, filter leave.EmployeeFilter) ([]leave.Employee, error) {
	query := "SELECT " + employeeColumns + " FROM employees WHERE 1=1"
	var args []any
	if filter.DepartmentID != "" {
		query += " AND department_id = ?"
		args = append(args, filter.DepartmentID)
	}
	if filter.ActiveOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []leave.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (c conn) GetDepartment(ctx context.Context, id string) (*leave.Department, error) {
	var d leave.Department
	var createdAt string
	err := c.q.QueryRowContext(ctx,
		"SELECT id, name, manager_id, created_at FROM departments WHERE id = ?", id,
	).Scan(&d.ID, &d.Name, &d.ManagerID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

const leaveTypeColumns = `id, code, name, description, category, deducts_from_balance,
	requires_approval, requires_documentation, is_paid, is_active, sort_order`

func scanLeaveType(row scanner) (*leave.LeaveType, error) {
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
	t, err := scanLeaveType(c.q.QueryRowContext(ctx, "SELECT "+leaveTypeColumns+" FROM leave_types WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave type: %w", err)
	}
	return t, nil
}

func (c conn) GetLeaveTypeByCode(ctx context.Context, code leave.LeaveCode) (*leave.LeaveType, error) {
	t, err := scanLeaveType(c.q.QueryRowContext(ctx,
		"SELECT "+leaveTypeColumns+" FROM leave_types WHERE code = ? COLLATE NOCASE", string(code)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave type: %w", err)
	}
	return t, nil
}

func (c conn) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+leaveTypeColumns+" FROM leave_types ORDER BY sort_order, code")
	if err != nil {
		return nil, fmt.Errorf("failed to list leave types: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveType
	for rows.Next() {
		t, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (c conn) ListPolicies(ctx context.Context, leaveTypeID string) ([]leave.LeavePolicy, error) {
	query := `
		SELECT id, leave_type_id, location_state, location_city, accrual_rate, accrual_period,
			accrual_hours_divisor, max_annual_hours, max_carryover_hours, waiting_period_days,
			min_increment_hours, max_increment_hours, advance_notice_days, effective_date, end_date,
			created_at
		FROM leave_policies`
	var args []any
	if leaveTypeID != "" {
		query += " WHERE leave_type_id = ?"
		args = append(args, leaveTypeID)
	}
	query += " ORDER BY effective_date, id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var out []leave.LeavePolicy
	for rows.Next() {
		var p leave.LeavePolicy
		var rate, period, maxAnnual, maxCarry, minInc, maxInc, effective, createdAt string
		var endDate sql.NullString
		if err := rows.Scan(&p.ID, &p.LeaveTypeID, &p.LocationState, &p.LocationCity, &rate, &period,
			&p.AccrualHoursDivisor, &maxAnnual, &maxCarry, &p.WaitingPeriodDays,
			&minInc, &maxInc, &p.AdvanceNoticeDays, &effective, &endDate, &createdAt); err != nil {
			return nil, err
		}
		p.AccrualRate = generic.MustParseDecimal(rate)
		p.AccrualPeriod = leave.AccrualPeriod(period)
		p.MaxAnnualHours = generic.MustParseDecimal(maxAnnual)
		p.MaxCarryoverHours = generic.MustParseDecimal(maxCarry)
		p.MinIncrementHours = generic.MustParseDecimal(minInc)
		p.MaxIncrementHours = generic.MustParseDecimal(maxInc)
		p.EffectiveDate = parseDate(effective)
		if endDate.Valid {
			d := parseDate(endDate.String)
			p.EndDate = &d
		}
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c conn) ListVacationTiers(ctx context.Context) ([]leave.VacationAccrualTier, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, min_years_service, max_years_service, annual_days, monthly_accrual_rate, effective_date
		FROM vacation_accrual_tiers ORDER BY min_years_service`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	defer rows.Close()

	var out []leave.VacationAccrualTier
	for rows.Next() {
		var t leave.VacationAccrualTier
		var maxYears sql.NullInt64
		var annual, monthly, effective string
		if err := rows.Scan(&t.ID, &t.MinYearsService, &maxYears, &annual, &monthly, &effective); err != nil {
			return nil, err
		}
		if maxYears.Valid {
			m := int(maxYears.Int64)
			t.MaxYearsService = &m
		}
		t.AnnualDays = generic.MustParseDecimal(annual)
		t.MonthlyAccrualRate = generic.MustParseDecimal(monthly)
		t.EffectiveDate = parseDate(effective)
		out = append(out, t)
	}
	return out, rows.Err()
}

const balanceColumns = `id, employee_id, year,
	vacation_total, vacation_used, vacation_pending, vacation_carryover,
	sick_total, sick_used, sick_carryover,
	personal_total, personal_used, personal_carryover,
	created_at, updated_at`

func scanBalance(row scanner) (*leave.PTOBalance, error) {
	var b leave.PTOBalance
	var vt, vu, vp, vc, st, su, sc, pt, pu, pc, createdAt, updatedAt string
	if err := row.Scan(&b.ID, &b.EmployeeID, &b.Year, &vt, &vu, &vp, &vc, &st, &su, &sc,
		&pt, &pu, &pc, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.VacationTotal, b.VacationUsed, b.VacationPending, b.VacationCarryover = hours(vt), hours(vu), hours(vp), hours(vc)
	b.SickTotal, b.SickUsed, b.SickCarryover = hours(st), hours(su), hours(sc)
	b.PersonalTotal, b.PersonalUsed, b.PersonalCarryover = hours(pt), hours(pu), hours(pc)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (c conn) GetBalance(ctx context.Context, employeeID string, year int) (*leave.PTOBalance, error) {
	b, err := scanBalance(c.q.QueryRowContext(ctx,
		"SELECT "+balanceColumns+" FROM pto_balances WHERE employee_id = ? AND year = ?", employeeID, year))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

func (c conn) ListBalances(ctx context.Context, employeeID string) ([]leave.PTOBalance, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+balanceColumns+" FROM pto_balances WHERE employee_id = ? ORDER BY year", employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var out []leave.PTOBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

const requestColumns = `id, employee_id, leave_type_id, start_date, end_date, half_day, total_days,
	hours, status, notes, denial_reason, approved_by, submitted_at, approved_at, updated_at`

func scanRequest(row scanner) (*leave.PTORequest, error) {
	var r leave.PTORequest
	var start, end, totalDays, hrs, status, submittedAt, updatedAt string
	var approvedAt sql.NullString
	if err := row.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &start, &end, &r.HalfDay, &totalDays,
		&hrs, &status, &r.Notes, &r.DenialReason, &r.ApprovedBy, &submittedAt, &approvedAt, &updatedAt); err != nil {
		return nil, err
	}
	r.StartDate = parseDate(start)
	r.EndDate = parseDate(end)
	r.TotalDays = generic.MustParseDecimal(totalDays)
	r.Hours = hours(hrs)
	r.Status = leave.RequestStatus(status)
	r.SubmittedAt = parseTime(submittedAt)
	r.ApprovedAt = parseTimePtr(approvedAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func (c conn) GetRequest(ctx context.Context, id string) (*leave.PTORequest, error) {
	r, err := scanRequest(c.q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM pto_requests WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return r, nil
}

func (c conn) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.PTORequest, error) {
	var where []string
	var args []any
	if len(filter.EmployeeIDs) > 0 {
		where = append(where, "employee_id IN ("+placeholders(len(filter.EmployeeIDs))+")")
		for _, id := range filter.EmployeeIDs {
			args = append(args, id)
		}
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.OverlapStart != nil {
		where = append(where, "end_date >= ?")
		args = append(args, filter.OverlapStart.String())
	}
	if filter.OverlapEnd != nil {
		where = append(where, "start_date <= ?")
		args = append(args, filter.OverlapEnd.String())
	}
	if filter.ExcludeID != "" {
		where = append(where, "id <> ?")
		args = append(args, filter.ExcludeID)
	}

	query := "SELECT " + requestColumns + " FROM pto_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at, id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []leave.PTORequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const carryoverColumns = `id, employee_id, leave_type_id, from_year, to_year, hours_requested,
	hours_approved, status, employee_notes, manager_notes, approved_by, approved_at, created_at, updated_at`

func scanCarryover(row scanner) (*leave.CarryoverRequest, error) {
	var c leave.CarryoverRequest
	var requested, status, createdAt, updatedAt string
	var approved, approvedAt sql.NullString
	if err := row.Scan(&c.ID, &c.EmployeeID, &c.LeaveTypeID, &c.FromYear, &c.ToYear, &requested,
		&approved, &status, &c.EmployeeNotes, &c.ManagerNotes, &c.ApprovedBy, &approvedAt,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.HoursRequested = hours(requested)
	if approved.Valid {
		h := hours(approved.String)
		c.HoursApproved = &h
	}
	c.Status = leave.CarryoverStatus(status)
	c.ApprovedAt = parseTimePtr(approvedAt)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func (c conn) GetCarryover(ctx context.Context, id string) (*leave.CarryoverRequest, error) {
	cr, err := scanCarryover(c.q.QueryRowContext(ctx, "SELECT "+carryoverColumns+" FROM carryover_requests WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get carryover: %w", err)
	}
	return cr, nil
}

func (c conn) ListCarryovers(ctx context.Context, filter leave.CarryoverFilter) ([]leave.CarryoverRequest, error) {
	var where []string
	var args []any
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.LeaveTypeID != "" {
		where = append(where, "leave_type_id = ?")
		args = append(args, filter.LeaveTypeID)
	}
	if filter.FromYear != 0 {
		where = append(where, "from_year = ?")
		args = append(args, filter.FromYear)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}

	query := "SELECT " + carryoverColumns + " FROM carryover_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list carryovers: %w", err)
	}
	defer rows.Close()

	var out []leave.CarryoverRequest
	for rows.Next() {
		cr, err := scanCarryover(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cr)
	}
	return out, rows.Err()
}

func (c conn) ListEntries(ctx context.Context, referenceID string) ([]generic.Entry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, employee_id, year, bucket, field, delta, reference_id, reason, idempotency_key,
			created_by, created_at
		FROM balance_journal WHERE reference_id = ? ORDER BY seq`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	var out []generic.Entry
	for rows.Next() {
		var e generic.Entry
		var bucket, field, delta, createdAt string
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.Year, &bucket, &field, &delta, &e.ReferenceID,
			&e.Reason, &e.IdempotencyKey, &e.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		e.Bucket = generic.Bucket(bucket)
		e.Field = generic.Field(field)
		e.Delta = hours(delta)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func hours(s string) generic.Amount {
	return generic.HoursOf(generic.MustParseDecimal(s))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDate(s string) generic.Date {
	d, _ := generic.ParseDate(s)
	return d
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
