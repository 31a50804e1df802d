/*
Package factory converts reference-data documents into leave types,
policies, vacation tiers and (optionally) organisation records.

PURPOSE:
  HR maintains the handbook rules as a YAML (or JSON) document rather than
  code. The factory parses the document, validates it as a whole, and
  upserts it into a leave.Store. The handbook defaults ship embedded.

DOCUMENT SCHEMA (YAML):
  leave_types:
    - code: SICK
      name: Sick Time
      category: accrued            # accrued | allocated | tracking_only
      requires_documentation: true
      deducts_from_balance: true
  policies:
    - leave_type: SICK
      state: NY                    # omit state and city for the default
      max_annual_hours: 56
      waiting_period_days: 0
      effective_date: "2024-01-01"
  vacation_tiers:
    - {min_years: 0, max_years: 4, annual_days: 10, monthly_accrual_rate: 0.83}
  departments:                     # optional
    - {id: eng, name: Engineering}
  employees:                       # optional
    - {id: e1, name: Ada, role: employee, hire_date: "2022-03-01", state: IL, department_id: eng}

VALIDATION:
  - leave type codes unique, categories known, tracking_only never deducts
  - policies reference a known leave type and pass LeavePolicy.Validate
  - no two policies share (leave type, state, city, effective date)
  - every accrued leave type has a default policy
  - tiers contiguous from 0 with only the last unbounded

IDS:
  Derived from codes and scopes (lt-vacation, pol-sick-ny--2024-01-01,
  tier-0), so applying the same document twice is an upsert.

USAGE:
  doc, err := factory.Defaults()
  ref, err := doc.Compile()
  sum, err := factory.Apply(ctx, store, ref, time.Now())

SEE ALSO:
  - defaults.yaml:   Handbook seed data
  - leave/policy.go: LeavePolicy and VacationAccrualTier
*/
package factory

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

type Document struct {
	LeaveTypes    []LeaveTypeDoc  `yaml:"leave_types" json:"leave_types"`
	Policies      []PolicyDoc     `yaml:"policies" json:"policies"`
	VacationTiers []TierDoc       `yaml:"vacation_tiers" json:"vacation_tiers"`
	Departments   []DepartmentDoc `yaml:"departments,omitempty" json:"departments,omitempty"`
	Employees     []EmployeeDoc   `yaml:"employees,omitempty" json:"employees,omitempty"`
}

type LeaveTypeDoc struct {
	Code                  string `yaml:"code" json:"code"`
	Name                  string `yaml:"name" json:"name"`
	Description           string `yaml:"description" json:"description"`
	Category              string `yaml:"category" json:"category"`
	DeductsFromBalance    bool   `yaml:"deducts_from_balance" json:"deducts_from_balance"`
	RequiresApproval      bool   `yaml:"requires_approval" json:"requires_approval"`
	RequiresDocumentation bool   `yaml:"requires_documentation" json:"requires_documentation"`
	IsPaid                bool   `yaml:"is_paid" json:"is_paid"`
	IsActive              *bool  `yaml:"is_active,omitempty" json:"is_active,omitempty"` // default true
	SortOrder             int    `yaml:"sort_order" json:"sort_order"`
}

type PolicyDoc struct {
	LeaveType           string          `yaml:"leave_type" json:"leave_type"`
	State               string          `yaml:"state,omitempty" json:"state,omitempty"`
	City                string          `yaml:"city,omitempty" json:"city,omitempty"`
	AccrualRate         decimal.Decimal `yaml:"accrual_rate" json:"accrual_rate"`
	AccrualPeriod       string          `yaml:"accrual_period" json:"accrual_period"`
	AccrualHoursDivisor int             `yaml:"accrual_hours_divisor" json:"accrual_hours_divisor"`
	MaxAnnualHours      decimal.Decimal `yaml:"max_annual_hours" json:"max_annual_hours"`
	MaxCarryoverHours   decimal.Decimal `yaml:"max_carryover_hours" json:"max_carryover_hours"`
	WaitingPeriodDays   int             `yaml:"waiting_period_days" json:"waiting_period_days"`
	MinIncrementHours   decimal.Decimal `yaml:"min_increment_hours" json:"min_increment_hours"`
	MaxIncrementHours   decimal.Decimal `yaml:"max_increment_hours" json:"max_increment_hours"`
	AdvanceNoticeDays   int             `yaml:"advance_notice_days" json:"advance_notice_days"`
	EffectiveDate       string          `yaml:"effective_date" json:"effective_date"`
	EndDate             string          `yaml:"end_date,omitempty" json:"end_date,omitempty"`
}

type TierDoc struct {
	MinYears           int             `yaml:"min_years" json:"min_years"`
	MaxYears           *int            `yaml:"max_years,omitempty" json:"max_years,omitempty"` // nil = unbounded
	AnnualDays         decimal.Decimal `yaml:"annual_days" json:"annual_days"`
	MonthlyAccrualRate decimal.Decimal `yaml:"monthly_accrual_rate" json:"monthly_accrual_rate"`
	EffectiveDate      string          `yaml:"effective_date,omitempty" json:"effective_date,omitempty"`
}

type DepartmentDoc struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	ManagerID string `yaml:"manager_id,omitempty" json:"manager_id,omitempty"`
}

type EmployeeDoc struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Email        string `yaml:"email,omitempty" json:"email,omitempty"`
	Role         string `yaml:"role" json:"role"`
	HireDate     string `yaml:"hire_date" json:"hire_date"`
	State        string `yaml:"state,omitempty" json:"state,omitempty"`
	City         string `yaml:"city,omitempty" json:"city,omitempty"`
	DepartmentID string `yaml:"department_id,omitempty" json:"department_id,omitempty"`
	Active       *bool  `yaml:"active,omitempty" json:"active,omitempty"` // default true
}

// =============================================================================
// PARSING
// =============================================================================

// Defaults returns the embedded handbook document.
func Defaults() (*Document, error) {
	return ParseYAML(defaultsYAML)
}

func ParseYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid reference YAML: %w", err)
	}
	return &doc, nil
}

func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid reference JSON: %w", err)
	}
	return &doc, nil
}

// LoadFile picks the parser from the file extension (.json, else YAML).
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// Merge appends other's records to d. Records with the same identity are
// replaced by the later document.
func (d *Document) Merge(other *Document) {
	if other == nil {
		return
	}
	d.LeaveTypes = mergeBy(d.LeaveTypes, other.LeaveTypes, func(t LeaveTypeDoc) string {
		return strings.ToUpper(t.Code)
	})
	d.Policies = mergeBy(d.Policies, other.Policies, func(p PolicyDoc) string {
		return policyID(p.LeaveType, p.State, p.City, p.EffectiveDate)
	})
	if len(other.VacationTiers) > 0 {
		d.VacationTiers = other.VacationTiers
	}
	d.Departments = mergeBy(d.Departments, other.Departments, func(x DepartmentDoc) string { return x.ID })
	d.Employees = mergeBy(d.Employees, other.Employees, func(x EmployeeDoc) string { return x.ID })
}

func mergeBy[T any](base, extra []T, key func(T) string) []T {
	index := make(map[string]int, len(base))
	out := append([]T(nil), base...)
	for i, v := range out {
		index[key(v)] = i
	}
	for _, v := range extra {
		if i, ok := index[key(v)]; ok {
			out[i] = v
			continue
		}
		index[key(v)] = len(out)
		out = append(out, v)
	}
	return out
}

// =============================================================================
// COMPILATION - document -> domain records
// =============================================================================

// Reference is a compiled, validated document.
type Reference struct {
	LeaveTypes    []leave.LeaveType
	Policies      []leave.LeavePolicy
	VacationTiers []leave.VacationAccrualTier
	Departments   []leave.Department
	Employees     []leave.Employee
}

// Compile converts and validates the document.
func (d *Document) Compile() (*Reference, error) {
	ref := &Reference{}
	typeIDs := make(map[leave.LeaveCode]string, len(d.LeaveTypes))

	for i, td := range d.LeaveTypes {
		lt, err := td.toLeaveType()
		if err != nil {
			return nil, fmt.Errorf("leave_types[%d]: %w", i, err)
		}
		if _, dup := typeIDs[lt.Code]; dup {
			return nil, fmt.Errorf("leave_types[%d]: duplicate code %s", i, lt.Code)
		}
		typeIDs[lt.Code] = lt.ID
		ref.LeaveTypes = append(ref.LeaveTypes, lt)
	}

	for i, pd := range d.Policies {
		code := leave.NormalizeCode(pd.LeaveType)
		ltID, ok := typeIDs[code]
		if !ok {
			return nil, fmt.Errorf("policies[%d]: unknown leave type %q", i, pd.LeaveType)
		}
		p, err := pd.toPolicy(ltID)
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		ref.Policies = append(ref.Policies, p)
	}

	for i, td := range d.VacationTiers {
		t, err := td.toTier()
		if err != nil {
			return nil, fmt.Errorf("vacation_tiers[%d]: %w", i, err)
		}
		ref.VacationTiers = append(ref.VacationTiers, t)
	}

	for _, dd := range d.Departments {
		ref.Departments = append(ref.Departments, leave.Department{ID: dd.ID, Name: dd.Name, ManagerID: dd.ManagerID})
	}
	for i, ed := range d.Employees {
		e, err := ed.toEmployee()
		if err != nil {
			return nil, fmt.Errorf("employees[%d]: %w", i, err)
		}
		ref.Employees = append(ref.Employees, e)
	}

	if err := Validate(ref); err != nil {
		return nil, err
	}
	return ref, nil
}

func (td LeaveTypeDoc) toLeaveType() (leave.LeaveType, error) {
	code := leave.NormalizeCode(td.Code)
	if code == "" {
		return leave.LeaveType{}, fmt.Errorf("code is required")
	}
	category := leave.LeaveCategory(strings.ToLower(td.Category))
	if !category.Valid() {
		return leave.LeaveType{}, fmt.Errorf("%s: unknown category %q", code, td.Category)
	}
	name := td.Name
	if name == "" {
		name = string(code)
	}
	active := true
	if td.IsActive != nil {
		active = *td.IsActive
	}
	return leave.LeaveType{
		ID:                    "lt-" + strings.ToLower(string(code)),
		Code:                  code,
		Name:                  name,
		Description:           td.Description,
		Category:              category,
		DeductsFromBalance:    td.DeductsFromBalance,
		RequiresApproval:      td.RequiresApproval,
		RequiresDocumentation: td.RequiresDocumentation,
		IsPaid:                td.IsPaid,
		IsActive:              active,
		SortOrder:             td.SortOrder,
	}, nil
}

func (pd PolicyDoc) toPolicy(leaveTypeID string) (leave.LeavePolicy, error) {
	effective, err := generic.ParseDate(pd.EffectiveDate)
	if err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("effective_date: %w", err)
	}
	p := leave.LeavePolicy{
		ID:                  policyID(pd.LeaveType, pd.State, pd.City, pd.EffectiveDate),
		LeaveTypeID:         leaveTypeID,
		LocationState:       strings.ToUpper(strings.TrimSpace(pd.State)),
		LocationCity:        strings.TrimSpace(pd.City),
		AccrualRate:         pd.AccrualRate,
		AccrualPeriod:       leave.AccrualPeriod(pd.AccrualPeriod),
		AccrualHoursDivisor: pd.AccrualHoursDivisor,
		MaxAnnualHours:      pd.MaxAnnualHours,
		MaxCarryoverHours:   pd.MaxCarryoverHours,
		WaitingPeriodDays:   pd.WaitingPeriodDays,
		MinIncrementHours:   pd.MinIncrementHours,
		MaxIncrementHours:   pd.MaxIncrementHours,
		AdvanceNoticeDays:   pd.AdvanceNoticeDays,
		EffectiveDate:       effective,
	}
	if pd.EndDate != "" {
		end, err := generic.ParseDate(pd.EndDate)
		if err != nil {
			return leave.LeavePolicy{}, fmt.Errorf("end_date: %w", err)
		}
		p.EndDate = &end
	}
	switch p.AccrualPeriod {
	case leave.AccrualNone, leave.AccrualMonthly, leave.AccrualAnnual:
	case leave.AccrualPerHoursWorked:
		if p.AccrualHoursDivisor <= 0 {
			return leave.LeavePolicy{}, fmt.Errorf("per_hours_worked accrual needs accrual_hours_divisor")
		}
	default:
		return leave.LeavePolicy{}, fmt.Errorf("unknown accrual_period %q", pd.AccrualPeriod)
	}
	return p, nil
}

func (td TierDoc) toTier() (leave.VacationAccrualTier, error) {
	t := leave.VacationAccrualTier{
		ID:                 fmt.Sprintf("tier-%d", td.MinYears),
		MinYearsService:    td.MinYears,
		MaxYearsService:    td.MaxYears,
		AnnualDays:         td.AnnualDays,
		MonthlyAccrualRate: td.MonthlyAccrualRate,
	}
	if td.EffectiveDate != "" {
		d, err := generic.ParseDate(td.EffectiveDate)
		if err != nil {
			return t, fmt.Errorf("effective_date: %w", err)
		}
		t.EffectiveDate = d
	}
	return t, nil
}

func (ed EmployeeDoc) toEmployee() (leave.Employee, error) {
	role, err := leave.ParseRole(ed.Role)
	if err != nil {
		return leave.Employee{}, err
	}
	hire, err := generic.ParseDate(ed.HireDate)
	if err != nil {
		return leave.Employee{}, fmt.Errorf("hire_date: %w", err)
	}
	active := true
	if ed.Active != nil {
		active = *ed.Active
	}
	return leave.Employee{
		ID:            ed.ID,
		Name:          ed.Name,
		Email:         ed.Email,
		Role:          role,
		HireDate:      hire,
		LocationState: strings.ToUpper(strings.TrimSpace(ed.State)),
		LocationCity:  strings.TrimSpace(ed.City),
		DepartmentID:  ed.DepartmentID,
		Active:        active,
	}, nil
}

func policyID(code, state, city, effective string) string {
	parts := []string{"pol", string(leave.NormalizeCode(code)), strings.TrimSpace(state), strings.TrimSpace(city), effective}
	id := strings.ToLower(strings.Join(parts, "-"))
	return strings.ReplaceAll(id, " ", "_")
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the compiled reference as a whole.
func Validate(ref *Reference) error {
	const op = "factory.validate"
	types := make(map[string]leave.LeaveType, len(ref.LeaveTypes))
	for _, lt := range ref.LeaveTypes {
		if lt.Category == leave.CategoryTrackingOnly && lt.DeductsFromBalance {
			return generic.PolicyViolation(op, "%s is tracking_only but deducts from balance", lt.Code)
		}
		types[lt.ID] = lt
	}

	seen := make(map[string]bool, len(ref.Policies))
	hasDefault := make(map[string]bool)
	for _, p := range ref.Policies {
		if _, ok := types[p.LeaveTypeID]; !ok {
			return generic.PolicyViolation(op, "policy %s references unknown leave type", p.ID)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy %s: %w", p.ID, err)
		}
		if seen[p.Key()] {
			return generic.PolicyViolation(op, "duplicate policy for %s", p.Key())
		}
		seen[p.Key()] = true
		if p.IsDefault() {
			hasDefault[p.LeaveTypeID] = true
		}
	}
	for _, lt := range ref.LeaveTypes {
		if lt.Category == leave.CategoryAccrued && !hasDefault[lt.ID] {
			return generic.PolicyViolation(op, "accrued leave type %s has no default policy", lt.Code)
		}
	}

	if len(ref.VacationTiers) > 0 {
		if err := leave.ValidateTiers(ref.VacationTiers); err != nil {
			return err
		}
	} else if _, ok := types["lt-vacation"]; ok {
		return generic.PolicyViolation(op, "vacation needs at least one tenure tier")
	}

	depts := make(map[string]bool, len(ref.Departments))
	for _, d := range ref.Departments {
		if d.ID == "" || d.Name == "" {
			return generic.PolicyViolation(op, "departments need an id and a name")
		}
		depts[d.ID] = true
	}
	for _, e := range ref.Employees {
		if e.ID == "" || e.Name == "" {
			return generic.PolicyViolation(op, "employees need an id and a name")
		}
		if e.DepartmentID != "" && !depts[e.DepartmentID] {
			return generic.PolicyViolation(op, "employee %s references unknown department %s", e.ID, e.DepartmentID)
		}
		if e.LocationCity != "" && e.LocationState == "" {
			return generic.PolicyViolation(op, "employee %s has a city without a state", e.ID)
		}
	}
	return nil
}

// =============================================================================
// APPLY
// =============================================================================

// Summary counts what Apply wrote.
type Summary struct {
	LeaveTypes  int
	Policies    int
	Tiers       int
	Departments int
	Employees   int
}

// Apply upserts the reference into the store in dependency order.
func Apply(ctx context.Context, store leave.Store, ref *Reference, now time.Time) (Summary, error) {
	var sum Summary
	for _, lt := range ref.LeaveTypes {
		if err := store.SaveLeaveType(ctx, lt); err != nil {
			return sum, fmt.Errorf("save leave type %s: %w", lt.Code, err)
		}
		sum.LeaveTypes++
	}
	for _, p := range ref.Policies {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if err := store.SavePolicy(ctx, p); err != nil {
			return sum, fmt.Errorf("save policy %s: %w", p.ID, err)
		}
		sum.Policies++
	}
	for _, t := range ref.VacationTiers {
		if err := store.SaveVacationTier(ctx, t); err != nil {
			return sum, fmt.Errorf("save tier %s: %w", t, err)
		}
		sum.Tiers++
	}
	for _, d := range ref.Departments {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		if err := store.SaveDepartment(ctx, d); err != nil {
			return sum, fmt.Errorf("save department %s: %w", d.ID, err)
		}
		sum.Departments++
	}
	for _, e := range ref.Employees {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if err := store.SaveEmployee(ctx, e); err != nil {
			return sum, fmt.Errorf("save employee %s: %w", e.ID, err)
		}
		sum.Employees++
	}
	return sum, nil
}
