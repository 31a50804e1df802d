package factory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-engine/factory"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
	"github.com/warp/pto-engine/store/memory"
)

const minimalYAML = `
leave_types:
  - code: vacation
    name: Vacation
    category: accrued
    deducts_from_balance: true
  - code: VOTING
    category: tracking_only
policies:
  - leave_type: VACATION
    min_increment_hours: 4
    effective_date: "2024-01-01"
vacation_tiers:
  - {min_years: 0, annual_days: 10, monthly_accrual_rate: 0.83}
`

func compile(t *testing.T, yamlDoc string) (*factory.Reference, error) {
	t.Helper()
	doc, err := factory.ParseYAML([]byte(yamlDoc))
	require.NoError(t, err)
	return doc.Compile()
}

// =============================================================================
// DEFAULTS
// =============================================================================

func TestDefaults_Compile(t *testing.T) {
	doc, err := factory.Defaults()
	require.NoError(t, err)

	ref, err := doc.Compile()
	require.NoError(t, err)

	assert.Len(t, ref.LeaveTypes, 8)
	assert.Len(t, ref.VacationTiers, 3)
	assert.NotEmpty(t, ref.Policies)

	ids := make(map[string]leave.LeavePolicy)
	for _, p := range ref.Policies {
		ids[p.ID] = p
	}
	chicago, ok := ids["pol-sick-il-chicago-2024-07-01"]
	require.True(t, ok)
	assert.Equal(t, leave.ScopeCity, chicago.Scope())
	assert.Equal(t, 35, chicago.AccrualHoursDivisor)
	assert.Equal(t, "2024-07-01", chicago.EffectiveDate.String())

	vacation, ok := ids["pol-vacation---2024-01-01"]
	require.True(t, ok)
	assert.True(t, vacation.IsDefault())
	assert.Equal(t, "40", vacation.MaxIncrementHours.String())
}

func TestDefaults_Tiers(t *testing.T) {
	doc, err := factory.Defaults()
	require.NoError(t, err)
	ref, err := doc.Compile()
	require.NoError(t, err)

	last := ref.VacationTiers[len(ref.VacationTiers)-1]
	assert.Nil(t, last.MaxYearsService)
	assert.Equal(t, "20", last.AnnualDays.String())
	assert.Equal(t, "tier-10", last.ID)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "duplicate code",
			doc: `
leave_types:
  - {code: VOTING, category: tracking_only}
  - {code: voting, category: tracking_only}
`,
		},
		{
			name: "unknown category",
			doc: `
leave_types:
  - {code: VOTING, category: sometimes}
`,
		},
		{
			name: "tracking only deducts",
			doc: `
leave_types:
  - {code: VOTING, category: tracking_only, deducts_from_balance: true}
`,
		},
		{
			name: "policy for unknown type",
			doc: `
leave_types:
  - {code: VOTING, category: tracking_only}
policies:
  - {leave_type: SICK, effective_date: "2024-01-01"}
`,
		},
		{
			name: "duplicate policy scope",
			doc: `
leave_types:
  - {code: VOTING, category: tracking_only}
policies:
  - {leave_type: VOTING, state: IL, effective_date: "2024-01-01"}
  - {leave_type: voting, state: IL, effective_date: "2024-01-01", max_annual_hours: 8}
`,
		},
		{
			name: "accrued type without default policy",
			doc: `
leave_types:
  - {code: SICK, category: accrued, deducts_from_balance: true}
policies:
  - {leave_type: SICK, state: NY, effective_date: "2024-01-01"}
`,
		},
		{
			name: "city without state",
			doc: `
leave_types:
  - {code: VOTING, category: tracking_only}
policies:
  - {leave_type: VOTING, city: Chicago, effective_date: "2024-01-01"}
`,
		},
		{
			name: "bad effective date",
			doc: `
leave_types:
  - {code: VOTING, category: tracking_only}
policies:
  - {leave_type: VOTING, effective_date: "01/01/2024"}
`,
		},
		{
			name: "per hours worked without divisor",
			doc: `
leave_types:
  - {code: SICK, category: accrued, deducts_from_balance: true}
policies:
  - {leave_type: SICK, accrual_period: per_hours_worked, effective_date: "2024-01-01"}
`,
		},
		{
			name: "vacation without tiers",
			doc: `
leave_types:
  - {code: VACATION, category: accrued, deducts_from_balance: true}
policies:
  - {leave_type: VACATION, effective_date: "2024-01-01"}
`,
		},
		{
			name: "tier gap",
			doc: `
leave_types:
  - {code: VOTING, category: tracking_only}
vacation_tiers:
  - {min_years: 0, max_years: 3, annual_days: 10}
  - {min_years: 5, annual_days: 15}
`,
		},
		{
			name: "employee in unknown department",
			doc: `
employees:
  - {id: e1, name: Ada, role: employee, hire_date: "2022-03-01", department_id: ops}
`,
		},
		{
			name: "employee with bad role",
			doc: `
employees:
  - {id: e1, name: Ada, role: owner, hire_date: "2022-03-01"}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, tt.doc)
			assert.Error(t, err)
		})
	}
}

func TestCompile_NormalizesAndDefaults(t *testing.T) {
	ref, err := compile(t, minimalYAML)
	require.NoError(t, err)

	require.Len(t, ref.LeaveTypes, 2)
	assert.Equal(t, leave.CodeVacation, ref.LeaveTypes[0].Code)
	assert.Equal(t, "lt-vacation", ref.LeaveTypes[0].ID)
	assert.True(t, ref.LeaveTypes[0].IsActive, "is_active defaults to true")
	assert.Equal(t, "VOTING", ref.LeaveTypes[1].Name, "name falls back to the code")

	require.Len(t, ref.Policies, 1)
	assert.Equal(t, "lt-vacation", ref.Policies[0].LeaveTypeID)
	assert.Equal(t, "pol-vacation---2024-01-01", ref.Policies[0].ID)
}

// =============================================================================
// PARSING AND MERGING
// =============================================================================

func TestParseJSON(t *testing.T) {
	doc, err := factory.ParseJSON([]byte(`{
		"leave_types": [{"code": "VOTING", "category": "tracking_only"}],
		"policies": [{"leave_type": "VOTING", "state": "IL", "max_annual_hours": "2.5", "effective_date": "2024-01-01"}],
		"departments": [{"id": "eng", "name": "Engineering"}],
		"employees": [{"id": "e1", "name": "Ada", "role": "manager", "hire_date": "2022-03-01", "state": "IL", "department_id": "eng", "active": false}]
	}`))
	require.NoError(t, err)

	ref, err := doc.Compile()
	require.NoError(t, err)

	assert.Equal(t, "2.5", ref.Policies[0].MaxAnnualHours.String())
	require.Len(t, ref.Employees, 1)
	assert.Equal(t, leave.RoleManager, ref.Employees[0].Role)
	assert.False(t, ref.Employees[0].Active)
	assert.Equal(t, "2022-03-01", ref.Employees[0].HireDate.String())
}

func TestLoadFile_PicksParserByExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "ref.yaml")
	jsonPath := filepath.Join(dir, "ref.JSON")
	require.NoError(t, os.WriteFile(yamlPath, []byte(minimalYAML), 0o600))
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"departments": [{"id": "eng", "name": "Engineering"}]}`), 0o600))

	doc, err := factory.LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Len(t, doc.LeaveTypes, 2)

	doc, err = factory.LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Len(t, doc.Departments, 1)

	_, err = factory.LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestMerge_LaterDocumentWins(t *testing.T) {
	base, err := factory.Defaults()
	require.NoError(t, err)
	override, err := factory.ParseYAML([]byte(`
leave_types:
  - {code: voting, name: Civic Duty, category: tracking_only}
  - {code: SABBATICAL, category: tracking_only}
policies:
  - leave_type: SICK
    state: NY
    accrual_rate: 1
    accrual_period: per_hours_worked
    accrual_hours_divisor: 30
    max_annual_hours: 64
    effective_date: "2024-01-01"
`))
	require.NoError(t, err)

	base.Merge(override)
	ref, err := base.Compile()
	require.NoError(t, err)

	assert.Len(t, ref.LeaveTypes, 9)
	byCode := make(map[leave.LeaveCode]leave.LeaveType)
	for _, lt := range ref.LeaveTypes {
		byCode[lt.Code] = lt
	}
	assert.Equal(t, "Civic Duty", byCode[leave.CodeVoting].Name)

	for _, p := range ref.Policies {
		if p.ID == "pol-sick-ny--2024-01-01" {
			assert.Equal(t, "64", p.MaxAnnualHours.String())
			return
		}
	}
	t.Fatal("NY sick policy missing after merge")
}

// =============================================================================
// APPLY
// =============================================================================

func TestApply_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ref, err := compile(t, minimalYAML+`
departments:
  - {id: eng, name: Engineering}
employees:
  - {id: e1, name: Ada, role: employee, hire_date: "2022-03-01", state: IL, city: Chicago, department_id: eng}
`)
	require.NoError(t, err)
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

	first, err := factory.Apply(ctx, store, ref, now)
	require.NoError(t, err)
	second, err := factory.Apply(ctx, store, ref, now)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, factory.Summary{LeaveTypes: 2, Policies: 1, Tiers: 1, Departments: 1, Employees: 1}, first)

	types, err := store.ListLeaveTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 2)

	emp, err := store.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, emp)
	assert.True(t, emp.Active)
	assert.Equal(t, "Chicago", emp.LocationCity)
	assert.Equal(t, generic.MustParseDate("2022-03-01"), emp.HireDate)
}
