/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO:      Response types returned to clients
  - *Body:     Request body types from clients (validated with struct tags)
  - *Response: Wrappers carrying a result plus advisory warnings

Hours travel as JSON numbers; dates as "YYYY-MM-DD"; timestamps RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

type CreateRequestBody struct {
	LeaveType string `json:"leave_type" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	HalfDay   bool   `json:"half_day"`
	Notes     string `json:"notes" validate:"max=2000"`
}

type DenyRequestBody struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type SubmitCarryoverBody struct {
	EmployeeID string  `json:"employee_id" validate:"required"`
	LeaveType  string  `json:"leave_type" validate:"required"`
	Hours      float64 `json:"hours" validate:"gt=0"`
	FromYear   int     `json:"from_year" validate:"required,gte=2000,lte=2200"`
	Notes      string  `json:"notes" validate:"max=2000"`
}

type ApproveCarryoverBody struct {
	HoursApproved float64 `json:"hours_approved" validate:"gt=0"`
	Notes         string  `json:"notes" validate:"max=2000"`
}

type DenyCarryoverBody struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type SaveEmployeeBody struct {
	ID           string `json:"id" validate:"required,max=64"`
	Name         string `json:"name" validate:"required,max=200"`
	Email        string `json:"email" validate:"omitempty,email"`
	Role         string `json:"role" validate:"required,oneof=employee manager admin superadmin"`
	HireDate     string `json:"hire_date" validate:"required,datetime=2006-01-02"`
	State        string `json:"state" validate:"omitempty,len=2,alpha"`
	City         string `json:"city" validate:"max=100"`
	DepartmentID string `json:"department_id"`
	Active       *bool  `json:"active"`
}

type SaveDepartmentBody struct {
	ID        string `json:"id" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=200"`
	ManagerID string `json:"manager_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type EmployeeDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role"`
	HireDate     string `json:"hire_date"`
	State        string `json:"state,omitempty"`
	City         string `json:"city,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at,omitempty"`
}

type DepartmentDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ManagerID string `json:"manager_id,omitempty"`
}

type LeaveTypeDTO struct {
	ID                    string `json:"id"`
	Code                  string `json:"code"`
	Name                  string `json:"name"`
	Description           string `json:"description,omitempty"`
	Category              string `json:"category"`
	DeductsFromBalance    bool   `json:"deducts_from_balance"`
	RequiresApproval      bool   `json:"requires_approval"`
	RequiresDocumentation bool   `json:"requires_documentation"`
	IsPaid                bool   `json:"is_paid"`
	IsActive              bool   `json:"is_active"`
}

type PolicyDTO struct {
	ID                  string  `json:"id"`
	LeaveTypeID         string  `json:"leave_type_id"`
	Scope               string  `json:"scope"`
	State               string  `json:"state,omitempty"`
	City                string  `json:"city,omitempty"`
	AccrualRate         float64 `json:"accrual_rate"`
	AccrualPeriod       string  `json:"accrual_period,omitempty"`
	AccrualHoursDivisor int     `json:"accrual_hours_divisor,omitempty"`
	MaxAnnualHours      float64 `json:"max_annual_hours"`
	MaxCarryoverHours   float64 `json:"max_carryover_hours"`
	WaitingPeriodDays   int     `json:"waiting_period_days"`
	MinIncrementHours   float64 `json:"min_increment_hours"`
	MaxIncrementHours   float64 `json:"max_increment_hours,omitempty"`
	AdvanceNoticeDays   int     `json:"advance_notice_days"`
	EffectiveDate       string  `json:"effective_date"`
	EndDate             string  `json:"end_date,omitempty"`
}

// BucketDTO is one leave bucket of a balance. Available is derived.
type BucketDTO struct {
	Total     float64 `json:"total"`
	Used      float64 `json:"used"`
	Pending   float64 `json:"pending,omitempty"`
	Carryover float64 `json:"carryover"`
	Available float64 `json:"available"`
}

type BalanceDTO struct {
	EmployeeID string    `json:"employee_id"`
	Year       int       `json:"year"`
	Vacation   BucketDTO `json:"vacation"`
	Sick       BucketDTO `json:"sick"`
	Personal   BucketDTO `json:"personal"`
	UpdatedAt  string    `json:"updated_at,omitempty"`
}

type RequestDTO struct {
	ID           string  `json:"id"`
	EmployeeID   string  `json:"employee_id"`
	LeaveTypeID  string  `json:"leave_type_id"`
	LeaveType    string  `json:"leave_type,omitempty"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	HalfDay      bool    `json:"half_day"`
	TotalDays    float64 `json:"total_days"`
	Hours        float64 `json:"hours"`
	Status       string  `json:"status"`
	Notes        string  `json:"notes,omitempty"`
	DenialReason string  `json:"denial_reason,omitempty"`
	ApprovedBy   string  `json:"approved_by,omitempty"`
	SubmittedAt  string  `json:"submitted_at"`
	ApprovedAt   string  `json:"approved_at,omitempty"`
}

type RequestResponse struct {
	Request  RequestDTO        `json:"request"`
	Balance  *BalanceDTO       `json:"balance,omitempty"`
	Warnings []generic.Warning `json:"warnings"`
}

type CarryoverDTO struct {
	ID             string   `json:"id"`
	EmployeeID     string   `json:"employee_id"`
	LeaveTypeID    string   `json:"leave_type_id"`
	FromYear       int      `json:"from_year"`
	ToYear         int      `json:"to_year"`
	HoursRequested float64  `json:"hours_requested"`
	HoursApproved  *float64 `json:"hours_approved,omitempty"`
	Status         string   `json:"status"`
	EmployeeNotes  string   `json:"employee_notes,omitempty"`
	ManagerNotes   string   `json:"manager_notes,omitempty"`
	ApprovedBy     string   `json:"approved_by,omitempty"`
	ApprovedAt     string   `json:"approved_at,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

type CarryoverResponse struct {
	Carryover CarryoverDTO      `json:"carryover"`
	Balance   *BalanceDTO       `json:"balance,omitempty"`
	Warnings  []generic.Warning `json:"warnings"`
}

type ConflictDTO struct {
	RequestID    string `json:"request_id"`
	EmployeeID   string `json:"employee_id"`
	EmployeeName string `json:"employee_name"`
	LeaveType    string `json:"leave_type"`
	LeaveName    string `json:"leave_type_name"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	Status       string `json:"status"`
}

type EntitlementDTO struct {
	YearsOfService       int     `json:"years_of_service"`
	Tier                 string  `json:"tier"`
	AnnualDays           float64 `json:"annual_days"`
	AnnualVacationHours  float64 `json:"annual_vacation_hours"`
	MonthlyVacationHours float64 `json:"monthly_vacation_hours"`
}

type JournalEntryDTO struct {
	Year           int     `json:"year"`
	Bucket         string  `json:"bucket"`
	Field          string  `json:"field"`
	Delta          float64 `json:"delta_hours"`
	ReferenceID    string  `json:"reference_id"`
	Reason         string  `json:"reason,omitempty"`
	IdempotencyKey string  `json:"idempotency_key"`
	CreatedBy      string  `json:"created_by"`
	CreatedAt      string  `json:"created_at"`
}

type ActorDTO struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Privileged bool   `json:"privileged"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toEmployeeDTO(e leave.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:           e.ID,
		Name:         e.Name,
		Email:        e.Email,
		Role:         string(e.Role),
		HireDate:     e.HireDate.String(),
		State:        e.LocationState,
		City:         e.LocationCity,
		DepartmentID: e.DepartmentID,
		Active:       e.Active,
		CreatedAt:    formatTime(e.CreatedAt),
	}
}

func toLeaveTypeDTO(lt leave.LeaveType) LeaveTypeDTO {
	return LeaveTypeDTO{
		ID:                    lt.ID,
		Code:                  string(lt.Code),
		Name:                  lt.Name,
		Description:           lt.Description,
		Category:              string(lt.Category),
		DeductsFromBalance:    lt.DeductsFromBalance,
		RequiresApproval:      lt.RequiresApproval,
		RequiresDocumentation: lt.RequiresDocumentation,
		IsPaid:                lt.IsPaid,
		IsActive:              lt.IsActive,
	}
}

func toPolicyDTO(p leave.LeavePolicy) PolicyDTO {
	dto := PolicyDTO{
		ID:                  p.ID,
		LeaveTypeID:         p.LeaveTypeID,
		Scope:               string(p.Scope()),
		State:               p.LocationState,
		City:                p.LocationCity,
		AccrualRate:         p.AccrualRate.InexactFloat64(),
		AccrualPeriod:       string(p.AccrualPeriod),
		AccrualHoursDivisor: p.AccrualHoursDivisor,
		MaxAnnualHours:      p.MaxAnnualHours.InexactFloat64(),
		MaxCarryoverHours:   p.MaxCarryoverHours.InexactFloat64(),
		WaitingPeriodDays:   p.WaitingPeriodDays,
		MinIncrementHours:   p.MinIncrementHours.InexactFloat64(),
		MaxIncrementHours:   p.MaxIncrementHours.InexactFloat64(),
		AdvanceNoticeDays:   p.AdvanceNoticeDays,
		EffectiveDate:       p.EffectiveDate.String(),
	}
	if p.EndDate != nil {
		dto.EndDate = p.EndDate.String()
	}
	return dto
}

func toBalanceDTO(b *leave.PTOBalance) *BalanceDTO {
	if b == nil {
		return nil
	}
	return &BalanceDTO{
		EmployeeID: b.EmployeeID,
		Year:       b.Year,
		Vacation: BucketDTO{
			Total:     b.VacationTotal.Float(),
			Used:      b.VacationUsed.Float(),
			Pending:   b.VacationPending.Float(),
			Carryover: b.VacationCarryover.Float(),
			Available: leave.AvailableVacation(*b).Float(),
		},
		Sick: BucketDTO{
			Total:     b.SickTotal.Float(),
			Used:      b.SickUsed.Float(),
			Carryover: b.SickCarryover.Float(),
			Available: leave.AvailableSick(*b).Float(),
		},
		Personal: BucketDTO{
			Total:     b.PersonalTotal.Float(),
			Used:      b.PersonalUsed.Float(),
			Carryover: b.PersonalCarryover.Float(),
			Available: leave.AvailablePersonal(*b).Float(),
		},
		UpdatedAt: formatTime(b.UpdatedAt),
	}
}

// toRequestDTO fills LeaveType from codes when the id is known.
func toRequestDTO(r leave.PTORequest, codes map[string]leave.LeaveCode) RequestDTO {
	return RequestDTO{
		ID:           r.ID,
		EmployeeID:   r.EmployeeID,
		LeaveTypeID:  r.LeaveTypeID,
		LeaveType:    string(codes[r.LeaveTypeID]),
		StartDate:    r.StartDate.String(),
		EndDate:      r.EndDate.String(),
		HalfDay:      r.HalfDay,
		TotalDays:    r.TotalDays.InexactFloat64(),
		Hours:        r.Hours.Float(),
		Status:       string(r.Status),
		Notes:        r.Notes,
		DenialReason: r.DenialReason,
		ApprovedBy:   r.ApprovedBy,
		SubmittedAt:  formatTime(r.SubmittedAt),
		ApprovedAt:   formatTimePtr(r.ApprovedAt),
	}
}

func toRequestDTOs(reqs []leave.PTORequest, codes map[string]leave.LeaveCode) []RequestDTO {
	out := make([]RequestDTO, len(reqs))
	for i, r := range reqs {
		out[i] = toRequestDTO(r, codes)
	}
	return out
}

func toRequestResponse(res *leave.RequestResult, codes map[string]leave.LeaveCode) RequestResponse {
	return RequestResponse{
		Request:  toRequestDTO(*res.Request, codes),
		Balance:  toBalanceDTO(res.Balance),
		Warnings: nonNilWarnings(res.Warnings),
	}
}

func toCarryoverDTO(c leave.CarryoverRequest) CarryoverDTO {
	dto := CarryoverDTO{
		ID:             c.ID,
		EmployeeID:     c.EmployeeID,
		LeaveTypeID:    c.LeaveTypeID,
		FromYear:       c.FromYear,
		ToYear:         c.ToYear,
		HoursRequested: c.HoursRequested.Float(),
		Status:         string(c.Status),
		EmployeeNotes:  c.EmployeeNotes,
		ManagerNotes:   c.ManagerNotes,
		ApprovedBy:     c.ApprovedBy,
		ApprovedAt:     formatTimePtr(c.ApprovedAt),
		CreatedAt:      formatTime(c.CreatedAt),
	}
	if c.HoursApproved != nil {
		h := c.HoursApproved.Float()
		dto.HoursApproved = &h
	}
	return dto
}

func toCarryoverResponse(res *leave.CarryoverResult) CarryoverResponse {
	return CarryoverResponse{
		Carryover: toCarryoverDTO(*res.Carryover),
		Balance:   toBalanceDTO(res.Balance),
		Warnings:  nonNilWarnings(res.Warnings),
	}
}

func toConflictDTO(c leave.ConflictSummary) ConflictDTO {
	return ConflictDTO{
		RequestID:    c.RequestID,
		EmployeeID:   c.EmployeeID,
		EmployeeName: c.EmployeeName,
		LeaveType:    string(c.LeaveTypeCode),
		LeaveName:    c.LeaveTypeName,
		StartDate:    c.StartDate.String(),
		EndDate:      c.EndDate.String(),
		Status:       string(c.Status),
	}
}

func toJournalEntryDTO(e generic.Entry) JournalEntryDTO {
	return JournalEntryDTO{
		Year:           e.Year,
		Bucket:         string(e.Bucket),
		Field:          string(e.Field),
		Delta:          e.Delta.Float(),
		ReferenceID:    e.ReferenceID,
		Reason:         e.Reason,
		IdempotencyKey: e.IdempotencyKey,
		CreatedBy:      e.CreatedBy,
		CreatedAt:      formatTime(e.CreatedAt),
	}
}

func nonNilWarnings(w []generic.Warning) []generic.Warning {
	if w == nil {
		return []generic.Warning{}
	}
	return w
}
