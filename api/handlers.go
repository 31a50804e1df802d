/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Thin adapters: parse the request, build the ActingUser-scoped call into
  leave.Engine, serialize the result. No business rule lives here.

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status derived from the error kind:
  - 400: Malformed body, failed field validation, bad path/query values
  - 401: No acting user (see auth.go)
  - 403: Unauthorized (role or ownership)
  - 404: NotFound
  - 409: InvalidState, Conflict
  - 422: PolicyViolation
  - 500: Internal (details logged, not returned)

SEE ALSO:
  - dto.go:    Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

type Handler struct {
	engine   *leave.Engine
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(engine *leave.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:   engine,
		validate: newValidator(),
		logger:   logger.Named("api"),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	writeJSON(w, http.StatusOK, ActorDTO{ID: actor.ID, Role: string(actor.Role), Privileged: actor.IsPrivileged()})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	filter := leave.EmployeeFilter{
		DepartmentID: r.URL.Query().Get("department_id"),
		ActiveOnly:   r.URL.Query().Get("active") == "true",
	}
	emps, err := h.engine.ListEmployees(r.Context(), mustActor(r), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(emps))
	for i, e := range emps {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.engine.GetEmployee(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// SaveEmployee serves both POST /employees and PUT /employees/{id}.
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var body SaveEmployeeBody
	if !h.decode(w, r, &body) {
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		if body.ID != "" && body.ID != id {
			writeError(w, http.StatusBadRequest, "Body id does not match path", nil)
			return
		}
		body.ID = id
	}
	if !h.check(w, &body) {
		return
	}
	role, err := leave.ParseRole(body.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid role", err)
		return
	}
	hire, err := generic.ParseDate(body.HireDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hire_date", err)
		return
	}
	// An omitted active flag keeps the stored value on PUT.
	active := true
	if body.Active != nil {
		active = *body.Active
	} else if r.Method == http.MethodPut {
		existing, err := h.engine.Store().GetEmployee(r.Context(), body.ID)
		if err != nil {
			h.writeDomainError(w, r, generic.Internal("api.save_employee", err))
			return
		}
		if existing != nil {
			active = existing.Active
		}
	}
	emp, err := h.engine.SaveEmployee(r.Context(), mustActor(r), leave.Employee{
		ID:            body.ID,
		Name:          body.Name,
		Email:         body.Email,
		Role:          role,
		HireDate:      hire,
		LocationState: body.State,
		LocationCity:  body.City,
		DepartmentID:  body.DepartmentID,
		Active:        active,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	writeJSON(w, status, toEmployeeDTO(*emp))
}

func (h *Handler) DeactivateEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.engine.DeactivateEmployee(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

func (h *Handler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteEmployee(r.Context(), mustActor(r), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	ent, err := h.engine.Entitlement(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntitlementDTO{
		YearsOfService:       ent.YearsOfService,
		Tier:                 ent.Tier.String(),
		AnnualDays:           ent.Tier.AnnualDays.InexactFloat64(),
		AnnualVacationHours:  ent.AnnualVacationHours.Float(),
		MonthlyVacationHours: ent.MonthlyVacationHours.Float(),
	})
}

func (h *Handler) SaveDepartment(w http.ResponseWriter, r *http.Request) {
	var body SaveDepartmentBody
	if !h.decode(w, r, &body) || !h.check(w, &body) {
		return
	}
	d, err := h.engine.SaveDepartment(r.Context(), mustActor(r), leave.Department{
		ID:        body.ID,
		Name:      body.Name,
		ManagerID: body.ManagerID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, DepartmentDTO{ID: d.ID, Name: d.Name, ManagerID: d.ManagerID})
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if !h.decode(w, r, &body) || !h.check(w, &body) {
		return
	}
	start, end, ok := parseRange(w, body.StartDate, body.EndDate)
	if !ok {
		return
	}
	res, err := h.engine.CreateRequest(r.Context(), mustActor(r), leave.CreateRequestInput{
		EmployeeID: chi.URLParam(r, "id"),
		LeaveCode:  leave.NormalizeCode(body.LeaveType),
		StartDate:  start,
		EndDate:    end,
		HalfDay:    body.HalfDay,
		Notes:      body.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(res, h.codes(r.Context())))
}

func (h *Handler) GetUserRequests(w http.ResponseWriter, r *http.Request) {
	var status *leave.RequestStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := leave.ParseRequestStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid status", err)
			return
		}
		status = &st
	}
	reqs, err := h.engine.GetUserRequests(r.Context(), mustActor(r), chi.URLParam(r, "id"), status)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs, h.codes(r.Context())))
}

func (h *Handler) GetOverlappingRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, ok := parseRange(w, q.Get("start"), q.Get("end"))
	if !ok {
		return
	}
	reqs, err := h.engine.GetOverlappingRequests(r.Context(), mustActor(r), chi.URLParam(r, "id"), start, end, q.Get("exclude"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs, h.codes(r.Context())))
}

func (h *Handler) FindDepartmentConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, ok := parseRange(w, q.Get("start"), q.Get("end"))
	if !ok {
		return
	}
	conflicts, err := h.engine.FindDepartmentConflicts(r.Context(), mustActor(r), chi.URLParam(r, "id"), start, end, q.Get("exclude"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ConflictDTO, len(conflicts))
	for i, c := range conflicts {
		dtos[i] = toConflictDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.engine.GetPendingRequestsForDepartment(r.Context(), mustActor(r), r.URL.Query().Get("department_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs, h.codes(r.Context())))
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.GetRequest(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req, h.codes(r.Context())))
}

func (h *Handler) GetRequestJournal(w http.ResponseWriter, r *http.Request) {
	h.journal(w, r)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.ApproveRequest(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	h.writeRequestResult(w, r, res, err)
}

func (h *Handler) DenyRequest(w http.ResponseWriter, r *http.Request) {
	var body DenyRequestBody
	if r.ContentLength != 0 && (!h.decode(w, r, &body) || !h.check(w, &body)) {
		return
	}
	res, err := h.engine.DenyRequest(r.Context(), mustActor(r), chi.URLParam(r, "id"), body.Reason)
	h.writeRequestResult(w, r, res, err)
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.CancelRequest(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	h.writeRequestResult(w, r, res, err)
}

func (h *Handler) writeRequestResult(w http.ResponseWriter, r *http.Request, res *leave.RequestResult, err error) {
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(res, h.codes(r.Context())))
}

// =============================================================================
// BALANCE AND POLICY HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year, ok := parseYear(w, chi.URLParam(r, "year"))
	if !ok {
		return
	}
	b, err := h.engine.GetBalance(r.Context(), mustActor(r), chi.URLParam(r, "id"), year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

func (h *Handler) ProvisionBalance(w http.ResponseWriter, r *http.Request) {
	year, ok := parseYear(w, chi.URLParam(r, "year"))
	if !ok {
		return
	}
	b, err := h.engine.ProvisionBalance(r.Context(), mustActor(r), chi.URLParam(r, "id"), year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

func (h *Handler) CanUseLeave(w http.ResponseWriter, r *http.Request) {
	actor, empID := mustActor(r), chi.URLParam(r, "id")
	if !h.allowRead(w, actor, empID) {
		return
	}
	elig, err := h.engine.CanUseLeave(r.Context(), empID, leave.NormalizeCode(chi.URLParam(r, "code")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, elig)
}

func (h *Handler) ResolvePolicy(w http.ResponseWriter, r *http.Request) {
	actor, empID := mustActor(r), chi.URLParam(r, "id")
	if !h.allowRead(w, actor, empID) {
		return
	}
	p, err := h.engine.ResolvePolicy(r.Context(), empID, leave.NormalizeCode(chi.URLParam(r, "code")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "No policy applies", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.engine.ListLeaveTypes(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]LeaveTypeDTO, len(types))
	for i, lt := range types {
		dtos[i] = toLeaveTypeDTO(lt)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CARRYOVER HANDLERS
// =============================================================================

func (h *Handler) SubmitCarryover(w http.ResponseWriter, r *http.Request) {
	var body SubmitCarryoverBody
	if !h.decode(w, r, &body) || !h.check(w, &body) {
		return
	}
	lt, err := h.leaveType(r.Context(), body.LeaveType)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := h.engine.SubmitCarryover(r.Context(), mustActor(r), leave.SubmitCarryoverInput{
		EmployeeID:     body.EmployeeID,
		LeaveTypeID:    lt.ID,
		HoursRequested: generic.HoursOf(decimal.NewFromFloat(body.Hours)),
		FromYear:       body.FromYear,
		Notes:          body.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCarryoverResponse(res))
}

func (h *Handler) ApproveCarryover(w http.ResponseWriter, r *http.Request) {
	var body ApproveCarryoverBody
	if !h.decode(w, r, &body) || !h.check(w, &body) {
		return
	}
	res, err := h.engine.ApproveCarryover(r.Context(), mustActor(r), chi.URLParam(r, "id"),
		generic.HoursOf(decimal.NewFromFloat(body.HoursApproved)), body.Notes)
	h.writeCarryoverResult(w, r, res, err)
}

func (h *Handler) DenyCarryover(w http.ResponseWriter, r *http.Request) {
	var body DenyCarryoverBody
	if r.ContentLength != 0 && (!h.decode(w, r, &body) || !h.check(w, &body)) {
		return
	}
	res, err := h.engine.DenyCarryover(r.Context(), mustActor(r), chi.URLParam(r, "id"), body.Notes)
	h.writeCarryoverResult(w, r, res, err)
}

func (h *Handler) GetCarryover(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.GetCarryover(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCarryoverDTO(*c))
}

func (h *Handler) GetCarryoverJournal(w http.ResponseWriter, r *http.Request) {
	h.journal(w, r)
}

func (h *Handler) ListCarryovers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := leave.CarryoverFilter{EmployeeID: q.Get("employee_id")}
	if raw := q.Get("status"); raw != "" {
		st, err := leave.ParseCarryoverStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid status", err)
			return
		}
		filter.Statuses = []leave.CarryoverStatus{st}
	}
	if raw := q.Get("from_year"); raw != "" {
		year, ok := parseYear(w, raw)
		if !ok {
			return
		}
		filter.FromYear = year
	}
	list, err := h.engine.ListCarryovers(r.Context(), mustActor(r), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]CarryoverDTO, len(list))
	for i, c := range list {
		dtos[i] = toCarryoverDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) writeCarryoverResult(w http.ResponseWriter, r *http.Request, res *leave.CarryoverResult, err error) {
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCarryoverResponse(res))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) journal(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.RequestJournal(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]JournalEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toJournalEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	return true
}

func (h *Handler) check(w http.ResponseWriter, v any) bool {
	if err := h.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "validation",
			Details: validationDetails(err),
		})
		return false
	}
	return true
}

func (h *Handler) allowRead(w http.ResponseWriter, actor leave.ActingUser, employeeID string) bool {
	if actor.ID == employeeID || actor.IsPrivileged() {
		return true
	}
	writeJSON(w, http.StatusForbidden, ErrorResponse{
		Error: fmt.Sprintf("%s may not view records of %s", actor.ID, employeeID),
		Code:  string(generic.KindUnauthorized),
	})
	return false
}

// codes maps leave type ids to codes for response enrichment. A lookup
// failure only drops the enrichment.
func (h *Handler) codes(ctx context.Context) map[string]leave.LeaveCode {
	types, err := h.engine.ListLeaveTypes(ctx)
	if err != nil {
		h.logger.Warn("leave type lookup failed", zap.Error(err))
		return nil
	}
	out := make(map[string]leave.LeaveCode, len(types))
	for _, lt := range types {
		out[lt.ID] = lt.Code
	}
	return out
}

func (h *Handler) leaveType(ctx context.Context, code string) (*leave.LeaveType, error) {
	const op = "api.leave_type"
	lt, err := h.engine.Store().GetLeaveTypeByCode(ctx, leave.NormalizeCode(code))
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	if lt == nil {
		return nil, generic.NotFound(op, "leave type %s not found", code)
	}
	return lt, nil
}

func mustActor(r *http.Request) leave.ActingUser {
	actor, _ := ActorFrom(r.Context())
	return actor
}

func parseRange(w http.ResponseWriter, startRaw, endRaw string) (generic.Date, generic.Date, bool) {
	start, err := generic.ParseDate(startRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start date", err)
		return generic.Date{}, generic.Date{}, false
	}
	end, err := generic.ParseDate(endRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end date", err)
		return generic.Date{}, generic.Date{}, false
	}
	return start, end, true
}

func parseYear(w http.ResponseWriter, raw string) (int, bool) {
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1900 || year > 9999 {
		if err == nil {
			err = errors.New("year out of range")
		}
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return 0, false
	}
	return year, true
}
