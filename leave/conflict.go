package leave

import (
	"context"

	"github.com/warp/pto-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// CONFLICT DETECTOR - Department overlap, advisory only
// =============================================================================

// ConflictSummary is one overlapping request by a department colleague.
type ConflictSummary struct {
	RequestID     string
	EmployeeID    string
	EmployeeName  string
	LeaveTypeCode LeaveCode
	LeaveTypeName string
	StartDate     generic.Date
	EndDate       generic.Date
	Status        RequestStatus
}

type ConflictDetector struct {
	store  Reader
	logger *zap.Logger
}

func NewConflictDetector(store Reader, logger *zap.Logger) *ConflictDetector {
	return &ConflictDetector{store: store, logger: logger.Named("leave.conflicts")}
}

// FindDepartmentConflicts lists pending or approved requests of other active
// employees in the same department whose range intersects [start, end].
// excludeRequestID, when non-empty, drops the request under review.
func (d *ConflictDetector) FindDepartmentConflicts(ctx context.Context, employeeID string, start, end generic.Date, excludeRequestID string) ([]ConflictSummary, error) {
	const op = "conflicts.find"
	if end.Before(start) {
		return nil, generic.PolicyViolation(op, "end date %s before start date %s", end, start)
	}

	emp, err := d.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	if emp == nil {
		return nil, generic.NotFound(op, "employee %s not found", employeeID)
	}
	if emp.DepartmentID == "" {
		return []ConflictSummary{}, nil
	}

	colleagues, err := d.store.ListEmployees(ctx, EmployeeFilter{DepartmentID: emp.DepartmentID, ActiveOnly: true})
	if err != nil {
		return nil, generic.Internal(op, err)
	}
	names := make(map[string]string, len(colleagues))
	var ids []string
	for _, c := range colleagues {
		if c.ID == emp.ID {
			continue
		}
		names[c.ID] = c.Name
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		return []ConflictSummary{}, nil
	}

	reqs, err := d.store.ListRequests(ctx, RequestFilter{
		EmployeeIDs:  ids,
		Statuses:     ActiveStatuses,
		OverlapStart: &start,
		OverlapEnd:   &end,
		ExcludeID:    excludeRequestID,
	})
	if err != nil {
		return nil, generic.Internal(op, err)
	}

	types, err := d.leaveTypes(ctx)
	if err != nil {
		return nil, generic.Internal(op, err)
	}

	conflicts := make([]ConflictSummary, 0, len(reqs))
	for _, r := range reqs {
		lt := types[r.LeaveTypeID]
		conflicts = append(conflicts, ConflictSummary{
			RequestID:     r.ID,
			EmployeeID:    r.EmployeeID,
			EmployeeName:  names[r.EmployeeID],
			LeaveTypeCode: lt.Code,
			LeaveTypeName: lt.Name,
			StartDate:     r.StartDate,
			EndDate:       r.EndDate,
			Status:        r.Status,
		})
	}

	d.logger.Debug("department conflicts",
		zap.String("employee_id", employeeID),
		zap.String("department_id", emp.DepartmentID),
		zap.Int("conflicts", len(conflicts)),
	)
	return conflicts, nil
}

func (d *ConflictDetector) leaveTypes(ctx context.Context) (map[string]LeaveType, error) {
	list, err := d.store.ListLeaveTypes(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]LeaveType, len(list))
	for _, lt := range list {
		m[lt.ID] = lt
	}
	return m, nil
}
