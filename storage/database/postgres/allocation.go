package pgrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/allocation"
)

const (
	preferenceColumns = `id, student_id, project_id, rank, created_at`
	allocationColumns = `id, project_id, supervisor_id, allocated_to_type, allocated_to_id,
		phase, status, allocated_by_id, allocated_at, updated_at`

	// occupancySeats weighs an active allocation row: 1 seat for a lone
	// student, one per member for a group.
	occupancySeats = `CASE WHEN a.allocated_to_type = 'student' THEN 1
		ELSE (SELECT COUNT(*) FROM group_member gm WHERE gm.group_id = a.allocated_to_id) END`
)

type (
	preferenceRow struct {
		ID        string    `db:"id"`
		StudentID string    `db:"student_id"`
		ProjectID string    `db:"project_id"`
		Rank      int       `db:"rank"`
		CreatedAt time.Time `db:"created_at"`
	}

	allocationRow struct {
		ID              string    `db:"id"`
		ProjectID       string    `db:"project_id"`
		SupervisorID    string    `db:"supervisor_id"`
		AllocatedToType string    `db:"allocated_to_type"`
		AllocatedToID   string    `db:"allocated_to_id"`
		Phase           string    `db:"phase"`
		Status          string    `db:"status"`
		AllocatedByID   string    `db:"allocated_by_id"`
		AllocatedAt     time.Time `db:"allocated_at"`
		UpdatedAt       time.Time `db:"updated_at"`
	}
)

func (r preferenceRow) unpack() allocation.Preference {
	return allocation.Preference{
		ID:        r.ID,
		StudentID: r.StudentID,
		ProjectID: r.ProjectID,
		Rank:      r.Rank,
		CreatedAt: r.CreatedAt,
	}
}

func (r allocationRow) unpack() allocation.Allocation {
	return allocation.Allocation{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		SupervisorID:  r.SupervisorID,
		Target:        allocation.Target{Type: r.AllocatedToType, ID: r.AllocatedToID},
		Phase:         r.Phase,
		Status:        r.Status,
		AllocatedByID: r.AllocatedByID,
		AllocatedAt:   r.AllocatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type allocationRepository struct {
	exec core.DBExecutor
}

var _ allocation.Repository = (*allocationRepository)(nil) // interface compliance check

func NewAllocationRepository(exec core.DBExecutor) *allocationRepository {
	return &allocationRepository{exec: exec}
}

func (repo allocationRepository) ReplacePreferences(ctx context.Context, studentID string, prefs []allocation.Preference, exec ...core.DBExecutor) ([]allocation.Preference, error) {
	exe := getExec(repo.exec, exec)

	if _, err := exe.ExecContext(ctx, `DELETE FROM preference WHERE student_id = $1`, studentID); err != nil {
		return nil, errors.Wrap(err, "clearing preferences")
	}

	saved := make([]allocation.Preference, 0, len(prefs))
	for _, pref := range prefs {
		pref.ID = uuid.New().String()
		_, err := exe.ExecContext(ctx,
			`INSERT INTO preference (`+preferenceColumns+`) VALUES ($1, $2, $3, $4, $5)`,
			pref.ID, pref.StudentID, pref.ProjectID, pref.Rank, pref.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "inserting preference")
		}
		saved = append(saved, pref)
	}
	return saved, nil
}

func (repo allocationRepository) QueryPreferences(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]allocation.Preference, error) {
	var rows []preferenceRow
	q := `SELECT ` + preferenceColumns + ` FROM preference WHERE student_id = $1 ORDER BY rank`
	if err := sqlx.SelectContext(ctx, getExec(repo.exec, exec), &rows, q, studentID); err != nil {
		return nil, errors.Wrap(err, "querying preferences")
	}

	prefs := make([]allocation.Preference, 0, len(rows))
	for _, row := range rows {
		prefs = append(prefs, row.unpack())
	}
	return prefs, nil
}

func (repo allocationRepository) QueryAllPreferences(ctx context.Context, exec ...core.DBExecutor) ([]allocation.Preference, error) {
	var rows []preferenceRow
	q := `SELECT ` + preferenceColumns + ` FROM preference ORDER BY student_id, rank`
	if err := sqlx.SelectContext(ctx, getExec(repo.exec, exec), &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying all preferences")
	}

	prefs := make([]allocation.Preference, 0, len(rows))
	for _, row := range rows {
		prefs = append(prefs, row.unpack())
	}
	return prefs, nil
}

func (repo allocationRepository) CreateAllocation(ctx context.Context, alloc allocation.Allocation, exec ...core.DBExecutor) (allocation.Allocation, error) {
	alloc.ID = uuid.New().String()

	q := `INSERT INTO allocation (` + allocationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q,
		alloc.ID, alloc.ProjectID, alloc.SupervisorID, alloc.Target.Type, alloc.Target.ID,
		alloc.Phase, alloc.Status, alloc.AllocatedByID, alloc.AllocatedAt, alloc.UpdatedAt,
	)
	if err != nil {
		return allocation.Allocation{}, errors.Wrap(err, "inserting allocation")
	}
	return alloc, nil
}

func (repo allocationRepository) GetAllocation(ctx context.Context, id string, exec ...core.DBExecutor) (allocation.Allocation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return allocation.Allocation{}, allocation.ErrNotFound
	}

	var row allocationRow
	q := `SELECT ` + allocationColumns + ` FROM allocation WHERE id = $1`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &row, q, id); err != nil {
		return allocation.Allocation{}, trapNoRowsErr(err, allocation.ErrNotFound, "finding allocation")
	}
	return row.unpack(), nil
}

func (repo allocationRepository) GetActiveAllocation(ctx context.Context, target allocation.Target, exec ...core.DBExecutor) (allocation.Allocation, error) {
	var row allocationRow
	q := `SELECT ` + allocationColumns + ` FROM allocation
	      WHERE allocated_to_type = $1 AND allocated_to_id = $2 AND status = 'active'`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &row, q, target.Type, target.ID); err != nil {
		return allocation.Allocation{}, trapNoRowsErr(err, allocation.ErrNotFound, "finding active allocation")
	}
	return row.unpack(), nil
}

func (repo allocationRepository) QueryAllocations(ctx context.Context, filter *allocation.QueryFilter, exec ...core.DBExecutor) ([]allocation.Allocation, error) {
	q := `SELECT ` + allocationColumns + ` FROM allocation`
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.ProjectID != "" {
			args = append(args, filter.ProjectID)
			conds = append(conds, fmt.Sprintf("project_id = $%d", len(args)))
		}
		if filter.SupervisorID != "" {
			args = append(args, filter.SupervisorID)
			conds = append(conds, fmt.Sprintf("supervisor_id = $%d", len(args)))
		}
		if filter.TargetType != "" {
			args = append(args, filter.TargetType)
			conds = append(conds, fmt.Sprintf("allocated_to_type = $%d", len(args)))
		}
		if filter.TargetID != "" {
			args = append(args, filter.TargetID)
			conds = append(conds, fmt.Sprintf("allocated_to_id = $%d", len(args)))
		}
		if filter.Status != "" {
			args = append(args, filter.Status)
			conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
		}
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY allocated_at"

	var rows []allocationRow
	if err := sqlx.SelectContext(ctx, getExec(repo.exec, exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying allocations")
	}

	allocs := make([]allocation.Allocation, 0, len(rows))
	for _, row := range rows {
		allocs = append(allocs, row.unpack())
	}
	return allocs, nil
}

func (repo allocationRepository) UpdateAllocation(ctx context.Context, alloc allocation.Allocation, exec ...core.DBExecutor) (allocation.Allocation, error) {
	q := `UPDATE allocation SET supervisor_id = $2, status = $3, updated_at = $4 WHERE id = $1`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q, alloc.ID, alloc.SupervisorID, alloc.Status, alloc.UpdatedAt)
	if err != nil {
		return allocation.Allocation{}, errors.Wrap(err, "updating allocation")
	}
	return alloc, nil
}

func (repo allocationRepository) DeleteAllocation(ctx context.Context, id string, exec ...core.DBExecutor) error {
	_, err := getExec(repo.exec, exec).ExecContext(ctx, `DELETE FROM allocation WHERE id = $1`, id)
	return errors.Wrap(err, "deleting allocation")
}

func (repo allocationRepository) CountProjectOccupancy(ctx context.Context, projectID string, exec ...core.DBExecutor) (int, error) {
	var cnt int
	q := `SELECT COALESCE(SUM(` + occupancySeats + `), 0) FROM allocation a
	      WHERE a.project_id = $1 AND a.status = 'active'`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &cnt, q, projectID); err != nil {
		return 0, errors.Wrap(err, "counting project occupancy")
	}
	return cnt, nil
}

func (repo allocationRepository) CountAllocatedStudents(ctx context.Context, exec ...core.DBExecutor) (int, error) {
	var cnt int
	q := `SELECT COALESCE(SUM(` + occupancySeats + `), 0) FROM allocation a WHERE a.status = 'active'`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &cnt, q); err != nil {
		return 0, errors.Wrap(err, "counting allocated students")
	}
	return cnt, nil
}

func (repo allocationRepository) GroupAllocated(ctx context.Context, groupID string, exec ...core.DBExecutor) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM allocation
	      WHERE allocated_to_type = 'group' AND allocated_to_id = $1 AND status = 'active')`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &exists, q, groupID); err != nil {
		return false, errors.Wrap(err, "checking group allocation")
	}
	return exists, nil
}

func (repo allocationRepository) StudentAllocated(ctx context.Context, studentID string, exec ...core.DBExecutor) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM allocation
	      WHERE allocated_to_type = 'student' AND allocated_to_id = $1 AND status = 'active')`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &exists, q, studentID); err != nil {
		return false, errors.Wrap(err, "checking student allocation")
	}
	return exists, nil
}

func (repo allocationRepository) ProjectAllocated(ctx context.Context, projectID string, exec ...core.DBExecutor) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM allocation WHERE project_id = $1 AND status = 'active')`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &exists, q, projectID); err != nil {
		return false, errors.Wrap(err, "checking project allocation")
	}
	return exists, nil
}
