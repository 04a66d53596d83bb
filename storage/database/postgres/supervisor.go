package pgrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/supervisor"
)

const supervisorColumns = `id, user_id, department, max_capacity, current_load, created_at, updated_at`

type supervisorRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Department  string    `db:"department"`
	MaxCapacity int       `db:"max_capacity"`
	CurrentLoad int       `db:"current_load"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r supervisorRow) unpack() supervisor.Supervisor {
	return supervisor.Supervisor{
		ID:          r.ID,
		UserID:      r.UserID,
		Department:  r.Department,
		MaxCapacity: r.MaxCapacity,
		CurrentLoad: r.CurrentLoad,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type supervisorRepository struct {
	exec core.DBExecutor
}

var _ supervisor.Repository = (*supervisorRepository)(nil) // interface compliance check

func NewSupervisorRepository(exec core.DBExecutor) *supervisorRepository {
	return &supervisorRepository{exec: exec}
}

func (repo supervisorRepository) CreateSupervisor(ctx context.Context, sup supervisor.Supervisor, exec ...core.DBExecutor) (supervisor.Supervisor, error) {
	sup.ID = uuid.New().String()

	q := `INSERT INTO supervisor (` + supervisorColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q,
		sup.ID, sup.UserID, sup.Department, sup.MaxCapacity, sup.CurrentLoad, sup.CreatedAt, sup.UpdatedAt,
	)
	if err != nil {
		return supervisor.Supervisor{}, errors.Wrap(err, "inserting supervisor")
	}
	return sup, nil
}

func (repo supervisorRepository) get(ctx context.Context, id string, forUpdate bool, exec core.DBExecutor) (supervisor.Supervisor, error) {
	if _, err := uuid.Parse(id); err != nil {
		return supervisor.Supervisor{}, supervisor.ErrNotFound
	}

	q := `SELECT ` + supervisorColumns + ` FROM supervisor WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var row supervisorRow
	if err := sqlx.GetContext(ctx, exec, &row, q, id); err != nil {
		return supervisor.Supervisor{}, trapNoRowsErr(err, supervisor.ErrNotFound, "finding supervisor")
	}
	return row.unpack(), nil
}

func (repo supervisorRepository) GetSupervisor(ctx context.Context, id string, exec ...core.DBExecutor) (supervisor.Supervisor, error) {
	return repo.get(ctx, id, false, getExec(repo.exec, exec))
}

func (repo supervisorRepository) GetSupervisorForUpdate(ctx context.Context, id string, exec core.DBExecutor) (supervisor.Supervisor, error) {
	return repo.get(ctx, id, true, exec)
}

func (repo supervisorRepository) GetSupervisorByUserID(ctx context.Context, userID string, exec ...core.DBExecutor) (supervisor.Supervisor, error) {
	var row supervisorRow
	q := `SELECT ` + supervisorColumns + ` FROM supervisor WHERE user_id = $1`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &row, q, userID); err != nil {
		return supervisor.Supervisor{}, trapNoRowsErr(err, supervisor.ErrNotFound, "finding supervisor by user")
	}
	return row.unpack(), nil
}

func (repo supervisorRepository) QuerySupervisors(ctx context.Context, filter *supervisor.QueryFilter, exec ...core.DBExecutor) ([]supervisor.Supervisor, error) {
	q := `SELECT ` + supervisorColumns + ` FROM supervisor`
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.Search != "" {
			args = append(args, "%"+filter.Search+"%")
			conds = append(conds, fmt.Sprintf("department ILIKE $%d", len(args)))
		}
		if filter.Department != "" {
			args = append(args, filter.Department)
			conds = append(conds, fmt.Sprintf("department = $%d", len(args)))
		}
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id"

	var rows []supervisorRow
	if err := sqlx.SelectContext(ctx, getExec(repo.exec, exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying supervisors")
	}

	sups := make([]supervisor.Supervisor, 0, len(rows))
	for _, row := range rows {
		sups = append(sups, row.unpack())
	}
	return sups, nil
}

func (repo supervisorRepository) UpdateSupervisor(ctx context.Context, sup supervisor.Supervisor, exec ...core.DBExecutor) (supervisor.Supervisor, error) {
	q := `UPDATE supervisor SET department = $2, max_capacity = $3, updated_at = $4 WHERE id = $1`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q, sup.ID, sup.Department, sup.MaxCapacity, sup.UpdatedAt)
	if err != nil {
		return supervisor.Supervisor{}, errors.Wrap(err, "updating supervisor")
	}
	return sup, nil
}

func (repo supervisorRepository) AdjustLoad(ctx context.Context, id string, delta int, exec core.DBExecutor) error {
	q := `UPDATE supervisor
	      SET current_load = current_load + $2, updated_at = $3
	      WHERE id = $1 AND current_load + $2 BETWEEN 0 AND max_capacity`
	res, err := exec.ExecContext(ctx, q, id, delta, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "adjusting supervisor load")
	}
	if cnt, _ := res.RowsAffected(); cnt == 0 {
		if _, err = repo.get(ctx, id, false, exec); err != nil {
			return err
		}
		return supervisor.ErrLoadOutOfRange
	}
	return nil
}

func (repo supervisorRepository) DeleteSupervisorsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	res, err := getExec(repo.exec, exec).ExecContext(ctx, `DELETE FROM supervisor WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting supervisors")
	}
	cnt, _ := res.RowsAffected()
	return int(cnt), nil
}
