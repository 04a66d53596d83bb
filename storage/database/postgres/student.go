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
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/student"
)

const studentColumns = `id, user_id, reg_no, program, year, current_group_id, created_at, updated_at`

type studentRow struct {
	ID             string      `db:"id"`
	UserID         string      `db:"user_id"`
	RegNo          string      `db:"reg_no"`
	Program        string      `db:"program"`
	Year           int         `db:"year"`
	CurrentGroupID null.String `db:"current_group_id"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

func (r studentRow) unpack() student.Student {
	return student.Student{
		ID:             r.ID,
		UserID:         r.UserID,
		RegNo:          r.RegNo,
		Program:        r.Program,
		Year:           r.Year,
		CurrentGroupID: r.CurrentGroupID.String,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type studentRepository struct {
	exec core.DBExecutor
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(exec core.DBExecutor) *studentRepository {
	return &studentRepository{exec: exec}
}

func (repo studentRepository) CreateStudent(ctx context.Context, std student.Student, exec ...core.DBExecutor) (student.Student, error) {
	std.ID = uuid.New().String()

	q := `INSERT INTO student (` + studentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q,
		std.ID, std.UserID, std.RegNo, std.Program, std.Year,
		null.NewString(std.CurrentGroupID, std.CurrentGroupID != ""), std.CreatedAt, std.UpdatedAt,
	)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return std, nil
}

func (repo studentRepository) GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (student.Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return student.Student{}, student.ErrNotFound
	}

	var row studentRow
	q := `SELECT ` + studentColumns + ` FROM student WHERE id = $1`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &row, q, id); err != nil {
		return student.Student{}, trapNoRowsErr(err, student.ErrNotFound, "finding student")
	}
	return row.unpack(), nil
}

func (repo studentRepository) GetStudentByUserID(ctx context.Context, userID string, exec ...core.DBExecutor) (student.Student, error) {
	var row studentRow
	q := `SELECT ` + studentColumns + ` FROM student WHERE user_id = $1`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &row, q, userID); err != nil {
		return student.Student{}, trapNoRowsErr(err, student.ErrNotFound, "finding student by user")
	}
	return row.unpack(), nil
}

func (repo studentRepository) QueryStudents(ctx context.Context, filter *student.QueryFilter, exec ...core.DBExecutor) ([]student.Student, error) {
	q := `SELECT ` + studentColumns + ` FROM student`
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.Search != "" {
			args = append(args, "%"+filter.Search+"%")
			conds = append(conds, fmt.Sprintf("(reg_no ILIKE $%d OR program ILIKE $%d)", len(args), len(args)))
		}
		if filter.Program != "" {
			args = append(args, filter.Program)
			conds = append(conds, fmt.Sprintf("program = $%d", len(args)))
		}
		if filter.GroupID != "" {
			args = append(args, filter.GroupID)
			conds = append(conds, fmt.Sprintf("current_group_id = $%d", len(args)))
		}
		if filter.Ungrouped {
			conds = append(conds, "current_group_id IS NULL")
		}
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY reg_no"

	var rows []studentRow
	if err := sqlx.SelectContext(ctx, getExec(repo.exec, exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}

	students := make([]student.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.unpack())
	}
	return students, nil
}

func (repo studentRepository) CountStudents(ctx context.Context, exec ...core.DBExecutor) (int, error) {
	var cnt int
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &cnt, `SELECT COUNT(*) FROM student`); err != nil {
		return 0, errors.Wrap(err, "counting students")
	}
	return cnt, nil
}

func (repo studentRepository) UpdateStudent(ctx context.Context, std student.Student, exec ...core.DBExecutor) (student.Student, error) {
	q := `UPDATE student
	      SET reg_no = $2, program = $3, year = $4, current_group_id = $5, updated_at = $6
	      WHERE id = $1`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q,
		std.ID, std.RegNo, std.Program, std.Year,
		null.NewString(std.CurrentGroupID, std.CurrentGroupID != ""), std.UpdatedAt,
	)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "updating student")
	}
	return std, nil
}

func (repo studentRepository) SetCurrentGroup(ctx context.Context, groupID string, studentIDs []string, exec ...core.DBExecutor) error {
	q := `UPDATE student SET current_group_id = $1, updated_at = $2 WHERE id = ANY($3)`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q,
		null.NewString(groupID, groupID != ""), time.Now().UTC(), pq.Array(studentIDs),
	)
	return errors.Wrap(err, "setting current group")
}

func (repo studentRepository) DeleteStudentsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	res, err := getExec(repo.exec, exec).ExecContext(ctx, `DELETE FROM student WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting students")
	}
	cnt, _ := res.RowsAffected()
	return int(cnt), nil
}
