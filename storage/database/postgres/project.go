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
	"github.com/trezcool/miradi/core/project"
)

const projectColumns = `id, supervisor_id, title, description, category, difficulty_level,
	required_skills, max_students, is_available, status, created_at, updated_at`

const projectEligibleCond = `status = 'approved' AND is_available`

type projectRow struct {
	ID              string         `db:"id"`
	SupervisorID    string         `db:"supervisor_id"`
	Title           string         `db:"title"`
	Description     string         `db:"description"`
	Category        string         `db:"category"`
	DifficultyLevel string         `db:"difficulty_level"`
	RequiredSkills  pq.StringArray `db:"required_skills"`
	MaxStudents     int            `db:"max_students"`
	IsAvailable     bool           `db:"is_available"`
	Status          string         `db:"status"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r projectRow) unpack() project.Project {
	return project.Project{
		ID:              r.ID,
		SupervisorID:    r.SupervisorID,
		Title:           r.Title,
		Description:     r.Description,
		Category:        r.Category,
		DifficultyLevel: r.DifficultyLevel,
		RequiredSkills:  r.RequiredSkills,
		MaxStudents:     r.MaxStudents,
		IsAvailable:     r.IsAvailable,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type projectRepository struct {
	exec core.DBExecutor
}

var _ project.Repository = (*projectRepository)(nil) // interface compliance check

func NewProjectRepository(exec core.DBExecutor) *projectRepository {
	return &projectRepository{exec: exec}
}

func (repo projectRepository) CreateProject(ctx context.Context, prj project.Project, exec ...core.DBExecutor) (project.Project, error) {
	prj.ID = uuid.New().String()

	q := `INSERT INTO project (` + projectColumns + `)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q,
		prj.ID, prj.SupervisorID, prj.Title, prj.Description, prj.Category, prj.DifficultyLevel,
		pq.Array(prj.RequiredSkills), prj.MaxStudents, prj.IsAvailable, prj.Status, prj.CreatedAt, prj.UpdatedAt,
	)
	if err != nil {
		return project.Project{}, errors.Wrap(err, "inserting project")
	}
	return prj, nil
}

func (repo projectRepository) get(ctx context.Context, id string, forUpdate bool, exec core.DBExecutor) (project.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return project.Project{}, project.ErrNotFound
	}

	q := `SELECT ` + projectColumns + ` FROM project WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var row projectRow
	if err := sqlx.GetContext(ctx, exec, &row, q, id); err != nil {
		return project.Project{}, trapNoRowsErr(err, project.ErrNotFound, "finding project")
	}
	return row.unpack(), nil
}

func (repo projectRepository) GetProject(ctx context.Context, id string, exec ...core.DBExecutor) (project.Project, error) {
	return repo.get(ctx, id, false, getExec(repo.exec, exec))
}

func (repo projectRepository) GetProjectForUpdate(ctx context.Context, id string, exec core.DBExecutor) (project.Project, error) {
	return repo.get(ctx, id, true, exec)
}

func (repo projectRepository) QueryProjects(ctx context.Context, filter *project.QueryFilter, exec ...core.DBExecutor) ([]project.Project, error) {
	q := `SELECT ` + projectColumns + ` FROM project`
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.Search != "" {
			args = append(args, "%"+filter.Search+"%")
			conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d OR category ILIKE $%d)", len(args), len(args), len(args)))
		}
		if filter.SupervisorID != "" {
			args = append(args, filter.SupervisorID)
			conds = append(conds, fmt.Sprintf("supervisor_id = $%d", len(args)))
		}
		if filter.Status != "" {
			args = append(args, filter.Status)
			conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
		}
		if filter.EligibleOnly {
			conds = append(conds, projectEligibleCond)
		}
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at"

	var rows []projectRow
	if err := sqlx.SelectContext(ctx, getExec(repo.exec, exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying projects")
	}

	projects := make([]project.Project, 0, len(rows))
	for _, row := range rows {
		projects = append(projects, row.unpack())
	}
	return projects, nil
}

func (repo projectRepository) CountProjects(ctx context.Context, eligibleOnly bool, exec ...core.DBExecutor) (int, error) {
	q := `SELECT COUNT(*) FROM project`
	if eligibleOnly {
		q += ` WHERE ` + projectEligibleCond
	}

	var cnt int
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &cnt, q); err != nil {
		return 0, errors.Wrap(err, "counting projects")
	}
	return cnt, nil
}

func (repo projectRepository) UpdateProject(ctx context.Context, prj project.Project, isAvailable *bool, exec ...core.DBExecutor) (project.Project, error) {
	if isAvailable != nil {
		prj.IsAvailable = *isAvailable
	}

	q := `UPDATE project
	      SET title = $2, description = $3, category = $4, difficulty_level = $5, required_skills = $6,
	          max_students = $7, is_available = $8, status = $9, updated_at = $10
	      WHERE id = $1`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q,
		prj.ID, prj.Title, prj.Description, prj.Category, prj.DifficultyLevel, pq.Array(prj.RequiredSkills),
		prj.MaxStudents, prj.IsAvailable, prj.Status, prj.UpdatedAt,
	)
	if err != nil {
		return project.Project{}, errors.Wrap(err, "updating project")
	}
	return prj, nil
}

func (repo projectRepository) DeleteProjectsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	res, err := getExec(repo.exec, exec).ExecContext(ctx, `DELETE FROM project WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting projects")
	}
	cnt, _ := res.RowsAffected()
	return int(cnt), nil
}
