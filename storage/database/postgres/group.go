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
	"github.com/trezcool/miradi/core/group"
)

const (
	groupColumns = `id, public_id, name, is_active, shared_password_hash, created_by_id, created_at, updated_at`
	splitColumns = `id, group_id, requester_id, reason, status, proposed_project_id, reviewed_by_id, review_notes, reviewed_at, created_at`
)

type (
	groupRow struct {
		ID                 string    `db:"id"`
		PublicID           string    `db:"public_id"`
		Name               string    `db:"name"`
		IsActive           bool      `db:"is_active"`
		SharedPasswordHash []byte    `db:"shared_password_hash"`
		CreatedByID        string    `db:"created_by_id"`
		CreatedAt          time.Time `db:"created_at"`
		UpdatedAt          time.Time `db:"updated_at"`
	}

	memberRow struct {
		GroupID   string    `db:"group_id"`
		StudentID string    `db:"student_id"`
		Role      string    `db:"role"`
		JoinedAt  time.Time `db:"joined_at"`
	}

	splitRow struct {
		ID                string      `db:"id"`
		GroupID           string      `db:"group_id"`
		RequesterID       string      `db:"requester_id"`
		Reason            string      `db:"reason"`
		Status            string      `db:"status"`
		ProposedProjectID null.String `db:"proposed_project_id"`
		ReviewedByID      null.String `db:"reviewed_by_id"`
		ReviewNotes       string      `db:"review_notes"`
		ReviewedAt        null.Time   `db:"reviewed_at"`
		CreatedAt         time.Time   `db:"created_at"`
	}
)

func (r groupRow) unpack() group.Group {
	return group.Group{
		ID:                 r.ID,
		PublicID:           r.PublicID,
		Name:               r.Name,
		IsActive:           r.IsActive,
		SharedPasswordHash: r.SharedPasswordHash,
		CreatedByID:        r.CreatedByID,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (r splitRow) unpack() group.SplitRequest {
	return group.SplitRequest{
		ID:                r.ID,
		GroupID:           r.GroupID,
		RequesterID:       r.RequesterID,
		Reason:            r.Reason,
		Status:            r.Status,
		ProposedProjectID: r.ProposedProjectID.String,
		ReviewedByID:      r.ReviewedByID.String,
		ReviewNotes:       r.ReviewNotes,
		ReviewedAt:        r.ReviewedAt.Time,
		CreatedAt:         r.CreatedAt,
	}
}

type groupRepository struct {
	exec core.DBExecutor
}

var _ group.Repository = (*groupRepository)(nil) // interface compliance check

func NewGroupRepository(exec core.DBExecutor) *groupRepository {
	return &groupRepository{exec: exec}
}

func (repo groupRepository) CreateGroup(ctx context.Context, grp group.Group, exec ...core.DBExecutor) (group.Group, error) {
	grp.ID = uuid.New().String()
	exe := getExec(repo.exec, exec)

	q := `INSERT INTO student_group (` + groupColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := exe.ExecContext(ctx, q,
		grp.ID, grp.PublicID, grp.Name, grp.IsActive, grp.SharedPasswordHash, grp.CreatedByID, grp.CreatedAt, grp.UpdatedAt,
	)
	if err != nil {
		return group.Group{}, errors.Wrap(err, "inserting group")
	}

	for _, m := range grp.Members {
		_, err = exe.ExecContext(ctx,
			`INSERT INTO group_member (group_id, student_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			grp.ID, m.StudentID, m.Role, m.JoinedAt,
		)
		if err != nil {
			return group.Group{}, errors.Wrap(err, "inserting group member")
		}
	}
	return grp, nil
}

func (repo groupRepository) members(ctx context.Context, exec core.DBExecutor, groupIDs ...string) (map[string][]group.Member, error) {
	var rows []memberRow
	q := `SELECT group_id, student_id, role, joined_at FROM group_member WHERE group_id = ANY($1) ORDER BY joined_at, student_id`
	if err := sqlx.SelectContext(ctx, exec, &rows, q, pq.Array(groupIDs)); err != nil {
		return nil, errors.Wrap(err, "querying group members")
	}

	members := make(map[string][]group.Member, len(groupIDs))
	for _, row := range rows {
		members[row.GroupID] = append(members[row.GroupID], group.Member{
			StudentID: row.StudentID,
			Role:      row.Role,
			JoinedAt:  row.JoinedAt,
		})
	}
	return members, nil
}

func (repo groupRepository) GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (group.Group, error) {
	if _, err := uuid.Parse(id); err != nil {
		return group.Group{}, group.ErrNotFound
	}
	exe := getExec(repo.exec, exec)

	var row groupRow
	q := `SELECT ` + groupColumns + ` FROM student_group WHERE id = $1`
	if err := sqlx.GetContext(ctx, exe, &row, q, id); err != nil {
		return group.Group{}, trapNoRowsErr(err, group.ErrNotFound, "finding group")
	}

	members, err := repo.members(ctx, exe, id)
	if err != nil {
		return group.Group{}, err
	}
	grp := row.unpack()
	grp.Members = members[id]
	return grp, nil
}

func (repo groupRepository) QueryGroups(ctx context.Context, exec ...core.DBExecutor) ([]group.Group, error) {
	exe := getExec(repo.exec, exec)

	var rows []groupRow
	q := `SELECT ` + groupColumns + ` FROM student_group ORDER BY created_at`
	if err := sqlx.SelectContext(ctx, exe, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying groups")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	members, err := repo.members(ctx, exe, ids...)
	if err != nil {
		return nil, err
	}

	groups := make([]group.Group, 0, len(rows))
	for _, row := range rows {
		grp := row.unpack()
		grp.Members = members[grp.ID]
		groups = append(groups, grp)
	}
	return groups, nil
}

func (repo groupRepository) RemoveMember(ctx context.Context, groupID, studentID string, exec ...core.DBExecutor) error {
	res, err := getExec(repo.exec, exec).ExecContext(ctx,
		`DELETE FROM group_member WHERE group_id = $1 AND student_id = $2`, groupID, studentID)
	if err != nil {
		return errors.Wrap(err, "removing group member")
	}
	if cnt, _ := res.RowsAffected(); cnt == 0 {
		return group.ErrNotGroupMember
	}
	return nil
}

func (repo groupRepository) DeleteGroup(ctx context.Context, id string, exec ...core.DBExecutor) error {
	_, err := getExec(repo.exec, exec).ExecContext(ctx, `DELETE FROM student_group WHERE id = $1`, id)
	return errors.Wrap(err, "deleting group")
}

func (repo groupRepository) CreateSplitRequest(ctx context.Context, req group.SplitRequest, exec ...core.DBExecutor) (group.SplitRequest, error) {
	req.ID = uuid.New().String()

	q := `INSERT INTO split_request (` + splitColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q,
		req.ID, req.GroupID, req.RequesterID, req.Reason, req.Status,
		null.NewString(req.ProposedProjectID, req.ProposedProjectID != ""),
		null.NewString(req.ReviewedByID, req.ReviewedByID != ""),
		req.ReviewNotes, null.NewTime(req.ReviewedAt, !req.ReviewedAt.IsZero()), req.CreatedAt,
	)
	if err != nil {
		return group.SplitRequest{}, errors.Wrap(err, "inserting split request")
	}
	return req, nil
}

func (repo groupRepository) GetSplitRequest(ctx context.Context, id string, exec ...core.DBExecutor) (group.SplitRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return group.SplitRequest{}, group.ErrSplitNotFound
	}

	var row splitRow
	q := `SELECT ` + splitColumns + ` FROM split_request WHERE id = $1`
	if err := sqlx.GetContext(ctx, getExec(repo.exec, exec), &row, q, id); err != nil {
		return group.SplitRequest{}, trapNoRowsErr(err, group.ErrSplitNotFound, "finding split request")
	}
	return row.unpack(), nil
}

func (repo groupRepository) QuerySplitRequests(ctx context.Context, filter *group.SplitQueryFilter, exec ...core.DBExecutor) ([]group.SplitRequest, error) {
	q := `SELECT ` + splitColumns + ` FROM split_request`
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.GroupID != "" {
			args = append(args, filter.GroupID)
			conds = append(conds, fmt.Sprintf("group_id = $%d", len(args)))
		}
		if filter.RequesterID != "" {
			args = append(args, filter.RequesterID)
			conds = append(conds, fmt.Sprintf("requester_id = $%d", len(args)))
		}
		if filter.Status != "" {
			args = append(args, filter.Status)
			conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
		}
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at"

	var rows []splitRow
	if err := sqlx.SelectContext(ctx, getExec(repo.exec, exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying split requests")
	}

	reqs := make([]group.SplitRequest, 0, len(rows))
	for _, row := range rows {
		reqs = append(reqs, row.unpack())
	}
	return reqs, nil
}

func (repo groupRepository) UpdateSplitRequest(ctx context.Context, req group.SplitRequest, exec ...core.DBExecutor) (group.SplitRequest, error) {
	q := `UPDATE split_request
	      SET status = $2, reviewed_by_id = $3, review_notes = $4, reviewed_at = $5
	      WHERE id = $1`
	_, err := getExec(repo.exec, exec).ExecContext(ctx, q,
		req.ID, req.Status, null.NewString(req.ReviewedByID, req.ReviewedByID != ""),
		req.ReviewNotes, null.NewTime(req.ReviewedAt, !req.ReviewedAt.IsZero()),
	)
	if err != nil {
		return group.SplitRequest{}, errors.Wrap(err, "updating split request")
	}
	return req, nil
}
