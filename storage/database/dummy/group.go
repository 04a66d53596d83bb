package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/group"
)

type groupRepository struct {
	db *DB
}

var _ group.Repository = (*groupRepository)(nil) // interface compliance check

func NewGroupRepository(db *DB) *groupRepository {
	return &groupRepository{db: db}
}

func (repo *groupRepository) CreateGroup(ctx context.Context, grp group.Group, exec ...core.DBExecutor) (group.Group, error) {
	data, release := repo.db.tables(exec)
	defer release()

	grp.ID = uuid.New().String()
	data.groups[grp.ID] = grp
	return grp, nil
}

func (repo *groupRepository) GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (group.Group, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if grp, ok := data.groups[id]; ok {
		return grp, nil
	}
	return group.Group{}, group.ErrNotFound
}

func (repo *groupRepository) QueryGroups(ctx context.Context, exec ...core.DBExecutor) ([]group.Group, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var groups []group.Group
	for _, grp := range data.groups {
		groups = append(groups, grp)
	}
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].CreatedAt.Equal(groups[j].CreatedAt) {
			return groups[i].CreatedAt.Before(groups[j].CreatedAt)
		}
		return groups[i].ID < groups[j].ID
	})
	return groups, nil
}

func (repo *groupRepository) RemoveMember(ctx context.Context, groupID, studentID string, exec ...core.DBExecutor) error {
	data, release := repo.db.tables(exec)
	defer release()

	grp, ok := data.groups[groupID]
	if !ok {
		return group.ErrNotFound
	}
	for i, m := range grp.Members {
		if m.StudentID == studentID {
			grp.Members = append(append([]group.Member(nil), grp.Members[:i]...), grp.Members[i+1:]...)
			data.groups[groupID] = grp
			return nil
		}
	}
	return group.ErrNotGroupMember
}

func (repo *groupRepository) DeleteGroup(ctx context.Context, id string, exec ...core.DBExecutor) error {
	data, release := repo.db.tables(exec)
	defer release()

	delete(data.groups, id)
	return nil
}

func (repo *groupRepository) CreateSplitRequest(ctx context.Context, req group.SplitRequest, exec ...core.DBExecutor) (group.SplitRequest, error) {
	data, release := repo.db.tables(exec)
	defer release()

	req.ID = uuid.New().String()
	data.splits[req.ID] = req
	return req, nil
}

func (repo *groupRepository) GetSplitRequest(ctx context.Context, id string, exec ...core.DBExecutor) (group.SplitRequest, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if req, ok := data.splits[id]; ok {
		return req, nil
	}
	return group.SplitRequest{}, group.ErrSplitNotFound
}

func (repo *groupRepository) QuerySplitRequests(ctx context.Context, filter *group.SplitQueryFilter, exec ...core.DBExecutor) ([]group.SplitRequest, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var reqs []group.SplitRequest
	for _, req := range data.splits {
		if filter != nil {
			if filter.GroupID != "" && req.GroupID != filter.GroupID {
				continue
			}
			if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
				continue
			}
			if filter.Status != "" && req.Status != filter.Status {
				continue
			}
		}
		reqs = append(reqs, req)
	}
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
	return reqs, nil
}

func (repo *groupRepository) UpdateSplitRequest(ctx context.Context, req group.SplitRequest, exec ...core.DBExecutor) (group.SplitRequest, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if _, ok := data.splits[req.ID]; !ok {
		return group.SplitRequest{}, group.ErrSplitNotFound
	}
	data.splits[req.ID] = req
	return req, nil
}
