package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/allocation"
)

type allocationRepository struct {
	db *DB
}

var _ allocation.Repository = (*allocationRepository)(nil) // interface compliance check

func NewAllocationRepository(db *DB) *allocationRepository {
	return &allocationRepository{db: db}
}

func (repo *allocationRepository) ReplacePreferences(ctx context.Context, studentID string, prefs []allocation.Preference, exec ...core.DBExecutor) ([]allocation.Preference, error) {
	data, release := repo.db.tables(exec)
	defer release()

	for id, pref := range data.preferences {
		if pref.StudentID == studentID {
			delete(data.preferences, id)
		}
	}

	saved := make([]allocation.Preference, 0, len(prefs))
	for _, pref := range prefs {
		pref.ID = uuid.New().String()
		data.preferences[pref.ID] = pref
		saved = append(saved, pref)
	}
	return saved, nil
}

func (repo *allocationRepository) QueryPreferences(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]allocation.Preference, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var prefs []allocation.Preference
	for _, pref := range data.preferences {
		if pref.StudentID == studentID {
			prefs = append(prefs, pref)
		}
	}
	sort.Slice(prefs, func(i, j int) bool { return prefs[i].Rank < prefs[j].Rank })
	return prefs, nil
}

func (repo *allocationRepository) QueryAllPreferences(ctx context.Context, exec ...core.DBExecutor) ([]allocation.Preference, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var prefs []allocation.Preference
	for _, pref := range data.preferences {
		prefs = append(prefs, pref)
	}
	sort.Slice(prefs, func(i, j int) bool {
		if prefs[i].StudentID != prefs[j].StudentID {
			return prefs[i].StudentID < prefs[j].StudentID
		}
		return prefs[i].Rank < prefs[j].Rank
	})
	return prefs, nil
}

func (repo *allocationRepository) CreateAllocation(ctx context.Context, alloc allocation.Allocation, exec ...core.DBExecutor) (allocation.Allocation, error) {
	data, release := repo.db.tables(exec)
	defer release()

	alloc.ID = uuid.New().String()
	data.allocations[alloc.ID] = alloc
	return alloc, nil
}

func (repo *allocationRepository) GetAllocation(ctx context.Context, id string, exec ...core.DBExecutor) (allocation.Allocation, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if alloc, ok := data.allocations[id]; ok {
		return alloc, nil
	}
	return allocation.Allocation{}, allocation.ErrNotFound
}

func (repo *allocationRepository) GetActiveAllocation(ctx context.Context, target allocation.Target, exec ...core.DBExecutor) (allocation.Allocation, error) {
	data, release := repo.db.tables(exec)
	defer release()

	for _, alloc := range data.allocations {
		if alloc.Status == allocation.StatusActive && alloc.Target == target {
			return alloc, nil
		}
	}
	return allocation.Allocation{}, allocation.ErrNotFound
}

func (repo *allocationRepository) QueryAllocations(ctx context.Context, filter *allocation.QueryFilter, exec ...core.DBExecutor) ([]allocation.Allocation, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var allocs []allocation.Allocation
	for _, alloc := range data.allocations {
		if filter != nil {
			if filter.ProjectID != "" && alloc.ProjectID != filter.ProjectID {
				continue
			}
			if filter.SupervisorID != "" && alloc.SupervisorID != filter.SupervisorID {
				continue
			}
			if filter.TargetType != "" && alloc.Target.Type != filter.TargetType {
				continue
			}
			if filter.TargetID != "" && alloc.Target.ID != filter.TargetID {
				continue
			}
			if filter.Status != "" && alloc.Status != filter.Status {
				continue
			}
		}
		allocs = append(allocs, alloc)
	}
	sort.Slice(allocs, func(i, j int) bool {
		if !allocs[i].AllocatedAt.Equal(allocs[j].AllocatedAt) {
			return allocs[i].AllocatedAt.Before(allocs[j].AllocatedAt)
		}
		return allocs[i].ID < allocs[j].ID
	})
	return allocs, nil
}

func (repo *allocationRepository) UpdateAllocation(ctx context.Context, alloc allocation.Allocation, exec ...core.DBExecutor) (allocation.Allocation, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if _, ok := data.allocations[alloc.ID]; !ok {
		return allocation.Allocation{}, allocation.ErrNotFound
	}
	data.allocations[alloc.ID] = alloc
	return alloc, nil
}

func (repo *allocationRepository) DeleteAllocation(ctx context.Context, id string, exec ...core.DBExecutor) error {
	data, release := repo.db.tables(exec)
	defer release()

	delete(data.allocations, id)
	return nil
}

func (repo *allocationRepository) CountProjectOccupancy(ctx context.Context, projectID string, exec ...core.DBExecutor) (int, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var cnt int
	for _, alloc := range data.allocations {
		if alloc.ProjectID != projectID || alloc.Status != allocation.StatusActive {
			continue
		}
		cnt += seats(data, alloc)
	}
	return cnt, nil
}

func (repo *allocationRepository) CountAllocatedStudents(ctx context.Context, exec ...core.DBExecutor) (int, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var cnt int
	for _, alloc := range data.allocations {
		if alloc.Status != allocation.StatusActive {
			continue
		}
		cnt += seats(data, alloc)
	}
	return cnt, nil
}

func (repo *allocationRepository) GroupAllocated(ctx context.Context, groupID string, exec ...core.DBExecutor) (bool, error) {
	data, release := repo.db.tables(exec)
	defer release()

	for _, alloc := range data.allocations {
		if alloc.Status == allocation.StatusActive &&
			alloc.Target.Type == allocation.TargetGroup && alloc.Target.ID == groupID {
			return true, nil
		}
	}
	return false, nil
}

func (repo *allocationRepository) StudentAllocated(ctx context.Context, studentID string, exec ...core.DBExecutor) (bool, error) {
	data, release := repo.db.tables(exec)
	defer release()

	for _, alloc := range data.allocations {
		if alloc.Status == allocation.StatusActive &&
			alloc.Target.Type == allocation.TargetStudent && alloc.Target.ID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (repo *allocationRepository) ProjectAllocated(ctx context.Context, projectID string, exec ...core.DBExecutor) (bool, error) {
	data, release := repo.db.tables(exec)
	defer release()

	for _, alloc := range data.allocations {
		if alloc.Status == allocation.StatusActive && alloc.ProjectID == projectID {
			return true, nil
		}
	}
	return false, nil
}

// seats weighs an active allocation: 1 for a lone student, member count for a
// group.
func seats(data *tables, alloc allocation.Allocation) int {
	if alloc.Target.Type == allocation.TargetGroup {
		if grp, ok := data.groups[alloc.Target.ID]; ok {
			return len(grp.Members)
		}
		return 0
	}
	return 1
}
