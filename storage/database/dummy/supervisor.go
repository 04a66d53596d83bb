package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/supervisor"
)

type supervisorRepository struct {
	db *DB
}

var _ supervisor.Repository = (*supervisorRepository)(nil) // interface compliance check

func NewSupervisorRepository(db *DB) *supervisorRepository {
	return &supervisorRepository{db: db}
}

func (repo *supervisorRepository) CreateSupervisor(ctx context.Context, sup supervisor.Supervisor, exec ...core.DBExecutor) (supervisor.Supervisor, error) {
	data, release := repo.db.tables(exec)
	defer release()

	sup.ID = uuid.New().String()
	data.supervisors[sup.ID] = sup
	return sup, nil
}

func (repo *supervisorRepository) GetSupervisor(ctx context.Context, id string, exec ...core.DBExecutor) (supervisor.Supervisor, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if sup, ok := data.supervisors[id]; ok {
		return sup, nil
	}
	return supervisor.Supervisor{}, supervisor.ErrNotFound
}

// GetSupervisorForUpdate is a plain read here: the store lock held by the
// transaction already serializes writers.
func (repo *supervisorRepository) GetSupervisorForUpdate(ctx context.Context, id string, exec core.DBExecutor) (supervisor.Supervisor, error) {
	return repo.GetSupervisor(ctx, id, exec)
}

func (repo *supervisorRepository) GetSupervisorByUserID(ctx context.Context, userID string, exec ...core.DBExecutor) (supervisor.Supervisor, error) {
	data, release := repo.db.tables(exec)
	defer release()

	for _, sup := range data.supervisors {
		if sup.UserID == userID {
			return sup, nil
		}
	}
	return supervisor.Supervisor{}, supervisor.ErrNotFound
}

func (repo *supervisorRepository) QuerySupervisors(ctx context.Context, filter *supervisor.QueryFilter, exec ...core.DBExecutor) ([]supervisor.Supervisor, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var sups []supervisor.Supervisor
	for _, sup := range data.supervisors {
		if filter != nil {
			if filter.Search != "" && !matchesSearch(filter.Search, sup.Department) {
				continue
			}
			if filter.Department != "" && sup.Department != filter.Department {
				continue
			}
		}
		sups = append(sups, sup)
	}
	sort.Slice(sups, func(i, j int) bool { return sups[i].ID < sups[j].ID })
	return sups, nil
}

func (repo *supervisorRepository) UpdateSupervisor(ctx context.Context, sup supervisor.Supervisor, exec ...core.DBExecutor) (supervisor.Supervisor, error) {
	data, release := repo.db.tables(exec)
	defer release()

	orig, ok := data.supervisors[sup.ID]
	if !ok {
		return supervisor.Supervisor{}, supervisor.ErrNotFound
	}
	sup.CurrentLoad = orig.CurrentLoad // owned by AdjustLoad
	data.supervisors[sup.ID] = sup
	return sup, nil
}

func (repo *supervisorRepository) AdjustLoad(ctx context.Context, id string, delta int, exec core.DBExecutor) error {
	data, release := repo.db.tables([]core.DBExecutor{exec})
	defer release()

	sup, ok := data.supervisors[id]
	if !ok {
		return supervisor.ErrNotFound
	}
	load := sup.CurrentLoad + delta
	if load < 0 || load > sup.MaxCapacity {
		return supervisor.ErrLoadOutOfRange
	}
	sup.CurrentLoad = load
	sup.UpdatedAt = time.Now().UTC()
	data.supervisors[id] = sup
	return nil
}

func (repo *supervisorRepository) DeleteSupervisorsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var cnt int
	for _, id := range ids {
		if _, ok := data.supervisors[id]; ok {
			delete(data.supervisors, id)
			cnt++
		}
	}
	return cnt, nil
}
