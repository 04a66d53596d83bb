package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/project"
)

type projectRepository struct {
	db *DB
}

var _ project.Repository = (*projectRepository)(nil) // interface compliance check

func NewProjectRepository(db *DB) *projectRepository {
	return &projectRepository{db: db}
}

func (repo *projectRepository) CreateProject(ctx context.Context, prj project.Project, exec ...core.DBExecutor) (project.Project, error) {
	data, release := repo.db.tables(exec)
	defer release()

	prj.ID = uuid.New().String()
	data.projects[prj.ID] = prj
	return prj, nil
}

func (repo *projectRepository) GetProject(ctx context.Context, id string, exec ...core.DBExecutor) (project.Project, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if prj, ok := data.projects[id]; ok {
		return prj, nil
	}
	return project.Project{}, project.ErrNotFound
}

func (repo *projectRepository) GetProjectForUpdate(ctx context.Context, id string, exec core.DBExecutor) (project.Project, error) {
	return repo.GetProject(ctx, id, exec)
}

func (repo *projectRepository) QueryProjects(ctx context.Context, filter *project.QueryFilter, exec ...core.DBExecutor) ([]project.Project, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var projects []project.Project
	for _, prj := range data.projects {
		if filter != nil {
			if filter.Search != "" && !matchesSearch(filter.Search, prj.Title, prj.Description, prj.Category) {
				continue
			}
			if filter.SupervisorID != "" && prj.SupervisorID != filter.SupervisorID {
				continue
			}
			if filter.Status != "" && prj.Status != filter.Status {
				continue
			}
			if filter.EligibleOnly && !prj.Eligible() {
				continue
			}
		}
		projects = append(projects, prj)
	}
	sort.Slice(projects, func(i, j int) bool {
		if !projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].CreatedAt.Before(projects[j].CreatedAt)
		}
		return projects[i].ID < projects[j].ID
	})
	return projects, nil
}

func (repo *projectRepository) CountProjects(ctx context.Context, eligibleOnly bool, exec ...core.DBExecutor) (int, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if !eligibleOnly {
		return len(data.projects), nil
	}
	var cnt int
	for _, prj := range data.projects {
		if prj.Eligible() {
			cnt++
		}
	}
	return cnt, nil
}

func (repo *projectRepository) UpdateProject(ctx context.Context, prj project.Project, isAvailable *bool, exec ...core.DBExecutor) (project.Project, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if _, ok := data.projects[prj.ID]; !ok {
		return project.Project{}, project.ErrNotFound
	}
	if isAvailable != nil {
		prj.IsAvailable = *isAvailable
	}
	data.projects[prj.ID] = prj
	return prj, nil
}

func (repo *projectRepository) DeleteProjectsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var cnt int
	for _, id := range ids {
		if _, ok := data.projects[id]; ok {
			delete(data.projects, id)
			cnt++
		}
	}
	return cnt, nil
}
