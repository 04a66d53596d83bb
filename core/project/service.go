package project

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/supervisor"
)

var (
	// errors
	ErrNotFound         = errors.New("project not found")
	ErrProjectAllocated = errors.New("project still holds active allocations")
)

type (
	Repository interface {
		CreateProject(ctx context.Context, prj Project, exec ...core.DBExecutor) (Project, error)
		GetProject(ctx context.Context, id string, exec ...core.DBExecutor) (Project, error)
		// GetProjectForUpdate locks the project row for the duration of the
		// surrounding transaction.
		GetProjectForUpdate(ctx context.Context, id string, exec core.DBExecutor) (Project, error)
		QueryProjects(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Project, error)
		CountProjects(ctx context.Context, eligibleOnly bool, exec ...core.DBExecutor) (int, error)
		UpdateProject(ctx context.Context, prj Project, isAvailable *bool, exec ...core.DBExecutor) (Project, error)
		DeleteProjectsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	// AllocationGuard answers occupancy questions owned by the allocation
	// package; defined here to avoid a dependency cycle.
	AllocationGuard interface {
		ProjectAllocated(ctx context.Context, projectID string, exec ...core.DBExecutor) (bool, error)
	}

	Service struct {
		db      core.DB
		repo    Repository
		supRepo supervisor.Repository
		allocs  AllocationGuard
	}
)

func NewService(db core.DB, repo Repository, supRepo supervisor.Repository, allocGuard AllocationGuard) *Service {
	return &Service{db: db, repo: repo, supRepo: supRepo, allocs: allocGuard}
}

func (svc *Service) Propose(ctx context.Context, np NewProject) (Project, error) {
	if _, err := svc.supRepo.GetSupervisor(ctx, np.SupervisorID); err != nil {
		return Project{}, err
	}

	now := time.Now().UTC()
	return svc.repo.CreateProject(ctx, Project{
		SupervisorID:    np.SupervisorID,
		Title:           np.Title,
		Description:     np.Description,
		Category:        np.Category,
		DifficultyLevel: np.DifficultyLevel,
		RequiredSkills:  np.RequiredSkills,
		MaxStudents:     np.MaxStudents,
		IsAvailable:     true,
		Status:          StatusPendingApproval,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

func (svc *Service) GetByID(ctx context.Context, id string) (Project, error) {
	return svc.repo.GetProject(ctx, id)
}

func (svc *Service) Filter(ctx context.Context, filter QueryFilter) ([]Project, error) {
	return svc.repo.QueryProjects(ctx, &filter)
}

func (svc *Service) QueryAll(ctx context.Context) ([]Project, error) {
	return svc.repo.QueryProjects(ctx, nil)
}

func (svc *Service) Update(ctx context.Context, id string, up UpdateProject) (Project, error) {
	prj, err := svc.repo.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}

	if up.Title != "" {
		prj.Title = up.Title
	}
	if up.Description != "" {
		prj.Description = up.Description
	}
	if up.Category != "" {
		prj.Category = up.Category
	}
	if up.DifficultyLevel != "" {
		prj.DifficultyLevel = up.DifficultyLevel
	}
	if up.RequiredSkills != nil {
		prj.RequiredSkills = up.RequiredSkills
	}
	if up.MaxStudents > 0 {
		prj.MaxStudents = up.MaxStudents
	}
	if up.Status != "" {
		prj.Status = up.Status
	}
	prj.UpdatedAt = time.Now().UTC()

	return svc.repo.UpdateProject(ctx, prj, up.IsAvailable)
}

// Approve marks a pending project as an eligible allocation target.
func (svc *Service) Approve(ctx context.Context, id string) (Project, error) {
	return svc.Update(ctx, id, UpdateProject{Status: StatusApproved})
}

func (svc *Service) Reject(ctx context.Context, id string) (Project, error) {
	return svc.Update(ctx, id, UpdateProject{Status: StatusRejected})
}

// Delete removes projects. A project referenced by an active allocation
// cannot be removed; its allocations must be cleared first, or the cached
// supervisor loads would drift from the allocation rows.
func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	return core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		for _, id := range ids {
			prj, err := svc.repo.GetProject(ctx, id, tx)
			if err != nil {
				return err
			}
			allocated, err := svc.allocs.ProjectAllocated(ctx, prj.ID, tx)
			if err != nil {
				return err
			}
			if allocated {
				return errors.Wrapf(ErrProjectAllocated, "project %s", prj.ID)
			}
		}
		_, err := svc.repo.DeleteProjectsByID(ctx, ids, tx)
		return err
	})
}
