package student

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core"
)

var (
	// errors
	ErrNotFound         = errors.New("student not found")
	ErrStudentAllocated = errors.New("student is covered by an active allocation")
)

type (
	Repository interface {
		CreateStudent(ctx context.Context, std Student, exec ...core.DBExecutor) (Student, error)
		GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (Student, error)
		GetStudentByUserID(ctx context.Context, userID string, exec ...core.DBExecutor) (Student, error)
		QueryStudents(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Student, error)
		CountStudents(ctx context.Context, exec ...core.DBExecutor) (int, error)
		UpdateStudent(ctx context.Context, std Student, exec ...core.DBExecutor) (Student, error)
		// SetCurrentGroup (re)assigns or clears (empty groupID) the owning
		// group of the given students.
		SetCurrentGroup(ctx context.Context, groupID string, studentIDs []string, exec ...core.DBExecutor) error
		DeleteStudentsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	// AllocationGuard answers occupancy questions owned by the allocation
	// package; defined here to avoid a dependency cycle.
	AllocationGuard interface {
		StudentAllocated(ctx context.Context, studentID string, exec ...core.DBExecutor) (bool, error)
		GroupAllocated(ctx context.Context, groupID string, exec ...core.DBExecutor) (bool, error)
	}

	Service struct {
		db     core.DB
		repo   Repository
		allocs AllocationGuard
	}
)

func NewService(db core.DB, repo Repository, allocGuard AllocationGuard) *Service {
	return &Service{db: db, repo: repo, allocs: allocGuard}
}

func (svc *Service) Enroll(ctx context.Context, ns NewStudent) (Student, error) {
	now := time.Now().UTC()
	return svc.repo.CreateStudent(ctx, Student{
		UserID:    ns.UserID,
		RegNo:     ns.RegNo,
		Program:   ns.Program,
		Year:      ns.Year,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *Service) GetByID(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudent(ctx, id)
}

func (svc *Service) GetByUserID(ctx context.Context, userID string) (Student, error) {
	return svc.repo.GetStudentByUserID(ctx, userID)
}

func (svc *Service) Filter(ctx context.Context, filter QueryFilter) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, &filter)
}

func (svc *Service) QueryAll(ctx context.Context) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, nil)
}

// Delete removes students. A student covered by an active allocation, solo
// or through their group, cannot be removed; the allocation must be cleared
// first so capacity bookkeeping stays consistent.
func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	return core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		for _, id := range ids {
			std, err := svc.repo.GetStudent(ctx, id, tx)
			if err != nil {
				return err
			}
			allocated, err := svc.allocs.StudentAllocated(ctx, std.ID, tx)
			if err != nil {
				return err
			}
			if !allocated && std.InGroup() {
				if allocated, err = svc.allocs.GroupAllocated(ctx, std.CurrentGroupID, tx); err != nil {
					return err
				}
			}
			if allocated {
				return errors.Wrapf(ErrStudentAllocated, "student %s", std.ID)
			}
		}
		_, err := svc.repo.DeleteStudentsByID(ctx, ids, tx)
		return err
	})
}
