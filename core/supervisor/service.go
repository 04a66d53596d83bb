package supervisor

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core"
)

var (
	// errors
	ErrNotFound = errors.New("supervisor not found")
	// ErrLoadOutOfRange signals an AdjustLoad call that would drive
	// CurrentLoad negative or past MaxCapacity.
	ErrLoadOutOfRange = errors.New("supervisor load adjustment out of range")
)

type (
	Repository interface {
		CreateSupervisor(ctx context.Context, sup Supervisor, exec ...core.DBExecutor) (Supervisor, error)
		GetSupervisor(ctx context.Context, id string, exec ...core.DBExecutor) (Supervisor, error)
		GetSupervisorByUserID(ctx context.Context, userID string, exec ...core.DBExecutor) (Supervisor, error)
		// GetSupervisorForUpdate locks the supervisor row for the duration of
		// the surrounding transaction.
		GetSupervisorForUpdate(ctx context.Context, id string, exec core.DBExecutor) (Supervisor, error)
		QuerySupervisors(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Supervisor, error)
		UpdateSupervisor(ctx context.Context, sup Supervisor, exec ...core.DBExecutor) (Supervisor, error)
		// AdjustLoad adds delta to CurrentLoad, failing with ErrLoadOutOfRange
		// when the result would be negative or exceed MaxCapacity. Callers
		// must hold the row lock (GetSupervisorForUpdate) first.
		AdjustLoad(ctx context.Context, id string, delta int, exec core.DBExecutor) error
		DeleteSupervisorsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Register(ctx context.Context, ns NewSupervisor) (Supervisor, error) {
	now := time.Now().UTC()
	return svc.repo.CreateSupervisor(ctx, Supervisor{
		UserID:      ns.UserID,
		Department:  ns.Department,
		MaxCapacity: ns.MaxCapacity,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) GetByID(ctx context.Context, id string) (Supervisor, error) {
	return svc.repo.GetSupervisor(ctx, id)
}

func (svc *Service) GetByUserID(ctx context.Context, userID string) (Supervisor, error) {
	return svc.repo.GetSupervisorByUserID(ctx, userID)
}

func (svc *Service) QueryAll(ctx context.Context) ([]Supervisor, error) {
	return svc.repo.QuerySupervisors(ctx, nil)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	_, err := svc.repo.DeleteSupervisorsByID(ctx, ids)
	return err
}
