package allocation

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/project"
	"github.com/trezcool/miradi/core/supervisor"
)

var (
	// errors
	ErrProjectNotAvailable  = errors.New("project is not available for allocation")
	ErrProjectAtCapacity    = errors.New("project is at capacity")
	ErrSupervisorAtCapacity = errors.New("supervisor has reached maximum capacity")
)

// capacityTracker is the only writer of Supervisor.CurrentLoad. Project
// occupancy is derived by counting active allocations under the project's row
// lock, never cached. Every reserve/release executes inside the transaction
// carrying the Allocation row write it accompanies; nothing is observable
// outside the transaction until commit.
type capacityTracker struct {
	projects    project.Repository
	supervisors supervisor.Repository
	allocs      Repository
}

// reserve locks the project and supervisor rows (in that order, everywhere),
// verifies that `seats` more occupants fit the project and that one more
// allocation fits the supervisor, then takes the supervisor slot. The project
// row lock serializes concurrent occupancy checks.
func (t capacityTracker) reserve(ctx context.Context, tx core.DBTransactor, projectID string, seats int) (project.Project, supervisor.Supervisor, error) {
	prj, err := t.projects.GetProjectForUpdate(ctx, projectID, tx)
	if err != nil {
		return project.Project{}, supervisor.Supervisor{}, err
	}
	if !prj.Eligible() {
		return project.Project{}, supervisor.Supervisor{}, ErrProjectNotAvailable
	}

	sup, err := t.supervisors.GetSupervisorForUpdate(ctx, prj.SupervisorID, tx)
	if err != nil {
		return project.Project{}, supervisor.Supervisor{}, err
	}

	if err = t.checkAndHold(ctx, tx, prj, sup, seats); err != nil {
		return project.Project{}, supervisor.Supervisor{}, err
	}
	return prj, sup, nil
}

// checkAndHold validates capacity for rows already locked by the caller and
// takes the supervisor slot. Batch application locks all its rows up front
// and then calls this per assignment.
func (t capacityTracker) checkAndHold(ctx context.Context, tx core.DBTransactor, prj project.Project, sup supervisor.Supervisor, seats int) error {
	occupied, err := t.allocs.CountProjectOccupancy(ctx, prj.ID, tx)
	if err != nil {
		return errors.Wrap(err, "counting project occupancy")
	}
	if occupied+seats > prj.MaxStudents {
		return errors.Wrapf(ErrProjectAtCapacity, "project %s", prj.ID)
	}
	if sup.AtCapacity() {
		return errors.Wrapf(ErrSupervisorAtCapacity, "supervisor %s", sup.ID)
	}

	if err = t.supervisors.AdjustLoad(ctx, sup.ID, +1, tx); err != nil {
		return errors.Wrap(err, "incrementing supervisor load")
	}
	return nil
}

// release gives back the supervisor slot held by an allocation. The project
// side needs no counter update: occupancy is derived from allocation rows.
func (t capacityTracker) release(ctx context.Context, tx core.DBTransactor, supervisorID string) error {
	if _, err := t.supervisors.GetSupervisorForUpdate(ctx, supervisorID, tx); err != nil {
		return err
	}
	if err := t.supervisors.AdjustLoad(ctx, supervisorID, -1, tx); err != nil {
		return errors.Wrap(err, "decrementing supervisor load")
	}
	return nil
}

// move shifts one slot of load between supervisors, locking rows in ascending
// id order to keep the global lock order deadlock-free.
func (t capacityTracker) move(ctx context.Context, tx core.DBTransactor, fromID, toID string) error {
	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}
	if _, err := t.supervisors.GetSupervisorForUpdate(ctx, first, tx); err != nil {
		return err
	}
	if _, err := t.supervisors.GetSupervisorForUpdate(ctx, second, tx); err != nil {
		return err
	}

	sup, err := t.supervisors.GetSupervisor(ctx, toID, tx)
	if err != nil {
		return err
	}
	if sup.AtCapacity() {
		return errors.Wrapf(ErrSupervisorAtCapacity, "supervisor %s", toID)
	}

	if err = t.supervisors.AdjustLoad(ctx, toID, +1, tx); err != nil {
		return errors.Wrap(err, "incrementing supervisor load")
	}
	if err = t.supervisors.AdjustLoad(ctx, fromID, -1, tx); err != nil {
		return errors.Wrap(err, "decrementing supervisor load")
	}
	return nil
}
