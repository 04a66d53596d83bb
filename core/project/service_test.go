package project_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/miradi/core/allocation"
	"github.com/trezcool/miradi/core/project"
	"github.com/trezcool/miradi/core/supervisor"
	dummydb "github.com/trezcool/miradi/storage/database/dummy"
)

type fixture struct {
	projects    project.Repository
	supervisors supervisor.Repository
	allocs      allocation.Repository
	svc         *project.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := dummydb.Open()
	f := &fixture{
		projects:    dummydb.NewProjectRepository(db),
		supervisors: dummydb.NewSupervisorRepository(db),
		allocs:      dummydb.NewAllocationRepository(db),
	}
	f.svc = project.NewService(db, f.projects, f.supervisors, f.allocs)
	return f
}

func (f *fixture) addProject(t *testing.T, title string) project.Project {
	t.Helper()
	sup, err := f.supervisors.CreateSupervisor(context.Background(), supervisor.Supervisor{
		UserID: "u-" + title, Department: "CS", MaxCapacity: 5,
	})
	require.NoError(t, err)
	prj, err := f.projects.CreateProject(context.Background(), project.Project{
		SupervisorID: sup.ID,
		Title:        title,
		MaxStudents:  2,
		IsAvailable:  true,
		Status:       project.StatusApproved,
	})
	require.NoError(t, err)
	return prj
}

func (f *fixture) allocate(t *testing.T, prj project.Project, status string) allocation.Allocation {
	t.Helper()
	now := time.Now().UTC()
	alloc, err := f.allocs.CreateAllocation(context.Background(), allocation.Allocation{
		ProjectID:     prj.ID,
		SupervisorID:  prj.SupervisorID,
		Target:        allocation.StudentTarget("s-" + prj.ID),
		Phase:         allocation.PhaseManual,
		Status:        status,
		AllocatedByID: "coord1",
		AllocatedAt:   now,
		UpdatedAt:     now,
	})
	require.NoError(t, err)
	return alloc
}

func TestService_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	prj := f.addProject(t, "free")

	require.NoError(t, f.svc.Delete(ctx, prj.ID))

	_, err := f.svc.GetByID(ctx, prj.ID)
	assert.Equal(t, project.ErrNotFound, errors.Cause(err))
}

func TestService_Delete_allocatedProjectGuard(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	prj := f.addProject(t, "taken")
	f.allocate(t, prj, allocation.StatusActive)

	err := f.svc.Delete(ctx, prj.ID)
	assert.Equal(t, project.ErrProjectAllocated, errors.Cause(err))

	// both the project and its allocation survive
	_, err = f.svc.GetByID(ctx, prj.ID)
	require.NoError(t, err)
	allocs, err := f.allocs.QueryAllocations(ctx, &allocation.QueryFilter{ProjectID: prj.ID})
	require.NoError(t, err)
	assert.Len(t, allocs, 1)
}

func TestService_Delete_settledAllocationDoesNotBlock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	prj := f.addProject(t, "done")
	f.allocate(t, prj, allocation.StatusCompleted)

	assert.NoError(t, f.svc.Delete(ctx, prj.ID))
}

func TestService_Delete_batchIsAllOrNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	free := f.addProject(t, "free")
	taken := f.addProject(t, "taken")
	f.allocate(t, taken, allocation.StatusActive)

	err := f.svc.Delete(ctx, free.ID, taken.ID)
	assert.Equal(t, project.ErrProjectAllocated, errors.Cause(err))

	// the free project was not deleted alongside the failure
	_, err = f.svc.GetByID(ctx, free.ID)
	assert.NoError(t, err)
}
