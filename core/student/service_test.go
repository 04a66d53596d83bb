package student_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/miradi/core/allocation"
	"github.com/trezcool/miradi/core/group"
	"github.com/trezcool/miradi/core/student"
	dummydb "github.com/trezcool/miradi/storage/database/dummy"
)

type fixture struct {
	students student.Repository
	groups   group.Repository
	allocs   allocation.Repository
	svc      *student.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := dummydb.Open()
	f := &fixture{
		students: dummydb.NewStudentRepository(db),
		groups:   dummydb.NewGroupRepository(db),
		allocs:   dummydb.NewAllocationRepository(db),
	}
	f.svc = student.NewService(db, f.students, f.allocs)
	return f
}

func (f *fixture) addStudent(t *testing.T, regNo string) student.Student {
	t.Helper()
	std, err := f.students.CreateStudent(context.Background(), student.Student{
		UserID: "u-" + regNo,
		RegNo:  regNo,
	})
	require.NoError(t, err)
	return std
}

func (f *fixture) allocate(t *testing.T, target allocation.Target) {
	t.Helper()
	now := time.Now().UTC()
	_, err := f.allocs.CreateAllocation(context.Background(), allocation.Allocation{
		ProjectID:     "p1",
		SupervisorID:  "sup1",
		Target:        target,
		Phase:         allocation.PhaseManual,
		Status:        allocation.StatusActive,
		AllocatedByID: "coord1",
		AllocatedAt:   now,
		UpdatedAt:     now,
	})
	require.NoError(t, err)
}

func TestService_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	std := f.addStudent(t, "s001")

	require.NoError(t, f.svc.Delete(ctx, std.ID))

	_, err := f.svc.GetByID(ctx, std.ID)
	assert.Equal(t, student.ErrNotFound, errors.Cause(err))
}

func TestService_Delete_allocatedStudentGuard(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	std := f.addStudent(t, "s001")
	f.allocate(t, allocation.StudentTarget(std.ID))

	err := f.svc.Delete(ctx, std.ID)
	assert.Equal(t, student.ErrStudentAllocated, errors.Cause(err))

	// the student row and the allocation both survive
	_, err = f.svc.GetByID(ctx, std.ID)
	require.NoError(t, err)
	_, err = f.allocs.GetActiveAllocation(ctx, allocation.StudentTarget(std.ID))
	assert.NoError(t, err)
}

func TestService_Delete_allocatedGroupMemberGuard(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")

	now := time.Now().UTC()
	grp, err := f.groups.CreateGroup(ctx, group.Group{
		PublicID: "GRP_TEST",
		IsActive: true,
		Members: []group.Member{
			{StudentID: s1.ID, Role: group.RoleLeader, JoinedAt: now},
			{StudentID: s2.ID, Role: group.RoleMember, JoinedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, f.students.SetCurrentGroup(ctx, grp.ID, []string{s1.ID, s2.ID}))
	f.allocate(t, allocation.GroupTarget(grp.ID))

	err = f.svc.Delete(ctx, s2.ID)
	assert.Equal(t, student.ErrStudentAllocated, errors.Cause(err))

	_, err = f.svc.GetByID(ctx, s2.ID)
	assert.NoError(t, err)
}

func TestService_Delete_batchIsAllOrNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	free := f.addStudent(t, "s001")
	taken := f.addStudent(t, "s002")
	f.allocate(t, allocation.StudentTarget(taken.ID))

	err := f.svc.Delete(ctx, free.ID, taken.ID)
	assert.Equal(t, student.ErrStudentAllocated, errors.Cause(err))

	// the free student was not deleted alongside the failure
	_, err = f.svc.GetByID(ctx, free.ID)
	assert.NoError(t, err)
}
