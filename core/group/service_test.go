package group_test

import (
	"context"
	mrand "math/rand"
	"net/mail"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/allocation"
	"github.com/trezcool/miradi/core/group"
	"github.com/trezcool/miradi/core/student"
	"github.com/trezcool/miradi/core/user"
	emailsvc "github.com/trezcool/miradi/services/email"
	dummydb "github.com/trezcool/miradi/storage/database/dummy"
)

type fixture struct {
	db       *dummydb.DB
	students student.Repository
	users    user.Repository
	groups   group.Repository
	allocs   allocation.Repository
	svc      *group.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := dummydb.Open()
	f := &fixture{
		db:       db,
		students: dummydb.NewStudentRepository(db),
		users:    dummydb.NewUserRepository(db),
		groups:   dummydb.NewGroupRepository(db),
		allocs:   dummydb.NewAllocationRepository(db),
	}
	conf := &core.Config{AppName: "Miradi", DefaultFromEmail: mail.Address{Name: "Miradi", Address: "noreply@miradi.test"}}
	f.svc = group.NewService(
		db, f.groups, f.students, f.users, f.allocs, emailsvc.NewConsoleServiceMock(conf), conf,
	)
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

func (f *fixture) addStudents(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, f.addStudent(t, "s00"+string(rune('1'+i))).ID)
	}
	return ids
}

// memberCoverage flattens the paired groups and checks each student landed in
// exactly one.
func memberCoverage(t *testing.T, paired []group.PairedGroup, studentIDs []string) {
	t.Helper()
	seen := make(map[string]int)
	for _, pg := range paired {
		for _, id := range pg.Group.MemberIDs() {
			seen[id]++
		}
	}
	require.Len(t, seen, len(studentIDs))
	for _, id := range studentIDs {
		assert.Equal(t, 1, seen[id], "student %s", id)
	}
}

func TestService_Pair_individual(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ids := f.addStudents(t, 3)

	paired, err := f.svc.Pair(ctx, group.PairRequest{
		StudentIDs:  ids,
		PairingMode: group.PairingIndividual,
	}, "coord1", mrand.New(mrand.NewSource(1)))
	require.NoError(t, err)
	require.Len(t, paired, 3)
	memberCoverage(t, paired, ids)

	for _, pg := range paired {
		require.Len(t, pg.Group.Members, 1)
		assert.Equal(t, group.RoleLeader, pg.Group.Members[0].Role)
		assert.True(t, pg.Group.IsActive)
		assert.Equal(t, "coord1", pg.Group.CreatedByID)
		assert.Regexp(t, `^GRP_\d{4}_[0-9A-F]{4}$`, pg.Group.PublicID)
		assert.NoError(t, pg.Group.CheckSharedPassword(pg.TempPassword))

		std, err := f.students.GetStudent(ctx, pg.Group.Members[0].StudentID)
		require.NoError(t, err)
		assert.Equal(t, pg.Group.ID, std.CurrentGroupID)
	}
}

func TestService_Pair_pairs(t *testing.T) {
	f := setup(t)
	ids := f.addStudents(t, 5)

	paired, err := f.svc.Pair(context.Background(), group.PairRequest{
		StudentIDs:  ids,
		PairingMode: group.PairingPairs,
	}, "coord1", mrand.New(mrand.NewSource(42)))
	require.NoError(t, err)
	require.Len(t, paired, 3) // 2 + 2 + leftover of 1
	memberCoverage(t, paired, ids)

	sizes := []int{len(paired[0].Group.Members), len(paired[1].Group.Members), len(paired[2].Group.Members)}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	for _, pg := range paired {
		leader, ok := pg.Group.Leader()
		require.True(t, ok)
		assert.Equal(t, pg.Group.Members[0].StudentID, leader.StudentID)
	}
}

func TestService_Pair_mixed(t *testing.T) {
	f := setup(t)
	ids := f.addStudents(t, 5)

	paired, err := f.svc.Pair(context.Background(), group.PairRequest{
		StudentIDs:  ids,
		PairingMode: group.PairingMixed,
	}, "coord1", mrand.New(mrand.NewSource(42)))
	require.NoError(t, err)
	require.Len(t, paired, 2) // 3 + 2
	memberCoverage(t, paired, ids)
	assert.Len(t, paired[0].Group.Members, 3)
	assert.Len(t, paired[1].Group.Members, 2)
}

func TestService_Pair_seedDeterminesComposition(t *testing.T) {
	run := func(seed int64) [][]string {
		f := setup(t)
		ids := f.addStudents(t, 6)
		paired, err := f.svc.Pair(context.Background(), group.PairRequest{
			StudentIDs:  ids,
			PairingMode: group.PairingPairs,
		}, "coord1", mrand.New(mrand.NewSource(seed)))
		require.NoError(t, err)

		var members [][]string
		for _, pg := range paired {
			members = append(members, pg.Group.MemberIDs())
		}
		return members
	}

	assert.Equal(t, run(7), run(7))
}

func TestService_Pair_rejectsGroupedStudent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ids := f.addStudents(t, 3)

	_, err := f.svc.Pair(ctx, group.PairRequest{
		StudentIDs:  ids[:1],
		PairingMode: group.PairingIndividual,
	}, "coord1", nil)
	require.NoError(t, err)

	// the whole batch fails, nothing is formed for the other students
	_, err = f.svc.Pair(ctx, group.PairRequest{
		StudentIDs:  ids,
		PairingMode: group.PairingPairs,
	}, "coord1", mrand.New(mrand.NewSource(1)))
	assert.Equal(t, group.ErrStudentGrouped, errors.Cause(err))

	groups, err := f.svc.QueryAll(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestService_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ids := f.addStudents(t, 2)

	paired, err := f.svc.Pair(ctx, group.PairRequest{
		StudentIDs:  ids,
		PairingMode: group.PairingPairs,
	}, "coord1", mrand.New(mrand.NewSource(1)))
	require.NoError(t, err)
	grp := paired[0].Group

	require.NoError(t, f.svc.Delete(ctx, grp.ID))

	_, err = f.svc.GetByID(ctx, grp.ID)
	assert.Equal(t, group.ErrNotFound, errors.Cause(err))
	for _, id := range ids {
		std, err := f.students.GetStudent(ctx, id)
		require.NoError(t, err)
		assert.False(t, std.InGroup())
	}
}

func TestService_Delete_allocatedGroupGuard(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ids := f.addStudents(t, 2)

	paired, err := f.svc.Pair(ctx, group.PairRequest{
		StudentIDs:  ids,
		PairingMode: group.PairingPairs,
	}, "coord1", mrand.New(mrand.NewSource(1)))
	require.NoError(t, err)
	grp := paired[0].Group

	now := time.Now().UTC()
	_, err = f.allocs.CreateAllocation(ctx, allocation.Allocation{
		ProjectID:     "p1",
		SupervisorID:  "sup1",
		Target:        allocation.GroupTarget(grp.ID),
		Phase:         allocation.PhaseManual,
		Status:        allocation.StatusActive,
		AllocatedByID: "coord1",
		AllocatedAt:   now,
		UpdatedAt:     now,
	})
	require.NoError(t, err)

	err = f.svc.Delete(ctx, grp.ID)
	assert.Equal(t, group.ErrGroupAllocated, errors.Cause(err))

	// members are untouched
	std, err := f.students.GetStudent(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, grp.ID, std.CurrentGroupID)
}

func TestService_RequestSplit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ids := f.addStudents(t, 3)

	paired, err := f.svc.Pair(ctx, group.PairRequest{
		StudentIDs:  ids[:2],
		PairingMode: group.PairingPairs,
	}, "coord1", mrand.New(mrand.NewSource(1)))
	require.NoError(t, err)
	grp := paired[0].Group

	req, err := f.svc.RequestSplit(ctx, group.NewSplitRequest{
		GroupID: grp.ID,
		Reason:  "schedule conflict",
	}, ids[0])
	require.NoError(t, err)
	assert.Equal(t, group.SplitPending, req.Status)
	assert.Equal(t, ids[0], req.RequesterID)

	// only one pending request per student per group
	_, err = f.svc.RequestSplit(ctx, group.NewSplitRequest{
		GroupID: grp.ID,
		Reason:  "still unhappy",
	}, ids[0])
	assert.Equal(t, group.ErrPendingSplitExists, errors.Cause(err))

	// outsiders cannot request a split
	_, err = f.svc.RequestSplit(ctx, group.NewSplitRequest{
		GroupID: grp.ID,
		Reason:  "not even in it",
	}, ids[2])
	assert.Equal(t, group.ErrNotGroupMember, errors.Cause(err))
}

func TestService_RejectSplit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ids := f.addStudents(t, 2)

	paired, err := f.svc.Pair(ctx, group.PairRequest{
		StudentIDs:  ids,
		PairingMode: group.PairingPairs,
	}, "coord1", mrand.New(mrand.NewSource(1)))
	require.NoError(t, err)
	grp := paired[0].Group

	req, err := f.svc.RequestSplit(ctx, group.NewSplitRequest{
		GroupID: grp.ID,
		Reason:  "schedule conflict",
	}, ids[0])
	require.NoError(t, err)

	rejected, err := f.svc.RejectSplit(ctx, req.ID, "coord1", "talk it out first")
	require.NoError(t, err)
	assert.Equal(t, group.SplitRejected, rejected.Status)
	assert.Equal(t, "coord1", rejected.ReviewedByID)
	assert.Equal(t, "talk it out first", rejected.ReviewNotes)
	assert.False(t, rejected.ReviewedAt.IsZero())

	// the group is untouched and the member stays
	refreshed, err := f.svc.GetByID(ctx, grp.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.HasMember(ids[0]))

	_, err = f.svc.RejectSplit(ctx, req.ID, "coord1", "again")
	assert.Equal(t, group.ErrSplitNotPending, errors.Cause(err))

	// a settled request frees the student to file a new one
	_, err = f.svc.RequestSplit(ctx, group.NewSplitRequest{
		GroupID: grp.ID,
		Reason:  "second attempt",
	}, ids[0])
	assert.NoError(t, err)
}
