package allocation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/allocation"
	"github.com/trezcool/miradi/core/group"
	"github.com/trezcool/miradi/core/project"
	"github.com/trezcool/miradi/core/student"
	"github.com/trezcool/miradi/core/supervisor"
	"github.com/trezcool/miradi/core/user"
	dummydb "github.com/trezcool/miradi/storage/database/dummy"
)

type fixture struct {
	db          *dummydb.DB
	students    student.Repository
	supervisors supervisor.Repository
	projects    project.Repository
	groups      group.Repository
	allocs      allocation.Repository
	notifier    *captureNotifier
	svc         *allocation.Service
}

// captureNotifier records events synchronously for assertions.
type captureNotifier struct {
	mu     sync.Mutex
	events []allocation.Event
}

func (n *captureNotifier) Notify(events ...allocation.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func (n *captureNotifier) byType(typ string) []allocation.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []allocation.Event
	for _, evt := range n.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

func testConfig() *core.Config {
	return &core.Config{
		Allocation: core.AllocationConfig{
			RunTimeout:    5 * time.Second,
			MaxRounds:     1000,
			MaxRunRetries: 2,
		},
	}
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := dummydb.Open()
	f := &fixture{
		db:          db,
		students:    dummydb.NewStudentRepository(db),
		supervisors: dummydb.NewSupervisorRepository(db),
		projects:    dummydb.NewProjectRepository(db),
		groups:      dummydb.NewGroupRepository(db),
		allocs:      dummydb.NewAllocationRepository(db),
		notifier:    &captureNotifier{},
	}
	f.svc = allocation.NewService(
		db, f.allocs, f.students, f.supervisors, f.projects, f.groups, f.notifier, testConfig(), nil,
	)
	return f
}

func (f *fixture) addSupervisor(t *testing.T, maxCapacity int) supervisor.Supervisor {
	t.Helper()
	sup, err := f.supervisors.CreateSupervisor(context.Background(), supervisor.Supervisor{
		UserID:      "u-" + t.Name(),
		Department:  "CS",
		MaxCapacity: maxCapacity,
	})
	require.NoError(t, err)
	return sup
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

func (f *fixture) addProject(t *testing.T, supID string, maxStudents int) project.Project {
	t.Helper()
	prj, err := f.projects.CreateProject(context.Background(), project.Project{
		SupervisorID: supID,
		Title:        "Project " + t.Name(),
		MaxStudents:  maxStudents,
		IsAvailable:  true,
		Status:       project.StatusApproved,
	})
	require.NoError(t, err)
	return prj
}

func (f *fixture) addGroup(t *testing.T, memberIDs ...string) group.Group {
	t.Helper()
	now := time.Now().UTC()
	grp := group.Group{PublicID: "GRP_TEST", IsActive: true, CreatedAt: now, UpdatedAt: now}
	for i, id := range memberIDs {
		role := group.RoleMember
		if i == 0 {
			role = group.RoleLeader
		}
		grp.Members = append(grp.Members, group.Member{StudentID: id, Role: role, JoinedAt: now})
	}
	grp, err := f.groups.CreateGroup(context.Background(), grp)
	require.NoError(t, err)
	require.NoError(t, f.students.SetCurrentGroup(context.Background(), grp.ID, memberIDs))
	return grp
}

func (f *fixture) supervisorLoad(t *testing.T, id string) int {
	t.Helper()
	sup, err := f.supervisors.GetSupervisor(context.Background(), id)
	require.NoError(t, err)
	return sup.CurrentLoad
}

func TestService_SubmitPreferences(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	p1 := f.addProject(t, sup.ID, 2)
	p2 := f.addProject(t, sup.ID, 2)
	std := f.addStudent(t, "s001")

	prefs, err := f.svc.SubmitPreferences(ctx, std.ID, allocation.SubmitPreferences{
		Preferences: []allocation.PreferenceInput{
			{ProjectID: p1.ID, Rank: 2},
			{ProjectID: p2.ID, Rank: 1},
		},
	})
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, p2.ID, prefs[0].ProjectID) // sorted by rank
	assert.Equal(t, p1.ID, prefs[1].ProjectID)

	// resubmission replaces the whole list
	_, err = f.svc.SubmitPreferences(ctx, std.ID, allocation.SubmitPreferences{
		Preferences: []allocation.PreferenceInput{{ProjectID: p1.ID, Rank: 1}},
	})
	require.NoError(t, err)

	prefs, err = f.svc.GetMyPreferences(ctx, std.ID)
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, p1.ID, prefs[0].ProjectID)
}

func TestService_SubmitPreferences_rejectsIneligibleProject(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	pending, err := f.projects.CreateProject(ctx, project.Project{
		SupervisorID: sup.ID,
		Title:        "not yet approved",
		MaxStudents:  2,
		IsAvailable:  true,
		Status:       project.StatusPendingApproval,
	})
	require.NoError(t, err)
	std := f.addStudent(t, "s001")

	_, err = f.svc.SubmitPreferences(ctx, std.ID, allocation.SubmitPreferences{
		Preferences: []allocation.PreferenceInput{{ProjectID: pending.ID, Rank: 1}},
	})
	require.Error(t, err)
	var vErr *core.ValidationError
	assert.True(t, errors.As(err, &vErr))

	// nothing saved
	prefs, err := f.svc.GetMyPreferences(ctx, std.ID)
	require.NoError(t, err)
	assert.Empty(t, prefs)
}

func TestService_SubmitPreferences_unknownStudent(t *testing.T) {
	f := setup(t)
	sup := f.addSupervisor(t, 5)
	p1 := f.addProject(t, sup.ID, 2)

	_, err := f.svc.SubmitPreferences(context.Background(), "nope", allocation.SubmitPreferences{
		Preferences: []allocation.PreferenceInput{{ProjectID: p1.ID, Rank: 1}},
	})
	assert.Equal(t, student.ErrNotFound, errors.Cause(err))
}

func TestService_ManualAllocate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	prj := f.addProject(t, sup.ID, 2)
	std := f.addStudent(t, "s001")

	alloc, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID:       prj.ID,
		AllocatedToType: allocation.TargetStudent,
		AllocatedToID:   std.ID,
	}, "coord1")
	require.NoError(t, err)

	assert.Equal(t, allocation.PhaseManual, alloc.Phase)
	assert.Equal(t, allocation.StatusActive, alloc.Status)
	assert.Equal(t, sup.ID, alloc.SupervisorID)
	assert.Equal(t, "coord1", alloc.AllocatedByID)
	assert.Equal(t, 1, f.supervisorLoad(t, sup.ID))
	assert.Len(t, f.notifier.byType(allocation.EventCreated), 1)

	// a target holds at most one active allocation
	_, err = f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID:       prj.ID,
		AllocatedToType: allocation.TargetStudent,
		AllocatedToID:   std.ID,
	}, "coord1")
	assert.Equal(t, allocation.ErrAlreadyAllocated, errors.Cause(err))
}

func TestService_ManualAllocate_groupedStudentCannotGoSolo(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	prj := f.addProject(t, sup.ID, 3)
	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")
	f.addGroup(t, s1.ID, s2.ID)

	_, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID:       prj.ID,
		AllocatedToType: allocation.TargetStudent,
		AllocatedToID:   s1.ID,
	}, "coord1")
	assert.Equal(t, allocation.ErrStudentInGroup, errors.Cause(err))
	assert.Equal(t, 0, f.supervisorLoad(t, sup.ID))
}

func TestService_ManualAllocate_projectCapacity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	prj := f.addProject(t, sup.ID, 1)
	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")

	_, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: prj.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: s1.ID,
	}, "coord1")
	require.NoError(t, err)

	_, err = f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: prj.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: s2.ID,
	}, "coord1")
	assert.Equal(t, allocation.ErrProjectAtCapacity, errors.Cause(err))
	assert.Equal(t, 1, f.supervisorLoad(t, sup.ID))
}

func TestService_ManualAllocate_supervisorCapacitySpansProjects(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 1)
	p1 := f.addProject(t, sup.ID, 2)
	p2 := f.addProject(t, sup.ID, 2)
	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")

	_, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: p1.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: s1.ID,
	}, "coord1")
	require.NoError(t, err)

	_, err = f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: p2.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: s2.ID,
	}, "coord1")
	assert.Equal(t, allocation.ErrSupervisorAtCapacity, errors.Cause(err))
}

func TestService_ManualAllocate_groupConsumesMemberSeats(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	prj := f.addProject(t, sup.ID, 2)
	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")
	s3 := f.addStudent(t, "s003")
	grp := f.addGroup(t, s1.ID, s2.ID, s3.ID)

	// 3 members cannot fit 2 seats
	_, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: prj.ID, AllocatedToType: allocation.TargetGroup, AllocatedToID: grp.ID,
	}, "coord1")
	assert.Equal(t, allocation.ErrProjectAtCapacity, errors.Cause(err))

	bigger := f.addProject(t, sup.ID, 3)
	alloc, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: bigger.ID, AllocatedToType: allocation.TargetGroup, AllocatedToID: grp.ID,
	}, "coord1")
	require.NoError(t, err)
	assert.Equal(t, allocation.GroupTarget(grp.ID), alloc.Target)
	assert.Equal(t, 1, f.supervisorLoad(t, sup.ID)) // one slot per allocation, not per member
}

func TestService_ManualAllocate_rollsBackOnFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	prj := f.addProject(t, sup.ID, 2)
	std := f.addStudent(t, "s001")

	boom := errors.New("boom")
	svc := allocation.NewService(
		f.db, failingAllocRepo{Repository: f.allocs, createErr: boom},
		f.students, f.supervisors, f.projects, f.groups, f.notifier, testConfig(), nil,
	)

	_, err := svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: prj.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: std.ID,
	}, "coord1")
	require.Error(t, err)
	assert.Equal(t, boom, errors.Cause(err))

	// the load increment rolled back with the failed allocation
	assert.Equal(t, 0, f.supervisorLoad(t, sup.ID))
	assert.Empty(t, f.notifier.byType(allocation.EventCreated))
}

func TestService_Update_statusTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	prj := f.addProject(t, sup.ID, 2)
	std := f.addStudent(t, "s001")

	alloc, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: prj.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: std.ID,
	}, "coord1")
	require.NoError(t, err)
	require.Equal(t, 1, f.supervisorLoad(t, sup.ID))

	// active -> cancelled releases the slot
	alloc, err = f.svc.Update(ctx, alloc.ID, allocation.UpdateAllocation{Status: allocation.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, allocation.StatusCancelled, alloc.Status)
	assert.Equal(t, 0, f.supervisorLoad(t, sup.ID))

	// cancelled -> active re-takes it
	alloc, err = f.svc.Update(ctx, alloc.ID, allocation.UpdateAllocation{Status: allocation.StatusActive})
	require.NoError(t, err)
	assert.Equal(t, allocation.StatusActive, alloc.Status)
	assert.Equal(t, 1, f.supervisorLoad(t, sup.ID))

	// completed keeps history but frees capacity
	_, err = f.svc.Update(ctx, alloc.ID, allocation.UpdateAllocation{Status: allocation.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, 0, f.supervisorLoad(t, sup.ID))
}

func TestService_Update_reactivationChecksCapacity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 1)
	p1 := f.addProject(t, sup.ID, 2)
	p2 := f.addProject(t, sup.ID, 2)
	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")

	alloc, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: p1.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: s1.ID,
	}, "coord1")
	require.NoError(t, err)

	// free the slot, hand it to s2
	_, err = f.svc.Update(ctx, alloc.ID, allocation.UpdateAllocation{Status: allocation.StatusCancelled})
	require.NoError(t, err)
	_, err = f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: p2.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: s2.ID,
	}, "coord1")
	require.NoError(t, err)

	// the supervisor is full again: reactivation must fail
	_, err = f.svc.Update(ctx, alloc.ID, allocation.UpdateAllocation{Status: allocation.StatusActive})
	assert.Equal(t, allocation.ErrSupervisorAtCapacity, errors.Cause(err))
	assert.Equal(t, 1, f.supervisorLoad(t, sup.ID))
}

func TestService_Update_moveSupervisor(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	supA := f.addSupervisor(t, 2)
	supB := f.addSupervisor(t, 2)
	prj := f.addProject(t, supA.ID, 2)
	std := f.addStudent(t, "s001")

	alloc, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: prj.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: std.ID,
	}, "coord1")
	require.NoError(t, err)

	alloc, err = f.svc.Update(ctx, alloc.ID, allocation.UpdateAllocation{SupervisorID: supB.ID})
	require.NoError(t, err)
	assert.Equal(t, supB.ID, alloc.SupervisorID)
	assert.Equal(t, 0, f.supervisorLoad(t, supA.ID))
	assert.Equal(t, 1, f.supervisorLoad(t, supB.ID))
}

func TestService_Delete_releasesCapacity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	prj := f.addProject(t, sup.ID, 2)
	std := f.addStudent(t, "s001")

	alloc, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: prj.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: std.ID,
	}, "coord1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, alloc.ID))
	assert.Equal(t, 0, f.supervisorLoad(t, sup.ID))
	assert.Len(t, f.notifier.byType(allocation.EventDeleted), 1)

	_, err = f.svc.GetByID(ctx, alloc.ID)
	assert.Equal(t, allocation.ErrNotFound, errors.Cause(err))

	// the target can be allocated again
	_, err = f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: prj.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: std.ID,
	}, "coord1")
	assert.NoError(t, err)
}

func TestService_RunMatching(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	supA := f.addSupervisor(t, 3)
	supB := f.addSupervisor(t, 3)
	p1 := f.addProject(t, supA.ID, 1)
	p2 := f.addProject(t, supA.ID, 2)
	p3 := f.addProject(t, supB.ID, 2)

	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")
	s3 := f.addStudent(t, "s003")
	s4 := f.addStudent(t, "s004")
	grp := f.addGroup(t, s3.ID, s4.ID)

	submit := func(stdID string, choices ...allocation.PreferenceInput) {
		_, err := f.svc.SubmitPreferences(ctx, stdID, allocation.SubmitPreferences{Preferences: choices})
		require.NoError(t, err)
	}
	submit(s1.ID, allocation.PreferenceInput{ProjectID: p1.ID, Rank: 1})
	submit(s2.ID, allocation.PreferenceInput{ProjectID: p1.ID, Rank: 1}, allocation.PreferenceInput{ProjectID: p2.ID, Rank: 2})
	submit(s3.ID, allocation.PreferenceInput{ProjectID: p3.ID, Rank: 1}) // group leader's list

	report, err := f.svc.RunMatching(ctx, "coord1")
	require.NoError(t, err)

	assert.Equal(t, 3, report.AllocatedCount) // s1, s2 and the group
	assert.Equal(t, 0, report.UnallocatedCount)
	assert.Equal(t, 0, report.Retries)
	assert.Greater(t, report.Rounds, 0)

	allocs, err := f.svc.QueryAll(ctx)
	require.NoError(t, err)
	require.Len(t, allocs, 3)
	byTarget := make(map[allocation.Target]allocation.Allocation, len(allocs))
	for _, alloc := range allocs {
		assert.Equal(t, allocation.PhasePreferenceMatch, alloc.Phase)
		assert.Equal(t, allocation.StatusActive, alloc.Status)
		byTarget[alloc.Target] = alloc
	}
	assert.Equal(t, p1.ID, byTarget[allocation.StudentTarget(s1.ID)].ProjectID)
	assert.Equal(t, p2.ID, byTarget[allocation.StudentTarget(s2.ID)].ProjectID)
	assert.Equal(t, p3.ID, byTarget[allocation.GroupTarget(grp.ID)].ProjectID)

	// cached loads reconcile with allocation rows
	assert.Equal(t, 2, f.supervisorLoad(t, supA.ID))
	assert.Equal(t, 1, f.supervisorLoad(t, supB.ID))

	// fill ratios for the touched projects
	assert.Equal(t, 1.0, report.PerProjectFill[p1.ID])
	assert.Equal(t, 0.5, report.PerProjectFill[p2.ID])
	assert.Equal(t, 1.0, report.PerProjectFill[p3.ID])

	assert.Len(t, f.notifier.byType(allocation.EventCreated), 3)
	assert.Len(t, f.notifier.byType(allocation.EventRunCompleted), 1)

	// a second run has nobody left to place
	report, err = f.svc.RunMatching(ctx, "coord1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.AllocatedCount)
}

func TestService_RunMatching_respectsExistingAllocations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 3)
	prj := f.addProject(t, sup.ID, 1)
	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")

	// s1 already holds the only seat via a manual allocation
	_, err := f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: prj.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: s1.ID,
	}, "coord1")
	require.NoError(t, err)

	_, err = f.svc.SubmitPreferences(ctx, s2.ID, allocation.SubmitPreferences{
		Preferences: []allocation.PreferenceInput{{ProjectID: prj.ID, Rank: 1}},
	})
	require.NoError(t, err)

	report, err := f.svc.RunMatching(ctx, "coord1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.AllocatedCount)
	assert.Equal(t, 1, report.UnallocatedCount)
	assert.Equal(t, 1, f.supervisorLoad(t, sup.ID))
}

func TestService_GetStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	prj := f.addProject(t, sup.ID, 2)
	_, err := f.projects.CreateProject(ctx, project.Project{
		SupervisorID: sup.ID, Title: "pending", MaxStudents: 2, IsAvailable: true, Status: project.StatusPendingApproval,
	})
	require.NoError(t, err)

	s1 := f.addStudent(t, "s001")
	f.addStudent(t, "s002")

	_, err = f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: prj.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: s1.ID,
	}, "coord1")
	require.NoError(t, err)

	status, err := f.svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, allocation.StatusReport{
		TotalStudents:     2,
		AllocatedCount:    1,
		UnallocatedCount:  1,
		TotalProjects:     2,
		AvailableProjects: 1,
	}, status)
}

func TestService_ResultsForRole(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	supA := f.addSupervisor(t, 5)
	supB, err := f.supervisors.CreateSupervisor(ctx, supervisor.Supervisor{UserID: "sup-b-user", Department: "EE", MaxCapacity: 5})
	require.NoError(t, err)
	pA := f.addProject(t, supA.ID, 2)
	pB := f.addProject(t, supB.ID, 2)

	s1, err := f.students.CreateStudent(ctx, student.Student{UserID: "std-1-user", RegNo: "s001"})
	require.NoError(t, err)
	s2 := f.addStudent(t, "s002")

	_, err = f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: pA.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: s1.ID,
	}, "coord1")
	require.NoError(t, err)
	_, err = f.svc.ManualAllocate(ctx, allocation.ManualAllocation{
		ProjectID: pB.ID, AllocatedToType: allocation.TargetStudent, AllocatedToID: s2.ID,
	}, "coord1")
	require.NoError(t, err)

	coordinator := user.User{ID: "coord-user", Roles: []string{user.RoleCoordinator}}
	all, err := f.svc.ResultsForRole(ctx, coordinator)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	supUser := user.User{ID: "sup-b-user", Roles: []string{user.RoleSupervisor}}
	mine, err := f.svc.ResultsForRole(ctx, supUser)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, supB.ID, mine[0].SupervisorID)

	stdUser := user.User{ID: "std-1-user", Roles: []string{user.RoleStudent}}
	own, err := f.svc.ResultsForRole(ctx, stdUser)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, allocation.StudentTarget(s1.ID), own[0].Target)

	_, err = f.svc.ResultsForRole(ctx, user.User{ID: "nobody"})
	assert.Error(t, err)
}

func TestService_ApproveSplit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")
	grp := f.addGroup(t, s1.ID, s2.ID)

	req, err := f.groups.CreateSplitRequest(ctx, group.SplitRequest{
		GroupID:     grp.ID,
		RequesterID: s2.ID,
		Reason:      "irreconcilable schedules",
		Status:      group.SplitPending,
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)

	approved, alloc, err := f.svc.ApproveSplit(ctx, req.ID, "coord1")
	require.NoError(t, err)
	assert.Nil(t, alloc) // no replacement project proposed
	assert.Equal(t, group.SplitApproved, approved.Status)
	assert.Equal(t, "coord1", approved.ReviewedByID)

	refreshed, err := f.groups.GetGroup(ctx, grp.ID)
	require.NoError(t, err)
	assert.False(t, refreshed.HasMember(s2.ID))

	std, err := f.students.GetStudent(ctx, s2.ID)
	require.NoError(t, err)
	assert.False(t, std.InGroup())

	// a settled request cannot be approved twice
	_, _, err = f.svc.ApproveSplit(ctx, req.ID, "coord1")
	assert.Equal(t, group.ErrSplitNotPending, errors.Cause(err))
}

func TestService_ApproveSplit_withProposedProject(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 5)
	prj := f.addProject(t, sup.ID, 2)
	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")
	grp := f.addGroup(t, s1.ID, s2.ID)

	req, err := f.groups.CreateSplitRequest(ctx, group.SplitRequest{
		GroupID:           grp.ID,
		RequesterID:       s2.ID,
		Reason:            "wants a different topic",
		Status:            group.SplitPending,
		ProposedProjectID: prj.ID,
		CreatedAt:         time.Now().UTC(),
	})
	require.NoError(t, err)

	approved, alloc, err := f.svc.ApproveSplit(ctx, req.ID, "coord1")
	require.NoError(t, err)
	assert.Equal(t, group.SplitApproved, approved.Status)
	require.NotNil(t, alloc)
	assert.Equal(t, allocation.PhaseOverride, alloc.Phase)
	assert.Equal(t, prj.ID, alloc.ProjectID)
	assert.Equal(t, allocation.TargetGroup, alloc.Target.Type)

	// the requester now leads their own singleton group
	newGrp, err := f.groups.GetGroup(ctx, alloc.Target.ID)
	require.NoError(t, err)
	require.Len(t, newGrp.Members, 1)
	assert.Equal(t, s2.ID, newGrp.Members[0].StudentID)
	assert.Equal(t, group.RoleLeader, newGrp.Members[0].Role)

	std, err := f.students.GetStudent(ctx, s2.ID)
	require.NoError(t, err)
	assert.Equal(t, newGrp.ID, std.CurrentGroupID)

	assert.Equal(t, 1, f.supervisorLoad(t, sup.ID))
}

func TestService_RunMatching_retriesOnStaleSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 3)
	prj := f.addProject(t, sup.ID, 2)
	s1 := f.addStudent(t, "s001")
	s2 := f.addStudent(t, "s002")

	for _, id := range []string{s1.ID, s2.ID} {
		_, err := f.svc.SubmitPreferences(ctx, id, allocation.SubmitPreferences{
			Preferences: []allocation.PreferenceInput{{ProjectID: prj.ID, Rank: 1}},
		})
		require.NoError(t, err)
	}

	// sneak a conflicting allocation for s1 into the snapshot transaction,
	// right after the engine read the active set; the first apply must detect
	// the conflict and the whole run must retry from a fresh snapshot
	hooked := &hookedAllocRepo{Repository: f.allocs}
	hooked.onQueryAllocations = func(exec ...core.DBExecutor) {
		hooked.onQueryAllocations = nil // fire once
		now := time.Now().UTC()
		_, err := f.allocs.CreateAllocation(ctx, allocation.Allocation{
			ProjectID:     prj.ID,
			SupervisorID:  sup.ID,
			Target:        allocation.StudentTarget(s1.ID),
			Phase:         allocation.PhaseManual,
			Status:        allocation.StatusActive,
			AllocatedByID: "coord2",
			AllocatedAt:   now,
			UpdatedAt:     now,
		}, exec...)
		require.NoError(t, err)
	}
	svc := allocation.NewService(
		f.db, hooked, f.students, f.supervisors, f.projects, f.groups, f.notifier, testConfig(), nil,
	)

	report, err := svc.RunMatching(ctx, "coord1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Retries)
	assert.Equal(t, 1, report.AllocatedCount) // only s2 was left to place

	alloc, err := f.allocs.GetActiveAllocation(ctx, allocation.StudentTarget(s2.ID))
	require.NoError(t, err)
	assert.Equal(t, allocation.PhasePreferenceMatch, alloc.Phase)
}

func TestService_RunMatching_conflictExhaustsRetries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sup := f.addSupervisor(t, 3)
	prj := f.addProject(t, sup.ID, 2)
	std := f.addStudent(t, "s001")

	_, err := f.svc.SubmitPreferences(ctx, std.ID, allocation.SubmitPreferences{
		Preferences: []allocation.PreferenceInput{{ProjectID: prj.ID, Rank: 1}},
	})
	require.NoError(t, err)

	// every apply sees the target freshly taken, so every attempt goes stale
	svc := allocation.NewService(
		f.db, ghostAllocRepo{Repository: f.allocs}, f.students, f.supervisors, f.projects, f.groups,
		f.notifier, testConfig(), nil,
	)

	_, err = svc.RunMatching(ctx, "coord1")
	assert.Equal(t, allocation.ErrRunConflicted, errors.Cause(err))

	// nothing was committed along the way
	allocs, err := f.allocs.QueryAllocations(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, allocs)
	assert.Equal(t, 0, f.supervisorLoad(t, sup.ID))
}

// failingAllocRepo injects a failure after capacity was reserved to prove the
// surrounding transaction rolls everything back.
type failingAllocRepo struct {
	allocation.Repository
	createErr error
}

func (r failingAllocRepo) CreateAllocation(ctx context.Context, alloc allocation.Allocation, exec ...core.DBExecutor) (allocation.Allocation, error) {
	return allocation.Allocation{}, r.createErr
}

// hookedAllocRepo runs a hook after the active allocation set has been read,
// inside the same transaction.
type hookedAllocRepo struct {
	allocation.Repository
	onQueryAllocations func(exec ...core.DBExecutor)
}

func (r *hookedAllocRepo) QueryAllocations(ctx context.Context, filter *allocation.QueryFilter, exec ...core.DBExecutor) ([]allocation.Allocation, error) {
	allocs, err := r.Repository.QueryAllocations(ctx, filter, exec...)
	if err == nil && r.onQueryAllocations != nil {
		r.onQueryAllocations(exec...)
	}
	return allocs, err
}

// ghostAllocRepo reports every target as already allocated.
type ghostAllocRepo struct {
	allocation.Repository
}

func (r ghostAllocRepo) GetActiveAllocation(ctx context.Context, target allocation.Target, exec ...core.DBExecutor) (allocation.Allocation, error) {
	return allocation.Allocation{ID: "ghost", Target: target, Status: allocation.StatusActive}, nil
}
