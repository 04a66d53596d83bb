package allocation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/group"
	"github.com/trezcool/miradi/core/project"
	"github.com/trezcool/miradi/core/student"
	"github.com/trezcool/miradi/core/supervisor"
	"github.com/trezcool/miradi/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("allocation not found")
	ErrAlreadyAllocated = errors.New("target already has an active allocation")
	ErrStudentInGroup   = errors.New("student belongs to a group; allocate the group instead")
	// ErrRunConflicted signals a matching run that kept colliding with
	// concurrent allocation changes past the retry bound.
	ErrRunConflicted = errors.New("matching run conflicted with concurrent changes")

	// errStaleSnapshot aborts a batch whose snapshot no longer matches the
	// committed state; the whole run retries from a fresh snapshot.
	errStaleSnapshot = errors.New("matching snapshot is stale")
)

type (
	Repository interface {
		// ReplacePreferences atomically swaps a student's whole preference
		// list (delete-then-insert); never a partial patch.
		ReplacePreferences(ctx context.Context, studentID string, prefs []Preference, exec ...core.DBExecutor) ([]Preference, error)
		QueryPreferences(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]Preference, error)
		QueryAllPreferences(ctx context.Context, exec ...core.DBExecutor) ([]Preference, error)

		CreateAllocation(ctx context.Context, alloc Allocation, exec ...core.DBExecutor) (Allocation, error)
		GetAllocation(ctx context.Context, id string, exec ...core.DBExecutor) (Allocation, error)
		// GetActiveAllocation returns the single active allocation held by
		// the target, or ErrNotFound.
		GetActiveAllocation(ctx context.Context, target Target, exec ...core.DBExecutor) (Allocation, error)
		QueryAllocations(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Allocation, error)
		UpdateAllocation(ctx context.Context, alloc Allocation, exec ...core.DBExecutor) (Allocation, error)
		DeleteAllocation(ctx context.Context, id string, exec ...core.DBExecutor) error

		// CountProjectOccupancy sums seats held against a project by active
		// allocations: 1 per lone student, member count per group.
		CountProjectOccupancy(ctx context.Context, projectID string, exec ...core.DBExecutor) (int, error)
		// CountAllocatedStudents counts students covered by active
		// allocations, group members included.
		CountAllocatedStudents(ctx context.Context, exec ...core.DBExecutor) (int, error)
		GroupAllocated(ctx context.Context, groupID string, exec ...core.DBExecutor) (bool, error)
		StudentAllocated(ctx context.Context, studentID string, exec ...core.DBExecutor) (bool, error)
		ProjectAllocated(ctx context.Context, projectID string, exec ...core.DBExecutor) (bool, error)
	}

	Service struct {
		db          core.DB
		repo        Repository
		students    student.Repository
		supervisors supervisor.Repository
		projects    project.Repository
		groups      group.Repository
		tracker     capacityTracker
		notifier    Notifier
		conf        *core.Config
		logger      core.Logger
	}
)

func NewService(
	db core.DB,
	repo Repository,
	studentRepo student.Repository,
	supervisorRepo supervisor.Repository,
	projectRepo project.Repository,
	groupRepo group.Repository,
	notifier Notifier,
	conf *core.Config,
	logger core.Logger,
) *Service {
	return &Service{
		db:          db,
		repo:        repo,
		students:    studentRepo,
		supervisors: supervisorRepo,
		projects:    projectRepo,
		groups:      groupRepo,
		tracker:     capacityTracker{projects: projectRepo, supervisors: supervisorRepo, allocs: repo},
		notifier:    notifier,
		conf:        conf,
		logger:      logger,
	}
}

// SubmitPreferences replaces the student's whole preference list. Each listed
// project must be approved and available. Last write wins; there is no merge.
func (svc *Service) SubmitPreferences(ctx context.Context, studentID string, sp SubmitPreferences) ([]Preference, error) {
	now := time.Now().UTC()
	var saved []Preference

	err := core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		if _, err := svc.students.GetStudent(ctx, studentID, tx); err != nil {
			return err
		}

		prefs := make([]Preference, 0, len(sp.Preferences))
		for _, in := range sp.Preferences {
			prj, err := svc.projects.GetProject(ctx, in.ProjectID, tx)
			if err != nil {
				if errors.Cause(err) == project.ErrNotFound {
					return core.NewValidationError(err, core.FieldError{
						Field: "preferences",
						Error: fmt.Sprintf("project %s not found", in.ProjectID),
					})
				}
				return err
			}
			if !prj.Eligible() {
				return core.NewValidationError(ErrProjectNotAvailable, core.FieldError{
					Field: "preferences",
					Error: fmt.Sprintf("project %s is not available or not approved", in.ProjectID),
				})
			}
			prefs = append(prefs, Preference{
				StudentID: studentID,
				ProjectID: in.ProjectID,
				Rank:      in.Rank,
				CreatedAt: now,
			})
		}
		sort.Slice(prefs, func(i, j int) bool { return prefs[i].Rank < prefs[j].Rank })

		var err error
		saved, err = svc.repo.ReplacePreferences(ctx, studentID, prefs, tx)
		return err
	})
	return saved, err
}

func (svc *Service) GetMyPreferences(ctx context.Context, studentID string) ([]Preference, error) {
	return svc.repo.QueryPreferences(ctx, studentID)
}

// ManualAllocate directly assigns a project to a student or group.
func (svc *Service) ManualAllocate(ctx context.Context, ma ManualAllocation, actorID string) (Allocation, error) {
	var alloc Allocation

	err := core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		target := ma.Target()
		seats, err := svc.targetSeats(ctx, tx, target)
		if err != nil {
			return err
		}
		if err = svc.ensureUnallocated(ctx, tx, target); err != nil {
			return err
		}

		prj, _, err := svc.tracker.reserve(ctx, tx, ma.ProjectID, seats)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		alloc, err = svc.repo.CreateAllocation(ctx, Allocation{
			ProjectID:     prj.ID,
			SupervisorID:  prj.SupervisorID,
			Target:        target,
			Phase:         PhaseManual,
			Status:        StatusActive,
			AllocatedByID: actorID,
			AllocatedAt:   now,
			UpdatedAt:     now,
		}, tx)
		return errors.Wrap(err, "creating allocation")
	})
	if err != nil {
		return Allocation{}, err
	}

	svc.notify(Event{Type: EventCreated, Allocation: alloc, At: time.Now().UTC()})
	return alloc, nil
}

// Update modifies an existing allocation. A supervisor change moves one slot
// of load between the old and new supervisors in the same transaction; a
// status change in or out of `active` releases or re-takes capacity.
func (svc *Service) Update(ctx context.Context, id string, ua UpdateAllocation) (Allocation, error) {
	var alloc Allocation

	err := core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		var err error
		if alloc, err = svc.repo.GetAllocation(ctx, id, tx); err != nil {
			return err
		}

		wasActive := alloc.Status == StatusActive
		newStatus := alloc.Status
		if ua.Status != "" {
			newStatus = ua.Status
		}
		isActive := newStatus == StatusActive

		switch {
		case wasActive && !isActive:
			if err = svc.tracker.release(ctx, tx, alloc.SupervisorID); err != nil {
				return err
			}
			if ua.SupervisorID != "" {
				alloc.SupervisorID = ua.SupervisorID
			}

		case !wasActive && isActive:
			if ua.SupervisorID != "" {
				alloc.SupervisorID = ua.SupervisorID
			}
			if err = svc.reactivate(ctx, tx, alloc); err != nil {
				return err
			}

		default: // activity unchanged
			if isActive && ua.SupervisorID != "" && ua.SupervisorID != alloc.SupervisorID {
				if err = svc.tracker.move(ctx, tx, alloc.SupervisorID, ua.SupervisorID); err != nil {
					return err
				}
			}
			if ua.SupervisorID != "" {
				alloc.SupervisorID = ua.SupervisorID
			}
		}

		alloc.Status = newStatus
		alloc.UpdatedAt = time.Now().UTC()
		alloc, err = svc.repo.UpdateAllocation(ctx, alloc, tx)
		return err
	})
	if err != nil {
		return Allocation{}, err
	}

	svc.notify(Event{Type: EventUpdated, Allocation: alloc, At: time.Now().UTC()})
	return alloc, nil
}

// reactivate re-takes capacity for an allocation whose status returns to
// active, re-checking both project occupancy and supervisor load.
func (svc *Service) reactivate(ctx context.Context, tx core.DBTransactor, alloc Allocation) error {
	seats, err := svc.targetSeats(ctx, tx, alloc.Target)
	if err != nil {
		return err
	}
	if existing, err := svc.repo.GetActiveAllocation(ctx, alloc.Target, tx); err == nil && existing.ID != alloc.ID {
		return errors.Wrapf(ErrAlreadyAllocated, "%s", alloc.Target)
	} else if err != nil && errors.Cause(err) != ErrNotFound {
		return err
	}

	prj, err := svc.projects.GetProjectForUpdate(ctx, alloc.ProjectID, tx)
	if err != nil {
		return err
	}
	sup, err := svc.supervisors.GetSupervisorForUpdate(ctx, alloc.SupervisorID, tx)
	if err != nil {
		return err
	}
	return svc.tracker.checkAndHold(ctx, tx, prj, sup, seats)
}

// Delete removes an allocation, releasing its supervisor slot and occupancy.
func (svc *Service) Delete(ctx context.Context, id string) error {
	var alloc Allocation

	err := core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		var err error
		if alloc, err = svc.repo.GetAllocation(ctx, id, tx); err != nil {
			return err
		}
		if alloc.Status == StatusActive {
			if err = svc.tracker.release(ctx, tx, alloc.SupervisorID); err != nil {
				return err
			}
		}
		return svc.repo.DeleteAllocation(ctx, alloc.ID, tx)
	})
	if err != nil {
		return err
	}

	svc.notify(Event{Type: EventDeleted, Allocation: alloc, At: time.Now().UTC()})
	return nil
}

// RunMatching snapshots the current state, computes a stable assignment and
// applies it atomically. When the snapshot went stale during computation the
// whole run retries from scratch, up to the configured bound; a subset is
// never applied silently.
func (svc *Service) RunMatching(ctx context.Context, actorID string) (RunReport, error) {
	deadline := time.Now().Add(svc.conf.Allocation.RunTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= svc.conf.Allocation.MaxRunRetries; attempt++ {
		snap, err := svc.takeSnapshot(ctx)
		if err != nil {
			return RunReport{}, err
		}

		result, err := Match(snap, svc.conf.Allocation.MaxRounds, deadline)
		if err != nil {
			return RunReport{}, err
		}

		report, created, err := svc.applyResult(ctx, result, actorID)
		if err == nil {
			report.Retries = attempt
			events := make([]Event, 0, len(created)+1)
			now := time.Now().UTC()
			for _, alloc := range created {
				events = append(events, Event{Type: EventCreated, Allocation: alloc, At: now})
			}
			events = append(events, Event{Type: EventRunCompleted, At: now})
			svc.notify(events...)
			return report, nil
		}
		if errors.Cause(err) != errStaleSnapshot {
			return RunReport{}, err
		}
		lastErr = err
		if svc.logger != nil {
			svc.logger.Warn(fmt.Sprintf("matching run attempt %d hit a stale snapshot; retrying", attempt+1))
		}
	}
	return RunReport{}, errors.Wrap(ErrRunConflicted, lastErr.Error())
}

// takeSnapshot reads a consistent view of preferences, applicants and
// capacities inside one transaction.
func (svc *Service) takeSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	err := core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		prefs, err := svc.repo.QueryAllPreferences(ctx, tx)
		if err != nil {
			return err
		}
		students, err := svc.students.QueryStudents(ctx, nil, tx)
		if err != nil {
			return err
		}
		groups, err := svc.groups.QueryGroups(ctx, tx)
		if err != nil {
			return err
		}
		projects, err := svc.projects.QueryProjects(ctx, &project.QueryFilter{EligibleOnly: true}, tx)
		if err != nil {
			return err
		}
		sups, err := svc.supervisors.QuerySupervisors(ctx, nil, tx)
		if err != nil {
			return err
		}
		active, err := svc.repo.QueryAllocations(ctx, &QueryFilter{Status: StatusActive}, tx)
		if err != nil {
			return err
		}

		snap = buildSnapshot(prefs, students, groups, projects, sups, active)
		return nil
	})
	return snap, err
}

// buildSnapshot derives the matching engine's input from raw store records.
func buildSnapshot(
	prefs []Preference,
	students []student.Student,
	groups []group.Group,
	projects []project.Project,
	sups []supervisor.Supervisor,
	active []Allocation,
) Snapshot {
	snap := Snapshot{TakenAt: time.Now().UTC()}

	eligible := make(map[string]bool, len(projects))
	for _, prj := range projects {
		eligible[prj.ID] = true
	}

	groupsByID := make(map[string]group.Group, len(groups))
	for _, grp := range groups {
		groupsByID[grp.ID] = grp
	}

	occupied := make(map[Target]bool, len(active))
	seatsTaken := make(map[string]int, len(active))
	for _, alloc := range active {
		occupied[alloc.Target] = true
		seats := 1
		if alloc.Target.Type == TargetGroup {
			if grp, ok := groupsByID[alloc.Target.ID]; ok {
				seats = len(grp.Members)
			}
		}
		seatsTaken[alloc.ProjectID] += seats
	}

	for _, prj := range projects {
		snap.Projects = append(snap.Projects, ProjectSlot{
			ID:           prj.ID,
			SupervisorID: prj.SupervisorID,
			Seats:        prj.MaxStudents - seatsTaken[prj.ID],
		})
	}
	for _, sup := range sups {
		snap.Supervisors = append(snap.Supervisors, SupervisorSlot{
			ID:   sup.ID,
			Free: sup.MaxCapacity - sup.CurrentLoad,
		})
	}

	choicesByStudent := make(map[string][]Choice)
	for _, pref := range prefs {
		if !eligible[pref.ProjectID] {
			continue
		}
		choicesByStudent[pref.StudentID] = append(choicesByStudent[pref.StudentID], Choice{
			ProjectID:   pref.ProjectID,
			Rank:        pref.Rank,
			SubmittedAt: pref.CreatedAt,
		})
	}
	for id := range choicesByStudent {
		choices := choicesByStudent[id]
		sort.Slice(choices, func(i, j int) bool { return choices[i].Rank < choices[j].Rank })
	}

	// groups apply as one unit with their leader's preference list
	for _, grp := range groups {
		if !grp.IsActive || len(grp.Members) == 0 || occupied[GroupTarget(grp.ID)] {
			continue
		}
		var choices []Choice
		if leader, ok := grp.Leader(); ok {
			choices = choicesByStudent[leader.StudentID]
		}
		snap.Applicants = append(snap.Applicants, Applicant{
			Target:  GroupTarget(grp.ID),
			Size:    len(grp.Members),
			Choices: choices,
		})
	}

	// lone students apply for themselves
	for _, std := range students {
		if std.InGroup() || occupied[StudentTarget(std.ID)] {
			continue
		}
		snap.Applicants = append(snap.Applicants, Applicant{
			Target:  StudentTarget(std.ID),
			Size:    1,
			Choices: choicesByStudent[std.ID],
		})
	}

	return snap
}

// applyResult commits the full result set or nothing: every assignment is
// re-validated against current state under row locks; any failure aborts the
// whole batch with errStaleSnapshot.
func (svc *Service) applyResult(ctx context.Context, result MatchResult, actorID string) (RunReport, []Allocation, error) {
	var created []Allocation
	report := RunReport{
		UnallocatedCount: len(result.Unallocated),
		Rounds:           result.Rounds,
		PerProjectFill:   make(map[string]float64),
	}

	err := core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		created = created[:0]

		// lock all affected rows up front: projects first, supervisors next,
		// each set in ascending id order (global deadlock-free order)
		projIDs, supIDs := assignmentRowIDs(result.Assignments)
		lockedPrjs := make(map[string]project.Project, len(projIDs))
		for _, id := range projIDs {
			prj, err := svc.projects.GetProjectForUpdate(ctx, id, tx)
			if err != nil {
				if errors.Cause(err) == project.ErrNotFound {
					return errors.Wrapf(errStaleSnapshot, "project %s vanished", id)
				}
				return err
			}
			lockedPrjs[id] = prj
		}
		for _, id := range supIDs {
			if _, err := svc.supervisors.GetSupervisorForUpdate(ctx, id, tx); err != nil {
				if errors.Cause(err) == supervisor.ErrNotFound {
					return errors.Wrapf(errStaleSnapshot, "supervisor %s vanished", id)
				}
				return err
			}
		}

		now := time.Now().UTC()
		var failed []string
		for _, asg := range result.Assignments {
			prj := lockedPrjs[asg.ProjectID]
			if !prj.Eligible() {
				failed = append(failed, fmt.Sprintf("%s: project %s no longer eligible", asg.Target, prj.ID))
				continue
			}

			seats, err := svc.targetSeats(ctx, tx, asg.Target)
			if err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", asg.Target, err))
				continue
			}
			if err = svc.ensureUnallocated(ctx, tx, asg.Target); err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", asg.Target, err))
				continue
			}

			sup, err := svc.supervisors.GetSupervisor(ctx, prj.SupervisorID, tx)
			if err != nil {
				return err
			}
			if err = svc.tracker.checkAndHold(ctx, tx, prj, sup, seats); err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", asg.Target, err))
				continue
			}

			alloc, err := svc.repo.CreateAllocation(ctx, Allocation{
				ProjectID:     prj.ID,
				SupervisorID:  prj.SupervisorID,
				Target:        asg.Target,
				Phase:         PhasePreferenceMatch,
				Status:        StatusActive,
				AllocatedByID: actorID,
				AllocatedAt:   now,
				UpdatedAt:     now,
			}, tx)
			if err != nil {
				return errors.Wrap(err, "creating allocation")
			}
			created = append(created, alloc)
		}

		if len(failed) > 0 {
			return errors.Wrapf(errStaleSnapshot, "%s", strings.Join(failed, "; "))
		}

		report.AllocatedCount = len(created)
		for _, prj := range lockedPrjs {
			occupied, err := svc.repo.CountProjectOccupancy(ctx, prj.ID, tx)
			if err != nil {
				return err
			}
			report.PerProjectFill[prj.ID] = float64(occupied) / float64(prj.MaxStudents)
		}
		return nil
	})
	if err != nil {
		return RunReport{}, nil, err
	}
	return report, created, nil
}

// GetStatus reports overall allocation progress.
func (svc *Service) GetStatus(ctx context.Context) (StatusReport, error) {
	totalStudents, err := svc.students.CountStudents(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	allocated, err := svc.repo.CountAllocatedStudents(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	totalProjects, err := svc.projects.CountProjects(ctx, false)
	if err != nil {
		return StatusReport{}, err
	}
	available, err := svc.projects.CountProjects(ctx, true)
	if err != nil {
		return StatusReport{}, err
	}

	return StatusReport{
		TotalStudents:     totalStudents,
		AllocatedCount:    allocated,
		UnallocatedCount:  totalStudents - allocated,
		TotalProjects:     totalProjects,
		AvailableProjects: available,
	}, nil
}

// ResultsForRole scopes allocation visibility: coordinators see everything,
// supervisors their projects' allocations, students their own (or their
// group's).
func (svc *Service) ResultsForRole(ctx context.Context, usr user.User) ([]Allocation, error) {
	switch {
	case usr.IsCoordinator():
		return svc.repo.QueryAllocations(ctx, nil)

	case usr.IsSupervisor():
		sup, err := svc.supervisors.GetSupervisorByUserID(ctx, usr.ID)
		if err != nil {
			return nil, err
		}
		return svc.repo.QueryAllocations(ctx, &QueryFilter{SupervisorID: sup.ID})

	case usr.IsStudent():
		std, err := svc.students.GetStudentByUserID(ctx, usr.ID)
		if err != nil {
			return nil, err
		}
		target := StudentTarget(std.ID)
		if std.InGroup() {
			target = GroupTarget(std.CurrentGroupID)
		}
		return svc.repo.QueryAllocations(ctx, &QueryFilter{TargetType: target.Type, TargetID: target.ID})
	}
	return nil, errors.New("role cannot view allocation results")
}

func (svc *Service) QueryAll(ctx context.Context) ([]Allocation, error) {
	return svc.repo.QueryAllocations(ctx, nil)
}

func (svc *Service) Filter(ctx context.Context, filter QueryFilter) ([]Allocation, error) {
	return svc.repo.QueryAllocations(ctx, &filter)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Allocation, error) {
	return svc.repo.GetAllocation(ctx, id)
}

// ApproveSplit approves a pending split request: the requester leaves their
// group; when a replacement project was proposed, a singleton group is formed
// and allocated to it in the same transaction (override phase).
func (svc *Service) ApproveSplit(ctx context.Context, splitRequestID, coordinatorID string) (group.SplitRequest, *Allocation, error) {
	var (
		req   group.SplitRequest
		alloc *Allocation
	)

	err := core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		var err error
		if req, err = svc.groups.GetSplitRequest(ctx, splitRequestID, tx); err != nil {
			return err
		}
		if req.Status != group.SplitPending {
			return group.ErrSplitNotPending
		}

		grp, err := svc.groups.GetGroup(ctx, req.GroupID, tx)
		if err != nil {
			return err
		}
		if !grp.HasMember(req.RequesterID) {
			return group.ErrNotGroupMember
		}

		if err = svc.groups.RemoveMember(ctx, grp.ID, req.RequesterID, tx); err != nil {
			return errors.Wrap(err, "removing requester from group")
		}
		if err = svc.students.SetCurrentGroup(ctx, "", []string{req.RequesterID}, tx); err != nil {
			return errors.Wrap(err, "releasing requester")
		}

		req.Status = group.SplitApproved
		req.ReviewedByID = coordinatorID
		req.ReviewedAt = time.Now().UTC()
		if req, err = svc.groups.UpdateSplitRequest(ctx, req, tx); err != nil {
			return err
		}

		if req.ProposedProjectID != "" {
			newGrp, err := svc.createSingletonGroup(ctx, tx, req.RequesterID, coordinatorID)
			if err != nil {
				return err
			}

			prj, _, err := svc.tracker.reserve(ctx, tx, req.ProposedProjectID, 1)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			a, err := svc.repo.CreateAllocation(ctx, Allocation{
				ProjectID:     prj.ID,
				SupervisorID:  prj.SupervisorID,
				Target:        GroupTarget(newGrp.ID),
				Phase:         PhaseOverride,
				Status:        StatusActive,
				AllocatedByID: coordinatorID,
				AllocatedAt:   now,
				UpdatedAt:     now,
			}, tx)
			if err != nil {
				return errors.Wrap(err, "creating override allocation")
			}
			alloc = &a
		}
		return nil
	})
	if err != nil {
		return group.SplitRequest{}, nil, err
	}

	if alloc != nil {
		svc.notify(Event{Type: EventCreated, Allocation: *alloc, At: time.Now().UTC()})
	}
	return req, alloc, nil
}

func (svc *Service) createSingletonGroup(ctx context.Context, tx core.DBTransactor, studentID, coordinatorID string) (group.Group, error) {
	now := time.Now().UTC()
	grp := group.Group{
		PublicID:    fmt.Sprintf("GRP_%d_%s", now.Year(), strings.ToUpper(uuid.New().String()[:4])),
		IsActive:    true,
		CreatedByID: coordinatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Members:     []group.Member{{StudentID: studentID, Role: group.RoleLeader, JoinedAt: now}},
	}
	if err := grp.SetSharedPassword(uuid.New().String()); err != nil {
		return group.Group{}, errors.Wrap(err, "hashing shared password")
	}

	grp, err := svc.groups.CreateGroup(ctx, grp, tx)
	if err != nil {
		return group.Group{}, errors.Wrap(err, "creating singleton group")
	}
	if err = svc.students.SetCurrentGroup(ctx, grp.ID, []string{studentID}, tx); err != nil {
		return group.Group{}, errors.Wrap(err, "assigning requester")
	}
	return grp, nil
}

// targetSeats validates the target and returns the seats it occupies.
func (svc *Service) targetSeats(ctx context.Context, tx core.DBTransactor, target Target) (int, error) {
	switch target.Type {
	case TargetStudent:
		std, err := svc.students.GetStudent(ctx, target.ID, tx)
		if err != nil {
			return 0, err
		}
		if std.InGroup() {
			return 0, errors.Wrapf(ErrStudentInGroup, "student %s", std.ID)
		}
		return 1, nil

	case TargetGroup:
		grp, err := svc.groups.GetGroup(ctx, target.ID, tx)
		if err != nil {
			return 0, err
		}
		return len(grp.Members), nil
	}
	return 0, core.NewValidationError(nil, core.FieldError{Field: "allocated_to_type", Error: "invalid allocation target type"})
}

func (svc *Service) ensureUnallocated(ctx context.Context, tx core.DBTransactor, target Target) error {
	if _, err := svc.repo.GetActiveAllocation(ctx, target, tx); err == nil {
		return errors.Wrapf(ErrAlreadyAllocated, "%s", target)
	} else if errors.Cause(err) != ErrNotFound {
		return err
	}
	return nil
}

func (svc *Service) notify(events ...Event) {
	if svc.notifier == nil {
		return
	}
	svc.notifier.Notify(events...)
}

// assignmentRowIDs returns the distinct project and supervisor ids touched by
// the batch, each sorted ascending.
func assignmentRowIDs(assignments []Assignment) (projIDs, supIDs []string) {
	prjSeen := make(map[string]bool)
	supSeen := make(map[string]bool)
	for _, asg := range assignments {
		if !prjSeen[asg.ProjectID] {
			prjSeen[asg.ProjectID] = true
			projIDs = append(projIDs, asg.ProjectID)
		}
		if !supSeen[asg.SupervisorID] {
			supSeen[asg.SupervisorID] = true
			supIDs = append(supIDs, asg.SupervisorID)
		}
	}
	sort.Strings(projIDs)
	sort.Strings(supIDs)
	return projIDs, supIDs
}
