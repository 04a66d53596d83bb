package group

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/student"
	"github.com/trezcool/miradi/core/user"
)

var (
	// errors
	ErrNotFound           = errors.New("group not found")
	ErrStudentGrouped     = errors.New("student is already in a group")
	ErrGroupAllocated     = errors.New("group still holds an active allocation")
	ErrNotGroupMember     = errors.New("student is not a member of this group")
	ErrSplitNotFound      = errors.New("split request not found")
	ErrSplitNotPending    = errors.New("split request is not in a pending state")
	ErrPendingSplitExists = errors.New("a pending split request already exists for this student in this group")
)

type (
	Repository interface {
		CreateGroup(ctx context.Context, grp Group, exec ...core.DBExecutor) (Group, error)
		GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (Group, error)
		QueryGroups(ctx context.Context, exec ...core.DBExecutor) ([]Group, error)
		RemoveMember(ctx context.Context, groupID, studentID string, exec ...core.DBExecutor) error
		DeleteGroup(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreateSplitRequest(ctx context.Context, req SplitRequest, exec ...core.DBExecutor) (SplitRequest, error)
		GetSplitRequest(ctx context.Context, id string, exec ...core.DBExecutor) (SplitRequest, error)
		QuerySplitRequests(ctx context.Context, filter *SplitQueryFilter, exec ...core.DBExecutor) ([]SplitRequest, error)
		UpdateSplitRequest(ctx context.Context, req SplitRequest, exec ...core.DBExecutor) (SplitRequest, error)
	}

	// AllocationGuard answers occupancy questions owned by the allocation
	// package; defined here to avoid a dependency cycle.
	AllocationGuard interface {
		GroupAllocated(ctx context.Context, groupID string, exec ...core.DBExecutor) (bool, error)
	}

	// PairedGroup is a freshly formed group plus the one-time shared password
	// to hand to its members.
	PairedGroup struct {
		Group        Group
		TempPassword string
	}

	Service struct {
		db       core.DB
		repo     Repository
		students student.Repository
		users    user.Repository
		allocs   AllocationGuard
		mailSvc  core.EmailService
		conf     *core.Config
	}
)

func NewService(
	db core.DB,
	repo Repository,
	studentRepo student.Repository,
	userRepo user.Repository,
	allocGuard AllocationGuard,
	mailSvc core.EmailService,
	conf *core.Config,
) *Service {
	return &Service{
		db:       db,
		repo:     repo,
		students: studentRepo,
		users:    userRepo,
		allocs:   allocGuard,
		mailSvc:  mailSvc,
		conf:     conf,
	}
}

// Pair forms groups out of the given students according to the pairing mode.
// rnd drives the shuffling; passing a fixed-seed source makes the outcome
// reproducible.
func (svc *Service) Pair(ctx context.Context, pr PairRequest, coordinatorID string, rnd *mrand.Rand) ([]PairedGroup, error) {
	var paired []PairedGroup

	err := core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		students := make([]student.Student, 0, len(pr.StudentIDs))
		for _, id := range pr.StudentIDs {
			std, err := svc.students.GetStudent(ctx, id, tx)
			if err != nil {
				return err
			}
			if std.InGroup() {
				return errors.Wrapf(ErrStudentGrouped, "student %s", std.ID)
			}
			students = append(students, std)
		}

		var batches [][]student.Student
		switch pr.PairingMode {
		case PairingIndividual:
			for _, std := range students {
				batches = append(batches, []student.Student{std})
			}
		case PairingPairs:
			batches = batch(shuffle(students, rnd), 2)
		case PairingMixed:
			batches = batch(shuffle(students, rnd), 3)
		}

		for _, members := range batches {
			pg, err := svc.createGroup(ctx, tx, members, coordinatorID)
			if err != nil {
				return err
			}
			paired = append(paired, pg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	svc.notifyFormation(ctx, paired)
	return paired, nil
}

func (svc *Service) createGroup(ctx context.Context, tx core.DBTransactor, members []student.Student, coordinatorID string) (PairedGroup, error) {
	tempPwd, err := randomHex(8)
	if err != nil {
		return PairedGroup{}, errors.Wrap(err, "generating shared password")
	}
	suffix, err := randomHex(2)
	if err != nil {
		return PairedGroup{}, errors.Wrap(err, "generating group id")
	}

	now := time.Now().UTC()
	grp := Group{
		PublicID:    fmt.Sprintf("GRP_%d_%s", now.Year(), strings.ToUpper(suffix)),
		IsActive:    true,
		CreatedByID: coordinatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = grp.SetSharedPassword(tempPwd); err != nil {
		return PairedGroup{}, errors.Wrap(err, "hashing shared password")
	}
	for i, std := range members {
		role := RoleMember
		if i == 0 { // first picked leads
			role = RoleLeader
		}
		grp.Members = append(grp.Members, Member{StudentID: std.ID, Role: role, JoinedAt: now})
	}

	grp, err = svc.repo.CreateGroup(ctx, grp, tx)
	if err != nil {
		return PairedGroup{}, errors.Wrap(err, "creating group")
	}
	if err = svc.students.SetCurrentGroup(ctx, grp.ID, grp.MemberIDs(), tx); err != nil {
		return PairedGroup{}, errors.Wrap(err, "assigning members")
	}
	return PairedGroup{Group: grp, TempPassword: tempPwd}, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Group, error) {
	return svc.repo.GetGroup(ctx, id)
}

func (svc *Service) QueryAll(ctx context.Context) ([]Group, error) {
	return svc.repo.QueryGroups(ctx)
}

// Delete dissolves a group. A group holding an active allocation cannot be
// dissolved; its allocation must be cleared first.
func (svc *Service) Delete(ctx context.Context, id string) error {
	return core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		grp, err := svc.repo.GetGroup(ctx, id, tx)
		if err != nil {
			return err
		}

		allocated, err := svc.allocs.GroupAllocated(ctx, grp.ID, tx)
		if err != nil {
			return err
		}
		if allocated {
			return ErrGroupAllocated
		}

		if err = svc.students.SetCurrentGroup(ctx, "", grp.MemberIDs(), tx); err != nil {
			return errors.Wrap(err, "releasing members")
		}
		return svc.repo.DeleteGroup(ctx, grp.ID, tx)
	})
}

// RequestSplit opens a pending SplitRequest for a group member.
func (svc *Service) RequestSplit(ctx context.Context, nsr NewSplitRequest, requesterID string) (SplitRequest, error) {
	var req SplitRequest

	err := core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		grp, err := svc.repo.GetGroup(ctx, nsr.GroupID, tx)
		if err != nil {
			return err
		}
		if _, err = svc.students.GetStudent(ctx, requesterID, tx); err != nil {
			return err
		}
		if !grp.HasMember(requesterID) {
			return ErrNotGroupMember
		}

		pending, err := svc.repo.QuerySplitRequests(ctx, &SplitQueryFilter{
			GroupID:     grp.ID,
			RequesterID: requesterID,
			Status:      SplitPending,
		}, tx)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return ErrPendingSplitExists
		}

		req, err = svc.repo.CreateSplitRequest(ctx, SplitRequest{
			GroupID:           grp.ID,
			RequesterID:       requesterID,
			Reason:            nsr.Reason,
			Status:            SplitPending,
			ProposedProjectID: nsr.ProposedProjectID,
			CreatedAt:         time.Now().UTC(),
		}, tx)
		return err
	})
	return req, err
}

// RejectSplit closes a pending SplitRequest without touching the group.
func (svc *Service) RejectSplit(ctx context.Context, id, coordinatorID, reviewNotes string) (SplitRequest, error) {
	var req SplitRequest

	err := core.Atomic(ctx, svc.db, func(tx core.DBTransactor) error {
		var err error
		if req, err = svc.repo.GetSplitRequest(ctx, id, tx); err != nil {
			return err
		}
		if req.Status != SplitPending {
			return ErrSplitNotPending
		}

		req.Status = SplitRejected
		req.ReviewedByID = coordinatorID
		req.ReviewNotes = reviewNotes
		req.ReviewedAt = time.Now().UTC()
		req, err = svc.repo.UpdateSplitRequest(ctx, req, tx)
		return err
	})
	return req, err
}

func (svc *Service) QuerySplitRequests(ctx context.Context, filter SplitQueryFilter) ([]SplitRequest, error) {
	return svc.repo.QuerySplitRequests(ctx, &filter)
}

func (svc *Service) notifyFormation(ctx context.Context, paired []PairedGroup) {
	if svc.mailSvc == nil {
		return
	}
	msgs := make([]*core.EmailMessage, 0, len(paired))
	for _, pg := range paired {
		msg := &core.EmailMessage{
			Subject: fmt.Sprintf("You have been added to group %s", pg.Group.PublicID),
			BodyStr: fmt.Sprintf(
				"Your project group %s has been formed with %d member(s). "+
					"Log in with the shared password provided by your coordinator.",
				pg.Group.PublicID, len(pg.Group.Members),
			),
		}
		for _, studentID := range pg.Group.MemberIDs() {
			addr, err := svc.memberAddress(ctx, studentID)
			if err != nil {
				continue // unresolved recipients are skipped, not fatal
			}
			msg.To = append(msg.To, addr)
		}
		msgs = append(msgs, msg)
	}
	svc.mailSvc.SendMessages(msgs...)
}

func (svc *Service) memberAddress(ctx context.Context, studentID string) (mail.Address, error) {
	std, err := svc.students.GetStudent(ctx, studentID)
	if err != nil {
		return mail.Address{}, err
	}
	usr, err := svc.users.GetUser(ctx, user.GetFilter{ID: std.UserID})
	if err != nil {
		return mail.Address{}, err
	}
	return mail.Address{Name: usr.Name, Address: usr.Email}, nil
}

func shuffle(students []student.Student, rnd *mrand.Rand) []student.Student {
	shuffled := make([]student.Student, len(students))
	copy(shuffled, students)
	if rnd != nil {
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	}
	return shuffled
}

func batch(students []student.Student, size int) [][]student.Student {
	var batches [][]student.Student
	for i := 0; i < len(students); i += size {
		end := i + size
		if end > len(students) {
			end = len(students)
		}
		batches = append(batches, students[i:end])
	}
	return batches
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
