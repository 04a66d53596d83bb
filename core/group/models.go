package group

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/miradi/core"
)

// Member roles
const (
	RoleLeader = "leader"
	RoleMember = "member"
)

// Pairing modes
const (
	PairingIndividual = "individual" // one group per student
	PairingPairs      = "pairs"      // groups of 2
	PairingMixed      = "mixed"      // groups of up to 3
)

// Split request statuses
const (
	SplitPending  = "pending"
	SplitApproved = "approved"
	SplitRejected = "rejected"
)

type (
	Group struct {
		ID string `json:"id"`
		// PublicID is the human-facing identifier, e.g. GRP_2026_A3F1.
		PublicID string `json:"public_id"`
		Name     string `json:"name"`
		IsActive bool   `json:"is_active"`

		// SharedPasswordHash guards the group's shared workspace login.
		SharedPasswordHash []byte `json:"-"`

		CreatedByID string    `json:"created_by_id"`
		CreatedAt   time.Time `json:"created_at"` // UTC
		UpdatedAt   time.Time `json:"updated_at"` // UTC

		Members []Member `json:"members"`
	}

	Member struct {
		StudentID string    `json:"student_id"`
		Role      string    `json:"role"`
		JoinedAt  time.Time `json:"joined_at"` // UTC
	}

	// SplitRequest is a student-initiated request to leave their group,
	// optionally with a pre-selected replacement project.
	SplitRequest struct {
		ID          string `json:"id"`
		GroupID     string `json:"group_id"`
		RequesterID string `json:"requester_id"`
		Reason      string `json:"reason"`
		Status      string `json:"status"`

		ProposedProjectID string `json:"proposed_project_id,omitempty"`

		ReviewedByID string    `json:"reviewed_by_id,omitempty"`
		ReviewNotes  string    `json:"review_notes,omitempty"`
		ReviewedAt   time.Time `json:"reviewed_at,omitempty"` // UTC

		CreatedAt time.Time `json:"created_at"` // UTC
	}
)

func (g *Group) SetSharedPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	g.SharedPasswordHash = hash
	return nil
}

func (g *Group) CheckSharedPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(g.SharedPasswordHash, []byte(pwd))
}

// Leader returns the designated leader member.
func (g *Group) Leader() (Member, bool) {
	for _, m := range g.Members {
		if m.Role == RoleLeader {
			return m, true
		}
	}
	return Member{}, false
}

func (g *Group) HasMember(studentID string) bool {
	for _, m := range g.Members {
		if m.StudentID == studentID {
			return true
		}
	}
	return false
}

func (g *Group) MemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.StudentID)
	}
	return ids
}

// PairRequest contains information needed to form groups out of students.
type PairRequest struct {
	StudentIDs  []string `json:"student_ids" validate:"required,min=1,unique"`
	PairingMode string   `json:"pairing_mode" validate:"required,oneof=individual pairs mixed"`
}

func (pr *PairRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(pr)
}

// NewSplitRequest contains information needed to open a SplitRequest.
type NewSplitRequest struct {
	GroupID           string `json:"group_id" validate:"required"`
	Reason            string `json:"reason" validate:"required"`
	ProposedProjectID string `json:"proposed_project_id"`
}

func (nsr *NewSplitRequest) Validate(validate *validator.Validate) error {
	nsr.Reason = core.CleanString(nsr.Reason)
	return validate.Struct(nsr)
}

type SplitQueryFilter struct {
	GroupID     string `query:"group_id"`
	RequesterID string `query:"requester_id"`
	Status      string `query:"status"`
}
