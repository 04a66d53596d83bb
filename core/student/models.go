package student

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/miradi/core"
)

type Student struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	RegNo  string `json:"reg_no"`

	Program string `json:"program"`
	Year    int    `json:"year"`

	// CurrentGroupID is the owning group, empty when the student is not in a
	// group. Mutated only by group and allocation operations.
	CurrentGroupID string `json:"current_group_id,omitempty"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (s Student) InGroup() bool { return s.CurrentGroupID != "" }

// NewStudent contains information needed to enroll a new Student.
type NewStudent struct {
	UserID  string `json:"user_id" validate:"required"`
	RegNo   string `json:"reg_no" validate:"required,alphanum_"`
	Program string `json:"program" validate:"required"`
	Year    int    `json:"year" validate:"required,min=1,max=7"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.RegNo = core.CleanString(ns.RegNo, true /* lower */)
	ns.Program = core.CleanString(ns.Program)
	return validate.Struct(ns)
}

type QueryFilter struct {
	Search  string `query:"search"`
	Program string `query:"program"`
	// GroupID filters members of a given group.
	GroupID string `query:"group_id"`
	// Ungrouped selects students without a current group.
	Ungrouped bool `query:"ungrouped"`
}
