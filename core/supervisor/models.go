package supervisor

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/miradi/core"
)

type Supervisor struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Department string `json:"department"`

	// MaxCapacity is the number of active allocations this supervisor may
	// carry across all their projects.
	MaxCapacity int `json:"max_capacity"`

	// CurrentLoad is a derived cache: count of active allocations whose
	// project belongs to this supervisor. It is mutated exclusively by the
	// allocation transaction manager, in the same transaction as the
	// allocation change it reflects.
	CurrentLoad int `json:"current_load"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (s Supervisor) AtCapacity() bool { return s.CurrentLoad >= s.MaxCapacity }

// NewSupervisor contains information needed to register a new Supervisor.
type NewSupervisor struct {
	UserID      string `json:"user_id" validate:"required"`
	Department  string `json:"department" validate:"required"`
	MaxCapacity int    `json:"max_capacity" validate:"required,min=1"`
}

func (ns *NewSupervisor) Validate(validate *validator.Validate) error {
	ns.Department = core.CleanString(ns.Department)
	return validate.Struct(ns)
}

type QueryFilter struct {
	Search     string `query:"search"`
	Department string `query:"department"`
}
