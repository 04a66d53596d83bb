package project

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/miradi/core"
)

// Statuses
const (
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
)

var AllStatuses = []string{StatusPendingApproval, StatusApproved, StatusRejected}

type Project struct {
	ID           string `json:"id"`
	SupervisorID string `json:"supervisor_id"`

	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	DifficultyLevel string   `json:"difficulty_level"`
	RequiredSkills  []string `json:"required_skills"`

	// MaxStudents is the number of student seats; a group allocation consumes
	// one seat per member.
	MaxStudents int    `json:"max_students"`
	IsAvailable bool   `json:"is_available"`
	Status      string `json:"status"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Eligible reports whether the project may receive allocations.
func (p Project) Eligible() bool {
	return p.Status == StatusApproved && p.IsAvailable
}

// NewProject contains information needed to propose a new Project.
type NewProject struct {
	SupervisorID    string   `json:"supervisor_id" validate:"required"`
	Title           string   `json:"title" validate:"required"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	DifficultyLevel string   `json:"difficulty_level" validate:"omitempty,oneof=beginner intermediate advanced"`
	RequiredSkills  []string `json:"required_skills"`
	MaxStudents     int      `json:"max_students" validate:"required,min=1"`
}

func (np *NewProject) Validate(validate *validator.Validate) error {
	np.Title = core.CleanString(np.Title)
	np.Description = core.CleanString(np.Description)
	np.Category = core.CleanString(np.Category)
	return validate.Struct(np)
}

// UpdateProject defines what information may be provided to modify an existing Project.
type UpdateProject struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	DifficultyLevel string   `json:"difficulty_level" validate:"omitempty,oneof=beginner intermediate advanced"`
	RequiredSkills  []string `json:"required_skills"`
	MaxStudents     int      `json:"max_students" validate:"omitempty,min=1"`
	IsAvailable     *bool    `json:"is_available"`
	Status          string   `json:"status" validate:"omitempty,oneof=pending_approval approved rejected"`
}

func (up *UpdateProject) Validate(validate *validator.Validate) error {
	up.Title = core.CleanString(up.Title)
	up.Description = core.CleanString(up.Description)
	up.Category = core.CleanString(up.Category)
	return validate.Struct(up)
}

type QueryFilter struct {
	Search       string `query:"search"`
	SupervisorID string `query:"supervisor_id"`
	Status       string `query:"status"`
	// EligibleOnly selects approved AND available projects.
	EligibleOnly bool `query:"eligible_only"`
}
