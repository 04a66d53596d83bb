package allocation

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/miradi/core"
)

// Target types
const (
	TargetStudent = "student"
	TargetGroup   = "group"
)

// Phases: provenance of an allocation.
const (
	PhasePreferenceMatch = "preference_match"
	PhaseManual          = "manual"
	PhaseOverride        = "override"
)

// Statuses
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Event types
const (
	EventCreated      = "allocation_created"
	EventUpdated      = "allocation_updated"
	EventDeleted      = "allocation_deleted"
	EventRunCompleted = "allocation_run_completed"
)

type (
	// Target identifies who an allocation is for: a lone student or a whole
	// group. Exactly one of the two variants applies; every consumer must
	// switch on Type exhaustively.
	Target struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}

	// Preference is one entry of a student's ranked project wish list.
	Preference struct {
		ID        string    `json:"id"`
		StudentID string    `json:"student_id"`
		ProjectID string    `json:"project_id"`
		Rank      int       `json:"rank"`
		CreatedAt time.Time `json:"created_at"` // UTC; submission timestamp, matching tie-break
	}

	// Allocation is the single source of truth for "who is working on what".
	Allocation struct {
		ID        string `json:"id"`
		ProjectID string `json:"project_id"`

		// SupervisorID is a snapshot of the project's supervisor at
		// allocation time; it intentionally does not follow later project
		// reassignment.
		SupervisorID string `json:"supervisor_id"`

		Target Target `json:"target"`

		Phase  string `json:"phase"`
		Status string `json:"status"`

		AllocatedByID string    `json:"allocated_by_id"`
		AllocatedAt   time.Time `json:"allocated_at"` // UTC
		UpdatedAt     time.Time `json:"updated_at"`   // UTC
	}

	// Event is a state-change fact surfaced for notification delivery.
	Event struct {
		Type       string     `json:"type"`
		Allocation Allocation `json:"allocation"`
		At         time.Time  `json:"at"` // UTC
	}

	// Notifier receives events after the transaction that produced them has
	// committed. Implementations must not block.
	Notifier interface {
		Notify(events ...Event)
	}

	// RunReport summarizes a matching run.
	RunReport struct {
		AllocatedCount   int                `json:"allocated_count"`
		UnallocatedCount int                `json:"unallocated_count"`
		Rounds           int                `json:"rounds"`
		Retries          int                `json:"retries"`
		PerProjectFill   map[string]float64 `json:"per_project_fill"` // projectID -> filled/capacity
	}

	// StatusReport is the coordinator dashboard summary.
	StatusReport struct {
		TotalStudents     int `json:"total_students"`
		AllocatedCount    int `json:"allocated_count"` // students covered by active allocations
		UnallocatedCount  int `json:"unallocated_count"`
		TotalProjects     int `json:"total_projects"`
		AvailableProjects int `json:"available_projects"`
	}
)

func StudentTarget(id string) Target { return Target{Type: TargetStudent, ID: id} }
func GroupTarget(id string) Target   { return Target{Type: TargetGroup, ID: id} }

func (t Target) String() string { return t.Type + ":" + t.ID }

// PreferenceInput is one ranked project of a submission.
type PreferenceInput struct {
	ProjectID string `json:"project_id" validate:"required"`
	Rank      int    `json:"rank" validate:"required,min=1"`
}

// SubmitPreferences replaces a student's whole preference list.
type SubmitPreferences struct {
	Preferences []PreferenceInput `json:"preferences" validate:"required,min=1,dive"`
}

func (sp *SubmitPreferences) Validate(validate *validator.Validate) error {
	if err := validate.Struct(sp); err != nil {
		return err
	}

	ranks := make(map[int]bool, len(sp.Preferences))
	projects := make(map[string]bool, len(sp.Preferences))
	for _, p := range sp.Preferences {
		if ranks[p.Rank] {
			return core.NewValidationError(nil, core.FieldError{
				Field: "preferences",
				Error: fmt.Sprintf("duplicate rank %d", p.Rank),
			})
		}
		if projects[p.ProjectID] {
			return core.NewValidationError(nil, core.FieldError{
				Field: "preferences",
				Error: fmt.Sprintf("project %s listed more than once", p.ProjectID),
			})
		}
		ranks[p.Rank] = true
		projects[p.ProjectID] = true
	}
	return nil
}

// ManualAllocation is a coordinator's direct assignment.
type ManualAllocation struct {
	ProjectID       string `json:"project_id" validate:"required"`
	AllocatedToType string `json:"allocated_to_type" validate:"required,oneof=student group"`
	AllocatedToID   string `json:"allocated_to_id" validate:"required"`
}

func (ma *ManualAllocation) Validate(validate *validator.Validate) error {
	return validate.Struct(ma)
}

func (ma ManualAllocation) Target() Target {
	return Target{Type: ma.AllocatedToType, ID: ma.AllocatedToID}
}

// UpdateAllocation defines what may be changed on an existing Allocation.
type UpdateAllocation struct {
	SupervisorID string `json:"supervisor_id"`
	Status       string `json:"status" validate:"omitempty,oneof=active completed cancelled"`
}

func (ua *UpdateAllocation) Validate(validate *validator.Validate) error {
	return validate.Struct(ua)
}

type QueryFilter struct {
	ProjectID    string `query:"project_id"`
	SupervisorID string `query:"supervisor_id"`
	TargetType   string `query:"target_type"`
	TargetID     string `query:"target_id"`
	Status       string `query:"status"`
}
