package allocation

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrRunTimedOut signals a matching run that exceeded its round or time
	// bound; no state has been mutated when it is returned.
	ErrRunTimedOut = errors.New("matching run exceeded its configured bound")
)

type (
	// Choice is one entry of an applicant's ranked list, pre-filtered to
	// eligible projects.
	Choice struct {
		ProjectID   string
		Rank        int
		SubmittedAt time.Time
	}

	// Applicant is a matching unit: a lone student (Size 1) or a whole group
	// (Size = member count). A group proposes, holds and gets rejected as a
	// single unit.
	Applicant struct {
		Target  Target
		Size    int
		Choices []Choice // ascending rank
	}

	// ProjectSlot is a project's remaining standing at snapshot time.
	ProjectSlot struct {
		ID           string
		SupervisorID string
		Seats        int // maxStudents minus seats already occupied
	}

	// SupervisorSlot is a supervisor's remaining standing at snapshot time.
	SupervisorSlot struct {
		ID   string
		Free int // maxCapacity minus currentLoad
	}

	// Snapshot is the immutable input of a matching run.
	Snapshot struct {
		TakenAt     time.Time
		Applicants  []Applicant
		Projects    []ProjectSlot
		Supervisors []SupervisorSlot
	}

	// Assignment is one tentative hold turned final at termination.
	Assignment struct {
		Target       Target
		ProjectID    string
		SupervisorID string
		Rank         int
	}

	// MatchResult is the outcome of a run over a snapshot.
	MatchResult struct {
		Assignments []Assignment
		Unallocated []Target
		Rounds      int
	}
)

type (
	appState struct {
		Applicant
		next int // index of the next un-proposed choice
	}

	appHold struct {
		app    *appState
		choice Choice
	}

	projState struct {
		ProjectSlot
		holds []appHold
	}
)

// Match runs deferred acceptance (generalized Gale–Shapley) over the
// snapshot: every applicant proposes down their ranked list; projects
// tentatively hold the best proposals that fit their remaining seats, ranked
// by preference rank then submission time; a hold that would overload the
// project's supervisor across all their projects is rejected too, cascading
// the applicant to their next choice. The outcome is applicant-optimal and
// stable with respect to the submitted preferences.
//
// Match is a pure function: given identical snapshots (including timestamps)
// it returns identical results. It never mutates the snapshot.
func Match(snap Snapshot, maxRounds int, deadline time.Time) (MatchResult, error) {
	projects := make(map[string]*projState, len(snap.Projects))
	for _, p := range snap.Projects {
		if p.Seats <= 0 {
			continue // full before the run: excluded up front
		}
		projects[p.ID] = &projState{ProjectSlot: p}
	}
	supFree := make(map[string]int, len(snap.Supervisors))
	for _, s := range snap.Supervisors {
		supFree[s.ID] = s.Free
	}
	supHolds := make(map[string]int, len(snap.Supervisors))

	// deterministic initial order
	queue := make([]*appState, 0, len(snap.Applicants))
	for _, a := range snap.Applicants {
		queue = append(queue, &appState{Applicant: a})
	}
	sort.Slice(queue, func(i, j int) bool {
		return queue[i].Target.String() < queue[j].Target.String()
	})

	var unallocated []Target
	var rounds int

	for len(queue) > 0 {
		rounds++
		if rounds > maxRounds {
			return MatchResult{}, errors.Wrap(ErrRunTimedOut, "round bound reached")
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return MatchResult{}, errors.Wrap(ErrRunTimedOut, "deadline reached")
		}

		a := queue[0]
		queue = queue[1:]

		if a.next >= len(a.Choices) {
			unallocated = append(unallocated, a.Target)
			continue
		}
		choice := a.Choices[a.next]
		a.next++

		p, ok := projects[choice.ProjectID]
		if !ok || p.Seats < a.Size {
			queue = append(queue, a) // can never fit here; try the next choice
			continue
		}

		// Rank the project's current holds plus the new proposal and keep the
		// best set that fits the seats.
		cands := make([]appHold, 0, len(p.holds)+1)
		cands = append(cands, p.holds...)
		cands = append(cands, appHold{app: a, choice: choice})
		sortByPriority(cands)

		accepted := make([]appHold, 0, len(cands))
		used := 0
		acceptedNew := false
		for _, c := range cands {
			if used+c.app.Size <= p.Seats {
				accepted = append(accepted, c)
				used += c.app.Size
				if c.app == a {
					acceptedNew = true
				}
			}
		}
		if !acceptedNew {
			queue = append(queue, a) // outranked; cascade to next choice
			continue
		}

		// Joint capacity: one hold costs one supervisor slot, across all of
		// the supervisor's projects.
		tentative := supHolds[p.SupervisorID] - len(p.holds) + len(accepted)
		if tentative > supFree[p.SupervisorID] {
			queue = append(queue, a) // supervisor overloaded; holds unchanged
			continue
		}

		// commit the new hold set; displaced applicants re-propose
		for _, prev := range p.holds {
			if !holdsContain(accepted, prev.app) {
				queue = append(queue, prev.app)
			}
		}
		p.holds = accepted
		supHolds[p.SupervisorID] = tentative
	}

	// all tentative holds become final
	var assignments []Assignment
	for _, p := range projects {
		for _, h := range p.holds {
			assignments = append(assignments, Assignment{
				Target:       h.app.Target,
				ProjectID:    p.ID,
				SupervisorID: p.SupervisorID,
				Rank:         h.choice.Rank,
			})
		}
	}
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].ProjectID != assignments[j].ProjectID {
			return assignments[i].ProjectID < assignments[j].ProjectID
		}
		return assignments[i].Target.String() < assignments[j].Target.String()
	})
	sort.Slice(unallocated, func(i, j int) bool {
		return unallocated[i].String() < unallocated[j].String()
	})

	return MatchResult{Assignments: assignments, Unallocated: unallocated, Rounds: rounds}, nil
}

// sortByPriority orders holds by preference rank, then submission time
// (earlier wins), then target id to stay deterministic.
func sortByPriority(holds []appHold) {
	sort.Slice(holds, func(i, j int) bool {
		if holds[i].choice.Rank != holds[j].choice.Rank {
			return holds[i].choice.Rank < holds[j].choice.Rank
		}
		if !holds[i].choice.SubmittedAt.Equal(holds[j].choice.SubmittedAt) {
			return holds[i].choice.SubmittedAt.Before(holds[j].choice.SubmittedAt)
		}
		return holds[i].app.Target.String() < holds[j].app.Target.String()
	})
}

func holdsContain(holds []appHold, app *appState) bool {
	for _, h := range holds {
		if h.app == app {
			return true
		}
	}
	return false
}
