package escalation

import (
	"strconv"
)

// ReplayResult is the state reconstructed from an action log.
type ReplayResult struct {
	Status     Status
	Level      Level
	AssignedTo string
}

// Replay rebuilds status, level and assignee by walking the action log from
// creation. The log is append-only and the single source of truth, so the
// result must match the stored record; tests and the audit surface rely on
// that equivalence.
func Replay(e *Escalation) ReplayResult {
	result := ReplayResult{
		Status: StatusOpen,
		Level:  ClassifyLevel(DaysOverdue(e.ScheduledDate, e.CreatedAt), e.Severity),
	}

	for _, a := range e.Actions {
		switch a.Type {
		case ActionCreated:
			result.AssignedTo = a.Payload["assigned_to"]
		case ActionReassigned:
			result.AssignedTo = a.Payload["to"]
		case ActionInProgress:
			result.Status = StatusInProgress
		case ActionResolved:
			result.Status = StatusResolved
		case ActionEscalated:
			result.Status = StatusEscalated
			if to, err := strconv.Atoi(a.Payload["to_level"]); err == nil {
				result.Level = Level(to)
			}
		}
		// Time-driven reclassification happens between actions as days
		// accumulate; the floor recorded at each action keeps the replayed
		// level from dropping below what a manual escalation forced.
		if computed := ClassifyLevel(DaysOverdue(e.ScheduledDate, a.Timestamp), e.Severity); computed > result.Level {
			result.Level = computed
		}
	}

	return result
}
