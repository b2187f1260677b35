package escalation

import (
	"time"
)

// Severity is the finding severity supplied by the inspection subsystem.
// It is immutable for the life of an escalation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a known severity enumerant.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Level is the 1-3 escalation tier derived from overdue time and severity.
type Level int

const (
	Level1 Level = 1
	Level2 Level = 2
	Level3 Level = 3
)

// Status is the lifecycle state of an escalation record. Mutated only
// through Manager transitions.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusEscalated  Status = "escalated"
)

// ValidStatus reports whether s is a known status enumerant.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusEscalated:
		return true
	}
	return false
}

// ActionType identifies an entry in the append-only action log.
type ActionType string

const (
	ActionCreated      ActionType = "created"
	ActionReassigned   ActionType = "reassigned"
	ActionReminderSent ActionType = "reminder_sent"
	ActionInProgress   ActionType = "in_progress"
	ActionResolved     ActionType = "resolved"
	ActionEscalated    ActionType = "escalated"
	ActionNoteAdded    ActionType = "note_added"
)

// Action is one immutable entry in an escalation's audit trail. The action
// log is the source of truth for history: status, level and assignee are
// always derivable by replaying it from creation.
type Action struct {
	ID        string            `json:"id"`
	Type      ActionType        `json:"type"`
	Actor     string            `json:"actor"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Comment is a free-text note in the record's comment stream.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Escalation is a tracked record for an overdue or critical inspection.
type Escalation struct {
	ID                  string    `json:"id"`
	AssetReference      string    `json:"assetReference"`
	InspectionReference string    `json:"inspectionReference"`
	ScheduledDate       time.Time `json:"scheduledDate"`
	Severity            Severity  `json:"severity"`
	Level               Level     `json:"escalationLevel"`
	Status              Status    `json:"status"`
	AssignedTo          string    `json:"assignedTo"`
	Notes               string    `json:"notes,omitempty"`
	Actions             []Action  `json:"actions"`
	Comments            []Comment `json:"comments"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
	ResolvedAt          *time.Time `json:"resolvedAt,omitempty"`
	// Version guards concurrent writers; the store rejects updates whose
	// expected version no longer matches the row.
	Version int `json:"version"`

	// Derived at read time, never persisted.
	DaysOverdue       int    `json:"daysOverdue"`
	UrgencyScore      int    `json:"urgencyScore"`
	RecommendedAction string `json:"recommendedAction"`
}

// Clone returns a deep copy of the escalation so it can be handed to other
// goroutines without sharing the action or comment slices.
func (e *Escalation) Clone() *Escalation {
	if e == nil {
		return nil
	}

	clone := *e

	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		clone.ResolvedAt = &t
	}

	if len(e.Actions) > 0 {
		clone.Actions = make([]Action, len(e.Actions))
		for i, a := range e.Actions {
			clone.Actions[i] = a
			if a.Payload != nil {
				p := make(map[string]string, len(a.Payload))
				for k, v := range a.Payload {
					p[k] = v
				}
				clone.Actions[i].Payload = p
			}
		}
	}

	if len(e.Comments) > 0 {
		clone.Comments = append([]Comment(nil), e.Comments...)
	}

	return &clone
}

// Refresh recomputes the derived fields from scheduledDate, severity and the
// supplied clock. The stored level is kept when a manual escalation forced it
// above what the formula yields; it is never allowed below the formula.
// Resolved records are frozen: their overdue count stops at resolution time
// and the level recorded at resolution stands.
func (e *Escalation) Refresh(now time.Time) {
	if e.Status == StatusResolved && e.ResolvedAt != nil {
		now = *e.ResolvedAt
	}
	e.DaysOverdue = DaysOverdue(e.ScheduledDate, now)
	if e.Status != StatusResolved {
		if computed := ClassifyLevel(e.DaysOverdue, e.Severity); computed > e.Level {
			e.Level = computed
		}
	}
	e.UrgencyScore = UrgencyScore(e.Level, e.Severity, e.DaysOverdue)
	e.RecommendedAction = RecommendAction(e.Level, e.Severity, e.DaysOverdue)
}
