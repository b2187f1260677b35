package escalation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	apperrors "github.com/vigildash/vigil/internal/errors"
	"github.com/vigildash/vigil/internal/utils"
)

// Store is the persistence boundary the manager drives. Implementations must
// apply Update atomically: the record row, its new actions and comments
// commit together or not at all, and a stale expected version must surface
// as a conflict so concurrent writers cannot both win.
type Store interface {
	Insert(e *Escalation) error
	Get(id string) (*Escalation, error)
	FindActiveByInspection(inspectionRef string) (*Escalation, error)
	Update(e *Escalation, expectedVersion int, newActions []Action, newComments []Comment) error
	// List returns records matching the filter's stored-field constraints
	// (severity, status, assignee, search). Level, ordering and pagination
	// are applied by the manager after reclassification, since the stored
	// level can lag the clock.
	List(f Filter) ([]*Escalation, error)
}

// Broadcaster pushes record changes to connected dashboard clients.
type Broadcaster interface {
	BroadcastEscalation(e interface{})
	BroadcastStats(s interface{})
}

// Filter narrows List queries. Zero values mean "no constraint".
type Filter struct {
	Level      Level
	Severity   Severity
	Status     Status
	AssignedTo string
	Search     string
	Limit      int
	Offset     int
}

// Metric hooks, wired by the metrics package at startup so this package
// stays free of a prometheus dependency.
var (
	hookMu           sync.RWMutex
	onCreatedHook    func(*Escalation)
	onTransitionHook func(ActionType, *Escalation)
	onResolvedHook   func(*Escalation, time.Duration)
)

// SetMetricHooks registers callbacks fired on record creation, on every
// lifecycle transition, and on resolution (with time-to-resolve).
func SetMetricHooks(created func(*Escalation), transition func(ActionType, *Escalation), resolved func(*Escalation, time.Duration)) {
	hookMu.Lock()
	defer hookMu.Unlock()
	onCreatedHook = created
	onTransitionHook = transition
	onResolvedHook = resolved
}

func fireCreated(e *Escalation) {
	hookMu.RLock()
	hook := onCreatedHook
	hookMu.RUnlock()
	if hook != nil {
		hook(e)
	}
}

func fireTransition(t ActionType, e *Escalation) {
	hookMu.RLock()
	hook := onTransitionHook
	hookMu.RUnlock()
	if hook != nil {
		hook(t, e)
	}
}

func fireResolved(e *Escalation, d time.Duration) {
	hookMu.RLock()
	hook := onResolvedHook
	hookMu.RUnlock()
	if hook != nil {
		hook(e, d)
	}
}

// Manager owns the escalation lifecycle: creation and every status
// transition go through it so the action log stays the single source of
// truth. Classification, scoring and recommendations are recomputed on each
// read; only scheduled date, severity, status and the logs are durable.
type Manager struct {
	store Store
	hub   Broadcaster
	nowFn func() time.Time
}

// NewManager creates a lifecycle manager on top of the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		nowFn: time.Now,
	}
}

// SetBroadcaster wires the WebSocket hub for live dashboard updates.
func (m *Manager) SetBroadcaster(hub Broadcaster) {
	m.hub = hub
}

// SetNowFunc overrides the clock. Tests use this to pin "now".
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.nowFn = now
}

// CreateInput carries the collaborator-owned fields for a new escalation.
type CreateInput struct {
	AssetReference      string
	InspectionReference string
	ScheduledDate       time.Time
	Severity            Severity
	AssignedTo          string
	Actor               string
}

// Create registers a new escalation for an overdue or critical inspection.
// A non-critical inspection must be at least one day overdue; a second
// active cycle for the same inspection reference is rejected.
func (m *Manager) Create(in CreateInput) (*Escalation, error) {
	const op = "create"

	if strings.TrimSpace(in.InspectionReference) == "" {
		return nil, apperrors.WrapValidation(op, fmt.Errorf("inspection reference is required: %w", apperrors.ErrInvalidInput))
	}
	if strings.TrimSpace(in.AssetReference) == "" {
		return nil, apperrors.WrapValidation(op, fmt.Errorf("asset reference is required: %w", apperrors.ErrInvalidInput))
	}
	if !ValidSeverity(in.Severity) {
		return nil, apperrors.WrapValidation(op, fmt.Errorf("unknown severity %q: %w", in.Severity, apperrors.ErrInvalidInput))
	}
	if in.ScheduledDate.IsZero() {
		return nil, apperrors.WrapValidation(op, fmt.Errorf("scheduled date is required: %w", apperrors.ErrInvalidInput))
	}

	now := m.nowFn()
	days := DaysOverdue(in.ScheduledDate, now)
	if days < 1 && in.Severity != SeverityCritical {
		return nil, apperrors.WrapValidation(op, fmt.Errorf("inspection is not overdue and finding is not critical: %w", apperrors.ErrInvalidInput))
	}

	if existing, err := m.store.FindActiveByInspection(in.InspectionReference); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apperrors.WrapValidation(op, fmt.Errorf("inspection %s already has an active escalation %s: %w",
			in.InspectionReference, existing.ID, apperrors.ErrInvalidInput))
	}

	e := &Escalation{
		ID:                  utils.GenerateID("esc"),
		AssetReference:      in.AssetReference,
		InspectionReference: in.InspectionReference,
		ScheduledDate:       in.ScheduledDate,
		Severity:            in.Severity,
		Level:               ClassifyLevel(days, in.Severity),
		Status:              StatusOpen,
		AssignedTo:          in.AssignedTo,
		CreatedAt:           now,
		UpdatedAt:           now,
		Version:             1,
	}
	e.Actions = []Action{m.newAction(ActionCreated, in.Actor, now, map[string]string{
		"severity":    string(in.Severity),
		"assigned_to": in.AssignedTo,
	})}

	if err := m.store.Insert(e); err != nil {
		return nil, err
	}

	e.Refresh(now)
	log.Info().
		Str("escalationID", e.ID).
		Str("inspection", e.InspectionReference).
		Str("severity", string(e.Severity)).
		Int("level", int(e.Level)).
		Msg("Escalation created")

	fireCreated(e)
	m.broadcast(e)
	return e.Clone(), nil
}

// Get returns a single record with derived fields refreshed.
func (m *Manager) Get(id string) (*Escalation, error) {
	e, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	e.Refresh(m.nowFn())
	return e, nil
}

// List returns classified records matching the filter plus the total match
// count, sorted by urgency score descending. Pagination slices after the
// sort so a page is always a contiguous run of the triage order.
func (m *Manager) List(f Filter) ([]*Escalation, int, error) {
	records, err := m.store.List(f)
	if err != nil {
		return nil, 0, err
	}

	now := m.nowFn()
	classified := records[:0]
	for _, e := range records {
		e.Refresh(now)
		if f.Level != 0 && e.Level != f.Level {
			continue
		}
		classified = append(classified, e)
	}
	sortByUrgency(classified)

	total := len(classified)
	if f.Offset > 0 {
		if f.Offset >= total {
			return []*Escalation{}, total, nil
		}
		classified = classified[f.Offset:]
	}
	if f.Limit > 0 && len(classified) > f.Limit {
		classified = classified[:f.Limit]
	}
	return classified, total, nil
}

// Reassign moves responsibility to a new assignee. Valid from any
// non-resolved state; the status is left untouched.
func (m *Manager) Reassign(id, newAssignee, actor string) (*Escalation, error) {
	const op = "reassign"

	if strings.TrimSpace(newAssignee) == "" {
		return nil, apperrors.WrapValidation(op, fmt.Errorf("assignee is required: %w", apperrors.ErrInvalidInput))
	}

	return m.transition(op, id, func(e *Escalation, now time.Time) ([]Action, []Comment, error) {
		if e.Status == StatusResolved {
			return nil, nil, alreadyResolved(op, e.ID)
		}
		action := m.newAction(ActionReassigned, actor, now, map[string]string{
			"from": e.AssignedTo,
			"to":   newAssignee,
		})
		e.AssignedTo = newAssignee
		return []Action{action}, nil, nil
	})
}

// SendReminder records a reminder on an open or in-progress record.
func (m *Manager) SendReminder(id, actor string) (*Escalation, error) {
	const op = "send_reminder"

	return m.transition(op, id, func(e *Escalation, now time.Time) ([]Action, []Comment, error) {
		switch e.Status {
		case StatusOpen, StatusInProgress:
		case StatusResolved:
			return nil, nil, alreadyResolved(op, e.ID)
		default:
			return nil, nil, apperrors.WrapInvalidState(op, e.ID,
				fmt.Errorf("cannot send reminder while %s: %w", e.Status, apperrors.ErrInvalidState))
		}
		action := m.newAction(ActionReminderSent, actor, now, nil)
		return []Action{action}, nil, nil
	})
}

// MarkInProgress is the explicit open -> in_progress transition. It is never
// taken implicitly by reminders or reassignments, and it requires at least
// one action beyond creation so in_progress cannot be entered on an
// untouched record.
func (m *Manager) MarkInProgress(id, actor string) (*Escalation, error) {
	const op = "mark_in_progress"

	return m.transition(op, id, func(e *Escalation, now time.Time) ([]Action, []Comment, error) {
		if e.Status == StatusResolved {
			return nil, nil, alreadyResolved(op, e.ID)
		}
		if e.Status != StatusOpen {
			return nil, nil, apperrors.WrapInvalidState(op, e.ID,
				fmt.Errorf("cannot start work while %s: %w", e.Status, apperrors.ErrInvalidState))
		}
		if len(e.Actions) < 2 {
			return nil, nil, apperrors.WrapInvalidState(op, e.ID,
				fmt.Errorf("no action has been taken on this escalation yet: %w", apperrors.ErrInvalidState))
		}
		action := m.newAction(ActionInProgress, actor, now, nil)
		e.Status = StatusInProgress
		return []Action{action}, nil, nil
	})
}

// Resolve closes the current escalation cycle. A double resolve is rejected,
// never silently accepted: resolution time feeds the stats and must be a
// one-time event.
func (m *Manager) Resolve(id, note, actor string) (*Escalation, error) {
	const op = "resolve"

	var resolvedIn time.Duration
	e, err := m.transition(op, id, func(e *Escalation, now time.Time) ([]Action, []Comment, error) {
		if e.Status == StatusResolved {
			return nil, nil, alreadyResolved(op, e.ID)
		}
		payload := map[string]string{}
		if note != "" {
			payload["note"] = note
			e.Notes = note
		}
		action := m.newAction(ActionResolved, actor, now, payload)
		e.Status = StatusResolved
		resolvedAt := now
		e.ResolvedAt = &resolvedAt
		resolvedIn = now.Sub(e.CreatedAt)
		return []Action{action}, nil, nil
	})
	if err != nil {
		return nil, err
	}

	fireResolved(e, resolvedIn)
	return e, nil
}

// CanEscalateHigher reports whether the record has headroom above its
// current level.
func CanEscalateHigher(e *Escalation) bool {
	return e.Level < Level3
}

// EscalateHigher forces the level to the next tier and marks the record
// escalated. There is no level 4: a level-3 record cannot go higher.
func (m *Manager) EscalateHigher(id, reason, actor string) (*Escalation, error) {
	const op = "escalate_higher"

	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.WrapValidation(op, fmt.Errorf("a reason is required to escalate: %w", apperrors.ErrInvalidInput))
	}

	return m.transition(op, id, func(e *Escalation, now time.Time) ([]Action, []Comment, error) {
		if e.Status == StatusResolved {
			return nil, nil, alreadyResolved(op, e.ID)
		}
		// Headroom is judged against the refreshed classification: days
		// overdue may already have pushed the record to the top tier.
		if !CanEscalateHigher(e) {
			return nil, nil, apperrors.WrapInvalidState(op, e.ID,
				fmt.Errorf("already at maximum escalation level: %w", apperrors.ErrInvalidState))
		}
		action := m.newAction(ActionEscalated, actor, now, map[string]string{
			"reason":     reason,
			"from_level": fmt.Sprintf("%d", e.Level),
			"to_level":   fmt.Sprintf("%d", e.Level+1),
		})
		e.Level++
		e.Status = StatusEscalated
		return []Action{action}, nil, nil
	})
}

// AddNote appends to the comment stream and records the text as the most
// recent annotation. Valid in any non-resolved state.
func (m *Manager) AddNote(id, text, author string) (*Escalation, error) {
	const op = "add_note"

	if strings.TrimSpace(text) == "" {
		return nil, apperrors.WrapValidation(op, fmt.Errorf("note text is required: %w", apperrors.ErrInvalidInput))
	}

	return m.transition(op, id, func(e *Escalation, now time.Time) ([]Action, []Comment, error) {
		if e.Status == StatusResolved {
			return nil, nil, alreadyResolved(op, e.ID)
		}
		comment := Comment{
			ID:        utils.GenerateID("cmt"),
			Author:    author,
			Text:      text,
			Timestamp: now,
		}
		action := m.newAction(ActionNoteAdded, author, now, map[string]string{"note": text})
		e.Notes = text
		e.Comments = append(e.Comments, comment)
		return []Action{action}, []Comment{comment}, nil
	})
}

// Comments returns the comment stream for a record.
func (m *Manager) Comments(id string) ([]Comment, error) {
	e, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	return e.Comments, nil
}

// Actions returns the full action history for a record.
func (m *Manager) Actions(id string) ([]Action, error) {
	e, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	return e.Actions, nil
}

// Stats aggregates all records into the reporting payload.
func (m *Manager) Stats() (Stats, error) {
	records, err := m.store.List(Filter{})
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(records, m.nowFn()), nil
}

// transition loads the record, applies the mutation, and persists it
// atomically against the version observed at load time. A rejected mutation
// leaves the stored record untouched.
func (m *Manager) transition(op, id string, mutate func(e *Escalation, now time.Time) ([]Action, []Comment, error)) (*Escalation, error) {
	e, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	now := m.nowFn()
	expectedVersion := e.Version

	// Reclassify before mutating so the level persisted with this
	// transition reflects the overdue time at the moment it was taken.
	e.Refresh(now)

	newActions, newComments, err := mutate(e, now)
	if err != nil {
		return nil, err
	}

	e.Actions = append(e.Actions, newActions...)
	e.UpdatedAt = now
	e.Version++

	if err := m.store.Update(e, expectedVersion, newActions, newComments); err != nil {
		return nil, err
	}

	e.Refresh(now)
	for _, a := range newActions {
		fireTransition(a.Type, e)
	}
	log.Info().
		Str("escalationID", e.ID).
		Str("op", op).
		Str("status", string(e.Status)).
		Int("level", int(e.Level)).
		Msg("Escalation transition applied")

	m.broadcast(e)
	return e.Clone(), nil
}

func (m *Manager) broadcast(e *Escalation) {
	if m.hub == nil {
		return
	}
	m.hub.BroadcastEscalation(e.Clone())
	if stats, err := m.Stats(); err == nil {
		m.hub.BroadcastStats(stats)
	}
}

func (m *Manager) newAction(t ActionType, actor string, ts time.Time, payload map[string]string) Action {
	if actor == "" {
		actor = "system"
	}
	return Action{
		ID:        utils.NewActionID(ts),
		Type:      t,
		Actor:     actor,
		Timestamp: ts,
		Payload:   payload,
	}
}

func alreadyResolved(op, id string) error {
	return apperrors.WrapInvalidState(op, id,
		fmt.Errorf("escalation is already resolved: %w", apperrors.ErrInvalidState))
}
