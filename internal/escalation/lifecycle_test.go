package escalation

import (
	"strings"
	"testing"
	"time"

	apperrors "github.com/vigildash/vigil/internal/errors"
)

// memStore is an in-memory Store used to exercise the manager without SQLite.
type memStore struct {
	records map[string]*Escalation
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*Escalation)}
}

func (s *memStore) Insert(e *Escalation) error {
	s.records[e.ID] = e.Clone()
	return nil
}

func (s *memStore) Get(id string) (*Escalation, error) {
	e, ok := s.records[id]
	if !ok {
		return nil, apperrors.WrapNotFound("get", id)
	}
	return e.Clone(), nil
}

func (s *memStore) FindActiveByInspection(inspectionRef string) (*Escalation, error) {
	for _, e := range s.records {
		if e.InspectionReference == inspectionRef && e.Status != StatusResolved {
			return e.Clone(), nil
		}
	}
	return nil, nil
}

func (s *memStore) Update(e *Escalation, expectedVersion int, newActions []Action, newComments []Comment) error {
	current, ok := s.records[e.ID]
	if !ok {
		return apperrors.WrapNotFound("update", e.ID)
	}
	if current.Version != expectedVersion {
		return apperrors.WrapConflict("update", e.ID)
	}
	s.records[e.ID] = e.Clone()
	return nil
}

func (s *memStore) List(f Filter) ([]*Escalation, error) {
	var out []*Escalation
	for _, e := range s.records {
		if f.Severity != "" && e.Severity != f.Severity {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.AssignedTo != "" && e.AssignedTo != f.AssignedTo {
			continue
		}
		if f.Search != "" && !strings.Contains(e.AssetReference, f.Search) && !strings.Contains(e.InspectionReference, f.Search) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

func newTestManager(t *testing.T, now time.Time) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	m := NewManager(store)
	m.SetNowFunc(func() time.Time { return now })
	return m, store
}

func mustCreate(t *testing.T, m *Manager, now time.Time, severity Severity, daysOverdue int) *Escalation {
	t.Helper()
	e, err := m.Create(CreateInput{
		AssetReference:      "asset-7",
		InspectionReference: "insp-" + string(severity) + "-" + time.Now().Format("150405.000000000"),
		ScheduledDate:       now.AddDate(0, 0, -daysOverdue),
		Severity:            severity,
		AssignedTo:          "inspector-1",
		Actor:               "scheduler",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return e
}

func TestCreateClassifiesAndLogs(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityHigh, 10)

	if e.Status != StatusOpen {
		t.Fatalf("status = %s, want open", e.Status)
	}
	if e.Level != Level2 {
		t.Fatalf("level = %d, want 2", e.Level)
	}
	if e.DaysOverdue != 10 {
		t.Fatalf("daysOverdue = %d, want 10", e.DaysOverdue)
	}
	if len(e.Actions) != 1 || e.Actions[0].Type != ActionCreated {
		t.Fatalf("expected a single created action, got %+v", e.Actions)
	}
	if e.RecommendedAction == "" || e.UrgencyScore == 0 {
		t.Fatal("derived fields not populated")
	}
}

func TestCreateRejectsNotOverdueNonCritical(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	_, err := m.Create(CreateInput{
		AssetReference:      "asset-1",
		InspectionReference: "insp-1",
		ScheduledDate:       now.AddDate(0, 0, 3),
		Severity:            SeverityMedium,
	})
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Critical findings escalate even before the due date
	if _, err := m.Create(CreateInput{
		AssetReference:      "asset-1",
		InspectionReference: "insp-2",
		ScheduledDate:       now.AddDate(0, 0, 3),
		Severity:            SeverityCritical,
	}); err != nil {
		t.Fatalf("critical create failed: %v", err)
	}
}

func TestCreateRejectsUnknownSeverity(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	_, err := m.Create(CreateInput{
		AssetReference:      "asset-1",
		InspectionReference: "insp-1",
		ScheduledDate:       now.AddDate(0, 0, -5),
		Severity:            Severity("catastrophic"),
	})
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRejectsDuplicateActiveCycle(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	in := CreateInput{
		AssetReference:      "asset-1",
		InspectionReference: "insp-dup",
		ScheduledDate:       now.AddDate(0, 0, -5),
		Severity:            SeverityLow,
	}
	first, err := m.Create(in)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := m.Create(in); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error for duplicate, got %v", err)
	}

	// Resolving the cycle frees the inspection for a new one
	if _, err := m.Resolve(first.ID, "", "op"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := m.Create(in); err != nil {
		t.Fatalf("create after resolve failed: %v", err)
	}
}

func TestDoubleResolveRejected(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, store := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityHigh, 10)

	resolved, err := m.Resolve(e.ID, "fixed on site", "op")
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Fatalf("status = %s, want resolved", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Fatal("resolvedAt not set")
	}

	_, err = m.Resolve(e.ID, "", "op")
	if !apperrors.IsInvalidState(err) {
		t.Fatalf("second resolve: expected invalid state error, got %v", err)
	}

	// Exactly one resolved action was appended, not two
	stored := store.records[e.ID]
	if len(stored.Actions) != 2 {
		t.Fatalf("actions length = %d, want 2 (created + resolved)", len(stored.Actions))
	}
	if stored.Actions[1].Type != ActionResolved {
		t.Fatalf("last action = %s, want resolved", stored.Actions[1].Type)
	}
}

func TestResolvedRecordIsFrozen(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityMedium, 10)
	if _, err := m.Resolve(e.ID, "", "op"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if _, err := m.Reassign(e.ID, "inspector-2", "op"); !apperrors.IsInvalidState(err) {
		t.Fatalf("reassign on resolved: expected invalid state, got %v", err)
	}
	if _, err := m.SendReminder(e.ID, "op"); !apperrors.IsInvalidState(err) {
		t.Fatalf("reminder on resolved: expected invalid state, got %v", err)
	}
	if _, err := m.AddNote(e.ID, "late note", "op"); !apperrors.IsInvalidState(err) {
		t.Fatalf("note on resolved: expected invalid state, got %v", err)
	}
	if _, err := m.EscalateHigher(e.ID, "still broken", "op"); !apperrors.IsInvalidState(err) {
		t.Fatalf("escalate on resolved: expected invalid state, got %v", err)
	}
}

func TestEscalateHigher(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityLow, 3) // level 1

	e2, err := m.EscalateHigher(e.ID, "no response from inspector", "supervisor")
	if err != nil {
		t.Fatalf("escalate failed: %v", err)
	}
	if e2.Level != Level2 {
		t.Fatalf("level = %d, want 2", e2.Level)
	}
	if e2.Status != StatusEscalated {
		t.Fatalf("status = %s, want escalated", e2.Status)
	}

	e3, err := m.EscalateHigher(e.ID, "still no response", "supervisor")
	if err != nil {
		t.Fatalf("second escalate failed: %v", err)
	}
	if e3.Level != Level3 {
		t.Fatalf("level = %d, want 3", e3.Level)
	}

	_, err = m.EscalateHigher(e.ID, "push harder", "supervisor")
	if !apperrors.IsInvalidState(err) {
		t.Fatalf("escalate past level 3: expected invalid state, got %v", err)
	}
}

func TestEscalateHigherRequiresReason(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityLow, 3)
	if _, err := m.EscalateHigher(e.ID, "  ", "supervisor"); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error for empty reason, got %v", err)
	}
}

func TestManualLevelNeverBelowFormula(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	// 16 days overdue classifies straight to level 3; no headroom remains.
	e := mustCreate(t, m, now, SeverityLow, 16)
	if e.Level != Level3 {
		t.Fatalf("level = %d, want 3", e.Level)
	}
	if _, err := m.EscalateHigher(e.ID, "nudge", "supervisor"); !apperrors.IsInvalidState(err) {
		t.Fatalf("expected invalid state at level 3, got %v", err)
	}
}

func TestReassignKeepsStatus(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityMedium, 9)

	e2, err := m.Reassign(e.ID, "inspector-2", "supervisor")
	if err != nil {
		t.Fatalf("reassign failed: %v", err)
	}
	if e2.AssignedTo != "inspector-2" {
		t.Fatalf("assignedTo = %s, want inspector-2", e2.AssignedTo)
	}
	if e2.Status != StatusOpen {
		t.Fatalf("status = %s, want open (reassign must not change it)", e2.Status)
	}

	last := e2.Actions[len(e2.Actions)-1]
	if last.Type != ActionReassigned || last.Payload["from"] != "inspector-1" || last.Payload["to"] != "inspector-2" {
		t.Fatalf("unexpected reassign action: %+v", last)
	}
}

func TestMarkInProgressRequiresPriorAction(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityMedium, 9)

	if _, err := m.MarkInProgress(e.ID, "op"); !apperrors.IsInvalidState(err) {
		t.Fatalf("expected invalid state on untouched record, got %v", err)
	}

	if _, err := m.SendReminder(e.ID, "op"); err != nil {
		t.Fatalf("reminder failed: %v", err)
	}
	e2, err := m.MarkInProgress(e.ID, "op")
	if err != nil {
		t.Fatalf("mark in progress failed: %v", err)
	}
	if e2.Status != StatusInProgress {
		t.Fatalf("status = %s, want in_progress", e2.Status)
	}

	// Only valid from open
	if _, err := m.MarkInProgress(e.ID, "op"); !apperrors.IsInvalidState(err) {
		t.Fatalf("expected invalid state when already in progress, got %v", err)
	}
}

func TestAddNoteAppendsComment(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityMedium, 9)

	e2, err := m.AddNote(e.ID, "inspector on leave until Monday", "supervisor")
	if err != nil {
		t.Fatalf("add note failed: %v", err)
	}
	if e2.Notes != "inspector on leave until Monday" {
		t.Fatalf("notes = %q", e2.Notes)
	}
	if len(e2.Comments) != 1 || e2.Comments[0].Author != "supervisor" {
		t.Fatalf("unexpected comments: %+v", e2.Comments)
	}
	if e2.Status != StatusOpen {
		t.Fatalf("status = %s, want open (notes must not change it)", e2.Status)
	}

	comments, err := m.Comments(e.ID)
	if err != nil || len(comments) != 1 {
		t.Fatalf("Comments() = %v, %v", comments, err)
	}
}

func TestConcurrentResolveOneWinner(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, store := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityHigh, 10)

	// Simulate a concurrent writer bumping the version between this
	// transition's load and its store update.
	stored := store.records[e.ID]
	snapshot := stored.Clone()
	stored.Version++

	err := store.Update(snapshot, snapshot.Version, nil, nil)
	if !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestListSortsByUrgencyAndPaginates(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	low := mustCreate(t, m, now, SeverityLow, 2)       // level 1, score 112
	high := mustCreate(t, m, now, SeverityHigh, 20)    // level 3, score 350
	medium := mustCreate(t, m, now, SeverityMedium, 9) // level 2, score 229

	records, total, err := m.List(Filter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 3 || len(records) != 3 {
		t.Fatalf("total = %d, len = %d, want 3/3", total, len(records))
	}
	if records[0].ID != high.ID || records[1].ID != medium.ID || records[2].ID != low.ID {
		t.Fatalf("wrong triage order: %s, %s, %s", records[0].ID, records[1].ID, records[2].ID)
	}

	page, total, err := m.List(Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("paged list failed: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].ID != low.ID {
		t.Fatalf("unexpected page: total=%d len=%d", total, len(page))
	}
}

func TestListFiltersByCurrentLevel(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityLow, 7) // level 1 today

	// Ten days later the same record classifies as level 3; a stored-level
	// filter would miss it.
	later := now.AddDate(0, 0, 10)
	m.SetNowFunc(func() time.Time { return later })

	records, _, err := m.List(Filter{Level: Level3})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != e.ID {
		t.Fatalf("expected record reclassified to level 3, got %d records", len(records))
	}
}

func TestReplayReproducesState(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, store := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityMedium, 9)

	if _, err := m.Reassign(e.ID, "inspector-2", "supervisor"); err != nil {
		t.Fatalf("reassign failed: %v", err)
	}
	if _, err := m.MarkInProgress(e.ID, "inspector-2"); err != nil {
		t.Fatalf("mark in progress failed: %v", err)
	}
	if _, err := m.EscalateHigher(e.ID, "deadline passed", "supervisor"); err != nil {
		t.Fatalf("escalate failed: %v", err)
	}

	stored := store.records[e.ID]
	replayed := Replay(stored)

	if replayed.Status != stored.Status {
		t.Fatalf("replayed status = %s, stored = %s", replayed.Status, stored.Status)
	}
	if replayed.Level != stored.Level {
		t.Fatalf("replayed level = %d, stored = %d", replayed.Level, stored.Level)
	}
	if replayed.AssignedTo != stored.AssignedTo {
		t.Fatalf("replayed assignee = %s, stored = %s", replayed.AssignedTo, stored.AssignedTo)
	}
}

func TestReplayAfterResolution(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, store := newTestManager(t, now)

	e := mustCreate(t, m, now, SeverityHigh, 16)
	if _, err := m.Resolve(e.ID, "done", "op"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	stored := store.records[e.ID]
	replayed := Replay(stored)
	if replayed.Status != StatusResolved {
		t.Fatalf("replayed status = %s, want resolved", replayed.Status)
	}
	if replayed.Level != Level3 {
		t.Fatalf("replayed level = %d, want 3", replayed.Level)
	}
}

func TestStats(t *testing.T) {
	now := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	mustCreate(t, m, now, SeverityLow, 2)             // level 1, open
	mustCreate(t, m, now, SeverityHigh, 20)           // level 3, open
	resolved := mustCreate(t, m, now, SeverityMedium, 9) // level 2

	// Resolve four days after creation
	resolveTime := now.AddDate(0, 0, 4)
	m.SetNowFunc(func() time.Time { return resolveTime })
	if _, err := m.Resolve(resolved.ID, "", "op"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	stats, err := m.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("total = %d, want 3", stats.Total)
	}
	if stats.Open != 2 || stats.Resolved != 1 {
		t.Fatalf("open = %d, resolved = %d", stats.Open, stats.Resolved)
	}
	if stats.Level3 != 1 {
		t.Fatalf("level3 = %d, want 1", stats.Level3)
	}
	if stats.ResolvedThisWeek != 1 {
		t.Fatalf("resolvedThisWeek = %d, want 1", stats.ResolvedThisWeek)
	}
	if stats.AverageResolutionDays != 4 {
		t.Fatalf("averageResolutionDays = %v, want 4", stats.AverageResolutionDays)
	}
}
