package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	apperrors "github.com/vigildash/vigil/internal/errors"
	"github.com/vigildash/vigil/internal/escalation"
	"github.com/vigildash/vigil/internal/utils"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// EscalationHandlers handles escalation-related HTTP endpoints
type EscalationHandlers struct {
	manager *escalation.Manager
}

// NewEscalationHandlers creates new escalation handlers
func NewEscalationHandlers(manager *escalation.Manager) *EscalationHandlers {
	return &EscalationHandlers{
		manager: manager,
	}
}

// HandleCollection routes /api/escalations (list and create)
func (h *EscalationHandlers) HandleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ListEscalations(w, r)
	case http.MethodPost:
		h.CreateEscalation(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleEscalations routes /api/escalations/{id}[/...] requests to the
// appropriate handlers
func (h *EscalationHandlers) HandleEscalations(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/escalations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 1 && parts[0] == "stats" && r.Method == http.MethodGet {
		h.GetStats(w, r)
		return
	}

	if len(parts) == 1 && parts[0] != "" && r.Method == http.MethodGet {
		h.GetEscalation(w, r, parts[0])
		return
	}

	if len(parts) == 2 {
		id := parts[0]
		switch {
		case parts[1] == "comments" && r.Method == http.MethodGet:
			h.GetComments(w, r, id)
		case parts[1] == "comments" && r.Method == http.MethodPost:
			h.AddComment(w, r, id)
		case parts[1] == "actions" && r.Method == http.MethodGet:
			h.GetActions(w, r, id)
		case parts[1] == "reassign" && r.Method == http.MethodPost:
			h.Reassign(w, r, id)
		case parts[1] == "remind" && r.Method == http.MethodPost:
			h.SendReminder(w, r, id)
		case parts[1] == "progress" && r.Method == http.MethodPost:
			h.MarkInProgress(w, r, id)
		case parts[1] == "resolve" && r.Method == http.MethodPost:
			h.Resolve(w, r, id)
		case parts[1] == "escalate" && r.Method == http.MethodPost:
			h.EscalateHigher(w, r, id)
		case parts[1] == "notes" && r.Method == http.MethodPost:
			h.AddNote(w, r, id)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}

// ListEscalations returns a filtered, urgency-ordered page of records
func (h *EscalationHandlers) ListEscalations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := escalation.Filter{
		Severity:   escalation.Severity(q.Get("severity")),
		Status:     escalation.Status(q.Get("status")),
		AssignedTo: q.Get("assigned_to"),
		Search:     q.Get("search"),
	}

	if filter.Severity != "" && !escalation.ValidSeverity(filter.Severity) {
		writeError(w, apperrors.WrapValidation("list", apperrors.ErrInvalidInput))
		return
	}
	if filter.Status != "" && !escalation.ValidStatus(filter.Status) {
		writeError(w, apperrors.WrapValidation("list", apperrors.ErrInvalidInput))
		return
	}
	if levelStr := q.Get("level"); levelStr != "" {
		level, err := strconv.Atoi(levelStr)
		if err != nil || level < 1 || level > 3 {
			writeError(w, apperrors.WrapValidation("list", apperrors.ErrInvalidInput))
			return
		}
		filter.Level = escalation.Level(level)
	}

	page := 1
	if pageStr := q.Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	pageSize := defaultPageSize
	if sizeStr := q.Get("page_size"); sizeStr != "" {
		if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 {
			pageSize = s
			if pageSize > maxPageSize {
				pageSize = maxPageSize
			}
		}
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	records, total, err := h.manager.List(filter)
	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJSONResponse(w, map[string]interface{}{
		"escalations": records,
		"total":       total,
		"page":        page,
		"pageSize":    pageSize,
	})
}

// CreateEscalation registers a new escalation for an overdue or critical
// inspection
func (h *EscalationHandlers) CreateEscalation(w http.ResponseWriter, r *http.Request) {
	var request struct {
		AssetReference      string `json:"assetReference"`
		InspectionReference string `json:"inspectionReference"`
		ScheduledDate       string `json:"scheduledDate"`
		Severity            string `json:"severity"`
		AssignedTo          string `json:"assignedTo"`
		Actor               string `json:"actor,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	scheduled, err := time.Parse(time.RFC3339, request.ScheduledDate)
	if err != nil {
		// Accept bare dates as well; the dashboard date picker sends them
		scheduled, err = time.Parse("2006-01-02", request.ScheduledDate)
	}
	if err != nil {
		http.Error(w, "Invalid scheduled date", http.StatusBadRequest)
		return
	}

	record, err := h.manager.Create(escalation.CreateInput{
		AssetReference:      request.AssetReference,
		InspectionReference: request.InspectionReference,
		ScheduledDate:       scheduled,
		Severity:            escalation.Severity(request.Severity),
		AssignedTo:          request.AssignedTo,
		Actor:               request.Actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(record)
}

// GetEscalation returns a single record with full history
func (h *EscalationHandlers) GetEscalation(w http.ResponseWriter, r *http.Request, id string) {
	record, err := h.manager.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, record)
}

// GetStats returns the aggregate reporting payload
func (h *EscalationHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, stats)
}

// GetComments returns a record's comment stream
func (h *EscalationHandlers) GetComments(w http.ResponseWriter, r *http.Request, id string) {
	comments, err := h.manager.Comments(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if comments == nil {
		comments = []escalation.Comment{}
	}
	utils.WriteJSONResponse(w, comments)
}

// AddComment appends to a record's comment stream
func (h *EscalationHandlers) AddComment(w http.ResponseWriter, r *http.Request, id string) {
	var request struct {
		Text   string `json:"text"`
		Author string `json:"author,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	record, err := h.manager.AddNote(id, request.Text, actorOrDefault(request.Author))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, record)
}

// GetActions returns the full action-history replay
func (h *EscalationHandlers) GetActions(w http.ResponseWriter, r *http.Request, id string) {
	actions, err := h.manager.Actions(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if actions == nil {
		actions = []escalation.Action{}
	}
	utils.WriteJSONResponse(w, actions)
}

// Reassign moves a record to a new assignee
func (h *EscalationHandlers) Reassign(w http.ResponseWriter, r *http.Request, id string) {
	var request struct {
		Assignee string `json:"assignee"`
		Actor    string `json:"actor,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	record, err := h.manager.Reassign(id, request.Assignee, actorOrDefault(request.Actor))
	if err != nil {
		writeError(w, err)
		return
	}

	log.Info().Str("escalationID", id).Str("assignee", request.Assignee).Msg("Escalation reassigned")
	utils.WriteJSONResponse(w, record)
}

// SendReminder records a reminder on a record
func (h *EscalationHandlers) SendReminder(w http.ResponseWriter, r *http.Request, id string) {
	record, err := h.manager.SendReminder(id, actorFromBody(r))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, record)
}

// MarkInProgress starts work on a record
func (h *EscalationHandlers) MarkInProgress(w http.ResponseWriter, r *http.Request, id string) {
	record, err := h.manager.MarkInProgress(id, actorFromBody(r))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, record)
}

// Resolve closes the current escalation cycle
func (h *EscalationHandlers) Resolve(w http.ResponseWriter, r *http.Request, id string) {
	var request struct {
		Note  string `json:"note,omitempty"`
		Actor string `json:"actor,omitempty"`
	}
	if r.Body != nil {
		// The note is optional; an empty body is a valid resolve
		_ = json.NewDecoder(r.Body).Decode(&request)
	}

	record, err := h.manager.Resolve(id, request.Note, actorOrDefault(request.Actor))
	if err != nil {
		writeError(w, err)
		return
	}

	log.Info().Str("escalationID", id).Msg("Escalation resolved")
	utils.WriteJSONResponse(w, record)
}

// EscalateHigher forces a record to the next level
func (h *EscalationHandlers) EscalateHigher(w http.ResponseWriter, r *http.Request, id string) {
	var request struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	record, err := h.manager.EscalateHigher(id, request.Reason, actorOrDefault(request.Actor))
	if err != nil {
		writeError(w, err)
		return
	}

	log.Info().Str("escalationID", id).Int("level", int(record.Level)).Msg("Escalation forced to higher level")
	utils.WriteJSONResponse(w, record)
}

// AddNote records a note on an escalation
func (h *EscalationHandlers) AddNote(w http.ResponseWriter, r *http.Request, id string) {
	var request struct {
		Note  string `json:"note"`
		Actor string `json:"actor,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	record, err := h.manager.AddNote(id, request.Note, actorOrDefault(request.Actor))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSONResponse(w, record)
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
	case apperrors.IsValidation(err):
		status = http.StatusBadRequest
	case apperrors.IsInvalidState(err), apperrors.IsConflict(err):
		status = http.StatusConflict
	default:
		log.Error().Err(err).Msg("Unexpected error handling escalation request")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func actorOrDefault(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "operator"
	}
	return actor
}

func actorFromBody(r *http.Request) string {
	var request struct {
		Actor string `json:"actor,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&request)
	}
	return actorOrDefault(request.Actor)
}
