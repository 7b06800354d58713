package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/store"
	"github.com/scottring/ParentPulse-sub002/internal/workbook"
)

func (s *HTTPServer) handlePersonWorkbooks(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, personID string, rest []string) {
	repo := s.service.Workbooks()

	if len(rest) == 0 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body workbook.CreateInput
		if !s.decode(w, r, &body) {
			return
		}
		body.PersonID = personID
		wb, err := repo.Create(r.Context(), actor, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, wb)
		return
	}

	if len(rest) == 1 && rest[0] == "active" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		wb, err := repo.GetActiveForWeek(r.Context(), actor, personID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workbook": wb})
		return
	}

	if len(rest) == 2 && rest[0] == "active" && rest[1] == "events" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		snapshots, err := s.service.WatchActiveWorkbook(r.Context(), actor, personID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		streamSnapshots(s, w, r, snapshots, "none")
		return
	}

	if len(rest) == 1 && rest[0] == "history" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		weeks, err := queryInt(r, "weeks", workbook.DefaultHistoryWeeks)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
			return
		}
		workbooks, err := repo.History(r.Context(), actor, personID, weeks)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workbooks": workbooks})
		return
	}

	if len(rest) == 1 && rest[0] == "archive" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		entries, err := s.service.ArchivedWorkbooks(r.Context(), actor, personID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleFamilyWorkbooks(w http.ResponseWriter, r *http.Request, actor domain.ActorContext) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	workbooks, err := s.service.Workbooks().ListActiveForFamily(r.Context(), actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workbooks": workbooks})
}

func (s *HTTPServer) handleWorkbook(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, workbookID string, rest []string) {
	repo := s.service.Workbooks()

	switch {
	case len(rest) == 0:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		wb, err := repo.Get(r.Context(), actor, workbookID)
		s.respondWorkbook(w, r, wb, err)

	case len(rest) == 3 && rest[0] == "goals" && rest[2] == "completions":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Completed bool   `json:"completed"`
			Notes     string `json:"notes"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		wb, err := repo.LogGoalCompletion(r.Context(), actor, workbookID, rest[1], body.Completed, body.Notes)
		s.respondWorkbook(w, r, wb, err)

	case len(rest) == 3 && rest[0] == "activities" && rest[2] == "complete":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			ChildResponse json.RawMessage `json:"childResponse"`
			ParentNotes   string          `json:"parentNotes"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		wb, err := repo.CompleteActivity(r.Context(), actor, workbookID, rest[1], body.ChildResponse, body.ParentNotes)
		s.respondWorkbook(w, r, wb, err)

	case len(rest) == 1 && rest[0] == "regenerate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			RegenerateRequest
			TimeoutSeconds int `json:"timeoutSeconds"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		body.Timeout = time.Duration(body.TimeoutSeconds) * time.Second
		wb, err := s.service.RegenerateActivities(r.Context(), actor, workbookID, body.RegenerateRequest)
		s.respondWorkbook(w, r, wb, err)

	case len(rest) == 1 && rest[0] == "reflection":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		var body workbook.ReflectionInput
		if !s.decode(w, r, &body) {
			return
		}
		wb, err := repo.SaveReflection(r.Context(), actor, workbookID, body)
		s.respondWorkbook(w, r, wb, err)

	case len(rest) == 1 && rest[0] == "complete":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		wb, err := repo.Complete(r.Context(), actor, workbookID)
		s.respondWorkbook(w, r, wb, err)

	case len(rest) == 1 && rest[0] == "export.xlsx":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		result, err := s.service.ExportWorkbookSheet(r.Context(), actor, workbookID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeFile(w, result.Filename, result.MimeType, result.Data)

	case len(rest) == 1 && rest[0] == "events":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		snapshots, err := s.service.WatchWorkbook(r.Context(), actor, workbookID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		streamSnapshots(s, w, r, snapshots, "deleted")

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) respondWorkbook(w http.ResponseWriter, r *http.Request, wb store.Workbook, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wb)
}
