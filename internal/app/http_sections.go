package app

import (
	"net/http"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/rolesection"
	"github.com/scottring/ParentPulse-sub002/internal/store"
)

func (s *HTTPServer) handleManualSections(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, manualID string) {
	repo := s.service.Sections()

	switch r.Method {
	case http.MethodGet:
		var (
			sections []store.RoleSection
			err      error
		)
		if roleType := r.URL.Query().Get("roleType"); roleType != "" {
			sections, err = repo.ListByRoleType(r.Context(), actor, manualID, store.RoleType(roleType))
		} else {
			sections, err = repo.List(r.Context(), actor, manualID)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roleSections": sections})

	case http.MethodPost:
		var body rolesection.CreateInput
		if !s.decode(w, r, &body) {
			return
		}
		body.ManualID = manualID
		section, err := repo.Create(r.Context(), actor, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, section)

	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleRoleSection(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string, rest []string) {
	switch {
	case len(rest) == 0:
		s.handleSectionDocument(w, r, actor, sectionID)
	case rest[0] == "triggers":
		s.handleTriggers(w, r, actor, sectionID, rest[1:])
	case rest[0] == "strategies":
		s.handleStrategies(w, r, actor, sectionID, rest[1:])
	case rest[0] == "boundaries":
		s.handleBoundaries(w, r, actor, sectionID, rest[1:])
	case rest[0] == "contributors":
		s.handleContributors(w, r, actor, sectionID, rest[1:])
	case rest[0] == "overview-contributions":
		s.handleContributions(w, r, actor, sectionID, rest[1:])
	case rest[0] == "history":
		s.handleSectionHistory(w, r, actor, sectionID, rest[1:])
	case len(rest) == 1 && rest[0] == "progress-notes":
		s.handleProgressNotes(w, r, actor, sectionID)
	case len(rest) == 1 && rest[0] == "permissions":
		s.handlePermissions(w, r, actor, sectionID)
	case len(rest) == 1 && rest[0] == "export.pdf":
		s.handleSectionPDF(w, r, actor, sectionID)
	case len(rest) == 1 && rest[0] == "events":
		s.handleSectionEvents(w, r, actor, sectionID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSectionDocument(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string) {
	repo := s.service.Sections()

	switch r.Method {
	case http.MethodGet:
		section, err := repo.Get(r.Context(), actor, sectionID)
		s.respondSection(w, r, section, err)

	case http.MethodPatch:
		var body rolesection.UpdateDetails
		if !s.decode(w, r, &body) {
			return
		}
		section, err := repo.Update(r.Context(), actor, sectionID, body)
		s.respondSection(w, r, section, err)

	case http.MethodDelete:
		if err := repo.Delete(r.Context(), actor, sectionID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleTriggers(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string, rest []string) {
	repo := s.service.Sections()

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body rolesection.TriggerInput
		if !s.decode(w, r, &body) {
			return
		}
		section, err := repo.AddTrigger(r.Context(), actor, sectionID, body)
		s.respondSection(w, r, section, err)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodDelete {
		section, err := repo.RemoveTrigger(r.Context(), actor, sectionID, rest[0])
		s.respondSection(w, r, section, err)
		return
	}

	if len(rest) == 2 && rest[1] == "confirm" && r.Method == http.MethodPost {
		section, err := repo.ConfirmTrigger(r.Context(), actor, sectionID, rest[0])
		s.respondSection(w, r, section, err)
		return
	}

	notFoundOrMethod(w, len(rest) <= 1 || (len(rest) == 2 && rest[1] == "confirm"))
}

func (s *HTTPServer) handleStrategies(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string, rest []string) {
	repo := s.service.Sections()

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body struct {
			Bucket rolesection.Bucket `json:"bucket"`
			rolesection.StrategyInput
		}
		if !s.decode(w, r, &body) {
			return
		}
		section, err := repo.AddStrategy(r.Context(), actor, sectionID, bucketOrDefault(body.Bucket), body.StrategyInput)
		s.respondSection(w, r, section, err)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodDelete {
		bucket := rolesection.Bucket(r.URL.Query().Get("bucket"))
		section, err := repo.RemoveStrategy(r.Context(), actor, sectionID, rest[0], bucketOrDefault(bucket))
		s.respondSection(w, r, section, err)
		return
	}

	if len(rest) == 2 && rest[1] == "move" && r.Method == http.MethodPost {
		var body struct {
			From rolesection.Bucket `json:"from"`
			To   rolesection.Bucket `json:"to"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		section, err := repo.MoveStrategy(r.Context(), actor, sectionID, rest[0], body.From, body.To)
		s.respondSection(w, r, section, err)
		return
	}

	if len(rest) == 2 && rest[1] == "effectiveness" && r.Method == http.MethodPut {
		var body struct {
			Rating int `json:"rating"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		section, err := repo.UpdateStrategyEffectiveness(r.Context(), actor, sectionID, rest[0], body.Rating)
		s.respondSection(w, r, section, err)
		return
	}

	notFoundOrMethod(w, len(rest) <= 1 || (len(rest) == 2 && (rest[1] == "move" || rest[1] == "effectiveness")))
}

func (s *HTTPServer) handleBoundaries(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string, rest []string) {
	repo := s.service.Sections()

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body rolesection.BoundaryInput
		if !s.decode(w, r, &body) {
			return
		}
		section, err := repo.AddBoundary(r.Context(), actor, sectionID, body)
		s.respondSection(w, r, section, err)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodDelete {
		section, err := repo.RemoveBoundary(r.Context(), actor, sectionID, rest[0])
		s.respondSection(w, r, section, err)
		return
	}

	notFoundOrMethod(w, len(rest) <= 1)
}

func (s *HTTPServer) handleContributors(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string, rest []string) {
	repo := s.service.Sections()

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body rolesection.ContributorInput
		if !s.decode(w, r, &body) {
			return
		}
		section, err := repo.AddContributor(r.Context(), actor, sectionID, body)
		s.respondSection(w, r, section, err)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodDelete {
		section, err := repo.RemoveContributor(r.Context(), actor, sectionID, rest[0])
		s.respondSection(w, r, section, err)
		return
	}

	notFoundOrMethod(w, len(rest) <= 1)
}

func (s *HTTPServer) handleContributions(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string, rest []string) {
	repo := s.service.Sections()

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body rolesection.ContributionInput
		if !s.decode(w, r, &body) {
			return
		}
		section, err := repo.AddOverviewContribution(r.Context(), actor, sectionID, body)
		s.respondSection(w, r, section, err)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodPut {
		var body rolesection.ContributionUpdate
		if !s.decode(w, r, &body) {
			return
		}
		section, err := repo.UpdateOverviewContribution(r.Context(), actor, sectionID, rest[0], body)
		s.respondSection(w, r, section, err)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodDelete {
		section, err := repo.RemoveOverviewContribution(r.Context(), actor, sectionID, rest[0])
		s.respondSection(w, r, section, err)
		return
	}

	notFoundOrMethod(w, len(rest) <= 1)
}

func (s *HTTPServer) handleProgressNotes(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body rolesection.NoteInput
	if !s.decode(w, r, &body) {
		return
	}
	section, err := s.service.Sections().AddProgressNote(r.Context(), actor, sectionID, body)
	s.respondSection(w, r, section, err)
}

func (s *HTTPServer) handlePermissions(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	perms, err := s.service.Sections().Permissions(r.Context(), actor, sectionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (s *HTTPServer) handleSectionHistory(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string, rest []string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	if len(rest) == 0 {
		limit, err := queryInt(r, "limit", 50)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
			return
		}
		commits, err := s.service.SectionHistory(r.Context(), actor, sectionID, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
		return
	}

	if len(rest) == 1 {
		snapshot, err := s.service.SectionSnapshot(r.Context(), actor, sectionID, rest[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSectionPDF(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	result, err := s.service.ExportSectionPDF(r.Context(), actor, sectionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result.Filename, result.MimeType, result.Data)
}

func (s *HTTPServer) handleSectionEvents(w http.ResponseWriter, r *http.Request, actor domain.ActorContext, sectionID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	snapshots, err := s.service.WatchSection(r.Context(), actor, sectionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	streamSnapshots(s, w, r, snapshots, "deleted")
}

func (s *HTTPServer) respondSection(w http.ResponseWriter, r *http.Request, section store.RoleSection, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, section)
}

// decode reads the JSON body into target and answers 400 when it cannot.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bucketOrDefault(bucket rolesection.Bucket) rolesection.Bucket {
	if bucket == "" {
		return rolesection.BucketWorks
	}
	return bucket
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// notFoundOrMethod answers a request no route matched: 405 when the path
// exists with other methods, else 404.
func notFoundOrMethod(w http.ResponseWriter, pathKnown bool) {
	if pathKnown {
		methodNotAllowed(w)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
