package api

import (
	"net/http"
	"strings"

	"github.com/flitsinc/go-automations/internal/apps"
	"github.com/flitsinc/go-automations/internal/state"
)

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := r.URL.Query().Get("status")
		limit := parseInt(r.URL.Query().Get("limit"), 100)
		items, err := s.Apps.List(r.Context(), apps.ListFilter{
			Status: apps.Status(status),
			Limit:  limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		var payload struct {
			ID   string    `json:"id"`
			Name string    `json:"name"`
			Spec apps.Spec `json:"spec"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		app, err := s.Apps.Install(r.Context(), apps.InstallInput{
			ID:   payload.ID,
			Name: payload.Name,
			Spec: payload.Spec,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, app)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleAppItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/apps/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusNotFound, errNotFound("app"))
		return
	}
	appID := segments[0]
	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleAppGet(w, r, appID)
		case http.MethodDelete:
			s.Runtime.Deactivate(appID)
			if err := s.Apps.Uninstall(r.Context(), appID); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	action := segments[1]
	switch action {
	case "activate":
		s.handleAppActivate(w, r, appID)
	case "deactivate":
		s.handleAppDeactivate(w, r, appID)
	case "pause":
		s.handleAppPause(w, r, appID)
	case "resume":
		s.handleAppResume(w, r, appID)
	case "trigger":
		s.handleAppTrigger(w, r, appID)
	case "sync":
		s.handleAppSync(w, r, appID)
	case "frequency":
		s.handleAppFrequency(w, r, appID)
	case "respond":
		s.handleAppRespond(w, r, appID)
	case "runs":
		s.handleAppRuns(w, r, appID)
	case "activity":
		s.handleAppActivity(w, r, appID)
	default:
		writeError(w, http.StatusNotFound, errNotFound("app action"))
	}
}

func (s *Server) handleAppGet(w http.ResponseWriter, r *http.Request, appID string) {
	app, err := s.Apps.Get(r.Context(), appID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if app == nil {
		writeError(w, http.StatusNotFound, errNotFound("app"))
		return
	}
	appState, err := s.Runtime.State(r.Context(), appID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"app":       app,
		"state":     appState,
		"activated": s.Runtime.Activated(appID),
	})
}

func (s *Server) handleAppActivate(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := s.Runtime.Activate(r.Context(), appID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAppDeactivate(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	s.Runtime.Deactivate(appID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleAppPause flips the app to paused and unhooks its triggers; an
// in-flight run finishes on its own.
func (s *Server) handleAppPause(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := s.Apps.UpdateStatus(r.Context(), appID, apps.StatusPaused, nil); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.Runtime.Deactivate(appID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAppResume(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := s.Apps.UpdateStatus(r.Context(), appID, apps.StatusActive, nil); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Runtime.Activate(r.Context(), appID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAppTrigger(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	run, err := s.Runtime.TriggerManually(r.Context(), appID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleAppSync(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := s.Runtime.SyncAppSchedule(r.Context(), appID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleAppFrequency sets or clears a per-subscription interval
// override and re-syncs the live schedule.
func (s *Server) handleAppFrequency(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		SubscriptionID string `json:"subscription_id"`
		Every          string `json:"every"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.SubscriptionID == "" {
		writeError(w, http.StatusBadRequest, errNotFound("subscription_id"))
		return
	}
	if err := s.Apps.SetFrequencyOverride(r.Context(), appID, payload.SubscriptionID, payload.Every); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Runtime.SyncAppSchedule(r.Context(), appID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAppRespond(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		EntryID string `json:"entry_id"`
		Choice  string `json:"choice"`
		Text    string `json:"text"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.Runtime.RespondToEscalation(r.Context(), appID, payload.EntryID, state.UserResponse{
		Choice: payload.Choice,
		Text:   payload.Text,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleAppRuns(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	runs, err := s.Store.ListRuns(r.Context(), appID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleAppActivity(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 100)
	entries, err := s.Store.ListEntries(r.Context(), appID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
