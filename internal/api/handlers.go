package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goodtune/screentime/internal/usage"
	"github.com/goodtune/screentime/internal/window"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 64 << 10

// decodeBody decodes a JSON body into dst. An empty body is allowed only
// when allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return &usage.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

// authorize checks the caller owns the profile in the URL
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (usage.Caller, string, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing authentication token")
		return caller, "", false
	}

	profileID := chi.URLParam(r, "profileID")
	if _, err := s.svc.Directory.Authorize(r.Context(), caller, profileID); err != nil {
		writeServiceError(w, err, s.logger)
		return caller, "", false
	}
	return caller, profileID, true
}

// guardianOnly rejects device-bound tokens
func guardianOnly(w http.ResponseWriter, caller usage.Caller) bool {
	if caller.ProfileID != "" {
		writeError(w, http.StatusForbidden, "Device tokens cannot perform this action")
		return false
	}
	return true
}

func (s *Server) pinFresh(caller usage.Caller) bool {
	if caller.PINVerifiedAt.IsZero() {
		return false
	}
	return s.clock.Now().Sub(caller.PINVerifiedAt) <= s.config.PINMaxAge
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing authentication token")
		return
	}
	profileID := chi.URLParam(r, "profileID")

	var req HeartbeatRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeServiceError(w, err, s.logger)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeServiceError(w, validationFailure(err), s.logger)
		return
	}

	if _, err := s.svc.Directory.Authorize(r.Context(), caller, profileID); err != nil {
		// a running session is blocked rather than left playing on a 5xx
		if req.SessionID != "" && usage.IsStorageFault(err) {
			writeJSON(w, http.StatusOK, s.svc.Processor.FailClosed(req.SessionID, profileID, false, err))
			return
		}
		writeServiceError(w, err, s.logger)
		return
	}

	result, err := s.svc.Processor.Heartbeat(r.Context(), usage.Heartbeat{
		ProfileID:  profileID,
		SessionID:  req.SessionID,
		TitleID:    req.TitleID,
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		Paused:     req.Paused,
		At:         s.clock.Now(),
	})
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing authentication token")
		return
	}

	result, err := s.svc.Tracker.End(r.Context(), caller, chi.URLParam(r, "sessionID"), s.clock.Now())
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	_, profileID, ok := s.authorize(w, r)
	if !ok {
		return
	}

	view, err := s.svc.Ledger.Balance(r.Context(), profileID)
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	_, profileID, ok := s.authorize(w, r)
	if !ok {
		return
	}

	eligibility, err := s.svc.Ledger.Eligibility(r.Context(), profileID)
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, eligibility)
}

func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	caller, profileID, ok := s.authorize(w, r)
	if !ok || !guardianOnly(w, caller) {
		return
	}

	var req GrantRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeServiceError(w, err, s.logger)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeServiceError(w, validationFailure(err), s.logger)
		return
	}

	result, err := s.svc.Grants.Grant(r.Context(), usage.GrantRequest{
		ProfileID:       profileID,
		IssuerAccountID: caller.AccountID,
		Minutes:         req.Minutes,
		IsRemote:        req.IsRemote,
	})
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	_, profileID, ok := s.authorize(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeFieldError(w, "limit", "must be between 1 and 500")
			return
		}
		limit = n
	}

	grants, err := s.svc.Grants.List(r.Context(), profileID, limit)
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"grants": grants})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	_, profileID, ok := s.authorize(w, r)
	if !ok {
		return
	}

	cfg, err := s.svc.Configs.GetOrCreate(r.Context(), profileID)
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	caller, profileID, ok := s.authorize(w, r)
	if !ok || !guardianOnly(w, caller) {
		return
	}

	var body map[string]json.RawMessage
	if err := decodeBody(r, &body, false); err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	patch, err := parseConfigPatch(body)
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	cfg, err := s.svc.Configs.Update(r.Context(), profileID, patch, s.pinFresh(caller))
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	_, profileID, ok := s.authorize(w, r)
	if !ok {
		return
	}

	from, err := queryDay(r, "from")
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}
	to, err := queryDay(r, "to")
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	history, err := s.reporter.History(r.Context(), profileID, from, to)
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleWeeklyReport(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing authentication token")
		return
	}
	if !guardianOnly(w, caller) {
		return
	}

	weekly, err := s.reporter.Weekly(r.Context(), caller.AccountID)
	if err != nil {
		writeServiceError(w, err, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, weekly)
}

func queryDay(r *http.Request, name string) (window.Day, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return window.Day{}, &usage.ValidationError{Field: name, Message: "is required"}
	}
	day, err := window.ParseDay(v)
	if err != nil {
		return window.Day{}, &usage.ValidationError{Field: name, Message: err.Error()}
	}
	return day, nil
}
