package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/engagekit/engrelay/store"
)

// StatusNew is the default lifecycle state for freshly created engagements.
const StatusNew = "new"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	engagements, err := s.store.List(r.Context(), tenant.SchemaName, limit)
	if err != nil {
		log.Error().Err(err).Str("tenant", tenant.SchemaName).Msg("Failed to list engagements")
		respondError(w, http.StatusInternalServerError, "failed to list engagements")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"engagements": engagements,
		"count":       len(engagements),
	})
}

type createRequest struct {
	Channel        string `json:"channel"`
	UserIdentifier string `json:"user_identifier"`
	Status         string `json:"status"`
	Text           string `json:"text"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Channel == "" || req.UserIdentifier == "" {
		respondError(w, http.StatusBadRequest, "channel and user_identifier are required")
		return
	}
	if req.Status == "" {
		req.Status = StatusNew
	}

	e := store.Engagement{
		Channel:        req.Channel,
		UserIdentifier: req.UserIdentifier,
		Status:         req.Status,
		Text:           req.Text,
	}
	if err := s.store.Insert(r.Context(), tenant.SchemaName, &e); err != nil {
		log.Error().Err(err).Str("tenant", tenant.SchemaName).Msg("Failed to create engagement")
		respondError(w, http.StatusInternalServerError, "failed to create engagement")
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be an integer")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, "status is required")
		return
	}

	e, err := s.store.UpdateStatus(r.Context(), tenant.SchemaName, id, req.Status)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "engagement not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("tenant", tenant.SchemaName).Int64("id", id).Msg("Failed to update engagement")
		respondError(w, http.StatusInternalServerError, "failed to update engagement")
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (s *Server) handleCompanyInfo(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"code":        tenant.Code,
		"schema_name": tenant.SchemaName,
		"theme":       tenant.Theme,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())

	counts, err := s.store.Stats(r.Context(), tenant.SchemaName)
	if err != nil {
		log.Error().Err(err).Str("tenant", tenant.SchemaName).Msg("Failed to aggregate stats")
		respondError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}

	var total int64
	for _, c := range counts {
		total += c.Count
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"by_status": counts,
		"total":     total,
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	events := s.recent.Recent(tenant.SchemaName)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
