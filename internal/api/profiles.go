// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ManuGH/vencode/internal/encoding/model"
)

const maxJSONBody = 64 << 10

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &model.ValidationError{Field: "body", Msg: err.Error()}
	}
	if dec.More() {
		return &model.ValidationError{Field: "body", Msg: "trailing content after JSON object"}
	}
	return nil
}

type createProfileRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Profiles.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Profiles.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*model.Profile{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "profileID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Profiles.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "profileID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Profiles.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddDetail accepts the detail fields plus profile_id. Server managed
// fields in the body are ignored.
func (s *Server) handleAddDetail(w http.ResponseWriter, r *http.Request) {
	var d model.ProfileDetail
	if err := decodeJSON(w, r, &d); err != nil {
		writeError(w, r, err)
		return
	}
	profileID := d.ProfileID
	d.ID, d.ProfileID, d.CreatedAt = 0, 0, time.Time{}

	created, err := s.deps.Profiles.AddDetail(r.Context(), profileID, d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetActiveDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "profileID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.deps.Profiles.ActiveDetail(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
