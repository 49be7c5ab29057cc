// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/log"
)

const (
	// Multipart parts up to this size stay in memory; larger ones spool to disk.
	multipartMemory = 32 << 20
	// Allowance for multipart framing and form fields on top of the file.
	multipartOverhead = 1 << 20
)

type uploadResponse struct {
	JobID   int64           `json:"job_id"`
	Status  model.JobStatus `json:"status"`
	Message string          `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, r, err)
			return
		}
		writeError(w, r, &model.ValidationError{Field: "body", Msg: "expected multipart/form-data: " + err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, r, &model.ValidationError{Field: "video", Msg: "file part is required"})
		return
	}
	defer func() { _ = file.Close() }()

	profileID := s.cfg.DefaultProfileID
	if raw := strings.TrimSpace(r.FormValue("profile_id")); raw != "" {
		profileID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, &model.ValidationError{Field: "profile_id", Msg: "must be an integer"})
			return
		}
	}

	job, err := s.deps.Jobs.Submit(r.Context(), file, header.Filename, profileID)
	if err != nil {
		if errors.Is(err, model.ErrQueueFull) && job != nil {
			writeProblem(w, r, Problem{Status: http.StatusServiceUnavailable, Detail: err.Error(), JobID: job.ID})
			return
		}
		writeError(w, r, err)
		return
	}
	logger := log.WithComponentFromContext(log.ContextWithJobID(r.Context(), job.ID), "api")
	logger.Info().
		Str(log.FieldEvent, "job.submitted").
		Int64(log.FieldProfileID, job.ProfileID).
		Str("filename", job.OriginalFilename).
		Msg("upload accepted")
	writeJSON(w, http.StatusAccepted, uploadResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "video uploaded, encoding queued",
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter model.JobFilter
	if st := q.Get("status"); st != "" {
		filter.Status = model.JobStatus(st)
		if !filter.Status.Valid() {
			writeError(w, r, &model.ValidationError{Field: "status", Msg: "unknown status " + strconv.Quote(st)})
			return
		}
	}
	if raw := q.Get("profile_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			writeError(w, r, &model.ValidationError{Field: "profile_id", Msg: "must be a positive integer"})
			return
		}
		filter.ProfileID = v
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, &model.ValidationError{Field: "limit", Msg: "must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	jobs, err := s.deps.Jobs.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// pathID parses a positive int64 URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &model.ValidationError{Field: name, Msg: "must be a positive integer"}
	}
	return id, nil
}
