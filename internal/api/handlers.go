package api

import (
	"errors"
	"net/http"

	"github.com/tumf/oneoff-docker-runner/internal/docker"
	"github.com/tumf/oneoff-docker-runner/internal/runner"
)

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runner.Request
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeAPIError(w, err)
		return
	}

	s.logger.Debug("run", "image", req.Image, "volumes", len(req.Volumes))
	result, err := s.runs.Run(r.Context(), req)
	if err != nil {
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			// A non-zero exit is a completed run; the full result goes
			// back to the caller.
			writeJSON(w, http.StatusUnprocessableEntity, exitErr.Result)
			return
		}
		s.logger.Error("run failed", "image", req.Image, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type createVolumeRequest struct {
	Name       string            `json:"name" validate:"required"`
	Driver     string            `json:"driver,omitempty"`
	DriverOpts map[string]string `json:"driver_opts,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	Content    string            `json:"content,omitempty"`
}

type createVolumeResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
	Seeded bool   `json:"seeded"`
}

func (s *Server) handleCreateVolume(w http.ResponseWriter, r *http.Request) {
	var req createVolumeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeAPIError(w, err)
		return
	}

	name, err := s.engine.CreateVolume(r.Context(), docker.VolumeOpts{
		Name:       req.Name,
		Driver:     req.Driver,
		DriverOpts: req.DriverOpts,
		Labels:     req.Labels,
	})
	if err != nil {
		s.logger.Error("create volume", "name", req.Name, "error", err)
		writeAPIError(w, err)
		return
	}

	seeded := false
	if req.Content != "" {
		if err := s.engine.SeedVolume(r.Context(), name, req.Content); err != nil {
			s.logger.Error("seed volume", "name", name, "error", err)
			writeAPIError(w, err)
			return
		}
		seeded = true
	}

	writeJSON(w, http.StatusCreated, createVolumeResponse{
		Status: "created",
		Name:   name,
		Seeded: seeded,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.engine.DaemonVersion(r.Context())
	if err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"detail": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "ok",
		"engine_version": version,
	})
}
