package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"seekbot/internal/logger"
	"seekbot/internal/utils"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	response := StatusResponse{
		Slskd: SlskdStatus{URL: s.config.Slskd.URL},
	}

	state, err := s.checker.CheckSoulseekConnection(ctx)
	if err != nil {
		response.Slskd.Error = err.Error()
	} else {
		response.Slskd.Address = state.Address
		response.Slskd.State = state.State
		response.Slskd.IsConnected = state.IsConnected
		response.Slskd.IsLoggedIn = state.IsLoggedIn
	}

	if s.container != nil {
		status, err := s.container.SlskdStatus(ctx)
		if err != nil {
			status = "error"
		}
		response.Container = &ContainerStatus{Status: status}

		// Add Slskd information if container is running
		if status == "running" {
			info, err := utils.GetSlskdInfo(ctx, s.container, utils.GetRequestHost(r), s.config.Slskd.Username)
			if err == nil {
				response.Container.SlskdInfo = info
			}
		}
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse(response))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req DownloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "Query is required")
		return
	}

	id := s.submitter.Submit(query, func(text string) {
		logger.Info("Reply for %q: %s", query, text)
	})

	s.writeJSON(w, http.StatusAccepted, NewSuccessResponse(DownloadResponse{
		RequestID: id,
		Query:     query,
		Message:   "Download request accepted",
	}))
}
