package web

import (
	"seekbot/internal/utils"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type StatusResponse struct {
	Slskd     SlskdStatus      `json:"slskd"`
	Container *ContainerStatus `json:"container,omitempty"`
}

// SlskdStatus is slskd's view of its Soulseek server connection.
type SlskdStatus struct {
	URL         string `json:"url"`
	Address     string `json:"address,omitempty"`
	State       string `json:"state,omitempty"`
	IsConnected bool   `json:"is_connected"`
	IsLoggedIn  bool   `json:"is_logged_in"`
	Error       string `json:"error,omitempty"`
}

// ContainerStatus is reported when seekbot manages the slskd container.
type ContainerStatus struct {
	Status    string           `json:"status"`
	SlskdInfo *utils.SlskdInfo `json:"slskd_info,omitempty"`
}

type DownloadRequest struct {
	Query string `json:"query"`
}

type DownloadResponse struct {
	RequestID string `json:"request_id"`
	Query     string `json:"query"`
	Message   string `json:"message"`
}

func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
	}
}
