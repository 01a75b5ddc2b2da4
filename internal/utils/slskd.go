package utils

import (
	"context"
	"fmt"
	"net"
	"net/http"
)

// PortLookup finds the host port the slskd web API is published on.
type PortLookup interface {
	GetSlskdPort(ctx context.Context) (string, error)
}

// SlskdInfo contains what a user needs to open the slskd web interface.
type SlskdInfo struct {
	URL      string `json:"url"`
	Port     string `json:"port"`
	Username string `json:"username,omitempty"`
	LoginURL string `json:"login_url"`
}

// GetSlskdInfo returns slskd connection information as seen from requestHost.
func GetSlskdInfo(ctx context.Context, lookup PortLookup, requestHost, username string) (*SlskdInfo, error) {
	port, err := lookup.GetSlskdPort(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get slskd port: %w", err)
	}

	slskdURL := fmt.Sprintf("%s:%s", hostBaseURL(requestHost), port)

	return &SlskdInfo{
		URL:      slskdURL,
		Port:     port,
		Username: username,
		LoginURL: fmt.Sprintf("%s/api/v0/session", slskdURL),
	}, nil
}

// hostBaseURL uses the same host the user came from, without its port.
func hostBaseURL(requestHost string) string {
	if requestHost == "" || requestHost == "localhost" {
		return "http://localhost"
	}
	if host, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = host
	}
	return fmt.Sprintf("http://%s", requestHost)
}

// GetRequestHost extracts the host from an HTTP request
func GetRequestHost(r *http.Request) string {
	if r == nil {
		return ""
	}

	// Check X-Forwarded-Host header first (for proxies)
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		return host
	}

	return r.Host
}
