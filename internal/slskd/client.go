package slskd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"seekbot/internal/logger"
	"seekbot/pkg/models"
)

const sessionEndpoint = "/api/v0/session"

// ErrSearchTimeout is returned when slskd does not finish a search within
// the allowed time.
var ErrSearchTimeout = errors.New("search timed out")

// ErrUnauthorized is returned when slskd rejects the API key or session.
var ErrUnauthorized = errors.New("slskd rejected the credentials")

// ErrNotLoggedIn is returned when slskd stays disconnected from Soulseek.
var ErrNotLoggedIn = errors.New("slskd is not logged in to Soulseek")

// Client talks to a slskd instance. It is safe for concurrent use; searches
// and downloads for different requests share one Client.
type Client struct {
	baseURL      string
	apiKey       string
	username     string
	password     string
	downloadsDir string
	httpClient   *http.Client
	pollInterval time.Duration
	searchGrace  time.Duration

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type Option func(*Client)

// WithAPIKey authenticates every request with the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithCredentials authenticates with a session token obtained from the web
// login, refreshed before it expires.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithDownloadsDir sets the local path of slskd's downloads directory, where
// completed transfers are picked up from.
func WithDownloadsDir(dir string) Option {
	return func(c *Client) { c.downloadsDir = dir }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithSearchGrace sets how long past its own timeout a search may run
// before Search gives up with ErrSearchTimeout.
func WithSearchGrace(d time.Duration) Option {
	return func(c *Client) { c.searchGrace = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		pollInterval: 2 * time.Second,
		searchGrace:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login performs session-based authentication with slskd using the
// configured credentials.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	loginRequest := map[string]string{
		"username": c.username,
		"password": c.password,
	}

	resp, err := c.send(ctx, http.MethodPost, sessionEndpoint, loginRequest, "")
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var loginResponse struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResponse); err != nil {
		return fmt.Errorf("failed to parse login response: %w", err)
	}
	if loginResponse.Token == "" {
		return fmt.Errorf("login response did not contain a token")
	}

	c.token = loginResponse.Token
	c.tokenExpiry = tokenExpiry(loginResponse.Token)
	logger.Debug("Logged in to slskd, session valid until %s", c.tokenExpiry.Format(time.RFC3339))
	return nil
}

// tokenExpiry reads the exp claim of a slskd session token. The signature
// is not checked: the token is only ever sent back to the server that issued it.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Now().Add(time.Hour)
	}
	return claims.ExpiresAt.Time
}

// sessionToken returns a valid bearer token, logging in again when the
// current one is missing or about to expire. It returns "" when the client
// uses an API key or no credentials.
func (c *Client) sessionToken(ctx context.Context) (string, error) {
	if c.apiKey != "" || c.username == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || time.Now().Add(time.Minute).After(c.tokenExpiry) {
		if err := c.loginLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Response, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, method, endpoint, body, token)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body interface{}, token string) (*http.Response, error) {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	reqURL := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request to %s: %w", reqURL, err)
	}
	logger.Debug("slskd %s %s -> %d (%v)", method, endpoint, resp.StatusCode, time.Since(start))

	return resp, nil
}

func unexpectedStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(body) > 0 {
		return fmt.Errorf("slskd returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("slskd returned status %d", resp.StatusCode)
}

// WaitForConnection waits for slskd to be available with exponential backoff.
func (c *Client) WaitForConnection(ctx context.Context, maxAttempts int) error {
	backoff := time.Second

	endpoints := []string{
		"/api/v0/application",
		"/api/v0/server",
		"/",
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			logger.Info("Waiting %v before retry attempt %d/%d", backoff, attempt, maxAttempts)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}

		for _, endpoint := range endpoints {
			resp, err := c.send(ctx, http.MethodGet, endpoint, nil, "")
			if err != nil {
				logger.Warn("Connection attempt %d/%d failed on %s: %v", attempt, maxAttempts, endpoint, err)
				continue
			}
			resp.Body.Close()

			// 401/403 means the service is up but wants authentication
			switch resp.StatusCode {
			case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
				logger.Info("Connected to slskd on attempt %d using endpoint %s", attempt, endpoint)
				return nil
			}

			logger.Debug("Connection attempt %d/%d got status %d on %s", attempt, maxAttempts, resp.StatusCode, endpoint)
		}
	}

	return fmt.Errorf("failed to connect to slskd at %s after %d attempts", c.baseURL, maxAttempts)
}

// CheckSoulseekConnection reports whether slskd is logged in to the
// Soulseek network.
func (c *Client) CheckSoulseekConnection(ctx context.Context) (*ServerState, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/api/v0/server", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(resp)
	}

	var state ServerState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode server state: %w", err)
	}
	return &state, nil
}

// WaitForSoulseekLogin polls the server state until slskd is logged in to
// Soulseek. Rejected credentials fail at once; otherwise it gives up with
// ErrNotLoggedIn after maxAttempts polls.
func (c *Client) WaitForSoulseekLogin(ctx context.Context, maxAttempts int) (*ServerState, error) {
	var lastState string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}

		state, err := c.CheckSoulseekConnection(ctx)
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		if err != nil {
			logger.Warn("Could not read Soulseek connection state (attempt %d/%d): %v", attempt, maxAttempts, err)
			lastState = err.Error()
			continue
		}
		if state.IsLoggedIn {
			return state, nil
		}
		logger.Debug("slskd not logged in yet (attempt %d/%d, state: %s)", attempt, maxAttempts, state.State)
		lastState = state.State
	}

	return nil, fmt.Errorf("%w after %d attempts (last state: %s)", ErrNotLoggedIn, maxAttempts, lastState)
}

// StartSearch initiates a search and returns the search ID.
func (c *Client) StartSearch(ctx context.Context, query string, timeout time.Duration) (string, error) {
	searchRequest := map[string]interface{}{
		"id":            uuid.NewString(),
		"searchText":    query,
		"searchTimeout": timeout.Milliseconds(),
	}

	resp, err := c.makeRequest(ctx, http.MethodPost, "/api/v0/searches", searchRequest)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search request failed: %w", unexpectedStatus(resp))
	}

	var status models.SearchStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}
	if status.ID == "" {
		return "", fmt.Errorf("search response missing ID")
	}

	logger.Debug("Started search with ID %s for query: %s", status.ID, query)
	return status.ID, nil
}

// GetSearchStatus checks whether a search is complete.
func (c *Client) GetSearchStatus(ctx context.Context, searchID string) (*models.SearchStatus, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/api/v0/searches/"+url.PathEscape(searchID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get search status failed: %w", unexpectedStatus(resp))
	}

	var status models.SearchStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode search status: %w", err)
	}

	return &status, nil
}

// WaitForSearchComplete polls a search until slskd reports a terminal state
// or the deadline passes.
func (c *Client) WaitForSearchComplete(ctx context.Context, searchID string, timeout time.Duration) (*models.SearchStatus, error) {
	deadline := time.Now().Add(timeout)

	for {
		status, err := c.GetSearchStatus(ctx, searchID)
		if err != nil {
			return nil, err
		}

		state := SearchState(status.State)
		switch {
		case state.IsFailed():
			return status, fmt.Errorf("search %s ended in state %s", searchID, status.State)
		case status.IsComplete || state.IsComplete():
			logger.Debug("Search %s completed (state: %s) with %d responses", searchID, status.State, status.ResponseCount)
			return status, nil
		}

		if !time.Now().Add(c.pollInterval).Before(deadline) {
			return nil, fmt.Errorf("search %s after %v: %w", searchID, timeout, ErrSearchTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// GetSearchResults retrieves the responses of a search, flattened to one
// result per offered file.
func (c *Client) GetSearchResults(ctx context.Context, searchID string) ([]models.SearchResult, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/api/v0/searches/"+url.PathEscape(searchID)+"/responses", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get search results failed: %w", unexpectedStatus(resp))
	}

	var responses []SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&responses); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}

	var results []models.SearchResult
	for _, response := range responses {
		for _, file := range response.Files {
			results = append(results, models.SearchResult{
				Username:    response.Username,
				Filename:    file.Filename,
				Extension:   file.Extension,
				Size:        file.Size,
				BitRate:     file.BitRate,
				Length:      file.Length,
				HasFreeSlot: response.HasFreeSlot,
				QueueLength: response.QueueLength,
				Speed:       response.UploadSpeed,
			})
		}
	}

	return results, nil
}

// DeleteSearch removes a finished search from slskd.
func (c *Client) DeleteSearch(ctx context.Context, searchID string) error {
	resp, err := c.makeRequest(ctx, http.MethodDelete, "/api/v0/searches/"+url.PathEscape(searchID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return unexpectedStatus(resp)
	}
	return nil
}

// Search runs a complete search on the network. timeout is how long slskd
// collects responses; the call fails with ErrSearchTimeout if slskd has not
// finished shortly after that.
func (c *Client) Search(ctx context.Context, query string, timeout time.Duration) ([]models.SearchResult, error) {
	searchID, err := c.StartSearch(ctx, query, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to start search: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := c.DeleteSearch(cleanupCtx, searchID); err != nil {
			logger.Warn("Failed to delete search %s: %v", searchID, err)
		}
	}()

	if _, err := c.WaitForSearchComplete(ctx, searchID, timeout+c.searchGrace); err != nil {
		return nil, err
	}

	results, err := c.GetSearchResults(ctx, searchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get search results: %w", err)
	}
	return results, nil
}
