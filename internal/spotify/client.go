package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"seekbot/internal/logger"
	"seekbot/pkg/models"
)

const (
	AuthURL = "https://accounts.spotify.com/api/token"
	BaseURL = "https://api.spotify.com/v1"
)

// ErrNotTrack is returned by ExtractTrackID for input that is not a track
// link or URI.
var ErrNotTrack = errors.New("not a spotify track link")

var (
	trackURLPattern = regexp.MustCompile(`^https?://open\.spotify\.com/(?:intl-[a-z]{2}/)?track/([a-zA-Z0-9]+)`)
	trackURIPattern = regexp.MustCompile(`^spotify:track:([a-zA-Z0-9]+)$`)
)

type Client struct {
	clientID     string
	clientSecret string
	authURL      string
	baseURL      string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		authURL:      AuthURL,
		baseURL:      BaseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) authenticate(ctx context.Context) error {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}

	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth request failed with status %d", resp.StatusCode)
	}

	var authResp models.SpotifyAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}

	c.accessToken = authResp.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(authResp.ExpiresIn) * time.Second)

	return nil
}

func (c *Client) ensureAuth(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken == "" || time.Now().After(c.expiresAt) {
		if err := c.authenticate(ctx); err != nil {
			return "", err
		}
	}
	return c.accessToken, nil
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string) (*http.Response, error) {
	token, err := c.ensureAuth(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}

	return resp, nil
}

// ExtractTrackID extracts the track ID from an open.spotify.com track URL or
// a spotify:track: URI.
func ExtractTrackID(input string) (string, error) {
	input = strings.TrimSpace(input)
	for _, re := range []*regexp.Regexp{trackURLPattern, trackURIPattern} {
		if matches := re.FindStringSubmatch(input); len(matches) > 1 {
			return matches[1], nil
		}
	}
	return "", ErrNotTrack
}

func (c *Client) GetTrack(ctx context.Context, trackID string) (*models.Track, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/tracks/"+url.PathEscape(trackID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var track models.Track
	if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
		return nil, fmt.Errorf("failed to decode track response: %w", err)
	}
	return &track, nil
}

// ResolveQuery turns a track link into "Artist - Title" using the first
// listed artist. Any other input is returned unchanged with ok false.
func (c *Client) ResolveQuery(ctx context.Context, input string) (string, bool, error) {
	trackID, err := ExtractTrackID(input)
	if err != nil {
		return input, false, nil
	}

	track, err := c.GetTrack(ctx, trackID)
	if err != nil {
		return "", false, fmt.Errorf("failed to look up spotify track %s: %w", trackID, err)
	}
	if len(track.Artists) == 0 || track.Name == "" {
		return "", false, fmt.Errorf("spotify track %s has no artist or title", trackID)
	}

	logger.Debug("Resolved track %s: %s by %s", trackID, track.Name, formatArtists(track.Artists))
	return track.Artists[0].Name + " - " + track.Name, true, nil
}

func formatArtists(artists []models.Artist) string {
	if len(artists) == 0 {
		return "Unknown Artist"
	}
	names := make([]string, len(artists))
	for i, artist := range artists {
		names[i] = artist.Name
	}
	return strings.Join(names, ", ")
}
