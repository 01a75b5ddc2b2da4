package slskd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seekbot/pkg/models"
)

// fakeSlskd serves the subset of the slskd API the client uses.
type fakeSlskd struct {
	t *testing.T

	mu             sync.Mutex
	apiKey         string
	tokenTTL       time.Duration
	logins         int
	searchStates   []string
	searchBodies   []map[string]interface{}
	responses      []SearchResponse
	deleted        []string
	transferStates []string
	transferPolls  int
	// earlier transfers of the same files, listed before and after enqueue
	staleTransfers []transferFile

	// server state polls answered before reporting a Soulseek login
	loggedInAfter int
	serverPolls   int
	onEnqueue      func(filename string)
	enqueued       []map[string]interface{}
}

func newFakeSlskd(t *testing.T) (*fakeSlskd, *httptest.Server) {
	f := &fakeSlskd{t: t, tokenTTL: time.Hour}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v0/session", f.handleLogin)
	mux.HandleFunc("POST /api/v0/searches", f.authorized(f.handleStartSearch))
	mux.HandleFunc("GET /api/v0/searches/{id}", f.authorized(f.handleSearchStatus))
	mux.HandleFunc("GET /api/v0/searches/{id}/responses", f.authorized(f.handleResponses))
	mux.HandleFunc("DELETE /api/v0/searches/{id}", f.authorized(f.handleDeleteSearch))
	mux.HandleFunc("POST /api/v0/transfers/downloads/{username}", f.authorized(f.handleEnqueue))
	mux.HandleFunc("GET /api/v0/transfers/downloads/{username}", f.authorized(f.handleTransfers))
	mux.HandleFunc("GET /api/v0/server", f.authorized(f.handleServer))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return f, server
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeSlskd) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f.apiKey != "" {
			if r.Header.Get("X-API-Key") != f.apiKey {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		} else if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *fakeSlskd) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.logins++
	ttl := f.tokenTTL
	f.mu.Unlock()

	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(f.t, err)

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (f *fakeSlskd) handleStartSearch(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	f.mu.Lock()
	f.searchBodies = append(f.searchBodies, body)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, models.SearchStatus{ID: body["id"].(string), State: "InProgress"})
}

func (f *fakeSlskd) handleSearchStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	state := f.searchStates[0]
	if len(f.searchStates) > 1 {
		f.searchStates = f.searchStates[1:]
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, models.SearchStatus{ID: r.PathValue("id"), State: state, ResponseCount: len(f.responses)})
}

func (f *fakeSlskd) handleResponses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, f.responses)
}

func (f *fakeSlskd) handleDeleteSearch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.deleted = append(f.deleted, r.PathValue("id"))
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeSlskd) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body []map[string]interface{}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	f.mu.Lock()
	f.enqueued = append(f.enqueued, body...)
	onEnqueue := f.onEnqueue
	f.mu.Unlock()

	if onEnqueue != nil {
		onEnqueue(body[0]["filename"].(string))
	}
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeSlskd) handleTransfers(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files := append([]transferFile(nil), f.staleTransfers...)
	if len(f.enqueued) == 0 || len(f.transferStates) == 0 {
		writeJSON(w, http.StatusOK, userTransfers{
			Username:    r.PathValue("username"),
			Directories: []transferDirectory{{Directory: "remote", Files: files}},
		})
		return
	}
	f.transferPolls++

	state := f.transferStates[0]
	if len(f.transferStates) > 1 {
		f.transferStates = f.transferStates[1:]
	}
	if state == "" {
		writeJSON(w, http.StatusOK, userTransfers{
			Username:    r.PathValue("username"),
			Directories: []transferDirectory{{Directory: "remote", Files: files}},
		})
		return
	}

	for _, e := range f.enqueued {
		files = append(files, transferFile{
			ID:       "t1",
			Username: r.PathValue("username"),
			Filename: e["filename"].(string),
			State:    state,
			Size:     int64(e["size"].(float64)),
		})
	}
	writeJSON(w, http.StatusOK, userTransfers{
		Username:    r.PathValue("username"),
		Directories: []transferDirectory{{Directory: "remote", Files: files}},
	})
}

func (f *fakeSlskd) handleServer(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.serverPolls++
	if f.serverPolls <= f.loggedInAfter {
		writeJSON(w, http.StatusOK, ServerState{State: "Connected", IsConnected: true})
		return
	}
	writeJSON(w, http.StatusOK, ServerState{
		Address: "server.slsknet.org:2242", State: "Connected, LoggedIn", IsConnected: true, IsLoggedIn: true,
	})
}

func newTestClient(server *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{WithPollInterval(5 * time.Millisecond), WithSearchGrace(200 * time.Millisecond)}, opts...)
	return NewClient(server.URL+"/", opts...)
}

func TestSearchFlattensResponses(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"
	fake.searchStates = []string{"InProgress", "Completed, TimedOut"}
	fake.responses = []SearchResponse{
		{
			Username:    "alice",
			HasFreeSlot: true,
			UploadSpeed: 4000,
			QueueLength: 0,
			Files: []File{
				{Filename: `@@a\Daft Punk - One More Time.mp3`, Size: 100, BitRate: 320, Extension: "mp3"},
				{Filename: `@@a\Daft Punk - Aerodynamic.mp3`, Size: 200, BitRate: 320, Extension: "mp3"},
			},
		},
		{
			Username:    "bob",
			HasFreeSlot: false,
			UploadSpeed: 9000,
			QueueLength: 12,
			Files: []File{
				{Filename: "/music/one more time.flac", Size: 300, Extension: "flac"},
			},
		},
	}

	c := newTestClient(server, WithAPIKey("key"))
	results, err := c.Search(context.Background(), "daft punk one more time", 20*time.Second)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, models.SearchResult{
		Username:    "alice",
		Filename:    `@@a\Daft Punk - One More Time.mp3`,
		Extension:   "mp3",
		Size:        100,
		BitRate:     320,
		HasFreeSlot: true,
		Speed:       4000,
	}, results[0])
	assert.Equal(t, "bob", results[2].Username)
	assert.False(t, results[2].HasFreeSlot)
	assert.Equal(t, 12, results[2].QueueLength)
	assert.Equal(t, 9000, results[2].Speed)

	require.Len(t, fake.searchBodies, 1)
	assert.Equal(t, "daft punk one more time", fake.searchBodies[0]["searchText"])
	assert.Equal(t, float64(20000), fake.searchBodies[0]["searchTimeout"])
	assert.Len(t, fake.deleted, 1)
}

func TestSearchTimesOut(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"
	fake.searchStates = []string{"InProgress"}

	c := newTestClient(server, WithAPIKey("key"), WithSearchGrace(20*time.Millisecond))

	_, err := c.Search(context.Background(), "anything", 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSearchTimeout)
	assert.Contains(t, err.Error(), "after 30ms", "the deadline includes the grace period")
	assert.Len(t, fake.deleted, 1, "search should be cleaned up after a timeout")
}

func TestSearchErroredState(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"
	fake.searchStates = []string{"Completed, Errored"}

	c := newTestClient(server, WithAPIKey("key"))
	_, err := c.Search(context.Background(), "anything", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSearchTimeout)
	assert.Contains(t, err.Error(), "Errored")
}

func TestSessionTokenIsReused(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.searchStates = []string{"Completed"}

	c := newTestClient(server, WithCredentials("slskd", "slskd"))
	require.NoError(t, c.Login(context.Background()))

	_, err := c.Search(context.Background(), "one", time.Second)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "two", time.Second)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.logins)
}

func TestSessionTokenRefreshedBeforeExpiry(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.tokenTTL = 30 * time.Second

	c := newTestClient(server, WithCredentials("slskd", "slskd"))
	_, err := c.CheckSoulseekConnection(context.Background())
	require.NoError(t, err)
	_, err = c.CheckSoulseekConnection(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, fake.logins)
}

func TestCheckSoulseekConnection(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"

	c := newTestClient(server, WithAPIKey("key"))
	state, err := c.CheckSoulseekConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, state.IsLoggedIn)
	assert.Equal(t, "Connected, LoggedIn", state.State)
}

func TestWaitForConnectionAcceptsUnauthorized(t *testing.T) {
	_, server := newFakeSlskd(t)

	c := newTestClient(server)
	assert.NoError(t, c.WaitForConnection(context.Background(), 1))
}

func TestWaitForConnectionFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(server)
	assert.Error(t, c.WaitForConnection(context.Background(), 1))
}

func TestDownloadMovesCompletedFile(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"
	fake.transferStates = []string{"Queued, Remotely", "InProgress", "Completed, Succeeded"}

	downloadsDir := t.TempDir()
	fake.onEnqueue = func(filename string) {
		dir := filepath.Join(downloadsDir, "Discovery")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Daft Punk - One More Time.mp3"), []byte("audio"), 0644))
	}

	c := newTestClient(server, WithAPIKey("key"), WithDownloadsDir(downloadsDir))
	result := models.SearchResult{
		Username: "alice",
		Filename: `@@a\Daft Punk\Discovery\Daft Punk - One More Time.mp3`,
		Size:     5,
	}
	destination := filepath.Join(t.TempDir(), "library", "daft punk - one more time.mp3")

	require.NoError(t, c.Download(context.Background(), result, destination))

	data, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))
	assert.NoFileExists(t, filepath.Join(downloadsDir, "Discovery", "Daft Punk - One More Time.mp3"))

	require.Len(t, fake.enqueued, 1)
	assert.Equal(t, result.Filename, fake.enqueued[0]["filename"])
	assert.Equal(t, float64(5), fake.enqueued[0]["size"])
}

func TestDownloadFindsFileAnywhereUnderDownloads(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"
	fake.transferStates = []string{"Completed, Succeeded"}

	downloadsDir := t.TempDir()
	fake.onEnqueue = func(string) {
		dir := filepath.Join(downloadsDir, "elsewhere", "nested")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "track.mp3"), []byte("x"), 0644))
	}

	c := newTestClient(server, WithAPIKey("key"), WithDownloadsDir(downloadsDir))
	destination := filepath.Join(t.TempDir(), "out.mp3")
	err := c.Download(context.Background(), models.SearchResult{Username: "u", Filename: `dir\track.mp3`, Size: 1}, destination)
	require.NoError(t, err)
	assert.FileExists(t, destination)
}

func TestDownloadReportsFailedTransfer(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"
	fake.transferStates = []string{"InProgress", "Completed, Rejected"}

	c := newTestClient(server, WithAPIKey("key"), WithDownloadsDir(t.TempDir()))
	err := c.Download(context.Background(), models.SearchResult{Username: "alice", Filename: `x\song.mp3`, Size: 1}, filepath.Join(t.TempDir(), "song.mp3"))
	require.Error(t, err)

	var transferErr *TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.Equal(t, "Completed, Rejected", transferErr.State)
	assert.Equal(t, "alice", transferErr.Username)
}

func TestDownloadIgnoresEarlierTransfers(t *testing.T) {
	const remote = `@@music\Artist\Artist - Title.mp3`

	tests := []struct {
		name      string
		stale     string
		states    []string
		wantState string
	}{
		{"earlier failure", "Completed, Errored", []string{"Queued, Remotely", "InProgress", "Completed, Succeeded"}, ""},
		{"earlier success", "Completed, Succeeded", []string{"Queued, Remotely", "Completed, Rejected"}, "Completed, Rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, server := newFakeSlskd(t)
			fake.apiKey = "key"
			fake.staleTransfers = []transferFile{{ID: "old", Username: "peer", Filename: remote, State: tt.stale, Size: 5}}
			fake.transferStates = tt.states

			downloadsDir := t.TempDir()
			fake.onEnqueue = func(string) {
				dir := filepath.Join(downloadsDir, "Artist")
				require.NoError(t, os.MkdirAll(dir, 0755))
				require.NoError(t, os.WriteFile(filepath.Join(dir, "Artist - Title.mp3"), []byte("audio"), 0644))
			}

			c := newTestClient(server, WithAPIKey("key"), WithDownloadsDir(downloadsDir))
			destination := filepath.Join(t.TempDir(), "Artist - Title.mp3")
			err := c.Download(context.Background(), models.SearchResult{Username: "peer", Filename: remote, Size: 5}, destination)

			if tt.wantState == "" {
				require.NoError(t, err)
				assert.FileExists(t, destination)
				assert.Equal(t, len(tt.states), fake.transferPolls, "should wait for the new transfer to finish")
				return
			}
			var transferErr *TransferError
			require.ErrorAs(t, err, &transferErr)
			assert.Equal(t, tt.wantState, transferErr.State)
		})
	}
}

func TestDownloadTransferRemoved(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"
	fake.transferStates = []string{"InProgress", ""}

	c := newTestClient(server, WithAPIKey("key"), WithDownloadsDir(t.TempDir()))
	err := c.Download(context.Background(), models.SearchResult{Username: "alice", Filename: `x\song.mp3`, Size: 1}, filepath.Join(t.TempDir(), "song.mp3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "removed")
}

func TestDownloadRequiresDownloadsDir(t *testing.T) {
	_, server := newFakeSlskd(t)

	c := newTestClient(server, WithAPIKey("key"))
	err := c.Download(context.Background(), models.SearchResult{Username: "alice", Filename: "song.mp3"}, "out.mp3")
	assert.Error(t, err)
}

func TestTransferOutcome(t *testing.T) {
	tests := []struct {
		state         string
		wantDone      bool
		wantSucceeded bool
	}{
		{"Requested", false, false},
		{"Queued, Remotely", false, false},
		{"Initializing", false, false},
		{"InProgress", false, false},
		{"Completed, Succeeded", true, true},
		{"Completed, Errored", true, false},
		{"Completed, Cancelled", true, false},
		{"Completed, TimedOut", true, false},
		{"Completed, Rejected", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			done, succeeded := transferOutcome(tt.state)
			assert.Equal(t, tt.wantDone, done)
			assert.Equal(t, tt.wantSucceeded, succeeded)
		})
	}
}

func TestSearchState(t *testing.T) {
	assert.False(t, SearchState("InProgress").IsComplete())
	assert.True(t, SearchState("Completed").IsComplete())
	assert.True(t, SearchState("Completed, TimedOut").IsComplete())
	assert.True(t, SearchState("Completed, ResponseLimitReached").IsComplete())
	assert.True(t, SearchState("Completed, Cancelled").IsFailed())
	assert.False(t, SearchState("Completed, TimedOut").IsFailed())
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	assert.True(t, exp.Equal(tokenExpiry(token)))
	assert.WithinDuration(t, time.Now().Add(time.Hour), tokenExpiry("not-a-jwt"), time.Minute)
}

func TestWaitForSoulseekLogin(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"
	fake.loggedInAfter = 2

	c := newTestClient(server, WithAPIKey("key"))
	state, err := c.WaitForSoulseekLogin(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, state.IsLoggedIn)
	assert.Equal(t, "server.slsknet.org:2242", state.Address)
	assert.Equal(t, 3, fake.serverPolls)
}

func TestWaitForSoulseekLoginGivesUp(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"
	fake.loggedInAfter = 100

	c := newTestClient(server, WithAPIKey("key"))
	_, err := c.WaitForSoulseekLogin(context.Background(), 3)
	require.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Contains(t, err.Error(), "Connected")
	assert.Equal(t, 3, fake.serverPolls)
}

func TestWaitForSoulseekLoginRejectedKey(t *testing.T) {
	fake, server := newFakeSlskd(t)
	fake.apiKey = "key"

	c := newTestClient(server, WithAPIKey("wrong"))
	_, err := c.WaitForSoulseekLogin(context.Background(), 5)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, fake.serverPolls, "rejected requests never reach the handler")
}
