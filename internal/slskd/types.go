// Package slskd is a client for the slskd REST API, the daemon that holds
// the Soulseek network session.
package slskd

import (
	"fmt"
	"strings"
)

// SearchResponse is one peer's answer to a search.
type SearchResponse struct {
	Username    string `json:"username"`
	FileCount   int    `json:"fileCount"`
	HasFreeSlot bool   `json:"hasFreeUploadSlot"`
	QueueLength int    `json:"queueLength"`
	UploadSpeed int    `json:"uploadSpeed"` // bytes per second
	Files       []File `json:"files"`
}

// File is a file offered in a search response.
type File struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
	BitRate   int    `json:"bitRate"`
	Length    int    `json:"length"`
	IsLocked  bool   `json:"isLocked"`
}

// ServerState describes slskd's connection to the Soulseek server.
type ServerState struct {
	Address     string `json:"address"`
	State       string `json:"state"`
	IsConnected bool   `json:"isConnected"`
	IsLoggedIn  bool   `json:"isLoggedIn"`
}

type transferFile struct {
	ID               string  `json:"id"`
	Username         string  `json:"username"`
	Filename         string  `json:"filename"`
	State            string  `json:"state"`
	Size             int64   `json:"size"`
	BytesTransferred int64   `json:"bytesTransferred"`
	PercentComplete  float64 `json:"percentComplete"`
}

type transferDirectory struct {
	Directory string         `json:"directory"`
	Files     []transferFile `json:"files"`
}

// userTransfers is the shape of /transfers/downloads/{username}.
type userTransfers struct {
	Username    string              `json:"username"`
	Directories []transferDirectory `json:"directories"`
}

// SearchState is the state of a search. States can be compound, e.g.
// "Completed, TimedOut".
type SearchState string

// IsComplete reports whether the search finished collecting responses.
// A search that hit its own timeout is complete, not failed.
func (s SearchState) IsComplete() bool {
	state := string(s)
	return strings.Contains(state, "Completed") || strings.Contains(state, "TimedOut")
}

func (s SearchState) IsFailed() bool {
	state := string(s)
	return strings.Contains(state, "Cancelled") || strings.Contains(state, "Errored")
}

// TransferError reports a download that slskd finished unsuccessfully.
type TransferError struct {
	Username string
	Filename string
	State    string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("download of %s from %s failed: %s", e.Filename, e.Username, e.State)
}

// transferOutcome classifies a transfer state. done is false while the
// transfer is queued or running.
func transferOutcome(state string) (done, succeeded bool) {
	if strings.Contains(state, "Succeeded") {
		return true, true
	}
	// Completed, Errored / Completed, Rejected / Completed, Cancelled / ...
	if strings.Contains(state, "Completed") {
		return true, false
	}
	return false, false
}
