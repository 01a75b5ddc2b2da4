package models

// SearchResult is one candidate file offered by a remote peer.
type SearchResult struct {
	Username    string `json:"username"`
	Filename    string `json:"filename"`
	Extension   string `json:"extension"`
	Size        int64  `json:"size"`
	BitRate     int    `json:"bitRate"`
	Length      int    `json:"length"`
	HasFreeSlot bool   `json:"hasFreeUploadSlot"`
	QueueLength int    `json:"queueLength"`
	Speed       int    `json:"uploadSpeed"`
}

type SearchStatus struct {
	ID            string `json:"id"`
	SearchText    string `json:"searchText"`
	State         string `json:"state"`
	ResponseCount int    `json:"responseCount"`
	FileCount     int    `json:"fileCount"`
	IsComplete    bool   `json:"isComplete"`
}

// DownloadRequest pairs the selected result with where it should end up locally.
type DownloadRequest struct {
	Result      SearchResult `json:"result"`
	Filename    string       `json:"filename"`
	Destination string       `json:"destination"`
}

// Transfer is the slskd view of a single queued or running download.
type Transfer struct {
	ID               string  `json:"id"`
	Username         string  `json:"username"`
	Filename         string  `json:"filename"`
	State            string  `json:"state"`
	Size             int64   `json:"size"`
	BytesTransferred int64   `json:"bytesTransferred"`
	PercentComplete  float64 `json:"percentComplete"`
}
