// Package downloader issues the single retrieval for a selected search result.
package downloader

import (
	"context"
	"path/filepath"
	"time"

	"seekbot/internal/metrics"
	"seekbot/internal/utils"
	"seekbot/pkg/models"
)

// Extension is appended to the query text to form the local filename.
const Extension = ".mp3"

// Transferer retrieves a remote file to a local path. It must be safe for
// concurrent use.
type Transferer interface {
	Download(ctx context.Context, result models.SearchResult, destination string) error
}

// Coordinator drives one retrieval per selected result. Retrievals for
// different requests run independently and are never retried.
type Coordinator struct {
	network Transferer
	dir     string
}

func New(network Transferer, dir string) *Coordinator {
	return &Coordinator{network: network, dir: dir}
}

// Request pairs the winning result with its local target, named after the
// query text.
func (c *Coordinator) Request(result models.SearchResult, query string) models.DownloadRequest {
	filename := utils.SanitizeFilename(query) + Extension
	return models.DownloadRequest{
		Result:      result,
		Filename:    filename,
		Destination: filepath.Join(c.dir, filename),
	}
}

// Retrieve issues the retrieval and waits for it without a deadline of its
// own. Errors from the network client are returned as they are.
func (c *Coordinator) Retrieve(ctx context.Context, req models.DownloadRequest) error {
	start := time.Now()
	err := c.network.Download(ctx, req.Result, req.Destination)
	metrics.RecordDownload(time.Since(start), req.Result.Size, err)
	return err
}
