package slskd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"seekbot/internal/logger"
	"seekbot/internal/utils"
	"seekbot/pkg/models"
)

// maxUnseenPolls bounds how long a freshly enqueued transfer may stay
// absent from the transfer list before the download is considered lost.
const maxUnseenPolls = 15

// EnqueueDownload asks slskd to download a file from a peer.
func (c *Client) EnqueueDownload(ctx context.Context, username, filename string, size int64) error {
	downloadRequests := []map[string]interface{}{
		{
			"filename": filename,
			"size":     size,
		},
	}

	endpoint := "/api/v0/transfers/downloads/" + url.PathEscape(username)
	resp, err := c.makeRequest(ctx, http.MethodPost, endpoint, downloadRequests)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download request failed: %w", unexpectedStatus(resp))
	}

	logger.Debug("Queued download: %s from %s", filename, username)
	return nil
}

// GetUserTransfers lists the downloads slskd tracks for one peer.
func (c *Client) GetUserTransfers(ctx context.Context, username string) ([]models.Transfer, error) {
	endpoint := "/api/v0/transfers/downloads/" + url.PathEscape(username)
	resp, err := c.makeRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get transfers failed: %w", unexpectedStatus(resp))
	}

	var user userTransfers
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode transfers: %w", err)
	}

	var transfers []models.Transfer
	for _, dir := range user.Directories {
		for _, f := range dir.Files {
			transfers = append(transfers, models.Transfer{
				ID:               f.ID,
				Username:         f.Username,
				Filename:         f.Filename,
				State:            f.State,
				Size:             f.Size,
				BytesTransferred: f.BytesTransferred,
				PercentComplete:  f.PercentComplete,
			})
		}
	}
	return transfers, nil
}

// existingTransferIDs lists the transfers slskd already holds for filename.
// Finished transfers stay listed until removed, so a repeat download of the
// same file must not mistake them for the new one.
func (c *Client) existingTransferIDs(ctx context.Context, username, filename string) (map[string]bool, error) {
	transfers, err := c.GetUserTransfers(ctx, username)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool)
	for _, t := range transfers {
		if t.Filename == filename {
			ids[t.ID] = true
		}
	}
	return ids, nil
}

// WaitForTransfer polls a queued download until slskd reports it finished.
// Transfers whose ID is in ignore are skipped. There is no deadline of its
// own: it returns when the transfer succeeds, fails, disappears or ctx ends.
func (c *Client) WaitForTransfer(ctx context.Context, username, filename string, ignore map[string]bool) (*models.Transfer, error) {
	seen := false
	unseen := 0
	lastState := ""

	for {
		transfers, err := c.GetUserTransfers(ctx, username)
		if err != nil {
			return nil, err
		}

		var current *models.Transfer
		for i := range transfers {
			if transfers[i].Filename == filename && !ignore[transfers[i].ID] {
				current = &transfers[i]
				break
			}
		}

		switch {
		case current == nil && seen:
			return nil, fmt.Errorf("transfer of %s from %s was removed before completing", filename, username)
		case current == nil:
			unseen++
			if unseen > maxUnseenPolls {
				return nil, fmt.Errorf("transfer of %s from %s never appeared in slskd", filename, username)
			}
		default:
			seen = true
			if current.State != lastState {
				logger.Debug("Transfer %s: %s (%s / %s)", filename, current.State,
					humanize.IBytes(uint64(max(current.BytesTransferred, 0))), humanize.IBytes(uint64(max(current.Size, 0))))
				lastState = current.State
			}

			if done, succeeded := transferOutcome(current.State); done {
				if !succeeded {
					return current, &TransferError{Username: username, Filename: filename, State: current.State}
				}
				return current, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// Download retrieves result from its peer and moves the completed file to
// destination.
func (c *Client) Download(ctx context.Context, result models.SearchResult, destination string) error {
	if c.downloadsDir == "" {
		return fmt.Errorf("slskd downloads directory is not configured")
	}

	previous, err := c.existingTransferIDs(ctx, result.Username, result.Filename)
	if err != nil {
		return fmt.Errorf("failed to list transfers: %w", err)
	}
	if len(previous) > 0 {
		logger.Debug("Ignoring %d earlier transfers of %s from %s", len(previous), result.Filename, result.Username)
	}

	if err := c.EnqueueDownload(ctx, result.Username, result.Filename, result.Size); err != nil {
		return fmt.Errorf("failed to start download: %w", err)
	}

	if _, err := c.WaitForTransfer(ctx, result.Username, result.Filename, previous); err != nil {
		return err
	}

	source, err := c.locateCompleted(result.Filename)
	if err != nil {
		return err
	}

	if err := moveFile(source, destination); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", source, destination, err)
	}

	logger.Debug("Moved %s to %s", source, destination)
	return nil
}

// locateCompleted finds where slskd saved a finished download. slskd keeps
// the remote parent directory name, so that is tried first before scanning.
func (c *Client) locateCompleted(remotePath string) (string, error) {
	name := utils.Basename(remotePath)

	candidates := []string{filepath.Join(c.downloadsDir, name)}
	if parent := utils.ParentDirname(remotePath); parent != "" {
		candidates = append([]string{filepath.Join(c.downloadsDir, parent, name)}, candidates...)
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	var found string
	var foundTime time.Time
	err := filepath.WalkDir(c.downloadsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || d.Name() != name {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if found == "" || info.ModTime().After(foundTime) {
			found = path
			foundTime = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", c.downloadsDir, err)
	}
	if found == "" {
		return "", fmt.Errorf("completed file %s not found under %s", name, c.downloadsDir)
	}
	return found, nil
}

// moveFile renames src to dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	return os.Remove(src)
}
