package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	retry "github.com/avast/retry-go"
)

// StatusUpdate is the status callback payload. Log is a full
// replacement of the run log, not an append.
type StatusUpdate struct {
	StatusCode    int    `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	PercentDone   int    `json:"percentDone"`
	Log           string `json:"log"`
}

// Client talks back to the orchestrator: status pushes and archive
// uploads, both addressed by work item id against the callback base URL
// carried in the work item.
type Client struct {
	HTTPClient *http.Client
}

// NewClient builds a callback client with a bounded request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{HTTPClient: &http.Client{Timeout: timeout}}
}

// PushStatus posts one status update for a work item.
func (c *Client) PushStatus(baseURL, workItemID string, update StatusUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("worker: encode status update: %w", err)
	}
	url := fmt.Sprintf("%s/workitem/%s", baseURL, workItemID)
	resp, err := c.HTTPClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("worker: push status to %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("worker: status push to %s returned %d", url, resp.StatusCode)
	}
	return nil
}

// UploadArchive posts the finalized archive as a multipart upload,
// retrying transient failures. The archive is the run's whole output;
// losing it to one connection reset would waste the entire computation.
func (c *Client) UploadArchive(baseURL, workItemID, archivePath string) error {
	url := fmt.Sprintf("%s/workitem/%s/package", baseURL, workItemID)
	return retry.Do(
		func() error { return c.uploadOnce(url, archivePath) },
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) uploadOnce(url, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("worker: open archive: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("package", filepath.Base(archivePath))
	if err != nil {
		return fmt.Errorf("worker: multipart form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("worker: read archive: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("worker: finish multipart form: %w", err)
	}

	resp, err := c.HTTPClient.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("worker: upload archive to %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("worker: archive upload to %s returned %d", url, resp.StatusCode)
	}
	return nil
}
