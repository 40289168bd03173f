package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// MaxFileSize is the hard ceiling on attachment uploads.
const MaxFileSize = 10 * 1024 * 1024

const (
	defaultBaseURL = "https://api.cloudinary.com"
	uploadTimeout  = 2 * time.Minute

	// Simulated progress parameters: the indicator climbs while the
	// network call is in flight and only reaches 100 once it resolves.
	progressStep     = 5
	progressCeiling  = 90
	progressInterval = 100 * time.Millisecond
)

// ErrNotConfigured is returned when the media host settings are missing.
var ErrNotConfigured = errors.New("media host is not configured")

// Asset is the media host's record of a successful upload.
type Asset struct {
	SecureURL string `json:"secure_url"`
}

// Uploader pushes files to the media host using unsigned preset uploads.
type Uploader struct {
	log       *log.Logger
	client    *http.Client
	baseURL   string
	cloudName string
	preset    string
}

func NewUploader(logger *log.Logger, cloudName, preset string) *Uploader {
	return &Uploader{
		log:       logger,
		client:    &http.Client{Timeout: uploadTimeout},
		baseURL:   defaultBaseURL,
		cloudName: cloudName,
		preset:    preset,
	}
}

func (u *Uploader) Configured() bool {
	return u.cloudName != "" && u.preset != ""
}

// Category classifies an attachment into the media host's upload category.
// Images and videos upload as themselves; document-like files go to the
// generic raw endpoint.
func Category(mimeType, fileName string) string {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.Contains(mimeType, "pdf") || strings.HasSuffix(fileName, ".pdf"):
		return "raw"
	case strings.Contains(mimeType, "pptx") || strings.HasSuffix(fileName, ".pptx"):
		return "raw"
	default:
		return "image"
	}
}

// Upload sends the file to the media host and reports simulated progress
// through the callback. The indicator is monotone and capped below
// completion until the request resolves; it does not reflect real
// transfer progress.
func (u *Uploader) Upload(ctx context.Context, fileName, mimeType string, data []byte, progress func(pct int)) (Asset, error) {
	if !u.Configured() {
		return Asset{}, ErrNotConfigured
	}
	if progress == nil {
		progress = func(int) {}
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return Asset{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Asset{}, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.WriteField("upload_preset", u.preset); err != nil {
		return Asset{}, fmt.Errorf("write preset field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Asset{}, fmt.Errorf("close multipart writer: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/%s/upload", u.baseURL, u.cloudName, Category(mimeType, fileName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Asset{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	stopProgress := u.simulateProgress(progress)
	resp, err := u.client.Do(req)
	stopProgress()
	if err != nil {
		return Asset{}, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	progress(95)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errText, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Asset{}, fmt.Errorf("upload failed: %s %s", resp.Status, strings.TrimSpace(string(errText)))
	}

	var asset Asset
	if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
		return Asset{}, fmt.Errorf("decode response: %w", err)
	}

	if asset.SecureURL == "" {
		return Asset{}, errors.New("no secure URL returned from media host")
	}

	progress(100)
	return asset, nil
}

// simulateProgress advances the indicator on a ticker until stopped.
func (u *Uploader) simulateProgress(progress func(int)) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		pct := 0
		for {
			select {
			case <-ticker.C:
				if pct < progressCeiling {
					pct += progressStep
					progress(pct)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}
