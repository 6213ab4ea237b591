// Package media implements adapter.MediaUploadAdapter: fetch an upstream
// artifact and re-host it on the media store. Upload-dedup by sceneId is
// the polling coordinator's responsibility (it owns uploadInFlight), not
// this adapter's; this type only performs one fetch+upload round trip.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain/ports/adapter"
	"github.com/reelforge/video-orchestrator/internal/infra/retry"
)

var _ adapter.MediaUploadAdapter = (*Uploader)(nil)

// uploadRetryPolicy matches spec.md §4.6: up to 5 attempts, base 1s,
// exponential to 10s cap, jitter ±30%.
var uploadRetryPolicy = retry.Policy{MaxAttempts: 5, Base: 1 * time.Second, Cap: 10 * time.Second, JitterFrac: 0.3}

var retryableSubstrings = []string{
	"fetch failed",
	"econnreset",
	"etimedout",
	"econnrefused",
	"epipe",
	"socket disconnected",
	"tls",
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

type Uploader struct {
	uploadURL string // media-host unsigned-preset upload endpoint
	preset    string
	http      *http.Client
}

func NewUploader(uploadURL, preset string) *Uploader {
	return &Uploader{
		uploadURL: uploadURL,
		preset:    preset,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (u *Uploader) Upload(ctx context.Context, upstreamURL string) (string, error) {
	var body []byte
	var contentType string
	err := retry.Do(ctx, uploadRetryPolicy, isRetryable, func(ctx context.Context) error {
		b, ct, err := u.fetch(ctx, upstreamURL)
		if err != nil {
			return err
		}
		body, contentType = b, ct
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch upstream artifact: %w", err)
	}

	var hostedURL string
	err = retry.Do(ctx, uploadRetryPolicy, isRetryable, func(ctx context.Context) error {
		url, err := u.postUpload(ctx, body, contentType)
		if err != nil {
			return err
		}
		hostedURL = url
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upload to media host: %w", err)
	}
	return hostedURL, nil
}

func (u *Uploader) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := u.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch failed: upstream artifact http %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "video/mp4"
	}
	return b, ct, nil
}

type mediaUploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (u *Uploader) postUpload(ctx context.Context, body []byte, contentType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("upload_preset", u.preset); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", "artifact")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(body); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload mediaUploadResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&payload); decErr != nil {
		return "", fmt.Errorf("decode media upload response: %w", decErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("media host upload http %d", resp.StatusCode)
		if payload.Error != nil {
			msg = payload.Error.Message
		}
		return "", errors.New(msg)
	}
	if payload.SecureURL == "" {
		return "", errors.New("media host upload accepted but returned no secure_url")
	}
	return payload.SecureURL, nil
}
