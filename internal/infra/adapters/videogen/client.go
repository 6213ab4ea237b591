// Package videogen implements adapter.VideoGenAdapter against the upstream
// long-running video generation API: a submit endpoint that accepts text
// or an image reference and returns an operation name, and a status
// endpoint polled until the operation reaches a terminal state.
package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.VideoGenAdapter = (*Client)(nil)

const (
	submitTimeout = 90 * time.Second
	statusTimeout = 30 * time.Second
)

// Client is the shared upstream HTTP agent: keep-alive, bounded
// connection pool, and explicit per-call timeouts, the same shape as the
// teacher's OpenAIAdapter but with a pool sized for concurrent polling
// rather than a single chat client.
type Client struct {
	baseURL   string
	projectID string
	http      *http.Client
}

// NewClient builds the shared transport spec.md §4.5 requires: keep-alive
// timeout 30s, connect timeout 10s, up to 40 pooled connections, no
// pipelining.
func NewClient(baseURL, projectID string, poolSize int) *Client {
	if poolSize <= 0 {
		poolSize = 40
	}
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          poolSize,
		MaxIdleConnsPerHost:   poolSize,
		MaxConnsPerHost:       poolSize,
		IdleConnTimeout:       30 * time.Second,
		DisableKeepAlives:     false,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		baseURL:   baseURL,
		projectID: projectID,
		http:      &http.Client{Transport: transport},
	}
}

// modelKey varies by aspect ratio and submission mode, mirroring spec.md
// §4.4.1 step 2.
func modelKey(aspectRatio string, mode adapter.SubmitMode) string {
	base := "veo-landscape"
	if aspectRatio == "portrait" {
		base = "veo-portrait"
	}
	if mode == adapter.SubmitModeImageToVideo {
		base += "-i2v"
	}
	return base
}

type submitRequestBody struct {
	Model             string `json:"model"`
	Prompt            string `json:"prompt"`
	AspectRatio       string `json:"aspectRatio"`
	Seed              uint32 `json:"seed"`
	SceneID           string `json:"sceneId"`
	ProjectID         string `json:"projectId"`
	ReferenceImageURI string `json:"referenceImageUri,omitempty"`
}

type submitResponseBody struct {
	OperationName string `json:"operationName"`
	Error         *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) submitPath(mode adapter.SubmitMode) string {
	if mode == adapter.SubmitModeImageToVideo {
		return c.baseURL + "/video:batchAsyncGenerateVideoReferenceImages"
	}
	return c.baseURL + "/video:batchAsyncGenerateVideoText"
}

func (c *Client) Submit(ctx context.Context, req adapter.SubmitRequest) (adapter.SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	body := submitRequestBody{
		Model:             modelKey(req.AspectRatio, req.Mode),
		Prompt:            req.Prompt,
		AspectRatio:       req.AspectRatio,
		Seed:              req.Seed,
		SceneID:           req.SceneID,
		ProjectID:         req.ProjectID,
		ReferenceImageURI: req.ReferenceImageURI,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return adapter.SubmitResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitPath(req.Mode), bytes.NewReader(b))
	if err != nil {
		return adapter.SubmitResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return adapter.SubmitResult{}, err
	}
	defer resp.Body.Close()

	var payload submitResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return adapter.SubmitResult{}, fmt.Errorf("decode submit response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("upstream submit http %d", resp.StatusCode)
		if payload.Error != nil {
			msg = payload.Error.Message
		}
		return adapter.SubmitResult{}, errors.New(msg)
	}
	if payload.OperationName == "" {
		return adapter.SubmitResult{}, errors.New("upstream submit accepted but returned no operationName")
	}
	return adapter.SubmitResult{OperationName: payload.OperationName}, nil
}

type statusResponseBody struct {
	Done     bool   `json:"done"`
	Status   string `json:"status"`
	VideoURL string `json:"videoUrl"`
	FileURL  string `json:"fileUrl"`
	Download string `json:"downloadUrl"`
	Metadata struct {
		Video struct {
			FifeURL string `json:"fifeUrl"`
		} `json:"video"`
	} `json:"metadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

var completeStatuses = map[string]bool{
	"COMPLETED":                             true,
	"MEDIA_GENERATION_STATUS_COMPLETE":      true,
	"MEDIA_GENERATION_STATUS_SUCCESSFUL":    true,
}

// extractVideoURL searches in the order spec.md §4.5 names and decodes
// HTML entities in the winning candidate.
func extractVideoURL(p statusResponseBody) string {
	candidates := []string{p.Metadata.Video.FifeURL, p.VideoURL, p.FileURL, p.Download}
	for _, c := range candidates {
		if c != "" {
			return html.UnescapeString(c)
		}
	}
	return ""
}

func (c *Client) CheckStatus(ctx context.Context, token, operationName string) (adapter.StatusResult, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	reqBody, err := json.Marshal(struct {
		OperationName string `json:"operationName"`
	}{OperationName: operationName})
	if err != nil {
		return adapter.StatusResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/video:batchCheckAsyncVideoGenerationStatus", bytes.NewReader(reqBody))
	if err != nil {
		return adapter.StatusResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return adapter.StatusResult{}, err
	}
	defer resp.Body.Close()

	result := adapter.StatusResult{HTTPStatus: resp.StatusCode}
	if resp.StatusCode >= 500 {
		return result, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.ErrorMessage = fmt.Sprintf("upstream status http %d", resp.StatusCode)
		return result, nil
	}

	var payload statusResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return adapter.StatusResult{}, fmt.Errorf("decode status response: %w", err)
	}
	if payload.Error != nil {
		result.ErrorMessage = payload.Error.Message
		return result, nil
	}
	if payload.Done || completeStatuses[payload.Status] {
		if url := extractVideoURL(payload); url != "" {
			result.Done = true
			result.VideoURL = url
			return result, nil
		}
	}
	return result, nil
}

type uploadImageResponseBody struct {
	URI   string `json:"uri"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) UploadReferenceImage(ctx context.Context, token string, imageBytes []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1:uploadUserImage", bytes.NewReader(imageBytes))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", mimeType)
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload uploadImageResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("upstream image upload http %d", resp.StatusCode)
		if payload.Error != nil {
			msg = payload.Error.Message
		}
		return "", errors.New(msg)
	}
	if payload.URI == "" {
		return "", errors.New("upstream image upload accepted but returned no uri")
	}
	return payload.URI, nil
}
