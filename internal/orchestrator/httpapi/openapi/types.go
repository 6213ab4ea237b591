// Package openapi holds the request/response DTOs for the HTTP surface.
// A real deployment would generate these with oapi-codegen from a committed
// openapi.yaml; they are hand-written here to keep the module
// self-contained, but shaped the way oapi-codegen output is shaped (flat
// structs, JSON tags matching the wire field names).
package openapi

type SubmitBulkRequest struct {
	UserID      string   `json:"userId"`
	Prompts     []string `json:"prompts"`
	AspectRatio string   `json:"aspectRatio"`
}

type SubmitBulkResponse struct {
	JobIDs []string `json:"jobIds"`
}

type SubmitSingleRequest struct {
	UserID      string `json:"userId"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio"`
}

type SubmitSingleResponse struct {
	OperationName string `json:"operationName"`
	SceneID       string `json:"sceneId"`
	TokenID       string `json:"tokenId"`
}

type SubmitImageToVideoResponse struct {
	JobID string `json:"jobId"`
}

type RegenerateRequest struct {
	UserID      string `json:"userId"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio"`
	SceneNumber *int   `json:"sceneNumber,omitempty"`
}

type RegenerateResponse struct {
	JobID string `json:"jobId"`
}

type CheckStatusResponse struct {
	Status       string `json:"status"`
	VideoURL     string `json:"videoUrl,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
