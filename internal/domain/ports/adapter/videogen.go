package adapter

import "context"

// SubmitMode distinguishes text-to-video from image-to-video, since the
// upstream model key and endpoint vary by mode as well as aspect ratio.
type SubmitMode string

const (
	SubmitModeTextToVideo  SubmitMode = "text_to_video"
	SubmitModeImageToVideo SubmitMode = "image_to_video"
)

// SubmitRequest is the normalized shape the Submission Queue and the
// single-submit paths build before handing off to the upstream adapter.
type SubmitRequest struct {
	Token             string
	Prompt            string
	AspectRatio       string
	Mode              SubmitMode
	SceneID           string
	ReferenceImageURI string
	Seed              uint32
	ProjectID         string
}

type SubmitResult struct {
	OperationName string
}

// StatusResult is the normalized upstream poll response, after video URL
// extraction and HTML-entity decoding (spec.md §4.5).
type StatusResult struct {
	Done         bool
	VideoURL     string
	ErrorMessage string
	HTTPStatus   int
}

// VideoGenAdapter is the port over the upstream video generation API:
// POST .../video:batchAsyncGenerateVideoText,
// POST .../video:batchAsyncGenerateVideoReferenceImages,
// POST .../video:batchCheckAsyncVideoGenerationStatus.
type VideoGenAdapter interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	CheckStatus(ctx context.Context, token, operationName string) (StatusResult, error)
	UploadReferenceImage(ctx context.Context, token string, imageBytes []byte, mimeType string) (string, error)
}

// MediaUploadAdapter re-hosts an upstream artifact URL on the media store
// and returns its stable secure_url.
type MediaUploadAdapter interface {
	Upload(ctx context.Context, upstreamURL string) (hostedURL string, err error)
}
