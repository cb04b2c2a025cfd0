// Package workers contains the long-running loops of the analyzer: the
// queue-draining analysis workers, the text embedding responder, and the
// supervisor that runs them and shuts them down together.
package workers

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	ec "github.com/jamzercise/lidify-fork/pkgs/errors"
)

var validate = validator.New()

// AnalysisJob is the payload of one job queue message.
type AnalysisJob struct {
	TrackID  string `json:"trackId" validate:"required"`
	FilePath string `json:"filePath"`
}

// TextEmbedRequest arrives on the request topic.
type TextEmbedRequest struct {
	RequestID string `json:"requestId" validate:"required"`
	Text      string `json:"text"`
}

// TextEmbedResponse is published on the per-request response topic.
// Embedding is null when Success is false.
type TextEmbedResponse struct {
	RequestID    string    `json:"requestId"`
	Success      bool      `json:"success"`
	Embedding    []float32 `json:"embedding"`
	ModelVersion string    `json:"modelVersion"`
}

// ParseAnalysisJob decodes a queue payload and checks that it names a
// track. Payloads that fail either step are discarded by the caller.
func ParseAnalysisJob(payload []byte) (AnalysisJob, error) {
	var job AnalysisJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return AnalysisJob{}, ec.ErrValidationFailed.Clone().
			WithDetails("job payload is not valid JSON").
			Warp(err)
	}
	if err := validate.Struct(job); err != nil {
		return AnalysisJob{}, ec.ErrValidationFailed.Clone().
			WithDetails("job payload has no trackId").
			Warp(err)
	}
	return job, nil
}

// ParseTextEmbedRequest decodes a request topic payload. A request
// without a requestId is undeliverable, there is no topic to answer on,
// so it fails validation here and gets dropped.
func ParseTextEmbedRequest(payload []byte) (TextEmbedRequest, error) {
	var req TextEmbedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return TextEmbedRequest{}, ec.ErrValidationFailed.Clone().
			WithDetails("request payload is not valid JSON").
			Warp(err)
	}
	if err := validate.Struct(req); err != nil {
		return TextEmbedRequest{}, ec.ErrValidationFailed.Clone().
			WithDetails("request payload has no requestId").
			Warp(err)
	}
	return req, nil
}

// ResponseTopic derives the topic a requester listens on for its answer.
func ResponseTopic(prefix, requestID string) string {
	return prefix + requestID
}
