package worker

import (
	"time"

	"feedgist/internal/dispatcher"
)

// RequestType enumerates the inbound envelope types.
type RequestType string

const (
	TypeSubmitSummary RequestType = "submit-summary"
	TypeHealthCheck   RequestType = "health-check"
	TypeGetStatistics RequestType = "get-statistics"
)

// ResponseType enumerates the outbound envelope types.
type ResponseType string

const (
	TypeSuccess ResponseType = "success"
	TypeError   ResponseType = "error"
	TypeReady   ResponseType = "ready"
)

// ErrorCode classifies a failed job for the caller.
type ErrorCode string

const (
	CodeInvalidInput       ErrorCode = "InvalidInput"
	CodeNoAvailableBackend ErrorCode = "NoAvailableBackend"
	CodeBackendError       ErrorCode = "BackendError"
	CodeUnknownMessageType ErrorCode = "UnknownMessageType"
	CodeInternalFault      ErrorCode = "InternalFault"
)

// Request is one inbound envelope. The caller assigns ID and guarantees its
// uniqueness among in-flight jobs; the worker echoes it back verbatim.
type Request struct {
	ID     string         `json:"id"`
	Type   RequestType    `json:"type"`
	Submit *SubmitPayload `json:"payload,omitempty"`
}

// SubmitPayload carries one summarization job. Title and SourceURL are
// pass-through metadata only; they play no part in backend selection.
type SubmitPayload struct {
	JobID     string `json:"jobId"`
	Content   string `json:"content"`
	Title     string `json:"title,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// Response is one outbound envelope, tagged with the originating request's
// correlation id. Exactly one of the payload fields is set, matching Type.
type Response struct {
	ID      string                   `json:"id"`
	Type    ResponseType             `json:"type"`
	Summary *SummaryPayload          `json:"summary,omitempty"`
	Stats   *dispatcher.Statistics   `json:"statistics,omitempty"`
	Probes  []dispatcher.ProbeResult `json:"probes,omitempty"`
	Ready   *ReadyPayload            `json:"ready,omitempty"`
	Err     *ErrorPayload            `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// SummaryPayload is the terminal success outcome of a submit-summary job.
type SummaryPayload struct {
	JobID            string `json:"jobId"`
	Summary          string `json:"summary"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	WordCount        int    `json:"wordCount"`
	SummaryLength    int    `json:"summaryLength"`
	Cached           bool   `json:"cached,omitempty"`
}

// ReadyPayload announces the worker's identity once its dispatcher is
// constructed; callers must not submit jobs before observing it.
type ReadyPayload struct {
	WorkerID string `json:"workerId"`
}

// ErrorPayload is the terminal failure outcome of a job.
type ErrorPayload struct {
	Code             ErrorCode `json:"code"`
	Message          string    `json:"message"`
	Detail           string    `json:"detail,omitempty"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
}
