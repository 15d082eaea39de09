package handlers

import (
	"context"
	"encoding/json"
	"time"

	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/generator"
	"mercator-hq/exporter/pkg/export/orchestrator"
)

// ExportService is the subset of the orchestrator the handlers use.
type ExportService interface {
	Create(ctx context.Context, principal export.Principal, req *orchestrator.CreateRequest) (*orchestrator.CreateResult, error)
	Status(ctx context.Context, principal export.Principal, id string) (*orchestrator.StatusView, error)
	Cancel(ctx context.Context, principal export.Principal, id string) (*export.Job, error)
	Retry(ctx context.Context, principal export.Principal, id string) (*export.Job, error)
	Delete(ctx context.Context, principal export.Principal, id string) error
	Download(ctx context.Context, principal export.Principal, id string, index int) (*orchestrator.Download, error)
	Formats(ctx context.Context, principal export.Principal) ([]generator.Info, error)
	Estimate(format export.Format, kind export.Kind, records int) time.Duration
	History(ctx context.Context, principal export.Principal, ownerID string, query export.JobQuery) ([]*export.Job, int, error)
	Stats(ctx context.Context, principal export.Principal, ownerID string) (*export.JobStats, error)
}

// CreateExportRequest is the body of POST /exports and POST /exports/batch.
type CreateExportRequest struct {
	Format    string          `json:"format" validate:"required"`
	RecordIDs []string        `json:"recordIds" validate:"required"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// CreateExportResponse is returned by POST /exports.
type CreateExportResponse struct {
	ExportID            string        `json:"exportId"`
	Status              export.Status `json:"status"`
	EstimatedCompletion time.Time     `json:"estimatedCompletion"`
}

// CreateBatchResponse is returned by POST /exports/batch.
type CreateBatchResponse struct {
	BatchID             string        `json:"batchId"`
	ExportID            string        `json:"exportId"`
	Status              export.Status `json:"status"`
	EstimatedCompletion time.Time     `json:"estimatedCompletion"`
	RecordCount         int           `json:"recordCount"`
}

// FileView describes one downloadable file of a completed export.
type FileView struct {
	Index       int    `json:"index"`
	FileName    string `json:"fileName"`
	MediaType   string `json:"mediaType"`
	SizeBytes   int64  `json:"sizeBytes"`
	RecordID    string `json:"recordId,omitempty"`
	DownloadURL string `json:"downloadUrl"`
}

// StatusResponse is returned by GET /exports/{id}/status.
type StatusResponse struct {
	ExportID     string        `json:"exportId"`
	Kind         export.Kind   `json:"kind"`
	Format       export.Format `json:"format"`
	Status       export.Status `json:"status"`
	Progress     int           `json:"progress"`
	Message      string        `json:"message"`
	DownloadURL  *string       `json:"downloadUrl"`
	ErrorMessage *string       `json:"errorMessage"`
	RetryCount   int           `json:"retryCount"`
	Files        []FileView    `json:"files,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// JobView is the history representation of a job.
type JobView struct {
	ExportID     string        `json:"exportId"`
	Kind         export.Kind   `json:"kind"`
	Format       export.Format `json:"format"`
	Status       export.Status `json:"status"`
	Progress     int           `json:"progress"`
	Message      string        `json:"message"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	RetryCount   int           `json:"retryCount"`
	RecordCount  int           `json:"recordCount"`
	DownloadURL  *string       `json:"downloadUrl"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
}

// HistoryResponse is returned by GET /users/{id}/exports.
type HistoryResponse struct {
	Exports []JobView `json:"exports"`
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}

// FormatView is one entry of GET /exports/formats.
type FormatView struct {
	Name                 export.Format `json:"name"`
	Description          string        `json:"description"`
	MediaType            string        `json:"mediaType"`
	Extension            string        `json:"extension"`
	SupportsBatch        bool          `json:"supportsBatch"`
	ApproxBytesPerRecord int64         `json:"approxBytesPerRecord"`
	ApproxSecondsSingle  float64       `json:"approxSecondsSingleRecord"`
}

// historyQuery holds the parsed query string of the history endpoint.
type historyQuery struct {
	Limit  int    `validate:"min=0,max=1000"`
	Offset int    `validate:"min=0"`
	Status string `validate:"omitempty,oneof=initiating processing generating completing completed failed cancelled"`
	Kind   string `validate:"omitempty,oneof=single batch"`
	Format string
}
