package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"mercator-hq/exporter/pkg/api/types"
	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/orchestrator"
	"mercator-hq/exporter/pkg/security/auth"
)

// ExportHandler serves the export REST endpoints.
type ExportHandler struct {
	service ExportService
	logger  *slog.Logger
}

// NewExportHandler creates a new export handler.
func NewExportHandler(service ExportService) *ExportHandler {
	return &ExportHandler{
		service: service,
		logger:  slog.Default().With("component", "api.handlers"),
	}
}

// Register mounts the export and history routes on mux. wrap is applied to
// every handler, typically the authentication middleware.
func (h *ExportHandler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"POST /exports":                 h.CreateExport,
		"POST /exports/batch":           h.CreateBatch,
		"GET /exports/formats":          h.ListFormats,
		"GET /exports/{id}/status":      h.GetStatus,
		"GET /exports/{id}/download":    h.DownloadExport,
		"POST /exports/{id}/cancel":     h.CancelExport,
		"POST /exports/{id}/retry":      h.RetryExport,
		"DELETE /exports/{id}":          h.DeleteExport,
		"GET /users/{id}/exports":       h.ListHistory,
		"GET /users/{id}/exports/stats": h.GetStats,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, wrap(fn))
	}
}

// principal returns the authenticated caller or writes 401.
func (h *ExportHandler) principal(w http.ResponseWriter, r *http.Request) (export.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok || p.UserID == "" {
		_ = types.WriteError(w, types.NewErrorResponse(types.ErrorTypeAuthentication, "authentication required", ""))
		return export.Principal{}, false
	}
	return p, true
}

func (h *ExportHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := types.FromError(err)
	if resp.Error.HTTPStatusCode() >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "operation", op, "error", err)
	} else {
		h.logger.DebugContext(r.Context(), "request rejected", "operation", op, "error", err)
	}
	_ = types.WriteError(w, resp)
}

func (h *ExportHandler) create(w http.ResponseWriter, r *http.Request, kind export.Kind) (*orchestrator.CreateResult, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return nil, false
	}

	var body CreateExportRequest
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, "create", err)
		return nil, false
	}

	result, err := h.service.Create(r.Context(), p, &orchestrator.CreateRequest{
		Kind:      kind,
		Format:    export.Format(body.Format),
		RecordIDs: body.RecordIDs,
		Options:   body.Options,
	})
	if err != nil {
		h.fail(w, r, "create", err)
		return nil, false
	}
	w.Header().Set("Location", "/exports/"+result.ID+"/status")
	return result, true
}

// CreateExport handles POST /exports.
func (h *ExportHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	result, ok := h.create(w, r, export.KindSingle)
	if !ok {
		return
	}
	_ = types.WriteJSON(w, http.StatusCreated, CreateExportResponse{
		ExportID:            result.ID,
		Status:              result.Status,
		EstimatedCompletion: result.EstimatedCompletion,
	})
}

// CreateBatch handles POST /exports/batch. The batch ID and the export ID
// are the same identifier.
func (h *ExportHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	result, ok := h.create(w, r, export.KindBatch)
	if !ok {
		return
	}
	_ = types.WriteJSON(w, http.StatusCreated, CreateBatchResponse{
		BatchID:             result.ID,
		ExportID:            result.ID,
		Status:              result.Status,
		EstimatedCompletion: result.EstimatedCompletion,
		RecordCount:         result.RecordCount,
	})
}

// GetStatus handles GET /exports/{id}/status.
func (h *ExportHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	view, err := h.service.Status(r.Context(), p, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "status", err)
		return
	}

	job := view.Job
	resp := StatusResponse{
		ExportID:   job.ID,
		Kind:       job.Kind,
		Format:     job.Format,
		Status:     view.Snapshot.Status,
		Progress:   view.Snapshot.Progress,
		Message:    view.Snapshot.Message,
		RetryCount: job.RetryCount,
		UpdatedAt:  view.Snapshot.Timestamp,
	}
	if job.ErrorMessage != "" {
		msg := job.ErrorMessage
		resp.ErrorMessage = &msg
	}
	if job.Status == export.StatusCompleted {
		resp.DownloadURL = downloadURL(job.ID, -1)
		resp.Files = files(job)
	}
	_ = types.WriteJSON(w, http.StatusOK, resp)
}

// DownloadExport handles GET /exports/{id}/download[?index=n].
func (h *ExportHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	index, err := queryInt(r, "index")
	if err != nil {
		h.fail(w, r, "download", err)
		return
	}

	id := r.PathValue("id")
	dl, err := h.service.Download(r.Context(), p, id, index)
	if err != nil {
		h.fail(w, r, "download", err)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", dl.Artifact.MediaType)
	if dl.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Artifact.FileName}))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if n, err := io.Copy(w, dl.Body); err != nil {
		// The job is unaffected; the client retries the download.
		h.logger.WarnContext(r.Context(), "artifact delivery interrupted",
			"job_id", id,
			"bytes_sent", n,
			"error", err,
		)
	}
}

// CancelExport handles POST /exports/{id}/cancel.
func (h *ExportHandler) CancelExport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	job, err := h.service.Cancel(r.Context(), p, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "cancel", err)
		return
	}
	_ = types.WriteJSON(w, http.StatusOK, jobView(job))
}

// RetryExport handles POST /exports/{id}/retry.
func (h *ExportHandler) RetryExport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	job, err := h.service.Retry(r.Context(), p, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "retry", err)
		return
	}
	_ = types.WriteJSON(w, http.StatusOK, jobView(job))
}

// DeleteExport handles DELETE /exports/{id}.
func (h *ExportHandler) DeleteExport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := h.service.Delete(r.Context(), p, id); err != nil {
		h.fail(w, r, "delete", err)
		return
	}
	_ = types.WriteJSON(w, http.StatusOK, map[string]any{"exportId": id, "deleted": true})
}

// ListFormats handles GET /exports/formats.
func (h *ExportHandler) ListFormats(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	infos, err := h.service.Formats(r.Context(), p)
	if err != nil {
		h.fail(w, r, "formats", err)
		return
	}

	views := make([]FormatView, 0, len(infos))
	for _, info := range infos {
		views = append(views, FormatView{
			Name:                 info.Format,
			Description:          info.Description,
			MediaType:            info.MediaType,
			Extension:            info.Extension,
			SupportsBatch:        info.SupportsBatch,
			ApproxBytesPerRecord: info.ApproxBytesPerRecord,
			ApproxSecondsSingle:  h.service.Estimate(info.Format, export.KindSingle, 1).Seconds(),
		})
	}
	_ = types.WriteJSON(w, http.StatusOK, map[string]any{"formats": views})
}

// ListHistory handles GET /users/{id}/exports?limit&offset&status&kind&format.
func (h *ExportHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	q, err := parseHistoryQuery(r)
	if err != nil {
		h.fail(w, r, "history", err)
		return
	}

	query := export.JobQuery{
		Status: export.Status(q.Status),
		Kind:   export.Kind(q.Kind),
		Format: export.Format(q.Format),
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	jobs, total, err := h.service.History(r.Context(), p, r.PathValue("id"), query)
	if err != nil {
		h.fail(w, r, "history", err)
		return
	}

	resp := HistoryResponse{
		Exports: make([]JobView, 0, len(jobs)),
		Total:   total,
		Limit:   q.Limit,
		Offset:  q.Offset,
	}
	for _, job := range jobs {
		resp.Exports = append(resp.Exports, jobView(job))
	}
	_ = types.WriteJSON(w, http.StatusOK, resp)
}

// GetStats handles GET /users/{id}/exports/stats.
func (h *ExportHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	stats, err := h.service.Stats(r.Context(), p, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "stats", err)
		return
	}
	_ = types.WriteJSON(w, http.StatusOK, stats)
}

func parseHistoryQuery(r *http.Request) (*historyQuery, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return nil, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return nil, err
	}
	q := &historyQuery{
		Limit:  limit,
		Offset: offset,
		Status: r.URL.Query().Get("status"),
		Kind:   r.URL.Query().Get("kind"),
		Format: r.URL.Query().Get("format"),
	}
	if err := validateStruct(q); err != nil {
		return nil, err
	}
	return q, nil
}

// downloadURL returns the download path of a job; index < 0 omits the
// index parameter.
func downloadURL(id string, index int) *string {
	u := "/exports/" + id + "/download"
	if index >= 0 {
		u = fmt.Sprintf("%s?index=%d", u, index)
	}
	return &u
}

func files(job *export.Job) []FileView {
	artifacts := job.Artifacts
	if len(artifacts) == 0 && job.Artifact != nil {
		artifacts = []export.Artifact{*job.Artifact}
	}
	out := make([]FileView, 0, len(artifacts))
	for i, a := range artifacts {
		out = append(out, FileView{
			Index:       i,
			FileName:    a.FileName,
			MediaType:   a.MediaType,
			SizeBytes:   a.SizeBytes,
			RecordID:    a.RecordID,
			DownloadURL: *downloadURL(job.ID, i),
		})
	}
	return out
}

func jobView(job *export.Job) JobView {
	v := JobView{
		ExportID:     job.ID,
		Kind:         job.Kind,
		Format:       job.Format,
		Status:       job.Status,
		Progress:     job.Progress,
		Message:      job.Message,
		ErrorMessage: job.ErrorMessage,
		RetryCount:   job.RetryCount,
		RecordCount:  len(job.RecordIDs),
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Status == export.StatusCompleted {
		v.DownloadURL = downloadURL(job.ID, -1)
	}
	return v
}
