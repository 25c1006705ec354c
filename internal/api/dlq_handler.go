package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/brokerwiz/quoterd/internal/domain"
	"github.com/brokerwiz/quoterd/internal/repo"
)

// ListDLQ возвращает DLQ-записи по фильтру (свежие первыми).
// GET /api/v1/dlq?target=...&from=...&to=...&limit=...
func (h *Handler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	filter := repo.DLQFilter{
		Target: r.URL.Query().Get("target"),
		Limit:  100,
	}

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			BadRequest(w, "invalid from, expected RFC3339")
			return
		}
		filter.From = from
	}

	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			BadRequest(w, "invalid to, expected RFC3339")
			return
		}
		filter.To = to
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = n
	}

	entries, err := h.dlqRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DLQEntryResponse, len(entries))
	for i, entry := range entries {
		result[i] = DLQEntryFromDomain(entry)
	}

	List(w, result, len(result))
}

// GetDLQEntry возвращает DLQ-запись с полной историей ошибок.
// GET /api/v1/dlq/{job_id}
func (h *Handler) GetDLQEntry(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	entry, err := h.dlqRepo.GetByJobID(r.Context(), jobID)
	if HandleRepoError(w, h.logger, err, "dlq entry not found") {
		return
	}

	Success(w, DLQEntryFromDomain(*entry))
}

// RetryDLQEntry вручную переопубликовывает job из DLQ.
// POST /api/v1/dlq/{job_id}/retry
//
// Сообщение публикуется заново с attempt=1 и чистой историей —
// ручной повтор получает полный retry-бюджет. Сама DLQ-запись
// остаётся (помечается requeued_at), движок её не удаляет.
func (h *Handler) RetryDLQEntry(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	entry, err := h.dlqRepo.GetByJobID(r.Context(), jobID)
	if HandleRepoError(w, h.logger, err, "dlq entry not found") {
		return
	}
	if entry.Job == nil {
		Conflict(w, "dlq entry has no job snapshot to retry")
		return
	}

	msg := entry.Job
	msg.ResetForManualRetry()

	if err := h.publisher.PublishJob(r.Context(), msg); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	if err := h.dlqRepo.MarkRequeued(r.Context(), jobID); err != nil {
		// Публикация уже состоялась; незаполненный requeued_at не
		// мешает повтору, поэтому только логируем.
		h.logger.Warn("failed to mark dlq entry requeued", "job_id", jobID, "error", err)
	}

	job := domain.JobFromMessage(msg)
	if err := h.jobRepo.Upsert(r.Context(), job); err != nil {
		h.logger.Warn("failed to upsert job record", "job_id", jobID, "error", err)
	}

	h.logger.Info("dlq entry requeued", "job_id", jobID, "target", msg.Target)
	Accepted(w, RetryResponse{
		JobID:   msg.JobID,
		Target:  msg.Target,
		Attempt: msg.Attempt,
	})
}
