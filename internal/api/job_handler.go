package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/brokerwiz/quoterd/internal/domain"
)

// SubmitJob ставит job в очередь его target'а.
// POST /api/v1/jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Target == "" {
		BadRequest(w, "target is required")
		return
	}
	if !slices.Contains(h.targets, req.Target) {
		BadRequest(w, "unknown target: "+req.Target)
		return
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	msg := &domain.JobMessage{
		JobID:      jobID,
		Target:     req.Target,
		Attempt:    1,
		Payload:    req.Payload,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := h.publisher.PublishJob(r.Context(), msg); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("job submitted", "job_id", jobID, "target", req.Target)
	Accepted(w, JobFromDomain(*domain.JobFromMessage(msg)))
}

// GetJob возвращает статус job.
// GET /api/v1/jobs/{job_id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	job, err := h.jobRepo.GetByID(r.Context(), jobID)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	Success(w, JobFromDomain(*job))
}

// ListJobs возвращает jobs target'а (свежие первыми).
// GET /api/v1/jobs?target=...&limit=...
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		BadRequest(w, "target is required")
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := h.jobRepo.ListByTarget(r.Context(), target, limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		result[i] = JobFromDomain(job)
	}

	List(w, result, len(result))
}

// GetAdmission возвращает число выполняемых jobs по target'ам.
// GET /api/v1/admission
func (h *Handler) GetAdmission(w http.ResponseWriter, r *http.Request) {
	resp := AdmissionResponse{Running: make(map[string]int)}

	for _, target := range h.targets {
		count, err := h.jobRepo.CountByState(r.Context(), target, domain.JobStateRunning)
		if err != nil {
			InternalError(w, h.logger, err)
			return
		}
		if count > 0 {
			resp.Running[target] = count
		}
		resp.Total += count
	}

	Success(w, resp)
}
