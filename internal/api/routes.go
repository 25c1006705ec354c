package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		Auth(h.apiKey),
	)

	// Jobs
	mux.Handle("POST /api/v1/jobs", chain(http.HandlerFunc(h.SubmitJob)))
	mux.Handle("GET /api/v1/jobs", chain(http.HandlerFunc(h.ListJobs)))
	mux.Handle("GET /api/v1/jobs/{job_id}", chain(http.HandlerFunc(h.GetJob)))

	// DLQ
	mux.Handle("GET /api/v1/dlq", chain(http.HandlerFunc(h.ListDLQ)))
	mux.Handle("GET /api/v1/dlq/{job_id}", chain(http.HandlerFunc(h.GetDLQEntry)))
	mux.Handle("POST /api/v1/dlq/{job_id}/retry", chain(http.HandlerFunc(h.RetryDLQEntry)))

	// Admission
	mux.Handle("GET /api/v1/admission", chain(http.HandlerFunc(h.GetAdmission)))
}
