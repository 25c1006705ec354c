package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// ErrorRecord — ошибка одной попытки из API.
type ErrorRecord struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Classification   string `json:"classification"`
	Timestamp        string `json:"timestamp"`
	AttemptAtFailure int    `json:"attempt_at_failure"`
}

// JobResponse — job из API.
type JobResponse struct {
	JobID      string         `json:"job_id"`
	Target     string         `json:"target"`
	Attempt    int            `json:"attempt"`
	State      string         `json:"state"`
	Payload    map[string]any `json:"payload,omitempty"`
	EnqueuedAt string         `json:"enqueued_at"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	LastError  *ErrorRecord   `json:"last_error,omitempty"`
	UpdatedAt  string         `json:"updated_at"`
}

// DLQEntryResponse — DLQ-запись из API.
type DLQEntryResponse struct {
	JobID          string         `json:"job_id"`
	Target         string         `json:"target"`
	TerminalReason string         `json:"terminal_reason"`
	Attempt        int            `json:"attempt"`
	LastError      *ErrorRecord   `json:"last_error,omitempty"`
	ErrorHistory   []ErrorRecord  `json:"error_history,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	DeadLetteredAt string         `json:"dead_lettered_at"`
}

// RetryResponse — результат ручного повтора из DLQ.
type RetryResponse struct {
	JobID   string `json:"job_id"`
	Target  string `json:"target"`
	Attempt int    `json:"attempt"`
}

// AdmissionResponse — статистика занятых слотов.
type AdmissionResponse struct {
	Running map[string]int `json:"running"`
	Total   int            `json:"total"`
}

// --- Request types ---

// SubmitJobRequest — постановка job.
type SubmitJobRequest struct {
	JobID   string         `json:"job_id,omitempty"`
	Target  string         `json:"target"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ListDLQOpts — параметры фильтрации DLQ.
type ListDLQOpts struct {
	Target string
	From   string
	To     string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для quoterd API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Jobs ---

// SubmitJob ставит job в очередь.
func (c *Client) SubmitJob(req SubmitJobRequest) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs", req, &job)
	return &job, err
}

// GetJob возвращает статус job по ID.
func (c *Client) GetJob(jobID string) (*JobResponse, error) {
	var job JobResponse
	err := c.get("/api/v1/jobs/"+jobID, &job)
	return &job, err
}

// ListJobs возвращает jobs target'а.
func (c *Client) ListJobs(target string, limit int) ([]JobResponse, error) {
	params := url.Values{}
	params.Set("target", target)
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var jobs []JobResponse
	err := c.list("/api/v1/jobs", params, &jobs)
	return jobs, err
}

// --- DLQ ---

// ListDLQ возвращает DLQ-записи с фильтрацией.
func (c *Client) ListDLQ(opts ListDLQOpts) ([]DLQEntryResponse, error) {
	params := url.Values{}
	if opts.Target != "" {
		params.Set("target", opts.Target)
	}
	if opts.From != "" {
		params.Set("from", opts.From)
	}
	if opts.To != "" {
		params.Set("to", opts.To)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var entries []DLQEntryResponse
	err := c.list("/api/v1/dlq", params, &entries)
	return entries, err
}

// GetDLQEntry возвращает DLQ-запись с полной историей ошибок.
func (c *Client) GetDLQEntry(jobID string) (*DLQEntryResponse, error) {
	var entry DLQEntryResponse
	err := c.get("/api/v1/dlq/"+jobID, &entry)
	return &entry, err
}

// RetryDLQEntry вручную переопубликовывает job из DLQ.
func (c *Client) RetryDLQEntry(jobID string) (*RetryResponse, error) {
	var result RetryResponse
	err := c.post("/api/v1/dlq/"+jobID+"/retry", nil, &result)
	return &result, err
}

// --- Admission ---

// GetAdmission возвращает статистику выполняемых jobs.
func (c *Client) GetAdmission() (*AdmissionResponse, error) {
	var stats AdmissionResponse
	err := c.get("/api/v1/admission", &stats)
	return &stats, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
