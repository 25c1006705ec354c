package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestBotExecutor(t *testing.T, handler http.HandlerFunc) *BotExecutor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBotExecutor("hdi", srv.URL, nil, slog.New(slog.DiscardHandler))
}

func TestBotExecutor_Success(t *testing.T) {
	e := newTestBotExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute/hdi" {
			t.Errorf("path = %s, want /execute/hdi", r.URL.Path)
		}
		var req botRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.JobID != "job-1" {
			t.Errorf("job_id = %s, want job-1", req.JobID)
		}
		json.NewEncoder(w).Encode(botResponse{Success: true})
	})

	out := e.Execute(context.Background(), testMessage("hdi"))
	if !out.Success {
		t.Errorf("outcome = %+v, want success", out)
	}
}

func TestBotExecutor_RunnerErrorCode(t *testing.T) {
	e := newTestBotExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(botResponse{Success: false, ErrorCode: "CAPTCHA_TIMEOUT"})
	})

	out := e.Execute(context.Background(), testMessage("hdi"))
	if out.Success || out.Code != "CAPTCHA_TIMEOUT" {
		t.Errorf("outcome = %+v, want CAPTCHA_TIMEOUT failure", out)
	}
}

// Бюджет выполнения задаёт только контекст: у клиента нет собственного
// таймаута, который молча обрезал бы большой per-target EXEC_TIMEOUT и
// превращал бы его в NETWORK_ERROR.
func TestBotExecutor_ContextOwnsTheBudget(t *testing.T) {
	if e := NewBotExecutor("hdi", "http://localhost:0", nil, slog.New(slog.DiscardHandler)); e.client.Timeout != 0 {
		t.Errorf("client timeout = %s, want none (context-driven)", e.client.Timeout)
	}

	blocked := make(chan struct{})
	e := newTestBotExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		// Дочитать тело: пока оно не прочитано, HTTP/1-сервер не следит
		// за соединением и не узнаёт об отмене со стороны клиента.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
		close(blocked)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := e.Execute(ctx, testMessage("hdi"))

	// Пустой код: синтез TIMEOUT/CANCELLED делает dispatcher
	if out.Success || out.Code != "" {
		t.Errorf("outcome = %+v, want code-less failure for dispatcher to classify", out)
	}

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("runner request was not cancelled with the context")
	}
}

func TestBotExecutor_UnreachableRunnerIsNetworkError(t *testing.T) {
	e := NewBotExecutor("hdi", "http://127.0.0.1:1", nil, slog.New(slog.DiscardHandler))

	out := e.Execute(context.Background(), testMessage("hdi"))
	if out.Success || out.Code != "NETWORK_ERROR" {
		t.Errorf("outcome = %+v, want NETWORK_ERROR", out)
	}
}
