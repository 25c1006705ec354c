package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/brokerwiz/quoterd/internal/domain"
	"github.com/brokerwiz/quoterd/internal/session"
)

// BotExecutor — Executor поверх внешнего bot-runner'а (HTTP-сервис,
// управляющий браузерной автоматизацией target'а).
//
// Перед вызовом executor подкладывает session-артефакт target'а из
// Session Store; после успешного выполнения сохраняет обновлённый
// артефакт, если runner его вернул. Ошибки работы со Store не
// фатальны для job: без артефакта runner просто логинится заново.
type BotExecutor struct {
	target   string
	baseURL  string
	client   *http.Client
	sessions *session.Store
	logger   *slog.Logger
}

// botRequest — тело запроса к bot-runner'у.
type botRequest struct {
	JobID   string         `json:"job_id"`
	Attempt int            `json:"attempt"`
	Payload map[string]any `json:"payload,omitempty"`
	Session string         `json:"session,omitempty"` // base64
}

// botResponse — тело ответа bot-runner'а.
type botResponse struct {
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Session      string `json:"session,omitempty"` // base64, обновлённый артефакт
}

// NewBotExecutor создаёт executor для target поверх bot-runner'а.
func NewBotExecutor(target, baseURL string, sessions *session.Store, logger *slog.Logger) *BotExecutor {
	return &BotExecutor{
		target:  target,
		baseURL: baseURL,
		// Без собственного Timeout: бюджет выполнения целиком задаёт
		// контекст dispatcher'а (EXEC_TIMEOUT target'а). Фиксированный
		// клиентский таймаут молча обрезал бы больший per-target бюджет
		// и выдавал бы его за NETWORK_ERROR вместо TIMEOUT.
		client:   &http.Client{},
		sessions: sessions,
		logger:   logger.With(slog.String("target", target)),
	}
}

// Execute выполняет job через bot-runner.
func (e *BotExecutor) Execute(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
	req := botRequest{
		JobID:   msg.JobID,
		Attempt: msg.Attempt,
		Payload: msg.Payload,
	}

	if e.sessions != nil {
		artifact, ok, err := e.sessions.Read(ctx, e.target)
		if err != nil {
			e.logger.Warn("session read failed, proceeding without artifact", "error", err)
		} else if ok {
			req.Session = base64.StdEncoding.EncodeToString(artifact.Data)
		}
	}

	resp, err := e.call(ctx, &req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Отмену контекста синтезирует dispatcher в свои коды.
			return domain.Outcome{Success: false}
		}
		return domain.Fail("NETWORK_ERROR", err.Error())
	}

	if resp.Session != "" && e.sessions != nil {
		data, err := base64.StdEncoding.DecodeString(resp.Session)
		if err != nil {
			e.logger.Warn("bot runner returned malformed session artifact", "error", err)
		} else if err := e.sessions.Write(ctx, e.target, data); err != nil {
			e.logger.Warn("session write failed", "error", err)
		}
	}

	if !resp.Success {
		code := resp.ErrorCode
		if code == "" {
			code = "BOT_ERROR"
		}
		return domain.Fail(code, resp.ErrorMessage)
	}
	return domain.OK()
}

// call выполняет HTTP-запрос к runner'у и парсит ответ.
func (e *BotExecutor) call(ctx context.Context, req *botRequest) (*botResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal bot request: %w", err)
	}

	url := fmt.Sprintf("%s/execute/%s", e.baseURL, e.target)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build bot request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call bot runner: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bot runner returned %d", httpResp.StatusCode)
	}

	var resp botResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode bot response: %w", err)
	}
	return &resp, nil
}
