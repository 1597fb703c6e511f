package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/playable/internal/generate"
	"github.com/hitoshi/playable/internal/middleware"
	"github.com/hitoshi/playable/internal/model"
)

// GenerateOrchestrator は生成ハンドラーが必要とするインターフェース。
type GenerateOrchestrator interface {
	Generate(ctx context.Context, req generate.Request, emit func(generate.Event)) (*generate.Result, error)
}

// GenerateHandler はSSEで進捗を流すゲーム生成ハンドラー。
type GenerateHandler struct {
	orchestrator GenerateOrchestrator
	timeout      time.Duration
}

// NewGenerateHandler はGenerateHandlerを生成する。
// timeoutは1回の生成全体（LLM呼び出し込み）の上限。
func NewGenerateHandler(orchestrator GenerateOrchestrator, timeout time.Duration) *GenerateHandler {
	return &GenerateHandler{
		orchestrator: orchestrator,
		timeout:      timeout,
	}
}

// generateRequestBody はPOST /api/generateのリクエストボディ。
type generateRequestBody struct {
	Prompt       string          `json:"prompt"`
	SessionID    string          `json:"sessionId"`
	ExistingHTML string          `json:"existingHtml"`
	History      []model.Message `json:"history"`
}

// sseEvent は1つのSSEイベントをevent:/data:形式で書き込み、即座にフラッシュする。
func sseEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal sse payload", slog.String("error", err.Error()))
		return
	}
	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: " + string(data) + "\n\n"))
	flusher.Flush()
}

// Generate はゲーム生成を実行し、SSEで進捗と結果を流す。
// POST /api/generate
//
// イベント列: status* → chunk* → (complete | error)。
// 部分的なHTMLは決してストリームに載らない。
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var body generateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("response writer does not support streaming")
		middleware.WriteInternalServerError(w)
		return
	}

	// SSEヘッダー。ここから先のエラーはすべてerrorイベントで返す。
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.orchestrator.Generate(ctx, generate.Request{
		UserID:       userID,
		SessionID:    body.SessionID,
		Prompt:       body.Prompt,
		ExistingHTML: body.ExistingHTML,
		History:      body.History,
	}, func(ev generate.Event) {
		sseEvent(w, flusher, string(ev.Type), ev)
	})
	if err != nil {
		sseEvent(w, flusher, "error", errorEventBody(err))
		return
	}

	sseEvent(w, flusher, "complete", result)
}

// errorEventBody はSSEのerrorイベントに載せるペイロードを組み立てる。
func errorEventBody(err error) map[string]any {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError()
	}
	body := map[string]any{
		"code":     apiErr.Code,
		"message":  apiErr.Message,
		"category": apiErr.Category,
		"action":   apiErr.Action,
	}
	if len(apiErr.Meta) > 0 {
		body["meta"] = apiErr.Meta
	}
	return body
}
