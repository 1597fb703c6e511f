package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/playable/internal/middleware"
	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/studio"
)

// SessionHandler はスタジオセッションのHTTPハンドラー。
type SessionHandler struct {
	studioSvc *studio.Service
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(studioSvc *studio.Service) *SessionHandler {
	return &SessionHandler{studioSvc: studioSvc}
}

// sessionResponse はスタジオセッションのJSON表現。
type sessionResponse struct {
	SessionID            string          `json:"sessionId"`
	Messages             []model.Message `json:"messages"`
	CurrentHTML          string          `json:"currentHtml"`
	CurrentVersion       int             `json:"currentVersion"`
	SuggestedTitle       string          `json:"suggestedTitle,omitempty"`
	SuggestedDescription string          `json:"suggestedDescription,omitempty"`
	IsActive             bool            `json:"isActive"`
	LastUpdatedAt        time.Time       `json:"lastUpdatedAt"`
}

func toSessionResponse(s *model.StudioSession) sessionResponse {
	messages := s.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	return sessionResponse{
		SessionID:            s.SessionID,
		Messages:             messages,
		CurrentHTML:          s.CurrentHTML,
		CurrentVersion:       s.CurrentVersion,
		SuggestedTitle:       s.SuggestedTitle,
		SuggestedDescription: s.SuggestedDescription,
		IsActive:             s.IsActive,
		LastUpdatedAt:        s.LastUpdatedAt,
	}
}

// Start は新しいスタジオセッションを開始する。
// POST /api/sessions
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	now := time.Now()
	session := &model.StudioSession{
		UserID:        userID,
		SessionID:     studio.NewSessionID(),
		Messages:      []model.Message{},
		IsActive:      true,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}

	if err := h.studioSvc.SaveNow(r.Context(), session); err != nil {
		slog.Error("failed to start studio session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSessionResponse(session))
}

// Active はアクティブなセッションを返す。なければ404。
// GET /api/sessions/active
func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	session, err := h.studioSvc.Active(r.Context(), userID)
	if err != nil {
		slog.Error("failed to load active session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if session == nil {
		middleware.WriteAPIError(w, model.NewSessionNotFoundError("active"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSessionResponse(session))
}

// Get は指定セッションを返す。
// GET /api/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	session, err := h.studioSvc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSessionResponse(session))
}

// saveSessionBody はPUT /api/sessions/{id}のリクエストボディ。
type saveSessionBody struct {
	Messages             []model.Message `json:"messages"`
	CurrentHTML          string          `json:"currentHtml"`
	CurrentVersion       int             `json:"currentVersion"`
	SuggestedTitle       string          `json:"suggestedTitle"`
	SuggestedDescription string          `json:"suggestedDescription"`
}

// Save はセッション状態を保存する。書き込みはデバウンスされる。
// セッション状態は利便性のための複製なので、202を返して完了を待たない。
// PUT /api/sessions/{id}
func (h *SessionHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var body saveSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}

	h.studioSvc.Save(&model.StudioSession{
		UserID:               userID,
		SessionID:            chi.URLParam(r, "id"),
		Messages:             body.Messages,
		CurrentHTML:          body.CurrentHTML,
		CurrentVersion:       body.CurrentVersion,
		SuggestedTitle:       body.SuggestedTitle,
		SuggestedDescription: body.SuggestedDescription,
		IsActive:             true,
		LastUpdatedAt:        time.Now(),
	})

	w.WriteHeader(http.StatusAccepted)
}

// Deactivate はセッションを非アクティブにする。
// POST /api/sessions/{id}/deactivate
func (h *SessionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.studioSvc.Close(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
