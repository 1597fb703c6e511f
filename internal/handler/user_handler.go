package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/playable/internal/middleware"
	"github.com/hitoshi/playable/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	UpdateProfile(ctx context.Context, userID, name, avatar string) error
	Deactivate(ctx context.Context, userID string) error
}

// UserHandler はアカウント管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// UpdateProfile は表示名とアバターを更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var body struct {
		Name   string `json:"name"`
		Avatar string `json:"avatar"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}

	if err := h.service.UpdateProfile(r.Context(), userID, body.Name, body.Avatar); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deactivate はアカウントを無効化する（退会）。
// DELETE /api/users/me
func (h *UserHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Deactivate(r.Context(), userID); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
