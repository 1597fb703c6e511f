package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/playable/internal/middleware"
	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/version"
)

// VersionHandler は世代履歴のHTTPハンドラー。
type VersionHandler struct {
	versionSvc *version.Service
}

// NewVersionHandler はVersionHandlerを生成する。
func NewVersionHandler(versionSvc *version.Service) *VersionHandler {
	return &VersionHandler{versionSvc: versionSvc}
}

// versionSummary は一覧用の世代メタデータ。HTML本体は含まない。
type versionSummary struct {
	VersionNumber int       `json:"versionNumber"`
	Prompt        string    `json:"prompt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// List はセッションの世代履歴をメタデータのみ新しい順で返す。
// GET /api/sessions/{id}/versions
func (h *VersionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	versions, err := h.versionSvc.List(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	summaries := make([]versionSummary, 0, len(versions))
	for _, v := range versions {
		summaries = append(summaries, versionSummary{
			VersionNumber: v.VersionNumber,
			Prompt:        v.Prompt,
			CreatedAt:     v.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"versions": summaries})
}

// Get は指定世代をHTML込みで返す（restore用）。
// GET /api/sessions/{id}/versions/{num}
func (h *VersionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	sessionID := chi.URLParam(r, "id")
	num, err := strconv.Atoi(chi.URLParam(r, "num"))
	if err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("version number must be an integer"))
		return
	}

	v, err := h.versionSvc.Get(r.Context(), userID, sessionID, num)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"versionNumber": v.VersionNumber,
		"html":          v.HTML,
		"prompt":        v.Prompt,
		"createdAt":     v.CreatedAt,
	})
}
