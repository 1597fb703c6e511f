package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/playable/internal/game"
	"github.com/hitoshi/playable/internal/middleware"
	"github.com/hitoshi/playable/internal/model"
)

// GameHandler は公開ゲームフィードのHTTPハンドラー。
type GameHandler struct {
	gameSvc *game.Service
}

// NewGameHandler はGameHandlerを生成する。
func NewGameHandler(gameSvc *game.Service) *GameHandler {
	return &GameHandler{gameSvc: gameSvc}
}

// gameSummary は一覧用のゲームメタデータ。HTML本体は含まない。
type gameSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AuthorName  string    `json:"authorName"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	Category    string    `json:"category"`
	Plays       int       `json:"plays"`
	IsOfficial  bool      `json:"isOfficial"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toGameSummary(g *model.PublishedGame) gameSummary {
	return gameSummary{
		ID:          g.ID,
		Title:       g.Title,
		Description: g.Description,
		AuthorName:  g.AuthorName,
		Thumbnail:   g.Thumbnail,
		Category:    string(g.Category),
		Plays:       g.Plays,
		IsOfficial:  g.IsOfficial,
		CreatedAt:   g.CreatedAt,
	}
}

// List は公開ゲームを新しい順に返す。
// GET /api/games?limit=n
func (h *GameHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	games, err := h.gameSvc.List(r.Context(), limit)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	summaries := make([]gameSummary, 0, len(games))
	for _, g := range games {
		summaries = append(summaries, toGameSummary(g))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"games": summaries})
}

// publishGameBody はPOST /api/gamesのリクエストボディ。
type publishGameBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	HTML        string `json:"html"`
	Thumbnail   string `json:"thumbnail"`
	Category    string `json:"category"`
	AuthorName  string `json:"authorName"`
}

// Publish はゲームをフィードに公開する。
// POST /api/games
func (h *GameHandler) Publish(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var body publishGameBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}

	g, err := h.gameSvc.Publish(r.Context(), userID, game.PublishRequest{
		Title:       body.Title,
		Description: body.Description,
		HTML:        body.HTML,
		Thumbnail:   body.Thumbnail,
		Category:    model.GameCategory(body.Category),
		AuthorName:  body.AuthorName,
	})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toGameSummary(g))
}

// Get は指定ゲームをHTML込みで返す。
// GET /api/games/{id}
func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.gameSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":          g.ID,
		"title":       g.Title,
		"description": g.Description,
		"authorName":  g.AuthorName,
		"html":        g.HTML,
		"category":    string(g.Category),
		"plays":       g.Plays,
		"createdAt":   g.CreatedAt,
	})
}

// RecordPlay はプレイ回数を1増やす。
// POST /api/games/{id}/plays
func (h *GameHandler) RecordPlay(w http.ResponseWriter, r *http.Request) {
	if err := h.gameSvc.RecordPlay(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Leaderboard は上位スコアを返す。
// GET /api/games/{id}/leaderboard
func (h *GameHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.gameSvc.Leaderboard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	type entryResponse struct {
		PlayerName string    `json:"playerName"`
		Score      int       `json:"score"`
		CreatedAt  time.Time `json:"createdAt"`
	}
	items := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryResponse{PlayerName: e.PlayerName, Score: e.Score, CreatedAt: e.CreatedAt})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"entries": items})
}

// SubmitScore はスコアボードにスコアを登録する。
// POST /api/games/{id}/leaderboard
func (h *GameHandler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlayerName string `json:"playerName"`
		Score      int    `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}

	// スコア登録自体はログイン不要。ログイン済みならユーザーを紐付ける。
	userID, _ := middleware.UserIDFromContext(r.Context())

	if err := h.gameSvc.SubmitScore(r.Context(), chi.URLParam(r, "id"), body.PlayerName, body.Score, userID); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// RecordHistory はユーザーのプレイ履歴を記録する。
// POST /api/games/{id}/play-history
func (h *GameHandler) RecordHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.gameSvc.RecordHistory(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History はユーザーが最近プレイしたゲームを返す。
// GET /api/games/play-history
func (h *GameHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	games, err := h.gameSvc.History(r.Context(), userID, limit)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	summaries := make([]gameSummary, 0, len(games))
	for _, g := range games {
		summaries = append(summaries, toGameSummary(g))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"games": summaries})
}

// ToggleSave は保存済みライブラリへの追加/削除を切り替える。
// POST /api/games/{id}/save
func (h *GameHandler) ToggleSave(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	saved, err := h.gameSvc.ToggleSave(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"saved": saved})
}

// SavedIDs は保存済みゲームIDの一覧を返す。
// GET /api/games/saved
func (h *GameHandler) SavedIDs(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	ids, err := h.gameSvc.SavedIDs(r.Context(), userID)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"gameIds": ids})
}
