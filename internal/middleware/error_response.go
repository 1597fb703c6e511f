package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/playable/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Category string         `json:"category"`
	Action   string         `json:"action"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Meta:     apiErr.Meta,
	})
}

// WriteAPIError はエラーをAPIErrorとして書き込む。
// APIError以外のエラーは詳細を隠し500として扱う。
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, StatusForErrorCode(apiErr.Code), apiErr)
}

// StatusForErrorCode はエラーコードに対応するHTTPステータスコードを返す。
func StatusForErrorCode(code string) int {
	switch code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeTierLimit:
		return http.StatusForbidden
	case model.ErrCodeInsufficientCredits, model.ErrCodePaymentFailed:
		return http.StatusPaymentRequired
	case model.ErrCodeSessionNotFound, model.ErrCodeVersionNotFound, model.ErrCodeGameNotFound:
		return http.StatusNotFound
	case model.ErrCodeGeneratorUnavailable, model.ErrCodeMalformedOutput:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
