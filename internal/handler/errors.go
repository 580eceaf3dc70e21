package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lensecho/internal/middleware"
	"github.com/hitoshi/lensecho/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Cause != nil {
			slog.Warn("request failed",
				slog.String("code", apiErr.Code),
				slog.String("error", apiErr.Cause.Error()),
			)
		}
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
// バックエンド起因の失敗はユーザーに区別せず見せるため、すべて502にまとめる。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeIdentityCreationFailed,
		model.ErrCodeAccountAlreadyExists,
		model.ErrCodeProfilePersistenceFailed,
		model.ErrCodeSessionCreationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// badRequestError はリクエストボディを解釈できない場合のエラーを生成する。
func badRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "The request body could not be parsed.",
		Category: "validation",
		Action:   "Send a valid JSON request body.",
	}
}
