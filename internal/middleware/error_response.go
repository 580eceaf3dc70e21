package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/lensecho/internal/model"
)

// ErrorResponseBody はJSONエラーレスポンスの形式。
// 原因エラー（APIError.Cause）はログ専用のため含めない。
type ErrorResponseBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Category string            `json:"category"`
	Action   string            `json:"action"`
	Fields   map[string]string `json:"fields,omitempty"` // 入力欄ごとのメッセージ（422のみ）
}

func newErrorBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// WriteErrorResponse はAPIErrorを指定ステータスのJSONとして書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, newErrorBody(apiErr))
}

// WriteValidationErrorResponse は入力欄ごとのメッセージを付けて422を書き込む。
func WriteValidationErrorResponse(w http.ResponseWriter, fields map[string]string) {
	body := newErrorBody(model.NewValidationFailedError())
	body.Fields = fields
	writeJSON(w, http.StatusUnprocessableEntity, body)
}

// WriteInternalServerError は汎用の500を書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError(nil))
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
