package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Error はバックエンドが返した非2xxレスポンスを表す。
// レスポンスボディの {message, code, type} をデコードしたもの。
type Error struct {
	StatusCode int
	Type       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("backend: status %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("backend: status %d: %s", e.StatusCode, e.Message)
}

// IsConflict は既に同じリソースが存在することを示すエラーかを判定する。
func IsConflict(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.StatusCode == http.StatusConflict
}

// IsUnauthorized は認証情報が誤っていることを示すエラーかを判定する。
func IsUnauthorized(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.StatusCode == http.StatusUnauthorized
}
