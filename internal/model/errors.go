// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, backend, system
	Action   string // ユーザー向け対処方法
	Cause    error  // ログ用の原因エラー（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed         = "VALIDATION_FAILED"
	ErrCodeIdentityCreationFailed   = "IDENTITY_CREATION_FAILED"
	ErrCodeAccountAlreadyExists     = "ACCOUNT_ALREADY_EXISTS"
	ErrCodeProfilePersistenceFailed = "PROFILE_PERSISTENCE_FAILED"
	ErrCodeSessionCreationFailed    = "SESSION_CREATION_FAILED"
	ErrCodeInvalidCredentials       = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized             = "UNAUTHORIZED"
	ErrCodeCSRFTokenInvalid         = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited              = "RATE_LIMITED"
	ErrCodeInternal                 = "INTERNAL_ERROR"
)

// SignupFailedMessage はリモート処理の失敗時にユーザーへ表示する共通メッセージ。
// 失敗原因（identity作成・プロフィール保存・セッション作成）はユーザーには区別して見せない。
const SignupFailedMessage = "Sign up failed. please try again!"

// NewValidationFailedError は入力検証エラーを生成する。
func NewValidationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "Some fields are invalid.",
		Category: "validation",
		Action:   "Fix the highlighted fields and submit again.",
	}
}

// NewIdentityCreationFailedError はバックエンドでのアカウント作成失敗エラーを生成する。
func NewIdentityCreationFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityCreationFailed,
		Message:  SignupFailedMessage,
		Category: "backend",
		Action:   "Wait a moment and try again.",
		Cause:    cause,
	}
}

// NewAccountAlreadyExistsError は同じメールアドレスのアカウントが既に存在する場合のエラーを生成する。
func NewAccountAlreadyExistsError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeAccountAlreadyExists,
		Message:  SignupFailedMessage,
		Category: "backend",
		Action:   "Log in with your existing account.",
		Cause:    cause,
	}
}

// NewProfilePersistenceFailedError はプロフィールドキュメントの保存失敗エラーを生成する。
func NewProfilePersistenceFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeProfilePersistenceFailed,
		Message:  SignupFailedMessage,
		Category: "backend",
		Action:   "Wait a moment and try again.",
		Cause:    cause,
	}
}

// NewSessionCreationFailedError はセッション作成失敗エラーを生成する。
// サインアップ直後のサインイン失敗ではアカウントは作成済みのまま残る。
func NewSessionCreationFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeSessionCreationFailed,
		Message:  SignupFailedMessage,
		Category: "backend",
		Action:   "Your account may already exist. Try logging in.",
		Cause:    cause,
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが誤っている場合のエラーを生成する。
func NewInvalidCredentialsError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your email and password.",
		Cause:    cause,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Log in and try again.",
	}
}

// NewCSRFTokenInvalidError はCSRFトークンの欠落・不一致エラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "Your form has expired.",
		Category: "auth",
		Action:   "Reload the page and submit again.",
	}
}

// NewRateLimitedError は送信回数の上限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Wait a moment before submitting again.",
	}
}

// NewInternalError は想定外の内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Wait a moment and try again.",
		Cause:    cause,
	}
}
