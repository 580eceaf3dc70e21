// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lensecho/internal/auth"
	"github.com/hitoshi/lensecho/internal/middleware"
	"github.com/hitoshi/lensecho/internal/model"
	"github.com/hitoshi/lensecho/internal/signup"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, creds model.Credentials) (*model.BrowserSession, error)
	Logout(ctx context.Context, sessionID string) error
}

var _ AuthServiceInterface = (*auth.Service)(nil)

// CredentialValidator はサインイン入力の検証インターフェース。
type CredentialValidator interface {
	ValidateSignIn(in signup.SignInInput) (signup.SignInInput, error)
}

var _ CredentialValidator = (*signup.Schema)(nil)

// AuthHandler はサインイン・ログアウト・ログインユーザー情報のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	validator CredentialValidator
	cookies   CookieConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, validator CredentialValidator, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		validator: validator,
		cookies:   cookies,
	}
}

// signInRequest はサインインAPIのリクエストボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ShowSignIn はサインインフォームを表示する。
// GET /sign-in
func (h *AuthHandler) ShowSignIn(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.SessionFromContext(r.Context()); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	renderPage(w, http.StatusOK, "sign_in.html", signInPage(r, "", nil, ""))
}

// SignIn はサインインフォームの送信を処理する。
// POST /sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	in, err := h.validator.ValidateSignIn(signup.SignInInput{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	})
	if err != nil {
		if fields, ok := validationFields(err); ok {
			renderPage(w, http.StatusUnprocessableEntity, "sign_in.html", signInPage(r, in.Email, fields, ""))
			return
		}
		slog.Error("sign-in validation failed", slog.String("error", err.Error()))
		renderPage(w, http.StatusInternalServerError, "sign_in.html", signInPage(r, in.Email, nil, signInFailedMessage))
		return
	}

	session, err := h.service.SignIn(r.Context(), model.Credentials{Email: in.Email, Password: in.Password})
	if err != nil {
		status, message := signInFailure(err)
		renderPage(w, status, "sign_in.html", signInPage(r, in.Email, nil, message))
		return
	}

	setSessionCookie(w, h.cookies, session.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SignInJSON はJSONでのサインインを処理する。
// POST /api/signin
func (h *AuthHandler) SignInJSON(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, badRequestError())
		return
	}

	in, err := h.validator.ValidateSignIn(signup.SignInInput{Email: req.Email, Password: req.Password})
	if err != nil {
		if fields, ok := validationFields(err); ok {
			middleware.WriteValidationErrorResponse(w, fields)
			return
		}
		handleServiceError(w, err)
		return
	}

	session, err := h.service.SignIn(r.Context(), model.Credentials{Email: in.Email, Password: in.Password})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	setSessionCookie(w, h.cookies, session.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"account_id": session.AccountID,
		"email":      session.Email,
	})
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	clearSessionCookie(w, h.cookies)
	http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
// セッションミドルウェアの内側に配置する。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"account_id": session.AccountID,
		"email":      session.Email,
		"name":       session.Name,
		"expires_at": session.ExpiresAt,
	})
}

// signInFailedMessage は認証情報以外の理由でサインインに失敗した場合の表示メッセージ。
const signInFailedMessage = "Sign in failed. please try again!"

// signInFailure はサインイン失敗時のステータスコードと表示メッセージを返す。
func signInFailure(err error) (int, string) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		slog.Warn("sign-in failed",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
		if apiErr.Code == model.ErrCodeInvalidCredentials {
			return http.StatusUnauthorized, apiErr.Message
		}
		return mapAPIErrorToHTTPStatus(apiErr), signInFailedMessage
	}
	slog.Error("sign-in failed", slog.String("error", err.Error()))
	return http.StatusInternalServerError, signInFailedMessage
}

func signInPage(r *http.Request, email string, fields signup.FieldErrors, toast string) formPage {
	return formPage{
		Title:     "Log In",
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Fields: []formField{
			{Name: "email", Label: "Email", Type: "email", Value: email, Error: fields["email"]},
			{Name: "password", Label: "Password", Type: "password", Error: fields["password"]},
		},
		Toast: toast,
	}
}
