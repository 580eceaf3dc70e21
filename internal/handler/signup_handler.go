package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/lensecho/internal/auth"
	"github.com/hitoshi/lensecho/internal/middleware"
	"github.com/hitoshi/lensecho/internal/model"
	"github.com/hitoshi/lensecho/internal/signup"
)

// SignupController はサインアップハンドラーが必要とするフォームコントローラーのインターフェース。
type SignupController interface {
	Submit(ctx context.Context, in signup.Input) (*signup.Result, error)
}

var _ SignupController = (*signup.Controller)(nil)

// SessionStarter はバックエンドセッションからブラウザセッションを発行するインターフェース。
type SessionStarter interface {
	StartSession(ctx context.Context, backendSession *model.Session, email, name string) (*model.BrowserSession, error)
}

var _ SessionStarter = (*auth.Service)(nil)

// CookieConfig はセッションCookieの設定。
type CookieConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// SignupHandler はサインアップ画面とサインアップAPIのHTTPハンドラー。
type SignupHandler struct {
	controller SignupController
	sessions   SessionStarter
	cookies    CookieConfig
}

// NewSignupHandler はSignupHandlerを生成する。
func NewSignupHandler(controller SignupController, sessions SessionStarter, cookies CookieConfig) *SignupHandler {
	return &SignupHandler{
		controller: controller,
		sessions:   sessions,
		cookies:    cookies,
	}
}

// signupRequest はサインアップAPIのリクエストボディ。
type signupRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// profileResponse はプロフィール情報のAPIレスポンス。
type profileResponse struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	Username  string    `json:"username,omitempty"`
	Email     string    `json:"email"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

// ShowForm はサインアップフォームを表示する。
// GET /sign-up
func (h *SignupHandler) ShowForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.SessionFromContext(r.Context()); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	renderPage(w, http.StatusOK, "sign_up.html", h.formPage(r, signup.Input{}, nil, ""))
}

// Submit はフォーム送信を処理する。
// POST /sign-up
// 検証エラーは422、リモート処理の失敗は502でフォームを再表示し、
// 成功時はセッションCookieを設定してトップへリダイレクトする。
func (h *SignupHandler) Submit(w http.ResponseWriter, r *http.Request) {
	in := signup.Input{
		Name:     r.PostFormValue("name"),
		Username: r.PostFormValue("username"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}

	result, err := h.controller.Submit(r.Context(), in)
	if err != nil {
		if fields, ok := validationFields(err); ok {
			renderPage(w, http.StatusUnprocessableEntity, "sign_up.html", h.formPage(r, in, fields, ""))
			return
		}
		slog.Error("signup submission failed", slog.String("error", err.Error()))
		renderPage(w, http.StatusInternalServerError, "sign_up.html", h.formPage(r, in, nil, model.SignupFailedMessage))
		return
	}

	if result.Failed() {
		logSignupFailure(result)
		renderPage(w, http.StatusBadGateway, "sign_up.html", h.formPage(r, in, nil, result.Notification))
		return
	}

	if !h.startSession(w, r, result) {
		renderPage(w, http.StatusBadGateway, "sign_up.html", h.formPage(r, in, nil, model.SignupFailedMessage))
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SubmitJSON はJSONでのサインアップを処理する。
// POST /api/signup
func (h *SignupHandler) SubmitJSON(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, badRequestError())
		return
	}

	result, err := h.controller.Submit(r.Context(), signup.Input{
		Name:     req.Name,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if fields, ok := validationFields(err); ok {
			middleware.WriteValidationErrorResponse(w, fields)
			return
		}
		handleServiceError(w, err)
		return
	}

	if result.Failed() {
		logSignupFailure(result)
		handleServiceError(w, signupFailureError(result))
		return
	}

	if !h.startSession(w, r, result) {
		handleServiceError(w, model.NewSessionCreationFailedError(nil))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"profile": toProfileResponse(result.Profile),
	})
}

// startSession はサインインで得たバックエンドセッションからブラウザセッションを発行し、Cookieを設定する。
func (h *SignupHandler) startSession(w http.ResponseWriter, r *http.Request, result *signup.Result) bool {
	session, err := h.sessions.StartSession(r.Context(), result.Session, result.Profile.Email, result.Profile.Name)
	if err != nil {
		slog.Error("failed to start browser session",
			slog.String("account_id", result.Profile.AccountID),
			slog.String("error", err.Error()),
		)
		return false
	}
	setSessionCookie(w, h.cookies, session.ID)
	return true
}

func (h *SignupHandler) formPage(r *http.Request, in signup.Input, fields signup.FieldErrors, toast string) formPage {
	return formPage{
		Title:     "Sign Up",
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Fields: []formField{
			{Name: "name", Label: "Name", Type: "text", Value: in.Name, Error: fields["name"]},
			{Name: "username", Label: "Username", Type: "text", Value: in.Username, Error: fields["username"]},
			{Name: "email", Label: "Email", Type: "email", Value: in.Email, Error: fields["email"]},
			// パスワードは再表示しない
			{Name: "password", Label: "Password", Type: "password", Error: fields["password"]},
		},
		Toast: toast,
	}
}

// signupFailureError はリモート処理の失敗結果をAPIErrorに変換する。
func signupFailureError(result *signup.Result) error {
	if result.Err != nil {
		return result.Err
	}
	return model.NewIdentityCreationFailedError(nil)
}

func logSignupFailure(result *signup.Result) {
	attrs := []any{
		slog.String("stage", string(result.Stage)),
		slog.String("code", result.Code),
	}
	if result.Err != nil {
		attrs = append(attrs, slog.String("error", result.Err.Error()))
	}
	slog.Warn("signup failed", attrs...)
}

func validationFields(err error) (signup.FieldErrors, bool) {
	var verr *signup.ValidationError
	if !errors.As(err, &verr) {
		return nil, false
	}
	return verr.Fields, true
}

func toProfileResponse(p *model.ProfileRecord) profileResponse {
	return profileResponse{
		ID:        p.DocumentID,
		AccountID: p.AccountID,
		Name:      p.Name,
		Username:  p.Username,
		Email:     p.Email,
		ImageURL:  p.ImageURL,
		CreatedAt: p.CreatedAt,
	}
}

// setSessionCookie はHTTP OnlyのセッションCookieを設定する。
func setSessionCookie(w http.ResponseWriter, cfg CookieConfig, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func clearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
