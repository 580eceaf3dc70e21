package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/lensecho/internal/middleware"
	"github.com/hitoshi/lensecho/internal/model"
	"github.com/hitoshi/lensecho/internal/signup"
)

// --- モック定義 ---

type mockAuthService struct {
	signInFn func(ctx context.Context, creds model.Credentials) (*model.BrowserSession, error)
	logoutFn func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) SignIn(ctx context.Context, creds model.Credentials) (*model.BrowserSession, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, creds)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func newTestAuthHandler(svc *mockAuthService) *AuthHandler {
	return NewAuthHandler(svc, signup.NewSchema(nil), testCookies)
}

// --- GET /sign-in ---

func TestAuthHandler_ShowSignIn(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	h.ShowSignIn(w, httptest.NewRequest(http.MethodGet, "/sign-in", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	doc := parsePage(t, w.Body)
	got := inputTypes(doc)
	if got["email"] != "email" || got["password"] != "password" || len(got) != 2 {
		t.Errorf("inputs = %v, want email and password", got)
	}
	if link := findFirst(doc, byAttr("href", "/sign-up")); link == nil || textContent(link) != "Sign Up" {
		t.Error("'Sign Up' link to /sign-up not found")
	}
}

// --- POST /sign-in ---

func TestAuthHandler_SignIn_Success(t *testing.T) {
	var gotCreds model.Credentials
	svc := &mockAuthService{
		signInFn: func(ctx context.Context, creds model.Credentials) (*model.BrowserSession, error) {
			gotCreds = creds
			return &model.BrowserSession{ID: "browser-session-2", AccountID: "acc-1", Email: creds.Email}, nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.SignIn(w, newFormRequest("/sign-in", url.Values{
		"email":    {"  Ana@Example.com "},
		"password": {"Secret123"},
	}))

	resp := w.Result()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want %q", loc, "/")
	}
	cookie := findCookie(resp, middleware.SessionCookieName)
	if cookie == nil || cookie.Value != "browser-session-2" {
		t.Fatalf("session cookie = %v", cookie)
	}
	// メールアドレスは正規化されて渡される
	if gotCreds.Email != "ana@example.com" {
		t.Errorf("email = %q, want %q", gotCreds.Email, "ana@example.com")
	}
}

func TestAuthHandler_SignIn_ValidationError(t *testing.T) {
	svc := &mockAuthService{
		signInFn: func(ctx context.Context, creds model.Credentials) (*model.BrowserSession, error) {
			t.Fatal("SignIn should not be called")
			return nil, nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.SignIn(w, newFormRequest("/sign-in", url.Values{"email": {"not-an-email"}}))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	doc := parsePage(t, w.Body)
	if msg := findFirst(doc, byAttr("id", "email-error")); msg == nil || textContent(msg) != "Invalid email address." {
		t.Error("email error message not rendered")
	}
	if msg := findFirst(doc, byAttr("id", "password-error")); msg == nil || textContent(msg) != "This field is required." {
		t.Error("password error message not rendered")
	}
	if got := inputValue(doc, "email"); got != "not-an-email" {
		t.Errorf("email value = %q, want %q", got, "not-an-email")
	}
}

func TestAuthHandler_SignIn_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantToast  string
	}{
		{
			name:       "invalid credentials",
			err:        model.NewInvalidCredentialsError(errors.New("401")),
			wantStatus: http.StatusUnauthorized,
			wantToast:  "Invalid email or password.",
		},
		{
			name:       "backend unavailable",
			err:        model.NewSessionCreationFailedError(errors.New("503")),
			wantStatus: http.StatusBadGateway,
			wantToast:  "Sign in failed. please try again!",
		},
		{
			name:       "unexpected error",
			err:        errors.New("db down"),
			wantStatus: http.StatusInternalServerError,
			wantToast:  "Sign in failed. please try again!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				signInFn: func(ctx context.Context, creds model.Credentials) (*model.BrowserSession, error) {
					return nil, tt.err
				},
			}
			h := newTestAuthHandler(svc)

			w := httptest.NewRecorder()
			h.SignIn(w, newFormRequest("/sign-in", url.Values{
				"email":    {"ana@example.com"},
				"password": {"wrong-password"},
			}))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if findCookie(w.Result(), middleware.SessionCookieName) != nil {
				t.Error("session cookie should not be set")
			}
			doc := parsePage(t, w.Body)
			toast := findFirst(doc, byAttr("role", "alert"))
			if toast == nil || textContent(toast) != tt.wantToast {
				t.Errorf("toast = %v, want %q", toast, tt.wantToast)
			}
			if got := inputValue(doc, "password"); got != "" {
				t.Errorf("password value = %q, want empty", got)
			}
		})
	}
}

// --- POST /api/signin ---

func TestAuthHandler_SignInJSON(t *testing.T) {
	svc := &mockAuthService{
		signInFn: func(ctx context.Context, creds model.Credentials) (*model.BrowserSession, error) {
			if creds.Password != "Secret123" {
				return nil, model.NewInvalidCredentialsError(nil)
			}
			return &model.BrowserSession{ID: "browser-session-3", AccountID: "acc-1", Email: creds.Email}, nil
		},
	}
	h := newTestAuthHandler(svc)

	t.Run("success", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.SignInJSON(w, newJSONRequest("/api/signin", map[string]string{
			"email": "ana@example.com", "password": "Secret123",
		}))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body["account_id"] != "acc-1" || body["email"] != "ana@example.com" {
			t.Errorf("body = %v", body)
		}
		if findCookie(w.Result(), middleware.SessionCookieName) == nil {
			t.Error("session cookie not set")
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.SignInJSON(w, newJSONRequest("/api/signin", map[string]string{
			"email": "ana@example.com", "password": "wrong",
		}))

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		var body middleware.ErrorResponseBody
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body.Code != model.ErrCodeInvalidCredentials {
			t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCredentials)
		}
	})

	t.Run("validation error", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.SignInJSON(w, newJSONRequest("/api/signin", map[string]string{"email": ""}))

		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.SignInJSON(w, httptest.NewRequest(http.MethodPost, "/api/signin", strings.NewReader("[")))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// --- POST /auth/logout ---

func TestAuthHandler_Logout(t *testing.T) {
	var loggedOut string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "browser-session-1"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/sign-in" {
		t.Errorf("Location = %q, want %q", loc, "/sign-in")
	}
	if loggedOut != "browser-session-1" {
		t.Errorf("Logout(%q), want %q", loggedOut, "browser-session-1")
	}
	cookie := findCookie(w.Result(), middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %v", cookie)
	}
}

func TestAuthHandler_Logout_ServiceErrorStillClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			return errors.New("db down")
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "browser-session-1"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if cookie := findCookie(w.Result(), middleware.SessionCookieName); cookie == nil || cookie.MaxAge >= 0 {
		t.Error("session cookie should be cleared even when logout fails")
	}
}

// --- GET /auth/me ---

func TestAuthHandler_Me(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})
	expires := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.ContextWithSession(req.Context(), &model.BrowserSession{
		ID: "s", AccountID: "acc-1", Email: "ana@example.com", Name: "Ana Lee", ExpiresAt: expires,
	}))
	w := httptest.NewRecorder()
	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		AccountID string    `json:"account_id"`
		Email     string    `json:"email"`
		Name      string    `json:"name"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.AccountID != "acc-1" || body.Name != "Ana Lee" || !body.ExpiresAt.Equal(expires) {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthHandler_Me_NoSession(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
