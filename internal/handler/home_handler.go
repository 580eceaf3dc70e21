package handler

import (
	"net/http"

	"github.com/hitoshi/lensecho/internal/account"
	"github.com/hitoshi/lensecho/internal/middleware"
)

// AvatarResolver は名前からアバター画像URLを導出するインターフェース。
type AvatarResolver interface {
	AvatarInitialsURL(name string) string
}

var _ AvatarResolver = (account.Backend)(nil)

// HomeHandler はサインイン後のトップ画面を表示する。
type HomeHandler struct {
	avatars AvatarResolver
}

// NewHomeHandler はHomeHandlerを生成する。
func NewHomeHandler(avatars AvatarResolver) *HomeHandler {
	return &HomeHandler{avatars: avatars}
}

// Show はトップ画面を表示する。未ログインの場合はサインアップ画面へリダイレクトする。
// GET /
func (h *HomeHandler) Show(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/sign-up", http.StatusSeeOther)
		return
	}

	name := session.Name
	if name == "" {
		name = session.Email
	}

	renderPage(w, http.StatusOK, "home.html", homePage{
		Title:     "Home",
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Name:      name,
		Email:     session.Email,
		AvatarURL: h.avatars.AvatarInitialsURL(name),
	})
}
