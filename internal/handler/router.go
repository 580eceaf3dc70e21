package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/lensecho/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// サインアップ
	SignupController SignupController
	SessionStarter   SessionStarter

	// 認証
	AuthService         AuthServiceInterface
	CredentialValidator CredentialValidator
	Cookies             CookieConfig

	// アバター
	AvatarResolver AvatarResolver
	ImageOrigins   []string // CSPのimg-srcに追加するオリジン
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// 画面とAPIにはさらにCSRF → Session(任意)を適用し、
// サインアップ・サインインの送信にはRateLimit(Auth)を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.ImageOrigins...))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(deps.RateLimiter.GeneralMiddleware())

	signupHandler := NewSignupHandler(deps.SignupController, deps.SessionStarter, deps.Cookies)
	authHandler := NewAuthHandler(deps.AuthService, deps.CredentialValidator, deps.Cookies)
	homeHandler := NewHomeHandler(deps.AvatarResolver)
	avatarHandler := NewAvatarHandler()

	// --- セッション・CSRF不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Handle("/static/*", staticHandler())
	r.Get("/avatars/initials", avatarHandler.Initials)

	// --- 画面とAPI ---
	// ミドルウェアスタック: CSRF → Session(任意)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))

		authLimit := deps.RateLimiter.AuthMiddleware()

		r.Get("/", homeHandler.Show)

		r.Get("/sign-up", signupHandler.ShowForm)
		r.With(authLimit).Post("/sign-up", signupHandler.Submit)

		r.Get("/sign-in", authHandler.ShowSignIn)
		r.With(authLimit).Post("/sign-in", authHandler.SignIn)

		r.Route("/api", func(r chi.Router) {
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
			r.With(authLimit).Post("/signup", signupHandler.SubmitJSON)
			r.With(authLimit).Post("/signin", authHandler.SignInJSON)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/logout", authHandler.Logout)
			r.With(middleware.NewSessionMiddleware(deps.SessionFinder)).Get("/me", authHandler.Me)
		})
	})

	return r
}
