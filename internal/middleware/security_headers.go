package middleware

import (
	"net/http"
	"strings"
)

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// imageOrigins はアバター画像の読み込みを許可するオリジン（バックエンドのエンドポイントなど）。
func NewSecurityHeadersMiddleware(imageOrigins ...string) func(next http.Handler) http.Handler {
	csp := contentSecurityPolicy(imageOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", csp)
			// 認証フォームとセッション情報をキャッシュさせない
			if r.URL.Path != "/health" && !strings.HasPrefix(r.URL.Path, "/static/") {
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func contentSecurityPolicy(imageOrigins []string) string {
	img := []string{"'self'", "data:"}
	for _, origin := range imageOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			img = append(img, origin)
		}
	}
	return "default-src 'self'; img-src " + strings.Join(img, " ") +
		"; form-action 'self'; frame-ancestors 'none'"
}
