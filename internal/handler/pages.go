package handler

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// pages は埋め込みテンプレートから生成したHTMLページ群。
var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// formField はフォームの入力欄1つ分の表示データ。
type formField struct {
	Name  string
	Label string
	Type  string
	Value string
	Error string
}

// formPage はサインアップ・サインイン画面の表示データ。
type formPage struct {
	Title     string
	CSRFToken string
	Fields    []formField
	Toast     string
}

// homePage はサインイン後のトップ画面の表示データ。
type homePage struct {
	Title     string
	CSRFToken string
	Name      string
	Email     string
	AvatarURL string
}

// renderPage はテンプレートを描画してステータスコードとともに書き込む。
// バッファへ描画し、成功した場合のみレスポンスに書き込む。
func renderPage(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// staticHandler は埋め込み静的ファイル（CSS・JS・ロゴ）を配信する。
func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
