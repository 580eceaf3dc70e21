package handler

import (
	"fmt"
	"hash/fnv"
	"html"
	"net/http"
	"strings"
	"unicode"
)

// avatarPalette はアバター背景色の候補。名前のハッシュで選択する。
var avatarPalette = []string{
	"#877eff", "#ff5a5a", "#3fb68b", "#ffb620", "#5c9cff", "#e05ccf", "#2bb5c9", "#8f6b4a",
}

// AvatarHandler はイニシャルアバター画像（SVG）を生成するハンドラー。
// PostgreSQLバックエンド利用時のAvatarInitialsURLの配信先となる。
type AvatarHandler struct{}

// NewAvatarHandler はAvatarHandlerを生成する。
func NewAvatarHandler() *AvatarHandler {
	return &AvatarHandler{}
}

// Initials は名前のイニシャルをSVGで返す。
// GET /avatars/initials?name=Ana+Lee
func (h *AvatarHandler) Initials(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	initials := Initials(name)

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	fmt.Fprintf(w,
		`<svg xmlns="http://www.w3.org/2000/svg" width="128" height="128" viewBox="0 0 128 128">`+
			`<rect width="128" height="128" fill="%s"/>`+
			`<text x="50%%" y="50%%" dy=".35em" text-anchor="middle" fill="#ffffff" font-family="Inter, sans-serif" font-size="52" font-weight="600">%s</text>`+
			`</svg>`,
		avatarColor(name), html.EscapeString(initials),
	)
}

// Initials は名前の先頭2語の頭文字を大文字で返す。名前が空の場合は"?"を返す。
func Initials(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return "?"
	}

	letters := make([]rune, 0, 2)
	for _, word := range words {
		if len(letters) == 2 {
			break
		}
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				letters = append(letters, unicode.ToUpper(r))
				break
			}
		}
	}
	if len(letters) == 0 {
		return "?"
	}
	return string(letters)
}

func avatarColor(name string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return avatarPalette[h.Sum32()%uint32(len(avatarPalette))]
}
