// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はフォームから受け取ったプレーンテキストからマークアップを除去する。
// bluemondayのStrictPolicyを使用し、全てのタグを取り除いたテキストのみを残す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト入力のサニタイズ機能のインターフェース。
// 名前やユーザー名など、HTMLを含むべきでないフィールドに使用する。
type TextSanitizer interface {
	// SanitizeText は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 文字実体参照は元の文字に戻す（出力時のエスケープはテンプレート側で行う）。
	// 同一入力に対して常に同一出力を返す。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText は全てのタグを除去したテキストを返す。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
