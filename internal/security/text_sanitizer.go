// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はイベント名や説明文などのユーザー入力からHTMLを取り除き、
// 通知メッセージやWebSocket配信にマークアップが混入しないようにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	// Sanitize は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 文字参照はデコードされるため、戻り値はHTMLとして埋め込む前にエスケープが必要。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyは並行利用に対して安全。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
