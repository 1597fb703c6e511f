// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はモデルが提案するタイトル・説明文や、
// スコアボードに書き込まれるプレイヤー名をサニタイズし、
// XSS攻撃などのセキュリティリスクからユーザーを保護する。
// bluemondayライブラリのStrictPolicy（全タグ除去）を使用する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキストのサニタイズ機能のインターフェースを定義する。
// 生成出力のタイトル・説明文の保存前、およびスコア投稿時に使用される。
type TextSanitizerService interface {
	// Sanitize は入力から全HTMLタグを除去したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string

	// SanitizeWithin はSanitizeの結果をmaxRunes文字に切り詰めて返す。
	SanitizeWithin(raw string, maxRunes int) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは全ての要素と属性を除去し、テキストノードだけを残す。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力から全HTMLタグを除去して返す。
func (s *textSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// SanitizeWithin はサニタイズ後のテキストをmaxRunes文字で切り詰める。
func (s *textSanitizer) SanitizeWithin(raw string, maxRunes int) string {
	clean := s.Sanitize(raw)
	runes := []rune(clean)
	if len(runes) <= maxRunes {
		return clean
	}
	return string(runes[:maxRunes])
}
