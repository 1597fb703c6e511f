package generate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hitoshi/playable/internal/model"
)

// GamePayload は生成バックエンドが返すJSON出力。
type GamePayload struct {
	Message              string `json:"message"`
	HTML                 string `json:"html"`
	SuggestedTitle       string `json:"suggestedTitle"`
	SuggestedDescription string `json:"suggestedDescription"`
}

var (
	codeFenceRe     = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
	tripleSlashRe   = regexp.MustCompile(`\\\\\\`)
	invalidEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// normalizeOutput はモデル出力の定番の装飾ミスを除去する。
// BOM、コードフェンス、JSONオブジェクト外のテキスト、既知のエスケープミス。
func normalizeOutput(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "\uFEFF")

	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}

	// 最外のJSONオブジェクトだけを残す
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}

	// 三重バックスラッシュは単一に潰す
	s = tripleSlashRe.ReplaceAllString(s, `\`)
	// JSONとして不正なエスケープはバックスラッシュ自体をエスケープする
	s = invalidEscapeRe.ReplaceAllString(s, `\\$1`)

	return s
}

// repairOutput は1回だけ許される修復パス。制御文字の除去、改行コードの
// 正規化、末尾カンマの削除を行う。
func repairOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()

	return trailingCommaRe.ReplaceAllString(s, "$1")
}

// ParseGameOutput は生の生成出力を解析してGamePayloadを返す。
// 正規化してから解析し、失敗した場合は修復パスを1回だけ試す。
// それでも解析できない、またはHTMLが空の場合はMALFORMED_OUTPUTで
// 失敗する。部分的な成果物を返すことはない。
func ParseGameOutput(raw string) (*GamePayload, error) {
	normalized := normalizeOutput(raw)

	payload := &GamePayload{}
	if err := json.Unmarshal([]byte(normalized), payload); err != nil {
		repaired := repairOutput(normalized)
		payload = &GamePayload{}
		if err := json.Unmarshal([]byte(repaired), payload); err != nil {
			return nil, model.NewMalformedOutputError()
		}
	}

	if strings.TrimSpace(payload.HTML) == "" {
		return nil, model.NewMalformedOutputError()
	}

	return payload, nil
}

// TruncateForLog はログ用に生出力を切り詰める。成果物やユーザーへの
// 応答には決して使わない。
func TruncateForLog(raw string, max int) string {
	if len(raw) <= max {
		return raw
	}
	return raw[:max] + "...(truncated)"
}
