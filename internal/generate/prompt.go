package generate

import "fmt"

// systemInstruction はモデルの出力契約を固定するシステム指示。
// 出力は単一のJSONオブジェクトに限定し、HTMLは外部依存のない
// 単一ファイルのプレイアブルなゲームであることを要求する。
const systemInstruction = `You are an expert HTML5 game developer. You build complete, playable browser games as a single self-contained HTML file.

Rules:
- Respond with a single JSON object and nothing else. No markdown, no code fences, no commentary outside the JSON.
- The JSON object has exactly these keys:
  - "message": a short, friendly sentence describing what you built or changed.
  - "html": the complete HTML document as one string. It must start with <!DOCTYPE html> and contain all CSS and JavaScript inline. No external resources, no network calls.
  - "suggestedTitle": a short catchy title for the game.
  - "suggestedDescription": one sentence describing the game.
- The game must be immediately playable with keyboard, mouse or touch. Include clear on-screen instructions.
- Render inside the full viewport. Use a <canvas> or DOM elements, your choice.
- Never truncate the HTML. Always return the whole document.`

// iterationPromptFormat は反復生成用の合成プロンプト。
// 既存の成果物全体を再提示し、差分ではなく完全な置き換えを要求する。
const iterationPromptFormat = `Here is the current version of the game:

%s

Apply this change: %s

Return the complete updated HTML document. Do not return a diff or a fragment; every part of the game, changed or not, must be present in the "html" field.`

// expectedOutputBytes は進捗率の分母に使う出力サイズの目安。
const expectedOutputBytes = 5000

// NewGamePrompt は新規生成用のプロンプトを返す。
func NewGamePrompt(userPrompt string) string {
	return userPrompt
}

// IterationPrompt は既存HTMLを添えた反復生成用のプロンプトを返す。
func IterationPrompt(existingHTML, userPrompt string) string {
	return fmt.Sprintf(iterationPromptFormat, existingHTML, userPrompt)
}

// SystemInstruction は生成に使うシステム指示を返す。
func SystemInstruction() string {
	return systemInstruction
}

// progressPercent は受信済みバイト数から進捗率（0-100）を概算する。
// 出力サイズは事前に分からないため目安との比で近似し、100で頭打ちにする。
func progressPercent(totalBytes int) int {
	p := totalBytes * 100 / expectedOutputBytes
	if p > 100 {
		p = 100
	}
	return p
}
