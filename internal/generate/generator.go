// Package generate はゲーム生成のオーケストレーションを提供する。
// 検証、生成呼び出し、出力の解析、課金と永続化までを一つの流れとして扱う。
package generate

import (
	"context"

	"github.com/hitoshi/playable/internal/model"
)

// GenRequest は生成バックエンドへの1回分のリクエスト。
type GenRequest struct {
	// SystemInstruction はモデルの役割と出力形式を固定するシステム指示。
	SystemInstruction string
	// History は過去のやり取り。古い順。
	History []model.Message
	// Prompt は今回のユーザー指示（反復の場合は既存HTMLを含む合成プロンプト）。
	Prompt string
}

// Generator は生成バックエンドのインターフェース。
// GenerateStreamは受信した累計バイト数をonDeltaに通知しながら
// 完全な生の出力を返す。部分出力は返さない。
type Generator interface {
	GenerateStream(ctx context.Context, req GenRequest, onDelta func(totalBytes int)) (string, error)
	// Generate はストリーミングなしの一括生成。タイトル提案など短い補助生成に使う。
	Generate(ctx context.Context, req GenRequest) (string, error)
}
