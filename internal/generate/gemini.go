package generate

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/hitoshi/playable/internal/model"
)

// GeminiGenerator はGemini APIを使用するGenerator実装。
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator はGeminiGeneratorを生成する。
// modelNameは使用するモデルID（例: "gemini-2.5-flash"）。
func NewGeminiGenerator(ctx context.Context, apiKey, modelName string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: modelName}, nil
}

func buildContents(history []model.Message, prompt string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		var role genai.Role = genai.RoleUser
		if msg.Role == model.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
	return contents
}

func (g *GeminiGenerator) config(req GenRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	return cfg
}

// GenerateStream はストリーミングで生成し、完全な出力を返す。
// onDeltaには受信済みの累計バイト数を渡す。
func (g *GeminiGenerator) GenerateStream(ctx context.Context, req GenRequest, onDelta func(totalBytes int)) (string, error) {
	var full string
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, buildContents(req.History, req.Prompt), g.config(req)) {
		if err != nil {
			return "", fmt.Errorf("failed to stream generation: %w", err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		full += chunk
		if onDelta != nil {
			onDelta(len(full))
		}
	}
	if full == "" {
		return "", fmt.Errorf("generation returned empty output")
	}
	return full, nil
}

// Generate は一括生成して出力を返す。
func (g *GeminiGenerator) Generate(ctx context.Context, req GenRequest) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, buildContents(req.History, req.Prompt), g.config(req))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("generation returned empty output")
	}
	return text, nil
}

// compile-time interface check
var _ Generator = (*GeminiGenerator)(nil)
