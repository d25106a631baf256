package infra

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// Gemini はメッセージ分類用の Completer
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini は GEMINI_API_KEY が設定されていない場合 nil を返す
func NewGemini(ctx context.Context, modelName string) (*Gemini, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	return &Gemini{client: client, model: modelName}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to call Gemini API: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("Gemini API returned empty response")
	}
	return text, nil
}
