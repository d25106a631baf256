package infra

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/pyama86/slack-pulse/domain/model"
)

type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI は API キーが設定されていない場合 nil を返す
func NewOpenAI(modelName string) (*OpenAI, error) {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("AZURE_OPENAI_KEY") == "" {
		return nil, nil
	}
	client, err := newOpenAIClient()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}
	if modelName == "" {
		modelName = openai.ChatModelGPT4o
	}
	return &OpenAI{
		client: client,
		model:  modelName,
	}, nil
}

func newOpenAIClient() (*openai.Client, error) {
	if os.Getenv("AZURE_OPENAI_ENDPOINT") != "" {
		return newAzureClient()
	}

	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	options := []option.RequestOption{
		option.WithAPIKey(key),
	}
	if os.Getenv("OPENAI_BASE_URL") != "" {
		options = append(options, option.WithBaseURL(os.Getenv("OPENAI_BASE_URL")))
	}

	c := openai.NewClient(options...)
	return &c, nil
}

func newAzureClient() (*openai.Client, error) {
	key := os.Getenv("AZURE_OPENAI_KEY")
	if key == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_KEY is not set")
	}
	azureOpenAIAPIVersion := "2025-01-01-preview"
	if os.Getenv("AZURE_OPENAI_API_VERSION") != "" {
		azureOpenAIAPIVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
	}

	c := openai.NewClient(
		azure.WithEndpoint(os.Getenv("AZURE_OPENAI_ENDPOINT"), azureOpenAIAPIVersion),
		azure.WithAPIKey(key),
	)
	return &c, nil
}

func (o *OpenAI) Name() string { return "openai" }

// Complete は 1 回の問い合わせでテキストを返す。メッセージ分類で使う
func (o *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	response, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Model: o.model,
	})
	if err != nil {
		return "", fmt.Errorf("failed to call OpenAI API: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API returned no choices")
	}
	return response.Choices[0].Message.Content, nil
}

// Converse は会話履歴とツール定義を渡して次の 1 ターンを得る
func (o *OpenAI) Converse(ctx context.Context, turns []model.Turn, tools []model.ToolSpec) (model.ModelResponse, error) {
	params := openai.ChatCompletionNewParams{
		Messages: toOpenAIMessages(turns),
		Model:    o.model,
	}
	for _, t := range tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}

	response, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.ModelResponse{}, fmt.Errorf("failed to call OpenAI API: %w", err)
	}
	if len(response.Choices) == 0 {
		return model.ModelResponse{}, fmt.Errorf("OpenAI API returned no choices")
	}

	msg := response.Choices[0].Message
	res := model.ModelResponse{Content: msg.Content}
	for _, c := range msg.ToolCalls {
		res.ToolCalls = append(res.ToolCalls, model.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: c.Function.Arguments,
		})
	}
	return res, nil
}

func toOpenAIMessages(turns []model.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case model.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case model.RoleUser:
			msgs = append(msgs, openai.UserMessage(t.Content))
		case model.RoleTool:
			msgs = append(msgs, openai.ToolMessage(t.Content, t.ToolCallID))
		case model.RoleAssistant:
			if len(t.ToolCalls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(t.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if t.Content != "" {
				assistant.Content.OfString = openai.String(t.Content)
			}
			for _, c := range t.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: c.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Name,
						Arguments: c.Arguments,
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return msgs
}
