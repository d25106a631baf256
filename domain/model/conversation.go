package model

import (
	"fmt"
	"strings"
)

// 推論モデルとの会話のロール
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Turn struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolSpec はモデルに渡すツールの定義
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ModelResponse はモデルの 1 ターン分の応答。ToolCalls が空なら最終回答
type ModelResponse struct {
	Content   string
	ToolCalls []ToolCall
}

func (r ModelResponse) WantsTools() bool {
	return len(r.ToolCalls) > 0
}

func (t Turn) String() string {
	if len(t.ToolCalls) == 0 {
		return fmt.Sprintf("role:%s content:%s", t.Role, t.Content)
	}
	names := make([]string, 0, len(t.ToolCalls))
	for _, c := range t.ToolCalls {
		names = append(names, c.Name)
	}
	return fmt.Sprintf("role:%s tools:%s", t.Role, strings.Join(names, ","))
}
