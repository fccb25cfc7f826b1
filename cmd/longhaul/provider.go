package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/longhaul-ai/longhaul/internal/agent"
	"github.com/longhaul-ai/longhaul/internal/config"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

// newLLMProvider builds the model backend for serve. The runtime treats
// providers as a contract; this binary ships one adapter speaking the
// OpenAI-compatible chat completions wire format, which most gateways and
// local inference servers accept.
func newLLMProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	baseURL := os.Getenv("LONGHAUL_LLM_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	apiKey := os.Getenv("LONGHAUL_LLM_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("LONGHAUL_LLM_API_KEY is not set")
	}
	return &httpProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type httpProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (p *httpProvider) Name() string { return "openai-compatible" }

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *httpProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	wire := wireRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if req.System != "" {
		wire.Messages = append(wire.Messages, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == models.RoleModel {
			role = "assistant"
		} else if m.Role == models.RoleSystem {
			role = "system"
		}
		wire.Messages = append(wire.Messages, wireMessage{Role: role, Content: m.Content})
	}
	for _, t := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Schema
		wire.Tools = append(wire.Tools, wt)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// Phrase 429 and 5xx so the retry layer classifies them as
		// transient.
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("llm rate limit (status 429): %s", snippet)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("llm unavailable (status %d): %s", resp.StatusCode, snippet)
		default:
			return nil, fmt.Errorf("llm status %d: %s", resp.StatusCode, snippet)
		}
	}

	var decoded wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("empty completion")
	}

	msg := decoded.Choices[0].Message
	out := &agent.Completion{
		Text:         msg.Content,
		InputTokens:  decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}
