package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/kakaiking/anita/internal/logger"
)

const (
	openRouterAPIBaseURL = "https://openrouter.ai/api/v1"
	openRouterReferer    = "https://github.com/kakaiking/anita"
	openRouterAppTitle   = "Anita"
)

// OpenRouterClient implements the Client interface using the native
// OpenRouter chat-completions API.
type OpenRouterClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client

	usageMu sync.Mutex
	usage   UsageReporter
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(apiKey, modelID string) (*OpenRouterClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &AuthError{Message: "openrouter client requires an API key"}
	}

	model := strings.TrimSpace(modelID)
	if model == "" {
		model = "openai/gpt-4o-mini"
	}

	return &OpenRouterClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: openRouterAPIBaseURL,
		// No request timeout: completion latency is unbounded and
		// cancellation is handled through the context.
		httpClient: &http.Client{},
	}, nil
}

// SetBaseURL overrides the API endpoint (used by tests and proxies).
func (c *OpenRouterClient) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// SetUsageReporter installs the client-wide token accounting sink, used
// for requests that carry no reporter of their own.
func (c *OpenRouterClient) SetUsageReporter(r UsageReporter) {
	c.usageMu.Lock()
	c.usage = r
	c.usageMu.Unlock()
}

func (c *OpenRouterClient) GetModelName() string {
	return c.model
}

func (c *OpenRouterClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.CompleteWithRequest(ctx, &CompletionRequest{
		Messages: []*Message{
			{Role: "user", Content: prompt},
		},
		Temperature: 1.0,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *OpenRouterClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("openrouter completion request cannot be nil")
	}

	payload, err := c.buildChatRequest(req, false)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newChatRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	logger.Debug("OpenRouter: sending completion request for model %s", payload.Model)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyHTTPError(resp.StatusCode, providerErrorMessage(body))
	}

	var chatResp openRouterChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &ServerError{Message: "failed to decode response: " + err.Error()}
	}

	c.reportUsage(chatResp.Usage, req)

	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message == nil {
		logger.Debug("OpenRouter: no valid choices in response")
		return &CompletionResponse{StopReason: "stop"}, nil
	}

	first := chatResp.Choices[0]
	content := extractOpenRouterText(first.Message.Content)
	stopReason := first.FinishReason
	if strings.TrimSpace(stopReason) == "" {
		stopReason = "stop"
	}

	logger.Debug("OpenRouter: content length=%d, tool_calls=%d", len(content), len(first.Message.ToolCalls))

	return &CompletionResponse{
		Content:    content,
		ToolCalls:  NormalizeToolCallIDs(convertOpenRouterToolCalls(first.Message.ToolCalls)),
		StopReason: stopReason,
		Usage:      chatResp.Usage,
	}, nil
}

func (c *OpenRouterClient) Stream(ctx context.Context, req *CompletionRequest, callback StreamFunc) (string, error) {
	if req == nil {
		return "", fmt.Errorf("openrouter completion request cannot be nil")
	}

	payload, err := c.buildChatRequest(req, true)
	if err != nil {
		return "", err
	}

	httpReq, err := c.newChatRequest(ctx, payload)
	if err != nil {
		return "", err
	}

	logger.Debug("OpenRouter: starting stream for model %s", payload.Model)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", wrapTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", classifyHTTPError(resp.StatusCode, providerErrorMessage(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk openRouterStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return full.String(), &ServerError{Message: "failed to decode stream chunk: " + err.Error()}
		}

		for _, choice := range chunk.Choices {
			if choice.Delta == nil {
				continue
			}
			text := extractOpenRouterText(choice.Delta.Content)
			if text == "" {
				continue
			}
			full.WriteString(text)
			if callback != nil {
				if err := callback(full.String()); err != nil {
					return full.String(), err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return full.String(), wrapTransportError(ctx, err)
	}

	return full.String(), nil
}

func (c *OpenRouterClient) reportUsage(usage map[string]interface{}, req *CompletionRequest) {
	reporter := req.UsageReporter
	if reporter == nil {
		c.usageMu.Lock()
		reporter = c.usage
		c.usageMu.Unlock()
	}
	if reporter == nil {
		return
	}

	total := 0
	if usage != nil {
		switch v := usage["total_tokens"].(type) {
		case float64:
			total = int(v)
		case int:
			total = v
		}
	}
	if total == 0 {
		// Provider omitted usage; fall back to a rough estimate.
		total = EstimateTokenCountForRequest(req)
	}
	reporter.ReportUsage(total)
}

func (c *OpenRouterClient) buildChatRequest(req *CompletionRequest, stream bool) (*openRouterChatRequest, error) {
	messages := make([]openRouterChatMessage, 0, len(req.Messages)+1)

	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		messages = append(messages, openRouterChatMessage{Role: "system", Content: system})
	}

	for _, msg := range req.Messages {
		if msg == nil {
			continue
		}

		role := strings.TrimSpace(strings.ToLower(msg.Role))
		if role == "" {
			role = "user"
		}

		oMsg := openRouterChatMessage{
			Role:    role,
			Content: msg.Content,
		}
		if role == "assistant" && len(msg.ToolCalls) > 0 {
			oMsg.ToolCalls = msg.ToolCalls
		}
		if role == "tool" && msg.ToolID != "" {
			oMsg.ToolCallID = msg.ToolID
		}
		if msg.ToolName != "" {
			oMsg.Name = msg.ToolName
		}

		messages = append(messages, oMsg)
	}

	if len(messages) == 0 {
		return nil, fmt.Errorf("openrouter completion requires at least one message")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}

	payload := &openRouterChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}

	if req.Temperature != 0 {
		temp := req.Temperature
		payload.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		payload.Tools = req.Tools
		payload.ToolChoice = "auto"
	}

	return payload, nil
}

func (c *OpenRouterClient) newChatRequest(ctx context.Context, payload *openRouterChatRequest) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openrouter failed to encode payload: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.baseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openrouter failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", openRouterReferer)
	req.Header.Set("X-Title", openRouterAppTitle)

	return req, nil
}

// providerErrorMessage digs a human-readable message out of an error body.
func providerErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(body))
}

func convertOpenRouterToolCalls(toolCalls []openRouterToolCall) []map[string]interface{} {
	if len(toolCalls) == 0 {
		return nil
	}

	result := make([]map[string]interface{}, 0, len(toolCalls))
	for _, tc := range toolCalls {
		if tc.Function == nil {
			continue
		}

		call := map[string]interface{}{
			"type": tc.Type,
			"function": map[string]interface{}{
				"name":      tc.Function.Name,
				"arguments": tc.Function.Arguments,
			},
		}
		if tc.ID != "" {
			call["id"] = tc.ID
		}
		result = append(result, call)
	}
	return result
}

// extractOpenRouterText tolerates the loose content shapes providers emit:
// plain strings, part arrays, and nested content maps.
func extractOpenRouterText(content interface{}) string {
	switch value := content.(type) {
	case nil:
		return ""
	case string:
		return value
	case []interface{}:
		var sb strings.Builder
		for _, part := range value {
			sb.WriteString(extractOpenRouterText(part))
		}
		return sb.String()
	case map[string]interface{}:
		if text, ok := value["text"].(string); ok {
			return text
		}
		if inner, ok := value["content"]; ok {
			return extractOpenRouterText(inner)
		}
	}
	return ""
}

type openRouterChatRequest struct {
	Model       string                   `json:"model"`
	Messages    []openRouterChatMessage  `json:"messages"`
	Tools       []map[string]interface{} `json:"tools,omitempty"`
	ToolChoice  string                   `json:"tool_choice,omitempty"`
	Temperature *float64                 `json:"temperature,omitempty"`
	MaxTokens   int                      `json:"max_tokens,omitempty"`
	Stream      bool                     `json:"stream,omitempty"`
}

type openRouterChatMessage struct {
	Role       string                   `json:"role"`
	Content    interface{}              `json:"content"`
	Name       string                   `json:"name,omitempty"`
	ToolCalls  []map[string]interface{} `json:"tool_calls,omitempty"`
	ToolCallID string                   `json:"tool_call_id,omitempty"`
}

type openRouterChatResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Model   string                 `json:"model"`
	Created int64                  `json:"created"`
	Usage   map[string]interface{} `json:"usage,omitempty"`
	Choices []openRouterChatChoice `json:"choices"`
}

type openRouterChatChoice struct {
	Index        int                            `json:"index"`
	FinishReason string                         `json:"finish_reason"`
	Message      *openRouterChatResponseMessage `json:"message"`
}

type openRouterChatResponseMessage struct {
	Role      string               `json:"role"`
	Content   interface{}          `json:"content"`
	ToolCalls []openRouterToolCall `json:"tool_calls,omitempty"`
}

type openRouterToolCall struct {
	ID       string                  `json:"id,omitempty"`
	Type     string                  `json:"type,omitempty"`
	Function *openRouterToolFunction `json:"function,omitempty"`
}

type openRouterToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openRouterStreamChunk struct {
	ID      string                   `json:"id"`
	Object  string                   `json:"object"`
	Choices []openRouterStreamChoice `json:"choices"`
}

type openRouterStreamChoice struct {
	Index        int                    `json:"index"`
	FinishReason string                 `json:"finish_reason"`
	Delta        *openRouterStreamDelta `json:"delta"`
}

type openRouterStreamDelta struct {
	Role      string               `json:"role"`
	Content   interface{}          `json:"content"`
	ToolCalls []openRouterToolCall `json:"tool_calls,omitempty"`
}
