package adapters

import (
	"encoding/json"
	"fmt"
	"time"
)

// anthropicVersion is the API version header required by the upstream.
const anthropicVersion = "2023-06-01"

// anthropicDefaultMaxTokens is applied when the unified request leaves
// max_tokens unset; the upstream rejects requests without it.
const anthropicDefaultMaxTokens = 4096

// Anthropic adapts the unified format to the Anthropic Messages API.
// System messages move to the top-level system field, the credential
// travels in x-api-key rather than Authorization, and stream events are
// transcoded from Anthropic's typed event stream.
type Anthropic struct{}

// anthropicRequest is the upstream Messages API request shape.
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the upstream Messages API response shape.
type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      *anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicStreamEvent is one event in the upstream SSE stream,
// discriminated by type.
type anthropicStreamEvent struct {
	Type    string             `json:"type"`
	Message *anthropicResponse `json:"message"`
	Delta   *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
}

// Name implements Adapter.
func (Anthropic) Name() string { return ProtocolAnthropic }

// ParseRequest implements Adapter.
func (Anthropic) ParseRequest(raw []byte) (string, bool, error) {
	return parseModelAndStream(raw)
}

// BuildRequest implements Adapter.
func (Anthropic) BuildRequest(baseURL, apiKey string, raw []byte, upstreamModel string) (*ProtocolRequest, error) {
	req, err := parseChatRequest(raw)
	if err != nil {
		return nil, err
	}

	upstream := anthropicRequest{
		Model:       upstreamModel,
		Messages:    make([]anthropicMessage, 0, len(req.Messages)),
		MaxTokens:   anthropicDefaultMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		upstream.MaxTokens = *req.MaxTokens
	}

	// The upstream has no system role: system messages move to the
	// top-level system field, everything else keeps user/assistant.
	var system string
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += msg.Text()
			continue
		}
		upstream.Messages = append(upstream.Messages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Text(),
		})
	}
	upstream.System = system

	body, err := json.Marshal(upstream)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	return &ProtocolRequest{
		URL: baseURL + "/messages",
		Headers: map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": anthropicVersion,
			"Content-Type":      "application/json",
		},
		Body: body,
	}, nil
}

// TransformResponse implements Adapter.
func (Anthropic) TransformResponse(raw []byte, originalModel string) (*ChatCompletion, *TokenUsage, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("decode anthropic response: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	usage := normalizeAnthropicUsage(resp.Usage)
	out := &ChatCompletion{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   originalModel,
		Choices: []Choice{{
			Message:      AssistantMessage{Role: RoleAssistant, Content: content},
			FinishReason: normalizeAnthropicStopReason(resp.StopReason),
		}},
		Usage: usage,
	}
	return out, &usage, nil
}

// TransformStreamChunk implements Adapter. The message_start event is
// re-emitted as a role-only chunk and carries the prompt token usage,
// content deltas become content chunks, message_delta carries the
// finish reason and output token usage, and message_stop terminates
// the unified stream.
func (Anthropic) TransformStreamChunk(line string, originalModel string) (string, *TokenUsage) {
	data, ok := sseData(line)
	if !ok {
		// Anthropic's "event:" lines and blank separators carry nothing
		// the unified stream needs.
		return "", nil
	}

	var event anthropicStreamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return "", nil
	}

	switch event.Type {
	case "message_start":
		chunk := ChatCompletionChunk{
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   originalModel,
			Choices: []ChunkChoice{{Delta: ChunkDelta{Role: RoleAssistant}}},
		}
		// Anthropic reports input_tokens here, not in message_delta.
		var usage *TokenUsage
		if event.Message != nil {
			chunk.ID = event.Message.ID
			if event.Message.Usage != nil {
				u := normalizeAnthropicUsage(event.Message.Usage)
				usage = &u
			}
		}
		return sseEvent(chunk), usage

	case "content_block_delta":
		if event.Delta == nil || event.Delta.Text == "" {
			return "", nil
		}
		chunk := ChatCompletionChunk{
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   originalModel,
			Choices: []ChunkChoice{{Delta: ChunkDelta{Content: event.Delta.Text}}},
		}
		return sseEvent(chunk), nil

	case "message_delta":
		finish := FinishReasonStop
		if event.Delta != nil && event.Delta.StopReason != "" {
			finish = normalizeAnthropicStopReason(event.Delta.StopReason)
		}
		var usage *TokenUsage
		if event.Usage != nil {
			u := normalizeAnthropicUsage(event.Usage)
			usage = &u
		}
		chunk := ChatCompletionChunk{
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   originalModel,
			Choices: []ChunkChoice{{FinishReason: strPtr(finish)}},
			Usage:   usage,
		}
		return sseEvent(chunk), usage

	case "message_stop":
		return SSEDone, nil

	default:
		// ping, content_block_start, content_block_stop.
		return "", nil
	}
}

func normalizeAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishReasonStop
	case "max_tokens":
		return FinishReasonLength
	case "refusal":
		return FinishReasonContentFilter
	default:
		return FinishReasonStop
	}
}

func normalizeAnthropicUsage(u *anthropicUsage) TokenUsage {
	if u == nil {
		return TokenUsage{}
	}
	return TokenUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}
