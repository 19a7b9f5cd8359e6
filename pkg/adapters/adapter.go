// Package adapters implements the per-upstream protocol adapters.
//
// Each adapter translates between the unified OpenAI-chat-completion
// wire format used at the gateway boundary and one upstream wire format,
// in both directions: request build, whole-response transform, and
// incremental SSE stream transcoding.
package adapters

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol identifiers, matching the provider configuration.
const (
	ProtocolOpenAI    = "openai"
	ProtocolResponses = "responses"
	ProtocolAnthropic = "anthropic"
	ProtocolGemini    = "gemini"
)

// Normalized finish reasons at the unified boundary.
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonContentFilter = "content_filter"
)

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Adapter translates between the unified format and one upstream wire
// format. Implementations are stateless and safe for concurrent use;
// one instance serves all in-flight requests.
type Adapter interface {
	// Name returns the protocol identifier this adapter speaks.
	Name() string

	// ParseRequest extracts the requested model and streaming flag from
	// an inbound unified request body. It fails when no model name is
	// extractable; the caller maps that to HTTP 400.
	ParseRequest(raw []byte) (model string, stream bool, err error)

	// BuildRequest translates the unified body into the upstream shape,
	// forcing the model to the upstream name and attaching the
	// credential the way this upstream expects it.
	BuildRequest(baseURL, apiKey string, raw []byte, upstreamModel string) (*ProtocolRequest, error)

	// TransformResponse converts a whole upstream response body into the
	// unified chat-completion shape with normalized usage.
	TransformResponse(raw []byte, originalModel string) (*ChatCompletion, *TokenUsage, error)

	// TransformStreamChunk transcodes one upstream SSE line into one
	// unified SSE event ("data: <json>\n\n"), or "" to swallow the line.
	// Usage is returned alongside when the upstream event carries it.
	// Malformed lines are swallowed, never surfaced as errors, so one
	// bad heartbeat cannot abort an otherwise-good stream.
	TransformStreamChunk(line string, originalModel string) (string, *TokenUsage)
}

// ProtocolRequest is the adapter's output: a fully addressed upstream
// HTTP request ready for the transport.
type ProtocolRequest struct {
	// URL is the absolute upstream endpoint.
	URL string

	// Headers are the request headers, including the credential.
	Headers map[string]string

	// Body is the serialized upstream request body.
	Body []byte
}

// TokenUsage is the normalized usage accounting at the unified boundary.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is the unified inbound request shape. It is the narrow
// intermediate representation all adapters consume; upstream-specific
// fields live in each adapter's own wire types.
type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	StreamOptions    *StreamOptions  `json:"stream_options,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	User             string          `json:"user,omitempty"`
}

// StreamOptions mirrors the OpenAI stream_options object.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Message is one unified conversation message. Content is kept raw
// because the unified format allows either a plain string or an array
// of typed content parts.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
	Name    string          `json:"name,omitempty"`
}

// Text flattens the message content to plain text. String content is
// returned as-is; multimodal part arrays contribute their text parts
// joined by spaces; anything else yields an empty string.
func (m Message) Text() string {
	if len(m.Content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}

	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// ChatCompletion is the unified response shape returned to the caller.
type ChatCompletion struct {
	ID      string     `json:"id"`
	Object  string     `json:"object"`
	Created int64      `json:"created"`
	Model   string     `json:"model"`
	Choices []Choice   `json:"choices"`
	Usage   TokenUsage `json:"usage"`
}

// Choice is one completion choice in the unified response.
type Choice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// AssistantMessage is the assistant turn in a unified response.
type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionChunk is the unified streaming chunk shape.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *TokenUsage   `json:"usage,omitempty"`
}

// ChunkChoice is one choice in a streaming chunk. FinishReason is a
// pointer so intermediate chunks serialize it as null, matching the
// OpenAI stream shape.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental content in a streaming chunk.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// SSEDone is the terminal event of every unified stream.
const SSEDone = "data: [DONE]\n\n"

// parseChatRequest decodes an inbound unified body.
func parseChatRequest(raw []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return &req, nil
}

// parseModelAndStream is the shared ParseRequest implementation: every
// unified inbound body carries the model and stream flag the same way.
func parseModelAndStream(raw []byte) (string, bool, error) {
	var probe struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", false, fmt.Errorf("invalid request body: %w", err)
	}
	if probe.Model == "" {
		return "", false, fmt.Errorf("request has no model name")
	}
	return probe.Model, probe.Stream, nil
}

// sseData strips the SSE "data:" prefix from a line. The second return
// is false for non-data lines (event names, comments, blanks).
func sseData(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "), true
}

// sseEvent serializes a payload as one SSE event. Marshal failures
// produce an empty (swallowed) event rather than an error.
func sseEvent(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("data: %s\n\n", data)
}

// ForProtocol returns the adapter for a provider protocol identifier.
func ForProtocol(protocol string) (Adapter, error) {
	switch protocol {
	case ProtocolOpenAI:
		return OpenAI{}, nil
	case ProtocolResponses:
		return Responses{}, nil
	case ProtocolAnthropic:
		return Anthropic{}, nil
	case ProtocolGemini:
		return Gemini{}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", protocol)
	}
}

// strPtr returns a pointer to s, for chunk finish reasons.
func strPtr(s string) *string { return &s }
