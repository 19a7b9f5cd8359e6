package adapters

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpenAI adapts the unified format to the OpenAI Chat Completions API.
// The unified format is OpenAI-shaped, so both directions are close to
// pass-through: the request forces the upstream model name and, when
// streaming, asks the upstream to include usage in the final chunk.
type OpenAI struct{}

// Name implements Adapter.
func (OpenAI) Name() string { return ProtocolOpenAI }

// ParseRequest implements Adapter.
func (OpenAI) ParseRequest(raw []byte) (string, bool, error) {
	return parseModelAndStream(raw)
}

// BuildRequest implements Adapter.
func (OpenAI) BuildRequest(baseURL, apiKey string, raw []byte, upstreamModel string) (*ProtocolRequest, error) {
	req, err := parseChatRequest(raw)
	if err != nil {
		return nil, err
	}

	req.Model = upstreamModel
	if req.Stream {
		// Without this the upstream omits usage from the stream and the
		// orchestrator cannot account tokens.
		req.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	return &ProtocolRequest{
		URL: baseURL + "/chat/completions",
		Headers: map[string]string{
			"Authorization": "Bearer " + apiKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	}, nil
}

// TransformResponse implements Adapter.
func (OpenAI) TransformResponse(raw []byte, originalModel string) (*ChatCompletion, *TokenUsage, error) {
	var resp ChatCompletion
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("openai response has no choices")
	}

	resp.Model = originalModel
	if resp.Object == "" {
		resp.Object = "chat.completion"
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}

	usage := resp.Usage
	return &resp, &usage, nil
}

// openaiWireChunk preserves unknown delta fields (tool call deltas and
// the like) across the model rewrite by keeping the delta raw.
type openaiWireChunk struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []openaiWireChunkChoice `json:"choices"`
	Usage   *TokenUsage             `json:"usage,omitempty"`
}

type openaiWireChunkChoice struct {
	Index        int             `json:"index"`
	Delta        json.RawMessage `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

// TransformStreamChunk implements Adapter. Upstream chunks are already
// in the unified shape; the chunk is re-emitted with the model rewritten
// to the name the caller asked for, and [DONE] passes through verbatim.
func (OpenAI) TransformStreamChunk(line string, originalModel string) (string, *TokenUsage) {
	data, ok := sseData(line)
	if !ok {
		return "", nil
	}
	if data == "[DONE]" {
		return SSEDone, nil
	}

	var chunk openaiWireChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// Malformed event: swallow, never abort the stream.
		return "", nil
	}

	chunk.Model = originalModel
	usage := chunk.Usage
	if usage != nil && usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return sseEvent(chunk), usage
}
