package adapters

import (
	"encoding/json"
	"fmt"
	"time"
)

// Responses adapts the unified format to the OpenAI Responses API.
// The unified messages array maps onto the Responses input array, and
// max_tokens maps onto max_output_tokens.
type Responses struct{}

// responsesRequest is the upstream Responses API request shape.
type responsesRequest struct {
	Model           string           `json:"model"`
	Input           []responsesInput `json:"input"`
	MaxOutputTokens *int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	TopP            *float64         `json:"top_p,omitempty"`
	Stream          bool             `json:"stream,omitempty"`
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responsesResponse is the upstream Responses API response shape,
// reduced to the fields the unified transform needs.
type responsesResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage *responsesUsage `json:"usage"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// responsesStreamEvent is one event in the upstream Responses SSE
// stream. Events are discriminated by type.
type responsesStreamEvent struct {
	Type     string             `json:"type"`
	Delta    string             `json:"delta"`
	Response *responsesResponse `json:"response"`
}

// Name implements Adapter.
func (Responses) Name() string { return ProtocolResponses }

// ParseRequest implements Adapter.
func (Responses) ParseRequest(raw []byte) (string, bool, error) {
	return parseModelAndStream(raw)
}

// BuildRequest implements Adapter.
func (Responses) BuildRequest(baseURL, apiKey string, raw []byte, upstreamModel string) (*ProtocolRequest, error) {
	req, err := parseChatRequest(raw)
	if err != nil {
		return nil, err
	}

	upstream := responsesRequest{
		Model:           upstreamModel,
		Input:           make([]responsesInput, 0, len(req.Messages)),
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		Stream:          req.Stream,
	}
	for _, msg := range req.Messages {
		upstream.Input = append(upstream.Input, responsesInput{
			Role:    msg.Role,
			Content: msg.Text(),
		})
	}

	body, err := json.Marshal(upstream)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}

	return &ProtocolRequest{
		URL: baseURL + "/responses",
		Headers: map[string]string{
			"Authorization": "Bearer " + apiKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	}, nil
}

// TransformResponse implements Adapter.
func (Responses) TransformResponse(raw []byte, originalModel string) (*ChatCompletion, *TokenUsage, error) {
	var resp responsesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("decode responses response: %w", err)
	}

	var content string
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				content += part.Text
			}
		}
	}

	usage := normalizeResponsesUsage(resp.Usage)
	out := &ChatCompletion{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   originalModel,
		Choices: []Choice{{
			Message:      AssistantMessage{Role: RoleAssistant, Content: content},
			FinishReason: normalizeResponsesStatus(resp),
		}},
		Usage: usage,
	}
	return out, &usage, nil
}

// TransformStreamChunk implements Adapter. Text deltas become content
// chunks; the response.completed event carries the finish reason and
// usage and terminates the unified stream.
func (Responses) TransformStreamChunk(line string, originalModel string) (string, *TokenUsage) {
	data, ok := sseData(line)
	if !ok {
		return "", nil
	}
	if data == "[DONE]" {
		return SSEDone, nil
	}

	var event responsesStreamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return "", nil
	}

	switch event.Type {
	case "response.output_text.delta":
		if event.Delta == "" {
			return "", nil
		}
		chunk := ChatCompletionChunk{
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   originalModel,
			Choices: []ChunkChoice{{Delta: ChunkDelta{Content: event.Delta}}},
		}
		return sseEvent(chunk), nil

	case "response.completed", "response.incomplete":
		finish := FinishReasonStop
		var usage *TokenUsage
		if event.Response != nil {
			finish = normalizeResponsesStatus(*event.Response)
			u := normalizeResponsesUsage(event.Response.Usage)
			usage = &u
		}
		chunk := ChatCompletionChunk{
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   originalModel,
			Choices: []ChunkChoice{{FinishReason: strPtr(finish)}},
			Usage:   usage,
		}
		return sseEvent(chunk) + SSEDone, usage

	case "response.failed":
		return SSEDone, nil

	default:
		// Lifecycle events (response.created, output item markers, etc.)
		// carry no unified content.
		return "", nil
	}
}

func normalizeResponsesStatus(resp responsesResponse) string {
	if resp.Status == "incomplete" && resp.IncompleteDetails != nil {
		switch resp.IncompleteDetails.Reason {
		case "max_output_tokens":
			return FinishReasonLength
		case "content_filter":
			return FinishReasonContentFilter
		}
	}
	return FinishReasonStop
}

func normalizeResponsesUsage(u *responsesUsage) TokenUsage {
	if u == nil {
		return TokenUsage{}
	}
	usage := TokenUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}
