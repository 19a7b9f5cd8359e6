package adapters

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Gemini adapts the unified format to the Gemini generateContent API.
// Messages become contents entries with roles user/model (system folds
// into user), consecutive same-role messages merge into one entry with
// multiple parts, generation parameters move into a camelCase
// generationConfig object, and the credential is a URL query parameter.
type Gemini struct{}

// geminiRequest is the upstream generateContent request shape.
type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// geminiResponse is the upstream generateContent response shape; the
// same shape arrives per SSE event when streaming.
type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *geminiUsage `json:"usageMetadata"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Name implements Adapter.
func (Gemini) Name() string { return ProtocolGemini }

// ParseRequest implements Adapter. On the Gemini inbound paths the
// model travels in the URL, so the handler fills it in; this parse only
// serves the unified-body case.
func (Gemini) ParseRequest(raw []byte) (string, bool, error) {
	return parseModelAndStream(raw)
}

// BuildRequest implements Adapter.
func (Gemini) BuildRequest(baseURL, apiKey string, raw []byte, upstreamModel string) (*ProtocolRequest, error) {
	req, err := parseChatRequest(raw)
	if err != nil {
		return nil, err
	}

	upstream := geminiRequest{
		Contents: mergeGeminiContents(req.Messages),
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil {
		upstream.GenerationConfig = &geminiGenConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	body, err := json.Marshal(upstream)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	action := ":generateContent"
	query := "?key=" + url.QueryEscape(apiKey)
	if req.Stream {
		action = ":streamGenerateContent"
		query = "?alt=sse&key=" + url.QueryEscape(apiKey)
	}

	return &ProtocolRequest{
		URL: baseURL + "/models/" + upstreamModel + action + query,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: body,
	}, nil
}

// mergeGeminiContents maps unified messages onto Gemini contents,
// folding system into user and merging consecutive same-role messages
// into one entry with multiple parts.
func mergeGeminiContents(messages []Message) []geminiContent {
	contents := make([]geminiContent, 0, len(messages))
	for _, msg := range messages {
		role := RoleUser
		if msg.Role == RoleAssistant {
			role = "model"
		}

		part := geminiPart{Text: msg.Text()}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			continue
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{part},
		})
	}
	return contents
}

// TransformResponse implements Adapter.
func (Gemini) TransformResponse(raw []byte, originalModel string) (*ChatCompletion, *TokenUsage, error) {
	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, nil, fmt.Errorf("gemini response has no candidates")
	}

	cand := resp.Candidates[0]
	var content string
	for _, part := range cand.Content.Parts {
		content += part.Text
	}

	usage := normalizeGeminiUsage(resp.UsageMetadata)
	out := &ChatCompletion{
		ID:      "chatcmpl-" + fmt.Sprintf("%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   originalModel,
		Choices: []Choice{{
			Message:      AssistantMessage{Role: RoleAssistant, Content: content},
			FinishReason: normalizeGeminiFinishReason(cand.FinishReason),
		}},
		Usage: usage,
	}
	return out, &usage, nil
}

// TransformStreamChunk implements Adapter. Each upstream SSE event is a
// partial generateContent response; the terminal event carries a
// finishReason, on which the unified [DONE] is synthesized.
func (Gemini) TransformStreamChunk(line string, originalModel string) (string, *TokenUsage) {
	data, ok := sseData(line)
	if !ok {
		return "", nil
	}

	var resp geminiResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return "", nil
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}

	cand := resp.Candidates[0]
	var content string
	for _, part := range cand.Content.Parts {
		content += part.Text
	}

	var usage *TokenUsage
	if resp.UsageMetadata != nil {
		u := normalizeGeminiUsage(resp.UsageMetadata)
		usage = &u
	}

	chunk := ChatCompletionChunk{
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   originalModel,
		Choices: []ChunkChoice{{Delta: ChunkDelta{Content: content}}},
		Usage:   usage,
	}

	if cand.FinishReason != "" {
		chunk.Choices[0].FinishReason = strPtr(normalizeGeminiFinishReason(cand.FinishReason))
		return sseEvent(chunk) + SSEDone, usage
	}
	return sseEvent(chunk), usage
}

func normalizeGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return FinishReasonStop
	case "MAX_TOKENS":
		return FinishReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return FinishReasonContentFilter
	default:
		return FinishReasonStop
	}
}

func normalizeGeminiUsage(u *geminiUsage) TokenUsage {
	if u == nil {
		return TokenUsage{}
	}
	usage := TokenUsage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}
