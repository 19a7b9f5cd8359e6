package adapters

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestResponses_BuildRequest_MapsMessagesToInput(t *testing.T) {
	raw := []byte(`{
		"model": "unified-smart",
		"max_tokens": 200,
		"messages": [
			{"role":"system","content":"Be brief."},
			{"role":"user","content":"Hello"}
		]
	}`)

	req, err := Responses{}.BuildRequest("https://api.openai.com/v1", "sk-r", raw, "gpt-5")
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.URL != "https://api.openai.com/v1/responses" {
		t.Errorf("url = %q", req.URL)
	}

	var body responsesRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Model != "gpt-5" {
		t.Errorf("model = %q", body.Model)
	}
	if len(body.Input) != 2 || body.Input[1].Content != "Hello" {
		t.Errorf("input = %+v", body.Input)
	}
	if body.MaxOutputTokens == nil || *body.MaxOutputTokens != 200 {
		t.Error("max_tokens should map to max_output_tokens")
	}
	if strings.Contains(string(req.Body), `"max_tokens"`) {
		t.Error("upstream body must not carry max_tokens")
	}
}

func TestResponses_TransformResponse(t *testing.T) {
	raw := []byte(`{
		"id": "resp_1",
		"status": "completed",
		"output": [{"type":"message","content":[{"type":"output_text","text":"Hi"}]}],
		"usage": {"input_tokens":5,"output_tokens":3,"total_tokens":8}
	}`)

	resp, usage, err := Responses{}.TransformResponse(raw, "unified-smart")
	if err != nil {
		t.Fatalf("TransformResponse: %v", err)
	}
	if resp.Choices[0].Message.Content != "Hi" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != FinishReasonStop {
		t.Errorf("finish_reason = %q", resp.Choices[0].FinishReason)
	}
	if usage.TotalTokens != 8 {
		t.Errorf("total tokens = %d", usage.TotalTokens)
	}
}

func TestResponses_TransformResponse_Incomplete(t *testing.T) {
	raw := []byte(`{
		"id": "resp_2",
		"status": "incomplete",
		"incomplete_details": {"reason":"max_output_tokens"},
		"output": [{"type":"message","content":[{"type":"output_text","text":"trunc"}]}]
	}`)

	resp, _, err := Responses{}.TransformResponse(raw, "m")
	if err != nil {
		t.Fatalf("TransformResponse: %v", err)
	}
	if resp.Choices[0].FinishReason != FinishReasonLength {
		t.Errorf("finish_reason = %q, want %q", resp.Choices[0].FinishReason, FinishReasonLength)
	}
}

func TestResponses_TransformStreamChunk(t *testing.T) {
	r := Responses{}

	out, usage := r.TransformStreamChunk(`data: {"type":"response.output_text.delta","delta":"Hel"}`, "m")
	if !strings.Contains(out, `"content":"Hel"`) {
		t.Errorf("delta lost: %q", out)
	}
	if usage != nil {
		t.Errorf("usage = %+v, want nil", usage)
	}

	out, usage = r.TransformStreamChunk(`data: {"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":4,"output_tokens":2,"total_tokens":6}}}`, "m")
	if !strings.HasSuffix(out, SSEDone) {
		t.Errorf("completed event = %q, want trailing done", out)
	}
	if usage == nil || usage.TotalTokens != 6 {
		t.Errorf("usage = %+v, want total 6", usage)
	}

	// Lifecycle events are swallowed.
	for _, line := range []string{
		`data: {"type":"response.created"}`,
		`data: {"type":"response.output_item.added"}`,
		"event: response.output_text.delta",
	} {
		if out, usage := r.TransformStreamChunk(line, "m"); out != "" || usage != nil {
			t.Errorf("line %q: got (%q, %+v), want swallowed", line, out, usage)
		}
	}
}

func TestMessage_Text(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"string", `"plain"`, "plain"},
		{"multimodal", `[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"b"}]`, "a b"},
		{"empty", ``, ""},
		{"unknown shape", `42`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{Role: RoleUser, Content: json.RawMessage(tt.content)}
			if got := m.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestForProtocol(t *testing.T) {
	for _, p := range []string{ProtocolOpenAI, ProtocolResponses, ProtocolAnthropic, ProtocolGemini} {
		a, err := ForProtocol(p)
		if err != nil {
			t.Fatalf("ForProtocol(%q): %v", p, err)
		}
		if a.Name() != p {
			t.Errorf("adapter name = %q, want %q", a.Name(), p)
		}
	}
	if _, err := ForProtocol("carrier-pigeon"); err == nil {
		t.Error("expected error for unknown protocol")
	}
}
