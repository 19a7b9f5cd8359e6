package adapters

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOpenAI_ParseRequest(t *testing.T) {
	model, stream, err := OpenAI{}.ParseRequest([]byte(`{"model":"gpt-4o","stream":true,"messages":[]}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if model != "gpt-4o" || !stream {
		t.Errorf("got (%q, %v), want (gpt-4o, true)", model, stream)
	}
}

func TestOpenAI_ParseRequest_MissingModel(t *testing.T) {
	_, _, err := OpenAI{}.ParseRequest([]byte(`{"messages":[]}`))
	if err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestOpenAI_BuildRequest_ForcesModelAndUsage(t *testing.T) {
	raw := []byte(`{"model":"unified-smart","stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	req, err := OpenAI{}.BuildRequest("https://api.openai.com/v1", "sk-test", raw, "gpt-4o")
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.URL != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("url = %q", req.URL)
	}
	if req.Headers["Authorization"] != "Bearer sk-test" {
		t.Errorf("authorization header = %q", req.Headers["Authorization"])
	}

	var body ChatRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Model != "gpt-4o" {
		t.Errorf("model = %q, want forced upstream name", body.Model)
	}
	if body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
		t.Error("streaming request must set stream_options.include_usage")
	}
}

func TestOpenAI_BuildRequest_NonStreamingOmitsStreamOptions(t *testing.T) {
	raw := []byte(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`)

	req, err := OpenAI{}.BuildRequest("https://api.openai.com/v1", "k", raw, "gpt-4o")
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if strings.Contains(string(req.Body), "stream_options") {
		t.Error("non-streaming request must not carry stream_options")
	}
}

func TestOpenAI_TransformResponse(t *testing.T) {
	raw := []byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-4o-2024-08-06",
		"choices": [{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}],
		"usage": {"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
	}`)

	resp, usage, err := OpenAI{}.TransformResponse(raw, "unified-smart")
	if err != nil {
		t.Fatalf("TransformResponse: %v", err)
	}
	if resp.Model != "unified-smart" {
		t.Errorf("model = %q, want original model name", resp.Model)
	}
	if resp.Choices[0].Message.Content != "Hello" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", usage.TotalTokens)
	}
}

func TestOpenAI_TransformStreamChunk_DonePassthrough(t *testing.T) {
	out, usage := OpenAI{}.TransformStreamChunk("data: [DONE]", "m")
	if out != "data: [DONE]\n\n" {
		t.Errorf("out = %q, want exact done passthrough", out)
	}
	if usage != nil {
		t.Errorf("usage = %+v, want nil", usage)
	}
}

func TestOpenAI_TransformStreamChunk_RewritesModel(t *testing.T) {
	line := `data: {"id":"c1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`

	out, usage := OpenAI{}.TransformStreamChunk(line, "unified-smart")
	if out == "" {
		t.Fatal("expected an emitted chunk")
	}
	if usage != nil {
		t.Errorf("usage = %+v, want nil for content chunk", usage)
	}

	var chunk openaiWireChunk
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(out), "data: ")), &chunk); err != nil {
		t.Fatalf("unmarshal emitted chunk: %v", err)
	}
	if chunk.Model != "unified-smart" {
		t.Errorf("model = %q, want rewritten original", chunk.Model)
	}
	if !strings.Contains(out, `"content":"Hi"`) {
		t.Errorf("delta content lost: %q", out)
	}
}

func TestOpenAI_TransformStreamChunk_UsageChunk(t *testing.T) {
	line := `data: {"id":"c1","model":"m","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3}}`

	_, usage := OpenAI{}.TransformStreamChunk(line, "m")
	if usage == nil {
		t.Fatal("expected usage from final chunk")
	}
	if usage.TotalTokens != 10 {
		t.Errorf("total tokens = %d, want computed 10", usage.TotalTokens)
	}
}

func TestOpenAI_TransformStreamChunk_SwallowsGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		": heartbeat",
		"event: something",
		"data: {not json",
	} {
		out, usage := OpenAI{}.TransformStreamChunk(line, "m")
		if out != "" || usage != nil {
			t.Errorf("line %q: got (%q, %+v), want swallowed", line, out, usage)
		}
	}
}
