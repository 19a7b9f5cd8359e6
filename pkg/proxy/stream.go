package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"relaylabs/relay/pkg/adapters"
	"relaylabs/relay/pkg/routing"
)

// StreamContext is filled in by ForwardStream once a candidate is
// committed, and accumulates token usage as chunks flow. The caller
// owns it and may read it after the channel closes.
type StreamContext struct {
	ProviderID   string
	ProviderName string
	Model        string

	// Usage aggregates the usage events observed on the stream.
	Usage adapters.TokenUsage

	// Chunks counts the SSE events forwarded to the caller.
	Chunks int
}

func (s *StreamContext) mergeUsage(u *adapters.TokenUsage) {
	if u == nil {
		return
	}
	if u.PromptTokens > 0 {
		s.Usage.PromptTokens = u.PromptTokens
	}
	if u.CompletionTokens > 0 {
		s.Usage.CompletionTokens = u.CompletionTokens
	}
	// Anthropic splits prompt and output usage across events, so a
	// single report's total can undercount. The component sum wins when
	// it is larger.
	s.Usage.TotalTokens = max(u.TotalTokens, s.Usage.TotalTokens,
		s.Usage.PromptTokens+s.Usage.CompletionTokens)
}

// maxStreamLine caps a single upstream SSE line. Lines beyond this are
// a protocol violation and abort the stream.
const maxStreamLine = 1 << 20

// ForwardStream proxies a streaming request. Failover happens only
// while connecting: a candidate that fails before producing its first
// visible event is charged a failure and the next one is tried. Once
// the first event arrives the stream is committed to that candidate,
// and a mid-stream failure is surfaced inline as an SSE error event
// followed by [DONE] rather than retried.
func (o *Orchestrator) ForwardStream(ctx context.Context, adapter adapters.Adapter, body []byte, model string, sctx *StreamContext) (<-chan string, error) {
	candidates := o.router.Candidates(model, nil)
	if len(candidates) == 0 {
		return nil, &RoutingError{Model: model}
	}

	var lastErr *Error
	for _, cand := range o.picker.Order(candidates) {
		ch, perr := o.connectStream(ctx, adapter, cand, body, model, sctx)
		if perr == nil {
			return ch, nil
		}

		o.logAttemptFailure(cand, perr)
		if perr.SkipRetry {
			return nil, perr
		}
		o.registry.MarkFailure(cand.Provider.ID, perr.UpstreamStatus, perr.Message)
		o.recordHealth(cand, false, perr.UpstreamStatus, perr.Message)
		lastErr = perr
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &Error{
		Message:    fmt.Sprintf("all providers failed for model %q", model),
		StatusCode: 500,
		Kind:       KindProxy,
	}
}

// connectStream runs the connecting phase against one candidate: send
// the request, check the status, and read until the first transformed
// event. Everything up to that point is retryable; committing hands the
// stream to a goroutine that feeds the returned channel.
func (o *Orchestrator) connectStream(ctx context.Context, adapter adapters.Adapter, cand routing.Candidate, body []byte, model string, sctx *StreamContext) (<-chan string, *Error) {
	adapter = o.adapterFor(cand, adapter)
	preq, err := adapter.BuildRequest(cand.Provider.BaseURL, cand.Provider.APIKey, body, cand.Model)
	if err != nil {
		return nil, &Error{
			Message:      fmt.Sprintf("failed to build upstream request: %v", err),
			StatusCode:   400,
			ProviderID:   cand.Provider.ID,
			ProviderName: cand.Provider.Name,
			Model:        cand.Model,
			SkipRetry:    true,
			Kind:         KindProxy,
		}
	}

	// The deadline covers connecting only. A committed stream may
	// outlive any per-attempt timeout, so the timer is disarmed at
	// commit instead of using a deadline context.
	attemptCtx, cancel := context.WithCancel(ctx)
	connectTimer := time.AfterFunc(o.attemptTimeout(cand.Provider), cancel)

	abort := func() {
		connectTimer.Stop()
		cancel()
	}

	start := time.Now()
	resp, perr := o.send(attemptCtx, cand, preq)
	if perr != nil {
		abort()
		o.recordAttempt(cand, 0, time.Since(start))
		return nil, perr
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := readLimited(resp.Body, maxStreamLine)
		resp.Body.Close()
		abort()
		o.recordAttempt(cand, resp.StatusCode, time.Since(start))
		return nil, &Error{
			Message:        fmt.Sprintf("upstream returned status %d", resp.StatusCode),
			StatusCode:     resp.StatusCode,
			UpstreamStatus: resp.StatusCode,
			ProviderID:     cand.Provider.ID,
			ProviderName:   cand.Provider.Name,
			Model:          cand.Model,
			UpstreamBody:   string(raw),
			Kind:           KindProxy,
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	// Read until the first event worth forwarding. Usage observed
	// before that point still counts.
	var first string
	var pendingUsage *adapters.TokenUsage
	for scanner.Scan() {
		out, usage := adapter.TransformStreamChunk(scanner.Text(), model)
		if usage != nil {
			pendingUsage = usage
		}
		if out != "" {
			first = out
			break
		}
	}
	if first == "" {
		err := scanner.Err()
		resp.Body.Close()
		abort()
		o.recordAttempt(cand, 0, time.Since(start))
		msg := "upstream stream ended before producing any event"
		if err != nil {
			msg = fmt.Sprintf("upstream stream failed before producing any event: %v", err)
			if isTimeout(err) || attemptCtx.Err() != nil {
				msg = fmt.Sprintf("upstream stream timeout before producing any event: %v", err)
			}
		}
		return nil, &Error{
			Message:      msg,
			StatusCode:   502,
			ProviderID:   cand.Provider.ID,
			ProviderName: cand.Provider.Name,
			Model:        cand.Model,
			Kind:         KindProxy,
		}
	}

	// Committed. The connect timer is disarmed; the stream now lives
	// until the upstream closes it or the caller goes away.
	connectTimer.Stop()
	o.registry.MarkSuccess(cand.Provider.ID)
	o.recordHealth(cand, true, resp.StatusCode, "")
	o.recordAttempt(cand, resp.StatusCode, time.Since(start))
	o.touch(cand, "stream")
	sctx.ProviderID = cand.Provider.ID
	sctx.ProviderName = cand.Provider.Name
	sctx.Model = cand.Model
	sctx.mergeUsage(pendingUsage)

	ch := make(chan string, 8)
	go o.pumpStream(ctx, cancel, resp, scanner, adapter, cand, model, sctx, first, ch)
	return ch, nil
}

// pumpStream forwards the committed stream to the caller's channel. A
// failure here is terminal for the response: the client has already
// received bytes, so the error is delivered inline and the stream is
// closed with [DONE].
func (o *Orchestrator) pumpStream(ctx context.Context, cancel context.CancelFunc, resp *http.Response, scanner *bufio.Scanner, adapter adapters.Adapter, cand routing.Candidate, model string, sctx *StreamContext, first string, ch chan<- string) {
	defer close(ch)
	defer cancel()
	defer resp.Body.Close()

	emit := func(s string) bool {
		select {
		case ch <- s:
			sctx.Chunks++
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(first) {
		return
	}
	doneSent := strings.Contains(first, "[DONE]")

	for scanner.Scan() {
		out, usage := adapter.TransformStreamChunk(scanner.Text(), model)
		sctx.mergeUsage(usage)
		if out == "" {
			continue
		}
		if !emit(out) {
			return
		}
		if strings.Contains(out, "[DONE]") {
			doneSent = true
		}
	}

	if err := scanner.Err(); err != nil {
		o.logger.Warn("stream interrupted",
			"provider", cand.Provider.Name,
			"model", cand.Model,
			"chunks", sctx.Chunks,
			"error", err,
		)
		emit(streamErrorEvent(fmt.Sprintf("stream interrupted: %v", err)))
		emit(adapters.SSEDone)
		return
	}

	if !doneSent {
		emit(adapters.SSEDone)
	}
}

// streamErrorEvent renders an inline SSE error event in the OpenAI
// error shape.
func streamErrorEvent(message string) string {
	body := ErrorBody{Error: APIError{
		Message: message,
		Type:    "upstream_error",
	}}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return "data: " + string(data) + "\n\n"
}
