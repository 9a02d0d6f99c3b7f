package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultChatModel = openai.GPT4oMini

	maxResponseBytes = 10 << 20
)

// retryPolicy bounds an external call: a per-attempt deadline plus an
// optional fixed retry count with a fixed inter-attempt delay.
type retryPolicy struct {
	timeout time.Duration
	retries int
	delay   time.Duration
}

func retryFromConfig(cfg map[string]any, defaultTimeout time.Duration) retryPolicy {
	p := retryPolicy{
		timeout: time.Duration(configFloat(cfg, "timeout", defaultTimeout.Seconds()) * float64(time.Second)),
		retries: int(configFloat(cfg, "retries", 0)),
		delay:   time.Duration(configFloat(cfg, "retryDelay", 1) * float64(time.Second)),
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	if p.retries < 0 {
		p.retries = 0
	}
	if p.delay < 0 {
		p.delay = 0
	}
	return p
}

// do runs fn once per attempt under the per-attempt deadline and returns
// the first success or the final attempt's error. Cancellation of the run
// context stops retrying immediately.
func (p retryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

// HTTPRequestRunner performs one HTTP call. Call failures, timeouts and
// error statuses come back as data on the "error" port rather than
// aborting the run; only invalid configuration aborts.
type HTTPRequestRunner struct {
	client *http.Client
}

func (r *HTTPRequestRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	url := configString(node.Config, "url")
	if url == "" {
		return nil, fmt.Errorf("http_request node requires a url")
	}
	url = substituteVariables(url, ec)
	method := strings.ToUpper(configString(node.Config, "method"))
	if method == "" {
		method = http.MethodGet
	}

	body := requestBody(node, inputs, ec)
	policy := retryFromConfig(node.Config, 30*time.Second)

	var status int
	var payload any
	err := policy.do(ctx, func(attemptCtx context.Context) error {
		var reader io.Reader
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
		if err != nil {
			return err
		}
		applyHeaders(req, node.Config, len(body) > 0)

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		status = resp.StatusCode
		payload = decodeResponseBody(raw)
		if resp.StatusCode >= 400 {
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("request to %s timed out after %gs", url, policy.timeout.Seconds())
		}
		ec.AddLog(LevelWarning, fmt.Sprintf("HTTP request failed: %s", msg), node.ID, nil)
		out := map[string]any{DefaultOutputPort: nil, "error": msg}
		if status > 0 {
			out["status"] = float64(status)
		}
		return out, nil
	}
	return map[string]any{DefaultOutputPort: payload, "status": float64(status)}, nil
}

func requestBody(node Node, inputs map[string]any, ec *ExecutionContext) []byte {
	if configured := configString(node.Config, "body"); configured != "" {
		return []byte(substituteVariables(configured, ec))
	}
	input, ok := inputs[DefaultInputPort]
	if !ok || input == nil {
		return nil
	}
	method := strings.ToUpper(configString(node.Config, "method"))
	if method == "" || method == http.MethodGet || method == http.MethodHead {
		return nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil
	}
	return raw
}

func applyHeaders(req *http.Request, cfg map[string]any, hasBody bool) {
	if headers, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, stringify(v))
		}
	}
	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
}

// decodeResponseBody parses JSON payloads into structured values and keeps
// everything else as text.
func decodeResponseBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}

// ChatClient is the slice of the OpenAI-compatible chat API the llm_chat
// node needs. *openai.Client satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMChatRunner sends a prompt to a chat completion API. An unconfigured
// client or a failed call is reported on the "error" port.
type LLMChatRunner struct {
	client ChatClient
}

func (r *LLMChatRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	if r.client == nil {
		return map[string]any{DefaultOutputPort: nil, "error": "llm chat is not configured"}, nil
	}

	prompt := ""
	if v, ok := inputs[DefaultInputPort]; ok {
		prompt = stringify(v)
	} else {
		prompt = substituteVariables(configString(node.Config, "prompt"), ec)
	}
	if prompt == "" {
		return nil, fmt.Errorf("llm_chat node requires a prompt")
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system := substituteVariables(configString(node.Config, "systemPrompt"), ec); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	model := configString(node.Config, "model")
	if model == "" {
		model = defaultChatModel
	}
	policy := retryFromConfig(node.Config, 60*time.Second)

	var content string
	err := policy.do(ctx, func(attemptCtx context.Context) error {
		resp, err := r.client.CreateChatCompletion(attemptCtx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			Temperature: float32(configFloat(node.Config, "temperature", 0.7)),
			MaxTokens:   int(configFloat(node.Config, "maxTokens", 1024)),
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat completion returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("chat completion timed out after %gs", policy.timeout.Seconds())
		}
		ec.AddLog(LevelWarning, fmt.Sprintf("Chat completion failed: %s", msg), node.ID, nil)
		return map[string]any{DefaultOutputPort: nil, "error": msg}, nil
	}
	return map[string]any{DefaultOutputPort: content}, nil
}

// CodeExecutionRunner hands the configured script to the sandbox lane and
// reports script failures and timeouts on the "error" port. Console lines
// captured by the script land on the "console" port and in the log as
// debug entries.
type CodeExecutionRunner struct {
	sandbox *Sandbox
}

func (r *CodeExecutionRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	code := configString(node.Config, "code")
	if code == "" {
		return nil, fmt.Errorf("code_execution node requires code")
	}
	if r.sandbox == nil {
		return map[string]any{DefaultOutputPort: nil, "error": "sandbox is not available"}, nil
	}

	timeout := time.Duration(configFloat(node.Config, "timeout", 5) * float64(time.Second))
	value, console, err := r.sandbox.Execute(ctx, code, inputs, ec.Variables(), timeout)
	for _, line := range console {
		ec.AddLog(LevelDebug, line, node.ID, nil)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		msg := err.Error()
		if errors.Is(err, ErrSandboxTimeout) {
			msg = fmt.Sprintf("code execution timed out after %gs", timeout.Seconds())
		}
		ec.AddLog(LevelWarning, fmt.Sprintf("Code execution failed: %s", msg), node.ID, nil)
		return map[string]any{DefaultOutputPort: nil, "console": console, "error": msg}, nil
	}
	return map[string]any{DefaultOutputPort: value, "console": console}, nil
}

// substituteVariables replaces {{name}} references with the named run
// variable, stringified. Unknown references are left untouched.
func substituteVariables(s string, ec *ExecutionContext) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	vars := ec.Variables()
	if len(vars) == 0 {
		return s
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", stringify(v))
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
