package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/camara-coder/talking-game/internal/metrics"
)

// OpenAICompatClient streams chat completions from any server exposing the
// OpenAI /v1/chat/completions API (vLLM, llama.cpp server, OpenAI itself).
type OpenAICompatClient struct {
	url          string
	apiKey       string
	model        string
	systemPrompt string
	maxTokens    int
	client       *http.Client
}

// NewOpenAICompatClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAICompatClient(url, apiKey, model, systemPrompt string, maxTokens, poolSize int) *OpenAICompatClient {
	return &OpenAICompatClient{
		url:          url,
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       NewPooledHTTPClient(poolSize, 60*time.Second),
	}
}

// Chat sends a user message plus history and streams the completion.
func (c *OpenAICompatClient) Chat(ctx context.Context, chatReq ChatRequest, onToken TokenCallback) (*LLMResult, error) {
	start := time.Now()

	sysPrompt := c.systemPrompt
	if chatReq.SystemPrompt != "" {
		sysPrompt = chatReq.SystemPrompt
	}
	useModel := c.model
	if chatReq.Model != "" {
		useModel = chatReq.Model
	}

	messages := []oaiMessage{{Role: "system", Content: sysPrompt}}
	for _, t := range chatReq.History {
		messages = append(messages,
			oaiMessage{Role: "user", Content: t.User},
			oaiMessage{Role: "assistant", Content: t.Assistant})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: chatReq.UserMessage})

	bodyBytes, err := json.Marshal(oaiRequest{
		Model:     useModel,
		Stream:    true,
		MaxTokens: c.maxTokens,
		Messages:  messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "http").Inc()
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("llm", "status").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chat status %d: %s", resp.StatusCode, body)
	}

	var text strings.Builder
	var ttft time.Time
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk oaiStreamChunk
		if json.Unmarshal([]byte(data), &chunk) != nil || len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		if ttft.IsZero() {
			ttft = time.Now()
		}
		if onToken != nil {
			onToken(token)
		}
		text.WriteString(token)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("llm").Observe(latency.Seconds())

	ttftMs := float64(0)
	if !ttft.IsZero() {
		ttftMs = float64(ttft.Sub(start).Milliseconds())
	}
	return &LLMResult{
		Text:               text.String(),
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttftMs,
	}, nil
}

type oaiRequest struct {
	Model     string       `json:"model"`
	Stream    bool         `json:"stream"`
	MaxTokens int          `json:"max_tokens,omitempty"`
	Messages  []oaiMessage `json:"messages"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}
