// Package llm relays chat completions to an OpenRouter-compatible API,
// either as one blocking call or as an incremental stream of content chunks.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/entrepeneur4lyf/prochat/internal/session"
)

// Options configures the OpenRouter client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Referer     string // HTTP-Referer identification header
	AppTitle    string // X-Title identification header
	Temperature float64
	MaxTokens   int

	// RequestTimeout bounds the blocking call; StreamTimeout bounds the
	// streaming open (connect plus response headers). An open stream runs
	// until the upstream closes it, the [DONE] sentinel arrives, or the
	// caller cancels. Zero means the defaults below.
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
}

// Client issues chat-completion requests against the OpenRouter API.
type Client struct {
	options      Options
	client       *http.Client
	streamClient *http.Client

	// skippedEvents counts malformed stream events dropped to keep the
	// stream alive. Cumulative across streams.
	skippedEvents atomic.Int64
}

// NewClient creates a new OpenRouter client.
func NewClient(options Options) *Client {
	if options.BaseURL == "" {
		options.BaseURL = "https://openrouter.ai/api/v1"
	}
	if options.RequestTimeout == 0 {
		options.RequestTimeout = 30 * time.Second
	}
	if options.StreamTimeout == 0 {
		options.StreamTimeout = 60 * time.Second
	}

	// The stream client must not carry a whole-request timeout: that would
	// cut off a reply still producing tokens. The bound covers the open only.
	streamTransport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport.ResponseHeaderTimeout = options.StreamTimeout

	return &Client{
		options:      options,
		client:       &http.Client{Timeout: options.RequestTimeout},
		streamClient: &http.Client{Transport: streamTransport},
	}
}

// chatRequest is the request body for the chat completions endpoint.
type chatRequest struct {
	Model       string            `json:"model"`
	Messages    []session.Message `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
	Stream      bool              `json:"stream,omitempty"`
}

// chatResponse is the blocking response body.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// streamEvent is one decoded SSE data payload.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Chunk is one incremental fragment of model output. Err is set on the
// single terminal chunk emitted after a transport failure.
type Chunk struct {
	Content string
	Err     error
}

// newRequest builds a completions request. Both operations send the same
// headers and body shape; only the stream flag differs.
func (c *Client) newRequest(ctx context.Context, messages []session.Message, stream bool) (*http.Request, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.options.Model,
		Messages:    messages,
		Temperature: c.options.Temperature,
		MaxTokens:   c.options.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.options.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.options.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", c.options.Referer)
	req.Header.Set("X-Title", c.options.AppTitle)
	return req, nil
}

// Complete sends the conversation and returns the assistant's full reply.
func (c *Client) Complete(ctx context.Context, messages []session.Message) (string, error) {
	req, err := c.newRequest(ctx, messages, false)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}

	return parsed.Choices[0].Message.Content, nil
}

// Stream sends the conversation and returns a channel of content chunks.
// The channel is closed when the upstream stream ends: after the [DONE]
// sentinel, on context cancellation, or after a single error chunk when the
// transport fails, whether at open time or mid-stream. Malformed events are
// skipped, not surfaced, so one bad frame cannot kill a live stream.
func (c *Client) Stream(ctx context.Context, messages []session.Message) (<-chan Chunk, error) {
	req, err := c.newRequest(ctx, messages, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk, 100)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		go func() {
			defer close(chunks)
			chunks <- Chunk{Err: fmt.Errorf("request failed: %w", err)}
		}()
		return chunks, nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		go func() {
			defer close(chunks)
			chunks <- Chunk{Err: fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))}
		}()
		return chunks, nil
	}

	go func() {
		defer close(chunks)
		defer resp.Body.Close()
		c.processStream(ctx, resp.Body, chunks)
	}()

	return chunks, nil
}

// processStream reads SSE events until the [DONE] sentinel or stream end.
// A read failure before the sentinel is surfaced as a terminal error chunk,
// so the consumer can tell a dropped connection from a completed reply.
func (c *Client) processStream(ctx context.Context, reader io.Reader, chunks chan<- Chunk) {
	scanner := NewSSEScanner(reader)
	skipped := int64(0)
	sawDone := false

	for scanner.Scan() {
		event := scanner.Event()

		if strings.TrimSpace(event.Data) == "[DONE]" {
			sawDone = true
			break
		}
		if event.Data == "" {
			continue
		}

		var parsed streamEvent
		if err := json.Unmarshal([]byte(event.Data), &parsed); err != nil {
			skipped++
			continue
		}

		for _, choice := range parsed.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			select {
			case chunks <- Chunk{Content: choice.Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && !sawDone && ctx.Err() == nil {
		select {
		case chunks <- Chunk{Err: fmt.Errorf("stream interrupted: %w", err)}:
		case <-ctx.Done():
		}
	}

	if skipped > 0 {
		c.skippedEvents.Add(skipped)
		log.Warn("Skipped malformed stream events", "count", skipped, "total", c.skippedEvents.Load())
	}
}

// SkippedEvents returns the cumulative count of malformed stream events the
// client has dropped.
func (c *Client) SkippedEvents() int64 {
	return c.skippedEvents.Load()
}
