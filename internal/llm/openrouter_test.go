package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/prochat/internal/session"
)

func testOptions(baseURL string) Options {
	return Options{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Model:       "deepseek/deepseek-r1-0528:free",
		Referer:     "https://example.test",
		AppTitle:    "Pro AI Chat",
		Temperature: 0.7,
		MaxTokens:   2000,
	}
}

func history() []session.Message {
	return []session.Message{
		{Role: session.RoleUser, Content: "hello"},
	}
}

func TestComplete(t *testing.T) {
	var captured *http.Request
	var capturedBody chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hi there!"}}]}`)
	}))
	defer server.Close()

	client := NewClient(testOptions(server.URL))
	reply, err := client.Complete(context.Background(), history())
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply)

	// Same three headers on both operations.
	assert.Equal(t, "Bearer test-key", captured.Header.Get("Authorization"))
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	assert.Equal(t, "https://example.test", captured.Header.Get("HTTP-Referer"))
	assert.Equal(t, "Pro AI Chat", captured.Header.Get("X-Title"))
	assert.Equal(t, "/chat/completions", captured.URL.Path)

	assert.Equal(t, "deepseek/deepseek-r1-0528:free", capturedBody.Model)
	assert.Equal(t, 0.7, capturedBody.Temperature)
	assert.Equal(t, 2000, capturedBody.MaxTokens)
	assert.False(t, capturedBody.Stream)
	require.Len(t, capturedBody.Messages, 1)
	assert.Equal(t, "hello", capturedBody.Messages[0].Content)
}

func TestComplete_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(testOptions(server.URL))
	_, err := client.Complete(context.Background(), history())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestComplete_TransportError(t *testing.T) {
	client := NewClient(testOptions("http://127.0.0.1:1"))
	_, err := client.Complete(context.Background(), history())
	require.Error(t, err)
}

func sseFrame(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", content)
}

func TestStream_YieldsChunksInOrder(t *testing.T) {
	var capturedBody chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"Hel", "lo ", "world"} {
			fmt.Fprint(w, sseFrame(chunk))
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(testOptions(server.URL))
	chunks, err := client.Stream(context.Background(), history())
	require.NoError(t, err)

	var got strings.Builder
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		got.WriteString(chunk.Content)
	}
	assert.Equal(t, "Hello world", got.String())
	assert.True(t, capturedBody.Stream, "streaming calls must set the stream flag")
}

func TestStream_SkipsMalformedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrame("before"))
		fmt.Fprint(w, "data: {not json at all\n\n")
		fmt.Fprint(w, "data: also broken\n\n")
		fmt.Fprint(w, sseFrame("after"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(testOptions(server.URL))
	chunks, err := client.Stream(context.Background(), history())
	require.NoError(t, err)

	var got strings.Builder
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		got.WriteString(chunk.Content)
	}
	assert.Equal(t, "beforeafter", got.String(), "malformed events must be skipped, not fatal")
	assert.Equal(t, int64(2), client.SkippedEvents())
}

func TestStream_StopsAtSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseFrame("kept"))
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, sseFrame("after sentinel"))
	}))
	defer server.Close()

	client := NewClient(testOptions(server.URL))
	chunks, err := client.Stream(context.Background(), history())
	require.NoError(t, err)

	var got strings.Builder
	for chunk := range chunks {
		got.WriteString(chunk.Content)
	}
	assert.Equal(t, "kept", got.String())
}

func TestStream_UpstreamErrorYieldsSingleErrorChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(testOptions(server.URL))
	chunks, err := client.Stream(context.Background(), history())
	require.NoError(t, err)

	var received []Chunk
	for chunk := range chunks {
		received = append(received, chunk)
	}
	require.Len(t, received, 1)
	require.Error(t, received[0].Err)
	assert.Contains(t, received[0].Err.Error(), "503")
}

func TestStream_MidStreamAbortYieldsErrorChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, sseFrame("first"))
		flusher.Flush()
		// Drop the connection without finishing the response.
		panic(http.ErrAbortHandler)
	}))
	defer server.Close()

	client := NewClient(testOptions(server.URL))
	chunks, err := client.Stream(context.Background(), history())
	require.NoError(t, err)

	var received []Chunk
	for chunk := range chunks {
		received = append(received, chunk)
	}
	require.Len(t, received, 2)
	assert.Equal(t, "first", received[0].Content)
	require.Error(t, received[1].Err, "a dropped connection must not look like a completed reply")
	assert.Contains(t, received[1].Err.Error(), "stream interrupted")
}

func TestStream_SlowBodyOutlivesOpenTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, sseFrame("early"))
		flusher.Flush()
		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, sseFrame("late"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	options := testOptions(server.URL)
	options.StreamTimeout = 50 * time.Millisecond

	client := NewClient(options)
	chunks, err := client.Stream(context.Background(), history())
	require.NoError(t, err)

	var got strings.Builder
	for chunk := range chunks {
		require.NoError(t, chunk.Err, "the open bound must not cut off a flowing stream")
		got.WriteString(chunk.Content)
	}
	assert.Equal(t, "earlylate", got.String())
}

func TestStream_TransportFailureYieldsSingleErrorChunk(t *testing.T) {
	client := NewClient(testOptions("http://127.0.0.1:1"))
	chunks, err := client.Stream(context.Background(), history())
	require.NoError(t, err)

	var received []Chunk
	for chunk := range chunks {
		received = append(received, chunk)
	}
	require.Len(t, received, 1)
	require.Error(t, received[0].Err)
}

func TestStream_ContextCancellationEndsStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, sseFrame("first"))
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(testOptions(server.URL))
	chunks, err := client.Stream(ctx, history())
	require.NoError(t, err)

	first := <-chunks
	assert.Equal(t, "first", first.Content)
	cancel()

	// The channel must close promptly once the context is cancelled; the
	// read error from the cancelled body ends the scan.
	for range chunks {
	}
}

func TestSSEScanner(t *testing.T) {
	input := "event: message\ndata: one\n\ndata: two\n\n: comment line\n\ndata: three\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	var events []SSEEvent
	for scanner.Scan() {
		events = append(events, scanner.Event())
	}

	require.Len(t, events, 3)
	assert.Equal(t, SSEEvent{Type: "message", Data: "one"}, events[0])
	assert.Equal(t, SSEEvent{Data: "two"}, events[1])
	assert.Equal(t, SSEEvent{Data: "three"}, events[2], "a final event without a trailing blank line is still delivered")
}

func TestSSEScanner_MultiLineData(t *testing.T) {
	input := "data: line1\ndata: line2\n\n"
	scanner := NewSSEScanner(strings.NewReader(input))

	require.True(t, scanner.Scan())
	assert.Equal(t, "line1\nline2", scanner.Event().Data)
	assert.False(t, scanner.Scan())
}
