package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emrantusho/the-final-studio/config"

	"github.com/rs/zerolog"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrEmptyHistory = errors.New("conversation history is empty")
	ErrInvalidTurn  = errors.New("invalid conversation turn")
	ErrUpstream     = errors.New("upstream inference failure")
)

// Turn is one element of a conversation. The relay is stateless: the
// caller resubmits the full bounded history on every request.
type Turn struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// ValidateHistory enforces the relay input constraint: a non-empty
// sequence of turns, each with a known role and non-empty content.
func ValidateHistory(history []Turn) error {
	if len(history) == 0 {
		return ErrEmptyHistory
	}
	for i, turn := range history {
		switch turn.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: turn %d has role %q", ErrInvalidTurn, i, turn.Role)
		}
		if turn.Content == "" {
			return fmt.Errorf("%w: turn %d has empty content", ErrInvalidTurn, i)
		}
	}
	return nil
}

// LLMClient relays conversations to the external inference provider and
// decodes its `data: <json|[DONE]>` event framing into plain text
// fragments.
type LLMClient struct {
	cfg    config.LLMConfig
	client *http.Client
	logger zerolog.Logger
}

func NewLLMClient(cfg config.LLMConfig, logger zerolog.Logger) *LLMClient {
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &LLMClient{
		cfg: cfg,
		// No overall client timeout: the response body is long-lived by
		// design. Connection setup and first-byte latency are still bounded.
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.HeaderTimeout,
			},
		},
		logger: logger,
	}
}

type inferenceRequest struct {
	Model    string `json:"model"`
	Messages []Turn `json:"messages"`
	Stream   bool   `json:"stream"`
}

type streamChunk struct {
	Response string `json:"response"`
}

// StreamInference opens one long-lived request to the provider and returns
// a channel of text fragments in provider emission order. A failure before
// the first byte surfaces as the returned error; a failure mid-stream
// truncates the channel without retracting fragments already delivered.
// Cancelling ctx stops the upstream read and releases the connection.
func (c *LLMClient) StreamInference(ctx context.Context, history []Turn, apiKey string) (<-chan string, error) {
	if err := ValidateHistory(history); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(inferenceRequest{
		Model:    c.cfg.Model,
		Messages: history,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	ch := make(chan string, 16)
	go c.readStream(ctx, resp.Body, ch)
	return ch, nil
}

// readStream decodes the provider framing line by line. Lines without the
// `data: ` prefix are keep-alive noise and skipped; the [DONE] sentinel
// ends the stream without reaching the caller; a malformed JSON payload is
// logged and dropped rather than failing the whole stream.
func (c *LLMClient) readStream(ctx context.Context, body io.ReadCloser, ch chan<- string) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if payload == "[DONE]" {
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn().Err(err).Str("payload", payload).Msg("dropping malformed stream fragment")
			continue
		}
		if chunk.Response == "" {
			continue
		}

		select {
		case ch <- chunk.Response:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn().Err(err).Msg("upstream stream truncated")
	}
}

// Complete runs the same relay but gathers the whole reply, bounded by the
// configured request timeout.
func (c *LLMClient) Complete(ctx context.Context, history []Turn, apiKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ch, err := c.StreamInference(ctx, history, apiKey)
	if err != nil {
		return "", err
	}

	var reply strings.Builder
	for fragment := range ch {
		reply.WriteString(fragment)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return reply.String(), nil
}
