// Package groq implements a client for the Groq chat completions API
// (OpenAI-compatible). Transient failures are retried with bounded
// exponential backoff before being reported as persistent.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// GenerationError is returned when a completion request fails. Transient
// reports whether the failure was retryable (rate limit, server error,
// timeout); the client only surfaces it as an error after retries are
// exhausted.
type GenerationError struct {
	Transient bool
	Status    int
	Err       error
}

func (e *GenerationError) Error() string {
	kind := "persistent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("generation failed (%s, HTTP %d): %v", kind, e.Status, e.Err)
	}
	return fmt.Sprintf("generation failed (%s): %v", kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Client communicates with the Groq API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Groq client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Chat sends a chat completion request and returns the assistant's answer.
// Transient failures are retried up to maxRetries times with exponential
// backoff; a persistent failure (or exhausted retries) yields a
// *GenerationError.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", &GenerationError{Err: fmt.Errorf("marshaling request: %w", err)}
	}

	var lastErr error
	for attempt := range maxRetries {
		answer, err := c.doChat(ctx, body)
		if err == nil {
			return answer, nil
		}

		var genErr *GenerationError
		if !errors.As(err, &genErr) || !genErr.Transient {
			return "", err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", &GenerationError{Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) doChat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection resets are worth retrying.
		return "", &GenerationError{Transient: isTimeout(err), Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return "", &GenerationError{Transient: true, Status: resp.StatusCode, Err: errors.New("retryable status")}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &GenerationError{Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", string(respBody))}
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &GenerationError{Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(result.Choices) == 0 {
		return "", &GenerationError{Err: errors.New("response contains no choices")}
	}
	return result.Choices[0].Message.Content, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
