// Package textgen is the client for the text generation backend.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/vthunder/charbot/internal/logging"
)

var (
	// ErrUnreachable covers transport failures and non-2xx replies.
	ErrUnreachable = errors.New("generation backend unreachable")
	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("generation backend timed out")
	// ErrMalformedResponse is returned when the reply lacks the expected field.
	ErrMalformedResponse = errors.New("malformed generation backend response")
)

// DefaultTimeout bounds a single generation request.
const DefaultTimeout = 20 * time.Second

// Client talks to a text-generation-webui style API.
type Client struct {
	generateURL string
	modelURL    string
	sampling    Sampling
	timeout     time.Duration
	httpClient  *http.Client
}

// Config holds client settings.
type Config struct {
	GenerateURL string
	ModelURL    string
	Sampling    Sampling
	Timeout     time.Duration
}

// NewClient creates a client. A zero timeout uses DefaultTimeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		generateURL: cfg.GenerateURL,
		modelURL:    cfg.ModelURL,
		sampling:    cfg.Sampling.withFixed(),
		timeout:     timeout,
		httpClient:  &http.Client{},
	}
}

// Timeout returns the per-request deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// encodeRequest builds {"data": ["<json of [prompt, sampling]>"]}. The inner
// array is sent as a JSON string, as the backend expects.
func encodeRequest(prompt string, sampling Sampling) ([]byte, error) {
	inner, err := json.Marshal([]any{prompt, sampling})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return json.Marshal(map[string][]string{"data": {string(inner)}})
}

// Generate sends the prompt and returns the completion with any leading echo
// of the prompt removed. A request that outlives the client timeout fails
// with ErrTimeout and its result is discarded.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	requestID := uuid.NewString()
	log := logging.WithFields("textgen", map[string]any{"request_id": requestID})

	body, err := encodeRequest(prompt, c.sampling)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.generateURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debugf("Sending generation request (%d bytes)", len(body))
	start := time.Now()
	data, err := c.do(ctx, req)
	if err != nil {
		log.WithError(err).Warnf("Generation failed after %s", time.Since(start).Round(time.Millisecond))
		return "", err
	}

	result := gjson.GetBytes(data, "data.0")
	if !gjson.ValidBytes(data) || result.Type != gjson.String {
		return "", fmt.Errorf("%w: data[0] is not a string: %s", ErrMalformedResponse, logging.Truncate(string(data), 200))
	}

	text := StripEcho(result.String(), prompt)
	log.Debugf("Generated %d chars in %s", len(text), time.Since(start).Round(time.Millisecond))
	return text, nil
}

// CheckModel fetches the name of the model currently loaded by the backend.
func (c *Client) CheckModel(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}

	result := gjson.GetBytes(data, "result")
	if !gjson.ValidBytes(data) || result.Type != gjson.String {
		return "", fmt.Errorf("%w: result is not a string", ErrMalformedResponse)
	}
	return result.String(), nil
}

// do performs the request and returns the body, classifying failures.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnreachable, resp.StatusCode, logging.Truncate(string(data), 200))
	}
	return data, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// StripEcho removes a verbatim copy of prompt from the start of completion.
// Some backends return the prompt followed by the continuation. A completion
// that merely begins like the prompt is cut the same way.
func StripEcho(completion, prompt string) string {
	if prompt == "" {
		return completion
	}
	return strings.TrimPrefix(completion, prompt)
}
