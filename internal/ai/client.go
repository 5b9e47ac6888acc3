package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/carinspect/pkg/models"
)

const (
	maxResponseBytes = 10 << 20
	maxErrorBody     = 2048
)

// HTTPClient implements models.Analyzer against the inspection service HTTP API.
type HTTPClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPClient creates a client for the service at baseURL. Every Analyze call
// is bounded by timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Name() string { return "http" }

func (c *HTTPClient) Analyze(ctx context.Context, req models.AnalyzeRequest) (models.AnalyzeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.AnalyzeResult{}, fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return models.AnalyzeResult{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.AnalyzeResult{}, c.classifyError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.AnalyzeResult{}, c.classifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(data)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return models.AnalyzeResult{}, &StatusError{StatusCode: resp.StatusCode, Body: text}
	}

	contentType := resp.Header.Get("Content-Type")
	payload, err := parsePayload(contentType, data)
	if err != nil {
		return models.AnalyzeResult{}, err
	}
	return models.AnalyzeResult{Payload: payload, ContentType: contentType}, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrServiceUnavailable, resp.StatusCode)
	}
	return nil
}

// parsePayload decodes a declared JSON body, and falls back to raw text otherwise.
func parsePayload(contentType string, data []byte) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	isJSON := mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")

	if isJSON {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		if obj, ok := v.(map[string]any); ok {
			return obj, nil
		}
		return map[string]any{"data": v}, nil
	}

	// Undeclared bodies are often still JSON objects.
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil && obj != nil {
		return obj, nil
	}
	return map[string]any{"raw": string(data)}, nil
}

// classifyError maps transport-level errors to sentinel errors.
func (c *HTTPClient) classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("ai request cancelled: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %dms", ErrServiceTimeout, c.timeout.Milliseconds())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w after %dms", ErrServiceTimeout, c.timeout.Milliseconds())
	}

	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

// Compile-time check that HTTPClient implements Analyzer.
var _ models.Analyzer = (*HTTPClient)(nil)
