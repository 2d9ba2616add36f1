package agent

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
)

// HTTPService talks JSON to a remote model gateway:
//
//	POST {baseURL}/v1/generate  Request → Response
//
// 429 maps to ErrRateLimited (honoring Retry-After), 422 and blocked finish
// reasons to ErrRejectedContent, 400 to ErrInvalidConfiguration, and 5xx or
// network errors to ErrTransient.
type HTTPService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPService creates a driver for the model gateway at baseURL.
func NewHTTPService(baseURL, apiKey string, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type generateResponse struct {
	Content      string `json:"content"`
	Signature    string `json:"signature"`
	FinishReason string `json:"finish_reason,omitempty"`
	Error        *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *HTTPService) Generate(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, Invalidf("encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, Invalidf("create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, Transientf("request failed: %v", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, Transientf("read response: %v", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, RateLimited(parseRetryAfter(httpResp.Header.Get("Retry-After")), errorMessage(respBody))
	case httpResp.StatusCode == http.StatusUnprocessableEntity:
		return nil, Rejectedf("%s", errorMessage(respBody))
	case httpResp.StatusCode == http.StatusBadRequest:
		return nil, Invalidf("%s", errorMessage(respBody))
	case httpResp.StatusCode >= 500:
		return nil, Transientf("status %d: %s", httpResp.StatusCode, errorMessage(respBody))
	case httpResp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("model gateway: unexpected status %d: %s", httpResp.StatusCode, errorMessage(respBody))
	}

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, Transientf("decode response: %v", err)
	}

	switch strings.ToLower(gr.FinishReason) {
	case "blocked", "safety", "refusal":
		return nil, Rejectedf("finish reason %q", gr.FinishReason)
	}

	return &Response{Content: gr.Content, Signature: gr.Signature}, nil
}

func errorMessage(body []byte) string {
	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err == nil && gr.Error != nil && gr.Error.Message != "" {
		return gr.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}

// HealthCheck probes GET {baseURL}/health.
func (s *HTTPService) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("model gateway unhealthy: " + resp.Status)
	}
	return nil
}
