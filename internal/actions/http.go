package actions

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/agentic/pkg/schema"
)

// HTTPConfig configures the default APICaller.
type HTTPConfig struct {
	MaxResponseBody int64
	Timeout         time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPCaller is the production APICaller built on net/http. A single caller
// is shared by every instance; the underlying transport handles pooling.
type HTTPCaller struct {
	client *http.Client
	config HTTPConfig
}

// NewHTTPCaller creates an HTTPCaller with its own client so redirects and
// timeouts never leak into shared state.
func NewHTTPCaller(cfg HTTPConfig) *HTTPCaller {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &HTTPCaller{
		client: &http.Client{Transport: transport},
		config: cfg,
	}
}

// Do executes the request and returns the raw response. Non-2xx statuses are
// not an error at this layer.
func (c *HTTPCaller) Do(ctx context.Context, req APIRequest) (APIResponse, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = strings.NewReader(req.Body)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, req.URL, bodyReader)
	if err != nil {
		return APIResponse{}, schema.NewErrorf(schema.ErrCodeTransport, "build request for %s: %s", req.URL, err.Error()).WithCause(err)
	}
	if req.Body != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return APIResponse{}, schema.NewErrorf(schema.ErrCodeTransport, "request to %s failed: %s", req.URL, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.config.MaxResponseBody)
	bodyBytes, err := io.ReadAll(limited)
	if err != nil {
		return APIResponse{}, schema.NewErrorf(schema.ErrCodeTransport, "read response from %s: %s", req.URL, err.Error()).WithCause(err)
	}

	return APIResponse{StatusCode: resp.StatusCode, Body: string(bodyBytes)}, nil
}
