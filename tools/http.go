// HTTP Client Tool.
//
// Information Hiding:
// - HTTP client implementation details hidden
// - Domain allowlist enforced before any request
// - Response bodies capped

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPMaxBody caps the bytes read from a response.
const DefaultHTTPMaxBody = 256 * 1024

// HTTPTool makes HTTP GET or POST requests.
type HTTPTool struct {
	client         *http.Client
	allowedDomains []string
	maxBody        int64
}

// NewHTTPTool creates a new HTTP tool with the given client timeout.
func NewHTTPTool(timeout time.Duration) *HTTPTool {
	return &HTTPTool{
		client:  &http.Client{Timeout: timeout},
		maxBody: DefaultHTTPMaxBody,
	}
}

// WithAllowedDomains restricts requests to these hosts and their subdomains.
func (t *HTTPTool) WithAllowedDomains(domains []string) *HTTPTool {
	t.allowedDomains = domains
	return t
}

// Descriptor returns the tool descriptor.
func (t *HTTPTool) Descriptor() Descriptor {
	params := []ToolParameter{
		{Name: "url", ParamType: "string", Description: "The URL to request", Required: true},
		{Name: "method", ParamType: "string", Description: "HTTP method (GET or POST)"},
		{Name: "body", ParamType: "string", Description: "Request body for POST requests"},
	}
	return Descriptor{
		Name:         "http_request",
		Description:  "Make HTTP GET or POST requests to fetch data from URLs",
		Parameters:   params,
		Capabilities: Capabilities{AccessesNetwork: true, Retryable: true},
		Validator:    Validators(SchemaValidator(params), t.validateRequest),
	}
}

func (t *HTTPTool) validateRequest(args json.RawMessage) []string {
	p, err := decodeAs[HTTPRequestParams](args)
	if err != nil {
		return nil
	}
	hp := p.(HTTPRequestParams)

	var violations []string
	if m := strings.ToUpper(hp.Method); m != "" && m != http.MethodGet && m != http.MethodPost {
		violations = append(violations, "only GET and POST methods are supported")
	}
	if hp.URL != "" && !t.isDomainAllowed(hp.URL) {
		violations = append(violations, fmt.Sprintf("access to domain in '%s' is not allowed", hp.URL))
	}
	return violations
}

// HTTPData is the payload of a successful request.
type HTTPData struct {
	Status    int    `json:"status"`
	Body      string `json:"body"`
	Truncated bool   `json:"truncated"`
}

// Execute makes the HTTP request.
func (t *HTTPTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[HTTPRequestParams](params)
	if bad != nil {
		return *bad
	}

	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(p.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
	if err != nil {
		return Failf(CodeValidation, "failed to create request: %v", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Failf(CodeTimeout, "request to %s timed out", p.URL)
		}
		return Failf(CodeExecution, "request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return Failf(CodeExecution, "failed to read response body: %v", err)
	}
	truncated := int64(len(data)) > t.maxBody
	if truncated {
		data = data[:t.maxBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failf(CodeExecution, "HTTP error: %s", resp.Status).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": string(data)})
	}
	return OK(HTTPData{Status: resp.StatusCode, Body: string(data), Truncated: truncated}).
		WithSnippet(p.URL, string(data))
}

// isDomainAllowed checks if the URL's host is in the allowlist.
// Uses proper URL parsing to prevent bypass attacks.
func (t *HTTPTool) isDomainAllowed(urlStr string) bool {
	if len(t.allowedDomains) == 0 {
		return true
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	host := u.Hostname()
	for _, domain := range t.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
