package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is the wire-level shape handed to the Transport collaborator.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers http.Header
	Timeout time.Duration
}

// Transport executes one wire request and returns the status code and the
// decoded response body. Implementations do not retry or classify errors;
// the Executor owns both.
type Transport interface {
	Execute(ctx context.Context, req *Request) (status int, body any, err error)
}

// Auth mutates an outgoing request's headers or query before dispatch.
type Auth interface {
	Apply(req *Request)
}

// BearerAuth attaches an Authorization: Bearer header.
type BearerAuth struct {
	Token string
}

func (a BearerAuth) Apply(req *Request) {
	if req.Headers == nil {
		req.Headers = http.Header{}
	}
	req.Headers.Set("Authorization", "Bearer "+a.Token)
}

// APIKeyAuth attaches a named key either as a header or a query parameter.
type APIKeyAuth struct {
	Name    string
	Key     string
	InQuery bool
}

func (a APIKeyAuth) Apply(req *Request) {
	if a.InQuery {
		if req.Query == nil {
			req.Query = url.Values{}
		}
		req.Query.Set(a.Name, a.Key)
		return
	}
	if req.Headers == nil {
		req.Headers = http.Header{}
	}
	req.Headers.Set(a.Name, a.Key)
}

// HTTPTransport is the default Transport over net/http.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates a Transport for the given API base URL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Execute performs the request and decodes the JSON body. Non-2xx statuses
// are returned as the status code with the decoded error body folded into a
// StatusError by the caller; Execute itself only fails on transport-level
// problems.
func (t *HTTPTransport) Execute(ctx context.Context, req *Request) (int, any, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	endpoint := t.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil, nil
	}

	var decoded any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		if resp.StatusCode < 400 {
			return resp.StatusCode, nil, fmt.Errorf("decode response: %w", err)
		}
		// An unparseable error body still yields the status.
		return resp.StatusCode, nil, nil
	}

	return resp.StatusCode, decoded, nil
}
