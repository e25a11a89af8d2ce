package remote

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Executor turns request descriptors into transport calls. It applies the
// authentication strategy, classifies failures into the error taxonomy, and
// retries transient errors with backoff before surfacing them.
type Executor struct {
	transport Transport
	auth      Auth
	retry     *RetryConfig
	timeout   time.Duration
}

// NewExecutor creates an Executor. auth may be nil; retry defaults apply
// when cfg is nil.
func NewExecutor(transport Transport, auth Auth, cfg *RetryConfig, timeout time.Duration) *Executor {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &Executor{transport: transport, auth: auth, retry: cfg, timeout: timeout}
}

// do executes one request with auth, classification, and retry.
func (x *Executor) do(ctx context.Context, op string, req *Request) (any, error) {
	if req.Timeout == 0 {
		req.Timeout = x.timeout
	}
	if x.auth != nil {
		x.auth.Apply(req)
	}

	var body any
	err := x.retry.retry(ctx, op, func() error {
		status, decoded, err := x.transport.Execute(ctx, req)
		if err != nil {
			return classify(op, err)
		}
		if status >= 400 {
			return statusError(op, status, decoded)
		}
		body = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// statusError folds a non-success status and its decoded body into a
// StatusError.
func statusError(op string, status int, body any) *StatusError {
	se := &StatusError{Op: op, Status: status, Code: "unknown", Message: http.StatusText(status)}
	if m, ok := body.(map[string]any); ok {
		if code, ok := m["error"].(string); ok && code != "" {
			se.Code = code
		}
		if msg, ok := m["message"].(string); ok && msg != "" {
			se.Message = msg
		}
	}
	return se
}

// Fetch lists a resource with the given query parameters.
func (x *Executor) Fetch(ctx context.Context, resource string, params url.Values, timeout time.Duration) (any, error) {
	return x.do(ctx, "fetch "+resource, &Request{
		Method:  http.MethodGet,
		Path:    resource,
		Query:   params,
		Timeout: timeout,
	})
}

// FetchOne retrieves a single record by identity.
func (x *Executor) FetchOne(ctx context.Context, resource, id string, timeout time.Duration) (any, error) {
	return x.do(ctx, "fetch "+resource+"/"+id, &Request{
		Method:  http.MethodGet,
		Path:    resource + "/" + url.PathEscape(id),
		Timeout: timeout,
	})
}

// Create posts a new record and returns the decoded response body.
func (x *Executor) Create(ctx context.Context, resource string, attrs map[string]any, timeout time.Duration) (any, error) {
	return x.do(ctx, "create "+resource, &Request{
		Method:  http.MethodPost,
		Path:    resource,
		Body:    attrs,
		Timeout: timeout,
	})
}

// Update puts changed attributes to an existing record.
func (x *Executor) Update(ctx context.Context, resource, id string, attrs map[string]any, timeout time.Duration) (any, error) {
	return x.do(ctx, "update "+resource+"/"+id, &Request{
		Method:  http.MethodPut,
		Path:    resource + "/" + url.PathEscape(id),
		Body:    attrs,
		Timeout: timeout,
	})
}

// Delete removes a record by identity.
func (x *Executor) Delete(ctx context.Context, resource, id string, timeout time.Duration) error {
	_, err := x.do(ctx, "delete "+resource+"/"+id, &Request{
		Method:  http.MethodDelete,
		Path:    resource + "/" + url.PathEscape(id),
		Timeout: timeout,
	})
	return err
}
