package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codejudger/internal/judge/model"
	pkgerrors "codejudger/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// APIPrefix is where judge-service mounts the submission API.
const APIPrefix = "/api/v1/judge"

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Envelope is the judge-service response wrapper.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Details map[string]any  `json:"details,omitempty"`
	TraceID string          `json:"trace_id,omitempty"`
}

// APIError is a non-success answer from judge-service.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Details    map[string]any
	TraceID    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("HTTP %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
	if e.TraceID != "" {
		msg += " trace=" + e.TraceID
	}
	return msg
}

// Accepted is the body of a 202 answer.
type Accepted struct {
	SubmissionID string       `json:"submission_id"`
	Status       model.Status `json:"status"`
}

// Client wraps HTTP requests for CLI.
type Client struct {
	baseURL string
	timeout time.Duration
	dialer  *websocket.Dialer
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
		c.dialer.HandshakeTimeout = timeout
	}
}

func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	client := &http.Client{Timeout: c.timeout}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}

// Submit posts job. An empty id lets the server assign one.
func (c *Client) Submit(ctx context.Context, id string, job *model.Job) (Accepted, error) {
	var out Accepted
	body, err := json.Marshal(job)
	if err != nil {
		return out, fmt.Errorf("marshal job failed: %w", err)
	}
	path := APIPrefix + "/submissions"
	if id != "" {
		path += "/" + url.PathEscape(id)
	}
	err = c.call(ctx, http.MethodPost, path, body, &out)
	return out, err
}

// Status fetches the current record of a submission.
func (c *Client) Status(ctx context.Context, id string) (model.StatusRecord, error) {
	var out model.StatusRecord
	err := c.call(ctx, http.MethodGet, submissionPath(id), nil, &out)
	return out, err
}

// Rejudge queues a stored submission again.
func (c *Client) Rejudge(ctx context.Context, id string) (Accepted, error) {
	var out Accepted
	err := c.call(ctx, http.MethodPost, submissionPath(id)+"/rejudge", nil, &out)
	return out, err
}

// Watch streams status snapshots of a submission to fn until the server
// closes the stream after a terminal status, fn fails or ctx ends.
func (c *Client) Watch(ctx context.Context, id string, fn func(model.StatusRecord) error) error {
	target, err := c.wsURL(submissionPath(id) + "/watch")
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, http.Header{"X-Request-Id": {uuid.NewString()}})
	if err != nil {
		if stderrors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			data, _ := io.ReadAll(resp.Body)
			return decodeError(resp.StatusCode, data)
		}
		return fmt.Errorf("open watch stream failed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		var rec model.StatusRecord
		if err := conn.ReadJSON(&rec); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read watch stream failed: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, out any) error {
	resp, err := c.Do(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, resp.Body)
	}
	var env Envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	if env.Code != int(pkgerrors.Success) {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message, Details: env.Details, TraceID: env.TraceID}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}

func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func submissionPath(id string) string {
	return APIPrefix + "/submissions/" + url.PathEscape(id)
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}
	var env Envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		apiErr.Code = env.Code
		apiErr.Message = env.Message
		apiErr.Details = env.Details
		apiErr.TraceID = env.TraceID
	}
	return apiErr
}
