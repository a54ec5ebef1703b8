package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultPerPage = 200

// HTTPClient talks to a PocketBase-style record API:
// /api/collections/{collection}/records[/{id}] plus a websocket realtime
// endpoint at /api/realtime.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	perPage    int
	logger     Logger
}

type HTTPOptions struct {
	Token      string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	PerPage    int
	Logger     Logger
}

func NewHTTPClient(baseURL string, opts HTTPOptions) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8090"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	c := &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
		perPage:    defaultPerPage,
		logger:     opts.Logger,
	}
	if opts.MaxRetries > 0 {
		c.maxRetries = opts.MaxRetries
	}
	if opts.BaseDelay > 0 {
		c.baseDelay = opts.BaseDelay
	}
	if opts.MaxDelay > 0 {
		c.maxDelay = opts.MaxDelay
	}
	if opts.PerPage > 0 {
		c.perPage = opts.PerPage
	}
	return c
}

type recordPage struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
	Items      []json.RawMessage `json:"items"`
}

func (c *HTTPClient) List(ctx context.Context, collection string, opts ListOptions) ([]json.RawMessage, error) {
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParseSort(opts.Sort); err != nil {
		return nil, err
	}
	var out []json.RawMessage
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("perPage", strconv.Itoa(c.perPage))
		if len(opts.Filter) > 0 {
			q.Set("filter", opts.Filter.PocketBase())
		}
		if opts.Sort != "" {
			q.Set("sort", opts.Sort)
		}
		setExpand(q, opts.Expand)
		var resp recordPage
		if err := c.doJSON(ctx, http.MethodGet, recordsPath(collection, "")+"?"+q.Encode(), collection, "", nil, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Items...)
		if len(resp.Items) == 0 || page >= resp.TotalPages {
			return out, nil
		}
	}
}

func (c *HTTPClient) Get(ctx context.Context, collection, id string, expand []string) (json.RawMessage, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty %s id", ErrInvalidInput, collection)
	}
	var out json.RawMessage
	err := c.doJSON(ctx, http.MethodGet, recordsPath(collection, id)+expandQuery(expand), collection, id, nil, &out)
	return out, err
}

func (c *HTTPClient) Create(ctx context.Context, collection string, fields map[string]any, expand []string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.doJSON(ctx, http.MethodPost, recordsPath(collection, "")+expandQuery(expand), collection, "", fields, &out)
	return out, err
}

func (c *HTTPClient) Update(ctx context.Context, collection, id string, patch map[string]any, expand []string) (json.RawMessage, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty %s id", ErrInvalidInput, collection)
	}
	var out json.RawMessage
	err := c.doJSON(ctx, http.MethodPatch, recordsPath(collection, id)+expandQuery(expand), collection, id, patch, &out)
	return out, err
}

func (c *HTTPClient) Delete(ctx context.Context, collection, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty %s id", ErrInvalidInput, collection)
	}
	return c.doJSON(ctx, http.MethodDelete, recordsPath(collection, id), collection, id, nil, nil)
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func recordsPath(collection, id string) string {
	p := "/api/collections/" + url.PathEscape(collection) + "/records"
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func setExpand(q url.Values, expand []string) {
	if len(expand) > 0 {
		q.Set("expand", strings.Join(expand, ","))
	}
}

func expandQuery(expand []string) string {
	if len(expand) == 0 {
		return ""
	}
	q := url.Values{}
	setExpand(q, expand)
	return "?" + q.Encode()
}

type apiError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Data    map[string]struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
}

func (c *HTTPClient) doJSON(
	ctx context.Context,
	method, requestPath string,
	collection, id string,
	body any,
	out any,
) error {
	op := method + " " + collection
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode %s body: %v", ErrInvalidInput, collection, err)
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if method != http.MethodPost && attempt < c.maxRetries {
				c.logf("%s: attempt %d failed: %v", op, attempt+1, err)
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return &NetworkError{Op: op, Err: err}
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return &NetworkError{Op: op, Err: readErr}
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			if err := json.Unmarshal(payloadBytes, out); err != nil {
				return fmt.Errorf("decode %s response: %w", op, err)
			}
			return nil
		}

		if retryableStatus(method, resp.StatusCode) && attempt < c.maxRetries {
			c.logf("%s: attempt %d got http %d", op, attempt+1, resp.StatusCode)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return statusError(resp.StatusCode, collection, id, payloadBytes)
	}
}

// retryableStatus reports whether a status is worth retrying. Creates are
// only retried on 429 since a 5xx may have persisted the record. Transport
// errors on a create are never retried for the same reason.
func retryableStatus(method string, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 && status <= 599 {
		return method != http.MethodPost
	}
	return false
}

func statusError(status int, collection, id string, payload []byte) error {
	var errPayload apiError
	_ = json.Unmarshal(payload, &errPayload)
	switch {
	case status == http.StatusNotFound:
		return &NotFoundError{Collection: collection, ID: id}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		fields := map[string]string{}
		for name, detail := range errPayload.Data {
			msg := detail.Message
			if msg == "" {
				msg = detail.Code
			}
			fields[name] = msg
		}
		return &ValidationError{Collection: collection, Message: errPayload.Message, Fields: fields}
	}
	httpErr := &HTTPError{
		StatusCode: status,
		Code:       strings.Trim(string(errPayload.Code), `"`),
		Message:    errPayload.Message,
	}
	if httpErr.Message == "" {
		httpErr.Message = http.StatusText(status)
	}
	if errors.Is(httpErr, ErrNetwork) {
		return &NetworkError{Op: collection, Err: httpErr}
	}
	return httpErr
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *HTTPClient) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
