package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/macrolog/macrolog/internal/schema"
)

// Defaults for Config fields left zero.
const (
	DefaultTimeout           = 15 * time.Second
	DefaultRequestsPerSecond = 5
	DefaultBurst             = 10
	DefaultMaxBodyBytes      = 1 << 20
	maxErrorBodyBytes        = 4096
)

// Config configures an HTTPClient.
type Config struct {
	// BaseURL is the service root, e.g. https://api.example.com.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout bounds every request.
	Timeout time.Duration

	// RequestsPerSecond and Burst throttle outgoing requests.
	RequestsPerSecond float64
	Burst             int

	// MaxBodyBytes bounds decoded response bodies.
	MaxBodyBytes int64

	UserAgent string

	// HTTPClient overrides the transport; Timeout still applies per request.
	HTTPClient *http.Client
}

// HTTPClient implements Client and Pinger against the REST API.
type HTTPClient struct {
	baseURL      *url.URL
	token        string
	timeout      time.Duration
	maxBodyBytes int64
	userAgent    string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

var (
	_ Client = (*HTTPClient)(nil)
	_ Pinger = (*HTTPClient)(nil)
)

// NewHTTPClient validates cfg and returns a client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("remote: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: base url must be http or https, got %q", cfg.BaseURL)
	}

	c := &HTTPClient{
		baseURL:      base,
		token:        cfg.Token,
		timeout:      cfg.Timeout,
		maxBodyBytes: cfg.MaxBodyBytes,
		userAgent:    cfg.UserAgent,
		httpClient:   cfg.HTTPClient,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxBodyBytes <= 0 {
		c.maxBodyBytes = DefaultMaxBodyBytes
	}
	if c.userAgent == "" {
		c.userAgent = "macrolog"
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	rps, burst := cfg.RequestsPerSecond, cfg.Burst
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)

	return c, nil
}

// List implements Client.
func (c *HTTPClient) List(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error) {
	const op = "list entries"

	var wire []entryWire
	q := url.Values{"date": {date.String()}}
	if err := c.do(ctx, op, http.MethodGet, "/food/entries", q, nil, nil, &wire); err != nil {
		return nil, err
	}

	entries := make([]schema.FoodEntry, 0, len(wire))
	for _, w := range wire {
		e, err := w.entry()
		if err != nil {
			return nil, &Error{Op: op, Kind: ErrServer, Message: "malformed entry", Err: err}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, draft schema.Draft, idempotencyKey string) (schema.FoodEntry, error) {
	const op = "create entry"

	header := http.Header{}
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}

	var wire entryWire
	if err := c.do(ctx, op, http.MethodPost, "/food/entries", nil, header, draft, &wire); err != nil {
		return schema.FoodEntry{}, err
	}
	e, err := wire.entry()
	if err != nil {
		return schema.FoodEntry{}, &Error{Op: op, Kind: ErrServer, Message: "malformed entry", Err: err}
	}
	return e, nil
}

// Delete implements Client.
func (c *HTTPClient) Delete(ctx context.Context, id schema.EntryID) error {
	if id.IsPlaceholder() {
		return &Error{Op: "delete entry", Kind: ErrValidation, Message: fmt.Sprintf("%s was never submitted", id)}
	}
	return c.do(ctx, "delete entry", http.MethodDelete, "/food/entries/"+id.String(), nil, nil, nil, nil)
}

// Summary implements Client.
func (c *HTTPClient) Summary(ctx context.Context, date schema.Date) (schema.MacroSummary, error) {
	var s schema.MacroSummary
	q := url.Values{"date": {date.String()}}
	if err := c.do(ctx, "get summary", http.MethodGet, "/dashboard/summary", q, nil, nil, &s); err != nil {
		return schema.MacroSummary{}, err
	}
	if s.Date.IsZero() {
		s.Date = date
	}
	s.Source = schema.SourceRemote
	return s, nil
}

// Goals returns the goals stored on the service.
func (c *HTTPClient) Goals(ctx context.Context) (schema.MacroGoals, error) {
	var g schema.MacroGoals
	if err := c.do(ctx, "get goals", http.MethodGet, "/macro-goals", nil, nil, nil, &g); err != nil {
		return schema.MacroGoals{}, err
	}
	return g, nil
}

// SetGoals replaces the goals stored on the service.
func (c *HTTPClient) SetGoals(ctx context.Context, goals schema.MacroGoals) (schema.MacroGoals, error) {
	var g schema.MacroGoals
	if err := c.do(ctx, "set goals", http.MethodPost, "/macro-goals", nil, nil, goals, &g); err != nil {
		return schema.MacroGoals{}, err
	}
	return g, nil
}

// Ping implements Pinger.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, "health check", http.MethodGet, "/health", nil, nil, nil, nil)
}

// do performs one request. A nil body sends no payload; a nil out discards
// the response body.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, query url.Values, header http.Header, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.send(ctx, op, method, path, query, header, reader, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodyBytes))
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return &Error{Op: op, Kind: ErrNetwork, Err: err}
		}
		return &Error{Op: op, Kind: ErrServer, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// PostFile uploads data as the multipart form field and returns the raw
// response body. Errors are classified like every other call.
func (c *HTTPClient) PostFile(ctx context.Context, path, field, filename string, data []byte) ([]byte, error) {
	op := "upload " + path
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", http.DetectContentType(data))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("%s: create form part: %w", op, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("%s: write form part: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%s: close form: %w", op, err)
	}

	resp, err := c.send(ctx, op, http.MethodPost, path, nil, nil, &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrNetwork, Err: err}
	}
	return raw, nil
}

// send throttles, issues the request and maps transport failures and
// non-2xx statuses to *Error. The caller closes the body of the returned
// response.
func (c *HTTPClient) send(ctx context.Context, op, method, path string, query url.Values, header http.Header, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Op: op, Kind: ErrNetwork, Message: "rate limit wait", Err: err}
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrNetwork, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(op, resp)
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	e := &Error{Op: op, Kind: kindForStatus(resp.StatusCode), Status: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return e
	}
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.text() != "" {
		e.Message = eb.text()
	} else {
		e.Message = strings.TrimSpace(string(raw))
	}
	return e
}
