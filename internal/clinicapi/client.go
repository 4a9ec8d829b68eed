package clinicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/clinic-requests/pkg/errors"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

const maxErrorBody = 64 << 10

type Config struct {
	// BaseURL is the API root, e.g. http://host/api.
	BaseURL string
	Timeout time.Duration
}

// Client talks to the clinic REST API and its /aws federation group. Every
// call decodes into an explicit type; shape deviations surface as decode
// errors, non-2xx answers as upstream errors.
type Client struct {
	baseURL  string
	awsURL   string
	http     *http.Client
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

func NewClient(cfg Config, m *metrics.Metrics, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.Nop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		baseURL:  base,
		awsURL:   base + "/aws",
		http:     &http.Client{Timeout: cfg.Timeout},
		validate: validator.New(),
		metrics:  m,
		logger:   log.With("clinicapi"),
	}
}

type call struct {
	op          string
	method      string
	url         string
	query       url.Values
	body        io.Reader
	contentType string
}

func (c *Client) api(path string) string { return c.baseURL + path }
func (c *Client) aws(path string) string { return c.awsURL + path }

func jsonCall(op, method, u string, payload interface{}) (call, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return call{}, errors.NewInternal(fmt.Errorf("%s: failed to encode body: %w", op, err))
	}
	return call{op: op, method: method, url: u, body: bytes.NewReader(b), contentType: "application/json"}, nil
}

// do runs the call and returns the raw 2xx body.
func (c *Client) do(ctx context.Context, cl call) ([]byte, error) {
	target := cl.url
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, target, cl.body)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("%s: failed to build request: %w", cl.op, err))
	}
	req.Header.Set("Accept", "application/json")
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(cl.op, "error", start)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Transport(cl.op, err)
	}
	defer resp.Body.Close()
	c.observe(cl.op, strconv.Itoa(resp.StatusCode), start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Transport(cl.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := serverMessage(body)
		c.logger.Debug("clinic api rejected call", "operation", cl.op, "status", resp.StatusCode, "message", msg)
		return nil, errors.Upstream(resp.StatusCode, msg)
	}
	return body, nil
}

func (c *Client) observe(op, status string, start time.Time) {
	c.metrics.UpstreamLatency.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// serverMessage extracts the human readable reason from an error body.
func serverMessage(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	var payload struct {
		Message interface{} `json:"message"`
		Error   interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, v := range []interface{}{payload.Message, payload.Error} {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(body))
}

// decode unmarshals body into out and validates struct tags. A top level
// {"data": ...} wrapper is unwrapped when out is not itself an envelope.
func (c *Client) decode(op string, body []byte, out interface{}, unwrap bool) error {
	if unwrap {
		body = unwrapData(body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Decode(op, err)
	}
	if err := c.validate.Struct(out); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); ok {
			return nil
		}
		return errors.Decode(op, err)
	}
	return nil
}

func unwrapData(body []byte) []byte {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return body
	}
	if _, hasID := probe["id"]; hasID {
		return body
	}
	if data, ok := probe["data"]; ok && len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		return data
	}
	return body
}

// decodeSlice accepts a bare array or one wrapped under data or message.
func decodeSlice[T any](op string, body []byte) ([]T, error) {
	var out []T
	if err := json.Unmarshal(body, &out); err == nil {
		return out, nil
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Decode(op, err)
	}
	for _, key := range []string{"data", "message", "organizations", "items"} {
		raw, ok := env[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
	}
	return nil, errors.Decode(op, fmt.Errorf("no list found in response"))
}
