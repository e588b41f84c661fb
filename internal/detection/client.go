package detection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"posvision/internal/frame"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServiceErrorMessage is the user-visible text for any inference failure
const ServiceErrorMessage = "Unable to reach the inference service."

// ServiceError is returned for a non-2xx response, a transport failure or
// an undecodable body from the detection service
type ServiceError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("inference service error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("inference service error: %v", e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsServiceError reports whether err is (or wraps) a ServiceError
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// Client submits images to the remote detection endpoint
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithTimeout sets a request timeout; zero leaves the transport default
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// NewClient creates a client for the detection service at baseURL
func NewClient(baseURL string, logger *zap.SugaredLogger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Infer uploads an image payload to <apiBase>/infer and parses the result.
// Failures are terminal for the call; there is no retry.
func (c *Client) Infer(ctx context.Context, payload *frame.Payload) (*InferenceResult, error) {
	if payload == nil || len(payload.Data) == 0 {
		return nil, &ServiceError{Err: errors.New("empty image payload")}
	}

	body, contentType, err := encodeMultipart(payload)
	if err != nil {
		return nil, &ServiceError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/infer", body)
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ServiceError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("detection failed: %s", strings.TrimSpace(string(msg))),
		}
	}

	var result InferenceResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode result: %w", err)}
	}

	c.logger.Debugf("inferred %s (%d bytes): %d detections, model %.0fms, round trip %s",
		payload.Filename, len(payload.Data), result.Count(), result.InferenceMs, time.Since(start).Round(time.Millisecond))

	return &result, nil
}

// Health checks GET <apiBase>/health
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check detection service health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection service health check returned status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	if health.Status != "ok" {
		return &health, fmt.Errorf("detection service reports status %q", health.Status)
	}

	return &health, nil
}

func encodeMultipart(payload *frame.Payload) (io.Reader, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	filename := payload.Filename
	if filename == "" {
		filename = frame.StreamFilename
	}
	contentType := payload.ContentType
	if contentType == "" {
		contentType = frame.ContentTypeJPEG
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", contentType)

	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(payload.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &b, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
