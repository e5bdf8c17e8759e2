// Package imaging is the client for the imaging service REST API.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"viewer-backend/internal/config"
	"viewer-backend/internal/logging"
	"viewer-backend/internal/metrics"
	"viewer-backend/internal/models"
)

const (
	APIKeyHeader        = "Acs-Api-Key"
	AffinityHintHeader  = "Accusoft-Affinity-Hint"
	AffinityTokenHeader = "Accusoft-Affinity-Token"

	// StoppedHTTPStatus is reported in SessionStopped notifications.
	StoppedHTTPStatus = http.StatusGatewayTimeout

	maxErrorBody = 4 << 10
)

// Client talks to the imaging service. Base URIs and the API key are read
// from the current config snapshot on every call.
type Client struct {
	cfg config.Source

	// control carries small JSON calls and is bounded by the request timeout.
	control *http.Client
	// stream carries document bytes; callers bound it with a context.
	stream *http.Client

	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient builds a client with pooled connections and a circuit breaker
// that opens after consecutive transport failures.
func NewClient(src config.Source) *Client {
	cfg := src.Current()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.Imaging.RequestTimeout,
		ForceAttemptHTTP2:     true,
	}

	threshold := cfg.Breaker.FailureThreshold
	settings := gobreaker.Settings{
		Name:    "imaging-service",
		Timeout: cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A request its caller gave up on says nothing about the service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerAborted)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("imaging service circuit breaker state changed")
		},
	}

	return &Client{
		cfg:     src,
		control: &http.Client{Transport: transport, Timeout: cfg.Imaging.RequestTimeout},
		stream:  &http.Client{Transport: transport},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// StreamingClient returns the HTTP client used for body streaming. The
// generic proxy shares it so both use one connection pool.
func (c *Client) StreamingClient() *http.Client {
	return c.stream
}

// BreakerState reports the circuit breaker state for health output.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func sessionPath(id string) string {
	return "/ViewingSession/u" + url.PathEscape(id)
}

// CreateViewingSession posts new session properties and returns the id the
// imaging service assigned. affinityHint routes related calls to one node.
func (c *Client) CreateViewingSession(ctx context.Context, props *models.ViewingSessionProperties, affinityHint string) (string, error) {
	const op = "CreateViewingSession"

	body, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("failed to encode session properties: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.base()+"/ViewingSession", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if affinityHint != "" {
		req.Header.Set(AffinityHintHeader, affinityHint)
	}

	resp, err := c.do(op, c.control, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := expectSuccess(op, resp); err != nil {
		return "", err
	}

	var created models.CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", &UnavailableError{Op: op, Category: CategoryInvalidResponse, Cause: err}
	}
	if created.ViewingSessionID == "" {
		return "", &UnavailableError{Op: op, Category: CategoryInvalidResponse, Cause: fmt.Errorf("response has no viewingSessionId")}
	}
	return created.ViewingSessionID, nil
}

// GetViewingSession fetches the authoritative session properties.
func (c *Client) GetViewingSession(ctx context.Context, id string) (*models.ViewingSessionProperties, error) {
	const op = "GetViewingSession"

	req, err := c.newRequest(ctx, http.MethodGet, c.base()+sessionPath(id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(op, c.control, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := expectSuccess(op, resp); err != nil {
		return nil, err
	}

	var props models.ViewingSessionProperties
	if err := json.NewDecoder(resp.Body).Decode(&props); err != nil {
		return nil, &UnavailableError{Op: op, Category: CategoryInvalidResponse, Cause: err}
	}
	return &props, nil
}

// UploadSourceFile streams the document bytes into the session. size may be
// -1 when unknown.
func (c *Client) UploadSourceFile(ctx context.Context, id, extension string, body io.Reader, size int64) error {
	const op = "UploadSourceFile"

	target := c.base() + sessionPath(id) + "/SourceFile?" + url.Values{"FileExtension": {extension}}.Encode()
	req, err := c.newRequest(ctx, http.MethodPut, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size

	resp, err := c.do(op, c.stream, req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	return expectSuccess(op, resp)
}

// NotifySessionStarted tells the imaging service the viewer is ready. The
// viewer's user agent is passed through.
func (c *Client) NotifySessionStarted(ctx context.Context, id, userAgent string) error {
	req, err := c.newJSONRequest(ctx, c.base()+sessionPath(id)+"/Notification/SessionStarted",
		models.SessionStartedNotification{Viewer: "HTML5"})
	if err != nil {
		return err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return c.doDiscard("NotifySessionStarted", req)
}

// NotifySessionStopped ends a session that could not be prepared. It is sent
// even while the circuit breaker is open.
func (c *Client) NotifySessionStopped(ctx context.Context, id, message string) error {
	const op = "NotifySessionStopped"

	req, err := c.newJSONRequest(ctx, c.base()+sessionPath(id)+"/Notification/SessionStopped",
		models.SessionStoppedNotification{EndUserMessage: message, HTTPStatus: StoppedHTTPStatus})
	if err != nil {
		return err
	}

	resp, err := c.doUnguarded(op, c.control, req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	return expectSuccess(op, resp)
}

// GetSourceFile opens the original document. The caller closes the body.
func (c *Client) GetSourceFile(ctx context.Context, id string) (*http.Response, error) {
	const op = "GetSourceFile"

	req, err := c.newRequest(ctx, http.MethodGet, c.base()+sessionPath(id)+"/SourceFile", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(op, c.stream, req)
	if err != nil {
		return nil, err
	}
	if err := expectSuccess(op, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// ConvertContent starts a content conversion process on the V2 API and
// returns the upstream status and JSON body unchanged.
func (c *Client) ConvertContent(ctx context.Context, fileID, format, affinityToken string) (int, []byte, error) {
	const op = "ConvertContent"

	payload := models.ContentConversionRequest{
		Input: models.ContentConversionInput{
			Src:  models.ContentConversionSource{FileID: fileID},
			Dest: models.ContentConversionDest{Format: format},
		},
	}
	req, err := c.newJSONRequest(ctx, c.baseV2()+"/contentConverters", payload)
	if err != nil {
		return 0, nil, err
	}
	if affinityToken != "" {
		req.Header.Set(AffinityTokenHeader, affinityToken)
	}

	resp, err := c.do(op, c.control, req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if err := expectSuccess(op, resp); err != nil {
		return 0, nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &UnavailableError{Op: op, Category: Classify(err), Cause: err}
	}
	return resp.StatusCode, body, nil
}

func (c *Client) base() string {
	return c.cfg.Current().Imaging.BaseURL()
}

func (c *Client) baseV2() string {
	return c.cfg.Current().Imaging.BaseURLV2()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.cfg.Current().Imaging.APIKey)
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, target string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do executes one attempt through the circuit breaker. Only transport
// failures count against the breaker; any HTTP status is a response.
func (c *Client) do(op string, hc *http.Client, req *http.Request) (*http.Response, error) {
	return c.observe(op, func() (*http.Response, error) {
		return c.breaker.Execute(func() (*http.Response, error) {
			return send(hc, req)
		})
	})
}

// doUnguarded executes one attempt without consulting the breaker.
func (c *Client) doUnguarded(op string, hc *http.Client, req *http.Request) (*http.Response, error) {
	return c.observe(op, func() (*http.Response, error) {
		return send(hc, req)
	})
}

func (c *Client) observe(op string, call func() (*http.Response, error)) (*http.Response, error) {
	start := time.Now()
	resp, err := call()
	metrics.UpstreamDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(op, "unavailable").Inc()
		return nil, &UnavailableError{Op: op, Category: Classify(err), Cause: err}
	}
	metrics.UpstreamRequests.WithLabelValues(op, metrics.StatusClass(resp.StatusCode)).Inc()
	return resp, nil
}

// send marks failures caused by the request's own context being done, so
// cancellations and caller deadlines are not held against the service.
func send(hc *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := hc.Do(req)
	if err != nil && req.Context().Err() != nil {
		return nil, fmt.Errorf("%w: %w", errCallerAborted, err)
	}
	return resp, err
}

func (c *Client) doDiscard(op string, req *http.Request) error {
	resp, err := c.do(op, c.control, req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	return expectSuccess(op, resp)
}

func expectSuccess(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &ProtocolError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Status:     ReasonPhrase(resp),
		Header:     resp.Header.Clone(),
		Body:       body,
	}
}

// ReasonPhrase returns the reason phrase the imaging service sent, falling
// back to the standard text for the code.
func ReasonPhrase(resp *http.Response) string {
	desc := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if desc == "" {
		desc = http.StatusText(resp.StatusCode)
	}
	return desc
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	body.Close()
}
