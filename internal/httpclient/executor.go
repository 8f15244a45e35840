package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/metrics"
	"github.com/Checker-Finance/panelbot/internal/rate"
)

// StatusError is returned for non-2xx responses when no error handler is set.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// Executor handles rate-limited HTTP execution with JSON decoding. Each call
// is sent at most once; failures are returned, never retried.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	tag          string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. errorHandler is called on failure responses to produce a
// remote-specific error. If nil, a *StatusError is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	tag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		tag:          tag,
		errorHandler: errorHandler,
	}
}

// Do executes req once with rate limiting, then JSON-decodes a 2xx response
// into out. It returns the HTTP status, or 0 when no response was received.
// rateLimitKey scopes the rate limiter per remote host.
func (e *Executor) Do(ctx context.Context, req *http.Request, rateLimitKey string, out any) (int, error) {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return 0, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req = req.WithContext(ctx)
	endpoint := req.URL.Path

	start := time.Now()
	resp, err := e.http.Do(req)
	metrics.ObserveDuration(metrics.PanelRequestDuration, start, e.tag, req.Method)
	if err != nil {
		metrics.IncPanelRequest(e.tag, req.Method, "transport_error")
		e.logger.Warn(e.tag+".http_failed",
			zap.String("path", endpoint),
			zap.Error(err))
		return 0, fmt.Errorf("%s request failed: %w", e.tag, err)
	}

	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	elapsed := time.Since(start)
	metrics.IncPanelRequest(e.tag, req.Method, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Debug(e.tag+".http_status",
			zap.String("path", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))
		return resp.StatusCode, e.statusErr(resp.StatusCode, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			e.logger.Warn(e.tag+".decode_failed",
				zap.Error(err),
				zap.String("path", endpoint),
				zap.Int("body_bytes", len(body)))
			return resp.StatusCode, fmt.Errorf("decode failed: %w", err)
		}
	}

	e.logger.Debug(e.tag+".http_success",
		zap.String("path", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))

	return resp.StatusCode, nil
}

func (e *Executor) statusErr(status int, body []byte) error {
	if e.errorHandler != nil {
		return e.errorHandler(status, body)
	}
	return &StatusError{Status: status, Body: body}
}
