package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/httpclient"
	"github.com/Checker-Finance/panelbot/internal/rate"
)

// ErrNoCredentials is returned when a request is attempted without an API key.
var ErrNoCredentials = errors.New("panel: api key not set")

// Client wraps HTTP communication with one panel's client API.
// Credentials are supplied per request so a single Client serves every user.
// Requests are never retried.
type Client struct {
	logger    *zap.Logger
	exec      *httpclient.Executor
	userAgent string
}

// NewClient constructs a panel client. name tags logs and metrics.
func NewClient(logger *zap.Logger, rateMgr *rate.Manager, httpClient *http.Client, name, userAgent string) *Client {
	exec := httpclient.New(logger, rateMgr, httpClient, name, func(status int, body []byte) error {
		return decodeError(status, body)
	})
	return &Client{
		logger:    logger,
		exec:      exec,
		userAgent: userAgent,
	}
}

// SendPowerSignal sends signal to the server and returns the response status.
// POST /api/client/servers/{serverID}/power
func (c *Client) SendPowerSignal(ctx context.Context, creds Credentials, serverID, signal string) (int, error) {
	body, err := json.Marshal(powerRequest{Signal: signal})
	if err != nil {
		return 0, err
	}

	req, err := c.newRequest(ctx, creds, http.MethodPost, "/api/client/servers/"+url.PathEscape(serverID)+"/power", body)
	if err != nil {
		return 0, err
	}
	return c.exec.Do(ctx, req, rateKey(creds), nil)
}

// ListServers returns the servers visible to the API key, in panel order.
// GET /api/client
func (c *Client) ListServers(ctx context.Context, creds Credentials) ([]Server, error) {
	req, err := c.newRequest(ctx, creds, http.MethodGet, "/api/client", nil)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if _, err := c.exec.Do(ctx, req, rateKey(creds), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}

	servers := make([]Server, 0, len(resp.Data))
	for _, item := range resp.Data {
		servers = append(servers, item.Attributes)
	}
	return servers, nil
}

func (c *Client) newRequest(ctx context.Context, creds Credentials, method, path string, body []byte) (*http.Request, error) {
	if creds.APIKey == "" {
		return nil, ErrNoCredentials
	}

	var req *http.Request
	var err error
	endpoint := strings.TrimSuffix(creds.BaseURL, "/") + path
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("panel: build request: %w", err)
	}
	setHeaders(req, creds.APIKey, c.userAgent, body != nil)
	return req, nil
}

// setHeaders sets required headers for panel API requests.
func setHeaders(req *http.Request, apiKey, userAgent string, hasBody bool) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

// rateKey scopes the outbound limiter per panel host.
func rateKey(creds Credentials) string {
	if u, err := url.Parse(creds.BaseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return creds.BaseURL
}

func decodeError(status int, body []byte) error {
	perr := &Error{Status: status}
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Errors) > 0 {
		perr.Code = resp.Errors[0].Code
		perr.Detail = resp.Errors[0].Detail
	}
	return perr
}
