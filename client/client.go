package client

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

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/livefeedback/metrics"
)

const (
	// DefaultKeepAlive is the interval between keep-alive frames.
	DefaultKeepAlive = 15 * time.Second

	// DefaultUserAgent is sent with every request unless overridden.
	DefaultUserAgent = "livefeedback-client"

	defaultHTTPTimeout = 10 * time.Second

	// socketPath is appended to the API endpoint to reach the STOMP socket.
	socketPath = "/ws/websocket"

	// maxResponseSize bounds JSON response reads.
	maxResponseSize int64 = 4 << 20
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// APIURL is the base URL of the REST API (e.g. "https://ars.particify.de/api").
	APIURL string
	// HTTPClient is used for REST calls. If nil, a client with a 10s timeout is used.
	HTTPClient *http.Client
	// Dialer opens streaming sockets. If nil, websocket.DefaultDialer is used.
	Dialer *websocket.Dialer
	// KeepAlive is the fixed interval between keep-alive frames. Defaults to 15s.
	KeepAlive time.Duration
	// UserAgent is sent on REST calls and the socket upgrade.
	UserAgent string
	// Logger is used for structured logging. If nil, the global zerolog logger is used.
	Logger *zerolog.Logger
	// Metrics records stream activity. Optional.
	Metrics *metrics.Metrics
}

// Client is an unauthenticated feedback client. Its only service operation
// is GuestLogin, which yields an authenticated Session.
type Client struct {
	baseURL    string
	socketURL  string
	httpClient *http.Client
	dialer     *websocket.Dialer
	keepAlive  time.Duration
	userAgent  string
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a new unauthenticated client. It fails with KindURL
// when APIURL is not an absolute http or https URL.
func NewClient(config ClientConfig) (*Client, error) {
	parsed, err := url.Parse(config.APIURL)
	if err != nil {
		return nil, &Error{Op: "new client", Kind: KindURL, Err: err}
	}
	if parsed.Host == "" {
		return nil, &Error{Op: "new client", Kind: KindURL, Message: fmt.Sprintf("%q has no host", config.APIURL)}
	}

	socketURL := *parsed
	switch parsed.Scheme {
	case "http":
		socketURL.Scheme = "ws"
	case "https":
		socketURL.Scheme = "wss"
	default:
		return nil, &Error{Op: "new client", Kind: KindURL, Message: fmt.Sprintf("unsupported scheme %q", parsed.Scheme)}
	}
	socketURL.Path = strings.TrimRight(parsed.Path, "/") + socketPath
	socketURL.RawPath = ""
	socketURL.RawQuery = ""
	socketURL.Fragment = ""

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	keepAlive := config.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Client{
		baseURL:    strings.TrimRight(config.APIURL, "/"),
		socketURL:  socketURL.String(),
		httpClient: httpClient,
		dialer:     dialer,
		keepAlive:  keepAlive,
		userAgent:  userAgent,
		logger:     logger.With().Str("module", "client").Logger(),
		metrics:    config.Metrics,
	}, nil
}

// BaseURL returns the REST endpoint without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SocketURL returns the streaming endpoint derived from the REST endpoint.
func (c *Client) SocketURL() string {
	return c.socketURL
}

type loginResponse struct {
	Token string `json:"token"`
}

// GuestLogin requests an anonymous guest token.
//
// A transport failure yields KindConnection; a response without a usable
// token yields KindLogin.
func (c *Client) GuestLogin(ctx context.Context) (*Session, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/login/guest", "", nil, nil)
	if err != nil {
		return nil, connectionError("login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Op: "login", Kind: KindLogin, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var login loginResponse
	if err := decodeResponse(resp.Body, &login); err != nil {
		return nil, &Error{Op: "login", Kind: KindLogin, Err: err}
	}
	if login.Token == "" {
		return nil, &Error{Op: "login", Kind: KindLogin, Message: "response carries no token"}
	}

	c.logger.Info().Msg("logged in as guest")

	return &Session{client: c, token: login.Token}, nil
}

// doRequest performs a REST call. token is sent as a bearer token when set,
// and body is JSON encoded when non-nil.
func (c *Client) doRequest(ctx context.Context, method, path, token string, body any, headers map[string]string) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return c.httpClient.Do(req)
}

// decodeResponse reads at most maxResponseSize bytes and JSON-decodes them into v.
func decodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}
