package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/monitor"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 5 // requests per second

	pathLogin      = "/users/login"
	pathRegister   = "/users/register"
	pathUserInfo   = "/auth/user-info"
	pathLogout     = "/auth/logout"
	pathBalance    = "/substrate/balance"
	pathConfig     = "/substrate/config"
	pathTransfer   = "/substrate/transfer"
	idempotencyKey = "Idempotency-Key"
)

// ErrUnauthorized is returned when the backend rejects the session cookie.
var ErrUnauthorized = errors.New("not logged in")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// ServerMessage returns the human-readable message sent by the backend.
func (e *APIError) ServerMessage() string {
	return e.Message
}

type errorBody struct {
	Message string `json:"message"`
}

// Credentials email/password pair for Login and Register.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SubstrateConfig chain settings served by the backend.
type SubstrateConfig struct {
	RPCURL      string `json:"rpcUrl"`
	TokenID     string `json:"tokenId"`
	UseBalances bool   `json:"useBalances"`
	SS58Prefix  *int   `json:"ss58Prefix"`
	Decimals    *int   `json:"decimals"`
}

// InitialBalance balance of the logged-in user as seen by the backend.
type InitialBalance struct {
	Balance     string  `json:"balance"`
	BlockNumber *uint64 `json:"blockNumber,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

type transferResponse struct {
	TxHash  string `json:"txHash"`
	Hash    string `json:"hash"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// BackendConfig configures Backend.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit requests per second; zero uses the default.
	RateLimit float64
}

// Backend is the wallet backend client: auth, token config, initial balance
// and the transfer endpoint. The session lives in an HttpOnly cookie kept in
// the client's cookie jar.
type Backend struct {
	client  *resty.Client
	jar     http.CookieJar
	baseURL *url.URL
	logger  *zap.Logger
}

// NewBackend creates a backend client.
func NewBackend(cfg BackendConfig, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("invalid backend url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "create cookie jar")
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)

	client := resty.New().
		SetBaseURL(base.String()).
		SetTimeout(cfg.Timeout).
		SetCookieJar(jar).
		SetHeader("Accept", "application/json").
		AddRequestMiddleware(func(c *resty.Client, r *resty.Request) error {
			if err := limiter.Wait(r.Context()); err != nil {
				logger.Warn("rate limiter wait failed", zap.Error(err))
				return err
			}
			logger.Debug("backend request", zap.String("method", r.Method), zap.String("url", r.URL))
			return nil
		}).
		AddResponseMiddleware(func(c *resty.Client, resp *resty.Response) error {
			monitor.BackendRequests.WithLabelValues(requestPath(resp.Request.URL), statusClass(resp.StatusCode())).Inc()
			if resp.StatusCode() >= 400 {
				logger.Warn("backend request failed",
					zap.Int("status", resp.StatusCode()),
					zap.String("url", resp.Request.URL),
				)
			}
			return nil
		})

	return &Backend{
		client:  client,
		jar:     jar,
		baseURL: base,
		logger:  logger,
	}, nil
}

// BaseURL returns the backend root URL.
func (b *Backend) BaseURL() string {
	return b.baseURL.String()
}

// Login authenticates with email and password. The backend answers with a session cookie.
func (b *Backend) Login(ctx context.Context, creds Credentials) error {
	return b.authenticate(ctx, pathLogin, creds, "login failed")
}

// Register creates an account and starts a session.
func (b *Backend) Register(ctx context.Context, creds Credentials) error {
	return b.authenticate(ctx, pathRegister, creds, "registration failed")
}

func (b *Backend) authenticate(ctx context.Context, path string, creds Credentials, fallback string) error {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return errors.New("email and password are required")
	}

	var failure errorBody
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(creds).
		SetError(&failure).
		Post(path)
	if err != nil {
		return errors.Wrap(err, fallback)
	}
	if resp.IsError() {
		return apiError(resp.StatusCode(), failure.Message, fallback)
	}

	return nil
}

// OAuthLoginURL returns the URL that starts the provider's login flow in a browser.
func (b *Backend) OAuthLoginURL(provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", errors.New("oauth provider is required")
	}
	return b.baseURL.JoinPath("auth", provider).String(), nil
}

// CurrentUser returns the logged-in user, or ErrUnauthorized without a valid session.
func (b *Backend) CurrentUser(ctx context.Context) (domain.UserProfile, error) {
	var user domain.UserProfile
	var failure errorBody
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&user).
		SetError(&failure).
		Get(pathUserInfo)
	if err != nil {
		return domain.UserProfile{}, errors.Wrap(err, "fetch user info")
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return domain.UserProfile{}, ErrUnauthorized
	case resp.IsError():
		return domain.UserProfile{}, apiError(resp.StatusCode(), failure.Message, "failed to fetch user data")
	}

	return user, nil
}

// Logout ends the session on the backend and drops local cookies.
func (b *Backend) Logout(ctx context.Context) error {
	resp, err := b.client.R().
		SetContext(ctx).
		Get(pathLogout)
	if err != nil {
		return errors.Wrap(err, "logout")
	}
	b.jar.SetCookies(b.baseURL, expired(b.jar.Cookies(b.baseURL)))
	if resp.IsError() {
		return apiError(resp.StatusCode(), "", "logout failed")
	}

	return nil
}

// SubstrateConfig fetches chain settings for the token.
func (b *Backend) SubstrateConfig(ctx context.Context) (SubstrateConfig, error) {
	var cfg SubstrateConfig
	var failure errorBody
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&cfg).
		SetError(&failure).
		Get(pathConfig)
	if err != nil {
		return SubstrateConfig{}, errors.Wrap(err, "fetch substrate config")
	}
	if resp.IsError() {
		return SubstrateConfig{}, apiError(resp.StatusCode(), failure.Message, "failed to fetch substrate config")
	}

	return cfg, nil
}

// Balance fetches the logged-in user's balance from the backend.
func (b *Backend) Balance(ctx context.Context) (InitialBalance, error) {
	var balance InitialBalance
	var failure errorBody
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&balance).
		SetError(&failure).
		Get(pathBalance)
	if err != nil {
		return InitialBalance{}, errors.Wrap(err, "fetch balance")
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return InitialBalance{}, ErrUnauthorized
	}
	if resp.IsError() {
		return InitialBalance{}, apiError(resp.StatusCode(), failure.Message, "failed to fetch balance")
	}

	return balance, nil
}

// Transfer posts a transfer order. It implements transfer.Endpoint.
func (b *Backend) Transfer(ctx context.Context, order domain.TransferOrder) (domain.TransactionReference, error) {
	var result transferResponse
	var failure errorBody
	req := b.client.R().
		SetContext(ctx).
		SetBody(order).
		SetResult(&result).
		SetError(&failure)
	if order.RequestID != "" {
		req.SetHeader(idempotencyKey, order.RequestID)
	}

	resp, err := req.Post(pathTransfer)
	if err != nil {
		return domain.TransactionReference{}, errors.Wrap(err, "submit transfer")
	}
	if resp.IsError() {
		return domain.TransactionReference{}, apiError(resp.StatusCode(), failure.Message, "")
	}

	hash := result.TxHash
	if hash == "" {
		hash = result.Hash
	}

	return domain.TransactionReference{
		SubmittedAt: time.Now(),
		RequestID:   order.RequestID,
		TxHash:      hash,
		Status:      result.Status,
		Message:     result.Message,
	}, nil
}

// Cookies returns the session cookies for the backend.
func (b *Backend) Cookies() []*http.Cookie {
	return b.jar.Cookies(b.baseURL)
}

// SetCookies restores session cookies saved by a previous run.
func (b *Backend) SetCookies(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	b.jar.SetCookies(b.baseURL, cookies)
}

// Close releases idle connections.
func (b *Backend) Close() error {
	return b.client.Close()
}

func apiError(status int, message, fallback string) *APIError {
	message = strings.TrimSpace(message)
	if message == "" {
		message = fallback
	}
	return &APIError{Status: status, Message: message}
}

func expired(cookies []*http.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{Name: c.Name, Value: "", Path: "/", MaxAge: -1})
	}
	return out
}

func requestPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "unknown"
	}
	return u.Path
}

func statusClass(code int) string {
	if code <= 0 {
		return "none"
	}
	return strconv.Itoa(code/100) + "xx"
}
