// Package court is the REST client for the court case-management API.
package court

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Credentials is the token store the client authenticates with.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	RefreshToken() (string, error)
	Save(access, refresh string, remember bool) error
	UpdateAccess(access string) error
	Clear() error
}

// Client calls the court API with bearer authentication. A 401 triggers a
// single token refresh and retry; when the refresh fails the credentials
// are cleared and ErrUnauthorized is returned.
type Client struct {
	http  *resty.Client
	creds Credentials
	log   *zap.Logger

	refreshMu sync.Mutex
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New creates a client for the API at baseURL.
func New(baseURL string, creds Credentials, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	return &Client{http: hc, creds: creds, log: logger.Named("court")}
}

// call is one authenticated request. build may be invoked twice when the
// request is retried after a refresh, so it must not consume one-shot readers.
type call struct {
	method string
	path   string
	build  func(*resty.Request)
	out    any
}

func (c *Client) do(ctx context.Context, cl call) error {
	for attempt := 0; ; attempt++ {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s %s: %w", cl.method, cl.path, ErrUnauthorized)
		}
		req := c.http.R().SetContext(ctx).SetAuthToken(token)
		if cl.build != nil {
			cl.build(req)
		}
		resp, err := req.Execute(cl.method, cl.path)
		if err != nil {
			return fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
		}
		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			c.log.Debug("access token rejected, refreshing", zap.String("path", cl.path))
			if err := c.refresh(ctx, token); err != nil {
				return err
			}
			continue
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return decode(resp, cl.out)
	}
}

// Token returns the stored access token. Together with Renew it lets the
// push channels authenticate with the same credentials as REST calls.
func (c *Client) Token(ctx context.Context) (string, error) { return c.creds.Token(ctx) }

// Renew refreshes the access token after stale was rejected elsewhere.
func (c *Client) Renew(ctx context.Context, stale string) error { return c.refresh(ctx, stale) }

// refresh exchanges the refresh token for a new access token. stale is the
// token that was rejected; if another caller already replaced it, nothing
// is done.
func (c *Client) refresh(ctx context.Context, stale string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if current, err := c.creds.Token(ctx); err == nil && current != stale {
		return nil
	}
	refresh, err := c.creds.RefreshToken()
	if err != nil {
		return c.logout(err)
	}

	var pair TokenPair
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"refresh": refresh}).
		Post("/api/token/refresh/")
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if resp.IsError() {
		return c.logout(apiError(resp))
	}
	if err := decode(resp, &pair); err != nil {
		return c.logout(err)
	}
	if err := c.creds.UpdateAccess(pair.Access); err != nil {
		return err
	}
	c.log.Info("access token refreshed")
	return nil
}

func (c *Client) logout(cause error) error {
	c.log.Warn("token refresh failed, signing out", zap.Error(cause))
	if err := c.creds.Clear(); err != nil {
		c.log.Error("clear credentials", zap.Error(err))
	}
	return ErrUnauthorized
}

func apiError(resp *resty.Response) error {
	e := &APIError{
		Method: resp.Request.Method,
		Path:   resp.Request.URL,
		Status: resp.StatusCode(),
	}
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil {
		e.Detail = body.Detail
	}
	return e
}

func decode(resp *resty.Response, out any) error {
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s: %w", resp.Request.URL, err)
	}
	return nil
}

// Login exchanges a username and password for tokens and stores them.
// remember keeps the credential across daemon restarts.
func (c *Client) Login(ctx context.Context, req LoginRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	var pair TokenPair
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": req.Username, "password": req.Password}).
		Post("/api/token/")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusBadRequest {
		return ErrInvalidLogin
	}
	if resp.IsError() {
		return apiError(resp)
	}
	if err := decode(resp, &pair); err != nil {
		return err
	}
	if pair.Access == "" {
		return errors.New("login: token endpoint returned no access token")
	}
	return c.creds.Save(pair.Access, pair.Refresh, req.Remember)
}

// Logout forgets the stored credential.
func (c *Client) Logout() error {
	return c.creds.Clear()
}
