// Package github is a thin REST v3 client covering the handful of calls
// the commit engine needs: OAuth code exchange, identity lookup,
// repository and webhook provisioning, and the low-level Git data calls
// that produce a commit.
package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	logx "kcommit/pkg/logx"
)

const (
	defaultAPIBase   = "https://api.github.com"
	defaultOAuthBase = "https://github.com"
	defaultTimeout   = 30 * time.Second
)

// Config carries the OAuth application identity and optional endpoint
// overrides (tests point these at a local httptest server).
type Config struct {
	ClientID     string
	ClientSecret string

	APIBase   string
	OAuthBase string
	Timeout   time.Duration

	// Requests per second against api.github.com. Zero disables limiting.
	RateLimit float64
}

type Client struct {
	cfg     Config
	log     logx.Logger
	rest    *resty.Client
	oauth   *resty.Client
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.OAuthBase == "" {
		cfg.OAuthBase = defaultOAuthBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	var lim *rate.Limiter
	if cfg.RateLimit > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	rest := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIBase, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28")

	oauth := resty.New().
		SetBaseURL(strings.TrimRight(cfg.OAuthBase, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{cfg: cfg, log: log, rest: rest, oauth: oauth, limiter: lim}
}

// ClientID exposes the OAuth app id for building the authorize URL.
func (c *Client) ClientID() string { return c.cfg.ClientID }

// AuthorizeURL is the browser-facing OAuth entry point.
func (c *Client) AuthorizeURL() string {
	return strings.TrimRight(c.cfg.OAuthBase, "/") + "/login/oauth/authorize"
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) req(ctx context.Context, token string) *resty.Request {
	r := c.rest.R().SetContext(ctx)
	if token != "" {
		r.SetAuthToken(token)
	}
	return r
}

type apiError struct {
	Message string `json:"message"`
	Errors  []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
		Message  string `json:"message"`
	} `json:"errors"`
}

// asErr maps a non-2xx response onto the package error taxonomy.
func asErr(op string, resp *resty.Response, body *apiError) error {
	msg := ""
	if body != nil {
		msg = body.Message
	}
	switch resp.StatusCode() {
	case 401, 403:
		return fmt.Errorf("%s: %w: %s", op, ErrUnauthorized, msg)
	case 404:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case 422:
		if body != nil {
			for _, e := range body.Errors {
				if e.Resource == "Repository" && strings.Contains(e.Message, "already exists") {
					return fmt.Errorf("%s: %w", op, ErrRepoExists)
				}
			}
		}
		return fmt.Errorf("%s: %s (status 422)", op, msg)
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode(), msg)
	}
}

// ExchangeOAuthCode trades an OAuth callback code for a user access token.
func (c *Client) ExchangeOAuthCode(ctx context.Context, code string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	var out struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	resp, err := c.oauth.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
			"code":          code,
		}).
		SetResult(&out).
		Post("/login/oauth/access_token")
	if err != nil {
		return "", fmt.Errorf("oauth exchange: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("oauth exchange: unexpected status %d", resp.StatusCode())
	}
	if out.Error != "" || out.AccessToken == "" {
		return "", fmt.Errorf("oauth exchange: %w: %s", ErrUnauthorized, out.ErrorDesc)
	}
	return out.AccessToken, nil
}

// User is the slice of the authenticated-user payload the service uses.
type User struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

func (c *Client) GetUser(ctx context.Context, token string) (User, error) {
	if err := c.wait(ctx); err != nil {
		return User{}, err
	}
	var u User
	var apiErr apiError
	resp, err := c.req(ctx, token).SetResult(&u).SetError(&apiErr).Get("/user")
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if resp.IsError() {
		return User{}, asErr("get user", resp, &apiErr)
	}
	return u, nil
}

// Repository is the slice of the repository payload the service uses.
type Repository struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
}

// CreateRepository provisions a private, auto-initialized repository for
// the authenticated user. A name collision returns ErrRepoExists so the
// caller can offer alternatives.
func (c *Client) CreateRepository(ctx context.Context, token, name string) (Repository, error) {
	if err := c.wait(ctx); err != nil {
		return Repository{}, err
	}
	var repo Repository
	var apiErr apiError
	resp, err := c.req(ctx, token).
		SetBody(map[string]any{
			"name":        name,
			"description": "Automated daily activity",
			"private":     true,
			"auto_init":   true,
		}).
		SetResult(&repo).
		SetError(&apiErr).
		Post("/user/repos")
	if err != nil {
		return Repository{}, fmt.Errorf("create repository: %w", err)
	}
	if resp.IsError() {
		return Repository{}, asErr("create repository", resp, &apiErr)
	}
	return repo, nil
}

func (c *Client) GetRepository(ctx context.Context, token, owner, name string) (Repository, error) {
	if err := c.wait(ctx); err != nil {
		return Repository{}, err
	}
	var repo Repository
	var apiErr apiError
	resp, err := c.req(ctx, token).
		SetResult(&repo).
		SetError(&apiErr).
		Get(fmt.Sprintf("/repos/%s/%s", owner, name))
	if err != nil {
		return Repository{}, fmt.Errorf("get repository: %w", err)
	}
	if resp.IsError() {
		return Repository{}, asErr("get repository", resp, &apiErr)
	}
	return repo, nil
}

// CreateWebhook installs a push webhook with an HMAC secret. GitHub
// rejects duplicates for the same URL with a 422; that is treated as
// already installed, not an error.
func (c *Client) CreateWebhook(ctx context.Context, token, owner, repo, hookURL, secret string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	var apiErr apiError
	resp, err := c.req(ctx, token).
		SetBody(map[string]any{
			"name":   "web",
			"active": true,
			"events": []string{"push"},
			"config": map[string]string{
				"url":          hookURL,
				"content_type": "json",
				"secret":       secret,
			},
		}).
		SetError(&apiErr).
		Post(fmt.Sprintf("/repos/%s/%s/hooks", owner, repo))
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	if resp.StatusCode() == 422 && strings.Contains(apiErr.Message, "Hook already exists") {
		return nil
	}
	if resp.IsError() {
		return asErr("create webhook", resp, &apiErr)
	}
	return nil
}
