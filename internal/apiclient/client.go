// Package apiclient talks to the platform's JSON API directly, without
// a browser. It is experimental: the signing rules rotate and the
// endpoints are unpublished, so the scroll-and-collect loop never
// depends on it.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://onlyfans.com/api2/v2"

// appToken is the static application token the web client ships with.
const appToken = "33d57ade8c02dbc5a333db99ff9ae26a"

var (
	ErrAuthRejected = errors.New("authentication rejected")
	ErrSignRejected = errors.New("request signature rejected")
)

// Auth is the credential material exported from a logged-in browser
// session.
type Auth struct {
	AuthID    string `json:"auth_id"`
	Session   string `json:"sess"`
	UserAgent string `json:"user_agent"`
	XBC       string `json:"x-bc"`
	AuthUID   string `json:"auth_uid,omitempty"`
}

// LoadAuth reads and validates an auth.json file.
func LoadAuth(path string) (*Auth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading auth file: %w", err)
	}

	var auth Auth
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("parsing auth file: %w", err)
	}

	var missing []string
	for field, value := range map[string]string{
		"auth_id":    auth.AuthID,
		"sess":       auth.Session,
		"user_agent": auth.UserAgent,
		"x-bc":       auth.XBC,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("auth file %s missing fields: %s", path, strings.Join(missing, ", "))
	}

	auth.UserAgent = strings.Trim(auth.UserAgent, `"\`)
	return &auth, nil
}

// AuthFromParts assembles credential material supplied piecemeal via
// configuration instead of an exported auth file. A missing x-bc token
// is derived from the user agent.
func AuthFromParts(authID, session, userAgent, xbc string) (*Auth, error) {
	var missing []string
	for field, value := range map[string]string{
		"auth id":    authID,
		"session":    session,
		"user agent": userAgent,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("auth material missing: %s", strings.Join(missing, ", "))
	}

	if xbc == "" {
		xbc = GenerateXBC(userAgent, time.Now(), rand.Int63(), rand.Int63())
	}

	return &Auth{
		AuthID:    authID,
		Session:   session,
		UserAgent: strings.Trim(userAgent, `"\`),
		XBC:       xbc,
	}, nil
}

// Client is a signed HTTP client for the platform API.
type Client struct {
	http   *resty.Client
	auth   *Auth
	signer *Signer
	logger *slog.Logger
}

func New(auth *Auth, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() == http.StatusTooManyRequests
		})

	return &Client{
		http:   httpClient,
		auth:   auth,
		signer: NewSigner(logger),
		logger: logger.With("component", "apiclient"),
	}
}

// get issues one signed GET. The signature covers the path including
// the encoded query string, so the exact same string is sent on the
// wire.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	path := endpoint
	if len(params) > 0 {
		path = endpoint + "?" + params.Encode()
	}

	signature, timestamp := c.signer.Sign(ctx, path, c.auth.AuthID)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"accept":     "application/json, text/plain, */*",
			"app-token":  appToken,
			"user-id":    c.auth.AuthID,
			"x-bc":       c.auth.XBC,
			"referer":    "https://onlyfans.com",
			"user-agent": c.auth.UserAgent,
			"sign":       signature,
			"time":       timestamp,
		}).
		SetCookies([]*http.Cookie{
			{Name: "sess", Value: c.auth.Session},
			{Name: "auth_id", Value: c.auth.AuthID},
			{Name: "auth_uid_", Value: c.authUID()},
		}).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", endpoint, err)
	}

	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: refresh the auth file", ErrAuthRejected)
	case http.StatusForbidden:
		return fmt.Errorf("%w: signing rules may have rotated", ErrSignRejected)
	}
	if resp.IsError() {
		return fmt.Errorf("GET %s: status %d: %s", endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// Signer exposes the client's signer so callers can pin static rules.
func (c *Client) Signer() *Signer {
	return c.signer
}

func (c *Client) authUID() string {
	if c.auth.AuthUID != "" {
		return c.auth.AuthUID
	}
	return c.auth.AuthID
}

// User is one profile row as the API returns it.
type User struct {
	ID             int64   `json:"id"`
	Username       string  `json:"username"`
	SubscribePrice float64 `json:"subscribePrice"`
	SubscribedBy   bool    `json:"subscribedBy"`
}

// Page is one page of an infinite-format listing.
type Page struct {
	List    []User `json:"list"`
	HasMore bool   `json:"hasMore"`
}

// ListUsers returns one page of a custom list's members.
func (c *Client) ListUsers(ctx context.Context, listID int64, offset, limit int) (*Page, error) {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("format", "infinite")

	var page Page
	endpoint := fmt.Sprintf("/lists/%d/users", listID)
	if err := c.get(ctx, endpoint, params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Subscriptions returns one page of the account's subscriptions.
// kind is "active" or "expired"; the API caps limit at 10.
func (c *Client) Subscriptions(ctx context.Context, kind string, offset int) (*Page, error) {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", "10")
	params.Set("type", kind)
	params.Set("format", "infinite")

	var page Page
	if err := c.get(ctx, "/subscriptions/subscribes", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
