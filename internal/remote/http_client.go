package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/config"
	"go-crmsync/internal/ratelimit"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const limiterKey = "crm-api"

// HTTPClient implements Client against the CRM's JSON REST API with
// client-credentials OAuth and breaker-guarded calls.
type HTTPClient struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string

	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewHTTPClient(cfg *config.Config, limiter *ratelimit.Limiter, logger *zap.Logger) Client {
	settings := gobreaker.Settings{
		Name:    "crm-api",
		Timeout: 60 * time.Second, // open -> half-open probe delay
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &HTTPClient{
		baseURL:      strings.TrimRight(cfg.CRMBaseURL, "/"),
		tokenURL:     cfg.CRMTokenURL,
		clientID:     cfg.CRMClientID,
		clientSecret: cfg.CRMClientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		limiter:      limiter,
		breaker:      gobreaker.NewCircuitBreaker(settings),
		logger:       logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *HTTPClient) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeRemoteUnavailable, "token refresh failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.Newf(apperrors.CodeAuthentication, "token endpoint returned %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", apperrors.Wrap(apperrors.CodeRemoteUnavailable, "malformed token response", err)
	}

	c.accessToken = tok.AccessToken
	// Refresh a minute early to avoid using a token mid-expiry
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

// invalidateToken forces a refresh on the next call.
func (c *HTTPClient) invalidateToken() {
	c.tokenMu.Lock()
	c.accessToken = ""
	c.tokenMu.Unlock()
}

// call runs one guarded request: rate limiter, then breaker, then HTTP,
// with a single retry on 401 after refreshing the token.
func (c *HTTPClient) call(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	if err := c.limiter.Allow(ctx, limiterKey); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		err := c.doOnce(ctx, method, path, query, body, out)
		if apperrors.CodeOf(err) == apperrors.CodeAuthentication {
			c.invalidateToken()
			err = c.doOnce(ctx, method, path, query, body, out)
		}
		return nil, err
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperrors.Wrap(apperrors.CodeCircuitOpen, "remote CRM presumed down", err)
	}
	return err
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}

	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Go-CRMSync")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemoteUnavailable, "remote call failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.New(apperrors.CodeAuthentication, "remote rejected access token")
	case resp.StatusCode == http.StatusTooManyRequests:
		appErr := apperrors.New(apperrors.CodeRateLimit, "remote rate limit")
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if d, perr := time.ParseDuration(ra + "s"); perr == nil {
				appErr.RetryAfter = d
			}
		}
		return appErr
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.Newf(apperrors.CodeNotFound, "%s %s returned 404", method, path)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.Newf(apperrors.CodeRemoteUnavailable, "%s %s returned %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(apperrors.CodeRemoteUnavailable, "malformed remote response", err)
		}
	}
	return nil
}

type recordListResponse struct {
	Records []Record `json:"records"`
}

func (c *HTTPClient) ListChangedRecords(ctx context.Context, module string, since time.Time) ([]Record, error) {
	query := url.Values{"modified_since": {since.UTC().Format(time.RFC3339)}}
	var resp recordListResponse
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/modules/%s/records", module), query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

type deletedListResponse struct {
	IDs []string `json:"ids"`
}

func (c *HTTPClient) ListDeletedIDs(ctx context.Context, module string, since time.Time) ([]string, error) {
	query := url.Values{"deleted_since": {since.UTC().Format(time.RFC3339)}}
	var resp deletedListResponse
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/modules/%s/deleted", module), query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (c *HTTPClient) GetRecord(ctx context.Context, module, id string) (*Record, error) {
	var rec Record
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/modules/%s/records/%s", module, id), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) UpsertRecord(ctx context.Context, module string, rec Record) error {
	return c.call(ctx, http.MethodPut, fmt.Sprintf("/modules/%s/records/%s", module, rec.ID), nil, rec, nil)
}

func (c *HTTPClient) DeleteRecord(ctx context.Context, module, id string) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/modules/%s/records/%s", module, id), nil, nil, nil)
}

func (c *HTTPClient) RegisterWebhook(ctx context.Context, sub Subscription) error {
	return c.call(ctx, http.MethodPost, "/webhooks/subscriptions", nil, sub, nil)
}
