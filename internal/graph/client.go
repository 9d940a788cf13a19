package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/metrics"
)

const (
	// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	// Scope requested for every token; app permissions are granted on the
	// app registration, not per request.
	Scope = "https://graph.microsoft.com/.default"

	// requestTimeout bounds every individual Graph call.
	requestTimeout = 30 * time.Second

	// tokenRefreshSkew refreshes tokens that are about to expire.
	tokenRefreshSkew = 5 * time.Minute

	maxAttempts = 3
)

// Caller is the request surface checkers and probes depend on. The concrete
// Client implements it; tests substitute canned responders.
type Caller interface {
	// Get performs an authenticated GET against a Graph resource path
	// (relative to the v1.0 base) and returns the raw response body.
	Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
}

// ClientOptions overrides transport details, primarily for tests.
type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Client is a thin authenticated Graph client for a single directory tenant.
// It caches the access token and refreshes it near expiry or after a 401.
type Client struct {
	directoryTenantID string
	cred              azcore.TokenCredential
	baseURL           string
	httpClient        *http.Client

	// Thumbprint is the uppercase SHA-1 thumbprint of the auth certificate,
	// empty for secret auth. Recorded for diagnostics only.
	Thumbprint string

	mu    sync.Mutex
	token azcore.AccessToken
}

// NewClient builds a Graph client over an acquired credential.
func NewClient(directoryTenantID string, cred azcore.TokenCredential, opts *ClientOptions) *Client {
	c := &Client{
		directoryTenantID: directoryTenantID,
		cred:              cred,
		baseURL:           DefaultBaseURL,
		httpClient:        &http.Client{Timeout: requestTimeout},
	}
	if opts != nil {
		if opts.BaseURL != "" {
			c.baseURL = strings.TrimRight(opts.BaseURL, "/")
		}
		if opts.HTTPClient != nil {
			c.httpClient = opts.HTTPClient
		}
	}
	return c
}

// DirectoryTenantID returns the Entra directory the client authenticates to.
func (c *Client) DirectoryTenantID() string { return c.directoryTenantID }

// accessToken returns a cached token, refreshing when it expires within the
// skew window or when force is set.
func (c *Client) accessToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !force && c.token.Token != "" && time.Until(c.token.ExpiresOn) > tokenRefreshSkew {
		return c.token.Token, nil
	}
	tok, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{Scope}})
	if err != nil {
		return "", classifyAuthErr(err)
	}
	c.token = tok
	return tok.Token, nil
}

// Get implements Caller. Retries up to three attempts on 429/5xx/network
// errors with exponential backoff and jitter, honoring Retry-After on 429.
// A 401 triggers a single forced token refresh before propagating.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	refreshed := false
	force := false
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, retryAfter, err := c.do(ctx, u, force)
		force = false
		if err == nil {
			return body, nil
		}
		lastErr = err

		var re *RequestError
		switch {
		case asRequestError(err, &re) && re.StatusCode == http.StatusUnauthorized && !refreshed:
			// One forced refresh, then propagate.
			refreshed = true
			force = true
			attempt--
			continue
		case retryable(err):
			if attempt == maxAttempts {
				return nil, lastErr
			}
			delay := backoffDelay(attempt, retryAfter)
			log.Ctx(ctx).Debug().
				Str("url", u).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(err).
				Msg("retrying graph request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, u string, forceToken bool) (json.RawMessage, time.Duration, error) {
	tok, err := c.accessToken(ctx, forceToken)
	if err != nil {
		return nil, 0, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("graph transport: %w", err)
	}
	defer resp.Body.Close()
	metrics.GraphRequests.WithLabelValues(fmt.Sprintf("%dxx", resp.StatusCode/100)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("graph read body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, 0, nil
	}

	re := &RequestError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		re.Code = envelope.Error.Code
		re.Message = envelope.Error.Message
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, perr := strconv.Atoi(s); perr == nil && secs >= 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return nil, retryAfter, re
}

func asRequestError(err error, target **RequestError) bool {
	re, ok := err.(*RequestError)
	if ok {
		*target = re
	}
	return ok
}

// retryable covers 429, 5xx and transport failures.
func retryable(err error) bool {
	var re *RequestError
	if asRequestError(err, &re) {
		return re.StatusCode == http.StatusTooManyRequests || re.StatusCode >= 500
	}
	var ae *AuthError
	if ok := asAuthError(err, &ae); ok {
		return false
	}
	// Network-level errors are wrapped with "graph transport".
	return strings.Contains(err.Error(), "graph transport")
}

func asAuthError(err error, target **AuthError) bool {
	ae, ok := err.(*AuthError)
	if ok {
		*target = ae
	}
	return ok
}

// backoffDelay computes the wait before the next attempt. Retry-After wins
// when the server provided one; otherwise exponential with jitter.
func backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	base := time.Second << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}
