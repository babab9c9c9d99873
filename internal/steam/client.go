package steam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"gamevault/internal/ratelimit"
)

const (
	communityURL = "https://steamcommunity.com"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"

	connectTimeout = 10 * time.Second
	readTimeout    = 30 * time.Second
	totalTimeout   = 60 * time.Second

	retryBase     = 500 * time.Millisecond
	retryCap      = 8 * time.Second
	retryAttempts = 5

	// Image download responses below this size without an image content
	// type are treated as interstitials rather than screenshots.
	minImageBytes = 1000
)

// Credentials identify a Steam user for one import session. Cookies live for
// the session only and are never persisted.
type Credentials struct {
	UserID           string
	SteamLoginSecure string
	SessionID        string
	IsNumericID      bool
}

// Numeric reports whether the user id is a 64-bit Steam id rather than a
// vanity URL.
func (c Credentials) Numeric() bool {
	if c.IsNumericID {
		return true
	}
	if c.UserID == "" {
		return false
	}
	for _, r := range c.UserID {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// client issues rate-limited, retrying HTTP requests against Steam.
type client struct {
	http    *http.Client
	limiter *ratelimit.Limiter
	creds   Credentials
}

func newClient(creds Credentials, limiter *ratelimit.Limiter) *client {
	jar, _ := cookiejar.New(nil)

	base, _ := url.Parse(communityURL)
	var cookies []*http.Cookie
	if creds.SteamLoginSecure != "" {
		cookies = append(cookies, &http.Cookie{Name: "steamLoginSecure", Value: creds.SteamLoginSecure})
	}
	if creds.SessionID != "" {
		cookies = append(cookies, &http.Cookie{Name: "sessionid", Value: creds.SessionID})
	}
	// Mature-content cookies up front; games behind age gates otherwise
	// return an interstitial instead of the grid.
	cookies = append(cookies,
		&http.Cookie{Name: "birthtime", Value: "0"},
		&http.Cookie{Name: "mature_content", Value: "1"},
		&http.Cookie{Name: "lastagecheckage", Value: "1-0-1990"},
	)
	jar.SetCookies(base, cookies)

	return &client{
		http: &http.Client{
			Jar:     jar,
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: readTimeout,
			},
		},
		limiter: limiter,
		creds:   creds,
	}
}

// fetch performs one rate-limited request with retries on transient and
// rate-limited failures, returning the response body.
func (c *client) fetch(ctx context.Context, method, rawURL string, form url.Values) ([]byte, string, error) {
	const op = "steam.fetch"

	var lastErr error
	backoff := retryBase

	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, "", ctx.Err()
			}
			backoff *= 2
			if backoff > retryCap {
				backoff = retryCap
			}
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, "", err
		}

		body, ctype, err := c.once(ctx, method, rawURL, form)
		if err == nil {
			c.limiter.Reward()
			return body, ctype, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, "", err
		}
		if KindOf(err) == KindRateLimited {
			c.limiter.Penalize()
		}
		if !retriable(err) {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

func (c *client) once(ctx context.Context, method, rawURL string, form url.Values) ([]byte, string, error) {
	const op = "steam.request"

	var bodyReader io.Reader
	if form != nil {
		bodyReader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, "", newError(KindParse, op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", newError(KindTransient, op, err)
	}
	defer resp.Body.Close()

	// Steam bounces unauthenticated requests for private content to the
	// login page rather than returning 401.
	if strings.Contains(resp.Request.URL.Path, "/login") {
		return nil, "", newError(KindAuthRequired, op, fmt.Errorf("redirected to %s", resp.Request.URL))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", newError(KindRateLimited, op, fmt.Errorf("HTTP 429"))
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", newError(KindNotFound, op, fmt.Errorf("HTTP 404"))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, "", newError(KindAuthRequired, op, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, "", newError(KindTransient, op, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, "", newError(KindParse, op, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", newError(KindTransient, op, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
