package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/config"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/errors"
)

// API is a JSON GET client for the MangaDex REST API. It paces requests
// under the remote rate limit, retries retryable failures a bounded
// number of times, and maps HTTP status codes onto the error kinds in
// pkg/errors.
type API struct {
	client     *http.Client
	baseURL    string
	limiter    *rate.Limiter
	token      string
	userAgent  string
	maxRetries int
	retryDelay time.Duration
}

func NewAPI(cfg config.Config) *API {
	limit := rate.Inf
	if cfg.RateLimitDelay > 0 {
		limit = rate.Every(cfg.RateLimitDelay)
	}
	return &API{
		client:     &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.BaseURL,
		limiter:    rate.NewLimiter(limit, 1),
		token:      cfg.AccessToken,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Get fetches baseURL+path and decodes the JSON response into v.
func (a *API) Get(path string, params url.Values, v any) error {
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		_ = a.limiter.Wait(context.Background())

		err := a.get(path, params, v)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.IsRetryable(err) || attempt == a.maxRetries {
			break
		}

		delay := a.retryDelay
		var rl *errors.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		time.Sleep(delay)
	}
	return lastErr
}

func (a *API) get(path string, params url.Values, v any) error {
	target := a.baseURL + path
	if params != nil {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.userAgent)
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("GET %s: %w", path, errors.ErrTimeout)
		}
		return fmt.Errorf("GET %s: %w", path, errors.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return a.statusError(resp)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// statusError maps a non-200 response onto the error taxonomy, pulling
// the detail message out of the API's error envelope when present.
func (a *API) statusError(resp *http.Response) error {
	detail := apiDetail(resp)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%s: %w", detail, errors.ErrValidation)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", detail, errors.ErrUnauthorized)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", detail, errors.ErrForbidden)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", detail, errors.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		var after time.Duration
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				after = time.Duration(secs) * time.Second
			}
		}
		return &errors.RateLimitError{RetryAfter: after}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w", detail, errors.ErrServer)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, detail)
}

func apiDetail(resp *http.Response) string {
	var body struct {
		Errors []struct {
			Detail string `json:"detail"`
		} `json:"errors"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		if len(body.Errors) > 0 && body.Errors[0].Detail != "" {
			return body.Errors[0].Detail
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return http.StatusText(resp.StatusCode)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
