// Package cowin is a typed client for the appointment scheduling API the
// self-registration site talks to. Every call takes the run's Token explicitly;
// the client itself holds no credentials.
package cowin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	calendarByDistrictPath = "/v2/appointment/sessions/calendarByDistrict"
	beneficiariesPath      = "/v2/appointment/beneficiaries"
	challengePath          = "/v2/auth/getRecaptcha"
	schedulePath           = "/v2/appointment/schedule"

	// DateLayout is the dd-MM-yyyy format the calendar endpoint expects.
	DateLayout = "02-01-2006"

	maxErrorBody = 4 << 10
)

var (
	// ErrUnauthorized is matched by errors.Is when the API rejects the token.
	ErrUnauthorized = errors.New("cowin: token rejected")
	// ErrNoToken is returned when a call is attempted without a credential.
	ErrNoToken = errors.New("cowin: no session token")
)

// APIError describes a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cowin: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrUnauthorized) match auth failures.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
	// Transport overrides the HTTP transport, e.g. with a browser.PageTransport.
	Transport http.RoundTripper
}

// Client calls the scheduling API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *zap.Logger
}

// NewClient creates a client for the API rooted at opts.BaseURL.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("API base URL %q must be absolute", opts.BaseURL)
	}

	// The API sets load balancer affinity cookies; keep them across calls.
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		baseURL: base,
		http: &http.Client{
			Transport: opts.Transport,
			Timeout:   opts.Timeout,
			Jar:       jar,
		},
		// Burst of two lets both calendar windows leave together.
		limiter:   rate.NewLimiter(limit, 2),
		userAgent: opts.UserAgent,
		logger:    logger.Named("cowin"),
	}, nil
}

// CalendarByDistrict lists the centres of a district with sessions from date onward.
func (c *Client) CalendarByDistrict(ctx context.Context, tok Token, districtID int, date time.Time) ([]Centre, error) {
	q := url.Values{}
	q.Set("district_id", strconv.Itoa(districtID))
	q.Set("date", FormatDate(date))

	var out CalendarResponse
	if err := c.do(ctx, tok, http.MethodGet, calendarByDistrictPath, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Centers, nil
}

// Beneficiaries lists the people registered under the authenticated account.
func (c *Client) Beneficiaries(ctx context.Context, tok Token) ([]Beneficiary, error) {
	var out BeneficiariesResponse
	if err := c.do(ctx, tok, http.MethodGet, beneficiariesPath, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Beneficiaries, nil
}

// Challenge requests a fresh visual challenge.
func (c *Client) Challenge(ctx context.Context, tok Token) (Challenge, error) {
	var out Challenge
	if err := c.do(ctx, tok, http.MethodPost, challengePath, nil, struct{}{}, &out); err != nil {
		return Challenge{}, err
	}
	return out, nil
}

// Schedule submits a booking. The response is decoded leniently; an empty body is not an error.
func (c *Client) Schedule(ctx context.Context, tok Token, req BookingRequest) (ScheduleResponse, error) {
	var out ScheduleResponse
	if err := c.do(ctx, tok, http.MethodPost, schedulePath, nil, req, &out); err != nil {
		return ScheduleResponse{}, err
	}
	return out, nil
}

// FormatDate renders t in the calendar endpoint's dd-MM-yyyy layout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func (c *Client) do(ctx context.Context, tok Token, method, path string, query url.Values, body, out interface{}) error {
	if tok.IsZero() {
		return ErrNoToken
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("cowin: rate limiter: %w", err)
	}

	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cowin: encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("cowin: build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Authorization", tok.bearer())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cowin: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("API call complete.",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cowin: read %s response: %w", path, err)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cowin: decode %s response: %w", path, err)
	}
	return nil
}
