// Package smartlead is a small client for the Smartlead outreach API.
package smartlead

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/cadence/internal/lead"
)

const (
	DefaultBaseURL = "https://server.smartlead.ai/api/v1"
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// ErrUnauthorized is returned when the provider rejects the API key.
var ErrUnauthorized = errors.New("smartlead: api key rejected")

// Client communicates with the Smartlead API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
	backoff    time.Duration
}

// NewClient creates a Smartlead client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		validate: validator.New(),
		backoff:  initialBackoff,
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// ValidateKey makes one authenticated call and fails if the key is rejected.
func (c *Client) ValidateKey(ctx context.Context) error {
	_, err := c.ListCampaigns(ctx)
	return err
}

// ListCampaigns returns every campaign on the account.
func (c *Client) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	resp, err := c.do(ctx, http.MethodGet, "/campaigns", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list []Campaign
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding campaigns: %w", err)
	}
	if list == nil {
		return []Campaign{}, nil
	}
	return list, nil
}

// Send enrolls one lead in a campaign. Every failure, including an invalid
// enrollment, wraps lead.ErrSendFailure.
func (c *Client) Send(ctx context.Context, e Enrollment) (Result, error) {
	if err := c.validate.Struct(e); err != nil {
		return Result{}, fmt.Errorf("%w: invalid enrollment for %s: %v", lead.ErrSendFailure, e.Email, err)
	}

	body, err := json.Marshal(uploadRequest{
		LeadList: []leadEntry{{
			Email:        e.Email,
			FirstName:    e.FirstName,
			LastName:     e.LastName,
			CompanyName:  e.Company,
			CustomFields: e.CustomFields,
		}},
		Settings: uploadSettings{IgnoreDuplicateLeadsInOtherCampaign: true},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(e.CampaignID)+"/leads", body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", lead.ErrSendFailure, e.Email, err)
	}
	defer resp.Body.Close()

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("%w: %s: decoding response: %w", lead.ErrSendFailure, e.Email, err)
	}
	if !res.Accepted() {
		return res, fmt.Errorf("%w: %s: provider did not accept lead (ok=%t uploaded=%d invalid=%d %s)",
			lead.ErrSendFailure, e.Email, res.OK, res.UploadCount, res.InvalidEmailCount, res.Error)
	}
	return res, nil
}

// do issues a request, retrying on HTTP 429. On success the caller owns the
// response body.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := range maxRetries {
		resp, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			return resp, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, &rateLimitError{status: resp.StatusCode}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w (HTTP %d)", ErrUnauthorized, resp.StatusCode)
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
}

func (c *Client) endpoint(path string) string {
	q := url.Values{"api_key": {c.apiKey}}
	return c.baseURL + path + "?" + q.Encode()
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
