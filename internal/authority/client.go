// Package authority is the HTTP client side of the validation authority
// contract consumed by the status poller.
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticket-pass/internal/status"
	"ticket-pass/models"
	"ticket-pass/utils"
)

const (
	DefaultTimeout = 3 * time.Second
	GateIDHeader   = "X-Gate-ID"
	maxBodyBytes   = 64 << 10
)

var ErrUnexpectedStatus = errors.New("authority: unexpected response status")

// Client fetches ticket validation status from the gate API.
type Client struct {
	baseURL string
	gateID  string
	http    *http.Client
	breaker *utils.CircuitBreaker
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithBreaker(cb *utils.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func NewClient(baseURL, gateID string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("authority: invalid base url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		gateID:  gateID,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = utils.NewCircuitBreaker("authority")
	}
	return c, nil
}

// FetchStatus implements poller.StatusFetcher.
func (c *Client) FetchStatus(ctx context.Context, ticketID string) (models.StatusReport, error) {
	var report models.StatusReport
	var notFound bool

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		endpoint := fmt.Sprintf("%s/api/v1/gate/tickets/%s/status", c.baseURL, url.PathEscape(ticketID))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if c.gateID != "" {
			req.Header.Set(GateIDHeader, c.gateID)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			// an unknown ticket is an answer, not an outage
			notFound = true
			return nil
		case resp.StatusCode != http.StatusOK:
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
			return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}

		return json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&report)
	})
	if err != nil {
		return models.StatusReport{}, fmt.Errorf("authority: fetch %s: %w", ticketID, err)
	}
	if notFound {
		return models.StatusReport{}, fmt.Errorf("authority: %w: %s", status.ErrPassNotFound, ticketID)
	}
	return report, nil
}

func (c *Client) Breaker() *utils.CircuitBreaker { return c.breaker }
