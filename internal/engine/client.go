// Package engine talks to the OWASP ZAP JSON API and to the NVD vulnerability feed.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stywzn/vuln-sentinel/internal/config"
)

// ZAP JSON API endpoints.
const (
	versionPath     = "/JSON/core/view/version/"
	spiderScanPath  = "/JSON/spider/action/scan/"
	spiderStatePath = "/JSON/spider/view/status/"
	alertsPath      = "/JSON/alert/view/alerts/"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 32 << 20

// Outcome labels passed to an Observer.
const (
	OutcomeOK          = "ok"
	OutcomeUnreachable = "unreachable"
	OutcomeProtocol    = "protocol_error"
)

// Observer is notified once per remote call.
type Observer func(op, outcome string)

// Client is a stateless adapter over the scan engine and the feed. It is safe
// for concurrent use.
type Client struct {
	baseURL        string
	apiKey         string
	feedURL        string
	requestTimeout time.Duration
	probeTimeout   time.Duration
	feedTimeout    time.Duration
	http           *http.Client
	observe        Observer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver registers a per-call observer, typically a metrics recorder.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// NewClient builds a Client from explicit configuration.
func NewClient(ec config.EngineConfig, fc config.FeedConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(ec.BaseURL, "/"),
		apiKey:         ec.APIKey,
		feedURL:        fc.URL,
		requestTimeout: ec.RequestTimeout,
		probeTimeout:   ec.ProbeTimeout,
		feedTimeout:    fc.RequestTimeout,
		http:           &http.Client{},
		observe:        func(string, string) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckReachable reports whether the engine answers a version probe within the
// probe timeout. It never returns an error.
func (c *Client) CheckReachable(ctx context.Context) bool {
	var out struct {
		Version string `json:"version"`
	}
	err := c.getJSON(ctx, "probe", c.probeTimeout, c.engineURL(versionPath, nil), &out)
	return err == nil
}

// StartScan asks the engine to spider target and returns the engine job id.
func (c *Client) StartScan(ctx context.Context, target string) (string, error) {
	var out struct {
		Scan json.RawMessage `json:"scan"`
	}
	endpoint := c.engineURL(spiderScanPath, url.Values{"url": {target}})
	if err := c.getJSON(ctx, "start_scan", c.requestTimeout, endpoint, &out); err != nil {
		return "", err
	}

	jobID := scalarText(out.Scan)
	if jobID == "" {
		c.observe("start_scan", OutcomeProtocol)
		return "", fmt.Errorf("start scan: %w: response has no scan id", ErrProtocol)
	}
	return jobID, nil
}

// PollStatus returns the spider progress for jobID, clamped to 0..100.
func (c *Client) PollStatus(ctx context.Context, jobID string) (int, error) {
	var out struct {
		Status json.RawMessage `json:"status"`
	}
	endpoint := c.engineURL(spiderStatePath, url.Values{"scanId": {jobID}})
	if err := c.getJSON(ctx, "poll_status", c.requestTimeout, endpoint, &out); err != nil {
		return 0, err
	}

	progress, err := strconv.Atoi(scalarText(out.Status))
	if err != nil {
		c.observe("poll_status", OutcomeProtocol)
		return 0, fmt.Errorf("poll status: %w: status %q is not an integer", ErrProtocol, scalarText(out.Status))
	}
	return min(max(progress, 0), 100), nil
}

// FetchFindings returns the engine's alerts for target. An empty slice means none.
// Each alert is decoded on its own; one that fails carries Malformed.
func (c *Client) FetchFindings(ctx context.Context, target string) ([]RawAlert, error) {
	var out struct {
		Alerts []json.RawMessage `json:"alerts"`
	}
	endpoint := c.engineURL(alertsPath, url.Values{"baseurl": {target}})
	if err := c.getJSON(ctx, "fetch_findings", c.requestTimeout, endpoint, &out); err != nil {
		return nil, err
	}

	alerts := make([]RawAlert, 0, len(out.Alerts))
	for i, raw := range out.Alerts {
		alerts = append(alerts, decodeAlert(i, raw))
	}
	return alerts, nil
}

// FetchFeedPage returns the current page of the vulnerability feed.
func (c *Client) FetchFeedPage(ctx context.Context) ([]RawFeedRecord, error) {
	var page nvdPage
	if err := c.getJSON(ctx, "fetch_feed", c.feedTimeout, c.feedURL, &page); err != nil {
		return nil, err
	}
	return page.records(), nil
}

func (c *Client) engineURL(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	return c.baseURL + path + "?" + params.Encode()
}

// getJSON performs one bounded GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, op string, timeout time.Duration, endpoint string, out any) error {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.observe(op, OutcomeProtocol)
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		c.observe(op, OutcomeUnreachable)
		return fmt.Errorf("%s: %w: %v", op, ErrEngineUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.observe(op, OutcomeProtocol)
		return fmt.Errorf("%s: %w", op, &StatusError{Endpoint: op, Code: resp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		c.observe(op, OutcomeUnreachable)
		return fmt.Errorf("%s: %w: read body: %v", op, ErrEngineUnreachable, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.observe(op, OutcomeProtocol)
		return fmt.Errorf("%s: %w: %v", op, ErrProtocol, err)
	}

	c.observe(op, OutcomeOK)
	return nil
}
