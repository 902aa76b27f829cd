package api

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

	"github.com/failsafe-go/failsafe-go"
)

// DefaultBaseURL is used when no API URL is configured.
const DefaultBaseURL = "http://localhost:8080/api/v1/"

// localTimeLayout is ISO 8601 without an offset. Fractional seconds are
// accepted when parsing.
const localTimeLayout = "2006-01-02T15:04:05"

// Client talks to the review REST API.
type Client struct {
	baseURL  *url.URL
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	loc      *time.Location
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (10s timeout).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// WithRetry replaces the default retry settings.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		c.executor = newExecutor(cfg)
	}
}

// WithLocation sets the zone offset-less API timestamps are read and written in.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// New returns a Client for baseURL. Request paths resolve relative to it, so
// a trailing slash is added when missing.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse api url: unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:  u,
		client:   &http.Client{Timeout: 10 * time.Second},
		executor: newExecutor(DefaultRetryConfig()),
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Location returns the zone used for offset-less timestamps.
func (c *Client) Location() *time.Location {
	return c.loc
}

// ListEvents returns events matching q, in server order.
func (c *Client) ListEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	params := url.Values{}
	params.Set("after", c.FormatTime(q.After))
	params.Set("before", c.FormatTime(q.Before))
	for _, id := range q.Monitors {
		params.Add("monitor", strconv.FormatInt(int64(id), 10))
	}

	var list ListResponse[eventPayload]
	if err := c.getJSON(ctx, "event", params, &list); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(list.Results))
	for _, p := range list.Results {
		ev, err := c.toEvent(p)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// ListMonitors returns every monitor.
func (c *Client) ListMonitors(ctx context.Context) ([]Monitor, error) {
	var list ListResponse[Monitor]
	if err := c.getJSON(ctx, "monitor", nil, &list); err != nil {
		return nil, err
	}
	return list.Results, nil
}

// GetEvent returns metadata for one event.
func (c *Client) GetEvent(ctx context.Context, id EventID) (Event, error) {
	var p eventPayload
	if err := c.getJSON(ctx, eventPath(id), nil, &p); err != nil {
		return Event{}, err
	}
	return c.toEvent(p)
}

// Export is an open clip download. The caller must close Body.
type Export struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Export opens the clip bytes for an event.
func (c *Client) Export(ctx context.Context, id EventID, download bool) (*Export, error) {
	resp, err := c.do(ctx, eventPath(id)+"/export", exportParams(download), "*/*")
	if err != nil {
		return nil, err
	}
	return &Export{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

// ExportURL is the absolute URL of an event's clip, for handing to a player.
func (c *Client) ExportURL(id EventID, download bool) string {
	return c.resolve(eventPath(id)+"/export", exportParams(download))
}

// FormatTime renders t the way the API expects query timestamps.
func (c *Client) FormatTime(t time.Time) string {
	return t.In(c.loc).Format(localTimeLayout)
}

// ParseTime reads an API timestamp. Values with an explicit offset are
// accepted too.
func (c *Client) ParseTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(localTimeLayout, s, c.loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func (c *Client) toEvent(p eventPayload) (Event, error) {
	start, err := c.ParseTime(p.Start)
	if err != nil {
		return Event{}, fmt.Errorf("decode event %d start: %w", p.ID, err)
	}
	end, err := c.ParseTime(p.End)
	if err != nil {
		return Event{}, fmt.Errorf("decode event %d end: %w", p.ID, err)
	}
	return Event{
		ID:        p.ID,
		MonitorID: p.MonitorID,
		Start:     start,
		End:       end,
		Frames:    p.Frames,
		Size:      p.Size,
		Runtime:   p.Runtime,
		Location:  p.Location,
		Thumbnail: p.Thumbnail,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	resp, err := c.do(ctx, path, params, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// do sends a GET through the retry executor. Non-2xx responses come back as
// *APIError; failures without a response wrap ErrNetwork; cancellation returns
// the context's error.
func (c *Client) do(ctx context.Context, path string, params url.Values, accept string) (*http.Response, error) {
	target := c.resolve(path, params)

	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", accept)
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if shouldRetry(resp, nil) {
			bufferBody(resp)
		}
		return resp, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (c *Client) resolve(path string, params url.Values) string {
	ref := &url.URL{Path: path}
	if len(params) > 0 {
		ref.RawQuery = params.Encode()
	}
	return c.baseURL.ResolveReference(ref).String()
}

func eventPath(id EventID) string {
	return "event/" + strconv.FormatInt(int64(id), 10)
}

func exportParams(download bool) url.Values {
	if !download {
		return nil
	}
	return url.Values{"download": []string{"true"}}
}
