// Package roblox is a small client for the Roblox web APIs the rank-transfer
// workflow depends on: username resolution, profile descriptions, group
// memberships, group role sets and role assignment.
//
// Every call waits on a shared token bucket and runs under a fixed per-call
// timeout. Mutating calls carry the ranking account's .ROBLOSECURITY cookie
// and perform the x-csrf-token handshake.
package roblox

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/allegro/bigcache/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	csrfHeader   = "x-csrf-token"
	maxBodyBytes = 1 << 20
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roblox_requests_total",
			Help: "Roblox API calls by operation and status code.",
		},
		[]string{"op", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roblox_request_duration_seconds",
			Help:    "Duration of Roblox API calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}

// Options configures a Client. Zero values fall back to the public
// endpoints and conservative limits.
type Options struct {
	UsersURL     string
	GroupsURL    string
	Cookie       string
	Timeout      time.Duration
	RPS          float64
	Burst        int
	RoleCacheTTL time.Duration
	HTTPClient   *http.Client
}

// Client talks to the Roblox users and groups APIs. It is safe for
// concurrent use.
type Client struct {
	http      *http.Client
	usersURL  string
	groupsURL string
	cookie    string
	timeout   time.Duration
	limiter   *rate.Limiter

	roles       *bigcache.BigCache
	memberships singleflight.Group

	csrfMu sync.Mutex
	csrf   string
}

// New builds a Client. ctx bounds the lifetime of the role cache's cleanup
// goroutine; call Close when done.
func New(ctx context.Context, o Options) (*Client, error) {
	if o.UsersURL == "" {
		o.UsersURL = "https://users.roblox.com"
	}
	if o.GroupsURL == "" {
		o.GroupsURL = "https://groups.roblox.com"
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RPS <= 0 {
		o.RPS = 5
	}
	if o.Burst < 1 {
		o.Burst = 10
	}
	if o.RoleCacheTTL <= 0 {
		o.RoleCacheTTL = 5 * time.Minute
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 5,
			},
		}
	}

	cfg := bigcache.DefaultConfig(o.RoleCacheTTL)
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 1024
	cfg.MaxEntrySize = 2048
	cfg.Verbose = false
	roles, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		http:      hc,
		usersURL:  strings.TrimRight(o.UsersURL, "/"),
		groupsURL: strings.TrimRight(o.GroupsURL, "/"),
		cookie:    o.Cookie,
		timeout:   o.Timeout,
		limiter:   rate.NewLimiter(rate.Limit(o.RPS), o.Burst),
		roles:     roles,
	}, nil
}

// Close releases the role cache.
func (c *Client) Close() error {
	return c.roles.Close()
}

// call performs one logical API operation: it waits for a rate-limit token,
// sends the request under the per-call timeout, retries once when a mutating
// request is rejected for a stale CSRF token, and decodes a 2xx body into out
// (when out is non-nil).
func (c *Client) call(ctx context.Context, op, method, url string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := otel.Tracer("roblox").Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
		),
	)
	defer span.End()

	start := time.Now()
	status, err := c.send(ctx, op, method, url, in, out)
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(op, statusLabel(status)).Inc()

	if status > 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) send(ctx context.Context, op, method, url string, in, out any) (int, error) {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		payload = b
	}

	mutating := method != http.MethodGet
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.cookie != "" {
			req.AddCookie(&http.Cookie{Name: ".ROBLOSECURITY", Value: c.cookie})
		}
		if mutating {
			if tok := c.csrfToken(); tok != "" {
				req.Header.Set(csrfHeader, tok)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, err
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			return resp.StatusCode, err
		}

		// Roblox answers the first mutating call with 403 and a fresh token.
		if mutating && resp.StatusCode == http.StatusForbidden && attempt == 0 {
			if tok := resp.Header.Get(csrfHeader); tok != "" {
				c.setCSRFToken(tok)
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.StatusCode, newAPIError(op, resp.StatusCode, body)
		}
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}
}

func (c *Client) csrfToken() string {
	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()
	return c.csrf
}

func (c *Client) setCSRFToken(tok string) {
	c.csrfMu.Lock()
	c.csrf = tok
	c.csrfMu.Unlock()
}

func newAPIError(op string, status int, body []byte) *APIError {
	e := &APIError{Op: op, Status: status}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && len(eb.Errors) > 0 {
		e.Code = eb.Errors[0].Code
		e.Message = clip(eb.Errors[0].Message, maxErrorMessage)
		return e
	}
	e.Message = clip(strings.TrimSpace(string(body)), maxErrorMessage)
	return e
}

// maxErrorMessage bounds upstream error text, which ends up in ticket
// messages.
const maxErrorMessage = 200

// clip returns valid UTF-8 of at most max bytes, cut on a rune boundary.
func clip(s string, max int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
