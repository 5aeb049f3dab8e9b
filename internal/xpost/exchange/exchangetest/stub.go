// Package exchangetest provides an in-memory exchange.Doer for tests.
package exchangetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/blacktop/crosspost/internal/xpost/exchange"
)

// HandlerFunc answers one recorded request.
type HandlerFunc func(req *exchange.Request) (*exchange.Response, error)

type route struct {
	method string
	path   string
	fn     HandlerFunc
}

// Stub routes requests by method and URL path and records every call.
type Stub struct {
	mu     sync.Mutex
	routes []route
	calls  []*exchange.Request
}

// New returns an empty Stub. Unrouted requests fail with a network error.
func New() *Stub { return &Stub{} }

// Handle registers fn for requests whose method matches and whose URL path
// ends with pathSuffix.
func (s *Stub) Handle(method, pathSuffix string, fn HandlerFunc) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, route{method: method, path: pathSuffix, fn: fn})
	return s
}

// Reply registers a fixed response.
func (s *Stub) Reply(method, pathSuffix string, resp *exchange.Response) *Stub {
	return s.Handle(method, pathSuffix, func(*exchange.Request) (*exchange.Response, error) {
		return resp, nil
	})
}

// Do implements exchange.Doer.
func (s *Stub) Do(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrInvalidURL, err)
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	var fn HandlerFunc
	for _, r := range s.routes {
		if r.method == req.Method && strings.HasSuffix(u.Path, r.path) {
			fn = r.fn
			break
		}
	}
	s.mu.Unlock()

	if fn == nil {
		return nil, errors.New("no route for " + req.Method + " " + req.URL)
	}
	return fn(req)
}

// Calls returns the recorded requests in order.
func (s *Stub) Calls() []*exchange.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*exchange.Request(nil), s.calls...)
}

// CallsTo returns the recorded requests whose path ends with pathSuffix.
func (s *Stub) CallsTo(pathSuffix string) []*exchange.Request {
	var out []*exchange.Request
	for _, c := range s.Calls() {
		if u, err := url.Parse(c.URL); err == nil && strings.HasSuffix(u.Path, pathSuffix) {
			out = append(out, c)
		}
	}
	return out
}

// JSON builds a response with v encoded as the body.
func JSON(status int, v any) *exchange.Response {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &exchange.Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	}
}

// Text builds a response with a raw body.
func Text(status int, body string) *exchange.Response {
	return &exchange.Response{Status: status, Header: http.Header{}, Body: []byte(body)}
}

// Clock is a manual xpost.Clock. Sleep advances Now instead of blocking.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewClock starts a Clock at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Sleeps returns every requested sleep.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
