// Package dispatch fans one post out to many accounts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/xpost"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many accounts publish at once.
const DefaultConcurrency = 4

// Factory builds a Publisher for one account.
type Factory func(xpost.Account) (xpost.Publisher, error)

// Observer receives every result as soon as its account finishes.
type Observer interface {
	Observe(xpost.PublishResult)
}

// Dispatcher publishes a request to each account independently.
type Dispatcher struct {
	factories   map[xpost.Provider]Factory
	concurrency int
	timeout     time.Duration
	observer    Observer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFactories replaces the provider registry.
func WithFactories(f map[xpost.Provider]Factory) Option {
	return func(d *Dispatcher) { d.factories = f }
}

// WithConcurrency sets the number of accounts published in parallel. A
// value of 1 publishes sequentially in input order.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithAccountTimeout bounds each account's publish. Zero disables it.
func WithAccountTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// New returns a Dispatcher using DefaultFactories over a fresh exchange
// client unless WithFactories is given.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(d)
	}
	if d.factories == nil {
		d.factories = DefaultFactories(Deps{})
	}
	return d
}

// Dispatch publishes req to every account and returns one result per
// account in input order. A failing account never stops the others.
func (d *Dispatcher) Dispatch(ctx context.Context, req xpost.PostRequest, accounts []xpost.Account) []xpost.PublishResult {
	results := make([]xpost.PublishResult, len(accounts))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, acct := range accounts {
		g.Go(func() error {
			results[i] = d.publish(ctx, req, acct)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) publish(ctx context.Context, req xpost.PostRequest, acct xpost.Account) (res xpost.PublishResult) {
	res.Account = acct
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Post = xpost.Post{}
			res.Err = xpost.Error{Provider: string(acct.Provider), Kind: xpost.KindPanic, Message: fmt.Sprint(r)}
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			logutil.Debugf("%s failed after %s: %v", acct.Label(), res.Duration, res.Err)
		} else {
			logutil.Debugf("%s posted %s in %s", acct.Label(), res.Post.ID, res.Duration)
		}
		if d.observer != nil {
			d.observer.Observe(res)
		}
	}()

	factory, ok := d.factories[acct.Provider]
	if !ok {
		res.Err = xpost.Error{
			Provider: string(acct.Provider),
			Kind:     xpost.KindUnsupportedProvider,
			Message:  fmt.Sprintf("no publisher for provider %q", acct.Provider),
		}
		return res
	}

	pub, err := factory(acct)
	if err != nil {
		res.Err = err
		return res
	}

	ctx, cancel := d.accountContext(ctx)
	defer cancel()

	logutil.Debugf("publishing to %s", acct.Label())
	post, err := pub.Publish(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, xpost.KindTimeout) {
			err = xpost.Error{Provider: pub.Name(), Kind: xpost.KindTimeout, Err: err}
		}
		res.Err = err
		return res
	}
	res.Post = post

	return res
}

func (d *Dispatcher) accountContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(ctx, d.timeout)
	}
	return context.WithCancel(ctx)
}

// Failed collects the errors of every failed result, labelled by account.
func Failed(results []xpost.PublishResult) error {
	var errs []error
	for _, r := range results {
		if !r.OK() {
			errs = append(errs, fmt.Errorf("%s: %w", r.Account.Label(), r.Err))
		}
	}
	return errors.Join(errs...)
}
