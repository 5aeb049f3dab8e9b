package dispatch

import (
	"time"

	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/blacktop/crosspost/internal/xpost/bluesky"
	"github.com/blacktop/crosspost/internal/xpost/exchange"
	"github.com/blacktop/crosspost/internal/xpost/mastodon"
	"github.com/blacktop/crosspost/internal/xpost/threads"
	"github.com/blacktop/crosspost/internal/xpost/twitter"
)

// Deps are shared by every publisher a factory builds.
type Deps struct {
	HTTP        exchange.Doer
	Clock       xpost.Clock
	PollTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.HTTP == nil {
		d.HTTP = exchange.New()
	}
	if d.Clock == nil {
		d.Clock = xpost.SystemClock{}
	}
	return d
}

// DefaultFactories registers a factory for each supported provider.
func DefaultFactories(deps Deps) map[xpost.Provider]Factory {
	deps = deps.withDefaults()

	return map[xpost.Provider]Factory{
		xpost.Twitter: func(acct xpost.Account) (xpost.Publisher, error) {
			opts := []twitter.Option{twitter.WithClock(deps.Clock)}
			if deps.PollTimeout > 0 {
				opts = append(opts, twitter.WithPollTimeout(deps.PollTimeout))
			}
			return twitter.New(acct.Credentials.Twitter, deps.HTTP, opts...)
		},
		xpost.Bluesky: func(acct xpost.Account) (xpost.Publisher, error) {
			return bluesky.New(acct.Credentials.Bluesky, deps.HTTP, bluesky.WithClock(deps.Clock))
		},
		xpost.Mastodon: func(acct xpost.Account) (xpost.Publisher, error) {
			return mastodon.New(acct.Credentials.Mastodon, deps.HTTP)
		},
		xpost.Threads: func(acct xpost.Account) (xpost.Publisher, error) {
			return threads.New(acct.Credentials.Threads, deps.HTTP)
		},
	}
}
