// Package accounts loads the accounts to publish to, either from a JSONC
// file or from CROSSPOST_* environment variables.
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/tailscale/hujson"
)

const (
	envTwitterConsumerKey    = "CROSSPOST_TWITTER_CONSUMER_KEY"
	envTwitterConsumerSecret = "CROSSPOST_TWITTER_CONSUMER_SECRET"
	envTwitterAccessToken    = "CROSSPOST_TWITTER_ACCESS_TOKEN"
	envTwitterAccessSecret   = "CROSSPOST_TWITTER_ACCESS_TOKEN_SECRET"

	envBlueskyHandle      = "CROSSPOST_BLUESKY_HANDLE"
	envBlueskyAppPassword = "CROSSPOST_BLUESKY_APP_PASSWORD"
	envBlueskyPDSURL      = "CROSSPOST_BLUESKY_PDS_URL"

	envMastodonServer      = "CROSSPOST_MASTODON_SERVER"
	envMastodonAccessToken = "CROSSPOST_MASTODON_ACCESS_TOKEN"

	envThreadsAccessToken     = "CROSSPOST_THREADS_ACCESS_TOKEN"
	envThreadsUserID          = "CROSSPOST_THREADS_USER_ID"
	envThreadsShortLivedToken = "CROSSPOST_THREADS_SHORT_LIVED_TOKEN"
	envThreadsClientID        = "CROSSPOST_THREADS_CLIENT_ID"
	envThreadsClientSecret    = "CROSSPOST_THREADS_CLIENT_SECRET"
)

type fileAccount struct {
	xpost.Account
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled"`
}

type file struct {
	Accounts []fileAccount `json:"accounts"`
}

// Load reads an accounts file. Comments and trailing commas are allowed.
func Load(path string) ([]xpost.Account, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	return Parse(b)
}

// Parse decodes accounts from JSONC.
func Parse(b []byte) ([]xpost.Account, error) {
	ast, err := hujson.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	ast.Standardize()

	var f file
	if err := json.Unmarshal(ast.Pack(), &f); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}

	out := make([]xpost.Account, 0, len(f.Accounts))
	seen := map[string]struct{}{}
	for i, fa := range f.Accounts {
		acct := fa.Account
		provider, err := xpost.ParseProvider(string(acct.Provider))
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		acct.Provider = provider
		acct.Enabled = fa.Enabled == nil || *fa.Enabled
		if acct.ID == "" {
			acct.ID = fmt.Sprintf("%s-%d", provider, i+1)
		}
		if _, ok := seen[acct.ID]; ok {
			return nil, fmt.Errorf("account %d: duplicate id %q", i, acct.ID)
		}
		seen[acct.ID] = struct{}{}
		out = append(out, acct)
	}

	return out, nil
}

// FromEnv builds one account per target from the process environment.
func FromEnv(targets []xpost.Provider) ([]xpost.Account, error) {
	return fromEnv(os.Getenv, targets)
}

func fromEnv(getenv func(string) string, targets []xpost.Provider) ([]xpost.Account, error) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	var (
		out  []xpost.Account
		errs []error
	)
	for _, p := range targets {
		acct := xpost.Account{ID: string(p), Provider: p, Enabled: true}
		var missing []string

		switch p {
		case xpost.Twitter:
			acct.Credentials.Twitter = xpost.TwitterCredentials{
				ConsumerKey:    env(envTwitterConsumerKey),
				ConsumerSecret: env(envTwitterConsumerSecret),
				AccessToken:    env(envTwitterAccessToken),
				AccessSecret:   env(envTwitterAccessSecret),
			}
			missing = unset(env, envTwitterConsumerKey, envTwitterConsumerSecret, envTwitterAccessToken, envTwitterAccessSecret)
		case xpost.Bluesky:
			acct.Credentials.Bluesky = xpost.BlueskyCredentials{
				Handle:      env(envBlueskyHandle),
				AppPassword: env(envBlueskyAppPassword),
				PDSURL:      env(envBlueskyPDSURL),
			}
			missing = unset(env, envBlueskyHandle, envBlueskyAppPassword)
		case xpost.Mastodon:
			acct.Credentials.Mastodon = xpost.MastodonCredentials{
				InstanceURL: env(envMastodonServer),
				AccessToken: env(envMastodonAccessToken),
			}
			missing = unset(env, envMastodonServer, envMastodonAccessToken)
		case xpost.Threads:
			acct.Credentials.Threads = xpost.ThreadsCredentials{
				AccessToken:     env(envThreadsAccessToken),
				UserID:          env(envThreadsUserID),
				ShortLivedToken: env(envThreadsShortLivedToken),
				ClientID:        env(envThreadsClientID),
				ClientSecret:    env(envThreadsClientSecret),
			}
			if acct.Credentials.Threads.AccessToken == "" {
				missing = unset(env, envThreadsShortLivedToken, envThreadsClientID, envThreadsClientSecret)
				if len(missing) > 0 {
					missing = []string{envThreadsAccessToken + " (or " + strings.Join(missing, ", ") + ")"}
				}
			}
		default:
			errs = append(errs, xpost.Error{Kind: xpost.KindUnsupportedProvider, Message: fmt.Sprintf("unsupported provider %q", p)})
			continue
		}

		if len(missing) > 0 {
			errs = append(errs, xpost.MissingEnvError{Provider: string(p), Variables: missing})
			continue
		}
		out = append(out, acct)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func unset(env func(string) string, keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if env(k) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// Redact returns a copy of acct with every secret masked.
func Redact(acct xpost.Account) xpost.Account {
	c := &acct.Credentials
	c.Twitter.ConsumerSecret = mask(c.Twitter.ConsumerSecret)
	c.Twitter.AccessToken = mask(c.Twitter.AccessToken)
	c.Twitter.AccessSecret = mask(c.Twitter.AccessSecret)
	c.Bluesky.AppPassword = mask(c.Bluesky.AppPassword)
	c.Mastodon.AccessToken = mask(c.Mastodon.AccessToken)
	c.Threads.AccessToken = mask(c.Threads.AccessToken)
	c.Threads.ShortLivedToken = mask(c.Threads.ShortLivedToken)
	c.Threads.ClientSecret = mask(c.Threads.ClientSecret)
	return acct
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	}
	return s[:4] + "****"
}
