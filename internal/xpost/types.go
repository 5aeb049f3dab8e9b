package xpost

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider identifies the social network behind an account.
type Provider string

const (
	Twitter  Provider = "twitter"
	Bluesky  Provider = "bluesky"
	Mastodon Provider = "mastodon"
	Threads  Provider = "threads"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{Bluesky, Mastodon, Threads, Twitter}

// ParseProvider resolves a provider name. "x" is accepted for Twitter.
func ParseProvider(raw string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(raw))); p {
	case Twitter, Bluesky, Mastodon, Threads:
		return p, nil
	case "x":
		return Twitter, nil
	}
	return "", Error{Kind: KindUnsupportedProvider, Message: fmt.Sprintf("unsupported provider %q", raw)}
}

// TwitterCredentials are OAuth 1.0a user-context credentials.
type TwitterCredentials struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	AccessToken    string `json:"access_token"`
	AccessSecret   string `json:"access_token_secret"`
}

// BlueskyCredentials are exchanged for a session on every publish.
type BlueskyCredentials struct {
	Handle      string `json:"handle"`
	AppPassword string `json:"app_password"`
	PDSURL      string `json:"pds_url,omitempty"`
}

// MastodonCredentials target a single instance with a bearer token.
type MastodonCredentials struct {
	InstanceURL string `json:"instance_url"`
	AccessToken string `json:"access_token"`
}

// ThreadsCredentials hold either a long-lived token or the material needed
// to exchange a short-lived one.
type ThreadsCredentials struct {
	AccessToken     string `json:"access_token,omitempty"`
	UserID          string `json:"user_id,omitempty"`
	ShortLivedToken string `json:"short_lived_token,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
	ClientSecret    string `json:"client_secret,omitempty"`
}

// Credentials carries the bundle matching an account's provider. Only the
// field for Account.Provider is consulted.
type Credentials struct {
	Twitter  TwitterCredentials  `json:"twitter"`
	Bluesky  BlueskyCredentials  `json:"bluesky"`
	Mastodon MastodonCredentials `json:"mastodon"`
	Threads  ThreadsCredentials  `json:"threads"`
}

// Account is one provider connection. Publishers receive it by value and
// never write back to it.
type Account struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Provider    Provider    `json:"provider"`
	Enabled     bool        `json:"enabled"`
	Credentials Credentials `json:"credentials"`
}

// Label returns the name used in logs and outcome lines.
func (a Account) Label() string {
	switch {
	case a.Name != "":
		return fmt.Sprintf("%s (%s)", a.Name, a.Provider)
	case a.ID != "":
		return fmt.Sprintf("%s (%s)", a.ID, a.Provider)
	}
	return string(a.Provider)
}

// Enabled returns the accounts with the enabled flag set, preserving order.
func Enabled(accounts []Account) []Account {
	out := make([]Account, 0, len(accounts))
	for _, acct := range accounts {
		if acct.Enabled {
			out = append(out, acct)
		}
	}
	return out
}

// Image is an already prepared attachment. URL is the publicly hosted copy,
// which Threads requires instead of raw bytes.
type Image struct {
	Data     []byte
	MIMEType string
	Alt      string
	URL      string
}

// PostRequest defines the message payload shared across all providers.
type PostRequest struct {
	Text      string
	Image     *Image
	Languages []string
}

// HasImage reports whether the request carries an attachment.
func (r PostRequest) HasImage() bool { return r.Image != nil }

// Post identifies a published post.
type Post struct {
	ID  string
	URI string
}

// Publisher abstracts a social network that can publish content.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, req PostRequest) (Post, error)
}

// PublishResult is the outcome of publishing to one account.
type PublishResult struct {
	Account  Account
	Post     Post
	Err      error
	Duration time.Duration
}

// OK reports whether the publish succeeded.
func (r PublishResult) OK() bool { return r.Err == nil }

func (r PublishResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: failed: %v", r.Account.Label(), r.Err)
	}
	ref := r.Post.URI
	if ref == "" {
		ref = r.Post.ID
	}
	return fmt.Sprintf("%s: posted %s", r.Account.Label(), ref)
}
