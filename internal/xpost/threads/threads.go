package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/blacktop/crosspost/internal/xpost/exchange"
)

const (
	providerName = "threads"

	// DefaultGraphURL is the Graph API host.
	DefaultGraphURL = "https://graph.facebook.com"
	// GraphVersion is the versioned path prefix for user-scoped calls.
	GraphVersion = "v19.0"
)

// Client implements the xpost.Publisher interface for Threads.
type Client struct {
	http  exchange.Doer
	graph string
	creds xpost.ThreadsCredentials
}

// Option configures a Client.
type Option func(*Client)

// WithGraphURL overrides the Graph API host.
func WithGraphURL(u string) Option {
	return func(c *Client) { c.graph = strings.TrimRight(u, "/") }
}

// New constructs a Threads publisher. Either a long-lived access token or
// the short-lived token plus app client id and secret must be present.
func New(creds xpost.ThreadsCredentials, doer exchange.Doer, opts ...Option) (*Client, error) {
	creds = xpost.ThreadsCredentials{
		AccessToken:     strings.TrimSpace(creds.AccessToken),
		UserID:          strings.TrimSpace(creds.UserID),
		ShortLivedToken: strings.TrimSpace(creds.ShortLivedToken),
		ClientID:        strings.TrimSpace(creds.ClientID),
		ClientSecret:    strings.TrimSpace(creds.ClientSecret),
	}

	if creds.AccessToken == "" {
		var missing []string
		if creds.ShortLivedToken == "" {
			missing = append(missing, "access_token or short_lived_token")
		}
		if creds.ClientID == "" {
			missing = append(missing, "client_id")
		}
		if creds.ClientSecret == "" {
			missing = append(missing, "client_secret")
		}
		if len(missing) > 0 {
			return nil, xpost.MissingCredentials(providerName, missing)
		}
	}

	c := &Client{http: doer, graph: DefaultGraphURL, creds: creds}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Publish runs the token exchange and user lookup when needed, then the
// container/publish pair.
func (c *Client) Publish(ctx context.Context, req xpost.PostRequest) (xpost.Post, error) {
	var mediaURL string
	if req.HasImage() {
		mediaURL = strings.TrimSpace(req.Image.URL)
		if mediaURL == "" {
			return xpost.Post{}, xpost.Error{
				Provider: providerName,
				Kind:     xpost.KindInvalidMedia,
				Message:  "images must be hosted at a public URL",
			}
		}
		if u, err := url.Parse(mediaURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return xpost.Post{}, xpost.Error{Provider: providerName, Kind: xpost.KindInvalidURL, Message: fmt.Sprintf("media url %q", mediaURL)}
		}
	}

	token := c.creds.AccessToken
	if token == "" {
		var err error
		if token, err = c.exchangeToken(ctx); err != nil {
			return xpost.Post{}, err
		}
	}

	userID := c.creds.UserID
	if userID == "" {
		var err error
		if userID, err = c.lookupUser(ctx, token); err != nil {
			return xpost.Post{}, err
		}
	}

	cp := &containerPublish{c: c, token: token, userID: userID}
	id, err := cp.run(ctx, containerParams(req.Text, mediaURL))
	if err != nil {
		return xpost.Post{}, err
	}

	return xpost.Post{ID: id}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// exchangeToken trades the short-lived token for a long-lived one. The
// result is kept only for this call.
func (c *Client) exchangeToken(ctx context.Context) (string, error) {
	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.creds.ClientID},
		"client_secret":     {c.creds.ClientSecret},
		"fb_exchange_token": {c.creds.ShortLivedToken},
	}
	resp, err := c.http.Do(ctx, exchange.NewRequest(http.MethodGet, c.graph+"/oauth/access_token?"+q.Encode(), nil))
	if err != nil {
		return "", xpost.Error{Provider: providerName, Kind: xpost.KindTokenExchange, Err: exchange.Failure(providerName, err)}
	}
	if !resp.OK() {
		return "", xpost.Error{Provider: providerName, Kind: xpost.KindTokenExchange, Status: resp.Status, Message: graphMessage(resp)}
	}

	var out tokenResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.AccessToken == "" {
		return "", xpost.Error{Provider: providerName, Kind: xpost.KindTokenExchange, Status: resp.Status, Message: "response missing access_token"}
	}
	logutil.Debugf("threads token exchanged: expires_in=%d", out.ExpiresIn)

	return out.AccessToken, nil
}

func (c *Client) lookupUser(ctx context.Context, token string) (string, error) {
	q := url.Values{
		"fields":       {"id,username"},
		"access_token": {token},
	}
	var out struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := c.call(ctx, http.MethodGet, c.versioned("me"), q, &out); err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("lookup user: %w", xpost.APIError(providerName, http.StatusOK, "response missing id"))
	}
	logutil.Debugf("threads user resolved: id=%s username=%s", out.ID, out.Username)

	return out.ID, nil
}

func (c *Client) versioned(path string) string {
	return c.graph + "/" + GraphVersion + "/" + path
}

// call sends an authenticated Graph request. Parameters, including the
// access token, travel in the query string.
func (c *Client) call(ctx context.Context, method, endpoint string, q url.Values, out any) error {
	resp, err := c.http.Do(ctx, exchange.NewRequest(method, endpoint+"?"+q.Encode(), nil))
	if err != nil {
		return exchange.Failure(providerName, err)
	}
	if !resp.OK() {
		kind := xpost.KindAPI
		if resp.Status == http.StatusUnauthorized {
			kind = xpost.KindAuthentication
		}
		return xpost.Error{Provider: providerName, Kind: kind, Status: resp.Status, Message: graphMessage(resp)}
	}
	return exchange.DecodeJSON(providerName, resp, out)
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func graphMessage(resp *exchange.Response) string {
	var ge graphError
	if err := json.Unmarshal(resp.Body, &ge); err == nil && ge.Error.Message != "" {
		if ge.Error.Type != "" {
			return ge.Error.Type + ": " + ge.Error.Message
		}
		return ge.Error.Message
	}
	return exchange.BodyText(resp)
}
