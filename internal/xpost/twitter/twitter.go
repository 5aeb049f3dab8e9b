package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/blacktop/crosspost/internal/xpost/exchange"
	"github.com/blacktop/crosspost/internal/xpost/oauth1"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/resources"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
)

const (
	providerName = "twitter"

	tweetEndpoint    = "https://api.twitter.com/2/tweets"
	uploadEndpoint   = "https://upload.twitter.com/1.1/media/upload.json"
	metadataEndpoint = "https://upload.twitter.com/1.1/media/metadata/create.json"

	// DefaultChunkSize is the APPEND segment size.
	DefaultChunkSize = 5 << 20
	// DefaultPollTimeout bounds how long media processing is awaited.
	DefaultPollTimeout = 5 * time.Minute
)

// Endpoints holds the API URLs, overridable for tests.
type Endpoints struct {
	Tweet    string
	Upload   string
	Metadata string
}

// Client implements the Publisher interface for X (Twitter).
type Client struct {
	http        exchange.Doer
	signer      *oauth1.Signer
	clock       xpost.Clock
	endpoints   Endpoints
	chunkSize   int
	pollTimeout time.Duration
	signerOpts  []oauth1.Option
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used for polling.
func WithClock(clock xpost.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithChunkSize overrides the APPEND segment size.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithPollTimeout bounds media processing polling.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithEndpoints overrides the API URLs.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) { c.endpoints = e }
}

// WithSignerOptions forwards options to the OAuth signer.
func WithSignerOptions(opts ...oauth1.Option) Option {
	return func(c *Client) { c.signerOpts = append(c.signerOpts, opts...) }
}

// New constructs a Twitter publisher. It fails without any network call when
// a credential is missing.
func New(creds xpost.TwitterCredentials, doer exchange.Doer, opts ...Option) (*Client, error) {
	cfg := oauth1.Credentials{
		ConsumerKey:    strings.TrimSpace(creds.ConsumerKey),
		ConsumerSecret: strings.TrimSpace(creds.ConsumerSecret),
		Token:          strings.TrimSpace(creds.AccessToken),
		TokenSecret:    strings.TrimSpace(creds.AccessSecret),
	}

	var missing []string
	if cfg.ConsumerKey == "" {
		missing = append(missing, "consumer_key")
	}
	if cfg.ConsumerSecret == "" {
		missing = append(missing, "consumer_secret")
	}
	if cfg.Token == "" {
		missing = append(missing, "access_token")
	}
	if cfg.TokenSecret == "" {
		missing = append(missing, "access_token_secret")
	}
	if len(missing) > 0 {
		return nil, xpost.MissingCredentials(providerName, missing)
	}

	c := &Client{
		http:  doer,
		clock: xpost.SystemClock{},
		endpoints: Endpoints{
			Tweet:    tweetEndpoint,
			Upload:   uploadEndpoint,
			Metadata: metadataEndpoint,
		},
		chunkSize:   DefaultChunkSize,
		pollTimeout: DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.signer = oauth1.NewSigner(cfg, c.signerOpts...)

	return c, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Publish posts the message (and optional media) to X.
func (c *Client) Publish(ctx context.Context, req xpost.PostRequest) (xpost.Post, error) {
	var mediaIDs []string
	if req.HasImage() {
		logutil.Debugf("uploading media: type=%s bytes=%d", req.Image.MIMEType, len(req.Image.Data))
		mediaID, err := c.uploadMedia(ctx, req.Image)
		if err != nil {
			return xpost.Post{}, err
		}
		mediaIDs = append(mediaIDs, mediaID)
		logutil.Debugf("media uploaded: media_id=%s", mediaID)
	}

	input := &managetweettypes.CreateInput{
		Text: gotwi.String(req.Text),
	}
	if len(mediaIDs) > 0 {
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: mediaIDs}
	}

	logutil.Debugf("posting tweet: media_count=%d", len(mediaIDs))
	id, err := c.createTweet(ctx, input)
	if err != nil {
		return xpost.Post{}, err
	}
	logutil.Debugf("tweet posted successfully: id=%s", id)

	return xpost.Post{ID: id, URI: "https://x.com/i/web/status/" + id}, nil
}

type tweetResponse struct {
	Data *struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Errors []resources.PartialError `json:"errors"`
}

func (c *Client) createTweet(ctx context.Context, input *managetweettypes.CreateInput) (string, error) {
	resp, err := c.postJSON(ctx, c.endpoints.Tweet, input)
	if err != nil {
		return "", err
	}

	var out tweetResponse
	if !resp.OK() {
		return "", xpost.APIError(providerName, resp.Status, exchange.BodyText(resp))
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.Data == nil || out.Data.ID == "" {
		msg := exchange.BodyText(resp)
		if perr := partialError(out.Errors); perr != nil {
			msg = perr.Error() + ": " + msg
		}
		return "", xpost.APIError(providerName, resp.Status, msg)
	}

	return out.Data.ID, nil
}

func (c *Client) setAltText(ctx context.Context, mediaID, altText string) error {
	body := struct {
		MediaID string `json:"media_id"`
		AltText struct {
			Text string `json:"text"`
		} `json:"alt_text"`
	}{}
	body.MediaID = mediaID
	body.AltText.Text = altText

	resp, err := c.postJSON(ctx, c.endpoints.Metadata, body)
	if err != nil {
		return fmt.Errorf("set alt text: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("set alt text: %w", xpost.APIError(providerName, resp.Status, exchange.BodyText(resp)))
	}
	logutil.Debugf("alt text set: media_id=%s", mediaID)

	return nil
}

// postJSON signs a JSON request. The body never enters the signature.
func (c *Client) postJSON(ctx context.Context, endpoint string, v any) (*exchange.Response, error) {
	req, err := exchange.NewJSONRequest(providerName, http.MethodPost, endpoint, v)
	if err != nil {
		return nil, err
	}
	if err := c.sign(req, nil); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := c.http.Do(ctx, req)
	return resp, exchange.Failure(providerName, err)
}

// postForm signs and sends a form-encoded upload command.
func (c *Client) postForm(ctx context.Context, params map[string]string) (*exchange.Response, error) {
	req := exchange.NewRequest(http.MethodPost, c.endpoints.Upload, []byte(oauth1.EncodeForm(params)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := c.sign(req, params); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, req)
	return resp, exchange.Failure(providerName, err)
}

// getQuery signs and sends a GET with params in the query string.
func (c *Client) getQuery(ctx context.Context, params map[string]string) (*exchange.Response, error) {
	req := exchange.NewRequest(http.MethodGet, c.endpoints.Upload+"?"+oauth1.EncodeForm(params), nil)
	if err := c.sign(req, params); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, req)
	return resp, exchange.Failure(providerName, err)
}

func (c *Client) sign(req *exchange.Request, params map[string]string) error {
	header, err := c.signer.Authorization(req.Method, req.URL, params)
	if err != nil {
		return xpost.Error{Provider: providerName, Kind: xpost.KindAuthentication, Err: err}
	}
	req.Header.Set("Authorization", header)
	return nil
}

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprintf("%s", *pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "unknown error")
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
