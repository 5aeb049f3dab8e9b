package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/blacktop/crosspost/internal/xpost/exchange"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	providerName = "bluesky"

	// DefaultPDSURL is the XRPC base of the main Bluesky PDS.
	DefaultPDSURL = "https://bsky.social/xrpc"

	postCollection = "app.bsky.feed.post"

	// createdAt layout: ISO-8601 UTC with millisecond precision.
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Client implements the xpost.Publisher interface for Bluesky.
type Client struct {
	http        *http.Client
	clock       xpost.Clock
	host        string
	handle      string
	appPassword string
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used for record timestamps.
func WithClock(clock xpost.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// New constructs a Bluesky publisher. No session is opened until Publish.
func New(creds xpost.BlueskyCredentials, doer exchange.Doer, opts ...Option) (*Client, error) {
	handle := strings.TrimSpace(creds.Handle)
	password := strings.TrimSpace(creds.AppPassword)

	var missing []string
	if handle == "" {
		missing = append(missing, "handle")
	}
	if password == "" {
		missing = append(missing, "app_password")
	}
	if len(missing) > 0 {
		return nil, xpost.MissingCredentials(providerName, missing)
	}

	base, err := xrpcBase(creds.PDSURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		http:        exchange.HTTPClient(doer),
		clock:       xpost.SystemClock{},
		host:        strings.TrimSuffix(base, "/xrpc"),
		handle:      strings.TrimPrefix(handle, "@"),
		appPassword: password,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// xrpcBase normalises a PDS URL to its /xrpc root.
func xrpcBase(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultPDSURL, nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", xpost.Error{Provider: providerName, Kind: xpost.KindInvalidURL, Message: fmt.Sprintf("pds url %q", raw)}
	}
	base := strings.TrimRight(u.String(), "/")
	if !strings.HasSuffix(base, "/xrpc") {
		base += "/xrpc"
	}
	return base, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Publish creates a new Bluesky post with an optional image embed.
func (c *Client) Publish(ctx context.Context, req xpost.PostRequest) (xpost.Post, error) {
	if req.HasImage() && len(req.Image.Data) == 0 {
		return xpost.Post{}, xpost.Error{Provider: providerName, Kind: xpost.KindInvalidMedia, Message: "no image data"}
	}

	// one session per publish; the client is not shared between calls
	xc := &xrpc.Client{Client: c.http, Host: c.host}
	if err := c.createSession(ctx, xc); err != nil {
		return xpost.Post{}, err
	}

	post := &bsky.FeedPost{
		CreatedAt: c.clock.Now().UTC().Format(timestampLayout),
		Text:      req.Text,
		Langs:     req.Languages,
	}

	if req.HasImage() {
		blob, err := c.uploadBlob(ctx, xc, req.Image)
		if err != nil {
			return xpost.Post{}, err
		}
		post.Embed = &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{
				Images: []*bsky.EmbedImages_Image{
					{
						Alt:   req.Image.Alt,
						Image: blob,
					},
				},
			},
		}
	}

	out, err := c.createRecord(ctx, xc, post)
	if err != nil {
		return xpost.Post{}, err
	}

	return xpost.Post{ID: out.Cid, URI: out.Uri}, nil
}

func (c *Client) createSession(ctx context.Context, xc *xrpc.Client) error {
	out, err := atproto.ServerCreateSession(ctx, xc, &atproto.ServerCreateSession_Input{
		Identifier: c.handle,
		Password:   c.appPassword,
	})
	if err != nil {
		return fmt.Errorf("login: %w", failure(err))
	}
	if out.AccessJwt == "" {
		return xpost.Error{Provider: providerName, Kind: xpost.KindAuthentication, Message: "session without access token"}
	}
	if _, err := syntax.ParseDID(out.Did); err != nil {
		return xpost.Error{Provider: providerName, Kind: xpost.KindDecoding, Message: "session did", Err: err}
	}
	logutil.Debugf("bluesky session created: did=%s", out.Did)

	xc.Auth = &xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	}
	return nil
}

// uploadBlob sends the raw image bytes with the image's own content type.
func (c *Client) uploadBlob(ctx context.Context, xc *xrpc.Client, img *xpost.Image) (*util.LexBlob, error) {
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(img.Data)
	}

	logutil.Debugf("uploading blob: type=%s bytes=%d", mimeType, len(img.Data))
	var out atproto.RepoUploadBlob_Output
	if err := xc.LexDo(ctx, util.Procedure, mimeType, "com.atproto.repo.uploadBlob", nil, bytes.NewReader(img.Data), &out); err != nil {
		return nil, fmt.Errorf("upload blob: %w", failure(err))
	}
	if out.Blob == nil {
		return nil, fmt.Errorf("upload blob: %w", xpost.Error{Provider: providerName, Kind: xpost.KindDecoding, Message: "empty response"})
	}

	return out.Blob, nil
}

func (c *Client) createRecord(ctx context.Context, xc *xrpc.Client, post *bsky.FeedPost) (*atproto.RepoCreateRecord_Output, error) {
	out, err := atproto.RepoCreateRecord(ctx, xc, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       xc.Auth.Did,
		Record: &util.LexiconTypeDecoder{
			Val: post,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create record: %w", failure(err))
	}
	if _, err := syntax.ParseATURI(out.Uri); err != nil {
		return nil, fmt.Errorf("create record: %w", xpost.Error{Provider: providerName, Kind: xpost.KindDecoding, Message: "record uri", Err: err})
	}

	return out, nil
}

// failure maps an xrpc call error onto the publish failure kinds. XRPC error
// bodies become "Error: message".
func failure(err error) error {
	var xe *xrpc.Error
	if errors.As(err, &xe) {
		msg := http.StatusText(xe.StatusCode)
		var body *xrpc.XRPCError
		if errors.As(xe.Wrapped, &body) && (body.ErrStr != "" || body.Message != "") {
			msg = strings.TrimSuffix(body.ErrStr+": "+body.Message, ": ")
		} else if xe.Wrapped != nil {
			msg = xe.Wrapped.Error()
		}
		if xe.StatusCode == http.StatusUnauthorized {
			return xpost.Error{Provider: providerName, Kind: xpost.KindAuthentication, Status: xe.StatusCode, Message: msg}
		}
		return xpost.APIError(providerName, xe.StatusCode, msg)
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return exchange.Failure(providerName, ue.Err)
	}
	return xpost.Error{Provider: providerName, Kind: xpost.KindDecoding, Err: err}
}
