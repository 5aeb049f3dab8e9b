package mastodon

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/blacktop/crosspost/internal/xpost/exchange"
	mastodonapi "github.com/mattn/go-mastodon"
)

const providerName = "mastodon"

// Client publishes statuses to a single Mastodon instance.
type Client struct {
	http        exchange.Doer
	server      string
	accessToken string
}

// New constructs a Mastodon publisher for the instance in creds.
func New(creds xpost.MastodonCredentials, doer exchange.Doer) (*Client, error) {
	server := strings.TrimSpace(creds.InstanceURL)
	token := strings.TrimSpace(creds.AccessToken)

	var missing []string
	if server == "" {
		missing = append(missing, "instance_url")
	}
	if token == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return nil, xpost.MissingCredentials(providerName, missing)
	}

	u, err := url.Parse(server)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, xpost.Error{Provider: providerName, Kind: xpost.KindInvalidURL, Message: fmt.Sprintf("instance url %q", server)}
	}

	return &Client{
		http:        doer,
		server:      strings.TrimRight(u.String(), "/"),
		accessToken: token,
	}, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

type statusRequest struct {
	Status     string           `json:"status"`
	Visibility string           `json:"visibility"`
	MediaIDs   []mastodonapi.ID `json:"media_ids,omitempty"`
	Language   string           `json:"language,omitempty"`
}

// Publish posts a new public status to the configured instance.
func (c *Client) Publish(ctx context.Context, req xpost.PostRequest) (xpost.Post, error) {
	var mediaIDs []mastodonapi.ID
	if req.HasImage() {
		attachment, err := c.uploadMedia(ctx, req.Image)
		if err != nil {
			return xpost.Post{}, err
		}
		mediaIDs = append(mediaIDs, attachment.ID)
	}

	body := statusRequest{
		Status:     req.Text,
		Visibility: mastodonapi.VisibilityPublic,
		MediaIDs:   mediaIDs,
	}
	if len(req.Languages) > 0 {
		body.Language = req.Languages[0]
	}

	httpReq, err := exchange.NewJSONRequest(providerName, http.MethodPost, c.server+"/api/v1/statuses", body)
	if err != nil {
		return xpost.Post{}, err
	}
	c.authorize(httpReq)

	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return xpost.Post{}, fmt.Errorf("post status: %w", exchange.Failure(providerName, err))
	}
	if !resp.OK() {
		return xpost.Post{}, fmt.Errorf("post status: %w", apiError(resp))
	}

	var status mastodonapi.Status
	if err := exchange.DecodeJSON(providerName, resp, &status); err != nil {
		return xpost.Post{}, fmt.Errorf("post status: %w", err)
	}
	if status.ID == "" {
		return xpost.Post{}, fmt.Errorf("post status: %w", xpost.APIError(providerName, resp.Status, "response missing id"))
	}

	uri := status.URL
	if uri == "" {
		uri = status.URI
	}
	return xpost.Post{ID: string(status.ID), URI: uri}, nil
}

// uploadMedia sends the image in one multipart request. Both 200 and the
// asynchronous 202 are accepted; processing is not awaited.
func (c *Client) uploadMedia(ctx context.Context, img *xpost.Image) (*mastodonapi.Attachment, error) {
	if len(img.Data) == 0 {
		return nil, xpost.Error{Provider: providerName, Kind: xpost.KindInvalidMedia, Message: "no image data"}
	}

	body, contentType, err := multipartImage(img)
	if err != nil {
		return nil, xpost.Error{Provider: providerName, Kind: xpost.KindEncoding, Err: err}
	}

	req := exchange.NewRequest(http.MethodPost, c.server+"/api/v1/media", body)
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	logutil.Debugf("uploading media: type=%s bytes=%d", img.MIMEType, len(img.Data))
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", exchange.Failure(providerName, err))
	}
	if resp.Status != http.StatusOK && resp.Status != http.StatusAccepted {
		return nil, fmt.Errorf("upload media: %w", apiError(resp))
	}

	var attachment mastodonapi.Attachment
	if err := exchange.DecodeJSON(providerName, resp, &attachment); err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	if attachment.ID == "" {
		return nil, fmt.Errorf("upload media: %w", xpost.APIError(providerName, resp.Status, "response missing id"))
	}
	logutil.Debugf("media uploaded: id=%s status=%d", attachment.ID, resp.Status)

	return &attachment, nil
}

func multipartImage(img *xpost.Image) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(img.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName(mimeType)))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}

	if alt := strings.TrimSpace(img.Alt); alt != "" {
		if err := w.WriteField("description", alt); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func fileName(mimeType string) string {
	if _, ext, ok := strings.Cut(mimeType, "/"); ok && ext != "" {
		return "image." + ext
	}
	return "image"
}

func (c *Client) authorize(req *exchange.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
}

func apiError(resp *exchange.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := exchange.BodyText(resp)
	if err := exchange.DecodeJSON(providerName, resp, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return xpost.Error{Provider: providerName, Kind: xpost.KindAuthentication, Status: resp.Status, Message: msg}
	}
	return xpost.APIError(providerName, resp.Status, msg)
}
