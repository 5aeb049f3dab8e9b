package threads

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/xpost"
)

type containerState int

const (
	stateCreating containerState = iota
	statePublishing
	statePublished
	stateFailed
)

func (s containerState) String() string {
	switch s {
	case stateCreating:
		return "CREATING"
	case statePublishing:
		return "PUBLISHING"
	case statePublished:
		return "PUBLISHED"
	case stateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

type idResponse struct {
	ID string `json:"id"`
}

// containerPublish creates a media container and then publishes it by id.
type containerPublish struct {
	c      *Client
	token  string
	userID string

	state       containerState
	containerID string
	postID      string
}

func containerParams(text, mediaURL string) url.Values {
	q := url.Values{"text": {text}}
	if mediaURL != "" {
		q.Set("media_type", "IMAGE")
		q.Set("media_url", mediaURL)
	} else {
		q.Set("media_type", "TEXT")
	}
	return q
}

func (p *containerPublish) run(ctx context.Context, params url.Values) (string, error) {
	for {
		switch p.state {
		case stateCreating:
			if err := p.create(ctx, params); err != nil {
				p.state = stateFailed
				return "", err
			}
		case statePublishing:
			if err := p.publish(ctx); err != nil {
				p.state = stateFailed
				return "", err
			}
		case statePublished:
			return p.postID, nil
		default:
			return "", fmt.Errorf("container %s is %s", p.containerID, p.state)
		}
	}
}

func (p *containerPublish) create(ctx context.Context, params url.Values) error {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("access_token", p.token)

	var out idResponse
	if err := p.c.call(ctx, http.MethodPost, p.c.versioned(p.userID+"/threads_containers"), q, &out); err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if out.ID == "" {
		return fmt.Errorf("create container: %w", xpost.APIError(providerName, http.StatusOK, "response missing id"))
	}
	p.containerID = out.ID
	logutil.Debugf("threads container created: id=%s", out.ID)
	p.state = statePublishing
	return nil
}

func (p *containerPublish) publish(ctx context.Context) error {
	q := url.Values{
		"creation_id":  {p.containerID},
		"access_token": {p.token},
	}

	var out idResponse
	if err := p.c.call(ctx, http.MethodPost, p.c.versioned(p.userID+"/threads_publish"), q, &out); err != nil {
		return fmt.Errorf("publish container %s: %w", p.containerID, err)
	}
	if out.ID == "" {
		return fmt.Errorf("publish container %s: %w", p.containerID, xpost.APIError(providerName, http.StatusOK, "response missing id"))
	}
	p.postID = out.ID
	p.state = statePublished
	return nil
}
