package twitter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/blacktop/crosspost/internal/xpost/exchange"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
)

// uploadState is a step of the chunked media upload.
type uploadState int

const (
	stateInit uploadState = iota
	stateAppending
	stateFinalizing
	statePolling
	stateSucceeded
	stateFailed
)

func (s uploadState) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateAppending:
		return "APPENDING"
	case stateFinalizing:
		return "FINALIZING"
	case statePolling:
		return "POLLING"
	case stateSucceeded:
		return "SUCCEEDED"
	case stateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

func (s uploadState) terminal() bool { return s == stateSucceeded || s == stateFailed }

var (
	processingPending    = string(resources.ProcessingInfoStatePending)
	processingInProgress = string(resources.ProcessingInfoStateInProgress)
	processingSucceeded  = string(resources.ProcessingInfoStateSucceeded)
)

const processingFailed = "failed"

type processingInfo struct {
	State           string `json:"state"`
	CheckAfterSecs  int    `json:"check_after_secs"`
	ProgressPercent int    `json:"progress_percent"`
	Error           *struct {
		Code    int    `json:"code"`
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *processingInfo) failure() string {
	if p.Error != nil {
		if p.Error.Message != "" {
			return p.Error.Message
		}
		if p.Error.Name != "" {
			return p.Error.Name
		}
	}
	return "media processing failed"
}

type mediaResponse struct {
	MediaIDString  string          `json:"media_id_string"`
	ProcessingInfo *processingInfo `json:"processing_info,omitempty"`
}

// afterFinalize picks the state following a FINALIZE response.
func afterFinalize(info *processingInfo) uploadState {
	if info == nil {
		return stateSucceeded
	}
	switch info.State {
	case processingPending, processingInProgress:
		return statePolling
	case processingFailed:
		return stateFailed
	}
	return stateSucceeded
}

// afterStatus picks the state following a STATUS response.
func afterStatus(info *processingInfo) uploadState {
	if info == nil {
		return stateSucceeded
	}
	switch info.State {
	case processingSucceeded:
		return stateSucceeded
	case processingFailed:
		return stateFailed
	}
	return statePolling
}

// ChunkError reports the APPEND segment that aborted an upload.
type ChunkError struct {
	Segment int
	Err     error
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("append segment %d: %v", e.Segment, e.Err)
}

func (e ChunkError) Unwrap() error { return e.Err }

// splitChunks cuts data into size-byte segments; only the last may be shorter.
func splitChunks(data []byte, size int) [][]byte {
	if len(data) == 0 || size <= 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// upload drives INIT → APPENDING → FINALIZING → (POLLING)* → SUCCEEDED | FAILED.
type upload struct {
	c         *Client
	data      []byte
	mediaType string
	category  string

	state    uploadState
	mediaID  string
	info     *processingInfo
	deadline time.Time
	err      error
}

func (c *Client) newUpload(img *xpost.Image) (*upload, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, xpost.Error{Provider: providerName, Kind: xpost.KindInvalidMedia, Message: "no image data"}
	}
	mediaType, category, err := resolveMediaType(img.MIMEType)
	if err != nil {
		return nil, err
	}
	return &upload{c: c, data: img.Data, mediaType: mediaType, category: category, state: stateInit}, nil
}

// advance moves to next. Terminal states are final.
func (u *upload) advance(next uploadState) error {
	if u.state.terminal() {
		return fmt.Errorf("upload already %s, cannot move to %s", u.state, next)
	}
	logutil.Debugf("upload %s -> %s media_id=%s", u.state, next, u.mediaID)
	u.state = next
	return nil
}

func (u *upload) fail(err error) error {
	if !u.state.terminal() {
		u.state = stateFailed
	}
	if u.err == nil {
		u.err = err
	}
	return u.err
}

func (u *upload) run(ctx context.Context) (string, error) {
	for !u.state.terminal() {
		var err error
		switch u.state {
		case stateInit:
			err = u.initialize(ctx)
		case stateAppending:
			err = u.appendChunks(ctx)
		case stateFinalizing:
			err = u.finalize(ctx)
		case statePolling:
			err = u.poll(ctx)
		}
		if err != nil {
			return "", u.fail(err)
		}
	}
	if u.state == stateFailed {
		return "", u.err
	}
	return u.mediaID, nil
}

func (u *upload) initialize(ctx context.Context) error {
	logutil.Debugf("initialize upload: media_type=%s bytes=%d", u.mediaType, len(u.data))
	resp, err := u.c.postForm(ctx, map[string]string{
		"command":        "INIT",
		"total_bytes":    strconv.Itoa(len(u.data)),
		"media_type":     u.mediaType,
		"media_category": u.category,
	})
	if err != nil {
		return fmt.Errorf("initialize upload: %w", err)
	}
	out, err := decodeMedia(resp)
	if err != nil {
		return fmt.Errorf("initialize upload: %w", err)
	}
	if out.MediaIDString == "" {
		return fmt.Errorf("initialize upload: %w", xpost.APIError(providerName, resp.Status, "response missing media_id_string"))
	}
	u.mediaID = out.MediaIDString
	return u.advance(stateAppending)
}

func (u *upload) appendChunks(ctx context.Context) error {
	for i, chunk := range splitChunks(u.data, u.c.chunkSize) {
		logutil.Debugf("append upload: media_id=%s segment=%d bytes=%d", u.mediaID, i, len(chunk))
		resp, err := u.c.postForm(ctx, map[string]string{
			"command":       "APPEND",
			"media_id":      u.mediaID,
			"segment_index": strconv.Itoa(i),
			"media":         base64.StdEncoding.EncodeToString(chunk),
		})
		if err != nil {
			return ChunkError{Segment: i, Err: err}
		}
		if !resp.OK() {
			return ChunkError{Segment: i, Err: xpost.APIError(providerName, resp.Status, exchange.BodyText(resp))}
		}
	}
	return u.advance(stateFinalizing)
}

func (u *upload) finalize(ctx context.Context) error {
	resp, err := u.c.postForm(ctx, map[string]string{
		"command":  "FINALIZE",
		"media_id": u.mediaID,
	})
	if err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	out, err := decodeMedia(resp)
	if err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return u.observe(resp.Status, out.ProcessingInfo, afterFinalize(out.ProcessingInfo))
}

func (u *upload) poll(ctx context.Context) error {
	if u.deadline.IsZero() {
		u.deadline = u.c.clock.Now().Add(u.c.pollTimeout)
	}

	wait := time.Duration(u.info.CheckAfterSecs) * time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if u.c.clock.Now().Add(wait).After(u.deadline) {
		return xpost.Error{
			Provider: providerName,
			Kind:     xpost.KindTimeout,
			Message:  fmt.Sprintf("media %s still %s after %s", u.mediaID, u.info.State, u.c.pollTimeout),
		}
	}
	logutil.Debugf("waiting for media processing: media_id=%s state=%s wait=%s", u.mediaID, u.info.State, wait)
	if err := u.c.clock.Sleep(ctx, wait); err != nil {
		return fmt.Errorf("wait for media processing: %w", err)
	}

	resp, err := u.c.getQuery(ctx, map[string]string{
		"command":  "STATUS",
		"media_id": u.mediaID,
	})
	if err != nil {
		return fmt.Errorf("media status: %w", err)
	}
	out, err := decodeMedia(resp)
	if err != nil {
		return fmt.Errorf("media status: %w", err)
	}
	return u.observe(resp.Status, out.ProcessingInfo, afterStatus(out.ProcessingInfo))
}

func (u *upload) observe(status int, info *processingInfo, next uploadState) error {
	if info != nil {
		u.info = info
		logutil.Debugf("processing state=%s progress=%d media_id=%s", info.State, info.ProgressPercent, u.mediaID)
	}
	if next == stateFailed {
		return xpost.APIError(providerName, status, info.failure())
	}
	if next == statePolling && u.state == statePolling {
		return nil
	}
	return u.advance(next)
}

func decodeMedia(resp *exchange.Response) (*mediaResponse, error) {
	if !resp.OK() {
		return nil, xpost.APIError(providerName, resp.Status, exchange.BodyText(resp))
	}
	var out mediaResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, xpost.Error{Provider: providerName, Kind: xpost.KindDecoding, Status: resp.Status, Err: err}
	}
	return &out, nil
}

func (c *Client) uploadMedia(ctx context.Context, img *xpost.Image) (string, error) {
	u, err := c.newUpload(img)
	if err != nil {
		return "", err
	}

	mediaID, err := u.run(ctx)
	if err != nil {
		return "", err
	}

	if alt := strings.TrimSpace(img.Alt); alt != "" {
		logutil.Debugf("setting alt text: media_id=%s", mediaID)
		if err := c.setAltText(ctx, mediaID, alt); err != nil {
			return "", err
		}
	}

	return mediaID, nil
}

func resolveMediaType(mimeType string) (string, string, error) {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return string(uploadtypes.MediaTypeJPEG), string(uploadtypes.MediaCategoryTweetImage), nil
	case "image/png":
		return string(uploadtypes.MediaTypePNG), string(uploadtypes.MediaCategoryTweetImage), nil
	case "image/gif":
		return string(uploadtypes.MediaTypeGIF), string(uploadtypes.MediaCategoryTweetGIF), nil
	case "image/webp":
		return string(uploadtypes.MediaTypeWebP), string(uploadtypes.MediaCategoryTweetImage), nil
	}
	return "", "", xpost.Error{
		Provider: providerName,
		Kind:     xpost.KindInvalidMedia,
		Message:  fmt.Sprintf("unsupported image type %q", mimeType),
	}
}
