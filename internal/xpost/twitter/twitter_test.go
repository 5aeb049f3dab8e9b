package twitter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/blacktop/crosspost/internal/xpost/exchange"
	"github.com/blacktop/crosspost/internal/xpost/exchange/exchangetest"
	"github.com/blacktop/crosspost/internal/xpost/oauth1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = xpost.TwitterCredentials{
	ConsumerKey:    "ck",
	ConsumerSecret: "cs",
	AccessToken:    "at",
	AccessSecret:   "as",
}

var fixedSigner = []oauth1.Option{
	oauth1.WithNonce(func() string { return "nonce" }),
	oauth1.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
}

func newTestClient(t *testing.T, stub *exchangetest.Stub, opts ...Option) (*Client, *exchangetest.Clock) {
	t.Helper()
	clock := exchangetest.NewClock(time.Unix(1700000000, 0))
	opts = append([]Option{WithClock(clock), WithSignerOptions(fixedSigner...)}, opts...)
	c, err := New(testCreds, stub, opts...)
	require.NoError(t, err)
	return c, clock
}

func formOf(t *testing.T, req *exchange.Request) url.Values {
	t.Helper()
	v, err := url.ParseQuery(string(req.Body))
	require.NoError(t, err)
	return v
}

func tweetOK(id string) exchangetest.HandlerFunc {
	return func(*exchange.Request) (*exchange.Response, error) {
		return exchangetest.JSON(http.StatusCreated, map[string]any{"data": map[string]any{"id": id, "text": "hello"}}), nil
	}
}

// mediaHandler answers upload commands; statuses are served in order.
type mediaHandler struct {
	t          *testing.T
	finalize   map[string]any
	statuses   []map[string]any
	failAppend int
	commands   []string
}

func (h *mediaHandler) serve(req *exchange.Request) (*exchange.Response, error) {
	var command string
	if req.Method == http.MethodGet {
		u, err := url.Parse(req.URL)
		require.NoError(h.t, err)
		command = u.Query().Get("command")
	} else {
		command = formOf(h.t, req).Get("command")
	}
	h.commands = append(h.commands, command)

	switch command {
	case "INIT":
		return exchangetest.JSON(http.StatusAccepted, map[string]any{"media_id": 710511363345354753, "media_id_string": "710511363345354753"}), nil
	case "APPEND":
		seg, _ := strconv.Atoi(formOf(h.t, req).Get("segment_index"))
		if h.failAppend >= 0 && seg == h.failAppend {
			return exchangetest.Text(http.StatusBadRequest, `{"errors":[{"message":"bad segment"}]}`), nil
		}
		return exchangetest.Text(http.StatusNoContent, ""), nil
	case "FINALIZE":
		body := h.finalize
		if body == nil {
			body = map[string]any{"media_id_string": "710511363345354753", "size": 10}
		}
		return exchangetest.JSON(http.StatusCreated, body), nil
	case "STATUS":
		next := h.statuses[0]
		if len(h.statuses) > 1 {
			h.statuses = h.statuses[1:]
		}
		return exchangetest.JSON(http.StatusOK, next), nil
	}
	h.t.Fatalf("unexpected command %q", command)
	return nil, nil
}

func processing(state string, after int) map[string]any {
	return map[string]any{
		"media_id_string": "710511363345354753",
		"processing_info": map[string]any{"state": state, "check_after_secs": after},
	}
}

func TestNewMissingCredentials(t *testing.T) {
	stub := exchangetest.New()
	for _, creds := range []xpost.TwitterCredentials{
		{},
		{ConsumerKey: "ck", ConsumerSecret: "cs", AccessToken: "at"},
		{ConsumerKey: "ck", ConsumerSecret: "  ", AccessToken: "at", AccessSecret: "as"},
	} {
		_, err := New(creds, stub)
		require.Error(t, err)
		assert.ErrorIs(t, err, xpost.KindAuthentication)
	}
	assert.Empty(t, stub.Calls())
}

func TestPublishTextOnly(t *testing.T) {
	stub := exchangetest.New().Handle(http.MethodPost, "/2/tweets", tweetOK("1445880548472328192"))
	c, _ := newTestClient(t, stub)

	post, err := c.Publish(context.Background(), xpost.PostRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "1445880548472328192", post.ID)
	assert.Equal(t, "https://x.com/i/web/status/1445880548472328192", post.URI)

	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, tweetEndpoint, calls[0].URL)
	assert.JSONEq(t, `{"text":"hello"}`, string(calls[0].Body))

	want, err := oauth1.NewSigner(oauth1.Credentials{
		ConsumerKey: "ck", ConsumerSecret: "cs", Token: "at", TokenSecret: "as",
	}, fixedSigner...).Authorization(http.MethodPost, tweetEndpoint, nil)
	require.NoError(t, err)
	assert.Equal(t, want, calls[0].Header.Get("Authorization"), "JSON body must not enter the signature")
}

func TestPublishRejected(t *testing.T) {
	body := `{"title":"Forbidden","detail":"You are not permitted to perform this action.","status":403}`
	stub := exchangetest.New().Reply(http.MethodPost, "/2/tweets", exchangetest.Text(http.StatusForbidden, body))
	c, _ := newTestClient(t, stub)

	_, err := c.Publish(context.Background(), xpost.PostRequest{Text: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, xpost.KindAPI)

	var xe xpost.Error
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, http.StatusForbidden, xe.Status)
	assert.Equal(t, body, xe.Message)
}

func TestPublishMissingTweetID(t *testing.T) {
	stub := exchangetest.New().Reply(http.MethodPost, "/2/tweets",
		exchangetest.JSON(http.StatusOK, map[string]any{"errors": []map[string]any{{"title": "Invalid Request", "detail": "text too long"}}}))
	c, _ := newTestClient(t, stub)

	_, err := c.Publish(context.Background(), xpost.PostRequest{Text: "hello"})
	assert.ErrorIs(t, err, xpost.KindAPI)
	assert.ErrorContains(t, err, "text too long")
}

func TestPublishWithChunkedMedia(t *testing.T) {
	h := &mediaHandler{t: t, failAppend: -1}
	stub := exchangetest.New().
		Handle(http.MethodPost, "/1.1/media/upload.json", h.serve).
		Handle(http.MethodPost, "/2/tweets", tweetOK("99"))
	c, clock := newTestClient(t, stub, WithChunkSize(4))

	data := []byte("0123456789")
	post, err := c.Publish(context.Background(), xpost.PostRequest{
		Text:  "with media",
		Image: &xpost.Image{Data: data, MIMEType: "image/png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "99", post.ID)
	assert.Equal(t, []string{"INIT", "APPEND", "APPEND", "APPEND", "FINALIZE"}, h.commands)
	assert.Empty(t, clock.Sleeps())

	uploads := stub.CallsTo("/1.1/media/upload.json")
	require.Len(t, uploads, 5)

	init := formOf(t, uploads[0])
	assert.Equal(t, "10", init.Get("total_bytes"))
	assert.Equal(t, "image/png", init.Get("media_type"))
	assert.Equal(t, "tweet_image", init.Get("media_category"))

	var joined []byte
	for i, call := range uploads[1:4] {
		form := formOf(t, call)
		assert.Equal(t, "710511363345354753", form.Get("media_id"))
		assert.Equal(t, strconv.Itoa(i), form.Get("segment_index"))
		chunk, err := base64.StdEncoding.DecodeString(form.Get("media"))
		require.NoError(t, err)
		joined = append(joined, chunk...)

		params := map[string]string{}
		for k := range form {
			params[k] = form.Get(k)
		}
		want, err := oauth1.NewSigner(oauth1.Credentials{
			ConsumerKey: "ck", ConsumerSecret: "cs", Token: "at", TokenSecret: "as",
		}, fixedSigner...).Authorization(http.MethodPost, uploadEndpoint, params)
		require.NoError(t, err)
		assert.Equal(t, want, call.Header.Get("Authorization"), "base64 media is part of the signed set")
	}
	assert.Equal(t, data, joined)

	tweets := stub.CallsTo("/2/tweets")
	require.Len(t, tweets, 1)
	assert.JSONEq(t, `{"text":"with media","media":{"media_ids":["710511363345354753"]}}`, string(tweets[0].Body))
}

func TestPublishPollsUntilSucceeded(t *testing.T) {
	h := &mediaHandler{
		t:          t,
		failAppend: -1,
		finalize:   processing("pending", 2),
		statuses: []map[string]any{
			processing("in_progress", 3),
			processing("succeeded", 0),
		},
	}
	stub := exchangetest.New().
		Handle(http.MethodPost, "/1.1/media/upload.json", h.serve).
		Handle(http.MethodGet, "/1.1/media/upload.json", h.serve).
		Handle(http.MethodPost, "/2/tweets", tweetOK("100"))
	c, clock := newTestClient(t, stub)

	_, err := c.Publish(context.Background(), xpost.PostRequest{
		Text:  "gif",
		Image: &xpost.Image{Data: []byte("GIF89a"), MIMEType: "image/gif"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"INIT", "APPEND", "FINALIZE", "STATUS", "STATUS"}, h.commands)
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, clock.Sleeps())

	statusCalls := 0
	for _, call := range stub.Calls() {
		if call.Method != http.MethodGet {
			continue
		}
		statusCalls++
		u, err := url.Parse(call.URL)
		require.NoError(t, err)
		assert.Equal(t, "710511363345354753", u.Query().Get("media_id"))
		assert.Nil(t, call.Body)
	}
	assert.Equal(t, 2, statusCalls)
}

func TestPublishProcessingFailed(t *testing.T) {
	failed := processing("failed", 0)
	failed["processing_info"].(map[string]any)["error"] = map[string]any{
		"code": 1, "name": "InvalidMedia", "message": "Unsupported video format",
	}
	h := &mediaHandler{
		t:          t,
		failAppend: -1,
		finalize:   processing("pending", 1),
		statuses:   []map[string]any{failed},
	}
	stub := exchangetest.New().
		Handle(http.MethodPost, "/1.1/media/upload.json", h.serve).
		Handle(http.MethodGet, "/1.1/media/upload.json", h.serve)
	c, _ := newTestClient(t, stub)

	_, err := c.Publish(context.Background(), xpost.PostRequest{
		Text:  "x",
		Image: &xpost.Image{Data: []byte("img"), MIMEType: "image/jpeg"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, xpost.KindAPI)
	assert.ErrorContains(t, err, "Unsupported video format")
	assert.Empty(t, stub.CallsTo("/2/tweets"))
}

func TestPublishPollTimeout(t *testing.T) {
	h := &mediaHandler{
		t:          t,
		failAppend: -1,
		finalize:   processing("pending", 2),
		statuses:   []map[string]any{processing("in_progress", 2)},
	}
	stub := exchangetest.New().
		Handle(http.MethodPost, "/1.1/media/upload.json", h.serve).
		Handle(http.MethodGet, "/1.1/media/upload.json", h.serve)
	c, clock := newTestClient(t, stub, WithPollTimeout(7*time.Second))

	_, err := c.Publish(context.Background(), xpost.PostRequest{
		Text:  "x",
		Image: &xpost.Image{Data: []byte("img"), MIMEType: "image/jpeg"},
	})
	assert.ErrorIs(t, err, xpost.KindTimeout)
	assert.Len(t, clock.Sleeps(), 3)
}

func TestPublishPollCancelled(t *testing.T) {
	h := &mediaHandler{t: t, failAppend: -1, finalize: processing("pending", 5)}
	stub := exchangetest.New().Handle(http.MethodPost, "/1.1/media/upload.json", h.serve)
	c, err := New(testCreds, stub)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Publish(ctx, xpost.PostRequest{
		Text:  "x",
		Image: &xpost.Image{Data: []byte("img"), MIMEType: "image/jpeg"},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAppendFailureAbortsWithSegment(t *testing.T) {
	h := &mediaHandler{t: t, failAppend: 1}
	stub := exchangetest.New().Handle(http.MethodPost, "/1.1/media/upload.json", h.serve)
	c, _ := newTestClient(t, stub, WithChunkSize(2))

	_, err := c.Publish(context.Background(), xpost.PostRequest{
		Text:  "x",
		Image: &xpost.Image{Data: []byte("abcdef"), MIMEType: "image/png"},
	})
	require.Error(t, err)

	var chunkErr ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 1, chunkErr.Segment)
	assert.ErrorIs(t, err, xpost.KindAPI)
	assert.Equal(t, []string{"INIT", "APPEND", "APPEND"}, h.commands)
}

func TestInitWithoutMediaID(t *testing.T) {
	stub := exchangetest.New().Reply(http.MethodPost, "/1.1/media/upload.json",
		exchangetest.JSON(http.StatusOK, map[string]any{"expires_after_secs": 86400}))
	c, _ := newTestClient(t, stub)

	_, err := c.Publish(context.Background(), xpost.PostRequest{
		Text:  "x",
		Image: &xpost.Image{Data: []byte("img"), MIMEType: "image/png"},
	})
	assert.ErrorIs(t, err, xpost.KindAPI)
	assert.ErrorContains(t, err, "media_id_string")
	assert.Len(t, stub.Calls(), 1)
}

func TestPublishSetsAltText(t *testing.T) {
	h := &mediaHandler{t: t, failAppend: -1}
	stub := exchangetest.New().
		Handle(http.MethodPost, "/1.1/media/upload.json", h.serve).
		Reply(http.MethodPost, "/1.1/media/metadata/create.json", exchangetest.Text(http.StatusOK, "")).
		Handle(http.MethodPost, "/2/tweets", tweetOK("7"))
	c, _ := newTestClient(t, stub)

	_, err := c.Publish(context.Background(), xpost.PostRequest{
		Text:  "x",
		Image: &xpost.Image{Data: []byte("img"), MIMEType: "image/webp", Alt: "a cat"},
	})
	require.NoError(t, err)

	meta := stub.CallsTo("/1.1/media/metadata/create.json")
	require.Len(t, meta, 1)
	assert.JSONEq(t, `{"media_id":"710511363345354753","alt_text":{"text":"a cat"}}`, string(meta[0].Body))
}

func TestPublishInvalidMedia(t *testing.T) {
	stub := exchangetest.New()
	c, _ := newTestClient(t, stub)

	for _, img := range []*xpost.Image{
		{MIMEType: "image/png"},
		{Data: []byte("%PDF"), MIMEType: "application/pdf"},
	} {
		_, err := c.Publish(context.Background(), xpost.PostRequest{Text: "x", Image: img})
		assert.ErrorIs(t, err, xpost.KindInvalidMedia)
	}
	assert.Empty(t, stub.Calls())
}

func TestSplitChunks(t *testing.T) {
	for _, tc := range []struct{ n, size int }{
		{1, 5}, {5, 5}, {6, 5}, {11, 5}, {4096, 1000}, {DefaultChunkSize + 1, DefaultChunkSize},
	} {
		data := bytes.Repeat([]byte{0xab}, tc.n)
		for i := range data {
			data[i] = byte(i)
		}

		chunks := splitChunks(data, tc.size)
		require.Len(t, chunks, (tc.n+tc.size-1)/tc.size)
		for i, chunk := range chunks[:len(chunks)-1] {
			assert.Len(t, chunk, tc.size, "chunk %d", i)
		}
		assert.LessOrEqual(t, len(chunks[len(chunks)-1]), tc.size)
		assert.Equal(t, data, bytes.Join(chunks, nil))
	}
	assert.Empty(t, splitChunks(nil, 5))
}

func TestUploadTransitions(t *testing.T) {
	assert.Equal(t, stateSucceeded, afterFinalize(nil))
	assert.Equal(t, statePolling, afterFinalize(&processingInfo{State: "pending"}))
	assert.Equal(t, statePolling, afterFinalize(&processingInfo{State: "in_progress"}))
	assert.Equal(t, stateFailed, afterFinalize(&processingInfo{State: "failed"}))
	assert.Equal(t, stateSucceeded, afterFinalize(&processingInfo{State: "succeeded"}))

	assert.Equal(t, stateSucceeded, afterStatus(&processingInfo{State: "succeeded"}))
	assert.Equal(t, stateFailed, afterStatus(&processingInfo{State: "failed"}))
	assert.Equal(t, statePolling, afterStatus(&processingInfo{State: "in_progress"}))
	assert.Equal(t, statePolling, afterStatus(&processingInfo{State: "pending"}))
}

func TestUploadTerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []uploadState{stateSucceeded, stateFailed} {
		for _, next := range []uploadState{stateInit, stateAppending, stateFinalizing, statePolling, stateSucceeded, stateFailed} {
			u := &upload{state: terminal}
			assert.Error(t, u.advance(next))
			assert.Equal(t, terminal, u.state)

			_ = u.fail(assert.AnError)
			assert.Equal(t, terminal, u.state)
		}
	}
}

func TestMediaResponseDecoding(t *testing.T) {
	var out mediaResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"media_id": 710511363345354753,
		"media_id_string": "710511363345354753",
		"processing_info": {"state": "failed", "progress_percent": 50,
			"error": {"code": 1, "name": "InvalidMedia", "message": "Unsupported video format"}}
	}`), &out))
	require.NotNil(t, out.ProcessingInfo)
	assert.Equal(t, "Unsupported video format", out.ProcessingInfo.failure())
}
