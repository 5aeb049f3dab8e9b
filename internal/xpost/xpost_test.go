package xpost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	for raw, want := range map[string]Provider{
		"twitter":   Twitter,
		"X":         Twitter,
		" Bluesky ": Bluesky,
		"mastodon":  Mastodon,
		"THREADS":   Threads,
	} {
		got, err := ParseProvider(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	_, err := ParseProvider("myspace")
	assert.ErrorIs(t, err, KindUnsupportedProvider)
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("post status: %w", APIError("mastodon", 422, "too long"))
	assert.ErrorIs(t, err, KindAPI)
	assert.NotErrorIs(t, err, KindAuthentication)
	assert.EqualError(t, err, "post status: mastodon: api error (status 422): too long")

	wrapped := Error{Provider: "twitter", Kind: KindNetwork, Err: context.Canceled}
	assert.ErrorIs(t, wrapped, context.Canceled)
	assert.EqualError(t, wrapped, "twitter: network error: context canceled")

	missing := MissingCredentials("bluesky", []string{"handle", "app_password"})
	assert.ErrorIs(t, missing, KindAuthentication)
	assert.EqualError(t, missing, "bluesky: authentication failed: missing handle, app_password")

	assert.EqualError(t, MissingEnvError{Provider: "twitter", Variables: []string{"A", "B"}},
		"twitter credentials not configured (missing A, B)")
	assert.EqualError(t, ValidationError{Reason: "bad"}, "validation failed: bad")
}

func TestAccountHelpers(t *testing.T) {
	accts := []Account{
		{ID: "1", Name: "main", Provider: Bluesky, Enabled: true},
		{ID: "2", Provider: Mastodon},
		{Provider: Threads, Enabled: true},
	}
	assert.Equal(t, "main (bluesky)", accts[0].Label())
	assert.Equal(t, "2 (mastodon)", accts[1].Label())
	assert.Equal(t, "threads", accts[2].Label())

	enabled := Enabled(accts)
	require.Len(t, enabled, 2)
	assert.Equal(t, "1", enabled[0].ID)
	assert.Equal(t, Threads, enabled[1].Provider)
}

func TestPublishResultString(t *testing.T) {
	acct := Account{Name: "main", Provider: Bluesky}
	ok := PublishResult{Account: acct, Post: Post{ID: "cid", URI: "at://did/app.bsky.feed.post/1"}}
	assert.True(t, ok.OK())
	assert.Equal(t, "main (bluesky): posted at://did/app.bsky.feed.post/1", ok.String())

	idOnly := PublishResult{Account: acct, Post: Post{ID: "123"}}
	assert.Equal(t, "main (bluesky): posted 123", idOnly.String())

	failed := PublishResult{Account: acct, Err: errors.New("boom")}
	assert.False(t, failed.OK())
	assert.Equal(t, "main (bluesky): failed: boom", failed.String())
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	path := filepath.Join(dir, "shot.PNG")
	require.NoError(t, os.WriteFile(path, png, 0o600))
	img, err := LoadImage(path, "  a chart ", " https://cdn.example/shot.png ")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, "a chart", img.Alt)
	assert.Equal(t, "https://cdn.example/shot.png", img.URL)
	assert.Equal(t, png, img.Data)

	sniffed := filepath.Join(dir, "noext")
	require.NoError(t, os.WriteFile(sniffed, png, 0o600))
	img, err = LoadImage(sniffed, "", "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)

	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello"), 0o600))
	_, err = LoadImage(text, "", "")
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "unsupported image type")

	_, err = LoadImage(filepath.Join(dir, "missing.png"), "", "")
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "not found")

	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = LoadImage(empty, "", "")
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "is empty")
}

func TestSystemClockSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SystemClock{}.Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SystemClock{}.Sleep(context.Background(), time.Millisecond))
}
