package accounts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
	// personal accounts
	"accounts": [
		{
			"id": "bsky-main",
			"name": "main",
			"provider": "bluesky",
			"credentials": {
				"bluesky": {"handle": "alice.bsky.social", "app_password": "abcd-efgh-ijkl-mnop"},
			},
		},
		{
			"provider": "x", /* alias */
			"enabled": false,
			"credentials": {
				"twitter": {
					"consumer_key": "ck",
					"consumer_secret": "cs",
					"access_token": "at",
					"access_token_secret": "as",
				},
			},
		},
	],
}`

func TestParse(t *testing.T) {
	accts, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, accts, 2)

	assert.Equal(t, "bsky-main", accts[0].ID)
	assert.Equal(t, xpost.Bluesky, accts[0].Provider)
	assert.True(t, accts[0].Enabled, "enabled defaults to true")
	assert.Equal(t, "alice.bsky.social", accts[0].Credentials.Bluesky.Handle)

	assert.Equal(t, "twitter-2", accts[1].ID)
	assert.Equal(t, xpost.Twitter, accts[1].Provider)
	assert.False(t, accts[1].Enabled)
	assert.Equal(t, "as", accts[1].Credentials.Twitter.AccessSecret)

	assert.Equal(t, []xpost.Account{accts[0]}, xpost.Enabled(accts))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`{"accounts": [{"provider": "myspace"}]}`))
	assert.ErrorIs(t, err, xpost.KindUnsupportedProvider)

	_, err = Parse([]byte(`{"accounts": [{"id": "a", "provider": "bluesky"}, {"id": "a", "provider": "mastodon"}]}`))
	assert.ErrorContains(t, err, `duplicate id "a"`)

	_, err = Parse([]byte(`{"accounts": [`))
	assert.ErrorContains(t, err, "parse accounts")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	accts, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, accts, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv(t *testing.T) {
	env := mapEnv(map[string]string{
		envBlueskyHandle:          "alice.bsky.social",
		envBlueskyAppPassword:     " pass ",
		envMastodonServer:         "https://mastodon.example",
		envMastodonAccessToken:    "token",
		envThreadsShortLivedToken: "short",
		envThreadsClientID:        "app",
		envThreadsClientSecret:    "secret",
	})

	accts, err := fromEnv(env, []xpost.Provider{xpost.Bluesky, xpost.Mastodon, xpost.Threads})
	require.NoError(t, err)
	require.Len(t, accts, 3)
	assert.Equal(t, "pass", accts[0].Credentials.Bluesky.AppPassword)
	assert.Equal(t, "https://mastodon.example", accts[1].Credentials.Mastodon.InstanceURL)
	assert.Equal(t, "short", accts[2].Credentials.Threads.ShortLivedToken)
	for _, a := range accts {
		assert.True(t, a.Enabled)
		assert.Equal(t, string(a.Provider), a.ID)
	}
}

func TestFromEnvMissing(t *testing.T) {
	env := mapEnv(map[string]string{envTwitterConsumerKey: "ck"})

	_, err := fromEnv(env, []xpost.Provider{xpost.Twitter, xpost.Threads})
	require.Error(t, err)

	var missing xpost.MissingEnvError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "twitter", missing.Provider)
	assert.Equal(t, []string{envTwitterConsumerSecret, envTwitterAccessToken, envTwitterAccessSecret}, missing.Variables)
	assert.ErrorContains(t, err, "threads credentials not configured (missing CROSSPOST_THREADS_ACCESS_TOKEN (or ")
}

func TestRedact(t *testing.T) {
	acct := xpost.Account{Provider: xpost.Mastodon, Credentials: xpost.Credentials{
		Mastodon: xpost.MastodonCredentials{InstanceURL: "https://mastodon.example", AccessToken: "0123456789abcdef"},
		Bluesky:  xpost.BlueskyCredentials{AppPassword: "short"},
	}}

	r := Redact(acct)
	assert.Equal(t, "0123****", r.Credentials.Mastodon.AccessToken)
	assert.Equal(t, "https://mastodon.example", r.Credentials.Mastodon.InstanceURL)
	assert.Equal(t, "****", r.Credentials.Bluesky.AppPassword)
	assert.Equal(t, "0123456789abcdef", acct.Credentials.Mastodon.AccessToken, "original untouched")
}
