// Package oauth1 signs requests with OAuth 1.0a HMAC-SHA1 (RFC 5849) in the
// form the Twitter/X v1.1 and v2 APIs accept.
package oauth1

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMissingCredentials is returned when any of the four credentials is empty.
var ErrMissingCredentials = errors.New("oauth1: incomplete credentials")

// Credentials are the consumer and token pairs of a user-context request.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
}

// Complete reports whether every field is present.
func (c Credentials) Complete() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.Token != "" && c.TokenSecret != ""
}

// Signer produces Authorization headers.
type Signer struct {
	creds Credentials
	nonce func() string
	now   func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithNonce replaces the nonce source.
func WithNonce(fn func() string) Option {
	return func(s *Signer) { s.nonce = fn }
}

// WithClock replaces the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(s *Signer) { s.now = fn }
}

// NewSigner returns a Signer for creds.
func NewSigner(creds Credentials, opts ...Option) *Signer {
	s := &Signer{creds: creds, nonce: newNonce, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Authorization returns the header value for a request. params holds the
// form or query parameters that take part in signing; JSON bodies pass nil.
func (s *Signer) Authorization(method, rawURL string, params map[string]string) (string, error) {
	if !s.creds.Complete() {
		return "", ErrMissingCredentials
	}

	oauth := map[string]string{
		"oauth_consumer_key":     s.creds.ConsumerKey,
		"oauth_token":            s.creds.Token,
		"oauth_nonce":            s.nonce(),
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_version":          "1.0",
	}

	base, err := BaseString(method, rawURL, merge(oauth, params))
	if err != nil {
		return "", err
	}
	oauth["oauth_signature"] = Sign(base, s.creds.ConsumerSecret, s.creds.TokenSecret)

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, Encode(k)+`="`+Encode(oauth[k])+`"`)
	}
	return "OAuth " + strings.Join(parts, ", "), nil
}

func merge(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}

// BaseString builds the signature base string. Query parameters on rawURL
// join the parameter set and are dropped from the base URL.
func BaseString(method, rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	pairs := make([][2]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, [2]string{Encode(k), Encode(v)})
	}
	for k, vs := range u.Query() {
		if _, ok := params[k]; ok {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, [2]string{Encode(k), Encode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	joined := make([]string, len(pairs))
	for i, p := range pairs {
		joined[i] = p[0] + "=" + p[1]
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if port := u.Port(); (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		host = strings.TrimSuffix(host, ":"+port)
	}
	baseURL := scheme + "://" + host + u.EscapedPath()

	return strings.ToUpper(method) + "&" + Encode(baseURL) + "&" + Encode(strings.Join(joined, "&")), nil
}

// Sign computes the base64 HMAC-SHA1 of base with the composite key.
func Sign(base, consumerSecret, tokenSecret string) string {
	mac := hmac.New(sha1.New, []byte(Encode(consumerSecret)+"&"+Encode(tokenSecret)))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// EncodeForm renders params as an application/x-www-form-urlencoded body
// using the same encoding as the signature.
func EncodeForm(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = Encode(k) + "=" + Encode(params[k])
	}
	return strings.Join(parts, "&")
}

// Encode percent-encodes s per RFC 3986, leaving only ALPHA, DIGIT and
// "-._~" unescaped.
func Encode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}
