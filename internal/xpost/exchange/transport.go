package exchange

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Transport adapts a Doer to http.RoundTripper for SDK clients that take an
// *http.Client.
type Transport struct {
	Doer Doer
}

// RoundTrip implements http.RoundTripper.
func (t Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = data
	}

	out := NewRequest(req.Method, req.URL.String(), body)
	if req.Header != nil {
		out.Header = req.Header.Clone()
	}

	resp, err := t.Doer.Do(req.Context(), out)
	if err != nil {
		return nil, err
	}

	header := resp.Header
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.Status, http.StatusText(resp.Status)),
		StatusCode:    resp.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       req,
	}, nil
}

// HTTPClient returns an *http.Client that sends every request through d.
// Redirects are handed back instead of followed.
func HTTPClient(d Doer) *http.Client {
	return &http.Client{
		Transport: Transport{Doer: d},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
