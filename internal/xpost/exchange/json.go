package exchange

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/blacktop/crosspost/internal/xpost"
)

// Failure converts an error returned by Do into a typed publish failure.
func Failure(provider string, err error) error {
	if err == nil {
		return nil
	}
	var xe xpost.Error
	if errors.As(err, &xe) {
		return err
	}
	if errors.Is(err, ErrInvalidURL) {
		return xpost.Error{Provider: provider, Kind: xpost.KindInvalidURL, Err: err}
	}
	return xpost.Error{Provider: provider, Kind: xpost.KindNetwork, Err: err}
}

// NewJSONRequest encodes v as the request body.
func NewJSONRequest(provider, method, rawURL string, v any) (*Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, xpost.Error{Provider: provider, Kind: xpost.KindEncoding, Err: err}
	}
	req := NewRequest(method, rawURL, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// DecodeJSON unmarshals a response body into v.
func DecodeJSON(provider string, resp *Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return xpost.Error{Provider: provider, Kind: xpost.KindDecoding, Status: resp.Status, Err: err}
	}
	return nil
}

// BodyText returns the trimmed body for error messages.
func BodyText(resp *Response) string {
	text := strings.TrimSpace(string(resp.Body))
	if len(text) > 2048 {
		text = text[:2048] + "..."
	}
	return text
}
