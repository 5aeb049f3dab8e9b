package xpost

import (
	"fmt"
	"strings"
)

// MissingEnvError is returned when required configuration is missing.
type MissingEnvError struct {
	Provider  string
	Variables []string
}

func (e MissingEnvError) Error() string {
	if len(e.Variables) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Provider)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Provider, strings.Join(e.Variables, ", "))
}

// ValidationError captures provider-specific validation issues.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// Kind classifies publish failures. A Kind is itself an error so callers can
// match with errors.Is(err, xpost.KindAuthentication).
type Kind string

const (
	KindInvalidURL          Kind = "invalid url"
	KindAuthentication      Kind = "authentication failed"
	KindEncoding            Kind = "encoding error"
	KindDecoding            Kind = "decoding error"
	KindNetwork             Kind = "network error"
	KindAPI                 Kind = "api error"
	KindInvalidMedia        Kind = "invalid media"
	KindTokenExchange       Kind = "token exchange failed"
	KindTimeout             Kind = "timeout"
	KindUnsupportedProvider Kind = "unsupported provider"
	KindPanic               Kind = "publisher panicked"
)

func (k Kind) Error() string { return string(k) }

// Error is a typed publish failure.
type Error struct {
	Provider string
	Kind     Kind
	// Status is the HTTP status for KindAPI failures.
	Status  int
	Message string
	Err     error
}

func (e Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e Error) Unwrap() error { return e.Err }

// Is matches a bare Kind.
func (e Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// MissingCredentials builds the fail-fast error for an incomplete bundle.
func MissingCredentials(provider string, fields []string) Error {
	return Error{
		Provider: provider,
		Kind:     KindAuthentication,
		Message:  "missing " + strings.Join(fields, ", "),
	}
}

// APIError builds a KindAPI failure for a rejected response.
func APIError(provider string, status int, message string) Error {
	return Error{Provider: provider, Kind: KindAPI, Status: status, Message: message}
}
