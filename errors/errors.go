package errors

import (
	"errors"
	"fmt"
)

var (
	ErrAuth                   = errors.New("authentication failed")
	ErrRateLimited            = errors.New("rate limited")
	ErrTimeout                = errors.New("request timed out")
	ErrMalformedToolArguments = errors.New("malformed tool arguments")
	ErrUnsupportedFeature     = errors.New("feature not supported by provider")

	ErrCannotConnect     = errors.New("cannot connect to service")
	ErrBadRequest        = errors.New("request rejected by service")
	ErrUpstream          = errors.New("service error")
	ErrInvalidAPIKey     = errors.New("api key format is invalid")
	ErrInvalidBaseURL    = errors.New("base url is invalid or insecure")
	ErrInvalidOption     = errors.New("option value out of range")
	ErrAlreadyConfigured = errors.New("api key already configured")
	ErrEntryNotFound     = errors.New("config entry not found")
	ErrSubentryNotFound  = errors.New("config subentry not found")
	ErrNotLoaded         = errors.New("config entry not loaded")
	ErrUnknownTool       = errors.New("unknown tool requested")
	ErrMaxToolIterations = errors.New("max tool iterations exceeded")
	ErrStructuredOutput  = errors.New("structured output required but invalid")
)

// MalformedToolArgumentsError is returned when tool-call arguments could not be
// recovered. Raw holds the original text; it is kept out of Error() because it
// may carry user data.
type MalformedToolArgumentsError struct {
	Tool   string
	CallID string
	Raw    string
}

func (e *MalformedToolArgumentsError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("%s (%d bytes)", ErrMalformedToolArguments, len(e.Raw))
	}
	return fmt.Sprintf("%s for tool %q (%d bytes)", ErrMalformedToolArguments, e.Tool, len(e.Raw))
}

func (e *MalformedToolArgumentsError) Is(target error) bool {
	return target == ErrMalformedToolArguments
}

// UnsupportedFeatureError records a request field that was omitted because the
// provider does not support it.
type UnsupportedFeatureError struct {
	Feature  string
	Provider string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("%s: %s not supported by %s", ErrUnsupportedFeature, e.Feature, e.Provider)
}

func (e *UnsupportedFeatureError) Is(target error) bool {
	return target == ErrUnsupportedFeature
}
