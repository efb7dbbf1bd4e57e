// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes gateway failures. Kinds, not types: callers
// branch on the kind, and the façade maps kinds to wire behavior. Only
// KindInvalidRequest and KindMethodNotFound surface as protocol errors;
// everything else travels as structured failure content so a provider's
// misbehavior never breaks the client session.
type ErrorKind string

const (
	// KindInvalidRequest indicates malformed client input.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindMethodNotFound indicates an unknown method.
	KindMethodNotFound ErrorKind = "method_not_found"
	// KindNotConfigured indicates an FQTN referencing a provider absent
	// from the profile.
	KindNotConfigured ErrorKind = "not_configured"
	// KindProviderUnavailable indicates a provider in FAILED state or
	// health cooldown.
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	// KindSpawnFailed indicates the child process could not be launched.
	KindSpawnFailed ErrorKind = "spawn_failed"
	// KindInitializationFailed indicates the handshake did not complete
	// within budget.
	KindInitializationFailed ErrorKind = "initialization_failed"
	// KindCallTimeout indicates the provider did not respond within the
	// per-call budget.
	KindCallTimeout ErrorKind = "call_timeout"
	// KindProtocolViolation indicates malformed framing from a provider.
	KindProtocolViolation ErrorKind = "protocol_violation"
	// KindCancelled indicates the client withdrew the request.
	KindCancelled ErrorKind = "cancelled"
	// KindCacheCorrupt indicates a recoverable cache failure; the
	// affected provider is re-probed.
	KindCacheCorrupt ErrorKind = "cache_corrupt"
	// KindConfigRequired indicates a provider declined to start without
	// missing credentials.
	KindConfigRequired ErrorKind = "config_required"
)

// GatewayError carries a kind, a message, and optional resolution
// suggestions. Messages never contain secrets: provider env values stay
// out of every formatting path.
type GatewayError struct {
	// Kind is the error category.
	Kind ErrorKind
	// Provider is the affected provider, when one is.
	Provider string
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// NewError creates a GatewayError.
func NewError(kind ErrorKind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// WithProvider records the affected provider.
func (e *GatewayError) WithProvider(provider string) *GatewayError {
	e.Provider = provider
	return e
}

// WithDetail adds detail to the error.
func (e *GatewayError) WithDetail(detail string) *GatewayError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *GatewayError) WithSuggestions(suggestions ...string) *GatewayError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *GatewayError) WithCause(cause error) *GatewayError {
	e.Cause = cause
	return e
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindProviderUnavailable, the most conservative verdict for
// routing.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindProviderUnavailable
}

// AsGatewayError extracts a GatewayError from an error chain, wrapping
// unclassified errors under the given kind.
func AsGatewayError(err error, kind ErrorKind) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return NewError(kind, err.Error()).WithCause(err)
}

// ErrNotConfigured creates an error for an unknown provider.
func ErrNotConfigured(provider string) *GatewayError {
	return NewError(KindNotConfigured, fmt.Sprintf("provider %q is not configured", provider)).
		WithProvider(provider).
		WithSuggestions(
			"List configured providers: switchboard list",
			fmt.Sprintf("Add the provider: switchboard add %s --command <cmd>", provider),
		)
}

// ErrProviderUnavailable creates an error for a provider in cooldown or
// FAILED state.
func ErrProviderUnavailable(provider, reason string) *GatewayError {
	return NewError(KindProviderUnavailable, fmt.Sprintf("provider %q is unavailable", provider)).
		WithProvider(provider).
		WithDetail(reason).
		WithSuggestions(
			fmt.Sprintf("Check provider health: switchboard doctor"),
			"The provider retries automatically after its cooldown",
		)
}

// ErrSpawnFailed creates an error for a failed child-process launch.
func ErrSpawnFailed(provider string, cause error) *GatewayError {
	return NewError(KindSpawnFailed, fmt.Sprintf("failed to launch provider %q", provider)).
		WithProvider(provider).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			"Verify the command is installed and in PATH",
			"Check required environment variables in the profile",
		)
}

// ErrInitializationFailed creates an error for a handshake that did not
// complete within budget.
func ErrInitializationFailed(provider string, cause error) *GatewayError {
	return NewError(KindInitializationFailed, fmt.Sprintf("provider %q failed to initialize", provider)).
		WithProvider(provider).
		WithDetail(cause.Error()).
		WithCause(cause)
}

// ErrCallTimeout creates an error for a call that exceeded its budget.
func ErrCallTimeout(provider, tool string) *GatewayError {
	return NewError(KindCallTimeout, fmt.Sprintf("call to %s timed out", tool)).
		WithProvider(provider).
		WithSuggestions("Retry, or raise the per-call timeout")
}

// ErrInvalidFQTN creates an error for an unparseable tool name.
func ErrInvalidFQTN(name string) *GatewayError {
	return NewError(KindInvalidRequest, fmt.Sprintf("invalid tool name %q", name)).
		WithDetail("expected the form provider:tool")
}

// ErrConfigRequired creates an error for a provider missing required
// configuration. The missing variable names are listed; their values
// never are.
func ErrConfigRequired(provider string, missing []string) *GatewayError {
	return NewError(KindConfigRequired, fmt.Sprintf("provider %q requires configuration", provider)).
		WithProvider(provider).
		WithDetail("missing: " + strings.Join(missing, ", ")).
		WithSuggestions(
			fmt.Sprintf("Set the required environment variables in the profile entry for %q", provider),
		)
}
