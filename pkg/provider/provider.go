// Package provider abstracts the model service behind a small adapter
// interface. Four bundled constructors cover the direct Anthropic API, its
// Bedrock and Vertex hosted variants, and an OAuth gateway; each performs
// its own credential handling.
package provider

import (
	"context"
	"time"

	"github.com/stellarlinkco/agentcore/pkg/message"
)

// Credential is the opaque authentication handle. Exactly one variant is
// set; Cloud credentials use the ambient provider chain.
type Credential struct {
	// APIKey is a static secret.
	APIKey string
	// OAuth is a refreshable token.
	OAuth *OAuthToken
	// Cloud names a hosted variant ("bedrock", "vertex") whose SDK resolves
	// credentials from the environment.
	Cloud string
}

// OAuthToken carries a bearer token with its refresh state.
type OAuthToken struct {
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	// Refresh exchanges the refresh token for a fresh access token. Called
	// once when the token is expired; failures surface after that single
	// attempt.
	Refresh func(ctx context.Context, refreshToken string) (*OAuthToken, error)
}

// Expired reports whether the access token needs refreshing.
func (t *OAuthToken) Expired() bool {
	return t != nil && !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// ToolDef is the wire-facing tool descriptor.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one model invocation.
type Request struct {
	Model    string
	System   string
	Messages []message.Message
	Tools    []ToolDef

	MaxTokens   int
	Temperature *float64

	// SystemTTL and ToolsTTL are the cache anchors for the static prefix;
	// per-message anchors ride on the content blocks themselves.
	SystemTTL message.CacheTTL
	ToolsTTL  message.CacheTTL

	// SessionID tags the request for provider-side accounting.
	SessionID string
}

// StopReason mirrors the provider's stop signal.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Response is the decoded model reply.
type Response struct {
	Message    message.Message
	StopReason StopReason
	Usage      message.Usage
	Model      string
}

// StreamEvent is one decoded streaming increment.
type StreamEvent struct {
	// TextDelta carries an appended text fragment when non-empty.
	TextDelta string
	// ToolUse is set when a tool_use block finished streaming.
	ToolUse *message.Block
	// Final carries the complete response on the last event.
	Final *Response
}

// StreamHandler receives stream events in arrival order.
type StreamHandler func(ev StreamEvent) error

// Model is the provider adapter: one implementation per hosting variant,
// selected at agent construction.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	CompleteStream(ctx context.Context, req Request, handler StreamHandler) error
}
