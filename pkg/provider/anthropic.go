package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/anthropics/anthropic-sdk-go/vertex"

	"github.com/stellarlinkco/agentcore/pkg/message"
)

// Config parameterizes the Anthropic-protocol adapters.
type Config struct {
	Credential Credential
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int

	// Vertex-specific.
	Region    string
	ProjectID string
}

type anthropicModel struct {
	client     anthropicsdk.Client
	model      string
	maxTokens  int
	maxRetries int

	mu    sync.Mutex
	oauth *OAuthToken
}

const defaultMaxTokens = 8192

// NewAnthropic builds the direct-API adapter with a static key.
func NewAnthropic(cfg Config) (Model, error) {
	key := strings.TrimSpace(cfg.Credential.APIKey)
	if key == "" {
		return nil, errors.New("provider: api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return newModel(anthropicsdk.NewClient(opts...), cfg, nil), nil
}

// NewAnthropicOAuth builds the direct-API adapter authenticated by a
// refreshable bearer token.
func NewAnthropicOAuth(cfg Config) (Model, error) {
	token := cfg.Credential.OAuth
	if token == nil || strings.TrimSpace(token.Token) == "" {
		return nil, errors.New("provider: oauth token required")
	}
	opts := []option.RequestOption{option.WithAuthToken(token.Token)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return newModel(anthropicsdk.NewClient(opts...), cfg, token), nil
}

// NewBedrock builds the AWS-hosted adapter. Credentials resolve from the
// default AWS chain.
func NewBedrock(ctx context.Context, cfg Config) (Model, error) {
	return newModel(anthropicsdk.NewClient(bedrock.WithLoadDefaultConfig(ctx)), cfg, nil), nil
}

// NewVertex builds the GCP-hosted adapter. Credentials resolve from the
// Google default chain.
func NewVertex(ctx context.Context, cfg Config) (Model, error) {
	if cfg.Region == "" || cfg.ProjectID == "" {
		return nil, errors.New("provider: vertex requires region and project id")
	}
	return newModel(anthropicsdk.NewClient(vertex.WithGoogleAuth(ctx, cfg.Region, cfg.ProjectID)), cfg, nil), nil
}

// New selects an adapter from the credential variant.
func New(ctx context.Context, cfg Config) (Model, error) {
	switch {
	case cfg.Credential.Cloud == "bedrock":
		return NewBedrock(ctx, cfg)
	case cfg.Credential.Cloud == "vertex":
		return NewVertex(ctx, cfg)
	case cfg.Credential.OAuth != nil:
		return NewAnthropicOAuth(cfg)
	default:
		return NewAnthropic(cfg)
	}
}

func newModel(client anthropicsdk.Client, cfg Config, oauth *OAuthToken) *anthropicModel {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 5
	}
	return &anthropicModel{
		client:     client,
		model:      strings.TrimSpace(cfg.Model),
		maxTokens:  maxTokens,
		maxRetries: retries,
		oauth:      oauth,
	}
}

// refreshAuth refreshes the OAuth token once when expired and returns the
// per-request auth option.
func (m *anthropicModel) refreshAuth(ctx context.Context) ([]option.RequestOption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.oauth == nil {
		return nil, nil
	}
	if m.oauth.Expired() {
		if m.oauth.Refresh == nil {
			return nil, errors.New("provider: oauth token expired and no refresher configured")
		}
		fresh, err := m.oauth.Refresh(ctx, m.oauth.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("provider: refresh oauth token: %w", err)
		}
		fresh.Refresh = m.oauth.Refresh
		m.oauth = fresh
	}
	return []option.RequestOption{option.WithAuthToken(m.oauth.Token)}, nil
}

// Complete implements Model.
func (m *anthropicModel) Complete(ctx context.Context, req Request) (*Response, error) {
	authOpts, err := m.refreshAuth(ctx)
	if err != nil {
		return nil, err
	}
	params, err := m.buildParams(req)
	if err != nil {
		return nil, err
	}
	return retry(ctx, m.maxRetries, func() (*Response, error) {
		msg, err := m.client.Messages.New(ctx, params, authOpts...)
		if err != nil {
			return nil, err
		}
		resp := decodeResponse(msg)
		return &resp, nil
	})
}

// CompleteStream implements Model, forwarding decoded deltas in arrival
// order.
func (m *anthropicModel) CompleteStream(ctx context.Context, req Request, handler StreamHandler) error {
	if handler == nil {
		return errors.New("provider: stream handler required")
	}
	authOpts, err := m.refreshAuth(ctx)
	if err != nil {
		return err
	}
	params, err := m.buildParams(req)
	if err != nil {
		return err
	}
	_, err = retry(ctx, m.maxRetries, func() (*Response, error) {
		stream := m.client.Messages.NewStreaming(ctx, params, authOpts...)
		defer stream.Close()

		var final anthropicsdk.Message
		for stream.Next() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			event := stream.Current()
			if err := final.Accumulate(event); err != nil {
				return nil, fmt.Errorf("provider: accumulate stream: %w", err)
			}
			switch ev := event.AsAny().(type) {
			case anthropicsdk.ContentBlockDeltaEvent:
				if text := ev.Delta.AsTextDelta().Text; text != "" {
					if err := handler(StreamEvent{TextDelta: text}); err != nil {
						return nil, err
					}
				}
			case anthropicsdk.ContentBlockStopEvent:
				if blk := lastToolUse(final); blk != nil {
					if err := handler(StreamEvent{ToolUse: blk}); err != nil {
						return nil, err
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return nil, err
		}
		resp := decodeResponse(&final)
		if err := handler(StreamEvent{Final: &resp}); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	return err
}

func (m *anthropicModel) buildParams(req Request) (anthropicsdk.MessageNewParams, error) {
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = m.model
	}
	if modelName == "" {
		return anthropicsdk.MessageNewParams{}, errors.New("provider: no model configured")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(modelName),
		MaxTokens: int64(maxTokens),
		Messages:  encodeMessages(req.Messages),
	}
	if sys := strings.TrimSpace(req.System); sys != "" {
		block := anthropicsdk.TextBlockParam{Text: sys}
		if req.SystemTTL != message.CacheNone {
			block.CacheControl = cacheControl(req.SystemTTL)
		}
		params.System = []anthropicsdk.TextBlockParam{block}
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools, req.ToolsTTL)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if sessionID := strings.TrimSpace(req.SessionID); sessionID != "" {
		params.Metadata = anthropicsdk.MetadataParam{UserID: param.NewOpt(sessionID)}
	}
	return params, nil
}

// cacheControl lowers the abstract TTL marker to the wire format.
func cacheControl(ttl message.CacheTTL) anthropicsdk.CacheControlEphemeralParam {
	cc := anthropicsdk.NewCacheControlEphemeralParam()
	if ttl == message.CacheLong {
		cc.TTL = "1h"
	}
	return cc
}

func encodeMessages(msgs []message.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		role := anthropicsdk.MessageParamRoleUser
		if msg.Role == message.RoleAssistant {
			role = anthropicsdk.MessageParamRoleAssistant
		}
		content := encodeBlocks(msg.Blocks)
		if len(content) == 0 {
			continue
		}
		out = append(out, anthropicsdk.MessageParam{Role: role, Content: content})
	}
	if len(out) == 0 {
		out = append(out, anthropicsdk.MessageParam{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(".")},
		})
	}
	return out
}

func encodeBlocks(blocks []message.Block) []anthropicsdk.ContentBlockParamUnion {
	out := make([]anthropicsdk.ContentBlockParamUnion, 0, len(blocks))
	for _, blk := range blocks {
		var union anthropicsdk.ContentBlockParamUnion
		switch blk.Type {
		case message.BlockText:
			text := blk.Text
			if strings.TrimSpace(text) == "" {
				text = "."
			}
			union = anthropicsdk.NewTextBlock(text)
			if blk.CacheAnchor != message.CacheNone && union.OfText != nil {
				union.OfText.CacheControl = cacheControl(blk.CacheAnchor)
			}
		case message.BlockThinking:
			union = anthropicsdk.NewThinkingBlock("", blk.Text)
		case message.BlockToolUse:
			if blk.ToolUseID == "" || blk.ToolName == "" {
				continue
			}
			union = anthropicsdk.NewToolUseBlock(blk.ToolUseID, blk.Input, blk.ToolName)
		case message.BlockToolResult:
			if blk.ToolUseID == "" {
				continue
			}
			union = anthropicsdk.NewToolResultBlock(blk.ToolUseID, blk.Text, blk.IsError)
			if blk.CacheAnchor != message.CacheNone && union.OfToolResult != nil {
				union.OfToolResult.CacheControl = cacheControl(blk.CacheAnchor)
			}
		case message.BlockImage:
			if blk.Data == "" {
				continue
			}
			union = anthropicsdk.NewImageBlockBase64(blk.MediaType, blk.Data)
		case message.BlockDocument:
			if blk.Data == "" {
				continue
			}
			union = anthropicsdk.NewDocumentBlock(anthropicsdk.Base64PDFSourceParam{Data: blk.Data})
		default:
			log.Printf("provider: unknown block type %q, skipping", blk.Type)
			continue
		}
		out = append(out, union)
	}
	return out
}

func encodeTools(tools []ToolDef, ttl message.CacheTTL) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for i, def := range tools {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schema, err := encodeSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("provider: tool %s schema: %w", name, err)
		}
		t := anthropicsdk.ToolParam{Name: name, InputSchema: schema}
		if def.Description != "" {
			t.Description = anthropicsdk.String(def.Description)
		}
		// The tool block anchor sits on the last descriptor so the whole
		// block is covered by one breakpoint.
		if ttl != message.CacheNone && i == len(tools)-1 {
			t.CacheControl = cacheControl(ttl)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &t})
	}
	return out, nil
}

func encodeSchema(raw map[string]any) (anthropicsdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func decodeResponse(msg *anthropicsdk.Message) Response {
	out := message.Message{Role: message.RoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Blocks = append(out.Blocks, message.Block{Type: message.BlockText, Text: block.Text})
		case "thinking":
			out.Blocks = append(out.Blocks, message.Block{Type: message.BlockThinking, Text: block.Thinking})
		case "tool_use":
			out.Blocks = append(out.Blocks, message.Block{
				Type:      message.BlockToolUse,
				ToolUseID: block.ID,
				ToolName:  block.Name,
				Input:     decodeJSON(block.Input),
			})
		}
	}
	return Response{
		Message:    out,
		StopReason: StopReason(msg.StopReason),
		Usage: message.Usage{
			InputTokens:      msg.Usage.InputTokens,
			OutputTokens:     msg.Usage.OutputTokens,
			CacheReadTokens:  msg.Usage.CacheReadInputTokens,
			CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
		},
		Model: string(msg.Model),
	}
}

func lastToolUse(msg anthropicsdk.Message) *message.Block {
	if len(msg.Content) == 0 {
		return nil
	}
	block := msg.Content[len(msg.Content)-1]
	if block.Type != "tool_use" || block.ID == "" || block.Name == "" {
		return nil
	}
	return &message.Block{
		Type:      message.BlockToolUse,
		ToolUseID: block.ID,
		ToolName:  block.Name,
		Input:     decodeJSON(block.Input),
	}
}

func decodeJSON(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return v
}
