package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const mcpConnectTimeout = 10 * time.Second

// MCPManager connects to external tool servers and mirrors their tools into
// a registry under "server__tool" names. Sessions are closed on shutdown.
type MCPManager struct {
	mu       sync.Mutex
	sessions []*mcp.ClientSession
}

// NewMCPManager constructs an empty manager.
func NewMCPManager() *MCPManager { return &MCPManager{} }

// RegisterServer discovers tools exposed by an MCP server and registers them
// on the registry. spec accepts an http(s) URL (SSE transport) or a stdio
// command line.
func (m *MCPManager) RegisterServer(ctx context.Context, registry *Registry, spec, serverName string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("tool: mcp server spec is empty")
	}
	serverName = strings.TrimSpace(serverName)

	connectCtx, cancel := context.WithTimeout(ctx, mcpConnectTimeout)
	defer cancel()

	transport, err := buildMCPTransport(spec)
	if err != nil {
		return err
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "agentcore", Version: "dev"}, nil)
	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return fmt.Errorf("tool: connect MCP server: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = session.Close()
		}
	}()

	var remote []*mcp.Tool
	for t, iterErr := range session.Tools(connectCtx, nil) {
		if iterErr != nil {
			return fmt.Errorf("tool: list MCP tools: %w", iterErr)
		}
		remote = append(remote, t)
	}
	if len(remote) == 0 {
		return fmt.Errorf("tool: MCP server returned no tools")
	}

	registered := make([]string, 0, len(remote))
	for _, desc := range remote {
		if desc == nil || strings.TrimSpace(desc.Name) == "" {
			continue
		}
		name := desc.Name
		if serverName != "" {
			name = fmt.Sprintf("%s__%s", serverName, desc.Name)
		}
		schema, err := convertMCPSchema(desc.InputSchema)
		if err != nil {
			return fmt.Errorf("tool: parse schema for %s: %w", desc.Name, err)
		}
		wrapper := &remoteTool{
			name:        name,
			remoteName:  desc.Name,
			description: desc.Description,
			schema:      schema,
			session:     session,
		}
		if err := registry.Register(wrapper); err != nil {
			for _, prev := range registered {
				_ = registry.Unregister(prev)
			}
			return err
		}
		registered = append(registered, name)
	}

	m.mu.Lock()
	m.sessions = append(m.sessions, session)
	m.mu.Unlock()
	success = true
	return nil
}

// Close terminates all tracked MCP sessions. Errors are logged and ignored
// to avoid masking shutdown flows.
func (m *MCPManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			log.Printf("tool: close MCP session: %v", err)
		}
	}
}

func buildMCPTransport(spec string) (mcp.Transport, error) {
	trimmed := strings.TrimSpace(spec)
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return &mcp.SSEClientTransport{Endpoint: trimmed}, nil
	}
	parts := strings.Fields(trimmed)
	if len(parts) == 0 {
		return nil, fmt.Errorf("tool: empty MCP command")
	}
	return &mcp.CommandTransport{Command: exec.Command(parts[0], parts[1:]...)}, nil
}

func convertMCPSchema(raw any) (*JSONSchema, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return &schema, nil
}

type remoteTool struct {
	name        string
	remoteName  string
	description string
	schema      *JSONSchema
	session     *mcp.ClientSession
}

func (r *remoteTool) Name() string        { return r.name }
func (r *remoteTool) Description() string { return r.description }
func (r *remoteTool) Schema() *JSONSchema { return r.schema }
func (r *remoteTool) Flags() Flags        { return Flags{Network: true} }

func (r *remoteTool) Execute(ctx context.Context, params map[string]any, _ *ExecContext) (*Result, error) {
	if params == nil {
		params = map[string]any{}
	}
	res, err := r.session.CallTool(ctx, &mcp.CallToolParams{Name: r.remoteName, Arguments: params})
	if err != nil {
		return nil, NewError(r.name, ErrKindExecution, err)
	}
	if res == nil {
		return nil, NewError(r.name, ErrKindExecution, fmt.Errorf("nil result"))
	}
	output := ""
	for _, part := range res.Content {
		if txt, ok := part.(*mcp.TextContent); ok {
			output = txt.Text
			break
		}
	}
	if output == "" {
		if payload, err := json.Marshal(res.Content); err == nil {
			output = string(payload)
		}
	}
	return &Result{Success: !res.IsError, Output: output}, nil
}
