package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/logger"
)

// MCPToolConfig defines one remote tool server. The server becomes a
// single Tool in the registry; each of its remote tools is a callable.
type MCPToolConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Transport   string            `yaml:"transport" json:"transport"`
	Command     string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	URL         string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Tags        []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// MCPAdapter wraps one MCP client session. The underlying client nests
// cancellation scopes, so adapters must be closed in reverse registration
// order; the registry enforces that.
type MCPAdapter struct {
	config MCPToolConfig
	client *client.Client
}

// NewMCPAdapter connects to the configured server and performs the MCP
// handshake.
func NewMCPAdapter(ctx context.Context, config MCPToolConfig) (*MCPAdapter, error) {
	if config.Name == "" {
		return nil, errors.NewInvalidName("mcp tool has no name", nil)
	}

	var (
		c   *client.Client
		err error
	)
	switch config.Transport {
	case "stdio", "":
		if config.Command == "" {
			return nil, errors.Newf(errors.KindMisconfigured, "mcp tool %q: stdio transport needs a command", config.Name)
		}
		env := make([]string, 0, len(config.Env))
		for key, value := range config.Env {
			env = append(env, key+"="+value)
		}
		c, err = client.NewStdioMCPClient(config.Command, env, config.Args...)
	case "sse":
		if config.URL == "" {
			return nil, errors.Newf(errors.KindMisconfigured, "mcp tool %q: sse transport needs a url", config.Name)
		}
		c, err = client.NewSSEMCPClient(config.URL, client.WithHeaders(config.Headers))
		if err == nil {
			err = c.Start(ctx)
		}
	default:
		return nil, errors.Newf(errors.KindMisconfigured, "mcp tool %q: unknown transport %q", config.Name, config.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting mcp tool %q: %w", config.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "codemode", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initializing mcp tool %q: %w", config.Name, err)
	}
	return &MCPAdapter{config: config, client: c}, nil
}

// Tools implements Adapter: one Tool whose callables are the remote tools.
func (a *MCPAdapter) Tools(ctx context.Context) ([]Tool, error) {
	result, err := a.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listing remote tools of %q: %w", a.config.Name, err)
	}

	tool := Tool{
		Name:        a.config.Name,
		Description: a.config.Description,
		Tags:        map[string]bool{},
	}
	for _, tag := range a.config.Tags {
		tool.Tags[tag] = true
	}
	for _, remote := range result.Tools {
		tool.Callables = append(tool.Callables, Callable{
			Name:        remote.Name,
			Description: remote.Description,
			Params:      schemaParams(remote.InputSchema),
		})
	}
	return []Tool{tool}, nil
}

func schemaParams(schema mcp.ToolInputSchema) []Param {
	required := map[string]bool{}
	for _, name := range schema.Required {
		required[name] = true
	}
	params := make([]Param, 0, len(schema.Properties))
	for name, raw := range schema.Properties {
		param := Param{Name: name, Required: required[name]}
		if prop, ok := raw.(map[string]any); ok {
			if desc, ok := prop["description"].(string); ok {
				param.Description = desc
			}
		}
		params = append(params, param)
	}
	return params
}

// Call implements Adapter. The callable selects the remote tool; calling
// the namespace itself is not meaningful for MCP.
func (a *MCPAdapter) Call(ctx context.Context, tool, callable string, args map[string]any) (any, error) {
	if callable == "" {
		return nil, errors.Newf(errors.KindCallFailed, "mcp tool %q needs a callable; see tools.recipes(%q)", tool, tool)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = callable
	req.Params.Arguments = args
	result, err := a.client.CallTool(ctx, req)
	if err != nil {
		return nil, errors.New(errors.KindCallFailed, fmt.Sprintf("calling %s.%s", tool, callable), err)
	}

	text := contentText(result.Content)
	if result.IsError {
		return nil, errors.Newf(errors.KindCallFailed, "%s.%s returned an error: %s", tool, callable, text)
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil && text != "" {
		return decoded, nil
	}
	return text, nil
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, item := range content {
		if text, ok := mcp.AsTextContent(item); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Close implements Adapter.
func (a *MCPAdapter) Close() error {
	logger.Debugw("closing mcp tool", "tool", a.config.Name)
	return a.client.Close()
}
