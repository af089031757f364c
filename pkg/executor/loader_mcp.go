package executor

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPLoader dispenses Executors backed by a Model Context Protocol
// tool server over stdio. Agent targets are not supported by this
// Kind; ExecuteAgent always fails.
type MCPLoader struct{}

// NewMCPLoader constructs an MCPLoader.
func NewMCPLoader() *MCPLoader { return &MCPLoader{} }

func (l *MCPLoader) Kind() Kind { return KindMCP }

func (l *MCPLoader) Load(ctx context.Context, m Manifest) (Executor, error) {
	if m.Path == "" {
		return nil, fmt.Errorf("executor: mcp manifest %s has no command", m.Name)
	}

	mcpClient, err := client.NewStdioMCPClient(m.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("executor: start mcp server %s: %w", m.Name, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("executor: start mcp server %s: %w", m.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "engine", Version: "1.0.0"}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("executor: initialize mcp server %s: %w", m.Name, err)
	}

	return &mcpExecutor{client: mcpClient}, nil
}

type mcpExecutor struct {
	client *client.Client
}

func (e *mcpExecutor) ExecuteAgent(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error) {
	return Result{}, fmt.Errorf("executor: mcp kind does not support agent targets (%s)", target)
}

func (e *mcpExecutor) ExecuteTool(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = target.Name
	req.Params.Arguments = input

	resp, err := e.client.CallTool(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("executor: call mcp tool %s: %w", target, err)
	}
	if resp.IsError {
		return Result{}, fmt.Errorf("executor: mcp tool %s returned an error result", target)
	}

	output := map[string]any{}
	var text string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			text += tc.Text
		}
	}
	if text != "" {
		output["text"] = text
	}

	return Result{Output: output}, nil
}

func (e *mcpExecutor) Close() error {
	return e.client.Close()
}
