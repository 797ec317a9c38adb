package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  sandbox.ScriptExecutor
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.ScriptExecutor) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Strings("sandbox.allowed_packages", s.config.Sandbox.AllowedPackages),
		zap.String("sandbox.install_dir", s.config.Sandbox.InstallDir),
		zap.Int("sandbox.default_timeout_ms", s.config.Sandbox.DefaultTimeoutMs),
		zap.Int("sandbox.min_timeout_ms", s.config.Sandbox.MinTimeoutMs),
		zap.Int("sandbox.max_timeout_ms", s.config.Sandbox.MaxTimeoutMs),
		zap.Int("sandbox.max_output_lines", s.config.Sandbox.MaxOutputLines),
		zap.Int("sandbox.max_output_bytes", s.config.Sandbox.MaxOutputBytes),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("scriptbox-executor", "A sandboxed TypeScript/JavaScript execution server")

	// Register the run_script tool
	s.registerRunScriptTool()

	return s, nil
}

// registerRunScriptTool registers the run_script tool
func (s *MCPServer) registerRunScriptTool() {
	tool := mcp.Tool{
		Name:        "run_script",
		Description: "Execute TypeScript/JavaScript in a sandbox restricted to an allowlisted package set",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "TypeScript or JavaScript source to execute",
				},
				"timeout_ms": map[string]any{
					"type":        "integer",
					"description": "Execution deadline in milliseconds, clamped into the configured window (optional)",
				},
			},
			Required: []string{"source"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunScript)
}

// handleRunScript handles the run_script tool
func (s *MCPServer) handleRunScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("script execution requested")

	source, err := request.RequireString("source")
	if err != nil {
		return nil, fmt.Errorf("source parameter is required: %w", err)
	}

	timeoutMs := request.GetInt("timeout_ms", 0)

	// Execute the script; execution failures (including timeouts) are normal
	// results, not protocol errors.
	result := s.executor.Execute(ctx, source, timeoutMs)

	s.logger.Info("script execution completed",
		zap.Bool("success", result.Success),
		zap.Int64("duration_ms", result.DurationMs),
		zap.Int("line_count", result.LineCount),
		zap.Int("byte_count", result.ByteCount),
		zap.Bool("truncated", result.Truncated),
	)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
