package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer creates the watch-tools MCP server
func NewServer(h *Handler, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "watch-tools",
		Version: version,
	}, nil)
	RegisterTools(server, h)
	return server
}

// RegisterTools registers the monitoring tools on server
func RegisterTools(server *mcp.Server, h *Handler) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_monitors",
		Description: "List the accounts whose private messages are currently being monitored.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args ownerArgs) (*mcp.CallToolResult, any, error) {
		return h.listMonitors(ctx, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List saved Telegram sessions by phone number. Session strings are never returned.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args ownerArgs) (*mcp.CallToolResult, any, error) {
		return h.listSessions(ctx, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_filters",
		Description: "List the filters of a session in evaluation order. The first matching filter wins; no filters forwards everything.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args phoneArgs) (*mcp.CallToolResult, any, error) {
		return h.listFilters(ctx, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_filter",
		Description: "Add a filter to a monitored session. Use when the user says 'only forward messages about X'.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args addFilterArgs) (*mcp.CallToolResult, any, error) {
		return h.addFilter(ctx, args), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stop_monitor",
		Description: "Stop monitoring a session. The session itself stays saved.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args phoneArgs) (*mcp.CallToolResult, any, error) {
		return h.stopMonitor(ctx, args), nil, nil
	})
}

// Run serves server over stdio until ctx is done
func Run(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
