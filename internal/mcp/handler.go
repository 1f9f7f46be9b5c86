package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler answers tool calls through the admin API.
// DefaultOwner is used when a call does not name an owner.
type Handler struct {
	client       *Client
	defaultOwner int64
}

// NewHandler creates a new tool handler
func NewHandler(client *Client, defaultOwner int64) *Handler {
	return &Handler{client: client, defaultOwner: defaultOwner}
}

type ownerArgs struct {
	OwnerID int64 `json:"owner_id,omitempty" jsonschema:"Telegram user id of the bot user; defaults to WATCH_OWNER_ID"`
}

type phoneArgs struct {
	OwnerID int64  `json:"owner_id,omitempty" jsonschema:"Telegram user id of the bot user; defaults to WATCH_OWNER_ID"`
	Phone   string `json:"phone" jsonschema:"Phone number of the saved session, e.g. +15551234567"`
}

type addFilterArgs struct {
	OwnerID int64  `json:"owner_id,omitempty" jsonschema:"Telegram user id of the bot user; defaults to WATCH_OWNER_ID"`
	Phone   string `json:"phone" jsonschema:"Phone number of a monitored session"`
	Kind    string `json:"kind" jsonschema:"Filter kind: keyword, regex or all"`
	Value   string `json:"value,omitempty" jsonschema:"Keyword or regular expression; ignored for all"`
}

func (h *Handler) owner(id int64) (int64, error) {
	if id > 0 {
		return id, nil
	}
	if h.defaultOwner > 0 {
		return h.defaultOwner, nil
	}
	return 0, fmt.Errorf("owner_id is required")
}

func (h *Handler) listMonitors(ctx context.Context, args ownerArgs) *mcp.CallToolResult {
	owner, err := h.owner(args.OwnerID)
	if err != nil {
		return toolError(err)
	}
	monitors, err := h.client.ListMonitors(ctx, owner)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]interface{}{"monitors": monitors})
}

func (h *Handler) listSessions(ctx context.Context, args ownerArgs) *mcp.CallToolResult {
	owner, err := h.owner(args.OwnerID)
	if err != nil {
		return toolError(err)
	}
	sessions, err := h.client.ListSessions(ctx, owner)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]interface{}{"sessions": sessions})
}

func (h *Handler) listFilters(ctx context.Context, args phoneArgs) *mcp.CallToolResult {
	owner, err := h.owner(args.OwnerID)
	if err != nil {
		return toolError(err)
	}
	phone := strings.TrimSpace(args.Phone)
	if phone == "" {
		return toolError(fmt.Errorf("phone is required"))
	}
	filters, err := h.client.ListFilters(ctx, owner, phone)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]interface{}{"phone": phone, "filters": filters})
}

func (h *Handler) addFilter(ctx context.Context, args addFilterArgs) *mcp.CallToolResult {
	owner, err := h.owner(args.OwnerID)
	if err != nil {
		return toolError(err)
	}
	if strings.TrimSpace(args.Phone) == "" || strings.TrimSpace(args.Kind) == "" {
		return toolError(fmt.Errorf("phone and kind are required"))
	}
	f, err := h.client.AddFilter(ctx, owner, strings.TrimSpace(args.Phone), args.Kind, args.Value)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]interface{}{"success": true, "filter": f})
}

func (h *Handler) stopMonitor(ctx context.Context, args phoneArgs) *mcp.CallToolResult {
	owner, err := h.owner(args.OwnerID)
	if err != nil {
		return toolError(err)
	}
	phone := strings.TrimSpace(args.Phone)
	if phone == "" {
		return toolError(fmt.Errorf("phone is required"))
	}
	if err := h.client.StopMonitor(ctx, owner, phone); err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Stopped monitoring %s", phone),
	})
}

// ============ Helpers ============

func jsonResult(result interface{}) *mcp.CallToolResult {
	content, err := json.Marshal(result)
	if err != nil {
		return toolError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(content)}},
	}
}

func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
		IsError: true,
	}
}
