package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/mcp-training/livefeedback/feedback"
	"github.com/wricardo/mcp-training/livefeedback/service"
)

const (
	serverName    = "Live Feedback"
	serverVersion = "1.0.0"
	barWidth      = 20
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Live Feedback - MCP Interface

This is a thin client that proxies all requests to the local feedback relay.

Rooms are addressed by their 8 character short code, as shown to the audience.
Votes are one of four ranks, best first:
  very_good (a, 1)   good (b, 2)   bad (c, 3)   very_bad (d, 4)

AVAILABLE TOOLS:
- room_info: Resolve a room code to its name and description
- feedback: Current vote tally of a room (live when the room is watched)
- room_stats: Number of contents, acknowledged comments and connected users
- vote: Cast a vote in a room
- watch_room: Keep a live stream open for a room so tallies update as votes arrive
- list_watches: Rooms that currently have a live stream

NOTE: Votes are anonymous guest votes. A guest can change its vote, it is never counted twice.`),
	)

	c.registerTools()
}

func roomArgument() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Room short code (8 characters, spaces ignored)",
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Room lookups
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "room_info",
		Description: "Resolve a room code to the room's name and description",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": roomArgument(),
			},
			Required: []string{"room"},
		},
	}, c.handleRoomInfo)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "room_stats",
		Description: "Get activity statistics of a room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": roomArgument(),
			},
			Required: []string{"room"},
		},
	}, c.handleRoomStats)

	// Feedback
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "feedback",
		Description: "Get the current vote tally of a room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": roomArgument(),
			},
			Required: []string{"room"},
		},
	}, c.handleFeedback)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "vote",
		Description: "Cast a feedback vote in a room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": roomArgument(),
				"value": map[string]interface{}{
					"type":        "string",
					"description": "very_good, good, bad or very_bad (letters a-d are accepted)",
				},
			},
			Required: []string{"room", "value"},
		},
	}, c.handleVote)

	// Live streams
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "watch_room",
		Description: "Open a live stream for a room so its tally follows incoming votes",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": roomArgument(),
			},
			Required: []string{"room"},
		},
	}, c.handleWatch)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_watches",
		Description: "List rooms with an open live stream",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListWatches)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// apiCall makes an HTTP call to the REST API
func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("API error: %s", errResp.Error)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func roomPath(code, suffix string) string {
	return "/api/rooms/" + url.PathEscape(code) + suffix
}

// stringArg returns a trimmed string argument or an error naming it
func stringArg(request mcp.CallToolRequest, name string) (string, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	value, _ := args[name].(string)
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return value, nil
}

// Tool handlers

func (c *Client) handleRoomInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := stringArg(request, "room")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var room feedback.RoomInfo
	if err := c.apiCall(ctx, "GET", roomPath(code, ""), nil, &room); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRoomInfo(&room)), nil
}

func (c *Client) handleRoomStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := stringArg(request, "room")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var resp struct {
		Room  string             `json:"room"`
		Stats feedback.RoomStats `json:"stats"`
	}
	if err := c.apiCall(ctx, "GET", roomPath(code, "/stats"), nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRoomStats(code, &resp.Stats)), nil
}

func (c *Client) handleFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := stringArg(request, "room")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var view service.FeedbackView
	if err := c.apiCall(ctx, "GET", roomPath(code, "/feedback"), nil, &view); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatFeedbackView(&view)), nil
}

func (c *Client) handleVote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := stringArg(request, "room")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := stringArg(request, "value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Reject locally so the agent gets the list of accepted values
	value, err := feedback.ParseValue(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%v (use very_good, good, bad or very_bad)", err)), nil
	}

	var resp struct {
		Room string `json:"room"`
		Vote string `json:"vote"`
	}
	body := map[string]string{"value": value.String()}
	if err := c.apiCall(ctx, "POST", roomPath(code, "/vote"), body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("✓ Vote %q sent to room %s", resp.Vote, resp.Room)), nil
}

func (c *Client) handleWatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := stringArg(request, "room")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var room feedback.RoomInfo
	if err := c.apiCall(ctx, "POST", roomPath(code, "/watch"), nil, &room); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Watching room %s (%s)", room.ShortID, room.Name)), nil
}

func (c *Client) handleListWatches(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp struct {
		Count   int                 `json:"count"`
		Watches []service.WatchInfo `json:"watches"`
	}
	if err := c.apiCall(ctx, "GET", "/api/watches", nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatWatches(resp.Watches)), nil
}

// Formatting

func formatRoomInfo(room *feedback.RoomInfo) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Room: %s\n", room.Name))
	sb.WriteString(fmt.Sprintf("Code: %s\n", room.ShortID))
	sb.WriteString(fmt.Sprintf("ID: %s\n", room.ID))
	if room.Description != "" {
		sb.WriteString(fmt.Sprintf("\n%s\n", room.Description))
	}
	return sb.String()
}

func formatRoomStats(code string, stats *feedback.RoomStats) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Room %s statistics\n", code))
	sb.WriteString(fmt.Sprintf("Contents: %d\n", stats.ContentCount))
	sb.WriteString(fmt.Sprintf("Acknowledged comments: %d\n", stats.AckCommentCount))
	sb.WriteString(fmt.Sprintf("Connected users: %d\n", stats.RoomUserCount))
	return sb.String()
}

func formatFeedbackView(view *service.FeedbackView) string {
	var sb strings.Builder

	source := "survey"
	if view.Live {
		source = "live"
		if view.UpdatedAt != nil {
			source += ", updated " + view.UpdatedAt.Format(time.TimeOnly)
		}
	}
	sb.WriteString(fmt.Sprintf("Room %s (%s)\n", view.Room, source))
	sb.WriteString(FormatFeedback(view.Feedback))
	return sb.String()
}

// FormatFeedback renders one bar per rank, best first
func FormatFeedback(fb feedback.Feedback) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total votes: %d\n", fb.CountVotes()))

	for _, v := range feedback.Values() {
		share := fb.Share(v)
		filled := int(share*barWidth + 0.5)
		sb.WriteString(fmt.Sprintf("  %-9s %s%s %3.0f%% (%d)\n",
			v.String(),
			strings.Repeat("█", filled),
			strings.Repeat("░", barWidth-filled),
			share*100,
			fb.Count(v),
		))
	}
	return sb.String()
}

func formatWatches(watches []service.WatchInfo) string {
	if len(watches) == 0 {
		return "No rooms are being watched"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Watching %d room(s):\n", len(watches)))
	for _, w := range watches {
		sb.WriteString(fmt.Sprintf("- %s %s: %d snapshot(s), %d vote(s) queued, since %s\n",
			w.Room.ShortID, w.Room.Name, w.Snapshots, w.Votes, w.Since.Format(time.RFC3339)))
	}
	return sb.String()
}
