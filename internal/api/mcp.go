package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hamster-ime/hamster/internal/prefs"
)

// PreferencesURI is the MCP resource holding every current value.
const PreferencesURI = "hamster://preferences"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Prefs   *prefs.Preferences
	Version string
}

// NewMCPServer creates an MCP server with the preference tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"hamster",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("hamster: read and change the settings of the Hamster keyboard."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_preferences",
			mcp.WithDescription("List every keyboard setting with its kind, current value and default."),
		),
		mcpListPreferences(deps),
	)

	s.AddTool(
		mcp.NewTool("get_preference",
			mcp.WithDescription("Return the current value of one keyboard setting."),
			mcp.WithString("key", mcp.Description("Setting key (e.g. rime.pageSize)"), mcp.Required()),
		),
		mcpGetPreference(deps),
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Change a keyboard setting. Booleans are true/false, maps are JSON objects of strings."),
			mcp.WithString("key", mcp.Description("Setting key (e.g. rime.pageSize)"), mcp.Required()),
			mcp.WithString("value", mcp.Description("New value as text"), mcp.Required()),
		),
		mcpSetPreference(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_preference",
			mcp.WithDescription("Restore a keyboard setting to its default."),
			mcp.WithString("key", mcp.Description("Setting key"), mcp.Required()),
		),
		mcpResetPreference(deps),
	)

	s.AddResource(
		mcp.NewResource(
			PreferencesURI,
			"Keyboard Preferences",
			mcp.WithResourceDescription("Every current keyboard setting as a JSON object"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePreferences(deps),
	)

	return s
}

func mcpListPreferences(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		settings := prefs.Settings()
		out := make([]Preference, len(settings))
		for i, s := range settings {
			out[i] = Describe(deps.Prefs, s)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal preferences: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		s, ok := prefs.Lookup(key)
		if !ok {
			return mcpError(fmt.Sprintf("unknown preference %q", key)), nil
		}
		v, _ := deps.Prefs.Value(key)
		return mcpText(s.Format(v)), nil
	}
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		text, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		s, ok := prefs.Lookup(key)
		if !ok {
			return mcpError(fmt.Sprintf("unknown preference %q", key)), nil
		}
		v, err := s.Parse(text)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		w, err := deps.Prefs.Stage(key, v)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		w.Commit()

		return mcpText(fmt.Sprintf("Set %s = %s", key, s.Format(v))), nil
	}
}

func mcpResetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		if err := deps.Prefs.Reset(key); err != nil {
			return mcpError(err.Error()), nil
		}
		s, _ := prefs.Lookup(key)
		return mcpText(fmt.Sprintf("Reset %s to %s", key, s.Format(s.Default))), nil
	}
}

func mcpResourcePreferences(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Prefs.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal preferences: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
