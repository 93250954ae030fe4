package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/galamiram/spotauth/internal/version"
	"github.com/galamiram/spotauth/spotify"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

const sessionResourceURI = "spotify://session"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for Spotify search",
	Long: `Start a Model Context Protocol (MCP) server on stdio that lets LLMs use the
logged in Spotify session.

The MCP server provides tools for:
- Searching tracks
- Reading the current user's profile
- Checking the login status

The server does not log in by itself: run 'spotauth login' first.

Example usage with Cursor or other MCP-compatible AI tools:
  spotauth mcp`,
	Run: func(cmd *cobra.Command, args []string) {
		runMCPServer()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// mcpHandlers serves the MCP tools from a lazily created client
type mcpHandlers struct {
	client func() (*spotify.Client, error)
}

func runMCPServer() {
	s := newMCPServer(&mcpHandlers{client: getSpotifyClient})

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP Server error: %v\n", err)
		os.Exit(1)
	}
}

func newMCPServer(h *mcpHandlers) *server.MCPServer {
	s := server.NewMCPServer(
		"spotauth",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.AddTool(
		mcp.NewTool("spotify_search_tracks",
			mcp.WithDescription("Search the Spotify catalog for tracks (up to 20 results)"),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search query, e.g. an artist or track name"),
			),
		),
		h.handleSearchTracks,
	)
	s.AddTool(
		mcp.NewTool("spotify_user_profile", mcp.WithDescription("Get the profile of the logged in Spotify user")),
		h.handleUserProfile,
	)
	s.AddTool(
		mcp.NewTool("spotify_login_status", mcp.WithDescription("Check whether spotauth holds a valid Spotify access token")),
		h.handleLoginStatus,
	)

	s.AddResource(
		mcp.NewResource(
			sessionResourceURI,
			"Spotify Session",
			mcp.WithResourceDescription("Login state and token expiry of the Spotify session"),
			mcp.WithMIMEType("application/json"),
		),
		h.handleSessionResource,
	)

	return s
}

func (h *mcpHandlers) handleSearchTracks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid query parameter: %v", err)), nil
	}

	client, err := h.client()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get Spotify client: %v", err)), nil
	}

	tracks, err := client.SearchTracks(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(toolErrorText("Search failed", err)), nil
	}

	if len(tracks) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No tracks found for %q", query)), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d track(s) for %q:\n", len(tracks), query))
	for i, t := range tracks {
		result.WriteString(fmt.Sprintf("%d. %s - %s (%s) %s\n",
			i+1, t.Name, spotify.ArtistNames(t), t.Album.Name, t.URI))
	}
	return mcp.NewToolResultText(result.String()), nil
}

func (h *mcpHandlers) handleUserProfile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := h.client()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get Spotify client: %v", err)), nil
	}

	user, err := client.GetUserProfile(ctx)
	if err != nil {
		return mcp.NewToolResultError(toolErrorText("Failed to get user profile", err)), nil
	}

	data, err := json.MarshalIndent(profileOutput(user), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode profile: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *mcpHandlers) handleLoginStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := h.client()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get Spotify client: %v", err)), nil
	}

	expiry, err := client.TokenExpiry(ctx)
	if err != nil {
		return mcp.NewToolResultText("Not logged in to Spotify. Run 'spotauth login' in a terminal."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Logged in to Spotify. Token expires %s.", formatExpiry(expiry, time.Now()))), nil
}

func (h *mcpHandlers) handleSessionResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	client, err := h.client()
	if err != nil {
		return nil, fmt.Errorf("failed to get Spotify client: %w", err)
	}

	status := map[string]interface{}{"logged_in": false}
	if expiry, err := client.TokenExpiry(ctx); err == nil {
		status["logged_in"] = true
		status["expires_at"] = expiry.UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      sessionResourceURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// toolErrorText turns a missing login into an instruction the model can relay
func toolErrorText(prefix string, err error) string {
	if errors.Is(err, spotify.ErrNotLoggedIn) {
		return "Not logged in to Spotify. Run 'spotauth login' in a terminal first."
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}
