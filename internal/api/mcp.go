package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/campusnav/internal/geo"
	"github.com/kalambet/campusnav/internal/storage"
)

const buildingsResourceURI = "campus://buildings"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Navigator Processor
	Store     CampusStore
	Geo       *geo.Index // optional; nearby_buildings reports an error without it
	Version   string
}

// NewMCPServer creates an MCP server with the campus tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "1.0.0"
	}

	s := server.NewMCPServer(
		"campusnav",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("campusnav answers questions about campus buildings, opening hours, points of interest and walking routes."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask_campus",
			mcp.WithDescription("Answer a natural-language campus question (where is X, how do I get from A to B, when is X open)."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithBoolean("debug", mcp.Description("Include the raw model payload in the result")),
		),
		mcpAskCampus(deps),
	)

	s.AddTool(
		mcp.NewTool("find_building",
			mcp.WithDescription("Look up a building by name or alias and return it with its points of interest."),
			mcp.WithString("name", mcp.Description("Building name or alias, e.g. library or SC"), mcp.Required()),
		),
		mcpFindBuilding(deps),
	)

	s.AddTool(
		mcp.NewTool("get_route",
			mcp.WithDescription("Return the stored walking route between two buildings, in either direction."),
			mcp.WithString("from", mcp.Description("Origin building name or alias"), mcp.Required()),
			mcp.WithString("to", mcp.Description("Destination building name or alias"), mcp.Required()),
		),
		mcpGetRoute(deps),
	)

	s.AddTool(
		mcp.NewTool("nearby_buildings",
			mcp.WithDescription("List the buildings closest to a coordinate, nearest first."),
			mcp.WithNumber("lat", mcp.Description("Latitude in degrees"), mcp.Required()),
			mcp.WithNumber("lon", mcp.Description("Longitude in degrees"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of buildings (default 5)")),
		),
		mcpNearbyBuildings(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			buildingsResourceURI,
			"Campus Buildings",
			mcp.WithResourceDescription("Every building in the knowledge base as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceBuildings(deps),
	)

	return s
}

func mcpAskCampus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		result, err := deps.Navigator.Process(ctx, query, req.GetBool("debug", false))
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return mcpJSON(result)
	}
}

func mcpFindBuilding(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil || name == "" {
			return mcpError("name is required"), nil
		}

		b, err := deps.Store.FindBuilding(ctx, name)
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		if b == nil {
			return mcpText(fmt.Sprintf("No building matches %q", name)), nil
		}

		pois, err := deps.Store.GetPOIs(ctx, b.ID)
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		return mcpJSON(struct {
			Building *storage.Building `json:"building"`
			POIs     []storage.POI     `json:"pois"`
		}{b, pois})
	}
}

func mcpGetRoute(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fromName, err := req.RequireString("from")
		if err != nil || fromName == "" {
			return mcpError("from is required"), nil
		}
		toName, err := req.RequireString("to")
		if err != nil || toName == "" {
			return mcpError("to is required"), nil
		}

		from, err := deps.Store.FindBuilding(ctx, fromName)
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		if from == nil {
			return mcpText(fmt.Sprintf("No building matches %q", fromName)), nil
		}
		to, err := deps.Store.FindBuilding(ctx, toName)
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		if to == nil {
			return mcpText(fmt.Sprintf("No building matches %q", toName)), nil
		}

		route, err := deps.Store.GetRoute(ctx, from.ID, to.ID)
		if err != nil {
			return mcpError(fmt.Sprintf("route lookup failed: %v", err)), nil
		}
		if route == nil {
			return mcpText(fmt.Sprintf("No stored route between %s and %s", from.Name, to.Name)), nil
		}

		return mcpJSON(struct {
			Route        *storage.Route    `json:"route"`
			FromBuilding *storage.Building `json:"from_building"`
			ToBuilding   *storage.Building `json:"to_building"`
		}{route, from, to})
	}
}

func mcpNearbyBuildings(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Geo == nil {
			return mcpError("spatial index not available"), nil
		}
		lat, err := req.RequireFloat("lat")
		if err != nil {
			return mcpError("lat is required"), nil
		}
		lon, err := req.RequireFloat("lon")
		if err != nil {
			return mcpError("lon is required"), nil
		}

		limit := req.GetInt("limit", defaultNearbyLimit)
		if limit <= 0 {
			limit = defaultNearbyLimit
		}
		if limit > 50 {
			limit = 50
		}

		nearby, err := deps.Geo.Nearest(lat, lon, limit)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(nearby)
	}
}

func mcpResourceBuildings(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		buildings, err := deps.Store.ListBuildings(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list buildings: %w", err)
		}

		b, err := json.Marshal(buildings)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal buildings: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
