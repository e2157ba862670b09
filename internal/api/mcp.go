package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/cadence/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine  Engine
	Version string
}

// NewMCPServer exposes read-only cadence views as MCP tools and resources.
// Nothing reachable from here sends or writes the lead store.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"cadence",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("cadence: outreach state engine. Inspect the next cycle's plan and the state of individual leads."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("plan_cycle",
			mcp.WithDescription("Dry-run the next outreach cycle and list who would be enrolled, who is excluded and why."),
		),
		mcpPlanCycle(deps),
	)

	s.AddTool(
		mcp.NewTool("lead_status",
			mcp.WithDescription("Show cadence position, counters and eligibility for a lead."),
			mcp.WithString("email", mcp.Description("Lead email address"), mcp.Required()),
		),
		mcpLeadStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_cycles",
			mcp.WithDescription("List recent outreach cycles from the journal, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of cycles (default 10)")),
		),
		mcpRecentCycles(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"cadence://cycles/recent",
			"Recent Cycles",
			mcp.WithResourceDescription("Last 10 journaled cycles"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentCycles(deps),
	)

	return s
}

func mcpPlanCycle(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, err := deps.Engine.Plan(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("planning failed: %v", err)), nil
		}
		return mcpJSON(NewPlanView(p)), nil
	}
}

func mcpLeadStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		email, err := req.RequireString("email")
		if err != nil || email == "" {
			return mcpError("email is required"), nil
		}

		statuses, err := deps.Engine.LeadStatus(ctx, email)
		if errors.Is(err, pipeline.ErrLeadNotFound) {
			return mcpError(fmt.Sprintf("no lead with email %s", email)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("lead status failed: %v", err)), nil
		}

		views := make([]LeadView, len(statuses))
		for i, st := range statuses {
			views[i] = NewLeadView(st)
		}
		return mcpJSON(views), nil
	}
}

func mcpRecentCycles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		cycles, err := deps.Engine.RecentCycles(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list cycles: %v", err)), nil
		}
		return mcpJSON(NewCycleViews(cycles)), nil
	}
}

func mcpResourceRecentCycles(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		cycles, err := deps.Engine.RecentCycles(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list cycles: %w", err)
		}

		b, err := json.Marshal(NewCycleViews(cycles))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal cycles: %w", err)
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

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
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
