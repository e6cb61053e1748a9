package harvest

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/civichub/reportwatch/kit"
)

// RegisterMCP registers the reportwatch tools on an MCP server. The history
// tool is registered only when the wired recorder can also serve history.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerRun(srv)
	svc.registerCategorize(srv)
	if h, ok := svc.recorder.(Historian); ok {
		registerHistory(srv, h)
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (svc *Service) registerRun(srv *mcp.Server) {
	type req struct {
		Locators []string `json:"locators"`
	}

	tool := &mcp.Tool{
		Name:        "reportwatch_run",
		Description: "Fetch, validate and archive the given report URLs; returns the per-URL run report",
		InputSchema: inputSchema(map[string]any{
			"locators": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Report URLs to harvest",
			},
		}, []string{"locators"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if len(p.Locators) == 0 {
			return nil, errors.New("locators must not be empty")
		}
		return svc.Run(ctx, p.Locators)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerCategorize(srv *mcp.Server) {
	type req struct {
		Name string `json:"name"`
	}
	type resp struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}

	tool := &mcp.Tool{
		Name:        "reportwatch_categorize",
		Description: "Return the archive category a report file name maps to",
		InputSchema: inputSchema(map[string]any{
			"name": map[string]any{"type": "string", "description": "Report file name"},
		}, []string{"name"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return resp{Name: p.Name, Category: svc.Categorize(p.Name)}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func registerHistory(srv *mcp.Server, h Historian) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "reportwatch_history",
		Description: "List recent harvest runs with their outcome counters",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum runs to return (default 20)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		limit := p.Limit
		if limit <= 0 {
			limit = 20
		}
		return h.History(ctx, limit)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if len(r.Params.Arguments) > 0 {
			if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
