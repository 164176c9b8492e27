package server

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names.
const (
	ToolStats       = "scout_stats"
	ToolDiscoveries = "scout_discoveries"
	ToolDiscovery   = "scout_discovery"
	ToolAnalyze     = "scout_analyze"
)

// MCP returns an MCP server with every scout tool registered.
func (s *Server) MCP() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "babelia-scout", Version: s.version}, nil)
	s.registerTools(srv)
	return srv
}

// RunMCP serves the tools over stdin/stdout until ctx ends or the client
// disconnects.
func (s *Server) RunMCP(ctx context.Context) error {
	return s.MCP().Run(ctx, &mcp.StdioTransport{})
}

func inputSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type statsArgs struct{}

type discoveriesArgs struct {
	Limit int `json:"limit"`
}

type discoveryArgs struct {
	Key string `json:"key"`
}

type analyzeArgs struct {
	Path string `json:"path"`
	Key  string `json:"key"`
}

func (s *Server) registerTools(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        ToolStats,
		Description: "Counters of the running scout, or of the last run recorded in the database: images sampled, rejections per stage, discoveries, errors and rates.",
		InputSchema: inputSchema(map[string]any{}),
	}, func(ctx context.Context, _ *statsArgs) (any, error) {
		return s.Stats(ctx)
	})

	addTool(srv, &mcp.Tool{
		Name:        ToolDiscoveries,
		Description: "List recorded discoveries, best score first, with their scores, coordinates and stage breakdown.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum number of discoveries (default %d, max %d)", DefaultListLimit, MaxListLimit),
				"default":     DefaultListLimit,
			},
		}),
	}, func(ctx context.Context, args *discoveriesArgs) (any, error) {
		list, err := s.Discoveries(ctx, args.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"discoveries": list, "count": len(list)}, nil
	})

	addTool(srv, &mcp.Tool{
		Name:        ToolDiscovery,
		Description: "Fetch one discovery by its coordinate key (hex-wX-sN-vN-pNNN).",
		InputSchema: inputSchema(map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "Coordinate key of the discovery",
			},
		}, "key"),
	}, func(ctx context.Context, args *discoveryArgs) (any, error) {
		return s.Discovery(ctx, args.Key)
	})

	addTool(srv, &mcp.Tool{
		Name:        ToolAnalyze,
		Description: "Run the discovery cascade (noise filter, semantic scorer, significance) on a local image file and report every stage together with the image descriptors.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Absolute path to the image file",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "Optional coordinate key the image came from",
			},
		}, "path"),
	}, func(ctx context.Context, args *analyzeArgs) (any, error) {
		if args.Path == "" {
			return nil, fmt.Errorf("path is required")
		}
		return s.Analyze(ctx, args.Path, args.Key)
	})
}

// addTool registers a handler that decodes its arguments into A and
// returns its result as one JSON text block. Errors become tool errors.
func addTool[A any](srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, args *A) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := new(A)
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := sonic.Unmarshal(raw, args); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}

		out, err := fn(ctx, args)
		if err != nil {
			return toolError(err), nil
		}

		text, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
