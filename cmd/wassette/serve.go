package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/duffney/wassette/internal/container"
	"github.com/duffney/wassette/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server over stdio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	c, err := container.New(ctx, container.Options{ConfigPath: cfgFile, Flags: rootCmd.PersistentFlags(), Logger: logger})
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer c.Close(context.Background())

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "wassette",
		Version: "0.1.0",
	}, &mcp.ServerOptions{HasTools: true})

	reg := newToolRegistry(server, c.ToolSurface(), logger)
	reg.sync()
	c.ToolSurface().OnChange(reg.sync)

	logger.Info("wassette starting (stdio transport)")
	return server.Run(ctx, &mcp.StdioTransport{})
}

// toolRegistry diffs the tool surface's current tool list against what the
// MCP server has registered and adds/removes the delta.
type toolRegistry struct {
	server  *mcp.Server
	surface *tools.Surface
	logger  *zap.Logger

	mu         sync.Mutex
	registered map[string]struct{}
}

func newToolRegistry(server *mcp.Server, surface *tools.Surface, logger *zap.Logger) *toolRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &toolRegistry{server: server, surface: surface, logger: logger.Named("tool_registry"), registered: make(map[string]struct{})}
}

func (r *toolRegistry) sync() {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := append(append([]tools.Tool{}, r.surface.BuiltinTools()...), r.surface.DynamicTools()...)
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	next := make(map[string]struct{}, len(all))
	for _, t := range all {
		tool, err := toMCPTool(t)
		if err != nil {
			r.logger.Warn("skip tool with invalid schema", zap.String("tool", t.Name), zap.Error(err))
			continue
		}
		r.server.AddTool(tool, r.toolHandler(t.Name))
		next[t.Name] = struct{}{}
	}

	var remove []string
	for name := range r.registered {
		if _, ok := next[name]; !ok {
			remove = append(remove, name)
		}
	}
	if len(remove) > 0 {
		r.server.RemoveTools(remove...)
	}
	r.registered = next
}

func (r *toolRegistry) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resultJSON, err := r.surface.Dispatch(ctx, name, []byte(req.Params.Arguments))
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			}, nil
		}

		wire, marshalErr := json.Marshal(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": string(resultJSON)},
			},
			"structuredContent": json.RawMessage(resultJSON),
		})
		if marshalErr != nil {
			return nil, marshalErr
		}
		var result mcp.CallToolResult
		if err := json.Unmarshal(wire, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}
}

// toMCPTool round-trips through JSON rather than constructing an mcp.Tool
// literal, since its schema fields are typed against the jsonschema package
// rather than plain maps.
func toMCPTool(t tools.Tool) (*mcp.Tool, error) {
	wire := map[string]any{
		"name":        t.Name,
		"description": t.Description,
		"inputSchema": t.InputSchema,
	}
	if t.OutputSchema != nil {
		wire["outputSchema"] = t.OutputSchema
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	var tool mcp.Tool
	if err := json.Unmarshal(data, &tool); err != nil {
		return nil, err
	}
	return &tool, nil
}
