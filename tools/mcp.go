package tools

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServer builds an MCP server exposing every dispatcher tool. Tool
// results carry the dispatcher's JSON envelope as a text part; tools that
// produce an image append it as an image part.
func NewMCPServer(d *Dispatcher, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "docfold", Version: version}, nil)
	for _, h := range d.Handlers() {
		mcp.AddTool(srv, &mcp.Tool{Name: h.Name, Description: h.Description}, d.mcpHandler(h.Name))
	}
	return srv
}

func (d *Dispatcher) mcpHandler(name string) func(context.Context, *mcp.CallToolRequest, map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		res := d.Dispatch(ctx, name, args)
		body, err := json.Marshal(res.Envelope)
		if err != nil {
			return nil, nil, err
		}
		content := []mcp.Content{&mcp.TextContent{Text: string(body)}}
		if res.Image != nil {
			content = append(content, &mcp.ImageContent{Data: res.Image.Data, MIMEType: res.Image.MIME})
		}
		// Tool failures ride in the envelope rather than the protocol error
		// channel so agents always see the recovery strategy.
		return &mcp.CallToolResult{Content: content, IsError: res.IsError}, nil, nil
	}
}
