// Package mcpserver exposes the calculator tools over the Model Context
// Protocol.
//
// Every descriptor in the tool host's registry becomes one MCP tool whose
// input schema is the descriptor's JSON Schema. Calls are routed through
// [toolhost.Host.ExecuteTool], so MCP clients see the same
// {"result": ...} / {"error": {...}} payloads as the agent loop and share its
// metrics and statistics.
//
//	srv := mcpserver.New(host, mcpserver.WithVersion("1.2.0"))
//	mux.Handle("/mcp", srv.Handler())
package mcpserver

import (
	"context"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/calcagent/internal/toolhost"
)

// ImplementationName is announced to MCP clients during initialisation.
const ImplementationName = "calcagent"

// Server serves a [toolhost.Host] over MCP.
type Server struct {
	host      *toolhost.Host
	mcp       *mcpsdk.Server
	stateless bool
}

// Option configures a [Server].
type Option func(*options)

type options struct {
	version   string
	stateless bool
}

// WithVersion sets the implementation version announced to clients.
// Default: "dev".
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithStateless serves every HTTP request with a fresh session and no
// session ID validation. Useful behind load balancers without affinity.
func WithStateless(stateless bool) Option {
	return func(o *options) { o.stateless = stateless }
}

// New registers one MCP tool per descriptor of host's registry.
func New(host *toolhost.Host, opts ...Option) *Server {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ImplementationName,
		Version: o.version,
	}, nil)

	for _, d := range host.Registry().Describe() {
		srv.AddTool(&mcpsdk.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema(),
		}, toolHandler(host, d.Name))
	}

	slog.Debug("mcp server tools registered", "tools", host.Registry().Len())
	return &Server{host: host, mcp: srv, stateless: o.stateless}
}

// MCP returns the underlying SDK server, e.g. to connect custom transports.
func (s *Server) MCP() *mcpsdk.Server {
	return s.mcp
}

// Handler returns a streamable HTTP handler serving the MCP endpoint.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(
		func(*http.Request) *mcpsdk.Server { return s.mcp },
		&mcpsdk.StreamableHTTPOptions{Stateless: s.stateless},
	)
}

// toolHandler adapts one tool to the SDK's low-level handler. Tool failures
// are reported in-band with IsError set; the protocol-level error is reserved
// for cancellation.
func toolHandler(host *toolhost.Host, name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		// Absent and null arguments both mean "no arguments" on the MCP side.
		var args string
		if req.Params != nil && string(req.Params.Arguments) != "null" {
			args = string(req.Params.Arguments)
		}
		res := host.ExecuteTool(ctx, name, args)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: res.Content}},
			IsError: res.IsError,
		}, nil
	}
}
