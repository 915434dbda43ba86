package mcptool

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/sells-group/record-review/internal/review"
)

// ServerName is the MCP implementation name advertised to clients.
const ServerName = "record-review"

// NewServer builds an MCP server with every review tool registered.
func NewServer(engine *review.Engine, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	mcp.AddTool(server, MetadataReviewInterpretation, ReviewInterpretation(engine))
	return server
}

// ServeStdio runs the server over stdin/stdout until ctx is done or the
// client disconnects.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	zap.L().Info("mcp: serving over stdio", zap.String("server", ServerName))
	return server.Run(ctx, &mcp.StdioTransport{})
}
