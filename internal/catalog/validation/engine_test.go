//nolint:testpackage
package validation

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

type echoArgs struct {
	Text string `json:"text"`
}

func newToolOnlyServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "widget-server",
		Version: "2.1.0",
	}, &mcp.ServerOptions{HasTools: true})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echo the input back",
	}, func(_ context.Context, _ *mcp.CallToolRequest, args echoArgs) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: args.Text}},
		}, nil, nil
	})
	return server
}

func TestHandshake_ToolOnlyServer(t *testing.T) {
	ctx := context.Background()
	server := newToolOnlyServer()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Wait() }()

	engine := NewEngine(10 * time.Second)
	report, err := engine.handshake(ctx, clientTransport)
	require.NoError(t, err)

	assert.Equal(t, "widget-server", report.serverName)
	assert.Equal(t, "2.1.0", report.serverVersion)
	assert.NotEmpty(t, report.protocolVersion)
	assert.Equal(t, []string{"echo"}, report.tools)

	// Unsupported capabilities report as empty lists, not failures.
	assert.Empty(t, report.resources)
	assert.Empty(t, report.prompts)
}

func TestHandshake_ListErrorMeansEmptyCapability(t *testing.T) {
	ctx := context.Background()

	// The server advertises resources but its resources/list handler
	// answers with a protocol error response. The attempt still succeeds
	// with an empty resource list.
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "widget-server",
		Version: "2.1.0",
	}, &mcp.ServerOptions{HasTools: true, HasResources: true})
	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echo the input back",
	}, func(_ context.Context, _ *mcp.CallToolRequest, args echoArgs) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: args.Text}},
		}, nil, nil
	})
	server.AddReceivingMiddleware(func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method == "resources/list" {
				return nil, errors.New("resource backend offline")
			}
			return next(ctx, method, req)
		}
	})

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Wait() }()

	engine := NewEngine(10 * time.Second)
	report, err := engine.handshake(ctx, clientTransport)
	require.NoError(t, err)

	assert.Equal(t, []string{"echo"}, report.tools)
	assert.Empty(t, report.resources)
	assert.Empty(t, report.prompts)
}

func TestRunCommand_SpawnFailure(t *testing.T) {
	engine := NewEngine(5 * time.Second)
	cmd := exec.Command("/nonexistent/mcpdex-test-binary")

	result := engine.RunCommand(context.Background(), cmd)
	require.False(t, result.Success)
	assert.Equal(t, models.FailureSpawn, result.FailureReason)
	assert.NotEmpty(t, result.Error)
}

func TestRunCommand_Timeout(t *testing.T) {
	// sleep reads nothing and writes nothing, so initialize never completes.
	engine := NewEngine(500 * time.Millisecond)
	cmd := exec.Command("sleep", "30")

	start := time.Now()
	result := engine.RunCommand(context.Background(), cmd)

	require.False(t, result.Success)
	assert.Equal(t, models.FailureTimeout, result.FailureReason)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunCommand_UnexpectedExit(t *testing.T) {
	// true exits immediately without ever speaking the protocol.
	engine := NewEngine(5 * time.Second)
	cmd := exec.Command("true")

	result := engine.RunCommand(context.Background(), cmd)
	require.False(t, result.Success)
	assert.Equal(t, models.FailureCrashed, result.FailureReason)
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	buf := &tailBuffer{limit: 8}
	_, err := buf.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, "89abcdef", buf.excerpt())
}
