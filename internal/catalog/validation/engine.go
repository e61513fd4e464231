// Package validation proves protocol conformance by running a real
// initialize/list handshake against a spawned candidate process and
// reporting structured capabilities or a typed failure.
package validation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/mcpdex-dev/mcpdex/internal/version"
	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

const (
	// stderrLimit bounds the excerpt surfaced on unexpected exit.
	stderrLimit = 2048
	// killGrace is how long a child gets between SIGTERM and SIGKILL.
	killGrace = 3 * time.Second

	defaultTimeout = 30 * time.Second
)

// Engine drives one handshake attempt per call. It never retries; retry
// policy belongs to the orchestrator via fresh requests.
type Engine struct {
	// Timeout is the wall-clock bound for the whole attempt, spawn to
	// final list response. It is the sole cancellation mechanism; no
	// cooperative signal is expected from the child.
	Timeout time.Duration
}

// NewEngine returns an engine with the given attempt timeout.
func NewEngine(timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Engine{Timeout: timeout}
}

// RunCommand launches cmd, performs the handshake over its stdio pipes, and
// always returns a result: a capability report on success, a typed failure
// otherwise. The child is guaranteed terminated on every exit path.
func (e *Engine) RunCommand(ctx context.Context, cmd *exec.Cmd) *models.ValidationResult {
	start := time.Now()

	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()
	defer terminate(cmd)

	report, err := e.handshake(ctx, &mcp.CommandTransport{Command: cmd})
	duration := time.Since(start).Milliseconds()
	if err != nil {
		reason, detail := classify(ctx, err, stderr.excerpt())
		return &models.ValidationResult{
			Success:       false,
			DurationMS:    duration,
			FailureReason: reason,
			Error:         detail,
		}
	}

	return &models.ValidationResult{
		Success:         true,
		ServerName:      report.serverName,
		ServerVersion:   report.serverVersion,
		ProtocolVersion: report.protocolVersion,
		Capabilities: &models.CapabilityList{
			Tools:     report.tools,
			Resources: report.resources,
			Prompts:   report.prompts,
		},
		DurationMS: duration,
	}
}

type handshakeReport struct {
	serverName      string
	serverVersion   string
	protocolVersion string
	tools           []string
	resources       []string
	prompts         []string
}

// handshake performs initialize followed by the three capability list calls,
// pipelined. An error response on a list call means the capability is not
// supported and maps to an empty list; an initialize error is fatal.
func (e *Engine) handshake(ctx context.Context, transport mcp.Transport) (*handshakeReport, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "mcpdex-validator",
		Version: version.Version,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	defer func() { _ = session.Close() }()

	report := &handshakeReport{
		tools:     []string{},
		resources: []string{},
		prompts:   []string{},
	}
	if init := session.InitializeResult(); init != nil {
		report.protocolVersion = init.ProtocolVersion
		if init.ServerInfo != nil {
			report.serverName = init.ServerInfo.Name
			report.serverVersion = init.ServerInfo.Version
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := session.ListTools(gctx, &mcp.ListToolsParams{})
		if err != nil {
			return capabilityError(err)
		}
		for _, tool := range res.Tools {
			report.tools = append(report.tools, tool.Name)
		}
		return nil
	})
	g.Go(func() error {
		res, err := session.ListResources(gctx, &mcp.ListResourcesParams{})
		if err != nil {
			return capabilityError(err)
		}
		for _, resource := range res.Resources {
			report.resources = append(report.resources, resource.Name)
		}
		return nil
	})
	g.Go(func() error {
		res, err := session.ListPrompts(gctx, &mcp.ListPromptsParams{})
		if err != nil {
			return capabilityError(err)
		}
		for _, prompt := range res.Prompts {
			report.prompts = append(report.prompts, prompt.Name)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

// capabilityError swallows errors that mean "capability not offered": a
// JSON-RPC error response from the candidate, or the client refusing to send
// because the server never advertised the capability. Transport-level
// failures still abort the attempt.
func capabilityError(err error) error {
	var wire *jsonrpc.Error
	if errors.As(err, &wire) {
		return nil
	}
	if strings.Contains(err.Error(), "does not support") {
		return nil
	}
	return err
}

// classify maps a handshake error to its typed failure reason.
func classify(ctx context.Context, err error, stderrExcerpt string) (models.FailureReason, string) {
	// Start surfaces a missing PATH entry as *exec.Error and an absolute
	// or relative path that cannot be executed as *fs.PathError.
	var execErr *exec.Error
	var pathErr *fs.PathError
	switch {
	case errors.As(err, &execErr):
		return models.FailureSpawn, fmt.Sprintf("spawn failed: %v", execErr)
	case errors.As(err, &pathErr):
		return models.FailureSpawn, fmt.Sprintf("spawn failed: %v", pathErr)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return models.FailureTimeout, "handshake timed out before completion"
	}

	var wire *jsonrpc.Error
	if errors.As(err, &wire) {
		return models.FailureInitialize, fmt.Sprintf("initialize rejected: %s", wire.Message)
	}

	detail := fmt.Sprintf("process exited unexpectedly: %v", err)
	if stderrExcerpt != "" {
		detail += "; stderr: " + stderrExcerpt
	}
	return models.FailureCrashed, detail
}

// terminate guarantees the child is gone: SIGTERM, a short grace period,
// then SIGKILL. Safe to call when the process never started or was already
// reaped by the transport.
func terminate(cmd *exec.Cmd) {
	proc := cmd.Process
	if proc == nil || cmd.ProcessState != nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)

	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if cmd.ProcessState != nil {
			return
		}
		// Signal 0 probes liveness without delivering anything.
		if proc.Signal(syscall.Signal(0)) != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = proc.Kill()
}

// tailBuffer retains the last limit bytes written, concurrency-safe because
// the child writes from its own process while the engine reads after exit.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > b.limit {
		b.data = b.data[len(b.data)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) excerpt() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.data))
}
