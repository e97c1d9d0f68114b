// Package mcp connects MCP tool servers and exposes their tools through the
// tool registry.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/tools"
)

const (
	protocolVersion      = "2024-11-05"
	maxDescriptionLength = 1000
	defaultOutputLimit   = 10000
)

// CallError is returned when a remote tool fails.
type CallError struct {
	Tool string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("Error executing %s: %v", e.Tool, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Options tunes calls made through a Source.
type Options struct {
	CallTimeout time.Duration
	OutputLimit int
}

// Source is one connected MCP server.
type Source struct {
	name     string
	category domain.ToolCategory
	opts     Options

	mu     sync.RWMutex
	client client.MCPClient
}

// Dial creates the transport for cfg, starts it and performs the handshake.
func Dial(ctx context.Context, cfg config.MCPServerConfig, opts Options) (*Source, error) {
	var (
		c   *client.Client
		err error
	)
	switch cfg.Transport {
	case "streamable-http":
		var topts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			topts = append(topts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err = client.NewStreamableHttpClient(cfg.URL, topts...)
	default:
		var topts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			topts = append(topts, transport.WithHeaders(cfg.Headers))
		}
		c, err = client.NewSSEMCPClient(cfg.URL, topts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Name, err)
	}
	if err := Handshake(ctx, c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp server %s: %w", cfg.Name, err)
	}
	return NewSource(cfg.Name, domain.ToolCategory(cfg.Category), c, opts), nil
}

// Handshake starts the transport of c and initializes the MCP session.
func Handshake(ctx context.Context, c *client.Client) error {
	initCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	if err := c.Start(initCtx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	_, err := c.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo:      mcp.Implementation{Name: "opsagent", Version: "1.0.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}
	return nil
}

// NewSource wraps an initialized client. An empty category lets the registry
// derive one from each tool name.
func NewSource(name string, category domain.ToolCategory, c client.MCPClient, opts Options) *Source {
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = defaultOutputLimit
	}
	return &Source{name: name, category: category, opts: opts, client: c}
}

// Name returns the server name used as the tool prefix.
func (s *Source) Name() string { return s.name }

// Register lists the server's tools and adds them to r as <server>_<tool>.
func (s *Source) Register(ctx context.Context, r *tools.Registry) (int, error) {
	c, err := s.conn()
	if err != nil {
		return 0, err
	}
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return 0, fmt.Errorf("failed to list tools of %s: %w", s.name, err)
	}

	n := 0
	for _, t := range res.Tools {
		remote := t.Name
		desc := domain.ToolDescriptor{
			Name:        s.name + "_" + remote,
			Description: describe(s.name, t.Description),
			Category:    s.category,
			Args:        tools.ArgsFromSchema(t.InputSchema.Properties, t.InputSchema.Required),
			Source:      s.name,
		}
		exec := func(ctx context.Context, args map[string]any) (string, error) {
			return s.call(ctx, remote, args)
		}
		if err := r.Register(desc, exec); err != nil {
			log.Warn().Err(err).Str("server", s.name).Str("tool", remote).Msg("skipping tool")
			continue
		}
		n++
	}
	return n, nil
}

func describe(server, description string) string {
	d := "[" + server + "] " + strings.TrimSpace(description)
	if domain.RuneLen(d) > maxDescriptionLength {
		d = domain.HeadRunes(d, maxDescriptionLength)
	}
	return d
}

func (s *Source) call(ctx context.Context, name string, args map[string]any) (string, error) {
	c, err := s.conn()
	if err != nil {
		return "", &CallError{Tool: name, Err: err}
	}
	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}

	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", &CallError{Tool: name, Err: err}
	}

	text := joinText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", &CallError{Tool: name, Err: fmt.Errorf("%s", text)}
	}
	return limitOutput(text, s.opts.OutputLimit), nil
}

func joinText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func limitOutput(text string, limit int) string {
	n := domain.RuneLen(text)
	if limit <= 0 || n <= limit {
		return text
	}
	dropped := n - limit
	return domain.HeadRunes(text, limit) + fmt.Sprintf("\n...(Output truncated by %d chars. Use specific filters or a smaller limit to narrow the result.)", dropped)
}

// KeepAlive pings the server every interval until ctx is done.
func (s *Source) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c, err := s.conn()
			if err != nil {
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, interval/2)
			if err := c.Ping(pingCtx); err != nil {
				log.Warn().Err(err).Str("server", s.name).Msg("mcp ping failed")
			}
			cancel()
		}
	}
}

// Close shuts the connection down.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *Source) conn() (client.MCPClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, fmt.Errorf("client not connected")
	}
	return s.client, nil
}
