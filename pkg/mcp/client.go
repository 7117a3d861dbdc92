// Package mcp exposes the tools of Model Context Protocol servers to agents.
package mcp

import (
	"context"
	stderrors "errors"
	"slices"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/resilience"
)

const (
	clientName    = "replicate"
	clientVersion = "0.1.0"

	handshakeTimeout = 10 * time.Second
)

// Client is an initialized MCP session. Every request is bounded by a
// per-call timeout and retried on transient failures; the tool listing is
// cached for a TTL and concurrent listings share one round trip.
type Client struct {
	session client.MCPClient
	timeout time.Duration
	retry   resilience.RetryConfig

	ttl      time.Duration
	listing  singleflight.Group
	mu       sync.Mutex
	tools    []mcp.Tool
	listedAt time.Time
}

type ClientOption func(*Client)

// WithTimeout bounds each request; non-positive values are ignored.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets how many times a failed request is repeated and the first wait.
func WithRetry(retries int, initial time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retry.MaxAttempts = retries + 1
		}
		if initial > 0 {
			c.retry.InitialDelay = initial
		}
	}
}

// WithToolCacheTTL sets how long a tool listing is reused. Zero disables reuse.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// NewClient wraps an already initialized session.
func NewClient(session client.MCPClient, opts ...ClientOption) *Client {
	c := &Client{
		session: session,
		timeout: 10 * time.Second,
		ttl:     30 * time.Second,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(3).
			WithInitialDelay(200 * time.Millisecond).
			WithIsRecoverable(transient),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientWithStdio launches command and speaks MCP over its stdin and
// stdout. env holds KEY=VALUE entries.
func NewClientWithStdio(ctx context.Context, command string, args, env []string, opts ...ClientOption) (*Client, error) {
	session, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, err
	}
	return handshake(ctx, session, opts)
}

// NewClientWithStreamableHTTP connects to a server at url over streamable HTTP.
func NewClientWithStreamableHTTP(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	session, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	return handshake(ctx, session, opts)
}

func handshake(ctx context.Context, session *client.Client, opts []ClientOption) (*Client, error) {
	fail := func(err error) (*Client, error) {
		_ = session.Close()
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		return fail(err)
	}

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	var req mcp.InitializeRequest
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := session.Initialize(hctx, req); err != nil {
		return fail(err)
	}
	return NewClient(session, opts...), nil
}

// ListTools returns the server's tools, served from cache while fresh.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if tools, ok := c.fresh(); ok {
		return tools, nil
	}
	v, err, _ := c.listing.Do("tools", func() (any, error) {
		res, err := resilience.Retry(ctx, c.retry, func() (*mcp.ListToolsResult, error) {
			rctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return c.session.ListTools(rctx, mcp.ListToolsRequest{})
		})
		if err != nil {
			return nil, err
		}
		c.remember(res.Tools)
		return res.Tools, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]mcp.Tool)), nil
}

// CallTool invokes the named tool with args.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return resilience.Retry(ctx, c.retry, func() (*mcp.CallToolResult, error) {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.session.CallTool(rctx, req)
	})
}

// Close ends the session and, for stdio servers, the subprocess.
func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) fresh() ([]mcp.Tool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl == 0 || c.tools == nil || time.Since(c.listedAt) > c.ttl {
		return nil, false
	}
	return slices.Clone(c.tools), true
}

func (c *Client) remember(tools []mcp.Tool) {
	if c.ttl == 0 {
		return
	}
	c.mu.Lock()
	c.tools = slices.Clone(tools)
	c.listedAt = time.Now()
	c.mu.Unlock()
}

// transient leaves cancellation and expired deadlines to the caller.
func transient(err error) bool {
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}
