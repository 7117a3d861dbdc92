package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/mcp"
)

// mcpFactory exposes every tool of an MCP server. A "url" option selects
// the streamable HTTP transport; otherwise "command" is spawned over stdio.
func mcpFactory(ctx context.Context, spec Spec) (Built, error) {
	opts := []mcp.ClientOption{
		mcp.WithTimeout(durationOpt(spec.Options, "timeout", 30*time.Second)),
	}
	var (
		client *mcp.Client
		err    error
	)
	switch url, command := stringOpt(spec.Options, "url", ""), stringOpt(spec.Options, "command", ""); {
	case url != "":
		client, err = mcp.NewClientWithStreamableHTTP(ctx, url, opts...)
	case command != "":
		client, err = mcp.NewClientWithStdio(ctx, command, stringsOpt(spec.Options, "args"), stringsOpt(spec.Options, "env"), opts...)
	default:
		return Built{}, fmt.Errorf("mcp tool requires a command or url option")
	}
	if err != nil {
		return Built{}, err
	}

	adapted, err := mcp.Adapt(ctx, client, stringOpt(spec.Options, "prefix", ""))
	if err != nil {
		client.Close()
		return Built{}, err
	}
	return Built{Tools: adapted, Closer: client}, nil
}
