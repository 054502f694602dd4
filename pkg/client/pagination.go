package client

import (
	"context"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/pagination"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// pageFunc fetches the page at cursor and returns its items and the next cursor
type pageFunc[T any] func(ctx context.Context, cursor string) ([]T, string, error)

// collectAll follows next cursors until the last page or maxPages pages
func collectAll[T any](ctx context.Context, maxPages int, fetch pageFunc[T]) ([]T, error) {
	collector := pagination.NewCollector[T](maxPages)
	for collector.HasMore() {
		items, next, err := fetch(ctx, collector.NextCursor)
		if err != nil {
			return nil, err
		}
		collector.Add(items, next)
	}
	return collector.Items(), nil
}

// ListAllTools retrieves every tool, following pagination cursors
func (c *Client) ListAllTools(ctx context.Context) ([]protocol.Tool, error) {
	return collectAll(ctx, c.maxPages, func(ctx context.Context, cursor string) ([]protocol.Tool, string, error) {
		res, err := c.ListTools(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return res.Tools, res.NextCursor, nil
	})
}

func (c *Client) ListAllResources(ctx context.Context) ([]protocol.Resource, error) {
	return collectAll(ctx, c.maxPages, func(ctx context.Context, cursor string) ([]protocol.Resource, string, error) {
		res, err := c.ListResources(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return res.Resources, res.NextCursor, nil
	})
}

func (c *Client) ListAllResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	return collectAll(ctx, c.maxPages, func(ctx context.Context, cursor string) ([]protocol.ResourceTemplate, string, error) {
		res, err := c.ListResourceTemplates(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return res.ResourceTemplates, res.NextCursor, nil
	})
}

func (c *Client) ListAllPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	return collectAll(ctx, c.maxPages, func(ctx context.Context, cursor string) ([]protocol.Prompt, string, error) {
		res, err := c.ListPrompts(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return res.Prompts, res.NextCursor, nil
	})
}
