package client

import (
	"context"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/session"
)

// Supervise reconnects through the transport factory whenever the session
// drops to Disconnected, for example after a failed heartbeat. Each attempt
// goes through session.Reconnect and its backoff. It returns nil when ctx
// ends and the reconnect error once the session gives up. A client that
// was never connected is dialed as soon as Supervise starts.
func (c *Client) Supervise(ctx context.Context) error {
	if c.factory == nil {
		return mcperrors.InvalidState("supervise", "no transport factory")
	}

	sub := c.session.Watcher().Subscribe()
	defer sub.Unsubscribe()

	for {
		if _, err := sub.Next(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if c.closed.Load() || !c.session.State().Is(session.Disconnected) {
			continue
		}

		if err := c.reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// reconnect retries until an attempt succeeds or the session refuses more
func (c *Client) reconnect(ctx context.Context) error {
	for {
		err := c.session.Reconnect(ctx, c.factory)
		if err == nil {
			c.logger.Info("reconnected", logging.String("state", c.session.State().String()))
			return nil
		}
		if mcperrors.IsKind(err, mcperrors.KindReconnectExhausted) || ctx.Err() != nil || c.closed.Load() {
			return err
		}
		c.logger.WithError(err).Warn("reconnect attempt failed")
	}
}
