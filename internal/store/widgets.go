package store

import (
	"context"
	"fmt"

	"github.com/nightscout-labs/liveactivity/internal/activity"
)

// AddWidgetToken registers a device token for periodic widget refreshes.
func (c *Client) AddWidgetToken(ctx context.Context, env activity.Environment, token string) error {
	if err := c.rdb.SAdd(ctx, widgetKey(env), token).Err(); err != nil {
		return fmt.Errorf("add widget token: %w", err)
	}
	return nil
}

// RemoveWidgetToken drops a device token from the widget set.
func (c *Client) RemoveWidgetToken(ctx context.Context, env activity.Environment, token string) error {
	if err := c.rdb.SRem(ctx, widgetKey(env), token).Err(); err != nil {
		return fmt.Errorf("remove widget token: %w", err)
	}
	return nil
}

// ListWidgetTokens returns all device tokens registered for an environment.
func (c *Client) ListWidgetTokens(ctx context.Context, env activity.Environment) ([]string, error) {
	tokens, err := c.rdb.SMembers(ctx, widgetKey(env)).Result()
	if err != nil {
		return nil, fmt.Errorf("list widget tokens: %w", err)
	}
	return tokens, nil
}
