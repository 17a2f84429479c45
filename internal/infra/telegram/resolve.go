package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ResolveRecipient turns a queue.Task's free-form Recipient (a numeric
// Telegram user id or an @username) into the numeric user id the rest of the
// operation surface expects. Usernames are resolved once through the peer
// cache; numeric identifiers pass straight through without a network call.
func (c *Client) ResolveRecipient(ctx context.Context, identifier string) (int64, error) {
	trimmed := strings.TrimSpace(identifier)
	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return id, nil
	}

	username := strings.TrimPrefix(trimmed, "@")
	p, err := c.peers.resolveUsername(ctx, username)
	if err != nil {
		return 0, Classify(err)
	}
	withID, ok := p.(interface{ ID() int64 })
	if !ok {
		return 0, fmt.Errorf("telegram: %q does not resolve to a user", identifier)
	}
	return withID.ID(), nil
}
