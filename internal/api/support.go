package api

import (
	"context"
	"strconv"
)

// ListConversations gets the full conversation snapshot for the admin inbox.
func (c *Client) ListConversations(ctx context.Context) ([]*ConversationSummary, error) {
	var result []*ConversationSummary
	if err := c.get(ctx, "/admin/support/conversations", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListMessages gets all messages exchanged with one counterpart, across
// every ticket, oldest first.
func (c *Client) ListMessages(ctx context.Context, userId int64) ([]*Message, error) {
	path := "/admin/support/conversations/" + strconv.FormatInt(userId, 10) + "/messages"
	var result []*Message
	if err := c.get(ctx, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// PostReply posts an admin reply against a ticket and returns the stored
// message with its server-assigned id.
func (c *Client) PostReply(ctx context.Context, ticketId int64, body string) (*Message, error) {
	path := "/admin/support/tickets/" + strconv.FormatInt(ticketId, 10) + "/reply"
	var result Message
	if err := c.post(ctx, path, &ReplyRequest{Message: body}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResolveConversation marks every open ticket of a counterpart resolved.
func (c *Client) ResolveConversation(ctx context.Context, userId int64) error {
	path := "/admin/support/conversations/" + strconv.FormatInt(userId, 10) + "/resolve"
	return c.post(ctx, path, nil, nil)
}
