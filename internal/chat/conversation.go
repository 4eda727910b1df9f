package chat

import (
	"context"
	"time"
)

// Poster sends a message into a channel.
type Poster interface {
	Post(ctx context.Context, channelID, text string) error
}

// ChannelConversation binds one ticket channel and its requester to the
// poster and the inbox. It is used by a single goroutine.
type ChannelConversation struct {
	poster    Poster
	inbox     *Inbox
	channelID string
	authorID  string

	// next is armed by Send so a reply racing the prompt is kept for Await.
	next *Pending
}

// NewChannelConversation returns a conversation with authorID in channelID.
func NewChannelConversation(p Poster, in *Inbox, channelID, authorID string) *ChannelConversation {
	return &ChannelConversation{poster: p, inbox: in, channelID: channelID, authorID: authorID}
}

// Send posts text into the ticket channel. The requester's next reply is
// expected from before the post goes out.
func (c *ChannelConversation) Send(ctx context.Context, text string) error {
	if c.next == nil {
		if p, err := c.inbox.Expect(c.channelID, c.authorID); err == nil {
			c.next = p
		}
	}
	return c.poster.Post(ctx, c.channelID, text)
}

// Await waits for the requester's next message in the ticket channel.
func (c *ChannelConversation) Await(ctx context.Context, timeout time.Duration) (string, error) {
	p := c.next
	c.next = nil
	if p == nil {
		var err error
		if p, err = c.inbox.Expect(c.channelID, c.authorID); err != nil {
			return "", err
		}
	}
	return p.Wait(ctx, timeout)
}

// Close drops a reply expectation that no Await consumed.
func (c *ChannelConversation) Close() {
	if c.next != nil {
		c.next.Cancel()
		c.next = nil
	}
}
