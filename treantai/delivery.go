package treantai

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Destination is somewhere a response (or a chunk of one) can be sent
type Destination interface {
	Send(ctx context.Context, content string) error
}

// interactionDestination delivers content by editing the placeholder
// reply of an interaction
type interactionDestination struct {
	handler InteractionHandler
}

func (d interactionDestination) Send(ctx context.Context, content string) error {
	_, err := d.handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
	return err
}

// directMessageDestination delivers content as new messages in a user's
// DM channel. The channel is opened on the first send and reused after.
type directMessageDestination struct {
	session   DiscordSessionHandler
	userID    string
	channelID string
	mu        sync.Mutex
}

func newDirectMessageDestination(
	session DiscordSessionHandler,
	userID string,
) *directMessageDestination {
	return &directMessageDestination{session: session, userID: userID}
}

// newChannelDestination returns a directMessageDestination for a DM channel
// that's already known, such as the channel a direct message arrived on
func newChannelDestination(
	session DiscordSessionHandler,
	userID string,
	channelID string,
) *directMessageDestination {
	return &directMessageDestination{
		session:   session,
		userID:    userID,
		channelID: channelID,
	}
}

func (d *directMessageDestination) channel() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channelID != "" {
		return d.channelID, nil
	}
	ch, err := d.session.UserChannelCreate(d.userID)
	if err != nil {
		return "", fmt.Errorf("error opening DM channel for user %q: %w", d.userID, err)
	}
	d.channelID = ch.ID
	return d.channelID, nil
}

func (d *directMessageDestination) Send(_ context.Context, content string) error {
	channelID, err := d.channel()
	if err != nil {
		return err
	}
	if _, err = d.session.ChannelMessageSend(channelID, content); err != nil {
		return fmt.Errorf("error sending direct message: %w", err)
	}
	return nil
}

// deliverChunks sends each chunk to dest in order, waiting for each send
// to complete before starting the next. Delivery stops at the first
// failed send, and that error is returned.
func deliverChunks(ctx context.Context, dest Destination, chunks []string) error {
	logger, ok := ContextLogger(ctx)
	for ind, chunk := range chunks {
		if err := dest.Send(ctx, chunk); err != nil {
			if ok && logger != nil {
				logger.ErrorContext(
					ctx,
					"error delivering chunk",
					tint.Err(err),
					"chunk", ind+1,
					"chunks", len(chunks),
				)
			}
			return fmt.Errorf("chunk %d/%d: %w", ind+1, len(chunks), err)
		}
	}
	return nil
}
