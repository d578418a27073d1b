package treantai

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	chatErrorMessage          = "API Error ❌ Try Again Later 😅\n"
	directMessageErrorMessage = "API Error ❌\nTry Again Later 😅\n"
	chatTooLongNotice         = "The Answer Is Too Powerful 🤯,\nCheck Your DM 😅"
)

// chatResponseContent formats a generated answer for display
func chatResponseContent(u *discordgo.User, prompt string, answer string) string {
	return fmt.Sprintf(
		"AI Text Generated by %s\n\n**Prompt:** %s\n\n**AI Response:** %s",
		mentionUser(u),
		prompt,
		answer,
	)
}

// runChatCommand handles the /chat command.
//
// A placeholder reply is sent right away, and then edited with the
// answer once the AI backend responds. Answers at or above the configured
// response length threshold, or which don't fit in a single message once
// formatted, are instead split into chunks and sent to the user by direct
// message, and the placeholder is edited to say so.
func (t *Treantai) runChatCommand(ctx context.Context, handler InteractionHandler) {
	logger := handlerLogger(ctx, handler)
	i := handler.GetInteraction()
	u := getDiscordUser(i)

	prompt, ok := stringOption(discordInteractionOptions(i), optionPrompt)
	if !ok {
		logger.WarnContext(ctx, "chat command missing prompt")
		_ = handler.Respond(ctx, messageResponse("A prompt is required"))
		return
	}

	if err := handler.Respond(ctx, placeholderResponse(u)); err != nil {
		logger.ErrorContext(ctx, "error acknowledging chat command", tint.Err(err))
		return
	}

	resp := t.dispatcher.Ask(ctx, prompt)
	dest := interactionDestination{handler: handler}

	if !resp.OK() {
		if err := dest.Send(
			ctx,
			chatResponseContent(u, prompt, chatErrorMessage),
		); err != nil {
			logger.ErrorContext(ctx, "error sending chat error message", tint.Err(err))
		}
		return
	}

	threshold := t.config.Discord.MaxResponseLength
	content := chatResponseContent(u, prompt, resp.Text)
	if exceedsThreshold(resp.Text, threshold) ||
		runeLen(content) > discordMaxMessageLength {
		if err := dest.Send(ctx, chatTooLongNotice); err != nil {
			logger.ErrorContext(ctx, "error sending chat notice", tint.Err(err))
		}
		chunks := chunkResponse(resp.Text, threshold)
		dm := newDirectMessageDestination(t.discord.session, u.ID)
		if err := deliverChunks(ctx, dm, chunks); err != nil {
			logger.ErrorContext(ctx, "error sending chat response by DM", tint.Err(err))
			return
		}
		logger.InfoContext(ctx, "sent chat response by DM", "chunks", len(chunks))
		return
	}

	if err := dest.Send(ctx, content); err != nil {
		logger.ErrorContext(ctx, "error sending chat response", tint.Err(err))
	}
}

// runDirectMessageChat answers a direct message from an allow-listed user.
// Short answers are sent as a single new message, longer ones in chunks.
func (t *Treantai) runDirectMessageChat(ctx context.Context, m *discordgo.MessageCreate) {
	logger, _ := ContextLogger(ctx)
	if logger == nil {
		logger = t.logger
	}
	session := t.discord.session
	dest := newChannelDestination(session, m.Author.ID, m.ChannelID)

	if err := session.ChannelTyping(m.ChannelID); err != nil {
		logger.WarnContext(ctx, "error sending typing indicator", tint.Err(err))
	}

	resp := t.dispatcher.Ask(ctx, m.Content)
	if !resp.OK() {
		if err := dest.Send(
			ctx,
			chatResponseContent(m.Author, m.Content, directMessageErrorMessage),
		); err != nil {
			logger.ErrorContext(ctx, "error sending DM error message", tint.Err(err))
		}
		return
	}

	threshold := t.config.Discord.MaxResponseLength
	content := chatResponseContent(m.Author, m.Content, resp.Text)
	if exceedsThreshold(resp.Text, threshold) ||
		runeLen(content) > discordMaxMessageLength {
		chunks := chunkResponse(resp.Text, threshold)
		if err := deliverChunks(ctx, dest, chunks); err != nil {
			logger.ErrorContext(ctx, "error sending DM response", tint.Err(err))
			return
		}
		logger.InfoContext(ctx, "sent DM response", "chunks", len(chunks))
		return
	}

	if err := dest.Send(ctx, content); err != nil {
		logger.ErrorContext(ctx, "error sending DM response", tint.Err(err))
	}
}
