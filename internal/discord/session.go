// Package discord adapts a discordgo session to the gateway.
package discord

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"sage-gateway-go/internal/gateway"
	"sage-gateway-go/internal/models"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// MessageLimit is the platform's maximum message length in characters
const MessageLimit = 2000

type Session struct {
	session *discordgo.Session
}

func NewSession(cfg models.DiscordConfig) (*Session, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("unable to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	return &Session{session: session}, nil
}

// Run connects and dispatches inbound messages to handle until ctx is done.
func (s *Session) Run(ctx context.Context, handle func(ctx context.Context, msg gateway.Message)) error {
	remove := s.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		handle(ctx, gateway.Message{
			Id:        m.ID,
			AuthorId:  m.Author.ID,
			ChannelId: m.ChannelID,
			Content:   m.Content,
			IsBot:     m.Author.Bot,
		})
	})
	defer remove()

	s.session.AddHandlerOnce(func(_ *discordgo.Session, r *discordgo.Ready) {
		zap.L().Info("Discord session ready", zap.String("user", r.User.Username))
	})

	if err := s.session.Open(); err != nil {
		return fmt.Errorf("unable to open discord session: %w", err)
	}

	<-ctx.Done()

	if err := s.session.Close(); err != nil {
		return fmt.Errorf("unable to close discord session: %w", err)
	}
	zap.L().Info("Discord session closed")
	return nil
}

func (s *Session) Reply(ctx context.Context, channelId, messageId, content string) error {
	reference := &discordgo.MessageReference{MessageID: messageId, ChannelID: channelId}
	for i, chunk := range SplitMessage(content, MessageLimit) {
		var err error
		if i == 0 {
			_, err = s.session.ChannelMessageSendReply(channelId, chunk, reference, discordgo.WithContext(ctx))
		} else {
			_, err = s.session.ChannelMessageSend(channelId, chunk, discordgo.WithContext(ctx))
		}
		if err != nil {
			return fmt.Errorf("unable to reply: %w", err)
		}
	}
	return nil
}

// Send posts content to the channel and returns the id of the first message
func (s *Session) Send(ctx context.Context, channelId, content string) (string, error) {
	var firstId string
	for _, chunk := range SplitMessage(content, MessageLimit) {
		msg, err := s.session.ChannelMessageSend(channelId, chunk, discordgo.WithContext(ctx))
		if err != nil {
			return firstId, fmt.Errorf("unable to send message: %w", err)
		}
		if firstId == "" {
			firstId = msg.ID
		}
	}
	return firstId, nil
}

func (s *Session) SendDM(ctx context.Context, userId, content string) error {
	channel, err := s.session.UserChannelCreate(userId, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("unable to open dm channel: %w", err)
	}
	for _, chunk := range SplitMessage(content, MessageLimit) {
		if _, err := s.session.ChannelMessageSend(channel.ID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("unable to send dm: %w", err)
		}
	}
	return nil
}

func (s *Session) Delete(ctx context.Context, channelId, messageId string) error {
	return s.session.ChannelMessageDelete(channelId, messageId, discordgo.WithContext(ctx))
}

func (s *Session) Typing(ctx context.Context, channelId string) error {
	return s.session.ChannelTyping(channelId, discordgo.WithContext(ctx))
}

// SplitMessage breaks content into chunks of at most limit characters,
// preferring line breaks, then spaces.
func SplitMessage(content string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(content) <= limit {
		return []string{content}
	}

	var chunks []string
	remaining := content
	for utf8.RuneCountInString(remaining) > limit {
		window := prefixRunes(remaining, limit)

		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			cut = len(window)
		}

		chunks = append(chunks, strings.TrimRight(remaining[:cut], " \n"))
		remaining = strings.TrimLeft(remaining[cut:], " \n")
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func prefixRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
