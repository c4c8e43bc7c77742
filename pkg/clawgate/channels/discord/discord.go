// Package discord implements the Discord channel using discordgo. The
// gateway WebSocket delivers inbound messages; reconnection is handled by
// discordgo itself.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild IDs the bot responds in. Empty
	// means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// RequireMention makes the bot answer guild messages only when
	// mentioned. Direct messages always get a reply.
	RequireMention bool `yaml:"require_mention"`
}

// messageLimit is Discord's per-message character cap.
const messageLimit = 2000

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session
	handler atomic.Value // channels.Handler
	started atomic.Bool
}

// New creates a Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:    cfg,
		logger: logger.With("component", "discord"),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// SetHandler installs the inbound message handler.
func (d *Discord) SetHandler(h channels.Handler) {
	d.handler.Store(h)
}

// Start opens the gateway WebSocket.
func (d *Discord) Start(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.started.Store(true)
	user := session.State.User
	d.logger.Info("discord channel started", "bot", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (d *Discord) Stop() error {
	d.started.Store(false)
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			return fmt.Errorf("discord: closing gateway: %w", err)
		}
	}
	d.logger.Info("discord channel stopped")
	return nil
}

// Send delivers a message, splitting it when it exceeds Discord's limit.
func (d *Discord) Send(ctx context.Context, req *channels.UnifiedSendRequest) error {
	if d.session == nil || !d.started.Load() {
		return channels.ErrChannelDisconnected
	}

	for i, chunk := range splitMessage(req.Content, messageLimit) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && req.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: req.ReplyTo}
		}
		if _, err := d.session.ChannelMessageSendComplex(req.ChatID, msgSend); err != nil {
			return fmt.Errorf("%w: discord: %v", channels.ErrSendFailed, err)
		}
	}
	return nil
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if len(d.cfg.AllowedGuilds) > 0 && m.GuildID != "" && !contains(d.cfg.AllowedGuilds, m.GuildID) {
		return
	}

	isGuild := m.GuildID != ""
	if isGuild && d.cfg.RequireMention && !mentionsBot(m, s.State.User.ID) {
		return
	}

	msgType := channels.MessagePrivate
	if isGuild {
		msgType = channels.MessageGroup
	}

	msg := channels.NewUnifiedMessage("discord", m.Author.ID, m.ChannelID, msgType, m.ContentWithMentionsReplaced())
	msg.Timestamp = m.Timestamp
	msg.Raw = map[string]any{"message_id": m.ID, "guild_id": m.GuildID}
	for _, att := range m.Attachments {
		msg.Images = append(msg.Images, att.URL)
	}

	h, _ := d.handler.Load().(channels.Handler)
	if h == nil {
		d.logger.Warn("discord message dropped, no handler installed")
		return
	}
	go h(context.Background(), msg)
}

func mentionsBot(m *discordgo.MessageCreate, botID string) bool {
	for _, u := range m.Mentions {
		if u.ID == botID {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// splitMessage breaks content into chunks of at most limit bytes, cutting
// on newlines where possible.
func splitMessage(content string, limit int) []string {
	if len(content) <= limit {
		return []string{content}
	}
	var chunks []string
	for len(content) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if content[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, content[:cut])
		content = content[cut:]
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}
