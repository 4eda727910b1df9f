// Package discord connects the ticket workflow to a Discord guild through
// discordgo: it creates and removes private ticket channels, posts messages
// and routes inbound messages either to the ticket command or to the waiting
// conversation.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Scripto81/Discordbottytyty/internal/chat"
	"github.com/Scripto81/Discordbottytyty/internal/domain"
	"github.com/Scripto81/Discordbottytyty/internal/tickets"
)

// transferCommand opens a rank-transfer ticket, after the prefix.
const transferCommand = "transfer"

const ticketPerms = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory

var inboundMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "discord_inbound_messages_total",
	Help: "Inbound guild messages by routing result.",
}, []string{"route"})

func init() {
	prometheus.MustRegister(inboundMessages)
}

// TicketOpener starts a ticket for a requester.
type TicketOpener interface {
	Open(ctx context.Context, guildID, requesterID string) (*domain.Ticket, error)
}

// restAPI is the subset of *discordgo.Session the bot calls.
type restAPI interface {
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Options configures a Bot.
type Options struct {
	CommandPrefix string
	// CategoryID, when set, parents every ticket channel.
	CategoryID   string
	StaffRoleIDs []string
}

// Bot is the Discord side of the workflow.
type Bot struct {
	session *discordgo.Session
	api     restAPI
	inbox   *chat.Inbox
	opts    Options

	mu        sync.RWMutex
	opener    TicketOpener
	botUserID string
}

// New creates a bot for token. The gateway connection is opened by Run.
func New(token string, inbox *chat.Inbox, opts Options) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	b := newBot(s, inbox, opts)
	b.session = s
	s.AddHandler(b.onMessageCreate)
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.setBotUser(r.User.ID)
		log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord ready")
	})
	discordgo.Logger = logDiscordgo
	return b, nil
}

func newBot(api restAPI, inbox *chat.Inbox, opts Options) *Bot {
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "-"
	}
	return &Bot{api: api, inbox: inbox, opts: opts}
}

// SetOpener installs the ticket manager. It must be called before Run.
func (b *Bot) SetOpener(o TicketOpener) {
	b.mu.Lock()
	b.opener = o
	b.mu.Unlock()
}

func (b *Bot) setBotUser(id string) {
	b.mu.Lock()
	b.botUserID = id
	b.mu.Unlock()
}

// Run opens the gateway connection and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if b.session == nil {
		return errors.New("discord: no gateway session")
	}
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	if u := b.session.State.User; u != nil {
		b.setBotUser(u.ID)
	}
	<-ctx.Done()
	if err := b.session.Close(); err != nil {
		log.Warn().Err(err).Msg("discord close")
	}
	return nil
}

// OpenTicketChannel creates a text channel visible only to the requester,
// the staff roles and the bot.
func (b *Bot) OpenTicketChannel(ctx context.Context, guildID, requesterID string) (string, error) {
	b.mu.RLock()
	botID := b.botUserID
	b.mu.RUnlock()

	overwrites := []*discordgo.PermissionOverwrite{
		// the @everyone role shares the guild id
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: requesterID, Type: discordgo.PermissionOverwriteTypeMember, Allow: ticketPerms},
	}
	for _, role := range b.opts.StaffRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID: role, Type: discordgo.PermissionOverwriteTypeRole, Allow: ticketPerms,
		})
	}
	if botID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID: botID, Type: discordgo.PermissionOverwriteTypeMember,
			Allow: ticketPerms | discordgo.PermissionManageChannels,
		})
	}

	ch, err := b.api.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 "transfer-" + requesterID,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                "Rank transfer for <@" + requesterID + ">",
		ParentID:             b.opts.CategoryID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create ticket channel: %w", err)
	}
	return ch.ID, nil
}

// Post sends text into channelID.
func (b *Bot) Post(ctx context.Context, channelID, text string) error {
	if _, err := b.api.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("post to %s: %w", channelID, err)
	}
	return nil
}

// CloseChannel deletes a ticket channel.
func (b *Bot) CloseChannel(ctx context.Context, channelID string) error {
	if _, err := b.api.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete channel %s: %w", channelID, err)
	}
	return nil
}

// inbound is the part of a gateway message the router looks at.
type inbound struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	Bot       bool
	Content   string
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b.route(ctx, inbound{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Bot:       m.Author.Bot,
		Content:   m.Content,
	})
}

// route handles one inbound message: the transfer command opens a ticket,
// anything else is offered to a waiting conversation and otherwise dropped.
func (b *Bot) route(ctx context.Context, m inbound) {
	if m.Bot {
		inboundMessages.WithLabelValues("bot").Inc()
		return
	}
	content := strings.TrimSpace(m.Content)

	if m.GuildID != "" && strings.EqualFold(content, b.opts.CommandPrefix+transferCommand) {
		inboundMessages.WithLabelValues("command").Inc()
		b.openTicket(ctx, m)
		return
	}

	if b.inbox.Deliver(m.ChannelID, m.AuthorID, content) {
		inboundMessages.WithLabelValues("delivered").Inc()
		return
	}
	inboundMessages.WithLabelValues("ignored").Inc()
}

func (b *Bot) openTicket(ctx context.Context, m inbound) {
	b.mu.RLock()
	opener := b.opener
	b.mu.RUnlock()
	if opener == nil {
		log.Error().Msg("transfer command received before the ticket manager was installed")
		return
	}

	var reply string
	t, err := opener.Open(ctx, m.GuildID, m.AuthorID)
	switch {
	case err == nil:
		reply = fmt.Sprintf("<@%s> your rank-transfer ticket is open: <#%s>", m.AuthorID, t.ChannelID)
	case errors.Is(err, tickets.ErrTicketAlreadyOpen):
		reply = fmt.Sprintf("<@%s> you already have an open rank-transfer ticket. Finish it first.", m.AuthorID)
	default:
		log.Error().Err(err).Str("requester_id", m.AuthorID).Str("guild_id", m.GuildID).Msg("ticket not opened")
		reply = fmt.Sprintf("<@%s> the ticket could not be opened right now. Try again later.", m.AuthorID)
	}
	if err := b.Post(ctx, m.ChannelID, reply); err != nil {
		log.Warn().Err(err).Msg("command reply not sent")
	}
}

// logDiscordgo forwards discordgo's internal log lines to zerolog.
func logDiscordgo(msgL, _ int, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	switch msgL {
	case discordgo.LogError:
		log.Error().Str("component", "discordgo").Msg(msg)
	case discordgo.LogWarning:
		log.Warn().Str("component", "discordgo").Msg(msg)
	case discordgo.LogInformational:
		log.Info().Str("component", "discordgo").Msg(msg)
	default:
		log.Debug().Str("component", "discordgo").Msg(msg)
	}
}
