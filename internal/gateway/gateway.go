// Package gateway wraps the Discord gateway connection: it owns the discordgo session,
// normalises inbound events into a stable in-process shape, deduplicates replayed message
// ids, and auto-leaves banned servers.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// NormalisedMessage is the Gateway's stable event shape, independent of discordgo types.
type NormalisedMessage struct {
	MessageID         string
	ChannelID         string
	ServerID          string
	AuthorID          string
	AuthorDisplayName string
	AuthorIsBot       bool
	WebhookID         string
	Content           string
	Timestamp         time.Time
	MentionedRoleIDs  []string
	ReplyToMessageID  string
}

// BanChecker reports whether a server is under a standing ban. Satisfied by
// entity.Registry.IsServerBanned.
type BanChecker interface {
	IsServerBanned(ctx context.Context, serverID string) (bool, error)
}

const dedupCapacity = 100

// Gateway owns the Discord session and its event surface.
type Gateway struct {
	session *discordgo.Session
	bans    BanChecker
	logger  *slog.Logger

	dedupMu   sync.Mutex
	dedupSet  map[string]struct{}
	dedupFIFO []string

	botUserID string

	onReady       func()
	readyOnce     sync.Once
	onMessage     func(NormalisedMessage)
	onGuildCreate func(serverID string)

	running bool
	mu      sync.Mutex
}

// New constructs a Gateway bound to token, with bans consulted on guildCreate.
func New(token string, bans BanChecker, logger *slog.Logger) (*Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		session:  session,
		bans:     bans,
		logger:   logger,
		dedupSet: make(map[string]struct{}, dedupCapacity),
	}, nil
}

// OnReady registers the handler fired once after the first connect completes. Must be
// called before Start.
func (g *Gateway) OnReady(fn func()) { g.onReady = fn }

// OnMessage registers the handler fired for each admitted NormalisedMessage.
func (g *Gateway) OnMessage(fn func(NormalisedMessage)) { g.onMessage = fn }

// OnGuildCreate registers the handler fired when the bot joins or observes a server, after
// the ban check (banned servers are left silently and never reach this handler).
func (g *Gateway) OnGuildCreate(fn func(serverID string)) { g.onGuildCreate = fn }

// Start opens the gateway connection and begins receiving events.
func (g *Gateway) Start(ctx context.Context) error {
	g.session.AddHandler(g.handleReady)
	g.session.AddHandler(g.handleMessageCreate)
	g.session.AddHandler(g.handleGuildCreate)

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := g.session.User("@me")
	if err != nil {
		g.session.Close()
		return fmt.Errorf("fetch bot identity: %w", err)
	}
	g.botUserID = user.ID

	g.mu.Lock()
	g.running = true
	g.mu.Unlock()

	g.logger.Info("gateway.connected", "bot_user_id", user.ID, "username", user.Username)
	return nil
}

// Stop closes the gateway connection. Synchronous and idempotent.
func (g *Gateway) Stop(_ context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	g.mu.Unlock()

	g.logger.Info("gateway.disconnecting")
	return g.session.Close()
}

func (g *Gateway) handleReady(_ *discordgo.Session, _ *discordgo.Ready) {
	g.readyOnce.Do(func() {
		if g.onReady != nil {
			g.onReady()
		}
	})
}

func (g *Gateway) handleGuildCreate(s *discordgo.Session, gc *discordgo.GuildCreate) {
	if g.bans != nil {
		banned, err := g.bans.IsServerBanned(context.Background(), gc.Guild.ID)
		if err != nil {
			g.logger.Warn("gateway.ban_check_failed", "server_id", gc.Guild.ID, "error", err)
		} else if banned {
			g.logger.Info("gateway.auto_leave", "server_id", gc.Guild.ID)
			if err := s.GuildLeave(gc.Guild.ID); err != nil {
				g.logger.Warn("gateway.auto_leave_failed", "server_id", gc.Guild.ID, "error", err)
			}
			return
		}
	}
	if g.onGuildCreate != nil {
		g.onGuildCreate(gc.Guild.ID)
	}
}

func (g *Gateway) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	// Direct (non-server) messages are out of scope and dropped.
	if m.GuildID == "" {
		return
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return
	}
	if !g.admitOnce(m.ID) {
		return
	}

	msg := NormalisedMessage{
		MessageID:         m.ID,
		ChannelID:         m.ChannelID,
		ServerID:          m.GuildID,
		AuthorDisplayName: resolveDisplayName(m),
		Content:           m.Content,
		Timestamp:         m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorIsBot = m.Author.Bot
	}
	if m.WebhookID != "" {
		msg.WebhookID = m.WebhookID
	}
	if m.MessageReference != nil {
		msg.ReplyToMessageID = m.MessageReference.MessageID
	}
	for _, id := range m.MentionRoles {
		msg.MentionedRoleIDs = append(msg.MentionedRoleIDs, id)
	}

	if g.onMessage != nil {
		g.onMessage(msg)
	}
}

// admitOnce reports whether id has not been seen in the last dedupCapacity message ids,
// recording it if so.
func (g *Gateway) admitOnce(id string) bool {
	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()

	if _, seen := g.dedupSet[id]; seen {
		return false
	}
	if len(g.dedupFIFO) >= dedupCapacity {
		oldest := g.dedupFIFO[0]
		g.dedupFIFO = g.dedupFIFO[1:]
		delete(g.dedupSet, oldest)
	}
	g.dedupSet[id] = struct{}{}
	g.dedupFIFO = append(g.dedupFIFO, id)
	return true
}

// ChannelName resolves a channel's display name from the session's local state cache,
// falling back to the id on a cache miss.
func (g *Gateway) ChannelName(channelID string) string {
	ch, err := g.session.State.Channel(channelID)
	if err != nil || ch == nil || ch.Name == "" {
		return channelID
	}
	return ch.Name
}

// ServerName resolves a server's display name, falling back to the id.
func (g *Gateway) ServerName(serverID string) string {
	gld, err := g.session.State.Guild(serverID)
	if err != nil || gld == nil || gld.Name == "" {
		return serverID
	}
	return gld.Name
}

// BotUserID returns the authenticated bot's user id, populated after Start.
func (g *Gateway) BotUserID() string { return g.botUserID }

// Session exposes the underlying discordgo session for components that need direct REST
// access (the Webhook Manager, owner-DM notifications).
func (g *Gateway) Session() *discordgo.Session { return g.session }

// resolveDisplayName returns the best available display name for a message author.
// Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author != nil {
		if m.Author.GlobalName != "" {
			return m.Author.GlobalName
		}
		return m.Author.Username
	}
	return ""
}
