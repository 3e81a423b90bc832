// Package router implements the Router: for each NormalisedMessage it decides which
// entities should receive it, computes per-entity addressed/triggered flags, and pushes to
// the Message Bus. Each subscriber runs through a sequential pipeline of policy checks —
// blocked-channel, trigger match, addressed-by-mention, watch-channel filter — before the
// message reaches the bus.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arachne-bridge/arachne/internal/cryptobox"
	"github.com/arachne-bridge/arachne/internal/entity"
	"github.com/arachne-bridge/arachne/internal/gateway"
	"github.com/arachne-bridge/arachne/internal/queue"
)

// Registry is the subset of entity.Registry the Router consumes.
type Registry interface {
	GetEntitiesForChannel(ctx context.Context, serverID, channelID string) ([]entity.EntityWithServer, error)
	GetRoleEntityMap(ctx context.Context, serverID string) (map[string]string, error)
}

// Bus is the subset of queue.Bus the Router consumes.
type Bus interface {
	Push(entityID string, msg queue.Message, key *[cryptobox.KeySize]byte) error
}

// KeyLookup is the subset of keystore.Store the Router consumes.
type KeyLookup interface {
	Get(entityID string) ([cryptobox.KeySize]byte, bool)
}

// ChannelNamer resolves display names for the channel-name-resolution step.
type ChannelNamer interface {
	ChannelName(channelID string) string
	ServerName(serverID string) string
}

// OwnerNotifier delivers the fire-and-forget owner notification.
type OwnerNotifier interface {
	NotifyOwner(ctx context.Context, ownerID string, n OwnerNotification) error
}

// OwnerNotification is the payload sent to an entity owner when addressed/triggered and the
// corresponding notify flag is set.
type OwnerNotification struct {
	EntityName string
	ServerName string
	ChannelID  string
	AuthorName string
	Preview    string
	JumpLink   string
}

// Router wires the Registry, Bus, Key Store, and Gateway into the per-message decision
// pipeline.
type Router struct {
	registry Registry
	bus      Bus
	keys     KeyLookup
	names    ChannelNamer
	notifier OwnerNotifier
	logger   *slog.Logger
}

func New(registry Registry, bus Bus, keys KeyLookup, names ChannelNamer, notifier OwnerNotifier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, bus: bus, keys: keys, names: names, notifier: notifier, logger: logger}
}

// Route evaluates msg against every subscriber of its server/channel and pushes to the
// Message Bus, in Gateway observation order.
func (r *Router) Route(ctx context.Context, msg gateway.NormalisedMessage) {
	if msg.AuthorIsBot || msg.WebhookID != "" || msg.Content == "" {
		return
	}

	subscribers, err := r.registry.GetEntitiesForChannel(ctx, msg.ServerID, msg.ChannelID)
	if err != nil {
		r.logger.Warn("router.subscriber_lookup_failed", "server_id", msg.ServerID, "channel_id", msg.ChannelID, "error", err)
		return
	}
	if len(subscribers) == 0 {
		return
	}

	var roleMap map[string]string
	if len(msg.MentionedRoleIDs) > 0 {
		roleMap, err = r.registry.GetRoleEntityMap(ctx, msg.ServerID)
		if err != nil {
			r.logger.Warn("router.role_map_failed", "server_id", msg.ServerID, "error", err)
		}
	}

	for _, sub := range subscribers {
		r.evaluate(ctx, msg, sub, roleMap)
	}
}

func (r *Router) evaluate(ctx context.Context, msg gateway.NormalisedMessage, sub entity.EntityWithServer, roleMap map[string]string) {
	if contains(sub.BlockedChannels, msg.ChannelID) {
		return
	}

	triggered := matchesAnyTrigger(sub.Triggers, msg.Content)
	addressed := addressedTo(sub.EntityID, msg.MentionedRoleIDs, roleMap)

	if len(sub.WatchChannels) > 0 && !contains(sub.WatchChannels, msg.ChannelID) && !triggered && !addressed {
		return
	}

	channelName := msg.ChannelID
	if r.names != nil {
		channelName = r.names.ChannelName(msg.ChannelID)
	}

	qm := queue.Message{
		MessageID:   msg.MessageID,
		ChannelID:   msg.ChannelID,
		ChannelName: channelName,
		ServerID:    msg.ServerID,
		AuthorID:    msg.AuthorID,
		AuthorName:  msg.AuthorDisplayName,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
		Addressed:   addressed,
		Triggered:   triggered,
	}

	var key *[cryptobox.KeySize]byte
	if r.keys != nil {
		if k, ok := r.keys.Get(sub.ID); ok {
			key = &k
		}
	}

	if err := r.bus.Push(sub.ID, qm, key); err != nil {
		r.logger.Warn("router.push_failed", "entity_id", sub.ID, "error", err)
		return
	}

	r.maybeNotifyOwner(ctx, msg, sub, addressed, triggered, channelName)
}

func (r *Router) maybeNotifyOwner(ctx context.Context, msg gateway.NormalisedMessage, sub entity.EntityWithServer, addressed, triggered bool, channelName string) {
	if r.notifier == nil || sub.OwnerID == "" {
		return
	}
	shouldNotify := (addressed && sub.NotifyOnMention) || (triggered && sub.NotifyOnTrigger)
	if !shouldNotify {
		return
	}

	serverName := msg.ServerID
	if r.names != nil {
		serverName = r.names.ServerName(msg.ServerID)
	}

	n := OwnerNotification{
		EntityName: sub.DisplayName,
		ServerName: serverName,
		ChannelID:  channelName,
		AuthorName: msg.AuthorDisplayName,
		Preview:    truncate(msg.Content, 200),
		JumpLink:   fmt.Sprintf("https://discord.com/channels/%s/%s/%s", msg.ServerID, msg.ChannelID, msg.MessageID),
	}

	// Fire-and-forget: failures are logged, never propagated.
	go func() {
		if err := r.notifier.NotifyOwner(context.WithoutCancel(ctx), sub.OwnerID, n); err != nil {
			r.logger.Warn("router.owner_notify_failed", "entity_id", sub.ID, "owner_id", sub.OwnerID, "error", err)
		}
	}()
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func matchesAnyTrigger(triggers []string, content string) bool {
	if len(triggers) == 0 {
		return false
	}
	lower := strings.ToLower(content)
	for _, t := range triggers {
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func addressedTo(entityID string, mentionedRoleIDs []string, roleMap map[string]string) bool {
	if len(mentionedRoleIDs) == 0 || roleMap == nil {
		return false
	}
	for _, roleID := range mentionedRoleIDs {
		if roleMap[roleID] == entityID {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
