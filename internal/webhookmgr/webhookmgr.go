// Package webhookmgr is the Webhook Manager: egress to Discord channels by impersonating an
// entity through a per-channel webhook, reusing one webhook per channel. Webhooks are cached
// behind an RWMutex keyed by channel id, and concurrent resolutions for the same channel
// collapse onto a single in-flight singleflight call.
package webhookmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/singleflight"
)

const webhookName = "Arachne Bridge"

// ErrForbidden is returned when the bot lacks permission to manage webhooks on a channel.
var ErrForbidden = errors.New("webhookmgr: forbidden")

// Session is the subset of the discordgo REST surface the manager consumes.
type Session interface {
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookThreadExecute(webhookID, token string, wait bool, threadID string, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Manager resolves, caches, and sends through per-channel webhooks.
type Manager struct {
	session   Session
	botUserID string
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]*discordgo.Webhook

	group singleflight.Group
}

func New(session Session, botUserID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		session:   session,
		botUserID: botUserID,
		logger:    logger,
		cache:     make(map[string]*discordgo.Webhook),
	}
}

// Send impersonates entityName on channelID via its resolved webhook.
func (m *Manager) Send(ctx context.Context, channelID, entityName, avatarURL, content, threadID string) error {
	wh, err := m.resolve(channelID)
	if err != nil {
		return err
	}

	if err := m.execute(wh, entityName, avatarURL, content, threadID); err != nil {
		if isUnknownWebhook(err) {
			m.invalidate(channelID)
			wh, err = m.resolve(channelID)
			if err != nil {
				return err
			}
			return m.execute(wh, entityName, avatarURL, content, threadID)
		}
		return fmt.Errorf("execute webhook: %w", err)
	}
	return nil
}

func (m *Manager) execute(wh *discordgo.Webhook, entityName, avatarURL, content, threadID string) error {
	params := &discordgo.WebhookParams{
		Content:   content,
		Username:  entityName,
		AvatarURL: avatarURL,
	}
	var err error
	if threadID != "" {
		_, err = m.session.WebhookThreadExecute(wh.ID, wh.Token, false, threadID, params)
	} else {
		_, err = m.session.WebhookExecute(wh.ID, wh.Token, false, params)
	}
	return err
}

// resolve returns the cached webhook for channelID, adopting or creating one if absent.
// Concurrent callers for the same channel collapse onto a single resolution.
func (m *Manager) resolve(channelID string) (*discordgo.Webhook, error) {
	m.mu.RLock()
	if wh, ok := m.cache[channelID]; ok {
		m.mu.RUnlock()
		return wh, nil
	}
	m.mu.RUnlock()

	v, err, _ := m.group.Do(channelID, func() (any, error) {
		m.mu.RLock()
		if wh, ok := m.cache[channelID]; ok {
			m.mu.RUnlock()
			return wh, nil
		}
		m.mu.RUnlock()
		return m.adoptOrCreate(channelID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*discordgo.Webhook), nil
}

func (m *Manager) adoptOrCreate(channelID string) (*discordgo.Webhook, error) {
	existing, err := m.session.ChannelWebhooks(channelID)
	if err != nil {
		if isForbidden(err) {
			return nil, fmt.Errorf("%w: cannot list webhooks on channel %s", ErrForbidden, channelID)
		}
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	for _, wh := range existing {
		if wh.User != nil && wh.User.ID == m.botUserID {
			m.store(channelID, wh)
			return wh, nil
		}
	}

	created, err := m.session.WebhookCreate(channelID, webhookName, "")
	if err != nil {
		if isForbidden(err) {
			return nil, fmt.Errorf("%w: cannot create webhook on channel %s", ErrForbidden, channelID)
		}
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	m.store(channelID, created)
	return created, nil
}

func (m *Manager) store(channelID string, wh *discordgo.Webhook) {
	m.mu.Lock()
	m.cache[channelID] = wh
	m.mu.Unlock()
}

func (m *Manager) invalidate(channelID string) {
	m.mu.Lock()
	delete(m.cache, channelID)
	m.mu.Unlock()
	m.logger.Info("webhookmgr.invalidated", "channel_id", channelID)
}

func isForbidden(err error) bool {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return rerr.Response.StatusCode == 403
	}
	return false
}

func isUnknownWebhook(err error) bool {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		return rerr.Message.Code == discordgo.ErrCodeUnknownWebhook
	}
	return false
}
