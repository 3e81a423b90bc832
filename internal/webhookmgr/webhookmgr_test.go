package webhookmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func bgCtx() context.Context { return context.Background() }

type fakeSession struct {
	mu sync.Mutex

	listCalls   int32
	createCalls int32
	existing    []*discordgo.Webhook
	created     *discordgo.Webhook

	lastExecuteParams *discordgo.WebhookParams
	lastThreadID      string
}

func (f *fakeSession) ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error) {
	atomic.AddInt32(&f.listCalls, 1)
	return f.existing, nil
}

func (f *fakeSession) WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error) {
	atomic.AddInt32(&f.createCalls, 1)
	return f.created, nil
}

func (f *fakeSession) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastExecuteParams = data
	f.lastThreadID = ""
	return &discordgo.Message{}, nil
}

func (f *fakeSession) WebhookThreadExecute(webhookID, token string, wait bool, threadID string, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastExecuteParams = data
	f.lastThreadID = threadID
	return &discordgo.Message{}, nil
}

func TestAdoptsExistingBotWebhook(t *testing.T) {
	sess := &fakeSession{
		existing: []*discordgo.Webhook{
			{ID: "wh1", Token: "tok1", User: &discordgo.User{ID: "bot-1"}},
		},
	}
	m := New(sess, "bot-1", nil)

	if err := m.Send(bgCtx(), "c1", "Bot", "", "hi", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sess.createCalls != 0 {
		t.Fatalf("createCalls = %d, want 0 (should adopt the existing bot-owned webhook)", sess.createCalls)
	}
}

func TestSendCreatesWebhookWhenNoneOwnedByBot(t *testing.T) {
	sess := &fakeSession{
		existing: nil,
		created:  &discordgo.Webhook{ID: "wh-new", Token: "tok-new"},
	}
	m := New(sess, "bot-1", nil)

	if err := m.Send(bgCtx(), "c1", "Bot", "", "hi", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sess.createCalls != 1 {
		t.Fatalf("createCalls = %d, want 1", sess.createCalls)
	}
	if sess.lastExecuteParams.Content != "hi" || sess.lastExecuteParams.Username != "Bot" {
		t.Fatalf("execute params = %+v", sess.lastExecuteParams)
	}
}

func TestSendReusesCachedWebhook(t *testing.T) {
	sess := &fakeSession{
		existing: []*discordgo.Webhook{{ID: "wh1", Token: "tok1", User: &discordgo.User{ID: "bot-1"}}},
	}
	m := New(sess, "bot-1", nil)

	if err := m.Send(bgCtx(), "c1", "Bot", "", "first", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := m.Send(bgCtx(), "c1", "Bot", "", "second", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sess.listCalls != 1 {
		t.Fatalf("listCalls = %d, want 1 (second send should hit cache)", sess.listCalls)
	}
}

func TestSendUsesThreadExecuteWhenThreadIDSet(t *testing.T) {
	sess := &fakeSession{
		existing: []*discordgo.Webhook{{ID: "wh1", Token: "tok1", User: &discordgo.User{ID: "bot-1"}}},
	}
	m := New(sess, "bot-1", nil)

	if err := m.Send(bgCtx(), "c1", "Bot", "", "hi", "thread-1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sess.lastThreadID != "thread-1" {
		t.Fatalf("lastThreadID = %q, want thread-1", sess.lastThreadID)
	}
}

func TestConcurrentResolveCollapsesToOneCreate(t *testing.T) {
	sess := &fakeSession{created: &discordgo.Webhook{ID: "wh-new", Token: "tok-new"}}
	m := New(sess, "bot-1", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Send(bgCtx(), "c1", "Bot", "", "hi", "")
		}()
	}
	wg.Wait()

	if sess.createCalls != 1 {
		t.Fatalf("createCalls = %d, want 1 (singleflight should collapse concurrent resolves)", sess.createCalls)
	}
}
