package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arachne-bridge/arachne/internal/config"
	"github.com/arachne-bridge/arachne/internal/controlplane"
	"github.com/arachne-bridge/arachne/internal/entity"
	"github.com/arachne-bridge/arachne/internal/gateway"
	"github.com/arachne-bridge/arachne/internal/keystore"
	"github.com/arachne-bridge/arachne/internal/queue"
	"github.com/arachne-bridge/arachne/internal/router"
	"github.com/arachne-bridge/arachne/internal/webhookmgr"
)

// runServe wires every component in the order Key Store → Entity Registry → Message Bus →
// Gateway adapter → Router → (gateway start) → Webhook Manager → control-plane HTTP server,
// then blocks until SIGINT/SIGTERM.
func runServe() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		return err
	}

	keys := keystore.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := entity.Open(ctx, cfg.DBPath, keys)
	if err != nil {
		logger.Error("entity registry open failed", "error", err)
		return err
	}
	registry.WithMaxActivePerOwner(cfg.MaxActiveEntitiesPerOwner)
	defer registry.Close()

	bus := queue.New(cfg.QueueTTL, cfg.QueueMaxLen, queue.DefaultSweepInterval, logger)
	bus.Start(ctx)
	defer bus.Stop()

	gw, err := gateway.New(cfg.BotToken, registry, logger)
	if err != nil {
		logger.Error("gateway construction failed", "error", err)
		return err
	}

	rt := router.New(registry, bus, keys, gw, ownerNotifierFor(gw), logger)
	gw.OnMessage(func(msg gateway.NormalisedMessage) {
		rt.Route(ctx, msg)
	})
	gw.OnReady(func() {
		logger.Info("bridge.ready")
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := gw.Start(ctx); err != nil {
		logger.Error("gateway start failed", "error", err)
		return err
	}

	// The webhook manager needs the bot's own user id to recognize webhooks it already
	// owns, which discordgo only exposes once the session handshake completes in Start.
	webhooks := webhookmgr.New(gw.Session(), gw.BotUserID(), logger)

	mux := http.NewServeMux()
	cp := controlplane.New(registry, bus, keys, webhooks, logger)
	cp.RegisterRoutes(mux)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ControlPort), Handler: mux}

	go func() {
		logger.Info("controlplane.listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("controlplane.listen_failed", "error", err)
		}
	}()

	<-sigCh
	logger.Info("shutdown.begin")

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	bus.Stop()
	gw.Stop(shutdownCtx)

	logger.Info("shutdown.complete")
	return nil
}

// ownerNotifierFor adapts the gateway's discordgo session into a router.OwnerNotifier that
// sends a direct message.
func ownerNotifierFor(gw *gateway.Gateway) router.OwnerNotifier {
	return &dmNotifier{gw: gw}
}

type dmNotifier struct {
	gw *gateway.Gateway
}

func (n *dmNotifier) NotifyOwner(ctx context.Context, ownerID string, note router.OwnerNotification) error {
	channel, err := n.gw.Session().UserChannelCreate(ownerID)
	if err != nil {
		return fmt.Errorf("open owner DM channel: %w", err)
	}
	content := fmt.Sprintf("**%s** was addressed in **%s** / #%s by %s:\n> %s\n%s",
		note.EntityName, note.ServerName, note.ChannelID, note.AuthorName, note.Preview, note.JumpLink)
	_, err = n.gw.Session().ChannelMessageSend(channel.ID, content)
	if err != nil {
		return fmt.Errorf("send owner DM: %w", err)
	}
	return nil
}
