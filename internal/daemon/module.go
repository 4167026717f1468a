package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/courtdesk/courtdesk/internal/api"
	"github.com/courtdesk/courtdesk/internal/auth"
	"github.com/courtdesk/courtdesk/internal/bus"
	"github.com/courtdesk/courtdesk/internal/chat"
	"github.com/courtdesk/courtdesk/internal/config"
	"github.com/courtdesk/courtdesk/internal/court"
	"github.com/courtdesk/courtdesk/internal/lock"
	"github.com/courtdesk/courtdesk/internal/logging"
	"github.com/courtdesk/courtdesk/internal/notify"
	"github.com/courtdesk/courtdesk/internal/profile"
	"github.com/courtdesk/courtdesk/internal/socket"
	"github.com/courtdesk/courtdesk/internal/store"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	ConfigPath string // optional override; empty = ~/.courtdesk/config.toml
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideTokens,
			provideCourtClient,
			provideFeed,
			provideChatManager,
			provideSessionService,
			provideNotificationService,
			provideChatService,
			provideEventService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore opens local storage once the lock is held. Session-scoped
// values do not outlive a daemon run.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StoragePath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	n, err := db.ClearScope(store.Session)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath), zap.Int64("session_keys_cleared", n))
	return db, nil
}

func provideTokens(db *store.DB, logger *zap.Logger) *auth.Tokens {
	return auth.New(db, logger.Named("auth"))
}

func provideCourtClient(cfg *config.Config, tokens *auth.Tokens, logger *zap.Logger) *court.Client {
	return court.New(cfg.APIBaseURL, tokens, cfg.RequestTimeout.D(), logger)
}

func socketOptions(cfg *config.Config, b *bus.Bus) socket.Options {
	return socket.Options{
		ReconnectDelay:    cfg.Reconnect.Delay.D(),
		MaxReconnectDelay: cfg.Reconnect.MaxDelay.D(),
		Bus:               b,
	}
}

// The court client doubles as the push token source so a rejected socket
// handshake refreshes the access token.
func provideFeed(cfg *config.Config, client *court.Client, b *bus.Bus, logger *zap.Logger) *notify.Feed {
	return notify.NewFeed(client, client, notify.Options{
		WSBaseURL: cfg.WSBaseURL,
		Socket:    socketOptions(cfg, b),
		Bus:       b,
	}, logger)
}

func provideChatManager(cfg *config.Config, client *court.Client, b *bus.Bus, logger *zap.Logger) *chat.Manager {
	return chat.NewManager(client, client, chat.Options{
		WSBaseURL:    cfg.WSBaseURL,
		Transport:    cfg.Chat.Transport,
		SendVia:      cfg.Chat.SendVia,
		PollInterval: cfg.Chat.PollInterval.D(),
		Socket:       socketOptions(cfg, b),
		Bus:          b,
	}, logger)
}

func provideSessionService(p Params, tokens *auth.Tokens, client *court.Client, feed *notify.Feed, mgr *chat.Manager, b *bus.Bus, logger *zap.Logger) *api.SessionService {
	return api.NewSessionService(p.Profile, tokens, client, feed, mgr, b, logger)
}

func provideNotificationService(cfg *config.Config, feed *notify.Feed) *api.NotificationService {
	return api.NewNotificationService(feed, cfg.Location())
}

func provideChatService(cfg *config.Config, mgr *chat.Manager) *api.ChatService {
	return api.NewChatService(mgr, cfg.Location())
}

func provideEventService(p Params, b *bus.Bus, logger *zap.Logger) *api.EventService {
	return api.NewEventService(b, p.Profile, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, tokens *auth.Tokens, feed *notify.Feed, mgr *chat.Manager, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if _, err := tokens.Token(context.Background()); err != nil {
				logger.Info("no credentials found, login required")
				return nil
			}
			go feed.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.Close()
			feed.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
