package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/api"
	"github.com/matheus3301/desk/internal/backend"
	"github.com/matheus3301/desk/internal/bus"
	"github.com/matheus3301/desk/internal/config"
	"github.com/matheus3301/desk/internal/lock"
	"github.com/matheus3301/desk/internal/logging"
	"github.com/matheus3301/desk/internal/session"
	"github.com/matheus3301/desk/internal/status"
	intsync "github.com/matheus3301/desk/internal/sync"
	"github.com/matheus3301/desk/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	// Connect forces auto_connect on for this run.
	Connect bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideProfile,
			provideBackend,
			provideTransport,
			provideEngine,
			provideConsoleService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideProfile(p Params, logger *zap.Logger) (*config.Profile, error) {
	global, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadProfile(session.ProfilePath(p.Profile), global)
	if err != nil {
		return nil, err
	}
	if p.Connect {
		cfg.AutoConnect = true
	}
	logger.Info("profile loaded",
		zap.String("api_url", cfg.APIURL),
		zap.String("push_url", cfg.PushURL),
		zap.Int("page_size", cfg.PageSize),
		zap.Bool("auto_connect", cfg.AutoConnect))
	return cfg, nil
}

func provideBackend(cfg *config.Profile) *backend.Client {
	return backend.New(cfg.APIURL, cfg.Token, cfg.RequestTimeout)
}

func provideTransport(cfg *config.Profile, m *status.Machine, logger *zap.Logger) *transport.Manager {
	return transport.New(transport.Options{
		URL:         cfg.PushURL,
		Token:       cfg.Token,
		Heartbeat:   cfg.HeartbeatInterval,
		DialTimeout: cfg.RequestTimeout,
	}, m, logger)
}

func provideEngine(cfg *config.Profile, client *backend.Client, tr *transport.Manager, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(intsync.Options{
		PageSize:        cfg.PageSize,
		ReconcileWindow: cfg.ReconcileWindow,
		AutoConnect:     cfg.AutoConnect,
	}, client, tr, b, logger)
}

func provideConsoleService(p Params, engine *intsync.Engine, b *bus.Bus) *api.ConsoleService {
	return api.NewConsoleService(p.Profile, engine, b)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, engine *intsync.Engine, tr *transport.Manager, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Loads conversations and, when configured, connects the push transport.
			engine.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			engine.Stop()
			tr.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
