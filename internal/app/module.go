// Package app собирает процесс чата: один экземпляр каждого сервиса на процесс,
// запуск и остановка фоновых циклов через fx.Lifecycle.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/chatcore/internal/access"
	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/events"
	"github.com/chatcore/internal/fanout"
	"github.com/chatcore/internal/handler"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/push"
	"github.com/chatcore/internal/repository"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/startup"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/storage/memory"
	redisstorage "github.com/chatcore/internal/storage/redis"
	"github.com/chatcore/internal/ws"
)

const connectWait = 60 * time.Second

// Params: флаги запуска.
type Params struct {
	// Dev поднимает встроенный PostgreSQL.
	Dev bool
	// Memory хранит всё в памяти процесса, без PostgreSQL.
	Memory bool
}

// Module собирает fx-модуль со всеми компонентами процесса чата.
func Module(p Params) fx.Option {
	return fx.Module("chatcore",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideStore,
			provideValidator,
			provideBus,
			provideService,
			provideHub,
			provideTransport,
			providePush,
			provideEmitter,
			provideSink,
			provideScheduler,
			provideRouter,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

// New собирает приложение с логированием событий fx через zap.
func New(p Params, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.L()}
		}),
		Module(p),
	}
	return fx.New(append(opts, extra...)...)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	logger.SetPrefix("api")
	return cfg, nil
}

func provideStore(lc fx.Lifecycle, p Params, cfg *config.Config) (storage.Store, error) {
	if p.Memory {
		logger.Info("storage: in-memory (data is lost on exit)")
		return memory.New(), nil
	}

	var embedded *embeddedpostgres.EmbeddedPostgres
	dsn := cfg.Database.URL
	if p.Dev {
		ec := startup.DefaultEmbedded()
		db, err := startup.StartEmbeddedPostgres(ec)
		if err != nil {
			return nil, err
		}
		embedded, dsn = db, ec.DSN()
	}

	pool, err := startup.ConnectDB(context.Background(), dsn, cfg.Database.MaxConnections, connectWait)
	if err != nil {
		stopEmbedded(embedded)
		return nil, err
	}
	if _, err := startup.Migrate(pool); err != nil {
		pool.Close()
		stopEmbedded(embedded)
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			stopEmbedded(embedded)
			return nil
		},
	})
	logger.Info("database connected, migrations applied")
	return repository.NewStore(pool), nil
}

func stopEmbedded(db *embeddedpostgres.EmbeddedPostgres) {
	if db == nil {
		return
	}
	logger.Info("stopping embedded postgres...")
	if err := db.Stop(); err != nil {
		logger.Errorf("embedded postgres stop: %v", err)
	}
}

func provideValidator(st storage.Store, cfg *config.Config) *access.Validator {
	return access.NewValidator(st, access.NewCache(cfg.AccessCache.TTL(), time.Now))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideService(st storage.Store, v *access.Validator, b *bus.Bus, cfg *config.Config) *service.Service {
	return service.New(st, v, b, cfg.Service())
}

func provideHub(svc *service.Service, cfg *config.Config) *ws.Hub {
	return ws.NewHub(svc, ws.HubConfig{
		MaxConns:     cfg.MaxWSConnections,
		InboundRPS:   cfg.RateLimit.WSRPS,
		InboundBurst: cfg.RateLimit.WSBurst,
	})
}

// provideTransport выбирает доставку: через Redis между процессами, если задан
// REDIS_URL, иначе только локальный hub.
func provideTransport(cfg *config.Config, hub *ws.Hub) (fanout.Transport, *redisstorage.Relay, error) {
	if cfg.RedisURL == "" {
		return hub, nil, nil
	}
	relay, err := startup.ConnectRelay(context.Background(), cfg.RedisURL, hub, connectWait)
	if err != nil {
		return nil, nil, err
	}
	return relay, relay, nil
}

func providePush(cfg *config.Config) *push.Client {
	return push.NewClient(push.Config{BaseURL: cfg.PushServiceURL})
}

func provideEmitter(b *bus.Bus, transport fanout.Transport, hub *ws.Hub, pc *push.Client, cfg *config.Config) *fanout.Emitter {
	var notifier fanout.Notifier
	if pc.Enabled() {
		notifier = pc
	}
	return fanout.New(b, transport, hub, notifier, cfg.BusBuffer)
}

// provideSink возвращает nil, если KAFKA_BROKERS не задан.
func provideSink(b *bus.Bus, cfg *config.Config) *events.Sink {
	brokers := cfg.Kafka.BrokerList()
	if len(brokers) == 0 {
		return nil
	}
	logger.Infof("event export to kafka topic=%s brokers=%v", cfg.Kafka.Topic, brokers)
	return events.NewSink(b, events.NewWriter(brokers, cfg.Kafka.Topic), cfg.BusBuffer)
}

func provideScheduler(v *access.Validator, cfg *config.Config) (*cron.Cron, error) {
	c := cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(logger.L()))))
	if _, err := c.AddFunc(cfg.AccessCache.Sweep, v.Sweep); err != nil {
		return nil, err
	}
	return c, nil
}

func provideRouter(cfg *config.Config, svc *service.Service, v *access.Validator, hub *ws.Hub) http.Handler {
	return handler.NewRouter(handler.RouterConfig{
		Service:            svc,
		Resolver:           v,
		Hub:                hub,
		Authenticate:       middleware.AuthServiceValidate(cfg.AuthServiceURL, nil),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimit.RPS,
		RateLimitBurst:     cfg.RateLimit.Burst,
		InternalSecret:     cfg.InternalSecret,
	})
}

func provideServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

type lifecycleParams struct {
	fx.In

	LC        fx.Lifecycle
	Server    *http.Server
	Hub       *ws.Hub
	Relay     *redisstorage.Relay
	Emitter   *fanout.Emitter
	Sink      *events.Sink
	Scheduler *cron.Cron
}

func registerLifecycle(p lifecycleParams) {
	// Hub и relay живут до отмены ctx; emitter и sink дочитывают свои
	// подписки после отписки и выходят сами.
	ctx, cancel := context.WithCancel(context.Background())
	drainCtx, cancelDrain := context.WithCancel(context.Background())
	var loops, drainers sync.WaitGroup
	spawn := func(wg *sync.WaitGroup, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			spawn(&loops, func() { p.Hub.Run(ctx) })
			if p.Relay != nil {
				spawn(&loops, func() {
					if err := p.Relay.Run(ctx); err != nil {
						logger.Errorf("redis relay stopped: %v", err)
					}
				})
			}
			spawn(&drainers, func() { p.Emitter.Run(drainCtx) })
			if p.Sink != nil {
				spawn(&drainers, func() { p.Sink.Run(drainCtx) })
			}
			p.Scheduler.Start()

			ln, err := net.Listen("tcp", p.Server.Addr)
			if err != nil {
				cancel()
				cancelDrain()
				return err
			}
			go func() {
				logger.Infof("server listening on %s", p.Server.Addr)
				if err := p.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("server error: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if err := p.Server.Shutdown(stopCtx); err != nil {
				logger.Errorf("server shutdown: %v", err)
			}
			logger.Info("server stopped accepting connections")
			<-p.Scheduler.Stop().Done()

			p.Emitter.Stop()
			if p.Sink != nil {
				p.Sink.Stop()
			}
			if !waitOrCancel(stopCtx, &drainers, cancelDrain) {
				logger.Warnf("event queues not drained before shutdown deadline")
			}
			cancel()
			loops.Wait()
			logger.Info("hub stopped")

			if p.Sink != nil {
				if err := p.Sink.Close(); err != nil {
					logger.Errorf("kafka writer close: %v", err)
				}
			}
			if p.Relay != nil {
				if err := p.Relay.Close(); err != nil {
					logger.Errorf("redis close: %v", err)
				}
			}
			logger.Sync()
			return nil
		},
	})
}

// waitOrCancel ждёт wg; если ctx истёк раньше, вызывает cancel и дожидается выхода.
func waitOrCancel(ctx context.Context, wg *sync.WaitGroup, cancel context.CancelFunc) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		return true
	case <-ctx.Done():
		cancel()
		<-done
		return false
	}
}

// RunMigrations применяет миграции и выходит (флаг -migrate).
func RunMigrations(ctx context.Context, dsn string, maxConns int) error {
	pool, err := startup.ConnectDB(ctx, dsn, maxConns, connectWait)
	if err != nil {
		return err
	}
	defer pool.Close()
	_, err = startup.Migrate(pool)
	return err
}
