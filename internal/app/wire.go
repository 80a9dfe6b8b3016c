package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polysniper/internal/blob/s3"
	"github.com/alanyoungcy/polysniper/internal/cache/redis"
	"github.com/alanyoungcy/polysniper/internal/config"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/metrics"
	"github.com/alanyoungcy/polysniper/internal/notify"
	"github.com/alanyoungcy/polysniper/internal/recorder"
	"github.com/alanyoungcy/polysniper/internal/server/ws"
	"github.com/alanyoungcy/polysniper/internal/store/postgres"
	"github.com/alanyoungcy/polysniper/internal/store/sqlite"
)

// Dependencies bundles the infrastructure shared by every mode. Optional
// pieces are nil when their section is disabled.
type Dependencies struct {
	Metrics *metrics.Metrics

	// Journal is Postgres when enabled, otherwise SQLite when a path is
	// configured.
	Journal domain.JournalStore

	Redis  *redis.Client
	Bus    domain.EventBus
	Locks  domain.LockManager
	Mirror *redis.Mirror

	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
	Hub      *ws.Hub
}

// Sinks returns the recorder sinks for the wired infrastructure.
func (d *Dependencies) Sinks() []recorder.Sink {
	var sinks []recorder.Sink
	if d.Journal != nil {
		sinks = append(sinks, recorder.NewJournalSink(d.Journal))
	}
	if d.Bus != nil {
		sinks = append(sinks, recorder.NewBusSink(d.Bus))
	}
	if d.Notifier != nil && d.Notifier.Enabled() {
		sinks = append(sinks, d.Notifier)
	}
	if d.Hub != nil {
		sinks = append(sinks, d.Hub)
	}
	return sinks
}

// Wire constructs the infrastructure selected by cfg and returns it with a
// cleanup function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	// --- Journal ---
	switch {
	case cfg.Postgres.Enabled:
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Journal = postgres.NewJournalStore(pg.Pool())
		logger.InfoContext(ctx, "journal on postgres")
	case cfg.SQLite.Path != "":
		lite, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = lite.Close() })
		deps.Journal = lite
		logger.InfoContext(ctx, "journal on sqlite", slog.String("path", cfg.SQLite.Path))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Redis = rc
		deps.Bus = redis.NewEventBus(rc)
		deps.Locks = redis.NewLockManager(rc, logger)
		deps.Mirror = redis.NewMirror(
			redis.NewMarketCache(rc),
			redis.NewPriceCache(rc),
			cfg.Sniper.MirrorInterval.Duration,
			logger,
		)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		if deps.Journal == nil {
			return fail(fmt.Errorf("wire: s3 archive needs a journal (postgres or sqlite)"))
		}
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := sc.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, archiving will retry",
				slog.String("bucket", sc.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(sc),
			s3blob.NewReader(sc),
			deps.Journal,
			cfg.Sniper.ArchiveInterval.Duration,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(cfg.Mode, logger)
	}

	return deps, cleanup, nil
}
