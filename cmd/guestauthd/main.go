// Command guestauthd serves the guestbook authentication API.
//
// With -dev it runs against an in-process redis and in-memory stores, logs
// emailed codes instead of sending them and generates any missing secrets.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/httpapi"
	"github.com/MrEthical07/guestauth/internal/config"
	"github.com/MrEthical07/guestauth/internal/logging"
	otelexport "github.com/MrEthical07/guestauth/metrics/export/otel"
	promexport "github.com/MrEthical07/guestauth/metrics/export/prometheus"
	"github.com/MrEthical07/guestauth/storage/memory"
	"github.com/MrEthical07/guestauth/storage/postgres"
	"github.com/MrEthical07/guestauth/twofactor"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "guestauthd stopped", "error", err)
		os.Exit(1)
	}
}

// app holds what run has to release on exit.
type app struct {
	engine  *guestauth.Engine
	redis   redis.UniversalClient
	db      *postgres.DB
	mr      *miniredis.Miniredis
	metrics *otelexport.Exporter
}

func (a *app) close() {
	if a.metrics != nil {
		_ = a.metrics.Close()
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.mr != nil {
		a.mr.Close()
	}
}

func run(ctx context.Context, cfg *config.Config, log *logging.SlogLogger) error {
	a := &app{}
	defer a.close()

	b := guestauth.New().WithLogger(log.Slog())

	if cfg.Dev {
		if err := fillDevSecrets(cfg); err != nil {
			return err
		}
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		a.mr = mr
		a.redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		b.WithUserStore(memory.NewUserStore())
		log.Warn(ctx, "development mode: state is in memory and codes are logged", "redis", mr.Addr())
	} else {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		db, err := postgres.Open(ctx, cfg.DatabaseDSN, postgres.PoolConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err != nil {
			return err
		}
		a.db = db
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		b.WithUserStore(db.Users()).
			WithTwoFactorStore(db.TwoFactor()).
			WithAPITokenStore(db.APITokens())
	}

	b.WithConfig(cfg.Engine()).
		WithRedis(a.redis).
		WithCodeSender(codeSender(cfg.Dev, log))
	if cfg.Audit {
		b.WithAuditSink(guestauth.NewJSONWriterSink(os.Stdout))
	}

	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	a.engine = engine

	opts := httpapi.Options{
		SecureCookies:  cfg.Production,
		TrustProxy:     cfg.TrustProxy,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if cfg.Metrics {
		opts.Metrics = promexport.NewExporter(engine).Handler()
		exp, err := otelexport.NewExporter(otel.Meter("guestauth"), engine)
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		a.metrics = exp
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.New(engine, log, opts).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "listening", "addr", cfg.HTTPAddr, "dev", cfg.Dev)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// codeSender logs codes in development. There is no mail transport yet, so
// outside development every delivery fails loudly.
func codeSender(dev bool, log logging.Logger) twofactor.Sender {
	if dev {
		return twofactor.SenderFunc(func(ctx context.Context, email string, purpose twofactor.Purpose, code string) error {
			log.Info(ctx, "email code", "email", email, "purpose", string(purpose), "code", code)
			return nil
		})
	}
	return twofactor.SenderFunc(func(ctx context.Context, email string, purpose twofactor.Purpose, _ string) error {
		log.Warn(ctx, "no mail transport configured", "purpose", string(purpose))
		return errors.New("mail delivery not configured")
	})
}

func fillDevSecrets(cfg *config.Config) error {
	for _, s := range []*string{&cfg.JWTSecret, &cfg.CSRFSecret, &cfg.CodePepper} {
		if *s != "" {
			continue
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		*s = hex.EncodeToString(buf)
	}
	return nil
}
