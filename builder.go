package guestauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/guestauth/apitoken"
	"github.com/MrEthical07/guestauth/csrf"
	internalaudit "github.com/MrEthical07/guestauth/internal/audit"
	"github.com/MrEthical07/guestauth/internal/limiters"
	"github.com/MrEthical07/guestauth/internal/logging"
	"github.com/MrEthical07/guestauth/jwt"
	"github.com/MrEthical07/guestauth/password"
	"github.com/MrEthical07/guestauth/ratecounter"
	"github.com/MrEthical07/guestauth/session"
	"github.com/MrEthical07/guestauth/twofactor"
)

// dummyPassword is hashed once at build time so logins for unknown emails
// pay the same scrypt cost as real ones.
const dummyPassword = "guestauth-timing-equalizer"

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users          UserStore
	twoFactorStore twofactor.Store
	tokenStore     apitoken.Store
	sender         twofactor.Sender
	counter        ratecounter.Counter
	registry       *apitoken.Registry
	auditSink      AuditSink
	logger         logging.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions, challenges and email codes.
// It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the credential store. It is required.
func (b *Builder) WithUserStore(s UserStore) *Builder {
	b.users = s
	return b
}

// WithTwoFactorStore sets durable two-factor storage. Defaults to memory.
func (b *Builder) WithTwoFactorStore(s twofactor.Store) *Builder {
	b.twoFactorStore = s
	return b
}

// WithAPITokenStore sets durable app and token storage. Defaults to memory.
func (b *Builder) WithAPITokenStore(s apitoken.Store) *Builder {
	b.tokenStore = s
	return b
}

// WithCodeSender sets the delivery channel for email codes.
func (b *Builder) WithCodeSender(s twofactor.Sender) *Builder {
	b.sender = s
	return b
}

// WithRateCounter overrides the counter backend chosen by
// Config.RateCounter.
func (b *Builder) WithRateCounter(c ratecounter.Counter) *Builder {
	b.counter = c
	return b
}

// WithScopeRegistry replaces the default API token scopes.
func (b *Builder) WithScopeRegistry(r *apitoken.Registry) *Builder {
	b.registry = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = logging.NewSlogLogger(l)
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	log := b.logger
	if log == nil {
		log = logging.NewSlogLogger(nil)
	}
	log = log.With("component", "guestauth")

	engine := &Engine{
		config:  cloneConfig(cfg),
		log:     log,
		users:   b.users,
		redis:   b.redis,
		metrics: NewMetrics(cfg.Metrics),
		now:     time.Now,
	}

	// -------- COUNTERS --------
	counter := b.counter
	if counter == nil {
		switch cfg.RateCounter.Backend {
		case "redis":
			counter = ratecounter.NewRedis(b.redis, cfg.RateCounter.RedisPrefix)
		default:
			mem := ratecounter.NewMemory()
			ctx, cancel := context.WithCancel(context.Background())
			go mem.Run(ctx, cfg.RateCounter.SweepInterval)
			engine.stopSweep = cancel
			counter = mem
		}
	}
	engine.counter = counter
	engine.lockout = limiters.NewLockout(counter, limiters.LockoutConfig{
		Enabled:       cfg.Lockout.Enabled,
		Threshold:     cfg.Lockout.Threshold,
		Duration:      cfg.Lockout.Duration,
		FailureWindow: cfg.Lockout.FailureWindow,
	})
	engine.loginThrottle = limiters.NewThrottle(counter, "throttle:login", limiters.ThrottleConfig(cfg.RateLimit.LoginPerIP))
	engine.registerThrottle = limiters.NewThrottle(counter, "throttle:register", limiters.ThrottleConfig(cfg.RateLimit.RegisterPerIP))
	engine.refreshThrottle = limiters.NewThrottle(counter, "throttle:refresh", limiters.ThrottleConfig(cfg.RateLimit.RefreshPerIP))

	// -------- PASSWORDS --------
	hasher, err := password.NewScrypt(cfg.Password)
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.passwords = hasher
	if engine.dummyHash, err = hasher.Hash(dummyPassword); err != nil {
		engine.Close()
		return nil, err
	}

	// -------- TOKENS AND SESSIONS --------
	signer, err := jwt.NewManager(cfg.Tokens)
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.sessions = session.NewManager(session.NewStore(b.redis, cfg.Session.RedisPrefix), signer)

	guard, err := csrf.New(cfg.CSRF.Secret)
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.csrf = guard

	// -------- TWO-FACTOR --------
	codeHasher, err := twofactor.NewCodeHasher(cfg.TwoFactor.CodePepper)
	if err != nil {
		engine.Close()
		return nil, err
	}
	tfStore := b.twoFactorStore
	if tfStore == nil {
		log.Warn(context.Background(), "no two-factor store configured, using in-memory store")
		tfStore = twofactor.NewMemoryStore()
	}
	sender := b.sender
	if sender == nil {
		sender = twofactor.SenderFunc(func(context.Context, string, twofactor.Purpose, string) error {
			return errors.New("no code sender configured")
		})
	}
	engine.twoFactor, err = twofactor.NewEngine(cfg.TwoFactor.Config, twofactor.Deps{
		Store:   tfStore,
		Redis:   b.redis,
		Counter: counter,
		Hasher:  codeHasher,
		Sender:  sender,
	})
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("two-factor: %w", err)
	}

	// -------- API TOKENS --------
	tokenStore := b.tokenStore
	if tokenStore == nil {
		log.Warn(context.Background(), "no api token store configured, using in-memory store")
		tokenStore = apitoken.NewMemoryStore()
	}
	engine.tokens = apitoken.NewAuthority(cfg.APITokens, tokenStore, b.registry, log)

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NewLogSink(log)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Critical:   criticalAuditEvents,
	}, sink, log)

	b.built = true
	return engine, nil
}
