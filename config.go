package guestauth

import (
	"errors"
	"time"

	"github.com/MrEthical07/guestauth/apitoken"
	"github.com/MrEthical07/guestauth/jwt"
	"github.com/MrEthical07/guestauth/password"
	"github.com/MrEthical07/guestauth/twofactor"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// supply the three secrets: Tokens.PrivateKey, CSRF.Secret and
// TwoFactor.CodePepper.
type Config struct {
	Password       password.Config
	PasswordPolicy PasswordPolicyConfig
	Tokens         jwt.Config
	Lockout        LockoutConfig
	RateLimit      RateLimitConfig
	TwoFactor      TwoFactorConfig
	Session        SessionConfig
	RateCounter    RateCounterConfig
	APITokens      apitoken.Config
	CSRF           CSRFConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
}

// PasswordPolicyConfig bounds accepted password lengths in bytes.
type PasswordPolicyConfig struct {
	MinLength int
	MaxLength int
}

// LockoutConfig locks an email after Threshold consecutive failures.
type LockoutConfig struct {
	Enabled       bool
	Threshold     int
	Duration      time.Duration
	FailureWindow time.Duration
}

// ThrottleConfig is a fixed-window attempt budget.
type ThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// RateLimitConfig holds the per-IP throttles.
type RateLimitConfig struct {
	LoginPerIP    ThrottleConfig
	RegisterPerIP ThrottleConfig
	RefreshPerIP  ThrottleConfig
}

// TwoFactorConfig extends the two-factor engine settings with the pepper
// used to hash backup and email codes.
type TwoFactorConfig struct {
	twofactor.Config
	CodePepper []byte
}

// SessionConfig controls the redis session store.
type SessionConfig struct {
	RedisPrefix string
}

// RateCounterConfig selects the backend of lockout, resend and throttle
// counters. Backend is "memory" or "redis".
type RateCounterConfig struct {
	Backend       string
	RedisPrefix   string
	SweepInterval time.Duration
}

// CSRFConfig holds the double-submit HMAC secret.
type CSRFConfig struct {
	Secret []byte
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults without secrets.
func DefaultConfig() Config {
	return Config{
		Password: password.DefaultConfig(),
		PasswordPolicy: PasswordPolicyConfig{
			MinLength: 8,
			MaxLength: 1024,
		},
		Tokens: jwt.Config{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: jwt.MethodHS256,
			Issuer:        "guestbook",
		},
		Lockout: LockoutConfig{
			Enabled:       true,
			Threshold:     10,
			Duration:      30 * time.Minute,
			FailureWindow: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			LoginPerIP:    ThrottleConfig{Enabled: true, MaxAttempts: 20, Window: time.Minute},
			RegisterPerIP: ThrottleConfig{Enabled: true, MaxAttempts: 5, Window: time.Hour},
			RefreshPerIP:  ThrottleConfig{Enabled: true, MaxAttempts: 60, Window: time.Minute},
		},
		TwoFactor: TwoFactorConfig{Config: twofactor.DefaultConfig()},
		Session:   SessionConfig{RedisPrefix: "gs"},
		RateCounter: RateCounterConfig{
			Backend:       "memory",
			RedisPrefix:   "grc",
			SweepInterval: 60 * time.Second,
		},
		APITokens: apitoken.DefaultConfig(),
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.PrivateKey = cloneBytes(cfg.Tokens.PrivateKey)
	out.Tokens.PublicKey = cloneBytes(cfg.Tokens.PublicKey)
	out.CSRF.Secret = cloneBytes(cfg.CSRF.Secret)
	out.TwoFactor.CodePepper = cloneBytes(cfg.TwoFactor.CodePepper)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Tokens
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL < c.Tokens.AccessTTL {
		return errors.New("Tokens RefreshTTL must be >= AccessTTL")
	}
	if c.Tokens.SigningMethod == jwt.MethodHS256 && len(c.Tokens.PrivateKey) < 32 {
		return errors.New("Tokens PrivateKey must be at least 32 bytes for hs256")
	}
	if c.Tokens.Issuer == "" {
		return errors.New("Tokens Issuer must be set")
	}

	// Password
	if c.Password.N < 1<<14 || c.Password.N&(c.Password.N-1) != 0 {
		return errors.New("Password N must be a power of two >= 16384")
	}
	if c.Password.R < 1 || c.Password.P < 1 {
		return errors.New("Password R and P must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 32 {
		return errors.New("Password KeyLength must be >= 32")
	}
	if c.PasswordPolicy.MinLength < 8 {
		return errors.New("PasswordPolicy MinLength must be >= 8")
	}
	if c.PasswordPolicy.MaxLength < c.PasswordPolicy.MinLength {
		return errors.New("PasswordPolicy MaxLength must be >= MinLength")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
		if c.Lockout.FailureWindow < c.Lockout.Duration {
			return errors.New("Lockout FailureWindow must be >= Duration")
		}
	}

	// Throttles
	for name, t := range map[string]ThrottleConfig{
		"LoginPerIP":    c.RateLimit.LoginPerIP,
		"RegisterPerIP": c.RateLimit.RegisterPerIP,
		"RefreshPerIP":  c.RateLimit.RefreshPerIP,
	} {
		if t.Enabled && (t.MaxAttempts <= 0 || t.Window <= 0) {
			return errors.New("RateLimit " + name + " requires MaxAttempts and Window > 0")
		}
	}

	// Two-factor
	if len(c.TwoFactor.CodePepper) < 32 {
		return errors.New("TwoFactor CodePepper must be at least 32 bytes")
	}
	if c.TwoFactor.ChallengeTTL <= 0 || c.TwoFactor.EmailCodeTTL <= 0 {
		return errors.New("TwoFactor ChallengeTTL and EmailCodeTTL must be > 0")
	}
	if c.TwoFactor.MaxChallengeAttempts <= 0 {
		return errors.New("TwoFactor MaxChallengeAttempts must be > 0")
	}
	if c.TwoFactor.MaxResends < 0 {
		return errors.New("TwoFactor MaxResends must be >= 0")
	}
	if c.TwoFactor.TOTP.Issuer == "" {
		return errors.New("TwoFactor TOTP Issuer must be set")
	}

	// Session and counters
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if c.RateCounter.Backend != "memory" && c.RateCounter.Backend != "redis" {
		return errors.New("RateCounter Backend must be 'memory' or 'redis'")
	}
	if c.RateCounter.Backend == "memory" && c.RateCounter.SweepInterval <= 0 {
		return errors.New("RateCounter SweepInterval must be > 0")
	}

	// API tokens
	if c.APITokens.MaxExpiryDays <= 0 {
		return errors.New("APITokens MaxExpiryDays must be > 0")
	}
	if c.APITokens.UsageBuffer <= 0 {
		return errors.New("APITokens UsageBuffer must be > 0")
	}

	// CSRF
	if len(c.CSRF.Secret) < 32 {
		return errors.New("CSRF Secret must be at least 32 bytes")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}
