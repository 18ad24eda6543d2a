package twofactor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/guestauth/internal/limiters"
	"github.com/MrEthical07/guestauth/ratecounter"
)

const backupPurpose = "backup"

// ErrResendLimit is returned by the resend operations once the cap is spent.
var ErrResendLimit = limiters.ErrResendLimit

// ErrDeliveryFailed wraps Sender failures.
var ErrDeliveryFailed = errors.New("two-factor code delivery failed")

// ResendLimitError carries the time the resend allowance resets.
type ResendLimitError struct {
	RetryAt time.Time
}

func (e *ResendLimitError) Error() string { return ErrResendLimit.Error() }
func (e *ResendLimitError) Unwrap() error { return ErrResendLimit }

// Config holds engine parameters.
type Config struct {
	TOTP                 TOTPConfig
	ChallengeTTL         time.Duration
	MaxChallengeAttempts int
	EmailCodeTTL         time.Duration
	EmailCodeDigits      int
	MaxResends           int
	RedisPrefix          string
}

// DefaultConfig returns a five minute challenge with five attempts and
// six-digit email codes valid for ten minutes with three resends.
func DefaultConfig() Config {
	return Config{
		TOTP:                 TOTPConfig{Issuer: "Guestbook", Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"},
		ChallengeTTL:         5 * time.Minute,
		MaxChallengeAttempts: 5,
		EmailCodeTTL:         10 * time.Minute,
		EmailCodeDigits:      6,
		MaxResends:           3,
		RedisPrefix:          "g2f",
	}
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store   Store
	Redis   redis.UniversalClient
	Counter ratecounter.Counter
	Hasher  *CodeHasher
	Sender  Sender
}

// Engine drives two-factor enrollment and login verification.
type Engine struct {
	config     Config
	store      Store
	totp       *TOTP
	challenges *ChallengeStore
	codes      *CodeStore
	counter    ratecounter.Counter
	resend     *limiters.Resend
	hasher     *CodeHasher
	sender     Sender
	now        func() time.Time
}

// Setup is the result of InitiateSetup. Secret and URI are empty for email.
type Setup struct {
	Method Method
	Secret string
	URI    string
}

// LoginChallenge is handed to the client after the password step.
type LoginChallenge struct {
	Token     string
	Method    Method
	ExpiresAt time.Time
}

// NewEngine validates deps and builds an Engine.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("twofactor: store is required")
	case deps.Redis == nil:
		return nil, errors.New("twofactor: redis client is required")
	case deps.Counter == nil:
		return nil, errors.New("twofactor: counter is required")
	case deps.Hasher == nil:
		return nil, errors.New("twofactor: code hasher is required")
	case deps.Sender == nil:
		return nil, errors.New("twofactor: sender is required")
	}
	if cfg.ChallengeTTL <= 0 || cfg.EmailCodeTTL <= 0 {
		return nil, errors.New("twofactor: ttls must be > 0")
	}
	if cfg.MaxChallengeAttempts <= 0 {
		return nil, errors.New("twofactor: MaxChallengeAttempts must be > 0")
	}
	if cfg.EmailCodeDigits < 6 || cfg.EmailCodeDigits > 10 {
		return nil, errors.New("twofactor: EmailCodeDigits must be between 6 and 10")
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "g2f"
	}

	return &Engine{
		config:     cfg,
		store:      deps.Store,
		totp:       NewTOTP(cfg.TOTP),
		challenges: NewChallengeStore(deps.Redis, cfg.RedisPrefix+":ch"),
		codes:      NewCodeStore(deps.Redis, cfg.RedisPrefix+":otp"),
		counter:    deps.Counter,
		resend:     limiters.NewResend(deps.Counter, cfg.MaxResends, cfg.EmailCodeTTL),
		hasher:     deps.Hasher,
		sender:     deps.Sender,
		now:        time.Now,
	}, nil
}

// TOTP exposes the generator, mainly for enrollment tooling and tests.
func (e *Engine) TOTP() *TOTP { return e.totp }

// InitiateSetup starts enrollment, replacing any stale pending setup. An
// enabled configuration is left untouched and ErrAlreadyEnabled returned.
func (e *Engine) InitiateSetup(ctx context.Context, userID, email string, method Method) (*Setup, error) {
	if !method.Valid() {
		return nil, ErrInvalidMethod
	}
	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, enabled := rec.State.(Enabled); enabled {
		return nil, ErrAlreadyEnabled
	}

	setup := &Setup{Method: method}
	pending := Pending{Method: method, CreatedAt: e.now()}
	if method == MethodTOTP {
		secret, err := e.totp.GenerateSecret()
		if err != nil {
			return nil, err
		}
		pending.Secret = secret
		setup.Secret = secret
		setup.URI = e.totp.ProvisionURI(secret, email)
	}

	if err := e.store.SavePending(ctx, userID, pending); err != nil {
		return nil, err
	}
	if err := e.counter.Delete(ctx, setupFailKey(userID)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if method == MethodEmail {
		if err := e.resend.Reset(ctx, string(PurposeSetup), userID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if err := e.issueCode(ctx, PurposeSetup, userID, email); err != nil {
			return nil, err
		}
	}
	return setup, nil
}

// VerifySetup confirms the pending setup and returns ten plaintext backup codes.
// The codes are not retrievable afterwards.
func (e *Engine) VerifySetup(ctx context.Context, userID, code string) ([]string, error) {
	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	pending, ok := rec.State.(Pending)
	if !ok {
		return nil, ErrNotPending
	}

	var valid bool
	switch pending.Method {
	case MethodTOTP:
		valid, err = e.verifyTOTP(ctx, PurposeSetup, userID, pending.Secret, code)
	case MethodEmail:
		valid, err = e.codes.Redeem(ctx, PurposeSetup, userID, e.hasher.Hash(string(PurposeSetup), userID, code))
	default:
		return nil, ErrInvalidMethod
	}
	if err != nil {
		return nil, err
	}
	if !valid {
		if err := e.recordSetupFailure(ctx, userID); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCode
	}

	codes, err := GenerateBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = e.hasher.Hash(backupPurpose, userID, CanonicalizeBackupCode(c))
	}

	enabled := Enabled{
		Method:           pending.Method,
		Secret:           pending.Secret,
		BackupCodeHashes: hashes,
		VerifiedAt:       e.now(),
	}
	if err := e.store.Enable(ctx, userID, enabled); err != nil {
		return nil, err
	}
	_ = e.resend.Reset(ctx, string(PurposeSetup), userID)
	_ = e.counter.Delete(ctx, setupFailKey(userID))
	return codes, nil
}

// ResendCode re-sends the setup code for a pending email enrollment.
func (e *Engine) ResendCode(ctx context.Context, userID, email string) error {
	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	pending, ok := rec.State.(Pending)
	if !ok || pending.Method != MethodEmail {
		return ErrNotPending
	}
	if err := e.allowResend(ctx, PurposeSetup, userID); err != nil {
		return err
	}
	return e.issueCode(ctx, PurposeSetup, userID, email)
}

// StartLogin mints a challenge for a user with two-factor enabled. Users
// without an enabled configuration get ErrNotEnabled.
func (e *Engine) StartLogin(ctx context.Context, userID, email string) (*LoginChallenge, error) {
	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	enabled, ok := rec.State.(Enabled)
	if !ok {
		return nil, ErrNotEnabled
	}

	token, err := NewChallengeToken()
	if err != nil {
		return nil, err
	}
	expiresAt := e.now().Add(e.config.ChallengeTTL)
	record := &Challenge{
		UserID:    userID,
		Email:     email,
		Method:    enabled.Method,
		ExpiresAt: expiresAt.Unix(),
	}
	if err := e.challenges.Save(ctx, token, record, e.config.ChallengeTTL); err != nil {
		return nil, err
	}

	if enabled.Method == MethodEmail {
		if err := e.issueCode(ctx, PurposeLogin, ChallengeID(token), email); err != nil {
			return nil, err
		}
	}

	return &LoginChallenge{Token: token, Method: enabled.Method, ExpiresAt: expiresAt}, nil
}

// VerifyLogin checks code against the challenge's primary factor, then against
// the unused backup codes. Any rejection is ErrInvalidCode; the challenge is
// burned after MaxChallengeAttempts failures and deleted on success.
func (e *Engine) VerifyLogin(ctx context.Context, challengeToken, code string) (string, error) {
	ch, err := e.challenges.Get(ctx, challengeToken)
	if err != nil {
		return "", err
	}

	rec, err := e.store.Get(ctx, ch.UserID)
	if err != nil {
		return "", err
	}
	enabled, ok := rec.State.(Enabled)
	if !ok {
		_, _ = e.challenges.Consume(ctx, challengeToken)
		return "", ErrChallengeInvalid
	}

	challengeID := ChallengeID(challengeToken)
	valid, err := e.verifyPrimary(ctx, ch.UserID, challengeID, enabled, code)
	if err != nil {
		return "", err
	}
	if !valid {
		hash := e.hasher.Hash(backupPurpose, ch.UserID, CanonicalizeBackupCode(code))
		valid, err = e.store.ConsumeBackupCode(ctx, ch.UserID, hash)
		if err != nil {
			return "", err
		}
	}
	if !valid {
		if _, err := e.challenges.RecordFailure(ctx, challengeToken, e.config.MaxChallengeAttempts); err != nil {
			return "", err
		}
		return "", ErrInvalidCode
	}

	won, err := e.challenges.Consume(ctx, challengeToken)
	if err != nil {
		return "", err
	}
	if !won {
		return "", ErrChallengeInvalid
	}
	if enabled.Method == MethodEmail {
		_ = e.codes.Clear(ctx, PurposeLogin, challengeID)
	}
	return ch.UserID, nil
}

// ResendLoginCode re-sends the login code for an email-method challenge.
func (e *Engine) ResendLoginCode(ctx context.Context, challengeToken string) error {
	ch, err := e.challenges.Get(ctx, challengeToken)
	if err != nil {
		return err
	}
	if ch.Method != MethodEmail {
		return ErrInvalidMethod
	}
	challengeID := ChallengeID(challengeToken)
	if err := e.allowResend(ctx, PurposeLogin, challengeID); err != nil {
		return err
	}
	return e.issueCode(ctx, PurposeLogin, challengeID, ch.Email)
}

// Disable removes an enabled or pending configuration. The caller re-verifies
// the password first.
func (e *Engine) Disable(ctx context.Context, userID string) error {
	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if _, none := rec.State.(None); none {
		return ErrNotEnabled
	}
	return e.Purge(ctx, userID)
}

// Purge deletes all two-factor state for userID. Missing state is not an error.
func (e *Engine) Purge(ctx context.Context, userID string) error {
	if err := e.store.Delete(ctx, userID); err != nil {
		return err
	}
	_ = e.codes.Clear(ctx, PurposeSetup, userID)
	_ = e.counter.Delete(ctx, setupFailKey(userID))
	return nil
}

// Status summarizes the user's configuration.
func (e *Engine) Status(ctx context.Context, userID string) (Status, error) {
	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return StatusOf(rec.State), nil
}

// Enabled reports whether the user must pass a second factor at login.
func (e *Engine) Enabled(ctx context.Context, userID string) (bool, error) {
	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := rec.State.(Enabled)
	return ok, nil
}

func (e *Engine) verifyPrimary(ctx context.Context, userID, challengeID string, enabled Enabled, code string) (bool, error) {
	switch enabled.Method {
	case MethodTOTP:
		return e.verifyTOTP(ctx, PurposeLogin, userID, enabled.Secret, code)
	case MethodEmail:
		return e.codes.Redeem(ctx, PurposeLogin, challengeID, e.hasher.Hash(string(PurposeLogin), challengeID, code))
	default:
		return false, ErrInvalidMethod
	}
}

// verifyTOTP accepts each time step at most once per user and purpose, so
// the code that confirmed enrollment still works for an immediate login.
func (e *Engine) verifyTOTP(ctx context.Context, purpose Purpose, userID, secret, code string) (bool, error) {
	ok, step, err := e.totp.Verify(secret, code, e.now())
	if err != nil || !ok {
		return false, err
	}

	window := time.Duration(2*e.totp.config.Skew+1) * time.Duration(e.totp.config.Period) * time.Second
	entry, err := e.counter.Incr(ctx, "totp:used:"+string(purpose)+":"+userID+":"+strconv.FormatInt(step, 10), window)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return entry.Count == 1, nil
}

func setupFailKey(userID string) string { return "2fa:setup:fail:" + userID }

// recordSetupFailure counts a wrong enrollment code. Once MaxChallengeAttempts
// is reached the pending setup is discarded and enrollment must restart.
func (e *Engine) recordSetupFailure(ctx context.Context, userID string) error {
	entry, err := e.counter.Incr(ctx, setupFailKey(userID), e.config.ChallengeTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if entry.Count < int64(e.config.MaxChallengeAttempts) {
		return nil
	}
	return e.Purge(ctx, userID)
}

func (e *Engine) allowResend(ctx context.Context, purpose Purpose, userID string) error {
	retryAt, err := e.resend.Allow(ctx, string(purpose), userID)
	if errors.Is(err, limiters.ErrResendLimit) {
		return &ResendLimitError{RetryAt: retryAt}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// issueCode sends a fresh code bound to subject: the user id for setup, the
// challenge id for login.
func (e *Engine) issueCode(ctx context.Context, purpose Purpose, subject, email string) error {
	code, err := NewNumericCode(e.config.EmailCodeDigits)
	if err != nil {
		return err
	}
	if err := e.codes.Put(ctx, purpose, subject, e.hasher.Hash(string(purpose), subject, code), e.config.EmailCodeTTL); err != nil {
		return err
	}
	if err := e.sender.SendCode(ctx, email, purpose, code); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}
