package guestauth

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/guestauth/ratecounter"
	"github.com/MrEthical07/guestauth/twofactor"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-password-123"
)

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tokens.PrivateKey = bytes.Repeat([]byte("k"), 32)
	cfg.CSRF.Secret = bytes.Repeat([]byte("c"), 32)
	cfg.TwoFactor.CodePepper = bytes.Repeat([]byte("p"), 32)
	return cfg
}

// fakeClock is shared by the engine and its in-memory rate counter.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// userMap is a UserStore for engine tests.
type userMap struct {
	mu      sync.Mutex
	byID    map[string]UserRecord
	lookups int
}

func newUserMap() *userMap {
	return &userMap{byID: make(map[string]UserRecord)}
}

func (m *userMap) CreateUser(_ context.Context, u UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrEmailTaken
		}
	}
	m.byID[u.ID] = u
	return nil
}

func (m *userMap) GetUserByEmail(_ context.Context, email string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, u := range m.byID {
		if strings.EqualFold(u.Email, email) {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *userMap) GetUserByID(_ context.Context, id string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *userMap) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	m.byID[id] = u
	return nil
}

func (m *userMap) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *userMap) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

type testEngine struct {
	*Engine
	users  *userMap
	outbox *twofactor.Outbox
	clock  *fakeClock
	mr     *miniredis.Miniredis
}

type engineOption func(*Builder)

func newTestEngine(t testing.TB, cfg Config, opts ...engineOption) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	users := newUserMap()
	outbox := twofactor.NewOutbox()
	clock := newFakeClock()

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithCodeSender(outbox).
		WithRateCounter(ratecounter.NewMemory(ratecounter.WithClock(clock.Now))).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	engine.now = clock.Now
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, users: users, outbox: outbox, clock: clock, mr: mr}
}

// register creates the default test account.
func (te *testEngine) register(t testing.TB) *UserRecord {
	t.Helper()
	user, err := te.Register(context.Background(), RegisterInput{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return user
}

// login runs the password step and expects a session.
func (te *testEngine) login(t testing.TB) *SessionTokens {
	t.Helper()
	res, err := te.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Session == nil {
		t.Fatalf("expected session, got challenge")
	}
	return res.Session
}

// enableTOTP enrolls the user and returns the secret and backup codes.
func (te *testEngine) enableTOTP(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := te.SetupTwoFactor(ctx, userID, "totp")
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}
	code, err := te.twoFactor.TOTP().CodeAt(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("CodeAt failed: %v", err)
	}
	backups, err := te.VerifyTwoFactorSetup(ctx, userID, code)
	if err != nil {
		t.Fatalf("VerifyTwoFactorSetup failed: %v", err)
	}
	return setup.Secret, backups
}

func requireKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	if KindOf(err) != want {
		t.Fatalf("expected %s error, got %v (kind %s)", want, err, KindOf(err))
	}
	return AsError(err)
}
