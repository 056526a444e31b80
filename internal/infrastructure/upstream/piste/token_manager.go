package piste

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/infrastructure/resilience"
)

// State of one upstream's token lifecycle.
type State string

const (
	StateNoToken        State = "no_token"
	StateAuthenticating State = "authenticating"
	StateValid          State = "valid"
	StateExpiring       State = "expiring"
	StateExpired        State = "expired"
)

// Remaining lifetime below this fraction of the TTL triggers re-auth.
const expiryMarginFraction = 0.10

type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scope        string
}

type upstream struct {
	name string
	cc   clientcredentials.Config

	quota *quota

	mu         sync.Mutex
	token      string
	obtainedAt time.Time
	expiresAt  time.Time
	inflight   chan struct{}
	authErr    error
}

// Manager owns the OAuth client-credentials lifecycle and rate budgets for
// every registered upstream API. Create one at startup, inject it into the
// connectors, and close nothing: it holds no connections of its own.
type Manager struct {
	mu        sync.RWMutex
	upstreams map[string]*upstream
	executor  *resilience.Executor
	now       func() time.Time
}

func NewManager(executor *resilience.Executor) *Manager {
	return &Manager{
		upstreams: make(map[string]*upstream),
		executor:  executor,
		now:       time.Now,
	}
}

// Register adds an upstream with its credentials and rate budget.
func (m *Manager) Register(name string, creds Credentials, q Quota) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstreams[name] = &upstream{
		name: name,
		cc: clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
			Scopes:       scopes(creds.Scope),
		},
		quota: newQuota(q, m.now),
	}
}

func scopes(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func (m *Manager) upstream(name string) (*upstream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.upstreams[name]
	if !ok {
		return nil, fmt.Errorf("unknown upstream %q", name)
	}
	return u, nil
}

// Token returns a valid bearer token for the upstream, exchanging
// credentials if the cached one is missing, expiring, or expired. Only one
// exchange per upstream runs at a time; concurrent callers block on it and
// share its outcome.
func (m *Manager) Token(ctx context.Context, name string) (string, error) {
	u, err := m.upstream(name)
	if err != nil {
		return "", err
	}

	for {
		u.mu.Lock()
		switch m.stateLocked(u) {
		case StateValid:
			token := u.token
			u.mu.Unlock()
			return token, nil
		case StateAuthenticating:
			wait := u.inflight
			u.mu.Unlock()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-wait:
			}
			// Re-check: the exchange may have failed.
			u.mu.Lock()
			err := u.authErr
			token := u.token
			state := m.stateLocked(u)
			u.mu.Unlock()
			if err != nil {
				return "", err
			}
			if state == StateValid {
				return token, nil
			}
			// Token already stale again; loop and trigger a fresh exchange.
		default: // no_token, expiring, expired
			u.inflight = make(chan struct{})
			u.authErr = nil
			u.mu.Unlock()
			return m.authenticate(ctx, u)
		}
	}
}

// stateLocked derives the lifecycle state; u.mu must be held.
func (m *Manager) stateLocked(u *upstream) State {
	if u.inflight != nil {
		return StateAuthenticating
	}
	if u.token == "" {
		return StateNoToken
	}
	now := m.now()
	if !now.Before(u.expiresAt) {
		return StateExpired
	}
	ttl := u.expiresAt.Sub(u.obtainedAt)
	if u.expiresAt.Sub(now) < time.Duration(float64(ttl)*expiryMarginFraction) {
		return StateExpiring
	}
	return StateValid
}

// Status reports the lifecycle state of an upstream, for operators.
func (m *Manager) Status(name string) State {
	u, err := m.upstream(name)
	if err != nil {
		return StateNoToken
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return m.stateLocked(u)
}

func (m *Manager) authenticate(ctx context.Context, u *upstream) (string, error) {
	var tok *oauth2.Token
	exchange := func(ctx context.Context) error {
		t, err := u.cc.Token(ctx)
		if err != nil {
			return err
		}
		tok = t
		return nil
	}

	var err error
	if m.executor != nil {
		err = m.executor.Execute(ctx, "oauth."+u.name, exchange, classifyAuthError)
	} else {
		err = exchange(ctx)
	}

	u.mu.Lock()
	defer func() {
		close(u.inflight)
		u.inflight = nil
		u.mu.Unlock()
	}()

	if err != nil {
		u.authErr = wrapAuthError(u.name, err)
		return "", u.authErr
	}

	u.token = tok.AccessToken
	u.obtainedAt = m.now()
	u.expiresAt = tok.Expiry
	if tok.Expiry.IsZero() {
		// PISTE tokens default to 30 minutes when expires_in is absent.
		u.expiresAt = u.obtainedAt.Add(30 * time.Minute)
	}
	return u.token, nil
}

// Invalidate drops the cached token after a dependent call returned 401.
// The next Token call performs exactly one re-authentication.
func (m *Manager) Invalidate(name string) {
	u, err := m.upstream(name)
	if err != nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.token = ""
	u.obtainedAt = time.Time{}
	u.expiresAt = time.Time{}
}

// Acquire blocks until the upstream's per-second bucket admits one call and
// the daily cap has room, or ctx expires.
func (m *Manager) Acquire(ctx context.Context, name string) error {
	u, err := m.upstream(name)
	if err != nil {
		return err
	}
	return u.quota.acquire(ctx)
}

// TryAcquire fails fast with domain.ErrQuotaExceeded instead of blocking.
func (m *Manager) TryAcquire(name string) error {
	u, err := m.upstream(name)
	if err != nil {
		return err
	}
	return u.quota.tryAcquire()
}

// Delay suspends the upstream's quota until the given time, typically
// taken from a Retry-After header after a 429.
func (m *Manager) Delay(name string, until time.Time) {
	u, err := m.upstream(name)
	if err != nil {
		return
	}
	u.quota.delayUntil(until)
}

func wrapAuthError(upstream string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "invalid_client", "invalid_grant":
			return domain.WrapError(domain.ErrAuth, "oauth "+upstream, err)
		}
		if rerr.Response != nil && rerr.Response.StatusCode == 401 {
			return domain.WrapError(domain.ErrAuth, "oauth "+upstream, err)
		}
	}
	return &domain.UpstreamError{
		Upstream:  upstream,
		Operation: "oauth token",
		Retryable: true,
		Err:       err,
	}
}

func classifyAuthError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "invalid_client", "invalid_grant":
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
		if rerr.Response != nil && rerr.Response.StatusCode >= 500 {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
