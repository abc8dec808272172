// ABOUTME: Fetches the channel credential and keeps it fresh on an owned timer
// ABOUTME: Refresh failures keep the stale credential and retry on the next tick

package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-router/internal/clock"
	"github.com/2389/coven-router/internal/events"
)

// maxBodySize bounds how much of an identity endpoint response we read.
const maxBodySize = 1 << 20

// ErrNoCredential is returned by Manager.Require before the first successful fetch.
var ErrNoCredential = errors.New("no credential fetched yet")

// Config describes the identity endpoint request.
type Config struct {
	Host            string
	URL             string
	ContentType     string
	GrantType       string
	Scope           string
	AppID           string
	AppSecret       string
	PollingInterval time.Duration
	// Timeout bounds a single fetch. Zero means 30s.
	Timeout time.Duration
}

// ManagerParams holds the dependencies of a Manager.
type ManagerParams struct {
	Config     Config
	HTTPClient *http.Client
	Clock      clock.Clock
	Sink       events.Sink
	Logger     *slog.Logger
}

// Manager owns one credential and its refresh schedule.
//
// Current is lock-free and may be called from any goroutine. The refresh
// cycle is the only writer. Cancel stops this manager's timer and nothing else.
type Manager struct {
	cfg    Config
	client *http.Client
	clock  clock.Clock
	sink   events.Sink
	logger *slog.Logger

	current  atomic.Pointer[Credential]
	failures atomic.Int64

	// base is cancelled by Cancel so an in-flight refresh aborts promptly.
	base       context.Context
	cancelBase context.CancelFunc

	mu        sync.Mutex
	timer     *clock.Timer
	started   bool
	cancelled bool
}

// NewManager creates a Manager. No request is made until Init or Start.
func NewManager(p ManagerParams) *Manager {
	if p.HTTPClient == nil {
		p.HTTPClient = http.DefaultClient
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	if p.Sink == nil {
		p.Sink = events.Discard
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Config.Timeout <= 0 {
		p.Config.Timeout = 30 * time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        p.Config,
		client:     p.HTTPClient,
		clock:      p.Clock,
		sink:       p.Sink,
		logger:     p.Logger.With("component", "credential"),
		base:       base,
		cancelBase: cancel,
	}
}

// Fetch requests a new credential without storing it.
func (m *Manager) Fetch(ctx context.Context) (*Credential, error) {
	form := url.Values{}
	form.Set("grant_type", m.cfg.GrantType)
	form.Set("scope", m.cfg.Scope)
	form.Set("client_id", m.cfg.AppID)
	form.Set("client_secret", m.cfg.AppSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	if m.cfg.Host != "" {
		req.Host = m.cfg.Host
	}
	req.Header.Set("Content-Type", m.cfg.ContentType)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return Parse(body, m.clock.Now())
}

// Init performs the synchronous first fetch. Its error is fatal to startup.
func (m *Manager) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	cred, err := m.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("initial credential fetch: %w", err)
	}
	m.current.Store(cred)
	m.logger.Info("obtained channel credential", "credential", cred)
	e := events.New(events.CredentialRefreshed)
	e.Detail = "initial"
	e.ExpiresAt = cred.ExpiresAt
	m.sink.Record(e)
	return nil
}

// Start schedules the refresh cycle. Calling it again, or after Cancel, does nothing.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.cancelled {
		return
	}
	m.started = true
	m.timer = m.clock.AfterFunc(m.cfg.PollingInterval, m.tick)
	m.logger.Debug("credential refresh scheduled", "interval", m.cfg.PollingInterval)
}

// tick runs one refresh and schedules the next. The next tick is only
// armed after this fetch completes, so refreshes never overlap.
func (m *Manager) tick() {
	ctx, cancel := context.WithTimeout(m.base, m.cfg.Timeout)
	cred, err := m.Fetch(ctx)
	cancel()

	if m.isCancelled() {
		return
	}

	if err != nil {
		n := m.failures.Add(1)
		m.logger.Error("credential refresh failed, keeping previous credential",
			"error", err,
			"consecutive_failures", n,
		)
		e := events.New(events.CredentialRefreshError)
		e.Detail = err.Error()
		if prev := m.current.Load(); prev != nil {
			e.ExpiresAt = prev.ExpiresAt
		}
		m.sink.Record(e)
	} else {
		m.failures.Store(0)
		m.current.Store(cred)
		m.logger.Info("refreshed channel credential", "credential", cred)
		e := events.New(events.CredentialRefreshed)
		e.ExpiresAt = cred.ExpiresAt
		m.sink.Record(e)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cancelled {
		m.timer = m.clock.AfterFunc(m.cfg.PollingInterval, m.tick)
	}
}

func (m *Manager) isCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// Cancel stops future refreshes and aborts one in flight. Safe to call
// more than once and before Start.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelled {
		return
	}
	m.cancelled = true
	m.timer.Stop()
	m.cancelBase()
	m.logger.Debug("credential refresh cancelled")
}

// Current returns the latest credential, or nil before the first fetch.
func (m *Manager) Current() *Credential {
	return m.current.Load()
}

// Require returns the latest credential or ErrNoCredential.
func (m *Manager) Require() (*Credential, error) {
	if c := m.current.Load(); c != nil {
		return c, nil
	}
	return nil, ErrNoCredential
}

// ConsecutiveFailures reports refresh failures since the last success.
func (m *Manager) ConsecutiveFailures() int {
	return int(m.failures.Load())
}
