// ABOUTME: Tests for credential fetching and the owned refresh cycle
// ABOUTME: Uses httptest for the identity endpoint and a fake clock for ticks

package credential

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-router/internal/clock"
	"github.com/2389/coven-router/internal/events"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// identityServer is a scriptable token endpoint.
type identityServer struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	requests int
	lastForm map[string]string
	lastHost string
	lastType string
}

func newIdentityServer(t *testing.T) *identityServer {
	t.Helper()
	s := &identityServer{status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.requests++
		n := s.requests
		status := s.status
		s.lastHost = r.Host
		s.lastType = r.Header.Get("Content-Type")
		s.lastForm = map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"scope":         r.PostForm.Get("scope"),
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
		}
		s.mu.Unlock()

		w.WriteHeader(status)
		if status != http.StatusOK {
			fmt.Fprint(w, `{"error":"invalid_client"}`)
			return
		}
		fmt.Fprintf(w, `{"token_type":"Bearer","expires_in":3600,"ext_expires_in":3600,"access_token":"token-%d"}`, n)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *identityServer) setStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

func (s *identityServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func testConfig(url string) Config {
	return Config{
		Host:            "login.example.test",
		URL:             url,
		ContentType:     "application/x-www-form-urlencoded",
		GrantType:       "client_credentials",
		Scope:           "https://api.botframework.com/.default",
		AppID:           "app-id",
		AppSecret:       "app-secret",
		PollingInterval: time.Hour,
		Timeout:         5 * time.Second,
	}
}

func newTestManager(t *testing.T, srv *identityServer, clk clock.Clock, sink events.Sink) *Manager {
	t.Helper()
	m := NewManager(ManagerParams{
		Config:     testConfig(srv.URL),
		HTTPClient: srv.Client(),
		Clock:      clk,
		Sink:       sink,
	})
	t.Cleanup(m.Cancel)
	return m
}

func TestFetch_SendsFormAndHeaders(t *testing.T) {
	srv := newIdentityServer(t)
	m := newTestManager(t, srv, clock.Fake(epoch), nil)

	cred, err := m.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "token-1", cred.AccessToken)
	assert.Equal(t, "Bearer", cred.TokenType)
	assert.Equal(t, epoch, cred.FetchedAt)
	assert.Equal(t, epoch.Add(time.Hour), cred.ExpiresAt)
	assert.JSONEq(t, `{"token_type":"Bearer","expires_in":3600,"ext_expires_in":3600,"access_token":"token-1"}`, string(cred.Raw))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "login.example.test", srv.lastHost)
	assert.Equal(t, "application/x-www-form-urlencoded", srv.lastType)
	assert.Equal(t, map[string]string{
		"grant_type":    "client_credentials",
		"scope":         "https://api.botframework.com/.default",
		"client_id":     "app-id",
		"client_secret": "app-secret",
	}, srv.lastForm)
}

func TestFetch_NonOKIsAuthError(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusInternalServerError} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			srv := newIdentityServer(t)
			srv.setStatus(code)
			m := newTestManager(t, srv, clock.Fake(epoch), nil)

			_, err := m.Fetch(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAuth)

			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, code, authErr.StatusCode)
			assert.Contains(t, authErr.Body, "invalid_client")
		})
	}
}

func TestInit_FailureLeavesNoCredential(t *testing.T) {
	srv := newIdentityServer(t)
	srv.setStatus(http.StatusUnauthorized)
	m := newTestManager(t, srv, clock.Fake(epoch), nil)

	err := m.Init(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Nil(t, m.Current())

	_, err = m.Require()
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestRefresh_SwapsCredentialOnTick(t *testing.T) {
	srv := newIdentityServer(t)
	clk := clock.Fake(epoch)
	rec := &events.Recorder{}
	m := newTestManager(t, srv, clk, rec)

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, "token-1", m.Current().AccessToken)

	m.Start()
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(30 * time.Minute)
	assert.Equal(t, "token-1", m.Current().AccessToken, "not due yet")

	clk.Advance(30 * time.Minute)
	assert.Equal(t, "token-2", m.Current().AccessToken)
	assert.Equal(t, 1, clk.Pending(), "next tick is rescheduled")

	clk.Advance(time.Hour)
	assert.Equal(t, "token-3", m.Current().AccessToken)
	assert.Equal(t, 3, rec.Count(events.CredentialRefreshed), "initial fetch plus two refreshes")
}

func TestRefresh_FailureKeepsStaleCredentialAndRetries(t *testing.T) {
	srv := newIdentityServer(t)
	clk := clock.Fake(epoch)
	rec := &events.Recorder{}
	m := newTestManager(t, srv, clk, rec)

	require.NoError(t, m.Init(context.Background()))
	m.Start()

	srv.setStatus(http.StatusInternalServerError)
	clk.Advance(time.Hour)

	assert.Equal(t, "token-1", m.Current().AccessToken)
	assert.Equal(t, 1, m.ConsecutiveFailures())
	assert.Equal(t, 1, rec.Count(events.CredentialRefreshError))
	assert.Equal(t, 1, clk.Pending(), "failure must not end the refresh chain")

	srv.setStatus(http.StatusOK)
	clk.Advance(time.Hour)

	assert.Equal(t, "token-3", m.Current().AccessToken)
	assert.Equal(t, 0, m.ConsecutiveFailures())
}

func TestCancel_StopsOnlyOwnTimer(t *testing.T) {
	srv := newIdentityServer(t)
	clk := clock.Fake(epoch)

	first := newTestManager(t, srv, clk, nil)
	second := newTestManager(t, srv, clk, nil)
	first.Start()
	second.Start()
	require.Equal(t, 2, clk.Pending())

	first.Cancel()
	first.Cancel()
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(time.Hour)
	assert.Nil(t, first.Current())
	require.NotNil(t, second.Current())
	assert.Equal(t, 1, srv.count())
}

func TestCancel_BeforeStart(t *testing.T) {
	srv := newIdentityServer(t)
	clk := clock.Fake(epoch)
	m := newTestManager(t, srv, clk, nil)

	m.Cancel()
	m.Start()
	assert.Equal(t, 0, clk.Pending())
}

func TestStart_Idempotent(t *testing.T) {
	srv := newIdentityServer(t)
	clk := clock.Fake(epoch)
	m := newTestManager(t, srv, clk, nil)

	m.Start()
	m.Start()
	assert.Equal(t, 1, clk.Pending())
}

func TestCancel_DuringInFlightRefresh(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		fmt.Fprint(w, `{"access_token":"late"}`)
	}))
	defer srv.Close()
	defer close(release)

	clk := clock.Fake(epoch)
	m := NewManager(ManagerParams{Config: testConfig(srv.URL), HTTPClient: srv.Client(), Clock: clk})
	m.Start()

	done := make(chan struct{})
	go func() {
		clk.Advance(time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	m.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not abort the in-flight refresh")
	}
	assert.Equal(t, 0, clk.Pending())
	assert.Nil(t, m.Current())
}

func TestCurrent_ConcurrentReadersDuringRefresh(t *testing.T) {
	srv := newIdentityServer(t)
	clk := clock.Fake(epoch)
	m := newTestManager(t, srv, clk, nil)
	require.NoError(t, m.Init(context.Background()))
	m.Start()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c := m.Current()
				if c.AccessToken == "" || c.FetchedAt.IsZero() {
					t.Error("observed partially written credential")
					return
				}
			}
		}()
	}

	for i := 0; i < 10; i++ {
		clk.Advance(time.Hour)
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, "token-11", m.Current().AccessToken)
}

func TestParse_JWTExpiry(t *testing.T) {
	exp := epoch.Add(90 * time.Minute).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"aud": "https://api.botframework.com",
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	body := fmt.Sprintf(`{"token_type":"Bearer","expires_in":3600,"access_token":%q}`, token)
	cred, err := Parse([]byte(body), epoch)
	require.NoError(t, err)

	assert.True(t, cred.ExpiresAt.Equal(exp), "jwt exp wins over expires_in")
	assert.False(t, cred.Expired(epoch))
	assert.True(t, cred.Expired(exp))
	assert.Equal(t, "Bearer "+token, cred.AuthorizationHeader())
}

func TestParse_RejectsNonObject(t *testing.T) {
	for _, body := range []string{`not json`, `[1,2]`, `null`, `"token"`} {
		_, err := Parse([]byte(body), epoch)
		assert.ErrorIs(t, err, ErrInvalidCredential, body)
	}
}

func TestParse_OpaqueCredential(t *testing.T) {
	cred, err := Parse([]byte(`{"session":"abc","nested":{"k":1}}`), epoch)
	require.NoError(t, err)

	assert.Empty(t, cred.AccessToken)
	assert.True(t, cred.ExpiresAt.IsZero())
	assert.False(t, cred.Expired(epoch.Add(1000*time.Hour)))
	assert.Empty(t, cred.AuthorizationHeader())
}

func TestCredential_NilSafety(t *testing.T) {
	var c *Credential
	assert.True(t, c.Expired(epoch))
	assert.Empty(t, c.AuthorizationHeader())
	assert.Equal(t, "<none>", c.LogValue().String())
}
