package spotify

import (
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/galamiram/spotauth/prefs"
	"github.com/galamiram/spotauth/simulator"
	"github.com/stretchr/testify/require"
)

const testClientID = "test-client"

// testClock is a settable time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeBrowser records what it was asked to open and can act on the URL
type fakeBrowser struct {
	mu      sync.Mutex
	opened  []string
	closed  int
	openErr error
	onOpen  func(url string)
}

func (b *fakeBrowser) Open(url string) error {
	b.mu.Lock()
	b.opened = append(b.opened, url)
	fn, err := b.onOpen, b.openErr
	b.mu.Unlock()

	if fn != nil {
		go fn(url)
	}
	return err
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *fakeBrowser) Opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

func (b *fakeBrowser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// harness wires a client to a simulator served by httptest
type harness struct {
	sim     *simulator.SpotifySimulator
	server  *httptest.Server
	store   *prefs.MemoryStore
	browser *fakeBrowser
	clock   *testClock
	client  *Client
}

func newHarness(t *testing.T, mutate func(*Config), simOpts ...simulator.Option) *harness {
	t.Helper()

	sim := simulator.NewSpotifySimulator(simOpts...)
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	cfg := Config{
		ClientID:              testClientID,
		RedirectURL:           "http://127.0.0.1:8888/callback",
		AuthURL:               srv.URL + "/authorize",
		TokenURL:              srv.URL + "/api/token",
		APIURL:                srv.URL + "/v1/",
		LoginTimeout:          5 * time.Second,
		PollInterval:          10 * time.Millisecond,
		DisableCallbackServer: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		sim:     sim,
		server:  srv,
		store:   prefs.NewMemoryStore(),
		browser: &fakeBrowser{},
		clock:   newTestClock(),
	}

	client, err := NewClient(cfg, h.store,
		WithBrowser(h.browser),
		WithHTTPClient(srv.Client()),
		WithClock(h.clock.Now),
	)
	require.NoError(t, err)
	h.client = client
	return h
}

// noRedirectClient returns the redirect response instead of following it
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}

// approve visits the authorization URL and returns the redirect target
func approve(t *testing.T, authURL string) string {
	t.Helper()
	resp, err := noRedirectClient().Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}

// startPendingLogin stores fresh PKCE values the way Login does and returns
// the authorization URL.
func (h *harness) startPendingLogin(t *testing.T) string {
	t.Helper()
	p, err := NewPKCE()
	require.NoError(t, err)
	ctx := t.Context()
	require.NoError(t, h.store.Set(ctx, prefs.KeyCodeVerifier, p.Verifier))
	require.NoError(t, h.store.Set(ctx, prefs.KeyAuthState, p.State))
	return h.client.authCodeURL(p)
}

// login runs the complete flow and fails the test if it does not succeed
func (h *harness) login(t *testing.T) {
	t.Helper()
	callback := approve(t, h.startPendingLogin(t))
	require.NoError(t, h.client.HandleCallback(t.Context(), callback))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
