package spotify

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/galamiram/spotauth/prefs"
	log "github.com/sirupsen/logrus"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

const (
	DefaultRedirectURL  = "http://127.0.0.1:8888/callback"
	DefaultAPIURL       = "https://api.spotify.com/v1/"
	DefaultLoginTimeout = 5 * time.Minute
	DefaultPollInterval = 500 * time.Millisecond

	// defaultTokenLifetime is used when the token response carries no expires_in
	defaultTokenLifetime = time.Hour
)

// DefaultScopes are requested when the configuration names none
var DefaultScopes = []string{
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopeUserReadEmail,
}

// Config describes the Spotify application and the login behaviour
type Config struct {
	ClientID    string
	RedirectURL string
	Scopes      []string
	ShowDialog  bool

	// Endpoint overrides, used to point the client at a simulator
	AuthURL  string
	TokenURL string
	APIURL   string

	LoginTimeout time.Duration
	PollInterval time.Duration

	// DisableCallbackServer leaves delivery of the redirect to someone else,
	// e.g. the callback command run by an OS URL handler.
	DisableCallbackServer bool
}

func (cfg *Config) setDefaults() {
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = DefaultRedirectURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = spotifyauth.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = spotifyauth.TokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
}

// Option customises a Client
type Option func(*Client)

// WithBrowser replaces the system browser launcher
func WithBrowser(b Browser) Option {
	return func(c *Client) { c.browser = b }
}

// WithHTTPClient sets the HTTP client used for the token exchange and API calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock sets the time source used for token expiry
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client handles the Spotify login and the authenticated API calls.
// It is safe for concurrent use.
type Client struct {
	cfg        Config
	oauth      *oauth2.Config
	store      prefs.Store
	browser    Browser
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time

	serverMu sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewClient creates a new Spotify client using the PKCE flow (no client secret needed)
func NewClient(cfg Config, store prefs.Store, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("spotify client ID is required")
	}
	if store == nil {
		return nil, fmt.Errorf("preferences store is required")
	}
	cfg.setDefaults()

	c := &Client{
		cfg:        cfg,
		store:      store,
		browser:    SystemBrowser{},
		httpClient: http.DefaultClient,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.oauth = &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
		Scopes:      cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	log.WithFields(log.Fields{
		"redirectURL": cfg.RedirectURL,
		"scopes":      cfg.Scopes,
	}).Debug("Spotify client created")

	return c, nil
}

// Config returns the effective configuration, defaults included
func (c *Client) Config() Config {
	return c.cfg
}

// authCodeURL builds the authorization URL for one login attempt
func (c *Client) authCodeURL(p *PKCE) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("code_challenge", p.Challenge),
	}
	if c.cfg.ShowDialog {
		opts = append(opts, oauth2.SetAuthURLParam("show_dialog", "true"))
	}
	return c.oauth.AuthCodeURL(p.State, opts...)
}

// Login starts the authorization flow and blocks until a token shows up in
// the store, the login timeout passes or ctx is done.
func (c *Client) Login(ctx context.Context) error {
	log.Info("Starting Spotify login")

	if err := c.clearToken(ctx); err != nil {
		return fmt.Errorf("failed to clear previous token: %w", err)
	}

	p, err := NewPKCE()
	if err != nil {
		return fmt.Errorf("failed to generate PKCE parameters: %w", err)
	}
	if err := c.store.Set(ctx, prefs.KeyCodeVerifier, p.Verifier); err != nil {
		return fmt.Errorf("failed to store code verifier: %w", err)
	}
	if err := c.store.Set(ctx, prefs.KeyAuthState, p.State); err != nil {
		return fmt.Errorf("failed to store auth state: %w", err)
	}

	if c.callbackServerEnabled() {
		if err := c.StartCallbackServer(ctx); err != nil {
			// the redirect can still arrive through 'spotauth callback'
			log.WithError(err).Warn("Callback server unavailable, complete the login with 'spotauth callback <redirect-url>'")
		} else {
			defer c.StopCallbackServer()
		}
	}

	authURL := c.authCodeURL(p)
	log.WithField("verifierLength", len(p.Verifier)).Debug("Generated PKCE parameters")
	log.WithField("authURL", authURL).Info("Opening browser for Spotify authorization")

	if err := c.browser.Open(authURL); err != nil {
		log.WithError(err).Warn("Failed to open browser automatically, please open the authorization URL manually")
	} else {
		log.Info("Browser opened, waiting for authorization")
	}

	return c.waitForToken(ctx)
}

// waitForToken polls the store until the callback handler has written a
// usable token.
func (c *Client) waitForToken(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.LoginTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			log.WithField("timeout", c.cfg.LoginTimeout).Warn("Spotify login timed out")
			return fmt.Errorf("%w after %v", ErrLoginTimeout, c.cfg.LoginTimeout)
		case <-ticker.C:
			token, expiry, ok, err := c.storedToken(waitCtx)
			if err != nil {
				log.WithError(err).Debug("Failed to read token while polling")
				continue
			}
			if ok {
				c.cacheToken(token, expiry)
				log.WithField("expires", expiry).Info("Spotify login completed")
				return nil
			}
		}
	}
}

// HandleCallback validates the redirect that carries the authorization code
// and exchanges the code for an access token.
func (c *Client) HandleCallback(ctx context.Context, callbackURL string) error {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return fmt.Errorf("invalid callback URL: %w", err)
	}
	q := u.Query()

	if code := q.Get("error"); code != "" {
		log.WithField("error", code).Warn("Authorization was not granted")
		return &AuthorizationError{Code: code, Description: q.Get("error_description")}
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		return ErrMissingCodeOrState
	}

	expected, _, err := c.store.Get(ctx, prefs.KeyAuthState)
	if err != nil {
		return fmt.Errorf("failed to read auth state: %w", err)
	}
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		log.Warn("Callback state does not match the pending login")
		return &StateMismatchError{Actual: state, Pending: expected != ""}
	}

	verifier, ok, err := c.store.Get(ctx, prefs.KeyCodeVerifier)
	if err != nil {
		return fmt.Errorf("failed to read code verifier: %w", err)
	}
	if !ok || verifier == "" {
		return ErrMissingVerifier
	}

	log.WithField("codeLength", len(code)).Debug("Exchanging authorization code")
	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}

	expiry := c.expiryOf(tok)
	if err := c.saveToken(ctx, tok.AccessToken, expiry); err != nil {
		return err
	}

	if err := prefs.RemoveAll(ctx, c.store, prefs.KeyCodeVerifier, prefs.KeyAuthState); err != nil {
		log.WithError(err).Warn("Failed to remove one-time PKCE values")
	}

	c.cacheToken(tok.AccessToken, expiry)

	if err := c.browser.Close(); err != nil {
		log.WithError(err).Debug("Failed to close browser")
	}

	log.WithField("expires", expiry).Info("Spotify token received")
	return nil
}

// expiryOf computes the absolute expiry from the lifetime the server reported
func (c *Client) expiryOf(tok *oauth2.Token) time.Time {
	if tok.ExpiresIn > 0 {
		return c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	return c.now().Add(defaultTokenLifetime)
}

func (c *Client) saveToken(ctx context.Context, token string, expiry time.Time) error {
	if err := c.store.Set(ctx, prefs.KeyToken, token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	expires := strconv.FormatInt(expiry.UnixMilli(), 10)
	if err := c.store.Set(ctx, prefs.KeyTokenExpires, expires); err != nil {
		return fmt.Errorf("failed to store token expiry: %w", err)
	}
	return nil
}

// storedToken reads the token from the store. ok is false when the token or
// its expiry is missing, malformed or in the past.
func (c *Client) storedToken(ctx context.Context) (string, time.Time, bool, error) {
	token, ok, err := c.store.Get(ctx, prefs.KeyToken)
	if err != nil || !ok || token == "" {
		return "", time.Time{}, false, err
	}

	raw, ok, err := c.store.Get(ctx, prefs.KeyTokenExpires)
	if err != nil || !ok {
		return "", time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.WithField("value", raw).Debug("Ignoring malformed token expiry")
		return "", time.Time{}, false, nil
	}

	expiry := time.UnixMilli(ms)
	if !expiry.After(c.now()) {
		return "", time.Time{}, false, nil
	}
	return token, expiry, true, nil
}

func (c *Client) cacheToken(token string, expiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiry = expiry
}

// currentToken returns the cached token when it is still valid, falling back
// to the store.
func (c *Client) currentToken(ctx context.Context) (string, time.Time, error) {
	c.mu.Lock()
	token, expiry := c.token, c.expiry
	c.mu.Unlock()

	if token != "" && expiry.After(c.now()) {
		return token, expiry, nil
	}

	token, expiry, ok, err := c.storedToken(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read token: %w", err)
	}
	if !ok {
		return "", time.Time{}, ErrNotLoggedIn
	}
	c.cacheToken(token, expiry)
	return token, expiry, nil
}

// IsLoggedIn reports whether an unexpired access token is available
func (c *Client) IsLoggedIn(ctx context.Context) bool {
	_, _, err := c.currentToken(ctx)
	return err == nil
}

// GetToken returns the current access token or ErrNotLoggedIn
func (c *Client) GetToken(ctx context.Context) (string, error) {
	token, _, err := c.currentToken(ctx)
	return token, err
}

// TokenExpiry returns when the current access token expires
func (c *Client) TokenExpiry(ctx context.Context) (time.Time, error) {
	_, expiry, err := c.currentToken(ctx)
	return expiry, err
}

// Logout forgets the token and any pending login
func (c *Client) Logout(ctx context.Context) error {
	c.cacheToken("", time.Time{})
	if err := prefs.RemoveAll(ctx, c.store,
		prefs.KeyCodeVerifier, prefs.KeyAuthState, prefs.KeyToken, prefs.KeyTokenExpires); err != nil {
		return fmt.Errorf("failed to clear stored credentials: %w", err)
	}
	log.Info("Logged out of Spotify")
	return nil
}

func (c *Client) clearToken(ctx context.Context) error {
	c.cacheToken("", time.Time{})
	return prefs.RemoveAll(ctx, c.store, prefs.KeyToken, prefs.KeyTokenExpires)
}

// callbackServerEnabled reports whether Login should serve the redirect
// itself, which requires a loopback http redirect URI with an explicit port.
func (c *Client) callbackServerEnabled() bool {
	if c.cfg.DisableCallbackServer {
		return false
	}
	u, err := url.Parse(c.cfg.RedirectURL)
	if err != nil || u.Scheme != "http" || u.Port() == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
