package simulator

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	// DefaultAddr is where the simulator listens when no address is given
	DefaultAddr = "127.0.0.1:8800"

	// DefaultTokenLifetime matches the lifetime of real Spotify access tokens
	DefaultTokenLifetime = time.Hour

	codeLifetime = 10 * time.Minute
	defaultLimit = 20
	maxLimit     = 50
)

// Track is a catalog entry served by the search endpoint
type Track struct {
	ID         string
	Name       string
	Artist     string
	Album      string
	DurationMs int
}

// User is the profile served by the /me endpoint
type User struct {
	ID          string
	DisplayName string
	Email       string
	Country     string
	Product     string
}

// grant is an issued authorization code waiting to be exchanged
type grant struct {
	clientID    string
	redirectURI string
	challenge   string
	scope       string
	expires     time.Time
}

// SpotifySimulator emulates the Spotify accounts service and the parts of
// the Web API spotauth uses.
type SpotifySimulator struct {
	listener net.Listener
	server   *http.Server
	url      string
	running  bool

	mu            sync.RWMutex
	clientID      string
	denyAccess    bool
	tokenLifetime time.Duration
	codes         map[string]grant
	tokens        map[string]time.Time
	catalog       []Track
	user          User
	now           func() time.Time
}

// Option configures a SpotifySimulator
type Option func(*SpotifySimulator)

// WithClientID only accepts the given client ID. By default any is accepted.
func WithClientID(id string) Option {
	return func(sim *SpotifySimulator) { sim.clientID = id }
}

// WithDenyAccess makes /authorize answer as if the user declined
func WithDenyAccess(deny bool) Option {
	return func(sim *SpotifySimulator) { sim.denyAccess = deny }
}

// WithTokenLifetime sets expires_in for issued tokens
func WithTokenLifetime(d time.Duration) Option {
	return func(sim *SpotifySimulator) { sim.tokenLifetime = d }
}

func WithCatalog(tracks []Track) Option {
	return func(sim *SpotifySimulator) { sim.catalog = tracks }
}

func WithUser(u User) Option {
	return func(sim *SpotifySimulator) { sim.user = u }
}

// NewSpotifySimulator creates a simulator with a small default catalog
func NewSpotifySimulator(opts ...Option) *SpotifySimulator {
	sim := &SpotifySimulator{
		tokenLifetime: DefaultTokenLifetime,
		codes:         make(map[string]grant),
		tokens:        make(map[string]time.Time),
		catalog:       DefaultCatalog(),
		user: User{
			ID:          "simuser",
			DisplayName: "Simulated Listener",
			Email:       "listener@example.com",
			Country:     "SE",
			Product:     "premium",
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(sim)
	}
	return sim
}

// DefaultCatalog returns the tracks the simulator serves out of the box
func DefaultCatalog() []Track {
	return []Track{
		{ID: "4uLU6hMCjMI75M1A2tKUQC", Name: "Never Gonna Give You Up", Artist: "Rick Astley", Album: "Whenever You Need Somebody", DurationMs: 213573},
		{ID: "3n3Ppam7vgaVa1iaRUc9Lp", Name: "Mr. Brightside", Artist: "The Killers", Album: "Hot Fuss", DurationMs: 222075},
		{ID: "7ouMYWpwJ422jRcDASZB7P", Name: "Take On Me", Artist: "a-ha", Album: "Hunting High and Low", DurationMs: 225280},
		{ID: "0VjIjW4GlUZAMYd2vXMi3b", Name: "Blinding Lights", Artist: "The Weeknd", Album: "After Hours", DurationMs: 200040},
		{ID: "2Fxmhks0bxGSBdJ92vM42m", Name: "bad guy", Artist: "Billie Eilish", Album: "WHEN WE ALL FALL ASLEEP, WHERE DO WE GO?", DurationMs: 194088},
		{ID: "5ghIJDpPoe3CfHMGu71E6T", Name: "Smells Like Teen Spirit", Artist: "Nirvana", Album: "Nevermind", DurationMs: 301920},
		{ID: "1z6WtY7X4HQJvzxC4UgkSf", Name: "Buddy Holly", Artist: "Weezer", Album: "Weezer (Blue Album)", DurationMs: 159533},
		{ID: "2MLHyLy5z5l5YRp7momlgw", Name: "Island In The Sun", Artist: "Weezer", Album: "Weezer (Green Album)", DurationMs: 200333},
		{ID: "7BKLCZ1jbUBVqRi2FVlTVw", Name: "Closer", Artist: "The Chainsmokers", Album: "Collage", DurationMs: 244960},
		{ID: "6habFhsOp2NvshLv26DqMb", Name: "Despacito", Artist: "Luis Fonsi", Album: "VIDA", DurationMs: 229360},
	}
}

// Handler returns the simulator's HTTP routes
func (sim *SpotifySimulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", sim.handleAuthorize)
	mux.HandleFunc("/api/token", sim.handleToken)
	mux.HandleFunc("/v1/search", sim.handleSearch)
	mux.HandleFunc("/v1/me", sim.handleMe)
	return mux
}

// Start begins the simulator server
func (sim *SpotifySimulator) Start(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start simulator: %w", err)
	}

	sim.listener = listener
	sim.url = "http://" + listener.Addr().String()
	sim.server = &http.Server{
		Handler:      sim.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	sim.running = true

	go func() {
		if err := sim.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Simulator server error")
		}
	}()

	log.WithField("url", sim.url).Info("Spotify simulator started")
	return nil
}

// Stop shuts down the simulator
func (sim *SpotifySimulator) Stop() error {
	if !sim.running {
		return nil
	}
	sim.running = false

	err := sim.server.Close()
	log.Info("Spotify simulator stopped")
	return err
}

// URL returns the base URL of a started simulator
func (sim *SpotifySimulator) URL() string {
	return sim.url
}

func (sim *SpotifySimulator) SetDenyAccess(deny bool) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.denyAccess = deny
}

// RevokeTokens invalidates every issued access token
func (sim *SpotifySimulator) RevokeTokens() {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.tokens = make(map[string]time.Time)
}

// handleAuthorize stands in for the consent page: it approves (or denies)
// immediately and redirects back to the client.
func (sim *SpotifySimulator) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()

	redirectURI, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirectURI.Scheme == "" || redirectURI.Host == "" {
		http.Error(w, "INVALID_CLIENT: Invalid redirect URI", http.StatusBadRequest)
		return
	}

	sim.mu.Lock()
	defer sim.mu.Unlock()

	switch {
	case q.Get("client_id") == "" || (sim.clientID != "" && q.Get("client_id") != sim.clientID):
		http.Error(w, "INVALID_CLIENT: Invalid client", http.StatusBadRequest)
		return
	case q.Get("response_type") != "code":
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	case q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "":
		http.Error(w, "invalid_request: code_challenge required", http.StatusBadRequest)
		return
	}

	params := url.Values{}
	if state := q.Get("state"); state != "" {
		params.Set("state", state)
	}

	if sim.denyAccess {
		params.Set("error", "access_denied")
		log.Debug("Simulator denied authorization")
	} else {
		code := randomHex(16)
		sim.codes[code] = grant{
			clientID:    q.Get("client_id"),
			redirectURI: q.Get("redirect_uri"),
			challenge:   q.Get("code_challenge"),
			scope:       q.Get("scope"),
			expires:     sim.now().Add(codeLifetime),
		}
		params.Set("code", code)
		log.WithField("clientID", q.Get("client_id")).Debug("Simulator issued authorization code")
	}

	redirectURI.RawQuery = params.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (sim *SpotifySimulator) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request", "malformed form body")
		return
	}

	if gt := r.PostForm.Get("grant_type"); gt != "authorization_code" {
		writeOAuthError(w, "unsupported_grant_type", "grant_type must be authorization_code")
		return
	}

	sim.mu.Lock()
	defer sim.mu.Unlock()

	code := r.PostForm.Get("code")
	g, ok := sim.codes[code]
	// codes are single use
	delete(sim.codes, code)

	switch {
	case !ok || sim.now().After(g.expires):
		writeOAuthError(w, "invalid_grant", "Invalid authorization code")
		return
	case r.PostForm.Get("client_id") != g.clientID:
		writeOAuthError(w, "invalid_client", "Invalid client")
		return
	case r.PostForm.Get("redirect_uri") != g.redirectURI:
		writeOAuthError(w, "invalid_grant", "Invalid redirect URI")
		return
	case challengeOf(r.PostForm.Get("code_verifier")) != g.challenge:
		writeOAuthError(w, "invalid_grant", "code_verifier was incorrect")
		return
	}

	accessToken := randomHex(32)
	sim.tokens[accessToken] = sim.now().Add(sim.tokenLifetime)

	log.Debug("Simulator issued access token")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(sim.tokenLifetime / time.Second),
		"scope":        g.scope,
	})
}

func (sim *SpotifySimulator) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !sim.authorized(w, r) {
		return
	}
	q := r.URL.Query()

	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeAPIError(w, http.StatusBadRequest, "No search query")
		return
	}
	if !strings.Contains(q.Get("type"), "track") {
		writeAPIError(w, http.StatusBadRequest, "Missing parameter type")
		return
	}

	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxLimit {
			writeAPIError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	sim.mu.RLock()
	matches := sim.search(query)
	sim.mu.RUnlock()

	total := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	items := make([]interface{}, 0, len(matches))
	for _, t := range matches {
		items = append(items, trackJSON(t))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tracks": map[string]interface{}{
			"href":     r.URL.String(),
			"items":    items,
			"limit":    limit,
			"offset":   0,
			"total":    total,
			"next":     nil,
			"previous": nil,
		},
	})
}

// search matches the query against track and artist names, case-insensitively
func (sim *SpotifySimulator) search(query string) []Track {
	needle := strings.ToLower(query)
	var out []Track
	for _, t := range sim.catalog {
		if strings.Contains(strings.ToLower(t.Name), needle) || strings.Contains(strings.ToLower(t.Artist), needle) {
			out = append(out, t)
		}
	}
	return out
}

func (sim *SpotifySimulator) handleMe(w http.ResponseWriter, r *http.Request) {
	if !sim.authorized(w, r) {
		return
	}

	sim.mu.RLock()
	u := sim.user
	sim.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":           u.ID,
		"display_name": u.DisplayName,
		"email":        u.Email,
		"country":      u.Country,
		"product":      u.Product,
		"type":         "user",
		"uri":          "spotify:user:" + u.ID,
	})
}

// authorized checks the bearer token and writes a 401 when it is not valid
func (sim *SpotifySimulator) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}

	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" || token == auth {
		writeAPIError(w, http.StatusUnauthorized, "No token provided")
		return false
	}

	sim.mu.RLock()
	expires, ok := sim.tokens[token]
	now := sim.now()
	sim.mu.RUnlock()

	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "Invalid access token")
		return false
	}
	if now.After(expires) {
		writeAPIError(w, http.StatusUnauthorized, "The access token expired")
		return false
	}
	return true
}

func trackJSON(t Track) map[string]interface{} {
	artistID := strings.ToLower(strings.ReplaceAll(t.Artist, " ", ""))
	albumID := strings.ToLower(strings.ReplaceAll(t.Album, " ", ""))
	return map[string]interface{}{
		"id":          t.ID,
		"name":        t.Name,
		"type":        "track",
		"uri":         "spotify:track:" + t.ID,
		"duration_ms": t.DurationMs,
		"artists": []map[string]interface{}{{
			"id":   artistID,
			"name": t.Artist,
			"type": "artist",
			"uri":  "spotify:artist:" + artistID,
		}},
		"album": map[string]interface{}{
			"id":   albumID,
			"name": t.Album,
			"type": "album",
			"uri":  "spotify:album:" + albumID,
		},
	}
}

func challengeOf(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Failed to write simulator response")
	}
}

// writeOAuthError replies in the accounts service error shape
func writeOAuthError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// writeAPIError replies in the Web API error shape
func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"status":  status,
			"message": message,
		},
	})
}
