package spotify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/galamiram/spotauth/prefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchTracks(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	tracks, err := h.client.SearchTracks(t.Context(), "weezer")
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	assert.Equal(t, "Buddy Holly", tracks[0].Name)
	require.NotEmpty(t, tracks[0].Artists)
	assert.Equal(t, "Weezer", tracks[0].Artists[0].Name)
	assert.Equal(t, "Weezer (Blue Album)", tracks[0].Album.Name)

	tracks, err = h.client.SearchTracks(t.Context(), "no such song anywhere")
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestSearchTracksRequest(t *testing.T) {
	requests := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.Clone(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tracks": map[string]interface{}{"items": []interface{}{}, "limit": 20, "total": 0},
		})
	}))
	defer srv.Close()

	store := prefs.NewMemoryStore()
	ctx := t.Context()
	require.NoError(t, store.Set(ctx, prefs.KeyToken, "bearer-token"))
	require.NoError(t, store.Set(ctx, prefs.KeyTokenExpires, strconv.FormatInt(time.Now().Add(time.Hour).UnixMilli(), 10)))

	// base URL without a trailing slash is accepted
	c, err := NewClient(Config{ClientID: testClientID, APIURL: srv.URL + "/v1"}, store, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = c.SearchTracks(ctx, "daft punk")
	require.NoError(t, err)
	got := <-requests

	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/v1/search", got.URL.Path)
	assert.Equal(t, "daft punk", got.URL.Query().Get("q"))
	assert.Equal(t, "track", got.URL.Query().Get("type"))
	assert.Equal(t, "20", got.URL.Query().Get("limit"))
	assert.Equal(t, "Bearer bearer-token", got.Header.Get("Authorization"))
}

func TestSearchTracksErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	_, err := h.client.SearchTracks(ctx, "weezer")
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	h.login(t)

	_, err = h.client.SearchTracks(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	h.sim.RevokeTokens()
	_, err = h.client.SearchTracks(ctx, "weezer")
	require.Error(t, err)
	assert.ErrorContains(t, err, "search failed")
	assert.ErrorContains(t, err, "Invalid access token")
}

func TestGetUserProfile(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()

	_, err := h.client.GetUserProfile(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	h.login(t)

	user, err := h.client.GetUserProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "simuser", user.ID)
	assert.Equal(t, "Simulated Listener", user.DisplayName)
	assert.Equal(t, "listener@example.com", user.Email)
	assert.Equal(t, "premium", user.Product)

	h.sim.RevokeTokens()
	_, err = h.client.GetUserProfile(ctx)
	assert.ErrorContains(t, err, "failed to get user profile")
}

func TestAPIRequiresUnexpiredToken(t *testing.T) {
	h := newHarness(t, nil)
	ctx := t.Context()
	h.login(t)

	h.clock.Advance(2 * time.Hour)

	_, err := h.client.GetUserProfile(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = h.client.SearchTracks(ctx, "weezer")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}
