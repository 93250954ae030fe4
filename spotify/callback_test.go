package spotify

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/galamiram/spotauth/prefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopbackRedirect(t *testing.T) string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", freePort(t))
}

func TestLoginWithCallbackServer(t *testing.T) {
	redirect := loopbackRedirect(t)
	h := newHarness(t, func(cfg *Config) {
		cfg.RedirectURL = redirect
		cfg.DisableCallbackServer = false
	})

	pages := make(chan string, 1)
	h.browser.onOpen = func(authURL string) {
		// follows the 302 to the loopback server like a real browser
		resp, err := http.Get(authURL)
		if err != nil {
			pages <- err.Error()
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		pages <- string(body)
	}

	require.NoError(t, h.client.Login(t.Context()))
	assert.True(t, h.client.IsLoggedIn(t.Context()))

	select {
	case page := <-pages:
		assert.Contains(t, page, "Authentication Successful")
	case <-time.After(5 * time.Second):
		t.Fatal("browser never received the callback page")
	}

	// Login stops the server on return
	_, err := http.Get(redirect)
	assert.Error(t, err)
}

func TestLoginWhenCallbackPortBusy(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	redirect := fmt.Sprintf("http://%s/callback", busy.Addr().String())
	h := newHarness(t, func(cfg *Config) {
		cfg.RedirectURL = redirect
		cfg.DisableCallbackServer = false
	})
	require.True(t, h.client.callbackServerEnabled())

	// the redirect is delivered by hand, as the callback command does
	h.browser.onOpen = func(authURL string) {
		resp, err := noRedirectClient().Get(authURL)
		if err != nil {
			return
		}
		resp.Body.Close()
		h.client.HandleCallback(context.Background(), resp.Header.Get("Location"))
	}

	require.NoError(t, h.client.Login(t.Context()))
	assert.True(t, h.client.IsLoggedIn(t.Context()))
}

func TestCallbackServerPages(t *testing.T) {
	redirect := loopbackRedirect(t)
	h := newHarness(t, func(cfg *Config) { cfg.RedirectURL = redirect })

	require.NoError(t, h.client.StartCallbackServer(t.Context()))
	defer h.client.StopCallbackServer()

	get := func(query string) (int, string) {
		resp, err := http.Get(redirect + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	status, body := get("?error=access_denied&state=abc")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Authentication Failed")
	assert.Contains(t, body, "access_denied")

	status, body = get("")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Invalid Request")

	status, body = get("?error=%3Cscript%3E")
	assert.Equal(t, http.StatusOK, status)
	assert.NotContains(t, body, "<script>")
}

func TestRejectedCallbackHidesPendingState(t *testing.T) {
	redirect := loopbackRedirect(t)
	h := newHarness(t, func(cfg *Config) { cfg.RedirectURL = redirect })
	h.startPendingLogin(t)

	state, ok, err := h.store.Get(t.Context(), prefs.KeyAuthState)
	require.NoError(t, err)
	require.True(t, ok)

	callbackErr := h.client.HandleCallback(t.Context(), redirect+"?code=x&state=guess")
	require.Error(t, callbackErr)
	assert.NotContains(t, callbackErr.Error(), state)

	require.NoError(t, h.client.StartCallbackServer(t.Context()))
	defer h.client.StopCallbackServer()

	resp, err := http.Get(redirect + "?code=x&state=guess")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "does not belong to the pending login")
	assert.NotContains(t, string(body), state)
}

func TestCallbackServerRestart(t *testing.T) {
	redirect := loopbackRedirect(t)
	h := newHarness(t, func(cfg *Config) { cfg.RedirectURL = redirect })

	require.NoError(t, h.client.StartCallbackServer(t.Context()))
	// starting again replaces the running server on the same port
	require.NoError(t, h.client.StartCallbackServer(t.Context()))

	resp, err := http.Get(redirect)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, h.client.StopCallbackServer())
	assert.NoError(t, h.client.StopCallbackServer())
}

func TestCallbackServerRapidRestart(t *testing.T) {
	redirect := loopbackRedirect(t)
	h := newHarness(t, func(cfg *Config) { cfg.RedirectURL = redirect })

	// no pause between calls, so Serve may not have started yet
	for i := 0; i < 20; i++ {
		require.NoError(t, h.client.StartCallbackServer(t.Context()), "start %d", i)
		if i%2 == 1 {
			require.NoError(t, h.client.StopCallbackServer(), "stop %d", i)
		}
	}
	require.NoError(t, h.client.StopCallbackServer())

	_, err := http.Get(redirect)
	assert.Error(t, err, "the port is released after stop")
}
